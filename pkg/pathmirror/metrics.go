package pathmirror

import (
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/paulschiretz/pgl-mirror/pkg/plog"
)

// Metrics defines the interface for collecting and reporting pass statistics.
type Metrics interface {
	AddFilesCreated(n int64)
	AddFilesUpdated(n int64)
	AddFilesDeleted(n int64)
	AddFilesUpToDate(n int64)
	AddFilesExcluded(n int64)
	AddDirsCreated(n int64)
	AddDirsDeleted(n int64)
	AddDirsExcluded(n int64)
	AddBytesHashed(n int64)
	AddBytesCopied(n int64)
	AddEntriesProcessed(n int64)
	AddErrors(n int64)
	LogSummary(sink plog.Sink, msg string)
}

// PassMetrics holds the atomic counters for tracking a pass's progress.
// It is the concrete implementation of the Metrics interface.
type PassMetrics struct {
	FilesCreated     atomic.Int64
	FilesUpdated     atomic.Int64
	FilesDeleted     atomic.Int64
	FilesUpToDate    atomic.Int64
	FilesExcluded    atomic.Int64
	DirsCreated      atomic.Int64
	DirsDeleted      atomic.Int64
	DirsExcluded     atomic.Int64
	BytesHashed      atomic.Int64
	BytesCopied      atomic.Int64
	EntriesProcessed atomic.Int64
	Errors           atomic.Int64

	startTime time.Time
}

// NewPassMetrics returns metrics whose duration is measured from now.
func NewPassMetrics() *PassMetrics {
	return &PassMetrics{startTime: time.Now()}
}

func (m *PassMetrics) AddFilesCreated(n int64)     { m.FilesCreated.Add(n) }
func (m *PassMetrics) AddFilesUpdated(n int64)     { m.FilesUpdated.Add(n) }
func (m *PassMetrics) AddFilesDeleted(n int64)     { m.FilesDeleted.Add(n) }
func (m *PassMetrics) AddFilesUpToDate(n int64)    { m.FilesUpToDate.Add(n) }
func (m *PassMetrics) AddFilesExcluded(n int64)    { m.FilesExcluded.Add(n) }
func (m *PassMetrics) AddDirsCreated(n int64)      { m.DirsCreated.Add(n) }
func (m *PassMetrics) AddDirsDeleted(n int64)      { m.DirsDeleted.Add(n) }
func (m *PassMetrics) AddDirsExcluded(n int64)     { m.DirsExcluded.Add(n) }
func (m *PassMetrics) AddBytesHashed(n int64)      { m.BytesHashed.Add(n) }
func (m *PassMetrics) AddBytesCopied(n int64)      { m.BytesCopied.Add(n) }
func (m *PassMetrics) AddEntriesProcessed(n int64) { m.EntriesProcessed.Add(n) }
func (m *PassMetrics) AddErrors(n int64)           { m.Errors.Add(n) }

// LogSummary records a summary of the pass with a custom message.
func (m *PassMetrics) LogSummary(sink plog.Sink, msg string) {
	duration := time.Duration(0)
	if !m.startTime.IsZero() {
		duration = time.Since(m.startTime)
	}

	sink.Record(plog.LevelInfo, msg,
		"entries_processed", m.EntriesProcessed.Load(),
		"bytes_hashed", humanize.IBytes(uint64(m.BytesHashed.Load())),
		"bytes_copied", humanize.IBytes(uint64(m.BytesCopied.Load())),
		"files_created", m.FilesCreated.Load(),
		"files_updated", m.FilesUpdated.Load(),
		"files_uptodate", m.FilesUpToDate.Load(),
		"files_deleted", m.FilesDeleted.Load(),
		"files_excluded", m.FilesExcluded.Load(),
		"dirs_created", m.DirsCreated.Load(),
		"dirs_deleted", m.DirsDeleted.Load(),
		"dirs_excluded", m.DirsExcluded.Load(),
		"errors", m.Errors.Load(),
		"duration", duration.Round(time.Millisecond),
	)
}

// NoopMetrics is an implementation of the Metrics interface that performs no operations.
// It can be used to disable metrics collection without changing the calling code.
type NoopMetrics struct{}

func (m *NoopMetrics) AddFilesCreated(n int64)               {}
func (m *NoopMetrics) AddFilesUpdated(n int64)               {}
func (m *NoopMetrics) AddFilesDeleted(n int64)               {}
func (m *NoopMetrics) AddFilesUpToDate(n int64)              {}
func (m *NoopMetrics) AddFilesExcluded(n int64)              {}
func (m *NoopMetrics) AddDirsCreated(n int64)                {}
func (m *NoopMetrics) AddDirsDeleted(n int64)                {}
func (m *NoopMetrics) AddDirsExcluded(n int64)               {}
func (m *NoopMetrics) AddBytesHashed(n int64)                {}
func (m *NoopMetrics) AddBytesCopied(n int64)                {}
func (m *NoopMetrics) AddEntriesProcessed(n int64)           {}
func (m *NoopMetrics) AddErrors(n int64)                     {}
func (m *NoopMetrics) LogSummary(sink plog.Sink, msg string) {}

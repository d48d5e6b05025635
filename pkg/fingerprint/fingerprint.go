// Package fingerprint computes content digests used to decide whether two
// files hold the same bytes.
//
// Digests are computed on demand for every comparison and never cached, so a
// file edited between two passes is always re-examined.
package fingerprint

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/go-git/go-billy/v5"
	"golang.org/x/crypto/blake2b"

	"github.com/paulschiretz/pgl-mirror/pkg/pool"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// DefaultBufferSize is the read chunk size used when none is configured.
const DefaultBufferSize = 256 * 1024

// Algorithm selects the hash function behind a Hasher.
type Algorithm int

const (
	SHA256 Algorithm = iota
	MD5
	BLAKE2b
)

var algorithmToString = map[Algorithm]string{SHA256: "sha256", MD5: "md5", BLAKE2b: "blake2b"}
var stringToAlgorithm = util.InvertMap(algorithmToString)

func (a Algorithm) String() string {
	if str, ok := algorithmToString[a]; ok {
		return str
	}
	return fmt.Sprintf("unknown_algorithm(%d)", a)
}

// ParseAlgorithm converts a string into an Algorithm. Matching is case-insensitive.
func ParseAlgorithm(s string) (Algorithm, error) {
	if a, ok := stringToAlgorithm[strings.ToLower(s)]; ok {
		return a, nil
	}
	return 0, fmt.Errorf("invalid hash algorithm: %q. Must be 'sha256', 'md5' or 'blake2b'", s)
}

// MarshalJSON implements the json.Marshaler interface.
func (a Algorithm) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (a *Algorithm) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("hash algorithm should be a string, got %s", data)
	}
	algo, err := ParseAlgorithm(s)
	if err != nil {
		return err
	}
	*a = algo
	return nil
}

func (a Algorithm) newHash() hash.Hash {
	switch a {
	case MD5:
		return md5.New()
	case BLAKE2b:
		// New256 only fails for keys longer than 64 bytes.
		h, _ := blake2b.New256(nil)
		return h
	default:
		return sha256.New()
	}
}

// Digest is the fixed-length fingerprint of a file's bytes.
type Digest []byte

// Equal reports whether both digests are identical.
func (d Digest) Equal(other Digest) bool {
	return bytes.Equal(d, other)
}

func (d Digest) String() string {
	return hex.EncodeToString(d)
}

// Hasher streams file contents through a hash function using pooled buffers.
// It is safe for concurrent use.
type Hasher struct {
	algo    Algorithm
	buffers *pool.FixedBufferPool
}

// New creates a Hasher. A non-positive bufferSize selects DefaultBufferSize.
func New(algo Algorithm, bufferSize int) *Hasher {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hasher{algo: algo, buffers: pool.NewFixedBuffer(bufferSize)}
}

// Algorithm returns the hash function used by h.
func (h *Hasher) Algorithm() Algorithm {
	return h.algo
}

// Sum returns the digest of the file at path within fs and the number of
// bytes read. A read failure is returned as an error, never as a digest.
func (h *Hasher) Sum(fs billy.Basic, path string) (Digest, int64, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open %s for hashing: %w", path, err)
	}
	defer f.Close()

	bufPtr := h.buffers.Get()
	defer h.buffers.Put(bufPtr)

	hh := h.algo.newHash()
	n, err := io.CopyBuffer(hh, f, *bufPtr)
	if err != nil {
		return nil, n, fmt.Errorf("failed to read %s for hashing: %w", path, err)
	}
	return hh.Sum(nil), n, nil
}

// Same reports whether the file at srcPath in src holds the same bytes as
// the file at dstPath in dst. The returned count is the total bytes hashed.
func (h *Hasher) Same(src billy.Basic, srcPath string, dst billy.Basic, dstPath string) (bool, int64, error) {
	srcSum, srcRead, err := h.Sum(src, srcPath)
	if err != nil {
		return false, srcRead, err
	}
	dstSum, dstRead, err := h.Sum(dst, dstPath)
	if err != nil {
		return false, srcRead + dstRead, err
	}
	return srcSum.Equal(dstSum), srcRead + dstRead, nil
}

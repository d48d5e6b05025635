package preflight

// Plan selects which checks Validator.Run performs.
type Plan struct {
	SourceAccessible    bool
	ReplicaAccessible   bool
	ReplicaWriteable    bool
	EnsureReplicaExists bool
	PathNesting         bool

	// LogFile, when set, must not lie inside the replica.
	LogFile string

	// Global Flags
	DryRun bool
}

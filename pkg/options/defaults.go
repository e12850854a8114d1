package options

import (
	"runtime"
	"time"
)

const (
	// DefaultDataDir is where vortexdb stores every collection's directory
	// tree when no other directory is specified.
	DefaultDataDir = "/var/lib/vortexdb"

	// DefaultDumpMaxRetries bounds the number of backoff retries applied to
	// a failing background dump before the segment is marked FAULTED.
	DefaultDumpMaxRetries = 5

	// DefaultDumpBackoffBase is the base delay of the dump retry backoff.
	DefaultDumpBackoffBase = 500 * time.Millisecond

	// MinPreallocateBytes is the smallest allowed segment preallocation size (1MB).
	MinPreallocateBytes int64 = 1 * 1024 * 1024

	// MaxPreallocateBytes is the largest allowed segment preallocation size (1GB).
	MaxPreallocateBytes int64 = 1 * 1024 * 1024 * 1024

	// DefaultPreallocateBytes is the default segment preallocation size (64MB).
	DefaultPreallocateBytes int64 = 64 * 1024 * 1024
)

// NewDefaultOptions returns the default configuration for a collection manager.
func NewDefaultOptions() Options {
	return Options{
		DataDir:          DefaultDataDir,
		WorkerThreads:    runtime.GOMAXPROCS(0),
		DumpMaxRetries:   DefaultDumpMaxRetries,
		DumpBackoffBase:  DefaultDumpBackoffBase,
		Read:             ReadOptions{UseMmap: true, CreateNew: true, Warmup: false},
		segment:          &segmentOptions{PreallocateBytes: DefaultPreallocateBytes},
	}
}

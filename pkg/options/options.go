// Package options provides data structures and functions for configuring a
// vortexdb collection manager. It defines the parameters that control how
// collections are opened, how segment files are preallocated, and how many
// background workers service dumps and parallel search fan-out. Parsing these
// values out of a config file or CLI flags is the caller's job (spec §1 keeps
// configuration-file parsing out of the core); this package only owns the
// decoded struct and its functional-option builders, the way the teacher's
// pkg/options owns Options without ever touching a flag parser.
package options

import (
	"strings"
	"time"
)

// ReadOptions controls how a collection manager's Open behaves.
type ReadOptions struct {
	// UseMmap makes Open prefault (MAP_POPULATE) and touch every page of
	// each PERSIST segment's memory-mapped forward-store files. The forward
	// store and delete map of a PERSIST segment are memory-mapped whether or
	// not it is set, and vector indexes are always loaded onto the heap.
	UseMmap bool `json:"useMmap"`

	// CreateNew creates the collection's on-disk directory if it does not
	// already exist; when false, Open fails with NotFound on a missing directory.
	CreateNew bool `json:"createNew"`

	// Warmup is carried with the read options but Open does not read it;
	// mapped regions are walked only when UseMmap is set.
	Warmup bool `json:"warmup"`
}

// segmentOptions defines preallocation hints applied when a new segment's
// building/ directory is created. These are performance knobs only; the
// authoritative doc-count threshold for sealing a segment lives in
// CollectionSchema.MaxDocsPerSegment (spec §3), not here.
type segmentOptions struct {
	// PreallocateBytes is the preallocation size reported by
	// Options.PreallocateBytes. Segment creation does not read it; forward
	// store files grow as rows are appended.
	//
	//  - Default: 64MB
	//  - Maximum: 1GB
	//  - Minimum: 1MB
	PreallocateBytes int64 `json:"preallocateBytes"`
}

// Options defines the configuration parameters for a collection manager.
// It provides control over storage layout, worker concurrency, and dump
// retry behavior.
type Options struct {
	// DataDir is a base data path carried in Options. Open does not read
	// it; the collection directory is passed to Open directly.
	//
	// Default: "/var/lib/vortexdb"
	DataDir string `json:"dataDir"`

	// WorkerThreads sizes the shared thread pool (C9) used for background
	// dumps and parallel per-segment search fan-out.
	//
	// Default: number of CPUs
	WorkerThreads int `json:"workerThreads"`

	// DumpMaxRetries bounds how many times a failing background dump is
	// retried with exponential backoff before the segment is marked FAULTED
	// (spec §4.8).
	//
	// Default: 5
	DumpMaxRetries int `json:"dumpMaxRetries"`

	// DumpBackoffBase is the base delay for the dump retry backoff; the Nth
	// retry waits DumpBackoffBase * 2^(N-1).
	//
	// Default: 500ms
	DumpBackoffBase time.Duration `json:"dumpBackoffBase"`

	// Read controls how Open behaves for this instance.
	Read ReadOptions `json:"read"`

	// segment configures segment file preallocation.
	segment *segmentOptions
}

// PreallocateBytes returns the configured segment preallocation size.
func (o *Options) PreallocateBytes() int64 {
	if o.segment == nil {
		return DefaultPreallocateBytes
	}
	return o.segment.PreallocateBytes
}

// OptionFunc is a function type that modifies an Options value.
type OptionFunc func(*Options)

// WithDefaultOptions resets every field to its documented default.
func WithDefaultOptions() OptionFunc {
	return func(o *Options) {
		*o = NewDefaultOptions()
	}
}

// WithDataDir sets the base data directory.
func WithDataDir(directory string) OptionFunc {
	return func(o *Options) {
		directory = strings.TrimSpace(directory)
		if directory != "" {
			o.DataDir = directory
		}
	}
}

// WithWorkerThreads sets the shared thread pool size.
func WithWorkerThreads(n int) OptionFunc {
	return func(o *Options) {
		if n > 0 {
			o.WorkerThreads = n
		}
	}
}

// WithDumpRetry sets the max retry count and base backoff for failed dumps.
func WithDumpRetry(maxRetries int, backoffBase time.Duration) OptionFunc {
	return func(o *Options) {
		if maxRetries >= 0 {
			o.DumpMaxRetries = maxRetries
		}
		if backoffBase > 0 {
			o.DumpBackoffBase = backoffBase
		}
	}
}

// WithReadOptions sets the options applied on the next Open call.
func WithReadOptions(ro ReadOptions) OptionFunc {
	return func(o *Options) {
		o.Read = ro
	}
}

// WithPreallocateBytes sets the segment file preallocation size.
func WithPreallocateBytes(n int64) OptionFunc {
	return func(o *Options) {
		if n >= MinPreallocateBytes && n <= MaxPreallocateBytes {
			if o.segment == nil {
				o.segment = &segmentOptions{}
			}
			o.segment.PreallocateBytes = n
		}
	}
}

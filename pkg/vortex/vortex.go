// Package vortex is the public entry point to the collection storage
// engine. It wraps internal/collection.Collection the way the teacher's
// pkg/ignite wraps internal/engine.Engine: a thin, documented facade that
// builds a logger, resolves options, constructs the internal subsystem, and
// forwards calls to it.
package vortex

import (
	"github.com/nilotpal/vortexdb/internal/collection"
	"github.com/nilotpal/vortexdb/internal/schema"
	"github.com/nilotpal/vortexdb/internal/segment"
	"github.com/nilotpal/vortexdb/pkg/errors"
	"github.com/nilotpal/vortexdb/pkg/logger"
	"github.com/nilotpal/vortexdb/pkg/options"
)

// Collection is a handle to one opened collection. All methods are safe
// for concurrent use.
type Collection struct {
	inner *collection.Collection
	opts  *options.Options
}

// Open opens (or creates) the collection rooted at dir, named service for
// logging purposes. sch is required when the collection does not already
// exist on disk; it is ignored when reopening one that does (only its name
// is compared with the stored schema, and a mismatch is logged as a
// warning).
//
// level controls the verbosity of the logger handed to every internal
// subsystem; pass logger.LevelProduction outside tests.
func Open(dir string, sch *schema.CollectionSchema, service string, level logger.Level, opts ...options.OptionFunc) (*Collection, error) {
	log := logger.New(service, level)

	resolved := options.NewDefaultOptions()
	for _, opt := range opts {
		opt(&resolved)
	}

	inner, err := collection.Open(dir, sch, &collection.Config{Options: &resolved, Logger: log})
	if err != nil {
		return nil, err
	}

	return &Collection{inner: inner, opts: &resolved}, nil
}

// Schema returns the collection's current schema.
func (c *Collection) Schema() schema.CollectionSchema {
	return c.inner.Schema()
}

// MagicNumber returns the collection's epoch token, generated once when the
// collection is created and stored in its manifest; callers
// use it to stamp WriteBatch.MagicNumber so a stale client talking to the
// wrong collection directory fails fast instead of corrupting data.
func (c *Collection) MagicNumber() uint64 {
	return c.inner.MagicNumber()
}

// WriteRow is one INSERT/UPDATE/DELETE row within a WriteBatch.
type WriteRow = collection.WriteRow

// WriteBatch is an ordered group of rows. Rows are applied in order and the
// batch stops at the first failing row; the LSN log advances to the last
// row's LSN only when every row applied, and is left unchanged otherwise.
type WriteBatch = collection.WriteBatch

// WriteResult reports how many rows of a WriteBatch were applied before
// any failure, and which row (if any) failed.
type WriteResult = collection.WriteResult

// WriteBatch applies an ordered batch of rows to the collection.
func (c *Collection) WriteBatch(batch *WriteBatch) (*WriteResult, error) {
	return c.inner.WriteBatch(batch)
}

// Result is one scored candidate returned by KnnSearch.
type Result = segment.Result

// KnnSearch runs an approximate nearest-neighbor query against columnName
// across every segment concurrently, returning up to topK globally ranked
// results.
func (c *Collection) KnnSearch(columnName string, queryVector []byte, topK int, params map[string]any) ([]Result, error) {
	return c.inner.KnnSearch(columnName, queryVector, topK, params)
}

// Stats summarizes a collection's size and write-path progress.
type Stats = collection.Stats

// GetStats returns aggregate statistics across every segment.
func (c *Collection) GetStats() Stats {
	return c.inner.GetStats()
}

// SegmentStats describes one segment, in creation order.
type SegmentStats = segment.Stats

// GetSegments returns a snapshot of every segment's stats, in creation order.
func (c *Collection) GetSegments() []SegmentStats {
	return c.inner.GetSegments()
}

// GetLatestLSN returns the latest LSN recorded in the collection's LSN log,
// and false if no batch has ever been recorded there.
func (c *Collection) GetLatestLSN() (schema.LSN, bool) {
	return c.inner.GetLatestLSN()
}

// UpdateSchema applies a schema revision. Only Revision and
// MaxDocsPerSegment may change between calls; any other change is rejected
// with errors.ErrorCodeUnsupportedSchemaChange.
func (c *Collection) UpdateSchema(newSchema *schema.CollectionSchema) error {
	return c.inner.UpdateSchema(newSchema)
}

// Close seals and dumps the active segment, waits for any background
// dumps still in flight, persists the manifest, and releases the
// collection's directory lock. Safe to call more than once.
func (c *Collection) Close() error {
	return c.inner.Close()
}

// IsNotFound reports whether err is the not-found error Open returns for
// a missing directory opened without options.ReadOptions.CreateNew.
func IsNotFound(err error) bool {
	return errors.GetErrorCode(err) == errors.ErrorCodeNotFound
}

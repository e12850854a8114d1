// Package collection implements the per-collection segment manager (C8):
// the orchestrator that owns a collection's segments list, its PK→DocId
// map, the collection-wide doc-id counter, and the manifest/LSN-log/thread
// pool handles every write and query passes through. It follows the
// teacher's internal/storage shape: a Config{Options, Logger} struct and a
// New/Open(ctx, cfg) constructor that does recovery bootstrap with heavy
// structured logging at each step, generalized here to spec §4.8's open()
// and spec §6's write_records()/get_stats()/update_schema() operations.
package collection

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nilotpal/vortexdb/internal/fsx"
	"github.com/nilotpal/vortexdb/internal/lsnlog"
	"github.com/nilotpal/vortexdb/internal/manifest"
	"github.com/nilotpal/vortexdb/internal/pool"
	"github.com/nilotpal/vortexdb/internal/schema"
	"github.com/nilotpal/vortexdb/internal/segment"
	"github.com/nilotpal/vortexdb/pkg/errors"
	"github.com/nilotpal/vortexdb/pkg/options"
)

const buildDirName = "building"

func segmentDirName(id uint32) string {
	return fmt.Sprintf("seg-%010d", id)
}

// Config carries a Collection's fixed dependencies, mirroring the teacher's
// storage.Config{Options, Logger} shape.
type Config struct {
	Options *options.Options
	Logger  *zap.SugaredLogger
}

// Collection is the segment manager for one collection: ingestion,
// segment lifecycle, and query fan-out all go through it (spec §3's
// collection-level Ownership: "segments list, PK→DocId map, doc-id
// counter, LSN log, manifest").
type Collection struct {
	dir  string
	opts *options.Options
	log  *zap.SugaredLogger

	magicNumber uint64

	schemaMu sync.RWMutex
	sch      schema.CollectionSchema

	segMu      sync.RWMutex
	segments   []*segment.Segment
	writingIdx int

	pkIdx *pkIndex

	nextDocID     atomic.Uint32
	nextSegmentID atomic.Uint32

	// writeMu imposes the total write order spec §6 requires: "the write
	// mutex imposes a total order; the LSN log reflects that order."
	writeMu sync.Mutex

	lsnLog *lsnlog.Log
	lock   io.Closer
	pool   *pool.Pool
	dumps  *pool.TaskGroup

	closeMu sync.Mutex
	closed  bool
}

// Open opens an existing collection directory, or creates one when none
// exists yet. sch is required when creating (ignored, with a warning if it
// disagrees with the stored name, when reopening) — spec §4.8 open().
func Open(dir string, sch *schema.CollectionSchema, cfg *Config) (*Collection, error) {
	if cfg == nil || cfg.Logger == nil {
		return nil, errors.NewValidationError(nil, errors.ErrorCodeInvalidInput, "collection config requires a logger")
	}
	opts := cfg.Options
	if opts == nil {
		d := options.NewDefaultOptions()
		opts = &d
	}

	exists := manifest.Exists(dir)
	if !exists && !opts.Read.CreateNew {
		return nil, errors.NewStorageError(nil, errors.ErrorCodeNotFound, "collection directory has no manifest").WithPath(dir)
	}
	if err := fsx.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	var man *manifest.Manifest
	if exists {
		m, err := manifest.Read(dir)
		if err != nil {
			return nil, err
		}
		man = m
		if sch != nil && sch.Name != man.Schema.Name {
			cfg.Logger.Warnw("ignoring schema passed to Open for an existing collection",
				"provided", sch.Name, "stored", man.Schema.Name)
		}
	} else {
		if sch == nil {
			return nil, errors.NewValidationError(nil, errors.ErrorCodeInvalidInput, "creating a collection requires a schema")
		}
		if err := sch.Validate(); err != nil {
			return nil, err
		}
		magic, err := manifest.NewMagicNumber()
		if err != nil {
			return nil, err
		}
		man = &manifest.Manifest{MagicNumber: magic, NextSegmentID: 0, Schema: *sch}
		if err := manifest.Write(dir, man); err != nil {
			return nil, err
		}
		cfg.Logger.Infow("created new collection", "dir", dir, "name", man.Schema.Name)
	}

	lock, err := manifest.Lock(dir)
	if err != nil {
		return nil, err
	}

	c := &Collection{
		dir:         dir,
		opts:        opts,
		log:         cfg.Logger,
		magicNumber: man.MagicNumber,
		sch:         man.Schema,
		pkIdx:       newPKIndex(),
		lock:        lock,
		pool:        pool.New(opts.WorkerThreads),
	}
	c.nextSegmentID.Store(man.NextSegmentID)
	c.dumps = c.pool.NewTaskGroup()

	if err := c.loadPersistedSegments(man); err != nil {
		c.pool.Close()
		lock.Close()
		return nil, err
	}

	buildDir := filepath.Join(dir, buildDirName)
	if err := discardStaleBuildDir(buildDir, cfg.Logger); err != nil {
		c.pool.Close()
		lock.Close()
		return nil, err
	}
	if err := c.startNewWritingSegment(buildDir); err != nil {
		c.pool.Close()
		lock.Close()
		return nil, err
	}

	lsnLog, err := lsnlog.Open(dir, cfg.Logger)
	if err != nil {
		c.pool.Close()
		lock.Close()
		return nil, err
	}
	c.lsnLog = lsnLog

	cfg.Logger.Infow("collection opened", "dir", dir, "segments", len(c.segments)-1,
		"docs", c.nextDocID.Load(), "liveKeys", c.pkIdx.Len())
	return c, nil
}

// loadPersistedSegments reopens every PERSIST segment the manifest lists and
// replays each one's forward store to rebuild the PK→DocId map (spec §4.8:
// "replays ... to rebuild PK→doc_id"). Crash recovery of an in-flight
// WRITING segment is deliberately not attempted here: Close always seals
// and dumps the active segment before a collection handle is released, so
// a clean shutdown never leaves a dangling building/ directory behind.
// A stale building/ left by a crash is crash debris, discarded in
// discardStaleBuildDir rather than replayed.
func (c *Collection) loadPersistedSegments(man *manifest.Manifest) error {
	segCfg := &segment.Config{Schema: &c.sch, Logger: c.log}

	for _, desc := range man.Segments {
		finalDir := filepath.Join(c.dir, desc.Dir)
		seg, err := segment.OpenPersist(finalDir, segCfg, c.opts.Read.UseMmap)
		if err != nil {
			return err
		}
		segIdx := len(c.segments)
		c.segments = append(c.segments, seg)

		if err := seg.ForEachDoc(func(docID schema.DocId, pk schema.PrimaryKey, lsn schema.LSN, deleted bool) error {
			if deleted {
				c.pkIdx.Delete(pk)
			} else {
				c.pkIdx.Set(pk, pkLocation{segmentIdx: segIdx, docID: docID, lsn: lsn})
			}
			if uint32(docID)+1 > c.nextDocID.Load() {
				c.nextDocID.Store(uint32(docID) + 1)
			}
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collection) startNewWritingSegment(buildDir string) error {
	segCfg := &segment.Config{Schema: &c.sch, Logger: c.log}
	id := c.nextSegmentID.Add(1) - 1
	seg, err := segment.New(context.Background(), id, filepath.Join(buildDir, segmentDirName(id)), segCfg)
	if err != nil {
		return err
	}
	c.segMu.Lock()
	c.segments = append(c.segments, seg)
	c.writingIdx = len(c.segments) - 1
	c.segMu.Unlock()
	return nil
}

// Schema returns a copy of the collection's current schema; mutating the
// copy's column slices does not affect the stored schema.
func (c *Collection) Schema() schema.CollectionSchema {
	c.schemaMu.RLock()
	defer c.schemaMu.RUnlock()
	out := c.sch
	out.ForwardColumns = append([]schema.ForwardColumn(nil), c.sch.ForwardColumns...)
	out.IndexColumns = append([]schema.IndexColumnSpec(nil), c.sch.IndexColumns...)
	return out
}

// MagicNumber returns the collection's per-epoch magic number, the value
// every write batch must present (spec §9 open question decision).
func (c *Collection) MagicNumber() uint64 { return c.magicNumber }

// WriteRow is one row of a WriteBatch, addressed to insert/update/delete a
// primary key (spec §4.6 write_row / §6 write batch row shape).
type WriteRow struct {
	PrimaryKey    schema.PrimaryKey
	Operation     segment.Operation
	LSN           schema.LSN
	LSNCheck      bool
	LSNContext    []byte
	ForwardValues [][]byte
	IndexValues   map[string][]byte
}

// WriteBatch is one atomic-at-row-granularity write request (spec §6).
type WriteBatch struct {
	SchemaRevision uint32
	MagicNumber    uint64
	// RequestID identifies the batch for logging/idempotency on the
	// caller's side; a fresh one is generated with google/uuid when empty.
	RequestID string
	Rows      []WriteRow
}

// WriteResult reports how much of a batch was applied before it stopped.
// Rows before FailedRowIndex are committed even on failure (spec §6: "a
// batch applies rows in order and stops at the first failure; rows already
// applied stay applied").
type WriteResult struct {
	RequestID      string
	AppliedRows    int
	FailedRowIndex int // -1 when every row applied
	Err            error
}

// WriteBatch validates batch.SchemaRevision/MagicNumber against the
// collection's current epoch, then applies every row in order under the
// write mutex, advancing the LSN log once the batch completes (spec §4.8
// write_records / §6).
func (c *Collection) WriteBatch(batch *WriteBatch) (*WriteResult, error) {
	requestID := ""
	if batch != nil {
		requestID = batch.RequestID
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}
	if batch == nil || len(batch.Rows) == 0 {
		return &WriteResult{RequestID: requestID, FailedRowIndex: -1}, nil
	}

	c.schemaMu.RLock()
	revision := c.sch.Revision
	c.schemaMu.RUnlock()
	if batch.SchemaRevision != revision {
		return nil, errors.NewMismatchedSchemaError(batch.SchemaRevision, revision)
	}
	if batch.MagicNumber != c.magicNumber {
		return nil, errors.NewMismatchedMagicError(batch.MagicNumber, c.magicNumber)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var previousLSN schema.LSN
	var havePrev bool
	applied := 0

	for i, row := range batch.Rows {
		if havePrev && row.LSN < previousLSN {
			return &WriteResult{RequestID: requestID, AppliedRows: applied, FailedRowIndex: i,
				Err: errors.NewNonMonotonicLSNError(uint64(row.PrimaryKey), uint64(row.LSN), uint64(previousLSN), i),
			}, nil
		}
		if err := c.applyRow(row, i); err != nil {
			return &WriteResult{RequestID: requestID, AppliedRows: applied, FailedRowIndex: i, Err: err}, nil
		}
		previousLSN, havePrev = row.LSN, true
		applied++

		// Checked after every row, not once at batch end: a single batch
		// inserting several multiples of MaxDocsPerSegment must still seal
		// and rotate a fresh segment each time the threshold is crossed,
		// not just once after the whole batch lands (spec §4.8 auto-seal,
		// spec §8 scenario 2's exact-boundary segment split).
		c.maybeSealActive()
	}

	last := batch.Rows[len(batch.Rows)-1]
	if err := c.lsnLog.Append(uint64(last.LSN), last.LSNContext); err != nil {
		return nil, err
	}

	return &WriteResult{RequestID: requestID, AppliedRows: applied, FailedRowIndex: -1}, nil
}

func (c *Collection) applyRow(row WriteRow, rowIndex int) error {
	switch row.Operation {
	case segment.OpInsert:
		return c.insertRow(row)
	case segment.OpUpdate:
		return c.updateRow(row, rowIndex)
	case segment.OpDelete:
		return c.deleteRow(row)
	default:
		return errors.NewValidationError(nil, errors.ErrorCodeInvalidInput, "unknown write operation").
			WithField("operation").WithProvided(row.Operation)
	}
}

// insertRow implements INSERT. A PK already present is tombstoned in its
// current segment first, so a re-INSERT behaves as an upsert rather than
// leaving two live docs for the same key (spec §3's "each PK unique within
// a collection at any instant" invariant).
func (c *Collection) insertRow(row WriteRow) error {
	if loc, ok := c.pkIdx.Get(row.PrimaryKey); ok {
		if err := c.markDeletedAt(loc); err != nil {
			return err
		}
	}
	_, err := c.insertNewDoc(row)
	return err
}

// updateRow implements UPDATE: look up the PK's current doc, apply the
// lsn_check staleness guard, tombstone the old doc, and insert the new
// version (spec §4.6 UPDATE).
func (c *Collection) updateRow(row WriteRow, rowIndex int) error {
	loc, ok := c.pkIdx.Get(row.PrimaryKey)
	if !ok {
		return errors.NewWriteError(nil, errors.ErrorCodeNotFound, "update targets unknown primary key").
			WithOperation("update").WithPrimaryKey(uint64(row.PrimaryKey)).WithRowIndex(rowIndex)
	}
	if row.LSNCheck && row.LSN <= loc.lsn {
		return errors.NewStaleWriteError(uint64(row.PrimaryKey), uint64(row.LSN), uint64(loc.lsn), rowIndex)
	}
	if err := c.markDeletedAt(loc); err != nil {
		return err
	}
	_, err := c.insertNewDoc(row)
	return err
}

// deleteRow implements DELETE: a PK not found is a no-op (spec §4.6
// DELETE: "if not found ... no-op").
func (c *Collection) deleteRow(row WriteRow) error {
	loc, ok := c.pkIdx.Get(row.PrimaryKey)
	if !ok {
		return nil
	}
	if err := c.markDeletedAt(loc); err != nil {
		return err
	}
	c.pkIdx.Delete(row.PrimaryKey)
	return nil
}

func (c *Collection) markDeletedAt(loc pkLocation) error {
	c.segMu.RLock()
	seg := c.segments[loc.segmentIdx]
	c.segMu.RUnlock()
	return seg.MarkDeleted(loc.docID)
}

func (c *Collection) insertNewDoc(row WriteRow) (schema.DocId, error) {
	c.segMu.RLock()
	active := c.segments[c.writingIdx]
	segIdx := c.writingIdx
	c.segMu.RUnlock()

	docID := schema.DocId(c.nextDocID.Add(1) - 1)
	segRow := segment.Row{
		PrimaryKey:    row.PrimaryKey,
		LSN:           row.LSN,
		ForwardValues: row.ForwardValues,
		IndexValues:   row.IndexValues,
	}
	if err := active.InsertRow(docID, segRow); err != nil {
		return 0, err
	}
	c.pkIdx.Set(row.PrimaryKey, pkLocation{segmentIdx: segIdx, docID: docID, lsn: row.LSN})
	return docID, nil
}

// maybeSealActive rotates the active segment to a fresh WRITING segment and
// schedules its dump once it reaches the schema's MaxDocsPerSegment
// threshold (spec §4.8: auto-seal on crossing the threshold). Called after
// every applied row rather than once per batch, so a batch spanning several
// multiples of the threshold still rotates a segment at each crossing
// instead of leaving one oversized segment. A threshold of 0 means
// unbounded; the collection never auto-rotates in that case.
func (c *Collection) maybeSealActive() {
	c.schemaMu.RLock()
	threshold := c.sch.MaxDocsPerSegment
	c.schemaMu.RUnlock()
	if threshold == 0 {
		return
	}

	c.segMu.RLock()
	active := c.segments[c.writingIdx]
	c.segMu.RUnlock()

	if active.GetStats().DocCount < threshold {
		return
	}
	c.rotateActiveSegment(active)
}

func (c *Collection) rotateActiveSegment(full *segment.Segment) {
	if err := full.Seal(); err != nil {
		c.log.Errorw("failed to seal full segment", "segmentId", full.ID(), "error", err)
		return
	}

	buildDir := filepath.Join(c.dir, buildDirName)
	if err := c.startNewWritingSegment(buildDir); err != nil {
		c.log.Errorw("failed to start replacement writing segment", "error", err)
		return
	}

	c.dumps.Go(func() error {
		return c.dumpSegment(full)
	})
}

// dumpSegment persists full with exponential backoff retry, marking it
// FAULTED only once the retry budget is exhausted (spec §4.8 failure
// model). Success refreshes the manifest so a reopen sees the new segment.
func (c *Collection) dumpSegment(seg *segment.Segment) error {
	finalDir := filepath.Join(c.dir, segmentDirName(seg.ID()))

	backoff := c.opts.DumpBackoffBase
	var lastErr error
	for attempt := 0; attempt <= c.opts.DumpMaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}
		if err := seg.Dump(finalDir); err != nil {
			lastErr = err
			c.log.Warnw("segment dump attempt failed", "segmentId", seg.ID(), "attempt", attempt, "error", err)
			continue
		}
		if err := c.persistManifest(); err != nil {
			c.log.Errorw("failed to persist manifest after segment dump", "segmentId", seg.ID(), "error", err)
			return err
		}
		if err := c.lsnLog.Checkpoint(); err != nil {
			c.log.Errorw("failed to checkpoint lsn log after segment dump", "segmentId", seg.ID(), "error", err)
			return err
		}
		return nil
	}

	seg.MarkFaulted(lastErr)
	c.log.Errorw("segment dump exhausted retries, segment marked faulted", "segmentId", seg.ID(), "error", lastErr)
	return lastErr
}

func (c *Collection) persistManifest() error {
	c.segMu.RLock()
	descs := make([]manifest.SegmentDescriptor, 0, len(c.segments))
	for _, seg := range c.segments {
		st := seg.GetStats()
		if st.State != segment.StatePersist {
			continue
		}
		descs = append(descs, manifest.SegmentDescriptor{
			SegmentID: st.SegmentID,
			Dir:       segmentDirName(st.SegmentID),
			MinDocID:  uint32(st.MinDocID),
			MaxDocID:  uint32(st.MaxDocID),
			MinLSN:    uint64(st.MinLSN),
			MaxLSN:    uint64(st.MaxLSN),
			MinPK:     uint64(st.MinPK),
			MaxPK:     uint64(st.MaxPK),
		})
	}
	c.segMu.RUnlock()

	c.schemaMu.RLock()
	sch := c.sch
	c.schemaMu.RUnlock()

	m := &manifest.Manifest{
		MagicNumber:   c.magicNumber,
		NextSegmentID: c.nextSegmentID.Load(),
		Schema:        sch,
		Segments:      descs,
	}
	return manifest.Write(c.dir, m)
}

// KnnSearch fans a query out across every segment concurrently via the
// shared thread pool, then merges the per-segment candidates into one
// top-k list (spec §4.9: "concurrent query execution across segments").
func (c *Collection) KnnSearch(columnName string, queryBytes []byte, topK int, params map[string]any) ([]segment.Result, error) {
	if topK < 0 {
		return nil, errors.NewValidationError(nil, errors.ErrorCodeInvalidInput, "topk must not be negative").
			WithField("topk").WithProvided(topK)
	}
	if topK == 0 {
		return nil, nil
	}

	c.segMu.RLock()
	segs := make([]*segment.Segment, len(c.segments))
	copy(segs, c.segments)
	c.segMu.RUnlock()

	partials := make([][]segment.Result, len(segs))
	group := c.pool.NewTaskGroup()
	for i, seg := range segs {
		i, seg := i, seg
		group.Go(func() error {
			res, err := seg.KnnSearch(columnName, queryBytes, topK, params)
			if err != nil {
				return err
			}
			partials[i] = res
			return nil
		})
	}
	if err := group.WaitFinish(); err != nil {
		return nil, err
	}

	merged := make([]segment.Result, 0, topK*len(segs)+1)
	for _, res := range partials {
		merged = append(merged, res...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score < merged[j].Score
		}
		return merged[i].DocID < merged[j].DocID
	})
	if len(merged) > topK {
		merged = merged[:topK]
	}
	return merged, nil
}

// Stats is the aggregate view get_stats() returns for a whole collection
// (spec §4.8 get_stats()).
type Stats struct {
	Name            string
	SchemaRevision  uint32
	MagicNumber     uint64
	SegmentCount    int
	DocCount        uint32
	DeleteCount     uint32
	LatestLSN       schema.LSN
	FaultedSegments int
}

// GetStats aggregates doc/delete counts across every segment the collection
// owns; the latest LSN comes from the LSN log.
func (c *Collection) GetStats() Stats {
	c.schemaMu.RLock()
	name, rev := c.sch.Name, c.sch.Revision
	c.schemaMu.RUnlock()

	c.segMu.RLock()
	segs := make([]*segment.Segment, len(c.segments))
	copy(segs, c.segments)
	c.segMu.RUnlock()

	st := Stats{Name: name, SchemaRevision: rev, MagicNumber: c.magicNumber, SegmentCount: len(segs)}
	for _, seg := range segs {
		s := seg.GetStats()
		st.DocCount += s.DocCount
		st.DeleteCount += s.DeleteCount
		if s.State == segment.StateFaulted {
			st.FaultedSegments++
		}
	}
	if entry, ok := c.lsnLog.Latest(); ok {
		st.LatestLSN = schema.LSN(entry.LSN)
	}
	return st
}

// GetSegments returns a stats snapshot of every segment, WRITING segment
// included, in creation order.
func (c *Collection) GetSegments() []segment.Stats {
	c.segMu.RLock()
	defer c.segMu.RUnlock()
	out := make([]segment.Stats, len(c.segments))
	for i, seg := range c.segments {
		out[i] = seg.GetStats()
	}
	return out
}

// GetLatestLSN returns the highest LSN the LSN log has recorded, or
// ok=false if the collection has never taken a write.
func (c *Collection) GetLatestLSN() (schema.LSN, bool) {
	entry, ok := c.lsnLog.Latest()
	return schema.LSN(entry.LSN), ok
}

// UpdateSchema validates newSchema against the current one (only a
// strictly-increasing Revision and MaxDocsPerSegment may change, spec
// §4.8 update_schema) and persists it to the manifest.
func (c *Collection) UpdateSchema(newSchema *schema.CollectionSchema) error {
	c.schemaMu.Lock()
	if err := c.sch.ValidateUpdate(newSchema); err != nil {
		c.schemaMu.Unlock()
		return err
	}
	c.sch = *newSchema
	c.schemaMu.Unlock()

	return c.persistManifest()
}

// Close seals and dumps the active WRITING segment (an active segment that
// holds no docs is sealed but not dumped), waits for any in-flight
// background dumps, persists the manifest and LSN-log checkpoint, removes
// the building/ directory, and releases every resource the collection holds
// (spec §4.8 close()).
func (c *Collection) Close() error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return nil
	}
	c.closed = true
	c.closeMu.Unlock()

	c.segMu.RLock()
	active := c.segments[c.writingIdx]
	c.segMu.RUnlock()

	if active.State() == segment.StateWriting {
		if err := active.Seal(); err != nil {
			return err
		}
		if active.GetStats().HasDocs {
			finalDir := filepath.Join(c.dir, segmentDirName(active.ID()))
			if err := active.Dump(finalDir); err != nil {
				active.MarkFaulted(err)
				return err
			}
		}
	}

	if err := c.dumps.WaitFinish(); err != nil {
		c.log.Errorw("a pending segment dump failed during close", "error", err)
	}

	if err := c.persistManifest(); err != nil {
		return err
	}
	if err := c.lsnLog.Checkpoint(); err != nil {
		return err
	}
	if err := c.lsnLog.Close(); err != nil {
		return err
	}

	c.pool.Close()

	c.segMu.RLock()
	defer c.segMu.RUnlock()
	for _, seg := range c.segments {
		if err := seg.Close(); err != nil {
			return err
		}
	}
	if err := fsx.RemoveAll(filepath.Join(c.dir, buildDirName)); err != nil {
		return err
	}
	return c.lock.Close()
}

// Package segment implements the segment lifecycle state machine (C6):
// WRITING → SEALED (internal, folded into State.Dumping) → PERSIST, with
// the four owned resources — delete map, forward store, vector index
// adapters, and the doc-id/LSN/PK range stats — that a segment exclusively
// holds (spec §3 Ownership). It follows the teacher's internal/storage
// shape: a Config{...} struct carrying a *zap.SugaredLogger plus domain
// options, a New(ctx, cfg) constructor, and typed errors for every failure
// path instead of bare fmt.Errorf.
package segment

import (
	"context"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/nilotpal/vortexdb/internal/codec"
	"github.com/nilotpal/vortexdb/internal/deletemap"
	"github.com/nilotpal/vortexdb/internal/forward"
	"github.com/nilotpal/vortexdb/internal/fsx"
	"github.com/nilotpal/vortexdb/internal/schema"
	"github.com/nilotpal/vortexdb/internal/vindex"
	"github.com/nilotpal/vortexdb/pkg/errors"
)

// State is a segment's externally observable lifecycle state. SEALED is an
// internal sub-state folded into Dumping (spec §4.6: "external observers
// see {WRITING, DUMPING, PERSIST}").
type State int32

const (
	StateWriting State = iota
	StateDumping
	StatePersist
	// StateFaulted is an observer-only state a segment enters when its dump
	// exhausts its retry budget (spec §4.8 failure model). A faulted
	// segment's rows remain readable from its WRITING-state in-memory
	// structures; get_stats surfaces the error.
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateWriting:
		return "WRITING"
	case StateDumping:
		return "DUMPING"
	case StatePersist:
		return "PERSIST"
	case StateFaulted:
		return "FAULTED"
	default:
		return "UNKNOWN"
	}
}

// forwardStore is the minimal interface shared by forward.Writer (WRITING)
// and forward.Reader (PERSIST), letting KnnSearch/resolve logic stay
// state-agnostic.
type forwardStore interface {
	ReadAt(doc uint32) ([]byte, error)
}

// IndexFileInfo records one persisted index-column file's name and size,
// part of a segment's get_stats() snapshot (spec §3's index_files).
type IndexFileInfo struct {
	Name string
	Size int64
}

// Stats is the snapshot get_stats() returns (spec §3).
type Stats struct {
	SegmentID    uint32
	State        State
	HasDocs      bool
	MinDocID     schema.DocId
	MaxDocID     schema.DocId
	DocCount     uint32
	DeleteCount  uint32
	MinLSN       schema.LSN
	MaxLSN       schema.LSN
	MinPK        schema.PrimaryKey
	MaxPK        schema.PrimaryKey
	IndexFiles   []IndexFileInfo
	FaultErr     error
}

// Result is one knn_search hit, forward values resolved and LSN/PK filled
// in from the forward store (spec §6 query response shape).
type Result struct {
	PrimaryKey    schema.PrimaryKey
	DocID         schema.DocId
	Score         float32
	LSN           schema.LSN
	ForwardValues [][]byte
}

// Config carries a segment's fixed dependencies, mirroring the teacher's
// storage.Config{Options, Logger} shape.
type Config struct {
	Schema *schema.CollectionSchema
	Logger *zap.SugaredLogger
}

// Segment owns one WRITING/DUMPING/PERSIST segment's delete map, forward
// store, and per-column vector indexes (spec §3 Ownership: "A Segment
// exclusively owns its DeleteMap, ForwardStore, and per-column index
// objects").
type Segment struct {
	id     uint32
	schema *schema.CollectionSchema
	log    *zap.SugaredLogger

	buildDir string
	finalDir string

	// mu guards state transitions and the range/stat fields below. It is
	// not held across I/O in Dump: heavy work runs under a read-lock
	// snapshot so concurrent KnnSearch/GetStats calls are never blocked by
	// a background dump (spec §4.6: "no query is lost during dumping").
	mu sync.RWMutex

	state   State
	hasDocs bool

	minDocID, maxDocID uint32
	minLSN, maxLSN     uint64
	minPK, maxPK       uint64

	deleteMap *deletemap.Map
	forwardW  *forward.Writer
	forwardR  *forward.Reader
	indexes   map[string]vindex.Adapter

	indexFiles []IndexFileInfo
	faultErr   error
}

// New creates a fresh WRITING segment rooted at buildDir (the segment's
// building/seg-<id>/ directory per spec §6's on-disk layout).
func New(ctx context.Context, id uint32, buildDir string, cfg *Config) (*Segment, error) {
	if cfg == nil || cfg.Schema == nil || cfg.Logger == nil {
		return nil, errors.NewValidationError(nil, errors.ErrorCodeInvalidInput, "segment config requires schema and logger")
	}
	if err := fsx.MkdirAll(buildDir, 0755); err != nil {
		return nil, err
	}

	indexes := make(map[string]vindex.Adapter, len(cfg.Schema.IndexColumns))
	for i := range cfg.Schema.IndexColumns {
		spec := &cfg.Schema.IndexColumns[i]
		adapter, err := vindex.NewAdapter(spec)
		if err != nil {
			return nil, err
		}
		indexes[spec.Name] = adapter
	}

	cfg.Logger.Infow("segment created", "segmentId", id, "buildDir", buildDir)

	return &Segment{
		id:       id,
		schema:   cfg.Schema,
		log:      cfg.Logger,
		buildDir: buildDir,
		state:    StateWriting,
		indexes:  indexes,
	}, nil
}

// ID returns the segment's per-collection counter value.
func (s *Segment) ID() uint32 { return s.id }

// State returns the segment's current externally observable state.
func (s *Segment) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Owns reports whether docID falls within this segment's assigned range.
func (s *Segment) Owns(docID schema.DocId) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasDocs {
		return false
	}
	d := uint32(docID)
	return d >= s.minDocID && d <= s.maxDocID
}

// InsertRow performs the INSERT path of spec §4.6 write_row: append the
// forward payload, feed every index column's adapter, and extend the
// segment's doc-id/LSN/PK ranges. docID is allocated by the owning
// collection (DocId is scoped collection-wide, spec §3), not by the
// segment itself.
func (s *Segment) InsertRow(docID schema.DocId, row Row) error {
	s.mu.Lock()
	if s.state != StateWriting {
		s.mu.Unlock()
		return errors.NewWriteError(nil, errors.ErrorCodeInternal, "insert into non-writing segment").
			WithOperation("insert_row")
	}

	d := uint32(docID)
	firstInSegment := !s.hasDocs
	if firstInSegment {
		s.minDocID = d
		s.minLSN = uint64(row.LSN)
		s.minPK = uint64(row.PrimaryKey)
		s.deleteMap = deletemap.NewGrowable(1)
	}
	s.maxDocID = d
	s.hasDocs = true
	if uint64(row.LSN) < s.minLSN {
		s.minLSN = uint64(row.LSN)
	}
	if uint64(row.LSN) > s.maxLSN {
		s.maxLSN = uint64(row.LSN)
	}
	if uint64(row.PrimaryKey) < s.minPK {
		s.minPK = uint64(row.PrimaryKey)
	}
	if uint64(row.PrimaryKey) > s.maxPK {
		s.maxPK = uint64(row.PrimaryKey)
	}
	forwardW := s.forwardW
	s.mu.Unlock()

	if firstInSegment {
		w, err := forward.NewWriter(s.buildDir, d)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.forwardW = w
		s.mu.Unlock()
		forwardW = w
	}

	payload := packRow(row.PrimaryKey, row.LSN, row.ForwardValues)
	if err := forwardW.Append(d, payload); err != nil {
		return err
	}

	for i := range s.schema.IndexColumns {
		spec := &s.schema.IndexColumns[i]
		raw, ok := row.IndexValues[spec.Name]
		if !ok {
			return errors.NewValidationError(nil, errors.ErrorCodeInvalidInput, "missing index value for column").
				WithField(spec.Name)
		}
		vec, err := vindex.DecodeVector(raw, spec)
		if err != nil {
			return err
		}
		if err := s.indexes[spec.Name].Add(d, vec); err != nil {
			return err
		}
	}

	return nil
}

// MarkDeleted sets docID's tombstone bit. Idempotent (spec §4.6 DELETE:
// "if not found ... no-op"; here "not found" is the caller's job via Owns —
// MarkDeleted assumes docID belongs to this segment).
func (s *Segment) MarkDeleted(docID schema.DocId) error {
	s.mu.RLock()
	if !s.hasDocs {
		s.mu.RUnlock()
		return errors.NewStorageError(nil, errors.ErrorCodeNotFound, "segment has no docs").WithDetail("docId", docID)
	}
	rel := uint32(docID) - s.minDocID
	dm := s.deleteMap
	s.mu.RUnlock()
	dm.Set(rel)
	return nil
}

// IsDeleted reports whether docID's tombstone bit is set.
func (s *Segment) IsDeleted(docID schema.DocId) bool {
	s.mu.RLock()
	if !s.hasDocs {
		s.mu.RUnlock()
		return false
	}
	rel := uint32(docID) - s.minDocID
	dm := s.deleteMap
	s.mu.RUnlock()
	return dm.Test(rel)
}

// Seal flips WRITING to the internal SEALED sub-state (exposed as
// Dumping) and finalizes every index adapter. Rejects further InsertRow
// calls (spec §4.6 seal()).
func (s *Segment) Seal() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateWriting {
		return nil
	}
	for name, adapter := range s.indexes {
		if err := adapter.Seal(); err != nil {
			return errors.NewIndexError(err, errors.ErrorCodeInternal, "seal index adapter").WithColumn(name)
		}
	}
	s.state = StateDumping
	s.log.Infow("segment sealed", "segmentId", s.id, "docCount", s.maxDocID-s.minDocID+1)
	return nil
}

// Dump builds persistent files for every owned resource, fsyncs, atomically
// renames buildDir into finalDir, then flips to PERSIST (spec §4.6 dump).
// Heavy work runs without holding the exclusive lock so KnnSearch/GetStats
// are never blocked behind it. On error the segment stays in DUMPING rather
// than auto-faulting: spec §4.8's retry/backoff loop lives in the owning
// collection, which decides when a segment is FAULTED via MarkFaulted after
// its retry budget is exhausted, and otherwise simply calls Dump again.
func (s *Segment) Dump(finalDir string) error {
	s.mu.RLock()
	if s.state != StateDumping {
		s.mu.RUnlock()
		return errors.NewStorageError(nil, errors.ErrorCodeInternal, "dump called outside DUMPING state").
			WithDetail("state", s.state.String())
	}
	minDocID := s.minDocID
	buildDir := s.buildDir
	forwardW := s.forwardW
	deleteMap := s.deleteMap
	indexes := s.indexes
	s.mu.RUnlock()

	indexFiles, err := s.serializeIndexes(buildDir, indexes)
	if err != nil {
		return err
	}

	if err := forwardW.Seal(); err != nil {
		return err
	}

	deleteMapPath := filepath.Join(buildDir, "delete.map")
	if err := deletemap.Persist(deleteMap, deleteMapPath); err != nil {
		return err
	}

	if err := s.writeMeta(buildDir, minDocID, indexFiles); err != nil {
		return err
	}

	if err := forwardW.Close(); err != nil {
		return err
	}

	if err := fsx.AtomicRename(buildDir, finalDir); err != nil {
		return err
	}

	forwardR, err := forward.OpenReader(finalDir, minDocID, fsx.MapOptions{})
	if err != nil {
		return err
	}
	dmPersist, err := deletemap.OpenMmap(filepath.Join(finalDir, "delete.map"))
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.forwardW = nil
	s.forwardR = forwardR
	s.deleteMap = dmPersist
	s.finalDir = finalDir
	s.indexFiles = indexFiles
	s.state = StatePersist
	s.mu.Unlock()

	s.log.Infow("segment dumped", "segmentId", s.id, "finalDir", finalDir)
	return nil
}

func (s *Segment) serializeIndexes(buildDir string, indexes map[string]vindex.Adapter) ([]IndexFileInfo, error) {
	names := make([]string, 0, len(indexes))
	for name := range indexes {
		names = append(names, name)
	}
	sort.Strings(names) // deterministic file list across runs

	files := make([]IndexFileInfo, 0, len(names))
	for _, name := range names {
		blob, err := indexes[name].Serialize()
		if err != nil {
			return nil, errors.NewIndexError(err, errors.ErrorCodeInternal, "serialize index adapter").WithColumn(name)
		}
		block := codec.EncodeBlock(codec.BlockKindVectorIndex, blob, true)

		path := filepath.Join(buildDir, "col-"+name+".idx")
		f, err := fsx.CreateSized(path, int64(len(block)), 0644)
		if err != nil {
			return nil, err
		}
		if err := fsx.WriteAt(f, block, 0); err != nil {
			f.Close()
			return nil, err
		}
		if err := fsx.Fsync(f); err != nil {
			f.Close()
			return nil, err
		}
		if err := f.Close(); err != nil {
			return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "close index file").WithPath(path)
		}
		files = append(files, IndexFileInfo{Name: "col-" + name + ".idx", Size: int64(len(block))})
	}
	return files, nil
}

// MarkFaulted flips the segment to the observer-only FAULTED state (spec
// §4.8: entered "when its dump exhausts its retry budget"). Called by the
// owning collection, never by Dump itself.
func (s *Segment) MarkFaulted(err error) {
	s.mu.Lock()
	s.state = StateFaulted
	s.faultErr = err
	s.mu.Unlock()
	s.log.Errorw("segment marked faulted", "segmentId", s.id, "error", err)
}

// KnnSearch runs columnName's searcher, filters through the delete map, and
// resolves forward values (spec §4.6 knn_search). topk==0 returns no
// results and no error; negative topk is InvalidArgument; a column absent
// from the schema is UnknownColumn.
func (s *Segment) KnnSearch(columnName string, queryBytes []byte, topK int, params map[string]any) ([]Result, error) {
	if topK < 0 {
		return nil, errors.NewValidationError(nil, errors.ErrorCodeInvalidInput, "topk must not be negative").
			WithField("topk").WithProvided(topK)
	}
	if topK == 0 {
		return nil, nil
	}

	s.mu.RLock()
	spec, ok := s.schema.IndexColumn(columnName)
	if !ok {
		s.mu.RUnlock()
		return nil, errors.NewUnknownColumnError(columnName, "knn_search")
	}
	if !s.hasDocs {
		s.mu.RUnlock()
		return nil, nil
	}
	adapter := s.indexes[columnName]
	deleteMap := s.deleteMap
	minDocID := s.minDocID
	fwd := s.currentForwardStoreLocked()
	s.mu.RUnlock()

	vec, err := vindex.DecodeVector(queryBytes, spec)
	if err != nil {
		return nil, err
	}

	// Overfetch so deleted docs filtered below still leave room for topK
	// live results; a segment rarely has a majority tombstoned, so 4x plus
	// a fixed pad comfortably covers normal delete ratios without the
	// unbounded retry a tight loop would need.
	raw, err := adapter.Search(vec, topK*4+32, params)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(raw, func(i, j int) bool {
		if raw[i].Score != raw[j].Score {
			return raw[i].Score < raw[j].Score
		}
		return raw[i].DocID < raw[j].DocID // deterministic tie-break (spec §4.6)
	})

	results := make([]Result, 0, topK)
	for _, cand := range raw {
		if len(results) == topK {
			break
		}
		rel := cand.DocID - minDocID
		if deleteMap.Test(rel) {
			continue
		}
		payload, err := fwd.ReadAt(cand.DocID)
		if err != nil {
			continue // not yet visible while WRITING/DUMPING; skip rather than fail the whole query
		}
		pk, lsn, forwardValues, err := unpackRow(payload)
		if err != nil {
			return nil, err
		}
		results = append(results, Result{
			PrimaryKey:    pk,
			DocID:         schema.DocId(cand.DocID),
			Score:         cand.Score,
			LSN:           lsn,
			ForwardValues: forwardValues,
		})
	}
	return results, nil
}

// currentForwardStoreLocked returns whichever forward store handle is live
// for the segment's current state. Caller must hold s.mu (read or write).
func (s *Segment) currentForwardStoreLocked() forwardStore {
	if s.forwardR != nil {
		return s.forwardR
	}
	return s.forwardW
}

// GetStats returns a snapshot of the fields spec §3 lists for a segment.
func (s *Segment) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var docCount uint32
	if s.hasDocs {
		docCount = s.maxDocID - s.minDocID + 1
	}

	var deleteCount uint32
	if s.deleteMap != nil {
		deleteCount = s.deleteMap.Cardinality()
	}

	return Stats{
		SegmentID:   s.id,
		State:       s.state,
		HasDocs:     s.hasDocs,
		MinDocID:    schema.DocId(s.minDocID),
		MaxDocID:    schema.DocId(s.maxDocID),
		DocCount:    docCount,
		DeleteCount: deleteCount,
		MinLSN:      schema.LSN(s.minLSN),
		MaxLSN:      schema.LSN(s.maxLSN),
		MinPK:       schema.PrimaryKey(s.minPK),
		MaxPK:       schema.PrimaryKey(s.maxPK),
		IndexFiles:  s.indexFiles,
		FaultErr:    s.faultErr,
	}
}

// Close releases every resource the segment owns, in the deterministic
// order spec §9's "Global mutable state" non-goal calls for: indexes have
// nothing to close (heap-resident), then forwards, then the delete map.
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.forwardW != nil {
		if err := s.forwardW.Close(); err != nil {
			return err
		}
	}
	if s.forwardR != nil {
		if err := s.forwardR.Close(); err != nil {
			return err
		}
	}
	if s.deleteMap != nil {
		if err := s.deleteMap.Close(); err != nil {
			return err
		}
	}
	return nil
}

package collection

import (
	"math"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/nilotpal/vortexdb/internal/schema"
	"github.com/nilotpal/vortexdb/internal/segment"
	"github.com/nilotpal/vortexdb/pkg/errors"
	"github.com/nilotpal/vortexdb/pkg/options"

	_ "github.com/nilotpal/vortexdb/internal/vindex/graph" // registers IndexKindGraph
)

func testSchema(maxDocsPerSegment uint32) *schema.CollectionSchema {
	return &schema.CollectionSchema{
		Name:              "widgets",
		Revision:          1,
		MaxDocsPerSegment: maxDocsPerSegment,
		ForwardColumns: []schema.ForwardColumn{
			{Name: "title", LogicalType: schema.LogicalTypeBytes},
		},
		IndexColumns: []schema.IndexColumnSpec{
			{Name: "embedding", IndexKind: schema.IndexKindGraph, DataType: schema.DataTypeFP32, Dimension: 4, Metric: schema.MetricL2Squared},
		},
	}
}

func testLogger(t *testing.T) *zap.SugaredLogger {
	t.Helper()
	l, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l.Sugar()
}

func vecBytes(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		bits := math.Float32bits(f)
		out[i*4+0] = byte(bits)
		out[i*4+1] = byte(bits >> 8)
		out[i*4+2] = byte(bits >> 16)
		out[i*4+3] = byte(bits >> 24)
	}
	return out
}

func openTestCollection(t *testing.T, dir string, sch *schema.CollectionSchema) *Collection {
	t.Helper()
	opts := options.NewDefaultOptions()
	opts.Read.UseMmap = false
	opts.WorkerThreads = 2
	c, err := Open(dir, sch, &Config{Options: &opts, Logger: testLogger(t)})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return c
}

func insertRow(pk schema.PrimaryKey, lsn schema.LSN, vec []float32, title string) WriteRow {
	return WriteRow{
		PrimaryKey:    pk,
		Operation:     segment.OpInsert,
		LSN:           lsn,
		ForwardValues: [][]byte{[]byte(title)},
		IndexValues:   map[string][]byte{"embedding": vecBytes(vec)},
	}
}

func batch(revision uint32, magic uint64, rows ...WriteRow) *WriteBatch {
	return &WriteBatch{SchemaRevision: revision, MagicNumber: magic, Rows: rows}
}

// Scenario: insert-and-search round trip.
func TestInsertAndSearchRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c := openTestCollection(t, dir, testSchema(0))
	defer c.Close()

	res, err := c.WriteBatch(batch(1, c.MagicNumber(),
		insertRow(100, 1, []float32{0, 0, 0, 0}, "a"),
		insertRow(101, 2, []float32{1, 0, 0, 0}, "b"),
	))
	if err != nil {
		t.Fatalf("write batch: %v", err)
	}
	if res.FailedRowIndex != -1 || res.AppliedRows != 2 {
		t.Fatalf("write result = %+v, want all 2 rows applied", res)
	}

	hits, err := c.KnnSearch("embedding", vecBytes([]float32{0, 0, 0, 0}), 1, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].PrimaryKey != 100 {
		t.Fatalf("top-1 = %+v, want pk 100", hits)
	}
}

// Scenario: segment dump producing the expected doc-id ranges across
// multiple auto-sealed segments.
func TestAutoSealProducesMultipleSegmentsWithExactDocRanges(t *testing.T) {
	dir := t.TempDir()
	c := openTestCollection(t, dir, testSchema(2))
	defer c.Close()

	for i := 0; i < 6; i++ {
		pk := schema.PrimaryKey(i + 1)
		_, err := c.WriteBatch(batch(1, c.MagicNumber(), insertRow(pk, schema.LSN(i+1), []float32{float32(i), 0, 0, 0}, "row")))
		if err != nil {
			t.Fatalf("write row %d: %v", i, err)
		}
	}

	if err := c.dumps.WaitFinish(); err != nil {
		t.Fatalf("background dumps: %v", err)
	}

	segs := c.GetSegments()
	// 3 sealed/dumped segments of 2 docs each, plus the new active WRITING one.
	if len(segs) != 4 {
		t.Fatalf("segment count = %d, want 4 (3 full + 1 active)", len(segs))
	}
	for i := 0; i < 3; i++ {
		if segs[i].DocCount != 2 {
			t.Fatalf("segment %d doc count = %d, want 2", i, segs[i].DocCount)
		}
		wantMin := schema.DocId(i * 2)
		wantMax := schema.DocId(i*2 + 1)
		if segs[i].MinDocID != wantMin || segs[i].MaxDocID != wantMax {
			t.Fatalf("segment %d range = [%d, %d], want [%d, %d]", i, segs[i].MinDocID, segs[i].MaxDocID, wantMin, wantMax)
		}
	}
}

// A single batch that inserts several multiples of MaxDocsPerSegment must
// still split into capped segments rather than landing in one oversized
// segment plus an empty active one (spec §4.8 auto-seal, spec §8 scenario 2).
func TestAutoSealSplitsWithinASingleOverCapacityBatch(t *testing.T) {
	dir := t.TempDir()
	c := openTestCollection(t, dir, testSchema(2))
	defer c.Close()

	rows := make([]WriteRow, 0, 6)
	for i := 0; i < 6; i++ {
		pk := schema.PrimaryKey(i + 1)
		rows = append(rows, insertRow(pk, schema.LSN(i+1), []float32{float32(i), 0, 0, 0}, "row"))
	}
	res, err := c.WriteBatch(batch(1, c.MagicNumber(), rows...))
	if err != nil {
		t.Fatalf("write batch: %v", err)
	}
	if res.Err != nil || res.AppliedRows != 6 {
		t.Fatalf("unexpected result: %+v", res)
	}

	if err := c.dumps.WaitFinish(); err != nil {
		t.Fatalf("background dumps: %v", err)
	}

	segs := c.GetSegments()
	// 3 sealed/dumped segments of 2 docs each, plus the new active WRITING one.
	if len(segs) != 4 {
		t.Fatalf("segment count = %d, want 4 (3 full + 1 active)", len(segs))
	}
	for i := 0; i < 3; i++ {
		if segs[i].DocCount != 2 {
			t.Fatalf("segment %d doc count = %d, want 2", i, segs[i].DocCount)
		}
		wantMin := schema.DocId(i * 2)
		wantMax := schema.DocId(i*2 + 1)
		if segs[i].MinDocID != wantMin || segs[i].MaxDocID != wantMax {
			t.Fatalf("segment %d range = [%d, %d], want [%d, %d]", i, segs[i].MinDocID, segs[i].MaxDocID, wantMin, wantMax)
		}
	}
}

// Scenario: delete-then-search excludes the deleted key.
func TestDeleteThenSearchExcludesKey(t *testing.T) {
	dir := t.TempDir()
	c := openTestCollection(t, dir, testSchema(0))
	defer c.Close()

	if _, err := c.WriteBatch(batch(1, c.MagicNumber(),
		insertRow(1, 1, []float32{0, 0, 0, 0}, "near"),
		insertRow(2, 2, []float32{100, 100, 100, 100}, "far"),
	)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	del := WriteRow{PrimaryKey: 1, Operation: segment.OpDelete, LSN: 3}
	if _, err := c.WriteBatch(batch(1, c.MagicNumber(), del)); err != nil {
		t.Fatalf("delete: %v", err)
	}

	hits, err := c.KnnSearch("embedding", vecBytes([]float32{0, 0, 0, 0}), 2, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, h := range hits {
		if h.PrimaryKey == 1 {
			t.Fatalf("deleted pk 1 leaked into results: %+v", hits)
		}
	}
}

// Scenario: update with lsn_check rejects a stale write and accepts a fresh one.
func TestUpdateWithLSNCheckStaleThenSuccess(t *testing.T) {
	dir := t.TempDir()
	c := openTestCollection(t, dir, testSchema(0))
	defer c.Close()

	if _, err := c.WriteBatch(batch(1, c.MagicNumber(), insertRow(1, 5, []float32{0, 0, 0, 0}, "v1"))); err != nil {
		t.Fatalf("insert: %v", err)
	}

	stale := WriteRow{
		PrimaryKey: 1, Operation: segment.OpUpdate, LSN: 3, LSNCheck: true,
		ForwardValues: [][]byte{[]byte("v2-stale")},
		IndexValues:   map[string][]byte{"embedding": vecBytes([]float32{1, 1, 1, 1})},
	}
	res, err := c.WriteBatch(batch(1, c.MagicNumber(), stale))
	if err != nil {
		t.Fatalf("stale update returned transport error: %v", err)
	}
	if res.FailedRowIndex != 0 || errors.GetErrorCode(res.Err) != errors.ErrorCodeStaleWrite {
		t.Fatalf("stale update result = %+v, want STALE_WRITE at row 0", res)
	}

	fresh := WriteRow{
		PrimaryKey: 1, Operation: segment.OpUpdate, LSN: 10, LSNCheck: true,
		ForwardValues: [][]byte{[]byte("v2")},
		IndexValues:   map[string][]byte{"embedding": vecBytes([]float32{2, 2, 2, 2})},
	}
	res, err = c.WriteBatch(batch(1, c.MagicNumber(), fresh))
	if err != nil {
		t.Fatalf("fresh update: %v", err)
	}
	if res.FailedRowIndex != -1 {
		t.Fatalf("fresh update result = %+v, want success", res)
	}

	hits, err := c.KnnSearch("embedding", vecBytes([]float32{2, 2, 2, 2}), 1, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || string(hits[0].ForwardValues[0]) != "v2" {
		t.Fatalf("top-1 = %+v, want forward value v2", hits)
	}
}

// Scenario: reopen produces identical stats and search behavior.
func TestReopenProducesIdenticalStats(t *testing.T) {
	dir := t.TempDir()
	c := openTestCollection(t, dir, testSchema(2))

	for i := 0; i < 5; i++ {
		pk := schema.PrimaryKey(i + 1)
		if _, err := c.WriteBatch(batch(1, c.MagicNumber(), insertRow(pk, schema.LSN(i+1), []float32{float32(i), 0, 0, 0}, "row"))); err != nil {
			t.Fatalf("write row %d: %v", i, err)
		}
	}

	before := c.GetStats()
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened := openTestCollection(t, dir, nil)
	defer reopened.Close()

	after := reopened.GetStats()
	if after.DocCount != before.DocCount {
		t.Fatalf("doc count after reopen = %d, want %d", after.DocCount, before.DocCount)
	}
	if after.MagicNumber != before.MagicNumber {
		t.Fatalf("magic number changed across reopen")
	}

	hits, err := reopened.KnnSearch("embedding", vecBytes([]float32{0, 0, 0, 0}), 1, nil)
	if err != nil {
		t.Fatalf("search after reopen: %v", err)
	}
	if len(hits) != 1 || hits[0].PrimaryKey != 1 {
		t.Fatalf("top-1 after reopen = %+v, want pk 1", hits)
	}
}

// Scenario: schema update is rejected for a disallowed change, then
// accepted for an allowed one.
func TestUpdateSchemaRejectedThenAccepted(t *testing.T) {
	dir := t.TempDir()
	c := openTestCollection(t, dir, testSchema(100))
	defer c.Close()

	bad := c.Schema()
	bad.Revision++
	bad.IndexColumns[0].Dimension = 8 // disallowed: index columns are fixed for life
	if err := c.UpdateSchema(&bad); err == nil {
		t.Fatal("expected index column change to be rejected")
	} else if errors.GetErrorCode(err) != errors.ErrorCodeUnsupportedSchemaChange {
		t.Fatalf("error code = %v, want UNSUPPORTED_SCHEMA_CHANGE", errors.GetErrorCode(err))
	}

	good := c.Schema()
	good.Revision++
	good.MaxDocsPerSegment = 5000
	if err := c.UpdateSchema(&good); err != nil {
		t.Fatalf("expected max_docs_per_segment change to be accepted: %v", err)
	}
	if c.Schema().MaxDocsPerSegment != 5000 {
		t.Fatalf("schema not updated: %+v", c.Schema())
	}
}

func TestWriteBatchRejectsMismatchedSchemaAndMagic(t *testing.T) {
	dir := t.TempDir()
	c := openTestCollection(t, dir, testSchema(0))
	defer c.Close()

	_, err := c.WriteBatch(batch(999, c.MagicNumber(), insertRow(1, 1, []float32{0, 0, 0, 0}, "a")))
	if errors.GetErrorCode(err) != errors.ErrorCodeMismatchedSchema {
		t.Fatalf("error code = %v, want MISMATCHED_SCHEMA", errors.GetErrorCode(err))
	}

	_, err = c.WriteBatch(batch(1, c.MagicNumber()+1, insertRow(1, 1, []float32{0, 0, 0, 0}, "a")))
	if errors.GetErrorCode(err) != errors.ErrorCodeMismatchedMagic {
		t.Fatalf("error code = %v, want MISMATCHED_MAGIC", errors.GetErrorCode(err))
	}
}

func TestOpenWithoutCreateNewOnMissingDirIsNotFound(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nope")
	opts := options.NewDefaultOptions()
	opts.Read.CreateNew = false
	_, err := Open(dir, testSchema(0), &Config{Options: &opts, Logger: testLogger(t)})
	if errors.GetErrorCode(err) != errors.ErrorCodeNotFound {
		t.Fatalf("error code = %v, want NOT_FOUND", errors.GetErrorCode(err))
	}
}

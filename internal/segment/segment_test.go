package segment

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/nilotpal/vortexdb/internal/schema"
	"github.com/nilotpal/vortexdb/pkg/errors"

	_ "github.com/nilotpal/vortexdb/internal/vindex/graph" // registers IndexKindGraph
)

func testSchema() *schema.CollectionSchema {
	return &schema.CollectionSchema{
		Name:     "widgets",
		Revision: 1,
		ForwardColumns: []schema.ForwardColumn{
			{Name: "title", LogicalType: schema.LogicalTypeBytes},
		},
		IndexColumns: []schema.IndexColumnSpec{
			{
				Name:      "embedding",
				IndexKind: schema.IndexKindGraph,
				DataType:  schema.DataTypeFP32,
				Dimension: 4,
				Metric:    schema.MetricL2Squared,
			},
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

func newSegment(t *testing.T) *Segment {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "building")
	seg, err := New(context.Background(), 1, dir, &Config{Schema: testSchema(), Logger: testLogger(t)})
	if err != nil {
		t.Fatalf("new segment: %v", err)
	}
	return seg
}

func insert(t *testing.T, seg *Segment, doc schema.DocId, pk schema.PrimaryKey, lsn schema.LSN, vec []float32, title string) {
	t.Helper()
	row := Row{
		PrimaryKey:    pk,
		LSN:           lsn,
		ForwardValues: [][]byte{[]byte(title)},
		IndexValues:   map[string][]byte{"embedding": vecBytes(vec)},
	}
	if err := seg.InsertRow(doc, row); err != nil {
		t.Fatalf("insert doc %d: %v", doc, err)
	}
}

func TestInsertAndStatsRanges(t *testing.T) {
	seg := newSegment(t)
	insert(t, seg, 10, 100, 1, []float32{0, 0, 0, 0}, "a")
	insert(t, seg, 11, 101, 2, []float32{1, 0, 0, 0}, "b")
	insert(t, seg, 12, 102, 3, []float32{2, 0, 0, 0}, "c")

	stats := seg.GetStats()
	if stats.MinDocID != 10 || stats.MaxDocID != 12 {
		t.Fatalf("doc range = [%d, %d], want [10, 12]", stats.MinDocID, stats.MaxDocID)
	}
	if stats.DocCount != 3 {
		t.Fatalf("doc count = %d, want 3", stats.DocCount)
	}
	if stats.MinLSN != 1 || stats.MaxLSN != 3 {
		t.Fatalf("lsn range = [%d, %d], want [1, 3]", stats.MinLSN, stats.MaxLSN)
	}
	if stats.MinPK != 100 || stats.MaxPK != 102 {
		t.Fatalf("pk range = [%d, %d], want [100, 102]", stats.MinPK, stats.MaxPK)
	}
}

func TestKnnSearchTopKZeroReturnsEmpty(t *testing.T) {
	seg := newSegment(t)
	insert(t, seg, 0, 1, 1, []float32{0, 0, 0, 0}, "a")

	results, err := seg.KnnSearch("embedding", vecBytes([]float32{0, 0, 0, 0}), 0, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results for topk=0, got %d", len(results))
	}
}

func TestKnnSearchNegativeTopKIsInvalidArgument(t *testing.T) {
	seg := newSegment(t)
	insert(t, seg, 0, 1, 1, []float32{0, 0, 0, 0}, "a")

	_, err := seg.KnnSearch("embedding", vecBytes([]float32{0, 0, 0, 0}), -1, nil)
	if err == nil {
		t.Fatal("expected error for negative topk")
	}
	if errors.GetErrorCode(err) != errors.ErrorCodeInvalidInput {
		t.Fatalf("error code = %v, want INVALID_INPUT", errors.GetErrorCode(err))
	}
}

func TestKnnSearchUnknownColumn(t *testing.T) {
	seg := newSegment(t)
	insert(t, seg, 0, 1, 1, []float32{0, 0, 0, 0}, "a")

	_, err := seg.KnnSearch("nope", vecBytes([]float32{0, 0, 0, 0}), 1, nil)
	if err == nil {
		t.Fatal("expected error for unknown column")
	}
	if errors.GetErrorCode(err) != errors.ErrorCodeUnknownColumn {
		t.Fatalf("error code = %v, want UNKNOWN_COLUMN", errors.GetErrorCode(err))
	}
}

func TestKnnSearchResolvesForwardValuesAndFiltersDeleted(t *testing.T) {
	seg := newSegment(t)
	insert(t, seg, 0, 1, 1, []float32{0, 0, 0, 0}, "origin")
	insert(t, seg, 1, 2, 2, []float32{1, 0, 0, 0}, "near")
	insert(t, seg, 2, 3, 3, []float32{100, 100, 100, 100}, "far")

	if err := seg.MarkDeleted(1); err != nil {
		t.Fatalf("mark deleted: %v", err)
	}

	results, err := seg.KnnSearch("embedding", vecBytes([]float32{0, 0, 0, 0}), 2, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (deleted doc excluded)", len(results))
	}
	if results[0].DocID != 0 || results[0].PrimaryKey != 1 {
		t.Fatalf("nearest result = %+v, want doc 0 pk 1", results[0])
	}
	if string(results[0].ForwardValues[0]) != "origin" {
		t.Fatalf("forward value = %q, want %q", results[0].ForwardValues[0], "origin")
	}
	for _, r := range results {
		if r.DocID == 1 {
			t.Fatalf("deleted doc 1 leaked into results: %+v", results)
		}
	}
}

func TestSealDumpAndReopenProducesIdenticalStats(t *testing.T) {
	base := t.TempDir()
	building := filepath.Join(base, "building")
	final := filepath.Join(base, "0000000001")

	seg, err := New(context.Background(), 1, building, &Config{Schema: testSchema(), Logger: testLogger(t)})
	if err != nil {
		t.Fatalf("new segment: %v", err)
	}
	insert(t, seg, 0, 1, 1, []float32{0, 0, 0, 0}, "a")
	insert(t, seg, 1, 2, 2, []float32{1, 0, 0, 0}, "b")

	if err := seg.Seal(); err != nil {
		t.Fatalf("seal: %v", err)
	}
	if seg.State() != StateDumping {
		t.Fatalf("state after seal = %v, want DUMPING", seg.State())
	}
	if err := seg.Dump(final); err != nil {
		t.Fatalf("dump: %v", err)
	}
	if seg.State() != StatePersist {
		t.Fatalf("state after dump = %v, want PERSIST", seg.State())
	}

	before := seg.GetStats()
	results, err := seg.KnnSearch("embedding", vecBytes([]float32{0, 0, 0, 0}), 2, nil)
	if err != nil {
		t.Fatalf("search after dump: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results after dump, want 2", len(results))
	}
	if before.DocCount != 2 || before.MinDocID != 0 || before.MaxDocID != 1 {
		t.Fatalf("unexpected stats after dump: %+v", before)
	}

	reopened, err := OpenPersist(final, &Config{Schema: testSchema(), Logger: testLogger(t)}, false)
	if err != nil {
		t.Fatalf("open persist: %v", err)
	}
	defer reopened.Close()

	after := reopened.GetStats()
	if after.DocCount != before.DocCount || after.MinDocID != before.MinDocID || after.MaxDocID != before.MaxDocID {
		t.Fatalf("stats after reopen = %+v, want %+v", after, before)
	}

	reopenedResults, err := reopened.KnnSearch("embedding", vecBytes([]float32{0, 0, 0, 0}), 1, nil)
	if err != nil {
		t.Fatalf("search after reopen: %v", err)
	}
	if len(reopenedResults) != 1 || reopenedResults[0].DocID != results[0].DocID {
		t.Fatalf("reopened top-1 = %+v, want doc %d", reopenedResults, results[0].DocID)
	}
}

func TestForEachDocRebuildsPrimaryKeys(t *testing.T) {
	seg := newSegment(t)
	insert(t, seg, 5, 50, 1, []float32{0, 0, 0, 0}, "a")
	insert(t, seg, 6, 60, 2, []float32{1, 0, 0, 0}, "b")
	if err := seg.MarkDeleted(6); err != nil {
		t.Fatalf("mark deleted: %v", err)
	}

	type row struct {
		doc     schema.DocId
		pk      schema.PrimaryKey
		lsn     schema.LSN
		deleted bool
	}
	var got []row
	err := seg.ForEachDoc(func(doc schema.DocId, pk schema.PrimaryKey, lsn schema.LSN, deleted bool) error {
		got = append(got, row{doc, pk, lsn, deleted})
		return nil
	})
	if err != nil {
		t.Fatalf("for each doc: %v", err)
	}
	if len(got) != 2 || got[0].pk != 50 || got[0].deleted || got[1].pk != 60 || !got[1].deleted {
		t.Fatalf("unexpected rows: %+v", got)
	}
}

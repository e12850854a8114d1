package manifest

import (
	"path/filepath"
	"testing"

	"github.com/nilotpal/vortexdb/internal/fsx"
	"github.com/nilotpal/vortexdb/internal/schema"
)

func testSchema() schema.CollectionSchema {
	return schema.CollectionSchema{
		Name:              "widgets",
		Revision:          1,
		MaxDocsPerSegment: 1000,
		ForwardColumns: []schema.ForwardColumn{
			{Name: "title", LogicalType: schema.LogicalTypeBytes},
		},
		IndexColumns: []schema.IndexColumnSpec{
			{Name: "embedding", IndexKind: schema.IndexKindGraph, DataType: schema.DataTypeFP32, Dimension: 4, Metric: schema.MetricL2Squared},
		},
	}
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := &Manifest{
		MagicNumber:   0xdeadbeef,
		NextSegmentID: 3,
		Schema:        testSchema(),
		Segments: []SegmentDescriptor{
			{SegmentID: 0, Dir: "seg-0000000000", MinDocID: 0, MaxDocID: 899, MinLSN: 0, MaxLSN: 899, MinPK: 0, MaxPK: 899},
			{SegmentID: 1, Dir: "seg-0000000001", MinDocID: 900, MaxDocID: 1799, MinLSN: 900, MaxLSN: 1799, MinPK: 900, MaxPK: 1799},
		},
	}
	if err := Write(dir, m); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := Read(dir)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.MagicNumber != m.MagicNumber || got.NextSegmentID != m.NextSegmentID {
		t.Fatalf("got %+v, want magic=%d next=%d", got, m.MagicNumber, m.NextSegmentID)
	}
	if got.Schema.Name != "widgets" || len(got.Schema.IndexColumns) != 1 {
		t.Fatalf("schema not round-tripped: %+v", got.Schema)
	}
	if len(got.Segments) != 2 || got.Segments[1].MaxDocID != 1799 {
		t.Fatalf("segments not round-tripped: %+v", got.Segments)
	}
}

func TestNewMagicNumberDiffersAcrossCalls(t *testing.T) {
	a, err := NewMagicNumber()
	if err != nil {
		t.Fatalf("magic number: %v", err)
	}
	b, err := NewMagicNumber()
	if err != nil {
		t.Fatalf("magic number: %v", err)
	}
	if a == b {
		t.Fatal("expected two independently generated magic numbers to differ")
	}
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	if Exists(dir) {
		t.Fatal("expected no manifest in empty dir")
	}
	if err := Write(dir, &Manifest{Schema: testSchema()}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !Exists(dir) {
		t.Fatal("expected manifest to exist after write")
	}
}

func TestReadRoundTripsCurrentFormatVersion(t *testing.T) {
	dir := t.TempDir()
	if err := Write(dir, &Manifest{Schema: testSchema()}); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := Read(dir)
	if err != nil {
		t.Fatalf("read with matching version: %v", err)
	}
	if got == nil {
		t.Fatal("expected manifest")
	}
}

func TestLockPreventsConcurrentExclusiveAcquire(t *testing.T) {
	dir := t.TempDir()
	if err := Write(dir, &Manifest{Schema: testSchema()}); err != nil {
		t.Fatalf("write: %v", err)
	}

	l1, err := Lock(dir)
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	defer l1.Close()

	l2, err := fsx.NewFileLock(filepath.Join(dir, fileName))
	if err != nil {
		t.Fatalf("second handle: %v", err)
	}
	defer l2.Close()

	ok, err := l2.TryLock(fsx.LockExclusive)
	if err != nil {
		t.Fatalf("try lock: %v", err)
	}
	if ok {
		t.Fatal("expected second exclusive lock attempt to fail while first is held")
	}
}

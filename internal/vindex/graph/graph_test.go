package graph

import (
	"testing"

	"github.com/nilotpal/vortexdb/internal/schema"
)

func testSpec() *schema.IndexColumnSpec {
	return &schema.IndexColumnSpec{
		Name:      "embedding",
		IndexKind: schema.IndexKindGraph,
		DataType:  schema.DataTypeFP32,
		Dimension: 4,
		Metric:    schema.MetricL2Squared,
	}
}

func TestSearchFindsExactNearestAfterSeal(t *testing.T) {
	b := New(testSpec())
	vectors := map[uint32][]float32{
		0: {0, 0, 0, 0},
		1: {1, 0, 0, 0},
		2: {10, 10, 10, 10},
		3: {0.5, 0, 0, 0},
	}
	for doc, v := range vectors {
		if err := b.Add(doc, v); err != nil {
			t.Fatalf("add %d: %v", doc, err)
		}
	}
	if err := b.Seal(); err != nil {
		t.Fatalf("seal: %v", err)
	}

	results, err := b.Search([]float32{0, 0, 0, 0}, 2, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].DocID != 0 {
		t.Fatalf("nearest to origin should be doc 0, got %d", results[0].DocID)
	}
}

func TestSerializeLoadRoundTrip(t *testing.T) {
	b := New(testSpec())
	b.Add(0, []float32{0, 0, 0, 0})
	b.Add(1, []float32{5, 5, 5, 5})
	if err := b.Seal(); err != nil {
		t.Fatalf("seal: %v", err)
	}

	blob, err := b.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	loaded, err := Load(blob, testSpec(), false)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	results, err := loaded.Search([]float32{0, 0, 0, 0}, 1, nil)
	if err != nil {
		t.Fatalf("search after load: %v", err)
	}
	if len(results) != 1 || results[0].DocID != 0 {
		t.Fatalf("unexpected results after load: %+v", results)
	}
}

func TestSearchEmptyTopKReturnsEmpty(t *testing.T) {
	b := New(testSpec())
	b.Add(0, []float32{0, 0, 0, 0})
	if err := b.Seal(); err != nil {
		t.Fatalf("seal: %v", err)
	}
	results, err := b.Search([]float32{0, 0, 0, 0}, 0, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results for topk=0, got %d", len(results))
	}
}

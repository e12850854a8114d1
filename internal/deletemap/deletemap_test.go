package deletemap

import (
	"path/filepath"
	"sync"
	"testing"
)

func TestSetIsIdempotentAndSticky(t *testing.T) {
	m := NewGrowable(100)
	if m.Test(7) {
		t.Fatal("bit 7 should start clear")
	}
	m.Set(7)
	m.Set(7)
	if !m.Test(7) {
		t.Fatal("bit 7 should be set")
	}
	if got := m.Cardinality(); got != 1 {
		t.Fatalf("cardinality = %d, want 1", got)
	}
}

func TestConcurrentSetAcrossGrowth(t *testing.T) {
	m := NewGrowable(4)
	var wg sync.WaitGroup
	for doc := uint32(0); doc < 500_000; doc += 997 {
		doc := doc
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Set(doc)
		}()
	}
	wg.Wait()

	var expect uint32
	for doc := uint32(0); doc < 500_000; doc += 997 {
		if !m.Test(doc) {
			t.Fatalf("doc %d should be set after concurrent Set", doc)
		}
		expect++
	}
	if got := m.Cardinality(); got != expect {
		t.Fatalf("cardinality = %d, want %d", got, expect)
	}
}

func TestPersistThenOpenMmapPreservesCardinality(t *testing.T) {
	m := NewGrowable(1000)
	for _, doc := range []uint32{1, 2, 3, 500, 999} {
		m.Set(doc)
	}
	wantCardinality := m.Cardinality()

	path := filepath.Join(t.TempDir(), "delete.map")
	if err := Persist(m, path); err != nil {
		t.Fatalf("persist: %v", err)
	}

	reopened, err := OpenMmap(path)
	if err != nil {
		t.Fatalf("open_mmap: %v", err)
	}
	defer reopened.Close()

	if got := reopened.Cardinality(); got != wantCardinality {
		t.Fatalf("cardinality after reopen = %d, want %d", got, wantCardinality)
	}
	for _, doc := range []uint32{1, 2, 3, 500, 999} {
		if !reopened.Test(doc) {
			t.Fatalf("doc %d should remain set after reopen", doc)
		}
	}
	if reopened.Test(4) {
		t.Fatal("doc 4 was never set")
	}
}

func TestOpenMmapSetDurableAfterFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "delete.map")
	seed := NewGrowable(128)
	seed.Set(10)
	if err := Persist(seed, path); err != nil {
		t.Fatalf("persist: %v", err)
	}

	m, err := OpenMmap(path)
	if err != nil {
		t.Fatalf("open_mmap: %v", err)
	}
	m.Set(20)
	if err := m.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenMmap(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if !reopened.Test(10) || !reopened.Test(20) {
		t.Fatal("both bits should survive flush + reopen")
	}
}

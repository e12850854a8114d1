package forward

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/nilotpal/vortexdb/internal/fsx"
)

func TestWriterAppendAndReadVisible(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "building")
	w, err := NewWriter(dir, 10)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	defer w.Close()

	payloads := [][]byte{[]byte("alpha"), []byte("beta"), []byte("gamma")}
	for i, p := range payloads {
		if err := w.Append(uint32(10+i), p); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	if got := w.VisibleLen(); got != 3 {
		t.Fatalf("visible len = %d, want 3", got)
	}

	for i, want := range payloads {
		got, err := w.ReadAt(uint32(10 + i))
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("doc %d: got %q, want %q", i, got, want)
		}
	}
}

func TestWriterReadAtNotYetVisible(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "building")
	w, err := NewWriter(dir, 0)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	defer w.Close()

	if _, err := w.ReadAt(5); err == nil {
		t.Fatal("expected not-yet-visible error for doc beyond visible length")
	}
}

func TestSealThenReopenAsReader(t *testing.T) {
	base := t.TempDir()
	building := filepath.Join(base, "building")
	final := filepath.Join(base, "0000000001")

	w, err := NewWriter(building, 100)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	payloads := [][]byte{[]byte("one"), []byte(""), []byte("three")}
	for i, p := range payloads {
		if err := w.Append(uint32(100+i), p); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if err := w.Seal(); err != nil {
		t.Fatalf("seal: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	if err := fsx.AtomicRename(building, final); err != nil {
		t.Fatalf("rename: %v", err)
	}

	r, err := OpenReader(final, 100, fsx.MapOptions{})
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	defer r.Close()

	for i, want := range payloads {
		got, err := r.ReadAt(uint32(100 + i))
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("doc %d: got %q, want %q", i, got, want)
		}
	}
}

// Package deletemap implements a segment's tombstone bitset (C3): one bit
// per doc-id, set atomically and never cleared (spec §4.3). A growing
// WRITING-segment bitmap is heap-backed and grown in 64K-bit buckets; a
// sealed PERSIST-segment bitmap is memory-mapped read-write over a file
// produced by internal/fsx, mirroring how jpl-au-folio's bloom filter
// (bloom.go) keeps a word-sliced []uint64 under atomic access.
package deletemap

import (
	"encoding/binary"
	"math/bits"
	"os"
	"sync"
	"sync/atomic"

	"github.com/nilotpal/vortexdb/internal/fsx"
	"github.com/nilotpal/vortexdb/pkg/errors"
)

const bucketBits = 64 * 1024 // grow the heap-backed map in 64K-bit buckets
const bucketWords = bucketBits / 64

// Map is a dense tombstone bitset over a contiguous doc-id range. Individual
// bit sets are lock-free (word-level atomic OR, per spec §4.3); mu only
// guards the rare event of growing the backing slice, so readers never
// block behind a writer setting a bit.
// The zero value is not usable; construct via NewGrowable or OpenMmap.
type Map struct {
	mu    sync.RWMutex
	words []uint64 // replaced wholesale on growth; elements mutated via atomic OR

	mapping *fsx.Mapping // non-nil once backed by a PERSIST-state mmap
	file    *os.File
}

// NewGrowable returns an empty, heap-backed Map sized to hold at least
// initialDocs bits, used for a segment's WRITING-state delete map.
func NewGrowable(initialDocs uint32) *Map {
	words := neededWords(initialDocs)
	if words < bucketWords {
		words = bucketWords
	}
	return &Map{words: make([]uint64, words)}
}

func neededWords(docs uint32) int {
	return (int(docs) + 63) / 64
}

// snapshot returns the current backing slice, growing it first if doc's
// word isn't yet addressable.
func (m *Map) snapshot(doc uint32) []uint64 {
	m.mu.RLock()
	words := m.words
	m.mu.RUnlock()

	wantWords := neededWords(doc + 1)
	if wantWords <= len(words) {
		return words
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if wantWords <= len(m.words) {
		return m.words
	}
	// Grow in whole 64K-bit buckets, never by the exact deficit, so growth
	// frequency is bounded regardless of how doc-ids arrive.
	newWords := len(m.words)
	for newWords < wantWords {
		newWords += bucketWords
	}
	grown := make([]uint64, newWords)
	copy(grown, m.words)
	m.words = grown
	return m.words
}

// readOnly returns the current backing slice without growing it.
func (m *Map) readOnly() []uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.words
}

// Test reports whether doc's bit is set.
func (m *Map) Test(doc uint32) bool {
	words := m.readOnly()
	idx := int(doc / 64)
	if idx >= len(words) {
		return false
	}
	word := atomic.LoadUint64(&words[idx])
	return word&(uint64(1)<<(doc%64)) != 0
}

// Set marks doc deleted. Idempotent and safe under concurrent callers
// (spec §4.3: "concurrent sets must be safe" — implemented as a CAS loop
// performing a word-level atomic OR).
func (m *Map) Set(doc uint32) {
	m.snapshot(doc)
	// Hold the read lock across the CAS so a concurrent grow cannot copy
	// the old slice away between our load and our store.
	m.mu.RLock()
	defer m.mu.RUnlock()
	words := m.words
	idx := int(doc / 64)
	mask := uint64(1) << (doc % 64)
	for {
		old := atomic.LoadUint64(&words[idx])
		if old&mask != 0 {
			return // already set
		}
		if atomic.CompareAndSwapUint64(&words[idx], old, old|mask) {
			return
		}
	}
}

// Cardinality returns the number of set bits.
func (m *Map) Cardinality() uint32 {
	words := m.readOnly()
	var total uint32
	for i := range words {
		total += uint32(bits.OnesCount64(atomic.LoadUint64(&words[i])))
	}
	return total
}

// Len returns the number of addressable doc-ids (len(words) * 64).
func (m *Map) Len() uint32 {
	return uint32(len(m.readOnly()) * 64)
}

// Persist writes the bitset to path via a sized file and atomic rename,
// the WRITING-to-PERSIST handoff of spec §4.3's persist(path).
func Persist(m *Map, path string) error {
	words := m.readOnly()
	buf := make([]byte, len(words)*8)
	for i := range words {
		binary.LittleEndian.PutUint64(buf[i*8:], atomic.LoadUint64(&words[i]))
	}

	tmp := path + ".tmp"
	f, err := fsx.CreateSized(tmp, int64(len(buf)), 0644)
	if err != nil {
		return err
	}
	if err := fsx.WriteAt(f, buf, 0); err != nil {
		f.Close()
		return err
	}
	if err := fsx.Fsync(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "close delete map temp file").WithPath(tmp)
	}
	return fsx.AtomicRename(tmp, path)
}

// OpenMmap opens a persisted delete map file for read-write access over an
// mmap (spec §4.3's open_mmap). Bit sets after this call become durable
// once Flush is called.
func OpenMmap(path string) (*Map, error) {
	f, err := fsx.OpenRW(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "stat delete map file").WithPath(path)
	}
	size := info.Size()
	if size == 0 || size%8 != 0 {
		f.Close()
		return nil, errors.NewStorageError(nil, errors.ErrorCodeSegmentCorrupted, "delete map file size not word-aligned").
			WithPath(path).WithDetail("size", size)
	}

	mapping, err := fsx.Map(f, 0, int(size), fsx.MapOptions{Writable: true})
	if err != nil {
		f.Close()
		return nil, err
	}

	data := mapping.Bytes()
	words := make([]uint64, size/8)
	// words aliases the mapped bytes via unsafe-free reinterpretation: we
	// decode once into a Go-native []uint64 and re-encode on Flush, trading
	// a copy for never needing an unsafe cast of the mmap region.
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(data[i*8:])
	}

	return &Map{words: words, mapping: mapping, file: f}, nil
}

// Flush re-encodes the in-memory words into the mapped region and msyncs
// it, making any Set calls since the last Flush durable.
func (m *Map) Flush() error {
	if m.mapping == nil {
		return nil
	}
	data := m.mapping.Bytes()
	for i, w := range m.words {
		binary.LittleEndian.PutUint64(data[i*8:], atomic.LoadUint64(&m.words[i]))
		_ = w
	}
	return m.mapping.Sync()
}

// Close releases the mmap and closes the backing file, if any.
func (m *Map) Close() error {
	if m.mapping == nil {
		return nil
	}
	if err := m.Flush(); err != nil {
		return err
	}
	if err := m.mapping.Unmap(); err != nil {
		return err
	}
	return m.file.Close()
}

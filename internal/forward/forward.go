// Package forward implements a segment's forward-attribute store (C4):
// an append-only data file plus an offset index, one offset per assigned
// doc-id (spec §4.4). While a segment is WRITING, both files live under a
// building/ directory and are accessed through an os.File; once sealed and
// dumped, they are reopened memory-mapped read-only via internal/fsx,
// mirroring the same building/-then-rename durability handoff
// internal/deletemap uses for its bitset file.
package forward

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/nilotpal/vortexdb/internal/fsx"
	"github.com/nilotpal/vortexdb/pkg/errors"
)

const (
	dataFileName = "fwd.data"
	idxFileName  = "fwd.idx"
)

// Writer is the WRITING-state forward store: a single ingest goroutine
// appends payloads; readers consult VisibleLen to avoid racing ahead of a
// half-written offset entry (spec §4.4 concurrency: "readers beyond visible
// length return not yet visible").
type Writer struct {
	mu      sync.Mutex // serializes Append against concurrent Seal
	dir     string
	minDoc  uint32
	dataF   *os.File
	idxF    *os.File
	dataLen int64
	// visible is the count of doc-ids whose offset entry is fully written
	// and safe to read; published with a Store after the idx write so a
	// concurrent reader's Load (Acquire-equivalent in Go's happens-before
	// model) never observes a torn offset.
	visible atomic.Uint32
}

// NewWriter creates (or reuses) buildDir and opens fwd.data/fwd.idx inside
// it for append, for a segment whose first assigned doc-id is minDoc.
func NewWriter(buildDir string, minDoc uint32) (*Writer, error) {
	if err := fsx.MkdirAll(buildDir, 0755); err != nil {
		return nil, err
	}
	// Deliberately not O_APPEND: on Linux, O_APPEND forces every WriteAt to
	// ignore its offset argument and append instead, which would make the
	// explicit idx-slot addressing below unreliable. Append position is
	// tracked in dataLen/idxSlot and written via WriteAt instead.
	dataPath := filepath.Join(buildDir, dataFileName)
	dataF, err := os.OpenFile(dataPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.ClassifyFileOpenError(err, dataPath, dataFileName)
	}
	idxPath := filepath.Join(buildDir, idxFileName)
	idxF, err := os.OpenFile(idxPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		dataF.Close()
		return nil, errors.ClassifyFileOpenError(err, idxPath, idxFileName)
	}
	info, err := dataF.Stat()
	if err != nil {
		dataF.Close()
		idxF.Close()
		return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "stat forward data file").WithPath(buildDir)
	}
	return &Writer{dir: buildDir, minDoc: minDoc, dataF: dataF, idxF: idxF, dataLen: info.Size()}, nil
}

// Append records payload as doc's forward value. doc must equal
// minDoc + (number of prior appends) — doc-ids are assigned densely and in
// order by the segment that owns this store.
func (w *Writer) Append(doc uint32, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	offset := w.dataLen
	if len(payload) > 0 {
		if err := fsx.WriteAt(w.dataF, payload, offset); err != nil {
			return err
		}
		w.dataLen += int64(len(payload))
	}

	var off8 [8]byte
	binary.LittleEndian.PutUint64(off8[:], uint64(offset))
	idxSlot := int64(doc-w.minDoc) * 8
	if err := fsx.WriteAt(w.idxF, off8[:], idxSlot); err != nil {
		return err
	}

	w.visible.Store(doc - w.minDoc + 1)
	return nil
}

// VisibleLen returns how many contiguous doc-ids (from minDoc) have a
// durable, readable offset entry.
func (w *Writer) VisibleLen() uint32 {
	return w.visible.Load()
}

// ReadAt returns the payload for doc, reading through the still-open
// WRITING-state files. Returns a NotFound StorageError if doc is beyond
// VisibleLen.
func (w *Writer) ReadAt(doc uint32) ([]byte, error) {
	rel := doc - w.minDoc
	if rel >= w.visible.Load() {
		return nil, errors.NewStorageError(nil, errors.ErrorCodeNotFound, "forward value not yet visible").
			WithDetail("doc_id", doc)
	}

	var offBuf, nextBuf [8]byte
	if err := fsx.ReadAt(w.idxF, offBuf[:], int64(rel)*8); err != nil {
		return nil, err
	}
	start := int64(binary.LittleEndian.Uint64(offBuf[:]))

	w.mu.Lock()
	dataLen := w.dataLen
	w.mu.Unlock()

	end := dataLen
	if rel+1 < w.visible.Load() {
		if err := fsx.ReadAt(w.idxF, nextBuf[:], int64(rel+1)*8); err == nil {
			end = int64(binary.LittleEndian.Uint64(nextBuf[:]))
		}
	}

	if end <= start {
		return []byte{}, nil
	}
	buf := make([]byte, end-start)
	if err := fsx.ReadAt(w.dataF, buf, start); err != nil {
		return nil, err
	}
	return buf, nil
}

// Seal fsyncs both files. It does not rename anything: the segment owns
// directory promotion, since a segment's build directory holds the delete
// map and vector index too.
func (w *Writer) Seal() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := fsx.Fsync(w.dataF); err != nil {
		return err
	}
	return fsx.Fsync(w.idxF)
}

// Close closes the underlying file handles.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	err1 := w.dataF.Close()
	err2 := w.idxF.Close()
	if err1 != nil {
		return errors.NewStorageError(err1, errors.ErrorCodeIO, "close forward data file").WithPath(w.dir)
	}
	if err2 != nil {
		return errors.NewStorageError(err2, errors.ErrorCodeIO, "close forward index file").WithPath(w.dir)
	}
	return nil
}

// Reader is the PERSIST-state forward store: both files memory-mapped
// read-only, reads are pointer arithmetic into the mapping (spec §4.4).
type Reader struct {
	minDoc  uint32
	docs    uint32
	dataMap *fsx.Mapping
	idxMap  *fsx.Mapping
	dataF   *os.File
	idxF    *os.File
}

// OpenReader mmaps the fwd.data/fwd.idx files under dir for read-only access.
func OpenReader(dir string, minDoc uint32, opts fsx.MapOptions) (*Reader, error) {
	opts.Writable = false

	dataF, err := fsx.OpenRO(filepath.Join(dir, dataFileName))
	if err != nil {
		return nil, err
	}
	idxF, err := fsx.OpenRO(filepath.Join(dir, idxFileName))
	if err != nil {
		dataF.Close()
		return nil, err
	}

	dataInfo, err := dataF.Stat()
	if err != nil {
		dataF.Close()
		idxF.Close()
		return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "stat forward data file").WithPath(dir)
	}
	idxInfo, err := idxF.Stat()
	if err != nil {
		dataF.Close()
		idxF.Close()
		return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "stat forward index file").WithPath(dir)
	}
	if idxInfo.Size()%8 != 0 {
		dataF.Close()
		idxF.Close()
		return nil, errors.NewStorageError(nil, errors.ErrorCodeSegmentCorrupted, "forward index file size not word-aligned").
			WithPath(dir).WithDetail("size", idxInfo.Size())
	}
	docs := uint32(idxInfo.Size() / 8)

	var dataMap, idxMap *fsx.Mapping
	if dataInfo.Size() > 0 {
		dataMap, err = fsx.Map(dataF, 0, int(dataInfo.Size()), opts)
		if err != nil {
			dataF.Close()
			idxF.Close()
			return nil, err
		}
	}
	if idxInfo.Size() > 0 {
		idxMap, err = fsx.Map(idxF, 0, int(idxInfo.Size()), opts)
		if err != nil {
			if dataMap != nil {
				dataMap.Unmap()
			}
			dataF.Close()
			idxF.Close()
			return nil, err
		}
		if opts.Populate {
			idxMap.Warmup()
		}
	}
	if opts.Populate && dataMap != nil {
		dataMap.Warmup()
	}

	return &Reader{minDoc: minDoc, docs: docs, dataMap: dataMap, idxMap: idxMap, dataF: dataF, idxF: idxF}, nil
}

// ReadAt returns the forward payload for doc. Named to match Writer.ReadAt
// so callers can hold either behind a single interface.
func (r *Reader) ReadAt(doc uint32) ([]byte, error) {
	rel := doc - r.minDoc
	if rel >= r.docs {
		return nil, errors.NewStorageError(nil, errors.ErrorCodeNotFound, "doc id out of forward store range").
			WithDetail("doc_id", doc)
	}

	idx := r.idxMap.Bytes()
	start := int64(binary.LittleEndian.Uint64(idx[rel*8:]))

	var end int64
	if rel+1 < r.docs {
		end = int64(binary.LittleEndian.Uint64(idx[(rel+1)*8:]))
	} else if r.dataMap != nil {
		end = int64(len(r.dataMap.Bytes()))
	}

	if end <= start {
		return []byte{}, nil
	}
	return r.dataMap.Bytes()[start:end], nil
}

// Close releases both mappings and closes the underlying file handles.
func (r *Reader) Close() error {
	if r.dataMap != nil {
		if err := r.dataMap.Unmap(); err != nil {
			return err
		}
	}
	if r.idxMap != nil {
		if err := r.idxMap.Unmap(); err != nil {
			return err
		}
	}
	if err := r.dataF.Close(); err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "close forward data file")
	}
	return r.idxF.Close()
}

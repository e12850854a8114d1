package segment

import (
	"encoding/binary"

	"github.com/nilotpal/vortexdb/internal/schema"
	"github.com/nilotpal/vortexdb/pkg/errors"
)

// Operation identifies the write kind a Row carries (spec §4.6 write_row).
type Operation uint8

const (
	OpInsert Operation = iota
	OpUpdate
	OpDelete
)

// Row is one write_row call's payload, scoped to the INSERT path a segment
// performs directly; UPDATE/DELETE resolution across segments is
// internal/collection's job (spec §4.6/§4.8).
type Row struct {
	PrimaryKey    schema.PrimaryKey
	LSN           schema.LSN
	ForwardValues [][]byte          // aligned to schema.ForwardColumns
	IndexValues   map[string][]byte // column name -> raw vector bytes
}

// packRow frames (primary_key, lsn, forward_values...) into the single
// opaque payload the forward store persists per doc-id (spec §4.4's
// ForwardRecord is "variable-length binary payload per doc-id" — this
// repository folds the PK and LSN into that payload so a segment never
// needs a separate doc_id → (pk, lsn) side table).
func packRow(pk schema.PrimaryKey, lsn schema.LSN, forwardValues [][]byte) []byte {
	size := 8 + 8 + 4
	for _, v := range forwardValues {
		size += 4 + len(v)
	}
	buf := make([]byte, size)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(pk))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(lsn))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(len(forwardValues)))

	off := 20
	for _, v := range forwardValues {
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(v)))
		off += 4
		copy(buf[off:], v)
		off += len(v)
	}
	return buf
}

// unpackRow reverses packRow.
func unpackRow(buf []byte) (pk schema.PrimaryKey, lsn schema.LSN, forwardValues [][]byte, err error) {
	if len(buf) < 20 {
		return 0, 0, nil, errors.NewStorageError(nil, errors.ErrorCodeSegmentCorrupted, "forward row payload truncated")
	}
	pk = schema.PrimaryKey(binary.LittleEndian.Uint64(buf[0:8]))
	lsn = schema.LSN(binary.LittleEndian.Uint64(buf[8:16]))
	count := binary.LittleEndian.Uint32(buf[16:20])

	off := 20
	forwardValues = make([][]byte, count)
	for i := uint32(0); i < count; i++ {
		if off+4 > len(buf) {
			return 0, 0, nil, errors.NewStorageError(nil, errors.ErrorCodeSegmentCorrupted, "forward row payload truncated")
		}
		l := int(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 4
		if off+l > len(buf) {
			return 0, 0, nil, errors.NewStorageError(nil, errors.ErrorCodeSegmentCorrupted, "forward row payload truncated")
		}
		forwardValues[i] = buf[off : off+l]
		off += l
	}
	return pk, lsn, forwardValues, nil
}

// Package manifest implements a collection's manifest file: the schema
// snapshot plus segment index that let a collection be reopened (spec §6's
// on-disk layout, "manifest # codec: C2-block; contents: schema snapshot +
// segment index"). The manifest also carries the format-version
// compatibility check (refuse an unrecognized major version, ignore unknown
// minor additions) and backs the single-writer-per-collection advisory lock.
package manifest

import (
	"crypto/rand"
	"encoding/binary"
	"path/filepath"
	"time"

	goccyjson "github.com/goccy/go-json"
	"golang.org/x/crypto/blake2b"

	"github.com/nilotpal/vortexdb/internal/codec"
	"github.com/nilotpal/vortexdb/internal/fsx"
	"github.com/nilotpal/vortexdb/internal/schema"
	"github.com/nilotpal/vortexdb/pkg/errors"
)

const fileName = "manifest"

// CurrentMajor/CurrentMinor are the format version this build writes.
// A reader refuses any manifest whose major differs; a minor greater than
// CurrentMinor is accepted and its unknown fields are simply ignored by
// the JSON decoder.
const (
	CurrentMajor = 1
	CurrentMinor = 0
)

// SegmentDescriptor is one PERSIST segment's entry in the segment index.
// Only PERSIST segments are recorded; on open, any building/ directory is
// discarded and a fresh, empty WRITING segment is started.
type SegmentDescriptor struct {
	SegmentID uint32 `json:"segmentId"`
	Dir       string `json:"dir"`
	MinDocID  uint32 `json:"minDocId"`
	MaxDocID  uint32 `json:"maxDocId"`
	MinLSN    uint64 `json:"minLsn"`
	MaxLSN    uint64 `json:"maxLsn"`
	MinPK     uint64 `json:"minPk"`
	MaxPK     uint64 `json:"maxPk"`
}

// schemaDoc is the JSON shape of the BlockKindManifestSchema payload.
type schemaDoc struct {
	Major       uint32                  `json:"major"`
	Minor       uint32                  `json:"minor"`
	MagicNumber uint64                  `json:"magicNumber"`
	NextSegment uint32                  `json:"nextSegmentId"`
	Schema      schema.CollectionSchema `json:"schema"`
}

// segmentIndexDoc is the JSON shape of the BlockKindManifestSegmentIndex
// payload.
type segmentIndexDoc struct {
	Segments []SegmentDescriptor `json:"segments"`
}

// Manifest is the decoded contents of a collection's manifest file.
type Manifest struct {
	// MagicNumber is the per-collection epoch generated once at create time
	// (spec §9 open question: default to per-collection epoch, not a
	// per-node start token). Every write batch must present this value.
	MagicNumber uint64
	// NextSegmentID is the per-collection segment-id counter (spec §3's
	// "segment_id: per-collection counter starting at 0").
	NextSegmentID uint32
	Schema        schema.CollectionSchema
	Segments      []SegmentDescriptor
}

// Write encodes m as two codec blocks (schema, then segment index) and
// durably writes them to <dir>/manifest via the same
// create-sized/write/fsync/atomic-rename handoff every other component
// uses.
func Write(dir string, m *Manifest) error {
	schemaPayload, err := goccyjson.Marshal(schemaDoc{
		Major:       CurrentMajor,
		Minor:       CurrentMinor,
		MagicNumber: m.MagicNumber,
		NextSegment: m.NextSegmentID,
		Schema:      m.Schema,
	})
	if err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeInternal, "marshal manifest schema block")
	}
	indexPayload, err := goccyjson.Marshal(segmentIndexDoc{Segments: m.Segments})
	if err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeInternal, "marshal manifest segment index block")
	}

	var buf []byte
	buf = append(buf, codec.EncodeBlock(codec.BlockKindManifestSchema, schemaPayload, true)...)
	buf = append(buf, codec.EncodeBlock(codec.BlockKindManifestSegmentIndex, indexPayload, true)...)

	path := filepath.Join(dir, fileName)
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
		return errors.NewStorageError(err, errors.ErrorCodeIO, "close manifest tmp file").WithPath(tmp)
	}
	if err := fsx.AtomicRename(tmp, path); err != nil {
		return err
	}
	return fsx.FsyncDir(dir)
}

// Read decodes <dir>/manifest, rejecting an unrecognized major format
// version (spec §6: "Readers MUST refuse to open a manifest whose major
// version they do not recognize").
func Read(dir string) (*Manifest, error) {
	path := filepath.Join(dir, fileName)
	f, err := fsx.OpenRO(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "stat manifest").WithPath(path)
	}
	buf := make([]byte, info.Size())
	if err := fsx.ReadAt(f, buf, 0); err != nil {
		return nil, err
	}

	blocks, err := codec.ScanBlocks(buf)
	if err != nil {
		return nil, err
	}

	m := &Manifest{}
	var sawSchema bool
	for _, blk := range blocks {
		switch blk.Kind {
		case codec.BlockKindManifestSchema:
			var doc schemaDoc
			if err := goccyjson.Unmarshal(blk.Payload, &doc); err != nil {
				return nil, errors.NewStorageError(err, errors.ErrorCodeSegmentCorrupted, "decode manifest schema block").WithPath(path)
			}
			if doc.Major != CurrentMajor {
				return nil, errors.NewStorageError(nil, errors.ErrorCodeIncompatibleFormat, "manifest major version not recognized").
					WithDetail("found", doc.Major).WithDetail("expected", CurrentMajor).WithPath(path)
			}
			m.MagicNumber = doc.MagicNumber
			m.NextSegmentID = doc.NextSegment
			m.Schema = doc.Schema
			sawSchema = true

		case codec.BlockKindManifestSegmentIndex:
			var doc segmentIndexDoc
			if err := goccyjson.Unmarshal(blk.Payload, &doc); err != nil {
				return nil, errors.NewStorageError(err, errors.ErrorCodeSegmentCorrupted, "decode manifest segment index block").WithPath(path)
			}
			m.Segments = doc.Segments
		}
	}
	if !sawSchema {
		return nil, errors.NewStorageError(nil, errors.ErrorCodeSegmentCorrupted, "manifest missing schema block").WithPath(path)
	}
	return m, nil
}

// Exists reports whether a manifest already exists under dir.
func Exists(dir string) bool {
	return fsx.Exists(filepath.Join(dir, fileName))
}

// NewMagicNumber derives a fresh per-collection epoch token (spec §9 open
// question: "default to per-collection epoch generated at create time").
// 24 random bytes plus the creation timestamp are hashed with blake2b and
// folded down to 64 bits; blake2b is used here rather than a second
// invocation of the CRC32C already used for block integrity, since this
// value identifies a collection's creation instant rather than framing a
// byte range.
func NewMagicNumber() (uint64, error) {
	seed := make([]byte, 24)
	if _, err := rand.Read(seed); err != nil {
		return 0, errors.NewStorageError(err, errors.ErrorCodeInternal, "read random seed for magic number")
	}
	var tsBuf [8]byte
	binary.LittleEndian.PutUint64(tsBuf[:], uint64(time.Now().UnixNano()))

	sum := blake2b.Sum256(append(seed, tsBuf[:]...))
	return binary.LittleEndian.Uint64(sum[:8]), nil
}

// Lock acquires the exclusive advisory lock on <dir>/manifest for the
// lifetime of an open-for-write collection handle (spec §6's "a single
// writer per collection is enforced by an exclusive advisory lock on
// manifest"). It does not block: when another handle already holds the
// lock it fails with ErrorCodeLockConflict.
func Lock(dir string) (*fsx.FileLock, error) {
	lock, err := fsx.NewFileLock(filepath.Join(dir, fileName))
	if err != nil {
		return nil, err
	}
	ok, err := lock.TryLock(fsx.LockExclusive)
	if err != nil {
		lock.Close()
		return nil, err
	}
	if !ok {
		lock.Close()
		return nil, errors.NewStorageError(nil, errors.ErrorCodeLockConflict, "collection manifest is locked by another writer").WithPath(dir)
	}
	return lock, nil
}

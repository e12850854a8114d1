package segment

import (
	"path/filepath"

	goccyjson "github.com/goccy/go-json"

	"github.com/nilotpal/vortexdb/internal/codec"
	"github.com/nilotpal/vortexdb/internal/deletemap"
	"github.com/nilotpal/vortexdb/internal/forward"
	"github.com/nilotpal/vortexdb/internal/fsx"
	"github.com/nilotpal/vortexdb/internal/schema"
	"github.com/nilotpal/vortexdb/internal/vindex"
	"github.com/nilotpal/vortexdb/pkg/errors"
)

const metaFileName = "segment.meta"

// metaDoc is the JSON shape of a dumped segment's segment.meta file: the
// doc-id/LSN/PK ranges and index file list spec §3 requires a segment to
// durably carry (everything else — doc_count, delete_count — is always
// re-derived, never stored, per this repository's anti-staleness policy).
type metaDoc struct {
	SegmentID  uint32          `json:"segmentId"`
	MinDocID   uint32          `json:"minDocId"`
	MaxDocID   uint32          `json:"maxDocId"`
	MinLSN     uint64          `json:"minLsn"`
	MaxLSN     uint64          `json:"maxLsn"`
	MinPK      uint64          `json:"minPk"`
	MaxPK      uint64          `json:"maxPk"`
	IndexFiles []IndexFileInfo `json:"indexFiles"`
}

func (s *Segment) writeMeta(buildDir string, minDocID uint32, indexFiles []IndexFileInfo) error {
	doc := metaDoc{
		SegmentID:  s.id,
		MinDocID:   minDocID,
		MaxDocID:   s.maxDocID,
		MinLSN:     s.minLSN,
		MaxLSN:     s.maxLSN,
		MinPK:      s.minPK,
		MaxPK:      s.maxPK,
		IndexFiles: indexFiles,
	}
	payload, err := goccyjson.Marshal(doc)
	if err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeInternal, "marshal segment meta")
	}
	block := codec.EncodeBlock(codec.BlockKindSegmentMeta, payload, false)

	path := filepath.Join(buildDir, metaFileName)
	f, err := fsx.CreateSized(path, int64(len(block)), 0644)
	if err != nil {
		return err
	}
	if err := fsx.WriteAt(f, block, 0); err != nil {
		f.Close()
		return err
	}
	if err := fsx.Fsync(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "close segment meta file").WithPath(path)
	}
	return nil
}

func readMeta(dir string) (*metaDoc, error) {
	path := filepath.Join(dir, metaFileName)
	f, err := fsx.OpenRO(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "stat segment meta").WithPath(path)
	}
	buf := make([]byte, info.Size())
	if err := fsx.ReadAt(f, buf, 0); err != nil {
		return nil, err
	}
	blk, _, err := codec.DecodeBlock(buf)
	if err != nil {
		return nil, err
	}
	var doc metaDoc
	if err := goccyjson.Unmarshal(blk.Payload, &doc); err != nil {
		return nil, errors.NewStorageError(err, errors.ErrorCodeSegmentCorrupted, "decode segment meta").WithPath(path)
	}
	return &doc, nil
}

// OpenPersist reopens a previously dumped segment directory in PERSIST
// state, for a collection's crash-safe reload (spec §4.8's open()).
func OpenPersist(finalDir string, cfg *Config, useMmap bool) (*Segment, error) {
	if cfg == nil || cfg.Schema == nil || cfg.Logger == nil {
		return nil, errors.NewValidationError(nil, errors.ErrorCodeInvalidInput, "segment config requires schema and logger")
	}
	meta, err := readMeta(finalDir)
	if err != nil {
		return nil, err
	}

	forwardR, err := forward.OpenReader(finalDir, meta.MinDocID, fsx.MapOptions{Populate: useMmap})
	if err != nil {
		return nil, err
	}

	dm, err := deletemap.OpenMmap(filepath.Join(finalDir, "delete.map"))
	if err != nil {
		forwardR.Close()
		return nil, err
	}

	indexes := make(map[string]vindex.Adapter, len(cfg.Schema.IndexColumns))
	for i := range cfg.Schema.IndexColumns {
		spec := &cfg.Schema.IndexColumns[i]
		path := filepath.Join(finalDir, "col-"+spec.Name+".idx")

		f, err := fsx.OpenRO(path)
		if err != nil {
			forwardR.Close()
			dm.Close()
			return nil, err
		}
		info, statErr := f.Stat()
		if statErr != nil {
			f.Close()
			forwardR.Close()
			dm.Close()
			return nil, errors.NewStorageError(statErr, errors.ErrorCodeIO, "stat index file").WithPath(path)
		}
		buf := make([]byte, info.Size())
		readErr := fsx.ReadAt(f, buf, 0)
		f.Close()
		if readErr != nil {
			forwardR.Close()
			dm.Close()
			return nil, readErr
		}

		blk, _, err := codec.DecodeBlock(buf)
		if err != nil {
			forwardR.Close()
			dm.Close()
			return nil, err
		}
		adapter, err := vindex.LoadAdapter(blk.Payload, spec, useMmap)
		if err != nil {
			forwardR.Close()
			dm.Close()
			return nil, err
		}
		indexes[spec.Name] = adapter
	}

	return &Segment{
		id:         meta.SegmentID,
		schema:     cfg.Schema,
		log:        cfg.Logger,
		finalDir:   finalDir,
		state:      StatePersist,
		hasDocs:    true,
		minDocID:   meta.MinDocID,
		maxDocID:   meta.MaxDocID,
		minLSN:     meta.MinLSN,
		maxLSN:     meta.MaxLSN,
		minPK:      meta.MinPK,
		maxPK:      meta.MaxPK,
		deleteMap:  dm,
		forwardR:   forwardR,
		indexes:    indexes,
		indexFiles: meta.IndexFiles,
	}, nil
}

// ForEachDoc walks every doc-id this segment owns in order, resolving its
// primary key, write LSN, and delete status from the forward store and
// delete map. A collection uses this to rebuild its PK→DocId map when
// reopening (spec §4.8: "replays ... to rebuild PK→doc_id").
func (s *Segment) ForEachDoc(fn func(docID schema.DocId, pk schema.PrimaryKey, lsn schema.LSN, deleted bool) error) error {
	s.mu.RLock()
	if !s.hasDocs {
		s.mu.RUnlock()
		return nil
	}
	min, max := s.minDocID, s.maxDocID
	fwd := s.currentForwardStoreLocked()
	dm := s.deleteMap
	s.mu.RUnlock()

	for d := min; d <= max; d++ {
		payload, err := fwd.ReadAt(d)
		if err != nil {
			return err
		}
		pk, lsn, _, err := unpackRow(payload)
		if err != nil {
			return err
		}
		if err := fn(schema.DocId(d), pk, lsn, dm.Test(d-min)); err != nil {
			return err
		}
	}
	return nil
}

// Package lsnlog implements the LSN log (C7): an ordered, append-only
// record of (lsn, opaque_context) pairs that lets an external ingester
// resume after a restart (spec §4.7). Every record is framed as a
// codec.BlockKindLSNRecord block; a checkpoint block repeating the latest
// entry is appended after every segment flush and on close. Recovery
// tail-scans the file, treats record and checkpoint blocks alike, and the
// highest complete entry wins, mirroring the teacher's append-log replay in
// internal/storage (single writer, crash-safe via fsync-before-ack).
package lsnlog

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/nilotpal/vortexdb/internal/codec"
	"github.com/nilotpal/vortexdb/internal/fsx"
	"github.com/nilotpal/vortexdb/pkg/errors"
)

const fileName = "lsn.log"

// Entry is one (lsn, context) pair.
type Entry struct {
	LSN     uint64
	Context []byte
}

// Log is the append-only LSN log for one collection. A single writer is
// assumed (enforced one level up by the manifest's advisory file lock);
// Append and Latest may still be called concurrently with readers.
type Log struct {
	mu     sync.Mutex
	path   string
	f      *os.File
	offset int64

	latestMu sync.RWMutex
	latest   Entry
	hasAny   bool

	log *zap.SugaredLogger
}

func encodeEntry(lsn uint64, context []byte) []byte {
	buf := make([]byte, 8+len(context))
	binary.LittleEndian.PutUint64(buf[0:8], lsn)
	copy(buf[8:], context)
	return buf
}

func decodeEntry(payload []byte) (Entry, error) {
	if len(payload) < 8 {
		return Entry{}, errors.NewStorageError(nil, errors.ErrorCodeSegmentCorrupted, "lsn record payload truncated")
	}
	lsn := binary.LittleEndian.Uint64(payload[0:8])
	context := append([]byte(nil), payload[8:]...)
	return Entry{LSN: lsn, Context: context}, nil
}

// Open opens (creating if absent) the lsn.log file under dir and replays it
// to recover the latest entry.
func Open(dir string, log *zap.SugaredLogger) (*Log, error) {
	if err := fsx.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, fileName)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.ClassifyFileOpenError(err, path, fileName)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "stat lsn log").WithPath(path)
	}

	l := &Log{path: path, f: f, offset: info.Size(), log: log}

	if info.Size() > 0 {
		buf := make([]byte, info.Size())
		if err := fsx.ReadAt(f, buf, 0); err != nil {
			f.Close()
			return nil, err
		}
		if err := l.replay(buf); err != nil {
			f.Close()
			return nil, err
		}
	}

	return l, nil
}

// replay tail-scans buf, keeping the highest-LSN complete record. A
// truncated or corrupt trailing block (a torn write from a crash mid-append)
// is tolerated silently; anything already decoded still counts.
func (l *Log) replay(buf []byte) error {
	blocks, scanErr := codec.ScanBlocks(buf)
	for _, blk := range blocks {
		switch blk.Kind {
		case codec.BlockKindLSNRecord, codec.BlockKindLSNCheckpoint:
			entry, err := decodeEntry(blk.Payload)
			if err != nil {
				continue // tolerate a corrupt individual record during replay
			}
			if !l.hasAny || entry.LSN >= l.latest.LSN {
				l.latest = entry
				l.hasAny = true
			}
		}
	}
	if scanErr != nil && l.log != nil {
		l.log.Warnw("lsn log tail truncated, recovered up to last complete record",
			"path", l.path, "recoveredEntries", len(blocks), "error", scanErr)
	}
	return nil
}

// Append records (lsn, context). Idempotent on replay: setting the same LSN
// again is allowed; an LSN strictly lower than the stored latest is a
// no-op (logged, not an error) per spec §4.7.
func (l *Log) Append(lsn uint64, context []byte) error {
	l.latestMu.RLock()
	if l.hasAny && lsn < l.latest.LSN {
		l.latestMu.RUnlock()
		if l.log != nil {
			l.log.Warnw("lsn log append ignored: lsn below stored latest",
				"lsn", lsn, "latest", l.latest.LSN)
		}
		return nil
	}
	l.latestMu.RUnlock()

	payload := encodeEntry(lsn, context)
	block := codec.EncodeBlock(codec.BlockKindLSNRecord, payload, false)

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := fsx.WriteAt(l.f, block, l.offset); err != nil {
		return err
	}
	l.offset += int64(len(block))
	if err := fsx.Fsync(l.f); err != nil {
		return err
	}

	l.latestMu.Lock()
	l.latest = Entry{LSN: lsn, Context: context}
	l.hasAny = true
	l.latestMu.Unlock()
	return nil
}

// Checkpoint writes a checkpoint record equal to the current latest entry,
// called after a flush so recovery has an unambiguous "last known good"
// marker even if later appends are torn.
func (l *Log) Checkpoint() error {
	l.latestMu.RLock()
	entry, ok := l.latest, l.hasAny
	l.latestMu.RUnlock()
	if !ok {
		return nil
	}

	payload := encodeEntry(entry.LSN, entry.Context)
	block := codec.EncodeBlock(codec.BlockKindLSNCheckpoint, payload, false)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := fsx.WriteAt(l.f, block, l.offset); err != nil {
		return err
	}
	l.offset += int64(len(block))
	return fsx.Fsync(l.f)
}

// Latest returns the highest-LSN entry observed, or ok=false if the log is
// empty.
func (l *Log) Latest() (Entry, bool) {
	l.latestMu.RLock()
	defer l.latestMu.RUnlock()
	return l.latest, l.hasAny
}

// Close fsyncs and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := fsx.Fsync(l.f); err != nil {
		return err
	}
	if err := l.f.Close(); err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "close lsn log").WithPath(l.path)
	}
	return nil
}

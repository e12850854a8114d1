// Package fsx provides the file-system primitives every storage component
// builds on: sized file creation, positioned reads/writes, fsync, and
// crash-safe atomic rename. It replaces the teacher's pkg/filesys — a
// generic directory/file utility belt with no durability story — with the
// narrower set of operations a segment actually needs, each returning the
// typed errors from pkg/errors instead of a bare *os.PathError.
package fsx

import (
	"os"
	"path/filepath"

	"github.com/nilotpal/vortexdb/pkg/errors"
)

// CreateSized creates a new file at path, truncating any existing content,
// and preallocates it to size bytes via Truncate (a sparse allocation on
// most filesystems — actual blocks are materialized on first write).
func CreateSized(path string, size int64, perm os.FileMode) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return nil, errors.ClassifyFileOpenError(err, path, filepath.Base(path))
	}
	if size > 0 {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "preallocate file").WithPath(path)
		}
	}
	return f, nil
}

// OpenRW opens an existing file for reading and writing.
func OpenRW(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.ClassifyFileOpenError(err, path, filepath.Base(path))
	}
	return f, nil
}

// OpenRO opens an existing file for reading only.
func OpenRO(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, errors.ClassifyFileOpenError(err, path, filepath.Base(path))
	}
	return f, nil
}

// WriteAt writes p at the given offset, translating short-write and I/O
// failures into a typed StorageError carrying the offset.
func WriteAt(f *os.File, p []byte, offset int64) error {
	n, err := f.WriteAt(p, offset)
	if err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "write file").
			WithFileName(filepath.Base(f.Name())).WithOffset(int(offset))
	}
	if n != len(p) {
		return errors.NewStorageError(nil, errors.ErrorCodeIO, "short write").
			WithFileName(filepath.Base(f.Name())).WithOffset(int(offset)).
			WithDetail("wanted", len(p)).WithDetail("wrote", n)
	}
	return nil
}

// ReadAt reads exactly len(p) bytes starting at offset.
func ReadAt(f *os.File, p []byte, offset int64) error {
	n, err := f.ReadAt(p, offset)
	if err != nil {
		return errors.NewStorageError(err, errors.ErrorCodePayloadReadFailure, "read file").
			WithFileName(filepath.Base(f.Name())).WithOffset(int(offset))
	}
	if n != len(p) {
		return errors.NewStorageError(nil, errors.ErrorCodePayloadReadFailure, "short read").
			WithFileName(filepath.Base(f.Name())).WithOffset(int(offset)).
			WithDetail("wanted", len(p)).WithDetail("read", n)
	}
	return nil
}

// Fsync flushes f's data and metadata to stable storage.
func Fsync(f *os.File) error {
	if err := f.Sync(); err != nil {
		return errors.ClassifySyncError(err, filepath.Base(f.Name()), f.Name(), 0)
	}
	return nil
}

// FsyncDir fsyncs the directory entry at dir, required after a rename or
// file creation so the new directory entry itself survives a crash.
func FsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return errors.ClassifyFileOpenError(err, dir, filepath.Base(dir))
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return errors.ClassifySyncError(err, filepath.Base(dir), dir, 0)
	}
	return nil
}

// MkdirAll creates dir and any missing parents with perm.
func MkdirAll(dir string, perm os.FileMode) error {
	if err := os.MkdirAll(dir, perm); err != nil {
		return errors.ClassifyDirectoryCreationError(err, dir)
	}
	return nil
}

// RemoveAll removes dir and its contents. Used to discard a collection's
// building/ directory, both a stale one found on Open and the one left at
// Close.
func RemoveAll(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "remove directory").WithPath(dir)
	}
	return nil
}

// Exists reports whether path exists, without distinguishing file from directory.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// AtomicRename promotes oldPath to newPath via os.Rename (atomic on the same
// filesystem on every platform Go supports) and fsyncs the parent directory
// so the rename itself is durable. This is how a segment's
// building/seg-<id> directory is promoted to its final seg-<id> directory
// (spec §4.6).
func AtomicRename(oldPath, newPath string) error {
	if err := os.Rename(oldPath, newPath); err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "atomic rename").
			WithDetail("old", oldPath).WithDetail("new", newPath)
	}
	return FsyncDir(filepath.Dir(newPath))
}

// SameFile reports whether two paths refer to the same underlying inode; a
// path that does not exist yields false. Nothing in the recovery path calls
// it.
func SameFile(a, b string) (bool, error) {
	fa, err := os.Stat(a)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.ClassifyFileOpenError(err, a, filepath.Base(a))
	}
	fb, err := os.Stat(b)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.ClassifyFileOpenError(err, b, filepath.Base(b))
	}
	return os.SameFile(fa, fb), nil
}

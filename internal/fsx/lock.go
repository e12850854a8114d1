//go:build unix || linux || darwin

package fsx

import (
	"os"
	"sync"
	"syscall"

	"github.com/nilotpal/vortexdb/pkg/errors"
)

// LockMode selects shared (read) or exclusive (write) advisory locking.
type LockMode int

const (
	LockShared LockMode = iota
	LockExclusive
)

// FileLock wraps flock(2) with a mutex guarding the handle's lifetime, so a
// concurrent Close cannot race the syscall on the same fd. A collection
// holds one exclusive FileLock on its manifest file for the duration
// it is open, preventing a second process from opening it concurrently
// (spec §6 durable layout).
type FileLock struct {
	mu sync.Mutex
	f  *os.File
}

// NewFileLock opens (creating if absent) the lock file at path and returns
// an unlocked FileLock bound to it. The caller owns closing it via Close.
func NewFileLock(path string) (*FileLock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.ClassifyFileOpenError(err, path, path)
	}
	return &FileLock{f: f}, nil
}

// Lock acquires a shared or exclusive flock, blocking until available.
func (l *FileLock) Lock(mode LockMode) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	op := syscall.LOCK_SH
	if mode == LockExclusive {
		op = syscall.LOCK_EX
	}
	if err := syscall.Flock(int(l.f.Fd()), op); err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeLockConflict, "acquire file lock").WithPath(l.f.Name())
	}
	return nil
}

// TryLock attempts a non-blocking flock, returning (false, nil) instead of
// blocking when the lock is already held elsewhere (ResourceBusy semantics
// for collection.Open against an already-open collection).
func (l *FileLock) TryLock(mode LockMode) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return true, nil
	}
	op := syscall.LOCK_SH | syscall.LOCK_NB
	if mode == LockExclusive {
		op = syscall.LOCK_EX | syscall.LOCK_NB
	}
	err := syscall.Flock(int(l.f.Fd()), op)
	if err == nil {
		return true, nil
	}
	if err == syscall.EWOULDBLOCK {
		return false, nil
	}
	return false, errors.NewStorageError(err, errors.ErrorCodeLockConflict, "acquire file lock").WithPath(l.f.Name())
}

// Unlock releases the flock.
func (l *FileLock) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	if err := syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN); err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeLockConflict, "release file lock").WithPath(l.f.Name())
	}
	return nil
}

// Close unlocks and closes the underlying file handle. Safe to call once;
// subsequent Lock/Unlock calls become no-ops.
func (l *FileLock) Close() error {
	l.mu.Lock()
	f := l.f
	l.f = nil
	l.mu.Unlock()
	if f == nil {
		return nil
	}
	syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	return f.Close()
}

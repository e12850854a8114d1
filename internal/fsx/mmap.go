package fsx

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/nilotpal/vortexdb/pkg/errors"
)

// MapOptions controls how a Mapping is established.
type MapOptions struct {
	// Writable maps the region PROT_READ|PROT_WRITE instead of PROT_READ.
	Writable bool
	// Populate pre-faults pages at mmap time (MAP_POPULATE). segment.OpenPersist
	// sets it from ReadOptions.UseMmap, and forward.OpenReader then also
	// calls Warmup on the mapping.
	Populate bool
	// LockInRAM calls mlock on the mapped region after establishing it, to
	// pin hot PERSIST segment data resident.
	LockInRAM bool
}

// Mapping is a read-only or read-write memory mapping of a file region, the
// residency mode PERSIST segments use for their forward store and delete
// map (spec §4.6); vector indexes are loaded onto the heap instead.
type Mapping struct {
	data []byte
	path string
}

// Map establishes a mapping of length bytes starting at offset in f.
func Map(f *os.File, offset int64, length int, opts MapOptions) (*Mapping, error) {
	prot := unix.PROT_READ
	if opts.Writable {
		prot |= unix.PROT_WRITE
	}
	flags := unix.MAP_SHARED
	if opts.Populate {
		flags |= unix.MAP_POPULATE
	}

	data, err := unix.Mmap(int(f.Fd()), offset, length, prot, flags)
	if err != nil {
		return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "mmap file").WithPath(f.Name())
	}

	if opts.LockInRAM {
		if err := unix.Mlock(data); err != nil {
			unix.Munmap(data)
			return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "mlock mapped region").WithPath(f.Name())
		}
	}

	return &Mapping{data: data, path: f.Name()}, nil
}

// Bytes returns the mapped region. The slice is only valid until Unmap.
func (m *Mapping) Bytes() []byte {
	return m.data
}

// Sync flushes dirty pages of a writable mapping back to the file (msync).
func (m *Mapping) Sync() error {
	if len(m.data) == 0 {
		return nil
	}
	if err := unix.Msync(m.data, unix.MS_SYNC); err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "msync mapped region").WithPath(m.path)
	}
	return nil
}

// Unmap releases the mapping. Safe to call once; a second call is a no-op.
func (m *Mapping) Unmap() error {
	if len(m.data) == 0 {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	if err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "munmap mapped region").WithPath(m.path)
	}
	return nil
}

// Warmup touches every page of the mapping once, forcing residency before
// the caller starts serving queries against it. forward.OpenReader calls it
// when MapOptions.Populate is set.
func (m *Mapping) Warmup() {
	const pageStride = 4096
	var sink byte
	for i := 0; i < len(m.data); i += pageStride {
		sink += m.data[i]
	}
	_ = sink
}

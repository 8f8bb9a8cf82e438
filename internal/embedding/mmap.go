package embedding

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// ErrMmapClosed is returned when reading from a released mapping.
var ErrMmapClosed = errors.New("mmap region is closed")

// mmapRegion is a read-only memory-mapped file.
type mmapRegion struct {
	data   []byte
	file   *os.File
	closed atomic.Bool
}

// mapReadOnly maps the whole file at path for reading.
func mapReadOnly(path string) (*mmapRegion, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("mmap: stat file: %w", err)
	}
	if info.Size() == 0 {
		file.Close()
		return nil, fmt.Errorf("%w: %s is empty", ErrCorrupt, path)
	}

	data, err := unix.Mmap(int(file.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("mmap: map file: %w", err)
	}

	return &mmapRegion{data: data, file: file}, nil
}

// Data returns the mapped bytes, or nil once closed.
func (r *mmapRegion) Data() []byte {
	if r.closed.Load() {
		return nil
	}
	return r.data
}

// Close releases the mapping and the file.
// It is safe to call Close multiple times; subsequent calls are no-ops.
func (r *mmapRegion) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error

	if r.data != nil {
		if err := unix.Munmap(r.data); err != nil {
			errs = append(errs, fmt.Errorf("mmap: munmap: %w", err))
		}
		r.data = nil
	}

	if r.file != nil {
		if err := r.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mmap: close file: %w", err))
		}
		r.file = nil
	}

	return errors.Join(errs...)
}

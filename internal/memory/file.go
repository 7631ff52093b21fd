package memory

import (
	"fmt"
	"sync"

	"github.com/MikhailWahib/stablestore/internal/diskmanager"
)

// FileMemory is a Memory backed by a region file. The file length is always a
// whole number of pages; Grow extends it with Truncate so new pages read as
// zeros.
type FileMemory struct {
	mu         sync.RWMutex
	fh         diskmanager.FileHandle
	pages      uint64
	maxPages   uint64
	syncWrites bool
}

// FileOptions tunes a FileMemory.
type FileOptions struct {
	// MaxPages caps growth; zero means unbounded.
	MaxPages uint64
	// SyncWrites calls Sync on the handle after every write and grow.
	SyncWrites bool
}

// NewFileMemory wraps an open region file. The current size is derived from
// the file length; a trailing partial page is ignored.
func NewFileMemory(fh diskmanager.FileHandle, opts FileOptions) (*FileMemory, error) {
	info, err := fh.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat region file: %w", err)
	}
	return &FileMemory{
		fh:         fh,
		pages:      uint64(info.Size()) / PageSize,
		maxPages:   opts.MaxPages,
		syncWrites: opts.SyncWrites,
	}, nil
}

// Size returns the current size in pages.
func (f *FileMemory) Size() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.pages
}

// Grow extends the region file by the given number of pages.
func (f *FileMemory) Grow(pages uint64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev := f.pages
	if f.maxPages > 0 && prev+pages > f.maxPages {
		return -1, fmt.Errorf("%w: %d + %d pages exceeds limit of %d", ErrGrowFailed, prev, pages, f.maxPages)
	}
	if err := f.fh.Truncate(int64((prev + pages) * PageSize)); err != nil {
		return -1, fmt.Errorf("%w: %v", ErrGrowFailed, err)
	}
	if f.syncWrites {
		if err := f.fh.Sync(); err != nil {
			return -1, fmt.Errorf("%w: sync: %v", ErrGrowFailed, err)
		}
	}
	f.pages = prev + pages
	return int64(prev), nil
}

// ReadAt reads len(p) bytes at off.
func (f *FileMemory) ReadAt(p []byte, off uint64) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if err := checkBounds(off, len(p), f.pages); err != nil {
		return err
	}
	if _, err := f.fh.ReadAt(p, int64(off)); err != nil {
		return fmt.Errorf("failed to read region file at %d: %w", off, err)
	}
	return nil
}

// WriteAt writes p at off.
func (f *FileMemory) WriteAt(p []byte, off uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := checkBounds(off, len(p), f.pages); err != nil {
		return err
	}
	if _, err := f.fh.WriteAt(p, int64(off)); err != nil {
		return fmt.Errorf("failed to write region file at %d: %w", off, err)
	}
	if f.syncWrites {
		return f.fh.Sync()
	}
	return nil
}

// Sync flushes the region file to stable storage.
func (f *FileMemory) Sync() error {
	return f.fh.Sync()
}

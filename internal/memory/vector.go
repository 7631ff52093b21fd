package memory

import (
	"fmt"
	"sync"
)

// VectorMemory is a Memory held entirely in a heap slice. It is used by tests
// and by stores opened in in-memory mode.
type VectorMemory struct {
	mu       sync.RWMutex
	data     []byte
	maxPages uint64
}

// NewVectorMemory returns an empty VectorMemory. A maxPages of zero means
// growth is only bounded by available heap.
func NewVectorMemory(maxPages uint64) *VectorMemory {
	return &VectorMemory{maxPages: maxPages}
}

// Size returns the current size in pages.
func (v *VectorMemory) Size() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return uint64(len(v.data)) / PageSize
}

// Grow extends the slice by the given number of zeroed pages.
func (v *VectorMemory) Grow(pages uint64) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	prev := uint64(len(v.data)) / PageSize
	if v.maxPages > 0 && prev+pages > v.maxPages {
		return -1, fmt.Errorf("%w: %d + %d pages exceeds limit of %d", ErrGrowFailed, prev, pages, v.maxPages)
	}
	grown := make([]byte, (prev+pages)*PageSize)
	copy(grown, v.data)
	v.data = grown
	return int64(prev), nil
}

// ReadAt copies len(p) bytes at off into p.
func (v *VectorMemory) ReadAt(p []byte, off uint64) error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if err := checkBounds(off, len(p), uint64(len(v.data))/PageSize); err != nil {
		return err
	}
	copy(p, v.data[off:])
	return nil
}

// WriteAt copies p into the slice at off.
func (v *VectorMemory) WriteAt(p []byte, off uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := checkBounds(off, len(p), uint64(len(v.data))/PageSize); err != nil {
		return err
	}
	copy(v.data[off:], p)
	return nil
}

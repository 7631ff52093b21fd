package memorymanager

import "github.com/MikhailWahib/stablestore/internal/memory"

// VirtualMemory is one partition of a MemoryManager. It implements
// memory.Memory with addresses starting at zero.
type VirtualMemory struct {
	id      MemoryID
	manager *MemoryManager
}

var _ memory.Memory = (*VirtualMemory)(nil)

// ID returns the partition id.
func (v *VirtualMemory) ID() MemoryID { return v.id }

// Size returns the size of the partition in pages.
func (v *VirtualMemory) Size() uint64 { return v.manager.size(v.id) }

// Grow extends the partition, allocating buckets as needed.
func (v *VirtualMemory) Grow(pages uint64) (int64, error) { return v.manager.grow(v.id, pages) }

// ReadAt reads len(p) bytes at the virtual offset off.
func (v *VirtualMemory) ReadAt(p []byte, off uint64) error {
	v.manager.mu.RLock()
	defer v.manager.mu.RUnlock()

	return v.manager.forEachChunk(v.id, off, len(p), func(lo, hi int, addr uint64) error {
		return v.manager.mem.ReadAt(p[lo:hi], addr)
	})
}

// WriteAt writes p at the virtual offset off.
func (v *VirtualMemory) WriteAt(p []byte, off uint64) error {
	v.manager.mu.RLock()
	defer v.manager.mu.RUnlock()

	return v.manager.forEachChunk(v.id, off, len(p), func(lo, hi int, addr uint64) error {
		return v.manager.mem.WriteAt(p[lo:hi], addr)
	})
}

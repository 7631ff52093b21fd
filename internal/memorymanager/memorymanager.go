// Package memorymanager carves one memory.Memory into up to 255 virtual
// memories that grow independently of each other.
//
// The underlying memory is split into fixed-size buckets. Each virtual memory
// owns an ordered list of buckets; growing a virtual memory appends new buckets
// at the end of the region, so addresses already handed out for any other
// virtual memory never move.
//
// Layout of the underlying memory (little endian):
//
//	page 0:   magic "MGR" | version u8 | num_allocated_buckets u16 |
//	          bucket_size_in_pages u16 | reserved [32]byte |
//	          memory_sizes_in_pages [255]u64 | bucket table [32768]u8
//	page 1..: buckets
//
// The bucket table maps a bucket index to the id of the memory owning it, or
// 255 when the bucket is unallocated. Everything needed to rebuild the layout
// after a restart is read back from page 0.
package memorymanager

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/MikhailWahib/stablestore/internal/logging"
	"github.com/MikhailWahib/stablestore/internal/memory"
)

const (
	magic         = "MGR"
	layoutVersion = 1

	// MaxNumMemories is the number of virtual memories a manager can serve.
	MaxNumMemories = 255
	// MaxNumBuckets is the size of the bucket table.
	MaxNumBuckets = 32768
	// DefaultBucketSizeInPages is the bucket size used by Init.
	DefaultBucketSizeInPages = 128

	unallocatedBucket = 255
	reservedBytes     = 32

	numAllocatedBucketsOffset = 4
	bucketSizeOffset          = 6
	memorySizesOffset         = 8 + reservedBytes
	bucketTableOffset         = memorySizesOffset + MaxNumMemories*8
	headerSize                = bucketTableOffset

	// bucketsOffsetInPages is where the first bucket starts.
	bucketsOffsetInPages = 1
)

// ErrCorruptHeader is returned when the persisted layout cannot be trusted.
var ErrCorruptHeader = errors.New("memorymanager: corrupt header")

// MemoryID identifies a virtual memory. Ids are fixed by the code that uses
// them and must be below MaxNumMemories.
type MemoryID uint8

// MemoryManager hands out virtual memories backed by one shared memory.
type MemoryManager struct {
	mu sync.RWMutex

	mem                 memory.Memory
	bucketSizeInPages   uint64
	numAllocatedBuckets uint16
	memorySizes         [MaxNumMemories]uint64
	memoryBuckets       [MaxNumMemories][]uint16
}

// Init opens the layout stored in mem, or creates one with the default bucket
// size if mem is empty.
func Init(mem memory.Memory) (*MemoryManager, error) {
	return InitWithBucketSize(mem, DefaultBucketSizeInPages)
}

// InitWithBucketSize is like Init but uses bucketSizeInPages when creating a
// new layout. An existing layout always keeps its persisted bucket size.
func InitWithBucketSize(mem memory.Memory, bucketSizeInPages uint16) (*MemoryManager, error) {
	if mem.Size() == 0 {
		return create(mem, bucketSizeInPages)
	}
	return load(mem)
}

func create(mem memory.Memory, bucketSizeInPages uint16) (*MemoryManager, error) {
	if bucketSizeInPages == 0 {
		return nil, fmt.Errorf("memorymanager: bucket size must be positive")
	}
	if _, err := mem.Grow(bucketsOffsetInPages); err != nil {
		return nil, fmt.Errorf("failed to allocate memory manager header: %w", err)
	}

	buf := make([]byte, headerSize+MaxNumBuckets)
	copy(buf, magic)
	buf[3] = layoutVersion
	binary.LittleEndian.PutUint16(buf[numAllocatedBucketsOffset:], 0)
	binary.LittleEndian.PutUint16(buf[bucketSizeOffset:], bucketSizeInPages)
	for i := bucketTableOffset; i < len(buf); i++ {
		buf[i] = unallocatedBucket
	}
	if err := mem.WriteAt(buf, 0); err != nil {
		return nil, fmt.Errorf("failed to write memory manager header: %w", err)
	}

	return &MemoryManager{
		mem:               mem,
		bucketSizeInPages: uint64(bucketSizeInPages),
	}, nil
}

func load(mem memory.Memory) (*MemoryManager, error) {
	header := make([]byte, headerSize)
	if err := mem.ReadAt(header, 0); err != nil {
		return nil, fmt.Errorf("failed to read memory manager header: %w", err)
	}
	if string(header[:3]) != magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorruptHeader, header[:3])
	}
	if header[3] != layoutVersion {
		return nil, fmt.Errorf("%w: unsupported layout version %d", ErrCorruptHeader, header[3])
	}

	m := &MemoryManager{
		mem:                 mem,
		numAllocatedBuckets: binary.LittleEndian.Uint16(header[numAllocatedBucketsOffset:]),
		bucketSizeInPages:   uint64(binary.LittleEndian.Uint16(header[bucketSizeOffset:])),
	}
	if m.bucketSizeInPages == 0 {
		return nil, fmt.Errorf("%w: zero bucket size", ErrCorruptHeader)
	}
	for i := 0; i < MaxNumMemories; i++ {
		off := memorySizesOffset + i*8
		m.memorySizes[i] = binary.LittleEndian.Uint64(header[off : off+8])
	}

	table := make([]byte, m.numAllocatedBuckets)
	if err := mem.ReadAt(table, bucketTableOffset); err != nil {
		return nil, fmt.Errorf("failed to read bucket table: %w", err)
	}
	for bucket, id := range table {
		if id == unallocatedBucket {
			return nil, fmt.Errorf("%w: bucket %d below the allocation mark is unowned", ErrCorruptHeader, bucket)
		}
		m.memoryBuckets[id] = append(m.memoryBuckets[id], uint16(bucket))
	}

	for id := 0; id < MaxNumMemories; id++ {
		capacity := uint64(len(m.memoryBuckets[id])) * m.bucketSizeInPages
		if m.memorySizes[id] > capacity {
			return nil, fmt.Errorf("%w: memory %d has %d pages but only %d allocated",
				ErrCorruptHeader, id, m.memorySizes[id], capacity)
		}
	}
	required := bucketsOffsetInPages + uint64(m.numAllocatedBuckets)*m.bucketSizeInPages
	if mem.Size() < required {
		return nil, fmt.Errorf("%w: underlying memory has %d pages, layout needs %d",
			ErrCorruptHeader, mem.Size(), required)
	}
	return m, nil
}

// Get returns the virtual memory with the given id. Ids are compile-time
// constants, so an id outside the table is a programming error and panics.
func (m *MemoryManager) Get(id MemoryID) *VirtualMemory {
	if int(id) >= MaxNumMemories {
		panic(fmt.Sprintf("memorymanager: memory id %d out of range", id))
	}
	return &VirtualMemory{id: id, manager: m}
}

// BucketSizeInPages returns the bucket size the layout was created with.
func (m *MemoryManager) BucketSizeInPages() uint64 {
	return m.bucketSizeInPages
}

// NumAllocatedBuckets returns how many buckets have been handed out.
func (m *MemoryManager) NumAllocatedBuckets() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int(m.numAllocatedBuckets)
}

func (m *MemoryManager) size(id MemoryID) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memorySizes[id]
}

func (m *MemoryManager) grow(id MemoryID, pages uint64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	oldSize := m.memorySizes[id]
	newSize := oldSize + pages
	owned := uint64(len(m.memoryBuckets[id]))
	required := (newSize + m.bucketSizeInPages - 1) / m.bucketSizeInPages

	var newBuckets uint64
	if required > owned {
		newBuckets = required - owned
	}
	total := uint64(m.numAllocatedBuckets) + newBuckets
	if total > MaxNumBuckets {
		return -1, fmt.Errorf("%w: bucket table exhausted growing memory %d", memory.ErrGrowFailed, id)
	}

	if newBuckets > 0 {
		needed := bucketsOffsetInPages + total*m.bucketSizeInPages
		if have := m.mem.Size(); have < needed {
			if _, err := m.mem.Grow(needed - have); err != nil {
				return -1, err
			}
		}

		entries := make([]byte, newBuckets)
		for i := range entries {
			entries[i] = byte(id)
		}
		if err := m.mem.WriteAt(entries, bucketTableOffset+uint64(m.numAllocatedBuckets)); err != nil {
			return -1, fmt.Errorf("failed to write bucket table: %w", err)
		}
		if err := writeUint16(m.mem, numAllocatedBucketsOffset, uint16(total)); err != nil {
			return -1, fmt.Errorf("failed to write bucket count: %w", err)
		}
		for i := uint64(0); i < newBuckets; i++ {
			m.memoryBuckets[id] = append(m.memoryBuckets[id], m.numAllocatedBuckets+uint16(i))
		}
		m.numAllocatedBuckets = uint16(total)
		logging.Debug("buckets allocated", "memory_id", id, "new_buckets", newBuckets, "total_buckets", total)
	}

	if err := memory.WriteUint64(m.mem, memorySizesOffset+uint64(id)*8, newSize); err != nil {
		return -1, fmt.Errorf("failed to write size of memory %d: %w", id, err)
	}
	m.memorySizes[id] = newSize
	return int64(oldSize), nil
}

// forEachChunk splits the virtual range [off, off+n) into pieces that stay
// inside a single bucket and calls fn with the slice bounds and the real
// address of each piece. Callers hold m.mu.
func (m *MemoryManager) forEachChunk(id MemoryID, off uint64, n int, fn func(lo, hi int, addr uint64) error) error {
	bucketBytes := m.bucketSizeInPages * memory.PageSize
	end := off + uint64(n)
	if end < off || end > m.memorySizes[id]*memory.PageSize {
		return fmt.Errorf("%w: memory %d offset %d length %d size %d",
			memory.ErrOutOfBounds, id, off, n, m.memorySizes[id]*memory.PageSize)
	}

	done := 0
	for done < n {
		virt := off + uint64(done)
		bucket := m.memoryBuckets[id][virt/bucketBytes]
		within := virt % bucketBytes
		chunk := min(uint64(n-done), bucketBytes-within)
		addr := bucketsOffsetInPages*memory.PageSize + uint64(bucket)*bucketBytes + within
		if err := fn(done, done+int(chunk), addr); err != nil {
			return err
		}
		done += int(chunk)
	}
	return nil
}

func writeUint16(mem memory.Memory, off uint64, v uint16) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	return mem.WriteAt(buf[:], off)
}

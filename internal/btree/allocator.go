package btree

import (
	"encoding/binary"
	"fmt"

	"github.com/MikhailWahib/stablestore/internal/memory"
)

// Address is a byte offset inside the map's memory.
type Address = uint64

// NullAddress marks an absent node. Offset zero always holds the map header,
// so no chunk can live there.
const NullAddress Address = 0

const (
	allocatorMagic         = "BTA"
	allocatorVersion       = 1
	allocatorHeaderSize    = 64
	allocationSizeOffset   = 8
	numAllocatedOffset     = 16
	freeListHeadOffset     = 24
	chunkMagic             = "CHK"
	chunkVersion           = 1
	chunkHeaderSize        = 16
	chunkAllocatedOffset   = 4
	chunkNextOffset        = 8
	chunkAllocatedMarker   = 1
	chunkUnallocatedMarker = 0
)

// allocator hands out fixed-size chunks from a free list. Freed chunks are
// pushed on the list and reused before the region is extended.
//
// Header: magic "BTA" | version u8 | pad u32 | allocation_size u64 |
// num_allocated_chunks u64 | free_list_head u64 | reserved.
// Chunk:  magic "CHK" | version u8 | allocated u8 | pad [3]u8 | next u64 | data.
type allocator struct {
	mem            memory.Memory
	addr           Address
	allocationSize uint64
	numAllocated   uint64
	freeListHead   Address
}

func newAllocator(mem memory.Memory, addr Address, allocationSize uint64) (*allocator, error) {
	a := &allocator{
		mem:            mem,
		addr:           addr,
		allocationSize: allocationSize,
		freeListHead:   addr + allocatorHeaderSize,
	}
	if err := a.writeChunkHeader(a.freeListHead, false, NullAddress); err != nil {
		return nil, err
	}
	if err := a.save(); err != nil {
		return nil, err
	}
	return a, nil
}

func loadAllocator(mem memory.Memory, addr Address) (*allocator, error) {
	buf := make([]byte, allocatorHeaderSize)
	if err := mem.ReadAt(buf, addr); err != nil {
		return nil, fmt.Errorf("failed to read allocator header: %w", err)
	}
	if string(buf[:3]) != allocatorMagic {
		return nil, fmt.Errorf("%w: bad allocator magic %q", ErrCorrupt, buf[:3])
	}
	if buf[3] != allocatorVersion {
		return nil, fmt.Errorf("%w: unsupported allocator version %d", ErrCorrupt, buf[3])
	}
	return &allocator{
		mem:            mem,
		addr:           addr,
		allocationSize: binary.LittleEndian.Uint64(buf[allocationSizeOffset:]),
		numAllocated:   binary.LittleEndian.Uint64(buf[numAllocatedOffset:]),
		freeListHead:   binary.LittleEndian.Uint64(buf[freeListHeadOffset:]),
	}, nil
}

func (a *allocator) chunkSize() uint64 {
	return chunkHeaderSize + a.allocationSize
}

// allocate returns the data address of a free chunk.
func (a *allocator) allocate() (Address, error) {
	chunk := a.freeListHead
	allocated, next, err := a.readChunkHeader(chunk)
	if err != nil {
		return NullAddress, err
	}
	if allocated {
		return NullAddress, fmt.Errorf("%w: free list head %d is allocated", ErrCorrupt, chunk)
	}

	if next == NullAddress {
		// The head was the untouched tail of the region; start a new tail.
		next = chunk + a.chunkSize()
		if err := a.writeChunkHeader(next, false, NullAddress); err != nil {
			return NullAddress, err
		}
	}
	if err := a.writeChunkHeader(chunk, true, NullAddress); err != nil {
		return NullAddress, err
	}

	a.freeListHead = next
	a.numAllocated++
	if err := a.save(); err != nil {
		return NullAddress, err
	}
	return chunk + chunkHeaderSize, nil
}

// deallocate returns the chunk holding addr to the free list.
func (a *allocator) deallocate(addr Address) error {
	chunk := addr - chunkHeaderSize
	allocated, _, err := a.readChunkHeader(chunk)
	if err != nil {
		return err
	}
	if !allocated {
		return fmt.Errorf("%w: double free of chunk %d", ErrCorrupt, chunk)
	}
	if err := a.writeChunkHeader(chunk, false, a.freeListHead); err != nil {
		return err
	}

	a.freeListHead = chunk
	a.numAllocated--
	return a.save()
}

func (a *allocator) save() error {
	buf := make([]byte, allocatorHeaderSize)
	copy(buf, allocatorMagic)
	buf[3] = allocatorVersion
	binary.LittleEndian.PutUint64(buf[allocationSizeOffset:], a.allocationSize)
	binary.LittleEndian.PutUint64(buf[numAllocatedOffset:], a.numAllocated)
	binary.LittleEndian.PutUint64(buf[freeListHeadOffset:], a.freeListHead)
	if err := memory.SafeWrite(a.mem, a.addr, buf); err != nil {
		return fmt.Errorf("failed to write allocator header: %w", err)
	}
	return nil
}

func (a *allocator) readChunkHeader(chunk Address) (allocated bool, next Address, err error) {
	buf := make([]byte, chunkHeaderSize)
	if err := a.mem.ReadAt(buf, chunk); err != nil {
		return false, NullAddress, fmt.Errorf("failed to read chunk header at %d: %w", chunk, err)
	}
	if string(buf[:3]) != chunkMagic || buf[3] != chunkVersion {
		return false, NullAddress, fmt.Errorf("%w: bad chunk header at %d", ErrCorrupt, chunk)
	}
	return buf[chunkAllocatedOffset] == chunkAllocatedMarker, binary.LittleEndian.Uint64(buf[chunkNextOffset:]), nil
}

func (a *allocator) writeChunkHeader(chunk Address, allocated bool, next Address) error {
	buf := make([]byte, chunkHeaderSize)
	copy(buf, chunkMagic)
	buf[3] = chunkVersion
	buf[chunkAllocatedOffset] = chunkUnallocatedMarker
	if allocated {
		buf[chunkAllocatedOffset] = chunkAllocatedMarker
	}
	binary.LittleEndian.PutUint64(buf[chunkNextOffset:], next)
	if err := memory.SafeWrite(a.mem, chunk, buf); err != nil {
		return fmt.Errorf("failed to write chunk header at %d: %w", chunk, err)
	}
	return nil
}

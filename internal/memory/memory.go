// Package memory provides the flat, page-granular address space that every
// persistent structure in stablestore is built on.
//
// A Memory behaves like a single growable byte array. Its size is counted in
// pages of PageSize bytes and it only ever grows. Reads and writes are
// byte-exact and authoritative as soon as WriteAt returns.
package memory

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// PageSize is the growth unit of every Memory, in bytes.
const PageSize = 64 * 1024

var (
	// ErrOutOfBounds is returned by ReadAt and WriteAt when the requested range
	// extends past the current size of the memory.
	ErrOutOfBounds = errors.New("memory: access out of bounds")
	// ErrGrowFailed is returned by Grow when the memory cannot be extended.
	ErrGrowFailed = errors.New("memory: grow failed")
)

// Memory is a contiguous, growable byte space addressed from zero.
type Memory interface {
	// Size returns the current size of the memory in pages.
	Size() uint64
	// Grow extends the memory by the given number of pages and returns the
	// previous size in pages. On failure it returns -1 and an error wrapping
	// ErrGrowFailed; the memory is left unchanged.
	Grow(pages uint64) (int64, error)
	// ReadAt fills p with the bytes starting at offset off.
	ReadAt(p []byte, off uint64) error
	// WriteAt copies p into the memory starting at offset off.
	WriteAt(p []byte, off uint64) error
}

// checkBounds reports ErrOutOfBounds when [off, off+n) is not inside a memory
// of the given size in pages.
func checkBounds(off uint64, n int, pages uint64) error {
	end := off + uint64(n)
	if end < off || end > pages*PageSize {
		return fmt.Errorf("%w: offset %d length %d size %d", ErrOutOfBounds, off, n, pages*PageSize)
	}
	return nil
}

// SafeWrite writes p at offset off, growing m first if the write would
// extend past its end.
func SafeWrite(m Memory, off uint64, p []byte) error {
	end := off + uint64(len(p))
	size := m.Size()
	if end > size*PageSize {
		needed := (end + PageSize - 1) / PageSize
		if _, err := m.Grow(needed - size); err != nil {
			return err
		}
	}
	return m.WriteAt(p, off)
}

// ReadUint64 reads a little-endian uint64 at off.
func ReadUint64(m Memory, off uint64) (uint64, error) {
	var buf [8]byte
	if err := m.ReadAt(buf[:], off); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// WriteUint64 writes v as a little-endian uint64 at off, growing m if needed.
func WriteUint64(m Memory, off uint64, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return SafeWrite(m, off, buf[:])
}

// ReadUint32 reads a little-endian uint32 at off.
func ReadUint32(m Memory, off uint64) (uint32, error) {
	var buf [4]byte
	if err := m.ReadAt(buf[:], off); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// WriteUint32 writes v as a little-endian uint32 at off, growing m if needed.
func WriteUint32(m Memory, off uint64, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return SafeWrite(m, off, buf[:])
}

// Package cell implements a durable single-value store on top of a
// memory.Memory.
//
// Layout (little endian): magic "SCL" | version u8 | value_len u32 | value.
package cell

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/MikhailWahib/stablestore/internal/memory"
)

const (
	magic         = "SCL"
	layoutVersion = 1
	headerSize    = 8
	lengthOffset  = 4
)

var (
	// ErrBadMagic is returned when the memory holds something other than a cell.
	ErrBadMagic = errors.New("cell: bad magic")
	// ErrUnsupportedVersion is returned for a cell written by an unknown layout.
	ErrUnsupportedVersion = errors.New("cell: unsupported layout version")
	// ErrCorruptValue is returned when the persisted value cannot be read back.
	ErrCorruptValue = errors.New("cell: corrupt value")
)

// Codec converts cell values to and from bytes.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(b []byte) (T, error)
}

// Cell holds one value of type T, persisted in its memory on every Set.
type Cell[T any] struct {
	mu    sync.RWMutex
	mem   memory.Memory
	codec Codec[T]
	value T
}

// Init opens the cell stored in mem, or creates it holding initial if mem is
// empty.
func Init[T any](mem memory.Memory, codec Codec[T], initial T) (*Cell[T], error) {
	if mem.Size() == 0 {
		return create(mem, codec, initial)
	}
	return load(mem, codec)
}

func create[T any](mem memory.Memory, codec Codec[T], initial T) (*Cell[T], error) {
	c := &Cell[T]{mem: mem, codec: codec}

	header := make([]byte, lengthOffset)
	copy(header, magic)
	header[3] = layoutVersion
	if err := memory.SafeWrite(mem, 0, header); err != nil {
		return nil, fmt.Errorf("failed to write cell header: %w", err)
	}
	if err := c.write(initial); err != nil {
		return nil, err
	}
	c.value = initial
	return c, nil
}

func load[T any](mem memory.Memory, codec Codec[T]) (*Cell[T], error) {
	header := make([]byte, headerSize)
	if err := mem.ReadAt(header, 0); err != nil {
		return nil, fmt.Errorf("failed to read cell header: %w", err)
	}
	if string(header[:3]) != magic {
		return nil, fmt.Errorf("%w: %q", ErrBadMagic, header[:3])
	}
	if header[3] != layoutVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, header[3])
	}

	length := binary.LittleEndian.Uint32(header[lengthOffset:])
	if headerSize+uint64(length) > mem.Size()*memory.PageSize {
		return nil, fmt.Errorf("%w: length %d exceeds memory size", ErrCorruptValue, length)
	}
	buf := make([]byte, length)
	if err := mem.ReadAt(buf, headerSize); err != nil {
		return nil, fmt.Errorf("failed to read cell value: %w", err)
	}
	value, err := codec.Decode(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptValue, err)
	}
	return &Cell[T]{mem: mem, codec: codec, value: value}, nil
}

// Get returns the current value.
func (c *Cell[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Set persists v and returns the value it replaced.
func (c *Cell[T]) Set(v T) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.value
	if err := c.write(v); err != nil {
		return old, err
	}
	c.value = v
	return old, nil
}

// write stores the length prefix and the value with a single write.
func (c *Cell[T]) write(v T) error {
	encoded, err := c.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("failed to encode cell value: %w", err)
	}
	buf := make([]byte, 4+len(encoded))
	binary.LittleEndian.PutUint32(buf, uint32(len(encoded)))
	copy(buf[4:], encoded)
	if err := memory.SafeWrite(c.mem, lengthOffset, buf); err != nil {
		return fmt.Errorf("failed to write cell value: %w", err)
	}
	return nil
}

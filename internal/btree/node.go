package btree

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"slices"
	"sort"

	"github.com/MikhailWahib/stablestore/internal/memory"
)

const (
	// B is the minimum degree of the tree. Every node except the root holds
	// between B-1 and 2B-1 entries.
	B = 6
	// Capacity is the maximum number of entries per node.
	Capacity = 2*B - 1

	nodeMagic          = "BTN"
	nodeVersion        = 1
	nodeHeaderSize     = 8
	nodeKindOffset     = 4
	nodeNumEntryOffset = 6
	lengthPrefixSize   = 4
	addressSize        = 8
)

type nodeKind uint8

const (
	leafNode nodeKind = iota
	internalNode
)

// node is the in-memory form of one B-tree node. Nodes are loaded whole,
// modified, then saved whole into their chunk.
//
// Layout: magic "BTN" | version u8 | kind u8 | pad u8 | num_entries u16 |
// Capacity x (key_len u32 | key [max_key_size] | value_len u32 | value [max_value_size]) |
// (Capacity+1) x child u64.
type node struct {
	addr     Address
	kind     nodeKind
	keys     [][]byte
	values   [][]byte
	children []Address
}

// nodeSize is the fixed chunk size needed by a node for the given bounds.
func nodeSize(maxKeySize, maxValueSize uint32) uint64 {
	entry := uint64(lengthPrefixSize) + uint64(maxKeySize) + lengthPrefixSize + uint64(maxValueSize)
	return nodeHeaderSize + Capacity*entry + (Capacity+1)*addressSize
}

func (n *node) isFull() bool { return len(n.keys) >= Capacity }

func (n *node) isLeaf() bool { return n.kind == leafNode }

// search returns the index of key, or the index where it would be inserted.
func (n *node) search(key []byte) (int, bool) {
	idx := sort.Search(len(n.keys), func(i int) bool {
		return bytes.Compare(n.keys[i], key) >= 0
	})
	return idx, idx < len(n.keys) && bytes.Equal(n.keys[idx], key)
}

func (n *node) insertEntry(idx int, key, value []byte) {
	n.keys = slices.Insert(n.keys, idx, key)
	n.values = slices.Insert(n.values, idx, value)
}

func (n *node) removeEntry(idx int) {
	n.keys = slices.Delete(n.keys, idx, idx+1)
	n.values = slices.Delete(n.values, idx, idx+1)
}

func (n *node) insertChild(idx int, addr Address) {
	n.children = slices.Insert(n.children, idx, addr)
}

func (n *node) removeChild(idx int) {
	n.children = slices.Delete(n.children, idx, idx+1)
}

func (m *BTreeMap) entrySize() uint64 {
	return lengthPrefixSize + uint64(m.maxKeySize) + lengthPrefixSize + uint64(m.maxValueSize)
}

func (m *BTreeMap) loadNode(addr Address) (*node, error) {
	buf := make([]byte, nodeSize(m.maxKeySize, m.maxValueSize))
	if err := m.mem.ReadAt(buf, addr); err != nil {
		return nil, fmt.Errorf("failed to read node at %d: %w", addr, err)
	}
	if string(buf[:3]) != nodeMagic || buf[3] != nodeVersion {
		return nil, fmt.Errorf("%w: bad node header at %d", ErrCorrupt, addr)
	}

	n := &node{addr: addr, kind: nodeKind(buf[nodeKindOffset])}
	count := int(binary.LittleEndian.Uint16(buf[nodeNumEntryOffset:]))
	if count > Capacity || (n.kind != leafNode && n.kind != internalNode) {
		return nil, fmt.Errorf("%w: node at %d has kind %d and %d entries", ErrCorrupt, addr, n.kind, count)
	}

	n.keys = make([][]byte, count)
	n.values = make([][]byte, count)
	off := uint64(nodeHeaderSize)
	for i := 0; i < count; i++ {
		keyLen := binary.LittleEndian.Uint32(buf[off:])
		valueLen := binary.LittleEndian.Uint32(buf[off+lengthPrefixSize+uint64(m.maxKeySize):])
		if keyLen > m.maxKeySize || valueLen > m.maxValueSize {
			return nil, fmt.Errorf("%w: entry %d of node %d exceeds bounds", ErrCorrupt, i, addr)
		}
		keyStart := off + lengthPrefixSize
		valueStart := keyStart + uint64(m.maxKeySize) + lengthPrefixSize
		keyEnd := keyStart + uint64(keyLen)
		n.keys[i] = buf[keyStart:keyEnd:keyEnd]
		valueEnd := valueStart + uint64(valueLen)
		n.values[i] = buf[valueStart:valueEnd:valueEnd]
		off += m.entrySize()
	}

	if n.kind == internalNode {
		off = nodeHeaderSize + Capacity*m.entrySize()
		n.children = make([]Address, count+1)
		for i := range n.children {
			n.children[i] = binary.LittleEndian.Uint64(buf[off:])
			off += addressSize
		}
	}
	return n, nil
}

func (m *BTreeMap) saveNode(n *node) error {
	if len(n.keys) > Capacity {
		return fmt.Errorf("btree: node at %d overflows with %d entries", n.addr, len(n.keys))
	}
	buf := make([]byte, nodeSize(m.maxKeySize, m.maxValueSize))
	copy(buf, nodeMagic)
	buf[3] = nodeVersion
	buf[nodeKindOffset] = byte(n.kind)
	binary.LittleEndian.PutUint16(buf[nodeNumEntryOffset:], uint16(len(n.keys)))

	off := uint64(nodeHeaderSize)
	for i := range n.keys {
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(n.keys[i])))
		copy(buf[off+lengthPrefixSize:], n.keys[i])
		valueOff := off + lengthPrefixSize + uint64(m.maxKeySize)
		binary.LittleEndian.PutUint32(buf[valueOff:], uint32(len(n.values[i])))
		copy(buf[valueOff+lengthPrefixSize:], n.values[i])
		off += m.entrySize()
	}

	if n.kind == internalNode {
		off = nodeHeaderSize + Capacity*m.entrySize()
		for _, child := range n.children {
			binary.LittleEndian.PutUint64(buf[off:], child)
			off += addressSize
		}
	}

	if err := memory.SafeWrite(m.mem, n.addr, buf); err != nil {
		return fmt.Errorf("failed to write node at %d: %w", n.addr, err)
	}
	return nil
}

func (m *BTreeMap) allocateNode(kind nodeKind) (*node, error) {
	addr, err := m.allocator.allocate()
	if err != nil {
		return nil, err
	}
	return &node{addr: addr, kind: kind}, nil
}

func (m *BTreeMap) deallocateNode(n *node) error {
	return m.allocator.deallocate(n.addr)
}

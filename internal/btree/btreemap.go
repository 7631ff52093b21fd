// Package btree implements an ordered map persisted in a memory.Memory.
//
// Keys are byte strings of at most MaxKeySize bytes compared lexicographically;
// values are byte strings of at most MaxValueSize bytes. The map is a B-tree
// whose nodes live in fixed-size chunks handed out by a free-list allocator,
// so inserts and removes rewrite only the nodes on one root-to-leaf path.
//
// Layout: map header at offset 0, allocator header at offset 64, chunks after.
//
//	magic "BTR" | version u8 | max_key_size u32 | max_value_size u32 |
//	reserved u32 | root_addr u64 | length u64 | reserved [32]byte
//
// BTreeMap is not safe for concurrent mutation; callers serialise writers.
// Concurrent readers are safe as long as no writer runs.
package btree

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/MikhailWahib/stablestore/internal/memory"
)

const (
	mapMagic           = "BTR"
	mapVersion         = 1
	mapHeaderSize      = 64
	maxKeySizeOffset   = 4
	maxValueSizeOffset = 8
	rootAddrOffset     = 16
	lengthOffset       = 24
	allocatorOffset    = mapHeaderSize
)

var (
	// ErrCorrupt is returned when persisted structures fail validation.
	ErrCorrupt = errors.New("btree: corrupt map")
	// ErrNotInitialized is returned by Load when the memory holds no map.
	ErrNotInitialized = errors.New("btree: memory holds no map")
	// ErrLayoutMismatch is returned when a map is reopened with other bounds.
	ErrLayoutMismatch = errors.New("btree: bounds do not match persisted map")
	// ErrKeyTooLarge is returned for keys longer than the map's max key size.
	ErrKeyTooLarge = errors.New("btree: key too large")
	// ErrValueTooLarge is returned for values longer than the map's max value size.
	ErrValueTooLarge = errors.New("btree: value too large")
)

// BTreeMap is a persistent ordered map from bounded keys to bounded values.
type BTreeMap struct {
	mem          memory.Memory
	allocator    *allocator
	rootAddr     Address
	maxKeySize   uint32
	maxValueSize uint32
	length       uint64
}

// Init opens the map stored in mem, or creates one if mem is empty. An
// existing map must have been created with the same bounds.
func Init(mem memory.Memory, maxKeySize, maxValueSize uint32) (*BTreeMap, error) {
	if mem.Size() == 0 {
		return New(mem, maxKeySize, maxValueSize)
	}
	m, err := Load(mem)
	if err != nil {
		return nil, err
	}
	if m.maxKeySize != maxKeySize || m.maxValueSize != maxValueSize {
		return nil, fmt.Errorf("%w: persisted (%d, %d), requested (%d, %d)",
			ErrLayoutMismatch, m.maxKeySize, m.maxValueSize, maxKeySize, maxValueSize)
	}
	return m, nil
}

// New creates an empty map in mem, overwriting whatever was there.
func New(mem memory.Memory, maxKeySize, maxValueSize uint32) (*BTreeMap, error) {
	if maxKeySize == 0 {
		return nil, fmt.Errorf("btree: max key size must be positive")
	}
	m := &BTreeMap{
		mem:          mem,
		maxKeySize:   maxKeySize,
		maxValueSize: maxValueSize,
	}
	if err := m.saveHeader(); err != nil {
		return nil, err
	}
	a, err := newAllocator(mem, allocatorOffset, nodeSize(maxKeySize, maxValueSize))
	if err != nil {
		return nil, err
	}
	m.allocator = a
	return m, nil
}

// Load opens an existing map from mem.
func Load(mem memory.Memory) (*BTreeMap, error) {
	if mem.Size() == 0 {
		return nil, ErrNotInitialized
	}
	buf := make([]byte, mapHeaderSize)
	if err := mem.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("failed to read map header: %w", err)
	}
	if string(buf[:3]) != mapMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorrupt, buf[:3])
	}
	if buf[3] != mapVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, buf[3])
	}

	m := &BTreeMap{
		mem:          mem,
		maxKeySize:   binary.LittleEndian.Uint32(buf[maxKeySizeOffset:]),
		maxValueSize: binary.LittleEndian.Uint32(buf[maxValueSizeOffset:]),
		rootAddr:     binary.LittleEndian.Uint64(buf[rootAddrOffset:]),
		length:       binary.LittleEndian.Uint64(buf[lengthOffset:]),
	}
	a, err := loadAllocator(mem, allocatorOffset)
	if err != nil {
		return nil, err
	}
	if a.allocationSize != nodeSize(m.maxKeySize, m.maxValueSize) {
		return nil, fmt.Errorf("%w: allocation size %d does not fit node bounds", ErrCorrupt, a.allocationSize)
	}
	m.allocator = a
	return m, nil
}

// MaxKeySize returns the key bound the map was created with.
func (m *BTreeMap) MaxKeySize() uint32 { return m.maxKeySize }

// MaxValueSize returns the value bound the map was created with.
func (m *BTreeMap) MaxValueSize() uint32 { return m.maxValueSize }

// Len returns the number of entries.
func (m *BTreeMap) Len() uint64 { return m.length }

// IsEmpty reports whether the map has no entries.
func (m *BTreeMap) IsEmpty() bool { return m.length == 0 }

// Get returns the value stored under key.
func (m *BTreeMap) Get(key []byte) ([]byte, bool, error) {
	if len(key) > int(m.maxKeySize) {
		return nil, false, fmt.Errorf("%w: %d > %d", ErrKeyTooLarge, len(key), m.maxKeySize)
	}
	addr := m.rootAddr
	for addr != NullAddress {
		n, err := m.loadNode(addr)
		if err != nil {
			return nil, false, err
		}
		idx, found := n.search(key)
		if found {
			return n.values[idx], true, nil
		}
		if n.isLeaf() {
			return nil, false, nil
		}
		addr = n.children[idx]
	}
	return nil, false, nil
}

// ContainsKey reports whether key is present.
func (m *BTreeMap) ContainsKey(key []byte) (bool, error) {
	_, ok, err := m.Get(key)
	return ok, err
}

// Insert stores value under key and returns the value it replaced, if any.
func (m *BTreeMap) Insert(key, value []byte) ([]byte, bool, error) {
	if len(key) > int(m.maxKeySize) {
		return nil, false, fmt.Errorf("%w: %d > %d", ErrKeyTooLarge, len(key), m.maxKeySize)
	}
	if len(value) > int(m.maxValueSize) {
		return nil, false, fmt.Errorf("%w: %d > %d", ErrValueTooLarge, len(value), m.maxValueSize)
	}

	var root *node
	if m.rootAddr == NullAddress {
		n, err := m.allocateNode(leafNode)
		if err != nil {
			return nil, false, err
		}
		if err := m.saveNode(n); err != nil {
			return nil, false, err
		}
		m.rootAddr = n.addr
		if err := m.saveHeader(); err != nil {
			return nil, false, err
		}
		root = n
	} else {
		n, err := m.loadNode(m.rootAddr)
		if err != nil {
			return nil, false, err
		}
		root = n
	}

	if idx, found := root.search(key); found {
		return m.replace(root, idx, value)
	}

	if root.isFull() {
		newRoot, err := m.allocateNode(internalNode)
		if err != nil {
			return nil, false, err
		}
		newRoot.children = []Address{root.addr}
		if _, err := m.splitChild(newRoot, 0, root); err != nil {
			return nil, false, err
		}
		m.rootAddr = newRoot.addr
		if err := m.saveHeader(); err != nil {
			return nil, false, err
		}
		root = newRoot
	}
	return m.insertNonFull(root, key, value)
}

func (m *BTreeMap) replace(n *node, idx int, value []byte) ([]byte, bool, error) {
	prev := n.values[idx]
	n.values[idx] = value
	if err := m.saveNode(n); err != nil {
		return nil, false, err
	}
	return prev, true, nil
}

// insertNonFull inserts into the subtree rooted at n, which has room for one
// more entry.
func (m *BTreeMap) insertNonFull(n *node, key, value []byte) ([]byte, bool, error) {
	idx, found := n.search(key)
	if found {
		return m.replace(n, idx, value)
	}

	if n.isLeaf() {
		n.insertEntry(idx, key, value)
		if err := m.saveNode(n); err != nil {
			return nil, false, err
		}
		m.length++
		return nil, false, m.saveHeader()
	}

	child, err := m.loadNode(n.children[idx])
	if err != nil {
		return nil, false, err
	}
	if child.isFull() {
		// Replacing in place needs no room, so skip the split.
		if ci, ok := child.search(key); ok {
			return m.replace(child, ci, value)
		}
		sibling, err := m.splitChild(n, idx, child)
		if err != nil {
			return nil, false, err
		}
		if bytes.Compare(key, n.keys[idx]) > 0 {
			child = sibling
		}
	}
	return m.insertNonFull(child, key, value)
}

// splitChild moves the upper half of the full node child, which is the
// idx-th child of parent, into a new sibling and lifts the median into
// parent. child keeps the lower half.
func (m *BTreeMap) splitChild(parent *node, idx int, child *node) (*node, error) {
	sibling, err := m.allocateNode(child.kind)
	if err != nil {
		return nil, err
	}

	mid := B - 1
	medianKey, medianValue := child.keys[mid], child.values[mid]

	sibling.keys = append([][]byte(nil), child.keys[mid+1:]...)
	sibling.values = append([][]byte(nil), child.values[mid+1:]...)
	if !child.isLeaf() {
		sibling.children = append([]Address(nil), child.children[mid+1:]...)
		child.children = child.children[:mid+1]
	}
	child.keys = child.keys[:mid]
	child.values = child.values[:mid]

	parent.insertEntry(idx, medianKey, medianValue)
	parent.insertChild(idx+1, sibling.addr)

	for _, n := range []*node{child, sibling, parent} {
		if err := m.saveNode(n); err != nil {
			return nil, err
		}
	}
	return sibling, nil
}

// Remove deletes key and returns the value it held, if any.
func (m *BTreeMap) Remove(key []byte) ([]byte, bool, error) {
	if len(key) > int(m.maxKeySize) {
		return nil, false, fmt.Errorf("%w: %d > %d", ErrKeyTooLarge, len(key), m.maxKeySize)
	}
	if m.rootAddr == NullAddress {
		return nil, false, nil
	}
	root, err := m.loadNode(m.rootAddr)
	if err != nil {
		return nil, false, err
	}
	return m.removeFrom(root, key)
}

// removeFrom removes key from the subtree rooted at n. Unless n is the root
// it holds at least B entries, so one can be taken out without underflow.
func (m *BTreeMap) removeFrom(n *node, key []byte) ([]byte, bool, error) {
	idx, found := n.search(key)

	if n.isLeaf() {
		if !found {
			return nil, false, nil
		}
		value := n.values[idx]
		n.removeEntry(idx)
		if n.addr == m.rootAddr && len(n.keys) == 0 {
			if err := m.deallocateNode(n); err != nil {
				return nil, false, err
			}
			m.rootAddr = NullAddress
		} else if err := m.saveNode(n); err != nil {
			return nil, false, err
		}
		m.length--
		return value, true, m.saveHeader()
	}

	if found {
		return m.removeFromInternal(n, idx, key)
	}

	child, err := m.loadNode(n.children[idx])
	if err != nil {
		return nil, false, err
	}
	if len(child.keys) >= B {
		return m.removeFrom(child, key)
	}

	// child is minimal; borrow from a sibling or merge before descending.
	var left, right *node
	if idx > 0 {
		if left, err = m.loadNode(n.children[idx-1]); err != nil {
			return nil, false, err
		}
		if len(left.keys) >= B {
			if err := m.rotateRight(n, idx, left, child); err != nil {
				return nil, false, err
			}
			return m.removeFrom(child, key)
		}
	}
	if idx+1 < len(n.children) {
		if right, err = m.loadNode(n.children[idx+1]); err != nil {
			return nil, false, err
		}
		if len(right.keys) >= B {
			if err := m.rotateLeft(n, idx, child, right); err != nil {
				return nil, false, err
			}
			return m.removeFrom(child, key)
		}
	}

	if left != nil {
		if err := m.merge(n, idx-1, left, child); err != nil {
			return nil, false, err
		}
		return m.removeFrom(left, key)
	}
	if err := m.merge(n, idx, child, right); err != nil {
		return nil, false, err
	}
	return m.removeFrom(child, key)
}

// removeFromInternal removes the entry at idx of the internal node n.
func (m *BTreeMap) removeFromInternal(n *node, idx int, key []byte) ([]byte, bool, error) {
	value := n.values[idx]

	left, err := m.loadNode(n.children[idx])
	if err != nil {
		return nil, false, err
	}
	if len(left.keys) >= B {
		predKey, predValue, err := m.maxEntry(left)
		if err != nil {
			return nil, false, err
		}
		n.keys[idx], n.values[idx] = predKey, predValue
		if err := m.saveNode(n); err != nil {
			return nil, false, err
		}
		if _, _, err := m.removeFrom(left, predKey); err != nil {
			return nil, false, err
		}
		return value, true, nil
	}

	right, err := m.loadNode(n.children[idx+1])
	if err != nil {
		return nil, false, err
	}
	if len(right.keys) >= B {
		succKey, succValue, err := m.minEntry(right)
		if err != nil {
			return nil, false, err
		}
		n.keys[idx], n.values[idx] = succKey, succValue
		if err := m.saveNode(n); err != nil {
			return nil, false, err
		}
		if _, _, err := m.removeFrom(right, succKey); err != nil {
			return nil, false, err
		}
		return value, true, nil
	}

	// Both neighbours are minimal: pull the key down into a merged node.
	if err := m.merge(n, idx, left, right); err != nil {
		return nil, false, err
	}
	return m.removeFrom(left, key)
}

// rotateRight moves the separator at idx-1 down into child and the last
// entry of left up into parent.
func (m *BTreeMap) rotateRight(parent *node, idx int, left, child *node) error {
	last := len(left.keys) - 1
	child.insertEntry(0, parent.keys[idx-1], parent.values[idx-1])
	parent.keys[idx-1], parent.values[idx-1] = left.keys[last], left.values[last]
	left.removeEntry(last)
	if !left.isLeaf() {
		child.insertChild(0, left.children[len(left.children)-1])
		left.removeChild(len(left.children) - 1)
	}
	return m.saveNodes(left, child, parent)
}

// rotateLeft moves the separator at idx down into child and the first entry
// of right up into parent.
func (m *BTreeMap) rotateLeft(parent *node, idx int, child, right *node) error {
	child.insertEntry(len(child.keys), parent.keys[idx], parent.values[idx])
	parent.keys[idx], parent.values[idx] = right.keys[0], right.values[0]
	right.removeEntry(0)
	if !right.isLeaf() {
		child.insertChild(len(child.children), right.children[0])
		right.removeChild(0)
	}
	return m.saveNodes(right, child, parent)
}

// merge folds the separator at idx and all of right into left, where left
// and right are the children on either side of that separator. An emptied
// root is replaced by left.
func (m *BTreeMap) merge(parent *node, idx int, left, right *node) error {
	left.insertEntry(len(left.keys), parent.keys[idx], parent.values[idx])
	left.keys = append(left.keys, right.keys...)
	left.values = append(left.values, right.values...)
	left.children = append(left.children, right.children...)

	parent.removeEntry(idx)
	parent.removeChild(idx + 1)

	if err := m.deallocateNode(right); err != nil {
		return err
	}
	if parent.addr == m.rootAddr && len(parent.keys) == 0 {
		if err := m.deallocateNode(parent); err != nil {
			return err
		}
		m.rootAddr = left.addr
		if err := m.saveHeader(); err != nil {
			return err
		}
		return m.saveNode(left)
	}
	return m.saveNodes(left, parent)
}

func (m *BTreeMap) saveNodes(nodes ...*node) error {
	for _, n := range nodes {
		if err := m.saveNode(n); err != nil {
			return err
		}
	}
	return nil
}

func (m *BTreeMap) maxEntry(n *node) ([]byte, []byte, error) {
	for !n.isLeaf() {
		child, err := m.loadNode(n.children[len(n.children)-1])
		if err != nil {
			return nil, nil, err
		}
		n = child
	}
	last := len(n.keys) - 1
	return n.keys[last], n.values[last], nil
}

func (m *BTreeMap) minEntry(n *node) ([]byte, []byte, error) {
	for !n.isLeaf() {
		child, err := m.loadNode(n.children[0])
		if err != nil {
			return nil, nil, err
		}
		n = child
	}
	return n.keys[0], n.values[0], nil
}

func (m *BTreeMap) saveHeader() error {
	buf := make([]byte, mapHeaderSize)
	copy(buf, mapMagic)
	buf[3] = mapVersion
	binary.LittleEndian.PutUint32(buf[maxKeySizeOffset:], m.maxKeySize)
	binary.LittleEndian.PutUint32(buf[maxValueSizeOffset:], m.maxValueSize)
	binary.LittleEndian.PutUint64(buf[rootAddrOffset:], m.rootAddr)
	binary.LittleEndian.PutUint64(buf[lengthOffset:], m.length)
	if err := memory.SafeWrite(m.mem, 0, buf); err != nil {
		return fmt.Errorf("failed to write map header: %w", err)
	}
	return nil
}

// NodeCount returns the number of allocated nodes.
func (m *BTreeMap) NodeCount() uint64 { return m.allocator.numAllocated }

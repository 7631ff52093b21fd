package btree

import "bytes"

// Ascend calls fn for every entry in ascending key order until fn returns
// false.
func (m *BTreeMap) Ascend(fn func(key, value []byte) bool) error {
	return m.AscendRange(nil, nil, fn)
}

// AscendRange calls fn for every entry with start <= key < end in ascending
// key order until fn returns false. A nil start or end leaves that side open.
func (m *BTreeMap) AscendRange(start, end []byte, fn func(key, value []byte) bool) error {
	if m.rootAddr == NullAddress {
		return nil
	}
	_, err := m.ascend(m.rootAddr, start, end, fn)
	return err
}

func (m *BTreeMap) ascend(addr Address, start, end []byte, fn func(key, value []byte) bool) (bool, error) {
	n, err := m.loadNode(addr)
	if err != nil {
		return false, err
	}

	first := 0
	if start != nil {
		first, _ = n.search(start)
	}
	for i := first; i < len(n.keys); i++ {
		if !n.isLeaf() {
			more, err := m.ascend(n.children[i], start, end, fn)
			if err != nil || !more {
				return false, err
			}
		}
		if end != nil && bytes.Compare(n.keys[i], end) >= 0 {
			return false, nil
		}
		if !fn(n.keys[i], n.values[i]) {
			return false, nil
		}
	}
	if !n.isLeaf() {
		return m.ascend(n.children[len(n.keys)], start, end, fn)
	}
	return true, nil
}

// First returns the entry with the smallest key.
func (m *BTreeMap) First() (key, value []byte, ok bool, err error) {
	if m.rootAddr == NullAddress {
		return nil, nil, false, nil
	}
	root, err := m.loadNode(m.rootAddr)
	if err != nil {
		return nil, nil, false, err
	}
	key, value, err = m.minEntry(root)
	return key, value, err == nil, err
}

// Last returns the entry with the largest key.
func (m *BTreeMap) Last() (key, value []byte, ok bool, err error) {
	if m.rootAddr == NullAddress {
		return nil, nil, false, nil
	}
	root, err := m.loadNode(m.rootAddr)
	if err != nil {
		return nil, nil, false, err
	}
	key, value, err = m.maxEntry(root)
	return key, value, err == nil, err
}

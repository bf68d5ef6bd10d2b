package block

import (
	"sort"

	"github.com/mit-pdos/go-dboe/common"
)

//
// A multiset of block ids, used to track which blocks a session still holds.
//

type Multiset struct {
	counts map[common.BlockId]uint64
	size   uint64
}

func MkMultiset() *Multiset {
	m := &Multiset{
		counts: make(map[common.BlockId]uint64),
	}
	return m
}

func (m *Multiset) Add(id common.BlockId) {
	m.counts[id] += 1
	m.size += 1
}

// Remove drops one occurrence of id and reports whether there was one.
func (m *Multiset) Remove(id common.BlockId) bool {
	n, ok := m.counts[id]
	if !ok {
		return false
	}
	if n == 1 {
		delete(m.counts, id)
	} else {
		m.counts[id] = n - 1
	}
	m.size -= 1
	return true
}

// RemoveAll drops every occurrence of id.
func (m *Multiset) RemoveAll(id common.BlockId) {
	n, ok := m.counts[id]
	if ok {
		delete(m.counts, id)
		m.size -= n
	}
}

func (m *Multiset) Contains(id common.BlockId) bool {
	_, ok := m.counts[id]
	return ok
}

func (m *Multiset) Count(id common.BlockId) uint64 {
	return m.counts[id]
}

func (m *Multiset) Size() uint64 {
	return m.size
}

func (m *Multiset) IsEmpty() bool {
	return m.size == 0
}

func (m *Multiset) Clear() {
	m.counts = make(map[common.BlockId]uint64)
	m.size = 0
}

// Ids returns the distinct ids in ascending order.
func (m *Multiset) Ids() []common.BlockId {
	ids := make([]common.BlockId, 0, len(m.counts))
	for id := range m.counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

package blockaccess

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/mit-pdos/go-dboe/block"
	"github.com/mit-pdos/go-dboe/common"
	"github.com/mit-pdos/go-dboe/util"
)

var _ BlockAccess = (*memAccess)(nil)

type memAccess struct {
	l         *sync.RWMutex
	blockSize int
	blocks    map[common.BlockId][]byte
	boundary  common.BlockId
	closed    bool
}

// NewMem returns an in-memory block access; contents vanish on Close.
func NewMem(blockSize int) BlockAccess {
	return &memAccess{
		l:         new(sync.RWMutex),
		blockSize: blockSize,
		blocks:    make(map[common.BlockId][]byte),
	}
}

func (m *memAccess) Allocate(size int) (*block.Block, error) {
	sz, err := checkSize(size, m.blockSize)
	if err != nil {
		return nil, err
	}
	m.l.Lock()
	defer m.l.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	id := m.boundary
	m.boundary++
	return block.MkBlock(id, make([]byte, sz)), nil
}

func (m *memAccess) Read(id common.BlockId) (*block.Block, error) {
	m.l.RLock()
	defer m.l.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	if id < 0 || id >= m.boundary {
		return nil, errors.Wrapf(ErrNotValid, "read %d (boundary %d)", id, m.boundary)
	}
	data, ok := m.blocks[id]
	if !ok {
		// allocated but never written
		return block.MkBlock(id, make([]byte, m.blockSize)), nil
	}
	return block.MkBlock(id, util.CloneByteSlice(data)), nil
}

func (m *memAccess) write(b *block.Block, extend bool) error {
	if err := checkBlock(b, m.blockSize); err != nil {
		return err
	}
	m.l.Lock()
	defer m.l.Unlock()
	if m.closed {
		return ErrClosed
	}
	if b.Id() >= m.boundary {
		if !extend {
			return errors.Wrapf(ErrNotValid, "write %d (boundary %d)", b.Id(), m.boundary)
		}
		m.boundary = b.Id() + 1
	}
	m.blocks[b.Id()] = util.CloneByteSlice(b.Data())
	return nil
}

func (m *memAccess) Write(b *block.Block) error {
	return m.write(b, false)
}

func (m *memAccess) Overwrite(b *block.Block) error {
	return m.write(b, true)
}

func (m *memAccess) Valid(id common.BlockId) bool {
	m.l.RLock()
	defer m.l.RUnlock()
	return id >= 0 && id < m.boundary
}

func (m *memAccess) AllocBoundary() common.BlockId {
	m.l.RLock()
	defer m.l.RUnlock()
	return m.boundary
}

func (m *memAccess) ResetAllocBoundary(boundary common.BlockId) {
	m.l.Lock()
	defer m.l.Unlock()
	for id := range m.blocks {
		if id >= boundary {
			delete(m.blocks, id)
		}
	}
	m.boundary = boundary
}

func (m *memAccess) IsEmpty() bool {
	return m.AllocBoundary() == 0
}

func (m *memAccess) BlockSize() int {
	return m.blockSize
}

func (m *memAccess) Sync() error { return nil }

func (m *memAccess) Close() error {
	m.l.Lock()
	defer m.l.Unlock()
	m.closed = true
	m.blocks = nil
	return nil
}

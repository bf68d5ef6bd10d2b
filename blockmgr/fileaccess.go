package blockmgr

import (
	"github.com/mit-pdos/go-dboe/block"
	"github.com/mit-pdos/go-dboe/blockaccess"
	"github.com/mit-pdos/go-dboe/common"
	"github.com/mit-pdos/go-dboe/util"
)

// FileAccessMgr is the bottom of the stack: it maps block operations onto a
// BlockAccess and remembers whether anything needs syncing.
type FileAccessMgr struct {
	label      string
	access     blockaccess.BlockAccess
	syncNeeded bool
	closed     bool
}

var _ BlockMgr = (*FileAccessMgr)(nil)

func NewFileAccessMgr(label string, access blockaccess.BlockAccess) *FileAccessMgr {
	return &FileAccessMgr{
		label:  label,
		access: access,
	}
}

func (m *FileAccessMgr) check() error {
	if m.closed {
		return closedErr(m.label)
	}
	return nil
}

func (m *FileAccessMgr) Allocate(size int) (*block.Block, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	b, err := m.access.Allocate(size)
	if err != nil {
		return nil, accessErr(m.label, "allocate", err)
	}
	m.syncNeeded = true
	util.DPrintf(5, "%s: allocate %d\n", m.label, b.Id())
	return b, nil
}

func (m *FileAccessMgr) fetch(id common.BlockId, readOnly bool) (*block.Block, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	b, err := m.access.Read(id)
	if err != nil {
		return nil, accessErr(m.label, "read", err)
	}
	b.SetReadOnly(readOnly)
	return b, nil
}

func (m *FileAccessMgr) GetRead(id common.BlockId) (*block.Block, error) {
	return m.fetch(id, true)
}

func (m *FileAccessMgr) GetReadIterator(id common.BlockId) (*block.Block, error) {
	return m.fetch(id, true)
}

func (m *FileAccessMgr) GetWrite(id common.BlockId) (*block.Block, error) {
	return m.fetch(id, false)
}

func (m *FileAccessMgr) Promote(b *block.Block) (*block.Block, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	// read-only blocks are never modified, so this cannot fail
	b.SetReadOnly(false)
	return b, nil
}

func (m *FileAccessMgr) Release(b *block.Block) error {
	return m.check()
}

func (m *FileAccessMgr) Write(b *block.Block) error {
	if err := m.check(); err != nil {
		return err
	}
	if b.IsReadOnly() {
		return usageErr(m.label, "write of read-only block %d", b.Id())
	}
	if err := m.access.Write(b); err != nil {
		return accessErr(m.label, "write", err)
	}
	b.SetModified(false)
	m.syncNeeded = true
	return nil
}

func (m *FileAccessMgr) Overwrite(b *block.Block) error {
	if err := m.check(); err != nil {
		return err
	}
	if err := m.access.Overwrite(b); err != nil {
		return accessErr(m.label, "overwrite", err)
	}
	b.SetModified(false)
	m.syncNeeded = true
	return nil
}

// Free does nothing here; recycling happens in FreeChain.
func (m *FileAccessMgr) Free(b *block.Block) error {
	return m.check()
}

func (m *FileAccessMgr) Sync() error {
	if err := m.check(); err != nil {
		return err
	}
	if !m.syncNeeded {
		return nil
	}
	return m.SyncForce()
}

func (m *FileAccessMgr) SyncForce() error {
	if err := m.check(); err != nil {
		return err
	}
	if err := m.access.Sync(); err != nil {
		return accessErr(m.label, "sync", err)
	}
	m.syncNeeded = false
	return nil
}

func (m *FileAccessMgr) Valid(id common.BlockId) bool {
	return !m.closed && m.access.Valid(id)
}

func (m *FileAccessMgr) IsEmpty() bool {
	return m.access.IsEmpty()
}

func (m *FileAccessMgr) AllocLimit() common.BlockId {
	return m.access.AllocBoundary()
}

func (m *FileAccessMgr) ResetAlloc(limit common.BlockId) error {
	if err := m.check(); err != nil {
		return err
	}
	m.access.ResetAllocBoundary(limit)
	m.syncNeeded = true
	return nil
}

func (m *FileAccessMgr) BeginUpdate() error              { return m.check() }
func (m *FileAccessMgr) EndUpdate() error                { return m.check() }
func (m *FileAccessMgr) BeginRead() error                { return m.check() }
func (m *FileAccessMgr) EndRead() error                  { return m.check() }
func (m *FileAccessMgr) BeginIterator(it Iterator) error { return m.check() }
func (m *FileAccessMgr) EndIterator(it Iterator) error   { return m.check() }

func (m *FileAccessMgr) Label() string {
	return m.label
}

func (m *FileAccessMgr) Close() error {
	if m.closed {
		return nil
	}
	if err := m.Sync(); err != nil {
		return err
	}
	m.closed = true
	return accessErr(m.label, "close", m.access.Close())
}

func (m *FileAccessMgr) IsClosed() bool {
	return m.closed
}

package blockmgr

import (
	"github.com/mit-pdos/go-dboe/block"
	"github.com/mit-pdos/go-dboe/common"
	"github.com/mit-pdos/go-dboe/util"
)

// FreeChain recycles freed blocks within the process lifetime. Freed blocks
// are never recorded persistently; after a restart they are simply
// allocated-but-unused.
type FreeChain struct {
	next BlockMgr
	free []*block.Block // oldest first
}

var _ BlockMgr = (*FreeChain)(nil)

func NewFreeChain(next BlockMgr) *FreeChain {
	return &FreeChain{next: next}
}

func (f *FreeChain) Allocate(size int) (*block.Block, error) {
	if len(f.free) > 0 {
		b := f.free[0]
		if size <= 0 || size == b.Len() {
			f.free = f.free[1:]
			b.SetPos(0)
			b.SetReadOnly(false)
			b.SetModified(false)
			util.DPrintf(5, "%s: reuse %d\n", f.next.Label(), b.Id())
			return b, nil
		}
	}
	return f.next.Allocate(size)
}

func (f *FreeChain) Free(b *block.Block) error {
	if b.IsReadOnly() {
		return usageErr(f.next.Label(), "free of read-only block %d", b.Id())
	}
	for _, fb := range f.free {
		if fb.Id() == b.Id() {
			return usageErr(f.next.Label(), "block %d freed twice", b.Id())
		}
	}
	if err := f.next.Free(b); err != nil {
		return err
	}
	f.free = append(f.free, b)
	return nil
}

func (f *FreeChain) Valid(id common.BlockId) bool {
	for _, b := range f.free {
		if b.Id() == id {
			return true
		}
	}
	return f.next.Valid(id)
}

func (f *FreeChain) IsEmpty() bool {
	if len(f.free) > 0 {
		return false
	}
	return f.next.IsEmpty()
}

func (f *FreeChain) ResetAlloc(limit common.BlockId) error {
	var keep []*block.Block
	for _, b := range f.free {
		if b.Id() < limit {
			keep = append(keep, b)
		}
	}
	f.free = keep
	return f.next.ResetAlloc(limit)
}

// FreeCount is the number of blocks waiting to be reused.
func (f *FreeChain) FreeCount() int {
	return len(f.free)
}

func (f *FreeChain) Close() error {
	f.free = nil
	return f.next.Close()
}

func (f *FreeChain) GetRead(id common.BlockId) (*block.Block, error) {
	return f.next.GetRead(id)
}

func (f *FreeChain) GetReadIterator(id common.BlockId) (*block.Block, error) {
	return f.next.GetReadIterator(id)
}

func (f *FreeChain) GetWrite(id common.BlockId) (*block.Block, error) {
	return f.next.GetWrite(id)
}

func (f *FreeChain) Promote(b *block.Block) (*block.Block, error) {
	return f.next.Promote(b)
}

func (f *FreeChain) Release(b *block.Block) error    { return f.next.Release(b) }
func (f *FreeChain) Write(b *block.Block) error      { return f.next.Write(b) }
func (f *FreeChain) Overwrite(b *block.Block) error  { return f.next.Overwrite(b) }
func (f *FreeChain) Sync() error                     { return f.next.Sync() }
func (f *FreeChain) SyncForce() error                { return f.next.SyncForce() }
func (f *FreeChain) AllocLimit() common.BlockId      { return f.next.AllocLimit() }
func (f *FreeChain) BeginUpdate() error              { return f.next.BeginUpdate() }
func (f *FreeChain) EndUpdate() error                { return f.next.EndUpdate() }
func (f *FreeChain) BeginRead() error                { return f.next.BeginRead() }
func (f *FreeChain) EndRead() error                  { return f.next.EndRead() }
func (f *FreeChain) BeginIterator(it Iterator) error { return f.next.BeginIterator(it) }
func (f *FreeChain) EndIterator(it Iterator) error   { return f.next.EndIterator(it) }
func (f *FreeChain) Label() string                   { return f.next.Label() }
func (f *FreeChain) IsClosed() bool                  { return f.next.IsClosed() }

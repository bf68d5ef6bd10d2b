package blockaccess

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/tchajed/goose/machine/disk"
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-dboe/block"
	"github.com/mit-pdos/go-dboe/common"
	"github.com/mit-pdos/go-dboe/util"
)

// On-disk layout: block 0 holds the header (magic, allocation boundary);
// block id i lives at disk block i+1.
const (
	diskHdr   = common.Bnum(0)
	diskStart = common.Bnum(1)

	diskMagic uint64 = 0x44424f45424c4b31 // "DBOEBLK1"
)

var _ BlockAccess = (*diskAccess)(nil)

type diskAccess struct {
	mu       *sync.Mutex
	d        disk.Disk
	boundary common.BlockId
	hdrDirty bool
	closed   bool
}

// NewDisk layers block access over a goose disk, recovering the allocation
// boundary from the header block (or initializing from an all-zero disk).
func NewDisk(d disk.Disk) BlockAccess {
	a := &diskAccess{
		mu: new(sync.Mutex),
		d:  d,
	}
	hdr := d.Read(diskHdr)
	dec := marshal.NewDec(hdr)
	magic := dec.GetInt()
	if magic == diskMagic {
		a.boundary = common.BlockId(dec.GetInt())
	} else {
		a.hdrDirty = true
	}
	util.DPrintf(1, "NewDisk: size %d boundary %d\n", d.Size(), a.boundary)
	return a
}

func (a *diskAccess) hdr() disk.Block {
	enc := marshal.NewEnc(disk.BlockSize)
	enc.PutInt(diskMagic)
	enc.PutInt(uint64(a.boundary))
	return enc.Finish()
}

func (a *diskAccess) capacity() common.BlockId {
	return common.BlockId(a.d.Size() - diskStart)
}

func (a *diskAccess) Allocate(size int) (*block.Block, error) {
	sz, err := checkSize(size, int(disk.BlockSize))
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, ErrClosed
	}
	if a.boundary >= a.capacity() {
		return nil, errors.Wrapf(ErrFull, "disk holds %d blocks", a.capacity())
	}
	id := a.boundary
	a.boundary++
	a.hdrDirty = true
	return block.MkBlock(id, make([]byte, sz)), nil
}

func (a *diskAccess) Read(id common.BlockId) (*block.Block, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, ErrClosed
	}
	if id < 0 || id >= a.boundary {
		return nil, errors.Wrapf(ErrNotValid, "read %d (boundary %d)", id, a.boundary)
	}
	blk := a.d.Read(uint64(id) + diskStart)
	return block.MkBlock(id, blk), nil
}

func (a *diskAccess) write(b *block.Block, extend bool) error {
	if err := checkBlock(b, int(disk.BlockSize)); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	if b.Id() >= a.boundary {
		if !extend {
			return errors.Wrapf(ErrNotValid, "write %d (boundary %d)", b.Id(), a.boundary)
		}
		if b.Id() >= a.capacity() {
			return errors.Wrapf(ErrFull, "overwrite %d, disk holds %d blocks", b.Id(), a.capacity())
		}
		a.boundary = b.Id() + 1
		a.hdrDirty = true
	}
	util.DPrintf(5, "diskAccess: write %d\n", b.Id())
	a.d.Write(uint64(b.Id())+diskStart, util.CloneByteSlice(b.Data()))
	return nil
}

func (a *diskAccess) Write(b *block.Block) error {
	return a.write(b, false)
}

func (a *diskAccess) Overwrite(b *block.Block) error {
	return a.write(b, true)
}

func (a *diskAccess) Valid(id common.BlockId) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return id >= 0 && id < a.boundary
}

func (a *diskAccess) AllocBoundary() common.BlockId {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.boundary
}

func (a *diskAccess) ResetAllocBoundary(boundary common.BlockId) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.boundary = boundary
	a.hdrDirty = true
}

func (a *diskAccess) IsEmpty() bool {
	return a.AllocBoundary() == 0
}

func (a *diskAccess) BlockSize() int {
	return int(disk.BlockSize)
}

// Sync installs the header (if the boundary moved) and issues a barrier.
func (a *diskAccess) Sync() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	if a.hdrDirty {
		a.d.Write(diskHdr, a.hdr())
		a.hdrDirty = false
	}
	a.d.Barrier()
	return nil
}

func (a *diskAccess) Close() error {
	if err := a.Sync(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

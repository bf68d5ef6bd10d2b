// Package block holds the unit of storage handed out by a block manager.
package block

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/mit-pdos/go-dboe/common"
	"github.com/mit-pdos/go-dboe/util"
)

var (
	ErrModifiedToReadOnly = errors.New("attempt to set a modified block to read only")
	ErrReadOnlyModified   = errors.New("attempt to modify a read only block")
	ErrOutOfBounds        = errors.New("block access out of bounds")
)

// A Block is an identified byte buffer. read-only and modified are mutually
// exclusive.
type Block struct {
	id       common.BlockId
	data     []byte
	pos      int
	readOnly bool
	modified bool
}

func MkBlock(id common.BlockId, data []byte) *Block {
	b := &Block{
		id:   id,
		data: data,
	}
	return b
}

func (b *Block) Id() common.BlockId {
	return b.id
}

// Data returns the underlying buffer; callers must not change it unless the
// block is writable, and should call SetModified afterwards.
func (b *Block) Data() []byte {
	return b.data
}

func (b *Block) Len() int {
	return len(b.data)
}

func (b *Block) Pos() int {
	return b.pos
}

func (b *Block) SetPos(pos int) {
	if pos < 0 || pos > len(b.data) {
		panic(fmt.Errorf("block %d: position %d out of range", b.id, pos))
	}
	b.pos = pos
}

func (b *Block) IsReadOnly() bool {
	return b.readOnly
}

func (b *Block) SetReadOnly(ro bool) error {
	if ro && b.modified {
		return errors.Wrapf(ErrModifiedToReadOnly, "block %d", b.id)
	}
	b.readOnly = ro
	return nil
}

func (b *Block) IsModified() bool {
	return b.modified
}

func (b *Block) SetModified(mod bool) error {
	if mod && b.readOnly {
		return errors.Wrapf(ErrReadOnlyModified, "block %d", b.id)
	}
	b.modified = mod
	return nil
}

// Put copies p into the buffer at the current position and advances it.
func (b *Block) Put(p []byte) error {
	if b.readOnly {
		return errors.Wrapf(ErrReadOnlyModified, "block %d", b.id)
	}
	if b.pos+len(p) > len(b.data) {
		return errors.Wrapf(ErrOutOfBounds, "block %d: put %d bytes at %d (len %d)",
			b.id, len(p), b.pos, len(b.data))
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	b.modified = true
	return nil
}

// Get returns the next n bytes from the current position and advances it.
func (b *Block) Get(n int) ([]byte, error) {
	if b.pos+n > len(b.data) {
		return nil, errors.Wrapf(ErrOutOfBounds, "block %d: get %d bytes at %d (len %d)",
			b.id, n, b.pos, len(b.data))
	}
	p := b.data[b.pos : b.pos+n]
	b.pos += n
	return p, nil
}

// Replicate returns an independent copy with the same id and flags.
func (b *Block) Replicate() *Block {
	b2 := MkBlock(b.id, util.CloneByteSlice(b.data))
	b2.pos = b.pos
	b2.readOnly = b.readOnly
	b2.modified = b.modified
	return b2
}

func (b *Block) String() string {
	return fmt.Sprintf("Block[%d len=%d ro=%v mod=%v]", b.id, len(b.data), b.readOnly, b.modified)
}

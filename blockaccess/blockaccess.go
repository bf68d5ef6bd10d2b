// Package blockaccess is the raw persistence layer under a block manager: it
// stores fixed-size blocks by id and hands out new ids from an allocation
// boundary.
package blockaccess

import (
	"github.com/pkg/errors"

	"github.com/mit-pdos/go-dboe/block"
	"github.com/mit-pdos/go-dboe/common"
)

var (
	ErrBadSize  = errors.New("block size does not match the access block size")
	ErrNotValid = errors.New("block id is not allocated")
	ErrFull     = errors.New("no space for another block")
	ErrClosed   = errors.New("block access is closed")
)

// BlockAccess provides access to a store of fixed-size blocks.
type BlockAccess interface {
	// Allocate returns a new zeroed block at the allocation boundary.
	//
	// size <= 0 means the access block size.
	Allocate(size int) (*block.Block, error)

	// Read returns a private copy of a persisted block.
	Read(id common.BlockId) (*block.Block, error)

	// Write persists b, which must be within the allocated range.
	Write(b *block.Block) error

	// Overwrite persists b even past the allocation boundary, extending it.
	Overwrite(b *block.Block) error

	Valid(id common.BlockId) bool

	AllocBoundary() common.BlockId

	ResetAllocBoundary(boundary common.BlockId)

	IsEmpty() bool

	BlockSize() int

	// Sync ensures data is persisted.
	Sync() error

	// Close releases any resources and makes the access unusable.
	Close() error
}

func checkSize(size int, blockSize int) (int, error) {
	if size <= 0 {
		return blockSize, nil
	}
	if size != blockSize {
		return 0, errors.Wrapf(ErrBadSize, "asked for %d, block size %d", size, blockSize)
	}
	return size, nil
}

func checkBlock(b *block.Block, blockSize int) error {
	if b.Len() != blockSize {
		return errors.Wrapf(ErrBadSize, "block %d has %d bytes, block size %d",
			b.Id(), b.Len(), blockSize)
	}
	if b.Id() < 0 {
		return errors.Wrapf(ErrNotValid, "negative block id %d", b.Id())
	}
	return nil
}

// Package blockmgr provides session-bracketed, cached access to blocks.
//
// A block manager is a stack of layers, each wrapping the next:
//
//	Tracker (optional) -> SyncMgr -> Cache -> FreeChain -> FileAccessMgr -> BlockAccess
//
// Every layer implements BlockMgr, handles the calls it cares about, and
// forwards the rest.
package blockmgr

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/mit-pdos/go-dboe/block"
	"github.com/mit-pdos/go-dboe/blockaccess"
	"github.com/mit-pdos/go-dboe/common"
)

// Iterator identifies an iterator session. It must be comparable; callers
// usually pass the iterator's pointer.
type Iterator = interface{}

type BlockMgr interface {
	// Allocate returns a new writable block; size <= 0 means the manager's
	// block size.
	Allocate(size int) (*block.Block, error)

	// GetRead fetches a block for reading, inside a read or update session.
	GetRead(id common.BlockId) (*block.Block, error)

	// GetReadIterator fetches a block for an open iterator session.
	GetReadIterator(id common.BlockId) (*block.Block, error)

	// GetWrite fetches a block for mutation, inside an update session.
	GetWrite(id common.BlockId) (*block.Block, error)

	// Promote makes a block obtained by GetRead writable. Promoting a
	// writable block does nothing.
	Promote(b *block.Block) (*block.Block, error)

	// Release says the caller is finished with a fetched block.
	Release(b *block.Block) error

	// Write persists a block obtained by GetWrite, Promote or Allocate.
	Write(b *block.Block) error

	// Overwrite replaces the persisted contents, bypassing any caching.
	Overwrite(b *block.Block) error

	// Free returns a block for reuse by a later Allocate in this process.
	Free(b *block.Block) error

	// Sync flushes dirty state; SyncForce also forces the durable sync of
	// the storage underneath.
	Sync() error
	SyncForce() error

	Valid(id common.BlockId) bool
	IsEmpty() bool
	AllocLimit() common.BlockId
	ResetAlloc(limit common.BlockId) error

	BeginUpdate() error
	EndUpdate() error
	BeginRead() error
	EndRead() error
	BeginIterator(it Iterator) error
	EndIterator(it Iterator) error

	Label() string
	Close() error
	IsClosed() bool
}

type Kind int

const (
	// Usage is a caller error: session misuse, block state conflicts,
	// unknown ids.
	Usage Kind = iota + 1
	// Closed is any use of a closed manager.
	Closed
	// IO is a failure of the storage underneath.
	IO
)

func (k Kind) String() string {
	switch k {
	case Usage:
		return "usage"
	case Closed:
		return "closed"
	case IO:
		return "io"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

type Error struct {
	Kind  Kind
	Label string
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("blockmgr %s: %s error: %s", e.Label, e.Kind, e.Msg)
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func usageErr(label string, format string, a ...interface{}) error {
	return &Error{Kind: Usage, Label: label, Msg: fmt.Sprintf(format, a...)}
}

func closedErr(label string) error {
	return &Error{Kind: Closed, Label: label, Msg: "already closed"}
}

// accessErr classifies an error from the block access layer.
func accessErr(label string, op string, err error) error {
	if err == nil {
		return nil
	}
	k := IO
	switch errors.Cause(err) {
	case blockaccess.ErrClosed:
		k = Closed
	case blockaccess.ErrBadSize, blockaccess.ErrNotValid, blockaccess.ErrFull:
		k = Usage
	}
	return &Error{Kind: k, Label: label, Msg: op, Cause: err}
}

// IsKind reports whether err, or anything it wraps, is a *Error of kind k.
func IsKind(err error, k Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == k {
			return true
		}
		switch x := err.(type) {
		case interface{ Unwrap() error }:
			err = x.Unwrap()
		case interface{ Cause() error }:
			err = x.Cause()
		default:
			return false
		}
	}
	return false
}

// Package component has transactional components built on txn.Lifecycle:
// single values kept durable by a statemgr, and a block store over a
// blockmgr.
package component

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-dboe/bufchan"
	"github.com/mit-pdos/go-dboe/statemgr"
	"github.com/mit-pdos/go-dboe/txn"
	"github.com/mit-pdos/go-dboe/util"
)

// ErrNoSession is returned for a transaction the component has no session
// for, usually one that has already ended.
var ErrNoSession = errors.New("component: no session for transaction")

type codec[T any] struct {
	encode func(v T) []byte
	decode func(b []byte) (T, error)
	clone  func(v T) T
}

var intCodec = codec[uint64]{
	encode: func(v uint64) []byte {
		enc := marshal.NewEnc(8)
		enc.PutInt(v)
		return enc.Finish()
	},
	decode: func(b []byte) (uint64, error) {
		if len(b) != 8 {
			return 0, errors.Errorf("integer: %d bytes", len(b))
		}
		return marshal.NewDec(b).GetInt(), nil
	},
	clone: func(v uint64) uint64 { return v },
}

var blobCodec = codec[[]byte]{
	encode: util.CloneByteSlice,
	decode: func(b []byte) ([]byte, error) { return util.CloneByteSlice(b), nil },
	clone:  util.CloneByteSlice,
}

type cellState[T any] struct {
	c codec[T]
	v T
}

func (s *cellState[T]) MarshalState() []byte {
	return s.c.encode(s.v)
}

func (s *cellState[T]) UnmarshalState(b []byte) error {
	v, err := s.c.decode(b)
	if err != nil {
		return err
	}
	s.v = v
	return nil
}

type cellTxn[T any] struct {
	v     T
	dirty bool
}

type cellHooks[T any] struct {
	label string
	mu    *sync.Mutex
	st    *cellState[T]
	mgr   *statemgr.StateMgr
}

// Cell is a single transactional value. A transaction sees the value
// committed when it began, plus its own changes.
type Cell[T any] struct {
	*txn.Lifecycle[*cellTxn[T]]
	h *cellHooks[T]
}

// Integer is a transactional uint64.
type Integer = Cell[uint64]

// Blob is a transactional byte string.
type Blob = Cell[[]byte]

func NewInteger(id txn.ComponentId, ch bufchan.BufferChannel) (*Integer, error) {
	return newCell(id, ch, intCodec, 0)
}

func NewBlob(id txn.ComponentId, ch bufchan.BufferChannel) (*Blob, error) {
	return newCell(id, ch, blobCodec, nil)
}

func newCell[T any](id txn.ComponentId, ch bufchan.BufferChannel, c codec[T], init T) (*Cell[T], error) {
	st := &cellState[T]{c: c, v: init}
	mgr, err := statemgr.New(ch, st)
	if err != nil {
		return nil, errors.Wrapf(err, "%v", id)
	}
	h := &cellHooks[T]{
		label: id.String(),
		mu:    new(sync.Mutex),
		st:    st,
		mgr:   mgr,
	}
	return &Cell[T]{Lifecycle: txn.NewLifecycle[*cellTxn[T]](id, h), h: h}, nil
}

func (c *Cell[T]) session(t *txn.Transaction) (*cellTxn[T], error) {
	x, ok := c.Data(t)
	if !ok {
		return nil, errors.Wrapf(ErrNoSession, "%v %s", c.ComponentId(), t.Id())
	}
	return x, nil
}

// Get returns the value as t sees it.
func (c *Cell[T]) Get(t *txn.Transaction) (T, error) {
	x, err := c.session(t)
	if err != nil {
		var zero T
		return zero, err
	}
	return c.h.st.c.clone(x.v), nil
}

// Set changes the value in t; t must be a writer.
func (c *Cell[T]) Set(t *txn.Transaction, v T) error {
	x, err := c.session(t)
	if err != nil {
		return err
	}
	if err := t.NotifyUpdate(); err != nil {
		return err
	}
	x.v = c.h.st.c.clone(v)
	x.dirty = true
	return nil
}

// Value is the latest committed value.
func (c *Cell[T]) Value() T {
	c.h.mu.Lock()
	defer c.h.mu.Unlock()
	return c.h.st.c.clone(c.h.st.v)
}

func (h *cellHooks[T]) StartRecovery() {
	util.DPrintf(1, "%s: start recovery\n", h.label)
}

func (h *cellHooks[T]) Recover(payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.mgr.SetState(payload); err != nil {
		return errors.Wrapf(err, "%s: recover", h.label)
	}
	return h.mgr.WriteState()
}

func (h *cellHooks[T]) FinishRecovery() {
	util.DPrintf(1, "%s: recovered\n", h.label)
}

func (h *cellHooks[T]) CleanStart() {}

func (h *cellHooks[T]) Begin(t *txn.Transaction) (*cellTxn[T], error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return &cellTxn[T]{v: h.st.c.clone(h.st.v)}, nil
}

func (h *cellHooks[T]) CommitPrepare(t *txn.Transaction, x *cellTxn[T]) ([]byte, error) {
	if !x.dirty {
		return nil, nil
	}
	return h.st.c.encode(x.v), nil
}

func (h *cellHooks[T]) Commit(t *txn.Transaction, x *cellTxn[T]) error {
	if !x.dirty {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	old := h.st.v
	h.st.v = x.v
	h.mgr.SetDirty()
	if err := h.mgr.Sync(); err != nil {
		h.st.v = old
		return errors.Wrapf(err, "%s: commit", h.label)
	}
	return nil
}

func (h *cellHooks[T]) CommitEnd(t *txn.Transaction, x *cellTxn[T]) error { return nil }
func (h *cellHooks[T]) Abort(t *txn.Transaction, x *cellTxn[T]) error     { return nil }
func (h *cellHooks[T]) Complete(t *txn.Transaction, x *cellTxn[T]) error  { return nil }

func (h *cellHooks[T]) Shutdown() {
	if err := h.mgr.Close(); err != nil {
		util.Warnf("%s: close: %v", h.label, err)
	}
}

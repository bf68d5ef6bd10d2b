// Package statemgr keeps a small piece of state durable in a BufferChannel.
package statemgr

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-dboe/bufchan"
	"github.com/mit-pdos/go-dboe/util"
)

// State is the in-memory form of what a StateMgr persists.
type State interface {
	MarshalState() []byte
	UnmarshalState(b []byte) error
}

// StateMgr persists a State as a length-prefixed record at the start of a
// channel. The state in memory may run ahead of the channel; it is durable
// only once WriteState returns.
type StateMgr struct {
	mu    *sync.Mutex
	ch    bufchan.BufferChannel
	st    State
	dirty bool
}

// New reads the state from ch, or, if ch is empty, writes st as the initial
// state.
func New(ch bufchan.BufferChannel, st State) (*StateMgr, error) {
	m := &StateMgr{
		mu: new(sync.Mutex),
		ch: ch,
		st: st,
	}
	if ch.IsEmpty() {
		util.DPrintf(3, "statemgr %s: initial state\n", ch.Label())
		if err := m.WriteState(); err != nil {
			return nil, err
		}
		return m, nil
	}
	b, err := m.read()
	if err != nil {
		return nil, err
	}
	if err := st.UnmarshalState(b); err != nil {
		return nil, errors.Wrapf(err, "statemgr %s: decode", ch.Label())
	}
	return m, nil
}

func (m *StateMgr) read() ([]byte, error) {
	hdr := make([]byte, 8)
	n, err := m.ch.Read(hdr, 0)
	if err != nil {
		return nil, err
	}
	if n != len(hdr) {
		return nil, errors.Errorf("statemgr %s: short header (%d bytes)", m.ch.Label(), n)
	}
	ln := marshal.NewDec(hdr).GetInt()
	b := make([]byte, ln)
	n, err = m.ch.Read(b, 8)
	if err != nil {
		return nil, err
	}
	if uint64(n) != ln {
		return nil, errors.Errorf("statemgr %s: want %d bytes, have %d", m.ch.Label(), ln, n)
	}
	return b, nil
}

// GetState returns the serialized in-memory state.
func (m *StateMgr) GetState() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.MarshalState()
}

// SetState replaces the in-memory state; it is not written.
func (m *StateMgr) SetState(b []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.st.UnmarshalState(b); err != nil {
		return err
	}
	m.dirty = true
	return nil
}

// State returns the managed state; callers that change it should SetDirty.
func (m *StateMgr) State() State {
	return m.st
}

func (m *StateMgr) SetDirty() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirty = true
}

func (m *StateMgr) IsDirty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirty
}

// WriteState serializes, writes and syncs the state.
func (m *StateMgr) WriteState() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeState()
}

func (m *StateMgr) writeState() error {
	b := m.st.MarshalState()
	enc := marshal.NewEnc(8)
	enc.PutInt(uint64(len(b)))
	rec := append(enc.Finish(), b...)
	if _, err := m.ch.Write(rec, 0); err != nil {
		return errors.Wrapf(err, "statemgr %s: write", m.ch.Label())
	}
	if m.ch.Size() > int64(len(rec)) {
		if err := m.ch.Truncate(int64(len(rec))); err != nil {
			return err
		}
	}
	if err := m.ch.Sync(); err != nil {
		return errors.Wrapf(err, "statemgr %s: sync", m.ch.Label())
	}
	m.dirty = false
	return nil
}

// Sync writes the state only if it changed since the last write.
func (m *StateMgr) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dirty {
		return nil
	}
	return m.writeState()
}

func (m *StateMgr) Close() error {
	if err := m.Sync(); err != nil {
		return err
	}
	return m.ch.Close()
}

package txn

import (
	"fmt"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tchajed/marshal"
)

var errInjected = errors.New("injected failure")

// counterHooks is a transactional uint64 kept in memory.
type counterHooks struct {
	mu     *sync.Mutex
	value  uint64
	events []string

	failBegin  bool
	failCommit bool
	// onCommit runs inside the Commit hook.
	onCommit func()
}

type pending struct {
	value uint64
	set   bool
}

type counter struct {
	*Lifecycle[*pending]
	h *counterHooks
}

func newCounter(id ComponentId) *counter {
	h := &counterHooks{mu: new(sync.Mutex)}
	return &counter{Lifecycle: NewLifecycle[*pending](id, h), h: h}
}

func encodeValue(v uint64) []byte {
	enc := marshal.NewEnc(8)
	enc.PutInt(v)
	return enc.Finish()
}

func (h *counterHooks) record(ev string) {
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
}

func (h *counterHooks) StartRecovery()  { h.record("startRecovery") }
func (h *counterHooks) FinishRecovery() { h.record("finishRecovery") }
func (h *counterHooks) CleanStart()     { h.record("cleanStart") }
func (h *counterHooks) Shutdown()       { h.record("shutdown") }

func (h *counterHooks) Recover(payload []byte) error {
	h.record("recover")
	h.mu.Lock()
	h.value = marshal.NewDec(payload).GetInt()
	h.mu.Unlock()
	return nil
}

func (h *counterHooks) Begin(txn *Transaction) (*pending, error) {
	if h.failBegin {
		return nil, errInjected
	}
	h.record("begin")
	h.mu.Lock()
	defer h.mu.Unlock()
	return &pending{value: h.value}, nil
}

func (h *counterHooks) CommitPrepare(txn *Transaction, p *pending) ([]byte, error) {
	h.record("prepare")
	if !p.set {
		return nil, nil
	}
	return encodeValue(p.value), nil
}

func (h *counterHooks) Commit(txn *Transaction, p *pending) error {
	if h.onCommit != nil {
		h.onCommit()
	}
	if h.failCommit {
		return errInjected
	}
	h.record("commit")
	if p.set {
		h.mu.Lock()
		h.value = p.value
		h.mu.Unlock()
	}
	return nil
}

func (h *counterHooks) CommitEnd(txn *Transaction, p *pending) error {
	h.record("commitEnd")
	return nil
}

func (h *counterHooks) Abort(txn *Transaction, p *pending) error {
	h.record("abort")
	return nil
}

func (h *counterHooks) Complete(txn *Transaction, p *pending) error {
	h.record("complete")
	return nil
}

func (c *counter) get(t *Transaction) uint64 {
	p, ok := c.Data(t)
	if !ok {
		panic("no session")
	}
	return p.value
}

func (c *counter) set(t *Transaction, v uint64) {
	p, ok := c.Data(t)
	if !ok {
		panic("no session")
	}
	p.value = v
	p.set = true
}

func (c *counter) committed() uint64 {
	c.h.mu.Lock()
	defer c.h.mu.Unlock()
	return c.h.value
}

func (c *counter) events() []string {
	c.h.mu.Lock()
	defer c.h.mu.Unlock()
	return append([]string(nil), c.h.events...)
}

func (c *counter) clearEvents() {
	c.h.mu.Lock()
	c.h.events = nil
	c.h.mu.Unlock()
}

func TestComponentIdDerive(t *testing.T) {
	assert := assert.New(t)
	base, err := ComponentIdFromBytes("base", make([]byte, 16))
	require.NoError(t, err)

	d := base.Derive("d", 0x01020304)
	assert.Equal([]byte{1, 2, 3, 4}, d.Bytes()[12:])
	assert.Equal(make([]byte, 12), d.Bytes()[:12])
	assert.True(d.Equal(base.Derive("other label", 0x01020304)))
	assert.False(d.Equal(base))
	assert.True(d.Derive("back", 0x01020304).Equal(base))

	a := AllocComponentId("a")
	assert.False(a.Equal(AllocComponentId("a")))
	assert.Equal("a", a.Label())
}

func TestComponentIdBytes(t *testing.T) {
	assert := assert.New(t)
	_, err := ComponentIdFromBytes("short", make([]byte, 15))
	assert.Error(err)

	a := AllocComponentId("a")
	b, err := ComponentIdFromBytes("copy", a.Bytes())
	assert.NoError(err)
	assert.True(a.Equal(b))
	assert.Equal(a.Key(), b.Key())

	p, err := ParseComponentId("parsed", "6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	assert.NoError(err)
	assert.Equal(byte(0x6b), p.Bytes()[0])
	_, err = ParseComponentId("bad", "not-a-uuid")
	assert.Error(err)
}

func TestTxnIdGenerators(t *testing.T) {
	assert := assert.New(t)
	g := NewSimpleTxnIdGenerator()
	assert.Equal(TxnId("1"), g.Generate())
	assert.Equal(TxnId("2"), g.Generate())

	u := NewUUIDTxnIdGenerator()
	assert.NotEqual(u.Generate(), u.Generate())
}

func TestComponentGroup(t *testing.T) {
	assert := assert.New(t)
	g := NewComponentGroup()
	a := newCounter(AllocComponentId("a"))
	b := newCounter(AllocComponentId("b"))
	assert.NoError(g.Add(a))
	assert.NoError(g.Add(b))
	err := g.Add(newCounter(a.ComponentId()))
	assert.True(IsKind(err, Config))
	assert.Equal(2, g.Len())
	assert.Equal(a, g.Find(a.ComponentId()))

	var order []string
	g.ForEach(func(c TransactionalComponent) {
		order = append(order, c.ComponentId().Label())
	})
	assert.Equal([]string{"a", "b"}, order)

	assert.True(g.Remove(a.ComponentId()))
	assert.False(g.Remove(a.ComponentId()))
	assert.Nil(g.Find(a.ComponentId()))
	assert.Equal(1, g.Len())
}

func TestErrorCause(t *testing.T) {
	assert := assert.New(t)
	x := newCounter(AllocComponentId("x"))
	c := newStarted(t, x)
	x.h.failCommit = true

	w := begin(t, c, WRITE)
	x.set(w, 1)
	err := w.Commit()
	assert.True(IsKind(err, Durability))
	assert.True(IsKind(err, Component))
	assert.Equal(errInjected, RootCause(err))
	require.IsType(t, &Error{}, err)
	assert.Contains(fmt.Sprintf("%+v", err.(*Error).Cause), "txn.newErr")
	assert.Nil(RootCause(nil))
}

type constTxnIds struct{}

func (constTxnIds) Generate() TxnId { return "same" }

func TestLifecycleOrder(t *testing.T) {
	assert := assert.New(t)
	c := newStarted(t)
	tx, err := c.Begin(WRITE, true)
	require.NoError(t, err)

	lc := newCounter(AllocComponentId("lc"))
	assert.NoError(lc.Begin(tx))
	assert.True(IsKind(lc.Begin(tx), WrongState))
	assert.True(IsKind(lc.Commit(tx), WrongState))
	assert.True(IsKind(lc.Complete(tx), WrongState), "writer must commit or abort")

	_, err = lc.CommitPrepare(tx)
	assert.NoError(err)
	assert.Equal(PREPARE, lc.State(tx))
	assert.True(IsKind(lc.CommitEnd(tx), WrongState))
	assert.NoError(lc.Commit(tx))
	assert.NoError(lc.CommitEnd(tx))
	assert.Equal(INACTIVE, lc.State(tx))
	assert.Equal(0, lc.NumSessions())
	assert.NoError(lc.Complete(tx))
	assert.Equal([]string{"begin", "prepare", "commit", "commitEnd", "complete"}, lc.events())

	_, err = lc.CommitPrepare(tx)
	assert.True(IsKind(err, WrongState), "session is gone")

	assert.NoError(tx.Abort())
	assert.NoError(tx.End())
}

func TestLifecycleAbort(t *testing.T) {
	assert := assert.New(t)
	c := newStarted(t)
	tx, err := c.Begin(WRITE, true)
	require.NoError(t, err)

	lc := newCounter(AllocComponentId("lc"))
	assert.NoError(lc.Begin(tx))
	_, err = lc.CommitPrepare(tx)
	assert.NoError(err)
	assert.NoError(lc.Abort(tx))
	assert.Equal(0, lc.NumSessions())
	assert.True(IsKind(lc.Abort(tx), WrongState))
	assert.Equal([]string{"begin", "prepare", "abort", "complete"}, lc.events())
	assert.NoError(tx.Abort())
}

func TestLifecycleReaderComplete(t *testing.T) {
	assert := assert.New(t)
	c := newStarted(t)
	tx, err := c.Begin(READ, true)
	require.NoError(t, err)

	lc := newCounter(AllocComponentId("lc"))
	assert.NoError(lc.Begin(tx))
	assert.NoError(lc.Complete(tx))
	assert.Equal(0, lc.NumSessions())
	assert.NoError(lc.Complete(tx))
	assert.Equal([]string{"begin", "complete"}, lc.events())
	assert.NoError(tx.End())
}

func TestLifecycleAlignment(t *testing.T) {
	assert := assert.New(t)
	c := newCoordinator(t)
	require.NoError(t, c.SetTxnIdGenerator(constTxnIds{}))
	require.NoError(t, c.Start())

	t1, err := c.Begin(READ, true)
	require.NoError(t, err)
	t2, err := c.Begin(READ, true)
	require.NoError(t, err)
	assert.Equal(t1.Id(), t2.Id())

	lc := newCounter(AllocComponentId("lc"))
	assert.NoError(lc.Begin(t1))
	_, err = lc.CommitPrepare(t2)
	assert.True(IsKind(err, NotAligned))
	assert.True(IsKind(lc.Complete(t2), NotAligned))
	_, ok := lc.Data(t2)
	assert.False(ok)
	assert.NoError(lc.Complete(t1))

	assert.NoError(t1.End())
	assert.NoError(t2.End())
}

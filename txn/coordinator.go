// Package txn coordinates transactions over a group of components: any
// number of readers and at most one writer at a time, with writes made
// durable through a journal before they become visible.
//
// A writer's commit runs under the coordinator lock:
//
//	prepare each component -> journal REDO payloads + COMMIT -> sync
//	(commit point) -> component commit -> truncate journal ->
//	component commitEnd -> readers' epoch := writer's epoch
//
// At Start the coordinator replays every committed journal group into its
// components, so a crash after the commit point loses nothing.
package txn

import (
	"context"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/atomic"
	"golang.org/x/sync/semaphore"

	"github.com/mit-pdos/go-dboe/journal"
	"github.com/mit-pdos/go-dboe/util"
)

type Coordinator struct {
	// mu serializes begin and writer commit, recovery and shutdown.
	mu         *sync.Mutex
	journal    *journal.Journal
	components *ComponentGroup
	listeners  []TransactionListener
	hooks      []ShutdownHook
	txnIds     TxnIdGenerator

	started      *atomic.Bool
	configurable *atomic.Bool
	shutdown     *atomic.Bool

	// writers admits one writer; BlockWriters holds it too.
	writers        *semaphore.Weighted
	writersBlocked *atomic.Bool
	// unapplied is set when a commit failed after the commit point. The
	// journal then holds a group only recovery can apply, so no writer may
	// append to or truncate it until a restart.
	unapplied *atomic.Bool

	// exclusivity is held shared by every live transaction and exclusively
	// in exclusive mode.
	exclusivity *sync.RWMutex
	exclusive   *atomic.Bool

	writerEpoch *atomic.Uint64
	readerEpoch *atomic.Uint64

	active *xsync.MapOf[*Transaction, struct{}]

	countBegin      *atomic.Uint64
	countBeginRead  *atomic.Uint64
	countBeginWrite *atomic.Uint64
	countFinished   *atomic.Uint64
	activeReaders   *atomic.Int64
	activeWriters   *atomic.Int64
}

func NewCoordinator(j *journal.Journal) *Coordinator {
	return &Coordinator{
		mu:              new(sync.Mutex),
		journal:         j,
		components:      NewComponentGroup(),
		txnIds:          NewSimpleTxnIdGenerator(),
		started:         atomic.NewBool(false),
		configurable:    atomic.NewBool(true),
		shutdown:        atomic.NewBool(false),
		writers:         semaphore.NewWeighted(1),
		writersBlocked:  atomic.NewBool(false),
		unapplied:       atomic.NewBool(false),
		exclusivity:     new(sync.RWMutex),
		exclusive:       atomic.NewBool(false),
		writerEpoch:     atomic.NewUint64(0),
		readerEpoch:     atomic.NewUint64(0),
		active:          xsync.NewMapOf[*Transaction, struct{}](),
		countBegin:      atomic.NewUint64(0),
		countBeginRead:  atomic.NewUint64(0),
		countBeginWrite: atomic.NewUint64(0),
		countFinished:   atomic.NewUint64(0),
		activeReaders:   atomic.NewInt64(0),
		activeWriters:   atomic.NewInt64(0),
	}
}

func (c *Coordinator) checkRunning() error {
	if c.shutdown.Load() {
		return newErr(Shutdown, nil, "coordinator is shut down")
	}
	return nil
}

func (c *Coordinator) checkConfigurable(what string) error {
	if err := c.checkRunning(); err != nil {
		return err
	}
	if !c.configurable.Load() {
		return newErr(Config, nil, "%s: configuration is locked", what)
	}
	return nil
}

// Add registers a component. Only before Start or inside ModifyConfig.
func (c *Coordinator) Add(comp TransactionalComponent) error {
	if err := c.checkConfigurable("add"); err != nil {
		return err
	}
	return c.components.Add(comp)
}

func (c *Coordinator) Remove(id ComponentId) error {
	if err := c.checkConfigurable("remove"); err != nil {
		return err
	}
	if !c.components.Remove(id) {
		return newErr(Config, nil, "remove: no component %v", id)
	}
	return nil
}

// Find returns the component with id, or nil.
func (c *Coordinator) Find(id ComponentId) TransactionalComponent {
	return c.components.Find(id)
}

func (c *Coordinator) AddListener(l TransactionListener) error {
	if err := c.checkConfigurable("add listener"); err != nil {
		return err
	}
	c.listeners = append(c.listeners, l)
	return nil
}

func (c *Coordinator) RemoveListener(l TransactionListener) error {
	if err := c.checkConfigurable("remove listener"); err != nil {
		return err
	}
	for i, x := range c.listeners {
		if x == l {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			return nil
		}
	}
	return newErr(Config, nil, "remove listener: not registered")
}

func (c *Coordinator) AddShutdownHook(h ShutdownHook) error {
	if err := c.checkConfigurable("add shutdown hook"); err != nil {
		return err
	}
	c.hooks = append(c.hooks, h)
	return nil
}

func (c *Coordinator) RemoveShutdownHook(h ShutdownHook) error {
	if err := c.checkConfigurable("remove shutdown hook"); err != nil {
		return err
	}
	for i, x := range c.hooks {
		if x == h {
			c.hooks = append(c.hooks[:i], c.hooks[i+1:]...)
			return nil
		}
	}
	return newErr(Config, nil, "remove shutdown hook: not registered")
}

func (c *Coordinator) SetTxnIdGenerator(g TxnIdGenerator) error {
	if err := c.checkConfigurable("set txn id generator"); err != nil {
		return err
	}
	c.txnIds = g
	return nil
}

// ModifyConfig runs fn in exclusive mode with the configuration unlocked.
func (c *Coordinator) ModifyConfig(fn func() error) error {
	if err := c.checkRunning(); err != nil {
		return err
	}
	c.StartExclusiveMode()
	defer c.FinishExclusiveMode()
	prev := c.configurable.Load()
	c.configurable.Store(true)
	defer c.configurable.Store(prev)
	return fn()
}

// Start recovers the components from the journal and locks the
// configuration. Transactions can begin only after Start.
func (c *Coordinator) Start() error {
	if err := c.checkRunning(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started.Load() {
		return newErr(Config, nil, "start: already started")
	}
	if err := c.recovery(); err != nil {
		return err
	}
	c.configurable.Store(false)
	c.started.Store(true)
	return nil
}

func (c *Coordinator) recovery() error {
	if c.journal.IsEmpty() {
		util.DPrintf(1, "recovery: journal empty, clean start\n")
		c.components.ForEach(func(comp TransactionalComponent) { comp.CleanStart() })
		return nil
	}
	entries, err := c.journal.Entries()
	if err != nil {
		return newErr(Durability, err, "recovery: read journal")
	}
	c.components.ForEach(func(comp TransactionalComponent) { comp.StartRecovery() })

	var group []journal.Entry
	var ntxn, nredo int
	for _, e := range entries {
		switch e.Type {
		case journal.REDO:
			group = append(group, e)
		case journal.UNDO:
			util.Warnf("recovery: skipping %v", e)
		case journal.ABORT:
			group = nil
		case journal.COMMIT:
			for _, r := range group {
				comp := c.components.FindKey(ComponentKey(r.Component))
				if comp == nil {
					util.Warnf("recovery: no component for %v", r)
					continue
				}
				if err := comp.Recover(r.Payload); err != nil {
					return newErr(Durability, err, "recovery: %v", comp.ComponentId())
				}
				nredo++
			}
			ntxn++
			group = nil
		}
	}
	if len(group) > 0 {
		util.Warnf("recovery: %d entries after the last commit", len(group))
	}

	c.components.ForEach(func(comp TransactionalComponent) { comp.FinishRecovery() })
	if err := c.journal.Reset(); err != nil {
		return newErr(Durability, err, "recovery: reset journal")
	}
	util.Infof("recovery: replayed %d entries from %d transactions", nredo, ntxn)
	return nil
}

// Begin starts a transaction. A writer waits for the writer slot unless
// canBlock is false, in which case Begin returns a nil transaction and no
// error when the slot, or exclusive mode, is taken.
func (c *Coordinator) Begin(mode Mode, canBlock bool) (*Transaction, error) {
	return c.begin(context.Background(), mode, canBlock)
}

// BeginContext is Begin that waits for the writer slot until ctx is done.
func (c *Coordinator) BeginContext(ctx context.Context, mode Mode) (*Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, newErr(Interrupted, err, "begin")
	}
	return c.begin(ctx, mode, true)
}

func (c *Coordinator) begin(ctx context.Context, mode Mode, canBlock bool) (*Transaction, error) {
	if err := c.checkRunning(); err != nil {
		return nil, err
	}
	if !c.started.Load() {
		return nil, newErr(Config, nil, "begin: coordinator not started")
	}
	if mode == WRITE && c.unapplied.Load() {
		return nil, errUnapplied("begin")
	}
	if canBlock {
		c.exclusivity.RLock()
	} else if !c.exclusivity.TryRLock() {
		return nil, nil
	}
	if mode == WRITE {
		if canBlock {
			if err := c.writers.Acquire(ctx, 1); err != nil {
				c.exclusivity.RUnlock()
				return nil, newErr(Interrupted, err, "begin: waiting for the writer slot")
			}
		} else if !c.writers.TryAcquire(1) {
			c.exclusivity.RUnlock()
			return nil, nil
		}
	}

	if mode == WRITE && c.unapplied.Load() {
		c.writers.Release(1)
		c.exclusivity.RUnlock()
		return nil, errUnapplied("begin")
	}

	t, err := c.beginLocked(mode)
	if err != nil {
		if mode == WRITE {
			c.writers.Release(1)
		}
		c.exclusivity.RUnlock()
		return nil, err
	}

	c.active.Store(t, struct{}{})
	c.countBegin.Inc()
	if mode == WRITE {
		c.countBeginWrite.Inc()
		c.activeWriters.Inc()
	} else {
		c.countBeginRead.Inc()
		c.activeReaders.Inc()
	}
	c.notify(func(l TransactionListener) { l.NotifyTxnStart(t) })
	return t, nil
}

// beginLocked creates the transaction and its component sessions. If a
// component fails to begin, those already begun are aborted.
func (c *Coordinator) beginLocked(mode Mode) (*Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkRunning(); err != nil {
		return nil, err
	}
	t := &Transaction{
		coord: c,
		id:    c.txnIds.Generate(),
		mode:  mode,
		mu:    new(sync.Mutex),
		state: INACTIVE,
	}
	if mode == WRITE {
		t.epoch = c.writerEpoch.Inc()
		t.slot = true
	} else {
		t.epoch = c.readerEpoch.Load()
	}
	c.components.ForEach(func(comp TransactionalComponent) {
		t.components = append(t.components, &ComponentSession{component: comp, txn: t})
	})
	n, err := t.begin()
	if err != nil {
		for _, s := range t.components[:n] {
			if aerr := s.abort(); aerr != nil {
				util.Warnf("%s: abort after failed begin: %v", t.id, aerr)
			}
		}
		t.slot = false
		t.setState(END_ABORTED)
		return nil, err
	}
	util.DPrintf(3, "begin %s\n", t)
	return t, nil
}

func (c *Coordinator) promote(t *Transaction) error {
	return ErrPromoteUnsupported
}

func (c *Coordinator) releaseWriter(t *Transaction) {
	if t.slot {
		t.slot = false
		c.writers.Release(1)
	}
}

// executeCommit commits t after its components prepared prep.
func (c *Coordinator) executeCommit(t *Transaction, prep []prepared) error {
	c.notify(func(l TransactionListener) { l.NotifyCommitStart(t) })
	defer c.notify(func(l TransactionListener) { l.NotifyCommitFinish(t) })
	if !t.IsWriteTxn() {
		if err := t.runCommit(); err != nil {
			t.rollback()
			return err
		}
		return t.runCommitEnd()
	}
	c.mu.Lock()
	err := c.commitWriter(t, prep)
	c.mu.Unlock()
	c.releaseWriter(t)
	return err
}

func (c *Coordinator) commitWriter(t *Transaction, prep []prepared) error {
	if err := c.checkRunning(); err != nil {
		t.rollback()
		return err
	}
	if len(prep) > 0 {
		if err := c.writeJournal(prep); err != nil {
			c.journal.AbortWrite()
			t.rollback()
			return newErr(Durability, err, "%s: journal", t.id)
		}
	}
	// Committed: recovery will redo the journal from here on.
	if err := t.runCommit(); err != nil {
		util.Errorf("%s: commit after the commit point failed: %v", t.id, err)
		if len(prep) > 0 {
			c.unapplied.Store(true)
		}
		t.rollback()
		return newErr(Durability, err, "%s: committed but not applied; recovery will redo it", t.id)
	}
	if len(prep) > 0 {
		if err := c.journal.Truncate(0); err != nil {
			util.Errorf("%s: truncate journal: %v", t.id, err)
		}
	}
	err := t.runCommitEnd()
	c.readerEpoch.Store(t.epoch)
	util.DPrintf(3, "commit %s: %d payloads\n", t, len(prep))
	return err
}

func errUnapplied(what string) error {
	return newErr(Durability, nil,
		"%s: the journal holds a committed transaction that was not applied; restart to recover", what)
}

// NeedsRecovery reports whether a commit failed after its commit point, in
// which case writers are refused until the coordinator is restarted.
func (c *Coordinator) NeedsRecovery() bool {
	return c.unapplied.Load()
}

func (c *Coordinator) writeJournal(prep []prepared) error {
	for _, p := range prep {
		e := journal.Entry{Type: journal.REDO, Component: p.id.Key(), Payload: p.payload}
		if err := c.journal.Write(e); err != nil {
			return err
		}
	}
	if err := c.journal.WriteJournal(journal.COMMIT); err != nil {
		return err
	}
	return c.journal.Sync()
}

func (c *Coordinator) executeAbort(t *Transaction) error {
	c.notify(func(l TransactionListener) { l.NotifyAbortStart(t) })
	err := t.abortSessions()
	c.releaseWriter(t)
	c.notify(func(l TransactionListener) { l.NotifyAbortFinish(t) })
	return err
}

// completed removes a finalised transaction; it may be called more than
// once.
func (c *Coordinator) completed(t *Transaction) {
	if _, ok := c.active.LoadAndDelete(t); !ok {
		return
	}
	c.releaseWriter(t)
	c.countFinished.Inc()
	if t.IsWriteTxn() {
		c.activeWriters.Dec()
	} else {
		c.activeReaders.Dec()
	}
	c.exclusivity.RUnlock()
	c.notify(func(l TransactionListener) { l.NotifyTxnFinish(t) })
}

func (c *Coordinator) notify(f func(l TransactionListener)) {
	for _, l := range c.listeners {
		f(l)
	}
}

// Shutdown stops the components, runs the shutdown hooks and closes the
// journal. Later calls do nothing.
func (c *Coordinator) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown.Load() {
		return nil
	}
	if n := c.active.Size(); n > 0 {
		util.Warnf("shutdown with %d active transactions", n)
	}
	c.shutdown.Store(true)
	c.components.ForEach(func(comp TransactionalComponent) { comp.Shutdown() })
	for _, h := range c.hooks {
		h.Shutdown()
	}
	return c.journal.Close()
}

func (c *Coordinator) IsShutdown() bool {
	return c.shutdown.Load()
}

// StartExclusiveMode waits for every transaction to end and keeps new ones
// from beginning until FinishExclusiveMode. It must not be called from a
// goroutine with a live transaction.
func (c *Coordinator) StartExclusiveMode() {
	c.exclusivity.Lock()
	c.exclusive.Store(true)
}

// TryExclusiveMode is StartExclusiveMode that, when canBlock is false,
// gives up instead of waiting.
func (c *Coordinator) TryExclusiveMode(canBlock bool) bool {
	if canBlock {
		c.StartExclusiveMode()
		return true
	}
	if !c.exclusivity.TryLock() {
		return false
	}
	c.exclusive.Store(true)
	return true
}

func (c *Coordinator) FinishExclusiveMode() error {
	if !c.exclusive.Load() {
		return newErr(Config, nil, "finish exclusive mode: not in exclusive mode")
	}
	c.exclusive.Store(false)
	c.exclusivity.Unlock()
	return nil
}

func (c *Coordinator) ExecExclusive(fn func() error) error {
	c.StartExclusiveMode()
	defer c.FinishExclusiveMode()
	return fn()
}

// BlockWriters waits for the writer slot and holds it, so that only readers
// run until EnableWriters.
func (c *Coordinator) BlockWriters() {
	c.writers.Acquire(context.Background(), 1)
	c.writersBlocked.Store(true)
}

func (c *Coordinator) TryBlockWriters(canBlock bool) bool {
	if canBlock {
		c.BlockWriters()
		return true
	}
	if !c.writers.TryAcquire(1) {
		return false
	}
	c.writersBlocked.Store(true)
	return true
}

func (c *Coordinator) EnableWriters() error {
	if !c.writersBlocked.Load() {
		return newErr(Config, nil, "enable writers: writers are not blocked")
	}
	c.writersBlocked.Store(false)
	c.writers.Release(1)
	return nil
}

// ExecAsWriter runs fn with writers blocked.
func (c *Coordinator) ExecAsWriter(fn func() error) error {
	c.BlockWriters()
	defer c.EnableWriters()
	return fn()
}

func (c *Coordinator) CountBegin() uint64        { return c.countBegin.Load() }
func (c *Coordinator) CountBeginRead() uint64    { return c.countBeginRead.Load() }
func (c *Coordinator) CountBeginWrite() uint64   { return c.countBeginWrite.Load() }
func (c *Coordinator) CountFinished() uint64     { return c.countFinished.Load() }
func (c *Coordinator) CountActiveReaders() int64 { return c.activeReaders.Load() }
func (c *Coordinator) CountActiveWriters() int64 { return c.activeWriters.Load() }
func (c *Coordinator) CountActive() int64        { return int64(c.active.Size()) }
func (c *Coordinator) ReaderEpoch() uint64       { return c.readerEpoch.Load() }
func (c *Coordinator) WriterEpoch() uint64       { return c.writerEpoch.Load() }
func (c *Coordinator) Journal() *journal.Journal { return c.journal }

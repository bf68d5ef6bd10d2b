package txn

import (
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/mit-pdos/go-dboe/util"
)

// LifecycleHooks is what a component supplies to Lifecycle. Begin creates
// the component's private state for a transaction, which the later calls
// receive back.
type LifecycleHooks[X any] interface {
	StartRecovery()
	Recover(payload []byte) error
	FinishRecovery()
	CleanStart()

	Begin(txn *Transaction) (X, error)
	CommitPrepare(txn *Transaction, x X) ([]byte, error)
	Commit(txn *Transaction, x X) error
	CommitEnd(txn *Transaction, x X) error
	Abort(txn *Transaction, x X) error
	// Complete is called once when the component is done with the
	// transaction, after CommitEnd or Abort for writers.
	Complete(txn *Transaction, x X) error

	Shutdown()
}

type session[X any] struct {
	txn   *Transaction
	state TxnState
	data  X
}

// Lifecycle implements TransactionalComponent on top of LifecycleHooks,
// checking that calls for each transaction arrive in order.
type Lifecycle[X any] struct {
	id       ComponentId
	hooks    LifecycleHooks[X]
	sessions *xsync.MapOf[TxnId, *session[X]]
}

var _ TransactionalComponent = (*Lifecycle[struct{}])(nil)

func NewLifecycle[X any](id ComponentId, hooks LifecycleHooks[X]) *Lifecycle[X] {
	return &Lifecycle[X]{
		id:       id,
		hooks:    hooks,
		sessions: xsync.NewMapOf[TxnId, *session[X]](),
	}
}

func (l *Lifecycle[X]) ComponentId() ComponentId {
	return l.id
}

func (l *Lifecycle[X]) StartRecovery()               { l.hooks.StartRecovery() }
func (l *Lifecycle[X]) Recover(payload []byte) error { return l.hooks.Recover(payload) }
func (l *Lifecycle[X]) FinishRecovery()              { l.hooks.FinishRecovery() }
func (l *Lifecycle[X]) CleanStart()                  { l.hooks.CleanStart() }

// get returns txn's session, which must have been begun with txn itself.
func (l *Lifecycle[X]) get(txn *Transaction, what string) (*session[X], error) {
	s, ok := l.sessions.Load(txn.Id())
	if !ok {
		return nil, newErr(WrongState, nil, "%s %s: %s: no session", l.id, txn.Id(), what)
	}
	if s.txn != txn {
		return nil, newErr(NotAligned, nil, "%s %s: %s: session belongs to %s",
			l.id, txn.Id(), what, s.txn)
	}
	return s, nil
}

func (l *Lifecycle[X]) Begin(txn *Transaction) error {
	if s, ok := l.sessions.Load(txn.Id()); ok && !s.state.in(INACTIVE, COMMITTED, ABORTED) {
		return stateErr("begin", s.state, INACTIVE, COMMITTED, ABORTED)
	}
	x, err := l.hooks.Begin(txn)
	if err != nil {
		return err
	}
	l.sessions.Store(txn.Id(), &session[X]{txn: txn, state: ACTIVE, data: x})
	return nil
}

func (l *Lifecycle[X]) CommitPrepare(txn *Transaction) ([]byte, error) {
	s, err := l.get(txn, "commitPrepare")
	if err != nil {
		return nil, err
	}
	if s.state != ACTIVE {
		return nil, stateErr("commitPrepare", s.state, ACTIVE)
	}
	payload, err := l.hooks.CommitPrepare(txn, s.data)
	if err != nil {
		return nil, err
	}
	s.state = PREPARE
	return payload, nil
}

func (l *Lifecycle[X]) Commit(txn *Transaction) error {
	s, err := l.get(txn, "commit")
	if err != nil {
		return err
	}
	if s.state != PREPARE {
		return stateErr("commit", s.state, PREPARE)
	}
	if err := l.hooks.Commit(txn, s.data); err != nil {
		return err
	}
	s.state = COMMIT
	return nil
}

func (l *Lifecycle[X]) CommitEnd(txn *Transaction) error {
	s, err := l.get(txn, "commitEnd")
	if err != nil {
		return err
	}
	if s.state != COMMIT {
		return stateErr("commitEnd", s.state, COMMIT)
	}
	if err := l.hooks.CommitEnd(txn, s.data); err != nil {
		return err
	}
	s.state = COMMITTED
	return l.finalise(s)
}

func (l *Lifecycle[X]) Abort(txn *Transaction) error {
	s, err := l.get(txn, "abort")
	if err != nil {
		return err
	}
	if !s.state.in(ACTIVE, PREPARE, COMMIT) {
		return stateErr("abort", s.state, ACTIVE, PREPARE, COMMIT)
	}
	aerr := l.hooks.Abort(txn, s.data)
	s.state = ABORTED
	if err := l.finalise(s); aerr == nil {
		aerr = err
	}
	return aerr
}

// Complete finishes a reader that never committed. Sessions that committed
// or aborted were already finished, so for them it does nothing.
func (l *Lifecycle[X]) Complete(txn *Transaction) error {
	s, ok := l.sessions.Load(txn.Id())
	if !ok {
		return nil
	}
	if s.txn != txn {
		return newErr(NotAligned, nil, "%s %s: complete: session belongs to %s",
			l.id, txn.Id(), s.txn)
	}
	if s.state == ACTIVE && !txn.IsWriteTxn() {
		return l.finalise(s)
	}
	if s.state.in(COMMITTED, ABORTED) {
		return l.finalise(s)
	}
	return stateErr("complete", s.state, COMMITTED, ABORTED)
}

func (l *Lifecycle[X]) finalise(s *session[X]) error {
	err := l.hooks.Complete(s.txn, s.data)
	l.sessions.Delete(s.txn.Id())
	var zero X
	s.data = zero
	return err
}

func (l *Lifecycle[X]) Shutdown() {
	if n := l.sessions.Size(); n > 0 {
		util.Warnf("%s: shutdown with %d open sessions", l.id, n)
	}
	l.hooks.Shutdown()
}

// Data returns the private state of txn's session.
func (l *Lifecycle[X]) Data(txn *Transaction) (X, bool) {
	s, ok := l.sessions.Load(txn.Id())
	if !ok || s.txn != txn {
		var zero X
		return zero, false
	}
	return s.data, true
}

// State is the session state of txn; INACTIVE if there is none.
func (l *Lifecycle[X]) State(txn *Transaction) TxnState {
	s, ok := l.sessions.Load(txn.Id())
	if !ok {
		return INACTIVE
	}
	return s.state
}

func (l *Lifecycle[X]) NumSessions() int {
	return l.sessions.Size()
}

package txn

import (
	"fmt"
	"sync"

	"github.com/mit-pdos/go-dboe/util"
)

// Transaction is one reader or writer, created by Coordinator.Begin. It
// belongs to the goroutine that began it; only State may be called from
// elsewhere.
type Transaction struct {
	coord *Coordinator
	id    TxnId
	mode  Mode
	epoch uint64

	mu    *sync.Mutex
	state TxnState

	components []*ComponentSession
	// finalised is guarded by mu.
	finalised bool
	// slot is set while the transaction holds the coordinator's writer slot.
	slot bool
}

type prepared struct {
	id      ComponentId
	payload []byte
}

func (t *Transaction) Id() TxnId {
	return t.id
}

func (t *Transaction) Mode() Mode {
	return t.mode
}

// DataEpoch is the version of the data the transaction sees; a writer's
// epoch becomes the readers' epoch when it commits.
func (t *Transaction) DataEpoch() uint64 {
	return t.epoch
}

func (t *Transaction) IsWriteTxn() bool {
	return t.mode == WRITE
}

func (t *Transaction) State() TxnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transaction) setState(s TxnState) {
	t.mu.Lock()
	util.DPrintf(5, "%s: %s -> %s\n", t.id, t.state, s)
	t.state = s
	t.mu.Unlock()
}

func (t *Transaction) Components() []ComponentId {
	ids := make([]ComponentId, len(t.components))
	for i, s := range t.components {
		ids[i] = s.ComponentId()
	}
	return ids
}

func (t *Transaction) HasFinalised() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finalised
}

func (t *Transaction) String() string {
	return fmt.Sprintf("txn %s (%s, epoch %d, %s)", t.id, t.mode, t.epoch, t.State())
}

// begin starts every component session and returns how many began.
func (t *Transaction) begin() (int, error) {
	if st := t.State(); st != INACTIVE {
		return 0, stateErr("begin", st, INACTIVE)
	}
	for i, s := range t.components {
		if err := s.begin(); err != nil {
			return i, newErr(Component, err, "%s: begin %v", t.id, s.ComponentId())
		}
	}
	t.setState(ACTIVE)
	return len(t.components), nil
}

// NotifyUpdate announces that the transaction is about to change data. For
// a reader that needs promotion, which is not supported.
func (t *Transaction) NotifyUpdate() error {
	st := t.State()
	if st != ACTIVE {
		return stateErr("notifyUpdate", st, ACTIVE)
	}
	if t.mode == READ {
		return t.coord.promote(t)
	}
	return nil
}

// Commit prepares every component, makes the writes durable, and applies
// them. The caller must still call End.
func (t *Transaction) Commit() error {
	if st := t.State(); st != ACTIVE {
		return stateErr("commit", st, ACTIVE)
	}
	if err := t.coord.checkRunning(); err != nil {
		return err
	}
	t.setState(PREPARE)
	prep, err := t.prepare()
	if err != nil {
		t.rollback()
		return err
	}
	t.setState(COMMIT)
	err = t.coord.executeCommit(t, prep)
	if t.State() == COMMIT {
		t.setState(COMMITTED)
	}
	return err
}

func (t *Transaction) prepare() ([]prepared, error) {
	t.coord.notify(func(l TransactionListener) { l.NotifyPrepareStart(t) })
	defer t.coord.notify(func(l TransactionListener) { l.NotifyPrepareFinish(t) })
	var prep []prepared
	for _, s := range t.components {
		payload, err := s.commitPrepare()
		if err != nil {
			return nil, newErr(Component, err, "%s: prepare %v", t.id, s.ComponentId())
		}
		if payload != nil {
			prep = append(prep, prepared{id: s.ComponentId(), payload: payload})
		}
	}
	return prep, nil
}

func (t *Transaction) runCommit() error {
	for _, s := range t.components {
		if err := s.commit(); err != nil {
			return newErr(Component, err, "%s: commit %v", t.id, s.ComponentId())
		}
	}
	return nil
}

func (t *Transaction) runCommitEnd() error {
	var first error
	for _, s := range t.components {
		if err := s.commitEnd(); err != nil && first == nil {
			first = newErr(Component, err, "%s: commitEnd %v", t.id, s.ComponentId())
		}
	}
	return first
}

func (t *Transaction) abortSessions() error {
	var first error
	for _, s := range t.components {
		if err := s.abort(); err != nil && first == nil {
			first = newErr(Component, err, "%s: abort %v", t.id, s.ComponentId())
		}
	}
	return first
}

// rollback ends a transaction whose commit failed.
func (t *Transaction) rollback() {
	if err := t.abortSessions(); err != nil {
		util.Warnf("%s: rollback: %v", t.id, err)
	}
	t.coord.releaseWriter(t)
	t.setState(ABORTED)
	if err := t.finalise(); err != nil {
		util.Warnf("%s: rollback: %v", t.id, err)
	}
}

// Abort discards the transaction's changes and ends it. Aborting an aborted
// transaction does nothing.
func (t *Transaction) Abort() error {
	switch st := t.State(); st {
	case ABORTED, END_ABORTED:
		return nil
	case ACTIVE:
	default:
		return stateErr("abort", st, ACTIVE, ABORTED)
	}
	err := t.coord.executeAbort(t)
	t.setState(ABORTED)
	if ferr := t.finalise(); err == nil {
		err = ferr
	}
	return err
}

// End finishes the transaction. A reader may end without committing; a
// writer that has neither committed nor aborted is aborted and End reports
// the misuse.
func (t *Transaction) End() error {
	st := t.State()
	if st.Ended() {
		return nil
	}
	t.coord.notify(func(l TransactionListener) { l.NotifyEndStart(t) })
	defer t.coord.notify(func(l TransactionListener) { l.NotifyEndFinish(t) })
	switch {
	case st == ACTIVE && t.IsWriteTxn():
		if err := t.Abort(); err != nil {
			util.Warnf("%s: end: %v", t.id, err)
		}
		return newErr(WrongState, nil, "%s: write transaction ended without commit or abort", t.id)
	case st.in(ACTIVE, COMMITTED, ABORTED):
		return t.finalise()
	}
	return stateErr("end", st, ACTIVE, COMMITTED, ABORTED)
}

// finalise completes every component session once and removes the
// transaction from the coordinator.
func (t *Transaction) finalise() error {
	t.mu.Lock()
	done := t.finalised
	t.finalised = true
	t.mu.Unlock()
	if done {
		return nil
	}
	t.coord.notify(func(l TransactionListener) { l.NotifyCompleteStart(t) })
	var first error
	for _, s := range t.components {
		if err := s.complete(); err != nil && first == nil {
			first = newErr(Component, err, "%s: complete %v", t.id, s.ComponentId())
		}
	}
	if t.State() == ABORTED {
		t.setState(END_ABORTED)
	} else {
		t.setState(END_COMMITTED)
	}
	t.coord.notify(func(l TransactionListener) { l.NotifyCompleteFinish(t) })
	t.coord.completed(t)
	return first
}

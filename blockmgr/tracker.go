package blockmgr

import (
	"fmt"
	"strings"
	"sync"

	"github.com/mit-pdos/go-dboe/block"
	"github.com/mit-pdos/go-dboe/common"
	"github.com/mit-pdos/go-dboe/util"
)

type action int

const (
	actAlloc action = iota
	actGetRead
	actGetIter
	actGetWrite
	actPromote
	actRelease
	actWrite
	actOverwrite
	actFree
	actBeginRead
	actEndRead
	actBeginUpdate
	actEndUpdate
	actBeginIter
	actEndIter
	actSync
)

var actionNames = [...]string{
	"Alloc", "GetRead", "GetIter", "GetWrite", "Promote", "Release", "Write",
	"Overwrite", "Free", "BeginRead", "EndRead", "BeginUpdate", "EndUpdate",
	"BeginIter", "EndIter", "Sync",
}

func (a action) String() string {
	return actionNames[a]
}

type op struct {
	act action
	id  common.BlockId
}

func (o op) String() string {
	if o.id == common.NULLBLOCK {
		return o.act.String()
	}
	return fmt.Sprintf("%s(%d)", o.act, o.id)
}

// HistorySize is how many operations a Tracker remembers for diagnostics.
const HistorySize = 32

// Tracker checks that callers bracket block use correctly: fetches happen
// inside sessions, written blocks were fetched for write, and every fetched
// block has been written or released by the end of the session. It is a
// development aid; a violation is a usage error and the session state is
// not repaired.
type Tracker struct {
	mu          *sync.Mutex
	next        BlockMgr
	inRead      uint64
	inUpdate    bool
	activeRead  *block.Multiset
	activeWrite *block.Multiset
	activeIter  *block.Multiset
	iterators   map[Iterator]bool
	history     []op
	histNext    int
}

var _ BlockMgr = (*Tracker)(nil)

func NewTracker(next BlockMgr) *Tracker {
	return &Tracker{
		mu:          new(sync.Mutex),
		next:        next,
		activeRead:  block.MkMultiset(),
		activeWrite: block.MkMultiset(),
		activeIter:  block.MkMultiset(),
		iterators:   make(map[Iterator]bool),
		history:     make([]op, 0, HistorySize),
	}
}

func (t *Tracker) add(act action, id common.BlockId) {
	o := op{act: act, id: id}
	if len(t.history) < HistorySize {
		t.history = append(t.history, o)
		return
	}
	t.history[t.histNext] = o
	t.histNext = (t.histNext + 1) % HistorySize
}

// History returns the remembered operations, oldest first.
func (t *Tracker) History() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.historyLocked()
}

func (t *Tracker) historyLocked() []string {
	n := len(t.history)
	h := make([]string, 0, n)
	for i := 0; i < n; i++ {
		h = append(h, t.history[(t.histNext+i)%n].String())
	}
	return h
}

func (t *Tracker) violation(format string, a ...interface{}) error {
	err := usageErr(t.next.Label(), format, a...)
	util.Warnf("%v; history: %s", err, strings.Join(t.historyLocked(), " "))
	return err
}

func (t *Tracker) checkRead(act action) error {
	if t.inRead == 0 && !t.inUpdate {
		return t.violation("%s outside a read or update session", act)
	}
	return nil
}

func (t *Tracker) checkUpdate(act action) error {
	if !t.inUpdate {
		return t.violation("%s outside an update session", act)
	}
	return nil
}

func (t *Tracker) checkEmpty(what string, m *block.Multiset) error {
	if !m.IsEmpty() {
		ids := m.Ids()
		m.Clear()
		return t.violation("%s: %d blocks still active %v", what, len(ids), ids)
	}
	return nil
}

func (t *Tracker) Allocate(size int) (*block.Block, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkUpdate(actAlloc); err != nil {
		return nil, err
	}
	b, err := t.next.Allocate(size)
	if err != nil {
		return nil, err
	}
	t.add(actAlloc, b.Id())
	t.activeWrite.Add(b.Id())
	return b, nil
}

func (t *Tracker) GetRead(id common.BlockId) (*block.Block, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.add(actGetRead, id)
	if err := t.checkRead(actGetRead); err != nil {
		return nil, err
	}
	b, err := t.next.GetRead(id)
	if err != nil {
		return nil, err
	}
	t.activeRead.Add(id)
	return b, nil
}

func (t *Tracker) GetReadIterator(id common.BlockId) (*block.Block, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.add(actGetIter, id)
	if err := t.checkRead(actGetIter); err != nil {
		return nil, err
	}
	if len(t.iterators) == 0 {
		return nil, t.violation("%s with no open iterator", actGetIter)
	}
	b, err := t.next.GetReadIterator(id)
	if err != nil {
		return nil, err
	}
	t.activeIter.Add(id)
	return b, nil
}

func (t *Tracker) GetWrite(id common.BlockId) (*block.Block, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.add(actGetWrite, id)
	if err := t.checkUpdate(actGetWrite); err != nil {
		return nil, err
	}
	b, err := t.next.GetWrite(id)
	if err != nil {
		return nil, err
	}
	t.activeWrite.Add(id)
	return b, nil
}

func (t *Tracker) Promote(b *block.Block) (*block.Block, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.add(actPromote, b.Id())
	if err := t.checkUpdate(actPromote); err != nil {
		return nil, err
	}
	if t.activeRead.Remove(b.Id()) {
		t.activeWrite.Add(b.Id())
	} else if !t.activeWrite.Contains(b.Id()) {
		return nil, t.violation("%s of block %d that is not active", actPromote, b.Id())
	}
	return t.next.Promote(b)
}

func (t *Tracker) Release(b *block.Block) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.add(actRelease, b.Id())
	if !t.activeRead.Remove(b.Id()) &&
		!t.activeIter.Remove(b.Id()) &&
		!t.activeWrite.Remove(b.Id()) {
		return t.violation("%s of block %d that is not active", actRelease, b.Id())
	}
	return t.next.Release(b)
}

func (t *Tracker) writeOp(act action, b *block.Block, fn func(*block.Block) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.add(act, b.Id())
	if err := t.checkUpdate(act); err != nil {
		return err
	}
	if !t.activeWrite.Remove(b.Id()) {
		return t.violation("%s of block %d that is not an active write block", act, b.Id())
	}
	return fn(b)
}

func (t *Tracker) Write(b *block.Block) error {
	return t.writeOp(actWrite, b, t.next.Write)
}

func (t *Tracker) Overwrite(b *block.Block) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.add(actOverwrite, b.Id())
	// overwrite may be used for structural repair on a block nobody fetched
	t.activeWrite.Remove(b.Id())
	return t.next.Overwrite(b)
}

func (t *Tracker) Free(b *block.Block) error {
	return t.writeOp(actFree, b, t.next.Free)
}

func (t *Tracker) Sync() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.add(actSync, common.NULLBLOCK)
	return t.next.Sync()
}

func (t *Tracker) SyncForce() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.add(actSync, common.NULLBLOCK)
	return t.next.SyncForce()
}

func (t *Tracker) BeginRead() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.add(actBeginRead, common.NULLBLOCK)
	if t.inUpdate {
		return t.violation("%s while in an update session", actBeginRead)
	}
	t.inRead++
	return t.next.BeginRead()
}

func (t *Tracker) EndRead() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.add(actEndRead, common.NULLBLOCK)
	if t.inUpdate {
		return t.violation("%s while in an update session", actEndRead)
	}
	if t.inRead == 0 {
		return t.violation("%s without %s", actEndRead, actBeginRead)
	}
	t.inRead--
	if t.inRead == 0 {
		if len(t.iterators) > 0 {
			n := len(t.iterators)
			t.iterators = make(map[Iterator]bool)
			t.activeIter.Clear()
			return t.violation("%s with %d iterators open", actEndRead, n)
		}
		if err := t.checkEmpty(actEndRead.String(), t.activeRead); err != nil {
			return err
		}
	}
	return t.next.EndRead()
}

func (t *Tracker) BeginUpdate() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.add(actBeginUpdate, common.NULLBLOCK)
	if t.inRead > 0 {
		return t.violation("%s while in a read session", actBeginUpdate)
	}
	if t.inUpdate {
		return t.violation("%s while already in an update session", actBeginUpdate)
	}
	t.inUpdate = true
	return t.next.BeginUpdate()
}

func (t *Tracker) EndUpdate() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.add(actEndUpdate, common.NULLBLOCK)
	if !t.inUpdate {
		return t.violation("%s without %s", actEndUpdate, actBeginUpdate)
	}
	t.inUpdate = false
	if err := t.checkEmpty(actEndUpdate.String()+" (read)", t.activeRead); err != nil {
		t.activeWrite.Clear()
		return err
	}
	if err := t.checkEmpty(actEndUpdate.String()+" (write)", t.activeWrite); err != nil {
		return err
	}
	return t.next.EndUpdate()
}

func (t *Tracker) BeginIterator(it Iterator) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.add(actBeginIter, common.NULLBLOCK)
	if err := t.checkRead(actBeginIter); err != nil {
		return err
	}
	if t.iterators[it] {
		return t.violation("%s: iterator already open", actBeginIter)
	}
	t.iterators[it] = true
	return t.next.BeginIterator(it)
}

func (t *Tracker) EndIterator(it Iterator) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.add(actEndIter, common.NULLBLOCK)
	if !t.iterators[it] {
		return t.violation("%s: iterator not open", actEndIter)
	}
	delete(t.iterators, it)
	if len(t.iterators) == 0 {
		if err := t.checkEmpty(actEndIter.String(), t.activeIter); err != nil {
			return err
		}
	}
	return t.next.EndIterator(it)
}

func (t *Tracker) Valid(id common.BlockId) bool {
	return t.next.Valid(id)
}

func (t *Tracker) IsEmpty() bool {
	return t.next.IsEmpty()
}

func (t *Tracker) AllocLimit() common.BlockId {
	return t.next.AllocLimit()
}

func (t *Tracker) ResetAlloc(limit common.BlockId) error {
	return t.next.ResetAlloc(limit)
}

func (t *Tracker) Label() string {
	return t.next.Label()
}

func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inUpdate || t.inRead > 0 {
		util.Warnf("%s: close inside a session", t.next.Label())
	}
	return t.next.Close()
}

func (t *Tracker) IsClosed() bool {
	return t.next.IsClosed()
}

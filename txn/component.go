package txn

// TransactionalComponent is a piece of storage that takes part in
// coordinated transactions.
//
// At startup the coordinator calls either CleanStart, when there is nothing
// to recover, or StartRecovery, Recover for each committed payload in the
// journal that names the component, and FinishRecovery. Afterwards each
// transaction calls Begin, and then either CommitPrepare, Commit, CommitEnd
// or Abort, and finally Complete.
type TransactionalComponent interface {
	ComponentId() ComponentId

	StartRecovery()
	Recover(payload []byte) error
	FinishRecovery()
	CleanStart()

	Begin(txn *Transaction) error
	// CommitPrepare returns the payload to journal for txn, or nil for
	// nothing.
	CommitPrepare(txn *Transaction) ([]byte, error)
	Commit(txn *Transaction) error
	CommitEnd(txn *Transaction) error
	Abort(txn *Transaction) error
	Complete(txn *Transaction) error

	Shutdown()
}

// ComponentGroup is an ordered set of components with distinct ids.
type ComponentGroup struct {
	order []TransactionalComponent
	byKey map[ComponentKey]TransactionalComponent
}

func NewComponentGroup() *ComponentGroup {
	return &ComponentGroup{
		byKey: make(map[ComponentKey]TransactionalComponent),
	}
}

func (g *ComponentGroup) Add(c TransactionalComponent) error {
	k := c.ComponentId().Key()
	if old, ok := g.byKey[k]; ok {
		return newErr(Config, nil, "duplicate component id %v (have %v)",
			c.ComponentId(), old.ComponentId())
	}
	g.byKey[k] = c
	g.order = append(g.order, c)
	return nil
}

func (g *ComponentGroup) Remove(id ComponentId) bool {
	if _, ok := g.byKey[id.Key()]; !ok {
		return false
	}
	delete(g.byKey, id.Key())
	for i, c := range g.order {
		if c.ComponentId().Equal(id) {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	return true
}

func (g *ComponentGroup) Find(id ComponentId) TransactionalComponent {
	return g.byKey[id.Key()]
}

func (g *ComponentGroup) FindKey(k ComponentKey) TransactionalComponent {
	return g.byKey[k]
}

func (g *ComponentGroup) ForEach(f func(c TransactionalComponent)) {
	for _, c := range g.order {
		f(c)
	}
}

func (g *ComponentGroup) Len() int {
	return len(g.order)
}

// ComponentSession is one component's part in one transaction.
type ComponentSession struct {
	component TransactionalComponent
	txn       *Transaction
}

func (s *ComponentSession) Component() TransactionalComponent {
	return s.component
}

func (s *ComponentSession) ComponentId() ComponentId {
	return s.component.ComponentId()
}

func (s *ComponentSession) begin() error {
	return s.component.Begin(s.txn)
}

func (s *ComponentSession) commitPrepare() ([]byte, error) {
	return s.component.CommitPrepare(s.txn)
}

func (s *ComponentSession) commit() error {
	return s.component.Commit(s.txn)
}

func (s *ComponentSession) commitEnd() error {
	return s.component.CommitEnd(s.txn)
}

func (s *ComponentSession) abort() error {
	return s.component.Abort(s.txn)
}

func (s *ComponentSession) complete() error {
	return s.component.Complete(s.txn)
}

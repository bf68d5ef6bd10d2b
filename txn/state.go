package txn

import "fmt"

// TxnState is the state of a transaction, and of a component's session in
// one.
type TxnState int

const (
	INACTIVE TxnState = iota
	ACTIVE
	PREPARE
	COMMIT
	COMMITTED
	END_COMMITTED
	ABORTED
	END_ABORTED
)

var stateNames = [...]string{
	INACTIVE:      "INACTIVE",
	ACTIVE:        "ACTIVE",
	PREPARE:       "PREPARE",
	COMMIT:        "COMMIT",
	COMMITTED:     "COMMITTED",
	END_COMMITTED: "END_COMMITTED",
	ABORTED:       "ABORTED",
	END_ABORTED:   "END_ABORTED",
}

func (s TxnState) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("TxnState(%d)", int(s))
}

// Ended reports whether s is terminal.
func (s TxnState) Ended() bool {
	return s == END_COMMITTED || s == END_ABORTED
}

func (s TxnState) in(states ...TxnState) bool {
	for _, x := range states {
		if s == x {
			return true
		}
	}
	return false
}

type Mode int

const (
	READ Mode = iota
	WRITE
)

func (m Mode) String() string {
	if m == WRITE {
		return "WRITE"
	}
	return "READ"
}

package txn

import (
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/atomic"
)

// TxnId identifies one transaction for the lifetime of the process.
type TxnId string

type TxnIdGenerator interface {
	Generate() TxnId
}

type simpleTxnIdGenerator struct {
	next *atomic.Uint64
}

// NewSimpleTxnIdGenerator numbers transactions from 1.
func NewSimpleTxnIdGenerator() TxnIdGenerator {
	return &simpleTxnIdGenerator{next: atomic.NewUint64(0)}
}

func (g *simpleTxnIdGenerator) Generate() TxnId {
	return TxnId(strconv.FormatUint(g.next.Inc(), 10))
}

type uuidTxnIdGenerator struct{}

// NewUUIDTxnIdGenerator gives each transaction a random UUID, for ids that
// must be unique across processes.
func NewUUIDTxnIdGenerator() TxnIdGenerator {
	return uuidTxnIdGenerator{}
}

func (uuidTxnIdGenerator) Generate() TxnId {
	return TxnId(uuid.NewString())
}

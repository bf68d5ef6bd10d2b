package txn

// TransactionListener observes transactions passing through the
// coordinator. Callbacks run on the transaction's goroutine; the commit
// callbacks of writers run under the coordinator lock and must not begin
// transactions.
type TransactionListener interface {
	NotifyTxnStart(txn *Transaction)
	NotifyTxnFinish(txn *Transaction)
	NotifyPrepareStart(txn *Transaction)
	NotifyPrepareFinish(txn *Transaction)
	NotifyCommitStart(txn *Transaction)
	NotifyCommitFinish(txn *Transaction)
	NotifyAbortStart(txn *Transaction)
	NotifyAbortFinish(txn *Transaction)
	NotifyEndStart(txn *Transaction)
	NotifyEndFinish(txn *Transaction)
	NotifyCompleteStart(txn *Transaction)
	NotifyCompleteFinish(txn *Transaction)
}

// BaseListener ignores everything; embed it to implement only some
// callbacks.
type BaseListener struct{}

func (BaseListener) NotifyTxnStart(*Transaction)       {}
func (BaseListener) NotifyTxnFinish(*Transaction)      {}
func (BaseListener) NotifyPrepareStart(*Transaction)   {}
func (BaseListener) NotifyPrepareFinish(*Transaction)  {}
func (BaseListener) NotifyCommitStart(*Transaction)    {}
func (BaseListener) NotifyCommitFinish(*Transaction)   {}
func (BaseListener) NotifyAbortStart(*Transaction)     {}
func (BaseListener) NotifyAbortFinish(*Transaction)    {}
func (BaseListener) NotifyEndStart(*Transaction)       {}
func (BaseListener) NotifyEndFinish(*Transaction)      {}
func (BaseListener) NotifyCompleteStart(*Transaction)  {}
func (BaseListener) NotifyCompleteFinish(*Transaction) {}

var _ TransactionListener = BaseListener{}

// ShutdownHook runs when the coordinator shuts down, after the components.
type ShutdownHook interface {
	Shutdown()
}

// ShutdownFunc adapts a function to ShutdownHook.
type ShutdownFunc func()

func (f ShutdownFunc) Shutdown() { f() }

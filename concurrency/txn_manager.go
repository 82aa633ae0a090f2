package concurrency

import (
	"sync"
	"sync/atomic"

	"quill/disk/structures"
	"quill/disk/wal"
	"quill/transaction"
)

// TxnManager tracks running transactions, threads their log chains and drives commit and abort.
// Commit is durable: it does not return before the commit record reached disk.
type TxnManager struct {
	mu          sync.Mutex
	actives     map[transaction.TxnID]*transaction.Transaction
	txnCounter  atomic.Uint32
	logManager  *wal.LogManager
	lockManager *LockManager
	heap        *structures.TableHeap
}

func NewTxnManager(lm *wal.LogManager, lockManager *LockManager) *TxnManager {
	return &TxnManager{
		actives:     map[transaction.TxnID]*transaction.Transaction{},
		logManager:  lm,
		lockManager: lockManager,
	}
}

// SetTableHeap attaches the heap abort rolls back into. The heap is created after the managers
// during engine wiring, hence the setter.
func (t *TxnManager) SetTableHeap(heap *structures.TableHeap) {
	t.heap = heap
}

func (t *TxnManager) Begin() *transaction.Transaction {
	id := transaction.TxnID(t.txnCounter.Add(1))
	txn := transaction.New(id)

	lsn := t.logManager.AppendLog(wal.NewBeginLogRecord(id))
	txn.SetPrevLSN(lsn)

	t.mu.Lock()
	t.actives[id] = txn
	t.mu.Unlock()
	return txn
}

// Commit applies deferred deletes, makes the commit record durable and only then releases locks.
func (t *TxnManager) Commit(txn *transaction.Transaction) {
	for _, w := range txn.GetWriteSet() {
		if w.Type == transaction.WMarkDelete {
			t.heap.ApplyDelete(txn, w.RID, w.OldTuple)
		}
	}

	txn.SetState(transaction.Committed)
	t.logManager.WaitAppendLog(wal.NewCommitLogRecord(txn.GetID(), txn.GetPrevLSN()))

	t.lockManager.ReleaseAll(txn)

	t.mu.Lock()
	delete(t.actives, txn.GetID())
	t.mu.Unlock()
}

// Abort undoes the write set in reverse order through the heap, logs the abort and releases
// locks. The rollback operations are logged like any other modification, so a crash mid-abort
// redoes cleanly.
func (t *TxnManager) Abort(txn *transaction.Transaction) {
	ws := txn.GetWriteSet()
	for i := len(ws) - 1; i >= 0; i-- {
		w := ws[i]
		switch w.Type {
		case transaction.WInsert:
			tuple, ok := t.heap.GetTuple(txn, w.RID)
			if ok {
				t.heap.ApplyDelete(txn, w.RID, tuple)
			}
		case transaction.WMarkDelete:
			t.heap.RollbackDelete(txn, w.RID)
		case transaction.WUpdate:
			t.heap.UpdateTuple(txn, w.RID, w.OldTuple)
		}
	}

	txn.SetState(transaction.Aborted)
	t.logManager.AppendLog(wal.NewAbortLogRecord(txn.GetID(), txn.GetPrevLSN()))

	t.lockManager.ReleaseAll(txn)

	t.mu.Lock()
	delete(t.actives, txn.GetID())
	t.mu.Unlock()
}

func (t *TxnManager) ActiveTransactions() []transaction.TxnID {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]transaction.TxnID, 0, len(t.actives))
	for id := range t.actives {
		ids = append(ids, id)
	}
	return ids
}

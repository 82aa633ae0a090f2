package concurrency

import (
	"sync"

	"quill/common"
	"quill/transaction"
)

type LockMode int

const (
	SharedMode LockMode = iota
	ExclusiveMode
	UpgradingMode
)

// txItem is one transaction's position in a RID's queue. A waiter parks on its channel until an
// unlock grants it.
type txItem struct {
	txnID   transaction.TxnID
	mode    LockMode
	granted bool
	grantCh chan struct{}
}

func (i *txItem) grant() {
	i.granted = true
	i.grantCh <- struct{}{}
}

// txList is the per-RID queue. Granted items always form a prefix that is mutually compatible:
// either a run of shared holders or a single exclusive one.
type txList struct {
	mu           sync.Mutex
	items        []*txItem
	hasUpgrading bool
}

func (l *txList) canGrant(mode LockMode) bool {
	if len(l.items) == 0 {
		return true
	}
	// a request joins the granted prefix only when the very last queued item is granted and
	// compatible; anything behind a waiter queues up too
	last := l.items[len(l.items)-1]
	if mode == SharedMode {
		return last.granted && last.mode == SharedMode
	}
	return false
}

func (l *txList) findItem(txnID transaction.TxnID) (int, *txItem) {
	for i, item := range l.items {
		if item.txnID == txnID {
			return i, item
		}
	}
	return -1, nil
}

func (l *txList) removeAt(idx int) {
	l.items = append(l.items[:idx], l.items[idx+1:]...)
}

// LockManager hands out tuple granularity locks under two phase locking with wait-die deadlock
// prevention: a request that cannot be granted dies immediately unless the requester is older
// than the youngest queued transaction.
type LockManager struct {
	mu        sync.Mutex
	lockTable map[common.RID]*txList
	strict2PL bool
}

func NewLockManager(strict2PL bool) *LockManager {
	return &LockManager{
		lockTable: map[common.RID]*txList{},
		strict2PL: strict2PL,
	}
}

func (lm *LockManager) LockShared(txn *transaction.Transaction, rid common.RID) bool {
	return lm.lock(txn, rid, SharedMode)
}

func (lm *LockManager) LockExclusive(txn *transaction.Transaction, rid common.RID) bool {
	return lm.lock(txn, rid, ExclusiveMode)
}

// LockUpgrade turns a held shared lock into an exclusive one. Only one upgrade may be in flight
// per RID.
func (lm *LockManager) LockUpgrade(txn *transaction.Transaction, rid common.RID) bool {
	return lm.lock(txn, rid, UpgradingMode)
}

func (lm *LockManager) lock(txn *transaction.Transaction, rid common.RID, mode LockMode) bool {
	// locks may only be acquired in the growing phase
	if txn.GetState() != transaction.Growing {
		txn.SetState(transaction.Aborted)
		return false
	}

	lm.mu.Lock()
	list, ok := lm.lockTable[rid]
	if !ok {
		list = &txList{}
		lm.lockTable[rid] = list
	}
	list.mu.Lock()
	lm.mu.Unlock()

	if mode == UpgradingMode {
		if list.hasUpgrading {
			list.mu.Unlock()
			txn.SetState(transaction.Aborted)
			return false
		}
		idx, item := list.findItem(txn.GetID())
		if item == nil || item.mode != SharedMode || !item.granted {
			list.mu.Unlock()
			txn.SetState(transaction.Aborted)
			return false
		}
		list.removeAt(idx)
		delete(txn.GetSharedLockSet(), rid)
	}

	grantable := list.canGrant(mode)

	// wait-die: only wait behind older transactions, otherwise die
	if !grantable && list.items[len(list.items)-1].txnID < txn.GetID() {
		list.mu.Unlock()
		txn.SetState(transaction.Aborted)
		return false
	}

	item := &txItem{txnID: txn.GetID(), mode: mode, granted: grantable, grantCh: make(chan struct{}, 1)}
	if mode == UpgradingMode && grantable {
		item.mode = ExclusiveMode
	}
	list.items = append(list.items, item)

	if !grantable {
		if mode == UpgradingMode {
			list.hasUpgrading = true
		}
		list.mu.Unlock()
		<-item.grantCh
	} else {
		list.mu.Unlock()
	}

	if item.mode == SharedMode {
		txn.GetSharedLockSet()[rid] = struct{}{}
	} else {
		txn.GetExclusiveLockSet()[rid] = struct{}{}
	}
	return true
}

// Unlock releases the txn's lock on rid and grants whatever became compatible at the head of the
// queue. Under strict 2PL unlocking is only legal once the transaction completed.
func (lm *LockManager) Unlock(txn *transaction.Transaction, rid common.RID) bool {
	if lm.strict2PL {
		if !common.OneOf(txn.GetState(), transaction.Committed, transaction.Aborted) {
			txn.SetState(transaction.Aborted)
			return false
		}
	} else if txn.GetState() == transaction.Growing {
		txn.SetState(transaction.Shrinking)
	}

	lm.mu.Lock()
	list, ok := lm.lockTable[rid]
	if !ok {
		lm.mu.Unlock()
		panic("unlocked a rid that has no lock table entry")
	}
	list.mu.Lock()

	idx, item := list.findItem(txn.GetID())
	if item == nil {
		list.mu.Unlock()
		lm.mu.Unlock()
		panic("unlocked a rid the transaction does not hold")
	}

	if item.mode == SharedMode {
		delete(txn.GetSharedLockSet(), rid)
	} else {
		delete(txn.GetExclusiveLockSet(), rid)
	}
	list.removeAt(idx)

	if len(list.items) == 0 {
		delete(lm.lockTable, rid)
		list.mu.Unlock()
		lm.mu.Unlock()
		return true
	}
	lm.mu.Unlock()

	// grant from the head: walk past already granted shared holders to wake more compatible
	// shared waiters, and hand the lock to an exclusive or upgrading waiter only when no granted
	// holder remains in front of it
	sharedHolders := false
	for _, it := range list.items {
		if it.granted {
			if it.mode == ExclusiveMode {
				break
			}
			sharedHolders = true
			continue
		}

		if it.mode == SharedMode {
			it.grant()
			sharedHolders = true
			continue
		}
		if sharedHolders {
			break
		}
		if it.mode == UpgradingMode {
			it.mode = ExclusiveMode
			list.hasUpgrading = false
		}
		it.grant()
		break
	}

	list.mu.Unlock()
	return true
}

// ReleaseAll unlocks everything the transaction still holds. Called by the transaction manager
// after the state moved to Committed or Aborted.
func (lm *LockManager) ReleaseAll(txn *transaction.Transaction) {
	for _, set := range []map[common.RID]struct{}{txn.GetSharedLockSet(), txn.GetExclusiveLockSet()} {
		rids := make([]common.RID, 0, len(set))
		for rid := range set {
			rids = append(rids, rid)
		}
		for _, rid := range rids {
			lm.Unlock(txn, rid)
		}
	}
}

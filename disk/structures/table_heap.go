package structures

import (
	"fmt"
	"sync"

	"quill/buffer"
	"quill/common"
	"quill/disk"
	"quill/disk/wal"
	"quill/transaction"
)

// TableHeap is a singly linked chain of table pages. It is deliberately minimal: the engine only
// needs enough of a heap for transactions to modify tuples under WAL and for recovery to have
// something to redo into. Every modification appends its log record first, stamps the page lsn
// and threads the transaction's prevLSN chain.
type TableHeap struct {
	pool        *buffer.BufferPool
	logManager  *wal.LogManager
	firstPageID uint64
	lock        sync.Mutex
}

// NewTableHeap allocates the first page of a new heap.
func NewTableHeap(txn *transaction.Transaction, pool *buffer.BufferPool, lm *wal.LogManager) (*TableHeap, error) {
	p, err := pool.NewPage()
	if err != nil {
		return nil, err
	}

	tp := CastTablePage(p)
	lsn := lm.AppendLog(wal.NewNewPageLogRecord(txn.GetID(), txn.GetPrevLSN(), disk.InvalidPageID, p.GetPageID()))
	txn.SetPrevLSN(lsn)
	tp.Init(disk.InvalidPageID, lsn)
	pool.UnpinPage(p.GetPageID(), true)

	return &TableHeap{pool: pool, logManager: lm, firstPageID: p.GetPageID()}, nil
}

// OpenTableHeap attaches to an existing heap chain.
func OpenTableHeap(pool *buffer.BufferPool, lm *wal.LogManager, firstPageID uint64) *TableHeap {
	return &TableHeap{pool: pool, logManager: lm, firstPageID: firstPageID}
}

func (h *TableHeap) FirstPageID() uint64 {
	return h.firstPageID
}

// InsertTuple walks the chain for a page with room, growing the chain when the tail is full, and
// registers the write in the transaction's write set.
func (h *TableHeap) InsertTuple(txn *transaction.Transaction, tuple []byte) (common.RID, error) {
	h.lock.Lock()
	defer h.lock.Unlock()

	curID := h.firstPageID
	for {
		p, err := h.pool.FetchPage(curID)
		if err != nil {
			return common.RID{}, err
		}
		p.WLatch()
		tp := CastTablePage(p)

		slot, err := tp.InsertTuple(tuple)
		if err == nil {
			rid := common.NewRID(curID, uint32(slot))
			lsn := h.logManager.AppendLog(wal.NewInsertLogRecord(txn.GetID(), txn.GetPrevLSN(), rid, tuple))
			txn.SetPrevLSN(lsn)
			tp.SetPageLSN(lsn)
			txn.AddIntoWriteSet(transaction.WriteRecord{RID: rid, Type: transaction.WInsert})
			p.WUnlatch()
			h.pool.UnpinPage(curID, true)
			return rid, nil
		}
		if err != ErrNotEnoughSpace {
			p.WUnlatch()
			h.pool.UnpinPage(curID, false)
			return common.RID{}, err
		}

		next := tp.GetNextPageID()
		if next != disk.InvalidPageID {
			p.WUnlatch()
			h.pool.UnpinPage(curID, false)
			curID = next
			continue
		}

		// tail is full, chain a new page after it
		np, err := h.pool.NewPage()
		if err != nil {
			p.WUnlatch()
			h.pool.UnpinPage(curID, false)
			return common.RID{}, err
		}
		np.WLatch()
		lsn := h.logManager.AppendLog(wal.NewNewPageLogRecord(txn.GetID(), txn.GetPrevLSN(), curID, np.GetPageID()))
		txn.SetPrevLSN(lsn)
		ntp := CastTablePage(np)
		ntp.Init(curID, lsn)
		tp.SetNextPageID(np.GetPageID())

		p.WUnlatch()
		h.pool.UnpinPage(curID, true)
		np.WUnlatch()
		h.pool.UnpinPage(np.GetPageID(), true)
		curID = np.GetPageID()
	}
}

// GetTuple reads the tuple at rid. The returned slice is a copy, valid after the page is
// unpinned.
func (h *TableHeap) GetTuple(txn *transaction.Transaction, rid common.RID) ([]byte, bool) {
	p, err := h.pool.FetchPage(rid.PageID)
	if err != nil {
		return nil, false
	}
	p.RLatch()
	tuple, ok := CastTablePage(p).GetTuple(int(rid.Slot))
	var out []byte
	if ok {
		out = append([]byte{}, tuple...)
	}
	p.RUnLatch()
	h.pool.UnpinPage(rid.PageID, false)
	return out, ok
}

// MarkDelete flags the tuple; the physical removal happens at commit through ApplyDelete.
func (h *TableHeap) MarkDelete(txn *transaction.Transaction, rid common.RID) bool {
	p, err := h.pool.FetchPage(rid.PageID)
	if err != nil {
		return false
	}
	p.WLatch()
	tp := CastTablePage(p)

	tuple, ok := tp.GetTuple(int(rid.Slot))
	if !ok {
		p.WUnlatch()
		h.pool.UnpinPage(rid.PageID, false)
		return false
	}

	lsn := h.logManager.AppendLog(wal.NewMarkDeleteLogRecord(txn.GetID(), txn.GetPrevLSN(), rid, tuple))
	txn.SetPrevLSN(lsn)
	tp.MarkDelete(int(rid.Slot))
	tp.SetPageLSN(lsn)
	// the image rides along so commit can apply the delete without re-reading a marked slot
	txn.AddIntoWriteSet(transaction.WriteRecord{RID: rid, Type: transaction.WMarkDelete, OldTuple: append([]byte{}, tuple...)})

	p.WUnlatch()
	h.pool.UnpinPage(rid.PageID, true)
	return true
}

// ApplyDelete physically removes a tuple. Callers pass the image so the log record can carry it
// for undo.
func (h *TableHeap) ApplyDelete(txn *transaction.Transaction, rid common.RID, tuple []byte) {
	p, err := h.pool.FetchPage(rid.PageID)
	common.PanicIfErr(err)
	p.WLatch()
	tp := CastTablePage(p)

	lsn := h.logManager.AppendLog(wal.NewApplyDeleteLogRecord(txn.GetID(), txn.GetPrevLSN(), rid, tuple))
	txn.SetPrevLSN(lsn)
	tp.ApplyDelete(int(rid.Slot))
	tp.SetPageLSN(lsn)

	p.WUnlatch()
	h.pool.UnpinPage(rid.PageID, true)
}

// RollbackDelete clears a delete mark, used when a deleting transaction aborts.
func (h *TableHeap) RollbackDelete(txn *transaction.Transaction, rid common.RID) {
	p, err := h.pool.FetchPage(rid.PageID)
	common.PanicIfErr(err)
	p.WLatch()
	tp := CastTablePage(p)

	off, _ := tp.slot(int(rid.Slot))
	if off == 0 {
		panic(fmt.Sprintf("rollback delete on a vacant slot: %v", rid))
	}

	tp.RollbackDelete(int(rid.Slot))
	tuple, ok := tp.GetTuple(int(rid.Slot))
	if !ok {
		panic(fmt.Sprintf("rollback delete did not make the tuple visible: %v", rid))
	}

	lsn := h.logManager.AppendLog(wal.NewRollbackDeleteLogRecord(txn.GetID(), txn.GetPrevLSN(), rid, tuple))
	txn.SetPrevLSN(lsn)
	tp.SetPageLSN(lsn)

	p.WUnlatch()
	h.pool.UnpinPage(rid.PageID, true)
}

// UpdateTuple replaces the tuple at rid, logging both images.
func (h *TableHeap) UpdateTuple(txn *transaction.Transaction, rid common.RID, tuple []byte) bool {
	p, err := h.pool.FetchPage(rid.PageID)
	if err != nil {
		return false
	}
	p.WLatch()
	tp := CastTablePage(p)

	old, ok := tp.GetTuple(int(rid.Slot))
	if !ok {
		p.WUnlatch()
		h.pool.UnpinPage(rid.PageID, false)
		return false
	}
	oldCopy := append([]byte{}, old...)

	if err := tp.UpdateTuple(int(rid.Slot), tuple); err != nil {
		p.WUnlatch()
		h.pool.UnpinPage(rid.PageID, false)
		return false
	}

	lsn := h.logManager.AppendLog(wal.NewUpdateLogRecord(txn.GetID(), txn.GetPrevLSN(), rid, oldCopy, tuple))
	txn.SetPrevLSN(lsn)
	tp.SetPageLSN(lsn)
	txn.AddIntoWriteSet(transaction.WriteRecord{RID: rid, Type: transaction.WUpdate, OldTuple: oldCopy})

	p.WUnlatch()
	h.pool.UnpinPage(rid.PageID, true)
	return true
}

// InsertTupleAt reinserts an image at a fixed rid and logs it as an insert.
func (h *TableHeap) InsertTupleAt(txn *transaction.Transaction, rid common.RID, tuple []byte) error {
	p, err := h.pool.FetchPage(rid.PageID)
	if err != nil {
		return err
	}
	p.WLatch()
	tp := CastTablePage(p)

	if err := tp.InsertTupleAt(int(rid.Slot), tuple); err != nil {
		p.WUnlatch()
		h.pool.UnpinPage(rid.PageID, false)
		return err
	}

	lsn := h.logManager.AppendLog(wal.NewInsertLogRecord(txn.GetID(), txn.GetPrevLSN(), rid, tuple))
	txn.SetPrevLSN(lsn)
	tp.SetPageLSN(lsn)

	p.WUnlatch()
	h.pool.UnpinPage(rid.PageID, true)
	return nil
}

package recovery

import (
	"log"

	"quill/buffer"
	"quill/common"
	"quill/disk"
	"quill/disk/pages"
	"quill/disk/structures"
	"quill/disk/wal"
	"quill/transaction"
)

// LogRecovery rebuilds committed state from the log file on startup, before any transaction may
// begin. The redo pass scans the whole log forward reapplying effects whose page lsn shows they
// never reached disk, while collecting the loser transactions and the file offset of every lsn.
// The undo pass then rolls the losers back along their prevLSN chains.
type LogRecovery struct {
	diskManager *disk.Manager
	pool        *buffer.BufferPool
	serializer  *wal.LogRecordSerializer

	activeTxn  map[transaction.TxnID]pages.LSN
	lsnMapping map[pages.LSN]int64

	offset    int64
	logBuffer []byte
	maxLSN    pages.LSN
}

func NewLogRecovery(dm *disk.Manager, pool *buffer.BufferPool) *LogRecovery {
	return &LogRecovery{
		diskManager: dm,
		pool:        pool,
		serializer:  wal.NewLogRecordSerializer(),
		activeTxn:   map[transaction.TxnID]pages.LSN{},
		lsnMapping:  map[pages.LSN]int64{},
		logBuffer:   make([]byte, common.LogBufferSize),
	}
}

// Recover runs both passes and returns the highest lsn found, so the log manager can continue the
// sequence.
func (r *LogRecovery) Recover() pages.LSN {
	r.Redo()
	r.Undo()
	return r.maxLSN
}

// Redo scans the log from the start. A record is reapplied only when the affected page carries an
// older lsn, which makes the pass idempotent. A short or garbled tail ends the scan.
func (r *LogRecovery) Redo() {
	r.offset = 0
	for r.diskManager.ReadLog(r.logBuffer, r.offset) {
		bufOffset := 0
		for {
			record, n, err := r.serializer.Deserialize(r.logBuffer[bufOffset:])
			if err != nil {
				break
			}

			r.lsnMapping[record.Lsn] = r.offset + int64(bufOffset)
			if record.Lsn > r.maxLSN {
				r.maxLSN = record.Lsn
			}

			switch record.T {
			case wal.TypeCommit, wal.TypeAbort:
				delete(r.activeTxn, record.TxnID)
			default:
				r.activeTxn[record.TxnID] = record.Lsn
			}

			r.redoRecord(record)
			bufOffset += n
		}

		if bufOffset == 0 {
			// nothing parseable is left in the file
			break
		}
		r.offset += int64(bufOffset)
	}
}

func (r *LogRecovery) redoRecord(record *wal.LogRecord) {
	switch record.T {
	case wal.TypeBegin, wal.TypeCommit, wal.TypeAbort:
		return
	case wal.TypeNewPage:
		r.redoNewPage(record)
		return
	}

	p, err := r.pool.FetchPage(record.RID.PageID)
	if err != nil {
		log.Printf("recovery: could not fetch page %v for redo: %v\n", record.RID.PageID, err)
		return
	}
	tp := structures.CastTablePage(p)

	if tp.GetPageLSN() >= record.Lsn {
		r.pool.UnpinPage(p.GetPageID(), false)
		return
	}

	slot := int(record.RID.Slot)
	switch record.T {
	case wal.TypeInsert:
		common.PanicIfErr(tp.InsertTupleAt(slot, record.Tuple))
	case wal.TypeMarkDelete:
		tp.MarkDelete(slot)
	case wal.TypeApplyDelete:
		tp.ApplyDelete(slot)
	case wal.TypeRollbackDelete:
		tp.RollbackDelete(slot)
	case wal.TypeUpdate:
		common.PanicIfErr(tp.UpdateTuple(slot, record.NewTuple))
	}

	tp.SetPageLSN(record.Lsn)
	r.pool.UnpinPage(p.GetPageID(), true)
}

func (r *LogRecovery) redoNewPage(record *wal.LogRecord) {
	p, err := r.pool.FetchPage(record.PageID)
	if err != nil {
		log.Printf("recovery: could not fetch page %v for redo: %v\n", record.PageID, err)
		return
	}
	tp := structures.CastTablePage(p)

	if tp.GetPageLSN() < record.Lsn {
		tp.Init(record.PrevPageID, record.Lsn)
		r.pool.UnpinPage(p.GetPageID(), true)
	} else {
		r.pool.UnpinPage(p.GetPageID(), false)
	}

	if record.PrevPageID != disk.InvalidPageID {
		prev, err := r.pool.FetchPage(record.PrevPageID)
		if err != nil {
			log.Printf("recovery: could not fetch page %v for redo: %v\n", record.PrevPageID, err)
			return
		}
		ptp := structures.CastTablePage(prev)
		if ptp.GetNextPageID() != record.PageID {
			ptp.SetNextPageID(record.PageID)
			r.pool.UnpinPage(prev.GetPageID(), true)
		} else {
			r.pool.UnpinPage(prev.GetPageID(), false)
		}
	}
}

// Undo rolls back every transaction that never logged a commit or abort, walking its backward
// chain through the lsn to file offset mapping built by redo.
func (r *LogRecovery) Undo() {
	for txnID, lastLSN := range r.activeTxn {
		for lsn := lastLSN; lsn != pages.ZeroLSN; {
			record := r.readRecordAt(r.lsnMapping[lsn])
			common.Assertf(record != nil, "undo could not re-read lsn %v of txn %v", lsn, txnID)
			r.undoRecord(record)
			lsn = record.PrevLSN
		}
	}
}

func (r *LogRecovery) readRecordAt(offset int64) *wal.LogRecord {
	if !r.diskManager.ReadLog(r.logBuffer, offset) {
		return nil
	}
	record, _, err := r.serializer.Deserialize(r.logBuffer)
	if err != nil {
		return nil
	}
	return record
}

func (r *LogRecovery) undoRecord(record *wal.LogRecord) {
	if !record.IsTupleRecord() {
		// begin needs no inverse and a new page is simply orphaned
		return
	}

	p, err := r.pool.FetchPage(record.RID.PageID)
	if err != nil {
		log.Printf("recovery: could not fetch page %v for undo: %v\n", record.RID.PageID, err)
		return
	}
	tp := structures.CastTablePage(p)

	slot := int(record.RID.Slot)
	switch record.T {
	case wal.TypeInsert:
		tp.ApplyDelete(slot)
	case wal.TypeMarkDelete:
		tp.RollbackDelete(slot)
	case wal.TypeRollbackDelete:
		tp.MarkDelete(slot)
	case wal.TypeApplyDelete:
		common.PanicIfErr(tp.InsertTupleAt(slot, record.Tuple))
	case wal.TypeUpdate:
		common.PanicIfErr(tp.UpdateTuple(slot, record.OldTuple))
	}

	r.pool.UnpinPage(p.GetPageID(), true)
}

package wal

import (
	"fmt"

	"quill/common"
	"quill/disk/pages"
	"quill/transaction"
)

type LogRecordType uint32

const (
	TypeInvalid LogRecordType = iota
	TypeBegin
	TypeCommit
	TypeAbort
	TypeInsert
	TypeMarkDelete
	TypeApplyDelete
	TypeRollbackDelete
	TypeUpdate
	TypeNewPage
)

func (t LogRecordType) String() string {
	switch t {
	case TypeBegin:
		return "BEGIN"
	case TypeCommit:
		return "COMMIT"
	case TypeAbort:
		return "ABORT"
	case TypeInsert:
		return "INSERT"
	case TypeMarkDelete:
		return "MARKDELETE"
	case TypeApplyDelete:
		return "APPLYDELETE"
	case TypeRollbackDelete:
		return "ROLLBACKDELETE"
	case TypeUpdate:
		return "UPDATE"
	case TypeNewPage:
		return "NEWPAGE"
	default:
		return "INVALID"
	}
}

// HeaderSize is the fixed prefix every record starts with on the wire:
// size (4) | lsn (4) | txn_id (4) | prev_lsn (4) | type (4).
const HeaderSize = 20

// LogRecord is one write-ahead log entry. Records of a transaction form a backward chain through
// PrevLSN. Size and Lsn are assigned by the log manager at append time.
type LogRecord struct {
	Size    uint32
	Lsn     pages.LSN
	TxnID   transaction.TxnID
	PrevLSN pages.LSN
	T       LogRecordType

	// tuple records (insert, the delete family and update)
	RID      common.RID
	Tuple    []byte // inserted or deleted image
	OldTuple []byte // pre-image, update only
	NewTuple []byte // post-image, update only

	// new page records
	PrevPageID uint64
	PageID     uint64
}

func (r *LogRecord) String() string {
	return fmt.Sprintf("{lsn: %v, txn: %v, prev: %v, type: %v}", r.Lsn, r.TxnID, r.PrevLSN, r.T)
}

func (r *LogRecord) IsTupleRecord() bool {
	return common.OneOf(r.T, TypeInsert, TypeMarkDelete, TypeApplyDelete, TypeRollbackDelete, TypeUpdate)
}

func NewBeginLogRecord(txnID transaction.TxnID) *LogRecord {
	return &LogRecord{T: TypeBegin, TxnID: txnID}
}

func NewCommitLogRecord(txnID transaction.TxnID, prevLSN pages.LSN) *LogRecord {
	return &LogRecord{T: TypeCommit, TxnID: txnID, PrevLSN: prevLSN}
}

func NewAbortLogRecord(txnID transaction.TxnID, prevLSN pages.LSN) *LogRecord {
	return &LogRecord{T: TypeAbort, TxnID: txnID, PrevLSN: prevLSN}
}

func NewInsertLogRecord(txnID transaction.TxnID, prevLSN pages.LSN, rid common.RID, tuple []byte) *LogRecord {
	return &LogRecord{T: TypeInsert, TxnID: txnID, PrevLSN: prevLSN, RID: rid, Tuple: tuple}
}

func NewMarkDeleteLogRecord(txnID transaction.TxnID, prevLSN pages.LSN, rid common.RID, tuple []byte) *LogRecord {
	return &LogRecord{T: TypeMarkDelete, TxnID: txnID, PrevLSN: prevLSN, RID: rid, Tuple: tuple}
}

func NewApplyDeleteLogRecord(txnID transaction.TxnID, prevLSN pages.LSN, rid common.RID, tuple []byte) *LogRecord {
	return &LogRecord{T: TypeApplyDelete, TxnID: txnID, PrevLSN: prevLSN, RID: rid, Tuple: tuple}
}

func NewRollbackDeleteLogRecord(txnID transaction.TxnID, prevLSN pages.LSN, rid common.RID, tuple []byte) *LogRecord {
	return &LogRecord{T: TypeRollbackDelete, TxnID: txnID, PrevLSN: prevLSN, RID: rid, Tuple: tuple}
}

func NewUpdateLogRecord(txnID transaction.TxnID, prevLSN pages.LSN, rid common.RID, oldTuple, newTuple []byte) *LogRecord {
	return &LogRecord{T: TypeUpdate, TxnID: txnID, PrevLSN: prevLSN, RID: rid, OldTuple: oldTuple, NewTuple: newTuple}
}

func NewNewPageLogRecord(txnID transaction.TxnID, prevLSN pages.LSN, prevPageID, pageID uint64) *LogRecord {
	return &LogRecord{T: TypeNewPage, TxnID: txnID, PrevLSN: prevLSN, PrevPageID: prevPageID, PageID: pageID}
}

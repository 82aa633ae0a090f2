package transaction

import (
	"quill/common"
	"quill/disk/pages"
)

// TxnID orders transactions by age: a smaller id means an older transaction. Zero is reserved for
// "no transaction".
type TxnID uint32

const InvalidTxnID TxnID = 0

type TxnState int

const (
	Growing TxnState = iota
	Shrinking
	Committed
	Aborted
)

type WriteType int

const (
	WInsert WriteType = iota
	WMarkDelete
	WUpdate
)

// WriteRecord remembers one heap modification so that abort can apply its inverse without reading
// the log back.
type WriteRecord struct {
	RID      common.RID
	Type     WriteType
	OldTuple []byte // previous image, set for updates and mark deletes
}

// Transaction carries everything the engine tracks per transaction: the 2PL state machine, the
// lock sets maintained by the lock manager, the ordered set of pages latched during one index
// descent, pages scheduled for deletion by that descent, the backward log chain head and the undo
// write set.
type Transaction struct {
	id      TxnID
	state   TxnState
	prevLSN pages.LSN

	sharedLockSet    map[common.RID]struct{}
	exclusiveLockSet map[common.RID]struct{}

	// pageSet is ordered top-down; latches and pins are released in that same order, ancestors
	// before their descendants.
	pageSet        []*pages.RawPage
	deletedPageSet map[uint64]struct{}

	writeSet []WriteRecord

	// rootLatchCount counts how many times this transaction holds the tree's root latch so that
	// repeated release attempts during crabbing are tolerated.
	rootLatchCount int
}

func New(id TxnID) *Transaction {
	return &Transaction{
		id:               id,
		state:            Growing,
		prevLSN:          pages.ZeroLSN,
		sharedLockSet:    map[common.RID]struct{}{},
		exclusiveLockSet: map[common.RID]struct{}{},
		deletedPageSet:   map[uint64]struct{}{},
	}
}

func (t *Transaction) GetID() TxnID {
	return t.id
}

func (t *Transaction) GetState() TxnState {
	return t.state
}

func (t *Transaction) SetState(s TxnState) {
	t.state = s
}

func (t *Transaction) GetPrevLSN() pages.LSN {
	return t.prevLSN
}

func (t *Transaction) SetPrevLSN(l pages.LSN) {
	t.prevLSN = l
}

func (t *Transaction) GetSharedLockSet() map[common.RID]struct{} {
	return t.sharedLockSet
}

func (t *Transaction) GetExclusiveLockSet() map[common.RID]struct{} {
	return t.exclusiveLockSet
}

func (t *Transaction) AddIntoPageSet(p *pages.RawPage) {
	t.pageSet = append(t.pageSet, p)
}

func (t *Transaction) GetPageSet() []*pages.RawPage {
	return t.pageSet
}

func (t *Transaction) ClearPageSet() {
	t.pageSet = t.pageSet[:0]
}

func (t *Transaction) AddIntoDeletedPageSet(pageID uint64) {
	t.deletedPageSet[pageID] = struct{}{}
}

func (t *Transaction) GetDeletedPageSet() map[uint64]struct{} {
	return t.deletedPageSet
}

func (t *Transaction) AddIntoWriteSet(r WriteRecord) {
	t.writeSet = append(t.writeSet, r)
}

func (t *Transaction) GetWriteSet() []WriteRecord {
	return t.writeSet
}

func (t *Transaction) IncrRootLatchCount() {
	t.rootLatchCount++
}

func (t *Transaction) DecrRootLatchCount() {
	t.rootLatchCount--
}

func (t *Transaction) GetRootLatchCount() int {
	return t.rootLatchCount
}

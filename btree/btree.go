package btree

import (
	"fmt"
	"sync"

	"quill/buffer"
	"quill/common"
	"quill/disk"
	"quill/disk/pages"
	"quill/transaction"
)

// BPlusTree is a disk backed, unique key ordered index. Values are RIDs. Every traversal follows
// the crabbing protocol: the dedicated root latch is taken first, page latches are acquired top
// down and released as soon as the descent reaches a node where the operation cannot propagate
// structure modifications upward. Latched pages are tracked on the transaction and released in
// acquisition order: unlatch, unpin, then delete the pages the operation emptied.
type BPlusTree[K any] struct {
	indexName  string
	rootPageID uint64
	pool       *buffer.BufferPool
	ks         KeySerializer[K]
	cmp        Comparator[K]

	rootLatch sync.RWMutex

	// zero means "compute from the page size"; tests force tiny nodes through these
	leafMaxSize     int
	internalMaxSize int
}

// NewBPlusTree opens (or registers) the named index, loading its root from the header page.
func NewBPlusTree[K any](name string, pool *buffer.BufferPool, ks KeySerializer[K], cmp Comparator[K]) *BPlusTree[K] {
	return NewBPlusTreeWithSizes(name, pool, ks, cmp, 0, 0)
}

func NewBPlusTreeWithSizes[K any](name string, pool *buffer.BufferPool, ks KeySerializer[K], cmp Comparator[K], leafMaxSize, internalMaxSize int) *BPlusTree[K] {
	t := &BPlusTree[K]{
		indexName:       name,
		pool:            pool,
		ks:              ks,
		cmp:             cmp,
		leafMaxSize:     leafMaxSize,
		internalMaxSize: internalMaxSize,
	}

	p, err := pool.FetchPage(HeaderPageID)
	common.PanicIfErr(err)
	root, ok := castHeaderPage(p).GetRootID(name)
	if ok {
		t.rootPageID = root
		pool.UnpinPage(HeaderPageID, false)
	} else {
		castHeaderPage(p).SetRootID(name, disk.InvalidPageID)
		pool.UnpinPage(HeaderPageID, true)
	}
	return t
}

func (t *BPlusTree[K]) IsEmpty() bool {
	return t.rootPageID == disk.InvalidPageID
}

// GetValue finds the value bound to key.
func (t *BPlusTree[K]) GetValue(key K, txn *transaction.Transaction) (common.RID, bool) {
	leaf := t.findLeafPage(key, false, OpRead, txn)
	if leaf == nil {
		return common.RID{}, false
	}

	v, ok := leaf.lookup(key)
	t.freePagesInTxn(false, txn)
	return v, ok
}

// Insert adds the pair; it returns false on a duplicate key since only unique keys are supported.
func (t *BPlusTree[K]) Insert(key K, value common.RID, txn *transaction.Transaction) bool {
	t.lockRoot(true, txn)
	if t.IsEmpty() {
		t.startNewTree(key, value)
		t.tryUnlockRoot(true, txn)
		return true
	}
	t.tryUnlockRoot(true, txn)

	return t.insertIntoLeaf(key, value, txn)
}

// Remove deletes the key if present, merging or redistributing nodes that underflow.
func (t *BPlusTree[K]) Remove(key K, txn *transaction.Transaction) {
	leaf := t.findLeafPage(key, false, OpDelete, txn)
	if leaf == nil {
		return
	}

	size := leaf.removeRecord(key)
	if size < leaf.minSize() {
		t.coalesceOrRedistribute(leaf, txn)
	}
	t.freePagesInTxn(true, txn)
}

/* insertion */

func (t *BPlusTree[K]) startNewTree(key K, value common.RID) {
	p, err := t.pool.NewPage()
	common.PanicIfErr(err)

	leaf := t.wrapLeaf(p)
	leaf.init(p.GetPageID(), disk.InvalidPageID, t.leafMaxSize)
	leaf.insert(key, value)

	t.rootPageID = p.GetPageID()
	t.updateRootPageID()
	t.pool.UnpinPage(p.GetPageID(), true)
}

func (t *BPlusTree[K]) insertIntoLeaf(key K, value common.RID, txn *transaction.Transaction) bool {
	leaf := t.findLeafPage(key, false, OpInsert, txn)
	if _, exists := leaf.lookup(key); exists {
		t.freePagesInTxn(true, txn)
		return false
	}

	leaf.insert(key, value)
	if leaf.getSize() > leaf.getMaxSize() {
		newLeaf := t.splitLeaf(leaf, txn)
		t.insertIntoParent(leaf, newLeaf.keyAt(0), newLeaf, txn)
	}

	t.freePagesInTxn(true, txn)
	return true
}

// splitLeaf allocates the right sibling, write latches it and moves the upper half over. The new
// page joins the transaction's page set so it is released with everything else.
func (t *BPlusTree[K]) splitLeaf(leaf *leafPage[K], txn *transaction.Transaction) *leafPage[K] {
	p, err := t.pool.NewPage()
	common.PanicIfErr(err)
	p.WLatch()
	txn.AddIntoPageSet(p)

	newLeaf := t.wrapLeaf(p)
	newLeaf.init(p.GetPageID(), leaf.getParentPageID(), t.leafMaxSize)
	leaf.moveHalfTo(newLeaf)
	return newLeaf
}

func (t *BPlusTree[K]) splitInternal(node *internalPage[K], txn *transaction.Transaction) *internalPage[K] {
	p, err := t.pool.NewPage()
	common.PanicIfErr(err)
	p.WLatch()
	txn.AddIntoPageSet(p)

	newNode := t.wrapInternal(p)
	newNode.init(p.GetPageID(), node.getParentPageID(), t.internalMaxSize)
	node.moveHalfTo(newNode, t)
	return newNode
}

// insertIntoParent threads the separator produced by a split upward, growing a new root when the
// old root itself split. The ancestors are still write latched; an unsafe path never released
// them.
func (t *BPlusTree[K]) insertIntoParent(old treeNode, sepKey K, newNode treeNode, txn *transaction.Transaction) {
	if old.isRoot() {
		p, err := t.pool.NewPage()
		common.PanicIfErr(err)
		if p.GetPinCount() != 1 {
			panic("fresh root page is pinned by someone else")
		}

		newRoot := t.wrapInternal(p)
		newRoot.init(p.GetPageID(), disk.InvalidPageID, t.internalMaxSize)
		newRoot.populateNewRoot(old.getPageID(), sepKey, newNode.getPageID())
		old.setParentPageID(p.GetPageID())
		newNode.setParentPageID(p.GetPageID())

		t.rootPageID = p.GetPageID()
		t.updateRootPageID()
		t.pool.UnpinPage(p.GetPageID(), true)
		return
	}

	parentID := old.getParentPageID()
	pp, err := t.pool.FetchPage(parentID)
	common.PanicIfErr(err)
	parent := t.wrapInternal(pp)

	newNode.setParentPageID(parentID)
	parent.insertNodeAfter(old.getPageID(), sepKey, newNode.getPageID())
	if parent.getSize() > parent.getMaxSize() {
		newInternal := t.splitInternal(parent, txn)
		t.insertIntoParent(parent, newInternal.keyAt(0), newInternal, txn)
	}

	t.pool.UnpinPage(parentID, true)
}

/* deletion */

// coalesceOrRedistribute restores the minimum occupancy invariant of node, recursing up the tree
// when a merge underflows the parent. Returns true when node itself got scheduled for deletion.
func (t *BPlusTree[K]) coalesceOrRedistribute(node treeNode, txn *transaction.Transaction) bool {
	if node.isRoot() {
		if t.adjustRoot(node) {
			txn.AddIntoDeletedPageSet(node.getPageID())
			return true
		}
		return false
	}

	sibling, isRightSibling := t.findSibling(node, txn)

	pp, err := t.pool.FetchPage(node.getParentPageID())
	common.PanicIfErr(err)
	parent := t.wrapInternal(pp)

	if node.getSize()+sibling.getSize() <= node.getMaxSize() {
		left, right := sibling, node
		if isRightSibling {
			left, right = node, sibling
		}
		t.coalesce(left, right, parent, txn)
		t.pool.UnpinPage(parent.getPageID(), true)
		return !isRightSibling
	}

	t.redistribute(sibling, node, parent)
	t.pool.UnpinPage(parent.getPageID(), false)
	return false
}

// findSibling write latches the neighbor the node merges with or borrows from: the left one,
// unless node is its parent's first child, in which case the right one. The second return value
// reports the right-sibling case.
func (t *BPlusTree[K]) findSibling(node treeNode, txn *transaction.Transaction) (treeNode, bool) {
	pp, err := t.pool.FetchPage(node.getParentPageID())
	common.PanicIfErr(err)
	parent := t.wrapInternal(pp)

	idx := parent.valueIndex(node.getPageID())
	if idx < 0 {
		panic(fmt.Sprintf("node %v is not a child of its recorded parent", node.getPageID()))
	}

	siblingIdx := idx - 1
	if idx == 0 {
		siblingIdx = idx + 1
	}

	sibling := t.crabFetch(parent.valueAt(siblingIdx), OpDelete, 0, txn)
	t.pool.UnpinPage(parent.getPageID(), false)
	return sibling, idx == 0
}

// coalesce merges right into left and removes the separator from the parent. Internal merges
// write the separator through the right node's slot 0 key first. Underflowing the parent recurses
// on <= minSize because the invalid key 0 makes an internal node's effective load one smaller.
func (t *BPlusTree[K]) coalesce(left, right treeNode, parent *internalPage[K], txn *transaction.Transaction) {
	removeIdx := parent.valueIndex(right.getPageID())

	if right.isLeaf() {
		right.(*leafPage[K]).moveAllTo(left.(*leafPage[K]))
	} else {
		right.(*internalPage[K]).moveAllTo(left.(*internalPage[K]), removeIdx, parent, t)
	}
	txn.AddIntoDeletedPageSet(right.getPageID())

	parent.remove(removeIdx)
	if parent.getSize() <= parent.minSize() {
		t.coalesceOrRedistribute(parent, txn)
	}
}

// redistribute borrows one entry from the sibling: its last when it sits left of node, its first
// when it sits right (only possible when node is the first child).
func (t *BPlusTree[K]) redistribute(sibling, node treeNode, parent *internalPage[K]) {
	nodeIdx := parent.valueIndex(node.getPageID())

	if node.isLeaf() {
		l, s := node.(*leafPage[K]), sibling.(*leafPage[K])
		if nodeIdx == 0 {
			s.moveFirstToEndOf(l, parent)
		} else {
			s.moveLastToFrontOf(l, nodeIdx, parent)
		}
		return
	}

	n, s := node.(*internalPage[K]), sibling.(*internalPage[K])
	if nodeIdx == 0 {
		s.moveFirstToEndOf(n, parent, t)
	} else {
		s.moveLastToFrontOf(n, nodeIdx, parent, t)
	}
}

// adjustRoot handles the two root collapse cases: a leaf root that ran empty empties the tree, an
// internal root left with a single pointer promotes its only child. Reports whether the old root
// page should be deleted.
func (t *BPlusTree[K]) adjustRoot(oldRoot treeNode) bool {
	if oldRoot.isLeaf() {
		if oldRoot.getSize() > 0 {
			return false
		}
		t.rootPageID = disk.InvalidPageID
		t.updateRootPageID()
		return true
	}

	if oldRoot.getSize() == 1 {
		newRootID := oldRoot.(*internalPage[K]).removeAndReturnOnlyChild()
		t.rootPageID = newRootID
		t.updateRootPageID()

		p, err := t.pool.FetchPage(newRootID)
		common.PanicIfErr(err)
		t.wrapInternal(p).setParentPageID(disk.InvalidPageID)
		t.pool.UnpinPage(newRootID, true)
		return true
	}

	return false
}

/* traversal */

// findLeafPage descends to the leaf covering key (the leftmost leaf when leftMost is set) under
// the crabbing protocol. Returns nil on an empty tree with every latch released.
func (t *BPlusTree[K]) findLeafPage(key K, leftMost bool, op OpType, txn *transaction.Transaction) *leafPage[K] {
	exclusive := op != OpRead
	t.lockRoot(exclusive, txn)
	if t.IsEmpty() {
		t.tryUnlockRoot(exclusive, txn)
		return nil
	}

	node := t.crabFetch(t.rootPageID, op, 0, txn)
	for !node.isLeaf() {
		internal := node.(*internalPage[K])
		var next uint64
		if leftMost {
			next = internal.valueAt(0)
		} else {
			next = internal.lookupChild(key)
		}
		node = t.crabFetch(next, op, internal.getPageID(), txn)
	}
	return node.(*leafPage[K])
}

// crabFetch pins and latches one page on the way down. Read descents release the parent
// immediately; write descents release all ancestors only once the child turned out safe for the
// operation. Every latched page lands in the transaction's ordered page set.
func (t *BPlusTree[K]) crabFetch(pageID uint64, op OpType, previous uint64, txn *transaction.Transaction) treeNode {
	exclusive := op != OpRead

	p, err := t.pool.FetchPage(pageID)
	common.PanicIfErr(err)

	if exclusive {
		p.WLatch()
	} else {
		p.RLatch()
	}

	node := t.asNode(p)
	if previous != disk.InvalidPageID && (!exclusive || node.isSafe(op)) {
		t.freePagesInTxn(exclusive, txn)
	}
	txn.AddIntoPageSet(p)
	return node
}

// freePagesInTxn releases everything the descent holds, in acquisition order: the root latch
// first (tolerant of repeated release), then per page latch, unpin, and the deferred page
// deletions.
func (t *BPlusTree[K]) freePagesInTxn(exclusive bool, txn *transaction.Transaction) {
	t.tryUnlockRoot(exclusive, txn)

	for _, p := range txn.GetPageSet() {
		pageID := p.GetPageID()
		if exclusive {
			p.WUnlatch()
		} else {
			p.RUnLatch()
		}
		t.pool.UnpinPage(pageID, exclusive)

		if _, ok := txn.GetDeletedPageSet()[pageID]; ok {
			t.pool.DeletePage(pageID)
			delete(txn.GetDeletedPageSet(), pageID)
		}
	}
	txn.ClearPageSet()
}

func (t *BPlusTree[K]) lockRoot(exclusive bool, txn *transaction.Transaction) {
	if exclusive {
		t.rootLatch.Lock()
	} else {
		t.rootLatch.RLock()
	}
	txn.IncrRootLatchCount()
}

// tryUnlockRoot releases the root latch only when this transaction still holds it; crabbing may
// attempt the release several times per descent.
func (t *BPlusTree[K]) tryUnlockRoot(exclusive bool, txn *transaction.Transaction) {
	if txn.GetRootLatchCount() <= 0 {
		return
	}
	txn.DecrRootLatchCount()
	if exclusive {
		t.rootLatch.Unlock()
	} else {
		t.rootLatch.RUnlock()
	}
}

/* helpers */

func (t *BPlusTree[K]) wrapLeaf(p *pages.RawPage) *leafPage[K] {
	return &leafPage[K]{treePage: treePage{page: p}, ks: t.ks, cmp: t.cmp}
}

func (t *BPlusTree[K]) wrapInternal(p *pages.RawPage) *internalPage[K] {
	return &internalPage[K]{treePage: treePage{page: p}, ks: t.ks, cmp: t.cmp}
}

func (t *BPlusTree[K]) asNode(p *pages.RawPage) treeNode {
	tp := treePage{page: p}
	if tp.isLeaf() {
		return t.wrapLeaf(p)
	}
	return t.wrapInternal(p)
}

// adoptChild rewrites a child's parent pointer when entries move between internal nodes.
func (t *BPlusTree[K]) adoptChild(childPageID, parentPageID uint64) {
	p, err := t.pool.FetchPage(childPageID)
	common.PanicIfErr(err)
	treePage{page: p}.setParentPageID(parentPageID)
	t.pool.UnpinPage(childPageID, true)
}

// updateRootPageID records the current root in the header page. Callers hold the exclusive root
// latch whenever the root changes.
func (t *BPlusTree[K]) updateRootPageID() {
	p, err := t.pool.FetchPage(HeaderPageID)
	common.PanicIfErr(err)
	castHeaderPage(p).SetRootID(t.indexName, t.rootPageID)
	t.pool.UnpinPage(HeaderPageID, true)
}

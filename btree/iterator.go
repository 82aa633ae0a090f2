package btree

import (
	"quill/common"
	"quill/disk"
	"quill/transaction"
)

// TreeIterator walks the leaf level in key order. It holds at most one leaf read latched and
// pinned at any time; Close releases the current one when iteration stops early.
type TreeIterator[K any] struct {
	tree  *BPlusTree[K]
	leaf  *leafPage[K]
	index int
}

// Begin positions at the smallest key.
func (t *BPlusTree[K]) Begin(txn *transaction.Transaction) *TreeIterator[K] {
	var zero K
	leaf := t.findLeafPage(zero, true, OpRead, txn)
	t.tryUnlockRoot(false, txn)
	if leaf == nil {
		return &TreeIterator[K]{tree: t}
	}

	// the iterator owns the leaf's latch and pin from here on
	txn.ClearPageSet()

	it := &TreeIterator[K]{tree: t, leaf: leaf}
	it.skipEmpty()
	return it
}

// BeginAt positions at the first entry >= key.
func (t *BPlusTree[K]) BeginAt(key K, txn *transaction.Transaction) *TreeIterator[K] {
	leaf := t.findLeafPage(key, false, OpRead, txn)
	t.tryUnlockRoot(false, txn)
	if leaf == nil {
		return &TreeIterator[K]{tree: t}
	}
	txn.ClearPageSet()

	it := &TreeIterator[K]{tree: t, leaf: leaf, index: leaf.keyIndex(key)}
	it.skipEmpty()
	return it
}

func (it *TreeIterator[K]) IsEnd() bool {
	return it.leaf == nil
}

func (it *TreeIterator[K]) Key() K {
	return it.leaf.keyAt(it.index)
}

func (it *TreeIterator[K]) Value() common.RID {
	return it.leaf.valueAt(it.index)
}

// Next advances one entry, hopping to the next leaf through the chain when the current one is
// exhausted.
func (it *TreeIterator[K]) Next() {
	it.index++
	it.skipEmpty()
}

// skipEmpty normalizes a position past the current leaf's last entry onto the next leaf.
func (it *TreeIterator[K]) skipEmpty() {
	for it.leaf != nil && it.index >= it.leaf.getSize() {
		next := it.leaf.getNextPageID()
		it.release()
		if next == disk.InvalidPageID {
			return
		}

		p, err := it.tree.pool.FetchPage(next)
		common.PanicIfErr(err)
		p.RLatch()
		it.leaf = it.tree.wrapLeaf(p)
		it.index = 0
	}
}

// Close releases the current leaf; calling it on a finished iterator is a no-op.
func (it *TreeIterator[K]) Close() {
	it.release()
}

func (it *TreeIterator[K]) release() {
	if it.leaf == nil {
		return
	}
	pageID := it.leaf.getPageID()
	it.leaf.raw().RUnLatch()
	it.tree.pool.UnpinPage(pageID, false)
	it.leaf = nil
}

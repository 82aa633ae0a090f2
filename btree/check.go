package btree

import (
	"fmt"

	"quill/common"
	"quill/disk"
)

// Height counts levels from root to leaf. A single leaf root has height 1.
func (t *BPlusTree[K]) Height() int {
	if t.IsEmpty() {
		return 0
	}

	h := 1
	cur := t.rootPageID
	for {
		p, err := t.pool.FetchPage(cur)
		common.PanicIfErr(err)
		node := t.asNode(p)
		if node.isLeaf() {
			t.pool.UnpinPage(cur, false)
			return h
		}
		next := node.(*internalPage[K]).valueAt(0)
		t.pool.UnpinPage(cur, false)
		cur = next
		h++
	}
}

// CheckIntegrity validates the structural invariants of the whole tree: size bounds on every
// non-root node, strictly increasing keys, separator keys bracketing their subtrees, uniform
// depth, and a leaf chain that visits every leaf exactly once in key order. It takes no latches;
// run it only while no writer is active.
func (t *BPlusTree[K]) CheckIntegrity() error {
	if t.IsEmpty() {
		return nil
	}

	leaves := 0
	if _, _, _, err := t.checkNode(t.rootPageID, true, &leaves); err != nil {
		return err
	}

	chained, err := t.chainLength()
	if err != nil {
		return err
	}
	if chained != leaves {
		return fmt.Errorf("leaf chain visits %v leaves but the tree has %v", chained, leaves)
	}
	return nil
}

func (t *BPlusTree[K]) checkNode(pageID uint64, isRoot bool, leaves *int) (minKey, maxKey K, depth int, err error) {
	p, fetchErr := t.pool.FetchPage(pageID)
	if fetchErr != nil {
		err = fetchErr
		return
	}
	defer t.pool.UnpinPage(pageID, false)

	node := t.asNode(p)
	size := node.getSize()

	if !isRoot && (size < node.minSize() || size > node.getMaxSize()) {
		err = fmt.Errorf("node %v violates size bounds: %v not in [%v, %v]", pageID, size, node.minSize(), node.getMaxSize())
		return
	}

	if node.isLeaf() {
		leaf := node.(*leafPage[K])
		*leaves++
		for i := 1; i < size; i++ {
			if t.cmp(leaf.keyAt(i-1), leaf.keyAt(i)) >= 0 {
				err = fmt.Errorf("leaf %v keys are not strictly increasing at %v", pageID, i)
				return
			}
		}
		if size > 0 {
			minKey, maxKey = leaf.keyAt(0), leaf.keyAt(size-1)
		}
		depth = 1
		return
	}

	internal := node.(*internalPage[K])
	for i := 2; i < size; i++ {
		if t.cmp(internal.keyAt(i-1), internal.keyAt(i)) >= 0 {
			err = fmt.Errorf("internal %v keys are not strictly increasing at %v", pageID, i)
			return
		}
	}

	childDepth := 0
	for i := 0; i < size; i++ {
		cMin, cMax, cDepth, cErr := t.checkNode(internal.valueAt(i), false, leaves)
		if cErr != nil {
			err = cErr
			return
		}
		if i == 0 {
			minKey = cMin
			childDepth = cDepth
		} else {
			if cDepth != childDepth {
				err = fmt.Errorf("internal %v has children of unequal depth", pageID)
				return
			}
			// subtree i must start at or after separator i and end before separator i+1
			if t.cmp(cMin, internal.keyAt(i)) < 0 {
				err = fmt.Errorf("internal %v: child %v holds a key below its separator", pageID, i)
				return
			}
		}
		if i+1 < size {
			if t.cmp(cMax, internal.keyAt(i+1)) >= 0 {
				err = fmt.Errorf("internal %v: child %v holds a key at or above the next separator", pageID, i)
				return
			}
		}
		maxKey = cMax
	}
	depth = childDepth + 1
	return
}

func (t *BPlusTree[K]) chainLength() (int, error) {
	// descend to the leftmost leaf
	cur := t.rootPageID
	for {
		p, err := t.pool.FetchPage(cur)
		if err != nil {
			return 0, err
		}
		node := t.asNode(p)
		if node.isLeaf() {
			t.pool.UnpinPage(cur, false)
			break
		}
		next := node.(*internalPage[K]).valueAt(0)
		t.pool.UnpinPage(cur, false)
		cur = next
	}

	n := 0
	var prevMax K
	havePrev := false
	for cur != disk.InvalidPageID {
		p, err := t.pool.FetchPage(cur)
		if err != nil {
			return 0, err
		}
		leaf := t.wrapLeaf(p)
		next := leaf.getNextPageID()
		var orderErr error
		if size := leaf.getSize(); size > 0 {
			if havePrev && t.cmp(leaf.keyAt(0), prevMax) <= 0 {
				orderErr = fmt.Errorf("leaf chain is out of key order at leaf %v", cur)
			}
			prevMax, havePrev = leaf.keyAt(size-1), true
		}
		t.pool.UnpinPage(cur, false)
		if orderErr != nil {
			return 0, orderErr
		}
		cur = next
		n++
	}
	return n, nil
}

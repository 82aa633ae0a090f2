package btree

import (
	"encoding/binary"
	"fmt"
	"sort"

	"quill/disk"
)

// internalPage stores size child pointers separated by size-1 keys in a pointer-before-key
// layout: the key sharing slot 0 with the first pointer is invalid and never read. All keys in
// the subtree under value[i] lie in [key[i], key[i+1]).
type internalPage[K any] struct {
	treePage
	ks  KeySerializer[K]
	cmp Comparator[K]
}

func (n *internalPage[K]) entrySize() int {
	return n.ks.Size() + 8
}

func (n *internalPage[K]) entryOffset(idx int) int {
	return internalStart + idx*n.entrySize()
}

func (n *internalPage[K]) init(pageID, parentPageID uint64, maxSize int) {
	n.setPageType(internalPageType)
	n.setSize(0)
	if maxSize == 0 {
		maxSize = (disk.PageSize-internalStart)/n.entrySize() - 1
	}
	n.setMaxSize(maxSize)
	n.setParentPageID(parentPageID)
	n.setSelfPageID(pageID)
}

func (n *internalPage[K]) keyAt(idx int) K {
	return n.ks.Deserialize(n.page.GetData()[n.entryOffset(idx):])
}

func (n *internalPage[K]) setKeyAt(idx int, key K) {
	n.ks.Serialize(key, n.page.GetData()[n.entryOffset(idx):])
}

func (n *internalPage[K]) valueAt(idx int) uint64 {
	return binary.BigEndian.Uint64(n.page.GetData()[n.entryOffset(idx)+n.ks.Size():])
}

func (n *internalPage[K]) setValueAt(idx int, pid uint64) {
	binary.BigEndian.PutUint64(n.page.GetData()[n.entryOffset(idx)+n.ks.Size():], pid)
}

// valueIndex finds the slot holding the given child pointer, -1 if absent.
func (n *internalPage[K]) valueIndex(pid uint64) int {
	for i := 0; i < n.getSize(); i++ {
		if n.valueAt(i) == pid {
			return i
		}
	}
	return -1
}

// lookupChild returns the child covering key: the pointer right before the first key greater than
// key. The search starts at index 1 because key 0 is invalid.
func (n *internalPage[K]) lookupChild(key K) uint64 {
	if n.getSize() <= 1 {
		panic(fmt.Sprintf("lookup in an internal node with %v pointers", n.getSize()))
	}

	idx := sort.Search(n.getSize()-1, func(i int) bool {
		return n.cmp(n.keyAt(i+1), key) > 0
	})
	return n.valueAt(idx)
}

// populateNewRoot seeds a fresh root after the old root split: [oldValue, key, newValue] with the
// slot 0 key left invalid.
func (n *internalPage[K]) populateNewRoot(oldValue uint64, key K, newValue uint64) {
	n.setValueAt(0, oldValue)
	n.setKeyAt(1, key)
	n.setValueAt(1, newValue)
	n.setSize(2)
}

// insertNodeAfter places (key, newValue) right behind oldValue and returns the new size.
func (n *internalPage[K]) insertNodeAfter(oldValue uint64, key K, newValue uint64) int {
	idx := n.valueIndex(oldValue) + 1
	if idx <= 0 {
		panic("insert after a pointer that is not in the node")
	}

	n.shiftRightAt(idx)
	n.setKeyAt(idx, key)
	n.setValueAt(idx, newValue)
	n.increaseSize(1)
	return n.getSize()
}

// remove drops the entry at idx, shifting the tail left.
func (n *internalPage[K]) remove(idx int) {
	n.shiftLeftAt(idx)
	n.increaseSize(-1)
}

// removeAndReturnOnlyChild collapses a root that is down to a single pointer.
func (n *internalPage[K]) removeAndReturnOnlyChild() uint64 {
	child := n.valueAt(0)
	n.increaseSize(-1)
	if n.getSize() != 0 {
		panic("root collapse with more than one child")
	}
	return child
}

// moveHalfTo migrates the upper half into the fresh right sibling. The entry at the copy point
// lands in the recipient's slot 0, so its key is exactly the separator the caller pushes up.
// Moved children are reparented through the pool.
func (n *internalPage[K]) moveHalfTo(recipient *internalPage[K], tree *BPlusTree[K]) {
	total := n.getMaxSize() + 1
	if n.getSize() != total {
		panic(fmt.Sprintf("split of an internal node that is not overflowing, size: %v", n.getSize()))
	}

	copyIdx := total / 2
	data, dest := n.page.GetData(), recipient.page.GetData()
	copy(dest[recipient.entryOffset(0):], data[n.entryOffset(copyIdx):n.entryOffset(total)])

	n.setSize(copyIdx)
	recipient.setSize(total - copyIdx)

	for i := 0; i < recipient.getSize(); i++ {
		tree.adoptChild(recipient.valueAt(i), recipient.getPageID())
	}
}

// moveAllTo empties this node into its left sibling during coalesce. The parent separator is
// first written through into this node's invalid slot 0 key, so the move carries it along.
func (n *internalPage[K]) moveAllTo(recipient *internalPage[K], idxInParent int, parent *internalPage[K], tree *BPlusTree[K]) {
	n.setKeyAt(0, parent.keyAt(idxInParent))

	start := recipient.getSize()
	data, dest := n.page.GetData(), recipient.page.GetData()
	copy(dest[recipient.entryOffset(start):], data[n.entryOffset(0):n.entryOffset(n.getSize())])

	for i := 0; i < n.getSize(); i++ {
		tree.adoptChild(n.valueAt(i), recipient.getPageID())
	}

	recipient.increaseSize(n.getSize())
	if recipient.getSize() > recipient.getMaxSize() {
		panic("coalesce overflowed the left node")
	}
	n.setSize(0)
}

// moveFirstToEndOf rotates this node's first pointer to the end of its left sibling: the parent
// separator comes down as the moved entry's key and this node's key 1 goes up as the new
// separator.
func (n *internalPage[K]) moveFirstToEndOf(recipient *internalPage[K], parent *internalPage[K], tree *BPlusTree[K]) {
	myIdx := parent.valueIndex(n.getPageID())
	child := n.valueAt(0)

	recipient.setKeyAt(recipient.getSize(), parent.keyAt(myIdx))
	recipient.setValueAt(recipient.getSize(), child)
	recipient.increaseSize(1)

	parent.setKeyAt(myIdx, n.keyAt(1))

	n.shiftLeftAt(0)
	n.increaseSize(-1)

	tree.adoptChild(child, recipient.getPageID())
}

// moveLastToFrontOf rotates this node's last pointer to the front of its right sibling: the
// parent separator comes down as the sibling's key 1 and the moved key goes up.
func (n *internalPage[K]) moveLastToFrontOf(recipient *internalPage[K], recipientIdxInParent int, parent *internalPage[K], tree *BPlusTree[K]) {
	last := n.getSize() - 1
	k, child := n.keyAt(last), n.valueAt(last)
	n.increaseSize(-1)

	recipient.shiftRightAt(0)
	recipient.setValueAt(0, child)
	recipient.setKeyAt(1, parent.keyAt(recipientIdxInParent))
	recipient.increaseSize(1)

	parent.setKeyAt(recipientIdxInParent, k)

	tree.adoptChild(child, recipient.getPageID())
}

func (n *internalPage[K]) shiftRightAt(idx int) {
	data := n.page.GetData()
	copy(data[n.entryOffset(idx+1):], data[n.entryOffset(idx):n.entryOffset(n.getSize())])
}

func (n *internalPage[K]) shiftLeftAt(idx int) {
	data := n.page.GetData()
	copy(data[n.entryOffset(idx):], data[n.entryOffset(idx+1):n.entryOffset(n.getSize())])
}

package btree

import (
	"encoding/binary"
	"fmt"
	"sort"

	"quill/common"
	"quill/disk"
)

// leafPage stores sorted (key, RID) entries plus the next pointer forming the leaf level linked
// list. It never holds duplicates.
type leafPage[K any] struct {
	treePage
	ks  KeySerializer[K]
	cmp Comparator[K]
}

func (l *leafPage[K]) entrySize() int {
	return l.ks.Size() + common.RIDSize
}

func (l *leafPage[K]) entryOffset(idx int) int {
	return leafStart + idx*l.entrySize()
}

func (l *leafPage[K]) init(pageID, parentPageID uint64, maxSize int) {
	l.setPageType(leafPageType)
	l.setSize(0)
	if maxSize == 0 {
		maxSize = (disk.PageSize-leafStart)/l.entrySize() - 1
	}
	l.setMaxSize(maxSize)
	l.setParentPageID(parentPageID)
	l.setSelfPageID(pageID)
	l.setNextPageID(disk.InvalidPageID)
}

func (l *leafPage[K]) getNextPageID() uint64 {
	return binary.BigEndian.Uint64(l.page.GetData()[offNext:])
}

func (l *leafPage[K]) setNextPageID(pid uint64) {
	binary.BigEndian.PutUint64(l.page.GetData()[offNext:], pid)
}

func (l *leafPage[K]) keyAt(idx int) K {
	return l.ks.Deserialize(l.page.GetData()[l.entryOffset(idx):])
}

func (l *leafPage[K]) setKeyAt(idx int, key K) {
	l.ks.Serialize(key, l.page.GetData()[l.entryOffset(idx):])
}

func (l *leafPage[K]) valueAt(idx int) common.RID {
	return common.ReadRID(l.page.GetData()[l.entryOffset(idx)+l.ks.Size():])
}

func (l *leafPage[K]) setValueAt(idx int, rid common.RID) {
	common.PutRID(l.page.GetData()[l.entryOffset(idx)+l.ks.Size():], rid)
}

// keyIndex is the first index whose key is >= key; it equals size when every key is smaller.
func (l *leafPage[K]) keyIndex(key K) int {
	return sort.Search(l.getSize(), func(i int) bool {
		return l.cmp(l.keyAt(i), key) >= 0
	})
}

func (l *leafPage[K]) lookup(key K) (common.RID, bool) {
	idx := l.keyIndex(key)
	if idx < l.getSize() && l.cmp(l.keyAt(idx), key) == 0 {
		return l.valueAt(idx), true
	}
	return common.RID{}, false
}

// insert puts the pair at its sorted position and returns the new size. The caller checks for
// overflow; one extra entry always fits the page.
func (l *leafPage[K]) insert(key K, value common.RID) int {
	idx := l.keyIndex(key)
	l.shiftRightAt(idx)
	l.setKeyAt(idx, key)
	l.setValueAt(idx, value)
	l.increaseSize(1)
	return l.getSize()
}

// removeRecord deletes the key if present and returns the resulting size.
func (l *leafPage[K]) removeRecord(key K) int {
	idx := l.keyIndex(key)
	if idx >= l.getSize() || l.cmp(l.keyAt(idx), key) != 0 {
		return l.getSize()
	}
	l.shiftLeftAt(idx)
	l.increaseSize(-1)
	return l.getSize()
}

// moveHalfTo migrates the upper half to the fresh right sibling and links it into the leaf chain.
func (l *leafPage[K]) moveHalfTo(recipient *leafPage[K]) {
	total := l.getMaxSize() + 1
	if l.getSize() != total {
		panic(fmt.Sprintf("split of a leaf that is not overflowing, size: %v", l.getSize()))
	}

	copyIdx := total / 2
	data, dest := l.page.GetData(), recipient.page.GetData()
	copy(dest[recipient.entryOffset(0):], data[l.entryOffset(copyIdx):l.entryOffset(total)])

	recipient.setNextPageID(l.getNextPageID())
	l.setNextPageID(recipient.getPageID())

	l.setSize(copyIdx)
	recipient.setSize(total - copyIdx)
}

// moveAllTo empties this node into its left sibling during coalesce and unlinks it from the
// chain.
func (l *leafPage[K]) moveAllTo(recipient *leafPage[K]) {
	start := recipient.getSize()
	data, dest := l.page.GetData(), recipient.page.GetData()
	copy(dest[recipient.entryOffset(start):], data[l.entryOffset(0):l.entryOffset(l.getSize())])

	recipient.setNextPageID(l.getNextPageID())
	recipient.increaseSize(l.getSize())
	l.setSize(0)
}

// moveFirstToEndOf shifts this node's first entry to the end of its left sibling; the parent
// separator at this node's index becomes the new first key.
func (l *leafPage[K]) moveFirstToEndOf(recipient *leafPage[K], parent *internalPage[K]) {
	k, v := l.keyAt(0), l.valueAt(0)
	l.shiftLeftAt(0)
	l.increaseSize(-1)

	recipient.setKeyAt(recipient.getSize(), k)
	recipient.setValueAt(recipient.getSize(), v)
	recipient.increaseSize(1)

	parent.setKeyAt(parent.valueIndex(l.getPageID()), l.keyAt(0))
}

// moveLastToFrontOf shifts this node's last entry to the front of its right sibling; the parent
// separator at the sibling's index becomes the moved key.
func (l *leafPage[K]) moveLastToFrontOf(recipient *leafPage[K], recipientIdxInParent int, parent *internalPage[K]) {
	last := l.getSize() - 1
	k, v := l.keyAt(last), l.valueAt(last)
	l.increaseSize(-1)

	recipient.shiftRightAt(0)
	recipient.setKeyAt(0, k)
	recipient.setValueAt(0, v)
	recipient.increaseSize(1)

	parent.setKeyAt(recipientIdxInParent, k)
}

func (l *leafPage[K]) shiftRightAt(idx int) {
	data := l.page.GetData()
	copy(data[l.entryOffset(idx+1):], data[l.entryOffset(idx):l.entryOffset(l.getSize())])
}

func (l *leafPage[K]) shiftLeftAt(idx int) {
	data := l.page.GetData()
	copy(data[l.entryOffset(idx):], data[l.entryOffset(idx+1):l.entryOffset(l.getSize())])
}

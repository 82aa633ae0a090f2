package structures

import (
	"encoding/binary"
	"errors"
	"fmt"

	"quill/disk"
	"quill/disk/pages"
)

/*
 * Table page format:
 *  ---------------------------------------------------------
 *  | HEADER | SLOT ARRAY ... | ... FREE SPACE | ... TUPLES |
 *  ---------------------------------------------------------
 *                                             ^
 *                                             free space pointer
 *
 *  Header (byte offsets):
 *  ---------------------------------------------------------------------------------------
 *  | PageType (4) | LSN (4) | PrevPageID (8) | NextPageID (8) | FreeSpacePtr (4) | TupleCount (4) |
 *  ---------------------------------------------------------------------------------------
 *
 *  Each slot is 8 bytes: tuple offset (4) and tuple size (4). Offset zero marks a vacant slot;
 *  the high bit of the size word is the delete mark.
 */

const (
	TablePageType uint32 = 1

	tablePageHeaderSize = 32
	slotSize            = 8

	offPageType  = 0
	offPrevPage  = 8
	offNextPage  = 16
	offFreeSpace = 24
	offCount     = 28
)

const deleteMask uint32 = 1 << 31

var ErrNotEnoughSpace = errors.New("not enough space in page")

// TablePage overlays the slotted heap layout on a raw page. It holds the bytes only; pinning and
// latching are the caller's business.
type TablePage struct {
	*pages.RawPage
}

func CastTablePage(p *pages.RawPage) TablePage {
	return TablePage{RawPage: p}
}

// Init formats the page as an empty table page linked after prevPageID.
func (p TablePage) Init(prevPageID uint64, lsn pages.LSN) {
	p.ResetMemory()
	data := p.GetData()
	binary.BigEndian.PutUint32(data[offPageType:], TablePageType)
	p.SetPageLSN(lsn)
	binary.BigEndian.PutUint64(data[offPrevPage:], prevPageID)
	binary.BigEndian.PutUint64(data[offNextPage:], disk.InvalidPageID)
	binary.BigEndian.PutUint32(data[offFreeSpace:], uint32(disk.PageSize))
	binary.BigEndian.PutUint32(data[offCount:], 0)
}

func (p TablePage) GetPrevPageID() uint64 {
	return binary.BigEndian.Uint64(p.GetData()[offPrevPage:])
}

func (p TablePage) SetPrevPageID(pageID uint64) {
	binary.BigEndian.PutUint64(p.GetData()[offPrevPage:], pageID)
}

func (p TablePage) GetNextPageID() uint64 {
	return binary.BigEndian.Uint64(p.GetData()[offNextPage:])
}

func (p TablePage) SetNextPageID(pageID uint64) {
	binary.BigEndian.PutUint64(p.GetData()[offNextPage:], pageID)
}

func (p TablePage) GetTupleCount() int {
	return int(binary.BigEndian.Uint32(p.GetData()[offCount:]))
}

func (p TablePage) getFreeSpacePointer() int {
	return int(binary.BigEndian.Uint32(p.GetData()[offFreeSpace:]))
}

func (p TablePage) setFreeSpacePointer(fsp int) {
	binary.BigEndian.PutUint32(p.GetData()[offFreeSpace:], uint32(fsp))
}

func (p TablePage) setTupleCount(n int) {
	binary.BigEndian.PutUint32(p.GetData()[offCount:], uint32(n))
}

// GetFreeSpace is the number of bytes between the end of the slot array and the tuple heap.
func (p TablePage) GetFreeSpace() int {
	return p.getFreeSpacePointer() - tablePageHeaderSize - slotSize*p.GetTupleCount()
}

func (p TablePage) slot(idx int) (offset int, size uint32) {
	base := tablePageHeaderSize + slotSize*idx
	data := p.GetData()
	return int(binary.BigEndian.Uint32(data[base:])), binary.BigEndian.Uint32(data[base+4:])
}

func (p TablePage) setSlot(idx, offset int, size uint32) {
	base := tablePageHeaderSize + slotSize*idx
	data := p.GetData()
	binary.BigEndian.PutUint32(data[base:], uint32(offset))
	binary.BigEndian.PutUint32(data[base+4:], size)
}

// InsertTuple places the tuple in the first vacant slot, appending a new slot when none is
// vacant, and returns the slot index.
func (p TablePage) InsertTuple(tuple []byte) (int, error) {
	slotIdx := -1
	count := p.GetTupleCount()
	for i := 0; i < count; i++ {
		if off, _ := p.slot(i); off == 0 {
			slotIdx = i
			break
		}
	}

	need := len(tuple)
	if slotIdx == -1 {
		need += slotSize
	}
	if p.GetFreeSpace() < need {
		return 0, ErrNotEnoughSpace
	}

	if slotIdx == -1 {
		slotIdx = count
		p.setTupleCount(count + 1)
	}

	p.place(slotIdx, tuple)
	return slotIdx, nil
}

// InsertTupleAt puts the tuple into the given slot, growing the slot array as needed. Recovery
// uses it to reapply inserts at their original record ids.
func (p TablePage) InsertTupleAt(slotIdx int, tuple []byte) error {
	count := p.GetTupleCount()
	grow := 0
	if slotIdx >= count {
		grow = (slotIdx + 1 - count) * slotSize
	} else if off, _ := p.slot(slotIdx); off != 0 {
		return fmt.Errorf("slot %v is occupied", slotIdx)
	}

	if p.GetFreeSpace() < len(tuple)+grow {
		return ErrNotEnoughSpace
	}

	if slotIdx >= count {
		p.setTupleCount(slotIdx + 1)
	}

	p.place(slotIdx, tuple)
	return nil
}

func (p TablePage) place(slotIdx int, tuple []byte) {
	fsp := p.getFreeSpacePointer() - len(tuple)
	copy(p.GetData()[fsp:], tuple)
	p.setFreeSpacePointer(fsp)
	p.setSlot(slotIdx, fsp, uint32(len(tuple)))
}

// GetTuple returns the tuple bytes in the slot. ok is false for vacant or mark-deleted slots.
func (p TablePage) GetTuple(slotIdx int) ([]byte, bool) {
	if slotIdx >= p.GetTupleCount() {
		return nil, false
	}
	off, size := p.slot(slotIdx)
	if off == 0 || size&deleteMask != 0 {
		return nil, false
	}
	return p.GetData()[off : off+int(size)], true
}

func (p TablePage) IsMarkDeleted(slotIdx int) bool {
	_, size := p.slot(slotIdx)
	return size&deleteMask != 0
}

// MarkDelete flags the tuple deleted without touching its bytes so the transaction can still roll
// back cheaply.
func (p TablePage) MarkDelete(slotIdx int) bool {
	if slotIdx >= p.GetTupleCount() {
		return false
	}
	off, size := p.slot(slotIdx)
	if off == 0 || size&deleteMask != 0 {
		return false
	}
	p.setSlot(slotIdx, off, size|deleteMask)
	return true
}

// RollbackDelete clears the delete mark.
func (p TablePage) RollbackDelete(slotIdx int) {
	off, size := p.slot(slotIdx)
	p.setSlot(slotIdx, off, size&^deleteMask)
}

// ApplyDelete physically removes the tuple and compacts the heap so the space is reusable. The
// slot stays vacant so later inserts may reuse it.
func (p TablePage) ApplyDelete(slotIdx int) {
	off, size := p.slot(slotIdx)
	if off == 0 {
		panic(fmt.Sprintf("apply delete on a vacant slot: %v", slotIdx))
	}
	p.removeTupleBytes(off, int(size&^deleteMask))
	p.setSlot(slotIdx, 0, 0)
}

// UpdateTuple replaces the tuple in the slot. When sizes differ the old bytes are removed and the
// new image is placed freshly.
func (p TablePage) UpdateTuple(slotIdx int, tuple []byte) error {
	off, size := p.slot(slotIdx)
	if off == 0 {
		return fmt.Errorf("update of a vacant slot: %v", slotIdx)
	}

	oldSize := int(size &^ deleteMask)
	if oldSize == len(tuple) {
		copy(p.GetData()[off:], tuple)
		return nil
	}

	if p.GetFreeSpace()+oldSize < len(tuple) {
		return ErrNotEnoughSpace
	}

	p.removeTupleBytes(off, oldSize)
	p.setSlot(slotIdx, 0, 0)
	p.place(slotIdx, tuple)
	return nil
}

// removeTupleBytes shifts the heap right over the removed region and fixes up every slot that
// pointed below it.
func (p TablePage) removeTupleBytes(off, size int) {
	data := p.GetData()
	fsp := p.getFreeSpacePointer()

	copy(data[fsp+size:off+size], data[fsp:off])
	for i := 0; i < p.GetTupleCount(); i++ {
		o, s := p.slot(i)
		if o != 0 && o < off {
			p.setSlot(i, o+size, s)
		}
	}
	p.setFreeSpacePointer(fsp + size)
}

package btree

import (
	"encoding/binary"

	"quill/disk"
	"quill/disk/pages"
)

// HeaderPageID is the well known physical page the index records live on.
const HeaderPageID uint64 = 0

const (
	headerPageType uint32 = 4

	maxIndexNameLen  = 32
	headerRecordSize = maxIndexNameLen + 8
	offRecordCount   = 8
	recordsStart     = 12
)

/*
 * Header page format: PageType (4) | LSN (4) | RecordCount (4) followed by records of
 * name (32, zero padded) | rootPageID (8). A fresh database reads as zero records since the disk
 * manager zero fills unwritten pages.
 */
type headerPage struct {
	page *pages.RawPage
}

func castHeaderPage(p *pages.RawPage) headerPage {
	return headerPage{page: p}
}

func (h headerPage) getRecordCount() int {
	return int(binary.BigEndian.Uint32(h.page.GetData()[offRecordCount:]))
}

func (h headerPage) setRecordCount(n int) {
	binary.BigEndian.PutUint32(h.page.GetData()[offRecordCount:], uint32(n))
}

func (h headerPage) recordOffset(idx int) int {
	return recordsStart + idx*headerRecordSize
}

func (h headerPage) nameAt(idx int) string {
	b := h.page.GetData()[h.recordOffset(idx) : h.recordOffset(idx)+maxIndexNameLen]
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func (h headerPage) rootAt(idx int) uint64 {
	return binary.BigEndian.Uint64(h.page.GetData()[h.recordOffset(idx)+maxIndexNameLen:])
}

func (h headerPage) findRecord(name string) (int, bool) {
	for i := 0; i < h.getRecordCount(); i++ {
		if h.nameAt(i) == name {
			return i, true
		}
	}
	return 0, false
}

// GetRootID looks an index up by name; ok is false when the index was never registered.
func (h headerPage) GetRootID(name string) (uint64, bool) {
	idx, ok := h.findRecord(name)
	if !ok {
		return disk.InvalidPageID, false
	}
	return h.rootAt(idx), true
}

// SetRootID upserts the record for name.
func (h headerPage) SetRootID(name string, rootPageID uint64) {
	if len(name) > maxIndexNameLen {
		panic("index name is too long for a header record")
	}
	binary.BigEndian.PutUint32(h.page.GetData(), headerPageType)

	idx, ok := h.findRecord(name)
	if !ok {
		idx = h.getRecordCount()
		if h.recordOffset(idx+1) > disk.PageSize {
			panic("header page is out of record space")
		}
		h.setRecordCount(idx + 1)

		off := h.recordOffset(idx)
		dest := h.page.GetData()[off : off+maxIndexNameLen]
		copy(dest, name)
		for i := len(name); i < maxIndexNameLen; i++ {
			dest[i] = 0
		}
	}

	binary.BigEndian.PutUint64(h.page.GetData()[h.recordOffset(idx)+maxIndexNameLen:], rootPageID)
}

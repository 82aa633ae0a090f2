package common

import (
	"encoding/binary"
	"fmt"
)

// RID identifies a tuple by the page it lives in and its index in that page's slot array. It is
// comparable hence can directly be used as a map key, which is what the lock table does.
type RID struct {
	PageID uint64
	Slot   uint32
}

const RIDSize = 12

func NewRID(pageID uint64, slot uint32) RID {
	return RID{PageID: pageID, Slot: slot}
}

func (r RID) String() string {
	return fmt.Sprintf("(%v, %v)", r.PageID, r.Slot)
}

func PutRID(dest []byte, r RID) {
	binary.BigEndian.PutUint64(dest, r.PageID)
	binary.BigEndian.PutUint32(dest[8:], r.Slot)
}

func ReadRID(src []byte) RID {
	return RID{
		PageID: binary.BigEndian.Uint64(src),
		Slot:   binary.BigEndian.Uint32(src[8:]),
	}
}

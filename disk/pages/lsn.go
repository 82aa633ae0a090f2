package pages

import "encoding/binary"

// LSN is a log sequence number. Zero is never assigned to a record, so it stands for "no lsn".
type LSN uint32

const ZeroLSN LSN = 0

// lsnOffset is where every page layout keeps its page lsn inside the page data. All overlays
// (table pages, tree pages, the header page) reserve bytes [4, 8) for it.
const lsnOffset = 4

func PutLSN(dest []byte, l LSN) {
	binary.BigEndian.PutUint32(dest, uint32(l))
}

func ReadLSN(src []byte) LSN {
	return LSN(binary.BigEndian.Uint32(src))
}

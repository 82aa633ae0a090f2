package pages

import (
	"quill/disk"
	"sync"
)

// RawPage is the in-memory image of one physical page together with the bookkeeping the buffer
// pool needs: pin count, dirty flag and a reader/writer latch which is distinct from the pool's
// own mutex. The page lsn lives inside the data itself (bytes [4, 8) by convention) so that it
// survives the disk round trip.
type RawPage struct {
	pageID   uint64
	isDirty  bool
	pinCount int
	rwLatch  sync.RWMutex
	data     []byte
}

func NewRawPage(pageID uint64) *RawPage {
	return &RawPage{
		pageID: pageID,
		data:   make([]byte, disk.PageSize),
	}
}

func (p *RawPage) GetData() []byte {
	return p.data
}

func (p *RawPage) GetPageID() uint64 {
	return p.pageID
}

// SetPageID is called by the buffer pool when it recycles a frame for another physical page.
func (p *RawPage) SetPageID(pageID uint64) {
	p.pageID = pageID
}

func (p *RawPage) GetPinCount() int {
	return p.pinCount
}

func (p *RawPage) IncrPinCount() {
	p.pinCount++
}

func (p *RawPage) DecrPinCount() {
	p.pinCount--
}

func (p *RawPage) IsDirty() bool {
	return p.isDirty
}

func (p *RawPage) SetDirty() {
	p.isDirty = true
}

func (p *RawPage) SetClean() {
	p.isDirty = false
}

func (p *RawPage) GetPageLSN() LSN {
	return ReadLSN(p.data[lsnOffset:])
}

func (p *RawPage) SetPageLSN(l LSN) {
	PutLSN(p.data[lsnOffset:], l)
}

// ResetMemory zeroes the page image. Only the buffer pool calls this and only while nobody else
// holds a pin on the frame.
func (p *RawPage) ResetMemory() {
	for i := range p.data {
		p.data[i] = 0
	}
}

func (p *RawPage) WLatch() {
	p.rwLatch.Lock()
}

func (p *RawPage) WUnlatch() {
	p.rwLatch.Unlock()
}

func (p *RawPage) RLatch() {
	p.rwLatch.RLock()
}

func (p *RawPage) RUnLatch() {
	p.rwLatch.RUnlock()
}

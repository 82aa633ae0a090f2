package buffer

import (
	"errors"
	"fmt"
	"log"

	"quill/common"
	"quill/disk"
	"quill/disk/pages"
	"quill/disk/wal"
	"quill/hash"
	"sync"
)

// ErrOutOfFrames is returned when every frame in the pool is pinned and no victim can be chosen.
var ErrOutOfFrames = errors.New("all frames are pinned")

// BufferPool owns a fixed array of frames fronting the data file. The page table (an extendible
// hash) maps resident page ids to frame indexes; frames holding no page sit in the free list and
// unpinned frames sit in the replacer. A frame is always in exactly one of free list, replacer,
// or pinned state. All pool operations are serialized by a single mutex, including io, which
// keeps the WAL-before-page guard and the page table trivially consistent.
type BufferPool struct {
	poolSize    int
	frames      []*pages.RawPage
	pageTable   *hash.ExtendibleHash[uint64, int]
	freeList    []int
	replacer    IReplacer
	diskManager disk.IDiskManager
	logManager  *wal.LogManager
	lock        sync.Mutex
}

func NewBufferPool(poolSize int, dm disk.IDiskManager, lm *wal.LogManager) *BufferPool {
	frames := make([]*pages.RawPage, poolSize)
	freeList := make([]int, poolSize)
	for i := 0; i < poolSize; i++ {
		frames[i] = pages.NewRawPage(disk.InvalidPageID)
		freeList[i] = i
	}

	return &BufferPool{
		poolSize:    poolSize,
		frames:      frames,
		pageTable:   hash.NewExtendibleHash[uint64, int](common.BucketSize, hash.Uint64Hasher),
		freeList:    freeList,
		replacer:    NewLruReplacer(),
		diskManager: dm,
		logManager:  lm,
	}
}

// FetchPage pins the page, reading it from disk if it is not resident. A dirty victim is written
// back first, and never before the log covering it: when the victim's page lsn is ahead of the
// persistent lsn the log manager is force flushed.
func (b *BufferPool) FetchPage(pageID uint64) (*pages.RawPage, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if frameID, ok := b.pageTable.Find(pageID); ok {
		p := b.frames[frameID]
		p.IncrPinCount()
		b.replacer.Erase(frameID)
		return p, nil
	}

	frameID, p, err := b.getVictim()
	if err != nil {
		return nil, err
	}

	b.pageTable.Insert(pageID, frameID)

	if err := b.diskManager.ReadPage(pageID, p.GetData()); err != nil {
		b.pageTable.Remove(pageID)
		b.freeList = append(b.freeList, frameID)
		p.SetPageID(disk.InvalidPageID)
		return nil, fmt.Errorf("fetch of page %v failed: %w", pageID, err)
	}

	p.SetPageID(pageID)
	p.IncrPinCount()
	p.SetClean()
	return p, nil
}

// UnpinPage drops one pin and ORs the dirty flag. When the pin count reaches zero the frame
// becomes evictable. Returns false when the page is not resident.
func (b *BufferPool) UnpinPage(pageID uint64, isDirty bool) bool {
	b.lock.Lock()
	defer b.lock.Unlock()

	frameID, ok := b.pageTable.Find(pageID)
	if !ok {
		return false
	}

	p := b.frames[frameID]
	if isDirty {
		p.SetDirty()
	}

	if p.GetPinCount() <= 0 {
		panic(fmt.Sprintf("unpin called while pin count is lte zero, page_id: %v, pin count: %v", pageID, p.GetPinCount()))
	}

	p.DecrPinCount()
	if p.GetPinCount() == 0 {
		b.replacer.Insert(frameID)
	}
	return true
}

// NewPage allocates a fresh page id on disk and pins a zeroed frame for it.
func (b *BufferPool) NewPage() (*pages.RawPage, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	frameID, p, err := b.getVictim()
	if err != nil {
		return nil, err
	}

	pageID := b.diskManager.AllocatePage()
	b.pageTable.Insert(pageID, frameID)

	p.SetPageID(pageID)
	p.ResetMemory()
	p.SetClean()
	p.IncrPinCount()
	return p, nil
}

// FlushPage writes the page to disk if it is resident and dirty. The WAL guard applies here as
// well.
func (b *BufferPool) FlushPage(pageID uint64) bool {
	b.lock.Lock()
	defer b.lock.Unlock()

	frameID, ok := b.pageTable.Find(pageID)
	if !ok {
		return false
	}

	p := b.frames[frameID]
	if p.IsDirty() {
		b.flushGuard(p)
		if err := b.diskManager.WritePage(p.GetData(), pageID); err != nil {
			log.Printf("buffer: flush of page %v failed: %v\n", pageID, err)
			return false
		}
		p.SetClean()
	}
	return true
}

// DeletePage removes the page from the pool and returns its frame to the free list. It fails when
// somebody still holds a pin. Otherwise DeallocatePage is called whether or not the page was
// resident, so the disk layer hears about the intent.
func (b *BufferPool) DeletePage(pageID uint64) bool {
	b.lock.Lock()
	defer b.lock.Unlock()

	if frameID, ok := b.pageTable.Find(pageID); ok {
		p := b.frames[frameID]
		if p.GetPinCount() > 0 {
			return false
		}
		b.replacer.Erase(frameID)
		b.pageTable.Remove(pageID)
		p.ResetMemory()
		p.SetClean()
		p.SetPageID(disk.InvalidPageID)
		b.freeList = append(b.freeList, frameID)
	}

	b.diskManager.DeallocatePage(pageID)
	return true
}

// FlushAll writes every dirty resident page back. Used on clean shutdown.
func (b *BufferPool) FlushAll() error {
	if b.logManager != nil {
		if err := b.logManager.Flush(true); err != nil {
			return err
		}
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	// resident means the page table points back at the frame; a frame fresh off the free list
	// carries the invalid id which must not be confused with the header page's id 0
	for idx, p := range b.frames {
		if fid, ok := b.pageTable.Find(p.GetPageID()); !ok || fid != idx {
			continue
		}
		if !p.IsDirty() {
			continue
		}
		if err := b.diskManager.WritePage(p.GetData(), p.GetPageID()); err != nil {
			return err
		}
		p.SetClean()
	}
	return nil
}

// CheckAllUnpinned reports whether no frame is pinned. Tests use it to catch leaked pins after an
// operation completes.
func (b *BufferPool) CheckAllUnpinned() bool {
	b.lock.Lock()
	defer b.lock.Unlock()

	res := true
	for _, p := range b.frames {
		if p.GetPinCount() != 0 {
			res = false
			log.Printf("buffer: page %v still has pin count %v\n", p.GetPageID(), p.GetPinCount())
		}
	}
	return res
}

func (b *BufferPool) EmptyFrameSize() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return len(b.freeList)
}

// getVictim prefers the free list and falls back to the replacer, writing back a dirty victim
// after the log covering it is persistent.
func (b *BufferPool) getVictim() (int, *pages.RawPage, error) {
	if len(b.freeList) > 0 {
		frameID := b.freeList[0]
		b.freeList = b.freeList[1:]
		return frameID, b.frames[frameID], nil
	}

	frameID, ok := b.replacer.Victim()
	if !ok {
		return 0, nil, ErrOutOfFrames
	}

	p := b.frames[frameID]
	if p.GetPinCount() != 0 {
		panic(fmt.Sprintf("frame chosen as victim while pinned, page_id: %v, pin count: %v", p.GetPageID(), p.GetPinCount()))
	}

	if p.IsDirty() {
		b.flushGuard(p)
		if err := b.diskManager.WritePage(p.GetData(), p.GetPageID()); err != nil {
			b.replacer.Insert(frameID)
			return 0, nil, fmt.Errorf("write back of victim page %v failed: %w", p.GetPageID(), err)
		}
		p.SetClean()
	}

	// a frame handed out by the replacer is always resident, drop its old mapping here
	b.pageTable.Remove(p.GetPageID())
	return frameID, p, nil
}

// flushGuard enforces the WAL invariant: a dirty page never reaches disk before the log record
// that made it dirty.
func (b *BufferPool) flushGuard(p *pages.RawPage) {
	if b.logManager == nil || !b.logManager.Enabled() {
		return
	}
	if b.logManager.GetPersistentLSN() < p.GetPageLSN() {
		common.PanicIfErr(b.logManager.Flush(true))
	}
}

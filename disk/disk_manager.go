package disk

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

const PageSize int = 4096

// InvalidPageID doubles as the "no page" pointer value. Physical page 0 is the header page and is
// never the target of a tree or heap link, so 0 is free to act as the null pointer.
const InvalidPageID uint64 = 0

type IDiskManager interface {
	ReadPage(pageID uint64, dest []byte) error
	WritePage(data []byte, pageID uint64) error
	AllocatePage() (pageID uint64)
	DeallocatePage(pageID uint64)

	WriteLog(data []byte) error
	ReadLog(dest []byte, offset int64) bool
	LogSize() int64

	Close() error
}

var _ IDiskManager = &Manager{}

type Manager struct {
	file        *os.File
	filename    string
	logFile     *os.File
	logFileName string
	lastPageID  uint64
	logSize     int64
	numFlushes  int
	fsync       bool
	mu          sync.Mutex
}

// NewDiskManager opens (or creates) the db file and its companion log file. The second return
// value reports whether a brand-new database was created.
func NewDiskManager(file string, fsync bool) (*Manager, bool, error) {
	d := Manager{filename: file, logFileName: file + ".log", fsync: fsync}

	f, err := os.OpenFile(file, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, false, err
	}

	lf, err := os.OpenFile(d.logFileName, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, false, err
	}

	d.file = f
	d.logFile = lf

	stats, err := f.Stat()
	if err != nil {
		return nil, false, err
	}
	logStats, err := lf.Stat()
	if err != nil {
		return nil, false, err
	}
	d.logSize = logStats.Size()

	filesize := stats.Size()
	if filesize == 0 {
		// page 0 is reserved for the header page, allocation starts from 1
		d.lastPageID = 0
		// a crash before any page reached the data file still leaves the log behind
		return &d, d.logSize == 0, nil
	}

	d.lastPageID = uint64(int(filesize)/PageSize) - 1
	return &d, false, nil
}

// ReadPage reads the physical page into dest. Reads past the end of the file are not errors:
// missing bytes are zero filled, which is exactly the content of a page that was allocated but
// never synced.
func (d *Manager) ReadPage(pageID uint64, dest []byte) error {
	if len(dest) != PageSize {
		panic(fmt.Sprintf("page read with a buffer of %v bytes", len(dest)))
	}

	n, err := d.file.ReadAt(dest, int64(PageSize)*int64(pageID))
	if err == io.EOF {
		for i := n; i < PageSize; i++ {
			dest[i] = 0
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("page read failed, page_id: %v: %w", pageID, err)
	}

	return nil
}

func (d *Manager) WritePage(data []byte, pageID uint64) error {
	if len(data) != PageSize {
		panic(fmt.Sprintf("page write with a buffer of %v bytes", len(data)))
	}

	n, err := d.file.WriteAt(data, int64(PageSize)*int64(pageID))
	if err != nil {
		// data page durability is best effort, callers rely on the log for correctness
		log.Printf("disk: page write failed, page_id: %v: %v\n", pageID, err)
		return err
	}
	if n != PageSize {
		panic("written bytes are not equal to page size")
	}

	if d.fsync {
		if err := d.file.Sync(); err != nil {
			return err
		}
	}

	return nil
}

// AllocatePage hands out page ids monotonically. Space is never reclaimed, DeallocatePage exists
// so that callers can declare intent.
func (d *Manager) AllocatePage() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lastPageID++
	return d.lastPageID
}

func (d *Manager) DeallocatePage(pageID uint64) {}

// WriteLog appends to the log file and forces it to stable storage before returning. Unlike data
// pages, log durability is not optional.
func (d *Manager) WriteLog(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	d.mu.Lock()
	offset := d.logSize
	d.logSize += int64(len(data))
	d.mu.Unlock()

	n, err := d.logFile.WriteAt(data, offset)
	if err != nil {
		return fmt.Errorf("log write failed: %w", err)
	}
	if n != len(data) {
		panic("short log write")
	}

	if err := d.logFile.Sync(); err != nil {
		return fmt.Errorf("log sync failed: %w", err)
	}

	d.numFlushes++
	return nil
}

// ReadLog fills dest starting at the given log file offset, zero filling the tail. It returns
// false when offset is at or past the end of the log, which recovery treats as end-of-log.
func (d *Manager) ReadLog(dest []byte, offset int64) bool {
	d.mu.Lock()
	size := d.logSize
	d.mu.Unlock()

	if offset >= size {
		return false
	}

	n, err := d.logFile.ReadAt(dest, offset)
	if err != nil && err != io.EOF {
		log.Printf("disk: log read failed at offset %v: %v\n", offset, err)
		return false
	}
	for i := n; i < len(dest); i++ {
		dest[i] = 0
	}

	return true
}

func (d *Manager) LogSize() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.logSize
}

func (d *Manager) NumFlushes() int {
	return d.numFlushes
}

func (d *Manager) Close() error {
	if err := d.logFile.Close(); err != nil {
		return err
	}
	return d.file.Close()
}

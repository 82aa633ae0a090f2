package wal

import (
	"fmt"
	"log"
	"sync"
	"time"

	"quill/common"
	"quill/disk/pages"
)

// LogStore is what the log manager needs from the disk layer.
type LogStore interface {
	WriteLog(data []byte) error
}

// LogManager buffers log records in one of two fixed buffers. Appenders serialize into logBuffer
// while the background flusher writes flushBuffer to disk; the two are swapped under the mutex and
// disk io happens outside of it. Appends that find the buffer full block until the flusher makes
// room (that back-pressure doubles as group commit).
type LogManager struct {
	store      LogStore
	serializer *LogRecordSerializer
	enabled    bool
	timeout    time.Duration

	mu          sync.Mutex
	appendCond  *sync.Cond
	logBuffer   []byte
	flushBuffer []byte
	offset      int
	flushSize   int

	nextLSN       uint32
	lastLSN       pages.LSN
	persistentLSN pages.LSN
	needFlush     bool

	flushSig    chan struct{}
	flusherDone chan bool
	errChan     chan error
}

func NewLogManager(store LogStore, enabled bool) *LogManager {
	return NewLogManagerWithSize(store, enabled, common.LogBufferSize, common.LogTimeout)
}

func NewLogManagerWithSize(store LogStore, enabled bool, bufSize int, timeout time.Duration) *LogManager {
	l := &LogManager{
		store:       store,
		serializer:  NewLogRecordSerializer(),
		enabled:     enabled,
		timeout:     timeout,
		logBuffer:   make([]byte, bufSize),
		flushBuffer: make([]byte, bufSize),
		nextLSN:     1,
		flushSig:    make(chan struct{}, 1),
	}
	l.appendCond = sync.NewCond(&l.mu)
	return l
}

// Enabled reports whether logging is on for this engine instance. It is instance state, not a
// process-wide flag, so tests can run logging and non-logging engines side by side.
func (l *LogManager) Enabled() bool {
	return l.enabled
}

// AppendLog assigns the record its lsn, serializes it into the active buffer and returns the lsn.
// It flushes only when the buffer has no room for the record: then it waits for the flusher, or
// writes the buffer out itself when no flusher is running.
func (l *LogManager) AppendLog(r *LogRecord) pages.LSN {
	if !l.enabled {
		return pages.ZeroLSN
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	size := l.serializer.Size(r)
	if size >= len(l.logBuffer) {
		panic(fmt.Sprintf("log record of %v bytes does not fit the log buffer", size))
	}

	for l.offset+size >= len(l.logBuffer) {
		if l.flusherDone == nil {
			l.mu.Unlock()
			common.PanicIfErr(l.flushSync())
			l.mu.Lock()
			continue
		}
		l.needFlush = true
		l.signalFlusher()
		l.appendCond.Wait()
	}

	r.Lsn = pages.LSN(l.nextLSN)
	l.nextLSN++

	b := l.serializer.Serialize(r)
	copy(l.logBuffer[l.offset:], b)
	l.offset += len(b)
	l.lastLSN = r.Lsn
	return r.Lsn
}

// WaitAppendLog is AppendLog followed by waiting until the record is persistent. Commit records
// go through here so that a successful commit is durable.
func (l *LogManager) WaitAppendLog(r *LogRecord) pages.LSN {
	lsn := l.AppendLog(r)
	if lsn == pages.ZeroLSN {
		return lsn
	}

	l.mu.Lock()
	if l.flusherDone == nil {
		l.mu.Unlock()
		common.PanicIfErr(l.flushSync())
		return lsn
	}
	for l.persistentLSN < lsn {
		l.needFlush = true
		l.signalFlusher()
		l.appendCond.Wait()
	}
	l.mu.Unlock()
	return lsn
}

// Flush with force set blocks until everything appended so far is on disk. Without force the
// caller parks until the next implicit or timeout driven flush completes, which is how group
// commit amortizes fsyncs.
func (l *LogManager) Flush(force bool) error {
	if !l.enabled {
		return nil
	}

	l.mu.Lock()
	if l.flusherDone == nil {
		// no flusher running, do the work on the caller
		l.mu.Unlock()
		return l.flushSync()
	}

	if force {
		l.needFlush = true
		l.signalFlusher()
		for l.needFlush {
			l.appendCond.Wait()
		}
	} else {
		l.appendCond.Wait()
	}
	l.mu.Unlock()
	return nil
}

// RunFlusher starts the background goroutine that swaps and writes buffers every timeout tick or
// whenever it is signalled.
func (l *LogManager) RunFlusher() {
	l.mu.Lock()
	if l.flusherDone != nil {
		l.mu.Unlock()
		panic("flusher was already running")
	}
	l.flusherDone = make(chan bool)
	l.errChan = make(chan error)
	l.mu.Unlock()

	go func() {
		ticker := time.NewTicker(l.timeout)
		defer ticker.Stop()

		for {
			select {
			case <-l.flusherDone:
				l.errChan <- l.flushOnce()
				return
			case <-l.flushSig:
			case <-ticker.C:
			}

			if err := l.flushOnce(); err != nil {
				log.Printf("wal: flush failed: %v\n", err)
			}
		}
	}()
}

// StopFlusher drains the buffer one last time and joins the flusher goroutine.
func (l *LogManager) StopFlusher() error {
	l.mu.Lock()
	if l.flusherDone == nil {
		l.mu.Unlock()
		panic("flusher is not running")
	}
	done := l.flusherDone
	l.mu.Unlock()

	done <- true
	err := <-l.errChan

	l.mu.Lock()
	l.flusherDone = nil
	l.mu.Unlock()
	return err
}

func (l *LogManager) GetPersistentLSN() pages.LSN {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.persistentLSN
}

func (l *LogManager) GetLastLSN() pages.LSN {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastLSN
}

// SetNextLSN is called once after recovery so new records continue the sequence found in the log
// file.
func (l *LogManager) SetNextLSN(next pages.LSN) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextLSN = uint32(next)
}

func (l *LogManager) signalFlusher() {
	select {
	case l.flushSig <- struct{}{}:
	default:
	}
}

// flushOnce swaps the buffers, writes the previously active one outside the mutex and wakes every
// appender parked on the condition variable.
func (l *LogManager) flushOnce() error {
	l.mu.Lock()

	var err error
	if l.offset > 0 {
		l.logBuffer, l.flushBuffer = l.flushBuffer, l.logBuffer
		l.flushSize = l.offset
		l.offset = 0
		lastInFlush := l.lastLSN
		l.mu.Unlock()

		err = l.store.WriteLog(l.flushBuffer[:l.flushSize])

		l.mu.Lock()
		l.flushSize = 0
		if err == nil {
			l.persistentLSN = lastInFlush
		}
	}

	l.needFlush = false
	l.appendCond.Broadcast()
	l.mu.Unlock()
	return err
}

// flushSync is the synchronous path used when no flusher goroutine is running.
func (l *LogManager) flushSync() error {
	return l.flushOnce()
}

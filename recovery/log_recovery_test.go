package recovery

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quill/buffer"
	"quill/common"
	"quill/concurrency"
	"quill/disk"
	"quill/disk/structures"
	"quill/disk/wal"
)

type crashSim struct {
	file string
	dm   *disk.Manager
	lm   *wal.LogManager
	pool *buffer.BufferPool
	tm   *concurrency.TxnManager
	heap *structures.TableHeap
}

func startEngine(t *testing.T, file string) *crashSim {
	t.Helper()
	dm, created, err := disk.NewDiskManager(file, false)
	require.NoError(t, err)

	lm := wal.NewLogManager(dm, true)
	pool := buffer.NewBufferPool(16, dm, lm)
	tm := concurrency.NewTxnManager(lm, concurrency.NewLockManager(false))

	s := &crashSim{file: file, dm: dm, lm: lm, pool: pool, tm: tm}
	if created {
		boot := tm.Begin()
		heap, err := structures.NewTableHeap(boot, pool, lm)
		require.NoError(t, err)
		s.heap = heap
		tm.SetTableHeap(heap)
		tm.Commit(boot)
	}
	return s
}

// crash persists the log (log writes are durable by contract) but drops every cached page on the
// floor.
func (s *crashSim) crash(t *testing.T) {
	t.Helper()
	require.NoError(t, s.lm.Flush(true))
	require.NoError(t, s.dm.Close())
}

func reopen(t *testing.T, file string) (*crashSim, *LogRecovery) {
	t.Helper()
	dm, created, err := disk.NewDiskManager(file, false)
	require.NoError(t, err)
	require.False(t, created)

	pool := buffer.NewBufferPool(16, dm, nil)
	r := NewLogRecovery(dm, pool)
	r.Recover()

	lm := wal.NewLogManager(dm, true)
	lm.SetNextLSN(r.maxLSN + 1)
	tm := concurrency.NewTxnManager(lm, concurrency.NewLockManager(false))
	s := &crashSim{file: file, dm: dm, lm: lm, pool: pool, tm: tm}
	s.heap = structures.OpenTableHeap(pool, lm, 1)
	tm.SetTableHeap(s.heap)
	return s, r
}

func testFile(t *testing.T) string {
	id, _ := uuid.NewUUID()
	return filepath.Join(t.TempDir(), id.String()+".quill")
}

func TestCommitted_Insert_Should_Survive_A_Crash_And_Uncommitted_Should_Not(t *testing.T) {
	file := testFile(t)
	s := startEngine(t, file)

	t1 := s.tm.Begin()
	rid1, err := s.heap.InsertTuple(t1, []byte("committed row"))
	require.NoError(t, err)
	s.tm.Commit(t1)

	t2 := s.tm.Begin()
	rid2, err := s.heap.InsertTuple(t2, []byte("doomed row"))
	require.NoError(t, err)

	s.crash(t)

	s2, _ := reopen(t, file)
	reader := s2.tm.Begin()

	got, ok := s2.heap.GetTuple(reader, rid1)
	require.True(t, ok)
	assert.Equal(t, []byte("committed row"), got)

	_, ok = s2.heap.GetTuple(reader, rid2)
	assert.False(t, ok)
}

func TestRecovery_Should_Undo_Uncommitted_Update(t *testing.T) {
	file := testFile(t)
	s := startEngine(t, file)

	t1 := s.tm.Begin()
	rid, err := s.heap.InsertTuple(t1, []byte("original"))
	require.NoError(t, err)
	s.tm.Commit(t1)

	t2 := s.tm.Begin()
	require.True(t, s.heap.UpdateTuple(t2, rid, []byte("clobber!")))

	s.crash(t)

	s2, _ := reopen(t, file)
	reader := s2.tm.Begin()
	got, ok := s2.heap.GetTuple(reader, rid)
	require.True(t, ok)
	assert.Equal(t, []byte("original"), got)
}

func TestRecovery_Should_Undo_Uncommitted_Mark_Delete(t *testing.T) {
	file := testFile(t)
	s := startEngine(t, file)

	t1 := s.tm.Begin()
	rid, err := s.heap.InsertTuple(t1, []byte("keep me"))
	require.NoError(t, err)
	s.tm.Commit(t1)

	t2 := s.tm.Begin()
	require.True(t, s.heap.MarkDelete(t2, rid))

	s.crash(t)

	s2, _ := reopen(t, file)
	reader := s2.tm.Begin()
	got, ok := s2.heap.GetTuple(reader, rid)
	require.True(t, ok)
	assert.Equal(t, []byte("keep me"), got)
}

func TestRecovery_Should_Redo_Committed_Delete(t *testing.T) {
	file := testFile(t)
	s := startEngine(t, file)

	t1 := s.tm.Begin()
	rid, err := s.heap.InsertTuple(t1, []byte("short lived"))
	require.NoError(t, err)
	s.tm.Commit(t1)

	t2 := s.tm.Begin()
	require.True(t, s.heap.MarkDelete(t2, rid))
	s.tm.Commit(t2)

	s.crash(t)

	s2, _ := reopen(t, file)
	reader := s2.tm.Begin()
	_, ok := s2.heap.GetTuple(reader, rid)
	assert.False(t, ok)
}

func TestRedo_Should_Be_Idempotent(t *testing.T) {
	file := testFile(t)
	s := startEngine(t, file)

	t1 := s.tm.Begin()
	rids := make([]transactionRIDs, 0)
	for i := 0; i < 20; i++ {
		rid, err := s.heap.InsertTuple(t1, []byte{byte(i), byte(i), byte(i)})
		require.NoError(t, err)
		rids = append(rids, transactionRIDs{rid.PageID, rid.Slot})
	}
	s.tm.Commit(t1)
	s.crash(t)

	dm, _, err := disk.NewDiskManager(file, false)
	require.NoError(t, err)
	pool := buffer.NewBufferPool(16, dm, nil)

	r := NewLogRecovery(dm, pool)
	r.Redo()
	first := snapshotPages(t, pool, rids)

	r2 := NewLogRecovery(dm, pool)
	r2.Redo()
	second := snapshotPages(t, pool, rids)

	assert.Equal(t, first, second)
}

type transactionRIDs struct {
	pageID uint64
	slot   uint32
}

func snapshotPages(t *testing.T, pool *buffer.BufferPool, rids []transactionRIDs) map[transactionRIDs][]byte {
	t.Helper()
	out := map[transactionRIDs][]byte{}
	for _, rid := range rids {
		p, err := pool.FetchPage(rid.pageID)
		require.NoError(t, err)
		tuple, ok := structures.CastTablePage(p).GetTuple(int(rid.slot))
		require.True(t, ok)
		out[rid] = append([]byte{}, tuple...)
		pool.UnpinPage(rid.pageID, false)
	}
	return out
}

func TestRecovery_Should_Rebuild_Multi_Page_Chains(t *testing.T) {
	file := testFile(t)
	s := startEngine(t, file)

	t1 := s.tm.Begin()
	big := make([]byte, 1000)
	var lastRID common.RID
	var lastTuple []byte
	for i := 0; i < 20; i++ { // 20k of tuples spans several 4k pages
		big[0] = byte(i)
		rid, err := s.heap.InsertTuple(t1, big)
		require.NoError(t, err)
		lastRID = rid
		lastTuple = append([]byte{}, big...)
	}
	s.tm.Commit(t1)
	s.crash(t)

	s2, _ := reopen(t, file)
	reader := s2.tm.Begin()

	got, ok := s2.heap.GetTuple(reader, lastRID)
	require.True(t, ok)
	assert.Equal(t, lastTuple, got)
	assert.True(t, s2.pool.CheckAllUnpinned())
	assert.Greater(t, lastRID.PageID, uint64(4))
}

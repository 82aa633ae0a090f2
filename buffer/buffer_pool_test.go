package buffer

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quill/disk"
	"quill/disk/wal"
)

func newTestPool(t *testing.T, poolSize int) (*BufferPool, *disk.Manager) {
	t.Helper()
	id, _ := uuid.NewUUID()
	dm, _, err := disk.NewDiskManager(filepath.Join(t.TempDir(), id.String()+".quill"), false)
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })
	return NewBufferPool(poolSize, dm, nil), dm
}

func TestNewPage_Should_Pin_A_Zeroed_Frame(t *testing.T) {
	pool, _ := newTestPool(t, 4)

	p, err := pool.NewPage()
	require.NoError(t, err)

	assert.Equal(t, 1, p.GetPinCount())
	assert.NotEqual(t, disk.InvalidPageID, p.GetPageID())
	assert.Equal(t, make([]byte, disk.PageSize), p.GetData())
}

func TestFetchPage_Should_Return_Resident_Page_Without_IO(t *testing.T) {
	pool, _ := newTestPool(t, 4)

	p, err := pool.NewPage()
	require.NoError(t, err)

	p2, err := pool.FetchPage(p.GetPageID())
	require.NoError(t, err)
	assert.Same(t, p, p2)
	assert.Equal(t, 2, p.GetPinCount())
}

func TestNewPage_Should_Fail_When_All_Frames_Are_Pinned(t *testing.T) {
	pool, _ := newTestPool(t, 2)

	_, err := pool.NewPage()
	require.NoError(t, err)
	_, err = pool.NewPage()
	require.NoError(t, err)

	_, err = pool.NewPage()
	assert.ErrorIs(t, err, ErrOutOfFrames)
}

func TestUnpinned_Dirty_Page_Should_Survive_Eviction(t *testing.T) {
	pool, _ := newTestPool(t, 1)

	p, err := pool.NewPage()
	require.NoError(t, err)
	pid := p.GetPageID()
	copy(p.GetData()[100:], []byte("dirty bytes"))
	require.True(t, pool.UnpinPage(pid, true))

	// pool size is one, this evicts pid and writes it back
	other, err := pool.NewPage()
	require.NoError(t, err)
	require.True(t, pool.UnpinPage(other.GetPageID(), false))

	p2, err := pool.FetchPage(pid)
	require.NoError(t, err)
	assert.Equal(t, []byte("dirty bytes"), p2.GetData()[100:111])
}

func TestUnpinPage_Should_Return_False_For_Non_Resident_Page(t *testing.T) {
	pool, _ := newTestPool(t, 2)
	assert.False(t, pool.UnpinPage(99, false))
}

func TestUnpin_To_Zero_Should_Make_Frame_Evictable(t *testing.T) {
	pool, _ := newTestPool(t, 2)

	p, err := pool.NewPage()
	require.NoError(t, err)
	require.True(t, pool.UnpinPage(p.GetPageID(), false))

	assert.True(t, pool.CheckAllUnpinned())
}

func TestDeletePage_Should_Fail_While_Pinned(t *testing.T) {
	pool, _ := newTestPool(t, 2)

	p, err := pool.NewPage()
	require.NoError(t, err)

	assert.False(t, pool.DeletePage(p.GetPageID()))

	pool.UnpinPage(p.GetPageID(), false)
	assert.True(t, pool.DeletePage(p.GetPageID()))
	assert.Equal(t, 2, pool.EmptyFrameSize())
}

func TestFlushPage_Should_Write_Dirty_Page_And_Clear_Flag(t *testing.T) {
	pool, dm := newTestPool(t, 2)

	p, err := pool.NewPage()
	require.NoError(t, err)
	pid := p.GetPageID()
	copy(p.GetData()[0:], []byte{9, 9, 9, 9, 9, 9, 9, 9})
	pool.UnpinPage(pid, true)

	require.True(t, pool.FlushPage(pid))
	assert.False(t, p.IsDirty())

	dest := make([]byte, disk.PageSize)
	require.NoError(t, dm.ReadPage(pid, dest))
	assert.Equal(t, byte(9), dest[0])
}

func TestDirty_Victim_Should_Force_Log_Flush_First(t *testing.T) {
	id, _ := uuid.NewUUID()
	dm, _, err := disk.NewDiskManager(filepath.Join(t.TempDir(), id.String()+".quill"), false)
	require.NoError(t, err)
	defer dm.Close()

	lm := wal.NewLogManager(dm, true)
	pool := NewBufferPool(1, dm, lm)

	p, err := pool.NewPage()
	require.NoError(t, err)
	lsn := lm.AppendLog(wal.NewBeginLogRecord(1))
	p.SetPageLSN(lsn)
	pool.UnpinPage(p.GetPageID(), true)

	require.Equal(t, uint32(0), uint32(lm.GetPersistentLSN()))

	// eviction of the dirty page must push the log out first
	_, err = pool.NewPage()
	require.NoError(t, err)

	assert.GreaterOrEqual(t, lm.GetPersistentLSN(), lsn)
}

func TestConcurrent_Fetch_And_Unpin_Should_Keep_Pin_Counts_Sane(t *testing.T) {
	pool, _ := newTestPool(t, 8)

	pids := make([]uint64, 4)
	for i := range pids {
		p, err := pool.NewPage()
		require.NoError(t, err)
		pids[i] = p.GetPageID()
		pool.UnpinPage(p.GetPageID(), false)
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				pid := pids[(w+i)%len(pids)]
				p, err := pool.FetchPage(pid)
				if err != nil {
					continue
				}
				require.Equal(t, pid, p.GetPageID())
				pool.UnpinPage(pid, false)
			}
		}(w)
	}
	wg.Wait()

	assert.True(t, pool.CheckAllUnpinned())
}

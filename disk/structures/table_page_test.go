package structures

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quill/disk"
	"quill/disk/pages"
)

func newTestTablePage() TablePage {
	tp := CastTablePage(pages.NewRawPage(3))
	tp.Init(disk.InvalidPageID, pages.ZeroLSN)
	return tp
}

func TestInserted_Tuple_Should_Be_Read_Back(t *testing.T) {
	tp := newTestTablePage()

	slot, err := tp.InsertTuple([]byte("first tuple"))
	require.NoError(t, err)

	got, ok := tp.GetTuple(slot)
	require.True(t, ok)
	assert.Equal(t, []byte("first tuple"), got)
	assert.Equal(t, 1, tp.GetTupleCount())
}

func TestMark_Then_Rollback_Should_Be_Identity(t *testing.T) {
	tp := newTestTablePage()
	slot, err := tp.InsertTuple([]byte("victim"))
	require.NoError(t, err)

	require.True(t, tp.MarkDelete(slot))
	_, ok := tp.GetTuple(slot)
	assert.False(t, ok)
	assert.True(t, tp.IsMarkDeleted(slot))

	tp.RollbackDelete(slot)
	got, ok := tp.GetTuple(slot)
	require.True(t, ok)
	assert.Equal(t, []byte("victim"), got)
}

func TestMarkDelete_Should_Fail_On_Already_Marked_Slot(t *testing.T) {
	tp := newTestTablePage()
	slot, err := tp.InsertTuple([]byte("victim"))
	require.NoError(t, err)

	require.True(t, tp.MarkDelete(slot))
	assert.False(t, tp.MarkDelete(slot))
}

func TestApplyDelete_Should_Make_Space_Reusable(t *testing.T) {
	tp := newTestTablePage()

	s1, err := tp.InsertTuple(bytes.Repeat([]byte{1}, 100))
	require.NoError(t, err)
	s2, err := tp.InsertTuple(bytes.Repeat([]byte{2}, 100))
	require.NoError(t, err)

	free := tp.GetFreeSpace()
	tp.ApplyDelete(s1)
	assert.Equal(t, free+100, tp.GetFreeSpace())

	// the surviving tuple is intact after compaction
	got, ok := tp.GetTuple(s2)
	require.True(t, ok)
	assert.Equal(t, bytes.Repeat([]byte{2}, 100), got)

	// vacant slot gets reused
	s3, err := tp.InsertTuple([]byte("reuse"))
	require.NoError(t, err)
	assert.Equal(t, s1, s3)
}

func TestUpdateTuple_Should_Handle_Size_Change(t *testing.T) {
	tp := newTestTablePage()
	s1, err := tp.InsertTuple([]byte("short"))
	require.NoError(t, err)
	s2, err := tp.InsertTuple([]byte("neighbor"))
	require.NoError(t, err)

	require.NoError(t, tp.UpdateTuple(s1, []byte("a considerably longer image")))

	got, ok := tp.GetTuple(s1)
	require.True(t, ok)
	assert.Equal(t, []byte("a considerably longer image"), got)

	got, ok = tp.GetTuple(s2)
	require.True(t, ok)
	assert.Equal(t, []byte("neighbor"), got)
}

func TestInsert_Should_Fail_When_Page_Is_Full(t *testing.T) {
	tp := newTestTablePage()

	big := bytes.Repeat([]byte{7}, 1000)
	inserted := 0
	for {
		if _, err := tp.InsertTuple(big); err != nil {
			assert.ErrorIs(t, err, ErrNotEnoughSpace)
			break
		}
		inserted++
	}

	assert.Equal(t, 4, inserted) // 4x1008 fits a 4096 byte page, a fifth cannot
}

func TestInsertTupleAt_Should_Grow_Slot_Array(t *testing.T) {
	tp := newTestTablePage()

	require.NoError(t, tp.InsertTupleAt(3, []byte("late")))
	assert.Equal(t, 4, tp.GetTupleCount())

	got, ok := tp.GetTuple(3)
	require.True(t, ok)
	assert.Equal(t, []byte("late"), got)

	_, ok = tp.GetTuple(0)
	assert.False(t, ok)
}

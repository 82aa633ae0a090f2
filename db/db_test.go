package db

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quill/btree"
	"quill/common"
)

func testConfig() common.Config {
	cfg := common.DefaultConfig()
	cfg.PoolSize = 32
	cfg.Fsync = false
	cfg.Strict2PL = true
	return cfg
}

func testFile(t *testing.T) string {
	id, _ := uuid.NewUUID()
	return filepath.Join(t.TempDir(), id.String()+".quill")
}

func TestCommitted_Work_Should_Survive_Reopen(t *testing.T) {
	file := testFile(t)

	d, err := Open(file, testConfig())
	require.NoError(t, err)

	txn := d.Begin()
	rid, err := d.Heap.InsertTuple(txn, []byte("durable row"))
	require.NoError(t, err)
	d.Commit(txn)
	require.NoError(t, d.Close())

	d2, err := Open(file, testConfig())
	require.NoError(t, err)
	defer d2.Close()

	reader := d2.Begin()
	got, ok := d2.Heap.GetTuple(reader, rid)
	require.True(t, ok)
	assert.Equal(t, []byte("durable row"), got)
}

func TestAborted_Transaction_Should_Leave_No_Trace(t *testing.T) {
	d, err := Open(testFile(t), testConfig())
	require.NoError(t, err)
	defer d.Close()

	txn := d.Begin()
	rid, err := d.Heap.InsertTuple(txn, []byte("phantom"))
	require.NoError(t, err)
	d.Abort(txn)

	reader := d.Begin()
	_, ok := d.Heap.GetTuple(reader, rid)
	assert.False(t, ok)
}

func TestAbort_Should_Restore_Updated_Tuple(t *testing.T) {
	d, err := Open(testFile(t), testConfig())
	require.NoError(t, err)
	defer d.Close()

	t1 := d.Begin()
	rid, err := d.Heap.InsertTuple(t1, []byte("v1"))
	require.NoError(t, err)
	d.Commit(t1)

	t2 := d.Begin()
	require.True(t, d.Heap.UpdateTuple(t2, rid, []byte("v2")))
	d.Abort(t2)

	reader := d.Begin()
	got, ok := d.Heap.GetTuple(reader, rid)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), got)
}

func TestLocks_Should_Be_Released_On_Commit(t *testing.T) {
	d, err := Open(testFile(t), testConfig())
	require.NoError(t, err)
	defer d.Close()

	t1 := d.Begin()
	rid, err := d.Heap.InsertTuple(t1, []byte("contended"))
	require.NoError(t, err)
	require.True(t, d.LockManager.LockExclusive(t1, rid))
	d.Commit(t1)

	// an older lock is gone; a new transaction can take the tuple immediately
	t2 := d.Begin()
	assert.True(t, d.LockManager.LockExclusive(t2, rid))
	d.Commit(t2)
}

func TestIndex_Should_Work_Through_The_Facade(t *testing.T) {
	d, err := Open(testFile(t), testConfig())
	require.NoError(t, err)
	defer d.Close()

	idx := OpenIndex(d, "orders_pk", btree.Int64KeySerializer{}, btree.Int64Comparator)

	txn := d.Begin()
	rid, err := d.Heap.InsertTuple(txn, []byte("order 7"))
	require.NoError(t, err)
	require.True(t, idx.Insert(7, rid, txn))
	d.Commit(txn)

	reader := d.Begin()
	got, ok := idx.GetValue(7, reader)
	require.True(t, ok)
	assert.Equal(t, rid, got)

	tuple, ok := d.Heap.GetTuple(reader, got)
	require.True(t, ok)
	assert.Equal(t, []byte("order 7"), tuple)
}

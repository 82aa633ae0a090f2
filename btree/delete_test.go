package btree

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsert_Then_Remove_Then_Get_Should_Return_Absent(t *testing.T) {
	tree, pool := newTestTree(t, 16, 0, 0)

	require.True(t, tree.Insert(5, ridFor(5), newTxn(1)))
	tree.Remove(5, newTxn(2))

	_, ok := tree.GetValue(5, newTxn(3))
	assert.False(t, ok)
	assert.True(t, pool.CheckAllUnpinned())
}

func TestRemove_Of_Absent_Key_Should_Be_A_NoOp(t *testing.T) {
	tree, pool := newTestTree(t, 16, 3, 3)

	for i := int64(1); i <= 10; i++ {
		require.True(t, tree.Insert(i, ridFor(i), newTxn(uint32(i))))
	}

	tree.Remove(42, newTxn(99))
	require.NoError(t, tree.CheckIntegrity())
	assert.True(t, pool.CheckAllUnpinned())
}

func TestRemoving_Upper_Half_Should_Keep_Invariants_At_Every_Step(t *testing.T) {
	tree, pool := newTestTree(t, 32, 0, 0)

	for i := int64(1); i <= 100; i++ {
		require.True(t, tree.Insert(i, ridFor(i), newTxn(uint32(i))))
	}

	for i := int64(50); i <= 100; i++ {
		tree.Remove(i, newTxn(uint32(200+i)))
		require.NoError(t, tree.CheckIntegrity(), "after removing %v", i)
	}

	// default sized nodes hold a hundred int64 keys in a single leaf, so the root stays a leaf
	assert.Equal(t, 1, tree.Height())

	it := tree.Begin(newTxn(999))
	var got []int64
	for ; !it.IsEnd(); it.Next() {
		got = append(got, it.Key())
	}
	want := make([]int64, 0, 49)
	for i := int64(1); i <= 49; i++ {
		want = append(want, i)
	}
	assert.Equal(t, want, got)
	assert.True(t, pool.CheckAllUnpinned())
}

func TestDeleting_Everything_Should_Empty_The_Tree(t *testing.T) {
	tree, pool := newTestTree(t, 64, 3, 3)

	for i := int64(1); i <= 50; i++ {
		require.True(t, tree.Insert(i, ridFor(i), newTxn(uint32(i))))
	}
	for i := int64(1); i <= 50; i++ {
		tree.Remove(i, newTxn(uint32(100+i)))
		require.NoError(t, tree.CheckIntegrity(), "after removing %v", i)
	}

	assert.True(t, tree.IsEmpty())
	_, ok := tree.GetValue(25, newTxn(999))
	assert.False(t, ok)
	assert.True(t, pool.CheckAllUnpinned())

	// an emptied tree accepts inserts again
	require.True(t, tree.Insert(7, ridFor(7), newTxn(1000)))
	v, ok := tree.GetValue(7, newTxn(1001))
	require.True(t, ok)
	assert.Equal(t, ridFor(7), v)
}

func TestRandom_Removals_Should_Keep_Invariants_With_Tiny_Nodes(t *testing.T) {
	tree, pool := newTestTree(t, 64, 3, 3)

	const n = 200
	keys := make([]int64, 0, n)
	for i := int64(0); i < n; i++ {
		keys = append(keys, i)
	}

	r := rand.New(rand.NewSource(7))
	r.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
	for i, k := range keys {
		require.True(t, tree.Insert(k, ridFor(k), newTxn(uint32(i+1))))
	}

	r.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
	for i, k := range keys[:n/2] {
		tree.Remove(k, newTxn(uint32(1000+i)))
		require.NoError(t, tree.CheckIntegrity(), "after removing %v", k)
	}

	for _, k := range keys[:n/2] {
		_, ok := tree.GetValue(k, newTxn(3000))
		assert.False(t, ok, "removed key %v is still present", k)
	}
	for _, k := range keys[n/2:] {
		v, ok := tree.GetValue(k, newTxn(3001))
		require.True(t, ok, "surviving key %v is gone", k)
		assert.Equal(t, ridFor(k), v)
	}
	assert.True(t, pool.CheckAllUnpinned())
}

func TestDeleted_Tree_Pages_Should_Return_To_The_Free_List(t *testing.T) {
	tree, pool := newTestTree(t, 64, 3, 3)

	for i := int64(1); i <= 100; i++ {
		require.True(t, tree.Insert(i, ridFor(i), newTxn(uint32(i))))
	}
	framesAtPeak := pool.EmptyFrameSize()

	for i := int64(1); i <= 100; i++ {
		tree.Remove(i, newTxn(uint32(200+i)))
	}

	assert.Greater(t, pool.EmptyFrameSize(), framesAtPeak)
	assert.True(t, pool.CheckAllUnpinned())
}

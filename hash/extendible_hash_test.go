package hash

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTable(bucketSize int) *ExtendibleHash[uint64, int] {
	return NewExtendibleHash[uint64, int](bucketSize, Uint64Hasher)
}

func TestInserted_Keys_Should_Be_Found(t *testing.T) {
	h := newTestTable(4)
	for i := uint64(0); i < 1000; i++ {
		h.Insert(i, int(i)*2)
	}

	for i := uint64(0); i < 1000; i++ {
		v, ok := h.Find(i)
		require.True(t, ok)
		assert.Equal(t, int(i)*2, v)
	}
	assert.Equal(t, 1000, h.Size())
}

func TestInsert_Should_Overwrite_Existing_Key(t *testing.T) {
	h := newTestTable(4)
	h.Insert(7, 1)
	h.Insert(7, 2)

	v, ok := h.Find(7)
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, h.Size())
}

func TestDirectory_Should_Grow_When_Buckets_Overflow(t *testing.T) {
	h := newTestTable(2)
	for i := uint64(0); i < 100; i++ {
		h.Insert(i, int(i))
	}

	assert.Greater(t, h.GetGlobalDepth(), 0)
	for i := uint64(0); i < 100; i++ {
		_, ok := h.Find(i)
		assert.True(t, ok)
	}
}

func TestRemove_Should_Return_False_For_Absent_Keys(t *testing.T) {
	h := newTestTable(4)
	h.Insert(1, 10)

	assert.True(t, h.Remove(1))
	assert.False(t, h.Remove(1))
	assert.False(t, h.Remove(99))

	_, ok := h.Find(1)
	assert.False(t, ok)
}

func TestConcurrent_Access_Should_Not_Lose_Insertions(t *testing.T) {
	h := newTestTable(8)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(int64(w)))
			for i := 0; i < 500; i++ {
				k := uint64(w*500 + i)
				h.Insert(k, int(k))
				if r.Intn(10) == 0 {
					h.Find(uint64(r.Intn(4000)))
				}
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 4000, h.Size())
	for i := uint64(0); i < 4000; i++ {
		v, ok := h.Find(i)
		require.True(t, ok)
		assert.Equal(t, int(i), v)
	}
}

package hash

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Hasher maps a key to the 64 bit value whose low bits index the directory.
type Hasher[K any] func(K) uint64

// Uint64Hasher runs xxhash over the big endian encoding of the key. It is the hasher the buffer
// pool uses for page ids.
func Uint64Hasher(k uint64) uint64 {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], k)
	return xxhash.Sum64(b[:])
}

type bucket[K comparable, V any] struct {
	localDepth int
	items      map[K]V
}

func newBucket[K comparable, V any](depth int) *bucket[K, V] {
	return &bucket[K, V]{localDepth: depth, items: map[K]V{}}
}

// ExtendibleHash is a directory based dynamic hash table. The directory doubles when a bucket
// with localDepth == globalDepth overflows; splitting a bucket rehashes only that bucket's items.
// All operations are serialized by an internal mutex.
type ExtendibleHash[K comparable, V any] struct {
	globalDepth int
	bucketSize  int
	directory   []*bucket[K, V]
	hasher      Hasher[K]
	lock        sync.RWMutex
}

func NewExtendibleHash[K comparable, V any](bucketSize int, hasher Hasher[K]) *ExtendibleHash[K, V] {
	if bucketSize <= 0 {
		panic("bucket size must be positive")
	}
	return &ExtendibleHash[K, V]{
		globalDepth: 0,
		bucketSize:  bucketSize,
		directory:   []*bucket[K, V]{newBucket[K, V](0)},
		hasher:      hasher,
	}
}

func (h *ExtendibleHash[K, V]) Find(key K) (V, bool) {
	h.lock.RLock()
	defer h.lock.RUnlock()

	v, ok := h.bucketOf(key).items[key]
	return v, ok
}

func (h *ExtendibleHash[K, V]) Insert(key K, val V) {
	h.lock.Lock()
	defer h.lock.Unlock()

	for {
		b := h.bucketOf(key)
		if _, ok := b.items[key]; ok || len(b.items) < h.bucketSize {
			b.items[key] = val
			return
		}
		h.split(b)
	}
}

func (h *ExtendibleHash[K, V]) Remove(key K) bool {
	h.lock.Lock()
	defer h.lock.Unlock()

	b := h.bucketOf(key)
	if _, ok := b.items[key]; !ok {
		return false
	}
	delete(b.items, key)
	return true
}

func (h *ExtendibleHash[K, V]) Size() int {
	h.lock.RLock()
	defer h.lock.RUnlock()

	seen := map[*bucket[K, V]]bool{}
	n := 0
	for _, b := range h.directory {
		if !seen[b] {
			seen[b] = true
			n += len(b.items)
		}
	}
	return n
}

func (h *ExtendibleHash[K, V]) GetGlobalDepth() int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return h.globalDepth
}

func (h *ExtendibleHash[K, V]) bucketOf(key K) *bucket[K, V] {
	return h.directory[h.dirIndex(key)]
}

func (h *ExtendibleHash[K, V]) dirIndex(key K) uint64 {
	return h.hasher(key) & ((1 << uint(h.globalDepth)) - 1)
}

// split replaces an overflowing bucket with two buckets of localDepth+1, doubling the directory
// first when the bucket is already at global depth.
func (h *ExtendibleHash[K, V]) split(b *bucket[K, V]) {
	if b.localDepth == h.globalDepth {
		doubled := make([]*bucket[K, V], len(h.directory)*2)
		copy(doubled, h.directory)
		copy(doubled[len(h.directory):], h.directory)
		h.directory = doubled
		h.globalDepth++
	}

	depth := b.localDepth + 1
	zero, one := newBucket[K, V](depth), newBucket[K, V](depth)
	highBit := uint64(1) << uint(b.localDepth)
	for k, v := range b.items {
		if h.hasher(k)&highBit == 0 {
			zero.items[k] = v
		} else {
			one.items[k] = v
		}
	}

	for i, cur := range h.directory {
		if cur != b {
			continue
		}
		if uint64(i)&highBit == 0 {
			h.directory[i] = zero
		} else {
			h.directory[i] = one
		}
	}
}

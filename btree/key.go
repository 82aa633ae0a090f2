package btree

import "encoding/binary"

// Comparator orders keys: negative when a < b, zero when equal, positive when a > b.
type Comparator[K any] func(a, b K) int

// KeySerializer writes keys at fixed width so entry offsets inside a node are plain arithmetic.
type KeySerializer[K any] interface {
	Serialize(key K, dest []byte)
	Deserialize(src []byte) K
	Size() int
}

type Int64KeySerializer struct{}

func (Int64KeySerializer) Serialize(key int64, dest []byte) {
	binary.BigEndian.PutUint64(dest, uint64(key))
}

func (Int64KeySerializer) Deserialize(src []byte) int64 {
	return int64(binary.BigEndian.Uint64(src))
}

func (Int64KeySerializer) Size() int {
	return 8
}

func Int64Comparator(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// StringKeySerializer pads or cuts keys to a fixed length.
type StringKeySerializer struct {
	Len int
}

func (s StringKeySerializer) Serialize(key string, dest []byte) {
	n := copy(dest[:s.Len], key)
	for i := n; i < s.Len; i++ {
		dest[i] = 0
	}
}

func (s StringKeySerializer) Deserialize(src []byte) string {
	b := src[:s.Len]
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func (s StringKeySerializer) Size() int {
	return s.Len
}

func StringComparator(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

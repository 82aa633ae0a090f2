package common

import "time"

const (
	// LogTimeout is the period of the background log flusher. It is probably better to align this
	// with disk's iops rate as much as possible.
	LogTimeout = time.Millisecond * 3

	// LogBufferSize is the capacity in bytes of each of the two log manager buffers. A single log
	// record must always be smaller than this.
	LogBufferSize = 1024 * 64

	// BucketSize is the fixed bucket capacity of the extendible hash table used as the buffer
	// pool's page table.
	BucketSize = 64

	// DefaultPoolSize is the number of frames a buffer pool holds when not configured otherwise.
	DefaultPoolSize = 64
)

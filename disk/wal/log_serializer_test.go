package wal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quill/common"
	"quill/disk/pages"
)

func roundTrip(t *testing.T, r *LogRecord) *LogRecord {
	t.Helper()
	s := NewLogRecordSerializer()
	r.Lsn = 42
	data := s.Serialize(r)
	require.Equal(t, int(r.Size), len(data))

	buf := make([]byte, len(data)+100) // trailing zeroes like a log buffer tail
	copy(buf, data)

	got, n, err := NewLogRecordSerializer().Deserialize(buf)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	return got
}

func TestSerialized_Records_Should_Deserialize_To_Equal_Records(t *testing.T) {
	rid := common.NewRID(3, 7)
	records := []*LogRecord{
		NewBeginLogRecord(1),
		NewCommitLogRecord(1, 5),
		NewAbortLogRecord(2, 9),
		NewInsertLogRecord(1, 5, rid, []byte("tuple body")),
		NewMarkDeleteLogRecord(1, 5, rid, []byte("victim")),
		NewApplyDeleteLogRecord(1, 5, rid, []byte("victim")),
		NewRollbackDeleteLogRecord(1, 5, rid, []byte("victim")),
		NewUpdateLogRecord(1, 5, rid, []byte("old image"), []byte("new image")),
		NewNewPageLogRecord(1, 5, 11, 12),
	}

	for _, r := range records {
		got := roundTrip(t, r)
		assert.Equal(t, r.T, got.T, "type %v", r.T)
		assert.Equal(t, r.TxnID, got.TxnID)
		assert.Equal(t, r.Lsn, got.Lsn)
		assert.Equal(t, r.PrevLSN, got.PrevLSN)
		if r.IsTupleRecord() {
			assert.Equal(t, r.RID, got.RID)
		}
		if len(r.Tuple) > 0 {
			assert.Equal(t, r.Tuple, got.Tuple)
		}
		if r.T == TypeUpdate {
			assert.Equal(t, r.OldTuple, got.OldTuple)
			assert.Equal(t, r.NewTuple, got.NewTuple)
		}
		if r.T == TypeNewPage {
			assert.Equal(t, r.PrevPageID, got.PrevPageID)
			assert.Equal(t, r.PageID, got.PageID)
		}
	}
}

func TestDeserialize_Should_Signal_End_Of_Log_On_Zeroed_Tail(t *testing.T) {
	_, _, err := NewLogRecordSerializer().Deserialize(make([]byte, 128))
	assert.ErrorIs(t, err, ErrShortRead)
}

func TestDeserialize_Should_Signal_End_Of_Log_On_Truncated_Record(t *testing.T) {
	s := NewLogRecordSerializer()
	r := NewInsertLogRecord(1, 0, common.NewRID(1, 0), []byte("0123456789"))
	r.Lsn = pages.LSN(1)
	data := s.Serialize(r)

	_, _, err := NewLogRecordSerializer().Deserialize(data[:len(data)-4])
	assert.ErrorIs(t, err, ErrShortRead)
}

func TestHeader_Should_Be_Twenty_Bytes(t *testing.T) {
	s := NewLogRecordSerializer()
	r := NewBeginLogRecord(1)
	r.Lsn = 1
	data := s.Serialize(r)
	assert.Equal(t, HeaderSize, len(data))
}

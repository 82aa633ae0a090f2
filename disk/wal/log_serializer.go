package wal

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/golang/snappy"

	"quill/common"
	"quill/disk/pages"
	"quill/transaction"
)

var ErrShortRead = errors.New("short read")

// LogRecordSerializer converts between LogRecord and its wire form. The 20 byte header is written
// uncompressed so readers can stride records by the leading size field; tuple images inside the
// payload are snappy framed (4 byte compressed length + snappy block).
type LogRecordSerializer struct {
	area []byte
}

func NewLogRecordSerializer() *LogRecordSerializer {
	return &LogRecordSerializer{area: make([]byte, 0, 128)}
}

// Serialize encodes r and returns the wire bytes, setting r.Size. The returned slice is backed by
// the serializer's scratch area and is only valid until the next call.
func (s *LogRecordSerializer) Serialize(r *LogRecord) []byte {
	common.Assert(r.T != TypeInvalid, "tried to serialize invalid log record type")

	payload := s.encodePayload(r)
	r.Size = uint32(HeaderSize + len(payload))

	s.area = s.area[:0]
	s.area = binary.BigEndian.AppendUint32(s.area, r.Size)
	s.area = binary.BigEndian.AppendUint32(s.area, uint32(r.Lsn))
	s.area = binary.BigEndian.AppendUint32(s.area, uint32(r.TxnID))
	s.area = binary.BigEndian.AppendUint32(s.area, uint32(r.PrevLSN))
	s.area = binary.BigEndian.AppendUint32(s.area, uint32(r.T))
	s.area = append(s.area, payload...)
	return s.area
}

// Size returns the wire size of r without committing it to the scratch area.
func (s *LogRecordSerializer) Size(r *LogRecord) int {
	return HeaderSize + len(s.encodePayload(r))
}

func (s *LogRecordSerializer) encodePayload(r *LogRecord) []byte {
	switch r.T {
	case TypeBegin, TypeCommit, TypeAbort:
		return nil
	case TypeInsert, TypeMarkDelete, TypeApplyDelete, TypeRollbackDelete:
		out := make([]byte, common.RIDSize)
		common.PutRID(out, r.RID)
		return appendTuple(out, r.Tuple)
	case TypeUpdate:
		out := make([]byte, common.RIDSize)
		common.PutRID(out, r.RID)
		out = appendTuple(out, r.OldTuple)
		return appendTuple(out, r.NewTuple)
	case TypeNewPage:
		out := make([]byte, 16)
		binary.BigEndian.PutUint64(out, r.PrevPageID)
		binary.BigEndian.PutUint64(out[8:], r.PageID)
		return out
	default:
		panic(fmt.Sprintf("unknown log record type: %v", uint32(r.T)))
	}
}

// Deserialize parses one record from the head of src and returns it with the number of bytes it
// occupies. A truncated or zeroed tail yields ErrShortRead which callers treat as end-of-log.
func (s *LogRecordSerializer) Deserialize(src []byte) (*LogRecord, int, error) {
	if len(src) < HeaderSize {
		return nil, 0, ErrShortRead
	}

	size := binary.BigEndian.Uint32(src)
	if size < HeaderSize || int(size) > len(src) {
		return nil, 0, ErrShortRead
	}

	r := &LogRecord{
		Size:    size,
		Lsn:     pages.LSN(binary.BigEndian.Uint32(src[4:])),
		TxnID:   transaction.TxnID(binary.BigEndian.Uint32(src[8:])),
		PrevLSN: pages.LSN(binary.BigEndian.Uint32(src[12:])),
		T:       LogRecordType(binary.BigEndian.Uint32(src[16:])),
	}
	if r.Lsn == pages.ZeroLSN || r.T == TypeInvalid || r.T > TypeNewPage {
		return nil, 0, ErrShortRead
	}

	body := src[HeaderSize:size]
	switch r.T {
	case TypeBegin, TypeCommit, TypeAbort:
	case TypeInsert, TypeMarkDelete, TypeApplyDelete, TypeRollbackDelete:
		if len(body) < common.RIDSize {
			return nil, 0, ErrShortRead
		}
		r.RID = common.ReadRID(body)
		tuple, _, err := readTuple(body[common.RIDSize:])
		if err != nil {
			return nil, 0, err
		}
		r.Tuple = tuple
	case TypeUpdate:
		if len(body) < common.RIDSize {
			return nil, 0, ErrShortRead
		}
		r.RID = common.ReadRID(body)
		old, n, err := readTuple(body[common.RIDSize:])
		if err != nil {
			return nil, 0, err
		}
		updated, _, err := readTuple(body[common.RIDSize+n:])
		if err != nil {
			return nil, 0, err
		}
		r.OldTuple, r.NewTuple = old, updated
	case TypeNewPage:
		if len(body) < 16 {
			return nil, 0, ErrShortRead
		}
		r.PrevPageID = binary.BigEndian.Uint64(body)
		r.PageID = binary.BigEndian.Uint64(body[8:])
	}

	return r, int(size), nil
}

func appendTuple(dest, tuple []byte) []byte {
	compressed := snappy.Encode(nil, tuple)
	dest = binary.BigEndian.AppendUint32(dest, uint32(len(compressed)))
	return append(dest, compressed...)
}

func readTuple(src []byte) ([]byte, int, error) {
	if len(src) < 4 {
		return nil, 0, ErrShortRead
	}
	compLen := int(binary.BigEndian.Uint32(src))
	if len(src) < 4+compLen {
		return nil, 0, ErrShortRead
	}

	tuple, err := snappy.Decode(nil, src[4:4+compLen])
	if err != nil {
		return nil, 0, fmt.Errorf("corrupt tuple image in log record: %w", err)
	}
	return tuple, 4 + compLen, nil
}

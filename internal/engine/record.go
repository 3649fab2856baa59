package engine

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Journal record operations.
const (
	opWrite byte = 1
	opFree  byte = 2
)

const recordHeaderSize = 1 + 8

var errBadRecord = errors.New("engine: malformed journal record")

// record is the journal payload for one engine operation. For opWrite, data
// holds the block contents; for opFree, end closes the freed range.
type record struct {
	op     byte
	offset int64
	end    int64
	data   []byte
}

func encodeWrite(offset int64, data []byte) []byte {
	buf := make([]byte, recordHeaderSize+len(data))
	buf[0] = opWrite
	binary.BigEndian.PutUint64(buf[1:9], uint64(offset))
	copy(buf[recordHeaderSize:], data)
	return buf
}

func encodeFree(start, end int64) []byte {
	buf := make([]byte, recordHeaderSize+8)
	buf[0] = opFree
	binary.BigEndian.PutUint64(buf[1:9], uint64(start))
	binary.BigEndian.PutUint64(buf[9:17], uint64(end))
	return buf
}

func decodeRecord(payload []byte) (record, error) {
	if len(payload) < recordHeaderSize {
		return record{}, fmt.Errorf("%w: %d bytes", errBadRecord, len(payload))
	}
	r := record{
		op:     payload[0],
		offset: int64(binary.BigEndian.Uint64(payload[1:9])),
	}
	switch r.op {
	case opWrite:
		r.data = payload[recordHeaderSize:]
	case opFree:
		if len(payload) != recordHeaderSize+8 {
			return record{}, fmt.Errorf("%w: free record of %d bytes", errBadRecord, len(payload))
		}
		r.end = int64(binary.BigEndian.Uint64(payload[9:17]))
	default:
		return record{}, fmt.Errorf("%w: op %d", errBadRecord, r.op)
	}
	return r, nil
}

package mcdump

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// RecordReader reads the records of a data file.
type RecordReader struct {
	r      *bufio.Reader
	header []byte
}

func NewRecordReader(r io.Reader) *RecordReader {
	return &RecordReader{
		r:      bufio.NewReader(r),
		header: make([]byte, 0, RecordHeaderSize+256),
	}
}

// Next returns the next record, or io.EOF after the last one. A file ending
// inside a record returns io.ErrUnexpectedEOF.
func (rr *RecordReader) Next() (*KeyRecord, error) {
	rr.header = rr.header[:2]
	if _, err := io.ReadFull(rr.r, rr.header); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, io.ErrUnexpectedEOF
	}

	size := RecordHeaderSize + int(binary.BigEndian.Uint16(rr.header))
	rr.header = append(rr.header, make([]byte, size-2)...)
	if _, err := io.ReadFull(rr.r, rr.header[2:]); err != nil {
		return nil, io.ErrUnexpectedEOF
	}

	h, _, err := DecodeRecordHeader(rr.header)
	if err != nil {
		return nil, fmt.Errorf("mcdump: decode record: %w", err)
	}

	value := make([]byte, h.ValueLen)
	if _, err := io.ReadFull(rr.r, value); err != nil {
		return nil, io.ErrUnexpectedEOF
	}

	rec := NewKeyRecord(h.Key, h.Expiry)
	rec.Flags = h.Flags
	rec.Value = value
	rec.complete = true
	return rec, nil
}

package rpc

import (
	"encoding/binary"
	"fmt"
	"io"
)

type fragmentHeader struct {
	IsLast bool
	Length uint32
}

// readFragmentHeader reads the 4-byte record marking header.
//
// - Bit 31: Last fragment flag (1 = last, 0 = more fragments)
// - Bits 0-30: Fragment length in bytes
func readFragmentHeader(r io.Reader) (fragmentHeader, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return fragmentHeader{}, err
	}

	header := binary.BigEndian.Uint32(buf[:])
	return fragmentHeader{
		IsLast: header&lastFragmentBit != 0,
		Length: header & fragmentLengthMask,
	}, nil
}

// ReadRecord reads one record, reassembling fragments, and rejects records
// larger than maxSize bytes. io.EOF is returned unwrapped when the peer
// closes the stream between records.
func ReadRecord(r io.Reader, maxSize uint32) ([]byte, error) {
	var record []byte

	for first := true; ; first = false {
		header, err := readFragmentHeader(r)
		if err != nil {
			if err == io.EOF && !first {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}

		if uint64(len(record))+uint64(header.Length) > uint64(maxSize) {
			return nil, fmt.Errorf("record too large: exceeds %d bytes", maxSize)
		}

		start := len(record)
		record = append(record, make([]byte, header.Length)...)
		if _, err := io.ReadFull(r, record[start:]); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("read fragment: %w", err)
		}

		if header.IsLast {
			return record, nil
		}
	}
}

// Frame prepends a single last-fragment header to payload.
func Frame(payload []byte) []byte {
	framed := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(framed[0:4], lastFragmentBit|uint32(len(payload)))
	copy(framed[4:], payload)
	return framed
}

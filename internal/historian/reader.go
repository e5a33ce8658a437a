package historian

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sort"

	"main/internal/schema"
)

// Reader decodes decision-log records sequentially. Payloads are valid
// only until the next call to Next.
type Reader struct {
	r         *bufio.Reader
	headerBuf []byte
	payload   []byte
}

// NewReader wraps a raw segment stream.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		r:         bufio.NewReader(r),
		headerBuf: make([]byte, recordHeaderSize),
	}
}

// Next returns the next record. io.EOF marks a clean end of segment.
func (r *Reader) Next() (schema.EventHeader, []byte, error) {
	var header schema.EventHeader

	n, err := io.ReadFull(r.r, r.headerBuf)
	if err != nil {
		if err == io.EOF && n == 0 {
			return header, nil, io.EOF
		}
		return header, nil, err
	}

	header, payloadLen, err := decodeRecordHeader(r.headerBuf)
	if err != nil {
		return header, nil, err
	}

	if payloadLen > 0 {
		if cap(r.payload) < int(payloadLen) {
			r.payload = make([]byte, payloadLen)
		}
		r.payload = r.payload[:payloadLen]
		if _, err := io.ReadFull(r.r, r.payload); err != nil {
			return header, nil, err
		}
	} else {
		r.payload = r.payload[:0]
	}

	var crcBuf [recordChecksumSize]byte
	if _, err := io.ReadFull(r.r, crcBuf[:]); err != nil {
		return header, nil, err
	}
	if binary.LittleEndian.Uint32(crcBuf[:]) != recordChecksum(r.headerBuf, r.payload) {
		return header, nil, ErrChecksumMismatch
	}

	return header, r.payload, nil
}

// Segments lists a log directory's segment files in write order.
func Segments(dir, prefix string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"-*.log"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// Walk reads every record across all segments in order.
func Walk(dir, prefix string, fn func(schema.EventHeader, []byte) error) error {
	segments, err := Segments(dir, prefix)
	if err != nil {
		return err
	}
	for _, path := range segments {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		r := NewReader(f)
		for {
			header, payload, err := r.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				f.Close()
				return err
			}
			if err := fn(header, payload); err != nil {
				f.Close()
				return err
			}
		}
		f.Close()
	}
	return nil
}

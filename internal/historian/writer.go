package historian

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"

	"main/internal/schema"
)

var (
	ErrWriterQueueFull = errors.New("decision log queue full")
	ErrWriterClosed    = errors.New("decision log writer closed")
	ErrWriterStopped   = errors.New("decision log writer not running")
)

const maxPayloadLen = uint64(^uint32(0))

// WriterConfig tunes the append-only decision log.
type WriterConfig struct {
	Dir             string
	FilePrefix      string
	QueueSize       int
	BufferSize      int
	SegmentMaxBytes int64
	FlushInterval   time.Duration
}

func (c WriterConfig) withDefaults() WriterConfig {
	if c.FilePrefix == "" {
		c.FilePrefix = "reflex"
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 4096
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 1 << 20
	}
	if c.SegmentMaxBytes <= 0 {
		c.SegmentMaxBytes = 256 << 20
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 200 * time.Millisecond
	}
	return c
}

// Writer appends decision-log records to disk segments from a bounded
// queue. The decision loop enqueues and never waits on I/O.
type Writer struct {
	cfg WriterConfig
	ch  chan walRecord
	wg  sync.WaitGroup
	err atomic.Value

	started uint32
	closed  uint32
}

type walRecord struct {
	header  schema.EventHeader
	payload []byte
}

// NewWriter creates the writer and its target directory.
func NewWriter(cfg WriterConfig) (*Writer, error) {
	cfg = cfg.withDefaults()
	if cfg.Dir == "" {
		return nil, errors.New("decision log dir required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create decision log dir")
	}
	return &Writer{cfg: cfg, ch: make(chan walRecord, cfg.QueueSize)}, nil
}

// Start runs the writer loop.
func (w *Writer) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&w.started, 0, 1) {
		return errors.New("decision log writer already started")
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
	return nil
}

// Close flushes and stops the writer.
func (w *Writer) Close() error {
	if atomic.CompareAndSwapUint32(&w.closed, 0, 1) {
		close(w.ch)
	}
	w.wg.Wait()
	return w.Err()
}

// Err returns the first error the writer hit.
func (w *Writer) Err() error {
	if v := w.err.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// TryAppend enqueues one record without blocking. The payload is
// copied so callers may reuse their buffers.
func (w *Writer) TryAppend(header schema.EventHeader, payload []byte) error {
	if atomic.LoadUint32(&w.closed) != 0 {
		return ErrWriterClosed
	}
	if atomic.LoadUint32(&w.started) == 0 {
		return ErrWriterStopped
	}
	if err := w.Err(); err != nil {
		return err
	}
	if uint64(len(payload)) > maxPayloadLen {
		return ErrPayloadTooLarge
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)

	select {
	case w.ch <- walRecord{header: header, payload: cp}:
		return nil
	default:
		return ErrWriterQueueFull
	}
}

func (w *Writer) run(ctx context.Context) {
	var (
		seg       *segment
		segID     uint64
		headerBuf = make([]byte, recordHeaderSize)
		crcBuf    [recordChecksumSize]byte
	)
	flush := time.NewTicker(w.cfg.FlushInterval)
	defer func() {
		flush.Stop()
		if err := seg.close(); err != nil && w.Err() == nil {
			w.setErr(err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case rec, ok := <-w.ch:
					if !ok {
						return
					}
					if err := w.write(&seg, &segID, headerBuf, &crcBuf, rec); err != nil {
						w.setErr(err)
						return
					}
				default:
					return
				}
			}
		case rec, ok := <-w.ch:
			if !ok {
				return
			}
			if err := w.write(&seg, &segID, headerBuf, &crcBuf, rec); err != nil {
				w.setErr(err)
				return
			}
		case <-flush.C:
			if seg != nil {
				if err := seg.buf.Flush(); err != nil {
					w.setErr(err)
					return
				}
			}
		}
	}
}

func (w *Writer) write(seg **segment, segID *uint64, headerBuf []byte, crcBuf *[recordChecksumSize]byte, rec walRecord) error {
	size := int64(recordHeaderSize + len(rec.payload) + recordChecksumSize)
	if *seg == nil || (*seg).size+size > w.cfg.SegmentMaxBytes {
		if err := (*seg).close(); err != nil {
			return err
		}
		opened, err := w.openSegment(segID)
		if err != nil {
			return err
		}
		*seg = opened
	}

	encodeRecordHeader(headerBuf, rec.header, len(rec.payload))
	binary.LittleEndian.PutUint32(crcBuf[:], recordChecksum(headerBuf, rec.payload))

	if _, err := (*seg).buf.Write(headerBuf); err != nil {
		return err
	}
	if len(rec.payload) > 0 {
		if _, err := (*seg).buf.Write(rec.payload); err != nil {
			return err
		}
	}
	if _, err := (*seg).buf.Write(crcBuf[:]); err != nil {
		return err
	}
	(*seg).size += size
	return nil
}

func (w *Writer) openSegment(segID *uint64) (*segment, error) {
	ts := time.Now().UTC().Format("20060102-150405")
	for {
		*segID++
		name := fmt.Sprintf("%s-%s-%06d.log", w.cfg.FilePrefix, ts, *segID)
		file, err := os.OpenFile(filepath.Join(w.cfg.Dir, name), os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if err != nil {
			if os.IsExist(err) {
				continue
			}
			return nil, errors.Wrap(err, "open decision log segment")
		}
		return &segment{file: file, buf: bufio.NewWriterSize(file, w.cfg.BufferSize)}, nil
	}
}

func (w *Writer) setErr(err error) {
	if err == nil || w.err.Load() != nil {
		return
	}
	w.err.Store(err)
}

type segment struct {
	file *os.File
	buf  *bufio.Writer
	size int64
}

func (s *segment) close() error {
	if s == nil {
		return nil
	}
	if err := s.buf.Flush(); err != nil {
		_ = s.file.Close()
		return err
	}
	if err := s.file.Sync(); err != nil {
		_ = s.file.Close()
		return err
	}
	return s.file.Close()
}

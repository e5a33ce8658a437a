package historian

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"
	"gorm.io/gorm"

	"main/internal/codec"
	"main/internal/schema"
)

// ArchivedFrame is the cold-store row: identity columns for querying,
// full frame as a JSON blob.
type ArchivedFrame struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	GSID        uint64 `gorm:"uniqueIndex;column:gsid"`
	TimestampUs int64  `gorm:"index"`
	Action      string
	Ratchet     string
	Payload     []byte `gorm:"type:bytea"`
}

// TableName keeps the cold store table explicit.
func (ArchivedFrame) TableName() string { return "reflex_frames" }

// Archiver drains frames to the cold store off the hot path. Sends
// are fire and forget: a full channel drops the frame and counts it,
// never blocking the loop.
type Archiver struct {
	db      *gorm.DB
	ch      chan schema.Frame
	wg      sync.WaitGroup
	dropped uint64
	stored  uint64
}

// NewArchiver migrates the table and starts the drain loop. A nil db
// returns a nil archiver; all methods on a nil archiver are no-ops.
func NewArchiver(ctx context.Context, db *gorm.DB, queueSize int) (*Archiver, error) {
	if db == nil {
		return nil, nil
	}
	if err := db.AutoMigrate(&ArchivedFrame{}); err != nil {
		return nil, err
	}
	if queueSize <= 0 {
		queueSize = 8192
	}
	a := &Archiver{db: db, ch: make(chan schema.Frame, queueSize)}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.run(ctx)
	}()
	return a, nil
}

// Offer queues a frame for archival without blocking.
func (a *Archiver) Offer(f schema.Frame) {
	if a == nil {
		return
	}
	select {
	case a.ch <- f:
	default:
		atomic.AddUint64(&a.dropped, 1)
	}
}

// Dropped returns the count of frames lost to backpressure.
func (a *Archiver) Dropped() uint64 {
	if a == nil {
		return 0
	}
	return atomic.LoadUint64(&a.dropped)
}

// Stored returns the count of archived frames.
func (a *Archiver) Stored() uint64 {
	if a == nil {
		return 0
	}
	return atomic.LoadUint64(&a.stored)
}

// Close drains the queue and stops the archiver.
func (a *Archiver) Close() {
	if a == nil {
		return
	}
	close(a.ch)
	a.wg.Wait()
}

func (a *Archiver) run(ctx context.Context) {
	batch := make([]ArchivedFrame, 0, 128)
	flush := time.NewTicker(time.Second)
	defer flush.Stop()

	store := func() {
		if len(batch) == 0 {
			return
		}
		if err := a.db.Create(&batch).Error; err != nil {
			logs.Warn(fmt.Sprintf("archive batch of %d frames failed: %v", len(batch), err))
		} else {
			atomic.AddUint64(&a.stored, uint64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			store()
			return
		case f, ok := <-a.ch:
			if !ok {
				store()
				return
			}
			payload, err := codec.EncodeFrame(f)
			if err != nil {
				continue
			}
			batch = append(batch, ArchivedFrame{
				GSID:        f.GSID,
				TimestampUs: f.TimestampUs,
				Action:      f.Decision.Action.String(),
				Ratchet:     f.Ratchet.String(),
				Payload:     payload,
			})
			if len(batch) >= cap(batch) {
				store()
			}
		case <-flush.C:
			store()
		}
	}
}

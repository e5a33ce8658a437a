package telemetry

import (
	"container/heap"

	"main/internal/schema"
)

// holeJumpDepth is how many buffered frames we tolerate before
// declaring the missing gsid lost and jumping past the hole.
const holeJumpDepth = 10

// JitterBuffer reorders frames that arrive out of gsid order.
// Frames are released strictly in sequence; a frame older than the
// cursor is dropped as late, and a persistent gap is jumped rather
// than waited out forever.
type JitterBuffer struct {
	heap      frameHeap
	expected  uint64
	lateDrops uint64
	holeJumps uint64
}

// NewJitterBuffer starts expecting the given gsid.
func NewJitterBuffer(firstGSID uint64) *JitterBuffer {
	return &JitterBuffer{expected: firstGSID}
}

// Offer buffers one frame and returns every frame now releasable in
// order.
func (j *JitterBuffer) Offer(f schema.Frame) []schema.Frame {
	if f.GSID < j.expected {
		j.lateDrops++
		return nil
	}
	heap.Push(&j.heap, f)

	var out []schema.Frame
	for j.heap.Len() > 0 {
		head := j.heap[0]
		switch {
		case head.GSID == j.expected:
			out = append(out, heap.Pop(&j.heap).(schema.Frame))
			j.expected++
		case head.GSID < j.expected:
			// Duplicate of something already released.
			heap.Pop(&j.heap)
			j.lateDrops++
		case j.heap.Len() > holeJumpDepth:
			// The gap is not going to fill; jump to the oldest
			// buffered frame and keep the stream moving.
			j.expected = head.GSID
			j.holeJumps++
		default:
			return out
		}
	}
	return out
}

// Expected returns the next gsid the buffer will release.
func (j *JitterBuffer) Expected() uint64 { return j.expected }

// LateDrops returns frames discarded for arriving behind the cursor.
func (j *JitterBuffer) LateDrops() uint64 { return j.lateDrops }

// HoleJumps returns how many gaps were abandoned.
func (j *JitterBuffer) HoleJumps() uint64 { return j.holeJumps }

// Pending returns the number of buffered frames.
func (j *JitterBuffer) Pending() int { return j.heap.Len() }

type frameHeap []schema.Frame

func (h frameHeap) Len() int            { return len(h) }
func (h frameHeap) Less(i, j int) bool  { return h[i].GSID < h[j].GSID }
func (h frameHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *frameHeap) Push(x interface{}) { *h = append(*h, x.(schema.Frame)) }
func (h *frameHeap) Pop() interface{} {
	old := *h
	n := len(old)
	f := old[n-1]
	*h = old[:n-1]
	return f
}

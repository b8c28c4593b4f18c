package stream

import (
	"sync"

	"github.com/pitchvision/pitchvision/internal/models"
)

// FrameRing is a fixed-capacity ring buffer of frames. Push never blocks and
// never fails: when the ring is full the oldest resident frame is overwritten
// and returned to the caller so frame loss can be accounted for. A producer
// must never stall because of a slow consumer; losing the oldest unconsumed
// frame under sustained overload is an accepted degradation, not an error.
type FrameRing struct {
	mu    sync.Mutex
	slots []*models.VideoFrame
	head  int // index of the oldest resident frame
	count int
}

func NewFrameRing(capacity int) *FrameRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &FrameRing{slots: make([]*models.VideoFrame, capacity)}
}

func (r *FrameRing) Capacity() int { return len(r.slots) }

// Push inserts unconditionally, O(1). Returns the frame it overwrote, if any.
func (r *FrameRing) Push(f *models.VideoFrame) *models.VideoFrame {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count < len(r.slots) {
		r.slots[(r.head+r.count)%len(r.slots)] = f
		r.count++
		return nil
	}

	// Full: overwrite the oldest slot, logical head advances.
	evicted := r.slots[r.head]
	r.slots[r.head] = f
	r.head = (r.head + 1) % len(r.slots)
	return evicted
}

// PopOldest removes and returns the oldest resident frame. The pipeline
// drains the ring with this so processed frames keep arrival order.
func (r *FrameRing) PopOldest() (*models.VideoFrame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return nil, false
	}
	f := r.slots[r.head]
	r.slots[r.head] = nil
	r.head = (r.head + 1) % len(r.slots)
	r.count--
	return f, true
}

// Snapshot returns the currently resident frames, oldest first.
func (r *FrameRing) Snapshot() []*models.VideoFrame {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*models.VideoFrame, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.slots[(r.head+i)%len(r.slots)])
	}
	return out
}

func (r *FrameRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Utilization reports count/capacity in [0,1].
func (r *FrameRing) Utilization() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return float64(r.count) / float64(len(r.slots))
}

// Clear drops all resident frames and returns how many were dropped.
func (r *FrameRing) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.count
	for i := range r.slots {
		r.slots[i] = nil
	}
	r.head = 0
	r.count = 0
	return n
}

package stream

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pitchvision/pitchvision/internal/models"
	"github.com/pitchvision/pitchvision/internal/utils"
)

const defaultRateWindow = 5 * time.Second

// LiveStream is the aggregate owning one frame ring and the stream lifecycle
// state. State is mutated only through its methods; every mutating call
// returns the domain events it produced instead of accumulating them
// internally, so callers decide when and where to publish.
//
// Lifecycle: Created --Start--> Active --Pause--> Paused --Resume--> Active;
// Active|Paused --Stop--> Stopped (terminal).
type LiveStream struct {
	mu sync.Mutex

	id       string
	status   models.StreamStatus
	ring     *FrameRing
	metadata models.StreamMetadata

	frameCount     uint64
	droppedFrames  uint64 // evicted before the pipeline dequeued them
	rejectedFrames uint64 // AddFrame outside Active

	startedAt  time.Time
	rateWindow time.Duration
	arrivals   []time.Time // trailing-window arrival times for fps

	// dropHook observes every dropped frame. Must be fast and non-blocking;
	// called with the stream lock held.
	dropHook func(n uint64)
}

func NewLiveStream(bufferCapacity int, metadata models.StreamMetadata) *LiveStream {
	return &LiveStream{
		id:         uuid.NewString(),
		status:     models.StreamCreated,
		ring:       NewFrameRing(bufferCapacity),
		metadata:   metadata,
		rateWindow: defaultRateWindow,
	}
}

func (s *LiveStream) ID() string { return s.id }

// SetDropHook registers an observer for dropped-frame accounting (metrics).
func (s *LiveStream) SetDropHook(h func(n uint64)) {
	s.mu.Lock()
	s.dropHook = h
	s.mu.Unlock()
}

func (s *LiveStream) recordDrops(n uint64) {
	s.droppedFrames += n
	if s.dropHook != nil && n > 0 {
		s.dropHook(n)
	}
}

// Ring exposes the frame ring to the single consumer (the pipeline).
func (s *LiveStream) Ring() *FrameRing { return s.ring }

func (s *LiveStream) Status() models.StreamStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *LiveStream) Start() ([]models.Event, error) {
	const op = "LiveStream.Start"

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != models.StreamCreated {
		return nil, utils.E(utils.CodeFailedPrecondition, op, "stream is not in created state", nil)
	}
	s.status = models.StreamActive
	s.startedAt = time.Now().UTC()

	ev := models.NewEvent(models.EventStreamStarted, s.id, models.StreamStartedPayload{Metadata: s.metadata})
	return []models.Event{ev}, nil
}

// AddFrame admits one frame into the ring. Valid only while Active; otherwise
// the frame is dropped and a typed error returned (frames are not safe to
// replay once their source track has moved on, so the caller logs and moves
// on). An overwritten, never-consumed frame counts as dropped, not as an
// error.
func (s *LiveStream) AddFrame(f *models.VideoFrame) ([]models.Event, error) {
	const op = "LiveStream.AddFrame"

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != models.StreamActive {
		s.rejectedFrames++
		return nil, utils.E(utils.CodeFailedPrecondition, op, "stream is not active", nil)
	}

	s.frameCount++
	now := time.Now().UTC()
	s.arrivals = append(s.arrivals, now)
	s.pruneArrivals(now)

	if evicted := s.ring.Push(f); evicted != nil {
		s.recordDrops(1)
	}

	ev := models.NewEvent(models.EventFrameReceived, s.id, models.FrameReceivedPayload{
		FrameNumber: f.FrameNumber,
		SizeBytes:   f.SizeBytes,
	})
	return []models.Event{ev}, nil
}

func (s *LiveStream) Pause() ([]models.Event, error) {
	const op = "LiveStream.Pause"

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != models.StreamActive {
		return nil, utils.E(utils.CodeFailedPrecondition, op, "stream is not active", nil)
	}
	s.status = models.StreamPaused
	return nil, nil
}

func (s *LiveStream) Resume() ([]models.Event, error) {
	const op = "LiveStream.Resume"

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != models.StreamPaused {
		return nil, utils.E(utils.CodeFailedPrecondition, op, "stream is not paused", nil)
	}
	s.status = models.StreamActive
	return nil, nil
}

// Stop terminates the stream, clears the ring and emits StreamStopped with
// the final totals. Terminal: no transition leaves Stopped.
func (s *LiveStream) Stop() ([]models.Event, error) {
	const op = "LiveStream.Stop"

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != models.StreamActive && s.status != models.StreamPaused {
		return nil, utils.E(utils.CodeFailedPrecondition, op, "stream is not running", nil)
	}
	s.status = models.StreamStopped
	s.recordDrops(uint64(s.ring.Clear()))

	var durationMs int64
	if !s.startedAt.IsZero() {
		durationMs = time.Since(s.startedAt).Milliseconds()
	}

	ev := models.NewEvent(models.EventStreamStopped, s.id, models.StreamStoppedPayload{
		TotalFrames: s.frameCount,
		DurationMs:  durationMs,
	})
	return []models.Event{ev}, nil
}

// FrameDropped records a frame the pipeline could not process because it was
// evicted before dequeue. Counted, never silently lost.
func (s *LiveStream) FrameDropped() {
	s.mu.Lock()
	s.recordDrops(1)
	s.mu.Unlock()
}

// Metrics returns a point-in-time snapshot without mutating state.
func (s *LiveStream) Metrics() models.StreamMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	s.pruneArrivals(now)

	m := models.StreamMetrics{
		StreamID:          s.id,
		Status:            s.status,
		FrameCount:        s.frameCount,
		FrameRate:         float64(len(s.arrivals)) / s.rateWindow.Seconds(),
		BufferUtilization: s.ring.Utilization(),
		DroppedFrames:     s.droppedFrames,
		RejectedFrames:    s.rejectedFrames,
	}
	if !s.startedAt.IsZero() {
		started := s.startedAt
		m.StartedAt = &started
		m.UptimeSeconds = now.Sub(started).Seconds()
	}
	return m
}

func (s *LiveStream) pruneArrivals(now time.Time) {
	cutoff := now.Add(-s.rateWindow)
	i := 0
	for i < len(s.arrivals) && s.arrivals[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		s.arrivals = append(s.arrivals[:0], s.arrivals[i:]...)
	}
}

package inference

import (
	"context"
	"sync"
	"time"

	"github.com/pitchvision/pitchvision/internal/models"
)

// Stub is an in-process scorer for local runs and tests. Detections are
// deterministic in (frame number, stage) so tests can assert on them; a
// per-stage failure and latency can be injected.
type Stub struct {
	mu        sync.Mutex
	failures  map[models.StageKind]error
	latency   time.Duration
	healthy   bool
	headroom  int64
	callCount int64
}

func NewStub() *Stub {
	return &Stub{
		failures: make(map[models.StageKind]error),
		healthy:  true,
		headroom: 4096,
	}
}

// FailStage makes every Score call for the given stage return err. Pass nil
// to clear.
func (s *Stub) FailStage(stage models.StageKind, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, stage)
		return
	}
	s.failures[stage] = err
}

func (s *Stub) SetLatency(d time.Duration) { s.mu.Lock(); s.latency = d; s.mu.Unlock() }
func (s *Stub) SetHealthy(ok bool)         { s.mu.Lock(); s.healthy = ok; s.mu.Unlock() }
func (s *Stub) SetHeadroomMB(mb int64)     { s.mu.Lock(); s.headroom = mb; s.mu.Unlock() }

func (s *Stub) Score(ctx context.Context, frame *models.VideoFrame, stage models.StageKind) (*models.StageResult, error) {
	s.mu.Lock()
	failure := s.failures[stage]
	latency := s.latency
	s.callCount++
	s.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if failure != nil {
		return nil, failure
	}

	res := &models.StageResult{Confidence: 0.9, LatencyMs: latency.Milliseconds()}
	switch stage {
	case models.StagePlayerDetection:
		// Two players per side of the frame, track ids stable per frame.
		for i := 0; i < 4; i++ {
			x := (frame.Width / 5) * (i + 1)
			res.Detections = append(res.Detections, models.Detection{
				TrackID:    i + 1,
				Label:      "player",
				Confidence: 0.9,
				Box:        models.BoundingBox{XMin: x, YMin: 100, XMax: x + 40, YMax: 200},
			})
		}
	case models.StageBallTracking:
		x := int(frame.FrameNumber) % max(frame.Width-10, 1)
		res.Detections = append(res.Detections, models.Detection{
			Label:      "ball",
			Confidence: 0.85,
			Box:        models.BoundingBox{XMin: x, YMin: 150, XMax: x + 10, YMax: 160},
		})
	case models.StageTeamClassification:
		for i := 0; i < 4; i++ {
			res.Detections = append(res.Detections, models.Detection{
				TrackID: i + 1,
				Label:   "player",
				TeamID:  i%2 + 1,
			})
		}
	case models.StageEventDetection:
		// Emit a pass every 30th frame so event-driven paths are exercised.
		if frame.FrameNumber%30 == 0 && frame.FrameNumber > 0 {
			res.Detections = append(res.Detections, models.Detection{
				Label:      "pass",
				Confidence: 0.8,
			})
		}
	}
	return res, nil
}

func (s *Stub) Health(ctx context.Context) models.InferenceHealth {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.InferenceHealth{
		Initialized:      s.healthy,
		MemoryHeadroomMB: s.headroom,
		ModelVersions:    []string{"stub"},
	}
}

func (s *Stub) Close() error { return nil }

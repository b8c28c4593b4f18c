package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchvision/pitchvision/internal/models"
	"github.com/pitchvision/pitchvision/internal/providers/inference"
	"github.com/pitchvision/pitchvision/internal/stream"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) ofType(t models.EventType) []models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.Event
	for _, ev := range p.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// waitFor polls until at least n events of the given type were published.
func (p *recordingPublisher) waitFor(t *testing.T, typ models.EventType, n int) []models.Event {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if evs := p.ofType(typ); len(evs) >= n {
			return evs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d %s events, have %d", n, typ, len(p.ofType(typ)))
	return nil
}

type recordingSink struct {
	mu      sync.Mutex
	results []*models.AnalysisResult
}

func (s *recordingSink) Insert(_ context.Context, res *models.AnalysisResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, res)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

type panicStage struct{}

func (panicStage) Kind() models.StageKind { return models.StagePlayerDetection }
func (panicStage) Process(context.Context, *models.VideoFrame, *StageContext) error {
	panic("detector blew up")
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func activeStream(t *testing.T, capacity int) *stream.LiveStream {
	t.Helper()
	ls := stream.NewLiveStream(capacity, nil)
	_, err := ls.Start()
	require.NoError(t, err)
	return ls
}

func addFrame(t *testing.T, ls *stream.LiveStream, n uint64) {
	t.Helper()
	f := models.NewVideoFrame(n, time.Now().UTC(), 640, 480, []byte{1, 2, 3, 4})
	_, err := ls.AddFrame(f)
	require.NoError(t, err)
}

func analyzedResult(t *testing.T, ev models.Event) *models.AnalysisResult {
	t.Helper()
	payload, ok := ev.Payload.(models.FrameAnalyzedPayload)
	require.True(t, ok)
	require.NotNil(t, payload.Result)
	return payload.Result
}

func TestPipelineProcessesFramesInArrivalOrder(t *testing.T) {
	ls := activeStream(t, 32)
	pub := &recordingPublisher{}
	p := New(ls, DefaultStages(inference.NewStub()), pub, quietLogger(), Options{})
	p.Start()
	defer p.Stop()

	for n := uint64(0); n < 10; n++ {
		addFrame(t, ls, n)
		p.Enqueue()
	}

	evs := pub.waitFor(t, models.EventFrameAnalyzed, 10)
	var prev uint64
	for i, ev := range evs {
		res := analyzedResult(t, ev)
		assert.Equal(t, ls.ID(), res.StreamID)
		if i > 0 {
			assert.GreaterOrEqual(t, res.FrameNumber, prev, "analyzed order must follow arrival order")
		}
		prev = res.FrameNumber
	}
}

func TestPipelineResultContents(t *testing.T) {
	ls := activeStream(t, 8)
	pub := &recordingPublisher{}
	sink := &recordingSink{}
	p := New(ls, DefaultStages(inference.NewStub()), pub, quietLogger(), Options{Sink: sink})
	p.Start()
	defer p.Stop()

	addFrame(t, ls, 7)
	p.Enqueue()

	evs := pub.waitFor(t, models.EventFrameAnalyzed, 1)
	res := analyzedResult(t, evs[0])

	assert.Equal(t, uint64(7), res.FrameNumber)
	assert.Len(t, res.Detections, 4)
	require.NotNil(t, res.Ball)
	assert.Equal(t, 2, res.Teams.HomeCount)
	assert.Equal(t, 2, res.Teams.AwayCount)
	assert.NotEmpty(t, res.Formation.HomeFormation)
	assert.Equal(t, 4, res.Statistics.PlayersDetected)
	assert.True(t, res.Statistics.BallVisible)
	assert.Greater(t, res.Confidence, 0.0)
	assert.Empty(t, res.FailedStages)

	// The sink sees the same result.
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestPipelineStageFailureDegradesResult(t *testing.T) {
	stub := inference.NewStub()
	stub.FailStage(models.StagePlayerDetection, errors.New("model not loaded"))

	ls := activeStream(t, 8)
	pub := &recordingPublisher{}
	p := New(ls, DefaultStages(stub), pub, quietLogger(), Options{})
	p.Start()
	defer p.Stop()

	addFrame(t, ls, 1)
	p.Enqueue()

	failures := pub.waitFor(t, models.EventFrameProcessingError, 1)
	payload, ok := failures[0].Payload.(models.FrameProcessingErrorPayload)
	require.True(t, ok)
	assert.Equal(t, models.StagePlayerDetection, payload.Stage)
	assert.Contains(t, payload.Error, "model not loaded")

	// The frame still produces a result: the failed stage contributes its
	// zero value, the remaining stages ran.
	evs := pub.waitFor(t, models.EventFrameAnalyzed, 1)
	res := analyzedResult(t, evs[0])
	assert.Empty(t, res.Detections)
	assert.NotNil(t, res.Ball)
	assert.Equal(t, []models.StageKind{models.StagePlayerDetection}, res.FailedStages)

	// Recovery: clear the fault and the next frame is complete again.
	stub.FailStage(models.StagePlayerDetection, nil)
	addFrame(t, ls, 2)
	p.Enqueue()

	evs = pub.waitFor(t, models.EventFrameAnalyzed, 2)
	res = analyzedResult(t, evs[1])
	assert.Len(t, res.Detections, 4)
	assert.Empty(t, res.FailedStages)
}

func TestPipelineSurvivesStagePanic(t *testing.T) {
	ls := activeStream(t, 8)
	pub := &recordingPublisher{}
	p := New(ls, []Stage{panicStage{}, statisticsStage{}}, pub, quietLogger(), Options{})
	p.Start()
	defer p.Stop()

	addFrame(t, ls, 1)
	p.Enqueue()

	failures := pub.waitFor(t, models.EventFrameProcessingError, 1)
	payload, ok := failures[0].Payload.(models.FrameProcessingErrorPayload)
	require.True(t, ok)
	assert.Contains(t, payload.Error, "stage panic")

	evs := pub.waitFor(t, models.EventFrameAnalyzed, 1)
	res := analyzedResult(t, evs[0])
	assert.Equal(t, []models.StageKind{models.StagePlayerDetection}, res.FailedStages)
}

func TestPipelineStageTimeout(t *testing.T) {
	stub := inference.NewStub()
	stub.SetLatency(200 * time.Millisecond)

	ls := activeStream(t, 8)
	pub := &recordingPublisher{}
	p := New(ls, DefaultStages(stub), pub, quietLogger(), Options{StageTimeout: 20 * time.Millisecond})
	p.Start()
	defer p.Stop()

	addFrame(t, ls, 1)
	p.Enqueue()

	// All four provider-backed stages blow their deadline; the local stages
	// still complete and the frame still yields a result.
	evs := pub.waitFor(t, models.EventFrameAnalyzed, 1)
	res := analyzedResult(t, evs[0])
	assert.Len(t, res.FailedStages, 4)
	assert.Empty(t, res.Detections)
}

func TestPipelineStopDrainsAndGoesQuiet(t *testing.T) {
	ls := activeStream(t, 32)
	pub := &recordingPublisher{}
	p := New(ls, DefaultStages(inference.NewStub()), pub, quietLogger(), Options{})
	p.Start()

	addFrame(t, ls, 1)
	p.Enqueue()
	pub.waitFor(t, models.EventFrameAnalyzed, 1)

	p.Stop()
	p.Stop() // idempotent

	analyzed := len(pub.ofType(models.EventFrameAnalyzed))

	// Frames admitted after Stop stay in the ring; the loop is gone.
	addFrame(t, ls, 2)
	p.Enqueue()
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, pub.ofType(models.EventFrameAnalyzed), analyzed)
}

func TestPipelineBallVelocityAcrossFrames(t *testing.T) {
	ls := activeStream(t, 8)
	pub := &recordingPublisher{}
	p := New(ls, DefaultStages(inference.NewStub()), pub, quietLogger(), Options{})
	p.Start()
	defer p.Stop()

	// Stub places the ball at x = frameNumber % (width-10): consecutive
	// frames move it one pixel.
	addFrame(t, ls, 100)
	p.Enqueue()
	pub.waitFor(t, models.EventFrameAnalyzed, 1)

	addFrame(t, ls, 101)
	p.Enqueue()
	evs := pub.waitFor(t, models.EventFrameAnalyzed, 2)

	first := analyzedResult(t, evs[0])
	second := analyzedResult(t, evs[1])
	require.NotNil(t, first.Ball)
	require.NotNil(t, second.Ball)
	assert.Zero(t, first.Ball.VelocityPx, "no prior ball position on the first frame")
	assert.InDelta(t, 1.0, second.Ball.VelocityPx, 1e-9)
}

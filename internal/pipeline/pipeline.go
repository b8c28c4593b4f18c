package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pitchvision/pitchvision/internal/events"
	"github.com/pitchvision/pitchvision/internal/metric"
	"github.com/pitchvision/pitchvision/internal/models"
	"github.com/pitchvision/pitchvision/internal/storage"
	"github.com/pitchvision/pitchvision/internal/stream"
)

// ResultSink receives each produced AnalysisResult at the storage boundary.
// Persistence failures are logged, never propagated to the stream.
type ResultSink interface {
	Insert(ctx context.Context, res *models.AnalysisResult) error
}

// Options carries the per-pipeline knobs and optional collaborators.
type Options struct {
	StageTimeout         time.Duration
	Sink                 ResultSink       // optional
	Archiver             storage.Uploader // optional: event snapshot archiving
	ArchiveMinConfidence float64
	Metrics              *metric.Metrics // optional
}

// Pipeline drives every admitted frame of one stream through the ordered
// stage list. Processing is single-threaded per stream so stage-to-stage
// context and emitted-event order stay consistent; pipelines of different
// streams run fully in parallel.
type Pipeline struct {
	ls        *stream.LiveStream
	stages    []Stage
	publisher events.Publisher
	log       *logrus.Entry
	opts      Options

	notify chan struct{}
	stop   chan struct{}
	done   chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once

	mu       sync.Mutex
	lastBall *models.BallDetection
}

func New(ls *stream.LiveStream, stages []Stage, publisher events.Publisher, log *logrus.Logger, opts Options) *Pipeline {
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = 100 * time.Millisecond
	}
	return &Pipeline{
		ls:        ls,
		stages:    stages,
		publisher: publisher,
		log:       log.WithField("stream_id", ls.ID()),
		opts:      opts,
		notify:    make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the processing loop. Idempotent.
func (p *Pipeline) Start() {
	p.startOnce.Do(func() { go p.run() })
}

// Enqueue wakes the loop after a frame was admitted to the ring. Non-blocking
// (the signal channel is capacity 1; the loop drains the ring anyway).
func (p *Pipeline) Enqueue() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Stop prevents further frame admission and waits for the in-flight frame, if
// any, to complete and emit its event. Safe to call concurrently and more
// than once.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}

func (p *Pipeline) run() {
	defer close(p.done)

	for {
		select {
		case <-p.stop:
			return
		case <-p.notify:
		}

		for {
			select {
			case <-p.stop:
				return
			default:
			}

			frame, ok := p.ls.Ring().PopOldest()
			if !ok {
				break
			}
			p.processFrame(frame)
		}
	}
}

// processFrame runs all stages in declared order. A failing stage is
// recorded, its contribution stays zero-valued and the remaining stages still
// run: a detector outage degrades result completeness, never stream
// availability.
func (p *Pipeline) processFrame(frame *models.VideoFrame) {
	start := time.Now()
	ctx := context.Background()

	p.mu.Lock()
	sc := &StageContext{PrevBall: p.lastBall}
	p.mu.Unlock()

	var failed []models.StageKind
	for _, st := range p.stages {
		stageCtx, cancel := context.WithTimeout(ctx, p.opts.StageTimeout)
		err := p.runStage(stageCtx, st, frame, sc)
		cancel()

		if err != nil {
			failed = append(failed, st.Kind())
			p.log.WithError(err).WithFields(logrus.Fields{
				"frame_number": frame.FrameNumber,
				"stage":        st.Kind(),
			}).Warn("stage failed, continuing with partial result")

			if p.opts.Metrics != nil {
				p.opts.Metrics.StageFailures.WithLabelValues(p.ls.ID(), string(st.Kind())).Inc()
			}
			p.publish(ctx, models.NewEvent(models.EventFrameProcessingError, p.ls.ID(), models.FrameProcessingErrorPayload{
				FrameNumber: frame.FrameNumber,
				Stage:       st.Kind(),
				Error:       err.Error(),
			}))
		}
	}

	res := &models.AnalysisResult{
		StreamID:         p.ls.ID(),
		FrameNumber:      frame.FrameNumber,
		Timestamp:        frame.Timestamp,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		Detections:       sc.Detections,
		Ball:             sc.Ball,
		Teams:            sc.Teams,
		Events:           sc.Events,
		Formation:        sc.Formation,
		Statistics:       sc.Statistics,
		Confidence:       sc.Confidence(),
		FailedStages:     failed,
	}

	if sc.Ball != nil {
		p.mu.Lock()
		p.lastBall = sc.Ball
		p.mu.Unlock()
	}

	if p.opts.Metrics != nil {
		p.opts.Metrics.FramesAnalyzed.WithLabelValues(p.ls.ID()).Inc()
		p.opts.Metrics.ProcessingTime.WithLabelValues(p.ls.ID()).Observe(time.Since(start).Seconds())
	}

	p.publish(ctx, models.NewEvent(models.EventFrameAnalyzed, p.ls.ID(), models.FrameAnalyzedPayload{Result: res}))

	if p.opts.Sink != nil {
		if err := p.opts.Sink.Insert(ctx, res); err != nil {
			p.log.WithError(err).WithField("frame_number", frame.FrameNumber).Warn("result sink insert failed")
		}
	}

	p.archiveSnapshot(ctx, frame, res)
}

// runStage converts a stage panic into a stage error so one broken detector
// cannot take the loop down.
func (p *Pipeline) runStage(ctx context.Context, st Stage, frame *models.VideoFrame, sc *StageContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage panic: %v", r)
		}
	}()
	return st.Process(ctx, frame, sc)
}

func (p *Pipeline) publish(ctx context.Context, ev models.Event) {
	if err := p.publisher.Publish(ctx, ev); err != nil {
		if p.opts.Metrics != nil {
			p.opts.Metrics.PublishFailures.Inc()
		}
		p.log.WithError(err).WithField("event_type", ev.Type).Warn("event publish failed")
		return
	}
	if p.opts.Metrics != nil {
		p.opts.Metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
	}
}

// archiveSnapshot stores the triggering frame when a confident match event
// was detected. Best effort, off the hot path.
func (p *Pipeline) archiveSnapshot(ctx context.Context, frame *models.VideoFrame, res *models.AnalysisResult) {
	if p.opts.Archiver == nil || len(res.Events) == 0 {
		return
	}
	confident := false
	for _, ev := range res.Events {
		if ev.Confidence >= p.opts.ArchiveMinConfidence {
			confident = true
			break
		}
	}
	if !confident {
		return
	}

	name := fmt.Sprintf("snapshots/%s/%d.raw", p.ls.ID(), frame.FrameNumber)
	go func() {
		upCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := p.opts.Archiver.Upload(upCtx, name, "application/octet-stream", bytes.NewReader(frame.Pixels)); err != nil {
			p.log.WithError(err).WithField("object", name).Warn("snapshot archive failed")
		}
	}()
}

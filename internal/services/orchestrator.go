package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/pitchvision/pitchvision/internal/cache"
	"github.com/pitchvision/pitchvision/internal/events"
	"github.com/pitchvision/pitchvision/internal/metric"
	"github.com/pitchvision/pitchvision/internal/models"
	"github.com/pitchvision/pitchvision/internal/peer"
	"github.com/pitchvision/pitchvision/internal/pipeline"
	"github.com/pitchvision/pitchvision/internal/providers/inference"
	pgrepo "github.com/pitchvision/pitchvision/internal/repositories/postgres"
	"github.com/pitchvision/pitchvision/internal/storage"
	"github.com/pitchvision/pitchvision/internal/stream"
	"github.com/pitchvision/pitchvision/internal/utils"
)

const (
	maxMetadataEntries = 32
	maxMetadataValue   = 1024
	metricsCacheTTL    = 5 * time.Second
)

// OrchestratorConfig carries the per-deployment knobs.
type OrchestratorConfig struct {
	BufferCapacity       int
	StageTimeout         time.Duration
	MinHeadroomMB        int64
	ArchiveMinConfidence float64
}

// ResultReader serves recent analysis results out of the sink.
type ResultReader interface {
	ListByStream(ctx context.Context, streamID string, limit int64) ([]models.AnalysisResult, error)
}

// StartResult is what stream creation hands back to the caller.
type StartResult struct {
	StreamID  string `json:"stream_id"`
	SessionID string `json:"session_id"`
}

type managedStream struct {
	ls        *stream.LiveStream
	pl        *pipeline.Pipeline
	sessionID string
}

// Orchestrator is the composition root: the only component that creates and
// destroys live streams and their pipelines. The registry map is the single
// piece of cross-stream shared state; everything inside a managedStream is
// owned by that stream's producer/consumer pair.
type Orchestrator struct {
	mu      sync.RWMutex
	streams map[string]*managedStream

	peers     *peer.Manager
	provider  inference.Provider
	publisher events.Publisher
	catalog   pgrepo.StreamRepository // optional
	sink      pipeline.ResultSink     // optional
	results   ResultReader            // optional
	archiver  storage.Uploader        // optional
	metrics   *metric.Metrics
	cache     cache.Cache // optional metrics snapshot cache
	log       *logrus.Logger
	cfg       OrchestratorConfig
}

func NewOrchestrator(
	peers *peer.Manager,
	provider inference.Provider,
	publisher events.Publisher,
	log *logrus.Logger,
	cfg OrchestratorConfig,
) *Orchestrator {
	if cfg.BufferCapacity <= 0 {
		cfg.BufferCapacity = 300
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 100 * time.Millisecond
	}
	o := &Orchestrator{
		streams:   make(map[string]*managedStream),
		peers:     peers,
		provider:  provider,
		publisher: publisher,
		log:       log,
		cfg:       cfg,
	}
	peers.SetErrorHandler(o.onSessionError)
	return o
}

// Optional collaborators, wired by the composition in main.
func (o *Orchestrator) WithCatalog(c pgrepo.StreamRepository) *Orchestrator { o.catalog = c; return o }
func (o *Orchestrator) WithSink(s pipeline.ResultSink) *Orchestrator { o.sink = s; return o }
func (o *Orchestrator) WithResults(r ResultReader) *Orchestrator { o.results = r; return o }
func (o *Orchestrator) WithArchiver(a storage.Uploader) *Orchestrator { o.archiver = a; return o }
func (o *Orchestrator) WithMetrics(m *metric.Metrics) *Orchestrator { o.metrics = m; return o }
func (o *Orchestrator) WithCache(c cache.Cache) *Orchestrator { o.cache = c; return o }

// StartStream performs admission control, creates the live stream and its
// pipeline, opens the transport session and wires frame delivery.
func (o *Orchestrator) StartStream(ctx context.Context, metadata models.StreamMetadata) (*StartResult, error) {
	const op = "Orchestrator.StartStream"

	if err := validateMetadata(metadata); err != nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, "invalid metadata", err)
	}

	// Admission control: refuse new streams while the shared scorer is
	// uninitialized or out of accelerator headroom.
	health := o.provider.Health(ctx)
	if !health.Initialized {
		return nil, utils.E(utils.CodeUnavailable, op, "inference service not initialized", nil)
	}
	if o.cfg.MinHeadroomMB > 0 && health.MemoryHeadroomMB < o.cfg.MinHeadroomMB {
		return nil, utils.E(utils.CodeUnavailable, op, "inference service out of memory headroom", nil)
	}

	ls := stream.NewLiveStream(o.cfg.BufferCapacity, metadata)
	if o.metrics != nil {
		id := ls.ID()
		ls.SetDropHook(func(n uint64) {
			o.metrics.FramesDropped.WithLabelValues(id).Add(float64(n))
		})
	}

	pl := pipeline.New(ls, pipeline.DefaultStages(o.provider), o.publisher, o.log, pipeline.Options{
		StageTimeout:         o.cfg.StageTimeout,
		Sink:                 o.sink,
		Archiver:             o.archiver,
		ArchiveMinConfidence: o.cfg.ArchiveMinConfidence,
		Metrics:              o.metrics,
	})

	sessionID, err := o.peers.CreateSession(ls.ID(), true)
	if err != nil {
		return nil, err
	}

	o.peers.RegisterFrameCallback(ls.ID(), func(f *models.VideoFrame) {
		o.onFrame(ls, pl, f)
	})

	evs, err := ls.Start()
	if err != nil {
		o.peers.CloseSession(sessionID)
		return nil, err
	}
	pl.Start()

	o.mu.Lock()
	o.streams[ls.ID()] = &managedStream{ls: ls, pl: pl, sessionID: sessionID}
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.ActiveStreams.Inc()
	}
	o.publishAll(ctx, evs)
	o.recordStart(ctx, ls.ID(), sessionID, metadata)

	o.log.WithFields(logrus.Fields{
		"stream_id":  ls.ID(),
		"session_id": sessionID,
	}).Info("stream started")

	return &StartResult{StreamID: ls.ID(), SessionID: sessionID}, nil
}

// onFrame is the registered frame callback: single producer for the stream's
// ring. Rejections (stream not active) are logged and counted, never retried.
func (o *Orchestrator) onFrame(ls *stream.LiveStream, pl *pipeline.Pipeline, f *models.VideoFrame) {
	evs, err := ls.AddFrame(f)
	if err != nil {
		if o.metrics != nil {
			o.metrics.FramesRejected.WithLabelValues(ls.ID()).Inc()
		}
		o.log.WithError(err).WithFields(logrus.Fields{
			"stream_id":    ls.ID(),
			"frame_number": f.FrameNumber,
		}).Debug("frame rejected")
		return
	}
	if o.metrics != nil {
		o.metrics.FramesReceived.WithLabelValues(ls.ID()).Inc()
	}
	o.publishAll(context.Background(), evs)
	pl.Enqueue()
}

// StopStream tears a stream down: pipeline first so no new frames are
// admitted to analysis, then the stream, then the transport session. The
// in-flight frame, if any, completes and emits before the stop event goes
// out. A second call for the same id fails with NOT_FOUND.
func (o *Orchestrator) StopStream(ctx context.Context, streamID string) (*models.StreamStoppedPayload, error) {
	const op = "Orchestrator.StopStream"

	o.mu.Lock()
	ms, ok := o.streams[streamID]
	if ok {
		delete(o.streams, streamID)
	}
	o.mu.Unlock()

	if !ok {
		return nil, utils.E(utils.CodeNotFound, op, "stream not found", nil)
	}

	ms.pl.Stop()

	evs, err := ms.ls.Stop()
	if err != nil {
		// Already terminal; still close the transport below.
		o.log.WithError(err).WithField("stream_id", streamID).Warn("stream stop in unexpected state")
	}
	o.peers.CloseSession(ms.sessionID)

	if o.metrics != nil {
		o.metrics.ActiveStreams.Dec()
	}
	o.publishAll(ctx, evs)

	var payload *models.StreamStoppedPayload
	for _, ev := range evs {
		if p, ok := ev.Payload.(models.StreamStoppedPayload); ok {
			payload = &p
		}
	}
	if payload == nil {
		m := ms.ls.Metrics()
		payload = &models.StreamStoppedPayload{TotalFrames: m.FrameCount}
	}

	o.recordStop(ctx, streamID, payload)

	o.log.WithFields(logrus.Fields{
		"stream_id":    streamID,
		"total_frames": payload.TotalFrames,
		"duration_ms":  payload.DurationMs,
	}).Info("stream stopped")

	return payload, nil
}

// GetStreamMetrics returns a point-in-time snapshot without mutating state.
func (o *Orchestrator) GetStreamMetrics(ctx context.Context, streamID string) (*models.StreamMetrics, error) {
	const op = "Orchestrator.GetStreamMetrics"

	o.mu.RLock()
	ms, ok := o.streams[streamID]
	o.mu.RUnlock()

	if !ok {
		return nil, utils.E(utils.CodeNotFound, op, "stream not found", nil)
	}

	m := ms.ls.Metrics()
	if o.cache != nil {
		_ = o.cache.SetJSON(ctx, "stream:"+streamID+":metrics", m, metricsCacheTTL)
	}
	return &m, nil
}

// ListStreams snapshots every registered stream's metrics.
func (o *Orchestrator) ListStreams(ctx context.Context) []models.StreamMetrics {
	o.mu.RLock()
	managed := make([]*managedStream, 0, len(o.streams))
	for _, ms := range o.streams {
		managed = append(managed, ms)
	}
	o.mu.RUnlock()

	out := make([]models.StreamMetrics, 0, len(managed))
	for _, ms := range managed {
		out = append(out, ms.ls.Metrics())
	}
	return out
}

// RecentResults serves the sink's recent analysis results for a stream. Works
// for stopped streams too, for as long as the sink retains their documents.
func (o *Orchestrator) RecentResults(ctx context.Context, streamID string, limit int64) ([]models.AnalysisResult, error) {
	const op = "Orchestrator.RecentResults"

	if o.results == nil {
		return nil, utils.E(utils.CodeUnavailable, op, "result sink not configured", nil)
	}
	out, err := o.results.ListByStream(ctx, streamID, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "result query failed", err)
	}
	return out, nil
}

// Signal forwards one opaque negotiation payload into a session. The control
// plane speaks for the initiating side; responder-side payloads arrive
// through the signaling socket.
func (o *Orchestrator) Signal(ctx context.Context, sessionID string, payload json.RawMessage) error {
	return o.peers.Signal(ctx, sessionID, true, payload)
}

// SignalFrom is the direction-aware variant used by the signaling socket.
func (o *Orchestrator) SignalFrom(ctx context.Context, sessionID string, fromInitiator bool, payload json.RawMessage) error {
	return o.peers.Signal(ctx, sessionID, fromInitiator, payload)
}

// IngestFrame feeds one binary wire message from the transport layer.
func (o *Orchestrator) IngestFrame(sessionID string, data []byte) error {
	return o.peers.DeliverFrame(sessionID, data)
}

// Health reports the shared scorer's capacity signal.
func (o *Orchestrator) Health(ctx context.Context) models.InferenceHealth {
	return o.provider.Health(ctx)
}

// onSessionError handles transport failures: the stream cannot continue
// without its media source, so tear it down.
func (o *Orchestrator) onSessionError(streamID, sessionID, reason string) {
	o.log.WithFields(logrus.Fields{
		"stream_id":  streamID,
		"session_id": sessionID,
		"reason":     reason,
	}).Warn("transport session failed, stopping stream")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := o.StopStream(ctx, streamID); err != nil && !utils.IsCode(err, utils.CodeNotFound) {
		o.log.WithError(err).WithField("stream_id", streamID).Error("teardown after session failure failed")
	}
}

func (o *Orchestrator) publishAll(ctx context.Context, evs []models.Event) {
	for _, ev := range evs {
		if err := o.publisher.Publish(ctx, ev); err != nil {
			if o.metrics != nil {
				o.metrics.PublishFailures.Inc()
			}
			o.log.WithError(err).WithFields(logrus.Fields{
				"stream_id":  ev.StreamID,
				"event_type": ev.Type,
			}).Warn("event publish failed")
			continue
		}
		if o.metrics != nil {
			o.metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
		}
	}
}

// recordStart writes the catalog row. Best effort: the catalog observes the
// subsystem, it does not gate it.
func (o *Orchestrator) recordStart(ctx context.Context, streamID, sessionID string, metadata models.StreamMetadata) {
	if o.catalog == nil {
		return
	}
	var md datatypes.JSON
	if metadata != nil {
		if b, err := json.Marshal(metadata); err == nil {
			md = datatypes.JSON(b)
		}
	}
	rec := &models.StreamRecord{
		StreamID:  streamID,
		SessionID: sessionID,
		Status:    string(models.StreamActive),
		Metadata:  md,
		StartedAt: time.Now().UTC(),
	}
	if err := o.catalog.Create(ctx, rec); err != nil {
		o.log.WithError(err).WithField("stream_id", streamID).Warn("catalog insert failed")
	}
}

func (o *Orchestrator) recordStop(ctx context.Context, streamID string, payload *models.StreamStoppedPayload) {
	if o.catalog == nil {
		return
	}
	err := o.catalog.MarkStopped(ctx, streamID, time.Now().UTC(), int64(payload.TotalFrames), payload.DurationMs)
	if err != nil {
		o.log.WithError(err).WithField("stream_id", streamID).Warn("catalog update failed")
	}
}

func validateMetadata(md models.StreamMetadata) error {
	if len(md) > maxMetadataEntries {
		return utils.E(utils.CodeInvalidArgument, "", "too many metadata entries", nil)
	}
	for k, v := range md {
		if k == "" {
			return utils.E(utils.CodeInvalidArgument, "", "empty metadata key", nil)
		}
		if len(v) > maxMetadataValue {
			return utils.E(utils.CodeInvalidArgument, "", "metadata value too long", nil)
		}
	}
	return nil
}

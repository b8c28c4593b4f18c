package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchvision/pitchvision/internal/models"
	"github.com/pitchvision/pitchvision/internal/peer"
	"github.com/pitchvision/pitchvision/internal/providers/inference"
	"github.com/pitchvision/pitchvision/internal/services"
)

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, models.Event) error { return nil }

type nopRelay struct{}

// cannedResults serves a fixed result page for one stream id.
type cannedResults struct {
	streamID string
	page     []models.AnalysisResult
}

func (r cannedResults) ListByStream(_ context.Context, streamID string, limit int64) ([]models.AnalysisResult, error) {
	if streamID != r.streamID {
		return nil, nil
	}
	out := r.page
	if int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (nopRelay) Forward(context.Context, string, bool, json.RawMessage) error { return nil }

type testEnv struct {
	router *gin.Engine
	stub   *inference.Stub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	stub := inference.NewStub()
	peers := peer.NewManager(nopRelay{}, log, time.Minute)
	orch := services.NewOrchestrator(peers, stub, nopPublisher{}, log, services.OrchestratorConfig{}).
		WithResults(cannedResults{
			streamID: "archived-stream",
			page:     []models.AnalysisResult{{StreamID: "archived-stream", FrameNumber: 5}},
		})
	h := NewStreamHandler(orch)

	r := gin.New()
	authed := r.Group("/", func(c *gin.Context) { c.Set("client_id", "test-client") })
	authed.POST("/stream/start", h.Start)
	authed.POST("/stream/:stream_id/stop", h.Stop)
	authed.GET("/stream/:stream_id/metrics", h.Metrics)
	authed.GET("/stream/:stream_id/results", h.Results)
	authed.GET("/streams", h.List)
	authed.POST("/session/:session_id/signal", h.Signal)
	r.GET("/healthz", h.Health)

	// One unauthenticated route to exercise the client-id guard.
	r.POST("/naked/stream/start", h.Start)

	return &testEnv{router: r, stub: stub}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) startStream(t *testing.T) services.StartResult {
	t.Helper()
	w := e.do(t, http.MethodPost, "/stream/start", gin.H{"metadata": gin.H{"match": "friendly"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res services.StartResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.NotEmpty(t, res.StreamID)
	require.NotEmpty(t, res.SessionID)
	return res
}

func TestStartStreamEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.startStream(t)
}

func TestStartStreamUnauthorized(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/naked/stream/start", gin.H{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var apiErr APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &apiErr))
	assert.Equal(t, "UNAUTHORIZED", string(apiErr.Code))
}

func TestStartStreamAdmissionRefusal(t *testing.T) {
	env := newTestEnv(t)
	env.stub.SetHealthy(false)

	w := env.do(t, http.MethodPost, "/stream/start", gin.H{})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStopStreamEndpoint(t *testing.T) {
	env := newTestEnv(t)
	res := env.startStream(t)

	w := env.do(t, http.MethodPost, "/stream/"+res.StreamID+"/stop", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var payload models.StreamStoppedPayload
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	assert.Zero(t, payload.TotalFrames)

	// Stopping again is NOT_FOUND.
	w = env.do(t, http.MethodPost, "/stream/"+res.StreamID+"/stop", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStreamMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	res := env.startStream(t)

	w := env.do(t, http.MethodGet, "/stream/"+res.StreamID+"/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var m models.StreamMetrics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	assert.Equal(t, res.StreamID, m.StreamID)
	assert.Equal(t, models.StreamActive, m.Status)

	w = env.do(t, http.MethodGet, "/stream/does-not-exist/metrics", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListStreamsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.startStream(t)
	env.startStream(t)

	w := env.do(t, http.MethodGet, "/streams", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Streams []models.StreamMetrics `json:"streams"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Streams, 2)
}

func TestResultsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/stream/archived-stream/results", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		StreamID string                  `json:"stream_id"`
		Results  []models.AnalysisResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "archived-stream", body.StreamID)
	require.Len(t, body.Results, 1)
	assert.Equal(t, uint64(5), body.Results[0].FrameNumber)

	// Unknown stream is an empty page.
	w = env.do(t, http.MethodGet, "/stream/other/results", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Empty(t, body.Results)
}

func TestSignalEndpoint(t *testing.T) {
	env := newTestEnv(t)
	res := env.startStream(t)

	w := env.do(t, http.MethodPost, "/session/"+res.SessionID+"/signal",
		gin.H{"payload": gin.H{"type": "offer", "sdp": "v=0"}})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Missing payload fails binding.
	w = env.do(t, http.MethodPost, "/session/"+res.SessionID+"/signal", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/session/unknown/signal",
		gin.H{"payload": gin.H{"type": "offer"}})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthzEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var h models.InferenceHealth
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &h))
	assert.True(t, h.Initialized)

	env.stub.SetHealthy(false)
	w = env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

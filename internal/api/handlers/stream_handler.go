package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pitchvision/pitchvision/internal/models"
	"github.com/pitchvision/pitchvision/internal/services"
	"github.com/pitchvision/pitchvision/internal/utils"
)

type StreamHandler struct {
	orch *services.Orchestrator
}

func NewStreamHandler(orch *services.Orchestrator) *StreamHandler {
	return &StreamHandler{orch: orch}
}

type StartStreamRequest struct {
	Metadata models.StreamMetadata `json:"metadata"`
}

func (h *StreamHandler) Start(c *gin.Context) {
	if _, ok := requireClientID(c); !ok {
		return
	}

	var req StartStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "StreamHandler.Start", "invalid request body", err))
		return
	}

	res, err := h.orch.StartStream(c.Request.Context(), req.Metadata)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *StreamHandler) Stop(c *gin.Context) {
	if _, ok := requireClientID(c); !ok {
		return
	}

	streamID := c.Param("stream_id")
	if streamID == "" {
		writeError(c, utils.E(utils.CodeInvalidArgument, "StreamHandler.Stop", "missing stream_id", nil))
		return
	}

	payload, err := h.orch.StopStream(c.Request.Context(), streamID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, payload)
}

func (h *StreamHandler) Metrics(c *gin.Context) {
	if _, ok := requireClientID(c); !ok {
		return
	}

	streamID := c.Param("stream_id")
	m, err := h.orch.GetStreamMetrics(c.Request.Context(), streamID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *StreamHandler) Results(c *gin.Context) {
	if _, ok := requireClientID(c); !ok {
		return
	}

	streamID := c.Param("stream_id")
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "100"), 10, 64)

	results, err := h.orch.RecentResults(c.Request.Context(), streamID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stream_id": streamID, "results": results})
}

func (h *StreamHandler) List(c *gin.Context) {
	if _, ok := requireClientID(c); !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"streams": h.orch.ListStreams(c.Request.Context())})
}

type SignalRequest struct {
	Payload json.RawMessage `json:"payload" binding:"required"`
}

// Signal is the HTTP alternative to the signaling WebSocket: one negotiation
// payload, relayed opaque.
func (h *StreamHandler) Signal(c *gin.Context) {
	if _, ok := requireClientID(c); !ok {
		return
	}

	sessionID := c.Param("session_id")
	var req SignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "StreamHandler.Signal", "invalid request body", err))
		return
	}

	if err := h.orch.Signal(c.Request.Context(), sessionID, req.Payload); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "relayed"})
}

func (h *StreamHandler) Health(c *gin.Context) {
	health := h.orch.Health(c.Request.Context())
	status := http.StatusOK
	if !health.Initialized {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, health)
}

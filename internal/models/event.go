package models

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventStreamStarted        EventType = "stream_started"
	EventFrameReceived        EventType = "frame_received"
	EventFrameAnalyzed        EventType = "frame_analyzed"
	EventFrameProcessingError EventType = "frame_processing_error"
	EventStreamStopped        EventType = "stream_stopped"
)

// Event is one domain event. Events are append-only and causally ordered per
// stream; delivery downstream is at-least-once, so consumers de-duplicate by
// EventID.
type Event struct {
	EventID    string    `json:"event_id"`
	Type       EventType `json:"type"`
	StreamID   string    `json:"stream_id"`
	OccurredOn time.Time `json:"occurred_on"`
	Payload    any       `json:"payload,omitempty"`
}

func NewEvent(typ EventType, streamID string, payload any) Event {
	return Event{
		EventID:    uuid.NewString(),
		Type:       typ,
		StreamID:   streamID,
		OccurredOn: time.Now().UTC(),
		Payload:    payload,
	}
}

type StreamStartedPayload struct {
	Metadata StreamMetadata `json:"metadata,omitempty"`
}

type FrameReceivedPayload struct {
	FrameNumber uint64 `json:"frame_number"`
	SizeBytes   int    `json:"size_bytes"`
}

type FrameAnalyzedPayload struct {
	Result *AnalysisResult `json:"result"`
}

type FrameProcessingErrorPayload struct {
	FrameNumber uint64    `json:"frame_number"`
	Stage       StageKind `json:"stage"`
	Error       string    `json:"error"`
}

type StreamStoppedPayload struct {
	TotalFrames uint64 `json:"total_frames"`
	DurationMs  int64  `json:"duration_ms"`
}

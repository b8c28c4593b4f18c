package models

import (
	"time"

	"gorm.io/datatypes"
)

type StreamStatus string

const (
	StreamCreated StreamStatus = "created"
	StreamActive  StreamStatus = "active"
	StreamPaused  StreamStatus = "paused"
	StreamStopped StreamStatus = "stopped"
)

// StreamMetadata is opaque key/value context attached at stream creation
// (match id, venue, camera position, ...). The pipeline never interprets it.
type StreamMetadata map[string]string

// StreamMetrics is a point-in-time, read-only snapshot used for health
// reporting. Reading it never mutates stream state.
type StreamMetrics struct {
	StreamID          string       `json:"stream_id"`
	Status            StreamStatus `json:"status"`
	FrameCount        uint64       `json:"frame_count"`
	FrameRate         float64      `json:"frame_rate"`
	BufferUtilization float64      `json:"buffer_utilization"`
	DroppedFrames     uint64       `json:"dropped_frames"`
	RejectedFrames    uint64       `json:"rejected_frames"`
	StartedAt         *time.Time   `json:"started_at,omitempty"`
	UptimeSeconds     float64      `json:"uptime_seconds"`
}

// StreamRecord is the Postgres row kept per stream for the catalog. The
// catalog records this subsystem's own lifecycle, not match reference data.
type StreamRecord struct {
	StreamID    string         `gorm:"primaryKey;column:stream_id" json:"stream_id"`
	SessionID   string         `gorm:"column:session_id" json:"session_id"`
	Status      string         `gorm:"column:status" json:"status"`
	Metadata    datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	StartedAt   time.Time      `gorm:"column:started_at" json:"started_at"`
	StoppedAt   *time.Time     `gorm:"column:stopped_at" json:"stopped_at,omitempty"`
	TotalFrames int64          `gorm:"column:total_frames" json:"total_frames"`
	DurationMs  int64          `gorm:"column:duration_ms" json:"duration_ms"`
}

func (StreamRecord) TableName() string { return "streams" }

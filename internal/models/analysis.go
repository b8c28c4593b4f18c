package models

import "time"

// StageKind identifies one analysis stage. Stages run in the declared order;
// later stages consume earlier stages' outputs as context.
type StageKind string

const (
	StagePreprocessing      StageKind = "preprocessing"
	StagePlayerDetection    StageKind = "player_detection"
	StageBallTracking       StageKind = "ball_tracking"
	StageTeamClassification StageKind = "team_classification"
	StageEventDetection     StageKind = "event_detection"
	StageFormationAnalysis  StageKind = "formation_analysis"
	StageMetricsCalculation StageKind = "metrics_calculation"
)

// BoundingBox coordinates are pixels in frame space.
type BoundingBox struct {
	XMin int `json:"x_min"`
	YMin int `json:"y_min"`
	XMax int `json:"x_max"`
	YMax int `json:"y_max"`
}

func (b BoundingBox) CenterX() float64 { return float64(b.XMin+b.XMax) / 2 }
func (b BoundingBox) CenterY() float64 { return float64(b.YMin+b.YMax) / 2 }

// Detection is one detected object (player, referee, ...) in a frame.
type Detection struct {
	TrackID    int         `json:"track_id,omitempty"`
	Label      string      `json:"label"`
	Confidence float64     `json:"confidence"`
	Box        BoundingBox `json:"box"`
	TeamID     int         `json:"team_id,omitempty"`
}

type BallDetection struct {
	Confidence float64     `json:"confidence"`
	Box        BoundingBox `json:"box"`
	// VelocityPx is the per-frame displacement estimate, pixels.
	VelocityPx float64 `json:"velocity_px,omitempty"`
}

type TeamClassification struct {
	HomeCount    int     `json:"home_count"`
	AwayCount    int     `json:"away_count"`
	Unclassified int     `json:"unclassified"`
	Confidence   float64 `json:"confidence"`
}

// EventDetection is one detected match event (shot, pass, tackle, goal...).
type EventDetection struct {
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
	// PlayerTrackIDs are the tracks involved, when attributable.
	PlayerTrackIDs []int `json:"player_track_ids,omitempty"`
}

type FormationAnalysis struct {
	HomeFormation string  `json:"home_formation,omitempty"`
	AwayFormation string  `json:"away_formation,omitempty"`
	Compactness   float64 `json:"compactness,omitempty"`
	Confidence    float64 `json:"confidence"`
}

type FrameStatistics struct {
	PlayersDetected   int     `json:"players_detected"`
	BallVisible       bool    `json:"ball_visible"`
	PossessionTeamID  int     `json:"possession_team_id,omitempty"`
	AverageConfidence float64 `json:"average_confidence"`
}

// StageResult is what the inference boundary returns for one (frame, stage)
// scoring call.
type StageResult struct {
	Detections []Detection `json:"detections"`
	Confidence float64     `json:"confidence"`
	LatencyMs  int64       `json:"latency_ms"`
}

// InferenceHealth is the capacity signal the orchestrator uses for admission
// control: refuse new streams when the shared scorer is saturated.
type InferenceHealth struct {
	Initialized      bool     `json:"initialized"`
	MemoryHeadroomMB int64    `json:"memory_headroom_mb"`
	ModelVersions    []string `json:"model_versions,omitempty"`
	ActiveRequests   int64    `json:"active_requests"`
}

// AnalysisResult is the per-frame output of the pipeline. Produced exactly
// once per processed frame and never mutated afterwards; where a stage failed
// the corresponding sub-result is its zero value.
type AnalysisResult struct {
	StreamID         string             `json:"stream_id" bson:"stream_id"`
	FrameNumber      uint64             `json:"frame_number" bson:"frame_number"`
	Timestamp        time.Time          `json:"timestamp" bson:"timestamp"`
	ProcessingTimeMs int64              `json:"processing_time_ms" bson:"processing_time_ms"`
	Detections       []Detection        `json:"detections" bson:"detections"`
	Ball             *BallDetection     `json:"ball,omitempty" bson:"ball,omitempty"`
	Teams            TeamClassification `json:"teams" bson:"teams"`
	Events           []EventDetection   `json:"events" bson:"events"`
	Formation        FormationAnalysis  `json:"formation" bson:"formation"`
	Statistics       FrameStatistics    `json:"statistics" bson:"statistics"`
	Confidence       float64            `json:"confidence" bson:"confidence"`
	FailedStages     []StageKind        `json:"failed_stages,omitempty" bson:"failed_stages,omitempty"`
	Metadata         map[string]string  `json:"metadata,omitempty" bson:"metadata,omitempty"`
	ExpiresAt        time.Time          `json:"-" bson:"expires_at"`
}

package config

import (
	"os"
	"strconv"
	"time"
)

// PipelineConfig collects the env-driven pipeline knobs in one place so
// defaults live in exactly one spot.
type PipelineConfig struct {
	BufferCapacity       int           // FRAME_BUFFER_CAPACITY, frames per stream ring
	StageTimeout         time.Duration // STAGE_TIMEOUT_MS, per-stage inference deadline
	NegotiationTimeout   time.Duration // NEGOTIATION_TIMEOUT_MS, session setup deadline
	MinHeadroomMB        int64         // INFERENCE_MIN_HEADROOM_MB, admission floor
	ResultTTL            time.Duration // RESULT_TTL_SECONDS, mongo result retention
	ArchiveMinConfidence float64       // SNAPSHOT_MIN_CONFIDENCE, event snapshot gate
	SnapshotBucket       string        // SNAPSHOT_BUCKET, empty disables archiving
}

func Pipeline() PipelineConfig {
	return PipelineConfig{
		BufferCapacity:       envInt("FRAME_BUFFER_CAPACITY", 300),
		StageTimeout:         time.Duration(envInt("STAGE_TIMEOUT_MS", 100)) * time.Millisecond,
		NegotiationTimeout:   time.Duration(envInt("NEGOTIATION_TIMEOUT_MS", 30000)) * time.Millisecond,
		MinHeadroomMB:        int64(envInt("INFERENCE_MIN_HEADROOM_MB", 512)),
		ResultTTL:            time.Duration(envInt("RESULT_TTL_SECONDS", 3600)) * time.Second,
		ArchiveMinConfidence: envFloat("SNAPSHOT_MIN_CONFIDENCE", 0.75),
		SnapshotBucket:       os.Getenv("SNAPSHOT_BUCKET"),
	}
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return def
	}
	return f
}

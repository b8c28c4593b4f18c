package models

import (
	"time"
)

// VideoFrame is an immutable record of one decoded frame. Pixels must not be
// modified after construction; the buffer slot owns the frame until it is
// evicted or handed to the pipeline for the duration of processing.
type VideoFrame struct {
	FrameNumber uint64    `json:"frame_number"`
	Timestamp   time.Time `json:"timestamp"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	SizeBytes   int       `json:"size_bytes"`
	Pixels      []byte    `json:"-"`
}

func NewVideoFrame(frameNumber uint64, ts time.Time, width, height int, pixels []byte) *VideoFrame {
	return &VideoFrame{
		FrameNumber: frameNumber,
		Timestamp:   ts,
		Width:       width,
		Height:      height,
		SizeBytes:   len(pixels),
		Pixels:      pixels,
	}
}

package peer

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/pitchvision/pitchvision/internal/models"
)

// Binary frame wire format, carried in WebSocket binary messages:
//
//	offset 0: magic "PV" (2 bytes)
//	offset 2: version (1 byte)
//	offset 3: reserved (1 byte)
//	offset 4: frame number (uint64, big endian)
//	offset 12: capture time, unix microseconds (int64, big endian)
//	offset 20: width (uint16), height (uint16)
//	offset 24: pixel data
const (
	frameHeaderSize = 24
	frameVersion    = 1

	// MaxFramePayload bounds a single decoded frame; larger messages are
	// rejected before allocation.
	MaxFramePayload = 16 << 20
)

var (
	ErrBadMagic      = errors.New("frame: bad magic")
	ErrBadVersion    = errors.New("frame: unsupported version")
	ErrShortHeader   = errors.New("frame: short header")
	ErrEmptyPayload  = errors.New("frame: empty pixel payload")
	ErrPayloadTooBig = errors.New("frame: pixel payload exceeds limit")
)

// DecodeFrame parses one wire message into a VideoFrame. The pixel slice
// aliases data; callers hand ownership of data to the frame.
func DecodeFrame(data []byte) (*models.VideoFrame, error) {
	if len(data) < frameHeaderSize {
		return nil, ErrShortHeader
	}
	if data[0] != 'P' || data[1] != 'V' {
		return nil, ErrBadMagic
	}
	if data[2] != frameVersion {
		return nil, ErrBadVersion
	}

	pixels := data[frameHeaderSize:]
	if len(pixels) == 0 {
		return nil, ErrEmptyPayload
	}
	if len(pixels) > MaxFramePayload {
		return nil, ErrPayloadTooBig
	}

	frameNumber := binary.BigEndian.Uint64(data[4:12])
	tsMicro := int64(binary.BigEndian.Uint64(data[12:20]))
	width := int(binary.BigEndian.Uint16(data[20:22]))
	height := int(binary.BigEndian.Uint16(data[22:24]))

	return models.NewVideoFrame(frameNumber, time.UnixMicro(tsMicro).UTC(), width, height, pixels), nil
}

// EncodeFrame builds the wire message for a frame. Used by the capture-side
// client and by tests.
func EncodeFrame(f *models.VideoFrame) []byte {
	out := make([]byte, frameHeaderSize+len(f.Pixels))
	out[0], out[1] = 'P', 'V'
	out[2] = frameVersion
	binary.BigEndian.PutUint64(out[4:12], f.FrameNumber)
	binary.BigEndian.PutUint64(out[12:20], uint64(f.Timestamp.UnixMicro()))
	binary.BigEndian.PutUint16(out[20:22], uint16(f.Width))
	binary.BigEndian.PutUint16(out[22:24], uint16(f.Height))
	copy(out[frameHeaderSize:], f.Pixels)
	return out
}

package peer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchvision/pitchvision/internal/models"
)

func TestFrameRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 14, 15, 9, 26, 535000, time.UTC)
	in := models.NewVideoFrame(42, ts, 1920, 1080, []byte("not really pixels"))

	out, err := DecodeFrame(EncodeFrame(in))
	require.NoError(t, err)

	assert.Equal(t, in.FrameNumber, out.FrameNumber)
	assert.True(t, in.Timestamp.Equal(out.Timestamp), "timestamp survives at microsecond precision")
	assert.Equal(t, in.Width, out.Width)
	assert.Equal(t, in.Height, out.Height)
	assert.Equal(t, in.Pixels, out.Pixels)
	assert.Equal(t, len(in.Pixels), out.SizeBytes)
}

func TestDecodeFrameRejectsBadInput(t *testing.T) {
	valid := EncodeFrame(models.NewVideoFrame(1, time.Now().UTC(), 640, 480, []byte{0xff}))

	tests := []struct {
		name    string
		mutate  func([]byte) []byte
		wantErr error
	}{
		{
			name:    "short header",
			mutate:  func(b []byte) []byte { return b[:10] },
			wantErr: ErrShortHeader,
		},
		{
			name: "bad magic",
			mutate: func(b []byte) []byte {
				b[0] = 'X'
				return b
			},
			wantErr: ErrBadMagic,
		},
		{
			name: "unsupported version",
			mutate: func(b []byte) []byte {
				b[2] = 99
				return b
			},
			wantErr: ErrBadVersion,
		},
		{
			name:    "empty pixel payload",
			mutate:  func(b []byte) []byte { return b[:frameHeaderSize] },
			wantErr: ErrEmptyPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, len(valid))
			copy(data, valid)

			_, err := DecodeFrame(tt.mutate(data))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDecodeFrameEmptyMessage(t *testing.T) {
	_, err := DecodeFrame(nil)
	assert.ErrorIs(t, err, ErrShortHeader)
}

package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchvision/pitchvision/internal/models"
)

func TestChannelNames(t *testing.T) {
	assert.Equal(t, "stream:abc:events", StreamChannel("abc"))
	assert.Equal(t, "stream:abc:status", StatusChannel("abc"))
}

func TestEventWireShape(t *testing.T) {
	ev := models.NewEvent(models.EventFrameReceived, "stream-1", models.FrameReceivedPayload{
		FrameNumber: 12,
		SizeBytes:   3,
	})

	b, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))

	// Subscribers de-duplicate on event_id, so it must be present and unique
	// per event.
	assert.NotEmpty(t, decoded["event_id"])
	assert.Equal(t, string(models.EventFrameReceived), decoded["type"])
	assert.Equal(t, "stream-1", decoded["stream_id"])
	assert.NotEmpty(t, decoded["occurred_on"])

	other := models.NewEvent(models.EventFrameReceived, "stream-1", nil)
	assert.NotEqual(t, ev.EventID, other.EventID)
}

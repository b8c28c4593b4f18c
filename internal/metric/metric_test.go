package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndCount(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))

	// Double registration is rejected by the registry.
	assert.Error(t, m.Register(reg))

	m.FramesReceived.WithLabelValues("s1").Inc()
	m.FramesReceived.WithLabelValues("s1").Inc()
	m.FramesDropped.WithLabelValues("s1").Add(3)
	m.StageFailures.WithLabelValues("s1", "player_detection").Inc()
	m.ActiveStreams.Inc()
	m.EventsPublished.WithLabelValues("frame_analyzed").Inc()
	m.PublishFailures.Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesReceived.WithLabelValues("s1")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.FramesDropped.WithLabelValues("s1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageFailures.WithLabelValues("s1", "player_detection")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveStreams))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishFailures))
}

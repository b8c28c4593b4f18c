package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchvision/pitchvision/internal/models"
)

func TestStageContextConfidence(t *testing.T) {
	sc := &StageContext{}
	assert.Zero(t, sc.Confidence())

	sc.addConfidence(0.8)
	sc.addConfidence(0.6)
	sc.addConfidence(0) // ignored: stage reported nothing
	assert.InDelta(t, 0.7, sc.Confidence(), 1e-9)
}

func TestPreprocessStageRejectsBadFrames(t *testing.T) {
	st := preprocessStage{}
	ctx := context.Background()

	good := models.NewVideoFrame(1, time.Now().UTC(), 640, 480, []byte{1})
	assert.NoError(t, st.Process(ctx, good, &StageContext{}))

	noDims := models.NewVideoFrame(1, time.Now().UTC(), 0, 480, []byte{1})
	assert.Error(t, st.Process(ctx, noDims, &StageContext{}))

	noPixels := models.NewVideoFrame(1, time.Now().UTC(), 640, 480, nil)
	assert.Error(t, st.Process(ctx, noPixels, &StageContext{}))
}

func TestFormationLabel(t *testing.T) {
	// Frame height 300: thirds at y=100 and y=200. Forwards are upfield
	// (small y), defenders downfield.
	pts := []point{
		{50, 250}, {100, 250}, {150, 250}, {200, 250}, // defenders
		{50, 150}, {100, 150}, {150, 150}, // midfielders
		{50, 50}, {100, 50}, {150, 50}, // forwards
	}
	assert.Equal(t, "4-3-3", formationLabel(pts, 300))
	assert.Empty(t, formationLabel(nil, 300))
	assert.Empty(t, formationLabel(pts, 0))
}

func TestCompactness(t *testing.T) {
	assert.Zero(t, compactness(nil))
	assert.Zero(t, compactness([]point{{1, 1}}))

	tight := compactness([]point{{100, 100}, {102, 100}, {100, 102}, {102, 102}})
	spread := compactness([]point{{0, 0}, {500, 0}, {0, 500}, {500, 500}})
	assert.Greater(t, tight, spread, "a tighter shape scores higher")
	assert.LessOrEqual(t, tight, 1.0)
	assert.Greater(t, spread, 0.0)
}

func TestPossessionTeam(t *testing.T) {
	ball := &models.BallDetection{Box: models.BoundingBox{XMin: 95, YMin: 95, XMax: 105, YMax: 105}}
	dets := []models.Detection{
		{TeamID: 2, Box: models.BoundingBox{XMin: 400, YMin: 400, XMax: 440, YMax: 440}},
		{TeamID: 1, Box: models.BoundingBox{XMin: 90, YMin: 90, XMax: 130, YMax: 130}},
	}
	assert.Equal(t, 1, possessionTeam(dets, ball))
}

func TestStatisticsStage(t *testing.T) {
	sc := &StageContext{
		Detections: []models.Detection{
			{TeamID: 1, Box: models.BoundingBox{XMin: 10, YMin: 10, XMax: 30, YMax: 30}},
			{TeamID: 2, Box: models.BoundingBox{XMin: 400, YMin: 400, XMax: 420, YMax: 420}},
		},
		Ball: &models.BallDetection{Box: models.BoundingBox{XMin: 15, YMin: 15, XMax: 25, YMax: 25}},
	}
	sc.addConfidence(0.9)

	require.NoError(t, statisticsStage{}.Process(context.Background(), nil, sc))

	assert.Equal(t, 2, sc.Statistics.PlayersDetected)
	assert.True(t, sc.Statistics.BallVisible)
	assert.Equal(t, 1, sc.Statistics.PossessionTeamID)
	assert.InDelta(t, 0.9, sc.Statistics.AverageConfidence, 1e-9)
}

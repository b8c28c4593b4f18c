package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/pitchvision/pitchvision/internal/models"
	"github.com/pitchvision/pitchvision/internal/providers/inference"
)

// Stage is one unit of analysis work with its own failure domain. Stages run
// in declared order for a frame and write their contribution into the shared
// StageContext; they must not depend on frames beyond what the context
// explicitly carries.
type Stage interface {
	Kind() models.StageKind
	Process(ctx context.Context, frame *models.VideoFrame, sc *StageContext) error
}

// StageContext accumulates stage outputs for a single frame. PrevBall is the
// only cross-frame input and is handed in explicitly by the pipeline.
type StageContext struct {
	PrevBall *models.BallDetection

	Detections  []models.Detection
	Ball        *models.BallDetection
	Teams       models.TeamClassification
	Events      []models.EventDetection
	Formation   models.FormationAnalysis
	Statistics  models.FrameStatistics
	confidences []float64
}

func (sc *StageContext) addConfidence(c float64) {
	if c > 0 {
		sc.confidences = append(sc.confidences, c)
	}
}

// Confidence is the mean of all reporting stages' confidences.
func (sc *StageContext) Confidence() float64 {
	if len(sc.confidences) == 0 {
		return 0
	}
	var sum float64
	for _, c := range sc.confidences {
		sum += c
	}
	return sum / float64(len(sc.confidences))
}

// DefaultStages builds the declared stage order: preprocessing, player
// detection, ball tracking, team classification, event detection, formation
// analysis, metrics calculation.
func DefaultStages(p inference.Provider) []Stage {
	return []Stage{
		preprocessStage{},
		playerDetectionStage{p},
		ballTrackingStage{p},
		teamClassificationStage{p},
		eventDetectionStage{p},
		formationStage{},
		statisticsStage{},
	}
}

type preprocessStage struct{}

func (preprocessStage) Kind() models.StageKind { return models.StagePreprocessing }

func (preprocessStage) Process(_ context.Context, frame *models.VideoFrame, _ *StageContext) error {
	if frame.Width <= 0 || frame.Height <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", frame.Width, frame.Height)
	}
	if len(frame.Pixels) == 0 {
		return errors.New("empty pixel data")
	}
	return nil
}

type playerDetectionStage struct {
	provider inference.Provider
}

func (playerDetectionStage) Kind() models.StageKind { return models.StagePlayerDetection }

func (s playerDetectionStage) Process(ctx context.Context, frame *models.VideoFrame, sc *StageContext) error {
	res, err := s.provider.Score(ctx, frame, models.StagePlayerDetection)
	if err != nil {
		return err
	}
	sc.Detections = res.Detections
	sc.addConfidence(res.Confidence)
	return nil
}

type ballTrackingStage struct {
	provider inference.Provider
}

func (ballTrackingStage) Kind() models.StageKind { return models.StageBallTracking }

func (s ballTrackingStage) Process(ctx context.Context, frame *models.VideoFrame, sc *StageContext) error {
	res, err := s.provider.Score(ctx, frame, models.StageBallTracking)
	if err != nil {
		return err
	}
	sc.addConfidence(res.Confidence)

	var best *models.Detection
	for i := range res.Detections {
		d := &res.Detections[i]
		if d.Label != "ball" {
			continue
		}
		if best == nil || d.Confidence > best.Confidence {
			best = d
		}
	}
	if best == nil {
		return nil // no ball in view is a valid outcome
	}

	ball := &models.BallDetection{Confidence: best.Confidence, Box: best.Box}
	if sc.PrevBall != nil {
		dx := ball.Box.CenterX() - sc.PrevBall.Box.CenterX()
		dy := ball.Box.CenterY() - sc.PrevBall.Box.CenterY()
		ball.VelocityPx = math.Hypot(dx, dy)
	}
	sc.Ball = ball
	return nil
}

type teamClassificationStage struct {
	provider inference.Provider
}

func (teamClassificationStage) Kind() models.StageKind { return models.StageTeamClassification }

func (s teamClassificationStage) Process(ctx context.Context, frame *models.VideoFrame, sc *StageContext) error {
	res, err := s.provider.Score(ctx, frame, models.StageTeamClassification)
	if err != nil {
		return err
	}
	sc.addConfidence(res.Confidence)

	teamByTrack := make(map[int]int, len(res.Detections))
	for _, d := range res.Detections {
		if d.TrackID != 0 && d.TeamID != 0 {
			teamByTrack[d.TrackID] = d.TeamID
		}
	}

	var tc models.TeamClassification
	tc.Confidence = res.Confidence
	for i := range sc.Detections {
		d := &sc.Detections[i]
		team, ok := teamByTrack[d.TrackID]
		if !ok {
			tc.Unclassified++
			continue
		}
		d.TeamID = team
		switch team {
		case 1:
			tc.HomeCount++
		case 2:
			tc.AwayCount++
		default:
			tc.Unclassified++
		}
	}
	sc.Teams = tc
	return nil
}

type eventDetectionStage struct {
	provider inference.Provider
}

func (eventDetectionStage) Kind() models.StageKind { return models.StageEventDetection }

func (s eventDetectionStage) Process(ctx context.Context, frame *models.VideoFrame, sc *StageContext) error {
	res, err := s.provider.Score(ctx, frame, models.StageEventDetection)
	if err != nil {
		return err
	}
	sc.addConfidence(res.Confidence)

	for _, d := range res.Detections {
		ev := models.EventDetection{Type: d.Label, Confidence: d.Confidence}
		if d.TrackID != 0 {
			ev.PlayerTrackIDs = []int{d.TrackID}
		}
		sc.Events = append(sc.Events, ev)
	}
	return nil
}

// formationStage derives shape geometrically from classified player
// positions; no model call involved.
type formationStage struct{}

func (formationStage) Kind() models.StageKind { return models.StageFormationAnalysis }

func (formationStage) Process(_ context.Context, frame *models.VideoFrame, sc *StageContext) error {
	home := positionsForTeam(sc.Detections, 1)
	away := positionsForTeam(sc.Detections, 2)

	sc.Formation = models.FormationAnalysis{
		HomeFormation: formationLabel(home, frame.Height),
		AwayFormation: formationLabel(away, frame.Height),
		Compactness:   compactness(append(home, away...)),
	}
	if len(home)+len(away) > 0 {
		sc.Formation.Confidence = sc.Teams.Confidence
	}
	return nil
}

type point struct{ x, y float64 }

func positionsForTeam(dets []models.Detection, teamID int) []point {
	var out []point
	for _, d := range dets {
		if d.TeamID == teamID {
			out = append(out, point{d.Box.CenterX(), d.Box.CenterY()})
		}
	}
	return out
}

// formationLabel buckets players into thirds of the frame height and renders
// the familiar defender-midfielder-forward count string.
func formationLabel(pts []point, frameHeight int) string {
	if len(pts) == 0 || frameHeight <= 0 {
		return ""
	}
	third := float64(frameHeight) / 3
	var def, mid, fwd int
	for _, p := range pts {
		switch {
		case p.y < third:
			fwd++
		case p.y < 2*third:
			mid++
		default:
			def++
		}
	}
	return fmt.Sprintf("%d-%d-%d", def, mid, fwd)
}

// compactness is the mean distance of players from their centroid, normalized
// into (0,1] where smaller spreads score higher.
func compactness(pts []point) float64 {
	if len(pts) < 2 {
		return 0
	}
	var cx, cy float64
	for _, p := range pts {
		cx += p.x
		cy += p.y
	}
	cx /= float64(len(pts))
	cy /= float64(len(pts))

	var total float64
	for _, p := range pts {
		total += math.Hypot(p.x-cx, p.y-cy)
	}
	mean := total / float64(len(pts))
	return 1 / (1 + mean/100)
}

type statisticsStage struct{}

func (statisticsStage) Kind() models.StageKind { return models.StageMetricsCalculation }

func (statisticsStage) Process(_ context.Context, _ *models.VideoFrame, sc *StageContext) error {
	st := models.FrameStatistics{
		PlayersDetected:   len(sc.Detections),
		BallVisible:       sc.Ball != nil,
		AverageConfidence: sc.Confidence(),
	}

	if sc.Ball != nil && len(sc.Detections) > 0 {
		st.PossessionTeamID = possessionTeam(sc.Detections, sc.Ball)
	}
	sc.Statistics = st
	return nil
}

// possessionTeam is the team of the player closest to the ball, if that
// player is classified.
func possessionTeam(dets []models.Detection, ball *models.BallDetection) int {
	type cand struct {
		dist float64
		team int
	}
	cands := make([]cand, 0, len(dets))
	for _, d := range dets {
		cands = append(cands, cand{
			dist: math.Hypot(d.Box.CenterX()-ball.Box.CenterX(), d.Box.CenterY()-ball.Box.CenterY()),
			team: d.TeamID,
		})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].dist < cands[j].dist })
	return cands[0].team
}

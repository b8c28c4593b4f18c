package inference

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync/atomic"
	"time"

	aiplatform "cloud.google.com/go/aiplatform/apiv1"
	aiplatformpb "cloud.google.com/go/aiplatform/apiv1/aiplatformpb"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pitchvision/pitchvision/internal/models"
)

// VertexEndpoint scores frames against a deployed Vertex AI endpoint serving
// the vision models. One endpoint serves all stages; the stage kind is passed
// as an instance field so the server routes to the right head.
type VertexEndpoint struct {
	client   *aiplatform.PredictionClient
	endpoint string

	modelVersions    []string
	memoryHeadroomMB int64
	activeRequests   atomic.Int64
}

func NewVertexEndpoint(ctx context.Context, projectID, location, endpointID string, memoryHeadroomMB int64) (*VertexEndpoint, error) {
	apiEndpoint := fmt.Sprintf("%s-aiplatform.googleapis.com:443", location)
	c, err := aiplatform.NewPredictionClient(ctx, option.WithEndpoint(apiEndpoint))
	if err != nil {
		return nil, err
	}

	return &VertexEndpoint{
		client:           c,
		endpoint:         fmt.Sprintf("projects/%s/locations/%s/endpoints/%s", projectID, location, endpointID),
		modelVersions:    []string{endpointID},
		memoryHeadroomMB: memoryHeadroomMB,
	}, nil
}

func (v *VertexEndpoint) Close() error { return v.client.Close() }

func (v *VertexEndpoint) Score(ctx context.Context, frame *models.VideoFrame, stage models.StageKind) (*models.StageResult, error) {
	v.activeRequests.Add(1)
	defer v.activeRequests.Add(-1)

	inst, err := structpb.NewValue(map[string]any{
		"stage":        string(stage),
		"frame_number": frame.FrameNumber,
		"width":        frame.Width,
		"height":       frame.Height,
		"pixels":       base64.StdEncoding.EncodeToString(frame.Pixels),
	})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := v.client.Predict(ctx, &aiplatformpb.PredictRequest{
		Endpoint:  v.endpoint,
		Instances: []*structpb.Value{inst},
	})
	if err != nil {
		return nil, err
	}

	out := &models.StageResult{LatencyMs: time.Since(start).Milliseconds()}
	for _, pred := range resp.GetPredictions() {
		s := pred.GetStructValue()
		if s == nil {
			continue
		}
		fields := s.GetFields()
		if c, ok := fields["confidence"]; ok {
			out.Confidence = c.GetNumberValue()
		}
		dets, ok := fields["detections"]
		if !ok {
			continue
		}
		for _, d := range dets.GetListValue().GetValues() {
			out.Detections = append(out.Detections, decodeDetection(d.GetStructValue()))
		}
	}
	return out, nil
}

func decodeDetection(s *structpb.Struct) models.Detection {
	if s == nil {
		return models.Detection{}
	}
	f := s.GetFields()
	box := f["box"].GetStructValue().GetFields()
	return models.Detection{
		TrackID:    int(f["track_id"].GetNumberValue()),
		Label:      f["label"].GetStringValue(),
		Confidence: f["confidence"].GetNumberValue(),
		TeamID:     int(f["team_id"].GetNumberValue()),
		Box: models.BoundingBox{
			XMin: int(box["x_min"].GetNumberValue()),
			YMin: int(box["y_min"].GetNumberValue()),
			XMax: int(box["x_max"].GetNumberValue()),
			YMax: int(box["y_max"].GetNumberValue()),
		},
	}
}

func (v *VertexEndpoint) Health(ctx context.Context) models.InferenceHealth {
	return models.InferenceHealth{
		Initialized:      v.client != nil,
		MemoryHeadroomMB: v.memoryHeadroomMB,
		ModelVersions:    v.modelVersions,
		ActiveRequests:   v.activeRequests.Load(),
	}
}

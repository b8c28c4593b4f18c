package inference

import (
	"context"

	"github.com/pitchvision/pitchvision/internal/models"
)

// Provider is the stateless scoring boundary. Score must honor the caller's
// context deadline; a scoring call that outlives its deadline is treated by
// the pipeline as a stage failure, never as a stream failure. The provider
// owns batching, queuing and accelerator memory internally; callers never
// assume exclusive access.
type Provider interface {
	Score(ctx context.Context, frame *models.VideoFrame, stage models.StageKind) (*models.StageResult, error)

	// Health reports the capacity signal used for admission control.
	Health(ctx context.Context) models.InferenceHealth

	Close() error
}

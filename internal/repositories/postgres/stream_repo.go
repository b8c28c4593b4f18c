package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/pitchvision/pitchvision/internal/models"
)

// StreamRepository persists the stream catalog: one row per stream recording
// its lifecycle and final totals.
type StreamRepository interface {
	Create(ctx context.Context, rec *models.StreamRecord) error
	MarkStopped(ctx context.Context, streamID string, stoppedAt time.Time, totalFrames, durationMs int64) error
	Get(ctx context.Context, streamID string) (*models.StreamRecord, error)
	ListRecent(ctx context.Context, limit int) ([]models.StreamRecord, error)
}

type streamRepo struct {
	db *gorm.DB
}

func NewStreamRepo(db *gorm.DB) StreamRepository {
	return &streamRepo{db: db}
}

func (r *streamRepo) Create(ctx context.Context, rec *models.StreamRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *streamRepo) MarkStopped(ctx context.Context, streamID string, stoppedAt time.Time, totalFrames, durationMs int64) error {
	return r.db.WithContext(ctx).
		Model(&models.StreamRecord{}).
		Where("stream_id = ?", streamID).
		Updates(map[string]any{
			"status":       string(models.StreamStopped),
			"stopped_at":   stoppedAt,
			"total_frames": totalFrames,
			"duration_ms":  durationMs,
		}).Error
}

func (r *streamRepo) Get(ctx context.Context, streamID string) (*models.StreamRecord, error) {
	var rec models.StreamRecord
	err := r.db.WithContext(ctx).
		Where("stream_id = ?", streamID).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *streamRepo) ListRecent(ctx context.Context, limit int) ([]models.StreamRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []models.StreamRecord
	err := r.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

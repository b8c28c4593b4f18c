package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/pitchvision/pitchvision/internal/models"
)

// ResultRepository is the storage boundary for recent analysis results.
// Documents carry a TTL (expires_at index) so the collection stays bounded;
// long-term result storage lives outside this subsystem.
type ResultRepository interface {
	Insert(ctx context.Context, res *models.AnalysisResult) error
	ListByStream(ctx context.Context, streamID string, limit int64) ([]models.AnalysisResult, error)
}

type resultRepo struct {
	col *mongo.Collection
	ttl time.Duration
}

func NewResultRepo(db *mongo.Database, ttl time.Duration) ResultRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &resultRepo{col: db.Collection("analysis_results"), ttl: ttl}
}

func (r *resultRepo) Insert(ctx context.Context, res *models.AnalysisResult) error {
	if res.ExpiresAt.IsZero() {
		res.ExpiresAt = time.Now().UTC().Add(r.ttl)
	}
	_, err := r.col.InsertOne(ctx, res)
	return err
}

func (r *resultRepo) ListByStream(ctx context.Context, streamID string, limit int64) ([]models.AnalysisResult, error) {
	if limit <= 0 {
		limit = 200
	}

	cur, err := r.col.Find(ctx,
		bson.M{"stream_id": streamID},
		options.Find().
			SetSort(bson.D{{Key: "frame_number", Value: -1}}).
			SetLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.AnalysisResult
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

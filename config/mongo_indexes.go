package config

import (
	"context"
	"errors"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func EnsureMongoIndexes() error {
	if MongoClient == nil {
		return errors.New("MongoClient is nil; call InitMongo() first")
	}

	dbName := os.Getenv("MONGO_DB")
	if dbName == "" {
		dbName = "pitchvision"
	}
	db := MongoClient.Database(dbName)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// analysis_results indexes
	results := db.Collection("analysis_results")
	_, err := results.Indexes().CreateMany(ctx, []mongo.IndexModel{
		// 1) TTL index: expire at ExpiresAt (must be Date)
		{
			Keys: bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().
				SetName("ttl_expires_at").
				SetExpireAfterSeconds(0),
		},
		// 2) One result per frame per stream
		{
			Keys: bson.D{{Key: "stream_id", Value: 1}, {Key: "frame_number", Value: 1}},
			Options: options.Index().
				SetName("uniq_stream_frame").
				SetUnique(true),
		},
		// 3) Query helper
		{
			Keys:    bson.D{{Key: "stream_id", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("by_stream_ts"),
		},
	})
	return err
}

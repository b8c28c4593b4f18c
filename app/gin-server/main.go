package main

import (
	"context"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/pitchvision/pitchvision/config"
	"github.com/pitchvision/pitchvision/internal/api/handlers"
	"github.com/pitchvision/pitchvision/internal/api/middleware"
	"github.com/pitchvision/pitchvision/internal/api/routes"
	"github.com/pitchvision/pitchvision/internal/cache"
	"github.com/pitchvision/pitchvision/internal/events"
	"github.com/pitchvision/pitchvision/internal/logger"
	"github.com/pitchvision/pitchvision/internal/metric"
	"github.com/pitchvision/pitchvision/internal/peer"
	"github.com/pitchvision/pitchvision/internal/providers/inference"
	mongorepo "github.com/pitchvision/pitchvision/internal/repositories/mongo"
	pgrepo "github.com/pitchvision/pitchvision/internal/repositories/postgres"
	"github.com/pitchvision/pitchvision/internal/services"
	"github.com/pitchvision/pitchvision/internal/storage"
)

func main() {
	_ = godotenv.Load()

	log := logger.New()
	ctx := context.Background()
	cfg := config.Pipeline()

	// Init Redis (event bus + signaling relay)
	if err := config.InitRedis(); err != nil {
		log.WithError(err).Fatal("redis init failed")
	}
	log.Info("redis connected")

	// Init PostgreSQL (stream catalog)
	if err := config.InitPostgres(); err != nil {
		log.WithError(err).Fatal("postgres init failed")
	}
	log.Info("postgres connected")

	// Init MongoDB (analysis result sink)
	if err := config.InitMongo(); err != nil {
		log.WithError(err).Fatal("mongo init failed")
	}
	if err := config.EnsureMongoIndexes(); err != nil {
		log.WithError(err).Fatal("mongo index setup failed")
	}
	log.Info("mongo connected")

	mongoDBName := os.Getenv("MONGO_DB")
	if mongoDBName == "" {
		mongoDBName = "pitchvision"
	}

	// Inference provider
	var provider inference.Provider
	switch os.Getenv("INFERENCE_PROVIDER") {
	case "stub", "":
		provider = inference.NewStub()
		log.Info("using stub inference provider")
	case "vertex":
		p, err := inference.NewVertexEndpoint(ctx,
			os.Getenv("GCP_PROJECT"),
			os.Getenv("GCP_LOCATION"),
			os.Getenv("VERTEX_ENDPOINT_ID"),
			cfg.MinHeadroomMB*4,
		)
		if err != nil {
			log.WithError(err).Fatal("vertex endpoint init failed")
		}
		defer p.Close()
		provider = p
		log.Info("using vertex inference provider")
	default:
		log.Fatal("unknown INFERENCE_PROVIDER")
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metric.NewMetrics()
	if err := m.Register(registry); err != nil {
		log.WithError(err).Fatal("metrics registration failed")
	}

	// Wiring
	relay := peer.NewRedisRelay(config.RedisClient)
	peers := peer.NewManager(relay, log, cfg.NegotiationTimeout)
	publisher := events.NewRedisPublisher(config.RedisClient)

	resultRepo := mongorepo.NewResultRepo(config.MongoClient.Database(mongoDBName), cfg.ResultTTL)

	orch := services.NewOrchestrator(peers, provider, publisher, log, services.OrchestratorConfig{
		BufferCapacity:       cfg.BufferCapacity,
		StageTimeout:         cfg.StageTimeout,
		MinHeadroomMB:        cfg.MinHeadroomMB,
		ArchiveMinConfidence: cfg.ArchiveMinConfidence,
	}).
		WithMetrics(m).
		WithCache(cache.NewRedisCache(config.RedisClient)).
		WithCatalog(pgrepo.NewStreamRepo(config.PostgresDB)).
		WithSink(resultRepo).
		WithResults(resultRepo)

	if cfg.SnapshotBucket != "" {
		up, err := storage.NewGCSUploader(ctx, cfg.SnapshotBucket)
		if err != nil {
			log.WithError(err).Fatal("snapshot uploader init failed")
		}
		defer up.Close()
		orch.WithArchiver(up)
	}

	// HTTP
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(log))

	routes.RegisterRoutes(r, routes.Deps{
		Stream:   handlers.NewStreamHandler(orch),
		WS:       handlers.NewWSHandler(orch, config.RedisClient),
		Registry: registry,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if err := r.Run(":" + port); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}

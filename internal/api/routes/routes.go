package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pitchvision/pitchvision/internal/api/handlers"
	"github.com/pitchvision/pitchvision/internal/api/middleware"
)

type Deps struct {
	Stream   *handlers.StreamHandler
	WS       *handlers.WSHandler
	Registry *prometheus.Registry
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Health-ish
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})
	r.GET("/healthz", d.Stream.Health)

	if d.Registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{})))
	}

	// Protected routes (JWT)
	auth := r.Group("/")
	auth.Use(middleware.JWTAuth())

	op := auth.Group("/")
	op.Use(middleware.RequireOperator())
	op.POST("/stream/start", d.Stream.Start)
	op.POST("/stream/:stream_id/stop", d.Stream.Stop)
	op.POST("/session/:session_id/signal", d.Stream.Signal)

	auth.GET("/streams", d.Stream.List)
	auth.GET("/stream/:stream_id/metrics", d.Stream.Metrics)
	auth.GET("/stream/:stream_id/results", d.Stream.Results)

	// WebSocket
	auth.GET("/ws/signal/:session_id", d.WS.SignalWS)
	auth.GET("/ws/stream/:stream_id/events", d.WS.EventsWS)
}

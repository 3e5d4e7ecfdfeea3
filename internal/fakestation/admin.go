package fakestation

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danmuck/satlink/internal/auth"
	"github.com/danmuck/satlink/internal/observability"
)

// AdminRouter exposes health, metrics, and stream state over HTTP. When
// AdminToken is set, everything except /healthz needs that bearer token.
func (s *Server) AdminRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	observability.RegisterMetrics()

	r := gin.New()
	r.Use(
		gin.Recovery(),
		observability.RequestID(),
		observability.RequestLogger(s.log),
		observability.RequestMetricsMiddleware("fakestation"),
	)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":       "ok",
			"uptime":       time.Since(s.started).String(),
			"component":    "fakestation",
			"active_conns": s.ActiveConns(),
		})
	})

	api := r.Group("/")
	if s.cfg.AdminToken != "" {
		api.Use(auth.Require(auth.StaticToken{Token: s.cfg.AdminToken}))
	}

	api.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"sessions": s.registry.Snapshot(),
			"reserved": s.plans.Reserved(),
		})
	})

	api.GET("/sessions/:stream", func(c *gin.Context) {
		info, ok := s.registry.Lookup(c.Param("stream"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
			return
		}
		c.JSON(http.StatusOK, info)
	})

	return r
}

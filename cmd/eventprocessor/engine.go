package main

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cloudops-platform/orgevents/internal/router"
	"github.com/cloudops-platform/orgevents/pkg/healthfeed"
	"github.com/cloudops-platform/orgevents/pkg/logger"
	"github.com/cloudops-platform/orgevents/pkg/metrics"
)

// newEngine builds the gin router exposing the probe endpoints, the
// Prometheus metrics endpoint, and a manual trigger endpoint that
// feeds a raw trigger payload straight into the router, mirroring how
// a Lambda invocation or an EventBridge rule would deliver one.
func newEngine(r *router.Router, probes *probeManager, lookbackDays int, log *logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", probes.livenessHandler)
	engine.GET("/readyz", probes.readinessHandler)
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	engine.POST("/invoke", func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		now := time.Now().UTC()
		window := healthfeed.Window{Start: now.AddDate(0, 0, -lookbackDays), End: now}

		if err := r.Route(c.Request.Context(), json.RawMessage(body), window); err != nil {
			log.WithError(err).Error("trigger routing failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{"status": "processed"})
	})

	return engine
}

package main

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

// probeStatus mirrors the shape Kubernetes liveness/readiness probes
// expect back: a 200/503 status code plus a small JSON body for
// humans reading logs.
type probeStatus struct {
	Ready   bool   `json:"ready"`
	Live    bool   `json:"live"`
	Message string `json:"message,omitempty"`
}

// probeManager tracks the service's liveness/readiness. During the
// startup grace period an unready readiness probe reports "starting
// up" instead of "service not ready"; the status codes are the same.
type probeManager struct {
	ready        atomic.Bool
	live         atomic.Bool
	startTime    time.Time
	startupGrace time.Duration
}

func newProbeManager(startupGrace time.Duration) *probeManager {
	if startupGrace == 0 {
		startupGrace = 30 * time.Second
	}
	pm := &probeManager{startTime: time.Now(), startupGrace: startupGrace}
	pm.live.Store(true)
	return pm
}

func (p *probeManager) setReady(ready bool) { p.ready.Store(ready) }
func (p *probeManager) setLive(live bool)   { p.live.Store(live) }

func (p *probeManager) inStartupGrace() bool {
	return time.Since(p.startTime) < p.startupGrace
}

func (p *probeManager) livenessHandler(c *gin.Context) {
	status := probeStatus{Live: p.live.Load(), Ready: p.ready.Load()}
	if !status.Live {
		status.Message = "service not live"
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (p *probeManager) readinessHandler(c *gin.Context) {
	status := probeStatus{Live: p.live.Load(), Ready: p.ready.Load()}
	if !status.Ready {
		if p.inStartupGrace() {
			status.Message = "starting up"
		} else {
			status.Message = "service not ready"
		}
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}
	c.JSON(http.StatusOK, status)
}

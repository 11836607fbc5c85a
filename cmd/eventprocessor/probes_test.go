package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newTestContext(handler gin.HandlerFunc) (*httptest.ResponseRecorder, *gin.Context) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	handler(c)
	return rec, c
}

func TestLivenessHandlerReturns503WhenNotLive(t *testing.T) {
	pm := newProbeManager(time.Minute)
	pm.setLive(false)

	rec, _ := newTestContext(pm.livenessHandler)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestLivenessHandlerReturns200WhenLive(t *testing.T) {
	pm := newProbeManager(time.Minute)

	rec, _ := newTestContext(pm.livenessHandler)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestReadinessHandlerReturns503DuringStartupGrace(t *testing.T) {
	pm := newProbeManager(time.Minute)

	rec, _ := newTestContext(pm.readinessHandler)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 before setReady, got %d", rec.Code)
	}
}

func TestReadinessHandlerReturns200AfterReady(t *testing.T) {
	pm := newProbeManager(time.Minute)
	pm.setReady(true)

	rec, _ := newTestContext(pm.readinessHandler)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 after setReady, got %d", rec.Code)
	}
}

func TestInStartupGraceExpiresAfterDuration(t *testing.T) {
	pm := newProbeManager(1 * time.Nanosecond)
	time.Sleep(time.Millisecond)

	if pm.inStartupGrace() {
		t.Error("expected startup grace to have expired")
	}
}

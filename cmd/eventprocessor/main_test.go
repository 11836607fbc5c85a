package main

import (
	"testing"

	"github.com/cloudops-platform/orgevents/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.NewDefault("eventprocessor-test")
}

func TestWorkerIdentityIsNeverEmpty(t *testing.T) {
	if id := workerIdentity(); id == "" {
		t.Error("expected a non-empty worker identity")
	}
}

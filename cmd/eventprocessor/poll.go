package main

import (
	"context"
	"time"

	"github.com/cloudops-platform/orgevents/pkg/logger"
	"github.com/cloudops-platform/orgevents/pkg/queue"
)

// queueWorker is the subset of the work-unit worker the poll loop
// needs: run a WorkUnit the loop has already decoded and report
// success.
type queueWorker interface {
	ProcessUnit(ctx context.Context, unit queue.WorkUnit) error
}

// receiver is the subset of the queue wrapper the poll loop needs.
type receiver interface {
	Receive(ctx context.Context, maxMessages, waitSeconds int32) ([]queue.Message, error)
	Delete(ctx context.Context, messages []queue.Message) error
}

const (
	pollBatchSize  = 10
	pollWaitSeconds = 20
	pollIdleBackoff = 2 * time.Second
)

// pollQueue long-polls the work queue and runs each delivered unit
// through the worker, deleting only the messages that succeeded so a
// failed unit is redelivered after its visibility timeout instead of
// silently dropped.
func pollQueue(ctx context.Context, q receiver, w queueWorker, log *logger.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messages, err := q.Receive(ctx, pollBatchSize, pollWaitSeconds)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("queue receive failed")
			time.Sleep(pollIdleBackoff)
			continue
		}

		if len(messages) == 0 {
			continue
		}

		var succeeded []queue.Message
		for _, msg := range messages {
			unit, err := queue.DecodeWorkUnit(msg.Body)
			if err != nil {
				log.WithError(err).Warn("dropping undecodable work unit message")
				succeeded = append(succeeded, msg)
				continue
			}
			if err := w.ProcessUnit(ctx, unit); err != nil {
				log.WithError(err).Warn("work unit processing failed, leaving for redelivery")
				continue
			}
			succeeded = append(succeeded, msg)
		}

		if len(succeeded) > 0 {
			if err := q.Delete(ctx, succeeded); err != nil {
				log.WithError(err).Warn("failed to delete processed messages")
			}
		}
	}
}

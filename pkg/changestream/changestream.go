// Package changestream is the C9 Change-stream Reactor: it consumes
// create/modify/remove notifications from the record store and drives
// the counter materializer's incremental path, distinguishing a
// TTL-driven expiry from an ordinary user deletion.
package changestream

import (
	"context"

	"github.com/cloudops-platform/orgevents/pkg/domain"
	"github.com/cloudops-platform/orgevents/pkg/logger"
	"github.com/cloudops-platform/orgevents/pkg/metrics"
)

// ttlServiceIdentity is the userIdentity value DynamoDB Streams
// attaches to a REMOVE caused by TTL expiry, as opposed to an
// explicit user-issued delete.
const ttlServiceIdentity = "ttl-service"

// EventName is a DynamoDB Streams record type.
type EventName string

const (
	EventInsert EventName = "INSERT"
	EventModify EventName = "MODIFY"
	EventRemove EventName = "REMOVE"
)

// StreamRecord is one normalized change-stream notification.
type StreamRecord struct {
	EventName    EventName
	OldImage     *domain.Event
	NewImage     *domain.Event
	UserIdentity string
}

// IsTTLExpiry reports whether this REMOVE was caused by the TTL
// service rather than an explicit user/application delete.
func (r StreamRecord) IsTTLExpiry() bool {
	return r.EventName == EventRemove && r.UserIdentity == ttlServiceIdentity
}

// RecordFetcher looks up every record under a dirty ARN, used to feed
// the counter materializer's incremental recomputation.
type RecordFetcher interface {
	ListByARN(ctx context.Context, eventARN string) ([]domain.Event, error)
}

// DeltaMaterializer is the subset of the counter materializer the
// reactor drives.
type DeltaMaterializer interface {
	ApplyDelta(ctx context.Context, dirtyARN string, records []domain.Event) error
	DecrementOnTTLExpiry(ctx context.Context, accountID string, category domain.Category) error
}

// Reactor is the C9 Change-stream Reactor.
type Reactor struct {
	materializer DeltaMaterializer
	fetcher      RecordFetcher
	log          *logger.Logger
}

// New builds a Reactor.
func New(materializer DeltaMaterializer, fetcher RecordFetcher, log *logger.Logger) *Reactor {
	if log == nil {
		log = logger.NewDefault("changestream")
	}
	return &Reactor{
		materializer: materializer,
		fetcher:      fetcher,
		log:          log,
	}
}

// Summary reports the outcome of processing a batch of stream records.
type Summary struct {
	Processed    int
	CountUpdates int
	ARNsUpdated  []string
}

// ProcessBatch recomputes dirty ARNs through ApplyDelta, which derives
// counter values from the record store's current state, so replaying
// INSERT/MODIFY records yields the same values. A TTL REMOVE goes
// through DecrementOnTTLExpiry, which subtracts 1 from the stored
// counter: a replayed TTL REMOVE decrements again (never below zero).
func (r *Reactor) ProcessBatch(ctx context.Context, records []StreamRecord) (Summary, error) {
	summary := Summary{}
	dirtyARNs := make(map[string]bool)

	for _, rec := range records {
		summary.Processed++
		metrics.RecordChangeStreamRecord(string(rec.EventName))

		switch rec.EventName {
		case EventInsert:
			if rec.NewImage != nil {
				dirtyARNs[rec.NewImage.EventARN] = true
			}
		case EventModify:
			if statusChanged(rec.OldImage, rec.NewImage) && rec.NewImage != nil {
				dirtyARNs[rec.NewImage.EventARN] = true
			}
		case EventRemove:
			if rec.IsTTLExpiry() && rec.OldImage != nil && domain.ActiveStatuses[rec.OldImage.Status] {
				if err := r.materializer.DecrementOnTTLExpiry(ctx, rec.OldImage.AccountID, rec.OldImage.Category); err != nil {
					return summary, err
				}
				summary.CountUpdates++
			}
		}
	}

	for arn := range dirtyARNs {
		arnRecords, err := r.fetcher.ListByARN(ctx, arn)
		if err != nil {
			return summary, err
		}
		if err := r.materializer.ApplyDelta(ctx, arn, arnRecords); err != nil {
			return summary, err
		}
		summary.CountUpdates++
		summary.ARNsUpdated = append(summary.ARNsUpdated, arn)
	}

	return summary, nil
}

func statusChanged(old, newEvt *domain.Event) bool {
	if old == nil || newEvt == nil {
		return true
	}
	return old.Status != newEvt.Status
}

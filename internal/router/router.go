// Package router is the C10 Scheduler & Routing entry point: it
// classifies an incoming trigger by payload shape and dispatches to
// the matching pipeline stage, and drives the cron-scheduled timer
// triggers between runs.
package router

import (
	"context"
	"encoding/json"
	"fmt"

	infraerrors "github.com/cloudops-platform/orgevents/infrastructure/errors"
	"github.com/cloudops-platform/orgevents/pkg/changestream"
	"github.com/cloudops-platform/orgevents/pkg/dispatch"
	"github.com/cloudops-platform/orgevents/pkg/domain"
	"github.com/cloudops-platform/orgevents/pkg/healthfeed"
	"github.com/cloudops-platform/orgevents/pkg/logger"
	"github.com/cloudops-platform/orgevents/pkg/queue"
	"github.com/cloudops-platform/orgevents/pkg/worker"
)

// Kind is the classified trigger shape, per spec.md's trigger table.
type Kind string

const (
	KindQueueDelivery Kind = "queue-delivery"
	KindChangeStream  Kind = "change-stream"
	KindScheduledSync Kind = "scheduled-sync"
	KindRecompute     Kind = "recompute"
	KindSingleEvent   Kind = "single-event"
	KindUnrecognized  Kind = "unrecognized"
)

// recordEnvelope is one element of a trigger's Records list; its
// Source field discriminates queue delivery from change-stream
// delivery.
type recordEnvelope struct {
	Source       string                     `json:"source"`
	WorkUnit     *queue.WorkUnit            `json:"workUnit,omitempty"`
	StreamRecord *changestream.StreamRecord `json:"streamRecord,omitempty"`
}

// Trigger is the union of all five trigger payload shapes the
// processor accepts, discriminated by which fields are present.
type Trigger struct {
	Records      []recordEnvelope `json:"Records,omitempty"`
	Mode         string           `json:"mode,omitempty"`
	LookbackDays *int             `json:"lookback_days,omitempty"`
	EventARN     string           `json:"event_arn,omitempty"`
}

// Classify determines which pipeline stage a trigger payload routes
// to, per spec.md §6's discrimination table.
func Classify(raw json.RawMessage) (Kind, Trigger, error) {
	var t Trigger
	if err := json.Unmarshal(raw, &t); err != nil {
		return KindUnrecognized, t, fmt.Errorf("decode trigger: %w", err)
	}

	for _, rec := range t.Records {
		switch rec.Source {
		case "queue":
			return KindQueueDelivery, t, nil
		case "change-stream":
			return KindChangeStream, t, nil
		}
	}

	switch t.Mode {
	case "scheduled_sync":
		return KindScheduledSync, t, nil
	case "recalculate_counts":
		return KindRecompute, t, nil
	}

	if t.EventARN != "" {
		return KindSingleEvent, t, nil
	}

	return KindUnrecognized, t, nil
}

// EventFetcher is the subset of C1 the scheduled-sync and single-event
// paths call, including the organization-view preflight the scheduled
// sync must pass before it runs.
type EventFetcher interface {
	ListEvents(ctx context.Context, window healthfeed.Window, categories []string) ([]domain.Event, error)
	ListAffectedAccounts(ctx context.Context, eventARN string, cap int) ([]string, error)
	IsOrgViewEnabled(ctx context.Context) (bool, error)
}

// Dispatcher is the subset of C4 the scheduled-sync path calls.
type Dispatcher interface {
	Dispatch(ctx context.Context, events []domain.Event) (dispatch.Result, error)
}

// UnitWorker is the subset of C5 the queue-delivery and single-event
// paths call.
type UnitWorker interface {
	Process(ctx context.Context, unit queue.WorkUnit) (worker.BatchResult, error)
}

// StreamReactor is the subset of C9 the change-stream path calls.
type StreamReactor interface {
	ProcessBatch(ctx context.Context, records []changestream.StreamRecord) (changestream.Summary, error)
}

// Recomputer is the subset of C8 the recompute path calls.
type Recomputer interface {
	Recompute(ctx context.Context) error
}

// Router wires a classified trigger to its pipeline stage.
type Router struct {
	feed       EventFetcher
	dispatcher Dispatcher
	worker     UnitWorker
	reactor    StreamReactor
	counters   Recomputer
	categories []string
	log        *logger.Logger
}

// New builds a Router.
func New(feed EventFetcher, dispatcher Dispatcher, w UnitWorker, reactor StreamReactor, counters Recomputer, categories []string, log *logger.Logger) *Router {
	if log == nil {
		log = logger.NewDefault("router")
	}
	return &Router{feed: feed, dispatcher: dispatcher, worker: w, reactor: reactor, counters: counters, categories: categories, log: log}
}

// Route classifies raw and runs the matching pipeline stage.
func (r *Router) Route(ctx context.Context, raw json.RawMessage, window healthfeed.Window) error {
	kind, trigger, err := Classify(raw)
	if err != nil {
		return err
	}

	switch kind {
	case KindQueueDelivery:
		for _, rec := range trigger.Records {
			if rec.WorkUnit == nil {
				continue
			}
			if _, err := r.worker.Process(ctx, *rec.WorkUnit); err != nil {
				r.log.WithError(err).Warn("queue-delivery unit failed")
			}
		}
		return nil

	case KindChangeStream:
		var records []changestream.StreamRecord
		for _, rec := range trigger.Records {
			if rec.StreamRecord != nil {
				records = append(records, *rec.StreamRecord)
			}
		}
		_, err := r.reactor.ProcessBatch(ctx, records)
		return err

	case KindScheduledSync:
		enabled, err := r.feed.IsOrgViewEnabled(ctx)
		if err != nil {
			return err
		}
		if !enabled {
			r.log.Warn("organization view is not enabled, aborting scheduled sync with no partial writes")
			return infraerrors.UpstreamAuth(fmt.Errorf("organization view not enabled"))
		}

		events, err := r.feed.ListEvents(ctx, window, r.categories)
		if err != nil {
			return err
		}
		_, err = r.dispatcher.Dispatch(ctx, events)
		return err

	case KindRecompute:
		return r.counters.Recompute(ctx)

	case KindSingleEvent:
		accounts, err := r.feed.ListAffectedAccounts(ctx, trigger.EventARN, 0)
		if err != nil {
			return err
		}
		unit := queue.WorkUnit{Event: queue.EventHeader{EventARN: trigger.EventARN}, Accounts: accounts}
		_, err = r.worker.Process(ctx, unit)
		return err

	default:
		r.log.WithField("mode", trigger.Mode).Warn("unrecognized trigger payload")
		return nil
	}
}


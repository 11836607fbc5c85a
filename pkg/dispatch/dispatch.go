// Package dispatch is the C4 Fan-out Dispatcher: it turns a fetched
// event set into bounded work units, calling the analyzer once per
// unique event ARN and routing the result to the queue or straight to
// an inline processor depending on the expanded event×account count.
package dispatch

import (
	"context"
	"strings"

	"github.com/cloudops-platform/orgevents/pkg/analyzer"
	"github.com/cloudops-platform/orgevents/pkg/domain"
	"github.com/cloudops-platform/orgevents/pkg/logger"
	"github.com/cloudops-platform/orgevents/pkg/metrics"
	"github.com/cloudops-platform/orgevents/pkg/queue"
)

const (
	// batchSize is the maximum number of accounts in one work unit,
	// dictated by DescribeAffectedEntitiesForOrganization's 10-account
	// filter cap.
	batchSize = 10

	// inlineThreshold is the expanded events×accounts count above which
	// the dispatcher routes to the queue instead of processing inline.
	inlineThreshold = 10
)

// AccountLister resolves the accounts affected by an event.
type AccountLister interface {
	ListAffectedAccounts(ctx context.Context, eventARN string, cap int) ([]string, error)
}

// Analyzer is the subset of the LLM analyzer the dispatcher calls,
// once per unique event ARN.
type Analyzer interface {
	Analyze(ctx context.Context, event analyzer.EventInput) *domain.Analysis
}

// RecordGetter checks whether the store already holds a valid,
// non-fallback analysis for a given (arn, accountId) pair.
type RecordGetter interface {
	Get(ctx context.Context, eventARN, accountID string) (*domain.Event, error)
}

// UnitSender publishes a work unit to the durable queue.
type UnitSender interface {
	Send(ctx context.Context, unit queue.WorkUnit) error
}

// UnitProcessor runs a work unit synchronously, used for the
// small-run inline path instead of a queue round-trip.
type UnitProcessor interface {
	ProcessUnit(ctx context.Context, unit queue.WorkUnit) error
}

// Dispatcher is the C4 Fan-out Dispatcher.
type Dispatcher struct {
	accounts         AccountLister
	analyzer         Analyzer
	records          RecordGetter
	sender           UnitSender
	inline           UnitProcessor
	excludedServices map[string]bool
	log              *logger.Logger
}

// New builds a Dispatcher. excludedServices holds AWS service codes
// (e.g. "EC2", "RDS") filtered out at dispatch time, per the pipeline's
// excludedServices feed-scope knob; matching is case-insensitive.
func New(accounts AccountLister, an Analyzer, records RecordGetter, sender UnitSender, inline UnitProcessor, excludedServices []string, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewDefault("dispatch")
	}
	excluded := make(map[string]bool, len(excludedServices))
	for _, svc := range excludedServices {
		excluded[strings.ToUpper(strings.TrimSpace(svc))] = true
	}
	return &Dispatcher{accounts: accounts, analyzer: an, records: records, sender: sender, inline: inline, excludedServices: excluded, log: log}
}

// Result summarizes one Dispatch call.
type Result struct {
	EventsDispatched int
	UnitsEmitted     int
	BedrockCalls     int
}

// Dispatch runs the full C4 algorithm over a fetched event set.
func (d *Dispatcher) Dispatch(ctx context.Context, events []domain.Event) (Result, error) {
	result := Result{}

	type eventWork struct {
		event    domain.Event
		accounts []string
	}

	var work []eventWork
	totalExpanded := 0

	for _, event := range events {
		if d.excludedServices[strings.ToUpper(event.Service)] {
			continue
		}

		accountIDs, err := d.accounts.ListAffectedAccounts(ctx, event.EventARN, 0)
		if err != nil {
			d.log.WithError(err).WithField("eventArn", event.EventARN).Warn("failed to resolve affected accounts")
			continue
		}

		accountIDs = dropEmpty(accountIDs)
		if len(accountIDs) == 0 {
			continue
		}

		work = append(work, eventWork{event: event, accounts: accountIDs})
		totalExpanded += len(accountIDs)
	}

	route := "inline"
	if totalExpanded > inlineThreshold {
		route = "queue"
	}

	for _, w := range work {
		remaining := d.dropReusableAccounts(ctx, w.event.EventARN, w.accounts)

		var sharedAnalysis *domain.Analysis
		if len(remaining) == 0 {
			// Every account already has a valid, non-fallback analysis on
			// record: this is a status-refresh unit only, so it reuses the
			// stored analysis instead of re-invoking Bedrock.
			remaining = w.accounts
			sharedAnalysis = d.reuseStoredAnalysis(ctx, w.event.EventARN, w.accounts)
		} else if d.analyzer != nil {
			analyzerInput := analyzer.EventInput{
				EventARN:      w.event.EventARN,
				EventTypeCode: w.event.EventTypeCode,
				EventTypeCat:  w.event.EventTypeCat,
				Service:       w.event.Service,
				Region:        w.event.Region,
				Status:        w.event.Status,
				Description:   w.event.Description.Text(),
			}
			if w.event.StartTime != nil {
				analyzerInput.StartTime = *w.event.StartTime
			}
			sharedAnalysis = d.analyzer.Analyze(ctx, analyzerInput)
			result.BedrockCalls++
		}

		batches := partition(remaining, batchSize)
		metrics.RecordDispatchBatch(route, len(batches))

		for i, batch := range batches {
			unit := queue.WorkUnit{
				Event:        headerFor(w.event),
				Accounts:     batch,
				BatchNumber:  i + 1,
				TotalBatches: len(batches),
			}
			if sharedAnalysis != nil {
				text := sharedAnalysis.RawText
				unit.Analysis = &text
				unit.Categories = sharedAnalysis
			}

			var err error
			if route == "queue" {
				err = d.sender.Send(ctx, unit)
			} else if d.inline != nil {
				err = d.inline.ProcessUnit(ctx, unit)
			}
			if err != nil {
				d.log.WithError(err).WithField("eventArn", w.event.EventARN).Warn("failed to dispatch work unit")
				continue
			}
			result.UnitsEmitted++
		}
		result.EventsDispatched++
	}

	return result, nil
}

// dropReusableAccounts removes accounts that already have a valid,
// non-fallback analysis on record for this ARN, per the dispatcher's
// reuse rule. A status refresh may still be needed for those accounts,
// but they do not force a re-analysis.
func (d *Dispatcher) dropReusableAccounts(ctx context.Context, eventARN string, accountIDs []string) []string {
	if d.records == nil {
		return accountIDs
	}

	var remaining []string
	for _, accountID := range accountIDs {
		existing, err := d.records.Get(ctx, eventARN, accountID)
		if err != nil || existing == nil || existing.Analysis == nil {
			remaining = append(remaining, accountID)
			continue
		}
		if existing.Analysis.IsFallback || !isValidAnalysis(existing.Analysis) {
			remaining = append(remaining, accountID)
		}
	}
	return remaining
}

// reuseStoredAnalysis fetches the already-valid analysis recorded for
// one of accountIDs, so a status-refresh unit can carry it along
// without a fresh Bedrock call. Every account in accountIDs passed
// dropReusableAccounts, so any one of their stored analyses is
// representative of the shared, event-level analysis.
func (d *Dispatcher) reuseStoredAnalysis(ctx context.Context, eventARN string, accountIDs []string) *domain.Analysis {
	if d.records == nil {
		return nil
	}
	for _, accountID := range accountIDs {
		existing, err := d.records.Get(ctx, eventARN, accountID)
		if err != nil || existing == nil {
			continue
		}
		if existing.Analysis != nil {
			return existing.Analysis
		}
	}
	return nil
}

func isValidAnalysis(a *domain.Analysis) bool {
	return a.RiskLevel != "" && a.RiskCategory != "" && a.ImpactAnalysis != ""
}

func dropEmpty(ids []string) []string {
	var out []string
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

func partition(items []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	if len(out) == 0 {
		out = append(out, nil)
	}
	return out
}

func headerFor(e domain.Event) queue.EventHeader {
	h := queue.EventHeader{
		EventARN:       e.EventARN,
		EventTypeCode:  e.EventTypeCode,
		EventTypeCat:   e.EventTypeCat,
		Service:        e.Service,
		Region:         e.Region,
		LastUpdateTime: e.LastUpdateTime.Format("2006-01-02T15:04:05Z07:00"),
		StatusCode:     string(e.Status),
	}
	if e.StartTime != nil {
		h.StartTime = e.StartTime.Format("2006-01-02")
	}
	return h
}

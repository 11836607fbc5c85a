// Package worker is the C5 Work-unit Worker: it consumes one queue
// message, resolves per-account status and resources, composes one
// record per account, and writes the batch, reporting partial-batch
// failures back through the queue's contract.
package worker

import (
	"context"
	"strings"
	"time"

	multierror "github.com/hashicorp/go-multierror"

	"github.com/cloudops-platform/orgevents/pkg/accountdirectory"
	"github.com/cloudops-platform/orgevents/pkg/analyzer"
	"github.com/cloudops-platform/orgevents/pkg/domain"
	"github.com/cloudops-platform/orgevents/pkg/healthfeed"
	"github.com/cloudops-platform/orgevents/pkg/logger"
	"github.com/cloudops-platform/orgevents/pkg/metrics"
	"github.com/cloudops-platform/orgevents/pkg/queue"
)

// EntityDescriber is the subset of the health feed adapter the worker
// calls to resolve per-account affected resources and descriptions.
type EntityDescriber interface {
	DescribeAffectedEntitiesBatch(ctx context.Context, eventARN string, accountIDs []string) ([]healthfeed.Entity, error)
	DescribeEvent(ctx context.Context, eventARN, accountID string) (domain.Description, error)
}

// StatusResolver is the subset of C6 the worker calls.
type StatusResolver interface {
	ResolvePerAccountStatus(ctx context.Context, eventARN string, accounts []string, eventLevelStatus domain.Status) map[string]domain.Status
}

// Analyzer is the subset of C3 the worker calls for deferred analysis.
type Analyzer interface {
	Analyze(ctx context.Context, event analyzer.EventInput) *domain.Analysis
}

// AccountNamer resolves account display names.
type AccountNamer interface {
	ResolveBatch(ctx context.Context, accountIDs []string) map[string]accountdirectory.Account
}

// RecordWriter is the subset of C7 the worker writes through.
type RecordWriter interface {
	UpsertBatch(ctx context.Context, events []domain.Event) (failed []domain.Event, err error)
}

// Worker is the C5 Work-unit Worker.
type Worker struct {
	entities EntityDescriber
	status   StatusResolver
	analyzer Analyzer
	names    AccountNamer
	store    RecordWriter
	log      *logger.Logger
}

// New builds a Worker.
func New(entities EntityDescriber, status StatusResolver, an Analyzer, names AccountNamer, store RecordWriter, log *logger.Logger) *Worker {
	if log == nil {
		log = logger.NewDefault("worker")
	}
	return &Worker{entities: entities, status: status, analyzer: an, names: names, store: store, log: log}
}

// BatchResult is the queue's partial-batch-failure contract: accounts
// in FailedAccounts should be reported back by message identifier so
// the queue redelivers just that portion.
type BatchResult struct {
	Succeeded      []string
	FailedAccounts []string
}

// ProcessUnit handles one work unit end to end. It satisfies
// dispatch.UnitProcessor for the inline (small-run) routing path.
func (w *Worker) ProcessUnit(ctx context.Context, unit queue.WorkUnit) error {
	_, err := w.Process(ctx, unit)
	return err
}

// Process runs the full C5 algorithm and returns the partial-batch
// result.
func (w *Worker) Process(ctx context.Context, unit queue.WorkUnit) (BatchResult, error) {
	result := BatchResult{}

	if len(unit.Accounts) == 0 {
		return result, nil
	}

	analysisText, categories := w.resolveAnalysis(ctx, unit)

	eventLevelStatus := domain.Status(unit.Event.StatusCode)
	statuses := w.status.ResolvePerAccountStatus(ctx, unit.Event.EventARN, unit.Accounts, eventLevelStatus)

	entities, err := w.entities.DescribeAffectedEntitiesBatch(ctx, unit.Event.EventARN, unit.Accounts)
	if err != nil {
		w.log.WithError(err).WithField("eventArn", unit.Event.EventARN).Warn("affected-entities fetch failed for whole batch")
		metrics.RecordWorkerBatchResult(false)
		return BatchResult{FailedAccounts: unit.Accounts}, err
	}

	resourcesByAccount := make(map[string][]string)
	for _, e := range entities {
		if e.EntityValue == "" {
			continue
		}
		resourcesByAccount[e.AccountID] = append(resourcesByAccount[e.AccountID], e.EntityValue)
	}

	names := w.resolveNames(ctx, unit.Accounts)

	category := domain.MapEventTypeToCategory(unit.Event.Service, unit.Event.EventTypeCat)
	simplified := healthfeed.SimplifyDescription(unit.Event.Service, unit.Event.EventTypeCode)

	lastUpdateTime := parseTimestamp(unit.Event.LastUpdateTime)
	startTime := parseDate(unit.Event.StartTime)

	records := make([]domain.Event, 0, len(unit.Accounts))
	var failures *multierror.Error

	for _, accountID := range unit.Accounts {
		status, ok := statuses[accountID]
		if !ok {
			status = eventLevelStatus
		}

		rec := domain.Event{
			EventARN:              unit.Event.EventARN,
			AccountID:             accountID,
			AccountName:           names[accountID],
			Service:               unit.Event.Service,
			EventTypeCode:         unit.Event.EventTypeCode,
			EventTypeCat:          unit.Event.EventTypeCat,
			Region:                normalizeRegion(unit.Event.Region),
			StartTime:             startTime,
			LastUpdateTime:        lastUpdateTime,
			Category:              category,
			Status:                status,
			SimplifiedDescription: simplified,
			AffectedResources:     strings.Join(resourcesByAccount[accountID], ", "),
		}
		if categories != nil {
			analysisCopy := *categories
			analysisCopy.RawText = analysisText
			analysisCopy.Normalize()
			rec.Analysis = &analysisCopy
		}

		records = append(records, rec)
	}

	failed, err := w.store.UpsertBatch(ctx, records)
	if err != nil {
		for _, f := range failed {
			result.FailedAccounts = append(result.FailedAccounts, f.AccountID)
			failures = multierror.Append(failures, err)
		}
	}

	failedSet := make(map[string]bool, len(result.FailedAccounts))
	for _, a := range result.FailedAccounts {
		failedSet[a] = true
	}
	for _, accountID := range unit.Accounts {
		if !failedSet[accountID] {
			result.Succeeded = append(result.Succeeded, accountID)
		}
	}

	metrics.RecordWorkerBatchResult(failures.ErrorOrNil() == nil)
	return result, failures.ErrorOrNil()
}

// resolveAnalysis returns the work unit's shared analysis payload,
// running deferred analysis (using the first account's description)
// when the unit arrived without one.
func (w *Worker) resolveAnalysis(ctx context.Context, unit queue.WorkUnit) (string, *domain.Analysis) {
	if unit.Analysis != nil && *unit.Analysis != "" {
		return *unit.Analysis, unit.Categories
	}

	description := ""
	if len(unit.Accounts) > 0 {
		if desc, err := w.entities.DescribeEvent(ctx, unit.Event.EventARN, unit.Accounts[0]); err == nil {
			description = desc.Text()
		}
	}

	input := analyzer.EventInput{
		EventARN:      unit.Event.EventARN,
		Service:       unit.Event.Service,
		EventTypeCode: unit.Event.EventTypeCode,
		EventTypeCat:  unit.Event.EventTypeCat,
		Region:        unit.Event.Region,
		Status:        domain.Status(unit.Event.StatusCode),
		Description:   description,
	}
	analysis := w.analyzer.Analyze(ctx, input)
	if analysis == nil {
		return "", nil
	}
	return analysis.RawText, analysis
}

func (w *Worker) resolveNames(ctx context.Context, accountIDs []string) map[string]string {
	out := make(map[string]string, len(accountIDs))
	if w.names == nil {
		return out
	}
	for accountID, account := range w.names.ResolveBatch(ctx, accountIDs) {
		out[accountID] = account.Name
	}
	return out
}

func normalizeRegion(region string) string {
	if region == "" {
		return "global"
	}
	return region
}

func parseTimestamp(raw string) time.Time {
	if raw == "" {
		return time.Now().UTC()
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	return time.Now().UTC()
}

func parseDate(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return &t
	}
	return nil
}

// Package counters is the C8 Counter Materializer: it maintains the
// live per-account, per-category counters a dashboard reads, in two
// modes — an incremental update driven by change-stream notifications,
// and a full, authoritative recompute.
//
// Both modes implement the same rule: a counter's value is the number
// of distinct event ARNs in that category where at least one account
// on the ARN is not closed. Counting (arn, account) rows directly
// would double-count a multi-account event; counting an ARN once only
// if *no* account on it is closed would miss the asymmetric case where
// account A is still open while account B on the same ARN has closed —
// A must still count.
package counters

import (
	"context"
	"time"

	"github.com/cloudops-platform/orgevents/pkg/domain"
	"github.com/cloudops-platform/orgevents/pkg/logger"
	"github.com/cloudops-platform/orgevents/pkg/metrics"
)

// RecordScanner is the subset of the record store the materializer
// reads from for a full recompute.
type RecordScanner interface {
	Scan(ctx context.Context) ([]domain.Event, error)
	ListByAccount(ctx context.Context, accountID string) ([]domain.Event, error)
}

// CounterWriter is the subset of the counter table the materializer
// writes to.
type CounterWriter interface {
	PutCounter(ctx context.Context, counter domain.Counter) error
	GetCounter(ctx context.Context, accountID string) (*domain.Counter, error)
}

// Materializer is the C8 Counter Materializer.
type Materializer struct {
	store   RecordScanner
	writer  CounterWriter
	log     *logger.Logger
}

// New builds a Materializer.
func New(store RecordScanner, writer CounterWriter, log *logger.Logger) *Materializer {
	if log == nil {
		log = logger.NewDefault("counters")
	}
	return &Materializer{store: store, writer: writer, log: log}
}

// Recompute scans the entire record store, groups by eventArn, and
// overwrites every account's counters from scratch. This is the one
// authoritative algorithm: it is always correct because it has the
// full record set in hand, unlike the incremental path which only sees
// one dirty ARN at a time.
func (m *Materializer) Recompute(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.RecordCounterRecompute(time.Since(start)) }()

	events, err := m.store.Scan(ctx)
	if err != nil {
		return err
	}

	byARN := make(map[string][]domain.Event)
	for _, e := range events {
		byARN[e.EventARN] = append(byARN[e.EventARN], e)
	}

	// accountSets[accountID][category] = set of contributing ARNs
	accountSets := make(map[string]map[domain.Category]map[string]bool)

	for arn, records := range byARN {
		category, ok := categoryForARN(records)
		if !ok {
			continue
		}

		if allClosed(records) {
			continue
		}

		for _, r := range records {
			if accountSets[r.AccountID] == nil {
				accountSets[r.AccountID] = make(map[domain.Category]map[string]bool)
			}
			if accountSets[r.AccountID][category] == nil {
				accountSets[r.AccountID][category] = make(map[string]bool)
			}
			accountSets[r.AccountID][category][arn] = true
		}
	}

	now := time.Now().UTC()
	for accountID, byCategory := range accountSets {
		counter := domain.Counter{AccountID: accountID, UpdatedAt: now}
		for category, arns := range byCategory {
			if p := counter.ByCategory(category); p != nil {
				*p = int64(len(arns))
			}
		}
		if err := m.writer.PutCounter(ctx, counter); err != nil {
			return err
		}
		metrics.RecordDirtyARNProcessed()
	}

	return nil
}

// ApplyDelta recomputes counters for every account with a record under
// dirtyARN, applying the same set-cardinality rule to just that ARN's
// records rather than the whole table. Used by the change-stream
// reactor's incremental path.
func (m *Materializer) ApplyDelta(ctx context.Context, dirtyARN string, records []domain.Event) error {
	if len(records) == 0 {
		return nil
	}

	category, ok := categoryForARN(records)
	if !ok {
		return nil
	}

	accountIDs := make(map[string]bool, len(records))
	for _, r := range records {
		accountIDs[r.AccountID] = true
	}

	for accountID := range accountIDs {
		counter, err := m.writer.GetCounter(ctx, accountID)
		if err != nil {
			return err
		}
		if counter == nil {
			counter = &domain.Counter{AccountID: accountID}
		}

		p := counter.ByCategory(category)
		if p == nil {
			continue
		}

		accountRecords, err := m.store.ListByAccount(ctx, accountID)
		if err != nil {
			return err
		}
		*p = int64(countActiveARNsForCategory(accountRecords, category))
		counter.UpdatedAt = time.Now().UTC()
		if err := m.writer.PutCounter(ctx, *counter); err != nil {
			return err
		}
		metrics.RecordDirtyARNProcessed()
	}

	return nil
}

// DecrementOnTTLExpiry handles a TTL-driven REMOVE of a record whose
// previous status was active: it decrements the corresponding
// category counter for that account, guarded against going negative.
func (m *Materializer) DecrementOnTTLExpiry(ctx context.Context, accountID string, category domain.Category) error {
	counter, err := m.writer.GetCounter(ctx, accountID)
	if err != nil {
		return err
	}
	if counter == nil {
		return nil
	}

	p := counter.ByCategory(category)
	if p == nil || *p <= 0 {
		return nil
	}
	*p--
	counter.UpdatedAt = time.Now().UTC()
	return m.writer.PutCounter(ctx, *counter)
}

// Bootstrap ensures every account that has ever appeared in the record
// store has a counter row, initializing missing ones to zero before
// the first recompute or incremental update touches them.
func (m *Materializer) Bootstrap(ctx context.Context) error {
	events, err := m.store.Scan(ctx)
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	for _, e := range events {
		if seen[e.AccountID] {
			continue
		}
		seen[e.AccountID] = true

		existing, err := m.writer.GetCounter(ctx, e.AccountID)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}

		if err := m.writer.PutCounter(ctx, domain.Counter{AccountID: e.AccountID, UpdatedAt: time.Now().UTC()}); err != nil {
			return err
		}
	}

	return nil
}

func categoryForARN(records []domain.Event) (domain.Category, bool) {
	if len(records) == 0 {
		return "", false
	}
	return records[0].Category, true
}

func allClosed(records []domain.Event) bool {
	for _, r := range records {
		if r.Status != domain.StatusClosed {
			return false
		}
	}
	return true
}

func countActiveARNsForCategory(records []domain.Event, category domain.Category) int {
	byARN := make(map[string][]domain.Event)
	for _, r := range records {
		if r.Category != category {
			continue
		}
		byARN[r.EventARN] = append(byARN[r.EventARN], r)
	}

	count := 0
	for _, recs := range byARN {
		if !allClosed(recs) {
			count++
		}
	}
	return count
}

// Package statusresolver implements the C6 Per-account Status
// Resolver: "worst case wins" across every paginated affected entity
// for an event, with an event-level fallback for accounts that never
// appear in the entity stream.
package statusresolver

import (
	"context"

	"github.com/cloudops-platform/orgevents/pkg/domain"
	"github.com/cloudops-platform/orgevents/pkg/healthfeed"
	"github.com/cloudops-platform/orgevents/pkg/logger"
)

const batchSize = 10

// EntityFetcher is the subset of the health feed adapter the resolver
// calls for paginated affected entities.
type EntityFetcher interface {
	DescribeAffectedEntitiesBatch(ctx context.Context, eventARN string, accountIDs []string) ([]healthfeed.Entity, error)
}

// Resolver is the C6 Per-account Status Resolver.
type Resolver struct {
	feed EntityFetcher
	log  *logger.Logger
}

// New builds a Resolver.
func New(feed EntityFetcher, log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.NewDefault("statusresolver")
	}
	return &Resolver{feed: feed, log: log}
}

// ResolvePerAccountStatus computes each account's effective status for
// eventARN. If eventLevelStatus is already "closed" (the event is past
// its deadline), every account is short-circuited to closed without
// any entity lookups, since a closed event is no longer actionable
// regardless of per-resource state.
func (r *Resolver) ResolvePerAccountStatus(ctx context.Context, eventARN string, accounts []string, eventLevelStatus domain.Status) map[string]domain.Status {
	result := make(map[string]domain.Status, len(accounts))

	if eventLevelStatus == domain.StatusClosed {
		for _, acc := range accounts {
			result[acc] = domain.StatusClosed
		}
		return result
	}

	if len(accounts) == 0 {
		return result
	}

	for start := 0; start < len(accounts); start += batchSize {
		end := start + batchSize
		if end > len(accounts) {
			end = len(accounts)
		}
		batch := accounts[start:end]

		entities, err := r.feed.DescribeAffectedEntitiesBatch(ctx, eventARN, batch)
		if err != nil {
			r.log.WithField("eventArn", eventARN).WithError(err).Warn("affected entities fetch failed, using event-level status fallback")
			for _, acc := range batch {
				if _, ok := result[acc]; !ok {
					result[acc] = eventLevelStatus
				}
			}
			continue
		}

		applyWorstCaseWins(result, entities)

		for _, acc := range batch {
			if _, ok := result[acc]; !ok {
				result[acc] = eventLevelStatus
			}
		}
	}

	return result
}

// applyWorstCaseWins folds entity statuses into result: the first
// status seen for an account wins unless a later entity is "open" and
// the account currently reads "closed", in which case it's upgraded.
// "open" is always the worst case and, once set, is never downgraded.
func applyWorstCaseWins(result map[string]domain.Status, entities []healthfeed.Entity) {
	for _, e := range entities {
		if e.AccountID == "" {
			continue
		}
		status := domain.MapEntityStatusToStatus(e.StatusCode)

		cur, ok := result[e.AccountID]
		switch {
		case !ok:
			result[e.AccountID] = status
		case cur == domain.StatusClosed && status == domain.StatusOpen:
			result[e.AccountID] = domain.StatusOpen
		}
	}
}

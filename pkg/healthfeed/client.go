// Package healthfeed adapts the AWS Health organizational view API into
// the pipeline's normalized event shape: pagination, the two-pass
// closed/upcoming + open fetch, and the object|list|plain description
// normalizer all live here.
package healthfeed

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/health"
	"github.com/aws/aws-sdk-go-v2/service/health/types"
	"github.com/aws/smithy-go"

	infraerrors "github.com/cloudops-platform/orgevents/infrastructure/errors"
	"github.com/cloudops-platform/orgevents/pkg/domain"
	"github.com/cloudops-platform/orgevents/pkg/logger"
)

const (
	maxResultsPerPage  = 100
	entityBatchMax     = 10
	entityPageSafetyCap = 10
)

// HealthClient is the subset of the AWS Health API this adapter calls.
// Narrowed to an interface so tests can supply an in-memory fake
// instead of a live AWS client.
type HealthClient interface {
	DescribeEventsForOrganization(ctx context.Context, params *health.DescribeEventsForOrganizationInput, optFns ...func(*health.Options)) (*health.DescribeEventsForOrganizationOutput, error)
	DescribeAffectedAccountsForOrganization(ctx context.Context, params *health.DescribeAffectedAccountsForOrganizationInput, optFns ...func(*health.Options)) (*health.DescribeAffectedAccountsForOrganizationOutput, error)
	DescribeAffectedEntitiesForOrganization(ctx context.Context, params *health.DescribeAffectedEntitiesForOrganizationInput, optFns ...func(*health.Options)) (*health.DescribeAffectedEntitiesForOrganizationOutput, error)
	DescribeEventDetailsForOrganization(ctx context.Context, params *health.DescribeEventDetailsForOrganizationInput, optFns ...func(*health.Options)) (*health.DescribeEventDetailsForOrganizationOutput, error)
	DescribeEventDetails(ctx context.Context, params *health.DescribeEventDetailsInput, optFns ...func(*health.Options)) (*health.DescribeEventDetailsOutput, error)
}

// Adapter is the C1 Health Feed Adapter.
type Adapter struct {
	client HealthClient
	log    *logger.Logger
}

// New builds an Adapter over a live or fake HealthClient.
func New(client HealthClient, log *logger.Logger) *Adapter {
	if log == nil {
		log = logger.NewDefault("healthfeed")
	}
	return &Adapter{client: client, log: log}
}

// Window bounds a lookback query by lastUpdatedTime.
type Window struct {
	Start time.Time
	End   time.Time
}

// IsOrgViewEnabled probes whether the caller has AWS Organizations
// delegated-administrator access to the Health API, via a 1-result
// capped call. A SubscriptionRequiredException means org view is off;
// any other error is treated conservatively as "not enabled" as well,
// since the pipeline cannot safely proceed without it.
func (a *Adapter) IsOrgViewEnabled(ctx context.Context) (bool, error) {
	_, err := a.client.DescribeEventsForOrganization(ctx, &health.DescribeEventsForOrganizationInput{
		Filter:     &types.OrganizationEventFilter{},
		MaxResults: intPtr32(1),
	})
	if err == nil {
		return true, nil
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "SubscriptionRequiredException" {
		a.log.WithError(err).Warn("organization view is not enabled")
		return false, nil
	}

	a.log.WithError(err).Warn("organization view probe failed, assuming disabled")
	return false, nil
}

// ListEvents fetches events visible to the organization within window,
// restricted to categories (empty means all), merging the closed-or-
// upcoming pass and the open pass and deduplicating by ARN.
func (a *Adapter) ListEvents(ctx context.Context, window Window, categories []string) ([]domain.Event, error) {
	closedFilter := &types.OrganizationEventFilter{
		LastUpdatedTime: &types.DateTimeRange{
			From: &window.Start,
			To:   &window.End,
		},
		EventStatusCodes: []types.EventStatusCode{
			types.EventStatusCodeClosed,
			types.EventStatusCodeUpcoming,
		},
	}
	applyCategories(closedFilter, categories)

	closed, err := a.paginateEvents(ctx, closedFilter)
	if err != nil {
		return nil, err
	}

	openFilter := &types.OrganizationEventFilter{
		LastUpdatedTime: &types.DateTimeRange{From: &window.Start},
		EventStatusCodes: []types.EventStatusCode{
			types.EventStatusCodeOpen,
		},
	}
	applyCategories(openFilter, categories)

	open, err := a.paginateEvents(ctx, openFilter)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(closed)+len(open))
	merged := make([]domain.Event, 0, len(closed)+len(open))
	for _, batch := range [][]types.OrganizationEvent{closed, open} {
		for _, raw := range batch {
			arn := deref(raw.Arn)
			if arn == "" || seen[arn] {
				continue
			}
			seen[arn] = true
			merged = append(merged, normalizeEvent(raw))
		}
	}

	return merged, nil
}

func (a *Adapter) paginateEvents(ctx context.Context, filter *types.OrganizationEventFilter) ([]types.OrganizationEvent, error) {
	var out []types.OrganizationEvent
	var nextToken *string

	for {
		resp, err := a.client.DescribeEventsForOrganization(ctx, &health.DescribeEventsForOrganizationInput{
			Filter:     filter,
			MaxResults: intPtr32(maxResultsPerPage),
			NextToken:  nextToken,
		})
		if err != nil {
			return nil, classifyErr(err)
		}

		out = append(out, resp.Events...)

		if resp.NextToken == nil || *resp.NextToken == "" {
			break
		}
		nextToken = resp.NextToken

		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}
	}

	return out, nil
}

// ListAffectedAccounts paginates the affected-accounts-for-event API,
// stopping once cap accounts have been collected if cap > 0.
func (a *Adapter) ListAffectedAccounts(ctx context.Context, eventARN string, cap int) ([]string, error) {
	var accounts []string
	var nextToken *string

	for {
		resp, err := a.client.DescribeAffectedAccountsForOrganization(ctx, &health.DescribeAffectedAccountsForOrganizationInput{
			EventArn:   &eventARN,
			MaxResults: intPtr32(maxResultsPerPage),
			NextToken:  nextToken,
		})
		if err != nil {
			return nil, classifyErr(err)
		}

		accounts = append(accounts, resp.AffectedAccounts...)
		if cap > 0 && len(accounts) >= cap {
			return accounts[:cap], nil
		}

		if resp.NextToken == nil || *resp.NextToken == "" {
			break
		}
		nextToken = resp.NextToken
	}

	return accounts, nil
}

// Entity is the normalized affected-entity record used by the per-
// account status resolver and the worker's resource-description fetch.
type Entity struct {
	AccountID       string
	EntityValue     string
	StatusCode      string
	LastUpdatedTime time.Time
	Description     Description
}

// Description carries the entity-level latestDescription, which AWS
// Health returns under tags/metadata rather than a dedicated field; it
// mirrors domain.Description's tagged-variant shape.
type Description = domain.Description

// DescribeAffectedEntitiesBatch fetches affected entities for up to
// entityBatchMax accounts at once (the hard upstream limit), paginated,
// with a safety cap on page count so a pathological feed can't wedge a
// worker forever.
func (a *Adapter) DescribeAffectedEntitiesBatch(ctx context.Context, eventARN string, accountIDs []string) ([]Entity, error) {
	if len(accountIDs) > entityBatchMax {
		accountIDs = accountIDs[:entityBatchMax]
	}

	filters := make([]types.EventAccountFilter, 0, len(accountIDs))
	for _, acc := range accountIDs {
		accCopy := acc
		arnCopy := eventARN
		filters = append(filters, types.EventAccountFilter{
			EventArn:     &arnCopy,
			AwsAccountId: &accCopy,
		})
	}

	var entities []Entity
	var nextToken *string
	pages := 0

	for {
		pages++
		if pages > entityPageSafetyCap {
			a.log.WithField("eventArn", eventARN).Warn("affected-entities pagination safety cap reached")
			break
		}

		resp, err := a.client.DescribeAffectedEntitiesForOrganization(ctx, &health.DescribeAffectedEntitiesForOrganizationInput{
			OrganizationEntityFilters: filters,
			MaxResults:                intPtr32(maxResultsPerPage),
			NextToken:                 nextToken,
		})
		if err != nil {
			return nil, classifyErr(err)
		}

		for _, e := range resp.Entities {
			entities = append(entities, Entity{
				AccountID:       deref(e.AwsAccountId),
				EntityValue:     deref(e.EntityValue),
				StatusCode:      string(e.StatusCode),
				LastUpdatedTime: derefTime(e.LastUpdatedTime),
			})
		}

		if resp.NextToken == nil || *resp.NextToken == "" {
			break
		}
		nextToken = resp.NextToken
	}

	return entities, nil
}

// DescribeEvent fetches the organization-scoped event details
// (including the description) for a single ARN/account pair, falling
// back to the account-scoped DescribeEventDetails API when the
// organization-scoped call returns no successful result, matching the
// upstream's tolerant fallback behavior.
func (a *Adapter) DescribeEvent(ctx context.Context, eventARN, accountID string) (domain.Description, error) {
	resp, err := a.client.DescribeEventDetailsForOrganization(ctx, &health.DescribeEventDetailsForOrganizationInput{
		OrganizationEventDetailFilters: []types.EventAccountFilter{
			{EventArn: &eventARN, AwsAccountId: &accountID},
		},
	})
	if err != nil {
		return domain.Description{}, classifyErr(err)
	}

	if len(resp.SuccessfulSet) > 0 {
		detail := resp.SuccessfulSet[0]
		if detail.EventDescription != nil && detail.EventDescription.LatestDescription != nil {
			return domain.NewDescription(*detail.EventDescription.LatestDescription), nil
		}
	}

	return a.describeEventAccountScoped(ctx, eventARN)
}

// describeEventAccountScoped falls back to the account-scoped
// DescribeEventDetails API, used when the organization-scoped lookup
// comes back empty (e.g. the event is not visible under the delegated
// admin's organization view but is visible to the affected account).
func (a *Adapter) describeEventAccountScoped(ctx context.Context, eventARN string) (domain.Description, error) {
	resp, err := a.client.DescribeEventDetails(ctx, &health.DescribeEventDetailsInput{
		EventArns: []string{eventARN},
	})
	if err != nil {
		return domain.Description{}, classifyErr(err)
	}

	if len(resp.SuccessfulSet) == 0 {
		return domain.Description{}, nil
	}

	detail := resp.SuccessfulSet[0]
	if detail.EventDescription == nil || detail.EventDescription.LatestDescription == nil {
		return domain.Description{}, nil
	}

	return domain.NewDescription(*detail.EventDescription.LatestDescription), nil
}

func normalizeEvent(raw types.OrganizationEvent) domain.Event {
	region := deref(raw.Region)
	if strings.TrimSpace(region) == "" {
		region = "global"
	}

	service := deref(raw.Service)
	eventTypeCode := deref(raw.EventTypeCode)
	eventTypeCat := string(raw.EventTypeCategory)

	ev := domain.Event{
		EventARN:               deref(raw.Arn),
		Service:                service,
		EventTypeCode:          eventTypeCode,
		EventTypeCat:           eventTypeCat,
		Region:                 region,
		StartTime:              raw.StartTime,
		EndTime:                raw.EndTime,
		LastUpdateTime:         derefTime(raw.LastUpdatedTime),
		Category:               domain.MapEventTypeToCategory(service, eventTypeCat),
		Status:                 mapEventStatus(raw.StatusCode),
		SimplifiedDescription:  SimplifyDescription(service, eventTypeCode),
	}

	return ev
}

func mapEventStatus(code types.EventStatusCode) domain.Status {
	switch code {
	case types.EventStatusCodeOpen:
		return domain.StatusOpen
	case types.EventStatusCodeUpcoming:
		return domain.StatusUpcoming
	case types.EventStatusCodeClosed:
		return domain.StatusClosed
	default:
		return domain.StatusUnknown
	}
}

func applyCategories(filter *types.OrganizationEventFilter, categories []string) {
	if len(categories) == 0 {
		return
	}
	cats := make([]types.EventTypeCategory, 0, len(categories))
	for _, c := range categories {
		cats = append(cats, types.EventTypeCategory(c))
	}
	filter.EventTypeCategories = cats
}

func classifyErr(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "SubscriptionRequiredException", "AccessDeniedException", "UnauthorizedException":
			return infraerrors.UpstreamAuth(err)
		case "ThrottlingException", "TooManyRequestsException":
			return infraerrors.UpstreamThrottle(err)
		}
	}
	return infraerrors.UpstreamInvalid("health-api", err)
}

func intPtr32(v int32) *int32 { return &v }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

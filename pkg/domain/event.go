// Package domain holds the record shapes shared across the pipeline:
// the per-account event record, the live counter row, and the
// read-only filter projection.
package domain

import "time"

// Category buckets an AWS Health event type into one of the counter
// dimensions tracked per account.
type Category string

const (
	CategoryBillingChanges Category = "billing_changes"
	CategoryNotifications  Category = "notifications"
	CategoryActiveIssues   Category = "active_issues"
	CategoryScheduled      Category = "scheduled"
)

// Status is the per-account lifecycle state of an event record.
type Status string

const (
	StatusOpen      Status = "open"
	StatusUpcoming  Status = "upcoming"
	StatusScheduled Status = "scheduled"
	StatusClosed    Status = "closed"
	StatusUnknown   Status = "unknown"
)

// ActiveStatuses are the statuses that count toward a live counter.
var ActiveStatuses = map[Status]bool{
	StatusOpen:      true,
	StatusUpcoming:  true,
	StatusScheduled: true,
}

// DescriptionKind tags which shape a Description was decoded from.
// AWS Health's event description field arrives as a plain string in
// most API responses but as a structured object or list in others
// (translated/localized descriptions, multi-paragraph notices); the
// tag lets downstream code re-serialize it faithfully without losing
// the original shape.
type DescriptionKind string

const (
	DescriptionObject DescriptionKind = "object"
	DescriptionList   DescriptionKind = "list"
	DescriptionPlain  DescriptionKind = "plain"
)

// Description is the tagged-variant normalization of AWS Health's
// eventDescription/latestDescription field.
type Description struct {
	Kind   DescriptionKind `json:"kind"`
	Plain  string          `json:"plain,omitempty"`
	Object map[string]any  `json:"object,omitempty"`
	List   []any           `json:"list,omitempty"`
}

// Text flattens a Description to the plain string the analyzer and
// simplified-description logic consume, regardless of which shape the
// upstream API returned it in.
func (d Description) Text() string {
	switch d.Kind {
	case DescriptionPlain:
		return d.Plain
	case DescriptionObject:
		if v, ok := d.Object["latestDescription"].(string); ok {
			return v
		}
		if v, ok := d.Object["text"].(string); ok {
			return v
		}
		return ""
	case DescriptionList:
		for _, item := range d.List {
			if s, ok := item.(string); ok {
				return s
			}
			if m, ok := item.(map[string]any); ok {
				if v, ok := m["latestDescription"].(string); ok {
					return v
				}
			}
		}
		return ""
	default:
		return ""
	}
}

// NewDescription normalizes a raw decoded-JSON value into a tagged
// Description, mirroring the three shapes AWS Health actually returns.
func NewDescription(raw any) Description {
	switch v := raw.(type) {
	case string:
		return Description{Kind: DescriptionPlain, Plain: v}
	case map[string]any:
		return Description{Kind: DescriptionObject, Object: v}
	case []any:
		return Description{Kind: DescriptionList, List: v}
	default:
		return Description{Kind: DescriptionPlain}
	}
}

// RiskLevel is the Bedrock-assigned (or fallback-assigned) severity.
type RiskLevel string

const (
	RiskCritical RiskLevel = "CRITICAL"
	RiskHigh     RiskLevel = "HIGH"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskLow      RiskLevel = "LOW"
)

// Analysis is the LLM-derived (or fallback) risk assessment attached
// to an event. It is computed once per unique event ARN and shared
// across every affected account's record.
type Analysis struct {
	Critical             bool      `json:"critical"`
	RiskLevel            RiskLevel `json:"riskLevel"`
	TimeSensitivity      string    `json:"timeSensitivity,omitempty"`
	RiskCategory         string    `json:"riskCategory,omitempty"`
	ImpactAnalysis       string    `json:"impactAnalysis,omitempty"`
	RequiredActions      string    `json:"requiredActions,omitempty"`
	ConsequencesIfIgnored string   `json:"consequencesIfIgnored,omitempty"`
	EventImpactType      string    `json:"eventImpactType,omitempty"`
	IsFallback           bool      `json:"isFallback"`
	RawText              string    `json:"analysisText,omitempty"`
	Version              string    `json:"analysisVersion,omitempty"`
	AnalyzedAt            time.Time `json:"analysisTimestamp"`
	ModelID              string    `json:"modelId,omitempty"`
}

// Normalize enforces the critical/riskLevel consistency rule: a
// CRITICAL risk level always implies critical=true, and critical=true
// always implies a CRITICAL risk level.
func (a *Analysis) Normalize() {
	if a.RiskLevel == RiskCritical {
		a.Critical = true
	} else if a.Critical {
		a.RiskLevel = RiskCritical
	}
}

// Event is the per-(eventArn, accountId) record persisted by the
// record store.
type Event struct {
	EventARN              string      `json:"eventArn" dynamodbav:"eventArn"`
	AccountID             string      `json:"accountId" dynamodbav:"accountId"`
	AccountName           string      `json:"accountName,omitempty" dynamodbav:"accountName,omitempty"`
	Service               string      `json:"service" dynamodbav:"service"`
	EventTypeCode         string      `json:"eventTypeCode" dynamodbav:"eventTypeCode"`
	EventTypeCat          string      `json:"eventTypeCategory" dynamodbav:"eventTypeCategory"`
	Region                string      `json:"region,omitempty" dynamodbav:"region,omitempty"`
	StartTime             *time.Time  `json:"startTime,omitempty" dynamodbav:"startTime,omitempty"`
	EndTime               *time.Time  `json:"endTime,omitempty" dynamodbav:"endTime,omitempty"`
	LastUpdateTime        time.Time   `json:"lastUpdateTime" dynamodbav:"lastUpdateTime"`
	Category              Category    `json:"category" dynamodbav:"category"`
	Status                Status      `json:"statusCode" dynamodbav:"statusCode"`
	Description           Description `json:"description" dynamodbav:"description"`
	SimplifiedDescription string      `json:"simplifiedDescription,omitempty" dynamodbav:"simplifiedDescription,omitempty"`
	AffectedResources      string      `json:"affectedResources,omitempty" dynamodbav:"affectedResources,omitempty"`
	Analysis              *Analysis   `json:"analysis,omitempty" dynamodbav:"analysis,omitempty"`
	TTL                   int64       `json:"ttl" dynamodbav:"ttl"`
}

// Key returns the composite primary key of the record.
func (e *Event) Key() (eventARN, accountID string) {
	return e.EventARN, e.AccountID
}

// Counter is the live per-account, per-category aggregate maintained
// by the counter materializer.
type Counter struct {
	AccountID      string `json:"accountId" dynamodbav:"accountId"`
	BillingChanges int64  `json:"billingChanges" dynamodbav:"billingChanges"`
	Notifications  int64  `json:"notifications" dynamodbav:"notifications"`
	ActiveIssues   int64  `json:"activeIssues" dynamodbav:"activeIssues"`
	Scheduled      int64  `json:"scheduled" dynamodbav:"scheduled"`
	UpdatedAt      time.Time `json:"updatedAt" dynamodbav:"updatedAt"`
}

// ByCategory returns a pointer to the field for the given category,
// so callers can mutate it generically.
func (c *Counter) ByCategory(cat Category) *int64 {
	switch cat {
	case CategoryBillingChanges:
		return &c.BillingChanges
	case CategoryNotifications:
		return &c.Notifications
	case CategoryActiveIssues:
		return &c.ActiveIssues
	case CategoryScheduled:
		return &c.Scheduled
	default:
		return nil
	}
}

// Filter is a read-only projection consumed by the (out-of-scope)
// dashboard API; modeled here for completeness since the counter
// materializer and record store both produce data this shape reads.
type Filter struct {
	AccountID string     `json:"accountId" dynamodbav:"accountId"`
	Category  Category   `json:"category" dynamodbav:"category"`
	Statuses  []Status   `json:"statuses" dynamodbav:"statuses"`
	Services  []string   `json:"services,omitempty" dynamodbav:"services,omitempty"`
	CreatedAt time.Time  `json:"createdAt" dynamodbav:"createdAt"`
}

// MapEventTypeToCategory buckets an event into the counter dimension it
// contributes to. The service check takes priority over the upstream
// eventTypeCategory: a BILLING-service event is a billing change
// regardless of how AWS Health classified it.
func MapEventTypeToCategory(service, eventTypeCategory string) Category {
	if service == "BILLING" {
		return CategoryBillingChanges
	}
	switch eventTypeCategory {
	case "accountNotification":
		return CategoryNotifications
	case "issue":
		return CategoryActiveIssues
	case "scheduledChange":
		return CategoryScheduled
	default:
		return CategoryBillingChanges
	}
}

// MapEntityStatusToStatus mirrors AWS Health's entity status vocabulary
// onto this pipeline's lifecycle Status.
func MapEntityStatusToStatus(entityStatus string) Status {
	switch entityStatus {
	case "IMPAIRED", "PENDING":
		return StatusOpen
	case "UNIMPAIRED", "RESOLVED":
		return StatusClosed
	default:
		return StatusUnknown
	}
}

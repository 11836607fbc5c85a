// Package analyzer is the C3 LLM Analyzer: one Bedrock invocation per
// unique event ARN per run, with staggered/escalating retry, circuit
// breaker protection, and a deterministic fallback when the model is
// unreachable.
package analyzer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"

	infraerrors "github.com/cloudops-platform/orgevents/infrastructure/errors"
	"github.com/cloudops-platform/orgevents/infrastructure/resilience"
	"github.com/cloudops-platform/orgevents/pkg/domain"
	"github.com/cloudops-platform/orgevents/pkg/logger"
	"github.com/cloudops-platform/orgevents/pkg/metrics"
)

const analysisVersion = "v1"

// BedrockClient is the subset of bedrockruntime the analyzer calls.
type BedrockClient interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// EventInput is the subset of an event's fields the prompt is built
// from.
type EventInput struct {
	EventARN      string
	Service       string
	EventTypeCode string
	EventTypeCat  string
	Region        string
	StartTime     time.Time
	Status        domain.Status
	Description   string
}

// Config tunes the analyzer's model selection and retry policy.
type Config struct {
	ModelID        string
	MaxAttempts    int
	Temperature    float64
	TopP           float64
	MaxTokens      int
	Backoff        resilience.BackoffConfig
	Breaker        resilience.Config
	WorkerIdentity string
}

// DefaultConfig mirrors the original Bedrock client's tuning.
func DefaultConfig() Config {
	return Config{
		ModelID:     "anthropic.claude-3-sonnet-20240229-v1:0",
		MaxAttempts: 10,
		Temperature: 0.2,
		TopP:        0.9,
		MaxTokens:   1024,
		Backoff:     resilience.DefaultBackoffConfig(),
		Breaker:     resilience.DefaultConfig(),
	}
}

// Analyzer is the C3 LLM Analyzer.
type Analyzer struct {
	client  BedrockClient
	cfg     Config
	breaker *resilience.CircuitBreaker
	log     *logger.Logger
}

// New builds an Analyzer.
func New(client BedrockClient, cfg Config, log *logger.Logger) *Analyzer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if log == nil {
		log = logger.NewDefault("analyzer")
	}
	return &Analyzer{
		client:  client,
		cfg:     cfg,
		breaker: resilience.New(cfg.Breaker),
		log:     log,
	}
}

type modelResponse struct {
	Critical              bool   `json:"critical"`
	RiskLevel             string `json:"risk_level"`
	TimeSensitivity       string `json:"time_sensitivity"`
	RiskCategory          string `json:"risk_category"`
	ImpactAnalysis        string `json:"impact_analysis"`
	RequiredActions       string `json:"required_actions"`
	ConsequencesIfIgnored string `json:"consequences_if_ignored"`
	EventImpactType       string `json:"event_impact_type"`
}

// Analyze runs one Bedrock invocation for event, retrying with
// staggered, escalating backoff on throttling, and returning a
// deterministic fallback analysis if every attempt is exhausted or the
// circuit breaker is open.
func (a *Analyzer) Analyze(ctx context.Context, event EventInput) *domain.Analysis {
	payload := a.buildPayload(event)
	digest := payloadDigest(payload)
	stagger := resilience.StaggerHash(a.cfg.WorkerIdentity, digest)

	rawText, err := a.invokeWithRetry(ctx, payload, stagger)
	if err != nil {
		a.log.WithField("eventArn", event.EventARN).WithError(err).Warn("bedrock analysis exhausted, using fallback")
		metrics.RecordFallbackAnalysis("exhausted")
		return a.fallback(event, rawText)
	}

	analysis, parseErr := parseModelResponse(rawText)
	if parseErr != nil {
		a.log.WithField("eventArn", event.EventARN).WithError(parseErr).Warn("bedrock response unparseable, using fallback")
		metrics.RecordFallbackAnalysis("unparseable")
		return a.fallback(event, rawText)
	}

	analysis.RawText = rawText
	analysis.Version = analysisVersion
	analysis.AnalyzedAt = time.Now().UTC()
	analysis.Normalize()
	return analysis
}

func (a *Analyzer) invokeWithRetry(ctx context.Context, payload []byte, stagger uint32) (string, error) {
	var (
		rawText              string
		consecutiveThrottles int
	)

	for attempt := 0; attempt < a.cfg.MaxAttempts; attempt++ {
		start := time.Now()
		err := a.breaker.Execute(ctx, func() error {
			resp, invokeErr := a.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
				ModelId:     &a.cfg.ModelID,
				Body:        payload,
				ContentType: strPtr("application/json"),
			})
			if invokeErr != nil {
				return invokeErr
			}
			rawText = extractResponseText(resp.Body, a.cfg.ModelID)
			return nil
		})

		if err == nil {
			metrics.RecordBedrockInvocation(true, time.Since(start))
			return rawText, nil
		}

		metrics.RecordBedrockInvocation(false, time.Since(start))

		if err == resilience.ErrCircuitOpen || err == resilience.ErrTooManyRequests {
			return "", infraerrors.AnalyzerUnavailable(err)
		}

		if !isThrottle(err) {
			return "", infraerrors.AnalyzerUnavailable(err)
		}

		consecutiveThrottles++
		metrics.RecordBedrockThrottle()

		if attempt == a.cfg.MaxAttempts-1 {
			return "", infraerrors.AnalyzerThrottle(consecutiveThrottles, err)
		}

		delay := resilience.ComputeBackoff(attempt, consecutiveThrottles, a.cfg.Backoff, stagger)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}

	return "", infraerrors.AnalyzerUnavailable(nil)
}

func isThrottle(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	code := apiErr.ErrorCode()
	return code == "ThrottlingException" || code == "TooManyRequestsException"
}

func extractResponseText(body []byte, modelID string) string {
	lowerModel := strings.ToLower(modelID)
	if strings.Contains(lowerModel, "claude") {
		var parsed struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		}
		if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.Content) > 0 {
			return parsed.Content[0].Text
		}
		return ""
	}

	var legacy struct {
		Completion string `json:"completion"`
	}
	if err := json.Unmarshal(body, &legacy); err == nil {
		return legacy.Completion
	}
	return ""
}

func (a *Analyzer) buildPayload(event EventInput) []byte {
	prompt := fmt.Sprintf(
		"Analyze this AWS Health event and respond with strict JSON only.\n"+
			"Event type: %s\nCategory: %s\nRegion: %s\nStart time: %s\nDescription: %s\n"+
			"Respond with fields: critical (bool), risk_level (CRITICAL|HIGH|MEDIUM|LOW), "+
			"time_sensitivity, risk_category, impact_analysis, required_actions, "+
			"consequences_if_ignored, event_impact_type.",
		event.EventTypeCode, event.EventTypeCat, event.Region, event.StartTime.Format(time.RFC3339), event.Description,
	)

	body := map[string]interface{}{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":         a.cfg.MaxTokens,
		"temperature":        a.cfg.Temperature,
		"top_p":              a.cfg.TopP,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}

	raw, _ := json.Marshal(body)
	return raw
}

func parseModelResponse(rawText string) (*domain.Analysis, error) {
	jsonStr := extractJSONBlock(rawText)
	if jsonStr == "" {
		return nil, fmt.Errorf("no JSON object found in model response")
	}

	var parsed modelResponse
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return nil, err
	}

	return &domain.Analysis{
		Critical:              parsed.Critical,
		RiskLevel:             normalizeRiskLevel(parsed.RiskLevel),
		TimeSensitivity:       parsed.TimeSensitivity,
		RiskCategory:          parsed.RiskCategory,
		ImpactAnalysis:        parsed.ImpactAnalysis,
		RequiredActions:       parsed.RequiredActions,
		ConsequencesIfIgnored: parsed.ConsequencesIfIgnored,
		EventImpactType:       parsed.EventImpactType,
	}, nil
}

func normalizeRiskLevel(raw string) domain.RiskLevel {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "CRITICAL", "SEVERE":
		return domain.RiskCritical
	case "HIGH":
		return domain.RiskHigh
	case "MEDIUM", "MODERATE":
		return domain.RiskMedium
	case "LOW":
		return domain.RiskLow
	default:
		return domain.RiskMedium
	}
}

// extractJSONBlock finds the first top-level {...} object in text,
// tolerating a surrounding prose or markdown fence, which is how
// Bedrock models often wrap their JSON replies.
func extractJSONBlock(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return ""
	}
	return text[start : end+1]
}

// fallback synthesizes a deterministic analysis from the event type's
// keywords, so the pipeline is never blocked on the LLM being
// unreachable.
func (a *Analyzer) fallback(event EventInput, rawText string) *domain.Analysis {
	upperCode := strings.ToUpper(event.EventTypeCode)

	riskLevel := riskLevelFor(upperCode)

	timeSensitivity := "Routine"
	if event.Status == domain.StatusOpen && riskLevel == domain.RiskHigh {
		timeSensitivity = "Urgent"
	} else if strings.Contains(upperCode, "SECURITY") {
		timeSensitivity = "High Priority"
	}

	riskCategory, impactType := impactCategoryFor(upperCode)

	analysis := &domain.Analysis{
		Critical:              riskLevel == domain.RiskCritical,
		RiskLevel:             riskLevel,
		TimeSensitivity:       timeSensitivity,
		RiskCategory:          riskCategory,
		ImpactAnalysis:        fmt.Sprintf("Basic analysis: %s %s event with %s status", event.Service, event.EventTypeCode, event.Status),
		RequiredActions:       "Review event details and assess impact on your resources",
		ConsequencesIfIgnored: "Potential service disruption if not addressed",
		EventImpactType:       impactType,
		IsFallback:            true,
		RawText:               rawText,
		Version:               analysisVersion,
		AnalyzedAt:             time.Now().UTC(),
	}
	analysis.Normalize()
	return analysis
}

func payloadDigest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])[:16]
}

func strPtr(s string) *string { return &s }

// Package queue is the thin SQS wrapper shared by the fan-out
// dispatcher and the work-unit worker: send one work unit, receive a
// batch, delete on success, and best-effort repair a body that arrived
// double-escaped.
package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	infraerrors "github.com/cloudops-platform/orgevents/infrastructure/errors"
	"github.com/cloudops-platform/orgevents/pkg/domain"
	"github.com/cloudops-platform/orgevents/pkg/logger"
)

// SQSClient is the subset of the SQS API the queue wrapper calls.
type SQSClient interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
}

// WorkUnit is one fan-out message: a shared analysis payload applied
// to a bounded slice of accounts for one event.
type WorkUnit struct {
	Event        EventHeader     `json:"event"`
	Accounts     []string        `json:"accounts"`
	Analysis     *string         `json:"analysis"` // nil => worker performs deferred analysis
	Categories   *domain.Analysis `json:"categories,omitempty"`
	BatchNumber  int             `json:"batchNumber"`
	TotalBatches int             `json:"totalBatches"`
}

// EventHeader is the subset of event fields a work unit carries,
// shared by every account batch for that event.
type EventHeader struct {
	EventARN       string `json:"eventArn"`
	EventTypeCode  string `json:"eventTypeCode"`
	EventTypeCat   string `json:"eventTypeCategory"`
	Service        string `json:"service"`
	Region         string `json:"region"`
	StartTime      string `json:"startTime,omitempty"`
	LastUpdateTime string `json:"lastUpdateTime"`
	StatusCode     string `json:"statusCode"`
}

// Message is a received queue message paired with its receipt handle.
type Message struct {
	ID            string
	ReceiptHandle string
	Body          string
}

// Queue wraps an SQS queue URL.
type Queue struct {
	client SQSClient
	url    string
	log    *logger.Logger
}

// New builds a Queue bound to queueURL.
func New(client SQSClient, queueURL string, log *logger.Logger) *Queue {
	if log == nil {
		log = logger.NewDefault("queue")
	}
	return &Queue{client: client, url: queueURL, log: log}
}

// Send publishes one work unit.
func (q *Queue) Send(ctx context.Context, unit WorkUnit) error {
	body, err := json.Marshal(unit)
	if err != nil {
		return infraerrors.Validation("workUnit", err.Error())
	}
	bodyStr := string(body)

	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    &q.url,
		MessageBody: &bodyStr,
	})
	if err != nil {
		return infraerrors.QueueUnavailable("SendMessage", err)
	}
	return nil
}

// Receive polls up to maxMessages, waiting up to waitSeconds for a
// long-poll response.
func (q *Queue) Receive(ctx context.Context, maxMessages int32, waitSeconds int32) ([]Message, error) {
	resp, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            &q.url,
		MaxNumberOfMessages: maxMessages,
		WaitTimeSeconds:     waitSeconds,
	})
	if err != nil {
		return nil, infraerrors.QueueUnavailable("ReceiveMessage", err)
	}

	out := make([]Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		out = append(out, Message{
			ID:            derefStr(m.MessageId),
			ReceiptHandle: derefStr(m.ReceiptHandle),
			Body:          derefStr(m.Body),
		})
	}
	return out, nil
}

// Delete removes the given messages from the queue in one batch call,
// used after the worker has successfully persisted every account in a
// message.
func (q *Queue) Delete(ctx context.Context, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}

	entries := make([]types.DeleteMessageBatchRequestEntry, 0, len(messages))
	for i, m := range messages {
		id := strconv.Itoa(i)
		entries = append(entries, types.DeleteMessageBatchRequestEntry{
			Id:            &id,
			ReceiptHandle: &m.ReceiptHandle,
		})
	}

	_, err := q.client.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
		QueueUrl: &q.url,
		Entries:  entries,
	})
	if err != nil {
		return infraerrors.QueueUnavailable("DeleteMessageBatch", err)
	}
	return nil
}

// legacySingleEvent is the pre-batch SQS message shape: flat fields
// for one event delivered to one account, instead of the current
// event+accounts envelope. Kept for interoperability with producers
// that haven't moved to the batch shape.
type legacySingleEvent struct {
	ARN            string `json:"arn"`
	AccountID      string `json:"accountId"`
	EventTypeCode  string `json:"eventTypeCode,omitempty"`
	EventTypeCat   string `json:"eventTypeCategory,omitempty"`
	Service        string `json:"service,omitempty"`
	Region         string `json:"region,omitempty"`
	StartTime      string `json:"startTime,omitempty"`
	LastUpdateTime string `json:"lastUpdateTime,omitempty"`
	StatusCode     string `json:"statusCode,omitempty"`
}

func (l legacySingleEvent) toWorkUnit() WorkUnit {
	return WorkUnit{
		Event: EventHeader{
			EventARN:       l.ARN,
			EventTypeCode:  l.EventTypeCode,
			EventTypeCat:   l.EventTypeCat,
			Service:        l.Service,
			Region:         l.Region,
			StartTime:      l.StartTime,
			LastUpdateTime: l.LastUpdateTime,
			StatusCode:     l.StatusCode,
		},
		Accounts:     []string{l.AccountID},
		BatchNumber:  1,
		TotalBatches: 1,
	}
}

// DecodeWorkUnit unmarshals a received message body into a WorkUnit,
// recognizing both the current event+accounts envelope and the legacy
// flat single-event shape (`{"arn","accountId",...}`), and falling
// back to an escape-sequence repair pass when the body arrived
// double-encoded (observed from certain SNS/Lambda event-source
// mappings that re-escape the JSON payload before delivery).
func DecodeWorkUnit(body string) (WorkUnit, error) {
	if unit, err := decodeWorkUnitBody(body); err == nil {
		return unit, nil
	}

	repaired := repairEscapedJSON(body)
	unit, err := decodeWorkUnitBody(repaired)
	if err != nil {
		return WorkUnit{}, infraerrors.Validation("workUnit", err.Error())
	}
	return unit, nil
}

func decodeWorkUnitBody(body string) (WorkUnit, error) {
	var legacyProbe struct {
		ARN string `json:"arn"`
	}
	if err := json.Unmarshal([]byte(body), &legacyProbe); err == nil && legacyProbe.ARN != "" {
		var legacy legacySingleEvent
		if err := json.Unmarshal([]byte(body), &legacy); err != nil {
			return WorkUnit{}, err
		}
		return legacy.toWorkUnit(), nil
	}

	var unit WorkUnit
	if err := json.Unmarshal([]byte(body), &unit); err != nil {
		return WorkUnit{}, err
	}
	return unit, nil
}

// repairEscapedJSON strips one layer of surrounding quotes and
// unescapes backslash-escaped quotes, the shape a body takes when a
// JSON string gets serialized a second time upstream.
func repairEscapedJSON(body string) string {
	trimmed := strings.TrimSpace(body)
	if len(trimmed) >= 2 && trimmed[0] == '"' && trimmed[len(trimmed)-1] == '"' {
		trimmed = trimmed[1 : len(trimmed)-1]
	}
	return strings.ReplaceAll(trimmed, `\"`, `"`)
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

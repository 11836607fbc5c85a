// Package store is the C7 Record Store: keyed upsert of per-account
// event records with TTL stamping, plus the read paths the dashboard
// and counter materializer need.
package store

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	infraerrors "github.com/cloudops-platform/orgevents/infrastructure/errors"
	"github.com/cloudops-platform/orgevents/pkg/domain"
	"github.com/cloudops-platform/orgevents/pkg/logger"
)

const (
	attrEventARN  = "eventArn"
	attrAccountID = "accountId"
	attrCategory  = "category"

	batchWriteMax = 25 // DynamoDB BatchWriteItem hard limit
)

// DynamoClient is the subset of the DynamoDB API the store calls.
type DynamoClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Store is the C7 Record Store.
type Store struct {
	client          DynamoClient
	table           string
	retentionWindow time.Duration
	log             *logger.Logger
}

// New builds a Store over tableName with a TTL retention window.
func New(client DynamoClient, tableName string, retentionWindow time.Duration, log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewDefault("store")
	}
	return &Store{client: client, table: tableName, retentionWindow: retentionWindow, log: log}
}

// ComputeTTL returns max(lastUpdateTime, startTime) + retentionWindow,
// as a Unix epoch seconds value. Using the later of the two timestamps
// prevents premature expiry of a future-dated scheduled event whose
// lastUpdateTime predates its startTime.
func (s *Store) ComputeTTL(lastUpdateTime time.Time, startTime *time.Time) int64 {
	base := lastUpdateTime
	if startTime != nil && startTime.After(base) {
		base = *startTime
	}
	return base.Add(s.retentionWindow).Unix()
}

// Upsert writes one record, stamping TTL and converting the analysis
// timestamp to UTC. The timestamp is stored in the attribute encoder's
// RFC 3339 form, not as YYYY-MM-DD HH:MM:SS.
func (s *Store) Upsert(ctx context.Context, event domain.Event) error {
	event.TTL = s.ComputeTTL(event.LastUpdateTime, event.StartTime)
	if event.Analysis != nil {
		event.Analysis.AnalyzedAt = event.Analysis.AnalyzedAt.UTC()
	}

	item, err := attributevalue.MarshalMap(event)
	if err != nil {
		return infraerrors.Validation("event", err.Error())
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.table,
		Item:      item,
	})
	if err != nil {
		return infraerrors.StoreUnavailable("PutItem", err)
	}
	return nil
}

// UpsertBatch writes records in DynamoDB BatchWriteItem chunks of 25,
// returning the subset of records that failed so the caller can report
// them through the queue's partial-batch-failure contract.
func (s *Store) UpsertBatch(ctx context.Context, events []domain.Event) (failed []domain.Event, err error) {
	for start := 0; start < len(events); start += batchWriteMax {
		end := start + batchWriteMax
		if end > len(events) {
			end = len(events)
		}
		chunk := events[start:end]

		writeReqs := make([]types.WriteRequest, 0, len(chunk))
		for i := range chunk {
			chunk[i].TTL = s.ComputeTTL(chunk[i].LastUpdateTime, chunk[i].StartTime)
			item, marshalErr := attributevalue.MarshalMap(chunk[i])
			if marshalErr != nil {
				failed = append(failed, chunk[i])
				continue
			}
			writeReqs = append(writeReqs, types.WriteRequest{
				PutRequest: &types.PutRequest{Item: item},
			})
		}

		resp, batchErr := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{s.table: writeReqs},
		})
		if batchErr != nil {
			failed = append(failed, chunk...)
			s.log.WithError(batchErr).Warn("batch write failed for entire chunk")
			continue
		}

		if unprocessed, ok := resp.UnprocessedItems[s.table]; ok && len(unprocessed) > 0 {
			s.log.WithField("count", len(unprocessed)).Warn("batch write left unprocessed items")
			for _, req := range unprocessed {
				var ev domain.Event
				if req.PutRequest != nil && attributevalue.UnmarshalMap(req.PutRequest.Item, &ev) == nil {
					failed = append(failed, ev)
				}
			}
		}
	}

	if len(failed) > 0 {
		return failed, infraerrors.StoreUnavailable("BatchWriteItem", nil)
	}
	return nil, nil
}

// Get fetches a single record by its composite key.
func (s *Store) Get(ctx context.Context, eventARN, accountID string) (*domain.Event, error) {
	key, err := attributevalue.MarshalMap(map[string]string{
		attrEventARN:  eventARN,
		attrAccountID: accountID,
	})
	if err != nil {
		return nil, infraerrors.Validation("key", err.Error())
	}

	resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.table,
		Key:       key,
	})
	if err != nil {
		return nil, infraerrors.StoreUnavailable("GetItem", err)
	}
	if resp.Item == nil {
		return nil, infraerrors.NotFound("event", eventARN+"/"+accountID)
	}

	var event domain.Event
	if err := attributevalue.UnmarshalMap(resp.Item, &event); err != nil {
		return nil, infraerrors.Validation("event", err.Error())
	}
	return &event, nil
}

// ListByCategory returns every record for category whose lastUpdateTime
// falls within window, via a filtered Scan of the base table; it does
// not query a category index.
func (s *Store) ListByCategory(ctx context.Context, category domain.Category, window time.Duration) ([]domain.Event, error) {
	since := time.Now().Add(-window)

	expr, err := expression.NewBuilder().
		WithFilter(expression.And(
			expression.Name(attrCategory).Equal(expression.Value(string(category))),
			expression.Name("lastUpdateTime").GreaterThanEqual(expression.Value(since)),
		)).
		Build()
	if err != nil {
		return nil, infraerrors.Validation("filter", err.Error())
	}

	return s.scanWithExpression(ctx, expr)
}

// ListByAccount returns every record for accountID.
func (s *Store) ListByAccount(ctx context.Context, accountID string) ([]domain.Event, error) {
	expr, err := expression.NewBuilder().
		WithFilter(expression.Name(attrAccountID).Equal(expression.Value(accountID))).
		Build()
	if err != nil {
		return nil, infraerrors.Validation("filter", err.Error())
	}

	return s.scanWithExpression(ctx, expr)
}

// ListByARN returns every account's record for eventARN, used by the
// change-stream reactor to recompute a dirty ARN's contribution to
// each affected account's counters.
func (s *Store) ListByARN(ctx context.Context, eventARN string) ([]domain.Event, error) {
	expr, err := expression.NewBuilder().
		WithFilter(expression.Name(attrEventARN).Equal(expression.Value(eventARN))).
		Build()
	if err != nil {
		return nil, infraerrors.Validation("filter", err.Error())
	}

	return s.scanWithExpression(ctx, expr)
}

// Scan returns every record in the table, paginating internally. Used
// by the counter materializer's full recompute.
func (s *Store) Scan(ctx context.Context) ([]domain.Event, error) {
	return s.scanWithExpression(ctx, expression.Expression{})
}

func (s *Store) scanWithExpression(ctx context.Context, expr expression.Expression) ([]domain.Event, error) {
	var (
		out              []domain.Event
		lastEvaluatedKey map[string]types.AttributeValue
	)

	for {
		input := &dynamodb.ScanInput{
			TableName:                 &s.table,
			ExclusiveStartKey:         lastEvaluatedKey,
			FilterExpression:          expr.Filter(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		}

		resp, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, infraerrors.StoreUnavailable("Scan", err)
		}

		var page []domain.Event
		if err := attributevalue.UnmarshalListOfMaps(resp.Items, &page); err != nil {
			return nil, infraerrors.Validation("event", err.Error())
		}
		out = append(out, page...)

		if resp.LastEvaluatedKey == nil || len(resp.LastEvaluatedKey) == 0 {
			break
		}
		lastEvaluatedKey = resp.LastEvaluatedKey
	}

	return out, nil
}

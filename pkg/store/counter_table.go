package store

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	infraerrors "github.com/cloudops-platform/orgevents/infrastructure/errors"
	"github.com/cloudops-platform/orgevents/pkg/domain"
	"github.com/cloudops-platform/orgevents/pkg/logger"
)

// CounterTable is the DynamoDB-backed per-account counter table the
// counter materializer reads and writes. It satisfies
// counters.CounterWriter.
type CounterTable struct {
	client DynamoClient
	table  string
	log    *logger.Logger
}

// NewCounterTable builds a CounterTable over tableName.
func NewCounterTable(client DynamoClient, tableName string, log *logger.Logger) *CounterTable {
	if log == nil {
		log = logger.NewDefault("counterstore")
	}
	return &CounterTable{client: client, table: tableName, log: log}
}

// PutCounter upserts counter, refreshing its lastUpdated timestamp.
func (t *CounterTable) PutCounter(ctx context.Context, counter domain.Counter) error {
	if counter.UpdatedAt.IsZero() {
		counter.UpdatedAt = time.Now().UTC()
	}

	item, err := attributevalue.MarshalMap(counter)
	if err != nil {
		return infraerrors.Validation("counter", err.Error())
	}

	_, err = t.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &t.table,
		Item:      item,
	})
	if err != nil {
		return infraerrors.StoreUnavailable("PutItem", err)
	}
	return nil
}

// GetCounter fetches an account's counter row, returning (nil, nil) if
// no row exists yet (missing counters initialize to zero, per the
// materializer's contract).
func (t *CounterTable) GetCounter(ctx context.Context, accountID string) (*domain.Counter, error) {
	key, err := attributevalue.MarshalMap(map[string]string{"accountId": accountID})
	if err != nil {
		return nil, infraerrors.Validation("key", err.Error())
	}

	resp, err := t.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &t.table,
		Key:       key,
	})
	if err != nil {
		var serviceErr *infraerrors.ServiceError
		if errors.As(err, &serviceErr) {
			return nil, err
		}
		return nil, infraerrors.StoreUnavailable("GetItem", err)
	}
	if resp.Item == nil || len(resp.Item) == 0 {
		return nil, nil
	}

	var counter domain.Counter
	if err := attributevalue.UnmarshalMap(resp.Item, &counter); err != nil {
		return nil, infraerrors.Validation("counter", err.Error())
	}
	return &counter, nil
}

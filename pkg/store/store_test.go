package store

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/cloudops-platform/orgevents/pkg/domain"
)

type fakeDynamoClient struct {
	items []map[string]types.AttributeValue
}

func (f *fakeDynamoClient) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.items = append(f.items, params.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamoClient) GetItem(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	for _, item := range f.items {
		if matchesKey(item, params.Key) {
			return &dynamodb.GetItemOutput{Item: item}, nil
		}
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (f *fakeDynamoClient) BatchWriteItem(_ context.Context, params *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	for _, reqs := range params.RequestItems {
		for _, req := range reqs {
			if req.PutRequest != nil {
				f.items = append(f.items, req.PutRequest.Item)
			}
		}
	}
	return &dynamodb.BatchWriteItemOutput{}, nil
}

func (f *fakeDynamoClient) Query(_ context.Context, _ *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	return &dynamodb.QueryOutput{}, nil
}

func (f *fakeDynamoClient) Scan(_ context.Context, _ *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	return &dynamodb.ScanOutput{Items: f.items}, nil
}

func matchesKey(item, key map[string]types.AttributeValue) bool {
	for k, v := range key {
		iv, ok := item[k]
		if !ok {
			return false
		}
		iStr, iIsStr := iv.(*types.AttributeValueMemberS)
		kStr, kIsStr := v.(*types.AttributeValueMemberS)
		if !iIsStr || !kIsStr || iStr.Value != kStr.Value {
			return false
		}
	}
	return true
}

func TestComputeTTLUsesLaterOfLastUpdateAndStart(t *testing.T) {
	s := New(&fakeDynamoClient{}, "events", 180*24*time.Hour, nil)

	lastUpdate := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	future := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	ttl := s.ComputeTTL(lastUpdate, &future)
	expected := future.Add(180 * 24 * time.Hour).Unix()

	if ttl != expected {
		t.Errorf("expected TTL based on future startTime %d, got %d", expected, ttl)
	}
}

func TestComputeTTLFallsBackToLastUpdateWhenNoStartTime(t *testing.T) {
	s := New(&fakeDynamoClient{}, "events", 180*24*time.Hour, nil)
	lastUpdate := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	ttl := s.ComputeTTL(lastUpdate, nil)
	expected := lastUpdate.Add(180 * 24 * time.Hour).Unix()

	if ttl != expected {
		t.Errorf("expected %d, got %d", expected, ttl)
	}
}

func TestUpsertAndGetRoundTrip(t *testing.T) {
	client := &fakeDynamoClient{}
	s := New(client, "events", 180*24*time.Hour, nil)

	ev := domain.Event{
		EventARN:       "arn:x",
		AccountID:      "111111111111",
		Service:        "EC2",
		LastUpdateTime: time.Now().UTC(),
		Status:         domain.StatusOpen,
		Category:       domain.CategoryActiveIssues,
	}

	if err := s.Upsert(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.Get(context.Background(), "arn:x", "111111111111")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.EventARN != ev.EventARN || got.AccountID != ev.AccountID {
		t.Errorf("round-tripped event does not match: %+v", got)
	}
	if got.TTL == 0 {
		t.Error("expected TTL to be stamped on upsert")
	}
}

func TestUpsertBatchWritesAll(t *testing.T) {
	client := &fakeDynamoClient{}
	s := New(client, "events", 180*24*time.Hour, nil)

	events := []domain.Event{
		{EventARN: "arn:a", AccountID: "111", LastUpdateTime: time.Now().UTC()},
		{EventARN: "arn:b", AccountID: "222", LastUpdateTime: time.Now().UTC()},
	}

	failed, err := s.UpsertBatch(context.Background(), events)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(failed) != 0 {
		t.Errorf("expected no failures, got %d", len(failed))
	}
	if len(client.items) != 2 {
		t.Errorf("expected 2 items written, got %d", len(client.items))
	}
}

func TestScanReturnsAllItems(t *testing.T) {
	client := &fakeDynamoClient{}
	s := New(client, "events", 180*24*time.Hour, nil)

	item, _ := attributevalue.MarshalMap(domain.Event{EventARN: "arn:a", AccountID: "111"})
	client.items = append(client.items, item)

	events, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("expected 1 event, got %d", len(events))
	}
}

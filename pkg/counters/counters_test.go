package counters

import (
	"context"
	"testing"

	"github.com/cloudops-platform/orgevents/pkg/domain"
)

type fakeStore struct {
	events []domain.Event
}

func (f *fakeStore) Scan(_ context.Context) ([]domain.Event, error) { return f.events, nil }

func (f *fakeStore) ListByAccount(_ context.Context, accountID string) ([]domain.Event, error) {
	var out []domain.Event
	for _, e := range f.events {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeCounterWriter struct {
	counters map[string]domain.Counter
}

func newFakeCounterWriter() *fakeCounterWriter {
	return &fakeCounterWriter{counters: make(map[string]domain.Counter)}
}

func (f *fakeCounterWriter) PutCounter(_ context.Context, counter domain.Counter) error {
	f.counters[counter.AccountID] = counter
	return nil
}

func (f *fakeCounterWriter) GetCounter(_ context.Context, accountID string) (*domain.Counter, error) {
	c, ok := f.counters[accountID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func TestRecomputeCountsEachARNOncePerAccount(t *testing.T) {
	store := &fakeStore{events: []domain.Event{
		{EventARN: "arn:1", AccountID: "111", Category: domain.CategoryActiveIssues, Status: domain.StatusOpen},
		{EventARN: "arn:1", AccountID: "222", Category: domain.CategoryActiveIssues, Status: domain.StatusClosed},
		{EventARN: "arn:2", AccountID: "111", Category: domain.CategoryActiveIssues, Status: domain.StatusClosed},
	}}
	writer := newFakeCounterWriter()
	m := New(store, writer, nil)

	if err := m.Recompute(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c111 := writer.counters["111"]
	if c111.ActiveIssues != 1 {
		t.Errorf("expected account 111 to have 1 active issue (arn:1 open), got %d", c111.ActiveIssues)
	}

	c222 := writer.counters["222"]
	if c222.ActiveIssues != 1 {
		t.Errorf("expected account 222 to have 1 active issue (arn:1 is open for 111, so it counts for 222 since not all closed), got %d", c222.ActiveIssues)
	}
}

func TestRecomputeSkipsFullyClosedARN(t *testing.T) {
	store := &fakeStore{events: []domain.Event{
		{EventARN: "arn:1", AccountID: "111", Category: domain.CategoryActiveIssues, Status: domain.StatusClosed},
		{EventARN: "arn:1", AccountID: "222", Category: domain.CategoryActiveIssues, Status: domain.StatusClosed},
	}}
	writer := newFakeCounterWriter()
	m := New(store, writer, nil)

	if err := m.Recompute(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(writer.counters) != 0 {
		t.Errorf("expected no counters written for a fully-closed ARN, got %d", len(writer.counters))
	}
}

func TestRecomputeAsymmetricAccountsBothCount(t *testing.T) {
	// account A open, account B closed on the same ARN: both must count
	// because the ARN as a whole is still active.
	store := &fakeStore{events: []domain.Event{
		{EventARN: "arn:1", AccountID: "A", Category: domain.CategoryActiveIssues, Status: domain.StatusOpen},
		{EventARN: "arn:1", AccountID: "B", Category: domain.CategoryActiveIssues, Status: domain.StatusClosed},
	}}
	writer := newFakeCounterWriter()
	m := New(store, writer, nil)

	if err := m.Recompute(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if writer.counters["A"].ActiveIssues != 1 {
		t.Errorf("expected account A to count the shared ARN, got %d", writer.counters["A"].ActiveIssues)
	}
	if writer.counters["B"].ActiveIssues != 1 {
		t.Errorf("expected account B to also count the shared ARN despite being individually closed, got %d", writer.counters["B"].ActiveIssues)
	}
}

func TestApplyDeltaRecomputesOnlyAffectedAccounts(t *testing.T) {
	store := &fakeStore{events: []domain.Event{
		{EventARN: "arn:1", AccountID: "111", Category: domain.CategoryActiveIssues, Status: domain.StatusOpen},
	}}
	writer := newFakeCounterWriter()
	m := New(store, writer, nil)

	err := m.ApplyDelta(context.Background(), "arn:1", store.events)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if writer.counters["111"].ActiveIssues != 1 {
		t.Errorf("expected account 111 to have 1 active issue, got %d", writer.counters["111"].ActiveIssues)
	}
}

func TestDecrementOnTTLExpiryNeverGoesNegative(t *testing.T) {
	writer := newFakeCounterWriter()
	writer.counters["111"] = domain.Counter{AccountID: "111", ActiveIssues: 0}
	m := New(&fakeStore{}, writer, nil)

	if err := m.DecrementOnTTLExpiry(context.Background(), "111", domain.CategoryActiveIssues); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if writer.counters["111"].ActiveIssues != 0 {
		t.Errorf("expected counter to stay at 0, got %d", writer.counters["111"].ActiveIssues)
	}
}

func TestBootstrapInitializesMissingCounters(t *testing.T) {
	store := &fakeStore{events: []domain.Event{
		{EventARN: "arn:1", AccountID: "111"},
	}}
	writer := newFakeCounterWriter()
	m := New(store, writer, nil)

	if err := m.Bootstrap(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := writer.counters["111"]; !ok {
		t.Error("expected a zero-valued counter row to be created for account 111")
	}
}

package worker

import (
	"context"
	"testing"

	"github.com/cloudops-platform/orgevents/pkg/accountdirectory"
	"github.com/cloudops-platform/orgevents/pkg/analyzer"
	"github.com/cloudops-platform/orgevents/pkg/domain"
	"github.com/cloudops-platform/orgevents/pkg/healthfeed"
	"github.com/cloudops-platform/orgevents/pkg/queue"
)

type fakeEntities struct {
	entities []healthfeed.Entity
	err      error
	descCalls int
}

func (f *fakeEntities) DescribeAffectedEntitiesBatch(_ context.Context, _ string, _ []string) ([]healthfeed.Entity, error) {
	return f.entities, f.err
}

func (f *fakeEntities) DescribeEvent(_ context.Context, _, _ string) (domain.Description, error) {
	f.descCalls++
	return domain.NewDescription("raw description text"), nil
}

type fakeStatusResolver struct {
	statuses map[string]domain.Status
}

func (f *fakeStatusResolver) ResolvePerAccountStatus(_ context.Context, _ string, accounts []string, fallback domain.Status) map[string]domain.Status {
	out := make(map[string]domain.Status)
	for _, a := range accounts {
		if s, ok := f.statuses[a]; ok {
			out[a] = s
		} else {
			out[a] = fallback
		}
	}
	return out
}

type fakeAnalyzer struct {
	calls int
}

func (f *fakeAnalyzer) Analyze(_ context.Context, _ analyzer.EventInput) *domain.Analysis {
	f.calls++
	return &domain.Analysis{RiskLevel: domain.RiskMedium, RawText: "deferred analysis"}
}

type fakeNamer struct{}

func (f *fakeNamer) ResolveBatch(_ context.Context, accountIDs []string) map[string]accountdirectory.Account {
	out := make(map[string]accountdirectory.Account)
	for _, id := range accountIDs {
		out[id] = accountdirectory.Account{ID: id, Name: "acct-" + id}
	}
	return out
}

type fakeWriter struct {
	written []domain.Event
	failAccounts map[string]bool
}

func (f *fakeWriter) UpsertBatch(_ context.Context, events []domain.Event) ([]domain.Event, error) {
	var failed []domain.Event
	for _, e := range events {
		if f.failAccounts[e.AccountID] {
			failed = append(failed, e)
			continue
		}
		f.written = append(f.written, e)
	}
	if len(failed) > 0 {
		return failed, errWriteFailed
	}
	return nil, nil
}

var errWriteFailed = &writeError{}

type writeError struct{}

func (e *writeError) Error() string { return "write failed" }

func unit() queue.WorkUnit {
	analysisText := "cached analysis"
	return queue.WorkUnit{
		Event: queue.EventHeader{
			EventARN:       "arn:1",
			Service:        "EC2",
			EventTypeCode:  "AWS_EC2_OPERATIONAL_ISSUE",
			EventTypeCat:   "issue",
			LastUpdateTime: "2026-01-01T00:00:00Z",
			StatusCode:     "open",
		},
		Accounts:     []string{"111", "222"},
		Analysis:     &analysisText,
		Categories:   &domain.Analysis{RiskLevel: domain.RiskHigh},
		BatchNumber:  1,
		TotalBatches: 1,
	}
}

func TestProcessWritesOneRecordPerAccount(t *testing.T) {
	entities := &fakeEntities{entities: []healthfeed.Entity{
		{AccountID: "111", EntityValue: "i-abc", StatusCode: "IMPAIRED"},
	}}
	resolver := &fakeStatusResolver{statuses: map[string]domain.Status{}}
	an := &fakeAnalyzer{}
	writer := &fakeWriter{failAccounts: map[string]bool{}}
	w := New(entities, resolver, an, &fakeNamer{}, writer, nil)

	result, err := w.Process(context.Background(), unit())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(writer.written) != 2 {
		t.Fatalf("expected 2 records written, got %d", len(writer.written))
	}
	if len(result.Succeeded) != 2 {
		t.Errorf("expected 2 successes, got %d", len(result.Succeeded))
	}
	if an.calls != 0 {
		t.Errorf("expected no analyzer call when unit already carries analysis, got %d", an.calls)
	}
}

func TestProcessRunsDeferredAnalysisWhenAnalysisIsNil(t *testing.T) {
	entities := &fakeEntities{}
	resolver := &fakeStatusResolver{}
	an := &fakeAnalyzer{}
	writer := &fakeWriter{failAccounts: map[string]bool{}}
	w := New(entities, resolver, an, &fakeNamer{}, writer, nil)

	u := unit()
	u.Analysis = nil
	u.Categories = nil

	_, err := w.Process(context.Background(), u)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if an.calls != 1 {
		t.Errorf("expected exactly 1 deferred analyzer call, got %d", an.calls)
	}
	if entities.descCalls != 1 {
		t.Errorf("expected DescribeEvent called once for the first account, got %d", entities.descCalls)
	}
	if writer.written[0].Analysis == nil || writer.written[0].Analysis.RawText != "deferred analysis" {
		t.Error("expected the deferred analysis to be attached to the written record")
	}
}

func TestProcessReportsPartialBatchFailure(t *testing.T) {
	entities := &fakeEntities{}
	resolver := &fakeStatusResolver{}
	an := &fakeAnalyzer{}
	writer := &fakeWriter{failAccounts: map[string]bool{"222": true}}
	w := New(entities, resolver, an, &fakeNamer{}, writer, nil)

	result, err := w.Process(context.Background(), unit())
	if err == nil {
		t.Fatal("expected an error reporting the partial batch failure")
	}
	if len(result.FailedAccounts) != 1 || result.FailedAccounts[0] != "222" {
		t.Errorf("expected account 222 to be reported failed, got %+v", result.FailedAccounts)
	}
	if len(result.Succeeded) != 1 || result.Succeeded[0] != "111" {
		t.Errorf("expected account 111 to succeed, got %+v", result.Succeeded)
	}
}

func TestProcessEmptyAccountsIsNoop(t *testing.T) {
	w := New(&fakeEntities{}, &fakeStatusResolver{}, &fakeAnalyzer{}, &fakeNamer{}, &fakeWriter{failAccounts: map[string]bool{}}, nil)

	u := unit()
	u.Accounts = nil

	result, err := w.Process(context.Background(), u)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Succeeded) != 0 || len(result.FailedAccounts) != 0 {
		t.Errorf("expected no-op result for an empty account batch, got %+v", result)
	}
}

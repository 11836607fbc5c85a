package router

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/cloudops-platform/orgevents/pkg/changestream"
	"github.com/cloudops-platform/orgevents/pkg/dispatch"
	"github.com/cloudops-platform/orgevents/pkg/domain"
	"github.com/cloudops-platform/orgevents/pkg/healthfeed"
	"github.com/cloudops-platform/orgevents/pkg/queue"
	"github.com/cloudops-platform/orgevents/pkg/worker"
)

func TestClassifyQueueDelivery(t *testing.T) {
	raw := []byte(`{"Records":[{"source":"queue","workUnit":{"event":{"eventArn":"arn:1"},"accounts":["111"]}}]}`)
	kind, _, err := Classify(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != KindQueueDelivery {
		t.Errorf("expected KindQueueDelivery, got %s", kind)
	}
}

func TestClassifyChangeStream(t *testing.T) {
	raw := []byte(`{"Records":[{"source":"change-stream","streamRecord":{"EventName":"REMOVE"}}]}`)
	kind, _, err := Classify(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != KindChangeStream {
		t.Errorf("expected KindChangeStream, got %s", kind)
	}
}

func TestClassifyScheduledSync(t *testing.T) {
	raw := []byte(`{"mode":"scheduled_sync","lookback_days":14}`)
	kind, trigger, err := Classify(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != KindScheduledSync {
		t.Errorf("expected KindScheduledSync, got %s", kind)
	}
	if trigger.LookbackDays == nil || *trigger.LookbackDays != 14 {
		t.Errorf("expected lookback_days=14, got %+v", trigger.LookbackDays)
	}
}

func TestClassifyRecompute(t *testing.T) {
	raw := []byte(`{"mode":"recalculate_counts"}`)
	kind, _, err := Classify(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != KindRecompute {
		t.Errorf("expected KindRecompute, got %s", kind)
	}
}

func TestClassifySingleEvent(t *testing.T) {
	raw := []byte(`{"event_arn":"arn:health:123"}`)
	kind, trigger, err := Classify(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != KindSingleEvent {
		t.Errorf("expected KindSingleEvent, got %s", kind)
	}
	if trigger.EventARN != "arn:health:123" {
		t.Errorf("expected event_arn to round-trip, got %q", trigger.EventARN)
	}
}

func TestClassifyUnrecognized(t *testing.T) {
	raw := []byte(`{}`)
	kind, _, err := Classify(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != KindUnrecognized {
		t.Errorf("expected KindUnrecognized, got %s", kind)
	}
}

type fakeFeed struct {
	calls            int
	orgViewEnabled   bool
	orgViewErr       error
	affectedAccounts []string
}

func (f *fakeFeed) ListEvents(_ context.Context, _ healthfeed.Window, _ []string) ([]domain.Event, error) {
	f.calls++
	return []domain.Event{{EventARN: "arn:1"}}, nil
}

func (f *fakeFeed) ListAffectedAccounts(_ context.Context, _ string, _ int) ([]string, error) {
	return f.affectedAccounts, nil
}

func (f *fakeFeed) IsOrgViewEnabled(_ context.Context) (bool, error) {
	if f.orgViewErr != nil {
		return false, f.orgViewErr
	}
	return f.orgViewEnabled, nil
}

func newEnabledFeed() *fakeFeed {
	return &fakeFeed{orgViewEnabled: true}
}

type fakeDispatcher struct {
	events []domain.Event
}

func (f *fakeDispatcher) Dispatch(_ context.Context, events []domain.Event) (dispatch.Result, error) {
	f.events = events
	return dispatch.Result{EventsDispatched: len(events)}, nil
}

type fakeUnitWorker struct {
	units []queue.WorkUnit
}

func (f *fakeUnitWorker) Process(_ context.Context, unit queue.WorkUnit) (worker.BatchResult, error) {
	f.units = append(f.units, unit)
	return worker.BatchResult{}, nil
}

type fakeReactor struct {
	records []changestream.StreamRecord
}

func (f *fakeReactor) ProcessBatch(_ context.Context, records []changestream.StreamRecord) (changestream.Summary, error) {
	f.records = records
	return changestream.Summary{Processed: len(records)}, nil
}

type fakeRecomputer struct {
	calls int
}

func (f *fakeRecomputer) Recompute(_ context.Context) error {
	f.calls++
	return nil
}

func TestRouteScheduledSyncCallsFeedThenDispatcher(t *testing.T) {
	feed := newEnabledFeed()
	disp := &fakeDispatcher{}
	r := New(feed, disp, &fakeUnitWorker{}, &fakeReactor{}, &fakeRecomputer{}, nil, nil)

	raw, _ := json.Marshal(map[string]string{"mode": "scheduled_sync"})
	if err := r.Route(context.Background(), raw, healthfeed.Window{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if feed.calls != 1 {
		t.Errorf("expected feed called once, got %d", feed.calls)
	}
	if len(disp.events) != 1 {
		t.Errorf("expected dispatcher to receive fetched events, got %d", len(disp.events))
	}
}

func TestRouteRecomputeCallsCounters(t *testing.T) {
	rec := &fakeRecomputer{}
	r := New(&fakeFeed{}, &fakeDispatcher{}, &fakeUnitWorker{}, &fakeReactor{}, rec, nil, nil)

	raw, _ := json.Marshal(map[string]string{"mode": "recalculate_counts"})
	if err := r.Route(context.Background(), raw, healthfeed.Window{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.calls != 1 {
		t.Errorf("expected Recompute called once, got %d", rec.calls)
	}
}

func TestRouteQueueDeliveryCallsWorker(t *testing.T) {
	w := &fakeUnitWorker{}
	r := New(&fakeFeed{}, &fakeDispatcher{}, w, &fakeReactor{}, &fakeRecomputer{}, nil, nil)

	raw := []byte(`{"Records":[{"source":"queue","workUnit":{"event":{"eventArn":"arn:1"},"accounts":["111"]}}]}`)
	if err := r.Route(context.Background(), raw, healthfeed.Window{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(w.units) != 1 || w.units[0].Event.EventARN != "arn:1" {
		t.Errorf("expected worker to process the decoded unit, got %+v", w.units)
	}
}

func TestRouteChangeStreamCallsReactor(t *testing.T) {
	reactor := &fakeReactor{}
	r := New(&fakeFeed{}, &fakeDispatcher{}, &fakeUnitWorker{}, reactor, &fakeRecomputer{}, nil, nil)

	raw := []byte(`{"Records":[{"source":"change-stream","streamRecord":{"EventName":"INSERT"}}]}`)
	if err := r.Route(context.Background(), raw, healthfeed.Window{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reactor.records) != 1 {
		t.Errorf("expected reactor to receive 1 stream record, got %d", len(reactor.records))
	}
}

func TestRouteSingleEventCallsWorker(t *testing.T) {
	w := &fakeUnitWorker{}
	feed := newEnabledFeed()
	feed.affectedAccounts = []string{"111111111111", "222222222222"}
	r := New(feed, &fakeDispatcher{}, w, &fakeReactor{}, &fakeRecomputer{}, nil, nil)

	raw := []byte(`{"event_arn":"arn:health:999"}`)
	if err := r.Route(context.Background(), raw, healthfeed.Window{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(w.units) != 1 || w.units[0].Event.EventARN != "arn:health:999" {
		t.Errorf("expected worker to process a synthesized single-event unit, got %+v", w.units)
	}
	if len(w.units[0].Accounts) != 2 {
		t.Errorf("expected the single-event unit to carry resolved affected accounts, got %+v", w.units[0].Accounts)
	}
}

func TestRouteScheduledSyncAbortsWhenOrgViewNotEnabled(t *testing.T) {
	feed := &fakeFeed{orgViewEnabled: false}
	disp := &fakeDispatcher{}
	r := New(feed, disp, &fakeUnitWorker{}, &fakeReactor{}, &fakeRecomputer{}, nil, nil)

	raw, _ := json.Marshal(map[string]string{"mode": "scheduled_sync"})
	if err := r.Route(context.Background(), raw, healthfeed.Window{}); err == nil {
		t.Fatal("expected an error when organization view is not enabled")
	}
	if feed.calls != 0 {
		t.Errorf("expected ListEvents to never be called, got %d calls", feed.calls)
	}
	if disp.events != nil {
		t.Error("expected no partial writes via the dispatcher")
	}
}

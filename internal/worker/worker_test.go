package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/adsapi"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/events"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/queue"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/testutil"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/worker"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func i64(v int64) *int64 { return &v }

type fixture struct {
	store  *testutil.ActionStore
	guards *testutil.Guardrails
	pub    *testutil.Publisher
	api    *testutil.AdsAPI
	q      *queue.Queue
	now    time.Time
	slept  []time.Duration
	mu     sync.Mutex
}

func newFixture() *fixture {
	f := &fixture{
		guards: testutil.NewGuardrails(),
		pub:    &testutil.Publisher{},
		api:    testutil.NewAdsAPI(),
		now:    time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC),
	}
	f.store = testutil.NewActionStore(f.guards)
	f.store.SetClock(f.clock)
	f.q = queue.New(f.store, f.guards, &testutil.Auditor{}, f.pub, 24*time.Hour, testutil.Logger()).WithClock(f.clock)
	return f
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *fixture) sleep(_ context.Context, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slept = append(f.slept, d)
	return nil
}

func (f *fixture) worker(id string, cfg worker.Config) *worker.Worker {
	cfg.ID = id
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = worker.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
	}
	cfg.Retry.Sleeper = f.sleep
	return worker.New(cfg, f.q, f.guards, f.api, f.pub, testutil.Logger()).WithClock(f.clock)
}

func (f *fixture) enqueueBid(t *testing.T, keywordID string, bid int64) *models.ActionQueueItem {
	t.Helper()
	res, err := f.q.Enqueue(context.Background(), queue.EnqueueRequest{
		ProfileID:  "p1",
		ActionType: models.ActionSetBid,
		Payload: models.ActionPayload{
			EntityType: models.EntityKeyword,
			EntityID:   keywordID,
			CampaignID: "c-1",
			AdGroupID:  "ag-1",
			BidMicros:  i64(bid),
		},
		Source: models.SourceRule,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if res.Outcome != queue.Inserted {
		t.Fatalf("Enqueue outcome = %q", res.Outcome)
	}
	return res.Item
}

func (f *fixture) get(t *testing.T, item *models.ActionQueueItem) *models.ActionQueueItem {
	t.Helper()
	got, err := f.q.Get(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return got
}

func TestRunOnceApplies(t *testing.T) {
	f := newFixture()
	item := f.enqueueBid(t, "kw-1", 800000)

	stats, err := f.worker("w1", worker.Config{}).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if stats.Processed != 1 || stats.Applied != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	got := f.get(t, item)
	if got.Status != models.ActionStatusApplied {
		t.Fatalf("status = %s, want applied", got.Status)
	}
	if got.AmazonRequestID == nil || *got.AmazonRequestID != "req-1" {
		t.Errorf("request id not recorded: %v", got.AmazonRequestID)
	}
	if got.AppliedAt == nil {
		t.Errorf("applied_at not set")
	}

	calls := f.api.Calls()
	if len(calls) != 1 || calls[0].Method != "UpdateKeywords" || calls[0].ProfileID != "p1" {
		t.Fatalf("calls = %+v", calls)
	}
	updates := calls[0].Body.([]adsapi.KeywordUpdate)
	if updates[0].KeywordID != "kw-1" || updates[0].Bid == nil || *updates[0].Bid != 0.8 {
		t.Errorf("update = %+v", updates[0])
	}
	if n := len(f.pub.Events(events.EventActionApplied)); n != 1 {
		t.Errorf("action_applied events = %d, want 1", n)
	}
}

func TestRunOnceNonRetriableFails(t *testing.T) {
	f := newFixture()
	item := f.enqueueBid(t, "kw-1", 800000)
	f.api.FailNext(&adsapi.APIError{StatusCode: 400, Code: "INVALID_ARGUMENT", Message: "bid too low", RequestID: "r-400"})

	stats, err := f.worker("w1", worker.Config{}).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if n := f.api.CallCount(); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
	got := f.get(t, item)
	if got.Status != models.ActionStatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.Error == nil || *got.Error == "" {
		t.Errorf("error not recorded")
	}
	if got.AmazonRequestID == nil || *got.AmazonRequestID != "r-400" {
		t.Errorf("request id = %v, want r-400", got.AmazonRequestID)
	}
}

func TestRunOnceRetriesWithinBound(t *testing.T) {
	f := newFixture()
	item := f.enqueueBid(t, "kw-1", 800000)
	f.api.FailNext(
		&adsapi.APIError{StatusCode: 503},
		&adsapi.APIError{StatusCode: 429, RetryAfter: 4 * time.Second},
	)

	stats, err := f.worker("w1", worker.Config{}).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if stats.Applied != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if n := f.api.CallCount(); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
	if len(f.slept) != 2 {
		t.Fatalf("slept = %v, want 2 waits", f.slept)
	}
	if f.slept[1] < 4*time.Second {
		t.Errorf("second wait %v should honour Retry-After", f.slept[1])
	}
	if got := f.get(t, item); got.Status != models.ActionStatusApplied {
		t.Errorf("status = %s, want applied", got.Status)
	}
}

func TestRunOnceReleasesAfterExhaustedRetries(t *testing.T) {
	f := newFixture()
	item := f.enqueueBid(t, "kw-1", 800000)
	for i := 0; i < 5; i++ {
		f.api.FailNext(&adsapi.APIError{StatusCode: 503})
	}
	w := f.worker("w1", worker.Config{MaxDeliveries: 3})

	stats, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if stats.Released != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if n := f.api.CallCount(); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
	got := f.get(t, item)
	if got.Status != models.ActionStatusQueued || got.Attempts != 1 || got.ClaimedBy != nil {
		t.Fatalf("after release: status=%s attempts=%d claimed=%v", got.Status, got.Attempts, got.ClaimedBy)
	}
	if got.NotBefore == nil || !got.NotBefore.After(f.clock()) {
		t.Fatalf("not_before = %v, want in the future", got.NotBefore)
	}

	stats, _ = w.RunOnce(context.Background())
	if stats.Processed != 0 {
		t.Errorf("item claimed before not_before: %+v", stats)
	}

	f.advance(time.Hour)
	stats, err = w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if stats.Applied != 1 {
		t.Fatalf("second delivery stats = %+v", stats)
	}
	if n := f.api.CallCount(); n != 6 {
		t.Errorf("calls = %d, want 6", n)
	}
}

func TestRunOnceFailsAfterMaxDeliveries(t *testing.T) {
	f := newFixture()
	item := f.enqueueBid(t, "kw-1", 800000)
	for i := 0; i < 3; i++ {
		f.api.FailNext(errors.New("connection reset"))
	}

	stats, err := f.worker("w1", worker.Config{MaxDeliveries: 1}).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	got := f.get(t, item)
	if got.Status != models.ActionStatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
}

func TestRunOnceAuthErrorPublishesEvent(t *testing.T) {
	f := newFixture()
	item := f.enqueueBid(t, "kw-1", 800000)
	f.api.FailNext(&adsapi.APIError{StatusCode: 401, Code: "UNAUTHORIZED"})

	if _, err := f.worker("w1", worker.Config{}).RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if got := f.get(t, item); got.Status != models.ActionStatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if n := f.api.CallCount(); n != 1 {
		t.Errorf("401 must not be retried, calls = %d", n)
	}
	evs := f.pub.Events(events.EventAuthExpired)
	if len(evs) != 1 {
		t.Fatalf("auth_expired events = %d, want 1", len(evs))
	}
	if evs[0].Payload["profile_id"] != "p1" {
		t.Errorf("payload = %v", evs[0].Payload)
	}
}

func TestRunOnceSkipsProtectedAfterEnqueue(t *testing.T) {
	f := newFixture()
	item := f.enqueueBid(t, "kw-1", 800000)
	f.guards.Protect("p1", models.EntityAdGroup, "ag-1")

	stats, err := f.worker("w1", worker.Config{}).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if stats.Skipped != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if n := f.api.CallCount(); n != 0 {
		t.Errorf("api called %d times for a protected entity", n)
	}
	got := f.get(t, item)
	if got.Status != models.ActionStatusSkipped || got.StatusReason == nil {
		t.Errorf("status = %s reason = %v", got.Status, got.StatusReason)
	}
}

func TestRunOnceSkipsBidOutOfBounds(t *testing.T) {
	f := newFixture()
	item := f.enqueueBid(t, "kw-1", 800000)
	g := models.DefaultGuardrails("p1")
	g.BidMaxMicros = 500000
	f.guards.Set(g)

	if _, err := f.worker("w1", worker.Config{}).RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if got := f.get(t, item); got.Status != models.ActionStatusSkipped {
		t.Errorf("status = %s, want skipped", got.Status)
	}
}

// disabledReader reports automation off regardless of what the store saw at claim time.
type disabledReader struct{}

func (disabledReader) GetGuardrails(_ context.Context, profileID string) (*models.GuardrailSettings, error) {
	g := models.DefaultGuardrails(profileID)
	g.AutomationEnabled = false
	return g, nil
}

func TestRunOnceKillSwitchReleasesWithoutAttempt(t *testing.T) {
	f := newFixture()
	item := f.enqueueBid(t, "kw-1", 800000)
	w := worker.New(worker.Config{ID: "w1"}, f.q, disabledReader{}, f.api, f.pub, testutil.Logger())

	stats, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if stats.Released != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if n := f.api.CallCount(); n != 0 {
		t.Errorf("api called %d times with automation disabled", n)
	}
	got := f.get(t, item)
	if got.Status != models.ActionStatusQueued || got.Attempts != 0 || got.ClaimedBy != nil {
		t.Errorf("status=%s attempts=%d claimed=%v", got.Status, got.Attempts, got.ClaimedBy)
	}
}

func TestRunOnceDisabledProfileNotClaimed(t *testing.T) {
	f := newFixture()
	f.enqueueBid(t, "kw-1", 800000)
	f.guards.SetKillSwitch("p1", false)

	stats, err := f.worker("w1", worker.Config{}).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if stats.Processed != 0 || f.api.CallCount() != 0 {
		t.Errorf("stats = %+v calls = %d", stats, f.api.CallCount())
	}
}

func TestRunOnceCancelledReleasesWithoutAttempt(t *testing.T) {
	f := newFixture()
	item := f.enqueueBid(t, "kw-1", 800000)
	f.api.Delay = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := f.worker("w1", worker.Config{}).RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if stats.Released != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	got := f.get(t, item)
	if got.Status != models.ActionStatusQueued || got.Attempts != 0 {
		t.Errorf("status=%s attempts=%d", got.Status, got.Attempts)
	}
}

func TestConcurrentWorkersApplyEachItemOnce(t *testing.T) {
	f := newFixture()
	var items []*models.ActionQueueItem
	for i := 0; i < 20; i++ {
		items = append(items, f.enqueueBid(t, fmt.Sprintf("kw-%d", i), 800000))
	}
	f.api.Delay = time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		w := f.worker(fmt.Sprintf("w%d", i), worker.Config{BatchSize: 3, Concurrency: 2})
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				stats, err := w.RunOnce(context.Background())
				if err != nil {
					t.Errorf("RunOnce: %v", err)
					return
				}
				if stats.Processed == 0 {
					return
				}
			}
		}()
	}
	wg.Wait()

	if n := f.api.CallCount(); n != len(items) {
		t.Errorf("api calls = %d, want %d", n, len(items))
	}
	for _, it := range items {
		got := f.get(t, it)
		if got.Status != models.ActionStatusApplied {
			t.Errorf("%s status = %s", it.ID, got.Status)
		}
		if n := f.store.TerminalTransitions(it.ID); n != 1 {
			t.Errorf("%s terminal transitions = %d", it.ID, n)
		}
		if n := f.store.ClaimCount(it.ID); n != 1 {
			t.Errorf("%s claimed %d times", it.ID, n)
		}
	}
}

func TestLateCompletionAfterLeaseExpiry(t *testing.T) {
	f := newFixture()
	item := f.enqueueBid(t, "kw-1", 800000)

	claimed, err := f.q.Claim(context.Background(), "slow", time.Minute, 10)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("Claim: %v %d", err, len(claimed))
	}
	f.advance(2 * time.Minute)

	stats, err := f.worker("fast", worker.Config{}).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if stats.Applied != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	err = f.q.MarkApplied(context.Background(), &claimed[0], "slow", queue.StatusUpdate{Reason: "applied"})
	if !errors.Is(err, queue.ErrClaimLost) {
		t.Fatalf("late completion err = %v, want ErrClaimLost", err)
	}
	if n := f.store.TerminalTransitions(item.ID); n != 1 {
		t.Errorf("terminal transitions = %d, want 1", n)
	}
}

func TestDrainLogsEachPassOnce(t *testing.T) {
	f := newFixture()
	for i := 0; i < 3; i++ {
		f.enqueueBid(t, fmt.Sprintf("kw-%d", i), 600000)
	}

	core, logs := observer.New(zap.InfoLevel)
	w := worker.New(worker.Config{ID: "w1", BatchSize: 2}, f.q, f.guards, f.api, f.pub, zap.New(core)).WithClock(f.clock)

	stats, err := w.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if stats.Processed != 3 || stats.Applied != 3 {
		t.Errorf("stats = %+v, want 3 processed and applied", stats)
	}
	if n := logs.FilterMessage("worker pass finished").Len(); n != 2 {
		t.Errorf("pass summaries = %d, want 2", n)
	}
}

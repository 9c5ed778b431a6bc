package playbook_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/events"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/playbook"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/queue"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/testutil"
	"github.com/google/uuid"
)

func i64(v int64) *int64 { return &v }

var runNow = time.Date(2026, 5, 4, 6, 0, 0, 0, time.UTC)

type fixture struct {
	store   *testutil.ActionStore
	guards  *testutil.Guardrails
	metrics *testutil.Metrics
	runs    *testutil.PlaybookRuns
	pub     *testutil.Publisher
	orch    *playbook.Orchestrator
}

func newFixture() *fixture {
	f := &fixture{
		guards:  testutil.NewGuardrails(),
		metrics: testutil.NewMetrics(),
		runs:    testutil.NewPlaybookRuns(),
		pub:     &testutil.Publisher{},
	}
	clock := func() time.Time { return runNow }
	f.store = testutil.NewActionStore(f.guards)
	f.store.SetClock(clock)
	audit := &testutil.Auditor{}
	q := queue.New(f.store, f.guards, audit, f.pub, 24*time.Hour, testutil.Logger()).WithClock(clock)
	f.orch = playbook.NewOrchestrator(q, f.guards, f.metrics, f.runs, audit, f.pub, 0, testutil.Logger()).WithClock(clock)
	return f
}

func harvestDef() *models.PlaybookDefinition {
	return &models.PlaybookDefinition{
		ID:        uuid.New(),
		ProfileID: "p1",
		Name:      "harvest",
		Template:  models.PlaybookHarvestThenNegate,
		Enabled:   true,
		Params: models.Params{
			"minConversions": 2,
			"minSales":       50,
			"maxACOS":        30,
			"bidMicros":      750000,
		},
	}
}

func term(id, text string, conv int64, sales, spend float64) models.EntityMetrics {
	return models.EntityMetrics{
		EntityType:  models.EntitySearchTerm,
		EntityID:    id,
		CampaignID:  "c-1",
		AdGroupID:   "ag-1",
		KeywordText: text,
		MatchType:   models.MatchBroad,
		Days:        30,
		Metrics:     models.AggregateMetrics{Spend: spend, Sales: sales, Conversions: conv, Clicks: 40},
	}
}

func TestHarvestThenNegateAuto(t *testing.T) {
	f := newFixture()
	f.metrics.Set(models.EntitySearchTerm, term("st-1", "trail running shoes", 3, 60, 12))

	run, err := f.orch.Run(context.Background(), harvestDef(), "p1", models.ModeAuto)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != models.PlaybookRunSuccess {
		t.Fatalf("status = %s, error = %v", run.Status, run.Error)
	}
	if run.ActionsProposed != 2 || run.ActionsEnqueued != 2 {
		t.Errorf("proposed = %d enqueued = %d, want 2/2", run.ActionsProposed, run.ActionsEnqueued)
	}

	items := f.store.All()
	if len(items) != 2 {
		t.Fatalf("queue has %d items, want 2", len(items))
	}
	types := map[models.ActionType]models.ActionQueueItem{}
	for _, it := range items {
		types[it.ActionType] = it
		if it.Payload.AdGroupID != "ag-1" || it.Payload.EntityID != "ag-1" {
			t.Errorf("%s targets %s/%s, want ag-1", it.ActionType, it.Payload.EntityID, it.Payload.AdGroupID)
		}
		if it.Source != models.SourcePlaybook || it.PlaybookRunID == nil || *it.PlaybookRunID != run.ID {
			t.Errorf("%s not linked to run", it.ActionType)
		}
		if it.Status != models.ActionStatusQueued {
			t.Errorf("%s status = %s", it.ActionType, it.Status)
		}
	}
	kw, ok := types[models.ActionCreateKeyword]
	if !ok || kw.Payload.MatchType != models.MatchExact || kw.Payload.KeywordText != "trail running shoes" {
		t.Errorf("create_keyword = %+v", kw.Payload)
	}
	if kw.Payload.BidMicros == nil || *kw.Payload.BidMicros != 750000 {
		t.Errorf("create_keyword bid = %v", kw.Payload.BidMicros)
	}
	neg, ok := types[models.ActionAddAdGroupNegative]
	if !ok || neg.Payload.MatchType != models.MatchNegativeExact {
		t.Errorf("add_adgroup_negative = %+v", neg.Payload)
	}

	stored, ok := f.runs.Get(run.ID)
	if !ok || stored.Status != models.PlaybookRunSuccess || stored.FinishedAt == nil || len(stored.Steps) != 2 {
		t.Errorf("stored run = %+v", stored)
	}
	if n := len(f.pub.Events(events.EventPlaybookRunFinished)); n != 1 {
		t.Errorf("playbook_run_finished events = %d", n)
	}
}

func TestHarvestSkipsNonQualifyingTerms(t *testing.T) {
	f := newFixture()
	f.metrics.Set(models.EntitySearchTerm,
		term("st-1", "one conversion", 1, 60, 12),
		term("st-2", "low sales", 3, 40, 8),
		term("st-3", "high acos", 3, 60, 30),
		term("st-4", "no sales", 3, 0, 30),
	)

	run, err := f.orch.Run(context.Background(), harvestDef(), "p1", models.ModeAuto)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.ActionsProposed != 0 || len(f.store.All()) != 0 {
		t.Errorf("proposed = %d, queued = %d", run.ActionsProposed, len(f.store.All()))
	}
	if run.Status != models.PlaybookRunSuccess {
		t.Errorf("status = %s", run.Status)
	}
}

func TestDryRunDoesNotEnqueue(t *testing.T) {
	for _, mode := range []models.Mode{models.ModeDryRun, models.ModeSuggestion} {
		t.Run(string(mode), func(t *testing.T) {
			f := newFixture()
			f.metrics.Set(models.EntitySearchTerm, term("st-1", "trail running shoes", 3, 60, 12))

			run, err := f.orch.Run(context.Background(), harvestDef(), "p1", mode)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if n := len(f.store.All()); n != 0 {
				t.Errorf("queue has %d items, want 0", n)
			}
			if run.ActionsProposed != 2 || run.ActionsEnqueued != 0 {
				t.Errorf("proposed = %d enqueued = %d", run.ActionsProposed, run.ActionsEnqueued)
			}
			for _, s := range run.Steps {
				if s.Outcome != models.StepSimulated {
					t.Errorf("step outcome = %s, want simulated", s.Outcome)
				}
			}
			if _, ok := f.runs.Get(run.ID); !ok {
				t.Errorf("run not recorded")
			}
		})
	}
}

func TestPartialInsertFailureIsRecorded(t *testing.T) {
	f := newFixture()
	f.metrics.Set(models.EntitySearchTerm,
		term("st-1", "trail running shoes", 3, 60, 12),
		term("st-2", "hiking boots", 4, 80, 16),
	)
	f.store.FailInsert = func(item *models.ActionQueueItem) error {
		if item.ActionType == models.ActionAddAdGroupNegative && item.Payload.KeywordText == "hiking boots" {
			return errors.New("connection reset")
		}
		return nil
	}

	run, err := f.orch.Run(context.Background(), harvestDef(), "p1", models.ModeAuto)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != models.PlaybookRunSuccess {
		t.Errorf("status = %s, want success on partial failure", run.Status)
	}
	if run.ActionsProposed != 4 || run.ActionsEnqueued != 3 {
		t.Errorf("proposed = %d enqueued = %d, want 4/3", run.ActionsProposed, run.ActionsEnqueued)
	}
	if run.Error == nil || !strings.Contains(*run.Error, "1 of 4") {
		t.Errorf("run error = %v", run.Error)
	}
	failed := 0
	for _, s := range run.Steps {
		if s.Outcome == models.StepInsertFail {
			failed++
			if s.Error == "" {
				t.Errorf("failed step without error")
			}
		}
	}
	if failed != 1 {
		t.Errorf("failed steps = %d, want 1", failed)
	}
	if n := len(f.store.All()); n != 3 {
		t.Errorf("queue has %d items, want 3", n)
	}
}

func TestAllInsertsFailingFailsRun(t *testing.T) {
	f := newFixture()
	f.metrics.Set(models.EntitySearchTerm, term("st-1", "trail running shoes", 3, 60, 12))
	f.store.FailInsert = func(*models.ActionQueueItem) error { return errors.New("database unavailable") }

	run, err := f.orch.Run(context.Background(), harvestDef(), "p1", models.ModeAuto)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != models.PlaybookRunFailed || run.Error == nil {
		t.Errorf("status = %s error = %v", run.Status, run.Error)
	}
}

func TestRerunIsIdempotent(t *testing.T) {
	f := newFixture()
	f.metrics.Set(models.EntitySearchTerm, term("st-1", "trail running shoes", 3, 60, 12))
	def := harvestDef()

	if _, err := f.orch.Run(context.Background(), def, "p1", models.ModeAuto); err != nil {
		t.Fatalf("Run: %v", err)
	}
	run, err := f.orch.Run(context.Background(), def, "p1", models.ModeAuto)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.DuplicatesIgnored != 2 || run.ActionsEnqueued != 0 {
		t.Errorf("duplicates = %d enqueued = %d", run.DuplicatesIgnored, run.ActionsEnqueued)
	}
	if n := len(f.store.All()); n != 2 {
		t.Errorf("queue has %d items, want 2", n)
	}
}

func TestProtectedAdGroupDropsSteps(t *testing.T) {
	f := newFixture()
	f.metrics.Set(models.EntitySearchTerm, term("st-1", "trail running shoes", 3, 60, 12))
	f.guards.Protect("p1", models.EntityCampaign, "c-1")

	run, err := f.orch.Run(context.Background(), harvestDef(), "p1", models.ModeAuto)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := len(f.store.All()); n != 0 {
		t.Errorf("queue has %d items, want 0", n)
	}
	for _, s := range run.Steps {
		if s.Outcome != models.StepDropped {
			t.Errorf("step outcome = %s, want dropped", s.Outcome)
		}
	}
}

func TestAutoWithAutomationDisabledFails(t *testing.T) {
	f := newFixture()
	f.metrics.Set(models.EntitySearchTerm, term("st-1", "trail running shoes", 3, 60, 12))
	f.guards.SetKillSwitch("p1", false)

	run, err := f.orch.Run(context.Background(), harvestDef(), "p1", models.ModeAuto)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != models.PlaybookRunFailed {
		t.Errorf("status = %s, want failed", run.Status)
	}
	if n := len(f.store.All()); n != 0 {
		t.Errorf("queue has %d items", n)
	}
}

func TestMetricsErrorFailsRun(t *testing.T) {
	f := newFixture()
	f.metrics.Err = errors.New("warehouse timeout")

	run, err := f.orch.Run(context.Background(), harvestDef(), "p1", models.ModeAuto)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != models.PlaybookRunFailed || run.Error == nil || !strings.Contains(*run.Error, "warehouse timeout") {
		t.Errorf("run = %+v", run)
	}
}

func TestBidDownPlaybookClampsToGuardrails(t *testing.T) {
	f := newFixture()
	g := models.DefaultGuardrails("p1")
	g.BidMinMicros = 850000
	f.guards.Set(g)
	f.metrics.Set(models.EntityKeyword, models.EntityMetrics{
		EntityType:       models.EntityKeyword,
		EntityID:         "kw-1",
		CampaignID:       "c-1",
		AdGroupID:        "ag-1",
		CurrentBidMicros: i64(1000000),
		Days:             14,
		Metrics:          models.AggregateMetrics{Spend: 45, Sales: 100, Clicks: 50},
	})
	def := &models.PlaybookDefinition{
		ID:       uuid.New(),
		Name:     "trim bids",
		Template: models.PlaybookBidDownHighACOS,
		Enabled:  true,
		Params:   models.Params{"acosThreshold": 30, "bidReductionPercent": 20, "minBidMicros": 100000},
	}

	run, err := f.orch.Run(context.Background(), def, "p1", models.ModeAuto)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.ActionsEnqueued != 1 {
		t.Fatalf("enqueued = %d, steps = %+v", run.ActionsEnqueued, run.Steps)
	}
	it := f.store.All()[0]
	if it.ActionType != models.ActionSetBid || *it.Payload.BidMicros != 850000 {
		t.Errorf("item = %s bid %d, want set_bid 850000", it.ActionType, *it.Payload.BidMicros)
	}
}

func TestPlacementOptimizerProposesNothing(t *testing.T) {
	f := newFixture()
	def := &models.PlaybookDefinition{ID: uuid.New(), Name: "placements", Template: models.PlaybookPlacementOptimizer, Enabled: true}

	run, err := f.orch.Run(context.Background(), def, "p1", models.ModeAuto)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != models.PlaybookRunSuccess || run.ActionsProposed != 0 {
		t.Errorf("run = %+v", run)
	}
}

func TestRunRejectsBadInput(t *testing.T) {
	f := newFixture()
	disabled := harvestDef()
	disabled.Enabled = false
	unknown := harvestDef()
	unknown.Template = "rebalance_everything"
	missing := harvestDef()
	delete(missing.Params, "maxACOS")

	tests := []struct {
		name      string
		def       *models.PlaybookDefinition
		profileID string
		mode      models.Mode
		wantErr   error
	}{
		{"missing profile", harvestDef(), "", models.ModeAuto, nil},
		{"other profile", harvestDef(), "p2", models.ModeAuto, playbook.ErrProfileMismatch},
		{"disabled", disabled, "p1", models.ModeAuto, playbook.ErrDisabled},
		{"bad mode", harvestDef(), "p1", "yolo", nil},
		{"unknown template", unknown, "p1", models.ModeAuto, playbook.ErrUnknownTemplate},
		{"missing param", missing, "p1", models.ModeAuto, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run, err := f.orch.Run(context.Background(), tt.def, tt.profileID, tt.mode)
			if err == nil {
				t.Fatalf("expected error, got run %+v", run)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

package services_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/engine"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/events"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/queue"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/services"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/testutil"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/throttle"
)

func i64(v int64) *int64 { return &v }

var runNow = time.Date(2026, 5, 4, 6, 0, 0, 0, time.UTC)

type fixture struct {
	store   *testutil.ActionStore
	guards  *testutil.Guardrails
	metrics *testutil.Metrics
	rules   *testutil.Rules
	alerts  *testutil.Alerts
	locker  *testutil.Locker
	audit   *testutil.Auditor
	pub     *testutil.Publisher
	queue   *queue.Queue
	svc     *services.AutomationService
}

func newFixture() *fixture {
	f := &fixture{
		guards:  testutil.NewGuardrails(),
		metrics: testutil.NewMetrics(),
		rules:   testutil.NewRules(),
		alerts:  &testutil.Alerts{},
		locker:  testutil.NewLocker(),
		audit:   &testutil.Auditor{},
		pub:     &testutil.Publisher{},
	}
	clock := func() time.Time { return runNow }
	f.store = testutil.NewActionStore(f.guards)
	f.store.SetClock(clock)
	f.queue = queue.New(f.store, f.guards, f.audit, f.pub, 24*time.Hour, testutil.Logger()).WithClock(clock)
	f.svc = services.NewAutomationService(services.AutomationDeps{
		Rules:     f.rules,
		Alerts:    f.alerts,
		Guards:    f.guards,
		Metrics:   f.metrics,
		Engine:    engine.New(0),
		Throttle:  throttle.NewController(f.store, 0),
		Queue:     f.queue,
		Locker:    f.locker,
		Audit:     f.audit,
		Publisher: f.pub,
	}, testutil.Logger()).WithClock(clock)
	return f
}

func (f *fixture) addRule(t *testing.T, r *models.AutomationRule) *models.AutomationRule {
	t.Helper()
	if err := f.rules.Create(context.Background(), r); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	return r
}

func bidDownRule(mode models.Mode) *models.AutomationRule {
	return &models.AutomationRule{
		ProfileID: "p1",
		Name:      "bid down",
		RuleType:  models.RuleBidDownHighACOS,
		Mode:      mode,
		Enabled:   true,
		Params: models.Params{
			"acosThreshold":       30,
			"bidReductionPercent": 20,
			"minBidMicros":        100000,
		},
		Action: models.RuleAction{Type: models.ActionSetBid},
	}
}

func keyword(id, campaign string, bid int64) models.EntityMetrics {
	return models.EntityMetrics{
		EntityType:       models.EntityKeyword,
		EntityID:         id,
		CampaignID:       campaign,
		AdGroupID:        "ag-" + id,
		CurrentBidMicros: i64(bid),
		Days:             14,
		Metrics:          models.AggregateMetrics{Spend: 45, Sales: 100, Clicks: 40, Conversions: 2},
	}
}

func TestRunRuleAutoEnqueues(t *testing.T) {
	f := newFixture()
	rule := f.addRule(t, bidDownRule(models.ModeAuto))
	f.metrics.Set(models.EntityKeyword, keyword("kw-1", "c-1", 1000000))

	res, err := f.svc.RunRule(context.Background(), rule.ID)
	if err != nil {
		t.Fatalf("RunRule: %v", err)
	}
	if res.ActionsProposed != 1 || res.ActionsEnqueued != 1 {
		t.Fatalf("proposed/enqueued = %d/%d, want 1/1", res.ActionsProposed, res.ActionsEnqueued)
	}

	items := f.store.All()
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	it := items[0]
	if it.Status != models.ActionStatusQueued {
		t.Errorf("status = %s, want queued", it.Status)
	}
	if it.Source != models.SourceRule || it.RuleID == nil || *it.RuleID != rule.ID {
		t.Errorf("source = %s rule = %v, want rule %s", it.Source, it.RuleID, rule.ID)
	}
	if got := *it.Payload.BidMicros; got != 800000 {
		t.Errorf("bid = %d, want 800000", got)
	}

	stored, _ := f.rules.GetByID(context.Background(), rule.ID)
	if stored.LastRunAt == nil || !stored.LastRunAt.Equal(runNow) {
		t.Errorf("last_run_at = %v, want %v", stored.LastRunAt, runNow)
	}
	if n := len(f.pub.Events(events.EventRuleRunFinished)); n != 1 {
		t.Errorf("rule_run_finished events = %d, want 1", n)
	}

	// The window ends yesterday and spans the rule's lookback.
	ranges := f.metrics.Ranges()
	if len(ranges) != 1 {
		t.Fatalf("metrics read %d times, want 1", len(ranges))
	}
	wantTo := time.Date(2026, 5, 3, 0, 0, 0, 0, time.UTC)
	if !ranges[0].To.Equal(wantTo) || !ranges[0].From.Equal(wantTo.AddDate(0, 0, -13)) {
		t.Errorf("range = %v..%v", ranges[0].From, ranges[0].To)
	}
}

func TestRunRuleSuggestionNeedsApproval(t *testing.T) {
	f := newFixture()
	rule := f.addRule(t, bidDownRule(models.ModeSuggestion))
	f.metrics.Set(models.EntityKeyword, keyword("kw-1", "c-1", 1000000))

	res, err := f.svc.RunRule(context.Background(), rule.ID)
	if err != nil {
		t.Fatalf("RunRule: %v", err)
	}
	if res.PendingApproval != 1 || res.ActionsEnqueued != 0 {
		t.Errorf("pending/enqueued = %d/%d, want 1/0", res.PendingApproval, res.ActionsEnqueued)
	}
	items := f.store.All()
	if len(items) != 1 || items[0].Status != models.ActionStatusPendingApproval {
		t.Fatalf("items = %+v, want one pending_approval", items)
	}
}

func TestRunRuleDryRunOnlyAlerts(t *testing.T) {
	f := newFixture()
	rule := f.addRule(t, bidDownRule(models.ModeDryRun))
	f.metrics.Set(models.EntityKeyword, keyword("kw-1", "c-1", 1000000))

	res, err := f.svc.RunRule(context.Background(), rule.ID)
	if err != nil {
		t.Fatalf("RunRule: %v", err)
	}
	if n := len(f.store.All()); n != 0 {
		t.Errorf("dry run queued %d items", n)
	}
	if res.AlertsCreated != 1 {
		t.Fatalf("alerts created = %d, want 1", res.AlertsCreated)
	}

	a := f.alerts.All()[0]
	if a.Severity != models.SeverityInfo {
		t.Errorf("severity = %s, want info", a.Severity)
	}
	if a.Data["simulated"] != true {
		t.Errorf("alert data = %v, want simulated action", a.Data)
	}
	action, ok := a.Data["action"].(map[string]any)
	if !ok || action["action_type"] != models.ActionSetBid {
		t.Errorf("simulated action = %v", a.Data["action"])
	}
	if a.RuleID == nil || *a.RuleID != rule.ID {
		t.Errorf("alert rule = %v, want %s", a.RuleID, rule.ID)
	}
}

func TestRunRuleDailyCap(t *testing.T) {
	f := newFixture()
	r := bidDownRule(models.ModeAuto)
	r.Throttle.MaxActionsPerDay = 1
	rule := f.addRule(t, r)
	f.metrics.Set(models.EntityKeyword,
		keyword("kw-1", "c-1", 1000000),
		keyword("kw-2", "c-1", 1000000),
		keyword("kw-3", "c-1", 1000000),
	)

	res, err := f.svc.RunRule(context.Background(), rule.ID)
	if err != nil {
		t.Fatalf("RunRule: %v", err)
	}
	if res.ActionsEnqueued != 1 || res.ActionsDeferred != 2 {
		t.Errorf("enqueued/deferred = %d/%d, want 1/2", res.ActionsEnqueued, res.ActionsDeferred)
	}
	if n := len(f.store.All()); n != 1 {
		t.Errorf("items = %d, want 1", n)
	}
}

func TestRunRuleCooldownDefersRerun(t *testing.T) {
	f := newFixture()
	r := bidDownRule(models.ModeAuto)
	r.Throttle.CooldownHours = 24
	rule := f.addRule(t, r)
	f.metrics.Set(models.EntityKeyword, keyword("kw-1", "c-1", 1000000))

	if _, err := f.svc.RunRule(context.Background(), rule.ID); err != nil {
		t.Fatalf("first run: %v", err)
	}
	res, err := f.svc.RunRule(context.Background(), rule.ID)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.ActionsDeferred != 1 || res.ActionsEnqueued != 0 {
		t.Errorf("deferred/enqueued = %d/%d, want 1/0", res.ActionsDeferred, res.ActionsEnqueued)
	}
	if n := len(f.store.All()); n != 1 {
		t.Errorf("items = %d, want 1", n)
	}
}

func TestRunRuleCapCountsFailedActions(t *testing.T) {
	f := newFixture()
	r := bidDownRule(models.ModeAuto)
	r.Throttle.MaxActionsPerDay = 1
	rule := f.addRule(t, r)
	f.metrics.Set(models.EntityKeyword,
		keyword("kw-1", "c-1", 1000000),
		keyword("kw-2", "c-1", 1000000),
	)

	for i := 0; i < 3; i++ {
		res, err := f.svc.RunRule(context.Background(), rule.ID)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if i > 0 && res.ActionsEnqueued != 0 {
			t.Errorf("run %d enqueued %d, want 0", i, res.ActionsEnqueued)
		}
		for _, it := range f.store.All() {
			if it.Status == models.ActionStatusQueued {
				f.store.ForceStatus(it.ID, models.ActionStatusFailed)
			}
		}
	}

	reached := 0
	for _, it := range f.store.All() {
		if it.QueuedAt != nil {
			reached++
		}
	}
	if reached != 1 {
		t.Errorf("%d items reached queued, want 1", reached)
	}
}

func TestRunRuleCapIgnoresRejectedSuggestions(t *testing.T) {
	f := newFixture()
	r := bidDownRule(models.ModeSuggestion)
	r.Throttle.MaxActionsPerDay = 1
	rule := f.addRule(t, r)
	f.metrics.Set(models.EntityKeyword, keyword("kw-1", "c-1", 1000000))

	if _, err := f.svc.RunRule(context.Background(), rule.ID); err != nil {
		t.Fatalf("first run: %v", err)
	}
	items := f.store.All()
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	if _, err := f.queue.Reject(context.Background(), items[0].ID, nil, ""); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	f.metrics.Set(models.EntityKeyword, keyword("kw-2", "c-1", 1000000))
	res, err := f.svc.RunRule(context.Background(), rule.ID)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.PendingApproval != 1 || res.ActionsDeferred != 0 {
		t.Errorf("pending/deferred = %d/%d, want 1/0", res.PendingApproval, res.ActionsDeferred)
	}
}

func TestRunRuleSuggestionsRespectCap(t *testing.T) {
	f := newFixture()
	r := bidDownRule(models.ModeSuggestion)
	r.Throttle.MaxActionsPerDay = 1
	rule := f.addRule(t, r)
	f.metrics.Set(models.EntityKeyword,
		keyword("kw-1", "c-1", 1000000),
		keyword("kw-2", "c-1", 1000000),
		keyword("kw-3", "c-1", 1000000),
	)

	res, err := f.svc.RunRule(context.Background(), rule.ID)
	if err != nil {
		t.Fatalf("RunRule: %v", err)
	}
	if res.PendingApproval != 1 || res.ActionsDeferred != 2 {
		t.Errorf("pending/deferred = %d/%d, want 1/2", res.PendingApproval, res.ActionsDeferred)
	}

	actions := services.NewActionService(f.queue, f.store, f.audit, testutil.Logger()).WithApprovalGate(f.svc)
	for _, it := range f.store.All() {
		if _, err := actions.Approve(context.Background(), it.ID, nil); err != nil {
			t.Fatalf("Approve: %v", err)
		}
	}
	if n := countStatus(f.store.All(), models.ActionStatusQueued); n != 1 {
		t.Errorf("queued = %d, want 1", n)
	}
}

func TestApproveRechecksRuleThrottle(t *testing.T) {
	f := newFixture()
	rule := f.addRule(t, bidDownRule(models.ModeSuggestion))
	f.metrics.Set(models.EntityKeyword,
		keyword("kw-1", "c-1", 1000000),
		keyword("kw-2", "c-1", 1000000),
		keyword("kw-3", "c-1", 1000000),
	)
	if _, err := f.svc.RunRule(context.Background(), rule.ID); err != nil {
		t.Fatalf("RunRule: %v", err)
	}
	pending := f.store.All()
	if len(pending) != 3 {
		t.Fatalf("pending = %d, want 3", len(pending))
	}

	// The cap is tightened after the suggestions were made.
	rule.Throttle.MaxActionsPerDay = 1
	if err := f.rules.Update(context.Background(), rule); err != nil {
		t.Fatalf("Update: %v", err)
	}

	actions := services.NewActionService(f.queue, f.store, f.audit, testutil.Logger()).WithApprovalGate(f.svc)

	release := f.locker.Hold("rule:" + rule.ID.String())
	if _, err := actions.Approve(context.Background(), pending[0].ID, nil); !errors.Is(err, services.ErrRuleRunning) {
		t.Errorf("approve during run: err = %v, want ErrRuleRunning", err)
	}
	release()

	var statuses []models.ActionStatus
	for _, it := range pending {
		item, err := actions.Approve(context.Background(), it.ID, nil)
		if err != nil {
			t.Fatalf("Approve: %v", err)
		}
		statuses = append(statuses, item.Status)
	}
	want := []models.ActionStatus{models.ActionStatusQueued, models.ActionStatusPrevented, models.ActionStatusPrevented}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("approval %d: status = %s, want %s", i, statuses[i], want[i])
		}
	}
	prevented, _ := f.store.GetByID(context.Background(), pending[1].ID)
	if prevented.StatusReason == nil || !strings.Contains(*prevented.StatusReason, "daily cap") {
		t.Errorf("reason = %v, want daily cap", prevented.StatusReason)
	}
}

func countStatus(items []models.ActionQueueItem, status models.ActionStatus) int {
	n := 0
	for _, it := range items {
		if it.Status == status {
			n++
		}
	}
	return n
}

func TestRunRuleRerunIsIdempotent(t *testing.T) {
	f := newFixture()
	rule := f.addRule(t, bidDownRule(models.ModeAuto))
	f.metrics.Set(models.EntityKeyword, keyword("kw-1", "c-1", 1000000))

	for i := 0; i < 2; i++ {
		if _, err := f.svc.RunRule(context.Background(), rule.ID); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if n := len(f.store.All()); n != 1 {
		t.Errorf("items = %d, want 1", n)
	}
}

func TestRunRuleGuardrails(t *testing.T) {
	t.Run("protected campaign drops", func(t *testing.T) {
		f := newFixture()
		rule := f.addRule(t, bidDownRule(models.ModeAuto))
		f.metrics.Set(models.EntityKeyword, keyword("kw-1", "c-1", 1000000))
		f.guards.Protect("p1", models.EntityCampaign, "c-1")

		res, err := f.svc.RunRule(context.Background(), rule.ID)
		if err != nil {
			t.Fatalf("RunRule: %v", err)
		}
		if res.ActionsDropped != 1 || len(f.store.All()) != 0 {
			t.Errorf("dropped = %d items = %d, want 1/0", res.ActionsDropped, len(f.store.All()))
		}
		found := false
		for _, e := range f.audit.Entries() {
			if e.Action == "action_dropped" {
				found = true
			}
		}
		if !found {
			t.Error("drop was not audited")
		}
	})

	t.Run("suggestion respects protection", func(t *testing.T) {
		f := newFixture()
		rule := f.addRule(t, bidDownRule(models.ModeSuggestion))
		f.metrics.Set(models.EntityKeyword, keyword("kw-1", "c-1", 1000000))
		f.guards.Protect("p1", models.EntityKeyword, "kw-1")

		res, err := f.svc.RunRule(context.Background(), rule.ID)
		if err != nil {
			t.Fatalf("RunRule: %v", err)
		}
		if res.ActionsDropped != 1 || res.PendingApproval != 0 {
			t.Errorf("dropped/pending = %d/%d, want 1/0", res.ActionsDropped, res.PendingApproval)
		}
	})

	t.Run("large change needs approval", func(t *testing.T) {
		f := newFixture()
		rule := f.addRule(t, bidDownRule(models.ModeAuto))
		f.metrics.Set(models.EntityKeyword, keyword("kw-1", "c-1", 1000000))
		f.guards.Set(&models.GuardrailSettings{ProfileID: "p1", AutomationEnabled: true, ApprovalThresholdPct: 10})

		res, err := f.svc.RunRule(context.Background(), rule.ID)
		if err != nil {
			t.Fatalf("RunRule: %v", err)
		}
		if res.PendingApproval != 1 {
			t.Errorf("pending = %d, want 1", res.PendingApproval)
		}
	})

	t.Run("bid clamped to max", func(t *testing.T) {
		f := newFixture()
		rule := f.addRule(t, bidDownRule(models.ModeAuto))
		f.metrics.Set(models.EntityKeyword, keyword("kw-1", "c-1", 1000000))
		f.guards.Set(&models.GuardrailSettings{ProfileID: "p1", AutomationEnabled: true, BidMaxMicros: 500000})

		if _, err := f.svc.RunRule(context.Background(), rule.ID); err != nil {
			t.Fatalf("RunRule: %v", err)
		}
		items := f.store.All()
		if len(items) != 1 || *items[0].Payload.BidMicros != 500000 {
			t.Fatalf("items = %+v, want one bid of 500000", items)
		}
	})
}

func TestRunRuleKillSwitch(t *testing.T) {
	f := newFixture()
	rule := f.addRule(t, bidDownRule(models.ModeAuto))
	f.metrics.Set(models.EntityKeyword, keyword("kw-1", "c-1", 1000000))
	f.guards.SetKillSwitch("p1", false)

	res, err := f.svc.RunRule(context.Background(), rule.ID)
	if err != nil {
		t.Fatalf("RunRule: %v", err)
	}
	if !res.Skipped {
		t.Error("run was not skipped")
	}
	if len(f.metrics.Ranges()) != 0 || len(f.store.All()) != 0 {
		t.Error("skipped run read metrics or queued actions")
	}
}

func TestRunRuleRejected(t *testing.T) {
	f := newFixture()
	running := f.addRule(t, bidDownRule(models.ModeAuto))
	disabled := bidDownRule(models.ModeAuto)
	disabled.Enabled = false
	disabled = f.addRule(t, disabled)

	release := f.locker.Hold("rule:" + running.ID.String())
	defer release()

	if _, err := f.svc.RunRule(context.Background(), running.ID); !errors.Is(err, services.ErrRuleRunning) {
		t.Errorf("locked rule: err = %v, want ErrRuleRunning", err)
	}
	if _, err := f.svc.RunRule(context.Background(), disabled.ID); !errors.Is(err, services.ErrRuleDisabled) {
		t.Errorf("disabled rule: err = %v, want ErrRuleDisabled", err)
	}
}

func TestRunRuleBudgetAlert(t *testing.T) {
	f := newFixture()
	rule := f.addRule(t, &models.AutomationRule{
		ProfileID: "p1",
		Name:      "budget",
		RuleType:  models.RuleBudgetDepletion,
		Mode:      models.ModeAuto,
		Enabled:   true,
		Params:    models.Params{"utilizationThreshold": 90, "criticalThreshold": 100},
	})
	f.metrics.Set(models.EntityCampaign,
		models.EntityMetrics{EntityType: models.EntityCampaign, EntityID: "c-1", Days: 1, Recent: models.AggregateMetrics{BudgetUtilization: 95}},
		models.EntityMetrics{EntityType: models.EntityCampaign, EntityID: "c-2", Days: 1, Recent: models.AggregateMetrics{BudgetUtilization: 40}},
	)

	res, err := f.svc.RunRule(context.Background(), rule.ID)
	if err != nil {
		t.Fatalf("RunRule: %v", err)
	}
	if res.AlertsCreated != 1 {
		t.Fatalf("alerts = %d, want 1", res.AlertsCreated)
	}
	a := f.alerts.All()[0]
	if a.EntityID != "c-1" || a.Severity != models.SeverityWarn || a.State != models.AlertStateNew {
		t.Errorf("alert = %+v", a)
	}
	if n := len(f.pub.Events(events.EventAlertCreated)); n != 1 {
		t.Errorf("alert_created events = %d, want 1", n)
	}
}

func TestRunRuleAlertCooldown(t *testing.T) {
	f := newFixture()
	rule := f.addRule(t, &models.AutomationRule{
		ProfileID: "p1",
		Name:      "budget",
		RuleType:  models.RuleBudgetDepletion,
		Mode:      models.ModeDryRun,
		Enabled:   true,
		Params:    models.Params{"utilizationThreshold": 90, "criticalThreshold": 100},
		Throttle:  models.Throttle{CooldownHours: 24},
	})
	f.metrics.Set(models.EntityCampaign,
		models.EntityMetrics{EntityType: models.EntityCampaign, EntityID: "c-1", Days: 1, Recent: models.AggregateMetrics{BudgetUtilization: 120}},
	)

	tests := []struct {
		name    string
		at      time.Time
		created bool
	}{
		{"first run", runNow, true},
		{"rerun", runNow.Add(time.Hour), false},
		{"rerun inside cooldown", runNow.Add(23 * time.Hour), false},
		{"after cooldown", runNow.Add(25 * time.Hour), true},
	}
	for _, tt := range tests {
		at := tt.at
		f.svc.WithClock(func() time.Time { return at })
		res, err := f.svc.RunRule(context.Background(), rule.ID)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if got := res.AlertsCreated > 0; got != tt.created {
			t.Errorf("%s: alerts created = %d, suppressed = %d", tt.name, res.AlertsCreated, res.AlertsSuppressed)
		}
		if !tt.created && res.AlertsSuppressed == 0 {
			t.Errorf("%s: nothing suppressed", tt.name)
		}
	}
}

func TestRunEnabledRules(t *testing.T) {
	f := newFixture()
	f.metrics.Set(models.EntityKeyword, keyword("kw-1", "c-1", 1000000))
	f.addRule(t, bidDownRule(models.ModeAuto))
	locked := f.addRule(t, bidDownRule(models.ModeDryRun))
	off := bidDownRule(models.ModeAuto)
	off.Enabled = false
	f.addRule(t, off)

	release := f.locker.Hold("rule:" + locked.ID.String())
	defer release()

	res, err := f.svc.RunEnabledRules(context.Background())
	if err != nil {
		t.Fatalf("RunEnabledRules: %v", err)
	}
	want := services.RunAllResult{Rules: 2, Succeeded: 1, Skipped: 1}
	if res != want {
		t.Errorf("result = %+v, want %+v", res, want)
	}
}

func TestEnqueueTestAction(t *testing.T) {
	valid := func() services.TestActionRequest {
		return services.TestActionRequest{
			ProfileID:  "p1",
			ActionType: models.ActionSetBid,
			Payload: models.ActionPayload{
				EntityType: models.EntityKeyword,
				EntityID:   "kw-1",
				CampaignID: "c-1",
				AdGroupID:  "ag-1",
				BidMicros:  i64(600000),
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*services.TestActionRequest)
		setup   func(*fixture)
		wantErr error
	}{
		{"missing profile", func(r *services.TestActionRequest) { r.ProfileID = "" }, nil, services.ErrProfileRequired},
		{"invalid payload", func(r *services.TestActionRequest) { r.Payload.BidMicros = nil }, nil, services.ErrInvalidInput},
		{"unknown action", func(r *services.TestActionRequest) { r.ActionType = "launch_rocket" }, nil, services.ErrInvalidInput},
		{"protected ad group", nil, func(f *fixture) { f.guards.Protect("p1", models.EntityAdGroup, "ag-1") }, services.ErrProtectedEntity},
		{"bid above max", nil, func(f *fixture) {
			f.guards.Set(&models.GuardrailSettings{ProfileID: "p1", AutomationEnabled: true, BidMaxMicros: 500000})
		}, services.ErrGuardrailViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			if tt.setup != nil {
				tt.setup(f)
			}
			req := valid()
			if tt.mutate != nil {
				tt.mutate(&req)
			}
			_, err := f.svc.EnqueueTestAction(context.Background(), nil, req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if n := len(f.store.All()); n != 0 {
				t.Errorf("rejected request queued %d items", n)
			}
		})
	}

	t.Run("queues once", func(t *testing.T) {
		f := newFixture()
		first, err := f.svc.EnqueueTestAction(context.Background(), nil, valid())
		if err != nil {
			t.Fatalf("first: %v", err)
		}
		if first.Outcome != queue.Inserted || first.Item.Status != models.ActionStatusQueued {
			t.Errorf("first = %s/%s, want inserted/queued", first.Outcome, first.Item.Status)
		}
		second, err := f.svc.EnqueueTestAction(context.Background(), nil, valid())
		if err != nil {
			t.Fatalf("second: %v", err)
		}
		if second.Outcome != queue.DuplicateIgnored {
			t.Errorf("second outcome = %s, want duplicate_ignored", second.Outcome)
		}
		if second.Item == nil || second.Item.ID != first.Item.ID {
			t.Error("duplicate does not point at the original item")
		}
	})
}

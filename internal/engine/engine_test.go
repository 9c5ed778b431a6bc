package engine

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
	"github.com/google/uuid"
)

func i64(v int64) *int64 { return &v }

var evalNow = time.Date(2026, 5, 4, 6, 0, 0, 0, time.UTC)

func bidDownRule() *models.AutomationRule {
	return &models.AutomationRule{
		ID:        uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		ProfileID: "p1",
		Name:      "bid down",
		RuleType:  models.RuleBidDownHighACOS,
		Mode:      models.ModeAuto,
		Enabled:   true,
		Params: models.Params{
			"acosThreshold":       30.0,
			"bidReductionPercent": 20.0,
			"minBidMicros":        100000.0,
		},
	}
}

func keyword(id string, bid int64, spend, sales float64) models.EntityMetrics {
	return models.EntityMetrics{
		EntityType:       models.EntityKeyword,
		EntityID:         id,
		CampaignID:       "c-1",
		AdGroupID:        "ag-1",
		CurrentBidMicros: i64(bid),
		Days:             14,
		Metrics:          models.AggregateMetrics{Spend: spend, Sales: sales, Clicks: 40, Conversions: 2},
	}
}

func TestBidDownHighACOS(t *testing.T) {
	tests := []struct {
		name    string
		bid     int64
		wantBid int64
		want    bool
	}{
		{"reduced above floor", 1000000, 800000, true},
		{"clamped to floor", 110000, 100000, true},
		{"already at floor is a no-op", 100000, 0, false},
		{"within delta of floor is a no-op", 105000, 0, false},
	}
	eng := New(NoOpBidDeltaMicros)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := Window{Now: evalNow, Entities: []models.EntityMetrics{keyword("kw-1", tt.bid, 45, 100)}}
			res, err := eng.Evaluate(bidDownRule(), w)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if !tt.want {
				if len(res.Proposals) != 0 {
					t.Fatalf("expected no proposal, got %+v", res.Proposals)
				}
				return
			}
			if len(res.Proposals) != 1 {
				t.Fatalf("expected 1 proposal, got %d", len(res.Proposals))
			}
			p := res.Proposals[0]
			if p.ActionType != models.ActionSetBid {
				t.Errorf("action type = %q, want set_bid", p.ActionType)
			}
			if *p.Payload.BidMicros != tt.wantBid {
				t.Errorf("bidMicros = %d, want %d", *p.Payload.BidMicros, tt.wantBid)
			}
			if *p.Payload.PreviousBidMicros != tt.bid {
				t.Errorf("previousBidMicros = %d, want %d", *p.Payload.PreviousBidMicros, tt.bid)
			}
			if p.ProfileID != "p1" || p.RuleID == nil {
				t.Errorf("proposal not attributed to rule: %+v", p)
			}
		})
	}
}

func TestBidDownNoSignal(t *testing.T) {
	eng := New(0)
	noSales := keyword("kw-1", 1000000, 45, 0)
	lowACOS := keyword("kw-2", 1000000, 20, 100)
	noBid := keyword("kw-3", 1000000, 45, 100)
	noBid.CurrentBidMicros = nil
	noData := keyword("kw-4", 1000000, 45, 100)
	noData.Days = 0

	res, err := eng.Evaluate(bidDownRule(), Window{Now: evalNow, Entities: []models.EntityMetrics{noSales, lowACOS, noBid, noData}})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(res.Proposals) != 0 || len(res.Alerts) != 0 {
		t.Errorf("expected nothing, got %+v", res)
	}
}

func TestBidDownTargets(t *testing.T) {
	r := bidDownRule()
	r.Action.Type = models.ActionSetTargetBid
	scope, err := Scope(r)
	if err != nil || scope != models.EntityTarget {
		t.Fatalf("Scope = %q, %v", scope, err)
	}
	e := keyword("t-1", 1000000, 45, 100)
	e.EntityType = models.EntityTarget
	res, _ := New(0).Evaluate(r, Window{Entities: []models.EntityMetrics{e}})
	if len(res.Proposals) != 1 || res.Proposals[0].ActionType != models.ActionSetTargetBid || res.Proposals[0].Payload.EntityType != models.EntityTarget {
		t.Fatalf("unexpected proposals %+v", res.Proposals)
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	w := Window{Now: evalNow, Entities: []models.EntityMetrics{
		keyword("kw-1", 1000000, 45, 100),
		keyword("kw-2", 500000, 80, 100),
	}}
	eng := New(0)
	a, _ := eng.Evaluate(bidDownRule(), w)
	b, _ := eng.Evaluate(bidDownRule(), w)
	if !reflect.DeepEqual(a, b) {
		t.Error("two evaluations of the same input differ")
	}
}

func searchTerm(text string, conv int64, sales, spend float64, clicks int64) models.EntityMetrics {
	return models.EntityMetrics{
		EntityType:  models.EntitySearchTerm,
		EntityID:    "st-" + text,
		CampaignID:  "c-1",
		AdGroupID:   "ag-1",
		KeywordText: text,
		MatchType:   models.MatchBroad,
		Days:        30,
		Metrics:     models.AggregateMetrics{Spend: spend, Sales: sales, Clicks: clicks, Conversions: conv},
	}
}

func TestSearchTermHarvest(t *testing.T) {
	r := &models.AutomationRule{
		ProfileID: "p1",
		RuleType:  models.RuleSearchTermHarvest,
		Mode:      models.ModeSuggestion,
		Params:    models.Params{"minConversions": 2, "minSales": 50, "maxACOS": 30},
		Action:    models.RuleAction{Type: models.ActionCreateKeyword, Params: models.Params{"bidMicros": 750000}},
	}
	w := Window{Entities: []models.EntityMetrics{
		searchTerm("blue shoes", 3, 60, 12, 20),  // ACOS 20%
		searchTerm("red shoes", 1, 60, 12, 20),   // too few conversions
		searchTerm("green shoes", 3, 60, 30, 20), // ACOS 50%
		searchTerm("no sales", 3, 0, 30, 20),
	}}
	res, err := New(0).Evaluate(r, w)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(res.Proposals) != 1 {
		t.Fatalf("expected 1 proposal, got %d", len(res.Proposals))
	}
	p := res.Proposals[0]
	if p.ActionType != models.ActionCreateKeyword || p.Payload.MatchType != models.MatchExact || p.Payload.KeywordText != "blue shoes" {
		t.Errorf("unexpected proposal %+v", p)
	}
	if p.Payload.BidMicros == nil || *p.Payload.BidMicros != 750000 {
		t.Errorf("bid not taken from action params: %+v", p.Payload.BidMicros)
	}
	if err := p.Payload.Validate(p.ActionType); err != nil {
		t.Errorf("proposal payload invalid: %v", err)
	}
}

func TestSearchTermPrune(t *testing.T) {
	r := &models.AutomationRule{
		ProfileID: "p1",
		RuleType:  models.RuleSearchTermPrune,
		Mode:      models.ModeAuto,
		Params:    models.Params{"minClicks": 10, "minSpend": 5},
	}
	w := Window{Entities: []models.EntityMetrics{
		searchTerm("waste", 0, 0, 8, 15),
		searchTerm("converting", 1, 20, 8, 15),
		searchTerm("few clicks", 0, 0, 8, 3),
	}}
	res, _ := New(0).Evaluate(r, w)
	if len(res.Proposals) != 1 {
		t.Fatalf("expected 1 proposal, got %d", len(res.Proposals))
	}
	p := res.Proposals[0]
	if p.ActionType != models.ActionAddAdGroupNegative || p.Payload.MatchType != models.MatchNegativeExact || p.Payload.EntityID != "ag-1" {
		t.Errorf("unexpected proposal %+v", p)
	}

	r.Action.Type = models.ActionAddCampaignNegative
	res, _ = New(0).Evaluate(r, w)
	if len(res.Proposals) != 1 || res.Proposals[0].Payload.EntityType != models.EntityCampaign || res.Proposals[0].Payload.EntityID != "c-1" {
		t.Fatalf("campaign negative expected, got %+v", res.Proposals)
	}
}

func TestBudgetDepletion(t *testing.T) {
	r := &models.AutomationRule{
		ProfileID: "p1",
		RuleType:  models.RuleBudgetDepletion,
		Mode:      models.ModeAuto,
		Params:    models.Params{"utilizationThreshold": 90, "budgetIncreasePercent": 20, "maxBudgetMicros": 110000000},
		Action:    models.RuleAction{Type: models.ActionUpdateBudget},
	}
	campaign := func(id string, util float64) models.EntityMetrics {
		return models.EntityMetrics{
			EntityType:          models.EntityCampaign,
			EntityID:            id,
			CurrentBudgetMicros: i64(100000000),
			Days:                1,
			Recent:              models.AggregateMetrics{BudgetUtilization: util},
		}
	}
	w := Window{Now: evalNow, Entities: []models.EntityMetrics{campaign("c-low", 50), campaign("c-warn", 95), campaign("c-crit", 100)}}
	res, _ := New(0).Evaluate(r, w)
	if len(res.Alerts) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(res.Alerts))
	}
	if res.Alerts[0].Severity != models.SeverityWarn || res.Alerts[1].Severity != models.SeverityCritical {
		t.Errorf("severities = %q, %q", res.Alerts[0].Severity, res.Alerts[1].Severity)
	}
	if !res.Alerts[0].CreatedAt.Equal(evalNow) || res.Alerts[0].State != models.AlertStateNew {
		t.Errorf("alert not stamped with window time: %+v", res.Alerts[0])
	}
	if len(res.Proposals) != 2 || *res.Proposals[0].Payload.BudgetMicros != 110000000 {
		t.Fatalf("expected budget raised to cap, got %+v", res.Proposals)
	}
}

func TestSpendSpike(t *testing.T) {
	r := &models.AutomationRule{
		ProfileID: "p1",
		RuleType:  models.RuleSpendSpike,
		Mode:      models.ModeSuggestion,
		Params:    models.Params{"spikeMultiplier": 2, "minSpend": 10},
		Action:    models.RuleAction{Type: models.ActionPauseCampaign},
	}
	spiking := models.EntityMetrics{EntityType: models.EntityCampaign, EntityID: "c-1", Days: 7,
		Metrics: models.AggregateMetrics{Spend: 90}, Recent: models.AggregateMetrics{Spend: 30}} // baseline 10
	steady := models.EntityMetrics{EntityType: models.EntityCampaign, EntityID: "c-2", Days: 7,
		Metrics: models.AggregateMetrics{Spend: 70}, Recent: models.AggregateMetrics{Spend: 10}}
	fresh := models.EntityMetrics{EntityType: models.EntityCampaign, EntityID: "c-3", Days: 1,
		Metrics: models.AggregateMetrics{Spend: 50}, Recent: models.AggregateMetrics{Spend: 50}}

	res, _ := New(0).Evaluate(r, Window{Entities: []models.EntityMetrics{spiking, steady, fresh}})
	if len(res.Alerts) != 1 || res.Alerts[0].EntityID != "c-1" {
		t.Fatalf("expected one alert for c-1, got %+v", res.Alerts)
	}
	if len(res.Proposals) != 1 || res.Proposals[0].ActionType != models.ActionPauseCampaign {
		t.Fatalf("expected pause proposal, got %+v", res.Proposals)
	}
}

func TestPlacementOptimizerIsNoOp(t *testing.T) {
	r := &models.AutomationRule{ProfileID: "p1", RuleType: models.RulePlacementOptimizer, Mode: models.ModeAuto}
	res, err := New(0).Evaluate(r, Window{Entities: []models.EntityMetrics{{EntityType: models.EntityCampaign, EntityID: "c", Days: 14}}})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(res.Alerts) != 0 || len(res.Proposals) != 0 {
		t.Errorf("expected empty result, got %+v", res)
	}
}

func TestUnknownRuleType(t *testing.T) {
	_, err := New(0).Evaluate(&models.AutomationRule{RuleType: "dayparting"}, Window{})
	if !errors.Is(err, ErrUnknownRuleType) {
		t.Errorf("expected ErrUnknownRuleType, got %v", err)
	}
}

func TestValidateRule(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *models.AutomationRule)
		wantErr bool
	}{
		{"valid", func(r *models.AutomationRule) {}, false},
		{"missing param", func(r *models.AutomationRule) { delete(r.Params, "acosThreshold") }, true},
		{"negative param", func(r *models.AutomationRule) { r.Params["minBidMicros"] = -1.0 }, true},
		{"reduction of 100%", func(r *models.AutomationRule) { r.Params["bidReductionPercent"] = 100.0 }, true},
		{"bad mode", func(r *models.AutomationRule) { r.Mode = "yolo" }, true},
		{"no profile", func(r *models.AutomationRule) { r.ProfileID = "" }, true},
		{"wrong action", func(r *models.AutomationRule) { r.Action.Type = models.ActionPauseCampaign }, true},
		{"lookback too long", func(r *models.AutomationRule) { r.Params["lookbackDays"] = 365.0 }, true},
		{"negative cooldown", func(r *models.AutomationRule) { r.Throttle.CooldownHours = -1 }, true},
		{"unsupported param type", func(r *models.AutomationRule) { r.Params["x"] = []any{1} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := bidDownRule()
			tt.mutate(r)
			err := ValidateRule(r)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRule() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLookbackDays(t *testing.T) {
	r := bidDownRule()
	if got := LookbackDays(r); got != 14 {
		t.Errorf("default lookback = %d, want 14", got)
	}
	r.Params["lookbackDays"] = 7.0
	if got := LookbackDays(r); got != 7 {
		t.Errorf("lookback = %d, want 7", got)
	}
}

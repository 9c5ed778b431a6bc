package engine

import (
	"fmt"
	"strings"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
)

func evalBudgetDepletion(_ *Engine, r *models.AutomationRule, w Window) Result {
	threshold := r.Params.FloatOr("utilizationThreshold", 90)
	critical := r.Params.FloatOr("criticalThreshold", 100)
	increasePct := r.Params.FloatOr("budgetIncreasePercent", 0)
	maxBudget := r.Params.Int64Or("maxBudgetMicros", 0)

	var res Result
	for _, e := range w.Entities {
		if !e.HasData() {
			continue
		}
		util := e.Recent.BudgetUtilization
		if util < threshold {
			continue
		}
		sev := models.SeverityWarn
		if util >= critical {
			sev = models.SeverityCritical
		}
		res.Alerts = append(res.Alerts, models.Alert{
			EntityType: models.EntityCampaign,
			EntityID:   e.EntityID,
			Severity:   sev,
			Title:      "Budget nearly depleted",
			Message:    fmt.Sprintf("Campaign %s used %.0f%% of its daily budget", displayName(e), util),
			Data:       map[string]any{"budget_utilization": util, "threshold": threshold},
		})

		if r.Action.Type != models.ActionUpdateBudget || increasePct <= 0 || e.CurrentBudgetMicros == nil {
			continue
		}
		current := *e.CurrentBudgetMicros
		next := current * (10000 + int64(increasePct*100)) / 10000
		if maxBudget > 0 && next > maxBudget {
			next = maxBudget
		}
		if next <= current {
			continue
		}
		prev := current
		res.Proposals = append(res.Proposals, ProposedAction{
			ActionType: models.ActionUpdateBudget,
			Payload: models.ActionPayload{
				EntityType:           models.EntityCampaign,
				EntityID:             e.EntityID,
				CampaignID:           e.EntityID,
				BudgetMicros:         &next,
				PreviousBudgetMicros: &prev,
			},
			Reason:  fmt.Sprintf("budget utilization %.0f%% >= %.0f%%", util, threshold),
			Metrics: e.Recent,
		})
	}
	return res
}

func evalSpendSpike(_ *Engine, r *models.AutomationRule, w Window) Result {
	multiplier := r.Params.FloatOr("spikeMultiplier", 2)
	minSpend := r.Params.FloatOr("minSpend", 10)

	var res Result
	for _, e := range w.Entities {
		// Need the latest day plus at least one day of history.
		if e.Days < 2 {
			continue
		}
		latest := e.Recent.Spend
		baseline := (e.Metrics.Spend - latest) / float64(e.Days-1)
		if baseline <= 0 || latest < minSpend {
			continue
		}
		ratio := latest / baseline
		if ratio < multiplier {
			continue
		}
		sev := models.SeverityWarn
		if ratio >= 2*multiplier {
			sev = models.SeverityCritical
		}
		res.Alerts = append(res.Alerts, models.Alert{
			EntityType: models.EntityCampaign,
			EntityID:   e.EntityID,
			Severity:   sev,
			Title:      "Spend spike",
			Message:    fmt.Sprintf("Campaign %s spent %.2f, %.1fx its daily average of %.2f", displayName(e), latest, ratio, baseline),
			Data:       map[string]any{"spend": latest, "baseline": baseline, "ratio": ratio},
		})
		if r.Action.Type == models.ActionPauseCampaign {
			res.Proposals = append(res.Proposals, ProposedAction{
				ActionType: models.ActionPauseCampaign,
				Payload: models.ActionPayload{
					EntityType: models.EntityCampaign,
					EntityID:   e.EntityID,
					CampaignID: e.EntityID,
				},
				Reason:  fmt.Sprintf("spend %.2f is %.1fx the daily average", latest, ratio),
				Metrics: e.Recent,
			})
		}
	}
	return res
}

// HarvestCriteria selects converting search terms worth promoting to exact keywords.
type HarvestCriteria struct {
	MinConversions int64
	MinSales       float64
	MaxACOS        float64
}

func HarvestCriteriaFrom(p models.Params) HarvestCriteria {
	return HarvestCriteria{
		MinConversions: p.Int64Or("minConversions", 0),
		MinSales:       p.FloatOr("minSales", 0),
		MaxACOS:        p.FloatOr("maxACOS", 0),
	}
}

// Qualifies reports whether a search term meets the criteria. Terms without sales
// never qualify since their ACOS is undefined.
func (c HarvestCriteria) Qualifies(e models.EntityMetrics) (acos float64, ok bool) {
	if !e.HasData() || e.AdGroupID == "" || e.CampaignID == "" || searchTermText(e) == "" {
		return 0, false
	}
	acos, defined := e.Metrics.ACOS()
	if !defined {
		return 0, false
	}
	if e.Metrics.Conversions < c.MinConversions || e.Metrics.Sales < c.MinSales || acos > c.MaxACOS {
		return 0, false
	}
	return acos, true
}

// HarvestKeyword builds the exact-match keyword creation for a qualifying term.
func HarvestKeyword(e models.EntityMetrics, bidMicros int64, reason string) ProposedAction {
	p := models.ActionPayload{
		EntityType:  models.EntityAdGroup,
		EntityID:    e.AdGroupID,
		CampaignID:  e.CampaignID,
		AdGroupID:   e.AdGroupID,
		KeywordText: searchTermText(e),
		MatchType:   models.MatchExact,
	}
	if bidMicros > 0 {
		p.BidMicros = &bidMicros
	}
	return ProposedAction{ActionType: models.ActionCreateKeyword, Payload: p, Reason: reason, Metrics: e.Metrics}
}

// NegateSearchTerm builds the negative exact keyword that stops the term matching at its source.
func NegateSearchTerm(e models.EntityMetrics, scope models.ActionType, reason string) ProposedAction {
	p := models.ActionPayload{
		CampaignID:  e.CampaignID,
		KeywordText: searchTermText(e),
		MatchType:   models.MatchNegativeExact,
	}
	if scope == models.ActionAddCampaignNegative {
		p.EntityType = models.EntityCampaign
		p.EntityID = e.CampaignID
	} else {
		scope = models.ActionAddAdGroupNegative
		p.EntityType = models.EntityAdGroup
		p.EntityID = e.AdGroupID
		p.AdGroupID = e.AdGroupID
	}
	return ProposedAction{ActionType: scope, Payload: p, Reason: reason, Metrics: e.Metrics}
}

func evalSearchTermHarvest(_ *Engine, r *models.AutomationRule, w Window) Result {
	crit := HarvestCriteriaFrom(r.Params)
	bid := r.Action.Params.Int64Or("bidMicros", 0)

	var res Result
	for _, e := range w.Entities {
		acos, ok := crit.Qualifies(e)
		if !ok || e.MatchType == models.MatchExact {
			continue
		}
		reason := fmt.Sprintf("%d conversions, sales %.2f, ACOS %.1f%%", e.Metrics.Conversions, e.Metrics.Sales, acos)
		res.Proposals = append(res.Proposals, HarvestKeyword(e, bid, reason))
	}
	return res
}

func evalSearchTermPrune(_ *Engine, r *models.AutomationRule, w Window) Result {
	minClicks := r.Params.Int64Or("minClicks", 10)
	minSpend := r.Params.FloatOr("minSpend", 5)

	var res Result
	for _, e := range w.Entities {
		if !e.HasData() || e.AdGroupID == "" || e.CampaignID == "" || searchTermText(e) == "" {
			continue
		}
		m := e.Metrics
		if m.Conversions > 0 || m.Clicks < minClicks || m.Spend < minSpend {
			continue
		}
		reason := fmt.Sprintf("%d clicks and %.2f spend without a conversion", m.Clicks, m.Spend)
		res.Proposals = append(res.Proposals, NegateSearchTerm(e, r.Action.Type, reason))
	}
	return res
}

// BidDownCriteria selects keywords or targets whose ACOS is too high.
type BidDownCriteria struct {
	ACOSThreshold       float64
	BidReductionPercent float64
	MinBidMicros        int64
	MinClicks           int64
}

func BidDownCriteriaFrom(p models.Params) BidDownCriteria {
	return BidDownCriteria{
		ACOSThreshold:       p.FloatOr("acosThreshold", 0),
		BidReductionPercent: p.FloatOr("bidReductionPercent", 0),
		MinBidMicros:        p.Int64Or("minBidMicros", 0),
		MinClicks:           p.Int64Or("minClicks", 0),
	}
}

// Propose returns the bid reduction for one entity, or false when there is no
// signal or the reduced bid would be a no-op.
func (c BidDownCriteria) Propose(e models.EntityMetrics, actionType models.ActionType, delta int64) (ProposedAction, bool) {
	if !e.HasData() || e.CurrentBidMicros == nil || c.BidReductionPercent <= 0 {
		return ProposedAction{}, false
	}
	acos, ok := e.Metrics.ACOS()
	if !ok || acos <= c.ACOSThreshold || e.Metrics.Clicks < c.MinClicks {
		return ProposedAction{}, false
	}
	current := *e.CurrentBidMicros
	next, ok := BidDown(current, c.BidReductionPercent, c.MinBidMicros, delta)
	if !ok {
		return ProposedAction{}, false
	}

	entityType := models.EntityKeyword
	if actionType == models.ActionSetTargetBid {
		entityType = models.EntityTarget
	} else {
		actionType = models.ActionSetBid
	}
	prev := current
	return ProposedAction{
		ActionType: actionType,
		Payload: models.ActionPayload{
			EntityType:        entityType,
			EntityID:          e.EntityID,
			CampaignID:        e.CampaignID,
			AdGroupID:         e.AdGroupID,
			BidMicros:         &next,
			PreviousBidMicros: &prev,
		},
		Reason:  fmt.Sprintf("ACOS %.1f%% above %.1f%%, bid %d -> %d", acos, c.ACOSThreshold, current, next),
		Metrics: e.Metrics,
	}, true
}

func evalBidDownHighACOS(e *Engine, r *models.AutomationRule, w Window) Result {
	crit := BidDownCriteriaFrom(r.Params)
	var res Result
	for _, m := range w.Entities {
		if p, ok := crit.Propose(m, r.Action.Type, e.noOpDelta); ok {
			res.Proposals = append(res.Proposals, p)
		}
	}
	return res
}

// Placement optimisation has no decision logic yet; the rule type exists so
// profiles can be configured ahead of it and always evaluates to nothing.
func evalPlacementOptimizer(_ *Engine, _ *models.AutomationRule, _ Window) Result {
	return Result{}
}

func searchTermText(e models.EntityMetrics) string {
	if t := strings.TrimSpace(e.KeywordText); t != "" {
		return t
	}
	return strings.TrimSpace(e.Name)
}

func displayName(e models.EntityMetrics) string {
	if e.Name != "" {
		return e.Name
	}
	return e.EntityID
}

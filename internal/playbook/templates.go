package playbook

import (
	"errors"
	"fmt"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/engine"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
)

var ErrUnknownTemplate = errors.New("unknown playbook template")

// Template turns params and one metrics window into proposed actions. Build
// must be pure.
type Template struct {
	Scope        models.EntityType
	LookbackDays int
	Required     []string
	Build        func(params models.Params, entities []models.EntityMetrics, noOpDelta int64) []engine.ProposedAction
}

var templates = map[string]Template{
	models.PlaybookHarvestThenNegate: {
		Scope:        models.EntitySearchTerm,
		LookbackDays: 30,
		Required:     []string{"minConversions", "minSales", "maxACOS"},
		Build:        harvestThenNegate,
	},
	models.PlaybookBidDownHighACOS: {
		Scope:        models.EntityKeyword,
		LookbackDays: 14,
		Required:     []string{"acosThreshold", "bidReductionPercent", "minBidMicros"},
		Build:        bidDownHighACOS,
	},
	models.PlaybookPlacementOptimizer: {
		Scope:        models.EntityCampaign,
		LookbackDays: 14,
		Build:        placementOptimizer,
	},
}

func Lookup(name string) (Template, bool) {
	t, ok := templates[name]
	return t, ok
}

// ScopeFor is the entity scope a definition reads metrics for.
func ScopeFor(def *models.PlaybookDefinition, t Template) models.EntityType {
	if def.Template == models.PlaybookBidDownHighACOS && def.Params.StringOr("actionType", "") == string(models.ActionSetTargetBid) {
		return models.EntityTarget
	}
	return t.Scope
}

// ValidateDefinition rejects definitions that could never run.
func ValidateDefinition(def *models.PlaybookDefinition) error {
	t, ok := templates[def.Template]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTemplate, def.Template)
	}
	for _, key := range t.Required {
		v, ok := def.Params.Float(key)
		if !ok {
			return fmt.Errorf("%s: param %q is required", def.Template, key)
		}
		if v < 0 {
			return fmt.Errorf("%s: param %q must not be negative", def.Template, key)
		}
	}
	if days, ok := def.Params.Float("lookbackDays"); ok && (days < 1 || days > 90) {
		return fmt.Errorf("%s: lookbackDays must be between 1 and 90", def.Template)
	}
	if pct, ok := def.Params.Float("bidReductionPercent"); ok && pct >= 100 {
		return fmt.Errorf("%s: bidReductionPercent must be below 100", def.Template)
	}
	if at := def.Params.StringOr("actionType", ""); at != "" && at != string(models.ActionSetBid) && at != string(models.ActionSetTargetBid) {
		return fmt.Errorf("%s: actionType must be set_bid or set_target_bid", def.Template)
	}
	return nil
}

// harvestThenNegate promotes each converting search term to an exact keyword in
// its ad group and negates the term there so the two stop competing.
func harvestThenNegate(params models.Params, entities []models.EntityMetrics, _ int64) []engine.ProposedAction {
	crit := engine.HarvestCriteriaFrom(params)
	bid := params.Int64Or("bidMicros", 0)

	var out []engine.ProposedAction
	for _, e := range entities {
		acos, ok := crit.Qualifies(e)
		if !ok || e.MatchType == models.MatchExact {
			continue
		}
		reason := fmt.Sprintf("harvest: %d conversions, ACOS %.1f%%", e.Metrics.Conversions, acos)
		out = append(out,
			engine.HarvestKeyword(e, bid, reason),
			engine.NegateSearchTerm(e, models.ActionAddAdGroupNegative, reason),
		)
	}
	return out
}

func bidDownHighACOS(params models.Params, entities []models.EntityMetrics, noOpDelta int64) []engine.ProposedAction {
	crit := engine.BidDownCriteriaFrom(params)
	actionType := models.ActionType(params.StringOr("actionType", string(models.ActionSetBid)))

	var out []engine.ProposedAction
	for _, e := range entities {
		if p, ok := crit.Propose(e, actionType, noOpDelta); ok {
			out = append(out, p)
		}
	}
	return out
}

// placementOptimizer has no decision logic yet and proposes nothing.
func placementOptimizer(models.Params, []models.EntityMetrics, int64) []engine.ProposedAction {
	return nil
}

package engine

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
	"github.com/google/uuid"
)

// NoOpBidDeltaMicros is the default smallest bid change worth sending.
const NoOpBidDeltaMicros int64 = 10000

var (
	ErrUnknownRuleType = errors.New("unknown rule type")
	ErrInvalidRule     = errors.New("invalid rule")
)

// Window is the input of one evaluation.
type Window struct {
	Range    models.DateRange
	Now      time.Time
	Entities []models.EntityMetrics
}

type ProposedAction struct {
	RuleID     *uuid.UUID
	ProfileID  string
	ActionType models.ActionType
	Payload    models.ActionPayload
	Reason     string
	Metrics    models.AggregateMetrics
}

type Result struct {
	Alerts    []models.Alert
	Proposals []ProposedAction
}

type evaluateFunc func(e *Engine, r *models.AutomationRule, w Window) Result

type ruleDef struct {
	scope          models.EntityType
	lookbackDays   int
	required       []string
	allowedActions []models.ActionType
	evaluate       evaluateFunc
}

var registry = map[models.RuleType]ruleDef{
	models.RuleBudgetDepletion: {
		scope:          models.EntityCampaign,
		lookbackDays:   1,
		allowedActions: []models.ActionType{models.ActionUpdateBudget},
		evaluate:       evalBudgetDepletion,
	},
	models.RuleSpendSpike: {
		scope:          models.EntityCampaign,
		lookbackDays:   7,
		allowedActions: []models.ActionType{models.ActionPauseCampaign},
		evaluate:       evalSpendSpike,
	},
	models.RuleSearchTermHarvest: {
		scope:          models.EntitySearchTerm,
		lookbackDays:   30,
		required:       []string{"minConversions", "minSales", "maxACOS"},
		allowedActions: []models.ActionType{models.ActionCreateKeyword},
		evaluate:       evalSearchTermHarvest,
	},
	models.RuleSearchTermPrune: {
		scope:          models.EntitySearchTerm,
		lookbackDays:   30,
		allowedActions: []models.ActionType{models.ActionAddAdGroupNegative, models.ActionAddCampaignNegative},
		evaluate:       evalSearchTermPrune,
	},
	models.RuleBidDownHighACOS: {
		scope:          models.EntityKeyword,
		lookbackDays:   14,
		required:       []string{"acosThreshold", "bidReductionPercent", "minBidMicros"},
		allowedActions: []models.ActionType{models.ActionSetBid, models.ActionSetTargetBid},
		evaluate:       evalBidDownHighACOS,
	},
	models.RulePlacementOptimizer: {
		scope:          models.EntityCampaign,
		lookbackDays:   14,
		allowedActions: []models.ActionType{models.ActionSetPlacementAdjustment},
		evaluate:       evalPlacementOptimizer,
	},
}

type Engine struct {
	noOpDelta int64
}

// New returns an engine treating bid changes smaller than noOpDeltaMicros as no-ops.
func New(noOpDeltaMicros int64) *Engine {
	if noOpDeltaMicros <= 0 {
		noOpDeltaMicros = NoOpBidDeltaMicros
	}
	return &Engine{noOpDelta: noOpDeltaMicros}
}

func (e *Engine) NoOpDelta() int64 { return e.noOpDelta }

// Evaluate runs the rule's evaluation function over the window. Entities without
// data, or without the numbers the rule needs, produce nothing.
func (e *Engine) Evaluate(r *models.AutomationRule, w Window) (Result, error) {
	def, ok := registry[r.RuleType]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownRuleType, r.RuleType)
	}
	res := def.evaluate(e, r, w)
	for i := range res.Proposals {
		res.Proposals[i].ProfileID = r.ProfileID
		if r.ID != uuid.Nil {
			id := r.ID
			res.Proposals[i].RuleID = &id
		}
	}
	for i := range res.Alerts {
		res.Alerts[i].ProfileID = r.ProfileID
		res.Alerts[i].State = models.AlertStateNew
		res.Alerts[i].CreatedAt = w.Now
		if r.ID != uuid.Nil {
			id := r.ID
			res.Alerts[i].RuleID = &id
		}
	}
	return res, nil
}

// Scope is the entity type whose metrics the rule reads.
func Scope(r *models.AutomationRule) (models.EntityType, error) {
	def, ok := registry[r.RuleType]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRuleType, r.RuleType)
	}
	if r.RuleType == models.RuleBidDownHighACOS && r.Action.Type == models.ActionSetTargetBid {
		return models.EntityTarget, nil
	}
	return def.scope, nil
}

// LookbackDays is the rule's metrics window length.
func LookbackDays(r *models.AutomationRule) int {
	def := registry[r.RuleType]
	days := int(r.Params.Int64Or("lookbackDays", int64(def.lookbackDays)))
	if days <= 0 {
		days = 1
	}
	return days
}

// RequiredParams lists the numeric params a rule type cannot run without.
func RequiredParams(t models.RuleType) []string {
	return append([]string{}, registry[t].required...)
}

func AllowedActions(t models.RuleType) []models.ActionType {
	return append([]models.ActionType{}, registry[t].allowedActions...)
}

// ValidateRule rejects configuration a rule could never evaluate correctly.
func ValidateRule(r *models.AutomationRule) error {
	def, ok := registry[r.RuleType]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRuleType, r.RuleType)
	}
	if r.ProfileID == "" {
		return fmt.Errorf("%w: profile_id is required", ErrInvalidRule)
	}
	if !models.IsValidMode(r.Mode) {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidRule, r.Mode)
	}
	for _, key := range def.required {
		if _, ok := r.Params.Float(key); !ok {
			return fmt.Errorf("%w: %s requires numeric param %q", ErrInvalidRule, r.RuleType, key)
		}
	}
	for key, v := range r.Params {
		if f, isNum := r.Params.Float(key); isNum {
			if f < 0 {
				return fmt.Errorf("%w: param %q must not be negative", ErrInvalidRule, key)
			}
			continue
		}
		switch v.(type) {
		case string, bool:
		default:
			return fmt.Errorf("%w: param %q has unsupported type %T", ErrInvalidRule, key, v)
		}
	}
	if days, ok := r.Params.Float("lookbackDays"); ok && (days < 1 || days > 90) {
		return fmt.Errorf("%w: lookbackDays must be in [1, 90]", ErrInvalidRule)
	}
	if pct, ok := r.Params.Float("bidReductionPercent"); ok && (pct <= 0 || pct >= 100) {
		return fmt.Errorf("%w: bidReductionPercent must be in (0, 100)", ErrInvalidRule)
	}
	if r.Action.Type != "" {
		allowed := false
		for _, a := range def.allowedActions {
			if a == r.Action.Type {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: action %q not allowed for %s", ErrInvalidRule, r.Action.Type, r.RuleType)
		}
	}
	if r.Throttle.CooldownHours < 0 || r.Throttle.MaxActionsPerDay < 0 {
		return fmt.Errorf("%w: throttle values must not be negative", ErrInvalidRule)
	}
	return nil
}

// BidDown reduces current by pct percent, never below floor. ok is false when the
// result is within delta of current, in which case there is nothing to do.
func BidDown(current int64, pct float64, floor, delta int64) (newBid int64, ok bool) {
	factor := 10000 - int64(math.Round(pct*100))
	newBid = current * factor / 10000
	if newBid < floor {
		newBid = floor
	}
	if abs64(current-newBid) < delta {
		return current, false
	}
	return newBid, true
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

package models

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
)

type RuleType string

const (
	RuleBudgetDepletion    RuleType = "budget_depletion"
	RuleSpendSpike         RuleType = "spend_spike"
	RuleSearchTermHarvest  RuleType = "search_term_harvest"
	RuleSearchTermPrune    RuleType = "search_term_prune"
	RuleBidDownHighACOS    RuleType = "bid_down_high_acos"
	RulePlacementOptimizer RuleType = "placement_optimizer"
)

var AllRuleTypes = []RuleType{
	RuleBudgetDepletion, RuleSpendSpike, RuleSearchTermHarvest,
	RuleSearchTermPrune, RuleBidDownHighACOS, RulePlacementOptimizer,
}

type Mode string

// Automation modes, in increasing order of autonomy.
const (
	ModeDryRun     Mode = "dry_run"
	ModeSuggestion Mode = "suggestion"
	ModeAuto       Mode = "auto"
)

func IsValidMode(m Mode) bool {
	return m == ModeDryRun || m == ModeSuggestion || m == ModeAuto
}

// Params is a typed view over a JSON object of rule or playbook parameters.
type Params map[string]any

// Float returns the numeric value of key. Strings holding numbers are accepted
// because params often arrive from form-encoded clients.
func (p Params) Float(key string) (float64, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func (p Params) FloatOr(key string, fallback float64) float64 {
	if v, ok := p.Float(key); ok {
		return v
	}
	return fallback
}

func (p Params) Int64Or(key string, fallback int64) int64 {
	if v, ok := p.Float(key); ok {
		return int64(v)
	}
	return fallback
}

func (p Params) StringOr(key, fallback string) string {
	if s, ok := p[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

type RuleAction struct {
	Type   ActionType `json:"type,omitempty"`
	Params Params     `json:"params,omitempty"`
}

type Throttle struct {
	CooldownHours    int `json:"cooldown_hours" validate:"gte=0,lte=720"`
	MaxActionsPerDay int `json:"max_actions_per_day" validate:"gte=0,lte=10000"`
}

func (t Throttle) Cooldown() time.Duration {
	return time.Duration(t.CooldownHours) * time.Hour
}

type AutomationRule struct {
	ID        uuid.UUID  `json:"id"`
	ProfileID string     `json:"profile_id" validate:"required"`
	Name      string     `json:"name" validate:"required,max=200"`
	RuleType  RuleType   `json:"rule_type" validate:"required"`
	Mode      Mode       `json:"mode" validate:"required,oneof=dry_run suggestion auto"`
	Enabled   bool       `json:"enabled"`
	Params    Params     `json:"params"`
	Action    RuleAction `json:"action"`
	Throttle  Throttle   `json:"throttle"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

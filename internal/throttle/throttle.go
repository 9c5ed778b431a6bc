package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/engine"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
	"github.com/google/uuid"
)

type Verdict string

const (
	Allow Verdict = "allow"
	Defer Verdict = "defer"
	Drop  Verdict = "drop"
)

// History is the slice of the queue store the controller reads. The
// RuleAction reads count items awaiting approval plus every item that ever
// reached queued, whatever happened to it afterwards. The RuleQueued reads
// count only the latter.
type History interface {
	CountRuleActionsSince(ctx context.Context, ruleID uuid.UUID, since time.Time) (int, error)
	LastRuleActionOnEntity(ctx context.Context, ruleID uuid.UUID, entityKey string) (*time.Time, error)
	CountRuleQueuedSince(ctx context.Context, ruleID uuid.UUID, since time.Time) (int, error)
	LastRuleQueuedOnEntity(ctx context.Context, ruleID uuid.UUID, entityKey string) (*time.Time, error)
}

type Decision struct {
	Verdict  Verdict
	Reason   string
	Proposal engine.ProposedAction // possibly with a clamped bid
}

type Controller struct {
	history   History
	noOpDelta int64
}

func NewController(history History, noOpDeltaMicros int64) *Controller {
	if noOpDeltaMicros <= 0 {
		noOpDeltaMicros = engine.NoOpBidDeltaMicros
	}
	return &Controller{history: history, noOpDelta: noOpDeltaMicros}
}

// Admit applies guardrails first and history second. Guardrail outcomes are
// final (drop); history outcomes are temporary (defer).
func (c *Controller) Admit(ctx context.Context, rule *models.AutomationRule, g *models.GuardrailSettings, p engine.ProposedAction, now time.Time) (Decision, error) {
	p, verdict, reason := c.applyGuardrails(g, p)
	if verdict == Drop {
		return Decision{Verdict: Drop, Reason: reason, Proposal: p}, nil
	}

	if rule == nil || rule.ID == uuid.Nil {
		return Decision{Verdict: Allow, Proposal: p}, nil
	}

	verdict, why, err := c.checkHistory(ctx, rule, p.Payload.EntityKey(), now,
		c.history.LastRuleActionOnEntity, c.history.CountRuleActionsSince)
	if err != nil {
		return Decision{}, err
	}
	if verdict == Defer {
		return Decision{Verdict: Defer, Reason: why, Proposal: p}, nil
	}

	return Decision{Verdict: Allow, Reason: reason, Proposal: p}, nil
}

// AdmitApproval decides whether a pending suggestion of rule may move to
// queued. Only items that already reached queued count, so the item under
// approval and its pending siblings do not hold slots against themselves.
func (c *Controller) AdmitApproval(ctx context.Context, rule *models.AutomationRule, entityKey string, now time.Time) (Decision, error) {
	if rule == nil || rule.ID == uuid.Nil {
		return Decision{Verdict: Allow}, nil
	}
	verdict, why, err := c.checkHistory(ctx, rule, entityKey, now,
		c.history.LastRuleQueuedOnEntity, c.history.CountRuleQueuedSince)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Verdict: verdict, Reason: why}, nil
}

type (
	lastFunc  func(ctx context.Context, ruleID uuid.UUID, entityKey string) (*time.Time, error)
	countFunc func(ctx context.Context, ruleID uuid.UUID, since time.Time) (int, error)
)

// checkHistory applies the per-entity cooldown and then the rolling 24h cap.
func (c *Controller) checkHistory(ctx context.Context, rule *models.AutomationRule, entityKey string, now time.Time, last lastFunc, count countFunc) (Verdict, string, error) {
	if cd := rule.Throttle.Cooldown(); cd > 0 {
		at, err := last(ctx, rule.ID, entityKey)
		if err != nil {
			return "", "", fmt.Errorf("read last action: %w", err)
		}
		if at != nil && now.Sub(*at) < cd {
			return Defer, fmt.Sprintf("cooldown: last action %s ago, cooldown %s", now.Sub(*at).Truncate(time.Minute), cd), nil
		}
	}

	if limit := rule.Throttle.MaxActionsPerDay; limit > 0 {
		n, err := count(ctx, rule.ID, now.Add(-24*time.Hour))
		if err != nil {
			return "", "", fmt.Errorf("count rule actions: %w", err)
		}
		if n >= limit {
			return Defer, fmt.Sprintf("daily cap reached: %d of %d", n, limit), nil
		}
	}
	return Allow, "", nil
}

// applyGuardrails drops protected targets and clamps bids into bounds. A clamped
// bid that ends up no different from the current bid is dropped as a no-op.
func (c *Controller) applyGuardrails(g *models.GuardrailSettings, p engine.ProposedAction) (engine.ProposedAction, Verdict, string) {
	if pe, ok := g.ProtectionFor(p.Payload); ok {
		return p, Drop, fmt.Sprintf("protected %s %s", pe.EntityType, pe.EntityID)
	}

	if p.ActionType == models.ActionUpdateBudget && (p.Payload.BudgetMicros == nil || *p.Payload.BudgetMicros <= 0) {
		return p, Drop, "budget must be positive"
	}

	if !p.ActionType.ChangesBid() || p.Payload.BidMicros == nil {
		return p, Allow, ""
	}

	bid := *p.Payload.BidMicros
	clamped := g.ClampBid(bid)
	reason := ""
	if clamped != bid {
		reason = fmt.Sprintf("bid clamped from %d to %d", bid, clamped)
		p.Payload.BidMicros = &clamped
	}
	if prev := p.Payload.PreviousBidMicros; prev != nil {
		delta := clamped - *prev
		if delta < 0 {
			delta = -delta
		}
		if delta < c.noOpDelta {
			return p, Drop, fmt.Sprintf("no-op: bid %d within %d of current %d", clamped, c.noOpDelta, *prev)
		}
	}
	return p, Allow, reason
}

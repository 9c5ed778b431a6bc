package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/engine"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/events"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/guardrail"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/lock"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/metrics"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/queue"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/repositories"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/throttle"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AutomationService runs rules: metrics in, alerts and queued actions out.
type AutomationService struct {
	ruleRepo  RuleStore
	alertRepo AlertStore
	guards    guardrail.Reader
	metrics   metrics.Provider
	engine    *engine.Engine
	throttle  *throttle.Controller
	queue     *queue.Queue
	locker    lock.Locker
	auditRepo queue.Auditor
	publisher events.Publisher
	lockTTL   time.Duration
	now       func() time.Time
	log       *zap.Logger
}

type AutomationDeps struct {
	Rules     RuleStore
	Alerts    AlertStore
	Guards    guardrail.Reader
	Metrics   metrics.Provider
	Engine    *engine.Engine
	Throttle  *throttle.Controller
	Queue     *queue.Queue
	Locker    lock.Locker
	Audit     queue.Auditor
	Publisher events.Publisher
	LockTTL   time.Duration
}

func NewAutomationService(d AutomationDeps, log *zap.Logger) *AutomationService {
	if d.LockTTL <= 0 {
		d.LockTTL = 2 * time.Minute
	}
	if d.Publisher == nil {
		d.Publisher = events.Nop{}
	}
	return &AutomationService{
		ruleRepo:  d.Rules,
		alertRepo: d.Alerts,
		guards:    d.Guards,
		metrics:   d.Metrics,
		engine:    d.Engine,
		throttle:  d.Throttle,
		queue:     d.Queue,
		locker:    d.Locker,
		auditRepo: d.Audit,
		publisher: d.Publisher,
		lockTTL:   d.LockTTL,
		now:       time.Now,
		log:       log,
	}
}

func (s *AutomationService) WithClock(now func() time.Time) *AutomationService {
	s.now = now
	return s
}

type RunRuleResult struct {
	RuleID            uuid.UUID   `json:"rule_id"`
	ProfileID         string      `json:"profile_id"`
	Mode              models.Mode `json:"mode"`
	Skipped           bool        `json:"skipped"`
	SkipReason        string      `json:"skip_reason,omitempty"`
	EntitiesEvaluated int         `json:"entities_evaluated"`
	AlertsCreated     int         `json:"alerts_created"`
	AlertsSuppressed  int         `json:"alerts_suppressed"`
	ActionsProposed   int         `json:"actions_proposed"`
	ActionsEnqueued   int         `json:"actions_enqueued"`
	PendingApproval   int         `json:"pending_approval"`
	DuplicatesIgnored int         `json:"duplicates_ignored"`
	ActionsDeferred   int         `json:"actions_deferred"`
	ActionsDropped    int         `json:"actions_dropped"`
	InsertsFailed     int         `json:"inserts_failed"`
}

// RunRule evaluates one rule now. Runs of the same rule are serialized across
// processes so throttle history and inserts cannot interleave.
func (s *AutomationService) RunRule(ctx context.Context, ruleID uuid.UUID) (*RunRuleResult, error) {
	rule, err := s.ruleRepo.GetByID(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if !rule.Enabled {
		return nil, ErrRuleDisabled
	}

	release, err := s.locker.Acquire(ctx, "rule:"+rule.ID.String(), s.lockTTL)
	if errors.Is(err, lock.ErrLocked) {
		return nil, ErrRuleRunning
	}
	if err != nil {
		return nil, fmt.Errorf("acquire rule lock: %w", err)
	}
	defer release()

	log := s.log.With(
		zap.String("rule_id", rule.ID.String()),
		zap.String("profile_id", rule.ProfileID),
		zap.String("rule_type", string(rule.RuleType)),
		zap.String("mode", string(rule.Mode)),
	)
	res := &RunRuleResult{RuleID: rule.ID, ProfileID: rule.ProfileID, Mode: rule.Mode}

	g, err := s.guards.GetGuardrails(ctx, rule.ProfileID)
	if err != nil {
		return nil, fmt.Errorf("load guardrails: %w", err)
	}
	if !g.AutomationEnabled {
		res.Skipped = true
		res.SkipReason = "automation is disabled for this profile"
		log.Info("rule run skipped", zap.String("reason", res.SkipReason))
		return res, nil
	}

	scope, err := engine.Scope(rule)
	if err != nil {
		return nil, err
	}
	now := s.now()
	rng := models.LookbackRange(now, engine.LookbackDays(rule))
	entities, err := s.metrics.GetMetrics(ctx, rule.ProfileID, scope, rng)
	if err != nil {
		return nil, fmt.Errorf("read metrics: %w", err)
	}
	res.EntitiesEvaluated = len(entities)

	out, err := s.engine.Evaluate(rule, engine.Window{Range: rng, Now: now, Entities: entities})
	if err != nil {
		return nil, err
	}

	gate := &alertGate{store: s.alertRepo, rule: rule, now: now, decided: map[string]bool{}}
	for i := range out.Alerts {
		s.raiseAlert(ctx, gate, &out.Alerts[i], res, log)
	}

	res.ActionsProposed = len(out.Proposals)
	for _, p := range out.Proposals {
		switch rule.Mode {
		case models.ModeDryRun:
			a := simulatedAlert(rule, p, now)
			s.raiseAlert(ctx, gate, &a, res, log)
		case models.ModeSuggestion:
			s.propose(ctx, rule, g, p, now, true, res, log)
		case models.ModeAuto:
			s.propose(ctx, rule, g, p, now, false, res, log)
		}
	}

	sctx, cancel := storeContext(ctx)
	defer cancel()
	if err := s.ruleRepo.MarkRun(sctx, rule.ID, now); err != nil {
		log.Warn("failed to mark rule run", zap.Error(err))
	}
	_ = s.auditRepo.Log(sctx, models.AuditLog{
		ProfileID:  rule.ProfileID,
		ActorType:  models.ActorRule,
		ActorRef:   rule.ID.String(),
		Action:     "rule_run",
		EntityType: models.AuditEntityRule,
		EntityID:   &rule.ID,
		Meta:       res,
	})
	_ = s.publisher.Publish(sctx, events.StreamAutomation, events.Event{
		Type: events.EventRuleRunFinished,
		Payload: map[string]any{
			"rule_id":          rule.ID.String(),
			"profile_id":       rule.ProfileID,
			"mode":             string(rule.Mode),
			"alerts_created":   res.AlertsCreated,
			"actions_enqueued": res.ActionsEnqueued,
			"pending_approval": res.PendingApproval,
		},
	})

	log.Info("rule run finished",
		zap.Int("entities", res.EntitiesEvaluated),
		zap.Int("alerts", res.AlertsCreated),
		zap.Int("alerts_suppressed", res.AlertsSuppressed),
		zap.Int("proposed", res.ActionsProposed),
		zap.Int("enqueued", res.ActionsEnqueued),
		zap.Int("pending_approval", res.PendingApproval),
		zap.Int("duplicates", res.DuplicatesIgnored),
		zap.Int("deferred", res.ActionsDeferred),
		zap.Int("dropped", res.ActionsDropped),
	)
	return res, nil
}

// propose admits one proposal and enqueues it. Suggestions count against the
// rule's cooldown and cap from the moment they are created.
func (s *AutomationService) propose(
	ctx context.Context,
	rule *models.AutomationRule,
	g *models.GuardrailSettings,
	p engine.ProposedAction,
	now time.Time,
	requireApproval bool,
	res *RunRuleResult,
	log *zap.Logger,
) {
	d, err := s.throttle.Admit(ctx, rule, g, p, now)
	if err != nil {
		res.InsertsFailed++
		log.Warn("throttle check failed", zap.String("entity_key", p.Payload.EntityKey()), zap.Error(err))
		return
	}
	switch d.Verdict {
	case throttle.Drop:
		res.ActionsDropped++
		_ = s.auditRepo.Log(ctx, models.AuditLog{
			ProfileID:  rule.ProfileID,
			ActorType:  models.ActorRule,
			ActorRef:   rule.ID.String(),
			Action:     "action_dropped",
			EntityType: models.AuditEntityRule,
			EntityID:   &rule.ID,
			Meta: map[string]any{
				"action_type": p.ActionType,
				"entity_key":  p.Payload.EntityKey(),
				"reason":      d.Reason,
			},
		})
		return
	case throttle.Defer:
		res.ActionsDeferred++
		log.Debug("action deferred", zap.String("entity_key", p.Payload.EntityKey()), zap.String("reason", d.Reason))
		return
	}

	p = d.Proposal
	reason := p.Reason
	if d.Reason != "" {
		reason += "; " + d.Reason
	}
	er, err := s.queue.Enqueue(ctx, queue.EnqueueRequest{
		ProfileID:       rule.ProfileID,
		ActionType:      p.ActionType,
		Payload:         p.Payload,
		Source:          models.SourceRule,
		RuleID:          &rule.ID,
		Reason:          reason,
		RequireApproval: requireApproval || guardrail.RequiresApproval(g, p.ActionType, p.Payload),
	})
	switch {
	case err != nil:
		res.InsertsFailed++
		log.Warn("enqueue failed", zap.String("entity_key", p.Payload.EntityKey()), zap.Error(err))
	case er.Outcome == queue.DuplicateIgnored:
		res.DuplicatesIgnored++
	case er.Item.Status == models.ActionStatusPendingApproval:
		res.PendingApproval++
	default:
		res.ActionsEnqueued++
	}
}

// alertGate holds back a rule's alerts on entities the rule already alerted on
// within its cooldown. The decision is taken once per entity per run, so one
// run may still raise several alerts on the same entity.
type alertGate struct {
	store   AlertStore
	rule    *models.AutomationRule
	now     time.Time
	decided map[string]bool
}

func (g *alertGate) allow(ctx context.Context, a *models.Alert) (bool, error) {
	cd := g.rule.Throttle.Cooldown()
	if cd <= 0 {
		return true, nil
	}
	key := string(a.EntityType) + ":" + a.EntityID
	if ok, seen := g.decided[key]; seen {
		return ok, nil
	}
	last, err := g.store.LastRuleAlertOnEntity(ctx, g.rule.ID, a.EntityType, a.EntityID)
	if err != nil {
		return true, err
	}
	ok := last == nil || g.now.Sub(*last) >= cd
	g.decided[key] = ok
	return ok, nil
}

func (s *AutomationService) raiseAlert(ctx context.Context, gate *alertGate, a *models.Alert, res *RunRuleResult, log *zap.Logger) {
	ok, err := gate.allow(ctx, a)
	if err != nil {
		log.Warn("failed to read alert history", zap.String("entity_id", a.EntityID), zap.Error(err))
	}
	if !ok {
		res.AlertsSuppressed++
		log.Debug("alert inside cooldown", zap.String("entity_id", a.EntityID), zap.String("title", a.Title))
		return
	}
	if s.createAlert(ctx, a, log) {
		res.AlertsCreated++
	}
}

func (s *AutomationService) createAlert(ctx context.Context, a *models.Alert, log *zap.Logger) bool {
	if err := s.alertRepo.Create(ctx, a); err != nil {
		log.Warn("failed to create alert", zap.String("entity_id", a.EntityID), zap.Error(err))
		return false
	}
	_ = s.publisher.Publish(ctx, events.StreamAutomation, events.Event{
		Type: events.EventAlertCreated,
		Payload: map[string]any{
			"alert_id":   a.ID.String(),
			"profile_id": a.ProfileID,
			"severity":   string(a.Severity),
			"title":      a.Title,
			"entity_id":  a.EntityID,
		},
	})
	return true
}

// simulatedAlert reports what a dry-run rule would have done.
func simulatedAlert(rule *models.AutomationRule, p engine.ProposedAction, now time.Time) models.Alert {
	ruleID := rule.ID
	return models.Alert{
		ProfileID:  rule.ProfileID,
		RuleID:     &ruleID,
		EntityType: p.Payload.EntityType,
		EntityID:   p.Payload.EntityID,
		Severity:   models.SeverityInfo,
		State:      models.AlertStateNew,
		Title:      fmt.Sprintf("Simulated %s on %s %s", p.ActionType, p.Payload.EntityType, p.Payload.EntityID),
		Message:    p.Reason,
		Data: map[string]any{
			"simulated": true,
			"action": map[string]any{
				"action_type": p.ActionType,
				"payload":     p.Payload,
				"reason":      p.Reason,
			},
			"metrics": p.Metrics,
		},
		CreatedAt: now,
	}
}

// GateApproval runs approve while holding the lock of the rule that proposed
// item, passing a non-empty reason when the rule's cooldown or cap would be
// exceeded by queueing it now. Items without a rule are passed straight through.
func (s *AutomationService) GateApproval(ctx context.Context, item *models.ActionQueueItem, approve func(deferReason string) error) error {
	if item.RuleID == nil {
		return approve("")
	}
	release, err := s.locker.Acquire(ctx, "rule:"+item.RuleID.String(), s.lockTTL)
	if errors.Is(err, lock.ErrLocked) {
		return ErrRuleRunning
	}
	if err != nil {
		return fmt.Errorf("acquire rule lock: %w", err)
	}
	defer release()

	rule, err := s.ruleRepo.GetByID(ctx, *item.RuleID)
	if errors.Is(err, repositories.ErrNotFound) {
		return approve("")
	}
	if err != nil {
		return fmt.Errorf("load rule: %w", err)
	}
	d, err := s.throttle.AdmitApproval(ctx, rule, item.EntityKey, s.now())
	if err != nil {
		return err
	}
	if d.Verdict == throttle.Defer {
		return approve(d.Reason)
	}
	return approve("")
}

type RunAllResult struct {
	Rules     int `json:"rules"`
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// RunEnabledRules runs every enabled rule once. One failing rule does not stop
// the others.
func (s *AutomationService) RunEnabledRules(ctx context.Context) (RunAllResult, error) {
	rules, err := s.ruleRepo.ListEnabled(ctx)
	if err != nil {
		return RunAllResult{}, fmt.Errorf("list enabled rules: %w", err)
	}

	out := RunAllResult{Rules: len(rules)}
	for _, r := range rules {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		res, err := s.RunRule(ctx, r.ID)
		switch {
		case errors.Is(err, ErrRuleRunning), errors.Is(err, ErrRuleDisabled):
			out.Skipped++
		case err != nil:
			out.Failed++
			s.log.Error("rule run failed", zap.String("rule_id", r.ID.String()), zap.Error(err))
		case res.Skipped:
			out.Skipped++
		default:
			out.Succeeded++
		}
	}
	return out, nil
}

type TestActionRequest struct {
	ProfileID       string
	ActionType      models.ActionType
	Payload         models.ActionPayload
	Reason          string
	RequireApproval bool
}

// EnqueueTestAction queues a hand-written action after the same guardrail
// checks rule actions get.
func (s *AutomationService) EnqueueTestAction(ctx context.Context, actorID *uuid.UUID, req TestActionRequest) (queue.EnqueueResult, error) {
	if req.ProfileID == "" {
		return queue.EnqueueResult{}, ErrProfileRequired
	}
	if err := req.Payload.Validate(req.ActionType); err != nil {
		return queue.EnqueueResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	g, err := s.guards.GetGuardrails(ctx, req.ProfileID)
	if err != nil {
		return queue.EnqueueResult{}, fmt.Errorf("load guardrails: %w", err)
	}
	if v := guardrail.Check(g, req.ActionType, req.Payload); v != nil {
		if v.Code == guardrail.CodeProtectedEntity {
			return queue.EnqueueResult{}, fmt.Errorf("%w: %s", ErrProtectedEntity, v.Reason)
		}
		return queue.EnqueueResult{}, fmt.Errorf("%w: %s", ErrGuardrailViolation, v.Reason)
	}

	reason := req.Reason
	if reason == "" {
		reason = "manual test action"
	}
	res, err := s.queue.Enqueue(ctx, queue.EnqueueRequest{
		ProfileID:       req.ProfileID,
		ActionType:      req.ActionType,
		Payload:         req.Payload,
		Source:          models.SourceManual,
		Reason:          reason,
		RequireApproval: req.RequireApproval || guardrail.RequiresApproval(g, req.ActionType, req.Payload),
	})
	if err != nil {
		return queue.EnqueueResult{}, err
	}
	if res.Outcome == queue.Inserted {
		s.log.Info("test action enqueued",
			zap.String("action_id", res.Item.ID.String()),
			zap.String("profile_id", req.ProfileID),
			zap.String("action_type", string(req.ActionType)),
			zap.Bool("by_user", actorID != nil),
		)
	}
	return res, nil
}

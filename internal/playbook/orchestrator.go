package playbook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/engine"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/events"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/guardrail"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/metrics"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/queue"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/throttle"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrProfileMismatch = errors.New("playbook belongs to another profile")
	ErrDisabled        = errors.New("playbook is disabled")
)

// RunStore persists playbook runs. FinishRun only succeeds on a running run.
type RunStore interface {
	CreateRun(ctx context.Context, run *models.PlaybookRun) error
	FinishRun(ctx context.Context, run *models.PlaybookRun) error
}

type Orchestrator struct {
	queue     *queue.Queue
	guards    guardrail.Reader
	metrics   metrics.Provider
	runs      RunStore
	throttle  *throttle.Controller
	audit     queue.Auditor
	publisher events.Publisher
	noOpDelta int64
	now       func() time.Time
	log       *zap.Logger
}

func NewOrchestrator(
	q *queue.Queue,
	guards guardrail.Reader,
	provider metrics.Provider,
	runs RunStore,
	audit queue.Auditor,
	publisher events.Publisher,
	noOpDelta int64,
	log *zap.Logger,
) *Orchestrator {
	if noOpDelta <= 0 {
		noOpDelta = engine.NoOpBidDeltaMicros
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Orchestrator{
		queue:     q,
		guards:    guards,
		metrics:   provider,
		runs:      runs,
		throttle:  throttle.NewController(nil, noOpDelta),
		audit:     audit,
		publisher: publisher,
		noOpDelta: noOpDelta,
		now:       time.Now,
		log:       log,
	}
}

func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Run executes one playbook against a profile. Actions are enqueued only in
// auto mode; other modes report them in the run's steps. Once the run record
// exists Run returns it, and failures are described by its status and error.
func (o *Orchestrator) Run(ctx context.Context, def *models.PlaybookDefinition, profileID string, mode models.Mode) (*models.PlaybookRun, error) {
	if profileID == "" {
		return nil, errors.New("profile_id is required")
	}
	if def.ProfileID != "" && def.ProfileID != profileID {
		return nil, ErrProfileMismatch
	}
	if !def.Enabled {
		return nil, ErrDisabled
	}
	if !models.IsValidMode(mode) {
		return nil, fmt.Errorf("invalid mode %q", mode)
	}
	if err := ValidateDefinition(def); err != nil {
		return nil, err
	}
	tpl, _ := Lookup(def.Template)

	now := o.now()
	run := &models.PlaybookRun{
		ID:         uuid.New(),
		PlaybookID: def.ID,
		ProfileID:  profileID,
		Mode:       mode,
		Status:     models.PlaybookRunRunning,
		Steps:      []models.PlaybookStep{},
		StartedAt:  now,
	}
	if err := o.runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create playbook run: %w", err)
	}

	log := o.log.With(
		zap.String("run_id", run.ID.String()),
		zap.String("profile_id", profileID),
		zap.String("template", def.Template),
		zap.String("mode", string(mode)),
	)

	g, err := o.guards.GetGuardrails(ctx, profileID)
	if err != nil {
		return o.finish(ctx, run, fmt.Errorf("load guardrails: %w", err), log)
	}
	if mode == models.ModeAuto && !g.AutomationEnabled {
		return o.finish(ctx, run, errors.New("automation is disabled for this profile"), log)
	}

	days := int(def.Params.Int64Or("lookbackDays", int64(tpl.LookbackDays)))
	rng := models.LookbackRange(now, days)
	entities, err := o.metrics.GetMetrics(ctx, profileID, ScopeFor(def, tpl), rng)
	if err != nil {
		return o.finish(ctx, run, fmt.Errorf("read metrics: %w", err), log)
	}

	proposals := tpl.Build(def.Params, entities, o.noOpDelta)
	run.ActionsProposed = len(proposals)

	attempted, failed := 0, 0
	for _, p := range proposals {
		step := models.PlaybookStep{ActionType: p.ActionType, Payload: p.Payload, Reason: p.Reason}
		if mode != models.ModeAuto {
			step.Outcome = models.StepSimulated
			run.Steps = append(run.Steps, step)
			continue
		}

		// No rule, so only guardrails apply: protection, bid clamping and no-ops.
		d, err := o.throttle.Admit(ctx, nil, g, p, now)
		if err != nil {
			attempted++
			failed++
			step.Outcome = models.StepInsertFail
			step.Error = err.Error()
			run.Steps = append(run.Steps, step)
			continue
		}
		if d.Verdict == throttle.Drop {
			step.Outcome = models.StepDropped
			step.Error = d.Reason
			o.auditDrop(ctx, run, p, d.Reason)
			run.Steps = append(run.Steps, step)
			continue
		}
		p = d.Proposal
		step.Payload = p.Payload

		attempted++
		res, err := o.queue.Enqueue(ctx, queue.EnqueueRequest{
			ProfileID:       profileID,
			ActionType:      p.ActionType,
			Payload:         p.Payload,
			Source:          models.SourcePlaybook,
			PlaybookRunID:   &run.ID,
			Reason:          p.Reason,
			RequireApproval: guardrail.RequiresApproval(g, p.ActionType, p.Payload),
		})
		switch {
		case err != nil:
			failed++
			step.Outcome = models.StepInsertFail
			step.Error = err.Error()
			log.Warn("playbook step insert failed", zap.String("action_type", string(p.ActionType)), zap.Error(err))
		case res.Outcome == queue.DuplicateIgnored:
			run.DuplicatesIgnored++
			step.Outcome = models.StepDuplicate
			if res.Item != nil {
				step.ActionID = &res.Item.ID
			}
		default:
			run.ActionsEnqueued++
			step.Outcome = models.StepEnqueued
			step.ActionID = &res.Item.ID
		}
		run.Steps = append(run.Steps, step)
	}

	var runErr error
	if attempted > 0 && failed == attempted {
		runErr = fmt.Errorf("all %d inserts failed", failed)
	} else if failed > 0 {
		msg := fmt.Sprintf("%d of %d inserts failed", failed, attempted)
		run.Error = &msg
	}
	return o.finish(ctx, run, runErr, log)
}

func (o *Orchestrator) finish(ctx context.Context, run *models.PlaybookRun, runErr error, log *zap.Logger) (*models.PlaybookRun, error) {
	finished := o.now()
	run.FinishedAt = &finished
	run.Status = models.PlaybookRunSuccess
	if runErr != nil {
		run.Status = models.PlaybookRunFailed
		msg := runErr.Error()
		run.Error = &msg
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := o.runs.FinishRun(sctx, run); err != nil {
		log.Error("failed to finish playbook run", zap.Error(err))
		return run, fmt.Errorf("finish playbook run: %w", err)
	}

	_ = o.audit.Log(sctx, models.AuditLog{
		ProfileID:  run.ProfileID,
		ActorType:  models.ActorPlaybook,
		ActorRef:   run.PlaybookID.String(),
		Action:     "playbook_run_" + run.Status,
		EntityType: models.AuditEntityPlaybookRun,
		EntityID:   &run.ID,
		Meta: map[string]any{
			"mode":               run.Mode,
			"actions_proposed":   run.ActionsProposed,
			"actions_enqueued":   run.ActionsEnqueued,
			"duplicates_ignored": run.DuplicatesIgnored,
			"error":              run.Error,
		},
	})
	_ = o.publisher.Publish(sctx, events.StreamAutomation, events.Event{
		Type: events.EventPlaybookRunFinished,
		Payload: map[string]any{
			"run_id":           run.ID.String(),
			"playbook_id":      run.PlaybookID.String(),
			"profile_id":       run.ProfileID,
			"status":           run.Status,
			"actions_enqueued": run.ActionsEnqueued,
		},
	})

	log.Info("playbook run finished",
		zap.String("status", run.Status),
		zap.Int("proposed", run.ActionsProposed),
		zap.Int("enqueued", run.ActionsEnqueued),
		zap.Int("duplicates", run.DuplicatesIgnored),
	)
	return run, nil
}

func (o *Orchestrator) auditDrop(ctx context.Context, run *models.PlaybookRun, p engine.ProposedAction, reason string) {
	_ = o.audit.Log(ctx, models.AuditLog{
		ProfileID:  run.ProfileID,
		ActorType:  models.ActorPlaybook,
		ActorRef:   run.ID.String(),
		Action:     "action_dropped",
		EntityType: models.AuditEntityPlaybookRun,
		EntityID:   &run.ID,
		Meta: map[string]any{
			"action_type": p.ActionType,
			"entity_key":  p.Payload.EntityKey(),
			"reason":      reason,
		},
	})
}

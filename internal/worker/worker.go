package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/adsapi"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/events"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/guardrail"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	ID            string
	BatchSize     int
	Concurrency   int
	Lease         time.Duration
	MaxDeliveries int // claims of one item before a retriable failure becomes final
	Retry         RetryPolicy
}

type Stats struct {
	Processed int `json:"processed"`
	Applied   int `json:"applied"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Released  int `json:"released"`
}

type outcome int

const (
	outcomeApplied outcome = iota
	outcomeFailed
	outcomeSkipped
	outcomeReleased
	outcomeLost
)

type Worker struct {
	cfg       Config
	queue     *queue.Queue
	guards    guardrail.Reader
	api       adsapi.API
	publisher events.Publisher
	now       func() time.Time
	log       *zap.Logger
}

func New(cfg Config, q *queue.Queue, guards guardrail.Reader, api adsapi.API, publisher events.Publisher, log *zap.Logger) *Worker {
	if cfg.ID == "" {
		cfg.ID = "worker"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 5 * time.Minute
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 5
	}
	if cfg.Retry.MaxAttempts == 0 {
		sleeper := cfg.Retry.Sleeper
		cfg.Retry = DefaultRetryPolicy()
		cfg.Retry.Sleeper = sleeper
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Worker{
		cfg:       cfg,
		queue:     q,
		guards:    guards,
		api:       api,
		publisher: publisher,
		now:       time.Now,
		log:       log.With(zap.String("worker_id", cfg.ID)),
	}
}

// WithClock replaces the clock used for not_before computation.
func (w *Worker) WithClock(now func() time.Time) *Worker {
	w.now = now
	return w
}

func (w *Worker) ID() string { return w.cfg.ID }

// RunOnce claims one batch and drives every claimed item to a terminal status
// or back to the queue. Safe to call concurrently from many processes.
func (w *Worker) RunOnce(ctx context.Context) (Stats, error) {
	items, err := w.queue.Claim(ctx, w.cfg.ID, w.cfg.Lease, w.cfg.BatchSize)
	if err != nil {
		return Stats{}, fmt.Errorf("claim actions: %w", err)
	}
	if len(items) == 0 {
		return Stats{}, nil
	}

	var (
		mu    sync.Mutex
		stats Stats
		g     errgroup.Group
	)
	g.SetLimit(w.cfg.Concurrency)

	for i := range items {
		item := &items[i]
		g.Go(func() error {
			out, err := w.process(ctx, item)
			mu.Lock()
			defer mu.Unlock()
			stats.Processed++
			switch out {
			case outcomeApplied:
				stats.Applied++
			case outcomeFailed:
				stats.Failed++
			case outcomeSkipped:
				stats.Skipped++
			case outcomeReleased:
				stats.Released++
			}
			return err
		})
	}
	err = g.Wait()

	w.log.Info("worker pass finished",
		zap.Int("processed", stats.Processed),
		zap.Int("applied", stats.Applied),
		zap.Int("failed", stats.Failed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("released", stats.Released),
	)
	return stats, err
}

// Drain keeps claiming while full batches come back so a backlog does not
// wait a whole interval per batch. It returns the totals of every pass.
func (w *Worker) Drain(ctx context.Context) (Stats, error) {
	var total Stats
	for ctx.Err() == nil {
		stats, err := w.RunOnce(ctx)
		total.Processed += stats.Processed
		total.Applied += stats.Applied
		total.Failed += stats.Failed
		total.Skipped += stats.Skipped
		total.Released += stats.Released
		if err != nil {
			return total, err
		}
		if stats.Processed < w.cfg.BatchSize || stats.Released == stats.Processed {
			break
		}
	}
	return total, nil
}

func (w *Worker) process(ctx context.Context, item *models.ActionQueueItem) (outcome, error) {
	log := w.log.With(
		zap.String("action_id", item.ID.String()),
		zap.String("profile_id", item.ProfileID),
		zap.String("action_type", string(item.ActionType)),
	)

	g, err := w.guards.GetGuardrails(ctx, item.ProfileID)
	if err != nil {
		log.Error("failed to load guardrails", zap.Error(err))
		return w.release(ctx, item, nil, false, "guardrails unavailable", log)
	}
	if !g.AutomationEnabled {
		log.Info("automation disabled, leaving action queued")
		return w.release(ctx, item, nil, false, "", log)
	}
	if v := guardrail.Check(g, item.ActionType, item.Payload); v != nil {
		log.Info("guardrail re-check failed", zap.String("code", v.Code), zap.String("reason", v.Reason))
		return w.finish(ctx, item, models.ActionStatusSkipped, queue.StatusUpdate{Reason: v.Reason}, log)
	}

	handler, ok := HandlerFor(item.ActionType)
	if !ok {
		return w.finish(ctx, item, models.ActionStatusFailed, queue.StatusUpdate{
			Reason: "no handler",
			Error:  fmt.Sprintf("no handler registered for %s", item.ActionType),
		}, log)
	}

	var result *adsapi.Result
	attempts, callErr := w.cfg.Retry.Do(ctx, adsapi.IsRetriable, adsapi.RetryAfter, func(ctx context.Context) error {
		r, err := handler(ctx, w.api, item)
		if err == nil {
			result = r
		}
		return err
	})

	if callErr == nil {
		log.Info("action applied", zap.Int("attempts", attempts), zap.String("request_id", result.RequestID))
		return w.finish(ctx, item, models.ActionStatusApplied, queue.StatusUpdate{
			Reason:    "applied",
			RequestID: result.RequestID,
			Response:  result.Body,
		}, log)
	}

	if ctx.Err() != nil {
		log.Info("worker stopping, releasing action", zap.Error(callErr))
		return w.release(ctx, item, nil, false, "", log)
	}

	u := failureUpdate(callErr)
	switch {
	case adsapi.IsAuthError(callErr):
		log.Warn("ads api credentials rejected", zap.Error(callErr))
		u.Reason = "authorization expired, reconnect the profile"
		_ = w.publisher.Publish(ctx, events.StreamAutomation, events.Event{
			Type: events.EventAuthExpired,
			Payload: map[string]any{
				"profile_id": item.ProfileID,
				"action_id":  item.ID.String(),
			},
		})
		return w.finish(ctx, item, models.ActionStatusFailed, u, log)

	case !adsapi.IsRetriable(callErr):
		log.Warn("action failed", zap.Error(callErr))
		u.Reason = "rejected by ads api"
		return w.finish(ctx, item, models.ActionStatusFailed, u, log)
	}

	deliveries := item.Attempts + 1
	if deliveries >= w.cfg.MaxDeliveries {
		log.Warn("retries exhausted", zap.Int("deliveries", deliveries), zap.Error(callErr))
		u.Reason = fmt.Sprintf("retries exhausted after %d deliveries", deliveries)
		return w.finish(ctx, item, models.ActionStatusFailed, u, log)
	}

	notBefore := w.now().Add(w.redeliveryDelay(deliveries, callErr))
	log.Info("retriable failure, releasing action", zap.Int("deliveries", deliveries), zap.Time("not_before", notBefore), zap.Error(callErr))
	return w.release(ctx, item, &notBefore, true, callErr.Error(), log)
}

// redeliveryDelay grows with the number of deliveries so a provider outage is
// not hammered on every pass.
func (w *Worker) redeliveryDelay(deliveries int, err error) time.Duration {
	p := w.cfg.Retry.normalized()
	d := p.BaseDelay << uint(deliveries)
	if d <= 0 || d > p.MaxDelay {
		d = p.MaxDelay
	}
	if ra := adsapi.RetryAfter(err); ra > d {
		d = ra
	}
	return d
}

func (w *Worker) finish(ctx context.Context, item *models.ActionQueueItem, to models.ActionStatus, u queue.StatusUpdate, log *zap.Logger) (outcome, error) {
	sctx, cancel := storeContext(ctx)
	defer cancel()

	var err error
	switch to {
	case models.ActionStatusApplied:
		err = w.queue.MarkApplied(sctx, item, w.cfg.ID, u)
	case models.ActionStatusSkipped:
		err = w.queue.MarkSkipped(sctx, item, w.cfg.ID, u.Reason)
	default:
		err = w.queue.MarkFailed(sctx, item, w.cfg.ID, u)
	}
	if errors.Is(err, queue.ErrClaimLost) {
		log.Warn("claim lost before completion", zap.String("status", string(to)))
		return outcomeLost, nil
	}
	if err != nil {
		log.Error("failed to record action outcome", zap.String("status", string(to)), zap.Error(err))
		return outcomeLost, err
	}
	switch to {
	case models.ActionStatusApplied:
		return outcomeApplied, nil
	case models.ActionStatusSkipped:
		return outcomeSkipped, nil
	default:
		return outcomeFailed, nil
	}
}

func (w *Worker) release(ctx context.Context, item *models.ActionQueueItem, notBefore *time.Time, countAttempt bool, lastErr string, log *zap.Logger) (outcome, error) {
	sctx, cancel := storeContext(ctx)
	defer cancel()

	err := w.queue.Release(sctx, item, w.cfg.ID, notBefore, countAttempt, lastErr)
	if errors.Is(err, queue.ErrClaimLost) {
		log.Warn("claim lost before release")
		return outcomeLost, nil
	}
	if err != nil {
		log.Error("failed to release action", zap.Error(err))
		return outcomeLost, err
	}
	return outcomeReleased, nil
}

// storeContext outlives cancellation of the pass so the last durable write
// still happens on shutdown.
func storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
}

func failureUpdate(err error) queue.StatusUpdate {
	u := queue.StatusUpdate{Error: err.Error()}
	var apiErr *adsapi.APIError
	if errors.As(err, &apiErr) {
		u.RequestID = apiErr.RequestID
		if len(apiErr.Body) > 0 && json.Valid(apiErr.Body) {
			u.Response = json.RawMessage(apiErr.Body)
		}
	}
	return u
}

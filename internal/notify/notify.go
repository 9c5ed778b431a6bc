package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/events"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

type Notification struct {
	Kind      string         `json:"kind"`
	ProfileID string         `json:"profile_id"`
	Text      string         `json:"text"`
	Payload   map[string]any `json:"payload"`
}

func str(p map[string]any, key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// FromEvent reports whether e is worth a notification and builds it.
func FromEvent(e events.Event) (Notification, bool) {
	n := Notification{Kind: e.Type, ProfileID: str(e.Payload, "profile_id"), Payload: e.Payload}
	switch e.Type {
	case events.EventAlertCreated:
		if str(e.Payload, "severity") != string(models.SeverityCritical) {
			return n, false
		}
		n.Text = fmt.Sprintf("Critical alert on %s: %s", str(e.Payload, "entity_id"), str(e.Payload, "title"))
	case events.EventAuthExpired:
		n.Text = fmt.Sprintf("Advertising API authorization expired for profile %s", n.ProfileID)
	case events.EventActionStatusChanged:
		if str(e.Payload, "new_status") != string(models.ActionStatusFailed) {
			return n, false
		}
		n.Text = fmt.Sprintf("Action %s (%s) failed: %s", str(e.Payload, "action_id"), str(e.Payload, "action_type"), str(e.Payload, "reason"))
	case events.EventPlaybookRunFinished:
		if str(e.Payload, "status") != models.PlaybookRunFailed {
			return n, false
		}
		n.Text = fmt.Sprintf("Playbook run %s failed", str(e.Payload, "run_id"))
	default:
		return n, false
	}
	return n, true
}

type Webhook struct {
	url        string
	httpClient *http.Client
	maxElapsed time.Duration
	log        *zap.Logger
}

func NewWebhook(url string, timeout, maxElapsed time.Duration, log *zap.Logger) *Webhook {
	return &Webhook{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		maxElapsed: maxElapsed,
		log:        log,
	}
}

// Send posts n as JSON. 5xx answers and transport errors are retried with
// exponential backoff; any other non-2xx answer is final.
func (w *Webhook) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = w.maxElapsed

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.httpClient.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("webhook returned %d", resp.StatusCode)
		case resp.StatusCode >= 300:
			return backoff.Permanent(fmt.Errorf("webhook returned %d", resp.StatusCode))
		}
		return nil
	}

	notify := func(err error, d time.Duration) {
		w.log.Warn("webhook delivery failed, retrying", zap.String("kind", n.Kind), zap.Duration("in", d), zap.Error(err))
	}
	return backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
}

// Forward subscribes to the automation stream and sends every notable event.
func (w *Webhook) Forward(ctx context.Context, sub events.Subscriber) error {
	return sub.Subscribe(ctx, events.StreamAutomation, func(e events.Event) {
		n, ok := FromEvent(e)
		if !ok {
			return
		}
		if err := w.Send(ctx, n); err != nil {
			w.log.Error("failed to deliver notification",
				zap.String("kind", n.Kind),
				zap.String("profile_id", n.ProfileID),
				zap.Error(err),
			)
			return
		}
		w.log.Info("notification delivered", zap.String("kind", n.Kind), zap.String("profile_id", n.ProfileID))
	})
}

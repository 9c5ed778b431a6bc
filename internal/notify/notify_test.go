package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/events"
	"go.uber.org/zap"
)

func TestFromEvent(t *testing.T) {
	tests := []struct {
		name  string
		event events.Event
		want  bool
	}{
		{"critical alert", events.Event{Type: events.EventAlertCreated, Payload: map[string]any{"severity": "critical", "title": "spend spike"}}, true},
		{"warn alert", events.Event{Type: events.EventAlertCreated, Payload: map[string]any{"severity": "warn"}}, false},
		{"auth expired", events.Event{Type: events.EventAuthExpired, Payload: map[string]any{"profile_id": "p1"}}, true},
		{"failed action", events.Event{Type: events.EventActionStatusChanged, Payload: map[string]any{"new_status": "failed", "reason": "400"}}, true},
		{"applied action", events.Event{Type: events.EventActionStatusChanged, Payload: map[string]any{"new_status": "applied"}}, false},
		{"failed playbook", events.Event{Type: events.EventPlaybookRunFinished, Payload: map[string]any{"status": "failed"}}, true},
		{"successful playbook", events.Event{Type: events.EventPlaybookRunFinished, Payload: map[string]any{"status": "success"}}, false},
		{"rule run", events.Event{Type: events.EventRuleRunFinished}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, ok := FromEvent(tt.event)
			if ok != tt.want {
				t.Fatalf("FromEvent ok = %v, want %v", ok, tt.want)
			}
			if ok && n.Text == "" {
				t.Error("notification has no text")
			}
		})
	}
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	var got Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, time.Second, 10*time.Second, zap.NewNop())
	n := Notification{Kind: events.EventAuthExpired, ProfileID: "p1", Text: "expired"}
	if err := wh.Send(context.Background(), n); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if got.ProfileID != "p1" || got.Kind != events.EventAuthExpired {
		t.Errorf("delivered = %+v", got)
	}
}

func TestWebhookClientErrorIsFinal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, time.Second, 10*time.Second, zap.NewNop())
	if err := wh.Send(context.Background(), Notification{Kind: "x"}); err == nil {
		t.Fatal("Send succeeded on 401")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

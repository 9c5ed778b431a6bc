package events

import "context"

// StreamAutomation carries every automation event for all profiles.
const StreamAutomation = "events:automation"

// Event types
const (
	EventActionStatusChanged = "action_status_changed"
	EventActionApplied       = "action_applied"
	EventAlertCreated        = "alert_created"
	EventPlaybookRunFinished = "playbook_run_finished"
	EventRuleRunFinished     = "rule_run_finished"
	EventAuthExpired         = "auth_expired"
	EventGuardrailsChanged   = "guardrails_changed"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}

// Nop discards events. Used where no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, Event) error { return nil }

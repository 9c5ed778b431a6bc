package testutil

import (
	"context"
	"sync"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/events"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Logger returns a logger that drops everything.
func Logger() *zap.Logger { return zap.NewNop() }

// Guardrails is an in-memory guardrail.Reader.
type Guardrails struct {
	mu       sync.Mutex
	settings map[string]*models.GuardrailSettings
}

func NewGuardrails() *Guardrails {
	return &Guardrails{settings: make(map[string]*models.GuardrailSettings)}
}

func (g *Guardrails) GetGuardrails(_ context.Context, profileID string) (*models.GuardrailSettings, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.settings[profileID]
	if !ok {
		return models.DefaultGuardrails(profileID), nil
	}
	cp := *s
	cp.ProtectedEntities = append([]models.ProtectedEntity(nil), s.ProtectedEntities...)
	return &cp, nil
}

func (g *Guardrails) Set(s *models.GuardrailSettings) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := *s
	g.settings[s.ProfileID] = &cp
}

func (g *Guardrails) Protect(profileID string, t models.EntityType, id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.getLocked(profileID)
	s.ProtectedEntities = append(s.ProtectedEntities, models.ProtectedEntity{EntityType: t, EntityID: id, Reason: "test"})
}

func (g *Guardrails) SetKillSwitch(profileID string, enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.getLocked(profileID).AutomationEnabled = enabled
}

func (g *Guardrails) UpsertSettings(_ context.Context, s *models.GuardrailSettings) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	cur := g.getLocked(s.ProfileID)
	cur.AutomationEnabled = s.AutomationEnabled
	cur.BidMinMicros = s.BidMinMicros
	cur.BidMaxMicros = s.BidMaxMicros
	cur.ApprovalThresholdPct = s.ApprovalThresholdPct
	return nil
}

func (g *Guardrails) SetAutomationEnabled(_ context.Context, profileID string, enabled bool) error {
	g.SetKillSwitch(profileID, enabled)
	return nil
}

func (g *Guardrails) ListProtected(_ context.Context, profileID string) ([]models.ProtectedEntity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]models.ProtectedEntity(nil), g.getLocked(profileID).ProtectedEntities...), nil
}

func (g *Guardrails) AddProtected(_ context.Context, profileID string, pe *models.ProtectedEntity) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.getLocked(profileID)
	for i := range s.ProtectedEntities {
		cur := &s.ProtectedEntities[i]
		if cur.EntityType == pe.EntityType && cur.EntityID == pe.EntityID {
			cur.Reason = pe.Reason
			return nil
		}
	}
	s.ProtectedEntities = append(s.ProtectedEntities, *pe)
	return nil
}

func (g *Guardrails) RemoveProtected(_ context.Context, profileID string, t models.EntityType, entityID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.getLocked(profileID)
	for i, cur := range s.ProtectedEntities {
		if cur.EntityType == t && cur.EntityID == entityID {
			s.ProtectedEntities = append(s.ProtectedEntities[:i], s.ProtectedEntities[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (g *Guardrails) getLocked(profileID string) *models.GuardrailSettings {
	s, ok := g.settings[profileID]
	if !ok {
		s = models.DefaultGuardrails(profileID)
		g.settings[profileID] = s
	}
	return s
}

func (g *Guardrails) enabled(profileID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.settings[profileID]
	return !ok || s.AutomationEnabled
}

// Auditor records audit entries.
type Auditor struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func (a *Auditor) Log(_ context.Context, entry models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *Auditor) Entries() []models.AuditLog {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.AuditLog(nil), a.entries...)
}

// GetByEntity returns the entity's entries newest first.
func (a *Auditor) GetByEntity(_ context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []models.AuditLog
	for i := len(a.entries) - 1; i >= 0; i-- {
		e := a.entries[i]
		if e.EntityType == entityType && e.EntityID != nil && *e.EntityID == entityID {
			out = append(out, e)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Publisher records published events.
type Publisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *Publisher) Publish(_ context.Context, _ string, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *Publisher) Events(eventType string) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if eventType == "" || e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

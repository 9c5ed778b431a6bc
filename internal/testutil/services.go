package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/lock"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/repositories"
	"github.com/google/uuid"
)

// Rules is an in-memory rule store.
type Rules struct {
	mu    sync.Mutex
	rules map[uuid.UUID]models.AutomationRule
	order []uuid.UUID
}

func NewRules() *Rules {
	return &Rules{rules: make(map[uuid.UUID]models.AutomationRule)}
}

func (s *Rules) Create(_ context.Context, r *models.AutomationRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	s.rules[r.ID] = *r
	s.order = append(s.order, r.ID)
	return nil
}

func (s *Rules) GetByID(_ context.Context, id uuid.UUID) (*models.AutomationRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &r, nil
}

func (s *Rules) ListByProfile(_ context.Context, profileID string) ([]models.AutomationRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AutomationRule
	for _, id := range s.order {
		if r := s.rules[id]; r.ProfileID == profileID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Rules) ListEnabled(_ context.Context) ([]models.AutomationRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AutomationRule
	for _, id := range s.order {
		if r := s.rules[id]; r.Enabled {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Rules) Update(_ context.Context, r *models.AutomationRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[r.ID]; !ok {
		return repositories.ErrNotFound
	}
	r.UpdatedAt = time.Now()
	s.rules[r.ID] = *r
	return nil
}

func (s *Rules) MarkRun(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return repositories.ErrNotFound
	}
	r.LastRunAt = &at
	s.rules[id] = r
	return nil
}

// Alerts is an in-memory alert store.
type Alerts struct {
	mu     sync.Mutex
	alerts []models.Alert
}

func (s *Alerts) Create(_ context.Context, a *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = uuid.New()
	if a.State == "" {
		a.State = models.AlertStateNew
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	s.alerts = append(s.alerts, *a)
	return nil
}

func (s *Alerts) GetByID(_ context.Context, id uuid.UUID) (*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alerts {
		if a.ID == id {
			return &a, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (s *Alerts) List(_ context.Context, f repositories.AlertFilter) ([]models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Alert
	for _, a := range s.alerts {
		if f.ProfileID != "" && a.ProfileID != f.ProfileID {
			continue
		}
		if f.State != "" && a.State != f.State {
			continue
		}
		if f.Severity != "" && a.Severity != f.Severity {
			continue
		}
		if f.RuleID != nil && (a.RuleID == nil || *a.RuleID != *f.RuleID) {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Alerts) Acknowledge(_ context.Context, id uuid.UUID, by *uuid.UUID) (*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.alerts {
		a := &s.alerts[i]
		if a.ID != id {
			continue
		}
		if a.State != models.AlertStateNew {
			cp := *a
			return &cp, repositories.ErrAlreadyAcknowledged
		}
		now := time.Now()
		a.State = models.AlertStateAcknowledged
		a.AcknowledgedAt = &now
		a.AcknowledgedBy = by
		cp := *a
		return &cp, nil
	}
	return nil, repositories.ErrNotFound
}

func (s *Alerts) LastRuleAlertOnEntity(_ context.Context, ruleID uuid.UUID, entityType models.EntityType, entityID string) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last *time.Time
	for _, a := range s.alerts {
		if a.RuleID == nil || *a.RuleID != ruleID || a.EntityType != entityType || a.EntityID != entityID {
			continue
		}
		if last == nil || a.CreatedAt.After(*last) {
			t := a.CreatedAt
			last = &t
		}
	}
	return last, nil
}

func (s *Alerts) All() []models.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Alert(nil), s.alerts...)
}

// Playbooks stores playbook definitions next to the runs of PlaybookRuns.
type Playbooks struct {
	*PlaybookRuns

	mu   sync.Mutex
	defs map[uuid.UUID]models.PlaybookDefinition
}

func NewPlaybooks() *Playbooks {
	return &Playbooks{PlaybookRuns: NewPlaybookRuns(), defs: make(map[uuid.UUID]models.PlaybookDefinition)}
}

func (s *Playbooks) Create(_ context.Context, p *models.PlaybookDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	s.defs[p.ID] = *p
	return nil
}

func (s *Playbooks) GetByID(_ context.Context, id uuid.UUID) (*models.PlaybookDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.defs[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &p, nil
}

func (s *Playbooks) ListByProfile(_ context.Context, profileID string) ([]models.PlaybookDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PlaybookDefinition
	for _, p := range s.defs {
		if p.ProfileID == profileID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Playbooks) Update(_ context.Context, p *models.PlaybookDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.defs[p.ID]; !ok {
		return repositories.ErrNotFound
	}
	p.UpdatedAt = time.Now()
	s.defs[p.ID] = *p
	return nil
}

func (s *Playbooks) GetRun(_ context.Context, id uuid.UUID) (*models.PlaybookRun, error) {
	run, ok := s.Get(id)
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &run, nil
}

func (s *Playbooks) ListRuns(_ context.Context, playbookID uuid.UUID, _, _ int) ([]models.PlaybookRun, error) {
	s.PlaybookRuns.mu.Lock()
	defer s.PlaybookRuns.mu.Unlock()
	var out []models.PlaybookRun
	for _, run := range s.runs {
		if run.PlaybookID == playbookID {
			out = append(out, run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

// Locker is an in-process lock.Locker.
type Locker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocker() *Locker {
	return &Locker{held: make(map[string]bool)}
}

func (l *Locker) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, lock.ErrLocked
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

// Hold takes key until the returned func is called.
func (l *Locker) Hold(key string) func() {
	release, err := l.Acquire(context.Background(), key, 0)
	if err != nil {
		return func() {}
	}
	return release
}

package testutil

import (
	"context"
	"sync"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/repositories"
	"github.com/google/uuid"
)

// PlaybookRuns is an in-memory playbook.RunStore.
type PlaybookRuns struct {
	mu   sync.Mutex
	runs map[uuid.UUID]models.PlaybookRun
}

func NewPlaybookRuns() *PlaybookRuns {
	return &PlaybookRuns{runs: make(map[uuid.UUID]models.PlaybookRun)}
}

func (s *PlaybookRuns) CreateRun(_ context.Context, run *models.PlaybookRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = *run
	return nil
}

func (s *PlaybookRuns) FinishRun(_ context.Context, run *models.PlaybookRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.runs[run.ID]
	if !ok || cur.Status != models.PlaybookRunRunning {
		return repositories.ErrRunNotRunning
	}
	cp := *run
	cp.Steps = append([]models.PlaybookStep(nil), run.Steps...)
	s.runs[run.ID] = cp
	return nil
}

func (s *PlaybookRuns) Get(id uuid.UUID) (models.PlaybookRun, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	return r, ok
}

// Metrics is a metrics.Provider serving fixed entities per scope.
type Metrics struct {
	mu       sync.Mutex
	entities map[models.EntityType][]models.EntityMetrics
	ranges   []models.DateRange

	// Err, when set, is returned by every call.
	Err error
}

func NewMetrics() *Metrics {
	return &Metrics{entities: make(map[models.EntityType][]models.EntityMetrics)}
}

func (m *Metrics) Set(scope models.EntityType, entities ...models.EntityMetrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[scope] = entities
}

func (m *Metrics) GetMetrics(_ context.Context, _ string, scope models.EntityType, rng models.DateRange) ([]models.EntityMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	m.ranges = append(m.ranges, rng)
	return append([]models.EntityMetrics(nil), m.entities[scope]...), nil
}

// Ranges lists the date ranges requested so far.
func (m *Metrics) Ranges() []models.DateRange {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.DateRange(nil), m.ranges...)
}

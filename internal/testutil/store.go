package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/queue"
	"github.com/google/uuid"
)

// ActionStore is an in-memory queue.Store and throttle.History.
type ActionStore struct {
	mu     sync.Mutex
	items  map[uuid.UUID]*models.ActionQueueItem
	order  []uuid.UUID
	guards *Guardrails
	now    func() time.Time

	terminal map[uuid.UUID]int
	claims   map[uuid.UUID]int

	// FailInsert, when set, is consulted before every insert.
	FailInsert func(item *models.ActionQueueItem) error
}

func NewActionStore(guards *Guardrails) *ActionStore {
	return &ActionStore{
		items:    make(map[uuid.UUID]*models.ActionQueueItem),
		guards:   guards,
		now:      time.Now,
		terminal: make(map[uuid.UUID]int),
		claims:   make(map[uuid.UUID]int),
	}
}

func (s *ActionStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *ActionStore) Insert(_ context.Context, item *models.ActionQueueItem) (bool, error) {
	if s.FailInsert != nil {
		if err := s.FailInsert(item); err != nil {
			return false, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.items {
		if existing.IdempotencyKey == item.IdempotencyKey && existing.Status.HoldsIdempotencyKey() {
			return false, nil
		}
	}
	now := s.now()
	item.ID = uuid.New()
	item.CreatedAt = now
	item.UpdatedAt = now
	if item.Status == models.ActionStatusQueued {
		item.QueuedAt = &now
	}
	cp := *item
	s.items[item.ID] = &cp
	s.order = append(s.order, item.ID)
	return true, nil
}

func (s *ActionStore) GetByID(_ context.Context, id uuid.UUID) (*models.ActionQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return nil, queue.ErrNotFound
	}
	cp := *it
	return &cp, nil
}

func (s *ActionStore) GetByIdempotencyKey(_ context.Context, key string) (*models.ActionQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		if it.IdempotencyKey == key && it.Status.HoldsIdempotencyKey() {
			cp := *it
			return &cp, nil
		}
	}
	return nil, queue.ErrNotFound
}

func (s *ActionStore) claimLive(it *models.ActionQueueItem, now time.Time) bool {
	return it.ClaimedBy != nil && it.ClaimExpiresAt != nil && it.ClaimExpiresAt.After(now)
}

func (s *ActionStore) Transition(_ context.Context, id uuid.UUID, from, to models.ActionStatus, u queue.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return queue.ErrNotFound
	}
	now := s.now()
	if it.Status != from || s.claimLive(it, now) {
		return queue.ErrStaleState
	}
	s.apply(it, to, u, now)
	return nil
}

func (s *ActionStore) Claim(_ context.Context, workerID string, lease time.Duration, limit int) ([]models.ActionQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var out []models.ActionQueueItem
	for _, id := range s.order {
		if limit > 0 && len(out) >= limit {
			break
		}
		it := s.items[id]
		if it.Status != models.ActionStatusQueued || s.claimLive(it, now) {
			continue
		}
		if it.NotBefore != nil && it.NotBefore.After(now) {
			continue
		}
		if s.guards != nil && !s.guards.enabled(it.ProfileID) {
			continue
		}
		w := workerID
		exp := now.Add(lease)
		it.ClaimedBy = &w
		it.ClaimExpiresAt = &exp
		it.UpdatedAt = now
		s.claims[id]++
		out = append(out, *it)
	}
	return out, nil
}

func (s *ActionStore) Complete(_ context.Context, id uuid.UUID, workerID string, to models.ActionStatus, u queue.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return queue.ErrNotFound
	}
	if it.Status != models.ActionStatusQueued || it.ClaimedBy == nil || *it.ClaimedBy != workerID {
		return queue.ErrClaimLost
	}
	s.apply(it, to, u, s.now())
	return nil
}

func (s *ActionStore) Release(_ context.Context, id uuid.UUID, workerID string, notBefore *time.Time, countAttempt bool, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return queue.ErrNotFound
	}
	if it.Status != models.ActionStatusQueued || it.ClaimedBy == nil || *it.ClaimedBy != workerID {
		return queue.ErrClaimLost
	}
	it.ClaimedBy = nil
	it.ClaimExpiresAt = nil
	it.NotBefore = notBefore
	if countAttempt {
		it.Attempts++
	}
	if lastErr != "" {
		e := lastErr
		it.Error = &e
	}
	it.UpdatedAt = s.now()
	return nil
}

func (s *ActionStore) apply(it *models.ActionQueueItem, to models.ActionStatus, u queue.StatusUpdate, now time.Time) {
	it.Status = to
	it.UpdatedAt = now
	it.ClaimedBy = nil
	it.ClaimExpiresAt = nil
	if u.Reason != "" {
		r := u.Reason
		it.StatusReason = &r
	}
	if u.Error != "" {
		e := u.Error
		it.Error = &e
	}
	if u.RequestID != "" {
		rid := u.RequestID
		it.AmazonRequestID = &rid
	}
	if u.Response != nil {
		it.AmazonAPIResponse = u.Response
	}
	if u.ActorID != nil {
		it.DecidedBy = u.ActorID
	}
	if to == models.ActionStatusQueued && it.QueuedAt == nil {
		it.QueuedAt = &now
	}
	if to == models.ActionStatusApplied {
		it.AppliedAt = &now
	}
	if to.IsTerminal() {
		it.CompletedAt = &now
		s.terminal[it.ID]++
	}
}

func (s *ActionStore) List(_ context.Context, f queue.Filter) ([]models.ActionQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ActionQueueItem
	for _, id := range s.order {
		it := s.items[id]
		if f.ProfileID != "" && it.ProfileID != f.ProfileID {
			continue
		}
		if f.Status != nil && it.Status != *f.Status {
			continue
		}
		if f.RuleID != nil && (it.RuleID == nil || *it.RuleID != *f.RuleID) {
			continue
		}
		if f.Source != "" && it.Source != f.Source {
			continue
		}
		out = append(out, *it)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// throttleTime is when an item entered a rule's throttle history, or nil when
// it never did (rejected while pending, prevented).
func throttleTime(it *models.ActionQueueItem) *time.Time {
	if it.QueuedAt != nil {
		return it.QueuedAt
	}
	if it.Status == models.ActionStatusPendingApproval {
		return &it.CreatedAt
	}
	return nil
}

func (s *ActionStore) CountRuleActionsSince(_ context.Context, ruleID uuid.UUID, since time.Time) (int, error) {
	return s.countRule(ruleID, since, throttleTime), nil
}

func (s *ActionStore) LastRuleActionOnEntity(_ context.Context, ruleID uuid.UUID, entityKey string) (*time.Time, error) {
	return s.lastRule(ruleID, entityKey, throttleTime), nil
}

func (s *ActionStore) CountRuleQueuedSince(_ context.Context, ruleID uuid.UUID, since time.Time) (int, error) {
	return s.countRule(ruleID, since, queuedTime), nil
}

func (s *ActionStore) LastRuleQueuedOnEntity(_ context.Context, ruleID uuid.UUID, entityKey string) (*time.Time, error) {
	return s.lastRule(ruleID, entityKey, queuedTime), nil
}

func queuedTime(it *models.ActionQueueItem) *time.Time { return it.QueuedAt }

func (s *ActionStore) countRule(ruleID uuid.UUID, since time.Time, at func(*models.ActionQueueItem) *time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, it := range s.items {
		if it.RuleID == nil || *it.RuleID != ruleID {
			continue
		}
		if t := at(it); t != nil && !t.Before(since) {
			n++
		}
	}
	return n
}

func (s *ActionStore) lastRule(ruleID uuid.UUID, entityKey string, at func(*models.ActionQueueItem) *time.Time) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last *time.Time
	for _, it := range s.items {
		if it.RuleID == nil || *it.RuleID != ruleID || it.EntityKey != entityKey {
			continue
		}
		if t := at(it); t != nil && (last == nil || t.After(*last)) {
			cp := *t
			last = &cp
		}
	}
	return last
}

func (s *ActionStore) ListAppliedSince(_ context.Context, profileID string, since time.Time) ([]models.ActionQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ActionQueueItem
	for _, id := range s.order {
		it := s.items[id]
		if it.ProfileID == profileID && it.Status == models.ActionStatusApplied && it.AppliedAt != nil && !it.AppliedAt.Before(since) {
			out = append(out, *it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AppliedAt.Before(*out[j].AppliedAt) })
	return out, nil
}

func (s *ActionStore) CountByStatus(_ context.Context, profileID string) (map[models.ActionStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[models.ActionStatus]int)
	for _, it := range s.items {
		if it.ProfileID == profileID {
			out[it.Status]++
		}
	}
	return out, nil
}

// All returns a snapshot of every item in insertion order.
func (s *ActionStore) All() []models.ActionQueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ActionQueueItem, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.items[id])
	}
	return out
}

// TerminalTransitions counts how often an item entered a terminal status.
func (s *ActionStore) TerminalTransitions(id uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminal[id]
}

func (s *ActionStore) ClaimCount(id uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claims[id]
}

// ForceStatus overwrites an item's status, bypassing every check.
func (s *ActionStore) ForceStatus(id uuid.UUID, status models.ActionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it, ok := s.items[id]; ok {
		it.Status = status
	}
}

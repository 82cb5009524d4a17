// Package schedule holds the principal's time commitments and the conflict
// detection the executor runs before committing a scheduling action.
package schedule

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Commitment is one occupied time range on a principal's calendar.
type Commitment struct {
	ID          string    `json:"id"`
	PrincipalID string    `json:"principal_id"`
	Title       string    `json:"title"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	ContactID   string    `json:"contact_id,omitempty"`
}

// Overlaps reports whether the commitment intersects [start, end).
func (c Commitment) Overlaps(start, end time.Time) bool {
	return c.Start.Before(end) && start.Before(c.End)
}

// Store persists commitments.
type Store interface {
	Add(ctx context.Context, c Commitment) error
	Between(ctx context.Context, principalID string, from, to time.Time) ([]Commitment, error)
}

// Reminder is a one-shot or recurring nudge. Reminders do not occupy a time
// range and are never conflict-checked.
type Reminder struct {
	ID          string    `json:"id"`
	PrincipalID string    `json:"principal_id"`
	Message     string    `json:"message"`
	RemindAt    time.Time `json:"remind_at"`
	Recurrence  string    `json:"recurrence,omitempty"`
}

// ReminderStore persists reminders.
type ReminderStore interface {
	Add(ctx context.Context, r Reminder) error
	ByPrincipal(ctx context.Context, principalID string) ([]Reminder, error)
}

// MemoryStore is the in-process Store used by tests and single-node runs.
type MemoryStore struct {
	mu          sync.RWMutex
	commitments []Commitment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Add(ctx context.Context, c Commitment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitments = append(s.commitments, c)
	return nil
}

func (s *MemoryStore) Between(ctx context.Context, principalID string, from, to time.Time) ([]Commitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Commitment
	for _, c := range s.commitments {
		if c.PrincipalID != principalID {
			continue
		}
		if c.Overlaps(from, to) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// MemoryReminderStore is the in-process ReminderStore.
type MemoryReminderStore struct {
	mu        sync.RWMutex
	reminders []Reminder
}

func NewMemoryReminderStore() *MemoryReminderStore {
	return &MemoryReminderStore{}
}

func (s *MemoryReminderStore) Add(ctx context.Context, r Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reminders = append(s.reminders, r)
	return nil
}

func (s *MemoryReminderStore) ByPrincipal(ctx context.Context, principalID string) ([]Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Reminder
	for _, r := range s.reminders {
		if r.PrincipalID == principalID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RemindAt.Before(out[j].RemindAt) })
	return out, nil
}

// FirstConflict returns the earliest commitment overlapping [start, end),
// or false when the range is free.
func FirstConflict(ctx context.Context, store Store, principalID string, start, end time.Time) (Commitment, bool, error) {
	hits, err := store.Between(ctx, principalID, start, end)
	if err != nil {
		return Commitment{}, false, err
	}
	if len(hits) == 0 {
		return Commitment{}, false, nil
	}
	return hits[0], true, nil
}

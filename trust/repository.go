package trust

import (
	"context"
	"errors"
	"sync"

	"claimflow/apperr"
)

var (
	// ErrNotFound signals that no score row exists for the user.
	ErrNotFound = apperr.Kind(apperr.ErrNotFound, "trust: score not found")
	// ErrDuplicateEvent signals the event key was already recorded for the user.
	ErrDuplicateEvent = errors.New("trust: duplicate event key")
)

// MutateFunc changes a locked score. It may return an event to append; a nil
// event means the change only touches gating state.
type MutateFunc func(score *Score) (*Event, error)

// Store persists scores and their append-only event trail. Implementations
// linearize Mutate calls per user.
type Store interface {
	FindScore(ctx context.Context, userID string) (Score, error)
	// Mutate locks the user's score, creating it from seed when absent, runs
	// fn, then persists the score and the returned event together. It returns
	// ErrDuplicateEvent, leaving the score untouched, when the event key is
	// already present for the user.
	Mutate(ctx context.Context, userID string, seed Score, fn MutateFunc) (Score, error)
	ListEvents(ctx context.Context, userID string, limit int) ([]Event, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.Mutex
	scores map[string]Score
	events map[string][]Event
	keys   map[string]map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		scores: make(map[string]Score),
		events: make(map[string][]Event),
		keys:   make(map[string]map[string]struct{}),
	}
}

func (m *MemoryStore) FindScore(_ context.Context, userID string) (Score, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scores[userID]
	if !ok {
		return Score{}, ErrNotFound
	}
	return copyScore(s), nil
}

func (m *MemoryStore) Mutate(_ context.Context, userID string, seed Score, fn MutateFunc) (Score, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.scores[userID]
	if !ok {
		current = seed
	}
	working := copyScore(current)

	ev, err := fn(&working)
	if err != nil {
		return Score{}, err
	}
	if ev != nil {
		if _, dup := m.keys[userID][ev.Key]; dup {
			return Score{}, ErrDuplicateEvent
		}
		if m.keys[userID] == nil {
			m.keys[userID] = make(map[string]struct{})
		}
		m.keys[userID][ev.Key] = struct{}{}
		m.events[userID] = append(m.events[userID], *ev)
	}

	working.Version++
	m.scores[userID] = working
	return copyScore(working), nil
}

func (m *MemoryStore) ListEvents(_ context.Context, userID string, limit int) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	src := m.events[userID]
	out := make([]Event, len(src))
	for i := range src {
		out[i] = src[len(src)-1-i]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyScore(s Score) Score {
	recent := make([]Event, len(s.Recent))
	copy(recent, s.Recent)
	s.Recent = recent
	if s.FlaggedAt != nil {
		at := *s.FlaggedAt
		s.FlaggedAt = &at
	}
	return s
}

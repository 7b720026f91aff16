package workrequest

import (
	"context"
	"errors"
	"sort"
	"sync"

	"claimflow/apperr"

	"github.com/google/uuid"
)

var (
	ErrNotFound  = apperr.Kind(apperr.ErrNotFound, "workrequest: not found")
	ErrDuplicate = errors.New("workrequest: duplicate id")
)

// Repository persists requests. Update is a compare-and-swap on Version: it
// writes only when the stored version equals req.Version, bumping it by one,
// and reports false when the stored row has moved on.
type Repository interface {
	Save(ctx context.Context, req Request) (string, error)
	FindByID(ctx context.Context, id string) (Request, error)
	FindBy(ctx context.Context, filter Filter) ([]Request, error)
	Update(ctx context.Context, req Request) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// MemoryRepository is an in-process Repository.
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[string]Request
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]Request)}
}

func (m *MemoryRepository) Save(_ context.Context, req Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if _, exists := m.rows[req.ID]; exists {
		return "", ErrDuplicate
	}
	m.rows[req.ID] = req.clone()
	return req.ID, nil
}

func (m *MemoryRepository) FindByID(_ context.Context, id string) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.rows[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	return req.clone(), nil
}

func (m *MemoryRepository) FindBy(_ context.Context, filter Filter) ([]Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, 0, len(m.rows))
	for _, req := range m.rows {
		if filter.matches(req) {
			out = append(out, req.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return out[:0], nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryRepository) Update(_ context.Context, req Request) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.rows[req.ID]
	if !ok {
		return false, ErrNotFound
	}
	if stored.Version != req.Version {
		return false, nil
	}
	req = req.clone()
	req.Version++
	m.rows[req.ID] = req
	return true, nil
}

func (m *MemoryRepository) Delete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return false, nil
	}
	delete(m.rows, id)
	return true, nil
}

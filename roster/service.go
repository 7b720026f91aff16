package roster

import (
	"context"
	"sort"
	"sync"

	"claimflow/apperr"
	"claimflow/enterprise"
)

// ApproverReader abstracts repository operations for the service.
type ApproverReader interface {
	FindActive(ctx context.Context, role enterprise.Role, org enterprise.Org) (Approver, error)
	List(ctx context.Context, org enterprise.Org, limit int) ([]Approver, error)
}

// Service binds abstract approver roles to concrete people.
type Service struct {
	reader ApproverReader
}

// NewService builds a Service using the provided reader.
func NewService(reader ApproverReader) *Service {
	return &Service{reader: reader}
}

// Resolve returns the approver answering for role at org.
func (s *Service) Resolve(ctx context.Context, role enterprise.Role, org enterprise.Org) (Approver, error) {
	if !role.Valid() || role == enterprise.RoleRequester {
		return Approver{}, apperr.Invalidf("roster: role %q cannot be resolved", role)
	}
	if err := org.Validate(); err != nil {
		return Approver{}, apperr.Invalidf("roster: %v", err)
	}
	return s.reader.FindActive(ctx, role, org)
}

// List returns up to limit approvers at org.
func (s *Service) List(ctx context.Context, org enterprise.Org, limit int) ([]Approver, error) {
	return s.reader.List(ctx, org, limit)
}

// Directory is an in-memory ApproverReader.
type Directory struct {
	mu        sync.RWMutex
	approvers []Approver
}

func NewDirectory(approvers ...Approver) *Directory {
	d := &Directory{}
	for _, a := range approvers {
		d.Add(a)
	}
	return d
}

// Add registers a, marking it active.
func (d *Directory) Add(a Approver) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a.Active = true
	d.approvers = append(d.approvers, a)
}

func (d *Directory) FindActive(_ context.Context, role enterprise.Role, org enterprise.Org) (Approver, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, a := range d.approvers {
		if a.Active && a.Role == role && a.Org.Same(org) {
			return a, nil
		}
	}
	return Approver{}, ErrNoApprover
}

func (d *Directory) List(_ context.Context, org enterprise.Org, limit int) ([]Approver, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Approver
	for _, a := range d.approvers {
		if a.Org.Same(org) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

package roster

import (
	"context"
	"errors"
	"testing"

	"claimflow/apperr"
	"claimflow/enterprise"
)

var (
	campus  = enterprise.Org{Enterprise: enterprise.University, ID: "neu-boston", Name: "Northeastern Boston"}
	airport = enterprise.Org{Enterprise: enterprise.Airport, ID: "bos", Name: "Logan Airport"}
)

func TestService_Resolve(t *testing.T) {
	dir := NewDirectory(
		Approver{ID: "coord-1", Name: "Casey Coordinator", Role: enterprise.RoleCampusCoordinator, Org: campus},
		Approver{ID: "specialist-1", Name: "Sam Specialist", Role: enterprise.RoleAirportSpecialist, Org: airport},
	)
	svc := NewService(dir)

	got, err := svc.Resolve(context.Background(), enterprise.RoleAirportSpecialist, airport)
	if err != nil {
		t.Fatalf("resolve: unexpected error: %v", err)
	}
	if got.ID != "specialist-1" {
		t.Fatalf("resolve: expected specialist-1 got %q", got.ID)
	}

	// Same role at another org must not match, whatever the display name says.
	other := enterprise.Org{Enterprise: enterprise.University, ID: "neu-oakland", Name: "Northeastern Boston"}
	if _, err := svc.Resolve(context.Background(), enterprise.RoleCampusCoordinator, other); !errors.Is(err, ErrNoApprover) {
		t.Fatalf("expected ErrNoApprover, got %v", err)
	}
	if !errors.Is(ErrNoApprover, apperr.ErrNotFound) {
		t.Fatal("ErrNoApprover should classify as not found")
	}
}

func TestService_ResolveRejectsRequesterRole(t *testing.T) {
	svc := NewService(NewDirectory())

	if _, err := svc.Resolve(context.Background(), enterprise.RoleRequester, campus); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.Resolve(context.Background(), enterprise.RoleCampusCoordinator, enterprise.Org{}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for empty org, got %v", err)
	}
}

func TestDirectory_ListSortedByName(t *testing.T) {
	dir := NewDirectory(
		Approver{ID: "b", Name: "Blake", Role: enterprise.RoleCampusCoordinator, Org: campus},
		Approver{ID: "a", Name: "Alex", Role: enterprise.RoleVerificationOfficer, Org: campus},
		Approver{ID: "c", Name: "Cory", Role: enterprise.RoleAirportSpecialist, Org: airport},
	)

	list, err := NewService(dir).List(context.Background(), campus, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" {
		t.Fatalf("unexpected list: %+v", list)
	}
}

package workrequest

import (
	"context"

	"claimflow/enterprise"
	"claimflow/roster"
	"claimflow/trust"
	"claimflow/verification"
)

// Step is one unbound entry of an approval chain.
type Step struct {
	Role enterprise.Role
	Org  enterprise.Org
	// Verification marks the step gated on a linked VerificationRequest.
	Verification bool
}

// Route is the router's answer for a request.
type Route struct {
	Steps []Step
	// Priority, when set, overrides the submitted priority.
	Priority Priority
	// VerificationKind is the verification to open for the gated step.
	VerificationKind verification.Kind
	// Panel routes the request to dispute voting instead of a chain.
	Panel bool
}

// ChainRouter computes the approval chain for a draft request.
type ChainRouter interface {
	Route(req Request, requester trust.Score) (Route, error)
}

// Roster binds a role at an organization to a person.
type Roster interface {
	Resolve(ctx context.Context, role enterprise.Role, org enterprise.Org) (roster.Approver, error)
}

// TrustLedger is the slice of the trust ledger the state machine uses.
type TrustLedger interface {
	Score(ctx context.Context, userID string) (trust.Score, error)
	ApplyEvent(ctx context.Context, params trust.ApplyParams) (trust.ApplyResult, error)
}

// Verifications opens, reads and abandons linked verification requests.
type Verifications interface {
	Create(ctx context.Context, params verification.CreateParams) (verification.Request, error)
	Get(ctx context.Context, id string) (verification.Request, error)
	Expire(ctx context.Context, id, reason string) (verification.Request, error)
}

// DisputeOpener hands dispute-kind requests to panel voting.
type DisputeOpener interface {
	OpenForRequest(ctx context.Context, req Request) (string, error)
	Withdraw(ctx context.Context, disputeID, actorID, reason string) error
}

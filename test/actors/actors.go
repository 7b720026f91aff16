package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"claimflow/apperr"
	"claimflow/dispute"
	"claimflow/enterprise"
	"claimflow/notify"
	"claimflow/trust"
	"claimflow/workrequest"
)

// Stats counts actor outcomes. Rejections are the domain errors expected
// under contention; failures are everything else, chaos included.
type Stats struct {
	Accepted atomic.Int64
	Rejected atomic.Int64
	Failed   atomic.Int64

	mu      sync.Mutex
	lastErr error
}

func (s *Stats) record(err error) {
	switch {
	case err == nil:
		s.Accepted.Add(1)
	case expected(err):
		s.Rejected.Add(1)
	default:
		s.Failed.Add(1)
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
	}
}

// LastFailure returns the most recent unexpected error, if any.
func (s *Stats) LastFailure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Stats) String() string {
	return fmt.Sprintf("accepted=%d rejected=%d failed=%d", s.Accepted.Load(), s.Rejected.Load(), s.Failed.Load())
}

func expected(err error) bool {
	for _, kind := range []error{
		apperr.ErrConflict,
		apperr.ErrInvalidStateTransition,
		apperr.ErrUnauthorizedActor,
		apperr.ErrAlreadyVoted,
		apperr.ErrNotFound,
		apperr.ErrValidation,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// Cast is the fixed set of people and organizations the actors share.
type Cast struct {
	Campus      enterprise.Org
	Station     enterprise.Org
	RequesterID string
	Claimants   []string
	Panel       []string
}

func pause(ctx context.Context, stop <-chan struct{}, base, jitter int) bool {
	d := time.Duration(base+rand.Intn(jitter)) * time.Millisecond
	select {
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	case <-time.After(d):
		return true
	}
}

// Submitter files transfer requests and, now and then, a multi-enterprise
// dispute seated with the cast's panel.
func Submitter(ctx context.Context, requests *workrequest.Service, cast Cast, stats *Stats, stop <-chan struct{}) error {
	for n := 0; ; n++ {
		var details workrequest.Details = workrequest.TransitToUniversityTransfer{
			ItemID:  fmt.Sprintf("item-%d-%d", n, rand.Int63()),
			Station: cast.Station,
			Campus:  cast.Campus,
		}
		if n%8 == 7 {
			seats := make([]workrequest.PanelSeat, len(cast.Panel))
			for i, m := range cast.Panel {
				seats[i] = workrequest.PanelSeat{MemberID: m, Org: cast.Campus}
			}
			claimants := make([]workrequest.DisputeClaimant, len(cast.Claimants))
			for i, c := range cast.Claimants {
				claimants[i] = workrequest.DisputeClaimant{UserID: c, Org: cast.Campus}
			}
			details = workrequest.MultiEnterpriseDispute{
				ItemID:    fmt.Sprintf("disputed-%d-%d", n, rand.Int63()),
				Claimants: claimants,
				Panel:     seats,
			}
		}
		_, err := requests.Submit(ctx, workrequest.SubmitParams{
			RequesterID:  cast.RequesterID,
			RequesterOrg: cast.Campus,
			Details:      details,
		})
		stats.record(err)
		if !pause(ctx, stop, 20, 30) {
			return nil
		}
	}
}

// Approver works through the requests waiting on approverID. Several
// approvers sharing one id race each other for the same step.
func Approver(ctx context.Context, requests *workrequest.Service, approverID string, stats *Stats, stop <-chan struct{}) error {
	for {
		waiting, err := requests.List(ctx, workrequest.Filter{
			ApproverID: approverID,
			Statuses:   workrequest.ActiveStatuses,
			Limit:      20,
		})
		if err != nil {
			stats.record(err)
		} else if len(waiting) > 0 {
			target := waiting[rand.Intn(len(waiting))]
			decision := workrequest.DecisionApprove
			if rand.Intn(10) == 0 {
				decision = workrequest.DecisionReject
			}
			_, err = requests.Decide(ctx, workrequest.DecideParams{
				RequestID: target.ID,
				ActorID:   approverID,
				Decision:  decision,
				Notes:     "stress",
			})
			stats.record(err)
		}
		if !pause(ctx, stop, 10, 20) {
			return nil
		}
	}
}

// Canceller withdraws random open requests of the requester, racing the
// approvers.
func Canceller(ctx context.Context, requests *workrequest.Service, requesterID string, stats *Stats, stop <-chan struct{}) error {
	for {
		open, err := requests.List(ctx, workrequest.Filter{
			RequesterID: requesterID,
			Statuses:    []workrequest.Status{workrequest.StatusPending, workrequest.StatusInProgress},
			Limit:       50,
		})
		if err != nil {
			stats.record(err)
		} else if len(open) > 0 && rand.Intn(3) == 0 {
			target := open[rand.Intn(len(open))]
			_, err = requests.Cancel(ctx, target.ID, requesterID, "changed my mind")
			stats.record(err)
		}
		if !pause(ctx, stop, 40, 60) {
			return nil
		}
	}
}

// Completer closes approved requests on behalf of the requester.
func Completer(ctx context.Context, requests *workrequest.Service, requesterID string, stats *Stats, stop <-chan struct{}) error {
	for {
		approved, err := requests.List(ctx, workrequest.Filter{
			RequesterID: requesterID,
			Statuses:    []workrequest.Status{workrequest.StatusApproved},
			Limit:       20,
		})
		if err != nil {
			stats.record(err)
		}
		for _, req := range approved {
			_, err := requests.Complete(ctx, req.ID, requesterID)
			stats.record(err)
		}
		if !pause(ctx, stop, 50, 50) {
			return nil
		}
	}
}

// Voter casts memberID's ballot on every open dispute it sits on. Running
// two voters for the same member exercises the double-vote guard.
func Voter(ctx context.Context, engine *dispute.Engine, memberID string, claimants []string, stats *Stats, stop <-chan struct{}) error {
	for {
		open, err := engine.List(ctx, dispute.Filter{
			MemberID: memberID,
			Statuses: []dispute.Status{dispute.StatusOpen},
			Limit:    20,
		})
		if err != nil {
			stats.record(err)
		}
		for _, d := range open {
			_, err := engine.CastVote(ctx, dispute.VoteParams{
				DisputeID:  d.ID,
				MemberID:   memberID,
				ClaimantID: claimants[rand.Intn(len(claimants))],
				Reason:     "stress",
			})
			stats.record(err)
		}
		if !pause(ctx, stop, 15, 30) {
			return nil
		}
	}
}

// TrustWriter applies ledger events drawn from a small key space, so
// concurrent writers replay each other's keys.
func TrustWriter(ctx context.Context, ledger *trust.Ledger, userIDs []string, stats *Stats, stop <-chan struct{}) error {
	kinds := []trust.EventKind{
		trust.EventFoundItemReported,
		trust.EventNoShow,
		trust.EventItemReturned,
		trust.EventFalseClaim,
		trust.EventPanelVoteCast,
	}
	for {
		_, err := ledger.ApplyEvent(ctx, trust.ApplyParams{
			UserID: userIDs[rand.Intn(len(userIDs))],
			Kind:   kinds[rand.Intn(len(kinds))],
			Key:    fmt.Sprintf("stress-%d", rand.Intn(64)),
			Note:   "stress",
		})
		stats.record(err)
		if !pause(ctx, stop, 5, 15) {
			return nil
		}
	}
}

// Relay drains the outbox. Concurrent relays must never hand out the same
// row twice.
func Relay(ctx context.Context, outbox *notify.Outbox, target notify.Notifier, stats *Stats, stop <-chan struct{}) error {
	for {
		_, err := outbox.Relay(ctx, target, 25)
		stats.record(err)
		if !pause(ctx, stop, 50, 100) {
			return nil
		}
	}
}

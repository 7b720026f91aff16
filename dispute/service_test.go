package dispute

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"claimflow/apperr"
	"claimflow/enterprise"
	"claimflow/notify"
	"claimflow/roster"
	"claimflow/trust"
	"claimflow/workrequest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type approval struct {
	requestID, winnerID string
}

type fakeRequests struct {
	calls []approval
	err   error
}

func (f *fakeRequests) ApproveByPanel(_ context.Context, requestID, winnerID, _ string) (workrequest.Request, error) {
	f.calls = append(f.calls, approval{requestID, winnerID})
	return workrequest.Request{ID: requestID}, f.err
}

var (
	campus  = enterprise.Org{Enterprise: enterprise.University, ID: "neu-boston"}
	station = enterprise.Org{Enterprise: enterprise.Transit, ID: "park-street"}
	airport = enterprise.Org{Enterprise: enterprise.Airport, ID: "logan-b"}
)

type fixture struct {
	engine   *Engine
	ledger   *trust.Ledger
	requests *fakeRequests
	notes    *notify.Recorder
}

func newFixture() fixture {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		now = now.Add(time.Minute)
		return now
	}
	seq := 0
	ledger := trust.NewLedger(trust.NewMemoryStore(), 50).WithClock(clock)
	directory := roster.NewDirectory(
		roster.Approver{ID: "coord-1", Name: "Campus Coordinator", Role: enterprise.RoleCampusCoordinator, Org: campus, Active: true},
		roster.Approver{ID: "station-1", Name: "Station Manager", Role: enterprise.RoleStationManager, Org: station, Active: true},
		roster.Approver{ID: "airport-1", Name: "Airport Specialist", Role: enterprise.RoleAirportSpecialist, Org: airport, Active: true},
	)
	requests := &fakeRequests{}
	notes := notify.NewRecorder()
	engine := NewEngine(NewMemoryRepository(), ledger, roster.NewService(directory)).
		WithRequests(requests).
		WithNotifier(notes).
		WithClock(clock).
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("id-%02d", seq)
		})
	return fixture{engine: engine, ledger: ledger, requests: requests, notes: notes}
}

func threeWay() OpenParams {
	return OpenParams{
		WorkRequestID: "req-1",
		ItemID:        "item-7",
		Claimants: []workrequest.DisputeClaimant{
			{UserID: "A", Org: campus},
			{UserID: "B", Org: station},
			{UserID: "C", Org: airport},
		},
		Panel: []workrequest.PanelSeat{
			{MemberID: "m1", Org: campus},
			{MemberID: "m2", Org: station},
			{MemberID: "m3", Org: airport},
		},
		VotesRequired: 3,
	}
}

func vote(t *testing.T, f fixture, id, member, claimant string) Dispute {
	t.Helper()
	d, err := f.engine.CastVote(context.Background(), VoteParams{DisputeID: id, MemberID: member, ClaimantID: claimant, Reason: "receipt"})
	require.NoError(t, err)
	return d
}

func TestCastVote_PluralityAtQuorumResolves(t *testing.T) {
	f := newFixture()
	d, err := f.engine.Open(context.Background(), threeWay())
	require.NoError(t, err)

	vote(t, f, d.ID, "m1", "A")
	got := vote(t, f, d.ID, "m2", "A")
	assert.Equal(t, StatusOpen, got.Status)
	got = vote(t, f, d.ID, "m3", "B")

	assert.Equal(t, StatusResolved, got.Status)
	assert.Equal(t, "A", got.WinningClaimantID)
	assert.Equal(t, 3, got.PanelVotesReceived)
	assert.Equal(t, map[string]int{"A": 2, "B": 1, "C": 0}, got.Tally())
	assert.Equal(t, workrequest.PanelActor, got.ResolvedBy)
	assert.NotNil(t, got.ResolvedAt)

	require.Len(t, f.requests.calls, 1)
	assert.Equal(t, approval{"req-1", "A"}, f.requests.calls[0])

	ctx := context.Background()
	winner, err := f.ledger.Score(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 55, winner.CurrentScore)
	loser, err := f.ledger.Score(ctx, "C")
	require.NoError(t, err)
	assert.Equal(t, 45, loser.CurrentScore)
	voter, err := f.ledger.Score(ctx, "m3")
	require.NoError(t, err)
	assert.Equal(t, 51, voter.CurrentScore)

	assert.Len(t, f.notes.Topic(notify.TopicDisputeResolved), 3)
	assert.Len(t, f.notes.Topic(notify.TopicDisputeOpened), 3)
}

func TestCastVote_NoPluralityWaitsForReview(t *testing.T) {
	f := newFixture()
	d, err := f.engine.Open(context.Background(), threeWay())
	require.NoError(t, err)

	vote(t, f, d.ID, "m1", "A")
	vote(t, f, d.ID, "m2", "B")
	got := vote(t, f, d.ID, "m3", "C")

	assert.Equal(t, StatusPendingReview, got.Status)
	assert.Empty(t, got.WinningClaimantID)
	assert.Nil(t, got.ResolvedAt)
	assert.Empty(t, f.requests.calls)
	assert.Empty(t, f.notes.Topic(notify.TopicDisputeResolved))
}

func TestCastVote_LateVoteBreaksTie(t *testing.T) {
	f := newFixture()
	params := threeWay()
	params.Panel = append(params.Panel, workrequest.PanelSeat{MemberID: "m4", Org: campus})
	params.VotesRequired = 2
	d, err := f.engine.Open(context.Background(), params)
	require.NoError(t, err)

	vote(t, f, d.ID, "m1", "A")
	got := vote(t, f, d.ID, "m2", "B")
	require.Equal(t, StatusPendingReview, got.Status)

	got = vote(t, f, d.ID, "m3", "B")
	assert.Equal(t, StatusResolved, got.Status)
	assert.Equal(t, "B", got.WinningClaimantID)

	_, err = f.engine.CastVote(context.Background(), VoteParams{DisputeID: d.ID, MemberID: "m4", ClaimantID: "A"})
	assert.ErrorIs(t, err, ErrDisputeClosed)
	assert.ErrorIs(t, err, apperr.ErrInvalidStateTransition)
}

func TestCastVote_Preconditions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d, err := f.engine.Open(ctx, threeWay())
	require.NoError(t, err)

	_, err = f.engine.CastVote(ctx, VoteParams{DisputeID: d.ID, MemberID: "stranger", ClaimantID: "A"})
	assert.ErrorIs(t, err, ErrNotPanelMember)
	assert.ErrorIs(t, err, apperr.ErrUnauthorizedActor)

	_, err = f.engine.CastVote(ctx, VoteParams{DisputeID: d.ID, MemberID: "m1", ClaimantID: "Z"})
	assert.ErrorIs(t, err, ErrClaimantNotFound)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	vote(t, f, d.ID, "m1", "A")
	_, err = f.engine.CastVote(ctx, VoteParams{DisputeID: d.ID, MemberID: "m1", ClaimantID: "B"})
	assert.ErrorIs(t, err, ErrAlreadyVoted)
	assert.ErrorIs(t, err, apperr.ErrAlreadyVoted)

	_, err = f.engine.CastVote(ctx, VoteParams{DisputeID: "missing", MemberID: "m1", ClaimantID: "A"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	stored, err := f.engine.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.PanelVotesReceived)
}

func TestOpen_DerivesPanelFromClaimantOrgs(t *testing.T) {
	f := newFixture()
	params := threeWay()
	params.Panel = nil
	params.VotesRequired = 0

	d, err := f.engine.Open(context.Background(), params)
	require.NoError(t, err)

	require.Len(t, d.Panel, 3)
	assert.Equal(t, "coord-1", d.Panel[0].MemberID)
	assert.Equal(t, "station-1", d.Panel[1].MemberID)
	assert.Equal(t, "airport-1", d.Panel[2].MemberID)
	assert.Equal(t, 2, d.PanelVotesRequired)
	for _, c := range d.Claimants {
		assert.Equal(t, 50, c.TrustScore)
	}
}

func TestOpen_SnapshotsClaimantScores(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.ledger.ApplyEvent(ctx, trust.ApplyParams{UserID: "B", Kind: trust.EventFalseClaim})
	require.NoError(t, err)

	d, err := f.engine.Open(ctx, threeWay())
	require.NoError(t, err)
	assert.Equal(t, 25, d.Claimants[1].TrustScore)

	_, err = f.ledger.ApplyEvent(ctx, trust.ApplyParams{UserID: "B", Kind: trust.EventItemReturned})
	require.NoError(t, err)
	stored, err := f.engine.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 25, stored.Claimants[1].TrustScore)
}

func TestOpen_Rejections(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	params := threeWay()
	params.Panel = append(params.Panel, workrequest.PanelSeat{MemberID: "A", Org: campus})
	_, err := f.engine.Open(ctx, params)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	params = threeWay()
	params.VotesRequired = 4
	_, err = f.engine.Open(ctx, params)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	params = threeWay()
	params.Claimants = params.Claimants[:1]
	_, err = f.engine.Open(ctx, params)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestEvidence_VerifyDoesNotVote(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d, err := f.engine.Open(ctx, threeWay())
	require.NoError(t, err)

	ev, err := f.engine.SubmitEvidence(ctx, EvidenceParams{
		DisputeID: d.ID, SubmittedBy: "A", ClaimantID: "A", Description: "purchase receipt", Reference: "s3://receipts/a.pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, EvidencePending, ev.Status)

	_, err = f.engine.SubmitEvidence(ctx, EvidenceParams{DisputeID: d.ID, SubmittedBy: "outsider", ClaimantID: "A", Description: "x"})
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = f.engine.VerifyEvidence(ctx, VerifyEvidenceParams{DisputeID: d.ID, EvidenceID: ev.ID, MemberID: "A", Verified: true})
	assert.ErrorIs(t, err, ErrNotPanelMember)

	decided, err := f.engine.VerifyEvidence(ctx, VerifyEvidenceParams{DisputeID: d.ID, EvidenceID: ev.ID, MemberID: "m2", Verified: true, Notes: "matches serial"})
	require.NoError(t, err)
	assert.Equal(t, EvidenceVerified, decided.Status)
	assert.Equal(t, "m2", decided.VerifiedBy)

	_, err = f.engine.VerifyEvidence(ctx, VerifyEvidenceParams{DisputeID: d.ID, EvidenceID: ev.ID, MemberID: "m1", Verified: false})
	assert.ErrorIs(t, err, ErrEvidenceDecided)

	_, err = f.engine.VerifyEvidence(ctx, VerifyEvidenceParams{DisputeID: d.ID, EvidenceID: "nope", MemberID: "m1"})
	assert.ErrorIs(t, err, ErrEvidenceNotFound)

	stored, err := f.engine.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.PanelVotesReceived)
	assert.False(t, stored.Panel[1].HasVoted)
	assert.Equal(t, []string{ev.ID}, stored.Claimants[0].EvidenceIDs)

	score, err := f.ledger.Score(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 53, score.CurrentScore)
}

func TestResolveManually(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d, err := f.engine.Open(ctx, threeWay())
	require.NoError(t, err)

	_, err = f.engine.ResolveManually(ctx, d.ID, "admin-1", "A", "")
	assert.ErrorIs(t, err, ErrQuorumNotReached)

	vote(t, f, d.ID, "m1", "A")
	vote(t, f, d.ID, "m2", "B")
	vote(t, f, d.ID, "m3", "C")

	_, err = f.engine.ResolveManually(ctx, d.ID, "admin-1", "Z", "")
	assert.ErrorIs(t, err, ErrClaimantNotFound)

	got, err := f.engine.ResolveManually(ctx, d.ID, "admin-1", "C", "serial number matched")
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, got.Status)
	assert.Equal(t, "C", got.WinningClaimantID)
	assert.Equal(t, "admin-1", got.ResolvedBy)
	assert.Equal(t, []approval{{"req-1", "C"}}, f.requests.calls)

	_, err = f.engine.ResolveManually(ctx, d.ID, "admin-1", "A", "")
	assert.ErrorIs(t, err, ErrDisputeClosed)
}

func TestWithdraw(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d, err := f.engine.Open(ctx, threeWay())
	require.NoError(t, err)

	require.NoError(t, f.engine.Withdraw(ctx, d.ID, "requester-1", "found elsewhere"))
	require.NoError(t, f.engine.Withdraw(ctx, d.ID, "requester-1", "again"))

	stored, err := f.engine.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWithdrawn, stored.Status)
	assert.Equal(t, "found elsewhere", stored.ResolutionNotes)

	_, err = f.engine.CastVote(ctx, VoteParams{DisputeID: d.ID, MemberID: "m1", ClaimantID: "A"})
	assert.ErrorIs(t, err, ErrDisputeClosed)
	_, err = f.engine.SubmitEvidence(ctx, EvidenceParams{DisputeID: d.ID, SubmittedBy: "A", ClaimantID: "A", Description: "late"})
	assert.ErrorIs(t, err, ErrDisputeClosed)
}

func TestReplayResolutions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.requests.err = errors.New("store unavailable")

	d, err := f.engine.Open(ctx, threeWay())
	require.NoError(t, err)
	vote(t, f, d.ID, "m1", "A")
	vote(t, f, d.ID, "m2", "A")
	vote(t, f, d.ID, "m3", "A")
	require.Len(t, f.requests.calls, 1)

	f.requests.err = nil
	n, err := f.engine.ReplayResolutions(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, approval{"req-1", "A"}, f.requests.calls[1])

	f.requests.err = workrequest.ErrClosed
	n, err = f.engine.ReplayResolutions(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReplayResolutions_ReachesOlderPages(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.requests.err = errors.New("store unavailable")
	for i := 1; i <= 5; i++ {
		params := threeWay()
		params.WorkRequestID = fmt.Sprintf("req-%d", i)
		params.ItemID = fmt.Sprintf("item-%d", i)
		d, err := f.engine.Open(ctx, params)
		require.NoError(t, err)
		vote(t, f, d.ID, "m1", "B")
		vote(t, f, d.ID, "m2", "B")
		vote(t, f, d.ID, "m3", "B")
	}
	f.requests.calls = nil
	f.requests.err = nil

	n, err := f.engine.ReplayResolutions(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	replayed := make(map[string]bool)
	for _, c := range f.requests.calls {
		assert.Equal(t, "B", c.winnerID)
		replayed[c.requestID] = true
	}
	assert.Len(t, f.requests.calls, 5, "each resolution is replayed once")
	assert.True(t, replayed["req-1"], "oldest resolution sits on the last page")
}

func TestList_FiltersByMember(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.engine.Open(ctx, threeWay())
	require.NoError(t, err)
	second := threeWay()
	second.WorkRequestID = "req-2"
	second.Panel = second.Panel[:2]
	second.VotesRequired = 2
	_, err = f.engine.Open(ctx, second)
	require.NoError(t, err)

	got, err := f.engine.List(ctx, Filter{MemberID: "m3"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "req-1", got[0].WorkRequestID)

	got, err = f.engine.List(ctx, Filter{Statuses: []Status{StatusOpen}})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

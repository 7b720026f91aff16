package verification

import (
	"context"
	"fmt"
	"testing"
	"time"

	"claimflow/apperr"
	"claimflow/trust"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc    *Service
	ledger *trust.Ledger
	now    *time.Time
}

func newFixture() fixture {
	now := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)
	ledger := trust.NewLedger(trust.NewMemoryStore(), 50)
	seq := 0
	svc := NewService(NewMemoryRepository(), ledger, 72*time.Hour).
		WithClock(func() time.Time { return now }).
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("ver-%02d", seq)
		})
	return fixture{svc: svc, ledger: ledger, now: &now}
}

func (f fixture) advance(d time.Duration) { *f.now = f.now.Add(d) }

func (f fixture) score(t *testing.T, user string) int {
	t.Helper()
	s, err := f.ledger.Score(context.Background(), user)
	require.NoError(t, err)
	return s.CurrentScore
}

func TestCreate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	v, err := f.svc.Create(ctx, CreateParams{Kind: KindIdentity, SubjectUserID: "student-1", WorkRequestID: "req-1"})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, v.Status)
	assert.Equal(t, f.now.Add(72*time.Hour), v.ExpiresAt)

	_, err = f.svc.Create(ctx, CreateParams{Kind: KindSerialNumberCheck, SubjectUserID: "student-1"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.Create(ctx, CreateParams{Kind: "PALM_READING", SubjectUserID: "student-1"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.Create(ctx, CreateParams{Kind: KindIdentity})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestReviewAndVerify(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v, err := f.svc.Create(ctx, CreateParams{Kind: KindHighValueClaim, SubjectUserID: "student-1"})
	require.NoError(t, err)

	_, err = f.svc.Verify(ctx, v.ID, "officer-1", "")
	assert.ErrorIs(t, err, ErrNotInReview)

	_, err = f.svc.StartReview(ctx, v.ID, "officer-1")
	require.NoError(t, err)
	_, err = f.svc.StartReview(ctx, v.ID, "officer-1")
	require.NoError(t, err, "the same reviewer may reclaim")
	_, err = f.svc.StartReview(ctx, v.ID, "officer-2")
	assert.ErrorIs(t, err, ErrWrongReviewer)
	_, err = f.svc.Verify(ctx, v.ID, "officer-2", "")
	assert.ErrorIs(t, err, apperr.ErrUnauthorizedActor)

	got, err := f.svc.Verify(ctx, v.ID, "officer-1", "passport checked")
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, got.Status)
	assert.NotNil(t, got.DecidedAt)
	assert.Equal(t, 55, f.score(t, "student-1"))

	_, err = f.svc.Reject(ctx, v.ID, "officer-1", "changed my mind")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestReject(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v, err := f.svc.Create(ctx, CreateParams{Kind: KindSerialNumberCheck, SubjectUserID: "student-1", SerialNumber: "SN-1"})
	require.NoError(t, err)
	_, err = f.svc.StartReview(ctx, v.ID, "officer-1")
	require.NoError(t, err)

	_, err = f.svc.Reject(ctx, v.ID, "officer-1", " ")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	got, err := f.svc.Reject(ctx, v.ID, "officer-1", "serial does not match")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, got.Status)
	assert.Equal(t, 40, f.score(t, "student-1"))
}

func TestExpireOverdue(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	stale, err := f.svc.Create(ctx, CreateParams{Kind: KindIdentity, SubjectUserID: "a"})
	require.NoError(t, err)
	reviewing, err := f.svc.Create(ctx, CreateParams{Kind: KindIdentity, SubjectUserID: "b"})
	require.NoError(t, err)
	_, err = f.svc.StartReview(ctx, reviewing.ID, "officer-1")
	require.NoError(t, err)
	done, err := f.svc.Create(ctx, CreateParams{Kind: KindIdentity, SubjectUserID: "c"})
	require.NoError(t, err)
	_, err = f.svc.StartReview(ctx, done.ID, "officer-1")
	require.NoError(t, err)
	_, err = f.svc.Verify(ctx, done.ID, "officer-1", "")
	require.NoError(t, err)

	f.advance(48 * time.Hour)
	fresh, err := f.svc.Create(ctx, CreateParams{Kind: KindIdentity, SubjectUserID: "d"})
	require.NoError(t, err)

	f.advance(25 * time.Hour)
	expired, err := f.svc.ExpireOverdue(ctx, *f.now)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	ids := []string{expired[0].ID, expired[1].ID}
	assert.ElementsMatch(t, []string{stale.ID, reviewing.ID}, ids)

	_, err = f.svc.Verify(ctx, reviewing.ID, "officer-1", "")
	assert.ErrorIs(t, err, ErrClosed)

	got, err := f.svc.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	got, err = f.svc.Get(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, got.Status)

	again, err := f.svc.ExpireOverdue(ctx, *f.now)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestSubjectCannotReviewOwnVerification(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.ledger.ApplyEvent(ctx, trust.ApplyParams{UserID: "claimant", Kind: trust.EventNoShow, Key: "seed-1"})
	require.NoError(t, err)
	_, err = f.ledger.ApplyEvent(ctx, trust.ApplyParams{UserID: "claimant", Kind: trust.EventNoShow, Key: "seed-2"})
	require.NoError(t, err)
	require.Equal(t, 40, f.score(t, "claimant"))

	for i := 0; i < 3; i++ {
		v, err := f.svc.Create(ctx, CreateParams{Kind: KindHighValueClaim, SubjectUserID: "claimant"})
		require.NoError(t, err)

		_, err = f.svc.StartReview(ctx, v.ID, "claimant")
		assert.ErrorIs(t, err, ErrSelfReview)
		assert.ErrorIs(t, err, apperr.ErrUnauthorizedActor)

		_, err = f.svc.StartReview(ctx, v.ID, "officer-1")
		require.NoError(t, err)
		_, err = f.svc.Verify(ctx, v.ID, "claimant", "")
		assert.ErrorIs(t, err, ErrSelfReview)
		_, err = f.svc.Reject(ctx, v.ID, "claimant", "nope")
		assert.ErrorIs(t, err, ErrSelfReview)
	}
	assert.Equal(t, 40, f.score(t, "claimant"), "no credit without an independent reviewer")
}

func TestAssignedReviewer(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.Create(ctx, CreateParams{Kind: KindIdentity, SubjectUserID: "officer-1", ReviewerID: "officer-1"})
	assert.ErrorIs(t, err, ErrSelfReview)

	v, err := f.svc.Create(ctx, CreateParams{Kind: KindIdentity, SubjectUserID: "student-1", ReviewerID: "officer-1"})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, v.Status)
	assert.Equal(t, "officer-1", v.ReviewerID)

	_, err = f.svc.StartReview(ctx, v.ID, "officer-2")
	assert.ErrorIs(t, err, ErrWrongReviewer)
	_, err = f.svc.StartReview(ctx, v.ID, "officer-1")
	require.NoError(t, err)
	got, err := f.svc.Verify(ctx, v.ID, "officer-1", "")
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, got.Status)
}

func TestExpire(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v, err := f.svc.Create(ctx, CreateParams{Kind: KindIdentity, SubjectUserID: "student-1"})
	require.NoError(t, err)

	got, err := f.svc.Expire(ctx, v.ID, "request could not be stored")
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)
	assert.NotNil(t, got.DecidedAt)
	assert.Equal(t, 50, f.score(t, "student-1"))

	_, err = f.svc.Expire(ctx, v.ID, "again")
	assert.ErrorIs(t, err, ErrClosed)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"claimflow/config"
	"claimflow/enterprise"
	"claimflow/notify"
	"claimflow/roster"
	"claimflow/routing"
	"claimflow/sla"
	"claimflow/trust"
	"claimflow/verification"
	"claimflow/workrequest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReplayer struct{ n int }

func (f fakeReplayer) ReplayResolutions(context.Context, int) (int, error) { return f.n, nil }

type fakeRelay struct {
	n   int
	err error
}

func (f fakeRelay) Relay(context.Context, notify.Notifier, int) (int, error) { return f.n, f.err }

func TestSweep(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return start }
	campus := enterprise.Org{Enterprise: enterprise.University, ID: "neu-boston"}
	station := enterprise.Org{Enterprise: enterprise.Transit, ID: "park-street"}
	policy := config.DefaultPolicy()

	ledger := trust.NewLedger(trust.NewMemoryStore(), 50)
	verifications := verification.NewService(verification.NewMemoryRepository(), ledger, time.Hour).WithClock(clock)
	_, err := verifications.Create(ctx, verification.CreateParams{Kind: verification.KindIdentity, SubjectUserID: "student-1"})
	require.NoError(t, err)

	directory := roster.NewService(roster.NewDirectory(
		roster.Approver{ID: "station-1", Role: enterprise.RoleStationManager, Org: station},
		roster.Approver{ID: "coord-1", Role: enterprise.RoleCampusCoordinator, Org: campus},
	))
	requests := workrequest.NewService(workrequest.NewMemoryRepository(), routing.NewRouter(policy.Routing), directory, ledger, verifications).
		WithClock(clock)
	for _, p := range []workrequest.Priority{workrequest.PriorityNormal, workrequest.PriorityLow} {
		_, err := requests.Submit(ctx, workrequest.SubmitParams{
			RequesterID:  "student-1",
			RequesterOrg: campus,
			Priority:     p,
			Details:      workrequest.TransitToUniversityTransfer{ItemID: "item-" + string(p), Station: station, Campus: campus},
		})
		require.NoError(t, err)
	}

	later := start.Add(100 * time.Hour)
	alerts := notify.NewRecorder()
	s := &sweeper{
		verifications: verifications,
		requests:      requests,
		tracker:       sla.NewTracker(policy.SLA).WithClock(func() time.Time { return later }),
		disputes:      fakeReplayer{n: 2},
		outbox:        fakeRelay{n: 0, err: errors.New("redis down")},
		relayTarget:   notify.Discard{},
		alerts:        alerts,
		batch:         50,
		now:           func() time.Time { return later },
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	report, err := s.run(ctx)
	require.Error(t, err, "relay failure is reported")
	assert.ErrorContains(t, err, "redis down")
	assert.Equal(t, Report{Expired: 1, Overdue: 1, Replayed: 2}, report)

	facts := alerts.Topic(notify.TopicSLABreached)
	require.Len(t, facts, 1)
	assert.Equal(t, "station-1", facts[0].RecipientID)
	assert.Equal(t, 28, facts[0].Payload["hours_overdue"])

	again, err := (&sweeper{verifications: verifications, now: s.now, logger: s.logger}).run(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Expired, "expiry is idempotent")
}

func TestSweep_OverdueReachesOldestPage(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	campus := enterprise.Org{Enterprise: enterprise.University, ID: "neu-boston"}
	station := enterprise.Org{Enterprise: enterprise.Transit, ID: "park-street"}
	policy := config.DefaultPolicy()

	directory := roster.NewService(roster.NewDirectory(
		roster.Approver{ID: "station-1", Role: enterprise.RoleStationManager, Org: station},
		roster.Approver{ID: "coord-1", Role: enterprise.RoleCampusCoordinator, Org: campus},
	))
	ledger := trust.NewLedger(trust.NewMemoryStore(), 50)
	verifications := verification.NewService(verification.NewMemoryRepository(), ledger, time.Hour).WithClock(clock)
	requests := workrequest.NewService(workrequest.NewMemoryRepository(), routing.NewRouter(policy.Routing), directory, ledger, verifications).
		WithClock(clock)
	submit := func(n int, p workrequest.Priority) {
		for i := 0; i < n; i++ {
			now = now.Add(time.Second)
			_, err := requests.Submit(ctx, workrequest.SubmitParams{
				RequesterID:  "student-1",
				RequesterOrg: campus,
				Priority:     p,
				Details:      workrequest.TransitToUniversityTransfer{ItemID: fmt.Sprintf("item-%s-%d", p, i), Station: station, Campus: campus},
			})
			require.NoError(t, err)
		}
	}
	submit(3, workrequest.PriorityUrgent)
	now = now.Add(10 * time.Hour)
	submit(150, workrequest.PriorityNormal)

	later := now.Add(time.Hour)
	alerts := notify.NewRecorder()
	s := &sweeper{
		requests: requests,
		tracker:  sla.NewTracker(policy.SLA).WithClock(func() time.Time { return later }),
		alerts:   alerts,
		batch:    40,
		now:      func() time.Time { return later },
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	active, err := s.active(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 153, "every active request across four pages")

	report, err := s.run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Overdue)
	facts := alerts.Topic(notify.TopicSLABreached)
	require.Len(t, facts, 3)
	for _, f := range facts {
		assert.Equal(t, "URGENT", f.Payload["priority"])
	}
}

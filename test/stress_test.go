package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"testing"
	"time"

	"claimflow/config"
	"claimflow/dispute"
	"claimflow/enterprise"
	"claimflow/notify"
	"claimflow/roster"
	"claimflow/routing"
	"claimflow/test/actors"
	"claimflow/test/chaos"
	"claimflow/test/infra"
	"claimflow/test/oracles"
	"claimflow/trust"
	"claimflow/verification"
	"claimflow/workrequest"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

var (
	flDuration    = flag.Duration("duration", 30*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 2, "actors per approver and panel seat")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
	flChaos       = flag.Bool("chaos", true, "terminate random backends while running")
)

var (
	campus  = enterprise.Org{Enterprise: enterprise.University, ID: "neu-boston", Name: "Northeastern Boston"}
	station = enterprise.Org{Enterprise: enterprise.Transit, ID: "park-street", Name: "MBTA Park Street"}
)

func TestClaimflowConcurrency(t *testing.T) {
	if testing.Short() {
		t.Skip("stress run skipped in -short mode")
	}

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv("CLAIMFLOW_TEST_PG_DSN") != "":
		dsn = os.Getenv("CLAIMFLOW_TEST_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres16(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if err != nil {
				t.Skipf("no postgres available: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	mustSeed(t, ctx, pool)
	requests, engine, ledger, outbox := wire(pool)

	cast := actors.Cast{
		Campus:      campus,
		Station:     station,
		RequesterID: "student-1",
		Claimants:   []string{"alice", "bob"},
		Panel:       []string{"panel-1", "panel-2", "panel-3"},
	}
	stats := &actors.Stats{}
	stop := make(chan struct{})
	g, ctx2 := errgroup.WithContext(ctx)

	g.Go(func() error { return actors.Submitter(ctx2, requests, cast, stats, stop) })
	g.Go(func() error { return actors.Canceller(ctx2, requests, cast.RequesterID, stats, stop) })
	g.Go(func() error { return actors.Completer(ctx2, requests, cast.RequesterID, stats, stop) })
	for i := 0; i < *flConcurrency; i++ {
		// Same identities on purpose: duplicates race for the same step or ballot.
		for _, approver := range []string{"station-1", "coord-1", cast.RequesterID} {
			g.Go(func() error { return actors.Approver(ctx2, requests, approver, stats, stop) })
		}
		for _, member := range cast.Panel {
			g.Go(func() error { return actors.Voter(ctx2, engine, member, cast.Claimants, stats, stop) })
		}
		g.Go(func() error {
			return actors.TrustWriter(ctx2, ledger, []string{"alice", "bob", "carol"}, stats, stop)
		})
		g.Go(func() error { return actors.Relay(ctx2, outbox, notify.Discard{}, stats, stop) })
	}
	if *flChaos {
		go chaos.TerminateRandomBackend(ctx2, pool, "", stop)
	}

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			checkOracles(t, ctx, pool)
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("actors errored: %v", err)
	}
	checkOracles(t, context.Background(), pool)

	t.Logf("stress finished: %s", stats)
	if err := stats.LastFailure(); err != nil {
		t.Logf("last unexpected error: %v", err)
	}
	if stats.Accepted.Load() == 0 {
		t.Fatalf("no operation succeeded: %s", stats)
	}
}

// checkOracles fails the test when an invariant query returns rows. Oracle
// errors are logged only, since chaos may kill the checking connection.
func checkOracles(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	name, row, err := oracles.Run(ctx, pool)
	if err != nil {
		t.Logf("oracle check skipped: %v", err)
		return
	}
	if name != "" {
		dumpRecent(t, context.Background(), pool)
		t.Fatalf("oracle %s failed. First row: %s", name, row)
	}
}

func wire(pool *pgxpool.Pool) (*workrequest.Service, *dispute.Engine, *trust.Ledger, *notify.Outbox) {
	policy := config.DefaultPolicy()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	outbox := notify.NewOutbox(pool)

	ledger := trust.NewLedger(trust.NewPGStore(pool), policy.Trust.InitialScore).WithLogger(logger)
	approvers := roster.NewService(roster.NewRepository(pool))
	verifications := verification.NewService(verification.NewPGRepository(pool), ledger, policy.Verification.ExpiryWindow()).
		WithLogger(logger)
	requests := workrequest.NewService(workrequest.NewPGRepository(pool), routing.NewRouter(policy.Routing), approvers, ledger, verifications).
		WithNotifier(outbox).
		WithLogger(logger).
		WithMaxAttempts(policy.MaxWriteAttempts)
	engine := dispute.NewEngine(dispute.NewPGRepository(pool), ledger, approvers).
		WithRequests(requests).
		WithNotifier(outbox).
		WithLogger(logger).
		WithMaxAttempts(policy.MaxWriteAttempts)
	requests.WithDisputes(engine)
	return requests, engine, ledger, outbox
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

func mustSeed(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	repo := roster.NewRepository(pool)
	for _, a := range []roster.Approver{
		{ID: "station-1", Name: "Sam Station", Role: enterprise.RoleStationManager, Org: station, Active: true},
		{ID: "coord-1", Name: "Dana Coordinator", Role: enterprise.RoleCampusCoordinator, Org: campus, Active: true},
	} {
		if err := repo.Upsert(ctx, a); err != nil {
			t.Fatalf("seed approver %s: %v", a.ID, err)
		}
	}
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"work_requests", `SELECT id, status, approval_step, current_approver_id, version FROM work_requests ORDER BY updated_at DESC LIMIT 50`},
		{"disputes", `SELECT id, resolution_status, panel_votes_received, panel_votes_required, winning_claimant_id FROM disputes ORDER BY updated_at DESC LIMIT 20`},
		{"trust_score_events", `SELECT seq, user_id, event_key, previous_score, new_score FROM trust_score_events ORDER BY seq DESC LIMIT 50`},
		{"outbox", `SELECT id, topic, attempts, dispatched_at, last_error FROM outbox ORDER BY id DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", cols[i].Name, vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}

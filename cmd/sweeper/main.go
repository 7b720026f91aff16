// Command sweeper runs one maintenance pass and exits. It is meant to be
// invoked by cron or a Kubernetes CronJob; the core never schedules itself.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"claimflow/config"
	"claimflow/db"
	"claimflow/dispute"
	"claimflow/notify"
	"claimflow/roster"
	"claimflow/routing"
	"claimflow/sla"
	"claimflow/telemetry"
	"claimflow/trust"
	"claimflow/verification"
	"claimflow/workrequest"
)

func main() {
	batch := flag.Int("batch", 200, "maximum rows handled per step")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall deadline for the sweep")
	flag.Parse()

	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	if err := run(ctx, cfg, *batch, logger); err != nil {
		logger.Error("sweep failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, batch int, logger *slog.Logger) error {
	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return err
	}
	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTLPEndpoint, "claimflow-sweeper")
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.Options{MaxConns: 4})
	if err != nil {
		return err
	}
	defer pool.Close()

	outbox := notify.NewOutbox(pool)
	ledger := trust.NewLedger(trust.NewPGStore(pool), policy.Trust.InitialScore).WithLogger(logger)
	approvers := roster.NewService(roster.NewRepository(pool))
	verifications := verification.NewService(verification.NewPGRepository(pool), ledger, policy.Verification.ExpiryWindow()).
		WithLogger(logger)
	requests := workrequest.NewService(workrequest.NewPGRepository(pool), routing.NewRouter(policy.Routing), approvers, ledger, verifications).
		WithNotifier(outbox).
		WithLogger(logger)
	disputes := dispute.NewEngine(dispute.NewPGRepository(pool), ledger, approvers).
		WithRequests(requests).
		WithNotifier(outbox).
		WithLogger(logger)
	requests.WithDisputes(disputes)

	s := &sweeper{
		verifications: verifications,
		requests:      requests,
		tracker:       sla.NewTracker(policy.SLA),
		disputes:      disputes,
		alerts:        outbox,
		batch:         batch,
		now:           func() time.Time { return time.Now().UTC() },
		logger:        logger.With("component", "sweeper"),
	}
	if cfg.RedisAddr != "" {
		client := notify.NewRedisClient(cfg.RedisAddr)
		defer client.Close()
		s.outbox = outbox
		s.relayTarget = notify.NewRedisNotifier(client, cfg.RedisChannel)
	}

	_, err = s.run(ctx)
	return err
}

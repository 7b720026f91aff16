package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"claimflow/auth"
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
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("api stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return err
	}

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTLPEndpoint, "claimflow-api")
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("flush traces", "error", err)
		}
	}()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.Options{})
	if err != nil {
		return err
	}
	defer pool.Close()

	tokens, err := auth.NewService(cfg.JWTSecret, 0)
	if err != nil {
		return err
	}

	var notifier notify.Notifier = notify.NewOutbox(pool)
	if cfg.RedisAddr != "" {
		client := notify.NewRedisClient(cfg.RedisAddr)
		defer client.Close()
		notifier = notify.NewFanout(notifier, notify.NewRedisNotifier(client, cfg.RedisChannel))
	}

	ledger := trust.NewLedger(trust.NewPGStore(pool), policy.Trust.InitialScore).WithLogger(logger)
	approvers := roster.NewService(roster.NewRepository(pool))
	verifications := verification.NewService(verification.NewPGRepository(pool), ledger, policy.Verification.ExpiryWindow()).
		WithLogger(logger).
		WithMaxAttempts(policy.MaxWriteAttempts)
	requests := workrequest.NewService(workrequest.NewPGRepository(pool), routing.NewRouter(policy.Routing), approvers, ledger, verifications).
		WithNotifier(notifier).
		WithLogger(logger).
		WithMaxAttempts(policy.MaxWriteAttempts)
	disputes := dispute.NewEngine(dispute.NewPGRepository(pool), ledger, approvers).
		WithRequests(requests).
		WithNotifier(notifier).
		WithLogger(logger).
		WithMaxAttempts(policy.MaxWriteAttempts)
	requests.WithDisputes(disputes)

	server := &Server{
		tokens:        tokens,
		requests:      requests,
		trust:         ledger,
		disputes:      disputes,
		verifications: verifications,
		sla:           sla.NewTracker(policy.SLA),
		limiter:       newActorLimiter(10, 20),
		logger:        logger,
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", "addr", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

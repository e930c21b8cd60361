// Package app wires pg-cdc's components together: configuration, preflight
// checks, metrics, the health probe, the replication session and the
// dispatch pool, plus the signal-driven graceful shutdown and the
// reconnect-with-backoff loop around a single session's lifetime.
package app

import (
	"context"
	"fmt"
	"math/rand"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cashapp/pg-cdc/internal/check"
	"github.com/cashapp/pg-cdc/internal/config"
	"github.com/cashapp/pg-cdc/internal/dispatch"
	"github.com/cashapp/pg-cdc/internal/health"
	"github.com/cashapp/pg-cdc/internal/metrics"
	"github.com/cashapp/pg-cdc/internal/replication"
)

// App owns the full lifecycle of one pg-cdc run.
type App struct {
	cfg    *config.Config
	logger logrus.FieldLogger
	sink   metrics.Sink
}

// New builds an App from config. If logger is nil, a standard logrus
// logger is used.
func New(cfg *config.Config, logger logrus.FieldLogger) *App {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &App{
		cfg:    cfg,
		logger: logger,
		sink:   metrics.NewPrometheusSink(prometheus.DefaultRegisterer),
	}
}

// Run runs preflight checks, then streams until ctx is cancelled or the
// process receives SIGINT/SIGTERM (Run installs that signal handling
// itself on a derived context), reconnecting with capped
// exponential backoff across transient failures. It returns nil on a clean
// shutdown and a non-zero-worthy error on an unrecoverable failure.
func (a *App) Run(ctx context.Context, handler dispatch.Handler) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.runPreflight(ctx); err != nil {
		return fmt.Errorf("app: preflight checks failed: %w", err)
	}

	healthSrv := health.New(fmt.Sprintf(":%d", a.cfg.HealthPort), nil, a.logger)
	healthErrCh := healthSrv.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := healthSrv.Shutdown(shutdownCtx); err != nil {
			a.logger.WithError(err).Warn("health server shutdown error")
		}
	}()

	backoff := newBackoff()
	for {
		if ctx.Err() != nil {
			return nil
		}

		err := a.runOnce(ctx, handler, healthSrv)
		if err == nil || ctx.Err() != nil {
			return nil
		}

		wait := backoff.next()
		a.logger.WithError(err).WithField("retry_in", wait.String()).Warn("session failed, retrying")

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil
		case herr := <-healthErrCh:
			if herr != nil {
				return fmt.Errorf("app: health server failed: %w", herr)
			}
		}
	}
}

// runOnce connects, ensures the slot, and streams until the session exits
// (by error, or by ctx cancellation) or the context is cancelled.
func (a *App) runOnce(ctx context.Context, handler dispatch.Handler, healthSrv *health.Server) error {
	pool := dispatch.New(a.cfg.QueueCapacity, a.cfg.WorkerCount, handler, a.logger, a.sink)
	pool.Start(ctx)

	sessionCfg := replication.Config{
		Host:              a.cfg.Host,
		Port:              uint16(a.cfg.Port),
		User:              a.cfg.User,
		Password:          a.cfg.Password,
		Database:          a.cfg.Database,
		SlotName:          a.cfg.SlotName,
		PublicationName:   a.cfg.PublicationName,
		KeepaliveInterval: a.cfg.KeepaliveInterval(),
	}
	session := replication.New(sessionCfg, pool, a.logger, a.sink)

	if err := session.Connect(ctx); err != nil {
		pool.Close()
		_ = pool.Wait()
		return &connectPhaseError{err: err}
	}
	if err := session.EnsureSlot(ctx); err != nil {
		pool.Close()
		_ = pool.Wait()
		_ = session.Close(ctx)
		return &slotPhaseError{err: err}
	}

	healthSrv.SetReady(true)
	a.logger.WithField("slot", a.cfg.SlotName).Info("streaming started")

	runErr := session.Run(ctx)

	healthSrv.SetReady(false)
	pool.Close()
	waitErr := pool.Wait()
	closeErr := session.Close(context.Background())

	if runErr != nil {
		return runErr
	}
	if waitErr != nil {
		return waitErr
	}
	return closeErr
}

// runPreflight opens a short-lived, non-replication connection to run the
// checks registered in internal/check, then closes it; the replication
// session opens its own connection separately since a replication-mode
// connection cannot run ordinary queries.
func (a *App) runPreflight(ctx context.Context) error {
	connString := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		a.cfg.Host, a.cfg.Port, a.cfg.User, a.cfg.Password, a.cfg.Database)
	conn, err := pgconn.Connect(ctx, connString)
	if err != nil {
		return fmt.Errorf("connect for preflight: %w", err)
	}
	defer func() { _ = conn.Close(ctx) }()

	return check.Run(ctx, check.ScopePreflight, conn, check.Config{PublicationName: a.cfg.PublicationName}, a.logger)
}

// connectPhaseError and slotPhaseError tag which phase of runOnce an error
// came from, for logging; both are retried by Run like any other error
// since a down database or a slot held by another process can recover on
// its own.
type connectPhaseError struct{ err error }

func (e *connectPhaseError) Error() string { return "connect: " + e.err.Error() }
func (e *connectPhaseError) Unwrap() error { return e.err }

type slotPhaseError struct{ err error }

func (e *slotPhaseError) Error() string { return "ensure_slot: " + e.err.Error() }
func (e *slotPhaseError) Unwrap() error { return e.err }

// backoff is a simple capped exponential backoff with jitter.
type backoff struct {
	attempt int
}

func newBackoff() *backoff { return &backoff{} }

func (b *backoff) next() time.Duration {
	const (
		base = 500 * time.Millisecond
		max  = 30 * time.Second
	)
	d := base * time.Duration(1<<uint(b.attempt))
	if d > max || d <= 0 {
		d = max
	}
	b.attempt++
	jitter := time.Duration(rand.Int63n(int64(d) / 4))
	return d + jitter
}

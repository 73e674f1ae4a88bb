package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/lazymarket/internal/domain"
	"github.com/alanyoungcy/lazymarket/internal/server"
	"github.com/alanyoungcy/lazymarket/internal/server/handler"
)

// writerLease is the lock key held by the serving process. Only one engine
// may project into a shared database at a time.
const writerLease = "market:writer"

// ServeMode runs the HTTP API, the WebSocket hub and, when configured, the
// periodic archiver. With Redis it first takes the single-writer lease and
// stops if the lease is lost.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	if deps.LockManager != nil {
		ttl := a.cfg.Redis.LeaseTTL.Duration
		unlock, err := deps.LockManager.Acquire(ctx, writerLease, ttl)
		if err != nil {
			return fmt.Errorf("serve mode: writer lease: %w", err)
		}
		a.closers = append(a.closers, unlock)
		g.Go(func() error {
			return a.holdLease(ctx, deps.LockManager, ttl)
		})
	}

	g.Go(func() error {
		return deps.Hub.Run(ctx)
	})

	if deps.Archiver != nil && a.cfg.Archive.Interval.Duration > 0 {
		g.Go(func() error {
			return a.archiveLoop(ctx, deps.Archiver)
		})
	}

	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// ArchiveMode moves settled history older than the retention period to
// object storage once and returns.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")
	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: requires postgres and s3 to be enabled")
	}
	return a.archiveOnce(ctx, deps.Archiver)
}

// holdLease refreshes the writer lease every third of its TTL.
func (a *App) holdLease(ctx context.Context, locks domain.LockManager, ttl time.Duration) error {
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := locks.Refresh(ctx, writerLease, ttl); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				a.logger.ErrorContext(ctx, "writer lease lost", slog.String("error", err.Error()))
				return fmt.Errorf("serve mode: writer lease: %w", err)
			}
		}
	}
}

func (a *App) archiveLoop(ctx context.Context, archiver domain.Archiver) error {
	ticker := time.NewTicker(a.cfg.Archive.Interval.Duration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// A failed pass is retried on the next tick.
			if err := a.archiveOnce(ctx, archiver); err != nil {
				a.logger.WarnContext(ctx, "archive pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (a *App) archiveOnce(ctx context.Context, archiver domain.Archiver) error {
	cutoff := time.Now().UTC().Add(-a.cfg.Archive.Retention.Duration)
	passes := []struct {
		kind string
		run  func(context.Context, time.Time) (int64, error)
	}{
		{"listings", archiver.ArchiveListings},
		{"lots", archiver.ArchiveLots},
		{"audit", archiver.ArchiveAudit},
	}

	var errs []error
	for _, p := range passes {
		n, err := p.run(ctx, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("archive %s: %w", p.kind, err))
			continue
		}
		a.logger.InfoContext(ctx, "archived",
			slog.String("kind", p.kind),
			slog.Int64("records", n),
			slog.Time("before", cutoff),
		)
	}
	return errors.Join(errs...)
}

// startHTTPServer builds the handlers, starts the listener and shuts it down
// gracefully once ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	sc := a.cfg.Server
	srv := server.NewServer(
		server.Config{
			Port:         sc.Port,
			CORSOrigins:  sc.CORSOrigins,
			APIKey:       sc.APIKey,
			AuthWindow:   sc.AuthWindow.Duration,
			RateLimit:    sc.RateLimit,
			RateInterval: sc.RateInterval.Duration,
		},
		server.Handlers{
			Health:   handler.NewHealthHandler(deps.Health, a.logger),
			Listings: handler.NewListingHandler(deps.Market, a.logger),
			Lots:     handler.NewLotHandler(deps.Market, a.logger),
			Vouchers: handler.NewVoucherHandler(deps.Market, a.logger),
			Accounts: handler.NewAccountHandler(deps.Accounts, a.logger),
			Admin:    handler.NewAdminHandler(deps.Accounts, deps.BlobReader, a.logger),
			Activity: handler.NewActivityHandler(deps.Market, deps.SignalBus, a.logger),
		},
		deps.Hub,
		server.Guards{Nonces: deps.Nonces, Limiter: deps.RateLimiter},
		a.logger,
	)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", sc.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", sc.Port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), sc.ShutdownTimeout.Duration)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/HendryAvila/chatsync/internal/cache"
	"github.com/HendryAvila/chatsync/internal/config"
)

// Run starts the background loops and blocks until ctx is cancelled:
// the realtime listener, the retention schedule, the Redis invalidation
// feed and the ops server, each only when configured. With the on_start
// retry policy one sweep runs first. Sending never waits on any of them.
func (a *App) Run(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.Error().Err(err).Str("loop", name).Msg("background loop stopped")
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
			}
		}()
	}

	if a.Config.Retry.Policy == config.RetryOnStart {
		start("startup sweep", a.sweepOnce)
	}
	if a.Listener != nil {
		start("realtime", a.Listener.Run)
	}
	start("retention", func(ctx context.Context) error {
		a.Retention.Run(ctx)
		return nil
	})
	if a.redis != nil {
		start("invalidation feed", a.followInvalidations)
	}
	if a.Config.MetricsAddr != "" {
		start("ops server", a.serveOps)
	}

	wg.Wait()
	return errors.Join(errs...)
}

// sweepOnce resubmits everything left unsynced by a previous run.
func (a *App) sweepOnce(ctx context.Context) error {
	report, err := a.Sweeper.Run(ctx)
	if err != nil {
		return err
	}
	a.Logger.Info().
		Int("attempted", report.Attempted).
		Int("synced", report.Synced).
		Int("failed", report.Failed).
		Int("skipped", report.Skipped).
		Msg("startup sweep finished")
	return nil
}

// followInvalidations logs keys published by other processes sharing the
// Redis channel. Views in this process are refreshed through the recorder.
func (a *App) followInvalidations(ctx context.Context) error {
	return a.redis.Subscribe(ctx, func(k cache.Key) {
		a.Logger.Debug().Str("key", string(k)).Msg("invalidation received")
	})
}

package sweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/rs/zerolog"

	"github.com/HendryAvila/chatsync/internal/metrics"
)

// Retention defaults.
const (
	DefaultMaxAgeDays = 90
	DefaultCron       = "0 3 * * *"
)

// Purger hard-deletes messages older than a number of days.
// *localstore.Store satisfies it.
type Purger interface {
	DeleteOldMessages(ctx context.Context, maxAgeDays int) (int64, error)
}

// RetentionOptions configures a Retention job.
type RetentionOptions struct {
	Store      Purger
	MaxAgeDays int
	Cron       string
	Metrics    *metrics.Metrics
	Logger     zerolog.Logger
}

// Retention purges old messages on a cron schedule.
type Retention struct {
	store      Purger
	maxAgeDays int
	cron       string
	metrics    *metrics.Metrics
	log        zerolog.Logger
}

// Swapped in tests to drive the scheduler without waiting.
var (
	timeNow   = time.Now
	timeAfter = time.After
)

// NewRetention validates the cron expression up front.
func NewRetention(opts RetentionOptions) (*Retention, error) {
	if opts.Store == nil {
		return nil, errors.New("retention: store is required")
	}
	if opts.MaxAgeDays <= 0 {
		opts.MaxAgeDays = DefaultMaxAgeDays
	}
	if opts.Cron == "" {
		opts.Cron = DefaultCron
	}
	if !gronx.IsValid(opts.Cron) {
		return nil, fmt.Errorf("retention: invalid cron expression %q", opts.Cron)
	}
	return &Retention{
		store:      opts.Store,
		maxAgeDays: opts.MaxAgeDays,
		cron:       opts.Cron,
		metrics:    opts.Metrics,
		log:        opts.Logger.With().Str("component", "retention").Logger(),
	}, nil
}

// MaxAgeDays returns the configured age limit.
func (r *Retention) MaxAgeDays() int { return r.maxAgeDays }

// RunOnce purges messages older than the age limit and returns the count.
func (r *Retention) RunOnce(ctx context.Context) (int64, error) {
	n, err := r.store.DeleteOldMessages(ctx, r.maxAgeDays)
	if err != nil {
		r.log.Error().Err(err).Msg("retention run failed")
		return 0, fmt.Errorf("retention: %w", err)
	}
	r.metrics.ObserveRetention(n)
	r.log.Info().Int64("deleted", n).Int("max_age_days", r.maxAgeDays).Msg("retention run finished")
	return n, nil
}

// Run blocks, purging at every cron tick until ctx is cancelled.
func (r *Retention) Run(ctx context.Context) {
	r.log.Info().Str("cron", r.cron).Msg("retention scheduler started")
	for {
		next, err := gronx.NextTickAfter(r.cron, timeNow().UTC(), false)
		if err != nil {
			r.log.Error().Err(err).Str("cron", r.cron).Msg("next tick")
			select {
			case <-timeAfter(30 * time.Second):
				continue
			case <-ctx.Done():
				r.log.Info().Msg("retention scheduler stopping")
				return
			}
		}

		select {
		case <-timeAfter(next.Sub(timeNow())):
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() != nil {
				return
			}
		case <-ctx.Done():
			r.log.Info().Msg("retention scheduler stopping")
			return
		}
	}
}

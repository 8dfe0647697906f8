// Package sweep holds the background maintenance jobs: the retry sweep that
// resubmits unsynced messages and the cron-driven retention purge.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/HendryAvila/chatsync/internal/chat"
	"github.com/HendryAvila/chatsync/internal/metrics"
)

// Item results.
const (
	ResultSynced  = "synced"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
)

// Source lists the messages a sweep considers.
type Source interface {
	GetPendingMessages(ctx context.Context) ([]chat.Message, error)
	GetFailedMessages(ctx context.Context) ([]chat.Message, error)
}

// Resender resubmits one stored message. *commands.MessageCommands
// satisfies it.
type Resender interface {
	Resend(ctx context.Context, key string) (*chat.Message, error)
}

// ItemResult is the outcome for one message.
type ItemResult struct {
	LocalID string    `json:"localId"`
	ID      string    `json:"id,omitempty"`
	Result  string    `json:"result"`
	Kind    chat.Kind `json:"kind,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// Report summarizes a sweep.
type Report struct {
	Attempted int          `json:"attempted"`
	Synced    int          `json:"synced"`
	Failed    int          `json:"failed"`
	Skipped   int          `json:"skipped"`
	Items     []ItemResult `json:"items"`
}

// Options configures a Sweeper.
type Options struct {
	Source        Source
	Resender      Resender
	IncludeFailed bool
	Metrics       *metrics.Metrics
	Logger        zerolog.Logger
}

// Sweeper resubmits unsynced messages, oldest first. It runs only when asked;
// nothing retries on its own.
type Sweeper struct {
	source        Source
	resender      Resender
	includeFailed bool
	metrics       *metrics.Metrics
	log           zerolog.Logger
}

// New validates opts and returns a Sweeper.
func New(opts Options) (*Sweeper, error) {
	if opts.Source == nil || opts.Resender == nil {
		return nil, errors.New("sweep: source and resender are required")
	}
	return &Sweeper{
		source:        opts.Source,
		resender:      opts.Resender,
		includeFailed: opts.IncludeFailed,
		metrics:       opts.Metrics,
		log:           opts.Logger.With().Str("component", "sweep").Logger(),
	}, nil
}

// Run resends every pending message, plus failed ones when configured.
// Individual failures are recorded in the report; the returned error is
// reserved for listing failures and cancellation.
func (s *Sweeper) Run(ctx context.Context) (*Report, error) {
	candidates, err := s.source.GetPendingMessages(ctx)
	if err != nil {
		return nil, fmt.Errorf("sweep: list pending: %w", err)
	}
	if s.includeFailed {
		failed, err := s.source.GetFailedMessages(ctx)
		if err != nil {
			return nil, fmt.Errorf("sweep: list failed: %w", err)
		}
		candidates = append(candidates, failed...)
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Timestamp.Before(candidates[j].Timestamp)
		})
	}

	report := &Report{Items: make([]ItemResult, 0, len(candidates))}
	for _, msg := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		key := msg.LocalID
		if key == "" {
			key = msg.ID
		}

		report.Attempted++
		item := ItemResult{LocalID: key}
		updated, err := s.resender.Resend(ctx, key)
		switch {
		case err == nil:
			item.Result = ResultSynced
			item.ID = updated.ID
			report.Synced++
		case errors.Is(err, chat.ErrNotResendable):
			item.Result = ResultSkipped
			item.Kind = chat.Classify(err)
			item.Error = err.Error()
			report.Skipped++
		default:
			item.Result = ResultFailed
			item.Kind = chat.Classify(err)
			item.Error = err.Error()
			report.Failed++
		}
		s.metrics.ObserveSweepItem(item.Result)
		report.Items = append(report.Items, item)
	}

	s.log.Info().Int("attempted", report.Attempted).Int("synced", report.Synced).
		Int("failed", report.Failed).Int("skipped", report.Skipped).Msg("retry sweep finished")
	return report, nil
}

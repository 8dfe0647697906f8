package sweep

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakePurger struct {
	mu    sync.Mutex
	calls []int
	n     int64
	err   error
}

func (f *fakePurger) DeleteOldMessages(_ context.Context, days int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, days)
	return f.n, f.err
}

func (f *fakePurger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestNewRetention_Defaults(t *testing.T) {
	r, err := NewRetention(RetentionOptions{Store: &fakePurger{}, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("NewRetention: %v", err)
	}
	if r.MaxAgeDays() != DefaultMaxAgeDays {
		t.Errorf("max age = %d, want %d", r.MaxAgeDays(), DefaultMaxAgeDays)
	}
	if r.cron != DefaultCron {
		t.Errorf("cron = %q, want %q", r.cron, DefaultCron)
	}
}

func TestNewRetention_InvalidCron(t *testing.T) {
	_, err := NewRetention(RetentionOptions{Store: &fakePurger{}, Cron: "every tuesday"})
	if err == nil {
		t.Fatal("expected invalid cron error")
	}
}

func TestRetention_RunOnce(t *testing.T) {
	p := &fakePurger{n: 7}
	r, _ := NewRetention(RetentionOptions{Store: p, MaxAgeDays: 30, Logger: zerolog.Nop()})

	n, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 7 {
		t.Errorf("deleted = %d, want 7", n)
	}
	if len(p.calls) != 1 || p.calls[0] != 30 {
		t.Errorf("purge calls = %v, want [30]", p.calls)
	}

	p.err = errors.New("disk full")
	if _, err := r.RunOnce(context.Background()); err == nil {
		t.Error("expected purge error to surface")
	}
}

func TestRetention_RunFiresOnTicks(t *testing.T) {
	fired := make(chan time.Time)
	close(fired)
	prev := timeAfter
	timeAfter = func(time.Duration) <-chan time.Time { return fired }
	t.Cleanup(func() { timeAfter = prev })

	p := &fakePurger{}
	r, _ := NewRetention(RetentionOptions{Store: p, Cron: "* * * * *", Logger: zerolog.Nop()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for p.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if p.count() < 3 {
		t.Errorf("purge runs = %d, want at least 3", p.count())
	}
}

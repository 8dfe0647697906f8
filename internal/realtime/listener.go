package realtime

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

// State is the connection state of a Listener.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// Config configures a Listener. MaxAttempts of zero retries forever.
type Config struct {
	URL         string
	Token       string
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	ReadLimit   int64
}

func (c *Config) defaults() {
	if c.BaseDelay == 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.ReadLimit == 0 {
		c.ReadLimit = 1 << 20
	}
}

// Listener keeps a websocket open to the event feed and passes every frame
// to a Handler, reconnecting with exponential backoff.
type Listener struct {
	cfg     Config
	handler *Handler
	log     zerolog.Logger

	mu    sync.Mutex
	state State
	recon *reconnector
}

// NewListener returns a Listener for cfg.URL.
func NewListener(cfg Config, handler *Handler, logger zerolog.Logger) (*Listener, error) {
	if cfg.URL == "" {
		return nil, errors.New("realtime: url is required")
	}
	if handler == nil {
		return nil, errors.New("realtime: handler is required")
	}
	cfg.defaults()
	return &Listener{
		cfg:     cfg,
		handler: handler,
		log:     logger.With().Str("component", "realtime").Logger(),
		state:   StateDisconnected,
		recon:   &reconnector{baseDelay: cfg.BaseDelay, maxDelay: cfg.MaxDelay, maxAttempts: cfg.MaxAttempts},
	}, nil
}

// State returns the current connection state.
func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Listener) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Run connects and processes events until ctx is cancelled or reconnect
// attempts are exhausted. Cancellation returns nil.
func (l *Listener) Run(ctx context.Context) error {
	defer l.setState(StateDisconnected)
	for {
		err := l.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		l.recon.settle()
		if !l.recon.shouldReconnect() {
			return fmt.Errorf("realtime: giving up after %d attempts: %w", l.recon.attempt, err)
		}

		delay := l.recon.nextDelay()
		l.setState(StateReconnecting)
		l.log.Warn().Err(err).Int("attempt", l.recon.attempt).Dur("delay", delay).Msg("event feed disconnected")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
	}
}

// session runs one connection until it breaks.
func (l *Listener) session(ctx context.Context) error {
	l.setState(StateConnecting)

	var opts websocket.DialOptions
	if l.cfg.Token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + l.cfg.Token}}
	}
	conn, _, err := websocket.Dial(ctx, l.cfg.URL, &opts)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(l.cfg.ReadLimit)

	l.setState(StateConnected)
	l.recon.markConnected()
	l.log.Info().Str("url", l.cfg.URL).Msg("event feed connected")

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			continue
		}
		// Bad events are logged by the handler and never drop the connection.
		_ = l.handler.Handle(ctx, data)
	}
}

// reconnector computes backoff delays: base * 2^attempt plus up to 50% jitter,
// capped at maxDelay. A connection that stayed up for a minute resets the
// attempt count.
type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

// settle forgets earlier failures once a connection has proven stable.
func (r *reconnector) settle() {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > time.Minute {
		r.attempt = 0
	}
	r.connectedAt = time.Time{}
}

func (r *reconnector) nextDelay() time.Duration {
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

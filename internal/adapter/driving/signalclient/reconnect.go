package signalclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Wyydra/callhub/internal/core/domain"
	"github.com/rs/zerolog/log"
)

var ErrReconnectFailed = errors.New("reconnect attempts exhausted")

// Status is the state of a Reconnector's link to the hub.
type Status int

const (
	StatusConnected Status = iota
	StatusReconnecting
	StatusReconnected
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusReconnected:
		return "reconnected"
	case StatusClosed:
		return "closed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

type StatusChange struct {
	Status Status
	// ID is the connection the change refers to: the new one for
	// connected and reconnected, the lost one for reconnecting.
	ID  domain.ConnectionID
	Err error
}

type ReconnectConfig struct {
	// InitialDelay is the wait before the second redial attempt; the first
	// one is immediate. Later waits double up to MaxDelay.
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// MaxAttempts bounds consecutive failed redials. Zero retries forever.
	MaxAttempts int
	OnStatus    func(StatusChange)
}

func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
	}
}

// Session runs on one live connection and returns when it ends. A nil
// return asks for a reconnect; an error stops the Reconnector.
type Session func(ctx context.Context, c *Client) error

// Reconnector keeps a connection to the hub, dialing a new one whenever the
// current one drops. It implements port.SignalSender on top of whichever
// connection is live.
type Reconnector struct {
	url  string
	opts Options
	cfg  ReconnectConfig

	mu      sync.Mutex
	current *Client
}

func NewReconnector(serverURL string, opts Options, cfg ReconnectConfig) *Reconnector {
	d := DefaultReconnectConfig()
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = d.InitialDelay
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = max(d.MaxDelay, cfg.InitialDelay)
	}
	return &Reconnector{url: serverURL, opts: opts, cfg: cfg}
}

// Run dials the hub and runs session on every connection it gets until ctx
// is done, session fails, or redialing gives up. A failed first dial is
// returned as is.
func (r *Reconnector) Run(ctx context.Context, session Session) error {
	c, err := Dial(ctx, r.url, r.opts)
	if err != nil {
		return err
	}

	status := StatusConnected
	for {
		r.setCurrent(c)
		r.notify(StatusChange{Status: status, ID: c.ID()})

		err := session(ctx, c)
		r.setCurrent(nil)
		c.Close()

		if err != nil {
			r.notify(StatusChange{Status: StatusClosed, ID: c.ID(), Err: err})
			return err
		}
		if ctx.Err() != nil {
			r.notify(StatusChange{Status: StatusClosed, ID: c.ID()})
			return nil
		}

		r.notify(StatusChange{Status: StatusReconnecting, ID: c.ID()})
		lost := c.ID()
		if c, err = r.redial(ctx); err != nil {
			if ctx.Err() != nil {
				r.notify(StatusChange{Status: StatusClosed, ID: lost})
				return nil
			}
			r.notify(StatusChange{Status: StatusClosed, ID: lost, Err: err})
			return err
		}
		status = StatusReconnected
	}
}

func (r *Reconnector) redial(ctx context.Context) (*Client, error) {
	var (
		delay   time.Duration
		lastErr error
	)
	for attempt := 1; r.cfg.MaxAttempts == 0 || attempt <= r.cfg.MaxAttempts; attempt++ {
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}

		c, err := Dial(ctx, r.url, r.opts)
		if err == nil {
			return c, nil
		}
		lastErr = err

		delay = r.next(delay)
		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("Reconnect attempt failed")
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrReconnectFailed, r.cfg.MaxAttempts, lastErr)
}

func (r *Reconnector) next(delay time.Duration) time.Duration {
	if delay == 0 {
		return r.cfg.InitialDelay
	}
	return min(delay*2, r.cfg.MaxDelay)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reconnector) notify(ch StatusChange) {
	e := log.Info()
	if ch.Err != nil {
		e = log.Warn().Err(ch.Err)
	}
	e.Str("status", ch.Status.String()).Str("client_id", ch.ID.String()).Msg("Signaling status changed")

	if r.cfg.OnStatus != nil {
		r.cfg.OnStatus(ch)
	}
}

func (r *Reconnector) setCurrent(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = c
}

// Current returns the live connection, or nil while reconnecting.
func (r *Reconnector) Current() *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *Reconnector) SendSignal(ctx context.Context, payload string, room domain.RoomID, target domain.ConnectionID) error {
	c := r.Current()
	if c == nil {
		return domain.ErrConnectionClosed
	}
	return c.SendSignal(ctx, payload, room, target)
}

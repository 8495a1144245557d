// Package pool owns the fixed set of transport sessions every upload and
// stream runs on.
package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/lgulliver/mediabin/internal/metrics"
	"github.com/lgulliver/mediabin/internal/transport"
	"github.com/lgulliver/mediabin/pkg/config"
)

// ErrNoSessions is returned when no session is online.
var ErrNoSessions = errors.New("no online sessions")

// Pool health states.
const (
	StateHealthy     = "healthy"
	StateDegraded    = "degraded"
	StateUnavailable = "unavailable"
)

// ClientFactory creates the transport client for the session at index id.
type ClientFactory func(id int) (transport.Client, error)

// Options tunes a pool.
type Options struct {
	Size         int
	StartRetries int
	FloodMargin  time.Duration
	CallTimeout  time.Duration
	Selector     Selector
	MaxInFlight  int64
}

// OptionsFromConfig builds pool options from configuration.
func OptionsFromConfig(cfg *config.PoolConfig) (Options, error) {
	selector, err := NewSelector(cfg.Selector)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Size:         cfg.Size,
		StartRetries: cfg.StartRetries,
		FloodMargin:  cfg.FloodMargin,
		CallTimeout:  cfg.CallTimeout,
		Selector:     selector,
		MaxInFlight:  cfg.MaxInFlight,
	}, nil
}

// Status summarizes pool health.
type Status struct {
	State  string `json:"status"`
	Size   int    `json:"size"`
	Online int    `json:"online"`
}

// Pool is a fixed, ordered set of sessions. Index 0 is the primary session.
// Membership never changes after New.
type Pool struct {
	sessions    []*Session
	destination int64
	opts        Options
	sem         *semaphore.Weighted

	// sleep waits out rate-limit cool-downs during startup.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a pool of opts.Size sessions. Sessions are not connected until
// StartAll.
func New(destination int64, opts Options, newClient ClientFactory) (*Pool, error) {
	if opts.Size < 1 {
		return nil, fmt.Errorf("pool size must be at least 1, got %d", opts.Size)
	}
	if opts.StartRetries <= 0 {
		opts.StartRetries = 3
	}
	if opts.Selector == nil {
		opts.Selector = RandomSelector{}
	}

	p := &Pool{
		sessions:    make([]*Session, 0, opts.Size),
		destination: destination,
		opts:        opts,
		sleep:       sleepContext,
	}
	if opts.MaxInFlight > 0 {
		p.sem = semaphore.NewWeighted(opts.MaxInFlight)
	}

	for i := 0; i < opts.Size; i++ {
		client, err := newClient(i)
		if err != nil {
			return nil, fmt.Errorf("failed to create client for session %d: %w", i, err)
		}
		p.sessions = append(p.sessions, newSession(i, client, opts.CallTimeout))
	}

	return p, nil
}

// Destination returns the channel every session reads from and writes to.
func (p *Pool) Destination() int64 {
	return p.destination
}

// Size returns the configured number of sessions.
func (p *Pool) Size() int {
	return len(p.sessions)
}

// Session returns the session at index id.
func (p *Pool) Session(id int) *Session {
	if id < 0 || id >= len(p.sessions) {
		return nil
	}
	return p.sessions[id]
}

// Primary returns session 0.
func (p *Pool) Primary() *Session {
	return p.sessions[0]
}

// Online returns the online sessions in pool order.
func (p *Pool) Online() []*Session {
	online := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		if s.Online() {
			online = append(online, s)
		}
	}
	return online
}

// Pick chooses the session a request starts on.
func (p *Pool) Pick() (*Session, error) {
	online := p.Online()
	if len(online) == 0 {
		return nil, ErrNoSessions
	}
	return online[p.opts.Selector.Select(online)], nil
}

// UploadSession returns the primary session, or the first online session
// when the primary is offline.
func (p *Pool) UploadSession() (*Session, error) {
	if p.Primary().Online() {
		return p.Primary(), nil
	}
	online := p.Online()
	if len(online) == 0 {
		return nil, ErrNoSessions
	}
	log.Warn().Int("session", online[0].ID).Msg("Primary session offline, uploading on fallback session")
	return online[0], nil
}

// ScanFrom returns every online session starting at first and wrapping
// around the pool order. first is always included at the head.
func (p *Pool) ScanFrom(first *Session) []*Session {
	order := make([]*Session, 0, len(p.sessions))
	order = append(order, first)
	for i := 1; i < len(p.sessions); i++ {
		s := p.sessions[(first.ID+i)%len(p.sessions)]
		if s.Online() {
			order = append(order, s)
		}
	}
	return order
}

// Acquire waits for a request slot when an in-flight cap is configured. The
// returned func releases the slot.
func (p *Pool) Acquire(ctx context.Context) (func(), error) {
	if p.sem == nil {
		return func() {}, nil
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to acquire request slot: %w", err)
	}
	return func() { p.sem.Release(1) }, nil
}

// CallContext bounds a single transport call with the configured timeout.
func (p *Pool) CallContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.opts.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.opts.CallTimeout)
}

// Status reports how many sessions are online.
func (p *Pool) Status() Status {
	online := len(p.Online())
	state := StateHealthy
	switch {
	case online == 0:
		state = StateUnavailable
	case online < len(p.sessions):
		state = StateDegraded
	}
	return Status{State: state, Size: len(p.sessions), Online: online}
}

// StopAll disconnects every session concurrently and returns every
// disconnect failure.
func (p *Pool) StopAll(ctx context.Context) error {
	var g errgroup.Group
	errs := make([]error, len(p.sessions))
	for i, s := range p.sessions {
		g.Go(func() error {
			wasOnline := s.online.Swap(false)
			if err := s.client.Disconnect(ctx); err != nil {
				log.Error().Err(err).Int("session", s.ID).Msg("Failed to stop session")
				errs[i] = fmt.Errorf("session %d: %w", s.ID, err)
				return nil
			}
			if wasOnline {
				log.Info().Int("session", s.ID).Msg("Session stopped")
			}
			return nil
		})
	}
	_ = g.Wait()
	metrics.SessionsOnline.Set(0)
	return errors.Join(errs...)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

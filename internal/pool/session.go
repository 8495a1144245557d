package pool

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lgulliver/mediabin/internal/metrics"
	"github.com/lgulliver/mediabin/internal/transport"
)

// Session is one authenticated connection owned by the pool. Sessions are
// shared: any number of requests may use the same session concurrently.
type Session struct {
	ID int

	client      transport.Client
	label       string
	callTimeout time.Duration
	online   atomic.Bool
	inFlight atomic.Int64
	refresh  singleflight.Group
}

func newSession(id int, client transport.Client, callTimeout time.Duration) *Session {
	return &Session{
		ID:          id,
		client:      client,
		label:       strconv.Itoa(id),
		callTimeout: callTimeout,
	}
}

// Client returns the session's transport client.
func (s *Session) Client() transport.Client {
	return s.client
}

// Online reports whether the session started successfully and has not been
// stopped.
func (s *Session) Online() bool {
	return s.online.Load()
}

// InFlight returns the number of requests currently using the session.
func (s *Session) InFlight() int64 {
	return s.inFlight.Load()
}

// Begin records a request using the session. The returned func ends it and
// may be called more than once.
func (s *Session) Begin() func() {
	s.inFlight.Add(1)
	metrics.SessionInFlight.WithLabelValues(s.label).Inc()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.inFlight.Add(-1)
			metrics.SessionInFlight.WithLabelValues(s.label).Dec()
		})
	}
}

// Refresh re-resolves the destination in the session's local cache.
// Concurrent refreshes of the same destination share one transport call.
// The shared call ignores caller cancellation and is bounded by the session
// call timeout. A caller whose ctx ends stops waiting on its own.
func (s *Session) Refresh(ctx context.Context, destination int64) error {
	ch := s.refresh.DoChan(strconv.FormatInt(destination, 10), func() (interface{}, error) {
		callCtx, cancel := s.detachedContext(ctx)
		defer cancel()
		return nil, s.client.ResolveDestination(callCtx, destination)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) detachedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if s.callTimeout <= 0 {
		return context.WithCancel(base)
	}
	return context.WithTimeout(base, s.callTimeout)
}

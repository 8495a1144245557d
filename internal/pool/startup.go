package pool

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/lgulliver/mediabin/internal/metrics"
	"github.com/lgulliver/mediabin/internal/transport"
)

// ErrSessionOffline is returned for work routed to a session that never
// started.
var ErrSessionOffline = errors.New("session offline")

// StartAll starts the sessions one after another in pool order, then
// pre-resolves the destination on each of them. A session that cannot start
// is skipped; the pool serves requests with whatever came online. Only
// cancellation of ctx is returned as an error.
func (p *Pool) StartAll(ctx context.Context) error {
	log.Info().Int("size", len(p.sessions)).Msg("Starting session pool")

	for _, s := range p.sessions {
		if err := p.startSession(ctx, s); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Int("session", s.ID).Msg("Session failed to start, continuing with a reduced pool")
		}
	}

	if err := p.ResolveDestination(ctx); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	online := len(p.Online())
	metrics.SessionsOnline.Set(float64(online))
	if online == 0 {
		log.Error().Int("size", len(p.sessions)).Msg("No sessions online")
	} else {
		log.Info().Int("online", online).Int("size", len(p.sessions)).Msg("Session pool started")
	}
	return nil
}

func (p *Pool) startSession(ctx context.Context, s *Session) error {
	if s.Online() {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= p.opts.StartRetries; {
		callCtx, cancel := p.CallContext(ctx)
		err := s.client.Connect(callCtx)
		cancel()

		if err == nil {
			s.online.Store(true)
			metrics.SessionStartsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
			log.Info().Int("session", s.ID).Int("attempt", attempt).Msg("Session started")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if wait, ok := transport.AsFloodWait(err); ok {
			metrics.FloodWaitsTotal.Inc()
			log.Warn().Int("session", s.ID).Dur("wait", wait).Msg("Rate limited while starting session, waiting")
			if err := p.sleep(ctx, wait+p.opts.FloodMargin); err != nil {
				return err
			}
			continue
		}

		lastErr = err
		metrics.SessionStartsTotal.WithLabelValues(metrics.ResultFailure).Inc()
		log.Warn().Err(err).Int("session", s.ID).Int("attempt", attempt).Int("max_attempts", p.opts.StartRetries).Msg("Session start attempt failed")
		attempt++
	}

	return fmt.Errorf("failed to start session %d after %d attempts: %w", s.ID, p.opts.StartRetries, lastErr)
}

// ResolveDestination warms the destination cache of every online session,
// the primary first. Failures are logged; the primary's failure is returned.
func (p *Pool) ResolveDestination(ctx context.Context) error {
	primary := p.Primary()
	primaryErr := p.resolveOn(ctx, primary)
	if primaryErr != nil {
		log.Error().Err(primaryErr).Int("session", primary.ID).Int64("destination", p.destination).
			Msg("Primary session could not resolve the destination; uploads may fail until it does")
	} else {
		log.Info().Int("session", primary.ID).Int64("destination", p.destination).Msg("Destination resolved")
	}

	for _, s := range p.sessions[1:] {
		if !s.Online() {
			continue
		}
		if err := p.resolveOn(ctx, s); err != nil {
			log.Warn().Err(err).Int("session", s.ID).Int64("destination", p.destination).Msg("Session could not resolve the destination")
			continue
		}
		log.Debug().Int("session", s.ID).Int64("destination", p.destination).Msg("Destination resolved")
	}

	return primaryErr
}

func (p *Pool) resolveOn(ctx context.Context, s *Session) error {
	if !s.Online() {
		return ErrSessionOffline
	}
	return s.Refresh(ctx, p.destination)
}

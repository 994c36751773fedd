package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"quiz-session-service/internal/domain"
)

// monitor watches the session deadline while the page stays loaded. It is
// one half of expiry detection; the other half is Resume running the same
// checkDeadline routine eagerly after a reload, so a crossing missed while
// the page was unloaded is still caught.
type monitor struct {
	svc      *SessionService
	interval time.Duration
	log      zerolog.Logger
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func startMonitor(svc *SessionService, interval time.Duration, log zerolog.Logger) *monitor {
	m := &monitor{
		svc:      svc,
		interval: interval,
		log:      log.With().Str("component", "expiry_monitor").Logger(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *monitor) run() {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if _, settled := m.svc.checkDeadline(context.Background()); settled {
				return
			}
		}
	}
}

// Stop cancels the watch. Called on every terminal transition so no timer
// ever fires against a cleared session. Safe to call more than once.
func (m *monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// forceSubmit drives the forced-submission retry chain after a deadline
// crossing. The student may not be present, so failures are retried with
// capped exponential backoff instead of being surfaced; after the retry
// budget is spent the session is finalized locally. The server's record of
// the submission timestamp stays the source of truth either way.
func (s *SessionService) forceSubmit(ctx context.Context) {
	s.mu.Lock()
	policy := s.retry
	s.mu.Unlock()

	attempt := 0
	op := func() error {
		attempt++
		_, err := s.Submit(ctx, domain.ReasonExpired)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrInvalidState) {
			// The session was finalized by another path (abandon, or a
			// submission that won the race); nothing left to do.
			return backoff.Permanent(err)
		}
		s.log.Warn().Err(err).Int("attempt", attempt).Msg("forced submission failed")
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.InitialInterval
	bo.MaxInterval = policy.MaxInterval
	bo.MaxElapsedTime = 0

	err := backoff.Retry(op, backoff.WithMaxRetries(bo, policy.MaxRetries))
	if err == nil || errors.Is(err, domain.ErrInvalidState) {
		return
	}
	s.finalizeExpired(ctx, err)
}

// finalizeExpired gives up on submitting and settles for a locally
// consistent terminal state: Expired, store cleared. The discrepancy is
// logged so the server can reconcile later.
func (s *SessionService) finalizeExpired(ctx context.Context, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.session
	if sess == nil || sess.status == domain.StatusSubmitted || sess.status == domain.StatusAbandoned {
		return
	}
	sess.status = domain.StatusExpired
	s.stopMonitorLocked()
	if err := s.store.Clear(ctx); err != nil {
		s.log.Warn().Err(err).Msg("clearing store during local expiry failed")
	}
	s.broadcastLocked()

	s.log.Error().
		Err(cause).
		Str("quiz_id", sess.quiz.ID).
		Int("answered", len(sess.answers)).
		Time("deadline", sess.deadline).
		Msg("forced submission abandoned after retries; session expired locally, server reconciliation required")
}

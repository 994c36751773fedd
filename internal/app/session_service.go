package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quiz-session-service/internal/domain"
)

// SnapshotStore is the durable persistence surface for one browser context.
// Load never fails: malformed or missing snapshots read as absent, so a
// corrupt store degrades to NotStarted instead of crashing.
type SnapshotStore interface {
	Save(ctx context.Context, snap domain.Snapshot) error
	Load(ctx context.Context) (domain.Snapshot, bool)
	Clear(ctx context.Context) error
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// Submitter is the external grading collaborator.
type Submitter interface {
	Submit(ctx context.Context, sub domain.Submission) (domain.QuizResult, error)
}

// ResultRepository fetches graded results by reference.
type ResultRepository interface {
	GetResult(ctx context.Context, resultRef string) (domain.QuizResult, error)
}

// RetryPolicy bounds the forced-submission retry loop. After MaxRetries
// additional attempts the session is finalized locally and the discrepancy
// is logged for server-side reconciliation.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy caps forced-submission retries at four attempts with
// exponential backoff between 500ms and 5s.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:      4,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     5 * time.Second,
}

const defaultPollInterval = time.Second

// SessionService owns at most one quiz session per browser context and
// serializes every operation on it. The session value itself is not
// thread-safe; the service mutex is the single synchronization point, and
// the only suspension points outside it are the quiz fetch and the
// submission network call.
type SessionService struct {
	store     SnapshotStore
	quizzes   QuizRepository
	submitter Submitter
	log       zerolog.Logger
	now       func() time.Time

	retry        RetryPolicy
	pollInterval time.Duration

	mu          sync.Mutex
	session     *Session
	lastResult  *domain.QuizResult
	monitor     *monitor
	subscribers map[chan View]struct{}
}

func NewSessionService(store SnapshotStore, quizzes QuizRepository, submitter Submitter, log zerolog.Logger) *SessionService {
	return NewSessionServiceWithClock(store, quizzes, submitter, log, time.Now)
}

// NewSessionServiceWithClock allows deterministic deadlines in tests.
func NewSessionServiceWithClock(store SnapshotStore, quizzes QuizRepository, submitter Submitter, log zerolog.Logger, now func() time.Time) *SessionService {
	return &SessionService{
		store:        store,
		quizzes:      quizzes,
		submitter:    submitter,
		log:          log.With().Str("component", "session").Logger(),
		now:          now,
		retry:        DefaultRetryPolicy,
		pollInterval: defaultPollInterval,
		subscribers:  make(map[chan View]struct{}),
	}
}

// SetRetryPolicy overrides the forced-submission retry bounds.
func (s *SessionService) SetRetryPolicy(p RetryPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retry = p
}

// SetPollInterval overrides how often the expiry monitor checks the deadline.
func (s *SessionService) SetPollInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pollInterval = d
}

// Start begins a new session for quizID. It fails with ErrSessionConflict
// if any snapshot already holds the browser context: a different quiz, or a
// second tab on the same quiz. The caller resolves conflicts through Resume
// or Abandon; Start never interprets leftover snapshots itself.
func (s *SessionService) Start(ctx context.Context, quizID string) (View, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return View{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil && s.session.status.Active() {
		return View{}, domain.ErrSessionConflict
	}
	if _, ok := s.store.Load(ctx); ok {
		return View{}, domain.ErrSessionConflict
	}

	sess := newSession(quiz, s.now())
	if err := s.store.Save(ctx, sess.snapshot()); err != nil {
		return View{}, fmt.Errorf("persist session start: %w", err)
	}
	s.session = sess
	s.lastResult = nil
	s.startMonitorLocked()
	return s.broadcastLocked(), nil
}

// Resume reconstructs the session from the durable store. An absent or
// corrupt snapshot reports NotStarted (the caller must Start); a snapshot
// for a different quiz is a conflict. If the deadline passed while the page
// was unloaded, Resume runs the same deadline-check routine the monitor
// uses: the returned view is Expired and exactly one forced submission is
// triggered, no matter how many times Resume is invoked.
func (s *SessionService) Resume(ctx context.Context, quizID string) (View, error) {
	s.mu.Lock()
	if sess := s.session; sess != nil && sess.quiz.ID == quizID {
		switch sess.status {
		case domain.StatusInProgress:
			// Session is already live in this tab; only the deadline needs
			// re-checking.
			if s.now().Before(sess.deadline) {
				view := sess.view(s.now())
				s.mu.Unlock()
				return view, nil
			}
			s.mu.Unlock()
			view, _ := s.checkDeadline(ctx)
			return view, nil
		case domain.StatusSubmitting, domain.StatusExpired:
			// A submission chain may be in flight; restoring from the
			// snapshot here could spawn a second one.
			view := sess.view(s.now())
			s.mu.Unlock()
			return view, nil
		}
		// Submitted/Abandoned fall through: the store decides, and it was
		// cleared on those transitions.
	}

	snap, ok := s.store.Load(ctx)
	if !ok {
		s.session = nil
		s.mu.Unlock()
		return View{QuizID: quizID, Status: domain.StatusNotStarted}, nil
	}
	if snap.QuizID != quizID {
		s.mu.Unlock()
		return View{}, domain.ErrSessionConflict
	}
	s.mu.Unlock()

	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return View{}, err
	}

	s.mu.Lock()
	sess := restoreSession(quiz, snap)
	s.session = sess
	if s.now().Before(sess.deadline) {
		s.startMonitorLocked()
		view := s.broadcastLocked()
		s.mu.Unlock()
		return view, nil
	}
	s.mu.Unlock()

	view, _ := s.checkDeadline(ctx)
	return view, nil
}

// RecordAnswer upserts the selected option for a question and persists the
// snapshot synchronously, so a reload at any instant loses nothing. The
// cursor is untouched.
func (s *SessionService) RecordAnswer(ctx context.Context, questionID, optionID string) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.session
	if sess == nil || sess.status != domain.StatusInProgress {
		return View{}, domain.ErrInvalidState
	}

	question := sess.findQuestion(questionID)
	if question == nil {
		return View{}, domain.ErrQuestionNotFound
	}
	if !hasOption(question, optionID) {
		return View{}, domain.ErrOptionNotFound
	}

	previous, had := sess.answers[questionID]
	sess.answers[questionID] = optionID
	if err := s.store.Save(ctx, sess.snapshot()); err != nil {
		// Keep memory and store consistent: an unpersisted answer would
		// silently vanish on reload.
		if had {
			sess.answers[questionID] = previous
		} else {
			delete(sess.answers, questionID)
		}
		return View{}, fmt.Errorf("persist answer: %w", err)
	}
	return s.broadcastLocked(), nil
}

// Advance moves the question cursor by delta, clamped to the question range.
func (s *SessionService) Advance(delta int) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.session
	if sess == nil || sess.status != domain.StatusInProgress {
		return View{}, domain.ErrInvalidState
	}
	sess.moveCursor(delta)
	return s.broadcastLocked(), nil
}

// Submit finalizes the answer list and delegates to the grading
// collaborator. Manual submission requires InProgress; the forced path also
// enters from Expired. Re-entry while Submitting or after a terminal
// transition is rejected, which makes duplicate triggers harmless.
func (s *SessionService) Submit(ctx context.Context, reason domain.SubmitReason) (View, error) {
	s.mu.Lock()
	sess := s.session
	if sess == nil {
		s.mu.Unlock()
		return View{}, domain.ErrInvalidState
	}
	switch sess.status {
	case domain.StatusInProgress:
	case domain.StatusExpired:
		if reason != domain.ReasonExpired {
			s.mu.Unlock()
			return View{}, domain.ErrInvalidState
		}
	default:
		s.mu.Unlock()
		return View{}, domain.ErrInvalidState
	}

	sess.status = domain.StatusSubmitting
	payload := sess.finalizedSubmission(reason)
	s.broadcastLocked()
	s.mu.Unlock()

	result, err := s.submitter.Submit(ctx, payload)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if reason == domain.ReasonManual {
			// Not terminal: the student may retry.
			sess.status = domain.StatusInProgress
			s.broadcastLocked()
			return View{}, fmt.Errorf("%w: %v", domain.ErrSubmissionFailed, err)
		}
		// Forced path: fall back to Expired so the monitor's retry loop can
		// re-enter.
		sess.status = domain.StatusExpired
		return View{}, fmt.Errorf("%w: %v", domain.ErrSubmissionFailed, err)
	}

	sess.status = domain.StatusSubmitted
	sess.resultRef = result.ResultRef
	s.lastResult = &result
	if clearErr := s.store.Clear(ctx); clearErr != nil {
		s.log.Warn().Err(clearErr).Str("quiz_id", sess.quiz.ID).Msg("clearing session store after submission failed")
	}
	s.stopMonitorLocked()
	return s.broadcastLocked(), nil
}

// Abandon discards the session when the student navigates away without
// submitting. Persisted answers are dropped, never submitted. It always
// clears the durable store, even when no session is live in memory.
func (s *SessionService) Abandon(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.session
	if sess == nil || sess.status == domain.StatusSubmitted || sess.status == domain.StatusAbandoned {
		return s.store.Clear(ctx)
	}
	if sess.status == domain.StatusSubmitting {
		return domain.ErrInvalidState
	}

	sess.status = domain.StatusAbandoned
	s.stopMonitorLocked()
	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear session store: %w", err)
	}
	s.broadcastLocked()
	return nil
}

// Suspend stops the expiry monitor without touching session state. It
// models the page being unloaded: the snapshot stays durable and a missed
// deadline crossing is discovered by the next Resume.
func (s *SessionService) Suspend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopMonitorLocked()
}

// View returns the current session view, or a NotStarted view when no
// session is live.
func (s *SessionService) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return View{Status: domain.StatusNotStarted}
	}
	return s.session.view(s.now())
}

// LastResult returns the graded result of the most recent successful
// submission, for the hand-off into the results view.
func (s *SessionService) LastResult() (domain.QuizResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastResult == nil {
		return domain.QuizResult{}, false
	}
	return *s.lastResult, true
}

// Subscribe returns a channel receiving a view on every state change, so
// transports can push monitor-triggered transitions to the tab. The caller
// must invoke the returned cancel function to avoid leaks.
func (s *SessionService) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 8)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	if s.session != nil {
		ch <- s.session.view(s.now())
	}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// checkDeadline is the single deadline-check routine shared by the monitor
// loop and Resume. It reports true when there is nothing left to watch. On
// the first crossing it transitions to Expired and triggers the forced
// submission chain exactly once.
func (s *SessionService) checkDeadline(ctx context.Context) (View, bool) {
	s.mu.Lock()
	sess := s.session
	if sess == nil {
		s.mu.Unlock()
		return View{Status: domain.StatusNotStarted}, true
	}
	switch sess.status {
	case domain.StatusInProgress:
	case domain.StatusSubmitting:
		// A manual submission is in flight; keep watching in case it rolls
		// back to InProgress.
		view := sess.view(s.now())
		s.mu.Unlock()
		return view, false
	default:
		view := sess.view(s.now())
		s.mu.Unlock()
		return view, true
	}

	now := s.now()
	if now.Before(sess.deadline) {
		view := sess.view(now)
		s.mu.Unlock()
		return view, false
	}

	sess.status = domain.StatusExpired
	first := !sess.forcedTriggered
	sess.forcedTriggered = true
	s.stopMonitorLocked()
	view := s.broadcastLocked()
	s.mu.Unlock()

	if first {
		s.log.Info().Str("quiz_id", sess.quiz.ID).Time("deadline", sess.deadline).Msg("deadline passed, forcing submission")
		go s.forceSubmit(context.WithoutCancel(ctx))
	}
	return view, true
}

func (s *SessionService) startMonitorLocked() {
	if s.monitor != nil {
		s.monitor.Stop()
	}
	s.monitor = startMonitor(s, s.pollInterval, s.log)
}

func (s *SessionService) stopMonitorLocked() {
	if s.monitor != nil {
		s.monitor.Stop()
		s.monitor = nil
	}
}

// broadcastLocked snapshots the session and fans the view out to
// subscribers, dropping a stale update when a subscriber is slow.
func (s *SessionService) broadcastLocked() View {
	view := s.session.view(s.now())
	for ch := range s.subscribers {
		select {
		case ch <- view:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- view
		}
	}
	return view
}

func hasOption(q *domain.Question, optionID string) bool {
	for i := range q.Options {
		if q.Options[i].ID == optionID {
			return true
		}
	}
	return false
}

package app

import (
	"time"

	"quiz-session-service/internal/domain"
)

// Session holds the in-memory state of one student's attempt at one quiz.
// It is a plain value: all access is serialized by the owning
// SessionService, which is also responsible for persisting snapshots.
type Session struct {
	quiz      domain.Quiz
	status    domain.Status
	cursor    int
	answers   map[string]string
	startedAt time.Time
	deadline  time.Time
	resultRef string

	// forcedTriggered guards the forced-submission chain: set on the first
	// deadline crossing so repeated resumes or monitor ticks never spawn a
	// second submission.
	forcedTriggered bool
}

// View is an immutable snapshot of session state handed to transports,
// guards, and subscribers.
type View struct {
	QuizID    string            `json:"quizId"`
	Status    domain.Status     `json:"status"`
	Cursor    int               `json:"cursor"`
	Answers   map[string]string `json:"answers"`
	StartedAt time.Time         `json:"startedAt"`
	Deadline  time.Time         `json:"deadline"`
	Remaining time.Duration     `json:"remaining"`
	ResultRef string            `json:"resultRef,omitempty"`
}

func newSession(quiz domain.Quiz, startedAt time.Time) *Session {
	return &Session{
		quiz:      quiz,
		status:    domain.StatusInProgress,
		answers:   make(map[string]string),
		startedAt: startedAt,
		deadline:  startedAt.Add(quiz.Duration()),
	}
}

// restoreSession rebuilds a session from a durable snapshot. The status is
// provisional: the caller recomputes it from the deadline before exposing
// the session.
func restoreSession(quiz domain.Quiz, snap domain.Snapshot) *Session {
	answers := make(map[string]string, len(snap.Answers))
	for questionID, optionID := range snap.Answers {
		answers[questionID] = optionID
	}
	return &Session{
		quiz:      quiz,
		status:    domain.StatusInProgress,
		answers:   answers,
		startedAt: snap.StartedAt,
		deadline:  snap.Deadline,
	}
}

func (s *Session) snapshot() domain.Snapshot {
	answers := make(map[string]string, len(s.answers))
	for questionID, optionID := range s.answers {
		answers[questionID] = optionID
	}
	return domain.Snapshot{
		QuizID:    s.quiz.ID,
		StartedAt: s.startedAt,
		Deadline:  s.deadline,
		Answers:   answers,
	}
}

func (s *Session) view(now time.Time) View {
	answers := make(map[string]string, len(s.answers))
	for questionID, optionID := range s.answers {
		answers[questionID] = optionID
	}
	remaining := s.deadline.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return View{
		QuizID:    s.quiz.ID,
		Status:    s.status,
		Cursor:    s.cursor,
		Answers:   answers,
		StartedAt: s.startedAt,
		Deadline:  s.deadline,
		Remaining: remaining,
		ResultRef: s.resultRef,
	}
}

// moveCursor shifts the question cursor by delta, clamped to the question
// range. Navigating past either end is a no-op, not an error.
func (s *Session) moveCursor(delta int) {
	next := s.cursor + delta
	if next < 0 {
		next = 0
	}
	if max := len(s.quiz.Questions) - 1; next > max {
		if max < 0 {
			max = 0
		}
		next = max
	}
	s.cursor = next
}

// finalizedSubmission builds the authoritative answer list: one entry per
// answered question in question order, unanswered questions omitted.
func (s *Session) finalizedSubmission(reason domain.SubmitReason) domain.Submission {
	entries := make([]domain.AnswerEntry, 0, len(s.answers))
	for _, question := range s.quiz.Questions {
		optionID, ok := s.answers[question.ID]
		if !ok {
			continue
		}
		entries = append(entries, domain.AnswerEntry{
			QuestionID:       question.ID,
			SelectedOptionID: optionID,
		})
	}
	return domain.Submission{
		QuizID:  s.quiz.ID,
		Answers: entries,
		Expired: reason == domain.ReasonExpired,
	}
}

func (s *Session) findQuestion(questionID string) *domain.Question {
	for i := range s.quiz.Questions {
		if s.quiz.Questions[i].ID == questionID {
			return &s.quiz.Questions[i]
		}
	}
	return nil
}

package domain

import "time"

// Status is the lifecycle state of a quiz session.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusSubmitting Status = "submitting"
	StatusSubmitted  Status = "submitted"
	StatusExpired    Status = "expired"
	StatusAbandoned  Status = "abandoned"
)

// Active reports whether the session still owns the browser context.
func (s Status) Active() bool {
	return s == StatusInProgress || s == StatusSubmitting
}

// SubmitReason distinguishes a student-initiated submission from one forced
// by deadline expiry.
type SubmitReason string

const (
	ReasonManual  SubmitReason = "manual"
	ReasonExpired SubmitReason = "expired"
)

// Option represents a possible answer for a question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question models an MCQ question with exactly one correct option.
type Question struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []Option `json:"options"`
}

// Quiz is the immutable content of one quiz: ordered questions plus the
// declared time limit.
type Quiz struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	DurationMinutes int        `json:"durationMinutes"`
	Questions       []Question `json:"questions"`
}

// Duration returns the declared time limit as a time.Duration.
func (q Quiz) Duration() time.Duration {
	return time.Duration(q.DurationMinutes) * time.Minute
}

// Snapshot is the durable form of a session. It deliberately carries no
// status: status is recomputed from Deadline on load, never trusted from
// storage.
type Snapshot struct {
	QuizID    string            `json:"quizId"`
	StartedAt time.Time         `json:"startedAt"`
	Deadline  time.Time         `json:"deadline"`
	Answers   map[string]string `json:"answers"`
}

// AnswerEntry is one finalized answer in a submission payload.
type AnswerEntry struct {
	QuestionID       string `json:"questionId"`
	SelectedOptionID string `json:"selectedOptionId"`
}

// Submission is the payload handed to the grading collaborator. Unanswered
// questions are omitted, never defaulted.
type Submission struct {
	QuizID  string        `json:"quizId"`
	Answers []AnswerEntry `json:"answers"`
	Expired bool          `json:"expired"`
}

// AnswerReview is the graded view of a single submitted answer.
type AnswerReview struct {
	QuestionID       string `json:"questionId"`
	SelectedOptionID string `json:"selectedOptionId"`
	CorrectOptionID  string `json:"correctOptionId"`
	Correct          bool   `json:"correct"`
}

// QuizResult is the graded outcome of one submission. ResultRef is the
// opaque identifier the results view is keyed by.
type QuizResult struct {
	ResultRef   string         `json:"resultRef"`
	QuizID      string         `json:"quizId"`
	MarksScored int            `json:"marksScored"`
	TotalMarks  int            `json:"totalMarks"`
	Percentage  float64        `json:"percentage"`
	Expired     bool           `json:"expired"`
	CompletedAt time.Time      `json:"completedAt"`
	Answers     []AnswerReview `json:"answers"`
}

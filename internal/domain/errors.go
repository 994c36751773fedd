package domain

import "errors"

var (
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuestionNotFound indicates a recorded question ID is not part of the quiz.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrOptionNotFound indicates a recorded option ID is not part of the question.
	ErrOptionNotFound = errors.New("option not found")
	// ErrSessionConflict is returned when starting a quiz while another
	// session already holds the browser context.
	ErrSessionConflict = errors.New("another quiz session is already active")
	// ErrInvalidState is returned when an operation is not valid for the
	// session's current status.
	ErrInvalidState = errors.New("operation not valid in current session state")
	// ErrSubmissionFailed wraps transport or validation failures from the
	// grading collaborator.
	ErrSubmissionFailed = errors.New("quiz submission failed")
	// ErrCorruptSnapshot marks a durable snapshot that could not be decoded.
	// Stores translate it into absence; it never crosses the store boundary.
	ErrCorruptSnapshot = errors.New("corrupt session snapshot")
	// ErrResultNotFound indicates an unknown result reference.
	ErrResultNotFound = errors.New("quiz result not found")
)

package memory

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"quiz-session-service/internal/domain"
)

// Grader is an in-process grading collaborator: it scores submissions
// against quiz content and keeps results in memory. It stands in for the
// remote submission API in demo mode and in tests, implementing both
// app.Submitter and app.ResultRepository.
type Grader struct {
	quizzes QuizLoader
	clock   func() time.Time

	mu      sync.Mutex
	results map[string]domain.QuizResult
}

func NewGrader(quizzes QuizLoader) *Grader {
	return &Grader{
		quizzes: quizzes,
		clock:   time.Now,
		results: make(map[string]domain.QuizResult),
	}
}

func (g *Grader) Submit(ctx context.Context, sub domain.Submission) (domain.QuizResult, error) {
	quiz, err := g.quizzes.LoadQuiz(ctx, sub.QuizID)
	if err != nil {
		return domain.QuizResult{}, err
	}

	result, err := Grade(quiz, sub, g.clock())
	if err != nil {
		return domain.QuizResult{}, err
	}
	result.ResultRef = uuid.NewString()

	g.mu.Lock()
	g.results[result.ResultRef] = result
	g.mu.Unlock()
	return result, nil
}

func (g *Grader) GetResult(_ context.Context, resultRef string) (domain.QuizResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if result, ok := g.results[resultRef]; ok {
		return result, nil
	}
	return domain.QuizResult{}, domain.ErrResultNotFound
}

// Grade scores a submission: one mark per correctly answered question out
// of the quiz's full question count. Omitted answers simply score nothing.
func Grade(quiz domain.Quiz, sub domain.Submission, completedAt time.Time) (domain.QuizResult, error) {
	byQuestion := make(map[string]domain.Question, len(quiz.Questions))
	for _, q := range quiz.Questions {
		byQuestion[q.ID] = q
	}

	scored := 0
	reviews := make([]domain.AnswerReview, 0, len(sub.Answers))
	for _, answer := range sub.Answers {
		question, ok := byQuestion[answer.QuestionID]
		if !ok {
			return domain.QuizResult{}, domain.ErrQuestionNotFound
		}
		correctID := correctOptionID(question)
		correct := correctID != "" && correctID == answer.SelectedOptionID
		if correct {
			scored++
		}
		reviews = append(reviews, domain.AnswerReview{
			QuestionID:       answer.QuestionID,
			SelectedOptionID: answer.SelectedOptionID,
			CorrectOptionID:  correctID,
			Correct:          correct,
		})
	}

	total := len(quiz.Questions)
	percentage := 0.0
	if total > 0 {
		percentage = math.Round(float64(scored)/float64(total)*10000) / 100
	}
	return domain.QuizResult{
		QuizID:      quiz.ID,
		MarksScored: scored,
		TotalMarks:  total,
		Percentage:  percentage,
		Expired:     sub.Expired,
		CompletedAt: completedAt,
		Answers:     reviews,
	}, nil
}

func correctOptionID(q domain.Question) string {
	for _, opt := range q.Options {
		if opt.Correct {
			return opt.ID
		}
	}
	return ""
}

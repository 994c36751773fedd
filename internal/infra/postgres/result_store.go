package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/infra/memory"
)

// ResultStore grades submissions against quiz content and persists the
// outcome: one quiz_results row plus a user_answers row per graded answer.
// It implements app.Submitter and app.ResultRepository.
type ResultStore struct {
	pool   *pgxpool.Pool
	loader *QuizLoader
	clock  func() time.Time
}

func NewResultStore(pool *pgxpool.Pool) *ResultStore {
	return &ResultStore{
		pool:   pool,
		loader: NewQuizLoader(pool),
		clock:  time.Now,
	}
}

func (s *ResultStore) Submit(ctx context.Context, sub domain.Submission) (domain.QuizResult, error) {
	quiz, err := s.loader.LoadQuiz(ctx, sub.QuizID)
	if err != nil {
		return domain.QuizResult{}, err
	}

	result, err := memory.Grade(quiz, sub, s.clock())
	if err != nil {
		return domain.QuizResult{}, err
	}
	result.ResultRef = uuid.NewString()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.QuizResult{}, fmt.Errorf("begin submission tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO quiz_results (id, quiz_id, marks_scored, total_marks, percentage, expired, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		result.ResultRef, result.QuizID, result.MarksScored, result.TotalMarks,
		result.Percentage, result.Expired, result.CompletedAt,
	)
	if err != nil {
		return domain.QuizResult{}, fmt.Errorf("insert quiz result: %w", err)
	}

	for _, review := range result.Answers {
		_, err = tx.Exec(ctx,
			`INSERT INTO user_answers (result_id, question_id, selected_option, correct_option, is_correct)
			 VALUES ($1, $2, $3, $4, $5)`,
			result.ResultRef, review.QuestionID, review.SelectedOptionID,
			review.CorrectOptionID, review.Correct,
		)
		if err != nil {
			return domain.QuizResult{}, fmt.Errorf("insert user answer: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.QuizResult{}, fmt.Errorf("commit submission tx: %w", err)
	}
	return result, nil
}

func (s *ResultStore) GetResult(ctx context.Context, resultRef string) (domain.QuizResult, error) {
	var result domain.QuizResult
	err := s.pool.QueryRow(ctx,
		`SELECT id, quiz_id, marks_scored, total_marks, percentage, expired, completed_at
		 FROM quiz_results WHERE id=$1`, resultRef,
	).Scan(&result.ResultRef, &result.QuizID, &result.MarksScored, &result.TotalMarks,
		&result.Percentage, &result.Expired, &result.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.QuizResult{}, domain.ErrResultNotFound
		}
		return domain.QuizResult{}, fmt.Errorf("load quiz result: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT question_id, selected_option, correct_option, is_correct
		 FROM user_answers WHERE result_id=$1`, resultRef)
	if err != nil {
		return domain.QuizResult{}, fmt.Errorf("load result answers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var review domain.AnswerReview
		if err := rows.Scan(&review.QuestionID, &review.SelectedOptionID,
			&review.CorrectOptionID, &review.Correct); err != nil {
			return domain.QuizResult{}, fmt.Errorf("scan result answer: %w", err)
		}
		result.Answers = append(result.Answers, review)
	}
	return result, rows.Err()
}

package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"quiz-session-service/internal/domain"
)

type countingLoader struct {
	loads   int64
	quizzes map[string]domain.Quiz
}

func (l *countingLoader) LoadQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	atomic.AddInt64(&l.loads, 1)
	if quiz, ok := l.quizzes[quizID]; ok {
		return quiz, nil
	}
	return domain.Quiz{}, domain.ErrQuizNotFound
}

func TestQuizRepositoryCachesWithinTTL(t *testing.T) {
	ctx := context.Background()
	loader := &countingLoader{quizzes: map[string]domain.Quiz{"quiz-1": gradedQuiz()}}
	repo := NewQuizRepository(loader, time.Minute)

	for i := 0; i < 5; i++ {
		quiz, err := repo.GetQuiz(ctx, "quiz-1")
		if err != nil {
			t.Fatalf("get quiz failed: %v", err)
		}
		if quiz.ID != "quiz-1" {
			t.Fatalf("unexpected quiz %q", quiz.ID)
		}
	}
	if got := atomic.LoadInt64(&loader.loads); got != 1 {
		t.Fatalf("expected a single backing load, got %d", got)
	}
}

func TestQuizRepositoryReloadsAfterExpiry(t *testing.T) {
	ctx := context.Background()
	loader := &countingLoader{quizzes: map[string]domain.Quiz{"quiz-1": gradedQuiz()}}

	current := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	repo := NewQuizRepositoryWithClock(loader, time.Minute, func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	})

	if _, err := repo.GetQuiz(ctx, "quiz-1"); err != nil {
		t.Fatalf("get quiz failed: %v", err)
	}
	mu.Lock()
	current = current.Add(2 * time.Minute) // past TTL even with jitter
	mu.Unlock()
	if _, err := repo.GetQuiz(ctx, "quiz-1"); err != nil {
		t.Fatalf("get quiz failed: %v", err)
	}

	if got := atomic.LoadInt64(&loader.loads); got != 2 {
		t.Fatalf("expected reload after expiry, got %d loads", got)
	}
}

func TestQuizRepositoryPropagatesNotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewQuizRepository(&countingLoader{quizzes: map[string]domain.Quiz{}}, time.Minute)

	if _, err := repo.GetQuiz(ctx, "quiz-x"); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected quiz not found, got %v", err)
	}
}

func TestQuizRepositoryCollapsesConcurrentLoads(t *testing.T) {
	ctx := context.Background()
	loader := &countingLoader{quizzes: map[string]domain.Quiz{"quiz-1": gradedQuiz()}}
	repo := NewQuizRepository(loader, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.GetQuiz(ctx, "quiz-1"); err != nil {
				t.Errorf("get quiz failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&loader.loads); got != 1 {
		t.Fatalf("expected concurrent gets collapsed to one load, got %d", got)
	}
}

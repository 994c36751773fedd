package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"quiz-session-service/internal/domain"
)

const (
	timingKey  = "quiz:timing"
	answersKey = "quiz:answers"
)

// SnapshotStores is a registry of per-context snapshot stores. Two tabs
// sharing a browser context get the same underlying store, which is what
// makes the second tab's Start collide.
type SnapshotStores struct {
	mu       sync.Mutex
	contexts map[string]*SnapshotStore
}

func NewSnapshotStores() *SnapshotStores {
	return &SnapshotStores{contexts: make(map[string]*SnapshotStore)}
}

func (r *SnapshotStores) ForContext(contextID string) *SnapshotStore {
	r.mu.Lock()
	defer r.mu.Unlock()
	if store, ok := r.contexts[contextID]; ok {
		return store
	}
	store := NewSnapshotStore()
	r.contexts[contextID] = store
	return store
}

// SnapshotStore is an in-memory implementation of app.SnapshotStore. Values
// are kept as encoded strings under separate timing and answer keys, the
// same string-keyed last-write-wins surface the real storage backend has.
type SnapshotStore struct {
	mu     sync.Mutex
	values map[string]string
}

type timingRecord struct {
	QuizID    string `json:"quizId"`
	StartedAt int64  `json:"startedAt"`
	Deadline  int64  `json:"deadline"`
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{values: make(map[string]string)}
}

func (s *SnapshotStore) Save(_ context.Context, snap domain.Snapshot) error {
	timing, err := json.Marshal(timingRecord{
		QuizID:    snap.QuizID,
		StartedAt: snap.StartedAt.UnixMilli(),
		Deadline:  snap.Deadline.UnixMilli(),
	})
	if err != nil {
		return err
	}
	answers, err := json.Marshal(snap.Answers)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[timingKey] = string(timing)
	s.values[answersKey] = string(answers)
	return nil
}

// Load decodes the stored snapshot. Malformed entries read as absent:
// corrupt persistence degrades to NotStarted, never a crash.
func (s *SnapshotStore) Load(_ context.Context) (domain.Snapshot, bool) {
	s.mu.Lock()
	rawTiming, ok := s.values[timingKey]
	rawAnswers := s.values[answersKey]
	s.mu.Unlock()
	if !ok {
		return domain.Snapshot{}, false
	}

	snap, err := decodeSnapshot(rawTiming, rawAnswers)
	if err != nil {
		return domain.Snapshot{}, false
	}
	return snap, true
}

// Clear removes the timing and answer records together. A partial clear
// that leaves stale timing data behind is a correctness bug, so both keys
// go in one critical section.
func (s *SnapshotStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, timingKey)
	delete(s.values, answersKey)
	return nil
}

func decodeSnapshot(rawTiming, rawAnswers string) (domain.Snapshot, error) {
	var timing timingRecord
	if err := json.Unmarshal([]byte(rawTiming), &timing); err != nil {
		return domain.Snapshot{}, domain.ErrCorruptSnapshot
	}
	if timing.QuizID == "" || timing.Deadline == 0 {
		return domain.Snapshot{}, domain.ErrCorruptSnapshot
	}
	answers := make(map[string]string)
	if rawAnswers != "" {
		if err := json.Unmarshal([]byte(rawAnswers), &answers); err != nil {
			return domain.Snapshot{}, domain.ErrCorruptSnapshot
		}
	}
	return snapshotFromRecords(timing, answers), nil
}

func snapshotFromRecords(timing timingRecord, answers map[string]string) domain.Snapshot {
	return domain.Snapshot{
		QuizID:    timing.QuizID,
		StartedAt: time.UnixMilli(timing.StartedAt),
		Deadline:  time.UnixMilli(timing.Deadline),
		Answers:   answers,
	}
}

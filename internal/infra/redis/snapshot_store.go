package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-session-service/internal/domain"
)

// SnapshotStores hands out per-browser-context snapshot stores backed by a
// shared Redis client. Tabs sharing a context share the same keys, so a
// second tab's Start sees the first tab's snapshot and conflicts.
type SnapshotStores struct {
	client    *redis.Client
	retention time.Duration
}

// NewSnapshotStores creates the registry. retention is how long a snapshot
// outlives its deadline before Redis drops it; expired-but-unresumed
// sessions must stay readable so a late reload can still force-submit them.
func NewSnapshotStores(client *redis.Client, retention time.Duration) *SnapshotStores {
	return &SnapshotStores{client: client, retention: retention}
}

func (r *SnapshotStores) ForContext(contextID string) *SnapshotStore {
	return &SnapshotStore{client: r.client, contextID: contextID, retention: r.retention}
}

// SnapshotStore is the Redis implementation of app.SnapshotStore.
// Layout per context:
//
//	session:{ctx}:timing  holds JSON {quizId, startedAt, deadline}
//	session:{ctx}:answers holds a hash of questionID to optionID
//
// Both keys are written on every Save and deleted together on Clear.
type SnapshotStore struct {
	client    *redis.Client
	contextID string
	retention time.Duration
}

type timingRecord struct {
	QuizID    string `json:"quizId"`
	StartedAt int64  `json:"startedAt"`
	Deadline  int64  `json:"deadline"`
}

func (s *SnapshotStore) Save(ctx context.Context, snap domain.Snapshot) error {
	timing, err := json.Marshal(timingRecord{
		QuizID:    snap.QuizID,
		StartedAt: snap.StartedAt.UnixMilli(),
		Deadline:  snap.Deadline.UnixMilli(),
	})
	if err != nil {
		return err
	}

	expireAt := snap.Deadline.Add(s.retention)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.timingKey(), string(timing), 0)
	pipe.Del(ctx, s.answersKey())
	if len(snap.Answers) > 0 {
		fields := make(map[string]interface{}, len(snap.Answers))
		for questionID, optionID := range snap.Answers {
			fields[questionID] = optionID
		}
		pipe.HSet(ctx, s.answersKey(), fields)
		pipe.ExpireAt(ctx, s.answersKey(), expireAt)
	}
	pipe.ExpireAt(ctx, s.timingKey(), expireAt)
	_, err = pipe.Exec(ctx)
	return err
}

// Load reads the snapshot back. Missing or malformed records read as
// absent; the caller treats the session as NotStarted.
func (s *SnapshotStore) Load(ctx context.Context) (domain.Snapshot, bool) {
	rawTiming, err := s.client.Get(ctx, s.timingKey()).Result()
	if err != nil {
		return domain.Snapshot{}, false
	}

	var timing timingRecord
	if err := json.Unmarshal([]byte(rawTiming), &timing); err != nil {
		return domain.Snapshot{}, false
	}
	if timing.QuizID == "" || timing.Deadline == 0 {
		return domain.Snapshot{}, false
	}

	answers, err := s.client.HGetAll(ctx, s.answersKey()).Result()
	if err != nil {
		return domain.Snapshot{}, false
	}
	if answers == nil {
		answers = make(map[string]string)
	}
	return domain.Snapshot{
		QuizID:    timing.QuizID,
		StartedAt: time.UnixMilli(timing.StartedAt),
		Deadline:  time.UnixMilli(timing.Deadline),
		Answers:   answers,
	}, true
}

// Clear removes the timing and answer records in a single DEL so no
// partial clear can leave stale timing data behind.
func (s *SnapshotStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.timingKey(), s.answersKey()).Err()
}

func (s *SnapshotStore) timingKey() string {
	return "session:" + s.contextID + ":timing"
}

func (s *SnapshotStore) answersKey() string {
	return "session:" + s.contextID + ":answers"
}

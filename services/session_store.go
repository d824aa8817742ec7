package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const sessionLeaseTTL = 2 * time.Hour

var ErrSessionActive = errors.New("a live session for this quiz is already open")

// SessionSnapshot is the last known progress of a live session. It doubles as
// a lease so a user cannot play the same quiz on two sockets at once.
type SessionSnapshot struct {
	Owner     string       `json:"owner"`
	UserID    uuid.UUID    `json:"user_id"`
	QuizID    uuid.UUID    `json:"quiz_id"`
	AttemptID uuid.UUID    `json:"attempt_id"`
	State     SessionState `json:"state"`
	Index     int          `json:"index"`
	Total     int          `json:"total"`
	UpdatedAt time.Time    `json:"updated_at"`
}

type SessionStore struct {
	redis *redis.Client
}

func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{redis: client}
}

func sessionKey(userID, quizID uuid.UUID) string {
	return fmt.Sprintf("session:%s:%s", userID, quizID)
}

// Claim takes the lease for (user, quiz). It fails with ErrSessionActive when
// another connection holds it.
func (s *SessionStore) Claim(ctx context.Context, owner string, userID, quizID uuid.UUID) error {
	snap := SessionSnapshot{
		Owner:     owner,
		UserID:    userID,
		QuizID:    quizID,
		State:     StateIdle,
		UpdatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal session snapshot: %w", err)
	}

	ok, err := s.redis.SetNX(ctx, sessionKey(userID, quizID), data, sessionLeaseTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to claim session: %w", err)
	}
	if !ok {
		return ErrSessionActive
	}
	return nil
}

func (s *SessionStore) Save(ctx context.Context, snap *SessionSnapshot) error {
	snap.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal session snapshot: %w", err)
	}

	if err := s.redis.Set(ctx, sessionKey(snap.UserID, snap.QuizID), data, sessionLeaseTTL).Err(); err != nil {
		return fmt.Errorf("failed to store session snapshot: %w", err)
	}
	return nil
}

// Get returns nil when no session is live for (user, quiz).
func (s *SessionStore) Get(ctx context.Context, userID, quizID uuid.UUID) (*SessionSnapshot, error) {
	data, err := s.redis.Get(ctx, sessionKey(userID, quizID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session snapshot: %w", err)
	}

	var snap SessionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode session snapshot: %w", err)
	}
	return &snap, nil
}

// Release drops the lease if owner still holds it.
func (s *SessionStore) Release(ctx context.Context, owner string, userID, quizID uuid.UUID) {
	snap, err := s.Get(ctx, userID, quizID)
	if err != nil {
		log.Printf("Error releasing session for user %s quiz %s: %v", userID, quizID, err)
		return
	}
	if snap == nil || snap.Owner != owner {
		return
	}
	if err := s.redis.Del(ctx, sessionKey(userID, quizID)).Err(); err != nil {
		log.Printf("Error releasing session for user %s quiz %s: %v", userID, quizID, err)
	}
}

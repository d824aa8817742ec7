package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserQuizCompletion keeps a quiz from being offered to the same user twice.
type UserQuizCompletion struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	UserID      uuid.UUID `json:"user_id" gorm:"type:uuid;not null;uniqueIndex:idx_user_quiz_completion"`
	QuizID      uuid.UUID `json:"quiz_id" gorm:"type:uuid;not null;uniqueIndex:idx_user_quiz_completion"`
	AttemptID   uuid.UUID `json:"attempt_id" gorm:"type:uuid;not null"`
	CompletedAt time.Time `json:"completed_at" gorm:"not null"`
}

func (UserQuizCompletion) TableName() string { return "user_quiz_completions" }

func (c *UserQuizCompletion) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

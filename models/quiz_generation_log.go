package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	GenerationStatusSuccess = "success"
	GenerationStatusFailed  = "failed"
)

// QuizGenerationLog is the audit trail of generation attempts.
type QuizGenerationLog struct {
	ID         uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	UserID     uuid.UUID  `json:"user_id" gorm:"type:uuid;not null;index"`
	ContentID  uuid.UUID  `json:"content_id" gorm:"type:uuid;not null;index"`
	QuizID     *uuid.UUID `json:"quiz_id,omitempty" gorm:"type:uuid"`
	Reason     string     `json:"reason" gorm:"size:32"`
	Status     string     `json:"status" gorm:"size:16;not null"`
	Error      string     `json:"error,omitempty"`
	Attempts   int        `json:"attempts"`
	DurationMs int64      `json:"duration_ms"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (QuizGenerationLog) TableName() string { return "quiz_generation_logs" }

func (l *QuizGenerationLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

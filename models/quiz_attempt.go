package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// QuizAttempt is one play-through. MaxScore is fixed when the attempt is
// created and never recomputed.
type QuizAttempt struct {
	ID          uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	UserID      uuid.UUID      `json:"user_id" gorm:"type:uuid;not null;index"`
	QuizID      uuid.UUID      `json:"quiz_id" gorm:"type:uuid;not null;index"`
	ContentID   uuid.UUID      `json:"content_id" gorm:"type:uuid;not null;index"`
	QuestionIDs datatypes.JSON `json:"question_ids" gorm:"not null"`
	Answers     datatypes.JSON `json:"answers,omitempty"` // per-question results, set on completion
	Score       int            `json:"score" gorm:"not null;default:0"`
	MaxScore    int            `json:"max_score" gorm:"not null"`
	Percentage  int            `json:"percentage" gorm:"not null;default:0"`
	Passed      bool           `json:"passed" gorm:"not null;default:false"`
	TimeTaken   int            `json:"time_taken" gorm:"not null;default:0"` // seconds
	StartedAt   time.Time      `json:"started_at" gorm:"not null"`
	CompletedAt *time.Time     `json:"completed_at"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`

	// Relationships
	Quiz *Quiz `json:"quiz,omitempty" gorm:"foreignKey:QuizID"`
}

func (QuizAttempt) TableName() string { return "quiz_attempts" }

func (a *QuizAttempt) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

func (a *QuizAttempt) SetQuestionIDs(ids []uuid.UUID) error {
	b, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	a.QuestionIDs = datatypes.JSON(b)
	return nil
}

func (a *QuizAttempt) QuestionIDList() ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if len(a.QuestionIDs) == 0 {
		return ids, nil
	}
	err := json.Unmarshal(a.QuestionIDs, &ids)
	return ids, err
}

func (a *QuizAttempt) IsCompleted() bool {
	return a.CompletedAt != nil
}

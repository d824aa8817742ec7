package models

import (
	"time"

	"github.com/google/uuid"
)

type Profile struct {
	UserID          uuid.UUID `json:"user_id" gorm:"type:uuid;primaryKey"`
	QuizzesTaken    int       `json:"quizzes_taken" gorm:"not null;default:0"`
	QuizzesPassed   int       `json:"quizzes_passed" gorm:"not null;default:0"`
	QuizSuccessRate float64   `json:"quiz_success_rate" gorm:"not null;default:0"` // percent
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (Profile) TableName() string { return "profiles" }

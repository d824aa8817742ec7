package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type QuizQuestion struct {
	ID               uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	QuizID           uuid.UUID      `json:"quiz_id" gorm:"type:uuid;not null;index"`
	ContentID        uuid.UUID      `json:"content_id" gorm:"type:uuid;not null;index"`
	Question         string         `json:"question" gorm:"not null"`
	CorrectAnswer    string         `json:"correct_answer" gorm:"not null"`
	IncorrectAnswers datatypes.JSON `json:"incorrect_answers" gorm:"not null"`
	Difficulty       string         `json:"difficulty" gorm:"size:10;not null"`
	Category         string         `json:"category" gorm:"size:32"`
	Explanation      string         `json:"explanation"`
	TimeLimit        int            `json:"time_limit" gorm:"not null;default:30"` // seconds
	Points           int            `json:"points" gorm:"not null"`
	Position         int            `json:"position" gorm:"not null"`
	TimesAnswered    int            `json:"times_answered" gorm:"not null;default:0"`
	TimesCorrect     int            `json:"times_correct" gorm:"not null;default:0"`
	QualityScore     float64        `json:"quality_score" gorm:"not null;default:0.5"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

func (QuizQuestion) TableName() string { return "quiz_questions" }

func (q *QuizQuestion) BeforeCreate(tx *gorm.DB) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	return nil
}

func (q *QuizQuestion) SetIncorrectAnswers(answers []string) error {
	b, err := json.Marshal(answers)
	if err != nil {
		return err
	}
	q.IncorrectAnswers = datatypes.JSON(b)
	return nil
}

func (q *QuizQuestion) Incorrect() []string {
	var answers []string
	if len(q.IncorrectAnswers) == 0 {
		return answers
	}
	_ = json.Unmarshal(q.IncorrectAnswers, &answers)
	return answers
}

// AllAnswers returns the correct answer followed by the incorrect ones.
func (q *QuizQuestion) AllAnswers() []string {
	return append([]string{q.CorrectAnswer}, q.Incorrect()...)
}

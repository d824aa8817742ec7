package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

// DifficultyCounts is the per-tier question count of a quiz.
type DifficultyCounts struct {
	Easy   int `json:"easy"`
	Medium int `json:"medium"`
	Hard   int `json:"hard"`
}

func (d *DifficultyCounts) Add(difficulty string) {
	switch difficulty {
	case DifficultyEasy:
		d.Easy++
	case DifficultyMedium:
		d.Medium++
	case DifficultyHard:
		d.Hard++
	}
}

func (d DifficultyCounts) Total() int {
	return d.Easy + d.Medium + d.Hard
}

type Quiz struct {
	ID                     uuid.UUID         `json:"id" gorm:"type:uuid;primaryKey"`
	ContentID              uuid.UUID         `json:"content_id" gorm:"type:uuid;not null;index"`
	Title                  string            `json:"title" gorm:"not null"`
	TotalQuestions         int               `json:"total_questions" gorm:"not null;default:0"`
	DifficultyDistribution datatypes.JSON    `json:"difficulty_distribution"`
	AIGenerated            bool              `json:"ai_generated" gorm:"not null;default:true"`
	GenerationReason       string            `json:"generation_reason" gorm:"size:32"`
	GenerationMetadata     datatypes.JSONMap `json:"generation_metadata"`
	CompletionCount        int               `json:"completion_count" gorm:"not null;default:0"`
	AverageScore           float64           `json:"average_score" gorm:"not null;default:0"`
	CreatedAt              time.Time         `json:"created_at"`
	UpdatedAt              time.Time         `json:"updated_at"`

	// Relationships
	Content   *Content       `json:"content,omitempty" gorm:"foreignKey:ContentID"`
	Questions []QuizQuestion `json:"questions,omitempty" gorm:"foreignKey:QuizID"`
}

func (Quiz) TableName() string { return "quizzes" }

func (q *Quiz) BeforeCreate(tx *gorm.DB) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	return nil
}

func (q *Quiz) SetDifficultyDistribution(d DifficultyCounts) error {
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	q.DifficultyDistribution = datatypes.JSON(b)
	return nil
}

// Distribution decodes the stored difficulty distribution. A missing or
// malformed value decodes as all zeros.
func (q *Quiz) Distribution() DifficultyCounts {
	var d DifficultyCounts
	if len(q.DifficultyDistribution) == 0 {
		return d
	}
	_ = json.Unmarshal(q.DifficultyDistribution, &d)
	return d
}

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Review struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `json:"user_id" gorm:"type:uuid;not null;uniqueIndex:idx_reviews_user_content"`
	ContentID uuid.UUID `json:"content_id" gorm:"type:uuid;not null;uniqueIndex:idx_reviews_user_content;index"`
	AttemptID uuid.UUID `json:"attempt_id" gorm:"type:uuid;not null"`
	Rating    int       `json:"rating" gorm:"not null"`
	Body      string    `json:"body" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Review) TableName() string { return "reviews" }

func (r *Review) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

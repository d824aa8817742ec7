package services

import (
	"context"
	"errors"
	"strings"

	"cinecheck/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxReviewPageSize = 100

type ReviewService struct {
	db       *gorm.DB
	contents *ContentService
	attempts *AttemptService
}

func NewReviewService(db *gorm.DB, contents *ContentService, attempts *AttemptService) *ReviewService {
	return &ReviewService{db: db, contents: contents, attempts: attempts}
}

type CreateReviewRequest struct {
	TMDBID      int    `json:"tmdb_id" binding:"required,min=1"`
	ContentType string `json:"content_type" binding:"required,oneof=movie tv"`
	Rating      int    `json:"rating" binding:"required,min=1,max=10"`
	Body        string `json:"body" binding:"required,min=10,max=5000"`
}

// CreateReview stores a review. Only users with a passing attempt on the
// title may review it, once.
func (s *ReviewService) CreateReview(ctx context.Context, userID uuid.UUID, req *CreateReviewRequest) (*models.Review, error) {
	content, err := s.contents.Find(ctx, req.TMDBID, req.ContentType)
	if errors.Is(err, ErrContentNotFound) {
		return nil, ErrReviewNotAllowed
	}
	if err != nil {
		return nil, err
	}

	attempt, err := s.attempts.PassingAttempt(ctx, userID, content.ID)
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		return nil, ErrReviewNotAllowed
	}

	review := models.Review{
		UserID:    userID,
		ContentID: content.ID,
		AttemptID: attempt.ID,
		Rating:    req.Rating,
		Body:      strings.TrimSpace(req.Body),
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}, {Name: "content_id"}}, DoNothing: true}).
		Create(&review)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrReviewExists
	}
	return &review, nil
}

func (s *ReviewService) ListReviews(ctx context.Context, tmdbID int, contentType string, limit, offset int) ([]models.Review, error) {
	content, err := s.contents.Find(ctx, tmdbID, contentType)
	if errors.Is(err, ErrContentNotFound) {
		return []models.Review{}, nil
	}
	if err != nil {
		return nil, err
	}

	if limit <= 0 || limit > maxReviewPageSize {
		limit = maxReviewPageSize
	}
	if offset < 0 {
		offset = 0
	}

	reviews := []models.Review{}
	err = s.db.WithContext(ctx).
		Where("content_id = ?", content.ID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&reviews).Error
	return reviews, err
}

func (s *ReviewService) DeleteReview(ctx context.Context, userID, reviewID uuid.UUID) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", reviewID, userID).
		Delete(&models.Review{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrReviewNotFound
	}
	return nil
}

package services

import "errors"

var (
	ErrInvalidContentType  = errors.New("content type must be 'movie' or 'tv'")
	ErrMetadataNotFound    = errors.New("content not found in metadata provider")
	ErrMetadataUnavailable = errors.New("failed to fetch content metadata")
	ErrContentNotFound     = errors.New("content not found")

	ErrAINotConfigured  = errors.New("AI generation is not configured")
	ErrGenerationFailed = errors.New("quiz generation failed")

	ErrQuizNotFound     = errors.New("quiz not found")
	ErrQuizEmpty        = errors.New("quiz has no questions")
	ErrContentMismatch  = errors.New("quiz does not belong to content")
	ErrAttemptNotFound  = errors.New("attempt not found")
	ErrAttemptCompleted = errors.New("attempt already completed")

	ErrReviewNotAllowed = errors.New("pass a quiz for this title before reviewing it")
	ErrReviewExists     = errors.New("review already exists for this title")
	ErrReviewNotFound   = errors.New("review not found")

	ErrInvalidToken = errors.New("invalid token")
)

package handlers

import (
	"errors"
	"log"
	"net/http"

	"cinecheck/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidContentType),
		errors.Is(err, services.ErrContentMismatch),
		errors.Is(err, services.ErrAttemptCompleted):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrReviewNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, services.ErrMetadataNotFound),
		errors.Is(err, services.ErrMetadataUnavailable),
		errors.Is(err, services.ErrContentNotFound),
		errors.Is(err, services.ErrQuizNotFound),
		errors.Is(err, services.ErrQuizEmpty),
		errors.Is(err, services.ErrAttemptNotFound),
		errors.Is(err, services.ErrReviewNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrReviewExists),
		errors.Is(err, services.ErrSessionActive):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes {"success": false, "error": ..., "details": ...}.
// The top-level sentinel is the message; the wrapped upstream text goes to
// details.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := topMessage(err)
	body := gin.H{"success": false, "error": msg}
	if details := err.Error(); details != msg {
		body["details"] = details
	}

	var verr *services.ValidationError
	if errors.As(err, &verr) {
		body["fields"] = verr.Problems
	}

	if status >= http.StatusInternalServerError {
		log.Printf("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, body)
}

func topMessage(err error) string {
	for _, sentinel := range []error{
		services.ErrInvalidContentType,
		services.ErrContentMismatch,
		services.ErrAttemptCompleted,
		services.ErrInvalidToken,
		services.ErrReviewNotAllowed,
		services.ErrMetadataNotFound,
		services.ErrMetadataUnavailable,
		services.ErrContentNotFound,
		services.ErrQuizNotFound,
		services.ErrQuizEmpty,
		services.ErrAttemptNotFound,
		services.ErrReviewNotFound,
		services.ErrReviewExists,
		services.ErrSessionActive,
		services.ErrGenerationFailed,
		services.ErrAINotConfigured,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "internal server error"
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": msg})
}

// currentUser reads the id set by the auth middleware.
func currentUser(c *gin.Context) (uuid.UUID, bool) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "User not authenticated"})
		return uuid.Nil, false
	}
	id, ok := userID.(uuid.UUID)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "User not authenticated"})
		return uuid.Nil, false
	}
	return id, true
}

package handlers

import (
	"net/http"
	"strconv"

	"cinecheck/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type ReviewHandler struct {
	reviewService *services.ReviewService
}

func NewReviewHandler(reviewService *services.ReviewService) *ReviewHandler {
	return &ReviewHandler{reviewService: reviewService}
}

func (h *ReviewHandler) CreateReview(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req services.CreateReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	review, err := h.reviewService.CreateReview(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "review": review})
}

func (h *ReviewHandler) ListReviews(c *gin.Context) {
	tmdbID, err := strconv.Atoi(c.Query("tmdb_id"))
	if err != nil || tmdbID <= 0 {
		badRequest(c, "tmdb_id is required")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	reviews, err := h.reviewService.ListReviews(c.Request.Context(), tmdbID, c.Query("type"), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "reviews": reviews})
}

func (h *ReviewHandler) DeleteReview(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	reviewID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "Invalid review ID")
		return
	}

	if err := h.reviewService.DeleteReview(c.Request.Context(), userID, reviewID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Review deleted successfully"})
}

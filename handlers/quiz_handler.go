package handlers

import (
	"net/http"
	"strconv"

	"cinecheck/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type QuizHandler struct {
	quizService    *services.QuizService
	attemptService *services.AttemptService
}

func NewQuizHandler(quizService *services.QuizService, attemptService *services.AttemptService) *QuizHandler {
	return &QuizHandler{
		quizService:    quizService,
		attemptService: attemptService,
	}
}

func (h *QuizHandler) Generate(c *gin.Context) {
	var req services.GenerateQuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		badRequest(c, "Invalid user_id")
		return
	}

	result, err := h.quizService.GenerateOrReuse(c.Request.Context(), userID, req.TMDBID, req.ContentType)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *QuizHandler) Start(c *gin.Context) {
	var req services.StartQuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		badRequest(c, "Invalid user_id")
		return
	}
	quizID, err := uuid.Parse(req.QuizID)
	if err != nil {
		badRequest(c, "Invalid quiz_id")
		return
	}

	var contentID *uuid.UUID
	if req.ContentID != "" {
		id, err := uuid.Parse(req.ContentID)
		if err != nil {
			badRequest(c, "Invalid content_id")
			return
		}
		contentID = &id
	}

	result, err := h.attemptService.StartAttempt(c.Request.Context(), userID, quizID, contentID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *QuizHandler) Submit(c *gin.Context) {
	var req services.SubmitQuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	attemptID, err := uuid.Parse(req.AttemptID)
	if err != nil {
		badRequest(c, "Invalid attempt_id")
		return
	}

	result, err := h.attemptService.SubmitAttempt(c.Request.Context(), attemptID, req.Answers, req.TimeTaken)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *QuizHandler) CheckStatus(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	tmdbID, err := strconv.Atoi(c.Query("tmdb_id"))
	if err != nil || tmdbID <= 0 {
		badRequest(c, "tmdb_id is required")
		return
	}
	contentType := c.Query("type")
	if contentType == "" {
		badRequest(c, "type is required")
		return
	}

	status, err := h.attemptService.Status(c.Request.Context(), userID, tmdbID, contentType)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"has_passed":      status.HasPassed,
		"content_id":      status.ContentID,
		"attempts":        status.Attempts,
		"best_percentage": status.BestPercentage,
		"passed_at":       status.PassedAt,
	})
}

func (h *QuizHandler) GetQuiz(c *gin.Context) {
	quizID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "Invalid quiz ID")
		return
	}

	quiz, err := h.quizService.GetQuizView(c.Request.Context(), quizID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, quiz)
}

package handlers

import (
	"net/http"

	"cinecheck/services"

	"github.com/gin-gonic/gin"
)

type ProfileHandler struct {
	attemptService *services.AttemptService
}

func NewProfileHandler(attemptService *services.AttemptService) *ProfileHandler {
	return &ProfileHandler{attemptService: attemptService}
}

func (h *ProfileHandler) GetProfile(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	profile, err := h.attemptService.GetProfile(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "profile": profile})
}

package handlers

import (
	"errors"
	"log"
	"net/http"

	"cinecheck/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// PlayHandler serves live quiz sessions over a websocket.
type PlayHandler struct {
	hub      *services.Hub
	quizzes  *services.QuizService
	verifier *services.TokenVerifier
	upgrader websocket.Upgrader
}

// NewPlayHandler accepts upgrades from the given origins; an empty list
// accepts any origin.
func NewPlayHandler(hub *services.Hub, quizzes *services.QuizService, verifier *services.TokenVerifier, allowedOrigins []string) *PlayHandler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &PlayHandler{
		hub:      hub,
		quizzes:  quizzes,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin] || allowed["*"]
			},
		},
	}
}

func (h *PlayHandler) Play(c *gin.Context) {
	quizID, err := uuid.Parse(c.Param("quiz_id"))
	if err != nil {
		badRequest(c, "Invalid quiz ID")
		return
	}

	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Token required"})
		return
	}
	userID, err := h.verifier.ValidateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Invalid token"})
		return
	}

	if _, err := h.quizzes.GetQuiz(c.Request.Context(), quizID); err != nil {
		respondError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed for quiz %s, user %s: %v", quizID, userID, err)
		return
	}

	if _, err := h.hub.RegisterClient(c.Request.Context(), conn, userID, quizID); err != nil {
		msg := "failed to open session"
		if errors.Is(err, services.ErrSessionActive) {
			msg = err.Error()
		}
		log.Printf("Rejected session for quiz %s, user %s: %v", quizID, userID, err)
		conn.WriteJSON(services.SessionMessage{Type: "error", Payload: gin.H{"error": msg}})
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, msg))
		conn.Close()
		return
	}

	log.Printf("WebSocket session established for quiz %s, user %s", quizID, userID)
}

// SessionStatus reports whether the caller has a live socket on the quiz and
// how far it got.
func (h *PlayHandler) SessionStatus(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	quizID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "Invalid quiz ID")
		return
	}

	snap, err := h.hub.Snapshot(c.Request.Context(), userID, quizID)
	if err != nil {
		respondError(c, err)
		return
	}
	if snap == nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "active": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"active":     true,
		"state":      snap.State,
		"attempt_id": snap.AttemptID,
		"index":      snap.Index,
		"total":      snap.Total,
		"updated_at": snap.UpdatedAt,
	})
}

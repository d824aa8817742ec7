package routes

import (
	"net/http"

	"cinecheck/handlers"
	"cinecheck/middleware"
	"cinecheck/services"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Quiz    *handlers.QuizHandler
	Review  *handlers.ReviewHandler
	Profile *handlers.ProfileHandler
	Play    *handlers.PlayHandler
}

func SetupRoutes(router *gin.Engine, h Handlers, verifier *services.TokenVerifier, limiter *services.RateLimiter) {
	auth := middleware.AuthMiddleware(verifier)

	api := router.Group("/api")
	{
		quiz := api.Group("/quiz")
		{
			quiz.POST("/generate", middleware.RateLimit(limiter, middleware.GenerateClass), h.Quiz.Generate)
			quiz.POST("/start", middleware.RateLimit(limiter, middleware.QuizClass), h.Quiz.Start)
			quiz.POST("/submit", middleware.RateLimit(limiter, middleware.QuizClass), h.Quiz.Submit)
			quiz.GET("/check-status", middleware.RateLimit(limiter, middleware.QuizClass), auth, h.Quiz.CheckStatus)
			quiz.GET("/:id", middleware.RateLimit(limiter, middleware.DefaultClass), h.Quiz.GetQuiz)
			quiz.GET("/:id/session", middleware.RateLimit(limiter, middleware.DefaultClass), auth, h.Play.SessionStatus)
		}

		general := api.Group("/")
		general.Use(middleware.RateLimit(limiter, middleware.DefaultClass))
		{
			general.GET("/profile", auth, h.Profile.GetProfile)

			general.GET("/reviews", h.Review.ListReviews)
			general.POST("/reviews", auth, h.Review.CreateReview)
			general.DELETE("/reviews/:id", auth, h.Review.DeleteReview)
		}
	}

	// Live quiz session; the token travels in the query string because
	// browsers cannot set headers on a websocket upgrade.
	router.GET("/ws/quiz/:quiz_id", h.Play.Play)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

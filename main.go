package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cinecheck/config"
	"cinecheck/handlers"
	"cinecheck/middleware"
	"cinecheck/models"
	"cinecheck/routes"
	"cinecheck/services"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg := config.Load()

	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	if err := db.AutoMigrate(models.All()...); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	redisClient := config.InitRedis(cfg)
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Printf("Redis not reachable at %s, caching and rate limiting degraded: %v", cfg.RedisAddr, err)
	}

	// Services
	tmdb := services.NewTMDBClient(cfg.TMDBAPIKey, cfg.TMDBBaseURL, redisClient, cfg.TMDBCacheTTL)
	contentService := services.NewContentService(db, tmdb, cfg.ContentStaleAfter)

	gemini := services.NewGeminiModel(cfg.GeminiAPIKey, cfg.GeminiModel)
	defer gemini.Close()
	if !gemini.IsAvailable() {
		log.Println("GEMINI_API_KEY not set, quiz generation disabled")
	}
	generator := services.NewQuestionGenerator(gemini)

	quizService := services.NewQuizService(db, contentService, generator)
	attemptService := services.NewAttemptService(db, quizService, contentService, services.NewTimeSeededShuffler(), services.NewScoringService())
	reviewService := services.NewReviewService(db, contentService, attemptService)
	verifier := services.NewTokenVerifier(cfg.SupabaseJWTSecret)
	limiter := services.NewRateLimiter(redisClient, time.Minute)

	hub := services.NewHub(attemptService, services.NewSessionStore(redisClient))
	go hub.Run()

	reconciler := services.NewQuizReconciler(db)
	scheduler, err := reconciler.StartSchedule(cfg.ReconcileSchedule)
	if err != nil {
		log.Fatal("Failed to schedule quiz reconciliation:", err)
	}

	// Handlers
	h := routes.Handlers{
		Quiz:    handlers.NewQuizHandler(quizService, attemptService),
		Review:  handlers.NewReviewHandler(reviewService),
		Profile: handlers.NewProfileHandler(attemptService),
		Play:    handlers.NewPlayHandler(hub, quizService, verifier, cfg.AllowedOrigins),
	}

	router := gin.Default()
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		log.Fatal("Invalid TRUSTED_PROXIES:", err)
	}
	router.Use(middleware.CORS(cfg.AllowedOrigins))
	routes.SetupRoutes(router, h, verifier, limiter)

	srv := &http.Server{
		Addr:    cfg.BindAddress + ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("Server starting on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	<-scheduler.Stop().Done()
	if err := hub.Shutdown(ctx); err != nil {
		log.Printf("Hub shutdown: %v", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}
	if err := redisClient.Close(); err != nil {
		log.Printf("Redis close: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	log.Println("Server stopped")
}

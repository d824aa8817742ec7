package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"cinecheck/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ReasonFirstQuiz    = "first_quiz"
	ReasonAllCompleted = "all_completed"
)

// QuestionSource produces a validated question set for a title.
type QuestionSource interface {
	Generate(ctx context.Context, md *Metadata) ([]GeneratedQuestion, GenerationMeta, error)
}

type QuizService struct {
	db        *gorm.DB
	contents  *ContentService
	generator QuestionSource
}

func NewQuizService(db *gorm.DB, contents *ContentService, generator QuestionSource) *QuizService {
	return &QuizService{db: db, contents: contents, generator: generator}
}

type GenerateQuizRequest struct {
	UserID      string `json:"user_id" binding:"required,uuid"`
	TMDBID      int    `json:"tmdb_id" binding:"required,min=1"`
	ContentType string `json:"content_type" binding:"required,oneof=movie tv"`
}

type QuestionSummary struct {
	ID         uuid.UUID `json:"id"`
	Question   string    `json:"question"`
	Difficulty string    `json:"difficulty"`
	Category   string    `json:"category"`
	Points     int       `json:"points"`
	TimeLimit  int       `json:"time_limit"`
}

type QuizView struct {
	ID                     uuid.UUID               `json:"id"`
	ContentID              uuid.UUID               `json:"content_id"`
	Title                  string                  `json:"title"`
	TotalQuestions         int                     `json:"total_questions"`
	DifficultyDistribution models.DifficultyCounts `json:"difficulty_distribution"`
	CompletionCount        int                     `json:"completion_count"`
	AverageScore           float64                 `json:"average_score"`
	Questions              []QuestionSummary       `json:"questions"`
}

type GenerateResult struct {
	Success          bool      `json:"success"`
	Cached           bool      `json:"cached"`
	Reused           bool      `json:"reused"`
	QuizID           uuid.UUID `json:"quiz_id"`
	ContentID        uuid.UUID `json:"content_id"`
	Quiz             QuizView  `json:"quiz"`
	GenerationTime   int64     `json:"generation_time"` // milliseconds
	GenerationReason string    `json:"generation_reason,omitempty"`
}

// GenerateOrReuse serves the user a quiz for the title they have not
// completed yet, generating a new one only when none is left.
func (s *QuizService) GenerateOrReuse(ctx context.Context, userID uuid.UUID, tmdbID int, contentType string) (*GenerateResult, error) {
	start := time.Now()

	content, md, err := s.contents.Resolve(ctx, tmdbID, contentType)
	if err != nil {
		return nil, err
	}

	quiz, questions, err := s.findReusableQuiz(ctx, userID, content.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up existing quizzes: %w", err)
	}
	if quiz != nil {
		log.Printf("Reusing quiz %s for user %s on %s/%d", quiz.ID, userID, contentType, tmdbID)
		return &GenerateResult{
			Success:        true,
			Cached:         true,
			Reused:         true,
			QuizID:         quiz.ID,
			ContentID:      content.ID,
			Quiz:           toQuizView(quiz, questions),
			GenerationTime: time.Since(start).Milliseconds(),
		}, nil
	}

	reason, err := s.generationReason(ctx, content.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect existing quizzes: %w", err)
	}
	log.Printf("Generating quiz for user %s on %s/%d (reason: %s)", userID, contentType, tmdbID, reason)

	generated, meta, err := s.generator.Generate(ctx, md)
	if err != nil {
		s.recordGeneration(ctx, &models.QuizGenerationLog{
			UserID:     userID,
			ContentID:  content.ID,
			Reason:     reason,
			Status:     models.GenerationStatusFailed,
			Error:      err.Error(),
			Attempts:   meta.Attempts,
			DurationMs: time.Since(start).Milliseconds(),
		})
		return nil, err
	}

	quiz, questions, err = s.persistQuiz(ctx, content, generated, meta, reason)
	if err != nil {
		s.recordGeneration(ctx, &models.QuizGenerationLog{
			UserID:     userID,
			ContentID:  content.ID,
			Reason:     reason,
			Status:     models.GenerationStatusFailed,
			Error:      err.Error(),
			Attempts:   meta.Attempts,
			DurationMs: time.Since(start).Milliseconds(),
		})
		return nil, fmt.Errorf("failed to save generated quiz: %w", err)
	}

	s.recordGeneration(ctx, &models.QuizGenerationLog{
		UserID:     userID,
		ContentID:  content.ID,
		QuizID:     &quiz.ID,
		Reason:     reason,
		Status:     models.GenerationStatusSuccess,
		Attempts:   meta.Attempts,
		DurationMs: time.Since(start).Milliseconds(),
	})

	return &GenerateResult{
		Success:          true,
		QuizID:           quiz.ID,
		ContentID:        content.ID,
		Quiz:             toQuizView(quiz, questions),
		GenerationTime:   time.Since(start).Milliseconds(),
		GenerationReason: reason,
	}, nil
}

// findReusableQuiz returns the most completed quiz on the content that the
// user has not completed and that has questions, or nil.
func (s *QuizService) findReusableQuiz(ctx context.Context, userID, contentID uuid.UUID) (*models.Quiz, []models.QuizQuestion, error) {
	completed := s.db.Model(&models.UserQuizCompletion{}).Select("quiz_id").Where("user_id = ?", userID)

	var candidates []models.Quiz
	err := s.db.WithContext(ctx).
		Where("content_id = ?", contentID).
		Where("id NOT IN (?)", completed).
		Order("completion_count DESC").
		Order("created_at ASC").
		Find(&candidates).Error
	if err != nil {
		return nil, nil, err
	}

	for i := range candidates {
		questions, err := s.QuizQuestions(ctx, candidates[i].ID)
		if err != nil {
			return nil, nil, err
		}
		if len(questions) == 0 {
			log.Printf("Skipping quiz %s: it has no questions", candidates[i].ID)
			continue
		}
		return &candidates[i], questions, nil
	}
	return nil, nil, nil
}

func (s *QuizService) generationReason(ctx context.Context, contentID uuid.UUID) (string, error) {
	var playable int64
	err := s.db.WithContext(ctx).Model(&models.Quiz{}).
		Where("content_id = ?", contentID).
		Where("EXISTS (SELECT 1 FROM quiz_questions WHERE quiz_questions.quiz_id = quizzes.id)").
		Count(&playable).Error
	if err != nil {
		return "", err
	}
	if playable == 0 {
		return ReasonFirstQuiz, nil
	}
	return ReasonAllCompleted, nil
}

// persistQuiz writes the quiz, its questions and its derived counts in one
// transaction so readers never see a partially created quiz.
func (s *QuizService) persistQuiz(ctx context.Context, content *models.Content, generated []GeneratedQuestion, meta GenerationMeta, reason string) (quiz *models.Quiz, questions []models.QuizQuestion, err error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, nil, tx.Error
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	var existing int64
	if err := tx.Model(&models.Quiz{}).Where("content_id = ?", content.ID).Count(&existing).Error; err != nil {
		tx.Rollback()
		return nil, nil, err
	}

	var distribution models.DifficultyCounts
	for _, g := range generated {
		distribution.Add(g.Difficulty)
	}

	metadata := meta.AsMap()
	metadata["reason"] = reason
	quiz = &models.Quiz{
		ContentID:          content.ID,
		Title:              fmt.Sprintf("%s Quiz #%d", content.Title, existing+1),
		TotalQuestions:     len(generated),
		AIGenerated:        true,
		GenerationReason:   reason,
		GenerationMetadata: metadata,
	}
	if err := quiz.SetDifficultyDistribution(distribution); err != nil {
		tx.Rollback()
		return nil, nil, err
	}

	if err := tx.Create(quiz).Error; err != nil {
		tx.Rollback()
		return nil, nil, err
	}

	questions = make([]models.QuizQuestion, 0, len(generated))
	for i, g := range generated {
		question := models.QuizQuestion{
			QuizID:        quiz.ID,
			ContentID:     content.ID,
			Question:      g.Question,
			CorrectAnswer: g.CorrectAnswer,
			Difficulty:    g.Difficulty,
			Category:      g.Category,
			Explanation:   g.Explanation,
			TimeLimit:     g.TimeLimit,
			Points:        g.Points,
			Position:      i + 1,
			QualityScore:  QualityBand(0, 0),
		}
		if err := question.SetIncorrectAnswers(g.IncorrectAnswers); err != nil {
			tx.Rollback()
			return nil, nil, err
		}
		questions = append(questions, question)
	}

	if err := tx.Create(&questions).Error; err != nil {
		tx.Rollback()
		return nil, nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, nil, err
	}

	return quiz, questions, nil
}

// recordGeneration writes the audit row. Failures are logged and dropped.
func (s *QuizService) recordGeneration(ctx context.Context, entry *models.QuizGenerationLog) {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		log.Printf("Failed to record quiz generation log for content %s: %v", entry.ContentID, err)
	}
}

func (s *QuizService) GetQuiz(ctx context.Context, quizID uuid.UUID) (*models.Quiz, error) {
	var quiz models.Quiz
	err := s.db.WithContext(ctx).First(&quiz, "id = ?", quizID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrQuizNotFound
	}
	if err != nil {
		return nil, err
	}
	return &quiz, nil
}

func (s *QuizService) QuizQuestions(ctx context.Context, quizID uuid.UUID) ([]models.QuizQuestion, error) {
	var questions []models.QuizQuestion
	err := s.db.WithContext(ctx).
		Where("quiz_id = ?", quizID).
		Order("position ASC").
		Find(&questions).Error
	return questions, err
}

// GetQuizView returns a quiz with its questions, answers withheld.
func (s *QuizService) GetQuizView(ctx context.Context, quizID uuid.UUID) (*QuizView, error) {
	quiz, err := s.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	questions, err := s.QuizQuestions(ctx, quiz.ID)
	if err != nil {
		return nil, err
	}
	view := toQuizView(quiz, questions)
	return &view, nil
}

func toQuizView(quiz *models.Quiz, questions []models.QuizQuestion) QuizView {
	view := QuizView{
		ID:                     quiz.ID,
		ContentID:              quiz.ContentID,
		Title:                  quiz.Title,
		TotalQuestions:         len(questions),
		DifficultyDistribution: quiz.Distribution(),
		CompletionCount:        quiz.CompletionCount,
		AverageScore:           quiz.AverageScore,
		Questions:              make([]QuestionSummary, 0, len(questions)),
	}
	for _, q := range questions {
		view.Questions = append(view.Questions, QuestionSummary{
			ID:         q.ID,
			Question:   q.Question,
			Difficulty: q.Difficulty,
			Category:   q.Category,
			Points:     q.Points,
			TimeLimit:  q.TimeLimit,
		})
	}
	return view
}

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"cinecheck/models"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AttemptService struct {
	db       *gorm.DB
	quizzes  *QuizService
	contents *ContentService
	shuffler *Shuffler
	scoring  *ScoringService
	now      func() time.Time
}

func NewAttemptService(db *gorm.DB, quizzes *QuizService, contents *ContentService, shuffler *Shuffler, scoring *ScoringService) *AttemptService {
	return &AttemptService{
		db:       db,
		quizzes:  quizzes,
		contents: contents,
		shuffler: shuffler,
		scoring:  scoring,
		now:      time.Now,
	}
}

type StartQuizRequest struct {
	UserID    string `json:"user_id" binding:"required,uuid"`
	QuizID    string `json:"quiz_id" binding:"required,uuid"`
	ContentID string `json:"content_id" binding:"omitempty,uuid"`
}

type StartQuizResult struct {
	Success        bool               `json:"success"`
	AttemptID      uuid.UUID          `json:"attempt_id"`
	QuizID         uuid.UUID          `json:"quiz_id"`
	ContentID      uuid.UUID          `json:"content_id"`
	Questions      []PlayableQuestion `json:"questions"`
	TotalQuestions int                `json:"total_questions"`
	MaxScore       int                `json:"max_score"`
	PassThreshold  int                `json:"pass_threshold"`
	TimeLimit      int                `json:"time_limit"`
}

type SubmittedAnswer struct {
	QuestionID     string `json:"question_id" binding:"required,uuid"`
	SelectedAnswer string `json:"selected_answer"`
	TimeSpent      int    `json:"time_spent"`
}

type SubmitQuizRequest struct {
	AttemptID string            `json:"attempt_id" binding:"required,uuid"`
	Answers   []SubmittedAnswer `json:"answers" binding:"dive"`
	TimeTaken int               `json:"time_taken" binding:"min=0"`
}

type SubmitQuizResult struct {
	Success                 bool                             `json:"success"`
	AttemptID               uuid.UUID                        `json:"attempt_id"`
	QuizID                  uuid.UUID                        `json:"quiz_id"`
	Score                   int                              `json:"score"`
	MaxScore                int                              `json:"max_score"`
	Percentage              int                              `json:"percentage"`
	Passed                  bool                             `json:"passed"`
	PassThreshold           int                              `json:"pass_threshold"`
	TimeTaken               int                              `json:"time_taken"`
	CorrectAnswers          int                              `json:"correct_answers"`
	TotalQuestions          int                              `json:"total_questions"`
	Results                 []QuestionResult                 `json:"results"`
	PerformanceByDifficulty map[string]DifficultyPerformance `json:"performance_by_difficulty"`
	CanReview               bool                             `json:"can_review"`
}

type QuizStatus struct {
	HasPassed      bool       `json:"has_passed"`
	ContentID      *uuid.UUID `json:"content_id,omitempty"`
	Attempts       int64      `json:"attempts"`
	BestPercentage int        `json:"best_percentage"`
	PassedAt       *time.Time `json:"passed_at,omitempty"`
}

// StartAttempt opens a new attempt on a quiz and returns its questions in a
// fresh random order without the correct answers.
func (s *AttemptService) StartAttempt(ctx context.Context, userID, quizID uuid.UUID, contentID *uuid.UUID) (*StartQuizResult, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if contentID != nil && *contentID != quiz.ContentID {
		return nil, ErrContentMismatch
	}

	questions, err := s.quizzes.QuizQuestions(ctx, quiz.ID)
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, ErrQuizEmpty
	}

	playable := s.shuffler.Playable(questions)

	maxScore := 0
	ids := make([]uuid.UUID, 0, len(playable))
	for _, q := range playable {
		maxScore += q.Points
		ids = append(ids, q.ID)
	}

	attempt := models.QuizAttempt{
		UserID:    userID,
		QuizID:    quiz.ID,
		ContentID: quiz.ContentID,
		MaxScore:  maxScore,
		StartedAt: s.now(),
	}
	if err := attempt.SetQuestionIDs(ids); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(&attempt).Error; err != nil {
		return nil, fmt.Errorf("failed to create attempt: %w", err)
	}

	log.Printf("User %s started attempt %s on quiz %s (%d questions, max score %d)", userID, attempt.ID, quiz.ID, len(playable), maxScore)

	return &StartQuizResult{
		Success:        true,
		AttemptID:      attempt.ID,
		QuizID:         quiz.ID,
		ContentID:      quiz.ContentID,
		Questions:      playable,
		TotalQuestions: len(playable),
		MaxScore:       maxScore,
		PassThreshold:  PassThreshold,
		TimeLimit:      QuestionTimeLimit,
	}, nil
}

// SubmitAttempt scores an attempt exactly once and updates completion,
// question, quiz and profile statistics in the same transaction.
func (s *AttemptService) SubmitAttempt(ctx context.Context, attemptID uuid.UUID, answers []SubmittedAnswer, timeTaken int) (*SubmitQuizResult, error) {
	var attempt models.QuizAttempt
	err := s.db.WithContext(ctx).First(&attempt, "id = ?", attemptID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, err
	}
	if attempt.IsCompleted() {
		return nil, ErrAttemptCompleted
	}

	ids, err := attempt.QuestionIDList()
	if err != nil {
		return nil, fmt.Errorf("attempt %s has unreadable question list: %w", attempt.ID, err)
	}

	var stored []models.QuizQuestion
	if len(ids) > 0 {
		if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&stored).Error; err != nil {
			return nil, err
		}
	}
	byID := make(map[uuid.UUID]models.QuizQuestion, len(stored))
	for _, q := range stored {
		byID[q.ID] = q
	}
	ordered := make([]models.QuizQuestion, 0, len(ids))
	for _, id := range ids {
		if q, ok := byID[id]; ok {
			ordered = append(ordered, q)
		}
	}

	selected := make(map[uuid.UUID]string, len(answers))
	for _, a := range answers {
		id, err := uuid.Parse(a.QuestionID)
		if err != nil {
			continue
		}
		selected[id] = a.SelectedAnswer
	}

	card := s.scoring.Score(ordered, selected, attempt.MaxScore)
	if timeTaken < 0 {
		timeTaken = 0
	}

	if err := s.recordResult(ctx, &attempt, ordered, card, timeTaken); err != nil {
		return nil, err
	}

	correct := 0
	for _, r := range card.Results {
		if r.IsCorrect {
			correct++
		}
	}

	log.Printf("Attempt %s scored %d/%d (%d%%, passed=%t)", attempt.ID, card.Score, card.MaxScore, card.Percentage, card.Passed)

	return &SubmitQuizResult{
		Success:                 true,
		AttemptID:               attempt.ID,
		QuizID:                  attempt.QuizID,
		Score:                   card.Score,
		MaxScore:                card.MaxScore,
		Percentage:              card.Percentage,
		Passed:                  card.Passed,
		PassThreshold:           PassThreshold,
		TimeTaken:               timeTaken,
		CorrectAnswers:          correct,
		TotalQuestions:          len(card.Results),
		Results:                 card.Results,
		PerformanceByDifficulty: card.ByDifficulty,
		CanReview:               card.Passed,
	}, nil
}

// qualityBandSQL is QualityBand evaluated on the row being updated, so
// concurrent submissions cannot leave the band behind the counters. Every
// SET expression reads the pre-update row.
const qualityBandSQL = `CASE
	WHEN times_answered + 1 < ? THEN 0.5
	WHEN (times_correct + ?) * 100 BETWEEN 30 * (times_answered + 1) AND 80 * (times_answered + 1) THEN 1.0
	WHEN (times_correct + ?) * 100 BETWEEN 15 * (times_answered + 1) AND 95 * (times_answered + 1) THEN 0.7
	ELSE 0.4
END`

func (s *AttemptService) recordResult(ctx context.Context, attempt *models.QuizAttempt, questions []models.QuizQuestion, card ScoreCard, timeTaken int) (err error) {
	now := s.now()
	breakdown, err := json.Marshal(card.Results)
	if err != nil {
		return fmt.Errorf("failed to encode answers: %w", err)
	}

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	// Conditional on completed_at so concurrent submissions score only once.
	res := tx.Model(&models.QuizAttempt{}).
		Where("id = ? AND completed_at IS NULL", attempt.ID).
		Updates(map[string]interface{}{
			"score":        card.Score,
			"percentage":   card.Percentage,
			"passed":       card.Passed,
			"time_taken":   timeTaken,
			"answers":      datatypes.JSON(breakdown),
			"completed_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		tx.Rollback()
		return res.Error
	}
	if res.RowsAffected == 0 {
		tx.Rollback()
		return ErrAttemptCompleted
	}

	completion := models.UserQuizCompletion{
		UserID:      attempt.UserID,
		QuizID:      attempt.QuizID,
		AttemptID:   attempt.ID,
		CompletedAt: now,
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&completion).Error; err != nil {
		tx.Rollback()
		return err
	}

	correctByID := make(map[uuid.UUID]bool, len(card.Results))
	for _, r := range card.Results {
		correctByID[r.QuestionID] = r.IsCorrect
	}
	for _, q := range questions {
		hit := 0
		if correctByID[q.ID] {
			hit = 1
		}
		err := tx.Model(&models.QuizQuestion{}).Where("id = ?", q.ID).Updates(map[string]interface{}{
			"times_answered": gorm.Expr("times_answered + 1"),
			"times_correct":  gorm.Expr("times_correct + ?", hit),
			"quality_score":  gorm.Expr(qualityBandSQL, minAnswersForQuality, hit, hit),
		}).Error
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	// Both expressions read the pre-update row.
	err = tx.Model(&models.Quiz{}).Where("id = ?", attempt.QuizID).Updates(map[string]interface{}{
		"average_score":    gorm.Expr("((average_score * completion_count) + ?) / (completion_count + 1)", float64(card.Percentage)),
		"completion_count": gorm.Expr("completion_count + 1"),
	}).Error
	if err != nil {
		tx.Rollback()
		return err
	}

	if err := refreshProfile(tx, attempt.UserID, now); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

// refreshProfile recomputes the user's success rate from their full attempt
// history.
func refreshProfile(tx *gorm.DB, userID uuid.UUID, now time.Time) error {
	var taken, passed int64
	if err := tx.Model(&models.QuizAttempt{}).
		Where("user_id = ? AND completed_at IS NOT NULL", userID).
		Count(&taken).Error; err != nil {
		return err
	}
	if err := tx.Model(&models.QuizAttempt{}).
		Where("user_id = ? AND completed_at IS NOT NULL AND passed = ?", userID, true).
		Count(&passed).Error; err != nil {
		return err
	}

	rate := 0.0
	if taken > 0 {
		rate = math.Round(float64(passed)/float64(taken)*10000) / 100
	}

	profile := models.Profile{
		UserID:          userID,
		QuizzesTaken:    int(taken),
		QuizzesPassed:   int(passed),
		QuizSuccessRate: rate,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"quizzes_taken", "quizzes_passed", "quiz_success_rate", "updated_at"}),
	}).Create(&profile).Error
}

// Status reports whether the user has passed any quiz for the title.
func (s *AttemptService) Status(ctx context.Context, userID uuid.UUID, tmdbID int, contentType string) (*QuizStatus, error) {
	content, err := s.contents.Find(ctx, tmdbID, contentType)
	if errors.Is(err, ErrContentNotFound) {
		return &QuizStatus{}, nil
	}
	if err != nil {
		return nil, err
	}

	status := &QuizStatus{ContentID: &content.ID}

	base := s.db.WithContext(ctx).Model(&models.QuizAttempt{}).
		Where("user_id = ? AND content_id = ? AND completed_at IS NOT NULL", userID, content.ID)
	if err := base.Session(&gorm.Session{}).Count(&status.Attempts).Error; err != nil {
		return nil, err
	}
	if status.Attempts == 0 {
		return status, nil
	}

	var best models.QuizAttempt
	if err := base.Session(&gorm.Session{}).Order("percentage DESC").First(&best).Error; err != nil {
		return nil, err
	}
	status.BestPercentage = best.Percentage

	var firstPass models.QuizAttempt
	err = base.Session(&gorm.Session{}).Where("passed = ?", true).Order("completed_at ASC").First(&firstPass).Error
	switch {
	case err == nil:
		status.HasPassed = true
		status.PassedAt = firstPass.CompletedAt
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return nil, err
	}
	return status, nil
}

// PassingAttempt returns the user's earliest passing attempt on the content.
func (s *AttemptService) PassingAttempt(ctx context.Context, userID, contentID uuid.UUID) (*models.QuizAttempt, error) {
	var attempt models.QuizAttempt
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND content_id = ? AND passed = ? AND completed_at IS NOT NULL", userID, contentID, true).
		Order("completed_at ASC").
		First(&attempt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (s *AttemptService) GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	var profile models.Profile
	err := s.db.WithContext(ctx).First(&profile, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.Profile{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"cinecheck/models"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// QuizReconciler keeps each quiz's derived counts in line with its actual
// question rows.
type QuizReconciler struct {
	db *gorm.DB
}

func NewQuizReconciler(db *gorm.DB) *QuizReconciler {
	return &QuizReconciler{db: db}
}

type ReconcileReport struct {
	Checked int
	Fixed   int
	Empty   []uuid.UUID
}

type difficultyRow struct {
	QuizID     uuid.UUID
	Difficulty string
	Total      int
}

func (r *QuizReconciler) Run(ctx context.Context) (*ReconcileReport, error) {
	var rows []difficultyRow
	err := r.db.WithContext(ctx).Model(&models.QuizQuestion{}).
		Select("quiz_id, difficulty, COUNT(*) AS total").
		Group("quiz_id, difficulty").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count questions: %w", err)
	}

	actual := make(map[uuid.UUID]*models.DifficultyCounts)
	for _, row := range rows {
		counts, ok := actual[row.QuizID]
		if !ok {
			counts = &models.DifficultyCounts{}
			actual[row.QuizID] = counts
		}
		for i := 0; i < row.Total; i++ {
			counts.Add(row.Difficulty)
		}
	}

	var quizzes []models.Quiz
	if err := r.db.WithContext(ctx).
		Select("id", "total_questions", "difficulty_distribution").
		Find(&quizzes).Error; err != nil {
		return nil, fmt.Errorf("failed to load quizzes: %w", err)
	}

	report := &ReconcileReport{Checked: len(quizzes)}
	for i := range quizzes {
		quiz := &quizzes[i]

		want := models.DifficultyCounts{}
		if counts, ok := actual[quiz.ID]; ok {
			want = *counts
		}
		if want.Total() == 0 {
			report.Empty = append(report.Empty, quiz.ID)
		}
		if quiz.TotalQuestions == want.Total() && quiz.Distribution() == want {
			continue
		}

		if err := quiz.SetDifficultyDistribution(want); err != nil {
			return report, err
		}
		err := r.db.WithContext(ctx).Model(&models.Quiz{}).Where("id = ?", quiz.ID).Updates(map[string]interface{}{
			"total_questions":         want.Total(),
			"difficulty_distribution": quiz.DifficultyDistribution,
		}).Error
		if err != nil {
			return report, fmt.Errorf("failed to update quiz %s: %w", quiz.ID, err)
		}
		log.Printf("Reconciled quiz %s: total_questions %d -> %d", quiz.ID, quiz.TotalQuestions, want.Total())
		report.Fixed++
	}

	if len(report.Empty) > 0 {
		log.Printf("Found %d quizzes without questions: %v", len(report.Empty), report.Empty)
	}
	return report, nil
}

// StartSchedule runs the reconciler on the given cron spec until the
// returned scheduler is stopped.
func (r *QuizReconciler) StartSchedule(spec string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		report, err := r.Run(ctx)
		if err != nil {
			log.Printf("Quiz reconciliation failed: %v", err)
			return
		}
		log.Printf("Quiz reconciliation checked %d quizzes, fixed %d", report.Checked, report.Fixed)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid reconcile schedule %q: %w", spec, err)
	}
	c.Start()
	return c, nil
}

package services

import (
	"math"
	"strings"

	"cinecheck/models"

	"github.com/google/uuid"
)

// PassThreshold is the minimum percentage of the max score that passes.
const PassThreshold = 60

// Answers below this count keep the neutral quality score.
const minAnswersForQuality = 5

type QuestionResult struct {
	QuestionID     uuid.UUID `json:"question_id"`
	Question       string    `json:"question"`
	SelectedAnswer string    `json:"selected_answer"`
	CorrectAnswer  string    `json:"correct_answer"`
	IsCorrect      bool      `json:"is_correct"`
	PointsEarned   int       `json:"points_earned"`
	PointsPossible int       `json:"points_possible"`
	Difficulty     string    `json:"difficulty"`
	Category       string    `json:"category"`
	Explanation    string    `json:"explanation,omitempty"`
}

type DifficultyPerformance struct {
	Correct    int `json:"correct"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

type ScoreCard struct {
	Score        int
	MaxScore     int
	Percentage   int
	Passed       bool
	Results      []QuestionResult
	ByDifficulty map[string]DifficultyPerformance
}

type ScoringService struct{}

func NewScoringService() *ScoringService {
	return &ScoringService{}
}

// Score grades answers against questions, which must be in attempt order.
// Questions without an entry in answers count as unanswered.
func (s *ScoringService) Score(questions []models.QuizQuestion, answers map[uuid.UUID]string, maxScore int) ScoreCard {
	card := ScoreCard{
		MaxScore:     maxScore,
		Results:      make([]QuestionResult, 0, len(questions)),
		ByDifficulty: map[string]DifficultyPerformance{},
	}

	for _, q := range questions {
		selected := answers[q.ID]
		correct := AnswersMatch(selected, q.CorrectAnswer)

		earned := 0
		if correct {
			earned = q.Points
		}
		card.Score += earned

		perf := card.ByDifficulty[q.Difficulty]
		perf.Total++
		if correct {
			perf.Correct++
		}
		card.ByDifficulty[q.Difficulty] = perf

		card.Results = append(card.Results, QuestionResult{
			QuestionID:     q.ID,
			Question:       q.Question,
			SelectedAnswer: selected,
			CorrectAnswer:  q.CorrectAnswer,
			IsCorrect:      correct,
			PointsEarned:   earned,
			PointsPossible: q.Points,
			Difficulty:     q.Difficulty,
			Category:       q.Category,
			Explanation:    q.Explanation,
		})
	}

	for k, perf := range card.ByDifficulty {
		perf.Percentage = Percentage(perf.Correct, perf.Total)
		card.ByDifficulty[k] = perf
	}

	card.Percentage = Percentage(card.Score, maxScore)
	card.Passed = Passed(card.Score, maxScore)
	return card
}

// AnswersMatch compares trimmed answers case-insensitively. An empty
// selection (a timed-out question) never matches.
func AnswersMatch(selected, correct string) bool {
	selected = strings.TrimSpace(selected)
	if selected == "" {
		return false
	}
	return strings.EqualFold(selected, strings.TrimSpace(correct))
}

func Percentage(score, max int) int {
	if max <= 0 {
		return 0
	}
	return int(math.Round(float64(score) * 100 / float64(max)))
}

func Passed(score, max int) bool {
	return max > 0 && score*100 >= PassThreshold*max
}

// QualityBand maps a question's observed accuracy onto a few fixed bands.
// Questions that nearly everyone or nearly nobody gets right score lower.
func QualityBand(answered, correct int) float64 {
	if answered < minAnswersForQuality {
		return 0.5
	}
	// Integer percentages keep the band edges identical to qualityBandSQL.
	pct := correct * 100
	switch {
	case pct >= 30*answered && pct <= 80*answered:
		return 1.0
	case pct >= 15*answered && pct <= 95*answered:
		return 0.7
	default:
		return 0.4
	}
}

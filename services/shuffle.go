package services

import (
	"math/rand"
	"sync"
	"time"

	"cinecheck/models"

	"github.com/google/uuid"
)

// PlayableQuestion is a question as shown to a player: answers shuffled and
// the correct one not marked.
type PlayableQuestion struct {
	ID         uuid.UUID `json:"id"`
	Question   string    `json:"question"`
	Answers    []string  `json:"answers"`
	Difficulty string    `json:"difficulty"`
	Category   string    `json:"category"`
	Points     int       `json:"points"`
	TimeLimit  int       `json:"time_limit"`
}

// Shuffler produces a fresh ordering of questions and answers per play-through.
// It is safe for concurrent use.
type Shuffler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewShuffler(seed int64) *Shuffler {
	return &Shuffler{rng: rand.New(rand.NewSource(seed))}
}

func NewTimeSeededShuffler() *Shuffler {
	return NewShuffler(time.Now().UnixNano())
}

// fisherYates shuffles s in place.
func fisherYates[T any](rng *rand.Rand, s []T) {
	for i := len(s) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		s[i], s[j] = s[j], s[i]
	}
}

// Playable returns the questions in a new random order, each with its four
// answers shuffled. The input slice is not modified.
func (s *Shuffler) Playable(questions []models.QuizQuestion) []PlayableQuestion {
	s.mu.Lock()
	defer s.mu.Unlock()

	order := make([]int, len(questions))
	for i := range order {
		order[i] = i
	}
	fisherYates(s.rng, order)

	out := make([]PlayableQuestion, 0, len(questions))
	for _, idx := range order {
		q := questions[idx]
		answers := q.AllAnswers()
		fisherYates(s.rng, answers)

		timeLimit := q.TimeLimit
		if timeLimit <= 0 {
			timeLimit = QuestionTimeLimit
		}
		out = append(out, PlayableQuestion{
			ID:         q.ID,
			Question:   q.Question,
			Answers:    answers,
			Difficulty: q.Difficulty,
			Category:   q.Category,
			Points:     q.Points,
			TimeLimit:  timeLimit,
		})
	}
	return out
}

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"cinecheck/models"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// Every connection to ":memory:" is a separate database.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

// fakeMetadata serves fixed titles and counts lookups.
type fakeMetadata struct {
	mu     sync.Mutex
	titles map[string]*Metadata
	err    error
	calls  int
}

func newFakeMetadata(titles ...*Metadata) *fakeMetadata {
	f := &fakeMetadata{titles: map[string]*Metadata{}}
	for _, md := range titles {
		f.titles[fmt.Sprintf("%s/%d", md.ContentType, md.TMDBID)] = md
	}
	return f
}

func (f *fakeMetadata) GetDetails(ctx context.Context, tmdbID int, contentType string) (*Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	md, ok := f.titles[fmt.Sprintf("%s/%d", contentType, tmdbID)]
	if !ok {
		return nil, ErrMetadataNotFound
	}
	copied := *md
	return &copied, nil
}

func (f *fakeMetadata) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func inception() *Metadata {
	return &Metadata{
		TMDBID:      27205,
		ContentType: models.ContentTypeMovie,
		Title:       "Inception",
		Overview:    "A thief who steals corporate secrets through dream-sharing technology.",
		ReleaseDate: "2010-07-15",
		Genres:      []string{"Action", "Science Fiction"},
		Directors:   []string{"Christopher Nolan"},
		Cast: []CastMember{
			{Name: "Leonardo DiCaprio", Character: "Cobb"},
			{Name: "Joseph Gordon-Levitt", Character: "Arthur"},
		},
	}
}

// scriptedModel returns its replies in order, repeating the last one.
type scriptedModel struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	calls   int
	prompts []string
}

func (m *scriptedModel) Name() string { return "scripted" }

func (m *scriptedModel) GenerateText(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.calls
	m.calls++
	m.prompts = append(m.prompts, prompt)

	if i < len(m.errs) && m.errs[i] != nil {
		return "", m.errs[i]
	}
	if len(m.replies) == 0 {
		return "", fmt.Errorf("no reply scripted")
	}
	if i >= len(m.replies) {
		i = len(m.replies) - 1
	}
	return m.replies[i], nil
}

func (m *scriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// validQuestionSet builds a question set with the required 3/3/2 split. The
// correct answer to question i is "Right i".
func validQuestionSet() []GeneratedQuestion {
	difficulties := []string{"easy", "easy", "easy", "medium", "medium", "medium", "hard", "hard"}
	questions := make([]GeneratedQuestion, 0, len(difficulties))
	for i, d := range difficulties {
		questions = append(questions, GeneratedQuestion{
			Question:         fmt.Sprintf("Question %d?", i),
			CorrectAnswer:    fmt.Sprintf("Right %d", i),
			IncorrectAnswers: []string{fmt.Sprintf("Wrong %d-a", i), fmt.Sprintf("Wrong %d-b", i), fmt.Sprintf("Wrong %d-c", i)},
			Difficulty:       d,
			Category:         questionCategories[i%len(questionCategories)],
			Explanation:      "Because.",
		})
	}
	return questions
}

func validQuestionsJSON(t *testing.T) string {
	t.Helper()
	b, err := json.Marshal(map[string]interface{}{"questions": validQuestionSet()})
	require.NoError(t, err)
	return string(b)
}

// stubSource hands out a fixed question set without a model.
type stubSource struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (s *stubSource) Generate(ctx context.Context, md *Metadata) ([]GeneratedQuestion, GenerationMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, GenerationMeta{Model: "stub", Attempts: 3}, s.err
	}
	questions := validQuestionSet()
	normalizeQuestions(questions)
	return questions, GenerationMeta{Model: "stub", Attempts: 1, Duration: 5 * time.Millisecond}, nil
}

func (s *stubSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type testStack struct {
	db       *gorm.DB
	metadata *fakeMetadata
	source   *stubSource
	contents *ContentService
	quizzes  *QuizService
	attempts *AttemptService
	reviews  *ReviewService
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	db := newTestDB(t)
	metadata := newFakeMetadata(inception())
	source := &stubSource{}
	contents := NewContentService(db, metadata, 7*24*time.Hour)
	quizzes := NewQuizService(db, contents, source)
	attempts := NewAttemptService(db, quizzes, contents, NewShuffler(42), NewScoringService())
	return &testStack{
		db:       db,
		metadata: metadata,
		source:   source,
		contents: contents,
		quizzes:  quizzes,
		attempts: attempts,
		reviews:  NewReviewService(db, contents, attempts),
	}
}

// answerKey maps each question's id to its correct answer.
func answerKey(t *testing.T, db *gorm.DB, questions []PlayableQuestion) map[string]string {
	t.Helper()
	key := make(map[string]string, len(questions))
	for _, pq := range questions {
		var q models.QuizQuestion
		require.NoError(t, db.First(&q, "id = ?", pq.ID).Error)
		key[pq.ID.String()] = q.CorrectAnswer
	}
	return key
}

// answersScoring picks correct answers for the first n questions and wrong
// ones for the rest.
func answersScoring(t *testing.T, db *gorm.DB, questions []PlayableQuestion, n int) []SubmittedAnswer {
	t.Helper()
	key := answerKey(t, db, questions)
	answers := make([]SubmittedAnswer, 0, len(questions))
	for i, q := range questions {
		selected := "definitely wrong"
		if i < n {
			selected = key[q.ID.String()]
		}
		answers = append(answers, SubmittedAnswer{QuestionID: q.ID.String(), SelectedAnswer: selected, TimeSpent: 5})
	}
	return answers
}

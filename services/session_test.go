package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu        sync.Mutex
	questions []PlayableQuestion
	startErr  error
	submitErr error
	submitted [][]SubmittedAnswer
}

func newFakeBackend(n int) *fakeBackend {
	b := &fakeBackend{}
	for i := 0; i < n; i++ {
		b.questions = append(b.questions, PlayableQuestion{
			ID:        uuid.New(),
			Question:  "Q?",
			Answers:   []string{"a", "b", "c", "d"},
			Points:    10,
			TimeLimit: 30,
		})
	}
	return b
}

func (b *fakeBackend) StartAttempt(ctx context.Context, userID, quizID uuid.UUID, contentID *uuid.UUID) (*StartQuizResult, error) {
	if b.startErr != nil {
		return nil, b.startErr
	}
	return &StartQuizResult{
		Success:        true,
		AttemptID:      uuid.New(),
		QuizID:         quizID,
		Questions:      b.questions,
		TotalQuestions: len(b.questions),
		MaxScore:       10 * len(b.questions),
		PassThreshold:  PassThreshold,
	}, nil
}

func (b *fakeBackend) SubmitAttempt(ctx context.Context, attemptID uuid.UUID, answers []SubmittedAnswer, timeTaken int) (*SubmitQuizResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submitted = append(b.submitted, answers)
	if b.submitErr != nil {
		return nil, b.submitErr
	}
	score := 0
	for _, a := range answers {
		if a.SelectedAnswer == "a" {
			score += 10
		}
	}
	return &SubmitQuizResult{Success: true, AttemptID: attemptID, Score: score, MaxScore: 10 * len(answers)}, nil
}

func (b *fakeBackend) Submitted() [][]SubmittedAnswer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.submitted
}

type messageLog struct {
	mu   sync.Mutex
	msgs []SessionMessage
}

func (l *messageLog) notify(m SessionMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, m)
}

func (l *messageLog) types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.msgs))
	for _, m := range l.msgs {
		out = append(out, m.Type)
	}
	return out
}

func (l *messageLog) count(kind string) int {
	n := 0
	for _, t := range l.types() {
		if t == kind {
			n++
		}
	}
	return n
}

func TestTransitionTable(t *testing.T) {
	valid := []struct {
		from SessionState
		ev   SessionEvent
		to   SessionState
	}{
		{StateIdle, EventStart, StateLoading},
		{StateLoading, EventLoaded, StatePlaying},
		{StateLoading, EventScored, StateCompleted},
		{StateLoading, EventFail, StateError},
		{StatePlaying, EventAnswer, StatePlaying},
		{StatePlaying, EventTimeout, StatePlaying},
		{StatePlaying, EventSubmit, StateLoading},
		{StatePlaying, EventFail, StateError},
		{StateError, EventStart, StateLoading},
	}
	for _, tc := range valid {
		to, err := NextState(tc.from, tc.ev)
		require.NoError(t, err, "%s on %s", tc.ev, tc.from)
		assert.Equal(t, tc.to, to)
	}

	invalid := []struct {
		from SessionState
		ev   SessionEvent
	}{
		{StateIdle, EventAnswer},
		{StateIdle, EventSubmit},
		{StateLoading, EventAnswer},
		{StatePlaying, EventStart},
		{StateCompleted, EventStart},
		{StateCompleted, EventAnswer},
		{StateCompleted, EventFail},
	}
	for _, tc := range invalid {
		_, err := NextState(tc.from, tc.ev)
		assert.True(t, errors.Is(err, ErrInvalidTransition), "%s on %s", tc.ev, tc.from)
	}
}

func TestSessionPlaysThroughManually(t *testing.T) {
	backend := newFakeBackend(3)
	var log messageLog
	s := NewQuizSession(backend, uuid.New(), uuid.New(), log.notify)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	assert.Equal(t, StatePlaying, s.State())

	for _, q := range backend.questions {
		require.NoError(t, s.Answer(ctx, q.ID, "a"))
	}

	assert.Equal(t, StateCompleted, s.State())
	require.NotNil(t, s.Result())
	assert.Equal(t, 30, s.Result().Score)

	submitted := backend.Submitted()
	require.Len(t, submitted, 1)
	require.Len(t, submitted[0], 3)
	for i, a := range submitted[0] {
		assert.Equal(t, backend.questions[i].ID.String(), a.QuestionID)
	}

	assert.Equal(t, 3, log.count("question"))
	assert.Equal(t, 1, log.count("result"))
	assert.Equal(t, 1, log.count("started"))

	err := s.Answer(ctx, backend.questions[0].ID, "a")
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestSessionRejectsAnswerForWrongQuestion(t *testing.T) {
	backend := newFakeBackend(2)
	s := NewQuizSession(backend, uuid.New(), uuid.New(), nil)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	err := s.Answer(ctx, backend.questions[1].ID, "a")
	assert.True(t, errors.Is(err, ErrStaleAnswer))
	assert.Equal(t, StatePlaying, s.State())
}

func TestSessionTimeoutRecordsEmptyAnswerAndAdvances(t *testing.T) {
	backend := newFakeBackend(3)
	var log messageLog
	s := NewQuizSession(backend, uuid.New(), uuid.New(), log.notify).WithQuestionTimeout(20 * time.Millisecond)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Answer(ctx, backend.questions[0].ID, "a"))

	// Questions two and three expire on their own.
	require.Eventually(t, func() bool { return s.State() == StateCompleted }, 2*time.Second, 5*time.Millisecond)

	submitted := backend.Submitted()
	require.Len(t, submitted, 1)
	require.Len(t, submitted[0], 3)
	assert.Equal(t, "a", submitted[0][0].SelectedAnswer)
	assert.Equal(t, "", submitted[0][1].SelectedAnswer)
	assert.Equal(t, "", submitted[0][2].SelectedAnswer)
	assert.Equal(t, 10, s.Result().Score)
}

func TestSessionAnswerCancelsTimer(t *testing.T) {
	backend := newFakeBackend(2)
	s := NewQuizSession(backend, uuid.New(), uuid.New(), nil).WithQuestionTimeout(50 * time.Millisecond)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Answer(ctx, backend.questions[0].ID, "a"))
	require.NoError(t, s.Answer(ctx, backend.questions[1].ID, "b"))

	// Give any stray timer the chance to fire.
	time.Sleep(120 * time.Millisecond)

	submitted := backend.Submitted()
	require.Len(t, submitted, 1)
	assert.Len(t, submitted[0], 2)
}

func TestSessionCloseStopsTimer(t *testing.T) {
	backend := newFakeBackend(2)
	s := NewQuizSession(backend, uuid.New(), uuid.New(), nil).WithQuestionTimeout(20 * time.Millisecond)

	require.NoError(t, s.Start(context.Background()))
	s.Close()
	time.Sleep(80 * time.Millisecond)

	assert.Empty(t, backend.Submitted())
	assert.True(t, errors.Is(s.Answer(context.Background(), backend.questions[0].ID, "a"), ErrSessionClosed))
	assert.True(t, errors.Is(s.Start(context.Background()), ErrSessionClosed))
}

func TestSessionStartFailureCanRetry(t *testing.T) {
	backend := newFakeBackend(1)
	backend.startErr = ErrQuizNotFound
	var log messageLog
	s := NewQuizSession(backend, uuid.New(), uuid.New(), log.notify)
	defer s.Close()
	ctx := context.Background()

	err := s.Start(ctx)
	assert.True(t, errors.Is(err, ErrQuizNotFound))
	assert.Equal(t, StateError, s.State())
	assert.Equal(t, 1, log.count("error"))

	backend.startErr = nil
	require.NoError(t, s.Start(ctx))
	assert.Equal(t, StatePlaying, s.State())
}

func TestSessionSubmitFailure(t *testing.T) {
	backend := newFakeBackend(1)
	backend.submitErr = ErrAttemptCompleted
	s := NewQuizSession(backend, uuid.New(), uuid.New(), nil)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	err := s.Answer(ctx, backend.questions[0].ID, "a")
	assert.True(t, errors.Is(err, ErrAttemptCompleted))
	assert.Equal(t, StateError, s.State())
}

func TestSessionEmptyQuiz(t *testing.T) {
	s := NewQuizSession(newFakeBackend(0), uuid.New(), uuid.New(), nil)
	defer s.Close()

	err := s.Start(context.Background())
	assert.True(t, errors.Is(err, ErrQuizEmpty))
	assert.Equal(t, StateError, s.State())
}

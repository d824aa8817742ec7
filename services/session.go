package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

type SessionState string

const (
	StateIdle      SessionState = "idle"
	StateLoading   SessionState = "loading"
	StatePlaying   SessionState = "playing"
	StateCompleted SessionState = "completed"
	StateError     SessionState = "error"
)

type SessionEvent string

const (
	EventStart   SessionEvent = "start"
	EventLoaded  SessionEvent = "loaded"
	EventAnswer  SessionEvent = "answer"
	EventTimeout SessionEvent = "timeout"
	EventSubmit  SessionEvent = "submit"
	EventScored  SessionEvent = "scored"
	EventFail    SessionEvent = "fail"
)

// sessionTransitions is the complete transition table. Any pair missing here
// is rejected with ErrInvalidTransition.
var sessionTransitions = map[SessionState]map[SessionEvent]SessionState{
	StateIdle: {
		EventStart: StateLoading,
	},
	StateLoading: {
		EventLoaded: StatePlaying,
		EventScored: StateCompleted,
		EventFail:   StateError,
	},
	StatePlaying: {
		EventAnswer:  StatePlaying,
		EventTimeout: StatePlaying,
		EventSubmit:  StateLoading,
		EventFail:    StateError,
	},
	StateCompleted: {},
	StateError: {
		EventStart: StateLoading,
	},
}

var (
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrSessionClosed     = errors.New("session closed")
	ErrStaleAnswer       = errors.New("answer does not match the current question")
)

// NextState looks up the transition table.
func NextState(from SessionState, ev SessionEvent) (SessionState, error) {
	to, ok := sessionTransitions[from][ev]
	if !ok {
		return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, from)
	}
	return to, nil
}

// AttemptBackend is what a session needs from the attempt service.
type AttemptBackend interface {
	StartAttempt(ctx context.Context, userID, quizID uuid.UUID, contentID *uuid.UUID) (*StartQuizResult, error)
	SubmitAttempt(ctx context.Context, attemptID uuid.UUID, answers []SubmittedAnswer, timeTaken int) (*SubmitQuizResult, error)
}

type SessionMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// QuizSession drives one play-through: one question at a time, each with its
// own countdown. notify receives every outbound message and must not block.
type QuizSession struct {
	backend AttemptBackend
	userID  uuid.UUID
	quizID  uuid.UUID
	notify  func(SessionMessage)

	// questionTimeout overrides each question's own limit when non-zero.
	questionTimeout time.Duration

	mu              sync.Mutex
	state           SessionState
	attemptID       uuid.UUID
	questions       []PlayableQuestion
	index           int
	answers         []SubmittedAnswer
	startedAt       time.Time
	questionShownAt time.Time
	timer           *time.Timer
	result          *SubmitQuizResult
	closed          bool
}

func NewQuizSession(backend AttemptBackend, userID, quizID uuid.UUID, notify func(SessionMessage)) *QuizSession {
	if notify == nil {
		notify = func(SessionMessage) {}
	}
	return &QuizSession{
		backend: backend,
		userID:  userID,
		quizID:  quizID,
		notify:  notify,
		state:   StateIdle,
	}
}

// WithQuestionTimeout sets one countdown for every question.
func (s *QuizSession) WithQuestionTimeout(d time.Duration) *QuizSession {
	s.questionTimeout = d
	return s
}

func (s *QuizSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *QuizSession) Result() *SubmitQuizResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Progress reports where the session is: attempt, current question index and
// question count.
func (s *QuizSession) Progress() (SessionState, uuid.UUID, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.attemptID, s.index, len(s.questions)
}

func (s *QuizSession) fireLocked(ev SessionEvent) error {
	next, err := NextState(s.state, ev)
	if err != nil {
		return err
	}
	if next != s.state {
		s.state = next
		s.notify(SessionMessage{Type: "state", Payload: map[string]interface{}{"state": next}})
	}
	return nil
}

// Start opens an attempt and shows the first question.
func (s *QuizSession) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if err := s.fireLocked(EventStart); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	started, err := s.backend.StartAttempt(ctx, s.userID, s.quizID, nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if err != nil {
		s.failLocked(err)
		return err
	}
	if len(started.Questions) == 0 {
		s.failLocked(ErrQuizEmpty)
		return ErrQuizEmpty
	}

	s.attemptID = started.AttemptID
	s.questions = started.Questions
	s.index = 0
	s.answers = make([]SubmittedAnswer, 0, len(started.Questions))
	s.startedAt = time.Now()
	if err := s.fireLocked(EventLoaded); err != nil {
		return err
	}
	s.notify(SessionMessage{Type: "started", Payload: map[string]interface{}{
		"attempt_id":      started.AttemptID,
		"total_questions": len(started.Questions),
		"max_score":       started.MaxScore,
		"pass_threshold":  started.PassThreshold,
	}})
	s.showQuestionLocked()
	return nil
}

// Answer records the player's answer for the current question and advances.
func (s *QuizSession) Answer(ctx context.Context, questionID uuid.UUID, answer string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.state != StatePlaying {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s on %s", ErrInvalidTransition, EventAnswer, s.state)
	}
	if s.questions[s.index].ID != questionID {
		s.mu.Unlock()
		return ErrStaleAnswer
	}
	submit, err := s.advanceLocked(s.index, answer, EventAnswer)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if submit {
		return s.submit(ctx)
	}
	return nil
}

func (s *QuizSession) onTimeout(index int) {
	s.mu.Lock()
	if s.closed || s.state != StatePlaying || s.index != index {
		s.mu.Unlock()
		return
	}
	log.Printf("Question %d of attempt %s timed out", index+1, s.attemptID)
	submit, err := s.advanceLocked(index, "", EventTimeout)
	s.mu.Unlock()
	if err == nil && submit {
		_ = s.submit(context.Background())
	}
}

// advanceLocked records an answer for question index and either shows the
// next question or reports that the attempt is ready to submit. Manual
// answers and timeouts share this path.
func (s *QuizSession) advanceLocked(index int, answer string, ev SessionEvent) (submit bool, err error) {
	if s.index != index {
		return false, ErrStaleAnswer
	}
	if err := s.fireLocked(ev); err != nil {
		return false, err
	}
	s.stopTimerLocked()

	q := s.questions[index]
	s.answers = append(s.answers, SubmittedAnswer{
		QuestionID:     q.ID.String(),
		SelectedAnswer: answer,
		TimeSpent:      int(time.Since(s.questionShownAt).Seconds()),
	})
	s.index++

	if s.index >= len(s.questions) {
		if err := s.fireLocked(EventSubmit); err != nil {
			return false, err
		}
		return true, nil
	}
	s.showQuestionLocked()
	return false, nil
}

func (s *QuizSession) submit(ctx context.Context) error {
	s.mu.Lock()
	attemptID := s.attemptID
	answers := append([]SubmittedAnswer(nil), s.answers...)
	timeTaken := int(time.Since(s.startedAt).Seconds())
	s.mu.Unlock()

	result, err := s.backend.SubmitAttempt(ctx, attemptID, answers, timeTaken)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if err != nil {
		s.failLocked(err)
		return err
	}
	s.result = result
	if err := s.fireLocked(EventScored); err != nil {
		return err
	}
	s.notify(SessionMessage{Type: "result", Payload: result})
	return nil
}

func (s *QuizSession) showQuestionLocked() {
	q := s.questions[s.index]
	s.questionShownAt = time.Now()

	limit := s.questionTimeout
	if limit <= 0 {
		limit = time.Duration(q.TimeLimit) * time.Second
	}
	index := s.index
	s.timer = time.AfterFunc(limit, func() { s.onTimeout(index) })

	s.notify(SessionMessage{Type: "question", Payload: map[string]interface{}{
		"index":      index,
		"total":      len(s.questions),
		"question":   q,
		"time_limit": int(limit.Seconds()),
	}})
}

func (s *QuizSession) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *QuizSession) failLocked(err error) {
	s.stopTimerLocked()
	if fireErr := s.fireLocked(EventFail); fireErr != nil {
		log.Printf("Session for quiz %s could not enter error state: %v", s.quizID, fireErr)
	}
	s.notify(SessionMessage{Type: "error", Payload: map[string]interface{}{"error": err.Error()}})
}

// Close stops the countdown and discards all in-memory progress. Whatever
// was already written to the attempt row stays.
func (s *QuizSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.stopTimerLocked()
	s.questions = nil
	s.answers = nil
}

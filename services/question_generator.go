package services

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"reflect"
	"strings"
	"time"

	"cinecheck/models"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/blake2b"
)

const (
	QuestionsPerQuiz    = 8
	QuestionTimeLimit   = 30 // seconds
	defaultMaxRetries   = 2
	defaultRetryBackoff = time.Second
)

// RequiredDistribution is the difficulty split every generated quiz must have.
var RequiredDistribution = models.DifficultyCounts{Easy: 3, Medium: 3, Hard: 2}

var questionCategories = []string{"plot", "characters", "cast", "production", "trivia", "quotes"}

var difficultyPoints = map[string]int{
	models.DifficultyEasy:   10,
	models.DifficultyMedium: 20,
	models.DifficultyHard:   30,
}

// PointsFor returns the point value of a difficulty tier.
func PointsFor(difficulty string) int {
	return difficultyPoints[difficulty]
}

// TextModel is a generative text model: prompt in, text out.
type TextModel interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
	Name() string
}

type GeneratedQuestion struct {
	Question         string   `json:"question" validate:"required"`
	CorrectAnswer    string   `json:"correct_answer" validate:"required"`
	IncorrectAnswers []string `json:"incorrect_answers" validate:"len=3,dive,required"`
	Difficulty       string   `json:"difficulty" validate:"required,oneof=easy medium hard"`
	Category         string   `json:"category" validate:"required"`
	Explanation      string   `json:"explanation"`
	TimeLimit        int      `json:"time_limit"`
	Points           int      `json:"points"`
}

// GenerationMeta records how a question set was produced.
type GenerationMeta struct {
	Model        string        `json:"model"`
	Attempts     int           `json:"attempts"`
	Duration     time.Duration `json:"-"`
	PromptHash   string        `json:"prompt_hash"`
	PromptLength int           `json:"prompt_length"`
}

func (m GenerationMeta) AsMap() map[string]interface{} {
	return map[string]interface{}{
		"model":         m.Model,
		"attempts":      m.Attempts,
		"duration_ms":   m.Duration.Milliseconds(),
		"prompt_hash":   m.PromptHash,
		"prompt_length": m.PromptLength,
	}
}

type FieldError struct {
	Index  int    `json:"index"`
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError reports every problem found in a generated question set.
// Index is -1 for problems with the set as a whole.
type ValidationError struct {
	Problems []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		if p.Index < 0 {
			parts = append(parts, fmt.Sprintf("%s: %s", p.Field, p.Reason))
		} else {
			parts = append(parts, fmt.Sprintf("question %d %s: %s", p.Index, p.Field, p.Reason))
		}
	}
	return "invalid generated questions: " + strings.Join(parts, "; ")
}

type QuestionGenerator struct {
	model      TextModel
	validate   *validator.Validate
	maxRetries int
	backoff    time.Duration
}

func NewQuestionGenerator(model TextModel) *QuestionGenerator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &QuestionGenerator{
		model:      model,
		validate:   v,
		maxRetries: defaultMaxRetries,
		backoff:    defaultRetryBackoff,
	}
}

// WithRetry overrides the retry policy.
func (g *QuestionGenerator) WithRetry(maxRetries int, backoff time.Duration) *QuestionGenerator {
	g.maxRetries = maxRetries
	g.backoff = backoff
	return g
}

// Generate asks the model for a full question set, retrying with a fixed
// backoff on any network, parse or validation failure.
func (g *QuestionGenerator) Generate(ctx context.Context, md *Metadata) ([]GeneratedQuestion, GenerationMeta, error) {
	prompt := BuildQuizPrompt(md)
	sum := blake2b.Sum256([]byte(prompt))
	meta := GenerationMeta{
		Model:        g.model.Name(),
		PromptHash:   hex.EncodeToString(sum[:]),
		PromptLength: len(prompt),
	}

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= g.maxRetries+1; attempt++ {
		meta.Attempts = attempt

		questions, err := g.generateOnce(ctx, prompt)
		if err == nil {
			meta.Duration = time.Since(start)
			return questions, meta, nil
		}
		lastErr = err
		log.Printf("Question generation for %q attempt %d/%d failed: %v", md.Title, attempt, g.maxRetries+1, err)

		if errors.Is(err, ErrAINotConfigured) || attempt > g.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			meta.Duration = time.Since(start)
			return nil, meta, fmt.Errorf("%w: %w", ErrGenerationFailed, ctx.Err())
		case <-time.After(g.backoff):
		}
	}

	meta.Duration = time.Since(start)
	return nil, meta, fmt.Errorf("%w after %d attempts: %w", ErrGenerationFailed, meta.Attempts, lastErr)
}

func (g *QuestionGenerator) generateOnce(ctx context.Context, prompt string) ([]GeneratedQuestion, error) {
	text, err := g.model.GenerateText(ctx, prompt)
	if err != nil {
		return nil, err
	}

	questions, err := ParseGeneratedQuestions(text)
	if err != nil {
		return nil, err
	}

	normalizeQuestions(questions)
	if err := g.Validate(questions); err != nil {
		return nil, err
	}
	return questions, nil
}

// ParseGeneratedQuestions accepts either {"questions": [...]} or a bare
// array, optionally wrapped in Markdown code fences.
func ParseGeneratedQuestions(text string) ([]GeneratedQuestion, error) {
	content := stripCodeFences(text)
	if content == "" {
		return nil, errors.New("AI returned an empty response")
	}

	if strings.HasPrefix(content, "[") {
		var questions []GeneratedQuestion
		if err := json.Unmarshal([]byte(content), &questions); err != nil {
			return nil, fmt.Errorf("AI returned invalid JSON: %w", err)
		}
		return questions, nil
	}

	var envelope struct {
		Questions []GeneratedQuestion `json:"questions"`
	}
	if err := json.Unmarshal([]byte(content), &envelope); err != nil {
		return nil, fmt.Errorf("AI returned invalid JSON: %w", err)
	}
	return envelope.Questions, nil
}

func stripCodeFences(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		if nl := strings.Index(content, "\n"); nl >= 0 {
			content = content[nl+1:]
		} else {
			content = strings.TrimPrefix(content, "```")
		}
	}
	content = strings.TrimSpace(content)
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	// Drop any prose the model put around the JSON.
	if content != "" && content[0] != '{' && content[0] != '[' {
		start := strings.IndexAny(content, "{[")
		if start < 0 {
			return content
		}
		content = content[start:]
	}
	if end := strings.LastIndexAny(content, "}]"); end >= 0 {
		content = content[:end+1]
	}
	return content
}

func normalizeQuestions(questions []GeneratedQuestion) {
	for i := range questions {
		q := &questions[i]
		q.Question = strings.TrimSpace(q.Question)
		q.CorrectAnswer = strings.TrimSpace(q.CorrectAnswer)
		for j := range q.IncorrectAnswers {
			q.IncorrectAnswers[j] = strings.TrimSpace(q.IncorrectAnswers[j])
		}
		q.Difficulty = strings.ToLower(strings.TrimSpace(q.Difficulty))
		q.Category = strings.ToLower(strings.TrimSpace(q.Category))
		q.Explanation = strings.TrimSpace(q.Explanation)
		q.TimeLimit = QuestionTimeLimit
		q.Points = PointsFor(q.Difficulty)
	}
}

// Validate checks every question's fields and the set's size and difficulty
// split, collecting all problems into one *ValidationError.
func (g *QuestionGenerator) Validate(questions []GeneratedQuestion) error {
	var problems []FieldError

	if len(questions) != QuestionsPerQuiz {
		problems = append(problems, FieldError{
			Index:  -1,
			Field:  "questions",
			Reason: fmt.Sprintf("expected %d questions, got %d", QuestionsPerQuiz, len(questions)),
		})
	}

	var counts models.DifficultyCounts
	for i, q := range questions {
		counts.Add(q.Difficulty)

		if err := g.validate.Struct(q); err != nil {
			var verrs validator.ValidationErrors
			if !errors.As(err, &verrs) {
				return err
			}
			for _, fe := range verrs {
				problems = append(problems, FieldError{Index: i, Field: fe.Field(), Reason: describeFieldError(fe)})
			}
			continue
		}

		for _, wrong := range q.IncorrectAnswers {
			if strings.EqualFold(wrong, q.CorrectAnswer) {
				problems = append(problems, FieldError{Index: i, Field: "incorrect_answers", Reason: "repeats the correct answer"})
				break
			}
		}
	}

	if len(questions) == QuestionsPerQuiz && counts != RequiredDistribution {
		problems = append(problems, FieldError{
			Index: -1,
			Field: "difficulty",
			Reason: fmt.Sprintf("expected %d easy / %d medium / %d hard, got %d / %d / %d",
				RequiredDistribution.Easy, RequiredDistribution.Medium, RequiredDistribution.Hard,
				counts.Easy, counts.Medium, counts.Hard),
		})
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "len":
		return fmt.Sprintf("must have exactly %s entries", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// BuildQuizPrompt renders the instruction prompt for one title.
func BuildQuizPrompt(md *Metadata) string {
	kind := "movie"
	if md.ContentType == models.ContentTypeTV {
		kind = "TV series"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a film and television trivia expert. Write a quiz that checks whether someone has actually watched the %s %q", kind, md.Title)
	if year := md.Year(); year != "" {
		fmt.Fprintf(&b, " (%s)", year)
	}
	b.WriteString(".\n\nReference information:\n")
	if md.Overview != "" {
		fmt.Fprintf(&b, "- Overview: %s\n", md.Overview)
	}
	if md.Tagline != "" {
		fmt.Fprintf(&b, "- Tagline: %s\n", md.Tagline)
	}
	if len(md.Genres) > 0 {
		fmt.Fprintf(&b, "- Genres: %s\n", strings.Join(md.Genres, ", "))
	}
	if len(md.Directors) > 0 {
		fmt.Fprintf(&b, "- Directed by: %s\n", strings.Join(md.Directors, ", "))
	}
	if len(md.Creators) > 0 {
		fmt.Fprintf(&b, "- Created by: %s\n", strings.Join(md.Creators, ", "))
	}
	if len(md.Writers) > 0 {
		fmt.Fprintf(&b, "- Written by: %s\n", strings.Join(md.Writers, ", "))
	}
	if len(md.Cast) > 0 {
		roles := make([]string, 0, len(md.Cast))
		for _, c := range md.Cast {
			if c.Character != "" {
				roles = append(roles, fmt.Sprintf("%s as %s", c.Name, c.Character))
			} else {
				roles = append(roles, c.Name)
			}
		}
		fmt.Fprintf(&b, "- Cast: %s\n", strings.Join(roles, "; "))
	}
	if len(md.Keywords) > 0 {
		fmt.Fprintf(&b, "- Keywords: %s\n", strings.Join(md.Keywords, ", "))
	}

	fmt.Fprintf(&b, `
Rules:
- Write exactly %d multiple-choice questions.
- Difficulty split: exactly %d "easy", %d "medium" and %d "hard".
- Spread questions across these categories: %s.
- Each question has one correct answer and exactly 3 plausible but wrong answers. Never repeat the correct answer among the wrong ones.
- Questions must be answerable by someone who watched it, not by reading the overview above.
- Keep answers short (under 80 characters).
- Include a one-sentence explanation of the correct answer.

Respond with ONLY valid JSON (no markdown, no code fences, no commentary) in this format:
{
  "questions": [
    {
      "question": "Question text?",
      "correct_answer": "Right answer",
      "incorrect_answers": ["Wrong 1", "Wrong 2", "Wrong 3"],
      "difficulty": "easy",
      "category": "plot",
      "explanation": "Why the answer is right.",
      "time_limit": %d,
      "points": %d
    }
  ]
}`, QuestionsPerQuiz, RequiredDistribution.Easy, RequiredDistribution.Medium, RequiredDistribution.Hard,
		strings.Join(questionCategories, ", "), QuestionTimeLimit, PointsFor(models.DifficultyEasy))

	return b.String()
}

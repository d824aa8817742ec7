package models

// All lists every model for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&Content{},
		&Quiz{},
		&QuizQuestion{},
		&QuizAttempt{},
		&UserQuizCompletion{},
		&Profile{},
		&QuizGenerationLog{},
		&Review{},
	}
}

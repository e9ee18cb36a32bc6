package pkg

import "time"

// AskedQuestion is a tracked question keyed by its intent hash.
type AskedQuestion struct {
	QuestionID       string         `json:"question_id"`
	QuestionText     string         `json:"question_text"`
	Category         string         `json:"category"`
	Status           QuestionStatus `json:"status"`
	AttemptCount     int            `json:"attempt_count"`
	LastAsked        time.Time      `json:"last_asked"`
	ResponseReceived bool           `json:"response_received"`
	ResponseClarity  string         `json:"response_clarity,omitempty"`
}

// DataCompleteness is a quick count of meaningful values in collected data.
type DataCompleteness struct {
	TotalFields           int     `json:"total_fields"`
	MeaningfulFields      int     `json:"meaningful_fields"`
	CompletionPercentage  float64 `json:"completion_percentage"`
	MeetsMinimumThreshold bool    `json:"meets_minimum_threshold"`
}

// MissingInfo lists OLDCARTS categories without usable answers.
type MissingInfo struct {
	MissingCategories    []string `json:"missing_categories"`
	PartiallyComplete    []string `json:"partially_complete"`
	CompletionPercentage float64  `json:"completion_percentage"`
	NextPriority         string   `json:"next_priority,omitempty"`
}

// ConversationContext is the memory snapshot of a conversation. It is cached
// between turns and invalidated whenever a message is added.
type ConversationContext struct {
	SessionID          string                   `json:"session_id"`
	UserID             string                   `json:"user_id"`
	Status             SessionStatus            `json:"status"`
	CurrentPhase       string                   `json:"current_phase"`
	EmergencyLevel     EmergencyLevel           `json:"emergency_level"`
	History            []HistoryEntry           `json:"conversation_history"`
	MessageCount       int                      `json:"message_count"`
	AskedQuestions     map[string]AskedQuestion `json:"asked_questions"`
	QuestionAttempts   map[string]int           `json:"question_attempts"`
	CollectedData      map[string]any           `json:"collected_data"`
	DataCompleteness   DataCompleteness         `json:"data_completeness"`
	MissingInformation MissingInfo              `json:"missing_information"`
	LastUserMessage    string                   `json:"last_user_message,omitempty"`
	LastAIMessage      string                   `json:"last_ai_message,omitempty"`
	Tone               string                   `json:"conversation_tone"`
	RetrievedAt        time.Time                `json:"context_retrieved_at"`
	CacheKey           string                   `json:"cache_key"`
}

// PersonalityAdaptation is how the assistant adjusts its manner to the
// patient.
type PersonalityAdaptation struct {
	CommunicationApproach string `json:"communication_approach"`
	QuestionStyle         string `json:"question_style"`
	EmpathyLevel          string `json:"empathy_level"`
	LanguageComplexity    string `json:"language_complexity"`
	Reasoning             string `json:"adaptation_reasoning,omitempty"`
}

// PacingAssessment grades the speed of the conversation.
type PacingAssessment struct {
	CurrentPace           string  `json:"current_pace"`
	RecommendedAdjustment string  `json:"recommended_adjustment"`
	NextQuestionApproach  string  `json:"next_question_approach"`
	MinutesPerMessage     float64 `json:"minutes_per_message"`
}

package pkg

import (
	"strings"
	"time"
)

// SessionStatus is the lifecycle state of an intake conversation.
type SessionStatus string

const (
	StatusActive     SessionStatus = "ACTIVE"
	StatusCompleted  SessionStatus = "COMPLETED"
	StatusAborted    SessionStatus = "ABORTED"
	StatusExpired    SessionStatus = "EXPIRED"
	StatusPaused     SessionStatus = "PAUSED"
	StatusEmergency  SessionStatus = "EMERGENCY"
	StatusIncomplete SessionStatus = "INCOMPLETE"
	StatusTimeout    SessionStatus = "TIMEOUT"
	StatusAbandoned  SessionStatus = "ABANDONED"
)

// Terminal reports whether the session can no longer accept patient messages.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusEmergency, StatusAborted, StatusExpired, StatusTimeout, StatusAbandoned:
		return true
	}
	return false
}

// EmergencyLevel grades how urgently the patient needs care.
type EmergencyLevel string

const (
	EmergencyNone     EmergencyLevel = "NONE"
	EmergencyLow      EmergencyLevel = "LOW"
	EmergencyModerate EmergencyLevel = "MODERATE"
	EmergencyHigh     EmergencyLevel = "HIGH"
	EmergencyCritical EmergencyLevel = "CRITICAL"
)

var emergencyRank = map[EmergencyLevel]int{
	EmergencyNone:     0,
	EmergencyLow:      1,
	EmergencyModerate: 2,
	EmergencyHigh:     3,
	EmergencyCritical: 4,
}

// ParseEmergencyLevel maps free-form model output onto a level. Unknown
// values become EmergencyNone.
func ParseEmergencyLevel(s string) EmergencyLevel {
	l := EmergencyLevel(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := emergencyRank[l]; ok {
		return l
	}
	return EmergencyNone
}

// Rank orders levels from NONE (0) to CRITICAL (4).
func (l EmergencyLevel) Rank() int { return emergencyRank[l] }

// Urgent is true for levels that require immediate care.
func (l EmergencyLevel) Urgent() bool { return l.Rank() >= emergencyRank[EmergencyHigh] }

// Max returns the more severe of the two levels.
func (l EmergencyLevel) Max(o EmergencyLevel) EmergencyLevel {
	if o.Rank() > l.Rank() {
		return o
	}
	if l == "" {
		return EmergencyNone
	}
	return l
}

// CompletenessLevel is the tier derived from the number of meaningful fields.
type CompletenessLevel string

const (
	CompletenessMinimal       CompletenessLevel = "MINIMAL"
	CompletenessBasic         CompletenessLevel = "BASIC"
	CompletenessAdequate      CompletenessLevel = "ADEQUATE"
	CompletenessComprehensive CompletenessLevel = "COMPREHENSIVE"
	CompletenessComplete      CompletenessLevel = "COMPLETE"
)

// QuestionStatus tracks a single question asked of the patient.
type QuestionStatus string

const (
	QuestionPending  QuestionStatus = "PENDING"
	QuestionAsked    QuestionStatus = "ASKED"
	QuestionAnswered QuestionStatus = "ANSWERED"
	QuestionSkipped  QuestionStatus = "SKIPPED"
	QuestionUnclear  QuestionStatus = "UNCLEAR"
	QuestionTimeout  QuestionStatus = "TIMEOUT"
)

// MessageRole describes who authored a message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// User is a patient identified by an external user id.
type User struct {
	ID            int64     `json:"id"`
	UserID        string    `json:"user_id"`
	Age           *int      `json:"age,omitempty"`
	BiologicalSex *string   `json:"biological_sex,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	LastActive    time.Time `json:"last_active"`
}

// Extraction is the parsed output of the extraction step.
type Extraction struct {
	ExtractedField        string         `json:"extracted_field"`
	ExtractedValue        any            `json:"extracted_value"`
	AdditionalExtractions map[string]any `json:"additional_extractions,omitempty"`
	Confidence            float64        `json:"extraction_confidence"`
	UserCooperative       bool           `json:"user_cooperative"`
}

// Evaluation is the parsed output of the evaluation step.
type Evaluation struct {
	CompletionReadiness float64 `json:"completion_readiness"`
	EmergencyLevel      string  `json:"emergency_level"`
	EmergencyDetected   bool    `json:"emergency_detected,omitempty"`
	ShouldContinue      bool    `json:"should_continue"`
	NextFieldPriority   string  `json:"next_field_priority,omitempty"`
	Reasoning           string  `json:"evaluation_reasoning,omitempty"`
	ShouldComplete      bool    `json:"conversation_should_complete"`
}

// AgentContext is the engine memory carried between turns.
type AgentContext struct {
	LastAgentAction       string         `json:"last_agent_action,omitempty"`
	LastExtraction        *Extraction    `json:"last_extraction,omitempty"`
	Evaluation            *Evaluation    `json:"evaluation,omitempty"`
	OrchestratorReasoning string         `json:"orchestrator_reasoning,omitempty"`
	ContextUpdate         map[string]any `json:"context_update,omitempty"`
	QuestionField         string         `json:"question_field,omitempty"`
	AutoCompletionReason  string         `json:"auto_completion_reason,omitempty"`
	EmergencyResponse     string         `json:"emergency_response,omitempty"`
	RetryCount            int            `json:"retry_count"`
	CommunicationStyle    string         `json:"communication_style,omitempty"`

	Personality *PersonalityAdaptation `json:"personality_adaptation,omitempty"`
	Pacing      *PacingAssessment      `json:"pacing,omitempty"`
}

// SkipEntry records a question the patient chose not to answer.
type SkipEntry struct {
	QuestionID     string    `json:"question_id"`
	Field          string    `json:"field,omitempty"`
	SkippedAt      time.Time `json:"skipped_at"`
	Reason         string    `json:"reason"`
	CanReturnLater bool      `json:"can_return_later"`
}

// UnclearEntry records a response that needs clarification.
type UnclearEntry struct {
	QuestionID            string    `json:"question_id"`
	Response              string    `json:"response"`
	FlaggedAt             time.Time `json:"flagged_at"`
	NeedsClarification    bool      `json:"needs_clarification"`
	ClarificationAttempts int       `json:"clarification_attempts"`
}

// Conversation is one intake session.
type Conversation struct {
	ID                    int64             `json:"id"`
	SessionID             string            `json:"session_id"`
	UserID                string            `json:"user_id"`
	Status                SessionStatus     `json:"status"`
	CurrentPhase          string            `json:"current_phase"`
	CurrentField          string            `json:"current_field"`
	EmergencyLevel        EmergencyLevel    `json:"emergency_level"`
	RedFlags              []string          `json:"red_flags"`
	CollectedData         map[string]any    `json:"collected_data"`
	AgentContext          AgentContext      `json:"agent_context"`
	CompletenessLevel     CompletenessLevel `json:"completeness_level"`
	CompletionScore       float64           `json:"completion_score"`
	CompletionReadiness   float64           `json:"completion_readiness"`
	MinDataThresholdMet   bool              `json:"min_data_threshold_met"`
	CanBeSaved            bool              `json:"can_be_saved"`
	SkippedQuestions      []SkipEntry       `json:"skipped_questions"`
	UnclearResponses      []UnclearEntry    `json:"unclear_responses"`
	LastActivity          time.Time         `json:"last_activity"`
	TimeoutWarnings       int               `json:"timeout_warnings"`
	IdleTimeoutMinutes    int               `json:"idle_timeout_minutes"`
	SessionTimeoutMinutes int               `json:"session_timeout_minutes"`
	CanResume             bool              `json:"can_resume"`
	ResumeCount           int               `json:"resume_count"`
	LastResumeAt          *time.Time        `json:"last_resume_at,omitempty"`
	RequestedHandoff      bool              `json:"requested_human_handoff"`
	HandoffReason         string            `json:"handoff_reason,omitempty"`
	StartedAt             time.Time         `json:"started_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
	CompletedAt           *time.Time        `json:"completed_at,omitempty"`
	LastTimeoutWarning    *time.Time        `json:"last_timeout_warning,omitempty"`
}

// Message represents a chat message in a session.
type Message struct {
	ID              int64       `json:"id"`
	SessionID       string      `json:"session_id"`
	Role            MessageRole `json:"role"`
	Content         string      `json:"content"`
	Phase           string      `json:"phase,omitempty"`
	MedicalCategory string      `json:"medical_category,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

// QuestionRecord is a row of question tracking used for duplicate detection.
type QuestionRecord struct {
	ID              int64          `json:"id"`
	SessionID       string         `json:"session_id"`
	QuestionID      string         `json:"question_id"`
	Category        string         `json:"question_category"`
	QuestionText    string         `json:"question_text"`
	QuestionHash    string         `json:"question_hash"`
	Status          QuestionStatus `json:"status"`
	UserResponse    string         `json:"user_response,omitempty"`
	ResponseClarity string         `json:"response_clarity,omitempty"`
	NeedsFollowup   bool           `json:"needs_followup"`
	SkipReason      string         `json:"skip_reason,omitempty"`
	AttemptCount    int            `json:"attempt_count"`
	MaxAttempts     int            `json:"max_attempts"`
	LastAskedAt     time.Time      `json:"last_asked_at"`
	AnsweredAt      *time.Time     `json:"answered_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// CompletenessCheck is the persisted result of a completeness evaluation.
type CompletenessCheck struct {
	SessionID             string          `json:"session_id"`
	CategoryComplete      map[string]bool `json:"category_complete"`
	MinFieldsRequired     int             `json:"min_fields_required"`
	FieldsCollected       int             `json:"min_fields_collected"`
	PointsEarned          int             `json:"points_earned"`
	CompletionPercentage  float64         `json:"completion_percentage"`
	MeetsStorageThreshold bool            `json:"meets_storage_threshold"`
	CanCompleteSession    bool            `json:"can_complete_session"`
	LastCalculated        time.Time       `json:"last_calculated"`
}

// EmergencyAlert is raised when triage or evaluation finds an urgent case.
type EmergencyAlert struct {
	ID              int64          `json:"id"`
	SessionID       string         `json:"session_id"`
	UserID          string         `json:"user_id"`
	AlertType       string         `json:"alert_type"`
	Severity        EmergencyLevel `json:"severity"`
	TriggerSymptoms []string       `json:"trigger_symptoms"`
	Recommendation  string         `json:"recommendation"`
	UserNotified    bool           `json:"user_notified"`
	Escalated       bool           `json:"escalated"`
	CreatedAt       time.Time      `json:"created_at"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty"`
}

// TimeoutEvent records a warning or timeout sent to an idle patient.
type TimeoutEvent struct {
	ID              int64     `json:"id"`
	SessionID       string    `json:"session_id"`
	EventType       string    `json:"event_type"`
	TimeoutDuration int       `json:"timeout_duration"`
	WarningMessage  string    `json:"warning_message"`
	UserResponded   bool      `json:"user_responded"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// Symptom is the primary complaint with its OLDCARTS attributes, written
// when a session completes.
type Symptom struct {
	ID                 int64     `json:"id"`
	SessionID          string    `json:"session_id"`
	Name               string    `json:"name"`
	Description        string    `json:"description,omitempty"`
	IsPrimary          bool      `json:"is_primary"`
	Onset              string    `json:"onset,omitempty"`
	Location           string    `json:"location,omitempty"`
	Duration           string    `json:"duration,omitempty"`
	Character          string    `json:"character,omitempty"`
	AggravatingFactors string    `json:"aggravating_factors,omitempty"`
	RelievingFactors   string    `json:"relieving_factors,omitempty"`
	Timing             string    `json:"timing,omitempty"`
	Severity           string    `json:"severity,omitempty"`
	Radiation          string    `json:"radiation,omitempty"`
	Progression        string    `json:"progression,omitempty"`
	RelatedSymptoms    string    `json:"related_symptoms,omitempty"`
	TreatmentAttempted string    `json:"treatment_attempted,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// Summary holds the clinician-facing insight summary for a session. The
// structured field stores the full model output; KeyPoints and FreeText
// are used for quick display.
type Summary struct {
	ID         int64                  `json:"id"`
	SessionID  string                 `json:"session_id"`
	KeyPoints  []string               `json:"key_points"`
	Structured map[string]interface{} `json:"structured"`
	FreeText   string                 `json:"free_text"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// SessionEvent is published on the notification channel.
type SessionEvent struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	Status    SessionStatus  `json:"status,omitempty"`
	Level     EmergencyLevel `json:"emergency_level,omitempty"`
	At        time.Time      `json:"at"`
}

const (
	EventCompleted     = "session_completed"
	EventEmergency     = "emergency_alert"
	EventSummaryUpdate = "summary_update"
	EventHandoff       = "handoff_requested"
	EventTimeout       = "session_timeout"
)

// ChatRequest is a patient message. An empty SessionID starts a new session.
type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
}

// HistoryEntry is one message in the conversation history returned to clients.
type HistoryEntry struct {
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
	Phase     string      `json:"phase,omitempty"`
}

// AgentContextView is the subset of agent context exposed to clients.
type AgentContextView struct {
	LastAgentAction       string      `json:"last_agent_action,omitempty"`
	LastExtraction        *Extraction `json:"last_extraction,omitempty"`
	OrchestratorReasoning string      `json:"orchestrator_reasoning,omitempty"`
	CurrentField          string      `json:"current_field,omitempty"`
	CompletionReadiness   float64     `json:"completion_readiness"`
}

// ProgressSummary counts collected OLDCARTS fields.
type ProgressSummary struct {
	TotalFieldsPossible  int     `json:"total_fields_possible"`
	FieldsCompleted      int     `json:"fields_completed"`
	CompletionPercentage float64 `json:"completion_percentage"`
}

// ChatResponse is the reply to a ChatRequest.
type ChatResponse struct {
	SessionID            string           `json:"session_id"`
	Message              string           `json:"message"`
	ConversationComplete bool             `json:"conversation_complete"`
	Status               SessionStatus    `json:"status"`
	CollectedData        map[string]any   `json:"collected_data"`
	FieldsCollected      int              `json:"fields_collected"`
	NextField            string           `json:"next_field"`
	CurrentSection       string           `json:"current_section"`
	CompletionReadiness  float64          `json:"completion_readiness"`
	EmergencyLevel       EmergencyLevel   `json:"emergency_level"`
	ConversationHistory  []HistoryEntry   `json:"conversation_history"`
	TotalMessages        int              `json:"total_messages"`
	AIContext            AgentContextView `json:"ai_context"`
	OldcartsProgress     map[string]bool  `json:"oldcarts_progress"`
	Summary              ProgressSummary  `json:"summary"`
	SessionToken         string           `json:"session_token,omitempty"`
}

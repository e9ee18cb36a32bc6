package core

import "strings"

// Step names a node of the conversation graph.
type Step string

const (
	StepOrchestrator Step = "orchestrator"
	StepGreeting     Step = "greeting_agent"
	StepExtraction   Step = "extraction_agent"
	StepEvaluation   Step = "evaluation_agent"
	StepQuestion     Step = "question_agent"
	StepCompletion   Step = "completion_agent"
	StepEmergency    Step = "emergency_agent"
	StepEnd          Step = "END"
)

var stepNames = map[string]Step{
	"orchestrator": StepOrchestrator,
	"greeting":     StepGreeting,
	"extraction":   StepExtraction,
	"evaluation":   StepEvaluation,
	"question":     StepQuestion,
	"completion":   StepCompletion,
	"emergency":    StepEmergency,
	"end":          StepEnd,
	"wait":         StepEnd,
}

// ParseStep maps a step name from model output onto a Step. Matching is
// case-insensitive and the "_agent" suffix is optional.
func ParseStep(s string) (Step, bool) {
	n := strings.ToLower(strings.TrimSpace(s))
	n = strings.TrimSuffix(n, "_agent")
	st, ok := stepNames[n]
	return st, ok
}

// Conversation states derived before each orchestrator decision.
const (
	StateNewSession          = "new_session_needs_greeting"
	StateNeedsProcessing     = "user_responded_needs_processing"
	StateWaiting             = "waiting_for_user_response"
	StateAfterGreeting       = "user_responded_after_greeting"
	StateContinuing          = "continuing"
	StateNeedsEvaluation     = "extraction_complete_needs_evaluation"
	StateExtractionFailed    = "extraction_failed"
	StateAutoCompletion      = "auto_completion_triggered"
	autoCompleteMessages     = 50
	autoCompleteReadiness    = 0.6
	maxFieldQuestionAttempts = 5
)

// Agent actions recorded in AgentContext.LastAgentAction.
const (
	ActionGreetingSent         = "greeting_sent"
	ActionExtractionComplete   = "extraction_complete"
	ActionExtractionError      = "extraction_error"
	ActionEmergencyDetected    = "emergency_detected"
	ActionReadyForCompletion   = "ready_for_completion"
	ActionNeedQuestion         = "evaluation_complete_need_question"
	ActionQuestionAsked        = "question_asked"
	ActionConversationComplete = "conversation_completed"
	ActionEmergencyHandled     = "emergency_handled"
)

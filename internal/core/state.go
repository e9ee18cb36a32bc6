package core

import (
	"intake-assistant/pkg"
)

// TurnSignal tells the service how the patient's reply to the open question
// was classified during the turn.
type TurnSignal string

const (
	SignalNone     TurnSignal = ""
	SignalAnswered TurnSignal = "answered"
	SignalUnclear  TurnSignal = "unclear"
	SignalSkipped  TurnSignal = "skipped"
)

// Reply is an assistant message produced by a step.
type Reply struct {
	Step    Step
	Field   string
	Content string
}

// State is the working state of one turn through the conversation graph.
type State struct {
	SessionID    string
	Messages     []pkg.Message
	Collected    map[string]any
	Context      pkg.AgentContext
	CurrentField string
	Emergency    pkg.EmergencyLevel
	RedFlags     []string
	Readiness    float64

	// Attempts holds question attempts per field; Skipped the fields the
	// patient declined.
	Attempts    map[string]int
	Skipped     map[string]bool
	UserSkipped bool
	Tone        string

	Complete        bool
	EmergencyRaised bool
	Signal          TurnSignal
	Replies         []Reply
	Path            []Step
}

// NewState loads a turn's state from a stored conversation.
func NewState(conv *pkg.Conversation, messages []pkg.Message, attempts map[string]int) *State {
	s := &State{
		SessionID:    conv.SessionID,
		Messages:     append([]pkg.Message(nil), messages...),
		Collected:    make(map[string]any, len(conv.CollectedData)),
		Context:      conv.AgentContext,
		CurrentField: conv.CurrentField,
		Emergency:    conv.EmergencyLevel.Max(pkg.EmergencyNone),
		RedFlags:     append([]string(nil), conv.RedFlags...),
		Readiness:    conv.CompletionReadiness,
		Attempts:     attempts,
		Skipped:      make(map[string]bool),
		Tone:         ConversationTone(messages),
	}
	for k, v := range conv.CollectedData {
		s.Collected[k] = v
	}
	if s.Attempts == nil {
		s.Attempts = map[string]int{}
	}
	for _, e := range conv.SkippedQuestions {
		if e.Field != "" {
			s.Skipped[e.Field] = true
		}
	}
	return s
}

func (s *State) counts() (user, ai int) {
	for _, m := range s.Messages {
		switch m.Role {
		case pkg.RoleUser:
			user++
		case pkg.RoleAssistant:
			ai++
		}
	}
	return user, ai
}

func (s *State) lastUserMessage() string {
	return lastContent(s.Messages, pkg.RoleUser)
}

// NeedsReply reports whether the latest patient message is unanswered.
func (s *State) NeedsReply() bool {
	user, ai := s.counts()
	return user > ai
}

func (s *State) addReply(step Step, field, content string) {
	s.Replies = append(s.Replies, Reply{Step: step, Field: field, Content: content})
	s.Messages = append(s.Messages, pkg.Message{SessionID: s.SessionID, Role: pkg.RoleAssistant, Content: content})
}

// answered reports whether the patient gave any value for field, including
// short answers such as "no" that do not count towards completeness.
func (s *State) answered(field string) bool {
	v, ok := s.Collected[field]
	if !ok || v == nil {
		return false
	}
	if str, isStr := v.(string); isStr {
		switch str {
		case "", "null", ValueUnclear, ValueSkipped:
			return false
		}
	}
	return true
}

func (s *State) askable(field string) bool {
	return !s.answered(field) && !s.Skipped[field] && s.Attempts[field] < maxFieldQuestionAttempts
}

// NextField returns the next OLDCARTS field still worth asking about.
func (s *State) NextField() string {
	return NextOldcartsField(s.Collected, func(f string) bool { return !s.askable(f) })
}

// ConversationState classifies the conversation for the orchestrator.
func (s *State) ConversationState() string {
	user, ai := s.counts()
	var st string
	switch {
	case len(s.Messages) == 0:
		return StateNewSession
	case ai > 0 && user > ai:
		st = StateNeedsProcessing
	case ai > 0 && user == ai:
		st = StateWaiting
	case s.Context.LastAgentAction == ActionGreetingSent && user > 0:
		st = StateAfterGreeting
	default:
		st = StateContinuing
	}
	switch s.Context.LastAgentAction {
	case ActionExtractionComplete:
		st = StateNeedsEvaluation
	case ActionExtractionError:
		st = StateExtractionFailed
	}
	if len(s.Messages) >= autoCompleteMessages && s.Readiness >= autoCompleteReadiness {
		st = StateAutoCompletion
	}
	return st
}

// DefaultRoute is the step taken for a conversation state when the
// orchestrator's answer is missing or unusable.
func (s *State) DefaultRoute(state string) Step {
	switch state {
	case StateNewSession:
		return StepGreeting
	case StateNeedsProcessing, StateAfterGreeting:
		return StepExtraction
	case StateNeedsEvaluation:
		return StepEvaluation
	case StateExtractionFailed:
		return StepQuestion
	case StateAutoCompletion:
		return StepCompletion
	case StateWaiting:
		return StepEnd
	}
	user, ai := s.counts()
	switch {
	case ai == 0:
		return StepGreeting
	case user > ai:
		return StepExtraction
	}
	return StepEnd
}

// RouteToAgent applies the routing guards to the orchestrator's proposal.
func (s *State) RouteToAgent(proposed Step, state string) Step {
	if len(s.Messages) == 0 {
		return StepGreeting
	}
	user, ai := s.counts()
	if ai > user {
		return StepEnd
	}
	if user > ai {
		if t := Triage(s.lastUserMessage()); t.Level != pkg.EmergencyNone {
			s.Emergency = s.Emergency.Max(t.Level)
			s.RedFlags = mergeFlags(s.RedFlags, t.Flags)
			if t.Level.Urgent() {
				return StepEmergency
			}
		}
	}
	if proposed == StepExtraction {
		switch state {
		case StateNeedsEvaluation:
			return StepEvaluation
		case StateExtractionFailed:
			return StepQuestion
		}
	}
	if proposed == StepExtraction || proposed == StepEvaluation {
		return proposed
	}
	if s.Context.LastAgentAction == ActionQuestionAsked && ai >= user {
		return StepEnd
	}
	if state == StateAutoCompletion && proposed != StepEmergency {
		if s.Context.AutoCompletionReason == "" {
			s.Context.AutoCompletionReason = autoCompletionReason(len(s.Messages), s.Readiness)
		}
		return StepCompletion
	}
	if proposed == StepEnd && user > ai && len(s.Replies) == 0 {
		return s.DefaultRoute(state)
	}
	if proposed == StepGreeting && ai > 0 {
		return s.DefaultRoute(state)
	}
	return proposed
}

func mergeFlags(have, add []string) []string {
	seen := make(map[string]bool, len(have))
	for _, f := range have {
		seen[f] = true
	}
	for _, f := range add {
		if !seen[f] {
			have = append(have, f)
			seen[f] = true
		}
	}
	return have
}

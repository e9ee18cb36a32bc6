package core

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"intake-assistant/pkg"
)

const genericQuestion = "Could you tell me more about your symptoms?"

var severityPattern = regexp.MustCompile(`(?i)\b(10|[0-9])\s*(?:/|out of)\s*10\b`)

type orchestratorDecision struct {
	NextAgent     string         `json:"next_agent"`
	Reasoning     string         `json:"reasoning"`
	ContextUpdate map[string]any `json:"context_update"`
	PriorityField string         `json:"priority_field"`
}

func (e *Engine) orchestrate(ctx context.Context, s *State) Step {
	state := s.ConversationState()
	user, ai := s.counts()
	last := s.Context.LastAgentAction
	if last == "" {
		last = "none"
	}
	input := map[string]any{
		"conversation_state":   state,
		"collected_fields":     s.Collected,
		"ai_message_count":     ai,
		"user_message_count":   user,
		"total_messages":       len(s.Messages),
		"completion_readiness": s.Readiness,
		"last_agent_action":    last,
		"emergency_level":      s.Emergency,
		"current_field":        s.CurrentField,
	}

	var dec orchestratorDecision
	proposed := s.DefaultRoute(state)
	if err := e.chatJSON(ctx, OrchestratorPrompt, input, &dec); err != nil {
		e.fallback(s, StepOrchestrator, err)
	} else {
		if st, ok := ParseStep(dec.NextAgent); ok && st != StepOrchestrator {
			proposed = st
		}
		s.Context.OrchestratorReasoning = dec.Reasoning
		if len(dec.ContextUpdate) > 0 {
			if s.Context.ContextUpdate == nil {
				s.Context.ContextUpdate = map[string]any{}
			}
			for k, v := range dec.ContextUpdate {
				s.Context.ContextUpdate[k] = v
			}
		}
		if f := dec.PriorityField; f != "" && s.askable(f) && (s.CurrentField == "" || !s.askable(s.CurrentField)) {
			s.CurrentField = f
		}
	}
	return s.RouteToAgent(proposed, state)
}

func (e *Engine) greet(ctx context.Context, s *State) Step {
	text, err := e.chatText(ctx, fmt.Sprintf(GreetingPrompt, e.assistantName), map[string]any{
		"assistant_name": e.assistantName,
		"first_field":    "age",
	})
	if err != nil {
		e.fallback(s, StepGreeting, err)
		text = fmt.Sprintf("Hello! I'm %s, your virtual health assistant. How can I help you today?", e.assistantName)
	}
	if s.CurrentField == "" {
		s.CurrentField = "age"
	}
	s.addReply(StepGreeting, s.CurrentField, text)
	s.Context.LastAgentAction = ActionGreetingSent
	return StepEnd
}

type extractionResult struct {
	ExtractedField        string         `json:"extracted_field"`
	TargetField           string         `json:"target_field"`
	ExtractedValue        any            `json:"extracted_value"`
	AdditionalExtractions map[string]any `json:"additional_extractions"`
	AdditionalData        map[string]any `json:"additional_data"`
	Confidence            float64        `json:"extraction_confidence"`
	UserCooperative       *bool          `json:"user_cooperative"`
}

func (e *Engine) extract(ctx context.Context, s *State) Step {
	reply := strings.TrimSpace(s.lastUserMessage())
	target := s.CurrentField
	if target == "" {
		target = s.NextField()
	}
	if !HasMeaningfulData(s.Collected, "age") && isDigits(reply) {
		target = "age"
	}

	if s.UserSkipped {
		s.Signal = SignalSkipped
		s.Skipped[target] = true
		s.Context.RetryCount++
		s.Context.LastExtraction = &pkg.Extraction{ExtractedField: target, ExtractedValue: ValueSkipped, UserCooperative: true}
		s.Context.LastAgentAction = ActionExtractionComplete
		return StepOrchestrator
	}

	var needed []string
	for _, f := range OldcartsFields {
		if !HasMeaningfulData(s.Collected, f) {
			needed = append(needed, f)
		}
	}
	input := map[string]any{
		"user_response":    reply,
		"target_field":     target,
		"collected_fields": s.Collected,
		"fields_needed":    needed,
	}

	var res extractionResult
	if err := e.chatJSON(ctx, ExtractionPrompt, input, &res); err != nil {
		e.fallback(s, StepExtraction, err)
		s.Context.LastAgentAction = ActionExtractionError
		s.captureDeterministic(reply, target)
		return StepOrchestrator
	}

	field := res.ExtractedField
	if field == "" {
		field = res.TargetField
	}
	if field == "" {
		field = target
	}
	value := res.ExtractedValue
	if str, ok := value.(string); ok {
		value = strings.TrimSpace(str)
	}

	switch {
	case value == ValueSkipped:
		s.Signal = SignalSkipped
		s.Skipped[field] = true
		s.Context.RetryCount++
	case value == ValueUnclear || isEmptyValue(value):
		s.Signal = SignalUnclear
		s.Context.RetryCount++
	default:
		s.Collected[field] = value
		s.Context.RetryCount = 0
		s.Signal = SignalAnswered
	}

	extra := res.AdditionalExtractions
	if len(extra) == 0 {
		extra = res.AdditionalData
	}
	for k, v := range extra {
		if k == field || HasMeaningfulData(s.Collected, k) || !IsMeaningful(v) {
			continue
		}
		s.Collected[k] = v
	}
	s.captureDeterministic(reply, target)

	cooperative := true
	if res.UserCooperative != nil {
		cooperative = *res.UserCooperative
	}
	s.Context.LastExtraction = &pkg.Extraction{
		ExtractedField:        field,
		ExtractedValue:        res.ExtractedValue,
		AdditionalExtractions: extra,
		Confidence:            res.Confidence,
		UserCooperative:       cooperative,
	}
	s.Context.LastAgentAction = ActionExtractionComplete
	return StepOrchestrator
}

// captureDeterministic records values that can be read from the reply
// without the model: a bare age and an explicit N/10 severity rating.
func (s *State) captureDeterministic(reply, target string) {
	if target == "age" && !HasMeaningfulData(s.Collected, "age") && isDigits(reply) {
		if n, err := strconv.Atoi(reply); err == nil {
			s.Collected["age"] = n
			if s.Signal == SignalNone || s.Signal == SignalUnclear {
				s.Signal = SignalAnswered
			}
		}
	}
	if !HasMeaningfulData(s.Collected, "severity") {
		if m := severityPattern.FindStringSubmatch(reply); m != nil {
			s.Collected["severity"] = m[1] + "/10"
			if target == "severity" && (s.Signal == SignalNone || s.Signal == SignalUnclear) {
				s.Signal = SignalAnswered
			}
		}
	}
}

type evaluationResult struct {
	CompletionReadiness        *float64 `json:"completion_readiness"`
	EmergencyLevel             string   `json:"emergency_level"`
	EmergencyDetected          bool     `json:"emergency_detected"`
	ShouldContinue             *bool    `json:"should_continue"`
	NextFieldPriority          string   `json:"next_field_priority"`
	NextFieldToCollect         string   `json:"next_field_to_collect"`
	Reasoning                  string   `json:"evaluation_reasoning"`
	ConversationShouldComplete bool     `json:"conversation_should_complete"`
	ShouldComplete             bool     `json:"should_complete"`
}

func (e *Engine) evaluate(ctx context.Context, s *State) Step {
	progress := Progress(s.Collected)
	input := map[string]any{
		"collected_fields":      s.Collected,
		"total_possible_fields": progress.TotalFieldsPossible,
		"fields_collected":      progress.FieldsCompleted,
		"completion_readiness":  s.Readiness,
		"total_messages":        len(s.Messages),
		"last_extraction":       s.Context.LastExtraction,
		"auto_completion_check": len(s.Messages) >= autoCompleteMessages && s.Readiness >= autoCompleteReadiness,
		"skipped_fields":        s.Skipped,
		"question_attempts":     s.Attempts,
	}

	var ev pkg.Evaluation
	var res evaluationResult
	if err := e.chatJSON(ctx, EvaluationPrompt, input, &res); err != nil {
		e.fallback(s, StepEvaluation, err)
		ev = s.deterministicEvaluation()
	} else {
		ev = pkg.Evaluation{
			CompletionReadiness: s.Readiness,
			EmergencyLevel:      string(pkg.ParseEmergencyLevel(res.EmergencyLevel)),
			EmergencyDetected:   res.EmergencyDetected,
			ShouldContinue:      res.ShouldContinue == nil || *res.ShouldContinue,
			NextFieldPriority:   firstNonEmpty(res.NextFieldPriority, res.NextFieldToCollect),
			Reasoning:           res.Reasoning,
			ShouldComplete:      res.ConversationShouldComplete || res.ShouldComplete,
		}
		if res.CompletionReadiness != nil {
			ev.CompletionReadiness = clamp01(*res.CompletionReadiness)
		}
	}

	s.Readiness = ev.CompletionReadiness
	level := pkg.ParseEmergencyLevel(ev.EmergencyLevel)
	if ev.EmergencyDetected && level == pkg.EmergencyNone {
		level = pkg.EmergencyModerate
		ev.EmergencyLevel = string(level)
	}
	s.Emergency = s.Emergency.Max(level)

	next := ev.NextFieldPriority
	if next == "" || !s.askable(next) {
		next = s.NextField()
		ev.NextFieldPriority = next
	}
	if n := len(s.Messages); n >= autoCompleteMessages && s.Readiness >= autoCompleteReadiness {
		ev.ShouldComplete = true
		s.Context.AutoCompletionReason = autoCompletionReason(n, s.Readiness)
	}
	s.Context.Evaluation = &ev

	switch {
	case ev.EmergencyDetected || level.Urgent():
		s.Context.LastAgentAction = ActionEmergencyDetected
		return StepEmergency
	case ev.ShouldComplete, !ev.ShouldContinue, next == "":
		s.Context.LastAgentAction = ActionReadyForCompletion
		return StepCompletion
	}
	s.CurrentField = next
	s.Context.LastAgentAction = ActionNeedQuestion
	return StepQuestion
}

func (s *State) deterministicEvaluation() pkg.Evaluation {
	p := Progress(s.Collected)
	next := s.NextField()
	return pkg.Evaluation{
		CompletionReadiness: float64(p.FieldsCompleted) / float64(p.TotalFieldsPossible),
		EmergencyLevel:      string(pkg.EmergencyNone),
		ShouldContinue:      next != "",
		NextFieldPriority:   next,
		Reasoning:           "deterministic evaluation",
		ShouldComplete:      next == "",
	}
}

func (e *Engine) ask(ctx context.Context, s *State) Step {
	field := s.CurrentField
	if field == "" || !s.askable(field) {
		field = s.NextField()
	}
	attempt := s.Attempts[field] + 1
	var recent []map[string]string
	for _, m := range s.Messages[max(0, len(s.Messages)-3):] {
		recent = append(recent, map[string]string{"role": string(m.Role), "content": m.Content})
	}
	personality := AdaptPersonality(s.Tone)
	pacing := AssessPacing(s.Messages)
	opportunities := DetectOpportunities(s.lastUserMessage(), s.Tone)
	s.Context.Personality = &personality
	s.Context.Pacing = &pacing
	input := map[string]any{
		"target_field":           field,
		"communication_style":    s.Tone,
		"personality":            personality,
		"pacing":                 pacing,
		"opportunities":          opportunities,
		"topic_advice":           ShouldChangeTopic(categoryFor(field), s.Collected, s.Attempts),
		"next_priority_category": NextPriorityCategory(s.Collected, s.Attempts),
		"recent_messages":        recent,
		"field_guidance":         FieldGuidance(field),
		"alternative_strategy":   AlternativeQuestionFor(field, attempt),
		"collected_summary":      SummarizeCollected(s.Collected),
	}
	if s.Signal == SignalUnclear {
		input["clarification"] = ClarificationPrompt(s.Context.RetryCount - 1)
		input["skip_hint"] = SkipHint
	}

	text, err := e.chatText(ctx, QuestionPrompt, input)
	if err != nil {
		e.fallback(s, StepQuestion, err)
		text = QuestionFallback(field, attempt)
		if s.Signal == SignalUnclear {
			text = ClarificationPrompt(s.Context.RetryCount-1) + " " + text
		} else {
			text = AdaptQuestion(text, personality, opportunities)
		}
	}
	s.addReply(StepQuestion, field, text)
	s.CurrentField = field
	s.Context.QuestionField = field
	s.Context.LastAgentAction = ActionQuestionAsked
	return StepEnd
}

// QuestionFallback is the question asked about field when the model cannot
// produce one.
func QuestionFallback(field string, attempt int) string {
	if field == "" {
		return genericQuestion
	}
	if HasTemplate(field) {
		return AlternativeQuestionFor(field, attempt).QuestionText
	}
	q := FieldGuidance(field).Focus
	if attempt >= offerSkipAt {
		q += " " + SkipHint
	}
	return q
}

func (e *Engine) complete(ctx context.Context, s *State) Step {
	report := EvaluateCompleteness(s.Collected)
	kind := "natural"
	if s.Context.AutoCompletionReason != "" {
		kind = "auto"
	}
	input := map[string]any{
		"organized_data": completionData(s.Collected),
		"data_completeness": map[string]any{
			"completion_percentage": report.Percentage,
			"completeness_level":    report.Level,
			"fields_collected":      report.FieldsCollected,
		},
		"completion_type": kind,
		"conversation_stats": map[string]any{
			"total_messages":       len(s.Messages),
			"completion_readiness": s.Readiness,
			"auto_reason":          s.Context.AutoCompletionReason,
		},
	}
	text, err := e.chatText(ctx, CompletionPrompt, input)
	if err != nil {
		e.fallback(s, StepCompletion, err)
		text = CompletionMessage(report.Percentage)
	}
	s.addReply(StepCompletion, "", text)
	s.Complete = true
	s.Context.LastAgentAction = ActionConversationComplete
	return StepEnd
}

func completionData(data map[string]any) map[string]map[string]any {
	pick := func(fields ...string) map[string]any {
		m := make(map[string]any, len(fields))
		for _, f := range fields {
			if HasMeaningfulData(data, f) {
				m[f] = data[f]
			}
		}
		return m
	}
	return map[string]map[string]any{
		"patient_context":        pick("age", "biological_sex"),
		"chief_complaint":        pick("primary_complaint", "detailed_description"),
		"symptom_details":        pick("onset", "location", "duration", "character", "severity", "timing", "radiation", "progression"),
		"modifying_factors":      pick("aggravating_factors", "relieving_factors"),
		"additional_information": pick("related_symptoms", "treatment_attempted"),
	}
}

func (e *Engine) escalate(ctx context.Context, s *State) Step {
	if s.Emergency == pkg.EmergencyNone {
		s.Emergency = pkg.EmergencyModerate
	}
	level := s.Emergency
	input := map[string]any{
		"emergency_level": level,
		"symptoms":        s.Collected["primary_complaint"],
		"red_flags":       s.RedFlags,
		"latest_message":  s.lastUserMessage(),
	}
	text, err := e.chatText(ctx, EmergencyPrompt, input)
	if err != nil {
		e.fallback(s, StepEmergency, err)
		text = EmergencyMessage(level)
	}
	s.addReply(StepEmergency, "", text)
	s.Complete = true
	s.EmergencyRaised = true
	s.Context.EmergencyResponse = text
	s.Context.LastAgentAction = ActionEmergencyHandled
	return StepEnd
}

func autoCompletionReason(messages int, readiness float64) string {
	return fmt.Sprintf("Reached %d messages with %.0f%% completion", messages, readiness*100)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == "" || strings.EqualFold(t, "null")
	}
	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func trimReply(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

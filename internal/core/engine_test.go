package core

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap"

	"intake-assistant/pkg"
)

func newTestEngine(client *scriptedLLM, maxSteps int) *Engine {
	cfg := testIntakeConfig()
	cfg.MaxSteps = maxSteps
	return NewEngine(client, cfg, zap.NewNop())
}

func TestEngineGreetsNewSessionWithFallback(t *testing.T) {
	s := stateWith("", u)
	if err := newTestEngine(&scriptedLLM{}, 25).Run(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	if len(s.Replies) != 1 || s.Replies[0].Step != StepGreeting {
		t.Fatalf("replies = %+v", s.Replies)
	}
	if !strings.Contains(s.Replies[0].Content, "I'm Vi") {
		t.Errorf("greeting = %q", s.Replies[0].Content)
	}
	if s.CurrentField != "age" || s.Context.LastAgentAction != ActionGreetingSent {
		t.Errorf("field %q action %q", s.CurrentField, s.Context.LastAgentAction)
	}
}

func TestEngineScriptedTurn(t *testing.T) {
	client := &scriptedLLM{
		json: []string{
			`{"next_agent": "extraction", "reasoning": "patient answered"}`,
			"```json\n" + `{"extracted_field": "primary_complaint", "extracted_value": "headache",
			  "additional_extractions": {"onset": "yesterday", "location": "not sure"}, "extraction_confidence": 0.9}` + "\n```",
			`{"next_agent": "evaluation_agent"}`,
			`{"completion_readiness": 0.2, "emergency_level": "none", "should_continue": true, "next_field_priority": "location"}`,
		},
		chat: []string{`"Where exactly do you feel the headache?"`},
	}
	s := stateWith(ActionQuestionAsked, u, a)
	s.Messages = append(s.Messages, pkg.Message{Role: u, Content: "A headache since yesterday"})
	s.CurrentField = "primary_complaint"

	if err := newTestEngine(client, 25).Run(context.Background(), s); err != nil {
		t.Fatal(err)
	}

	wantPath := []Step{StepOrchestrator, StepExtraction, StepOrchestrator, StepEvaluation, StepQuestion}
	if !reflect.DeepEqual(s.Path, wantPath) {
		t.Errorf("path = %v, want %v", s.Path, wantPath)
	}
	if s.Collected["primary_complaint"] != "headache" || s.Collected["onset"] != "yesterday" {
		t.Errorf("collected = %v", s.Collected)
	}
	if _, ok := s.Collected["location"]; ok {
		t.Error("placeholder additional extraction stored")
	}
	if s.Signal != SignalAnswered {
		t.Errorf("signal = %q", s.Signal)
	}
	if s.Readiness != 0.2 {
		t.Errorf("readiness = %v", s.Readiness)
	}
	if len(s.Replies) != 1 || s.Replies[0].Content != "Where exactly do you feel the headache?" || s.Replies[0].Field != "location" {
		t.Fatalf("replies = %+v", s.Replies)
	}
	if s.Context.OrchestratorReasoning != "patient answered" {
		t.Errorf("reasoning = %q", s.Context.OrchestratorReasoning)
	}
}

func TestEngineExtractionSignals(t *testing.T) {
	tests := []struct {
		name   string
		reply  string
		json   string
		signal TurnSignal
		check  func(t *testing.T, s *State)
	}{
		{
			name:   "answered",
			reply:  "it started on monday",
			json:   `{"extracted_field": "onset", "extracted_value": "monday"}`,
			signal: SignalAnswered,
			check: func(t *testing.T, s *State) {
				if s.Collected["onset"] != "monday" || s.Context.RetryCount != 0 {
					t.Errorf("collected %v retries %d", s.Collected, s.Context.RetryCount)
				}
			},
		},
		{
			name:   "unclear",
			reply:  "hmm",
			json:   `{"extracted_field": "onset", "extracted_value": "unclear_response"}`,
			signal: SignalUnclear,
			check: func(t *testing.T, s *State) {
				if _, ok := s.Collected["onset"]; ok || s.Context.RetryCount != 1 {
					t.Errorf("collected %v retries %d", s.Collected, s.Context.RetryCount)
				}
			},
		},
		{
			name:   "null value is unclear",
			reply:  "...",
			json:   `{"extracted_field": "onset", "extracted_value": null}`,
			signal: SignalUnclear,
		},
		{
			name:   "skipped",
			reply:  "I really can't remember",
			json:   `{"extracted_field": "onset", "extracted_value": "skipped_by_user"}`,
			signal: SignalSkipped,
			check: func(t *testing.T, s *State) {
				if !s.Skipped["onset"] {
					t.Error("onset not marked skipped")
				}
			},
		},
		{
			name:   "model failure keeps severity rating",
			reply:  "about 7 out of 10",
			json:   "",
			signal: SignalAnswered,
			check: func(t *testing.T, s *State) {
				if s.Collected["severity"] != "7/10" || s.Context.LastAgentAction != ActionExtractionError {
					t.Errorf("collected %v action %q", s.Collected, s.Context.LastAgentAction)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &scriptedLLM{}
			if tt.json != "" {
				client.json = []string{tt.json}
			}
			s := stateWith(ActionQuestionAsked, u, a)
			s.Messages = append(s.Messages, pkg.Message{Role: u, Content: tt.reply})
			s.Collected["age"] = 30
			s.CurrentField = "onset"
			if tt.name == "model failure keeps severity rating" {
				s.CurrentField = "severity"
			}

			if next := newTestEngine(client, 25).extract(context.Background(), s); next != StepOrchestrator {
				t.Fatalf("next = %s", next)
			}
			if s.Signal != tt.signal {
				t.Errorf("signal = %q, want %q", s.Signal, tt.signal)
			}
			if tt.check != nil {
				tt.check(t, s)
			}
		})
	}
}

func TestEngineFallbackAnswersEveryMessage(t *testing.T) {
	// With the model down the turn still extracts the bare age and asks
	// the next question.
	s := stateWith(ActionGreetingSent, u, a)
	s.Messages = append(s.Messages, pkg.Message{Role: u, Content: "34"})
	s.CurrentField = "age"

	if err := newTestEngine(&scriptedLLM{}, 25).Run(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	if s.Collected["age"] != 34 {
		t.Errorf("age = %#v", s.Collected["age"])
	}
	if len(s.Replies) != 1 || s.Replies[0].Field != "biological_sex" {
		t.Fatalf("replies = %+v", s.Replies)
	}
	if s.Replies[0].Content != FieldGuidance("biological_sex").Focus {
		t.Errorf("question = %q", s.Replies[0].Content)
	}
	if s.NeedsReply() {
		t.Error("patient message left unanswered")
	}
}

func TestEngineStepLimitStillReplies(t *testing.T) {
	s := stateWith(ActionGreetingSent, u, a)
	s.Messages = append(s.Messages, pkg.Message{Role: u, Content: "thirty"})
	s.CurrentField = "age"

	if err := newTestEngine(&scriptedLLM{}, 1).Run(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	if len(s.Path) != 1 {
		t.Errorf("path = %v", s.Path)
	}
	if len(s.Replies) != 1 || s.Replies[0].Content != FieldGuidance("age").Focus {
		t.Fatalf("replies = %+v", s.Replies)
	}
	if s.Context.LastAgentAction != ActionQuestionAsked {
		t.Errorf("action = %q", s.Context.LastAgentAction)
	}
}

func TestEngineEvaluationCompletes(t *testing.T) {
	client := &scriptedLLM{json: []string{
		`{"completion_readiness": 1.4, "emergency_level": "NONE", "conversation_should_complete": true}`,
	}}
	s := stateWith(ActionExtractionComplete, u, a, u)
	next := newTestEngine(client, 25).evaluate(context.Background(), s)
	if next != StepCompletion {
		t.Fatalf("next = %s", next)
	}
	if s.Readiness != 1 {
		t.Errorf("readiness = %v, want clamped to 1", s.Readiness)
	}

	newTestEngine(client, 25).complete(context.Background(), s)
	if !s.Complete || s.Context.LastAgentAction != ActionConversationComplete {
		t.Errorf("complete = %v action %q", s.Complete, s.Context.LastAgentAction)
	}
	if got := s.Replies[len(s.Replies)-1].Content; got != CompletionMessage(0) {
		t.Errorf("completion fallback = %q", got)
	}
}

func TestEngineEvaluationEmergency(t *testing.T) {
	client := &scriptedLLM{json: []string{`{"emergency_level": "HIGH", "emergency_detected": true}`}}
	s := stateWith(ActionExtractionComplete, u, a, u)
	if next := newTestEngine(client, 25).evaluate(context.Background(), s); next != StepEmergency {
		t.Fatalf("next = %s", next)
	}
	newTestEngine(client, 25).escalate(context.Background(), s)
	if !s.EmergencyRaised || s.Emergency != pkg.EmergencyHigh {
		t.Errorf("raised %v level %s", s.EmergencyRaised, s.Emergency)
	}
	if s.Context.EmergencyResponse != EmergencyMessage(pkg.EmergencyHigh) {
		t.Errorf("response = %q", s.Context.EmergencyResponse)
	}
}

func TestEngineEmergencyWithoutLevelIsModerate(t *testing.T) {
	client := &scriptedLLM{json: []string{`{"completion_readiness": 0.2, "emergency_detected": true}`}}
	s := stateWith(ActionExtractionComplete, u, a, u)
	e := newTestEngine(client, 25)
	if next := e.evaluate(context.Background(), s); next != StepEmergency {
		t.Fatalf("next = %s", next)
	}
	if s.Emergency != pkg.EmergencyModerate || s.Context.Evaluation.EmergencyLevel != string(pkg.EmergencyModerate) {
		t.Errorf("level %s evaluation %q", s.Emergency, s.Context.Evaluation.EmergencyLevel)
	}
	e.escalate(context.Background(), s)
	if got := s.Replies[len(s.Replies)-1].Content; got != EmergencyMessage(pkg.EmergencyModerate) {
		t.Errorf("emergency reply = %q", got)
	}
}

func TestEngineHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := newTestEngine(&scriptedLLM{}, 25).Run(ctx, stateWith("", u)); err == nil {
		t.Fatal("expected context error")
	}
}

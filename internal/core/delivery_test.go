package core

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"intake-assistant/internal/llm"
	"intake-assistant/pkg"
)

// inputRecorder answers every question with a fixed text and keeps the
// context object it was sent.
type inputRecorder struct {
	scriptedLLM
	input map[string]any
}

func (r *inputRecorder) Chat(_ context.Context, messages []llm.Message) (string, error) {
	body := strings.TrimPrefix(messages[len(messages)-1].Content, "Context:\n")
	if err := json.Unmarshal([]byte(body), &r.input); err != nil {
		return "", err
	}
	return "When did it start?", nil
}

func TestAdaptPersonality(t *testing.T) {
	tests := []struct {
		tone     string
		approach string
		style    string
	}{
		{"frustrated", "direct", "concise"},
		{"confused", "gentle", "focused"},
		{"engaged", "warm", "detailed"},
		{"cooperative", "warm", "balanced"},
		{"initial", "warm", "balanced"},
	}
	for _, tt := range tests {
		t.Run(tt.tone, func(t *testing.T) {
			p := AdaptPersonality(tt.tone)
			if p.CommunicationApproach != tt.approach || p.QuestionStyle != tt.style {
				t.Errorf("personality = %+v", p)
			}
		})
	}
}

func TestAssessPacing(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	spaced := func(n int, gap time.Duration) []pkg.Message {
		out := make([]pkg.Message, n)
		for i := range out {
			out[i] = pkg.Message{Role: pkg.RoleUser, CreatedAt: start.Add(time.Duration(i) * gap)}
		}
		return out
	}
	tests := []struct {
		name     string
		messages []pkg.Message
		pace     string
		approach string
	}{
		{"too few messages", spaced(2, time.Hour), "appropriate", "normal_flow"},
		{"steady", spaced(6, time.Minute), "appropriate", "normal_flow"},
		{"slow", spaced(6, 10*time.Minute), "too_slow", "be_concise"},
		{"long conversation", spaced(22, 30*time.Second), "too_slow", "be_concise"},
		{"rushed", spaced(6, time.Second), "too_fast", "take_time"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := AssessPacing(tt.messages)
			if p.CurrentPace != tt.pace || p.NextQuestionApproach != tt.approach {
				t.Errorf("pacing = %+v", p)
			}
		})
	}
}

func TestDetectOpportunities(t *testing.T) {
	tests := []struct {
		name    string
		message string
		tone    string
		want    []string
	}{
		{"plain answer", "yesterday", "cooperative", nil},
		{"worried", "I'm really worried about it", "cooperative", []string{OpportunityValidateConcern}},
		{"asks if serious", "is this serious?", "initial", []string{OpportunityReassure}},
		{"detailed", "it started on monday after work and it gets worse when I climb the stairs at home", "cooperative", []string{OpportunityAcknowledge}},
		{"frustrated", "I already told you", "frustrated", []string{OpportunityAppreciate}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectOpportunities(tt.message, tt.tone); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("opportunities = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAdaptQuestion(t *testing.T) {
	const q = "Where is the pain?"
	tests := []struct {
		name          string
		tone          string
		opportunities []string
		want          string
	}{
		{"neutral", "cooperative", nil, q},
		{"frustrated", "frustrated", []string{OpportunityAppreciate}, "Thanks for bearing with me. " + q},
		{"confused", "confused", nil, "Let me ask that another way. " + q},
		{"worried", "cooperative", []string{OpportunityValidateConcern, OpportunityAcknowledge}, "I understand this is worrying. " + q},
		{"detailed", "engaged", []string{OpportunityAcknowledge}, "Thank you for the detail. " + q},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AdaptQuestion(q, AdaptPersonality(tt.tone), tt.opportunities); got != tt.want {
				t.Errorf("question = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAskAdaptsFallbackToTone(t *testing.T) {
	s := stateWith(ActionExtractionComplete, u, a, u)
	s.Tone = "frustrated"
	s.CurrentField = "onset"

	newTestEngine(&scriptedLLM{}, 25).ask(context.Background(), s)

	want := "Thanks for bearing with me. " + QuestionFallback("onset", 1)
	if len(s.Replies) != 1 || s.Replies[0].Content != want {
		t.Fatalf("replies = %+v", s.Replies)
	}
	if s.Context.Personality == nil || s.Context.Personality.CommunicationApproach != "direct" || s.Context.Pacing == nil {
		t.Errorf("context personality %+v pacing %+v", s.Context.Personality, s.Context.Pacing)
	}
}

func TestAskSendsTopicAdvice(t *testing.T) {
	rec := &inputRecorder{}
	s := stateWith(ActionExtractionComplete, u, a, u)
	s.CurrentField = "onset"
	s.Attempts["primary_complaint"] = 5

	NewEngine(rec, testIntakeConfig(), zap.NewNop()).ask(context.Background(), s)

	if rec.input["next_priority_category"] != "onset" {
		t.Errorf("next priority = %v", rec.input["next_priority_category"])
	}
	advice, ok := rec.input["topic_advice"].(map[string]any)
	if !ok || advice["attempts_remaining"] != float64(maxCategoryAttempts) {
		t.Errorf("topic advice = %v", rec.input["topic_advice"])
	}
	if s.Replies[0].Content != "When did it start?" {
		t.Errorf("reply = %q", s.Replies[0].Content)
	}
}

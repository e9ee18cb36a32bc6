package core

import (
	"strings"
	"testing"
	"time"

	"intake-assistant/pkg"
)

func TestQuestionHash(t *testing.T) {
	a := QuestionHash("When did the pain start?")
	b := QuestionHash("pain did start? when")
	if a != b {
		t.Errorf("stop words and word order should not change the hash: %s != %s", a, b)
	}
	if len(a) != 8 {
		t.Errorf("hash length = %d, want 8", len(a))
	}
	if a == QuestionHash("Where is the pain?") {
		t.Error("different questions share a hash")
	}
	if QuestionHash("What does it feel like") != QuestionHash("WHAT does IT feel LIKE") {
		t.Error("hash is case sensitive")
	}
}

func TestNewQuestionTracking(t *testing.T) {
	tests := []struct {
		attempts    int
		existed     bool
		rephrase    bool
		alternative bool
	}{
		{1, false, false, false},
		{2, true, true, false},
		{3, true, true, true},
	}
	for _, tt := range tests {
		got := NewQuestionTracking(&pkg.QuestionRecord{QuestionID: "q1", AttemptCount: tt.attempts}, tt.existed)
		if got.AlreadyAsked != tt.existed || got.ShouldRephrase != tt.rephrase || got.AlternativeNeeded != tt.alternative {
			t.Errorf("attempts %d: %+v", tt.attempts, got)
		}
	}
}

func TestAlternativeQuestionFor(t *testing.T) {
	tests := []struct {
		category  string
		attempt   int
		strategy  string
		offerSkip bool
		encourage bool
		contains  string
	}{
		{"onset", 1, StrategyDirect, false, false, "first start"},
		{"onset", 2, StrategyExample, false, false, "For example"},
		{"location", 3, StrategyChoice, false, true, "A) Left side"},
		{"character", 4, StrategyStory, true, true, "compare this feeling"},
		{"severity", 7, StrategySkipOffer, true, true, "daily life"},
		{"timing", 1, StrategyDirect, false, false, "Can you tell me more about the timing?"},
	}
	for _, tt := range tests {
		t.Run(tt.category, func(t *testing.T) {
			q := AlternativeQuestionFor(tt.category, tt.attempt)
			if q.Strategy != tt.strategy {
				t.Errorf("strategy = %s, want %s", q.Strategy, tt.strategy)
			}
			if q.ShouldOfferSkip != tt.offerSkip || q.NeedsEncouragement != tt.encourage {
				t.Errorf("skip/encourage = %v/%v", q.ShouldOfferSkip, q.NeedsEncouragement)
			}
			if !strings.Contains(q.QuestionText, tt.contains) {
				t.Errorf("text = %q, want it to contain %q", q.QuestionText, tt.contains)
			}
		})
	}
}

func msgs(roleContent ...string) []pkg.Message {
	var out []pkg.Message
	for i := 0; i+1 < len(roleContent); i += 2 {
		out = append(out, pkg.Message{Role: pkg.MessageRole(roleContent[i]), Content: roleContent[i+1]})
	}
	return out
}

func TestConversationTone(t *testing.T) {
	long := make([]pkg.Message, 12)
	for i := range long {
		long[i] = pkg.Message{Role: pkg.RoleUser, Content: "fine thanks"}
	}
	tests := []struct {
		name     string
		messages []pkg.Message
		want     string
	}{
		{"too short", msgs("user", "I'm confused"), "initial"},
		{"frustrated", msgs("user", "I don't know", "assistant", "ok", "user", "I already told you", "assistant", "sorry"), "frustrated"},
		{"confused", msgs("user", "what do you mean", "assistant", "ok", "user", "that's unclear", "assistant", "sorry"), "confused"},
		{"assistant text ignored", msgs("assistant", "not sure", "assistant", "not sure", "user", "hi", "user", "ok"), "cooperative"},
		{"engaged", long, "engaged"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ConversationTone(tt.messages); got != tt.want {
				t.Errorf("tone = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAnalyzeMissing(t *testing.T) {
	info := AnalyzeMissing(map[string]any{})
	if len(info.MissingCategories) != 9 || info.NextPriority != "chief_complaint" || info.CompletionPercentage != 0 {
		t.Errorf("empty data = %+v", info)
	}

	info = AnalyzeMissing(map[string]any{
		"primary_complaint": "cough",
		"onset":             "two days ago",
		"when_started":      "monday",
		"location":          "chest",
	})
	for _, c := range info.MissingCategories {
		if c == "chief_complaint" || c == "onset" || c == "location" {
			t.Errorf("%s reported missing", c)
		}
	}
	if info.NextPriority != "character" {
		t.Errorf("next priority = %q, want character", info.NextPriority)
	}
	partial := strings.Join(info.PartiallyComplete, ",")
	if !strings.Contains(partial, "chief_complaint") || !strings.Contains(partial, "location") {
		t.Errorf("partially complete = %v", info.PartiallyComplete)
	}
	if strings.Contains(partial, "onset") {
		t.Error("onset has two of three aliases and is not partial")
	}
}

func TestTopicAdvice(t *testing.T) {
	data := map[string]any{"primary_complaint": "rash"}

	if got := NextPriorityCategory(data, nil); got != "onset" {
		t.Errorf("next = %q, want onset", got)
	}
	attempts := map[string]int{"onset": 3, "when_started": 2}
	if n := CategoryAttempts("onset", attempts); n != 5 {
		t.Errorf("onset attempts = %d, want 5", n)
	}
	if got := NextPriorityCategory(data, attempts); got != "severity" {
		t.Errorf("next after exhausted onset = %q, want severity", got)
	}

	advice := ShouldChangeTopic("onset", data, attempts)
	if !advice.ShouldChange || advice.Reason != "too_many_attempts" || advice.NextPriority != "severity" {
		t.Errorf("exhausted advice = %+v", advice)
	}
	advice = ShouldChangeTopic("chief_complaint", data, nil)
	if !advice.ShouldChange || advice.Reason != "sufficient_data" {
		t.Errorf("sufficient advice = %+v", advice)
	}
	advice = ShouldChangeTopic("location", data, map[string]int{"location": 1})
	if advice.ShouldChange || advice.AttemptsRemaining != 4 {
		t.Errorf("in-progress advice = %+v", advice)
	}
}

func TestBuildContext(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	conv := &pkg.Conversation{
		SessionID:     "vi_abc",
		UserID:        "u1",
		Status:        pkg.StatusActive,
		CollectedData: map[string]any{"age": 30, "primary_complaint": "no"},
	}
	transcript := msgs("user", "hi", "assistant", "Hello! How old are you?", "user", "30")
	questions := []pkg.QuestionRecord{
		{QuestionID: "q1", Category: "age", QuestionText: "How old are you?", Status: pkg.QuestionAnswered, AttemptCount: 1},
		{QuestionID: "q2", Category: "onset", QuestionText: "When did it start?", Status: pkg.QuestionAsked, AttemptCount: 2},
	}

	c := BuildContext(conv, transcript, questions, now)
	if c.CacheKey != "conv_vi_abc_3" {
		t.Errorf("cache key = %q", c.CacheKey)
	}
	if c.MessageCount != 3 || c.LastUserMessage != "30" || c.LastAIMessage != "Hello! How old are you?" {
		t.Errorf("history = %d %q %q", c.MessageCount, c.LastUserMessage, c.LastAIMessage)
	}
	if c.DataCompleteness.TotalFields != 2 || c.DataCompleteness.MeaningfulFields != 1 || c.DataCompleteness.CompletionPercentage != 50 {
		t.Errorf("data completeness = %+v", c.DataCompleteness)
	}
	if c.QuestionAttempts["onset"] != 2 {
		t.Errorf("attempts = %v", c.QuestionAttempts)
	}
	asked, ok := c.AskedQuestions[QuestionHash("How old are you?")]
	if !ok || !asked.ResponseReceived {
		t.Errorf("asked question = %+v, ok=%v", asked, ok)
	}
	if !c.RetrievedAt.Equal(now) {
		t.Errorf("retrieved at = %v", c.RetrievedAt)
	}
}

package core

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"intake-assistant/pkg"
)

// Attempts at which the question step changes strategy.
const (
	maxCategoryAttempts = 5
	offerSkipAt         = 4
	encourageAt         = 3
)

var intentStopWords = map[string]bool{
	"what": true, "when": true, "where": true, "how": true, "can": true, "you": true, "tell": true,
	"me": true, "about": true, "the": true, "is": true, "are": true, "do": true, "does": true,
}

// QuestionHash identifies the intent of a question so that rephrasings of
// the same question collide.
func QuestionHash(text string) string {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(text)) {
		if !intentStopWords[w] {
			words = append(words, w)
		}
	}
	sort.Strings(words)
	sum := md5.Sum([]byte(strings.Join(words, " ")))
	return hex.EncodeToString(sum[:])[:8]
}

// QuestionTracking is what TrackQuestion tells the caller about a question.
type QuestionTracking struct {
	QuestionID        string `json:"question_id"`
	QuestionHash      string `json:"question_hash"`
	AttemptCount      int    `json:"attempt_count"`
	AlreadyAsked      bool   `json:"already_asked"`
	ShouldRephrase    bool   `json:"should_rephrase"`
	AlternativeNeeded bool   `json:"alternative_needed"`
}

// NewQuestionTracking interprets a tracked record.
func NewQuestionTracking(q *pkg.QuestionRecord, existed bool) QuestionTracking {
	return QuestionTracking{
		QuestionID:        q.QuestionID,
		QuestionHash:      q.QuestionHash,
		AttemptCount:      q.AttemptCount,
		AlreadyAsked:      existed,
		ShouldRephrase:    q.AttemptCount > 1,
		AlternativeNeeded: q.AttemptCount > 2,
	}
}

// Question strategies by attempt number.
const (
	StrategyDirect    = "direct"
	StrategyExample   = "example"
	StrategyChoice    = "choice"
	StrategyStory     = "story"
	StrategySkipOffer = "skip_offer"
)

var strategies = map[int]string{1: StrategyDirect, 2: StrategyExample, 3: StrategyChoice, 4: StrategyStory}

var alternativeQuestions = map[string]map[string]string{
	"onset": {
		StrategyDirect:    "When did this symptom first start?",
		StrategyExample:   "When did this begin? For example, was it this morning, yesterday, last week?",
		StrategyChoice:    "Did this start: A) Today, B) This week, C) This month, or D) Longer ago?",
		StrategyStory:     "Think back to when you first noticed this. What were you doing when it started?",
		StrategySkipOffer: "If you're not sure exactly when it started, that's okay. We can move on to other important details.",
	},
	"location": {
		StrategyDirect:    "Where exactly do you feel this symptom?",
		StrategyExample:   "Can you point to where it hurts? For example, is it on the left side, right side, or center?",
		StrategyChoice:    "Where is the pain located: A) Left side, B) Right side, C) Center, or D) All over?",
		StrategyStory:     "Imagine you're describing this to a friend - where would you point to show them?",
		StrategySkipOffer: "If the location is hard to describe, we can focus on other aspects of your symptom.",
	},
	"character": {
		StrategyDirect:    "How would you describe the quality of this pain or sensation?",
		StrategyExample:   "What does it feel like? Is it sharp like a knife, dull like an ache, or throbbing like a heartbeat?",
		StrategyChoice:    "The sensation feels: A) Sharp/stabbing, B) Dull/aching, C) Throbbing/pulsing, or D) Burning/tingling?",
		StrategyStory:     "If you had to compare this feeling to something familiar, what would it be like?",
		StrategySkipOffer: "Pain can be hard to describe in words. Let's talk about other aspects that might be easier.",
	},
	"severity": {
		StrategyDirect:    "On a scale of 1 to 10, how severe is this symptom?",
		StrategyExample:   "How bad is it? 1 would be barely noticeable, 10 would be the worst pain imaginable.",
		StrategyChoice:    "Would you say it's: A) Mild (1-3), B) Moderate (4-6), C) Severe (7-8), or D) Extreme (9-10)?",
		StrategyStory:     "How much does this interfere with your daily activities?",
		StrategySkipOffer: "If rating the pain is difficult, can you tell me how it affects your daily life?",
	},
}

const encouragement = "I know these questions can be challenging. You're doing great helping me understand your symptoms."

// AlternativeQuestion is a rephrasing strategy for a repeated question.
type AlternativeQuestion struct {
	QuestionText       string `json:"question_text"`
	Strategy           string `json:"strategy"`
	AttemptCount       int    `json:"attempt_count"`
	Category           string `json:"category"`
	ShouldOfferSkip    bool   `json:"should_offer_skip"`
	NeedsEncouragement bool   `json:"needs_encouragement"`
	Encouragement      string `json:"encouragement"`
}

// AlternativeQuestionFor picks the strategy for the given attempt number.
func AlternativeQuestionFor(category string, attempt int) AlternativeQuestion {
	strategy, ok := strategies[attempt]
	if !ok {
		strategy = StrategySkipOffer
	}
	text, ok := alternativeQuestions[category][strategy]
	if !ok {
		text = fmt.Sprintf("Can you tell me more about the %s?", category)
	}
	return AlternativeQuestion{
		QuestionText:       text,
		Strategy:           strategy,
		AttemptCount:       attempt,
		Category:           category,
		ShouldOfferSkip:    attempt >= offerSkipAt,
		NeedsEncouragement: attempt >= encourageAt,
		Encouragement:      encouragement,
	}
}

// HasTemplate reports whether category has hand-written alternatives.
func HasTemplate(category string) bool {
	_, ok := alternativeQuestions[category]
	return ok
}

var (
	frustrationIndicators = []string{"don't know", "not sure", "confused", "already told", "repeat"}
	confusionIndicators   = []string{"what do you mean", "don't understand", "unclear"}
)

// ConversationTone classifies the patient's mood from their messages.
func ConversationTone(messages []pkg.Message) string {
	if len(messages) < 4 {
		return "initial"
	}
	var frustration, confusion int
	for _, m := range messages {
		if m.Role != pkg.RoleUser {
			continue
		}
		c := strings.ToLower(m.Content)
		for _, ind := range frustrationIndicators {
			if strings.Contains(c, ind) {
				frustration++
			}
		}
		for _, ind := range confusionIndicators {
			if strings.Contains(c, ind) {
				confusion++
			}
		}
	}
	switch {
	case frustration >= 2:
		return "frustrated"
	case confusion >= 2:
		return "confused"
	case len(messages) > 10:
		return "engaged"
	}
	return "cooperative"
}

type infoCategory struct {
	name   string
	fields []string
}

// Field aliases per OLDCARTS category. chief_complaint also accepts the
// primary_complaint key the extraction step writes.
var infoCategories = []infoCategory{
	{"chief_complaint", []string{"primary_complaint", "primary_symptom", "what_brings_you_in"}},
	{"onset", []string{"when_started", "onset", "how_it_began"}},
	{"location", []string{"location", "where_pain", "body_part"}},
	{"character", []string{"character", "quality", "type_of_pain"}},
	{"severity", []string{"severity", "pain_scale", "intensity"}},
	{"duration", []string{"duration", "how_long", "episode_length"}},
	{"timing", []string{"timing", "pattern", "frequency"}},
	{"aggravating", []string{"aggravating_factors", "makes_worse"}},
	{"relieving", []string{"relieving_factors", "makes_better", "treatments_tried"}},
}

var sufficientFields = map[string][]string{
	"chief_complaint": {"primary_complaint", "primary_symptom"},
	"onset":           {"when_started", "onset"},
	"location":        {"location"},
	"character":       {"character"},
	"severity":        {"severity"},
	"duration":        {"duration"},
	"timing":          {"timing", "pattern"},
	"aggravating":     {"aggravating_factors"},
	"relieving":       {"relieving_factors"},
}

var categoryPriority = []string{
	"chief_complaint", "onset", "severity", "location", "character", "duration", "timing", "aggravating", "relieving",
}

// AnalyzeMissing reports which OLDCARTS categories have no usable answer.
func AnalyzeMissing(data map[string]any) pkg.MissingInfo {
	info := pkg.MissingInfo{MissingCategories: []string{}, PartiallyComplete: []string{}}
	for _, c := range infoCategories {
		have := 0
		for _, f := range c.fields {
			if HasMeaningfulData(data, f) {
				have++
			}
		}
		switch {
		case have == 0:
			info.MissingCategories = append(info.MissingCategories, c.name)
		case float64(have) < float64(len(c.fields))/2:
			info.PartiallyComplete = append(info.PartiallyComplete, c.name)
		}
	}
	n := len(infoCategories)
	info.CompletionPercentage = float64(n-len(info.MissingCategories)) / float64(n) * 100
	if len(info.MissingCategories) > 0 {
		info.NextPriority = info.MissingCategories[0]
	}
	return info
}

// CategoryAttempts sums question attempts recorded under the category name
// or any of its field aliases.
func CategoryAttempts(category string, attempts map[string]int) int {
	n := attempts[category]
	for _, c := range infoCategories {
		if c.name != category {
			continue
		}
		for _, f := range c.fields {
			if f != category {
				n += attempts[f]
			}
		}
	}
	return n
}

func hasSufficientData(category string, data map[string]any) bool {
	for _, f := range sufficientFields[category] {
		if HasMeaningfulData(data, f) {
			return true
		}
	}
	return false
}

// NextPriorityCategory returns the first category that still needs data and
// has not been asked about too often.
func NextPriorityCategory(data map[string]any, attempts map[string]int) string {
	for _, c := range categoryPriority {
		if CategoryAttempts(c, attempts) >= maxCategoryAttempts {
			continue
		}
		if !hasSufficientData(c, data) {
			return c
		}
	}
	return "additional_symptoms"
}

// TopicAdvice tells the question step whether to move on from a category.
type TopicAdvice struct {
	ShouldChange      bool   `json:"should_change"`
	Reason            string `json:"reason,omitempty"`
	Suggestion        string `json:"suggestion,omitempty"`
	NextPriority      string `json:"next_priority,omitempty"`
	AttemptsRemaining int    `json:"attempts_remaining,omitempty"`
}

// ShouldChangeTopic advises moving on after too many attempts or once the
// category has data.
func ShouldChangeTopic(category string, data map[string]any, attempts map[string]int) TopicAdvice {
	n := CategoryAttempts(category, attempts)
	if n >= maxCategoryAttempts {
		return TopicAdvice{
			ShouldChange: true,
			Reason:       "too_many_attempts",
			Suggestion:   fmt.Sprintf("Let's move on from %s and focus on other important aspects of your symptoms.", category),
			NextPriority: NextPriorityCategory(data, attempts),
		}
	}
	if hasSufficientData(category, data) {
		return TopicAdvice{
			ShouldChange: true,
			Reason:       "sufficient_data",
			Suggestion:   fmt.Sprintf("Great! I have good information about %s. Let's explore other aspects.", category),
			NextPriority: NextPriorityCategory(data, attempts),
		}
	}
	return TopicAdvice{AttemptsRemaining: maxCategoryAttempts - n}
}

// QuestionAttempts sums attempt counts per question category.
func QuestionAttempts(questions []pkg.QuestionRecord) map[string]int {
	out := make(map[string]int)
	for _, q := range questions {
		out[q.Category] += q.AttemptCount
	}
	return out
}

// BuildContext assembles the memory snapshot of a conversation.
func BuildContext(conv *pkg.Conversation, messages []pkg.Message, questions []pkg.QuestionRecord, now time.Time) *pkg.ConversationContext {
	history := make([]pkg.HistoryEntry, 0, len(messages))
	for _, m := range messages {
		history = append(history, pkg.HistoryEntry{Role: m.Role, Content: m.Content, Timestamp: m.CreatedAt, Phase: m.Phase})
	}
	asked := make(map[string]pkg.AskedQuestion, len(questions))
	for _, q := range questions {
		asked[QuestionHash(q.QuestionText)] = pkg.AskedQuestion{
			QuestionID:       q.QuestionID,
			QuestionText:     q.QuestionText,
			Category:         q.Category,
			Status:           q.Status,
			AttemptCount:     q.AttemptCount,
			LastAsked:        q.LastAskedAt,
			ResponseReceived: q.Status == pkg.QuestionAnswered,
			ResponseClarity:  q.ResponseClarity,
		}
	}
	data := conv.CollectedData
	if data == nil {
		data = map[string]any{}
	}

	meaningful := CountMeaningful(data)
	dc := pkg.DataCompleteness{
		TotalFields:           len(data),
		MeaningfulFields:      meaningful,
		MeetsMinimumThreshold: meaningful >= MinFieldsForStorage,
	}
	if len(data) > 0 {
		dc.CompletionPercentage = float64(meaningful) / float64(len(data)) * 100
	}

	return &pkg.ConversationContext{
		SessionID:          conv.SessionID,
		UserID:             conv.UserID,
		Status:             conv.Status,
		CurrentPhase:       conv.CurrentPhase,
		EmergencyLevel:     conv.EmergencyLevel,
		History:            history,
		MessageCount:       len(history),
		AskedQuestions:     asked,
		QuestionAttempts:   QuestionAttempts(questions),
		CollectedData:      data,
		DataCompleteness:   dc,
		MissingInformation: AnalyzeMissing(data),
		LastUserMessage:    lastContent(messages, pkg.RoleUser),
		LastAIMessage:      lastContent(messages, pkg.RoleAssistant),
		Tone:               ConversationTone(messages),
		RetrievedAt:        now,
		CacheKey:           fmt.Sprintf("conv_%s_%d", conv.SessionID, len(history)),
	}
}

func lastContent(messages []pkg.Message, role pkg.MessageRole) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == role {
			return messages[i].Content
		}
	}
	return ""
}

package core

import (
	"math"
	"strings"
	"time"

	"intake-assistant/pkg"
)

// Thresholds on the number of meaningful category fields.
const (
	MinFieldsForStorage    = 8
	MinFieldsForCompletion = 15
	ComprehensiveFields    = 25

	categoryCompleteAt = 70.0
)

// Category groups fields that are scored together.
type Category struct {
	Name   string
	Weight int
	Fields []string
}

// Categories is ordered by clinical priority.
var Categories = []Category{
	{"chief_complaint", 25, []string{"primary_complaint", "onset", "detailed_description"}},
	{"symptom_details", 20, []string{"location", "duration", "character", "severity", "timing", "aggravating_factors", "relieving_factors", "radiation"}},
	{"medical_history", 15, []string{"chronic_conditions", "past_surgeries", "hospitalizations", "similar_episodes"}},
	{"medications", 10, []string{"current_medications", "treatment_attempted", "over_the_counter", "supplements"}},
	{"allergies", 10, []string{"allergies", "drug_allergies", "food_allergies", "environmental_allergies"}},
	{"social_history", 8, []string{"smoking", "alcohol", "drugs", "occupation", "work_exposures"}},
	{"family_history", 7, []string{"family_history", "genetic_history"}},
	{"review_of_systems", 5, []string{"cardiovascular", "respiratory", "gastrointestinal", "neurological", "skin", "genitourinary", "musculoskeletal", "psychiatric"}},
}

// OldcartsFields is the intake field list reported to clients, in asking order.
var OldcartsFields = []string{
	"age", "biological_sex", "primary_complaint", "onset", "location", "duration",
	"character", "aggravating_factors", "relieving_factors", "timing", "severity",
	"radiation", "progression", "related_symptoms", "treatment_attempted",
}

var placeholders = map[string]bool{
	"unknown": true, "not sure": true, "maybe": true, "i don't know": true, "n/a": true,
	"none": true, "no": true, "yes": true, "ok": true, "fine": true, "normal": true,
	"regular": true, "skip": true, "skipped": true, "not mentioned": true,
	"not applicable": true, "unclear_response": true, "skipped_by_user": true,
}

// Sentinel values the extraction step returns instead of data.
const (
	ValueUnclear = "unclear_response"
	ValueSkipped = "skipped_by_user"
)

// IsMeaningful reports whether v is real patient data rather than an empty
// value or a placeholder answer.
func IsMeaningful(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		return s != "" && s != "null" && !placeholders[s]
	case []any:
		return len(t) > 0
	case []string:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}

// HasMeaningfulData reports whether data[field] is meaningful.
func HasMeaningfulData(data map[string]any, field string) bool {
	v, ok := data[field]
	return ok && IsMeaningful(v)
}

// CountMeaningful counts meaningful values over all keys.
func CountMeaningful(data map[string]any) int {
	n := 0
	for _, v := range data {
		if IsMeaningful(v) {
			n++
		}
	}
	return n
}

// CategoryScore is the completeness of one category.
type CategoryScore struct {
	Collected  int      `json:"collected"`
	Total      int      `json:"total"`
	Percentage float64  `json:"percentage"`
	Complete   bool     `json:"complete"`
	Missing    []string `json:"missing_fields"`
}

// PriorityQuestion names the missing fields of an incomplete category.
type PriorityQuestion struct {
	Category      string   `json:"category"`
	MissingFields []string `json:"missing_fields"`
	Priority      string   `json:"priority"`
}

// CompletenessReport is the outcome of EvaluateCompleteness.
type CompletenessReport struct {
	Level                 pkg.CompletenessLevel    `json:"completeness_level"`
	Percentage            float64                  `json:"completion_percentage"`
	FieldsCollected       int                      `json:"total_fields_collected"`
	TotalPossible         int                      `json:"total_possible_fields"`
	MeetsStorageThreshold bool                     `json:"meets_storage_threshold"`
	CanComplete           bool                     `json:"can_complete_session"`
	Categories            map[string]CategoryScore `json:"category_scores"`
	MissingCriticalAreas  []string                 `json:"missing_critical_areas"`
	NextPriorityQuestions []PriorityQuestion       `json:"next_priority_questions"`
}

// EvaluateCompleteness scores collected data against the weighted categories.
func EvaluateCompleteness(data map[string]any) CompletenessReport {
	r := CompletenessReport{Categories: make(map[string]CategoryScore, len(Categories))}

	var weighted float64
	var totalWeight int
	for _, c := range Categories {
		s := CategoryScore{Total: len(c.Fields)}
		for _, f := range c.Fields {
			if HasMeaningfulData(data, f) {
				s.Collected++
			} else {
				s.Missing = append(s.Missing, f)
			}
		}
		s.Percentage = float64(s.Collected) / float64(s.Total) * 100
		s.Complete = s.Percentage >= categoryCompleteAt
		r.Categories[c.Name] = s
		r.FieldsCollected += s.Collected
		r.TotalPossible += s.Total
		weighted += s.Percentage / 100 * float64(c.Weight)
		totalWeight += c.Weight
	}
	r.Percentage = weighted / float64(totalWeight) * 100

	switch n := r.FieldsCollected; {
	case n == r.TotalPossible:
		r.Level = pkg.CompletenessComplete
	case n >= ComprehensiveFields:
		r.Level = pkg.CompletenessComprehensive
	case n >= MinFieldsForCompletion:
		r.Level = pkg.CompletenessAdequate
	case n >= MinFieldsForStorage:
		r.Level = pkg.CompletenessBasic
	default:
		r.Level = pkg.CompletenessMinimal
	}
	r.MeetsStorageThreshold = r.FieldsCollected >= MinFieldsForStorage
	r.CanComplete = r.FieldsCollected >= MinFieldsForCompletion

	for _, c := range Categories[:3] {
		if !r.Categories[c.Name].Complete {
			r.MissingCriticalAreas = append(r.MissingCriticalAreas, c.Name)
		}
	}
	for _, c := range Categories[:5] {
		s := r.Categories[c.Name]
		if s.Complete || len(s.Missing) == 0 {
			continue
		}
		priority := "medium"
		if c.Name == "chief_complaint" || c.Name == "symptom_details" {
			priority = "high"
		}
		r.NextPriorityQuestions = append(r.NextPriorityQuestions, PriorityQuestion{
			Category:      c.Name,
			MissingFields: s.Missing[:min(2, len(s.Missing))],
			Priority:      priority,
		})
		if len(r.NextPriorityQuestions) == 3 {
			break
		}
	}
	return r
}

// Apply copies the transaction-control decisions onto the conversation.
func (r CompletenessReport) Apply(conv *pkg.Conversation) {
	conv.CompletenessLevel = r.Level
	conv.CompletionScore = r.Percentage
	conv.MinDataThresholdMet = r.MeetsStorageThreshold
	conv.CanBeSaved = r.MeetsStorageThreshold
}

// Check builds the row persisted in data_completeness_checks.
func (r CompletenessReport) Check(sessionID string, at time.Time) *pkg.CompletenessCheck {
	complete := make(map[string]bool, len(r.Categories))
	for name, s := range r.Categories {
		complete[name] = s.Complete
	}
	return &pkg.CompletenessCheck{
		SessionID:             sessionID,
		CategoryComplete:      complete,
		MinFieldsRequired:     MinFieldsForStorage,
		FieldsCollected:       r.FieldsCollected,
		PointsEarned:          int(r.Percentage),
		CompletionPercentage:  r.Percentage,
		MeetsStorageThreshold: r.MeetsStorageThreshold,
		CanCompleteSession:    r.CanComplete,
		LastCalculated:        at,
	}
}

// CompletionMessage picks the closing message for a completeness percentage.
func CompletionMessage(pct float64) string {
	switch {
	case pct >= 90:
		return "🎉 Excellent! I've gathered comprehensive information about your health concerns. " +
			"This detailed information will be invaluable for your healthcare team to provide " +
			"you with the best possible care. Thank you for being so thorough in sharing your " +
			"medical history and symptoms."
	case pct >= 70:
		return "✅ Great job! I've collected substantial information about your health concerns. " +
			"This gives your healthcare team a solid foundation to work with. If you think " +
			"of anything else important before your appointment, feel free to mention it then."
	case pct >= 50:
		return "👍 Thank you for sharing this information with me. I've recorded the key details " +
			"about your symptoms and medical background. While we could gather more details, " +
			"what you've shared provides a good starting point for your healthcare team."
	}
	return "Thank you for the information you've shared. I've saved what we discussed. " +
		"You may want to continue this conversation with your healthcare provider " +
		"to ensure they have all the details they need for your care."
}

// OldcartsProgress marks which intake fields hold meaningful data.
func OldcartsProgress(data map[string]any) map[string]bool {
	out := make(map[string]bool, len(OldcartsFields))
	for _, f := range OldcartsFields {
		out[f] = HasMeaningfulData(data, f)
	}
	return out
}

// Progress summarises OldcartsProgress.
func Progress(data map[string]any) pkg.ProgressSummary {
	done := 0
	for _, f := range OldcartsFields {
		if HasMeaningfulData(data, f) {
			done++
		}
	}
	total := len(OldcartsFields)
	return pkg.ProgressSummary{
		TotalFieldsPossible:  total,
		FieldsCompleted:      done,
		CompletionPercentage: roundTo(float64(done)/float64(total)*100, 1),
	}
}

// NextOldcartsField returns the first intake field without meaningful data
// for which skip returns false. It returns "" when nothing is left to ask.
func NextOldcartsField(data map[string]any, skip func(field string) bool) string {
	for _, f := range OldcartsFields {
		if HasMeaningfulData(data, f) {
			continue
		}
		if skip != nil && skip(f) {
			continue
		}
		return f
	}
	return ""
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

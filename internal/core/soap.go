package core

import (
	"fmt"
	"strings"
)

// SOAP sections in the order they are worked through.
const (
	SectionPatientContext      = "patient_context"
	SectionChiefComplaint      = "chief_complaint"
	SectionHPI                 = "hpi_oldcarts"
	SectionMedicalHistory      = "medical_history"
	SectionVitals              = "vitals"
	SectionInvestigations      = "investigations"
	SectionReviewOfSystems     = "review_of_systems"
	SectionFamilySocialHistory = "family_social_history"
	SectionCompletion          = "completion"

	sectionCompleteAt = 80.0
)

// Section is a SOAP section and its required fields. HPI fields are listed
// in OLDCARTS order.
type Section struct {
	Name   string
	Fields []string
}

var SOAPSections = []Section{
	{SectionPatientContext, []string{"age", "biological_sex"}},
	{SectionChiefComplaint, []string{"primary_complaint", "detailed_description"}},
	{SectionHPI, []string{
		"onset", "location", "duration", "character", "aggravating_factors", "relieving_factors",
		"timing", "severity", "radiation", "progression", "related_symptoms", "treatment_attempted",
	}},
	{SectionMedicalHistory, []string{"chronic_conditions", "current_medications", "allergies", "past_surgeries", "hospitalizations", "similar_episodes"}},
	{SectionVitals, []string{"blood_pressure", "temperature", "heart_rate", "height", "weight"}},
	{SectionInvestigations, []string{"recent_tests", "test_results", "specialist_care"}},
	{SectionReviewOfSystems, []string{
		"general", "cardiovascular", "respiratory", "gastrointestinal", "genitourinary",
		"musculoskeletal", "neurological", "dermatologic", "psychiatric", "endocrine", "hematologic",
	}},
	{SectionFamilySocialHistory, []string{"family_history", "smoking_drinking", "occupation"}},
}

// symptomFollowUps are related findings worth asking about for common complaints.
var symptomFollowUps = map[string][]string{
	"chest pain": {"dyspnea", "radiation_to_arm", "nausea", "sweating", "exertion_related"},
	"fever":      {"chills", "confusion", "rash", "neck_stiffness"},
	"weakness":   {"facial_droop", "speech_changes", "limb_weakness", "vision_changes"},
	"numbness":   {"facial_droop", "speech_changes", "limb_weakness", "vision_changes"},
	"headache":   {"nausea", "light_sensitivity", "neck_stiffness", "vision_changes"},
}

// SectionScore is the completeness of one SOAP section.
type SectionScore struct {
	Collected  int      `json:"collected"`
	Total      int      `json:"total"`
	Percentage float64  `json:"percentage"`
	Complete   bool     `json:"complete"`
	Missing    []string `json:"missing_fields"`
}

// SOAPReport is the outcome of EvaluateSOAP.
type SOAPReport struct {
	OverallPercentage       float64                 `json:"overall_completion_percentage"`
	TotalCollected          int                     `json:"total_fields_collected"`
	TotalRequired           int                     `json:"total_required_fields"`
	Sections                map[string]SectionScore `json:"section_completeness"`
	CurrentSection          string                  `json:"current_section"`
	NextPriorityField       string                  `json:"next_priority_field,omitempty"`
	CanComplete             bool                    `json:"can_complete_session"`
	MeetsMinimumThreshold   bool                    `json:"meets_minimum_threshold"`
	MissingCriticalSections []string                `json:"missing_critical_sections"`
	Status                  string                  `json:"completion_status"`
}

// EvaluateSOAP scores collected data section by section.
func EvaluateSOAP(data map[string]any) SOAPReport {
	r := SOAPReport{Sections: make(map[string]SectionScore, len(SOAPSections))}
	for _, sec := range SOAPSections {
		s := SectionScore{Total: len(sec.Fields)}
		for _, f := range sec.Fields {
			if HasMeaningfulData(data, f) {
				s.Collected++
			} else {
				s.Missing = append(s.Missing, f)
			}
		}
		s.Percentage = float64(s.Collected) / float64(s.Total) * 100
		s.Complete = s.Percentage >= sectionCompleteAt
		r.Sections[sec.Name] = s
		r.TotalCollected += s.Collected
		r.TotalRequired += s.Total
	}
	r.OverallPercentage = float64(r.TotalCollected) / float64(r.TotalRequired) * 100

	r.CurrentSection = SectionCompletion
	for _, sec := range SOAPSections {
		if !r.Sections[sec.Name].Complete {
			r.CurrentSection = sec.Name
			if m := r.Sections[sec.Name].Missing; len(m) > 0 {
				r.NextPriorityField = m[0]
			}
			break
		}
	}

	r.CanComplete = r.OverallPercentage >= 70
	r.MeetsMinimumThreshold = r.TotalCollected >= MinFieldsForCompletion
	for _, name := range []string{SectionChiefComplaint, SectionHPI, SectionMedicalHistory} {
		if !r.Sections[name].Complete {
			r.MissingCriticalSections = append(r.MissingCriticalSections, name)
		}
	}
	r.Status = completionStatus(r.OverallPercentage)
	return r
}

func completionStatus(pct float64) string {
	switch {
	case pct >= 90:
		return "comprehensive"
	case pct >= 70:
		return "adequate"
	case pct >= 50:
		return "partial"
	}
	return "minimal"
}

// QuestionGuidance tells the question step what a field is about.
type QuestionGuidance struct {
	Type       string `json:"type"`
	Focus      string `json:"question_focus"`
	Validation string `json:"validation"`
}

var fieldGuidance = map[string]QuestionGuidance{
	"age":                  {"demographic", "To help personalize your experience, may I ask your age?", "numeric_age"},
	"biological_sex":       {"demographic", "What is your biological sex assigned at birth? (Male / Female / Other / Prefer not to say)", "categorical"},
	"primary_complaint":    {"open_ended", "What brings you in today? What symptom or issue is most important to you right now?", "descriptive"},
	"detailed_description": {"follow_up", "Can you describe this in more detail? Help me understand exactly what you're experiencing.", "descriptive"},
	"onset":                {"temporal", "When did this symptom start? Was it sudden or gradual?", "temporal"},
	"location":             {"anatomical", "Where exactly do you feel this symptom? Can you point to or describe the specific location?", "anatomical"},
	"duration":             {"temporal", "Is this symptom constant or does it come and go? How long does it last when it occurs?", "temporal"},
	"character":            {"descriptive", "How would you describe this symptom? (e.g., sharp, dull, burning, throbbing, cramping)", "descriptive"},
	"aggravating_factors":  {"modifying", "What makes this symptom worse? Any activities, positions, or situations that trigger it?", "list"},
	"relieving_factors":    {"modifying", "What helps relieve this symptom? Anything that makes it better?", "list"},
	"timing":               {"temporal", "Is there a particular time of day when this symptom is worse or better?", "temporal"},
	"severity":             {"scale", "On a scale of 1 to 10, with 10 being the worst pain imaginable, how would you rate this symptom?", "numeric_scale"},
	"radiation":            {"anatomical", "Does this symptom spread or radiate to any other part of your body?", "anatomical"},
	"progression":          {"temporal", "Since it started, is this symptom getting better, worse, or staying the same?", "categorical"},
}

// FieldGuidance returns the question guidance for field, or a generic one.
func FieldGuidance(field string) QuestionGuidance {
	if g, ok := fieldGuidance[field]; ok {
		return g
	}
	if field == "" {
		return QuestionGuidance{Type: "completion", Focus: "All required data collected, proceed to completion", Validation: "none"}
	}
	return QuestionGuidance{
		Type:       "general",
		Focus:      fmt.Sprintf("Please tell me about your %s", strings.ReplaceAll(field, "_", " ")),
		Validation: "general",
	}
}

// FollowUpsFor returns related findings worth asking about for a complaint.
func FollowUpsFor(complaint string) []string {
	c := strings.ToLower(complaint)
	for key, f := range symptomFollowUps {
		if strings.Contains(c, key) {
			return f
		}
	}
	return nil
}

// SummarizeCollected renders a one-line summary of collected data.
func SummarizeCollected(data map[string]any) string {
	var parts []string
	if HasMeaningfulData(data, "age") && HasMeaningfulData(data, "biological_sex") {
		parts = append(parts, fmt.Sprintf("Patient: %v year old %v", data["age"], data["biological_sex"]))
	}
	if HasMeaningfulData(data, "primary_complaint") {
		parts = append(parts, fmt.Sprintf("Chief complaint: %v", data["primary_complaint"]))
	}
	var oldcarts []string
	for _, f := range []string{"onset", "location", "duration", "character", "severity"} {
		if HasMeaningfulData(data, f) {
			oldcarts = append(oldcarts, f)
		}
	}
	if len(oldcarts) > 0 {
		parts = append(parts, "OLDCARTS collected: "+strings.Join(oldcarts, ", "))
	}
	if len(parts) == 0 {
		return "No data collected yet"
	}
	return strings.Join(parts, " | ")
}

// OrganizedData groups collected values by SOAP section. Missing values are nil.
func OrganizedData(data map[string]any) map[string]map[string]any {
	out := make(map[string]map[string]any, 4)
	for _, sec := range SOAPSections[:4] {
		m := make(map[string]any, len(sec.Fields))
		for _, f := range sec.Fields {
			m[f] = data[f]
		}
		out[sec.Name] = m
	}
	return out
}

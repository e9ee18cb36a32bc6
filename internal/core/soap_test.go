package core

import (
	"strings"
	"testing"
)

func TestEvaluateSOAP(t *testing.T) {
	r := EvaluateSOAP(map[string]any{})
	if r.CurrentSection != SectionPatientContext || r.NextPriorityField != "age" {
		t.Errorf("empty = %s/%s", r.CurrentSection, r.NextPriorityField)
	}
	if r.Status != "minimal" || r.CanComplete {
		t.Errorf("empty status = %s, can complete %v", r.Status, r.CanComplete)
	}
	if len(r.MissingCriticalSections) != 3 {
		t.Errorf("missing critical = %v", r.MissingCriticalSections)
	}

	data := map[string]any{
		"age":                  52,
		"biological_sex":       "male",
		"primary_complaint":    "chest tightness",
		"detailed_description": "pressure when climbing stairs",
	}
	r = EvaluateSOAP(data)
	if r.CurrentSection != SectionHPI || r.NextPriorityField != "onset" {
		t.Errorf("after chief complaint = %s/%s", r.CurrentSection, r.NextPriorityField)
	}
	if !r.Sections[SectionChiefComplaint].Complete {
		t.Error("chief complaint section incomplete")
	}

	all := map[string]any{}
	for _, s := range SOAPSections {
		for _, f := range s.Fields {
			all[f] = "x"
		}
	}
	r = EvaluateSOAP(all)
	if r.CurrentSection != SectionCompletion || r.Status != "comprehensive" || !r.CanComplete || !r.MeetsMinimumThreshold {
		t.Errorf("full data = %+v", r)
	}
}

func TestFieldGuidance(t *testing.T) {
	if g := FieldGuidance("severity"); g.Type != "scale" {
		t.Errorf("severity = %+v", g)
	}
	if g := FieldGuidance("blood_pressure"); g.Focus != "Please tell me about your blood pressure" {
		t.Errorf("generic = %+v", g)
	}
	if g := FieldGuidance(""); g.Type != "completion" {
		t.Errorf("empty = %+v", g)
	}
}

func TestQuestionFallback(t *testing.T) {
	tests := []struct {
		field   string
		attempt int
		want    string
	}{
		{"", 1, genericQuestion},
		{"onset", 1, "When did this symptom first start?"},
		{"age", 1, "To help personalize your experience, may I ask your age?"},
		{"radiation", 4, SkipHint},
	}
	for _, tt := range tests {
		if got := QuestionFallback(tt.field, tt.attempt); !strings.Contains(got, tt.want) {
			t.Errorf("QuestionFallback(%q, %d) = %q, want %q", tt.field, tt.attempt, got, tt.want)
		}
	}
}

func TestSummarizeCollected(t *testing.T) {
	if got := SummarizeCollected(map[string]any{}); got != "No data collected yet" {
		t.Errorf("empty = %q", got)
	}
	got := SummarizeCollected(map[string]any{
		"age": 30, "biological_sex": "female", "primary_complaint": "migraine", "onset": "monday", "severity": "7/10",
	})
	want := "Patient: 30 year old female | Chief complaint: migraine | OLDCARTS collected: onset, severity"
	if got != want {
		t.Errorf("summary = %q, want %q", got, want)
	}
}

func TestFollowUpsFor(t *testing.T) {
	if f := FollowUpsFor("Crushing CHEST PAIN"); len(f) == 0 || f[0] != "dyspnea" {
		t.Errorf("chest pain follow-ups = %v", f)
	}
	if f := FollowUpsFor("itchy elbow"); f != nil {
		t.Errorf("unexpected follow-ups %v", f)
	}
}

func TestOrganizedData(t *testing.T) {
	out := OrganizedData(map[string]any{"age": 30, "onset": "today"})
	if len(out) != 4 {
		t.Fatalf("sections = %d", len(out))
	}
	if out[SectionPatientContext]["age"] != 30 || out[SectionHPI]["onset"] != "today" {
		t.Errorf("organized = %v", out)
	}
	if v, ok := out[SectionMedicalHistory]["allergies"]; !ok || v != nil {
		t.Errorf("missing values should be present and nil, got %v (%v)", v, ok)
	}
}

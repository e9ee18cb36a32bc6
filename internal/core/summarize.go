package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"intake-assistant/internal/llm"
	"intake-assistant/pkg"
)

// Summarizer turns a finished transcript into the clinician-facing insight
// summary.
type Summarizer struct {
	LLM llm.Client
	// HistoryLimit caps the transcript messages sent to the model; 0 sends all.
	HistoryLimit int
}

// NewSummarizer constructs a summariser.
func NewSummarizer(client llm.Client, historyLimit int) *Summarizer {
	return &Summarizer{LLM: client, HistoryLimit: historyLimit}
}

type insight struct {
	ConversationOverview    string   `json:"conversation_overview"`
	PrimaryConcerns         []string `json:"primary_concerns"`
	KeySymptoms             []string `json:"key_symptoms"`
	InformationQuality      string   `json:"information_quality"`
	PatientCommunication    string   `json:"patient_communication"`
	FollowUpRecommendations []string `json:"follow_up_recommendations"`
	MedicalSignificance     string   `json:"medical_significance"`
	OverallAssessment       string   `json:"overall_assessment"`
}

func (in insight) fields() map[string]interface{} {
	return map[string]interface{}{
		"conversation_overview":     in.ConversationOverview,
		"primary_concerns":          in.PrimaryConcerns,
		"key_symptoms":              in.KeySymptoms,
		"information_quality":       in.InformationQuality,
		"patient_communication":     in.PatientCommunication,
		"follow_up_recommendations": in.FollowUpRecommendations,
		"medical_significance":      in.MedicalSignificance,
		"overall_assessment":        in.OverallAssessment,
	}
}

// Summarize analyses the transcript and collected data. A previous summary
// is merged: new non-empty values overwrite old ones. When the model fails
// the summary is built from the collected data and the error is returned
// alongside it.
func (s *Summarizer) Summarize(ctx context.Context, conv *pkg.Conversation, transcript []pkg.Message, old *pkg.Summary) (*pkg.Summary, error) {
	var b strings.Builder
	b.WriteString(SummarizationInstruction)
	b.WriteString("\n\nCollected data: ")
	data, err := json.Marshal(conv.CollectedData)
	if err != nil {
		return merge(fallbackSummary(conv), old), fmt.Errorf("encode collected data: %w", err)
	}
	b.Write(data)
	fmt.Fprintf(&b, "\nEmergency level: %s\nTranscript:\n", conv.EmergencyLevel)
	if n := s.HistoryLimit; n > 0 && len(transcript) > n {
		transcript = transcript[len(transcript)-n:]
	}
	for _, m := range transcript {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}

	resp, err := s.LLM.Summarize(ctx, b.String())
	var in insight
	if err == nil {
		err = llm.DecodeJSON(resp, &in)
	}
	if err != nil {
		return merge(fallbackSummary(conv), old), err
	}

	points := append([]string{}, in.PrimaryConcerns...)
	points = append(points, in.KeySymptoms...)
	sum := &pkg.Summary{
		SessionID:  conv.SessionID,
		KeyPoints:  dedupe(points),
		Structured: in.fields(),
		FreeText:   firstNonEmpty(in.OverallAssessment, in.ConversationOverview),
		UpdatedAt:  time.Now(),
	}
	return merge(sum, old), nil
}

func fallbackSummary(conv *pkg.Conversation) *pkg.Summary {
	data := conv.CollectedData
	var points []string
	for _, f := range []string{"primary_complaint", "onset", "location", "severity", "duration"} {
		if HasMeaningfulData(data, f) {
			points = append(points, fmt.Sprintf("%s: %v", strings.ReplaceAll(f, "_", " "), data[f]))
		}
	}
	if len(points) == 0 {
		points = []string{"Conversation recorded"}
	}
	return &pkg.Summary{
		SessionID: conv.SessionID,
		KeyPoints: points,
		Structured: map[string]interface{}{
			"conversation_overview": SummarizeCollected(data),
			"information_quality":   string(EvaluateCompleteness(data).Level),
		},
		FreeText:  SummarizeCollected(data),
		UpdatedAt: time.Now(),
	}
}

func merge(cur, old *pkg.Summary) *pkg.Summary {
	if old == nil {
		return cur
	}
	for k, v := range old.Structured {
		if nv, ok := cur.Structured[k]; !ok || !IsMeaningful(nv) {
			cur.Structured[k] = v
		}
	}
	cur.KeyPoints = dedupe(append(cur.KeyPoints, old.KeyPoints...))
	if cur.FreeText == "" {
		cur.FreeText = old.FreeText
	}
	cur.ID = old.ID
	return cur
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

package core

import (
	"strings"

	"intake-assistant/pkg"
)

var redFlags = []string{
	"chest pain", "severe shortness of breath", "slurred speech", "vision loss",
	"fainting", "sudden weakness", "confusion", "high fever", "severe headache",
	"difficulty breathing", "loss of consciousness", "severe abdominal pain",
	"heavy bleeding", "severe bleeding",
}

var (
	criticalFlags = []string{"chest pain", "difficulty breathing", "loss of consciousness", "severe bleeding"}
	highFlags     = []string{"severe shortness of breath", "slurred speech", "vision loss", "fainting"}
)

const (
	urgentMessage = "⚠️ Your symptoms may be serious. Please call emergency services " +
		"or go to the ER immediately. If this is a life-threatening emergency, call 911 now."
	moderateMessage = "🏥 Based on your symptoms, I recommend seeking urgent medical care. " +
		"Please contact your healthcare provider immediately or visit an urgent care center."
	seekCareMessage = "Please seek immediate medical attention for your symptoms."
)

// TriageResult is the outcome of keyword triage on a patient message.
type TriageResult struct {
	Level           pkg.EmergencyLevel `json:"emergency_level"`
	Flags           []string           `json:"detected_flags"`
	ImmediateAction bool               `json:"requires_immediate_action"`
	Message         string             `json:"emergency_message,omitempty"`
}

// Triage matches red-flag phrases in message.
func Triage(message string) TriageResult {
	lower := strings.ToLower(message)
	r := TriageResult{Level: pkg.EmergencyNone}
	for _, f := range redFlags {
		if strings.Contains(lower, f) {
			r.Flags = append(r.Flags, f)
		}
	}
	if len(r.Flags) == 0 {
		return r
	}
	switch {
	case containsAny(r.Flags, criticalFlags):
		r.Level = pkg.EmergencyCritical
	case containsAny(r.Flags, highFlags):
		r.Level = pkg.EmergencyHigh
	default:
		r.Level = pkg.EmergencyModerate
	}
	r.ImmediateAction = r.Level.Urgent()
	r.Message = EmergencyMessage(r.Level)
	return r
}

// EmergencyMessage is the fixed advice for a level.
func EmergencyMessage(level pkg.EmergencyLevel) string {
	switch level {
	case pkg.EmergencyCritical, pkg.EmergencyHigh:
		return urgentMessage
	case pkg.EmergencyModerate:
		return moderateMessage
	}
	return seekCareMessage
}

func containsAny(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

package core

import (
	"strings"
	"time"

	"intake-assistant/pkg"
)

// Opportunities the question step can act on.
const (
	OpportunityValidateConcern = "Validate their concern about the symptom"
	OpportunityAcknowledge     = "Acknowledge their detailed description"
	OpportunityAppreciate      = "Appreciate their patience with questions"
	OpportunityReassure        = "Reassure about the information gathering process"
)

const detailedReplyWords = 15

var (
	worryIndicators      = []string{"worried", "scared", "anxious", "afraid", "concerned", "nervous"}
	reassuranceQuestions = []string{"is it serious", "is this serious", "should i be", "is that bad", "is this bad"}
)

// AdaptPersonality picks the assistant's manner for a conversation tone.
func AdaptPersonality(tone string) pkg.PersonalityAdaptation {
	switch tone {
	case "frustrated":
		return pkg.PersonalityAdaptation{
			CommunicationApproach: "direct",
			QuestionStyle:         "concise",
			EmpathyLevel:          "high",
			LanguageComplexity:    "simple",
			Reasoning:             "patient shows frustration with repeated questions",
		}
	case "confused":
		return pkg.PersonalityAdaptation{
			CommunicationApproach: "gentle",
			QuestionStyle:         "focused",
			EmpathyLevel:          "high",
			LanguageComplexity:    "simple",
			Reasoning:             "patient has trouble following the questions",
		}
	case "engaged":
		return pkg.PersonalityAdaptation{
			CommunicationApproach: "warm",
			QuestionStyle:         "detailed",
			EmpathyLevel:          "moderate",
			LanguageComplexity:    "moderate",
			Reasoning:             "patient is engaged in a long conversation",
		}
	}
	return pkg.PersonalityAdaptation{
		CommunicationApproach: "warm",
		QuestionStyle:         "balanced",
		EmpathyLevel:          "high",
		LanguageComplexity:    "moderate",
	}
}

// AssessPacing grades conversation speed from the message count and the time
// between the first and last message.
func AssessPacing(messages []pkg.Message) pkg.PacingAssessment {
	p := pkg.PacingAssessment{
		CurrentPace:           "appropriate",
		RecommendedAdjustment: "maintain",
		NextQuestionApproach:  "normal_flow",
	}
	n := len(messages)
	if n < 4 {
		return p
	}
	elapsed := messages[n-1].CreatedAt.Sub(messages[0].CreatedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	p.MinutesPerMessage = elapsed.Minutes() / float64(n)
	switch {
	case p.MinutesPerMessage > 3 || n > 20:
		p.CurrentPace = "too_slow"
		p.RecommendedAdjustment = "speed_up"
		p.NextQuestionApproach = "be_concise"
	case elapsed > 0 && p.MinutesPerMessage < float64(12*time.Second)/float64(time.Minute):
		p.CurrentPace = "too_fast"
		p.RecommendedAdjustment = "slow_down"
		p.NextQuestionApproach = "take_time"
	}
	return p
}

// DetectOpportunities lists ways to acknowledge the patient's latest
// message.
func DetectOpportunities(message, tone string) []string {
	lower := strings.ToLower(message)
	var out []string
	if containsAnyText(lower, worryIndicators) {
		out = append(out, OpportunityValidateConcern)
	}
	if containsAnyText(lower, reassuranceQuestions) {
		out = append(out, OpportunityReassure)
	}
	if len(strings.Fields(message)) >= detailedReplyWords {
		out = append(out, OpportunityAcknowledge)
	}
	if tone == "frustrated" {
		out = append(out, OpportunityAppreciate)
	}
	return out
}

// AdaptQuestion phrases question for the patient's manner and the first
// opportunity that calls for an opener.
func AdaptQuestion(question string, p pkg.PersonalityAdaptation, opportunities []string) string {
	var opener string
	switch p.CommunicationApproach {
	case "direct":
		opener = "Thanks for bearing with me."
	case "gentle":
		opener = "Let me ask that another way."
	}
	if opener == "" {
		for _, o := range opportunities {
			switch o {
			case OpportunityValidateConcern:
				opener = "I understand this is worrying."
			case OpportunityReassure:
				opener = "These questions help your provider see the full picture."
			case OpportunityAcknowledge:
				opener = "Thank you for the detail."
			}
			if opener != "" {
				break
			}
		}
	}
	if opener == "" || question == "" {
		return question
	}
	return opener + " " + question
}

// categoryFor maps a field onto its OLDCARTS category name.
func categoryFor(field string) string {
	for _, c := range infoCategories {
		for _, f := range c.fields {
			if f == field {
				return c.name
			}
		}
	}
	return field
}

func containsAnyText(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

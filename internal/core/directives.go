package core

import (
	"strings"

	"intake-assistant/pkg"
)

var skipPhrases = map[string]bool{
	"skip": true, "skip it": true, "skip this": true, "skip this question": true, "skip that": true,
	"pass": true, "next": true, "next question": true, "move on": true, "let's move on": true,
	"i'd rather not say": true, "i'd rather not answer": true, "prefer not to say": true,
	"i prefer not to say": true, "i don't want to answer": true, "no comment": true,
}

var handoffPhrases = []string{
	"speak to a human", "speak with a human", "talk to a human", "talk to a person",
	"real person", "human agent", "speak to someone", "talk to someone real",
	"talk to a doctor", "speak to a doctor", "speak with a doctor", "representative",
}

// SkipReply acknowledges an explicit skip.
const SkipReply = "Question skipped. You can return to it later if needed."

// SkipHint is appended to clarification requests.
const SkipHint = "If you're not sure, you can say 'skip' and we'll move on."

var clarificationPrompts = []string{
	"Could you be more specific about that?",
	"Can you give me an example or more details?",
	"I want to make sure I understand correctly. Could you explain that a bit more?",
	"To help your doctor, I need a clearer picture. Can you describe that in more detail?",
}

func normalizeDirective(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimRight(s, ".!? ")
}

// IsSkipRequest reports whether the patient asked to skip the current question.
func IsSkipRequest(message string) bool {
	m := normalizeDirective(message)
	if skipPhrases[m] {
		return true
	}
	return strings.HasPrefix(m, "skip ")
}

// IsHandoffRequest reports whether the patient asked for a human.
func IsHandoffRequest(message string) bool {
	m := strings.ToLower(message)
	for _, p := range handoffPhrases {
		if strings.Contains(m, p) {
			return true
		}
	}
	return false
}

// HandoffMessage answers a handoff request. saved tells whether enough data
// was collected to keep the session.
func HandoffMessage(saved bool) string {
	if saved {
		return "I understand you'd prefer to speak with a human. I've saved all the " +
			"information you've shared so far. You can discuss this further with " +
			"your doctor during your appointment, or if this is urgent, please " +
			"contact your healthcare provider directly."
	}
	return "I understand you'd prefer to speak with a human. If you're unsure " +
		"or uncomfortable continuing now, we can stop here. You can always " +
		"discuss your concerns directly with your doctor during your appointment."
}

// RequestHandoff marks the conversation for human follow-up and pauses it
// when its data can be kept.
func RequestHandoff(conv *pkg.Conversation, reason string) string {
	conv.RequestedHandoff = true
	conv.HandoffReason = reason
	if conv.MinDataThresholdMet {
		conv.Status = pkg.StatusPaused
		conv.CanResume = true
	}
	return HandoffMessage(conv.MinDataThresholdMet)
}

// ClarificationPrompt cycles through follow-up requests for vague answers.
func ClarificationPrompt(attempt int) string {
	if attempt < 0 {
		attempt = 0
	}
	return clarificationPrompts[attempt%len(clarificationPrompts)]
}

package core

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"intake-assistant/internal/config"
	"intake-assistant/internal/llm"
	"intake-assistant/internal/metrics"
)

const defaultMaxSteps = 25

// Engine walks the conversation graph for one patient turn. Every step asks
// the model first and falls back to a deterministic answer when the model
// fails, so a turn never errors because of the LLM.
type Engine struct {
	llm           llm.Client
	logger        *zap.Logger
	assistantName string
	maxSteps      int
}

// NewEngine constructs an Engine.
func NewEngine(client llm.Client, cfg config.IntakeConfig, logger *zap.Logger) *Engine {
	e := &Engine{
		llm:           client,
		logger:        logger.Named("engine"),
		assistantName: cfg.AssistantName,
		maxSteps:      cfg.MaxSteps,
	}
	if e.maxSteps <= 0 {
		e.maxSteps = defaultMaxSteps
	}
	if e.assistantName == "" {
		e.assistantName = "Vi"
	}
	return e
}

// Run executes steps from the orchestrator until END or the step limit. If
// the patient's message is still unanswered afterwards a fallback question
// is added.
func (e *Engine) Run(ctx context.Context, s *State) error {
	step := StepOrchestrator
	for i := 0; step != StepEnd; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i >= e.maxSteps {
			e.logger.Warn("step limit reached",
				zap.String("session_id", s.SessionID),
				zap.Int("max_steps", e.maxSteps),
				zap.Any("path", s.Path))
			break
		}
		s.Path = append(s.Path, step)
		metrics.RecordAgentStep(string(step))
		step = e.runStep(ctx, step, s)
	}
	if s.NeedsReply() && !s.Complete {
		field := s.CurrentField
		if field == "" || !s.askable(field) {
			field = s.NextField()
		}
		s.addReply(StepQuestion, field, QuestionFallback(field, s.Attempts[field]+1))
		s.Context.LastAgentAction = ActionQuestionAsked
		s.Context.QuestionField = field
		s.CurrentField = field
	}
	return nil
}

func (e *Engine) runStep(ctx context.Context, step Step, s *State) Step {
	switch step {
	case StepOrchestrator:
		return e.orchestrate(ctx, s)
	case StepGreeting:
		return e.greet(ctx, s)
	case StepExtraction:
		return e.extract(ctx, s)
	case StepEvaluation:
		return e.evaluate(ctx, s)
	case StepQuestion:
		return e.ask(ctx, s)
	case StepCompletion:
		return e.complete(ctx, s)
	case StepEmergency:
		return e.escalate(ctx, s)
	}
	e.logger.Error("unknown step", zap.String("step", string(step)))
	return StepEnd
}

// chatText asks the model for free text. An empty answer is an error.
func (e *Engine) chatText(ctx context.Context, system string, input any) (string, error) {
	msgs, err := promptMessages(system, input)
	if err != nil {
		return "", err
	}
	out, err := e.llm.Chat(ctx, msgs)
	if err != nil {
		return "", err
	}
	out = trimReply(out)
	if out == "" {
		return "", fmt.Errorf("empty reply")
	}
	return out, nil
}

// chatJSON asks the model for a JSON object and decodes it into v.
func (e *Engine) chatJSON(ctx context.Context, system string, input any, v any) error {
	msgs, err := promptMessages(system, input)
	if err != nil {
		return err
	}
	out, err := e.llm.ChatJSON(ctx, msgs)
	if err != nil {
		return err
	}
	return llm.DecodeJSON(out, v)
}

func promptMessages(system string, input any) ([]llm.Message, error) {
	b, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal step context: %w", err)
	}
	return []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: "Context:\n" + string(b)},
	}, nil
}

func (e *Engine) fallback(s *State, step Step, err error) {
	metrics.RecordAgentFallback(string(step))
	e.logger.Warn("step fell back",
		zap.String("session_id", s.SessionID),
		zap.String("step", string(step)),
		zap.Error(err))
}

package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"intake-assistant/internal/config"
	"intake-assistant/internal/db"
	"intake-assistant/internal/llm"
)

var errModelDown = errors.New("model unavailable")

// scriptedLLM replays canned replies in order. Once a queue is empty every
// call fails, which drives the engine onto its fallbacks.
type scriptedLLM struct {
	mu      sync.Mutex
	chat    []string
	json    []string
	summary string

	jsonCalls int
}

func (f *scriptedLLM) Chat(_ context.Context, _ []llm.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.chat) == 0 {
		return "", errModelDown
	}
	out := f.chat[0]
	f.chat = f.chat[1:]
	return out, nil
}

func (f *scriptedLLM) ChatJSON(_ context.Context, _ []llm.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jsonCalls++
	if len(f.json) == 0 {
		return "", errModelDown
	}
	out := f.json[0]
	f.json = f.json[1:]
	return out, nil
}

func (f *scriptedLLM) Summarize(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.summary == "" {
		return "", errModelDown
	}
	return f.summary, nil
}

func testIntakeConfig() config.IntakeConfig {
	return config.IntakeConfig{
		AssistantName:         "Vi",
		IdleTimeoutMinutes:    5,
		SessionTimeoutMinutes: 30,
		ExpireAfter:           24 * time.Hour,
		MaxSteps:              25,
		MaxQuestionAttempts:   3,
	}
}

// testClock is a settable clock shared by the service under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testHarness struct {
	svc   *ChatService
	store *db.MemoryStore
	clock *testClock
}

func newHarness(t *testing.T, client llm.Client, opts ...Option) *testHarness {
	t.Helper()
	if client == nil {
		client = &scriptedLLM{}
	}
	h := &testHarness{store: db.NewMemoryStore(), clock: newTestClock()}
	cfg := testIntakeConfig()
	logger := zap.NewNop()
	opts = append([]Option{WithClock(h.clock.Now)}, opts...)
	h.svc = NewChatService(h.store, NewEngine(client, cfg, logger), NewSummarizer(client, 0), cfg, logger, opts...)
	t.Cleanup(h.svc.Wait)
	return h
}

package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"intake-assistant/internal/cache"
	"intake-assistant/pkg"
)

func TestSweepOnce(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	first := h.reply(t, "", "hi").SessionID
	second := h.reply(t, "", "hello").SessionID
	sweeper := NewSweeper(h.svc, time.Minute, zap.NewNop())

	steps := []struct {
		advance time.Duration
		changed int
	}{
		{time.Minute, 0},
		{5 * time.Minute, 2},
		{time.Minute, 0},
		{25 * time.Minute, 2},
		{time.Hour, 0},
	}
	for i, st := range steps {
		h.clock.Advance(st.advance)
		n, err := sweeper.SweepOnce(ctx)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if n != st.changed {
			t.Errorf("step %d: changed = %d, want %d", i, n, st.changed)
		}
	}

	for _, sid := range []string{first, second} {
		conv, err := h.store.GetConversation(ctx, sid)
		if err != nil {
			t.Fatal(err)
		}
		if conv.Status != pkg.StatusTimeout {
			t.Errorf("%s status = %s", sid, conv.Status)
		}
		if n := len(h.store.TimeoutEvents(sid)); n != 2 {
			t.Errorf("%s timeout events = %d, want 2", sid, n)
		}
	}
}

func TestSweeperRunStopsWithContext(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewSweeper(h.svc, time.Millisecond, zap.NewNop()).Run(ctx)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()
	var (
		wg      sync.WaitGroup
		inside  int32
		overlap atomic.Bool
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("vi_same")
			if atomic.AddInt32(&inside, 1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	if overlap.Load() {
		t.Error("two holders of the same key at once")
	}

	unlockA := k.Lock("vi_a")
	acquired := make(chan struct{})
	go func() {
		unlock := k.Lock("vi_b")
		close(acquired)
		unlock()
	}()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("different keys block each other")
	}
	unlockA()

	k.mu.Lock()
	n := len(k.locks)
	k.mu.Unlock()
	if n != 0 {
		t.Errorf("%d lock entries left behind", n)
	}
}

type stuckCache struct{ *cache.InMemoryCache }

func (stuckCache) Delete(context.Context, string) error { return errors.New("cache offline") }

func TestTimeoutLogsCacheDeleteFailure(t *testing.T) {
	h := newHarness(t, nil, WithCache(stuckCache{cache.NewInMemoryCache(time.Hour)}))
	logs, recorded := observer.New(zap.WarnLevel)
	h.svc.logger = zap.New(logs)

	sid := h.reply(t, "", "hi").SessionID
	h.clock.Advance(31 * time.Minute)
	check, err := h.svc.CheckTimeout(context.Background(), sid)
	if err != nil {
		t.Fatal(err)
	}
	if check.SessionStatus != pkg.StatusTimeout {
		t.Fatalf("check = %+v", check)
	}
	entries := recorded.FilterMessage("context cache delete failed").All()
	if len(entries) != 1 || entries[0].ContextMap()["session_id"] != sid {
		t.Errorf("logged = %+v", recorded.All())
	}
}

package core

import (
	"context"
	"time"

	"go.uber.org/zap"

	"intake-assistant/pkg"
)

// Sweeper periodically applies the timeout rules to open sessions so that
// idle patients get warned and abandoned sessions are paused or closed.
type Sweeper struct {
	svc      *ChatService
	interval time.Duration
	logger   *zap.Logger
}

// NewSweeper constructs a Sweeper running every interval.
func NewSweeper(svc *ChatService, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{svc: svc, interval: interval, logger: logger.Named("sweeper")}
}

// Run sweeps until ctx is cancelled.
func (w *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	w.logger.Info("sweeper started", zap.Duration("interval", w.interval))
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			n, err := w.SweepOnce(ctx)
			if err != nil {
				w.logger.Warn("sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				w.logger.Info("sweep changed sessions", zap.Int("count", n))
			}
		}
	}
}

// SweepOnce checks every ACTIVE and PAUSED session once and returns how many
// produced a timeout event.
func (w *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	convs, err := w.svc.store.ListActiveConversations(ctx)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, c := range convs {
		if ctx.Err() != nil {
			return changed, ctx.Err()
		}
		ok, err := w.sweep(ctx, c.SessionID)
		if err != nil {
			w.logger.Warn("sweep session failed", zap.String("session_id", c.SessionID), zap.Error(err))
			continue
		}
		if ok {
			changed++
		}
	}
	return changed, nil
}

func (w *Sweeper) sweep(ctx context.Context, sessionID string) (bool, error) {
	unlock := w.svc.locks.Lock(sessionID)
	defer unlock()

	conv, err := w.svc.getConversation(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if conv.Status != pkg.StatusActive && conv.Status != pkg.StatusPaused {
		return false, nil
	}
	warnings, status := conv.TimeoutWarnings, conv.Status
	if _, err := w.svc.applyTimeout(ctx, conv, w.svc.now(), EvaluateTimeout); err != nil {
		return false, err
	}
	return conv.TimeoutWarnings != warnings || conv.Status != status, nil
}

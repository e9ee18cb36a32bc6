package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"intake-assistant/pkg"
)

// Notifier publishes session events over Postgres LISTEN/NOTIFY so every
// server instance and dashboard sees them.
type Notifier struct {
	DB      *sql.DB
	Channel string
	logger  *zap.Logger
}

// NewNotifier constructs a new Notifier on channel.
func NewNotifier(db *sql.DB, channel string, logger *zap.Logger) *Notifier {
	return &Notifier{DB: db, Channel: channel, logger: logger.Named("notifier")}
}

// Publish sends ev as a JSON payload on the channel.
func (n *Notifier) Publish(ctx context.Context, ev pkg.SessionEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if _, err := n.DB.ExecContext(ctx, `SELECT pg_notify($1, $2)`, n.Channel, string(payload)); err != nil {
		return fmt.Errorf("notify %s: %w", n.Channel, err)
	}
	return nil
}

// Listen opens a dedicated pq listener on the channel and forwards every
// decoded event to sink until ctx is cancelled.
func (n *Notifier) Listen(ctx context.Context, dsn string, sink *Broker) error {
	listener := pq.NewListener(dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			n.logger.Warn("listener event", zap.Int("event", int(ev)), zap.Error(err))
		}
	})
	if err := listener.Listen(n.Channel); err != nil {
		_ = listener.Close()
		return fmt.Errorf("listen %s: %w", n.Channel, err)
	}
	n.logger.Info("listening for session events", zap.String("channel", n.Channel))

	go func() {
		defer listener.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case note := <-listener.Notify:
				// nil after a reconnect
				if note == nil {
					continue
				}
				var ev pkg.SessionEvent
				if err := json.Unmarshal([]byte(note.Extra), &ev); err != nil {
					n.logger.Warn("drop malformed event", zap.String("payload", note.Extra), zap.Error(err))
					continue
				}
				_ = sink.Publish(ctx, ev)
			case <-time.After(90 * time.Second):
				if err := listener.Ping(); err != nil {
					n.logger.Warn("listener ping failed", zap.Error(err))
				}
			}
		}
	}()
	return nil
}

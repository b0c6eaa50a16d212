package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"waitroom-intake/pkg"
)

// DefaultNotifyChannel is used when POSTGRES_NOTIFY_CHANNEL is not set.
const DefaultNotifyChannel = "intake_ready"

// Notification announces a newly delivered intake to inbox subscribers.
type Notification struct {
	Destination string         `json:"destination"`
	Entry       pkg.InboxEntry `json:"entry"`
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Notifier wraps the LISTEN/NOTIFY mechanism in PostgreSQL.  Deliveries
// publish on the channel and the doctor inbox stream listens on it.
type Notifier struct {
	DSN     string
	Channel string
	Logger  *slog.Logger
}

// NewNotifier constructs a new Notifier.  The channel should match the
// POSTGRES_NOTIFY_CHANNEL environment variable.
func NewNotifier(dsn, channel string, logger *slog.Logger) *Notifier {
	if channel == "" {
		channel = DefaultNotifyChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{DSN: dsn, Channel: channel, Logger: logger}
}

// Notify publishes note on the channel.  Called inside a transaction the
// notification is only sent on commit.
func (n *Notifier) Notify(ctx context.Context, exec execer, note Notification) error {
	payload, err := json.Marshal(note)
	if err != nil {
		return err
	}
	if _, err := exec.ExecContext(ctx, "SELECT pg_notify($1, $2)", n.Channel, string(payload)); err != nil {
		return fmt.Errorf("notify %s: %w", n.Channel, err)
	}
	return nil
}

// Listen opens a dedicated listener connection and yields the notifications
// for destination until ctx is cancelled.  The returned channel is closed
// when the listener stops.
func (n *Notifier) Listen(ctx context.Context, destination string) (<-chan Notification, error) {
	logger := n.Logger
	listener := pq.NewListener(n.DSN, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("notify listener event", "event", int(ev), "error", err)
		}
	})
	if err := listener.Listen(n.Channel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("listen %s: %w", n.Channel, err)
	}

	out := make(chan Notification)
	go func() {
		defer func() {
			_ = listener.Close()
			close(out)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case raw := <-listener.Notify:
				// nil after a reconnect; events sent while disconnected are lost
				if raw == nil {
					continue
				}
				var note Notification
				if err := json.Unmarshal([]byte(raw.Extra), &note); err != nil {
					logger.Warn("dropping malformed notification", "channel", raw.Channel, "error", err)
					continue
				}
				if note.Destination != destination {
					continue
				}
				select {
				case out <- note:
				case <-ctx.Done():
					return
				}
			case <-time.After(90 * time.Second):
				go func() { _ = listener.Ping() }()
			}
		}
	}()
	return out, nil
}

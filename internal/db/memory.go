package db

import (
	"context"
	"sync"

	"waitroom-intake/internal/core"
	"waitroom-intake/pkg"
)

// subscriberBuffer bounds how far a slow stream may fall behind before
// notifications to it are dropped.
const subscriberBuffer = 16

// MemoryInbox keeps finished intakes in process.  It backs the CLI and the
// server when no database is configured.
type MemoryInbox struct {
	mu     sync.Mutex
	byDest map[string][]core.IntakeRecord
	byID   map[string]core.IntakeRecord
	subs   map[string]map[chan Notification]struct{}
}

// NewMemoryInbox returns an empty inbox.
func NewMemoryInbox() *MemoryInbox {
	return &MemoryInbox{
		byDest: make(map[string][]core.IntakeRecord),
		byID:   make(map[string]core.IntakeRecord),
		subs:   make(map[string]map[chan Notification]struct{}),
	}
}

// Deliver appends rec to its destination and wakes subscribers.  Appends are
// serialised, so a destination sees records in delivery order.
func (m *MemoryInbox) Deliver(ctx context.Context, rec core.IntakeRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.Profile != nil {
		rec.Profile = rec.Profile.Clone()
	}
	rec.Transcript = append([]pkg.Message(nil), rec.Transcript...)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.byDest[rec.Destination] = append(m.byDest[rec.Destination], rec)
	m.byID[rec.ID] = rec

	note := Notification{Destination: rec.Destination, Entry: rec.InboxEntry()}
	for ch := range m.subs[rec.Destination] {
		select {
		case ch <- note:
		default:
		}
	}
	return nil
}

// ListInbox returns previews for destination, oldest first.
func (m *MemoryInbox) ListInbox(ctx context.Context, destination string) ([]pkg.InboxEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]pkg.InboxEntry, 0, len(m.byDest[destination]))
	for _, rec := range m.byDest[destination] {
		entries = append(entries, rec.InboxEntry())
	}
	return entries, nil
}

// GetIntake returns a copy of the stored record.
func (m *MemoryInbox) GetIntake(ctx context.Context, id string) (*core.IntakeRecord, error) {
	m.mu.Lock()
	rec, ok := m.byID[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrIntakeNotFound
	}
	if rec.Profile != nil {
		rec.Profile = rec.Profile.Clone()
	}
	rec.Transcript = append([]pkg.Message(nil), rec.Transcript...)
	return &rec, nil
}

// Subscribe yields deliveries to destination until ctx is cancelled.
func (m *MemoryInbox) Subscribe(ctx context.Context, destination string) (<-chan Notification, error) {
	ch := make(chan Notification, subscriberBuffer)
	m.mu.Lock()
	if m.subs[destination] == nil {
		m.subs[destination] = make(map[chan Notification]struct{})
	}
	m.subs[destination][ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs[destination], ch)
		if len(m.subs[destination]) == 0 {
			delete(m.subs, destination)
		}
		close(ch)
		m.mu.Unlock()
	}()
	return ch, nil
}

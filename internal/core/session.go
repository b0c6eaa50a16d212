package core

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"waitroom-intake/pkg"
)

var (
	// ErrEmptyAnswer is returned when a turn carries no text.
	ErrEmptyAnswer = errors.New("empty answer")
	// ErrSessionComplete is returned for turns sent after the interview ended.
	ErrSessionComplete = errors.New("session complete")
	// ErrSessionNotFound is returned by the session registry.
	ErrSessionNotFound = errors.New("session not found")
)

// State is the controller state of a session.
type State string

const (
	StateAwaitingInput State = "awaiting_input"
	StateOracleCalled  State = "oracle_called"
	StateMerged        State = "merged"
	StateTerminal      State = "terminal"
)

// sessionState is everything a reset replaces.  It is only touched while the
// owning Session's mutex is held.
type sessionState struct {
	Profile          *Profile
	Transcript       []pkg.Message
	Asked            []string
	TurnsAsked       int
	State            State
	Summary          string
	SummaryAvailable bool
	Record           *IntakeRecord
	Delivered        bool
}

// newSessionState starts with the greeting already asked.
func newSessionState(now time.Time) *sessionState {
	return &sessionState{
		Profile:    NewProfile(),
		Transcript: []pkg.Message{{Role: pkg.RoleAssistant, Content: FirstMessage, CreatedAt: now}},
		Asked:      []string{FirstMessage},
		TurnsAsked: 1,
		State:      StateAwaitingInput,
	}
}

// Session is one patient interview.  Turns on a session are strictly
// sequential: the mutex is held for the whole of a turn, including the
// oracle calls.
type Session struct {
	ID          string
	Destination string
	CreatedAt   time.Time

	mu sync.Mutex
	st *sessionState

	// lastActive is unix nanoseconds; read without the mutex so a sweep never
	// waits behind an in-flight turn.
	lastActive atomic.Int64
}

func (s *Session) touch(now time.Time) {
	s.lastActive.Store(now.UnixNano())
}

// LastActive reports when the session was opened, answered or reset last.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// Reset discards the profile, transcript, logs and counters in one step and
// returns the greeting that opens the fresh interview.  A reset waits for an
// in-flight turn to finish.
func (s *Session) Reset() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.st = newSessionState(now)
	s.touch(now)
	return FirstMessage
}

// SessionSnapshot is a read-only deep copy of a session.
type SessionSnapshot struct {
	ID               string        `json:"id"`
	Destination      string        `json:"destination"`
	State            State         `json:"state"`
	Profile          *Profile      `json:"profile"`
	Transcript       []pkg.Message `json:"transcript"`
	Asked            []string      `json:"asked"`
	TurnsAsked       int           `json:"turns_asked"`
	Summary          string        `json:"summary,omitempty"`
	SummaryAvailable bool          `json:"summary_available"`
	Delivered        bool          `json:"delivered"`
	Record           *IntakeRecord `json:"-"`
}

// Snapshot copies the current state.
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.st
	return SessionSnapshot{
		ID:               s.ID,
		Destination:      s.Destination,
		State:            st.State,
		Profile:          st.Profile.Clone(),
		Transcript:       append([]pkg.Message(nil), st.Transcript...),
		Asked:            append([]string(nil), st.Asked...),
		TurnsAsked:       st.TurnsAsked,
		Summary:          st.Summary,
		SummaryAvailable: st.SummaryAvailable,
		Delivered:        st.Delivered,
		Record:           st.Record,
	}
}

// Sessions is an in-memory registry of live sessions.
type Sessions struct {
	mu   sync.RWMutex
	byID map[string]*Session
}

// NewSessions returns an empty registry.
func NewSessions() *Sessions {
	return &Sessions{byID: make(map[string]*Session)}
}

// Add registers a session under its ID.
func (r *Sessions) Add(s *Session) {
	r.mu.Lock()
	r.byID[s.ID] = s
	r.mu.Unlock()
}

// Get looks a session up by ID.
func (r *Sessions) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Remove forgets a session.
func (r *Sessions) Remove(id string) {
	r.mu.Lock()
	delete(r.byID, id)
	r.mu.Unlock()
}

// Len returns the number of live sessions.
func (r *Sessions) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Sweep removes sessions idle for longer than ttl and returns how many went.
// A terminal session has already handed its record off, so only the live
// conversation is lost.
func (r *Sessions) Sweep(now time.Time, ttl time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, s := range r.byID {
		if now.Sub(s.LastActive()) > ttl {
			delete(r.byID, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx ends.  A non-positive ttl
// disables expiry.
func (r *Sessions) StartSweeper(ctx context.Context, interval, ttl time.Duration, logger *slog.Logger) {
	if ttl <= 0 || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if n := r.Sweep(now, ttl); n > 0 && logger != nil {
					logger.Info("expired idle sessions", "removed", n, "remaining", r.Len())
				}
			}
		}
	}()
}

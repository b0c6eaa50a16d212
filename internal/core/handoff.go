package core

import (
	"context"
	"time"

	"waitroom-intake/pkg"
)

// IntakeRecord is the finished interview handed to persistence.
type IntakeRecord struct {
	ID               string        `json:"id"`
	SessionID        string        `json:"session_id"`
	Destination      string        `json:"destination"`
	Profile          *Profile      `json:"profile"`
	Summary          string        `json:"summary"`
	SummaryAvailable bool          `json:"summary_available"`
	Transcript       []pkg.Message `json:"transcript"`
	TurnsAsked       int           `json:"turns_asked"`
	CompletedAt      time.Time     `json:"completed_at"`
}

// InboxEntry builds the list preview for the record.
func (r IntakeRecord) InboxEntry() pkg.InboxEntry {
	entry := pkg.InboxEntry{
		IntakeID:    r.ID,
		SessionID:   r.SessionID,
		RedFlags:    []string{},
		CompletedAt: r.CompletedAt,
	}
	if r.Profile != nil {
		entry.ChiefComplaint = r.Profile.ChiefComplaint
		entry.RedFlags = append(entry.RedFlags, r.Profile.RedFlags...)
	}
	return entry
}

// Handoff receives finished intakes.  Implementations must be safe for
// concurrent use and must not reorder records delivered to one destination.
type Handoff interface {
	Deliver(ctx context.Context, rec IntakeRecord) error
}

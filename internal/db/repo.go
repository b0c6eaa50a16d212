package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"waitroom-intake/internal/core"
	"waitroom-intake/pkg"
)

// ErrIntakeNotFound is returned when no intake matches the requested ID.
var ErrIntakeNotFound = errors.New("intake not found")

// Repository stores finished intakes in Postgres.  Rows are append-only; a
// destination's inbox is read back in delivery order.
type Repository struct {
	DB       *sql.DB
	Notifier *Notifier
	Logger   *slog.Logger
}

// NewRepository constructs a new Repository from an existing sql.DB.  The
// caller is responsible for managing the DB connection lifecycle.  notifier
// may be nil, in which case deliveries are not announced.
func NewRepository(db *sql.DB, notifier *Notifier, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{DB: db, Notifier: notifier, Logger: logger}
}

// Deliver appends the record to its destination inbox and announces it on
// the notify channel in the same transaction.
func (r *Repository) Deliver(ctx context.Context, rec core.IntakeRecord) error {
	profile := rec.Profile
	if profile == nil {
		profile = core.NewProfile()
	}
	profileJSON, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	transcriptJSON, err := json.Marshal(rec.Transcript)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO intakes (id, session_id, destination, chief_complaint, red_flags, profile, summary, summary_available, transcript, turns_asked, completed_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.SessionID, rec.Destination, profile.ChiefComplaint, pq.Array(profile.RedFlags),
		profileJSON, rec.Summary, rec.SummaryAvailable, transcriptJSON, rec.TurnsAsked, rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert intake: %w", err)
	}
	if r.Notifier != nil {
		note := Notification{Destination: rec.Destination, Entry: rec.InboxEntry()}
		if err := r.Notifier.Notify(ctx, tx, note); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	r.Logger.Info("intake stored", "intake_id", rec.ID, "destination", rec.Destination)
	return nil
}

// ListInbox returns previews of every intake delivered to destination,
// oldest first.
func (r *Repository) ListInbox(ctx context.Context, destination string) ([]pkg.InboxEntry, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, session_id, chief_complaint, red_flags, completed_at
         FROM intakes
         WHERE destination = $1
         ORDER BY seq ASC`, destination)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []pkg.InboxEntry{}
	for rows.Next() {
		var e pkg.InboxEntry
		var flags pq.StringArray
		if err := rows.Scan(&e.IntakeID, &e.SessionID, &e.ChiefComplaint, &flags, &e.CompletedAt); err != nil {
			return nil, err
		}
		e.RedFlags = []string(flags)
		if e.RedFlags == nil {
			e.RedFlags = []string{}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetIntake loads the full record for one intake.
func (r *Repository) GetIntake(ctx context.Context, id string) (*core.IntakeRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrIntakeNotFound
	}
	var rec core.IntakeRecord
	var profileJSON, transcriptJSON []byte
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, session_id, destination, profile, summary, summary_available, transcript, turns_asked, completed_at
         FROM intakes
         WHERE id = $1`, id,
	).Scan(&rec.ID, &rec.SessionID, &rec.Destination, &profileJSON, &rec.Summary,
		&rec.SummaryAvailable, &transcriptJSON, &rec.TurnsAsked, &rec.CompletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrIntakeNotFound
		}
		return nil, err
	}

	rec.Profile = core.NewProfile()
	if err := json.Unmarshal(profileJSON, rec.Profile); err != nil {
		return nil, fmt.Errorf("unmarshal profile: %w", err)
	}
	if err := json.Unmarshal(transcriptJSON, &rec.Transcript); err != nil {
		return nil, fmt.Errorf("unmarshal transcript: %w", err)
	}
	return &rec, nil
}

// Subscribe streams new deliveries for destination via LISTEN/NOTIFY.
func (r *Repository) Subscribe(ctx context.Context, destination string) (<-chan Notification, error) {
	if r.Notifier == nil {
		return nil, errors.New("notifications are not configured")
	}
	return r.Notifier.Listen(ctx, destination)
}

// README: Stationary-event store backed by PostgreSQL with CAS status updates and due-date sweep queries.
package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vigil/internal/types"
)

// StatusPatch carries the fields written alongside a CAS status change.
// DueAt replaces the previous deadline wholesale; nil clears it.
type StatusPatch struct {
	AlertSentAt      *time.Time
	DueAt            *time.Time
	Response         *PassengerResponse
	ResolvedAt       *time.Time
	ResolutionReason string
}

type Store interface {
	Create(ctx context.Context, e *Event) error
	Get(ctx context.Context, id types.ID) (*Event, error)
	// OpenByTrip returns the trip's monitoring/alert_sent event if any.
	OpenByTrip(ctx context.Context, tripID types.ID) (*Event, error)
	// UpdateStatus performs the optimistic check-then-act: the row changes
	// only if status and version still match the values read.
	UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, patch StatusPatch) (bool, error)
	RecordCallAttempt(ctx context.Context, id types.ID, at time.Time, answered bool) error
	// RecordEscalation stores the ticket link; false when the event already
	// escalated to support (the ticket-dedup guard).
	RecordEscalation(ctx context.Context, id types.ID, ticketID types.ID, at time.Time) (bool, error)
	LinkSOS(ctx context.Context, id types.ID, alertID types.ID) error
	ExtendDue(ctx context.Context, id types.ID, due time.Time) error
	// DueStationary lists monitoring events whose window elapsed with no
	// further movement; DueEscalations lists alert_sent events past the
	// response deadline plus escalated events still missing their ticket.
	DueStationary(ctx context.Context, now time.Time, limit int) ([]*Event, error)
	DueEscalations(ctx context.Context, now time.Time, limit int) ([]*Event, error)
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const eventColumns = `
        id, trip_id, passenger_id, anchor_lat, anchor_lng, started_at,
        status, status_version, alert_sent_at, due_at,
        responded, responded_at, response,
        call_attempted, call_attempted_at, call_answered,
        escalated_to_support, escalated_at, support_ticket_id,
        sos_alert_id, resolved_at, resolution_reason, created_at`

func (s *PGStore) Create(ctx context.Context, e *Event) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO stationary_events (
            id, trip_id, passenger_id, anchor_lat, anchor_lng, started_at,
            status, status_version, due_at, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		string(e.ID), string(e.TripID), string(e.PassengerID),
		e.Anchor.Lat, e.Anchor.Lng, e.StartedAt,
		string(e.Status), e.StatusVersion, e.DueAt, e.CreatedAt,
	)
	return err
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Event, error) {
	row := s.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM stationary_events WHERE id = $1`, string(id))
	return scanEvent(row)
}

func (s *PGStore) OpenByTrip(ctx context.Context, tripID types.ID) (*Event, error) {
	row := s.db.QueryRow(ctx, `
        SELECT `+eventColumns+`
        FROM stationary_events
        WHERE trip_id = $1 AND status IN ('monitoring','alert_sent')
        ORDER BY started_at DESC LIMIT 1`, string(tripID))
	return scanEvent(row)
}

func (s *PGStore) UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, patch StatusPatch) (bool, error) {
	var responded *bool
	var respondedAt *time.Time
	var response *string
	if patch.Response != nil {
		responded = &patch.Response.Responded
		respondedAt = patch.Response.RespondedAt
		response = &patch.Response.Response
	}
	var reason *string
	if patch.ResolutionReason != "" {
		reason = &patch.ResolutionReason
	}

	tag, err := s.db.Exec(ctx, `
        UPDATE stationary_events
        SET status = $1,
            status_version = status_version + 1,
            alert_sent_at = COALESCE($2, alert_sent_at),
            due_at = $3,
            responded = COALESCE($4, responded),
            responded_at = COALESCE($5, responded_at),
            response = COALESCE($6, response),
            resolved_at = COALESCE($7, resolved_at),
            resolution_reason = COALESCE($8, resolution_reason)
        WHERE id = $9 AND status = $10 AND status_version = $11`,
		string(to), patch.AlertSentAt, patch.DueAt,
		responded, respondedAt, response,
		patch.ResolvedAt, reason,
		string(id), string(from), version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) RecordCallAttempt(ctx context.Context, id types.ID, at time.Time, answered bool) error {
	_, err := s.db.Exec(ctx, `
        UPDATE stationary_events
        SET call_attempted = TRUE, call_attempted_at = $2, call_answered = $3
        WHERE id = $1`,
		string(id), at, answered,
	)
	return err
}

func (s *PGStore) RecordEscalation(ctx context.Context, id types.ID, ticketID types.ID, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE stationary_events
        SET escalated_to_support = TRUE, escalated_at = $2, support_ticket_id = $3
        WHERE id = $1 AND escalated_to_support = FALSE`,
		string(id), at, string(ticketID),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) LinkSOS(ctx context.Context, id types.ID, alertID types.ID) error {
	_, err := s.db.Exec(ctx, `UPDATE stationary_events SET sos_alert_id = $2 WHERE id = $1`,
		string(id), string(alertID))
	return err
}

func (s *PGStore) ExtendDue(ctx context.Context, id types.ID, due time.Time) error {
	_, err := s.db.Exec(ctx, `UPDATE stationary_events SET due_at = $2 WHERE id = $1`,
		string(id), due)
	return err
}

func (s *PGStore) DueStationary(ctx context.Context, now time.Time, limit int) ([]*Event, error) {
	rows, err := s.db.Query(ctx, `
        SELECT `+eventColumns+`
        FROM stationary_events
        WHERE status = 'monitoring' AND due_at <= $1
        ORDER BY due_at LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func (s *PGStore) DueEscalations(ctx context.Context, now time.Time, limit int) ([]*Event, error) {
	rows, err := s.db.Query(ctx, `
        SELECT `+eventColumns+`
        FROM stationary_events
        WHERE (status = 'alert_sent' AND responded = FALSE AND due_at <= $1)
           OR (status = 'escalated' AND escalated_to_support = FALSE)
        ORDER BY due_at LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var e Event
	var ticketID, sosID, response, reason *string
	err := row.Scan(
		&e.ID, &e.TripID, &e.PassengerID, &e.Anchor.Lat, &e.Anchor.Lng, &e.StartedAt,
		&e.Status, &e.StatusVersion, &e.AlertSentAt, &e.DueAt,
		&e.Response.Responded, &e.Response.RespondedAt, &response,
		&e.Escalation.CallAttempted, &e.Escalation.CallAttemptedAt, &e.Escalation.CallAnswered,
		&e.Escalation.EscalatedToSupport, &e.Escalation.EscalatedAt, &ticketID,
		&sosID, &e.ResolvedAt, &reason, &e.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if response != nil {
		e.Response.Response = *response
	}
	if ticketID != nil {
		v := types.ID(*ticketID)
		e.Escalation.SupportTicketID = &v
	}
	if sosID != nil {
		v := types.ID(*sosID)
		e.SOSAlertID = &v
	}
	if reason != nil {
		e.ResolutionReason = *reason
	}
	return &e, nil
}

func scanEvents(rows pgx.Rows) ([]*Event, error) {
	defer rows.Close()
	var out []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// README: SOS store backed by PostgreSQL; CAS status updates, JSONB snapshots, bounded tracking rows.
package sos

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"vigil/internal/types"
)

// StatusPatch carries the fields written alongside a CAS status change.
type StatusPatch struct {
	By           types.ID
	At           time.Time
	Resolution   string
	ActionsTaken []string
}

type Store interface {
	// Create inserts a new alert; ErrActiveAlert when the trip already has a
	// live one (enforced by a partial unique index).
	Create(ctx context.Context, a *Alert) error
	Get(ctx context.Context, id types.ID) (*Alert, error)
	ActiveByTrip(ctx context.Context, tripID types.ID) (*Alert, error)
	// UpdateStatus performs the optimistic check-then-act: the row is touched
	// only if status and version still match.
	UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, patch StatusPatch) (bool, error)
	RecordNotifications(ctx context.Context, id types.ID, n NotificationsSent) error
	// AppendTrackingPoint inserts a point and trims history to the newest
	// limit entries.
	AppendTrackingPoint(ctx context.Context, id types.ID, p TrackingPoint, limit int) error
	SetLastBroadcast(ctx context.Context, id types.ID, at time.Time) error
	TrackingHistory(ctx context.Context, id types.ID) ([]TrackingPoint, error)
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Create(ctx context.Context, a *Alert) error {
	journey, err := json.Marshal(a.Journey)
	if err != nil {
		return err
	}
	notifications, err := json.Marshal(a.Notifications)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
        INSERT INTO sos_alerts (
            id, trip_id, triggered_by, user_type, lat, lng,
            status, status_version, journey, notifications,
            tracking_active, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		string(a.ID), string(a.TripID), string(a.TriggeredBy), a.UserType,
		a.Location.Lat, a.Location.Lng,
		string(a.Status), a.StatusVersion, journey, notifications,
		a.Tracking.IsActive, a.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrActiveAlert
	}
	return err
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Alert, error) {
	return s.scanOne(ctx, `WHERE id = $1`, string(id))
}

func (s *PGStore) ActiveByTrip(ctx context.Context, tripID types.ID) (*Alert, error) {
	return s.scanOne(ctx, `WHERE trip_id = $1 AND status IN ('active','acknowledged')`, string(tripID))
}

func (s *PGStore) scanOne(ctx context.Context, where string, args ...any) (*Alert, error) {
	row := s.db.QueryRow(ctx, `
        SELECT id, trip_id, triggered_by, user_type, lat, lng,
               status, status_version,
               acknowledged_by, acknowledged_at, resolved_by, resolved_at,
               resolution, actions_taken, journey, notifications,
               tracking_active, last_broadcast_at, created_at
        FROM sos_alerts `+where+` LIMIT 1`, args...)

	var a Alert
	var ackBy, resBy *string
	var journey, notifications []byte
	err := row.Scan(
		&a.ID, &a.TripID, &a.TriggeredBy, &a.UserType,
		&a.Location.Lat, &a.Location.Lng,
		&a.Status, &a.StatusVersion,
		&ackBy, &a.AcknowledgedAt, &resBy, &a.ResolvedAt,
		&a.Resolution, &a.ActionsTaken, &journey, &notifications,
		&a.Tracking.IsActive, &a.Tracking.LastBroadcastAt, &a.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if ackBy != nil {
		v := types.ID(*ackBy)
		a.AcknowledgedBy = &v
	}
	if resBy != nil {
		v := types.ID(*resBy)
		a.ResolvedBy = &v
	}
	if err := json.Unmarshal(journey, &a.Journey); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(notifications, &a.Notifications); err != nil {
		return nil, err
	}
	history, err := s.TrackingHistory(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	a.Tracking.History = history
	return &a, nil
}

func (s *PGStore) UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, patch StatusPatch) (bool, error) {
	by := string(patch.By)
	tag, err := s.db.Exec(ctx, `
        UPDATE sos_alerts
        SET status = $1,
            status_version = status_version + 1,
            acknowledged_by = CASE WHEN $1 = 'acknowledged' THEN $2 ELSE acknowledged_by END,
            acknowledged_at = CASE WHEN $1 = 'acknowledged' THEN $3 ELSE acknowledged_at END,
            resolved_by = CASE WHEN $1 = 'resolved' THEN $2 ELSE resolved_by END,
            resolved_at = CASE WHEN $1 = 'resolved' THEN $3 ELSE resolved_at END,
            resolution = CASE WHEN $1 = 'resolved' THEN $4 ELSE resolution END,
            actions_taken = CASE WHEN $1 = 'resolved' THEN $5 ELSE actions_taken END,
            tracking_active = CASE WHEN $1 = 'resolved' THEN FALSE ELSE tracking_active END
        WHERE id = $6 AND status = $7 AND status_version = $8`,
		string(to), by, patch.At, patch.Resolution, patch.ActionsTaken,
		string(id), string(from), version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) RecordNotifications(ctx context.Context, id types.ID, n NotificationsSent) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `UPDATE sos_alerts SET notifications = $2 WHERE id = $1`, string(id), raw)
	return err
}

func (s *PGStore) AppendTrackingPoint(ctx context.Context, id types.ID, p TrackingPoint, limit int) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
        INSERT INTO sos_tracking_points (alert_id, lat, lng, recorded_at)
        VALUES ($1, $2, $3, $4)`,
		string(id), p.Position.Lat, p.Position.Lng, p.RecordedAt,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
        DELETE FROM sos_tracking_points
        WHERE alert_id = $1 AND id NOT IN (
            SELECT id FROM sos_tracking_points
            WHERE alert_id = $1
            ORDER BY recorded_at DESC, id DESC
            LIMIT $2
        )`,
		string(id), limit,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) SetLastBroadcast(ctx context.Context, id types.ID, at time.Time) error {
	_, err := s.db.Exec(ctx, `UPDATE sos_alerts SET last_broadcast_at = $2 WHERE id = $1`, string(id), at)
	return err
}

func (s *PGStore) TrackingHistory(ctx context.Context, id types.ID) ([]TrackingPoint, error) {
	rows, err := s.db.Query(ctx, `
        SELECT lat, lng, recorded_at
        FROM sos_tracking_points
        WHERE alert_id = $1
        ORDER BY recorded_at, id`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TrackingPoint
	for rows.Next() {
		var p TrackingPoint
		if err := rows.Scan(&p.Position.Lat, &p.Position.Lng, &p.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// README: Sharing-session store backed by PostgreSQL; contact rows live in share_contacts.
package share

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vigil/internal/types"
)

type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id types.ID) (*Session, error)
	ActiveByTripUser(ctx context.Context, tripID, userID types.ID) (*Session, error)
	ActiveByTrip(ctx context.Context, tripID types.ID) ([]*Session, error)
	// AddContact appends atomically; returns false when the session already
	// holds MaxContacts entries or is inactive.
	AddContact(ctx context.Context, sessionID types.ID, c Contact) (bool, error)
	MarkContactNotified(ctx context.Context, sessionID types.ID, phone string, at time.Time) error
	// Deactivate flips exactly one active session; returns false if it was
	// already inactive or missing.
	Deactivate(ctx context.Context, sessionID types.ID, endedAt time.Time) (bool, error)
	UpdateLastLocation(ctx context.Context, tripID types.ID, p types.Point, at time.Time) error
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Create(ctx context.Context, sess *Session) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
        INSERT INTO share_sessions (id, trip_id, user_id, user_type, is_active, started_at)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		string(sess.ID), string(sess.TripID), string(sess.UserID),
		string(sess.UserType), sess.IsActive, sess.StartedAt,
	)
	if err != nil {
		return err
	}
	for _, c := range sess.Contacts {
		if _, err := tx.Exec(ctx, `
            INSERT INTO share_contacts (session_id, name, phone, notified, notified_at)
            VALUES ($1, $2, $3, $4, $5)`,
			string(sess.ID), c.Name, c.Phone, c.Notified, c.NotifiedAt,
		); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Session, error) {
	return s.scanOne(ctx, `WHERE id = $1`, string(id))
}

func (s *PGStore) ActiveByTripUser(ctx context.Context, tripID, userID types.ID) (*Session, error) {
	return s.scanOne(ctx, `WHERE trip_id = $1 AND user_id = $2 AND is_active`, string(tripID), string(userID))
}

func (s *PGStore) scanOne(ctx context.Context, where string, args ...any) (*Session, error) {
	row := s.db.QueryRow(ctx, `
        SELECT id, trip_id, user_id, user_type, is_active, started_at, ended_at,
               last_lat, last_lng, last_location_at
        FROM share_sessions `+where+` LIMIT 1`, args...)

	sess, err := scanSession(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadContacts(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *PGStore) ActiveByTrip(ctx context.Context, tripID types.ID) ([]*Session, error) {
	rows, err := s.db.Query(ctx, `
        SELECT id, trip_id, user_id, user_type, is_active, started_at, ended_at,
               last_lat, last_lng, last_location_at
        FROM share_sessions
        WHERE trip_id = $1 AND is_active
        ORDER BY started_at`, string(tripID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, sess := range sessions {
		if err := s.loadContacts(ctx, sess); err != nil {
			return nil, err
		}
	}
	return sessions, nil
}

func (s *PGStore) AddContact(ctx context.Context, sessionID types.ID, c Contact) (bool, error) {
	// Count guard and insert in one statement so concurrent appends cannot
	// push the list past the limit.
	tag, err := s.db.Exec(ctx, `
        INSERT INTO share_contacts (session_id, name, phone, notified, notified_at)
        SELECT $1, $2, $3, $4, $5
        WHERE (SELECT count(*) FROM share_contacts WHERE session_id = $1) < $6
          AND EXISTS (SELECT 1 FROM share_sessions WHERE id = $1 AND is_active)`,
		string(sessionID), c.Name, c.Phone, c.Notified, c.NotifiedAt, MaxContacts,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) MarkContactNotified(ctx context.Context, sessionID types.ID, phone string, at time.Time) error {
	_, err := s.db.Exec(ctx, `
        UPDATE share_contacts SET notified = TRUE, notified_at = $3
        WHERE session_id = $1 AND phone = $2`,
		string(sessionID), phone, at,
	)
	return err
}

func (s *PGStore) Deactivate(ctx context.Context, sessionID types.ID, endedAt time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE share_sessions SET is_active = FALSE, ended_at = $2
        WHERE id = $1 AND is_active`,
		string(sessionID), endedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) UpdateLastLocation(ctx context.Context, tripID types.ID, p types.Point, at time.Time) error {
	_, err := s.db.Exec(ctx, `
        UPDATE share_sessions SET last_lat = $2, last_lng = $3, last_location_at = $4
        WHERE trip_id = $1 AND is_active`,
		string(tripID), p.Lat, p.Lng, at,
	)
	return err
}

func (s *PGStore) loadContacts(ctx context.Context, sess *Session) error {
	rows, err := s.db.Query(ctx, `
        SELECT name, phone, notified, notified_at
        FROM share_contacts WHERE session_id = $1 ORDER BY id`, string(sess.ID))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.Name, &c.Phone, &c.Notified, &c.NotifiedAt); err != nil {
			return err
		}
		sess.Contacts = append(sess.Contacts, c)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var lastLat, lastLng *float64
	err := row.Scan(
		&sess.ID, &sess.TripID, &sess.UserID, &sess.UserType,
		&sess.IsActive, &sess.StartedAt, &sess.EndedAt,
		&lastLat, &lastLng, &sess.LastLocationAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastLat != nil && lastLng != nil {
		sess.LastLocation = &types.Point{Lat: *lastLat, Lng: *lastLng}
	}
	return &sess, nil
}

// README: Support-ticket contract and its Postgres adapter.
package tickets

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"vigil/internal/types"
)

const CategorySafety = "safety"

// Ticket is the record handed to the support team when an episode escalates.
type Ticket struct {
	ID        types.ID
	Category  string
	TripID    types.ID
	Subject   string
	Body      string
	Metadata  map[string]string
	CreatedAt time.Time
}

// Creator files a ticket and returns its id. Implementations must be safe to
// call from concurrent sweepers.
type Creator interface {
	Create(ctx context.Context, t Ticket) (types.ID, error)
}

// PGCreator writes tickets into the support_tickets table. In production the
// row is picked up by the support desk's own tooling.
type PGCreator struct {
	db *pgxpool.Pool
}

func NewPGCreator(db *pgxpool.Pool) *PGCreator {
	return &PGCreator{db: db}
}

func (c *PGCreator) Create(ctx context.Context, t Ticket) (types.ID, error) {
	if t.ID == "" {
		t.ID = types.ID(uuid.NewString())
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	metadata, err := json.Marshal(t.Metadata)
	if err != nil {
		return "", err
	}
	_, err = c.db.Exec(ctx, `
        INSERT INTO support_tickets (id, category, trip_id, subject, body, metadata, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(t.ID), t.Category, string(t.TripID), t.Subject, t.Body, metadata, t.CreatedAt,
	)
	if err != nil {
		return "", err
	}
	return t.ID, nil
}

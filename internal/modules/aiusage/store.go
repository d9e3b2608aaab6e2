package aiusage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store handles ai_summary_budget persistence.
type Store struct {
	db *pgxpool.Pool
}

// NewStore returns a Store backed by the given connection pool.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Use atomically checks the monthly budget for a scope and deducts one summary.
// It resets the counter to DefaultBudget when last_reset_month is behind the current month.
// Returns ErrBudgetExhausted when 0 rows are updated (budget spent or scope absent).
func (s *Store) Use(ctx context.Context, scope string) error {
	now := time.Now().Format("2006-01")

	tag, err := s.db.Exec(ctx, `
		UPDATE ai_summary_budget SET
			remaining = CASE WHEN last_reset_month != $1 THEN $2 - 1 ELSE remaining - 1 END,
			last_reset_month = $1
		WHERE scope = $3 AND (last_reset_month < $1 OR remaining > 0)
	`, now, DefaultBudget, scope)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBudgetExhausted
	}
	return nil
}

// EnsureScope initialises a budget row for the scope if it does not exist yet.
func (s *Store) EnsureScope(ctx context.Context, scope string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO ai_summary_budget (scope, remaining, last_reset_month)
		VALUES ($1, $2, $3)
		ON CONFLICT (scope) DO NOTHING
	`, scope, DefaultBudget, time.Now().Format("2006-01"))
	return err
}

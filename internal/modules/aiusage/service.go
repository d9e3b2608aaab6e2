package aiusage

import (
	"context"
	"errors"
)

// Service enforces the per-scope monthly summary budget.
type Service struct {
	store *Store
}

func NewService(store *Store) *Service {
	return &Service{store: store}
}

// Use deducts one summary from the scope's budget, creating the scope
// lazily on first use.
func (s *Service) Use(ctx context.Context, scope string) error {
	err := s.store.Use(ctx, scope)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrBudgetExhausted) {
		return err
	}

	// The scope row may simply not exist yet. Create it and retry once.
	if err := s.store.EnsureScope(ctx, scope); err != nil {
		return err
	}
	return s.store.Use(ctx, scope)
}

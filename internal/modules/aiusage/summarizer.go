package aiusage

import (
	"context"

	"vigil/internal/ai"
)

// ScopeIncidentSummaries is the budget scope charged for escalation ticket summaries.
const ScopeIncidentSummaries = "incident_summaries"

// BudgetedSummarizer wraps an ai.Summarizer and charges the monthly budget
// before each call. When the budget is exhausted it fails fast without
// touching the model.
type BudgetedSummarizer struct {
	svc   *Service
	inner ai.Summarizer
	scope string
}

func NewBudgetedSummarizer(svc *Service, inner ai.Summarizer) *BudgetedSummarizer {
	return &BudgetedSummarizer{svc: svc, inner: inner, scope: ScopeIncidentSummaries}
}

func (b *BudgetedSummarizer) SummarizeIncident(ctx context.Context, inc ai.Incident) (string, error) {
	if err := b.svc.Use(ctx, b.scope); err != nil {
		return "", err
	}
	return b.inner.SummarizeIncident(ctx, inc)
}

package aiusage

import "errors"

// ErrBudgetExhausted is returned when a scope has no AI summaries remaining for the current month.
var ErrBudgetExhausted = errors.New("ai summary budget exhausted")

// DefaultBudget is the number of AI incident summaries granted per scope per month.
const DefaultBudget = 100

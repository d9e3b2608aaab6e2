// README: Summarizer contract so the escalation path can run without an AI backend.
package ai

import (
	"context"
)

// Incident carries the facts of an unresponsive stationary episode.
type Incident struct {
	TripID          string
	StationarySince string
	AlertSentAt     string
	CallAttempted   bool
	CallAnswered    bool
	Address         string
	Lat             float64
	Lng             float64
}

// Summarizer defines the contract for generating the ticket summary.
// This interface allows swapping providers (Gemini, OpenAI, etc.) in the future.
type Summarizer interface {
	SummarizeIncident(ctx context.Context, inc Incident) (string, error)
}

// README: Stationary-event aggregate and the monitor state flow.
package monitor

import (
	"errors"
	"time"

	"vigil/internal/types"
)

type Status string

const (
	StatusMonitoring    Status = "monitoring"
	StatusAlertSent     Status = "alert_sent"
	StatusSafeConfirmed Status = "safe_confirmed"
	StatusHelpRequested Status = "help_requested"
	StatusEscalated     Status = "escalated"
	StatusResolved      Status = "resolved"
)

// Resolution reasons recorded on terminal events.
const (
	ReasonVehicleMoved  = "vehicle_moved"
	ReasonPassengerSafe = "passenger_confirmed_safe"
	ReasonTripCompleted = "trip_completed"
	ReasonSupportClosed = "support_closed"
)

// Passenger responses to the safety check.
const (
	ResponseSafe = "safe"
	ResponseHelp = "help"
)

var (
	ErrNotFound       = errors.New("stationary event not found")
	ErrInvalidState   = errors.New("invalid stationary-event transition")
	ErrConflict       = errors.New("stationary-event state conflict")
	ErrAlreadyHandled = errors.New("already_handled")
	ErrBadRequest     = errors.New("bad request")
)

// AllowedTransitions represents the monitor state flow as code. escalated and
// help_requested may still be closed out by support, hence their edge to
// resolved.
var AllowedTransitions = map[Status][]Status{
	StatusMonitoring:    {StatusAlertSent, StatusResolved},
	StatusAlertSent:     {StatusSafeConfirmed, StatusHelpRequested, StatusEscalated, StatusResolved},
	StatusHelpRequested: {StatusResolved},
	StatusEscalated:     {StatusResolved},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

type PassengerResponse struct {
	Responded   bool       `json:"responded"`
	RespondedAt *time.Time `json:"respondedAt,omitempty"`
	Response    string     `json:"response,omitempty"`
}

type Escalation struct {
	CallAttempted      bool       `json:"callAttempted"`
	CallAttemptedAt    *time.Time `json:"callAttemptedAt,omitempty"`
	CallAnswered       bool       `json:"callAnswered"`
	EscalatedToSupport bool       `json:"escalatedToSupport"`
	EscalatedAt        *time.Time `json:"escalatedAt,omitempty"`
	SupportTicketID    *types.ID  `json:"supportTicketId,omitempty"`
}

// Event is one detected immobility episode. Events are never deleted; they
// are retained for audit after reaching a terminal state.
type Event struct {
	ID            types.ID
	TripID        types.ID
	PassengerID   types.ID
	Anchor        types.Point
	StartedAt     time.Time
	Status        Status
	StatusVersion int

	// AlertSentAt is set on entry to alert_sent; the escalation window is
	// measured from it.
	AlertSentAt *time.Time
	// DueAt is the persisted deadline of the pending transition: anchor time
	// plus the stationary window while monitoring, alert time plus the
	// escalation timeout while alert_sent. Sweeps are driven off this field
	// so a restart loses no timers.
	DueAt *time.Time

	Response   PassengerResponse
	Escalation Escalation

	SOSAlertID       *types.ID
	ResolvedAt       *time.Time
	ResolutionReason string

	CreatedAt time.Time
}

// Terminal reports whether the monitor is finished with this event.
func (e *Event) Terminal() bool {
	switch e.Status {
	case StatusSafeConfirmed, StatusEscalated, StatusResolved, StatusHelpRequested:
		return true
	}
	return false
}

// Open reports whether the event still drives monitoring activity.
func (e *Event) Open() bool {
	return e.Status == StatusMonitoring || e.Status == StatusAlertSent
}

// Duration returns how long the episode has lasted as of now.
func (e *Event) Duration(now time.Time) time.Duration {
	return now.Sub(e.StartedAt)
}

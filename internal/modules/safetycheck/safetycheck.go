// README: Safety-check push construction and dispatch.
package safetycheck

import (
	"context"

	"go.uber.org/zap"

	"vigil/internal/metrics"
	"vigil/internal/modules/monitor"
	"vigil/internal/notify"
	"vigil/internal/types"
)

const (
	Template = "safety_check"
	Title    = "Safety Check"
	Body     = "Is everything okay?"

	ActionConfirmSafe = "confirm_safe"
	ActionRequestHelp = "request_help"
)

// BuildNotification renders the two-action prompt. The action ids are what
// the client posts back as the passenger's response.
func BuildNotification(eventID types.ID) notify.Payload {
	return notify.Payload{
		Title: Title,
		Body:  Body,
		Actions: []notify.Action{
			{ID: ActionConfirmSafe, Title: "Confirm Safety"},
			{ID: ActionRequestHelp, Title: "Request Help", Destructive: true},
		},
		Data: map[string]string{
			"eventId": string(eventID),
			"type":    Template,
		},
	}
}

// Dispatcher sends the safety check to the passenger. Delivery is best
// effort: the escalation deadline is persisted before dispatch, so a missed
// push still ends in a phone call.
type Dispatcher struct {
	notifier notify.Notifier
	metrics  *metrics.Collector
	log      *zap.Logger
}

func NewDispatcher(notifier notify.Notifier, m *metrics.Collector, log *zap.Logger) *Dispatcher {
	return &Dispatcher{notifier: notifier, metrics: m, log: log}
}

func (d *Dispatcher) Dispatch(ctx context.Context, e *monitor.Event) error {
	res := d.notifier.Send(ctx, string(e.PassengerID), Template, BuildNotification(e.ID))
	if !res.Success {
		d.log.Warn("safety check push failed",
			zap.String("event_id", string(e.ID)),
			zap.String("trip_id", string(e.TripID)),
			zap.Error(res.Err))
		return res.Err
	}
	d.log.Info("safety check sent",
		zap.String("event_id", string(e.ID)),
		zap.String("trip_id", string(e.TripID)),
		zap.String("message_id", res.MessageID))
	return nil
}

// README: SOSAlertManager; alert lifecycle, continuous tracking, dashboard fan-out.
package sos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vigil/internal/metrics"
	"vigil/internal/modules/broadcast"
	"vigil/internal/modules/geo"
	"vigil/internal/modules/share"
	"vigil/internal/notify"
	"vigil/internal/types"
)

const templateSOSContact = "sos_contact_alert"

// ContactSource yields the trusted contacts to alert for a trip; implemented
// by the location-share manager.
type ContactSource interface {
	ActiveContacts(ctx context.Context, tripID types.ID) ([]share.Contact, error)
}

type Service struct {
	store    Store
	hub      *broadcast.Hub
	contacts ContactSource
	notifier notify.Notifier
	metrics  *metrics.Collector
	log      *zap.Logger
}

func NewService(store Store, hub *broadcast.Hub, contacts ContactSource, notifier notify.Notifier, m *metrics.Collector, log *zap.Logger) *Service {
	return &Service{store: store, hub: hub, contacts: contacts, notifier: notifier, metrics: m, log: log}
}

type TriggerCommand struct {
	TripID      types.ID
	TriggeredBy types.ID
	UserType    string
	Location    types.Point
	Journey     JourneyDetails
}

// Trigger creates an active alert, starts continuous tracking, and fans out
// to the admin and support dashboards and the trip's trusted contacts. Zero
// connected subscribers is not a failure; every attempt and its reach is
// recorded on the alert.
func (s *Service) Trigger(ctx context.Context, cmd TriggerCommand) (*Alert, error) {
	if cmd.TripID == "" || cmd.TriggeredBy == "" {
		return nil, ErrBadRequest
	}
	if err := geo.ValidatePoint(cmd.Location); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	a := &Alert{
		ID:          types.ID(uuid.NewString()),
		TripID:      cmd.TripID,
		TriggeredBy: cmd.TriggeredBy,
		UserType:    cmd.UserType,
		Location:    cmd.Location,
		Status:      StatusActive,
		Journey:     cmd.Journey,
		Tracking:    ContinuousTracking{IsActive: true},
		CreatedAt:   now,
	}
	if err := s.store.Create(ctx, a); err != nil {
		return nil, err
	}
	if err := s.store.AppendTrackingPoint(ctx, a.ID, TrackingPoint{Position: cmd.Location, RecordedAt: now}, TrackingHistoryLimit); err != nil {
		s.log.Warn("append trigger tracking point failed", zap.Error(err))
	}
	if s.metrics != nil {
		s.metrics.SOSTriggered.Inc()
	}

	payload := map[string]any{
		"alertId":     a.ID,
		"tripId":      a.TripID,
		"triggeredBy": a.TriggeredBy,
		"userType":    a.UserType,
		"location":    a.Location,
		"createdAt":   a.CreatedAt,
	}
	a.Notifications.AdminSocketsCount = s.hub.Publish(broadcast.AdminRoom, "sos_alert", payload)
	a.Notifications.AdminNotified = true
	a.Notifications.SupportSocketsCount = s.hub.Publish(broadcast.SupportRoom, "sos_alert", payload)
	a.Notifications.SupportNotified = true

	contacts, err := s.contacts.ActiveContacts(ctx, cmd.TripID)
	if err != nil {
		s.log.Warn("contact lookup failed", zap.String("trip_id", string(cmd.TripID)), zap.Error(err))
	}
	for _, c := range contacts {
		res := s.notifier.Send(ctx, c.Phone, templateSOSContact, notify.Payload{
			Title: "Emergency alert",
			Body:  "An SOS was triggered on a trip you are following.",
			Data:  map[string]string{"tripId": string(cmd.TripID), "alertId": string(a.ID)},
		})
		if res.Success {
			a.Notifications.ContactsNotifiedCount++
		}
	}
	a.Notifications.ContactsNotified = len(contacts) > 0

	if err := s.store.RecordNotifications(ctx, a.ID, a.Notifications); err != nil {
		s.log.Warn("record notifications failed", zap.Error(err))
	}

	history, err := s.store.TrackingHistory(ctx, a.ID)
	if err == nil {
		a.Tracking.History = history
	}
	return a, nil
}

// Acknowledge moves active -> acknowledged.
func (s *Service) Acknowledge(ctx context.Context, alertID, userID types.ID) (*Alert, error) {
	a, err := s.store.Get(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(a.Status, StatusAcknowledged) {
		return nil, ErrInvalidState
	}
	ok, err := s.store.UpdateStatus(ctx, a.ID, a.Status, StatusAcknowledged, a.StatusVersion,
		StatusPatch{By: userID, At: time.Now().UTC()})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	return s.store.Get(ctx, alertID)
}

// Resolve closes the alert from active or acknowledged and stops continuous
// tracking.
func (s *Service) Resolve(ctx context.Context, alertID, userID types.ID, resolution string, actionsTaken []string) (*Alert, error) {
	a, err := s.store.Get(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(a.Status, StatusResolved) {
		return nil, ErrInvalidState
	}
	ok, err := s.store.UpdateStatus(ctx, a.ID, a.Status, StatusResolved, a.StatusVersion,
		StatusPatch{By: userID, At: time.Now().UTC(), Resolution: resolution, ActionsTaken: actionsTaken})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}

	s.hub.Publish(broadcast.AdminRoom, "sos_resolved", map[string]any{
		"alertId": alertID, "tripId": a.TripID, "resolution": resolution,
	})
	return s.store.Get(ctx, alertID)
}

// UpdateContinuousTracking appends a point to a live alert's history (bounded
// to the newest TrackingHistoryLimit entries) and rebroadcasts the position.
func (s *Service) UpdateContinuousTracking(ctx context.Context, alertID types.ID, p types.Point) error {
	if err := geo.ValidatePoint(p); err != nil {
		return err
	}
	a, err := s.store.Get(ctx, alertID)
	if err != nil {
		return err
	}
	if !a.Live() || !a.Tracking.IsActive {
		return ErrInvalidState
	}

	now := time.Now().UTC()
	if err := s.store.AppendTrackingPoint(ctx, alertID, TrackingPoint{Position: p, RecordedAt: now}, TrackingHistoryLimit); err != nil {
		return err
	}
	if err := s.store.SetLastBroadcast(ctx, alertID, now); err != nil {
		return err
	}

	payload := map[string]any{"alertId": alertID, "tripId": a.TripID, "location": p, "timestamp": now}
	s.hub.Publish(broadcast.AdminRoom, "sos_location", payload)
	s.hub.Publish(broadcast.SupportRoom, "sos_location", payload)
	return nil
}

// Get loads a full alert including tracking history.
func (s *Service) Get(ctx context.Context, alertID types.ID) (*Alert, error) {
	return s.store.Get(ctx, alertID)
}

// ActiveByTrip returns the trip's live alert if one exists.
func (s *Service) ActiveByTrip(ctx context.Context, tripID types.ID) (*Alert, error) {
	return s.store.ActiveByTrip(ctx, tripID)
}

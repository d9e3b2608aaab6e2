// README: Stationary monitoring service: episode detection, safety-check responses, and sweeps.
package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"vigil/internal/config"
	"vigil/internal/metrics"
	"vigil/internal/modules/geo"
	"vigil/internal/modules/share"
	"vigil/internal/modules/sos"
	"vigil/internal/types"
)

// Dispatcher pushes the safety check to the passenger once an episode
// crosses the stationary window.
type Dispatcher interface {
	Dispatch(ctx context.Context, e *Event) error
}

// AlertService is the slice of the SOS module the monitor drives: raising an
// alert on a help response and feeding tracking while one is live.
type AlertService interface {
	Trigger(ctx context.Context, cmd sos.TriggerCommand) (*sos.Alert, error)
	ActiveByTrip(ctx context.Context, tripID types.ID) (*sos.Alert, error)
	UpdateContinuousTracking(ctx context.Context, alertID types.ID, p types.Point) error
}

// ShareService is the slice of location sharing the monitor drives.
type ShareService interface {
	PushLocation(ctx context.Context, tripID types.ID, p types.Point, at time.Time) error
	StopAllSharingForTrip(ctx context.Context, tripID types.ID) (share.StopAllResult, error)
}

type Service struct {
	store      Store
	locks      *Registry
	cache      *LocationCache
	dispatcher Dispatcher
	alerts     AlertService
	shares     ShareService
	cfg        config.MonitorConfig
	metrics    *metrics.Collector
	log        *zap.Logger
}

func NewService(
	store Store,
	locks *Registry,
	cache *LocationCache,
	dispatcher Dispatcher,
	alerts AlertService,
	shares ShareService,
	cfg config.MonitorConfig,
	m *metrics.Collector,
	log *zap.Logger,
) *Service {
	return &Service{
		store:      store,
		locks:      locks,
		cache:      cache,
		dispatcher: dispatcher,
		alerts:     alerts,
		shares:     shares,
		cfg:        cfg,
		metrics:    m,
		log:        log,
	}
}

// ProcessLocationUpdate is the hot path: every trip location report lands
// here. It fans the point out to the side channels (cache, sharing sessions,
// a live SOS alert) and then advances the trip's stationary episode under the
// per-trip lock.
func (s *Service) ProcessLocationUpdate(ctx context.Context, tripID, passengerID types.ID, p types.Point, at time.Time) error {
	if tripID == "" {
		return ErrBadRequest
	}
	if err := geo.ValidatePoint(p); err != nil {
		return err
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	unlock := s.locks.Lock(tripID)
	defer unlock()

	s.feedSideChannels(ctx, tripID, p, at)

	e, err := s.store.OpenByTrip(ctx, tripID)
	if errors.Is(err, ErrNotFound) {
		return s.startEpisode(ctx, tripID, passengerID, p, at)
	}
	if err != nil {
		return err
	}

	dist, err := geo.Distance(e.Anchor, p)
	if err != nil {
		return err
	}
	if dist >= s.cfg.StationaryThresholdMeters {
		return s.vehicleMoved(ctx, e, tripID, passengerID, p, at)
	}

	if e.Status == StatusMonitoring && at.Sub(e.StartedAt) >= s.cfg.StationaryWindow {
		return s.sendSafetyCheck(ctx, e, at)
	}
	return nil
}

func (s *Service) feedSideChannels(ctx context.Context, tripID types.ID, p types.Point, at time.Time) {
	if s.cache != nil {
		if err := s.cache.Set(ctx, tripID, p, at); err != nil {
			s.log.Warn("location cache write failed", zap.String("trip_id", string(tripID)), zap.Error(err))
		} else if err := s.cache.Touch(ctx, tripID); err != nil {
			s.log.Warn("location cache ttl refresh failed", zap.String("trip_id", string(tripID)), zap.Error(err))
		}
	}
	if s.shares != nil {
		if err := s.shares.PushLocation(ctx, tripID, p, at); err != nil {
			s.log.Warn("share fan-out failed", zap.String("trip_id", string(tripID)), zap.Error(err))
		}
	}
	if s.alerts != nil {
		alert, err := s.alerts.ActiveByTrip(ctx, tripID)
		if err != nil && !errors.Is(err, sos.ErrNotFound) {
			s.log.Warn("active alert lookup failed", zap.String("trip_id", string(tripID)), zap.Error(err))
			return
		}
		if alert != nil {
			if err := s.alerts.UpdateContinuousTracking(ctx, alert.ID, p); err != nil {
				s.log.Warn("sos tracking update failed", zap.String("alert_id", string(alert.ID)), zap.Error(err))
			}
		}
	}
}

func (s *Service) startEpisode(ctx context.Context, tripID, passengerID types.ID, p types.Point, at time.Time) error {
	due := at.Add(s.cfg.StationaryWindow)
	e := &Event{
		ID:            types.ID(uuid.NewString()),
		TripID:        tripID,
		PassengerID:   passengerID,
		Anchor:        p,
		StartedAt:     at,
		Status:        StatusMonitoring,
		StatusVersion: 1,
		DueAt:         &due,
		CreatedAt:     at,
	}
	if err := s.store.Create(ctx, e); err != nil {
		return err
	}
	s.metrics.EpisodesStarted.Inc()
	s.metrics.ActiveMonitors.Inc()
	return nil
}

// vehicleMoved closes the episode and re-anchors a fresh one at the current
// point, so a vehicle that creeps forward in traffic keeps restarting the
// clock instead of accumulating stationary time.
func (s *Service) vehicleMoved(ctx context.Context, e *Event, tripID, passengerID types.ID, p types.Point, at time.Time) error {
	resolvedAt := at
	ok, err := s.store.UpdateStatus(ctx, e.ID, e.Status, StatusResolved, e.StatusVersion, StatusPatch{
		ResolvedAt:       &resolvedAt,
		ResolutionReason: ReasonVehicleMoved,
	})
	if err != nil {
		return err
	}
	if !ok {
		// Lost the race to a response or a sweep; the next update re-anchors.
		return nil
	}
	s.metrics.ActiveMonitors.Dec()
	s.metrics.EpisodesResolved.WithLabelValues(ReasonVehicleMoved).Inc()
	return s.startEpisode(ctx, tripID, passengerID, p, at)
}

func (s *Service) sendSafetyCheck(ctx context.Context, e *Event, at time.Time) error {
	due := at.Add(s.cfg.EscalationTimeout)
	ok, err := s.store.UpdateStatus(ctx, e.ID, StatusMonitoring, StatusAlertSent, e.StatusVersion, StatusPatch{
		AlertSentAt: &at,
		DueAt:       &due,
	})
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	s.metrics.AlertsSent.Inc()

	updated, err := s.store.Get(ctx, e.ID)
	if err != nil {
		return err
	}
	if err := s.dispatcher.Dispatch(ctx, updated); err != nil {
		// The deadline is already persisted, so an undelivered push still
		// escalates on schedule.
		s.log.Error("safety check dispatch failed",
			zap.String("event_id", string(e.ID)), zap.Error(err))
	}
	return nil
}

// HandleResponse applies the passenger's answer to the safety check. Exactly
// one actor wins an alert_sent event; later answers, and answers racing a
// concurrent escalation, get ErrAlreadyHandled.
func (s *Service) HandleResponse(ctx context.Context, eventID types.ID, response string) (*Event, error) {
	if response != ResponseSafe && response != ResponseHelp {
		return nil, ErrBadRequest
	}
	e, err := s.store.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(e.TripID)
	defer unlock()

	e, err = s.store.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if e.Status != StatusAlertSent {
		return nil, ErrAlreadyHandled
	}

	now := time.Now().UTC()
	resp := PassengerResponse{Responded: true, RespondedAt: &now, Response: response}

	if response == ResponseSafe {
		ok, err := s.store.UpdateStatus(ctx, e.ID, StatusAlertSent, StatusSafeConfirmed, e.StatusVersion, StatusPatch{
			Response:         &resp,
			ResolvedAt:       &now,
			ResolutionReason: ReasonPassengerSafe,
		})
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrAlreadyHandled
		}
		s.metrics.ActiveMonitors.Dec()
		s.metrics.EpisodesResolved.WithLabelValues(ReasonPassengerSafe).Inc()
		return s.store.Get(ctx, e.ID)
	}

	ok, err := s.store.UpdateStatus(ctx, e.ID, StatusAlertSent, StatusHelpRequested, e.StatusVersion, StatusPatch{
		Response: &resp,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadyHandled
	}
	s.metrics.ActiveMonitors.Dec()

	if err := s.raiseSOS(ctx, e); err != nil {
		s.log.Error("sos trigger on help response failed",
			zap.String("event_id", string(e.ID)), zap.Error(err))
	}
	return s.store.Get(ctx, e.ID)
}

// raiseSOS converts a help response into an SOS alert and links it back to
// the event. A trip that already has a live alert reuses it.
func (s *Service) raiseSOS(ctx context.Context, e *Event) error {
	loc := e.Anchor
	if s.cache != nil {
		if p, _, ok, err := s.cache.Get(ctx, e.TripID); err == nil && ok {
			loc = p
		}
	}
	alert, err := s.alerts.Trigger(ctx, sos.TriggerCommand{
		TripID:      e.TripID,
		TriggeredBy: e.PassengerID,
		UserType:    string(share.UserPassenger),
		Location:    loc,
	})
	if errors.Is(err, sos.ErrActiveAlert) {
		alert, err = s.alerts.ActiveByTrip(ctx, e.TripID)
	}
	if err != nil {
		return err
	}
	return s.store.LinkSOS(ctx, e.ID, alert.ID)
}

// RunStationarySweep promotes monitoring episodes whose window elapsed
// without a location update contradicting them. GPS silence looks the same
// as standing still, which is exactly when a check-in matters.
func (s *Service) RunStationarySweep(ctx context.Context) error {
	timer := prometheus.NewTimer(s.metrics.SweepDuration)
	defer timer.ObserveDuration()

	now := time.Now().UTC()
	due, err := s.store.DueStationary(ctx, now, 100)
	if err != nil {
		return err
	}
	for _, e := range due {
		s.promoteDue(ctx, e.ID, now)
	}
	return nil
}

func (s *Service) promoteDue(ctx context.Context, id types.ID, now time.Time) {
	e, err := s.store.Get(ctx, id)
	if err != nil {
		s.log.Warn("sweep re-read failed", zap.String("event_id", string(id)), zap.Error(err))
		return
	}

	unlock := s.locks.Lock(e.TripID)
	defer unlock()

	e, err = s.store.Get(ctx, id)
	if err != nil {
		s.log.Warn("sweep re-read failed", zap.String("event_id", string(id)), zap.Error(err))
		return
	}
	if e.Status != StatusMonitoring || e.DueAt == nil || e.DueAt.After(now) {
		return
	}
	if err := s.sendSafetyCheck(ctx, e, now); err != nil {
		s.log.Error("sweep safety check failed", zap.String("event_id", string(id)), zap.Error(err))
	}
}

// EndTrip closes the trip's open episode and tears down its sharing
// sessions. Called when the trip completes or is cancelled.
func (s *Service) EndTrip(ctx context.Context, tripID types.ID) error {
	unlock := s.locks.Lock(tripID)

	e, err := s.store.OpenByTrip(ctx, tripID)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		unlock()
		return err
	default:
		now := time.Now().UTC()
		ok, uerr := s.store.UpdateStatus(ctx, e.ID, e.Status, StatusResolved, e.StatusVersion, StatusPatch{
			ResolvedAt:       &now,
			ResolutionReason: ReasonTripCompleted,
		})
		if uerr != nil {
			unlock()
			return uerr
		}
		if ok {
			s.metrics.ActiveMonitors.Dec()
			s.metrics.EpisodesResolved.WithLabelValues(ReasonTripCompleted).Inc()
		}
	}
	unlock()

	if s.shares != nil {
		if _, err := s.shares.StopAllSharingForTrip(ctx, tripID); err != nil {
			s.log.Warn("stop sharing on trip end failed", zap.String("trip_id", string(tripID)), zap.Error(err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Delete(ctx, tripID); err != nil {
			s.log.Warn("location cache delete failed", zap.String("trip_id", string(tripID)), zap.Error(err))
		}
	}
	return nil
}

// ResolveEscalated lets support close out an escalated or help_requested
// event once the situation is handled.
func (s *Service) ResolveEscalated(ctx context.Context, eventID types.ID) (*Event, error) {
	e, err := s.store.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(e.TripID)
	defer unlock()

	e, err = s.store.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(e.Status, StatusResolved) {
		return nil, ErrInvalidState
	}
	now := time.Now().UTC()
	ok, err := s.store.UpdateStatus(ctx, e.ID, e.Status, StatusResolved, e.StatusVersion, StatusPatch{
		ResolvedAt:       &now,
		ResolutionReason: ReasonSupportClosed,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	s.metrics.EpisodesResolved.WithLabelValues(ReasonSupportClosed).Inc()
	return s.store.Get(ctx, e.ID)
}

// Get returns an event by id.
func (s *Service) Get(ctx context.Context, id types.ID) (*Event, error) {
	return s.store.Get(ctx, id)
}

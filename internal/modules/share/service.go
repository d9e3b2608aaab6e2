// README: LocationShareManager; owns session lifecycle and broadcast-room parity.
package share

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vigil/internal/modules/broadcast"
	"vigil/internal/notify"
	"vigil/internal/types"
)

const (
	templateShareStarted = "share_started"
	templateShareEnded   = "share_ended"
)

type Service struct {
	store    Store
	hub      *broadcast.Hub
	notifier notify.Notifier
	log      *zap.Logger
}

func NewService(store Store, hub *broadcast.Hub, notifier notify.Notifier, log *zap.Logger) *Service {
	return &Service{store: store, hub: hub, notifier: notifier, log: log}
}

type StartCommand struct {
	TripID   types.ID
	UserID   types.ID
	UserType UserType
	Contacts []Contact
}

// StartSharing creates a session and one broadcast room per contact. Contact
// notification is best effort and never fails the start.
func (s *Service) StartSharing(ctx context.Context, cmd StartCommand) (*Session, error) {
	if cmd.TripID == "" || cmd.UserID == "" {
		return nil, ErrBadRequest
	}
	if cmd.UserType != UserDriver && cmd.UserType != UserPassenger {
		return nil, ErrBadRequest
	}
	if err := ValidateContacts(cmd.Contacts); err != nil {
		return nil, err
	}
	if existing, err := s.store.ActiveByTripUser(ctx, cmd.TripID, cmd.UserID); err == nil && existing != nil {
		return nil, ErrAlreadySharing
	} else if err != nil && err != ErrNotFound {
		return nil, err
	}

	sess := &Session{
		ID:        types.ID(uuid.NewString()),
		TripID:    cmd.TripID,
		UserID:    cmd.UserID,
		UserType:  cmd.UserType,
		Contacts:  cmd.Contacts,
		IsActive:  true,
		StartedAt: time.Now().UTC(),
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return nil, err
	}

	for _, c := range sess.Contacts {
		s.hub.CreateRoom(broadcast.TripContactRoom(sess.TripID, c.Phone))
		s.notifyContact(ctx, sess, c, templateShareStarted)
	}
	return sess, nil
}

// AddContact appends one contact, enforcing the limit at the store so racing
// appends cannot exceed it.
func (s *Service) AddContact(ctx context.Context, sessionID types.ID, c Contact) (*Session, error) {
	if c.Phone == "" {
		return nil, ErrBadRequest
	}
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	added, err := s.store.AddContact(ctx, sessionID, c)
	if err != nil {
		return nil, err
	}
	if !added {
		return nil, ErrMaxContactsExceeded
	}

	s.hub.CreateRoom(broadcast.TripContactRoom(sess.TripID, c.Phone))
	s.notifyContact(ctx, sess, c, templateShareStarted)
	return s.store.Get(ctx, sessionID)
}

// StopSharing deactivates exactly one session. Rooms for its contacts are
// removed unless another active session for the trip still shares with the
// same phone.
func (s *Service) StopSharing(ctx context.Context, tripID, userID types.ID) error {
	sess, err := s.store.ActiveByTripUser(ctx, tripID, userID)
	if err != nil {
		return err
	}
	ok, err := s.store.Deactivate(ctx, sess.ID, time.Now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}

	remaining, err := s.store.ActiveByTrip(ctx, tripID)
	if err != nil {
		return err
	}
	still := make(map[string]bool)
	for _, other := range remaining {
		for _, c := range other.Contacts {
			still[c.Phone] = true
		}
	}
	for _, c := range sess.Contacts {
		if !still[c.Phone] {
			s.hub.CloseRoom(broadcast.TripContactRoom(tripID, c.Phone))
		}
		s.notifyContact(ctx, sess, c, templateShareEnded)
	}
	return nil
}

// StopAllResult reports the trip-completion cleanup outcome.
type StopAllResult struct {
	SessionsDeactivated int
	Contacts            []Contact
}

// StopAllSharingForTrip is the mandatory cleanup hook invoked on trip
// completion: every active session is deactivated, every contact room for the
// trip is torn down, and the union of contacts to notify is returned.
func (s *Service) StopAllSharingForTrip(ctx context.Context, tripID types.ID) (StopAllResult, error) {
	sessions, err := s.store.ActiveByTrip(ctx, tripID)
	if err != nil {
		return StopAllResult{}, err
	}

	var res StopAllResult
	now := time.Now().UTC()
	seen := make(map[string]bool)
	for _, sess := range sessions {
		ok, err := s.store.Deactivate(ctx, sess.ID, now)
		if err != nil {
			return res, err
		}
		if ok {
			res.SessionsDeactivated++
		}
		for _, c := range sess.Contacts {
			if seen[c.Phone] {
				continue
			}
			seen[c.Phone] = true
			res.Contacts = append(res.Contacts, c)
			s.notifyContact(ctx, sess, c, templateShareEnded)
		}
	}

	s.hub.CloseTripRooms(tripID)
	return res, nil
}

// PushLocation fans the latest point out to every contact room of the trip's
// active sessions and records it on the sessions.
func (s *Service) PushLocation(ctx context.Context, tripID types.ID, p types.Point, at time.Time) error {
	if err := s.store.UpdateLastLocation(ctx, tripID, p, at); err != nil {
		return err
	}
	sessions, err := s.store.ActiveByTrip(ctx, tripID)
	if err != nil {
		return err
	}
	payload := map[string]any{"tripId": tripID, "lat": p.Lat, "lng": p.Lng, "timestamp": at}
	for _, sess := range sessions {
		for _, c := range sess.Contacts {
			s.hub.Publish(broadcast.TripContactRoom(tripID, c.Phone), "location_update", payload)
		}
	}
	return nil
}

// ActiveContacts returns the union of contacts across the trip's active
// sessions, deduplicated by phone. Used by the SOS flow to notify trusted
// contacts of an emergency.
func (s *Service) ActiveContacts(ctx context.Context, tripID types.ID) ([]Contact, error) {
	sessions, err := s.store.ActiveByTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	var out []Contact
	seen := make(map[string]bool)
	for _, sess := range sessions {
		for _, c := range sess.Contacts {
			if seen[c.Phone] {
				continue
			}
			seen[c.Phone] = true
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Service) notifyContact(ctx context.Context, sess *Session, c Contact, template string) {
	res := s.notifier.Send(ctx, c.Phone, template, notify.Payload{
		Body: "Trip location sharing update",
		Data: map[string]string{
			"tripId":   string(sess.TripID),
			"userType": string(sess.UserType),
		},
	})
	if !res.Success {
		s.log.Warn("contact notification failed",
			zap.String("trip_id", string(sess.TripID)),
			zap.String("phone", c.Phone),
			zap.Error(res.Err))
		return
	}
	if err := s.store.MarkContactNotified(ctx, sess.ID, c.Phone, time.Now().UTC()); err != nil {
		s.log.Warn("mark contact notified failed", zap.Error(err))
	}
}

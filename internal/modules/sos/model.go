// README: SOS alert aggregate, status flow, and continuous-tracking buffer.
package sos

import (
	"errors"
	"time"

	"vigil/internal/types"
)

type Status string

const (
	StatusActive       Status = "active"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

// TrackingHistoryLimit caps the continuous-tracking buffer; the oldest point
// is dropped on overflow.
const TrackingHistoryLimit = 100

var (
	ErrNotFound     = errors.New("sos alert not found")
	ErrActiveAlert  = errors.New("trip already has a live sos alert")
	ErrInvalidState = errors.New("invalid sos state transition")
	ErrConflict     = errors.New("sos alert state conflict")
	ErrBadRequest   = errors.New("bad request")
)

// AllowedTransitions represents the alert state flow as code.
var AllowedTransitions = map[Status][]Status{
	StatusActive:       {StatusAcknowledged, StatusResolved},
	StatusAcknowledged: {StatusResolved},
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

type TrackingPoint struct {
	Position   types.Point `json:"position"`
	RecordedAt time.Time   `json:"recordedAt"`
}

type DriverSnapshot struct {
	DriverID types.ID `json:"driverId"`
	Name     string   `json:"name"`
	Phone    string   `json:"phone"`
}

type VehicleSnapshot struct {
	Plate string `json:"plate"`
	Model string `json:"model"`
	Color string `json:"color"`
}

type TripRoute struct {
	Pickup  types.Point `json:"pickup"`
	Dropoff types.Point `json:"dropoff"`
}

// JourneyDetails is the trip snapshot frozen at trigger time so the dashboard
// keeps context even if the trip record changes afterwards.
type JourneyDetails struct {
	RouteTaken []types.Point   `json:"routeTaken"`
	Stops      []types.Point   `json:"stops"`
	Driver     DriverSnapshot  `json:"driver"`
	Vehicle    VehicleSnapshot `json:"vehicle"`
	TripRoute  TripRoute       `json:"tripRoute"`
}

// NotificationsSent records every fan-out attempt made for the alert,
// including how many dashboard subscribers each broadcast reached.
type NotificationsSent struct {
	AdminNotified         bool `json:"adminNotified"`
	AdminSocketsCount     int  `json:"adminSocketsCount"`
	SupportNotified       bool `json:"supportNotified"`
	SupportSocketsCount   int  `json:"supportSocketsCount"`
	ContactsNotified      bool `json:"emergencyContactsNotified"`
	ContactsNotifiedCount int  `json:"contactsNotifiedCount"`
}

type ContinuousTracking struct {
	IsActive        bool            `json:"isActive"`
	LastBroadcastAt *time.Time      `json:"lastBroadcastAt,omitempty"`
	History         []TrackingPoint `json:"trackingHistory"`
}

type Alert struct {
	ID            types.ID
	TripID        types.ID
	TriggeredBy   types.ID
	UserType      string
	Location      types.Point
	Status        Status
	StatusVersion int

	AcknowledgedBy *types.ID
	AcknowledgedAt *time.Time
	ResolvedBy     *types.ID
	ResolvedAt     *time.Time
	Resolution     string
	ActionsTaken   []string

	Notifications NotificationsSent
	Journey       JourneyDetails
	Tracking      ContinuousTracking

	CreatedAt time.Time
}

// Live reports whether the alert still demands attention.
func (a *Alert) Live() bool {
	return a.Status == StatusActive || a.Status == StatusAcknowledged
}

// README: Location-sharing sessions and the bounded trusted-contact list.
package share

import (
	"errors"
	"time"

	"vigil/internal/types"
)

// MaxContacts bounds the trusted-contact list per sharing session. Enforced
// at session creation and on every append.
const MaxContacts = 5

type UserType string

const (
	UserDriver    UserType = "driver"
	UserPassenger UserType = "passenger"
)

var (
	ErrMaxContactsExceeded = errors.New("MAX_CONTACTS_EXCEEDED")
	ErrNotFound            = errors.New("sharing session not found")
	ErrAlreadySharing      = errors.New("an active sharing session already exists for this trip and user")
	ErrBadRequest          = errors.New("bad request")
)

type Contact struct {
	Name       string     `json:"name"`
	Phone      string     `json:"phone"`
	Notified   bool       `json:"notified"`
	NotifiedAt *time.Time `json:"notifiedAt,omitempty"`
}

type Session struct {
	ID             types.ID
	TripID         types.ID
	UserID         types.ID
	UserType       UserType
	Contacts       []Contact
	IsActive       bool
	StartedAt      time.Time
	EndedAt        *time.Time
	LastLocation   *types.Point
	LastLocationAt *time.Time
}

// ValidateContacts rejects lists longer than MaxContacts and contacts with no
// phone number. An empty list is valid; contacts can be appended later.
func ValidateContacts(list []Contact) error {
	if len(list) > MaxContacts {
		return ErrMaxContactsExceeded
	}
	for _, c := range list {
		if c.Phone == "" {
			return ErrBadRequest
		}
	}
	return nil
}

// Package domain holds shared value objects used across feature packages.
package domain

import (
	"github.com/google/uuid"

	dErrors "aegis/pkg/domain-errors"
)

// ID types are distinct at compile time so a MessageID can never be passed
// where a UserID is expected.
//
// Invariant: IDs must be valid, non-empty, non-nil UUIDs. Construct via the
// Parse* functions at trust boundaries; direct casting bypasses validation.
type (
	UserID         uuid.UUID
	CounterpartyID uuid.UUID
	MessageID      uuid.UUID
	EventID        uuid.UUID
	ProofID        uuid.UUID
	GrantID        uuid.UUID
)

func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must be a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be the nil UUID")
	}
	return u, nil
}

// ParseUserID validates external input into a UserID.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s)
	return UserID(u), err
}

// ParseCounterpartyID validates external input into a CounterpartyID.
func ParseCounterpartyID(s string) (CounterpartyID, error) {
	u, err := parseUUID(s)
	return CounterpartyID(u), err
}

// ParseMessageID validates external input into a MessageID.
func ParseMessageID(s string) (MessageID, error) {
	u, err := parseUUID(s)
	return MessageID(u), err
}

// ParseEventID validates external input into an EventID.
func ParseEventID(s string) (EventID, error) {
	u, err := parseUUID(s)
	return EventID(u), err
}

// NewUserID generates a fresh UserID.
func NewUserID() UserID { return UserID(uuid.New()) }

// NewCounterpartyID generates a fresh CounterpartyID.
func NewCounterpartyID() CounterpartyID { return CounterpartyID(uuid.New()) }

// NewMessageID generates a fresh MessageID.
func NewMessageID() MessageID { return MessageID(uuid.New()) }

// NewEventID generates a fresh EventID.
func NewEventID() EventID { return EventID(uuid.New()) }

// NewProofID generates a fresh ProofID.
func NewProofID() ProofID { return ProofID(uuid.New()) }

// ParseGrantID validates external input into a GrantID.
func ParseGrantID(s string) (GrantID, error) {
	u, err := parseUUID(s)
	return GrantID(u), err
}

// NewGrantID generates a fresh GrantID.
func NewGrantID() GrantID { return GrantID(uuid.New()) }

func (id UserID) String() string         { return uuid.UUID(id).String() }
func (id CounterpartyID) String() string { return uuid.UUID(id).String() }
func (id MessageID) String() string      { return uuid.UUID(id).String() }
func (id EventID) String() string        { return uuid.UUID(id).String() }
func (id ProofID) String() string        { return uuid.UUID(id).String() }
func (id GrantID) String() string        { return uuid.UUID(id).String() }

func (id UserID) IsZero() bool         { return uuid.UUID(id) == uuid.Nil }
func (id CounterpartyID) IsZero() bool { return uuid.UUID(id) == uuid.Nil }
func (id MessageID) IsZero() bool      { return uuid.UUID(id) == uuid.Nil }
func (id EventID) IsZero() bool        { return uuid.UUID(id) == uuid.Nil }
func (id GrantID) IsZero() bool        { return uuid.UUID(id) == uuid.Nil }

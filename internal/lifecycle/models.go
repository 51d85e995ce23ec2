// Package lifecycle owns the correspondence state machine: authorization
// grants, message drafting, approval, delivery, and inbound correlation.
// Message status only ever moves forward; the transition table below is the
// single definition of what forward means.
package lifecycle

import (
	"slices"
	"strings"
	"time"

	"aegis/internal/lifecycle/parser"
	"aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
)

// Status is the lifecycle state of a Message.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusSent            Status = "sent"
	StatusDelivered       Status = "delivered"
	StatusResponded       Status = "responded"
	StatusFailed          Status = "failed"
)

// transitions enumerates every legal move. Anything absent is illegal,
// which makes backward moves impossible by construction.
var transitions = map[Status][]Status{
	StatusDraft:           {StatusPendingApproval},
	StatusPendingApproval: {StatusApproved},
	StatusApproved:        {StatusSent, StatusFailed},
	StatusSent:            {StatusDelivered, StatusResponded, StatusFailed},
	StatusDelivered:       {StatusResponded},
	StatusResponded:       nil,
	StatusFailed:          nil,
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// IsTerminal reports whether no further transition exists from s.
func (s Status) IsTerminal() bool {
	next, known := transitions[s]
	return known && len(next) == 0
}

// AllStatuses lists every status, for exhaustive table checks.
func AllStatuses() []Status {
	return []Status{
		StatusDraft, StatusPendingApproval, StatusApproved,
		StatusSent, StatusDelivered, StatusResponded, StatusFailed,
	}
}

// ParseStatus validates a stored status string.
func ParseStatus(s string) (Status, error) {
	status := Status(s)
	if _, ok := transitions[status]; !ok {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown message status: "+s)
	}
	return status, nil
}

// Direction distinguishes messages we send from messages we receive.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// Authorization is a user's grant to correspond with a counterparty on
// their behalf. A zero CounterpartyID means the grant covers all
// counterparties. Authorizations are never mutated, only re-issued.
type Authorization struct {
	ID             domain.GrantID
	UserID         domain.UserID
	CounterpartyID domain.CounterpartyID
	Scope          []string
	PlatformAlias  string
	ValidUntil     time.Time
	Active         bool
	CreatedAt      time.Time
}

// Covers reports whether this grant authorizes correspondence with the
// given counterparty at the given instant.
func (a Authorization) Covers(counterpartyID domain.CounterpartyID, now time.Time) bool {
	if !a.Active || now.After(a.ValidUntil) {
		return false
	}
	return a.CounterpartyID.IsZero() || a.CounterpartyID == counterpartyID
}

// HasScope reports whether the grant includes the named permission.
func (a Authorization) HasScope(permission string) bool {
	return slices.Contains(a.Scope, permission)
}

// Message is one piece of correspondence. Once a terminal status is reached
// the only permitted mutation is attaching a parsing result.
type Message struct {
	ID             domain.MessageID
	UserID         domain.UserID
	CounterpartyID domain.CounterpartyID
	Direction      Direction
	// CorrelationKey is the token embedded in outbound reply-to addresses
	// and headers; an inbound message carrying it correlates exactly.
	CorrelationKey string
	StrategyUsed   domain.Strategy
	Status         Status
	// RecipientAddress is where the counterparty receives this message.
	RecipientAddress string
	Subject          string
	BodyContent      string
	SentAt         *time.Time
	RespondedAt    *time.Time
	ParsingResult  *parser.Result
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// InboundRecord is a received message. It is always stored, correlated or
// not; an uncorrelated one is flagged for manual review rather than
// rejected.
type InboundRecord struct {
	ID                  domain.MessageID
	CounterpartyID      domain.CounterpartyID
	FromAddress         string
	Subject             string
	BodyContent         string
	CorrelatedMessageID domain.MessageID
	// CorrelationMethod is "token", "heuristic", or "none".
	CorrelationMethod   string
	RequiresHumanReview bool
	ParsingResult       *parser.Result
	ReceivedAt          time.Time
}

// CorrelationToken extracts the token from a plus-addressed recipient such
// as "case+ab12cd34@example.org". Returns empty when none is present.
func CorrelationToken(address string) string {
	local, _, ok := strings.Cut(address, "@")
	if !ok {
		return ""
	}
	_, token, ok := strings.Cut(local, "+")
	if !ok {
		return ""
	}
	return token
}

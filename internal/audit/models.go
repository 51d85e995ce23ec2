// Package audit keeps an append-only trail of who did what to which
// correspondence. Entries are transport-agnostic so stores and sinks can
// fan out; nothing here is ever updated or deleted.
package audit

import (
	"time"

	"aegis/pkg/domain"
)

// Actions recorded on the trail.
const (
	ActionAuthorizationGranted = "authorization.granted"
	ActionMessageDrafted       = "message.drafted"
	ActionMessageApproved      = "message.approved"
	ActionMessageSent          = "message.sent"
	ActionMessageFailed        = "message.failed"
	ActionMessageDelivered     = "message.delivered"
	ActionInboundReceived      = "inbound.received"
)

// Event is one audit trail entry. UserID is zero for actions taken by the
// system on webhook input rather than by an authenticated user.
type Event struct {
	ID             string
	Timestamp      time.Time
	UserID         domain.UserID
	Action         string
	MessageID      domain.MessageID
	CounterpartyID domain.CounterpartyID
	Detail         string
}

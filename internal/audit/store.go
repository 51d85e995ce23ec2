package audit

import (
	"context"

	"aegis/pkg/domain"
)

// Store persists the audit trail. Append-only.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByUser(ctx context.Context, userID domain.UserID) ([]Event, error)
}

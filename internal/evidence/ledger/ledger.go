// Package ledger defines the narrow client interface to the external
// append-only ledger and its implementations. The ledger's consensus is
// opaque to us; we only submit metadata and poll for confirmations.
package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrTxNotFound is returned by Query when the transaction is unknown to the
// ledger. Callers treat it as "not yet visible" while polling.
var ErrTxNotFound = errors.New("ledger: transaction not found")

// Record is the on-chain view of a submitted transaction.
type Record struct {
	Metadata      []byte
	Block         int64
	Confirmations int
	Timestamp     time.Time
}

// Client is the minimal surface the anchoring service needs.
type Client interface {
	Submit(ctx context.Context, metadata []byte) (txID string, err error)
	Query(ctx context.Context, txID string) (*Record, error)
}

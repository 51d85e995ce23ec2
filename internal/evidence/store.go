package evidence

import (
	"context"

	pkgerrors "aegis/pkg/domain-errors"
)

// ErrProofNotFound keeps store-level 404s consistent across implementations.
var ErrProofNotFound = pkgerrors.New(pkgerrors.CodeNotFound, "proof not found")

// ProofStore persists anchored proofs. The interface is append-only by
// construction: there is no update or delete.
type ProofStore interface {
	Append(ctx context.Context, proof Proof) error
	FindByTxID(ctx context.Context, txID string) (Proof, error)
	ListByCaseRef(ctx context.Context, caseRef string) ([]Proof, error)
}

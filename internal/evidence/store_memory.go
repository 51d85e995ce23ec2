package evidence

import (
	"context"
	"sync"
)

// InMemoryProofStore backs tests and local development.
type InMemoryProofStore struct {
	mu     sync.RWMutex
	byTx   map[string]Proof
	byCase map[string][]Proof
}

func NewInMemoryProofStore() *InMemoryProofStore {
	return &InMemoryProofStore{
		byTx:   make(map[string]Proof),
		byCase: make(map[string][]Proof),
	}
}

func (s *InMemoryProofStore) Append(_ context.Context, proof Proof) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byTx[proof.LedgerTxID]; exists {
		// Proofs are immutable; a second append for the same tx is dropped.
		return nil
	}
	s.byTx[proof.LedgerTxID] = proof
	s.byCase[proof.SourceDocumentRef] = append(s.byCase[proof.SourceDocumentRef], proof)
	return nil
}

func (s *InMemoryProofStore) FindByTxID(_ context.Context, txID string) (Proof, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	proof, ok := s.byTx[txID]
	if !ok {
		return Proof{}, ErrProofNotFound
	}
	return proof, nil
}

func (s *InMemoryProofStore) ListByCaseRef(_ context.Context, caseRef string) ([]Proof, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Proof{}, s.byCase[caseRef]...), nil
}

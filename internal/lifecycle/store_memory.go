package lifecycle

import (
	"context"
	"sort"
	"sync"
	"time"

	"aegis/internal/lifecycle/parser"
	"aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
)

// InMemoryAuthorizationStore is the test and single-node implementation.
type InMemoryAuthorizationStore struct {
	mu     sync.RWMutex
	grants map[domain.GrantID]Authorization
}

func NewInMemoryAuthorizationStore() *InMemoryAuthorizationStore {
	return &InMemoryAuthorizationStore{grants: make(map[domain.GrantID]Authorization)}
}

func (s *InMemoryAuthorizationStore) Create(_ context.Context, auth Authorization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.grants[auth.ID]; exists {
		return dErrors.New(dErrors.CodeConflict, "authorization already exists")
	}
	s.grants[auth.ID] = auth
	return nil
}

func (s *InMemoryAuthorizationStore) FindActive(_ context.Context, userID domain.UserID, counterpartyID domain.CounterpartyID, now time.Time) (Authorization, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, auth := range s.grants {
		if auth.UserID == userID && auth.Covers(counterpartyID, now) {
			return auth, true, nil
		}
	}
	return Authorization{}, false, nil
}

func (s *InMemoryAuthorizationStore) ListForUser(_ context.Context, userID domain.UserID) ([]Authorization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Authorization
	for _, auth := range s.grants {
		if auth.UserID == userID {
			out = append(out, auth)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// InMemoryMessageStore guards the status field with a single mutex, which
// gives the same atomicity the SQL implementation gets from conditional
// UPDATEs.
type InMemoryMessageStore struct {
	mu       sync.RWMutex
	messages map[domain.MessageID]Message
}

func NewInMemoryMessageStore() *InMemoryMessageStore {
	return &InMemoryMessageStore{messages: make(map[domain.MessageID]Message)}
}

func (s *InMemoryMessageStore) Create(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.messages[msg.ID]; exists {
		return dErrors.New(dErrors.CodeConflict, "message already exists")
	}
	s.messages[msg.ID] = msg
	return nil
}

func (s *InMemoryMessageStore) Get(_ context.Context, id domain.MessageID) (Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[id]
	if !ok {
		return Message{}, dErrors.New(dErrors.CodeNotFound, "message not found")
	}
	return msg, nil
}

func (s *InMemoryMessageStore) TransitionStatus(_ context.Context, id domain.MessageID, from, to Status, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return false, dErrors.New(dErrors.CodeNotFound, "message not found")
	}
	if msg.Status != from {
		return false, nil
	}
	msg.Status = to
	msg.UpdatedAt = at
	if to == StatusSent {
		sentAt := at
		msg.SentAt = &sentAt
	}
	s.messages[id] = msg
	return true, nil
}

func (s *InMemoryMessageStore) MarkResponded(_ context.Context, id domain.MessageID, result parser.Result, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return false, dErrors.New(dErrors.CodeNotFound, "message not found")
	}
	if !CanTransition(msg.Status, StatusResponded) {
		return false, nil
	}
	respondedAt := at
	msg.Status = StatusResponded
	msg.RespondedAt = &respondedAt
	msg.ParsingResult = &result
	msg.UpdatedAt = at
	s.messages[id] = msg
	return true, nil
}

func (s *InMemoryMessageStore) FindByCorrelationKey(_ context.Context, key string) (Message, bool, error) {
	if key == "" {
		return Message{}, false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, msg := range s.messages {
		if msg.CorrelationKey == key {
			return msg, true, nil
		}
	}
	return Message{}, false, nil
}

func (s *InMemoryMessageStore) LatestSentForCounterparty(_ context.Context, counterpartyID domain.CounterpartyID) (Message, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best Message
	found := false
	for _, msg := range s.messages {
		if msg.CounterpartyID != counterpartyID || msg.Direction != DirectionOutbound {
			continue
		}
		if msg.Status != StatusSent && msg.Status != StatusDelivered {
			continue
		}
		if msg.SentAt == nil {
			continue
		}
		if !found || msg.SentAt.After(*best.SentAt) {
			best = msg
			found = true
		}
	}
	return best, found, nil
}

func (s *InMemoryMessageStore) ListForUser(_ context.Context, userID domain.UserID) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Message
	for _, msg := range s.messages {
		if msg.UserID == userID {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryMessageStore) StatusCounts(_ context.Context, counterpartyID domain.CounterpartyID) (map[Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[Status]int)
	for _, msg := range s.messages {
		if msg.CounterpartyID == counterpartyID && msg.Direction == DirectionOutbound {
			counts[msg.Status]++
		}
	}
	return counts, nil
}

// InMemoryInboundStore records received messages for tests and dev mode.
type InMemoryInboundStore struct {
	mu      sync.RWMutex
	records []InboundRecord
}

func NewInMemoryInboundStore() *InMemoryInboundStore {
	return &InMemoryInboundStore{}
}

func (s *InMemoryInboundStore) Create(_ context.Context, rec InboundRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *InMemoryInboundStore) ListForReview(_ context.Context) ([]InboundRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []InboundRecord
	for _, rec := range s.records {
		if rec.RequiresHumanReview || rec.CorrelationMethod == "none" {
			out = append(out, rec)
		}
	}
	return out, nil
}

package learning

import (
	"context"
	"sync"

	"aegis/pkg/domain"
)

// InMemoryEventStore backs tests and local development. Dedup on event ID
// mirrors the unique-key constraint of the SQL store.
type InMemoryEventStore struct {
	mu     sync.RWMutex
	seen   map[domain.EventID]bool
	events map[domain.CounterpartyID][]Event
}

func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{
		seen:   make(map[domain.EventID]bool),
		events: make(map[domain.CounterpartyID][]Event),
	}
}

func (s *InMemoryEventStore) Append(_ context.Context, event Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[event.ID] {
		return false, nil
	}
	s.seen[event.ID] = true
	s.events[event.CounterpartyID] = append(s.events[event.CounterpartyID], event)
	return true, nil
}

func (s *InMemoryEventStore) ListByCounterparty(_ context.Context, counterpartyID domain.CounterpartyID) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event{}, s.events[counterpartyID]...), nil
}

func (s *InMemoryEventStore) CountByCounterparty(_ context.Context, counterpartyID domain.CounterpartyID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events[counterpartyID]), nil
}

// InMemorySnapshotCache is the cache double for tests and for deployments
// without Redis.
type InMemorySnapshotCache struct {
	mu    sync.RWMutex
	stats map[domain.CounterpartyID][]StrategyStat
	intel map[domain.CounterpartyID]Intelligence
}

func NewInMemorySnapshotCache() *InMemorySnapshotCache {
	return &InMemorySnapshotCache{
		stats: make(map[domain.CounterpartyID][]StrategyStat),
		intel: make(map[domain.CounterpartyID]Intelligence),
	}
}

func (c *InMemorySnapshotCache) SaveStats(_ context.Context, counterpartyID domain.CounterpartyID, stats []StrategyStat) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats[counterpartyID] = append([]StrategyStat{}, stats...)
	return nil
}

func (c *InMemorySnapshotCache) GetStats(_ context.Context, counterpartyID domain.CounterpartyID) ([]StrategyStat, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	stats, ok := c.stats[counterpartyID]
	if !ok {
		return nil, false, nil
	}
	return append([]StrategyStat{}, stats...), true, nil
}

func (c *InMemorySnapshotCache) SaveIntelligence(_ context.Context, intel Intelligence) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.intel[intel.CounterpartyID] = intel
	return nil
}

func (c *InMemorySnapshotCache) GetIntelligence(_ context.Context, counterpartyID domain.CounterpartyID) (Intelligence, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	intel, ok := c.intel[counterpartyID]
	return intel, ok, nil
}

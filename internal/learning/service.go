package learning

import (
	"context"
	"log/slog"
	"time"

	"aegis/internal/learning/metrics"
	"aegis/pkg/domain"
)

// TriggerSink receives the CollectiveActionTriggered signal when a
// counterparty crosses the class-action boundary. Implementations forward
// it to external legal workflows; failures there must not fail the event
// write, so the sink is fire-and-log.
type TriggerSink interface {
	CollectiveActionTriggered(ctx context.Context, intel Intelligence)
}

// Service is the strategy learning engine.
type Service struct {
	store      EventStore
	cache      SnapshotCache
	thresholds Thresholds
	sinks      []TriggerSink
	logger     *slog.Logger
	metrics    *metrics.Metrics
	clock      func() time.Time
}

// ServiceOption configures the Service.
type ServiceOption func(*Service)

// WithClock overrides the time source for tests.
func WithClock(clock func() time.Time) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithTriggerSinks registers collective-action signal receivers.
func WithTriggerSinks(sinks ...TriggerSink) ServiceOption {
	return func(s *Service) {
		s.sinks = append(s.sinks, sinks...)
	}
}

func NewService(store EventStore, cache SnapshotCache, thresholds Thresholds, logger *slog.Logger, m *metrics.Metrics, opts ...ServiceOption) *Service {
	s := &Service{
		store:      store,
		cache:      cache,
		thresholds: thresholds,
		logger:     logger,
		metrics:    m,
		clock:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// RecordEvent appends an outcome event. A duplicate event ID is a no-op,
// not an error. Once the counterparty's history reaches the pattern
// threshold, strategy statistics are recomputed synchronously; collective
// intelligence is recomputed on every new event.
func (s *Service) RecordEvent(ctx context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.clock().UTC()
	}

	inserted, err := s.store.Append(ctx, event)
	if err != nil {
		return err
	}
	if !inserted {
		s.metrics.ObserveDuplicate()
		s.logger.DebugContext(ctx, "duplicate learning event absorbed", "event_id", event.ID.String())
		return nil
	}
	s.metrics.ObserveEvent(event.OutcomeSuccess)

	return s.recompute(ctx, event.CounterpartyID)
}

// recompute refreshes derived state from the full event log. It may read a
// snapshot slightly behind concurrent writers; that staleness is acceptable
// for advisory statistics and corrects itself on the next event.
func (s *Service) recompute(ctx context.Context, counterpartyID domain.CounterpartyID) error {
	start := s.clock()
	events, err := s.store.ListByCounterparty(ctx, counterpartyID)
	if err != nil {
		return err
	}

	if len(events) >= s.thresholds.PatternThreshold {
		stats := ComputeStats(counterpartyID, events)
		if err := s.cache.SaveStats(ctx, counterpartyID, stats); err != nil {
			s.logger.WarnContext(ctx, "stats snapshot save failed",
				"counterparty_id", counterpartyID.String(), "error", err)
		}
	}

	previous, hadPrevious, err := s.cache.GetIntelligence(ctx, counterpartyID)
	if err != nil {
		s.logger.WarnContext(ctx, "intelligence snapshot read failed",
			"counterparty_id", counterpartyID.String(), "error", err)
	}

	intel := ComputeIntelligence(counterpartyID, events, s.thresholds, s.clock())
	if err := s.cache.SaveIntelligence(ctx, intel); err != nil {
		s.logger.WarnContext(ctx, "intelligence snapshot save failed",
			"counterparty_id", counterpartyID.String(), "error", err)
	}

	if intel.ClassActionEligible && (!hadPrevious || !previous.ClassActionEligible) {
		s.metrics.ObserveCollectiveTrigger()
		s.logger.InfoContext(ctx, "collective action boundary crossed",
			"counterparty_id", counterpartyID.String(),
			"affected_users", intel.AffectedUserCount,
			"total_harm", intel.TotalHarmAmount,
		)
		for _, sink := range s.sinks {
			sink.CollectiveActionTriggered(ctx, intel)
		}
	}

	s.metrics.ObserveRecompute(s.clock().Sub(start).Seconds())
	return nil
}

// GetOptimalStrategy returns the best learned strategy for a counterparty.
// With insufficient history it returns the default strategy flagged
// unvalidated, so callers can always draft; cold start never fails.
func (s *Service) GetOptimalStrategy(ctx context.Context, counterpartyID domain.CounterpartyID) (Recommendation, error) {
	stats, ok, err := s.cache.GetStats(ctx, counterpartyID)
	if err != nil {
		s.logger.WarnContext(ctx, "stats snapshot read failed, replaying log",
			"counterparty_id", counterpartyID.String(), "error", err)
		ok = false
	}
	if !ok {
		events, err := s.store.ListByCounterparty(ctx, counterpartyID)
		if err != nil {
			return Recommendation{}, err
		}
		if len(events) >= s.thresholds.PatternThreshold {
			stats = ComputeStats(counterpartyID, events)
			if err := s.cache.SaveStats(ctx, counterpartyID, stats); err != nil {
				s.logger.WarnContext(ctx, "stats snapshot save failed",
					"counterparty_id", counterpartyID.String(), "error", err)
			}
		}
	}

	// Stats are ordered best-first; take the first with enough samples.
	for _, stat := range stats {
		if stat.SampleCount >= s.thresholds.MinSampleConfidence {
			return Recommendation{
				Strategy:            stat.Strategy,
				ExpectedSuccessRate: stat.SuccessRate,
				SampleCount:         stat.SampleCount,
				Unvalidated:         false,
			}, nil
		}
	}

	return DefaultRecommendation(), nil
}

// DefaultRecommendation is the cold-start fallback with a deliberately
// conservative expected success rate.
func DefaultRecommendation() Recommendation {
	return Recommendation{
		Strategy:            domain.StrategyDefault,
		ExpectedSuccessRate: 0.2,
		SampleCount:         0,
		Unvalidated:         true,
	}
}

// GetStats returns the current per-strategy statistics, recomputing from
// the log on a cache miss.
func (s *Service) GetStats(ctx context.Context, counterpartyID domain.CounterpartyID) ([]StrategyStat, error) {
	stats, ok, err := s.cache.GetStats(ctx, counterpartyID)
	if err == nil && ok {
		return stats, nil
	}
	events, err := s.store.ListByCounterparty(ctx, counterpartyID)
	if err != nil {
		return nil, err
	}
	return ComputeStats(counterpartyID, events), nil
}

// GetIntelligence returns the aggregate record for a counterparty,
// recomputing from the log on a cache miss.
func (s *Service) GetIntelligence(ctx context.Context, counterpartyID domain.CounterpartyID) (Intelligence, error) {
	intel, ok, err := s.cache.GetIntelligence(ctx, counterpartyID)
	if err == nil && ok {
		return intel, nil
	}
	events, err := s.store.ListByCounterparty(ctx, counterpartyID)
	if err != nil {
		return Intelligence{}, err
	}
	return ComputeIntelligence(counterpartyID, events, s.thresholds, s.clock()), nil
}

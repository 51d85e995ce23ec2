package learning

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
)

type captureSink struct {
	triggered []Intelligence
}

func (s *captureSink) CollectiveActionTriggered(_ context.Context, intel Intelligence) {
	s.triggered = append(s.triggered, intel)
}

func newTestService(t *testing.T, thresholds Thresholds, sinks ...TriggerSink) *Service {
	t.Helper()
	return NewService(
		NewInMemoryEventStore(),
		NewInMemorySnapshotCache(),
		thresholds,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		nil,
		WithTriggerSinks(sinks...),
	)
}

func TestRecordEvent_RejectsInvalid(t *testing.T) {
	svc := newTestService(t, DefaultThresholds())

	err := svc.RecordEvent(context.Background(), Event{})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

// A duplicate event ID is absorbed silently and leaves derived state
// exactly as a single insert would.
func TestRecordEvent_DuplicateAbsorbed(t *testing.T) {
	svc := newTestService(t, DefaultThresholds())
	ctx := context.Background()
	counterpartyID := domain.NewCounterpartyID()

	var events []Event
	for i := 0; i < 12; i++ {
		ev := makeEvent(counterpartyID, domain.NewUserID(), domain.StrategyFeeChallenge, i < 6, 0)
		events = append(events, ev)
		require.NoError(t, svc.RecordEvent(ctx, ev))
	}

	once, err := svc.GetStats(ctx, counterpartyID)
	require.NoError(t, err)

	// Replay every event a second time with the same IDs.
	for _, ev := range events {
		require.NoError(t, svc.RecordEvent(ctx, ev))
	}

	twice, err := svc.GetStats(ctx, counterpartyID)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
	require.Len(t, twice, 1)
	assert.Equal(t, 12, twice[0].SampleCount)
	assert.InDelta(t, 0.5, twice[0].SuccessRate, 1e-9)
}

// With no history the engine returns the default strategy, flagged so the
// caller can tell it apart from a learned one. Cold start never errors.
func TestGetOptimalStrategy_ColdStartDefault(t *testing.T) {
	svc := newTestService(t, DefaultThresholds())

	rec, err := svc.GetOptimalStrategy(context.Background(), domain.NewCounterpartyID())
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyDefault, rec.Strategy)
	assert.True(t, rec.Unvalidated)
	assert.Equal(t, 0, rec.SampleCount)
	assert.InDelta(t, 0.2, rec.ExpectedSuccessRate, 1e-9)
}

// A strategy below the confidence floor is never recommended, even with a
// perfect success rate.
func TestGetOptimalStrategy_ConfidenceFloor(t *testing.T) {
	thresholds := DefaultThresholds()
	thresholds.PatternThreshold = 5
	svc := newTestService(t, thresholds)
	ctx := context.Background()
	counterpartyID := domain.NewCounterpartyID()

	// Ten mediocre samples of one strategy, three perfect of another.
	for i := 0; i < 10; i++ {
		require.NoError(t, svc.RecordEvent(ctx, makeEvent(counterpartyID, domain.NewUserID(), domain.StrategyFeeChallenge, i < 4, 0)))
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, svc.RecordEvent(ctx, makeEvent(counterpartyID, domain.NewUserID(), domain.StrategyDataAccess, true, 0)))
	}

	rec, err := svc.GetOptimalStrategy(ctx, counterpartyID)
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyFeeChallenge, rec.Strategy)
	assert.False(t, rec.Unvalidated)
	assert.Equal(t, 10, rec.SampleCount)
}

// Crossing the class-action boundary fires the trigger exactly once, not on
// every later event.
func TestRecordEvent_TriggersOnEligibilityFlip(t *testing.T) {
	thresholds := Thresholds{
		PatternThreshold:     10,
		MinSampleConfidence:  5,
		ClassActionUsers:     50,
		ClassActionSuccesses: 25,
		ClassActionHarmFloor: 1000,
	}
	sink := &captureSink{}
	svc := newTestService(t, thresholds, sink)
	ctx := context.Background()
	counterpartyID := domain.NewCounterpartyID()

	for i := 0; i < 60; i++ {
		require.NoError(t, svc.RecordEvent(ctx, makeEvent(counterpartyID, domain.NewUserID(), domain.StrategyFeeChallenge, true, 100)))
	}
	require.Len(t, sink.triggered, 1)
	assert.True(t, sink.triggered[0].ClassActionEligible)
	assert.GreaterOrEqual(t, sink.triggered[0].AffectedUserCount, 50)

	// Further events keep eligibility true without re-triggering.
	for i := 0; i < 5; i++ {
		require.NoError(t, svc.RecordEvent(ctx, makeEvent(counterpartyID, domain.NewUserID(), domain.StrategyFeeChallenge, true, 100)))
	}
	assert.Len(t, sink.triggered, 1)
}

func TestGetIntelligence_RecomputesOnCacheMiss(t *testing.T) {
	store := NewInMemoryEventStore()
	svc := NewService(store, NewInMemorySnapshotCache(), DefaultThresholds(), slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	ctx := context.Background()
	counterpartyID := domain.NewCounterpartyID()

	// Events written straight to the store, bypassing the service, as a
	// rebuild-from-log scenario.
	for i := 0; i < 12; i++ {
		_, err := store.Append(ctx, makeEvent(counterpartyID, domain.NewUserID(), domain.StrategyFeeChallenge, i < 6, 50))
		require.NoError(t, err)
	}

	intel, err := svc.GetIntelligence(ctx, counterpartyID)
	require.NoError(t, err)
	assert.Equal(t, 12, intel.TotalEvents)
	assert.Equal(t, 6, intel.SuccessfulEvents)
	assert.Equal(t, StrengthModerate, intel.EvidenceStrength)
}

func TestWorker_DrainsQueue(t *testing.T) {
	svc := newTestService(t, DefaultThresholds())
	queue := NewQueue(16)
	worker := NewWorker(queue, svc, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	counterpartyID := domain.NewCounterpartyID()
	ev := makeEvent(counterpartyID, domain.NewUserID(), domain.StrategyFeeChallenge, true, 0)
	require.NoError(t, queue.Enqueue(ev))

	require.Eventually(t, func() bool {
		intel, err := svc.GetIntelligence(context.Background(), counterpartyID)
		return err == nil && intel.TotalEvents == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

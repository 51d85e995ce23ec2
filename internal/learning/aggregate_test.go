package learning

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/pkg/domain"
)

func makeEvent(counterpartyID domain.CounterpartyID, userID domain.UserID, strategy domain.Strategy, success bool, recovery float64) Event {
	return Event{
		ID:             domain.NewEventID(),
		CounterpartyID: counterpartyID,
		UserID:         userID,
		Strategy:       strategy,
		OutcomeSuccess: success,
		RecoveryAmount: recovery,
		Timestamp:      time.Now().UTC(),
	}
}

// Twelve events under one strategy with six successes must report a 0.5
// success rate, and twelve samples grade as moderate.
func TestComputeStats_SuccessRate(t *testing.T) {
	counterpartyID := domain.NewCounterpartyID()
	userID := domain.NewUserID()

	var events []Event
	for i := 0; i < 12; i++ {
		events = append(events, makeEvent(counterpartyID, userID, domain.StrategyFeeChallenge, i < 6, 0))
	}

	stats := ComputeStats(counterpartyID, events)
	require.Len(t, stats, 1)
	assert.Equal(t, domain.StrategyFeeChallenge, stats[0].Strategy)
	assert.Equal(t, 12, stats[0].SampleCount)
	assert.InDelta(t, 0.5, stats[0].SuccessRate, 1e-9)

	assert.Equal(t, StrengthModerate, ClassifyEvidenceStrength(12, 0.5))
}

func TestComputeStats_OrderedBestFirst(t *testing.T) {
	counterpartyID := domain.NewCounterpartyID()
	userID := domain.NewUserID()

	var events []Event
	for i := 0; i < 10; i++ {
		events = append(events, makeEvent(counterpartyID, userID, domain.StrategyFeeChallenge, i < 8, 0))
	}
	for i := 0; i < 10; i++ {
		events = append(events, makeEvent(counterpartyID, userID, domain.StrategyDataAccess, i < 3, 0))
	}

	stats := ComputeStats(counterpartyID, events)
	require.Len(t, stats, 2)
	assert.Equal(t, domain.StrategyFeeChallenge, stats[0].Strategy)
	assert.Equal(t, domain.StrategyDataAccess, stats[1].Strategy)
}

// Replaying the same event set in any order must yield identical derived
// state. This is the component's core contract.
func TestReplay_OrderIndependent(t *testing.T) {
	counterpartyID := domain.NewCounterpartyID()
	strategies := []domain.Strategy{
		domain.StrategyFeeChallenge,
		domain.StrategyDataAccess,
		domain.StrategyCompoundInterest,
	}

	rng := rand.New(rand.NewSource(42))
	var events []Event
	for i := 0; i < 60; i++ {
		ev := makeEvent(counterpartyID, domain.NewUserID(), strategies[i%3], rng.Intn(2) == 0, float64(rng.Intn(5000)))
		ev.ResponseTimeHours = float64(rng.Intn(96))
		ev.ViolationType = []string{"", "excessive_retention", "missing_consent"}[rng.Intn(3)]
		events = append(events, ev)
	}

	baseStats := ComputeStats(counterpartyID, events)
	now := time.Now().UTC()
	baseIntel := ComputeIntelligence(counterpartyID, events, DefaultThresholds(), now)

	for i := 0; i < 5; i++ {
		shuffled := make([]Event, len(events))
		copy(shuffled, events)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		assert.Equal(t, baseStats, ComputeStats(counterpartyID, shuffled))
		assert.Equal(t, baseIntel, ComputeIntelligence(counterpartyID, shuffled, DefaultThresholds(), now))
	}
}

// The grading table is explicit policy; every branch gets pinned.
func TestClassifyEvidenceStrength_Table(t *testing.T) {
	tests := []struct {
		name        string
		samples     int
		successRate float64
		want        EvidenceStrength
	}{
		{"under ten samples", 9, 1.0, StrengthWeak},
		{"mid samples low rate", 20, 0.2, StrengthWeak},
		{"mid samples fair rate", 20, 0.3, StrengthModerate},
		{"forty-nine samples", 49, 0.9, StrengthModerate},
		{"fifty samples strong", 50, 0.5, StrengthStrong},
		{"fifty samples below half", 50, 0.4, StrengthModerate},
		{"hundred samples conclusive", 100, 0.7, StrengthConclusive},
		{"hundred samples not conclusive", 100, 0.6, StrengthStrong},
		{"hundred samples below half", 100, 0.3, StrengthModerate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyEvidenceStrength(tt.samples, tt.successRate))
		})
	}
}

// Sixty users and thirty successes above the harm floor are eligible;
// dropping successes to ten flips eligibility off even with the same users.
func TestComputeIntelligence_ClassActionBoundary(t *testing.T) {
	counterpartyID := domain.NewCounterpartyID()
	thresholds := DefaultThresholds()
	now := time.Now().UTC()

	build := func(successes int) []Event {
		var events []Event
		for i := 0; i < 60; i++ {
			events = append(events, makeEvent(counterpartyID, domain.NewUserID(), domain.StrategyFeeChallenge, i < successes, 2000))
		}
		return events
	}

	eligible := ComputeIntelligence(counterpartyID, build(30), thresholds, now)
	assert.Equal(t, 60, eligible.AffectedUserCount)
	assert.Equal(t, 30, eligible.SuccessfulEvents)
	assert.InDelta(t, 120000, eligible.TotalHarmAmount, 1e-9)
	assert.True(t, eligible.ClassActionEligible)

	notEnough := ComputeIntelligence(counterpartyID, build(10), thresholds, now)
	assert.Equal(t, 60, notEnough.AffectedUserCount)
	assert.False(t, notEnough.ClassActionEligible)
}

func TestComputeIntelligence_HarmFloorGates(t *testing.T) {
	counterpartyID := domain.NewCounterpartyID()
	thresholds := DefaultThresholds()

	var events []Event
	for i := 0; i < 60; i++ {
		// Plenty of users and successes, negligible recovery.
		events = append(events, makeEvent(counterpartyID, domain.NewUserID(), domain.StrategyFeeChallenge, true, 1))
	}

	intel := ComputeIntelligence(counterpartyID, events, thresholds, time.Now())
	assert.False(t, intel.ClassActionEligible)
}

func TestComputeIntelligence_Empty(t *testing.T) {
	intel := ComputeIntelligence(domain.NewCounterpartyID(), nil, DefaultThresholds(), time.Now())
	assert.Equal(t, 0, intel.TotalEvents)
	assert.Equal(t, StrengthWeak, intel.EvidenceStrength)
	assert.False(t, intel.ClassActionEligible)
	assert.Empty(t, intel.WinningStrategies)
}

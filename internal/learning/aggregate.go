package learning

import (
	"sort"
	"time"

	"aegis/pkg/domain"
)

// The aggregation functions are pure and order-independent: replaying the
// same event set in any order yields identical output. That property is the
// component's core contract and is what lets derived state be rebuilt from
// an empty cache at any time.

// ComputeStats derives per-strategy effectiveness from the full event set of
// one counterparty.
func ComputeStats(counterpartyID domain.CounterpartyID, events []Event) []StrategyStat {
	type acc struct {
		samples       int
		successes     int
		responseHours float64
		responded     int
		admissions    map[string]int
	}
	byStrategy := make(map[domain.Strategy]*acc)
	for _, event := range events {
		a := byStrategy[event.Strategy]
		if a == nil {
			a = &acc{admissions: make(map[string]int)}
			byStrategy[event.Strategy] = a
		}
		a.samples++
		if event.OutcomeSuccess {
			a.successes++
			if event.ViolationType != "" {
				a.admissions[event.ViolationType]++
			}
		}
		if event.ResponseTimeHours > 0 {
			a.responded++
			a.responseHours += event.ResponseTimeHours
		}
	}

	stats := make([]StrategyStat, 0, len(byStrategy))
	for strategy, a := range byStrategy {
		stat := StrategyStat{
			CounterpartyID:    counterpartyID,
			Strategy:          strategy,
			SuccessRate:       float64(a.successes) / float64(a.samples),
			SampleCount:       a.samples,
			DominantAdmission: dominantKey(a.admissions),
		}
		if a.responded > 0 {
			stat.AvgResponseTimeHours = a.responseHours / float64(a.responded)
		}
		stats = append(stats, stat)
	}

	// Deterministic order: best first, ties broken by sample count then name.
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].SuccessRate != stats[j].SuccessRate {
			return stats[i].SuccessRate > stats[j].SuccessRate
		}
		if stats[i].SampleCount != stats[j].SampleCount {
			return stats[i].SampleCount > stats[j].SampleCount
		}
		return stats[i].Strategy < stats[j].Strategy
	})
	return stats
}

// dominantKey returns the most frequent key, ties broken lexicographically
// so replay stays deterministic.
func dominantKey(counts map[string]int) string {
	best, bestCount := "", 0
	for key, count := range counts {
		if count > bestCount || (count == bestCount && (best == "" || key < best)) {
			best, bestCount = key, count
		}
	}
	return best
}

// ComputeIntelligence derives the aggregate record for one counterparty.
func ComputeIntelligence(counterpartyID domain.CounterpartyID, events []Event, thresholds Thresholds, now time.Time) Intelligence {
	users := make(map[domain.UserID]bool)
	var harm float64
	successes := 0
	for _, event := range events {
		users[event.UserID] = true
		harm += event.RecoveryAmount
		if event.OutcomeSuccess {
			successes++
		}
	}

	total := len(events)
	successRate := 0.0
	if total > 0 {
		successRate = float64(successes) / float64(total)
	}

	var winning []domain.Strategy
	for _, stat := range ComputeStats(counterpartyID, events) {
		if stat.SuccessRate > 0 {
			winning = append(winning, stat.Strategy)
		}
	}

	return Intelligence{
		CounterpartyID:    counterpartyID,
		AffectedUserCount: len(users),
		TotalHarmAmount:   harm,
		SuccessfulEvents:  successes,
		TotalEvents:       total,
		EvidenceStrength:  ClassifyEvidenceStrength(total, successRate),
		ClassActionEligible: len(users) >= thresholds.ClassActionUsers &&
			harm >= thresholds.ClassActionHarmFloor &&
			successes >= thresholds.ClassActionSuccesses,
		WinningStrategies: winning,
		UpdatedAt:         now.UTC(),
	}
}

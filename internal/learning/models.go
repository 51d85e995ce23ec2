// Package learning records outcome events from correspondence and derives
// which strategies work against which counterparties. The append-only event
// log is the sole source of truth: every derived statistic must be
// reconstructable by replaying it from empty state.
package learning

import (
	"time"

	"aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
)

// Event is one recorded outcome. Events are append-only and deduplicated on
// ID; they are never updated or deleted.
type Event struct {
	ID             domain.EventID
	CounterpartyID domain.CounterpartyID
	UserID         domain.UserID
	Strategy       domain.Strategy
	OutcomeSuccess bool
	// ResponseTimeHours is zero when no response was observed.
	ResponseTimeHours float64
	AdmissionText     string
	RecoveryAmount    float64
	ViolationType     string
	Timestamp         time.Time
}

// Validate enforces the minimal invariants on an incoming event.
func (e Event) Validate() error {
	if e.ID.IsZero() {
		return dErrors.New(dErrors.CodeInvalidInput, "event id is required")
	}
	if e.CounterpartyID.IsZero() {
		return dErrors.New(dErrors.CodeInvalidInput, "counterparty id is required")
	}
	if e.UserID.IsZero() {
		return dErrors.New(dErrors.CodeInvalidInput, "user id is required")
	}
	if !e.Strategy.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "unknown strategy")
	}
	return nil
}

// StrategyStat is the derived effectiveness of one strategy against one
// counterparty. Stale copies may circulate; the log replay is authoritative.
type StrategyStat struct {
	CounterpartyID       domain.CounterpartyID `json:"counterparty_id"`
	Strategy             domain.Strategy       `json:"strategy"`
	SuccessRate          float64               `json:"success_rate"`
	SampleCount          int                   `json:"sample_count"`
	AvgResponseTimeHours float64               `json:"avg_response_time_hours"`
	DominantAdmission    string                `json:"dominant_admission_type,omitempty"`
}

// Recommendation is what callers get from GetOptimalStrategy. Unvalidated
// distinguishes the hardcoded cold-start default from a learned strategy.
type Recommendation struct {
	Strategy            domain.Strategy `json:"strategy"`
	ExpectedSuccessRate float64         `json:"expected_success_rate"`
	SampleCount         int             `json:"sample_count"`
	Unvalidated         bool            `json:"unvalidated"`
}

// EvidenceStrength grades how defensible the aggregate record against a
// counterparty is.
type EvidenceStrength string

const (
	StrengthWeak       EvidenceStrength = "weak"
	StrengthModerate   EvidenceStrength = "moderate"
	StrengthStrong     EvidenceStrength = "strong"
	StrengthConclusive EvidenceStrength = "conclusive"
)

// ClassifyEvidenceStrength is the explicit grading policy, a pure function
// of sample count and success rate.
func ClassifyEvidenceStrength(sampleCount int, successRate float64) EvidenceStrength {
	switch {
	case sampleCount < 10:
		return StrengthWeak
	case sampleCount < 50:
		if successRate < 0.3 {
			return StrengthWeak
		}
		return StrengthModerate
	case sampleCount >= 100 && successRate >= 0.7:
		return StrengthConclusive
	case successRate >= 0.5:
		return StrengthStrong
	default:
		return StrengthModerate
	}
}

// Intelligence is the aggregate record across all users affected by one
// counterparty. One record per counterparty, recomputed on every new event.
type Intelligence struct {
	CounterpartyID      domain.CounterpartyID `json:"counterparty_id"`
	AffectedUserCount   int                   `json:"affected_user_count"`
	TotalHarmAmount     float64               `json:"total_harm_amount"`
	SuccessfulEvents    int                   `json:"successful_events"`
	TotalEvents         int                   `json:"total_events"`
	EvidenceStrength    EvidenceStrength      `json:"evidence_strength"`
	ClassActionEligible bool                  `json:"class_action_eligible"`
	WinningStrategies   []domain.Strategy     `json:"winning_strategies"`
	UpdatedAt           time.Time             `json:"updated_at"`
}

package learning

import "aegis/internal/platform/config"

// Thresholds are the tuning knobs of the engine, injected at construction.
type Thresholds struct {
	// PatternThreshold is the per-counterparty event count at which strategy
	// statistics start being maintained.
	PatternThreshold int
	// MinSampleConfidence is the minimum sample count for a learned strategy
	// to be recommended over the default.
	MinSampleConfidence int
	// ClassActionUsers, ClassActionSuccesses, and ClassActionHarmFloor
	// together gate collective-action eligibility.
	ClassActionUsers     int
	ClassActionSuccesses int
	ClassActionHarmFloor float64
}

// DefaultThresholds returns the production defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		PatternThreshold:     10,
		MinSampleConfidence:  5,
		ClassActionUsers:     50,
		ClassActionSuccesses: 25,
		ClassActionHarmFloor: 100000,
	}
}

// ThresholdsFromConfig maps the env-backed config section onto Thresholds.
func ThresholdsFromConfig(cfg config.LearningConfig) Thresholds {
	t := Thresholds{
		PatternThreshold:     cfg.PatternThreshold,
		MinSampleConfidence:  cfg.MinSampleConfidence,
		ClassActionUsers:     cfg.ClassActionUsers,
		ClassActionSuccesses: cfg.ClassActionSuccesses,
		ClassActionHarmFloor: cfg.ClassActionHarmFloor,
	}
	d := DefaultThresholds()
	if t.PatternThreshold <= 0 {
		t.PatternThreshold = d.PatternThreshold
	}
	if t.MinSampleConfidence <= 0 {
		t.MinSampleConfidence = d.MinSampleConfidence
	}
	if t.ClassActionUsers <= 0 {
		t.ClassActionUsers = d.ClassActionUsers
	}
	if t.ClassActionSuccesses <= 0 {
		t.ClassActionSuccesses = d.ClassActionSuccesses
	}
	if t.ClassActionHarmFloor <= 0 {
		t.ClassActionHarmFloor = d.ClassActionHarmFloor
	}
	return t
}

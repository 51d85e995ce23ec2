package domain

import dErrors "aegis/pkg/domain-errors"

// Strategy names a message-drafting approach tracked for effectiveness per
// counterparty. The set is closed so the learning engine aggregates over a
// known universe instead of free-form labels.
type Strategy string

const (
	// StrategyDefault is the cold-start fallback when no learned strategy
	// qualifies. It maps to the generic access-request template.
	StrategyDefault Strategy = "generic_access_request"

	StrategyFeeChallenge     Strategy = "fee_challenge"
	StrategyCompoundInterest Strategy = "compound_interest_challenge"
	StrategyDataAccess       Strategy = "data_access_demand"
	StrategyDeletionDemand   Strategy = "deletion_demand"
	StrategySettlementOffer  Strategy = "settlement_offer"
)

var validStrategies = map[Strategy]bool{
	StrategyDefault:          true,
	StrategyFeeChallenge:     true,
	StrategyCompoundInterest: true,
	StrategyDataAccess:       true,
	StrategyDeletionDemand:   true,
	StrategySettlementOffer:  true,
}

// ParseStrategy constructs a Strategy from external input.
func ParseStrategy(s string) (Strategy, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "strategy cannot be empty")
	}
	st := Strategy(s)
	if !validStrategies[st] {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown strategy: "+s)
	}
	return st, nil
}

// IsValid checks the strategy against the closed set.
func (s Strategy) IsValid() bool { return validStrategies[s] }

func (s Strategy) String() string { return string(s) }

package penalty

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// DEDUCTION AMOUNT - Resolution by group rule
// =============================================================================

// DeductionAmount computes the monetary penalty of a matched policy.
//
//	days     = hourlyRate * policy.DeductionInDays
//	absolute = policy.DeductionAmount
//
// Biggest and Smallest pick between the two; Absolute Amount and Deduction In
// Days pick one. Any other rule yields zero together with an error wrapping
// ErrUnknownDeductionRule, which callers report as a warning.
func DeductionAmount(rule payroll.DeductionRule, hourlyRate decimal.Decimal, policy payroll.PenaltyPolicy) (decimal.Decimal, error) {
	days := hourlyRate.Mul(policy.DeductionInDays)
	absolute := policy.DeductionAmount

	switch rule {
	case payroll.RuleBiggest:
		return decimal.Max(days, absolute), nil
	case payroll.RuleSmallest:
		return decimal.Min(days, absolute), nil
	case payroll.RuleAbsoluteAmount:
		return absolute, nil
	case payroll.RuleDeductionInDays:
		return days, nil
	}
	return decimal.Zero, fmt.Errorf("policy %s: rule %q: %w", policy.ID, rule, payroll.ErrUnknownDeductionRule)
}

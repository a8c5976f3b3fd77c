package reconcile

import (
	"time"

	"kasirshift/backend/internal/domain"
)

// ApplyTotals replaces every computed field of the shift from the breakdown.
// It never accumulates onto previous values.
func ApplyTotals(shift domain.CashierShift, breakdown domain.PaymentBreakdown, at time.Time) domain.CashierShift {
	shift.ExpectedCash = shift.OpeningBalance + breakdown.Amount(domain.MethodCash)
	shift.ExpectedCard = breakdown.Amount(domain.MethodCard)
	shift.ExpectedTransfer = breakdown.Amount(domain.MethodTransfer)
	shift.ExpectedQris = breakdown.Amount(domain.MethodQris)
	shift.ExpectedTotal = breakdown.SalesTotal

	shift.CashTransactions = breakdown.Count(domain.MethodCash)
	shift.CardTransactions = breakdown.Count(domain.MethodCard)
	shift.TransferTransactions = breakdown.Count(domain.MethodTransfer)
	shift.QrisTransactions = breakdown.Count(domain.MethodQris)

	shift.ExpectedOther = 0
	shift.OtherTransactions = 0
	shift.TotalTransactions = 0
	for method, total := range breakdown.ByMethod {
		shift.TotalTransactions += total.Count
		if !isNamedBucket(method) {
			shift.ExpectedOther += total.Amount
			shift.OtherTransactions += total.Count
		}
	}

	calculatedAt := at.UTC()
	shift.LastCalculatedAt = &calculatedAt
	return shift
}

// Calculate aggregates the linked orders and applies the result to the shift.
func Calculate(shift domain.CashierShift, linkage domain.LinkageResult, policy Policy, at time.Time) (domain.CashierShift, domain.PaymentBreakdown) {
	breakdown := Aggregate(linkage.Orders(), policy)
	return ApplyTotals(shift, breakdown, at), breakdown
}

// NonCashExpected is the part of the expected takings assumed to match without a count.
func NonCashExpected(shift domain.CashierShift) int64 {
	return shift.ExpectedCard + shift.ExpectedTransfer + shift.ExpectedQris + shift.ExpectedOther
}

func isNamedBucket(method string) bool {
	switch method {
	case domain.MethodCash, domain.MethodCard, domain.MethodTransfer, domain.MethodQris:
		return true
	default:
		return false
	}
}

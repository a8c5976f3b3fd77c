package reconcile

import (
	"time"

	"github.com/shopspring/decimal"

	"kasirshift/backend/internal/domain"
)

const (
	ClassificationBalanced = "balanced"
	ClassificationOver     = "over"
	ClassificationShort    = "short"

	SeverityNormal   = "normal"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Thresholds are absolute variance amounts in minor units.
type Thresholds struct {
	Warning  int64
	Critical int64
}

type ReportInput struct {
	Shift       domain.CashierShift
	Breakdown   domain.PaymentBreakdown
	Linkage     domain.LinkageResult
	CountedCash int64
	Thresholds  Thresholds
	GeneratedAt time.Time
}

func BuildVarianceReport(in ReportInput) domain.VarianceReport {
	shift := in.Shift
	variance := in.CountedCash - shift.ExpectedCash
	actualTotal := in.CountedCash + NonCashExpected(shift)

	orphans := append([]domain.UnassignableOrder{}, in.Linkage.Unassignable...)
	anomalies := append([]domain.Anomaly{}, in.Breakdown.Anomalies...)

	return domain.VarianceReport{
		ShiftID:            shift.ID,
		BusinessID:         shift.BusinessID,
		OutletID:           shift.OutletID,
		UserID:             shift.UserID,
		ShiftName:          shift.ShiftName,
		Status:             shift.Status,
		Preliminary:        shift.Status != domain.ShiftStatusClosed,
		OpenedAt:           shift.OpenedAt,
		ClosedAt:           shift.ClosedAt,
		ClosedBy:           shift.ClosedBy,
		OpeningBalance:     shift.OpeningBalance,
		ExpectedCash:       shift.ExpectedCash,
		CountedCash:        in.CountedCash,
		Variance:           variance,
		VariancePct:        VariancePercent(variance, shift.ExpectedCash),
		Classification:     Classify(variance),
		Severity:           in.Thresholds.Severity(variance),
		ExpectedTotal:      shift.ExpectedTotal,
		ActualTotal:        actualTotal,
		TotalDifference:    actualTotal - shift.OpeningBalance - shift.ExpectedTotal,
		PerMethodBreakdown: Methods(in.Breakdown),
		TransactionCount:   shift.TotalTransactions,
		OrderCount:         in.Breakdown.CountableOrders,
		OrphanedOrders:     orphans,
		Anomalies:          anomalies,
		HeuristicLinkage:   in.Linkage.Heuristic,
		ClosingNotes:       shift.ClosingNotes,
		GeneratedAt:        in.GeneratedAt.UTC(),
	}
}

// VariancePercent is variance over expected cash, two decimal places.
func VariancePercent(variance int64, expected int64) string {
	if expected == 0 {
		return decimal.Zero.StringFixed(2)
	}
	return decimal.NewFromInt(variance).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromInt(expected), 2).
		StringFixed(2)
}

func Classify(variance int64) string {
	switch {
	case variance > 0:
		return ClassificationOver
	case variance < 0:
		return ClassificationShort
	default:
		return ClassificationBalanced
	}
}

func (t Thresholds) Severity(variance int64) string {
	if variance < 0 {
		variance = -variance
	}
	switch {
	case t.Critical > 0 && variance >= t.Critical:
		return SeverityCritical
	case t.Warning > 0 && variance >= t.Warning:
		return SeverityWarning
	default:
		return SeverityNormal
	}
}

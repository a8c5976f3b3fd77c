package service

import (
	"context"
	"log"
	"time"

	"kasirshift/backend/internal/domain"
	"kasirshift/backend/internal/reconcile"
	"kasirshift/backend/internal/store"
)

const (
	DiscrepancyLateLinked       = "late_linked"
	DiscrepancyUnlinkedInWindow = "unlinked_in_window"
)

// ShiftReport returns the sealed report of a closed shift, or a preliminary
// preview for a shift that is being closed. It never writes.
func (s *Service) ShiftReport(ctx context.Context, shiftID string) (domain.VarianceReport, error) {
	_, shift, err := s.loadAuthorizedShift(ctx, shiftID)
	if err != nil {
		return domain.VarianceReport{}, err
	}

	switch shift.Status {
	case domain.ShiftStatusClosed:
		return s.sealedReport(ctx, *shift), nil
	case domain.ShiftStatusClosing:
		return s.previewReport(ctx, *shift)
	default:
		return domain.VarianceReport{}, store.ErrInvalidState
	}
}

func (s *Service) sealedReport(ctx context.Context, shift domain.CashierShift) domain.VarianceReport {
	cached, ok, err := s.reports.Get(ctx, shift.ID)
	if err != nil {
		log.Printf("[service] WARN: report cache read failed shift=%s: %v", shift.ID, err)
	}
	if ok && cached != nil {
		return *cached
	}

	var report domain.VarianceReport
	if shift.CloseReport != nil {
		report = *shift.CloseReport
	} else {
		report = reportFromStoredTotals(shift, s.opts.Thresholds)
	}
	if err := s.reports.Set(ctx, shift.ID, &report, s.opts.ReportCacheTTL); err != nil {
		log.Printf("[service] WARN: failed to cache close report shift=%s: %v", shift.ID, err)
	}
	return report
}

func (s *Service) previewReport(ctx context.Context, shift domain.CashierShift) (domain.VarianceReport, error) {
	now := s.now()
	linkage, err := s.previewLinkage(ctx, shift, now)
	if err != nil {
		return domain.VarianceReport{}, err
	}

	updated, breakdown := reconcile.Calculate(shift, linkage, s.opts.Policy, now)
	var counted int64
	if shift.CountedCash != nil {
		counted = *shift.CountedCash
	}
	return reconcile.BuildVarianceReport(reconcile.ReportInput{
		Shift:       updated,
		Breakdown:   breakdown,
		Linkage:     linkage,
		CountedCash: counted,
		Thresholds:  s.opts.Thresholds,
		GeneratedAt: now,
	}), nil
}

// previewLinkage resolves orders like recompute does but treats every planned
// claim as granted without touching the orders.
func (s *Service) previewLinkage(ctx context.Context, shift domain.CashierShift, asOf time.Time) (domain.LinkageResult, error) {
	plan, err := s.planLinkage(repoSource{ctx: ctx, repo: s.repo}, shift, asOf)
	if err != nil {
		return domain.LinkageResult{}, err
	}
	result, _, err := plan.Apply(func(string) (bool, error) { return true, nil })
	return result, err
}

// PostCloseDiscrepancies lists orders that surfaced for a closed shift after it was
// frozen. The frozen totals are never changed.
func (s *Service) PostCloseDiscrepancies(ctx context.Context, shiftID string) (domain.DiscrepancyReport, error) {
	_, shift, err := s.loadAuthorizedShift(ctx, shiftID)
	if err != nil {
		return domain.DiscrepancyReport{}, err
	}
	if !shift.IsClosed() {
		return domain.DiscrepancyReport{}, store.ErrInvalidState
	}

	sealed := map[string]bool{}
	if shift.CloseReport != nil {
		for _, orderID := range shift.CloseReport.SealedOrderIDs {
			sealed[orderID] = true
		}
	}

	report := domain.DiscrepancyReport{
		ShiftID:     shift.ID,
		Status:      shift.Status,
		Orders:      []domain.DiscrepancyOrder{},
		GeneratedAt: s.now(),
	}
	var late []domain.Order

	linked, err := s.repo.ListOrders(ctx, domain.OrderFilter{ShiftID: shift.ID})
	if err != nil {
		return domain.DiscrepancyReport{}, err
	}
	for _, order := range linked {
		if sealed[order.ID] {
			continue
		}
		late = append(late, order)
		report.Orders = append(report.Orders, discrepancyOrder(order, DiscrepancyLateLinked))
	}

	closedAt := s.now()
	if shift.ClosedAt != nil {
		closedAt = *shift.ClosedAt
	}
	employeeID, err := shiftEmployee(repoSource{ctx: ctx, repo: s.repo}, *shift)
	if err != nil {
		return domain.DiscrepancyReport{}, err
	}
	openedAt := shift.OpenedAt
	candidates, err := s.repo.ListOrders(ctx, domain.OrderFilter{
		BusinessID:     shift.BusinessID,
		OutletID:       shift.OutletID,
		UnassignedOnly: true,
		From:           &openedAt,
		To:             &closedAt,
	})
	if err != nil {
		return domain.DiscrepancyReport{}, err
	}
	holders, err := s.overlappingHolders(ctx, *shift, employeeID, closedAt)
	if err != nil {
		return domain.DiscrepancyReport{}, err
	}
	plan := reconcile.PlanLinkage(reconcile.LinkageInput{
		Shift:         *shift,
		EmployeeID:    employeeID,
		AsOf:          closedAt,
		Candidates:    candidates,
		HoldingShifts: holders,
		Fallback:      true,
	})
	for _, claim := range plan.Claims {
		late = append(late, claim.Order)
		report.Orders = append(report.Orders, discrepancyOrder(claim.Order, DiscrepancyUnlinkedInWindow))
	}
	// Ambiguous orders are listed with their reason but stay out of the delta.
	byID := make(map[string]domain.Order, len(candidates))
	for _, order := range candidates {
		byID[order.ID] = order
	}
	for _, rejected := range plan.Unassignable {
		report.Orders = append(report.Orders, discrepancyOrder(byID[rejected.OrderID], rejected.Reason))
	}

	report.Delta = reconcile.Aggregate(late, s.opts.Policy)
	if len(report.Orders) > 0 {
		log.Printf("[service] WARN: closed shift=%s has %d post-close discrepancies delta_sales=%d", shift.ID, len(report.Orders), report.Delta.SalesTotal)
	}
	return report, nil
}

// overlappingHolders returns the shifts at the outlet that were held at some
// point during [opened_at, closedAt], keyed by id with their employee.
func (s *Service) overlappingHolders(ctx context.Context, shift domain.CashierShift, employeeID string, closedAt time.Time) (map[string]string, error) {
	src := repoSource{ctx: ctx, repo: s.repo}
	others, err := s.repo.ListShifts(ctx, domain.ShiftFilter{
		BusinessID: shift.BusinessID,
		OutletID:   shift.OutletID,
		To:         &closedAt,
	})
	if err != nil {
		return nil, err
	}

	holders := map[string]string{shift.ID: employeeID}
	for _, other := range others {
		if other.ID == shift.ID {
			continue
		}
		if other.ClosedAt != nil && other.ClosedAt.Before(shift.OpenedAt) {
			continue
		}
		holders[other.ID], err = shiftEmployee(src, other)
		if err != nil {
			return nil, err
		}
	}
	return holders, nil
}

func discrepancyOrder(order domain.Order, reason string) domain.DiscrepancyOrder {
	return domain.DiscrepancyOrder{
		OrderID:   order.ID,
		Reason:    reason,
		Total:     order.Total,
		Countable: reconcile.IsCountable(order),
		CreatedAt: order.CreatedAt,
	}
}

// reportFromStoredTotals rebuilds a report for closed rows that predate sealed reports.
func reportFromStoredTotals(shift domain.CashierShift, thresholds reconcile.Thresholds) domain.VarianceReport {
	breakdown := domain.PaymentBreakdown{ByMethod: map[string]domain.MethodTotal{}}
	for _, bucket := range []domain.MethodTotal{
		{Method: domain.MethodCash, Amount: shift.ExpectedCash - shift.OpeningBalance, Count: shift.CashTransactions},
		{Method: domain.MethodCard, Amount: shift.ExpectedCard, Count: shift.CardTransactions},
		{Method: domain.MethodTransfer, Amount: shift.ExpectedTransfer, Count: shift.TransferTransactions},
		{Method: domain.MethodQris, Amount: shift.ExpectedQris, Count: shift.QrisTransactions},
		{Method: "other", Amount: shift.ExpectedOther, Count: shift.OtherTransactions},
	} {
		if bucket.Count > 0 || bucket.Amount != 0 {
			breakdown.ByMethod[bucket.Method] = bucket
		}
	}
	breakdown.SalesTotal = shift.ExpectedTotal

	var counted int64
	if shift.CountedCash != nil {
		counted = *shift.CountedCash
	}
	generatedAt := time.Time{}
	if shift.ClosedAt != nil {
		generatedAt = *shift.ClosedAt
	}
	return reconcile.BuildVarianceReport(reconcile.ReportInput{
		Shift:       shift,
		Breakdown:   breakdown,
		CountedCash: counted,
		Thresholds:  thresholds,
		GeneratedAt: generatedAt,
	})
}

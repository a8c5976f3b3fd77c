package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"kasirshift/backend/internal/domain"
	"kasirshift/backend/internal/reconcile"
	"kasirshift/backend/internal/store"
)

// orderSource is satisfied by a locked store.ShiftTx and by repoSource for read-only previews.
type orderSource interface {
	ListOrders(filter domain.OrderFilter) ([]domain.Order, error)
	ListHoldingShifts(businessID string, outletID string) ([]domain.CashierShift, error)
	ResolveEmployeeID(businessID string, userID string) (string, error)
}

type repoSource struct {
	ctx  context.Context
	repo store.Repository
}

func (r repoSource) ListOrders(filter domain.OrderFilter) ([]domain.Order, error) {
	return r.repo.ListOrders(r.ctx, filter)
}

func (r repoSource) ListHoldingShifts(businessID string, outletID string) ([]domain.CashierShift, error) {
	return r.repo.ListShifts(r.ctx, domain.ShiftFilter{
		BusinessID: businessID,
		OutletID:   outletID,
		Statuses:   []string{domain.ShiftStatusOpen, domain.ShiftStatusClosing},
	})
}

func (r repoSource) ResolveEmployeeID(businessID string, userID string) (string, error) {
	return r.repo.ResolveEmployeeID(r.ctx, businessID, userID)
}

func (s *Service) planLinkage(src orderSource, shift domain.CashierShift, asOf time.Time) (reconcile.LinkagePlan, error) {
	employeeID, err := shiftEmployee(src, shift)
	if err != nil {
		return reconcile.LinkagePlan{}, err
	}

	linked, err := src.ListOrders(domain.OrderFilter{ShiftID: shift.ID})
	if err != nil {
		return reconcile.LinkagePlan{}, err
	}
	openedAt := shift.OpenedAt
	candidates, err := src.ListOrders(domain.OrderFilter{
		BusinessID:     shift.BusinessID,
		OutletID:       shift.OutletID,
		UnassignedOnly: true,
		From:           &openedAt,
		To:             &asOf,
	})
	if err != nil {
		return reconcile.LinkagePlan{}, err
	}

	holding, err := src.ListHoldingShifts(shift.BusinessID, shift.OutletID)
	if err != nil {
		return reconcile.LinkagePlan{}, err
	}
	holders := map[string]string{shift.ID: employeeID}
	for _, other := range holding {
		if other.ID == shift.ID {
			continue
		}
		holders[other.ID], err = shiftEmployee(src, other)
		if err != nil {
			return reconcile.LinkagePlan{}, err
		}
	}

	return reconcile.PlanLinkage(reconcile.LinkageInput{
		Shift:         shift,
		EmployeeID:    employeeID,
		AsOf:          asOf,
		Linked:        linked,
		Candidates:    candidates,
		HoldingShifts: holders,
		Fallback:      s.opts.Fallback,
	}), nil
}

func shiftEmployee(src orderSource, shift domain.CashierShift) (string, error) {
	if shift.EmployeeID != "" {
		return shift.EmployeeID, nil
	}
	return src.ResolveEmployeeID(shift.BusinessID, shift.UserID)
}

type computation struct {
	shift      domain.CashierShift
	breakdown  domain.PaymentBreakdown
	linkage    domain.LinkageResult
	backfilled []string
}

// recompute resolves the shift's orders as of asOf and replaces its totals.
// It only stages writes on tx; the caller decides whether to save.
func (s *Service) recompute(tx store.ShiftTx, asOf time.Time) (computation, error) {
	shift := tx.Shift()
	if shift.IsClosed() {
		return computation{}, store.ErrShiftClosed
	}

	plan, err := s.planLinkage(tx, shift, asOf)
	if err != nil {
		return computation{}, err
	}
	if plan.Heuristic {
		log.Printf("[reconcile] WARN: shift=%s has no linked orders, using employee/outlet window fallback planned_claims=%d unassignable=%d",
			shift.ID, len(plan.Claims), len(plan.Unassignable))
	}

	linkage, backfilled, err := plan.Apply(func(orderID string) (bool, error) {
		return tx.ClaimOrder(orderID, shift.ID)
	})
	if err != nil {
		return computation{}, err
	}
	for _, orderID := range backfilled {
		log.Printf("[reconcile] backfilled shift_id=%s on order=%s", shift.ID, orderID)
	}
	for _, orphan := range linkage.Unassignable {
		log.Printf("[reconcile] WARN: order=%s left unassigned for shift=%s reason=%s", orphan.OrderID, shift.ID, orphan.Reason)
	}

	updated, breakdown := reconcile.Calculate(shift, linkage, s.opts.Policy, asOf)
	if abs64(breakdown.Unallocated) > s.opts.MismatchTolerance {
		log.Printf("[reconcile] WARN: shift=%s payment calculation mismatch sales_total=%d unallocated=%d", shift.ID, breakdown.SalesTotal, breakdown.Unallocated)
	}

	return computation{
		shift:      updated,
		breakdown:  breakdown,
		linkage:    linkage,
		backfilled: backfilled,
	}, nil
}

func (s *Service) RecalculateShift(ctx context.Context, shiftID string) (domain.RecalculateResponse, error) {
	_, shift, err := s.loadAuthorizedShift(ctx, shiftID)
	if err != nil {
		return domain.RecalculateResponse{}, err
	}
	if shift.IsClosed() {
		return domain.RecalculateResponse{}, store.ErrShiftClosed
	}
	return s.recalculate(ctx, shift.ID)
}

func (s *Service) recalculate(ctx context.Context, shiftID string) (domain.RecalculateResponse, error) {
	var resp domain.RecalculateResponse
	err := s.repo.WithShiftLock(ctx, shiftID, func(tx store.ShiftTx) error {
		comp, err := s.recompute(tx, s.now())
		if err != nil {
			return err
		}
		saved, err := tx.SaveShift(comp.shift)
		if err != nil {
			return err
		}
		resp = domain.RecalculateResponse{
			Shift:          *saved,
			Breakdown:      comp.breakdown,
			OrphanedOrders: comp.linkage.Unassignable,
			Backfilled:     comp.backfilled,
			Heuristic:      comp.linkage.Heuristic,
		}
		return nil
	})
	if err != nil {
		return domain.RecalculateResponse{}, err
	}

	s.logAudit(ctx, resp.Shift.BusinessID, "shift_recalculate", "shift", resp.Shift.ID,
		fmt.Sprintf("expected_cash=%d,expected_total=%d,transactions=%d", resp.Shift.ExpectedCash, resp.Shift.ExpectedTotal, resp.Shift.TotalTransactions))
	s.auditBackfill(ctx, resp.Shift, resp.Backfilled)

	return resp, nil
}

func (s *Service) InitiateClose(ctx context.Context, shiftID string, req domain.CloseInitiateRequest) (domain.VarianceReport, error) {
	_, shift, err := s.loadAuthorizedShift(ctx, shiftID)
	if err != nil {
		return domain.VarianceReport{}, err
	}
	if shift.IsClosed() {
		return domain.VarianceReport{}, store.ErrShiftClosed
	}
	counted, err := reconcile.ParseCountedCash(req.CountedCash)
	if err != nil {
		return domain.VarianceReport{}, err
	}

	var report domain.VarianceReport
	var backfilled []string
	var saved *domain.CashierShift
	err = s.repo.WithShiftLock(ctx, shift.ID, func(tx store.ShiftTx) error {
		if err := requireStatus(tx.Shift(), domain.ShiftStatusOpen); err != nil {
			return err
		}
		now := s.now()
		comp, err := s.recompute(tx, now)
		if err != nil {
			return err
		}

		next := comp.shift
		next.Status = domain.ShiftStatusClosing
		next.CountedCash = &counted
		next.ClosingNotes = strings.TrimSpace(req.Notes)
		saved, err = tx.SaveShift(next)
		if err != nil {
			return err
		}

		report = reconcile.BuildVarianceReport(reconcile.ReportInput{
			Shift:       *saved,
			Breakdown:   comp.breakdown,
			Linkage:     comp.linkage,
			CountedCash: counted,
			Thresholds:  s.opts.Thresholds,
			GeneratedAt: now,
		})
		backfilled = comp.backfilled
		return nil
	})
	if err != nil {
		return domain.VarianceReport{}, err
	}

	s.logAudit(ctx, saved.BusinessID, "shift_close_initiate", "shift", saved.ID,
		fmt.Sprintf("counted_cash=%d,expected_cash=%d,variance=%d", counted, saved.ExpectedCash, report.Variance))
	s.auditBackfill(ctx, *saved, backfilled)

	return report, nil
}

// AbortClose returns a closing shift to open. The counted cash is discarded.
func (s *Service) AbortClose(ctx context.Context, shiftID string, req domain.CloseAbortRequest) (domain.ShiftResponse, error) {
	_, shift, err := s.loadAuthorizedShift(ctx, shiftID)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	reason := defaultString(strings.TrimSpace(req.Reason), "unspecified")

	var saved *domain.CashierShift
	err = s.repo.WithShiftLock(ctx, shift.ID, func(tx store.ShiftTx) error {
		current := tx.Shift()
		if err := requireStatus(current, domain.ShiftStatusClosing); err != nil {
			return err
		}
		current.Status = domain.ShiftStatusOpen
		current.CountedCash = nil
		current.ClosingNotes = ""
		saved, err = tx.SaveShift(current)
		return err
	})
	if err != nil {
		return domain.ShiftResponse{}, err
	}

	s.logAudit(ctx, saved.BusinessID, "shift_close_abort", "shift", saved.ID, reason)
	return domain.ShiftResponse{Shift: *saved}, nil
}

// FinalizeClose recomputes as of the close instant under the shift lock and
// freezes the result. The sealed report is what every later read returns.
func (s *Service) FinalizeClose(ctx context.Context, shiftID string) (domain.VarianceReport, error) {
	actor, shift, err := s.loadAuthorizedShift(ctx, shiftID)
	if err != nil {
		return domain.VarianceReport{}, err
	}

	var report domain.VarianceReport
	var backfilled []string
	var saved *domain.CashierShift
	err = s.repo.WithShiftLock(ctx, shift.ID, func(tx store.ShiftTx) error {
		current := tx.Shift()
		if err := requireStatus(current, domain.ShiftStatusClosing); err != nil {
			return err
		}
		if current.CountedCash == nil {
			return store.ErrInvalidState
		}
		counted := *current.CountedCash

		closedAt := s.now()
		comp, err := s.recompute(tx, closedAt)
		if err != nil {
			return err
		}

		next := comp.shift
		variance := counted - next.ExpectedCash
		next.Variance = &variance
		next.ClosedAt = &closedAt
		next.ClosedBy = actor.UserID
		next.Status = domain.ShiftStatusClosed

		sealed := reconcile.BuildVarianceReport(reconcile.ReportInput{
			Shift:       next,
			Breakdown:   comp.breakdown,
			Linkage:     comp.linkage,
			CountedCash: counted,
			Thresholds:  s.opts.Thresholds,
			GeneratedAt: closedAt,
		})
		sealed.SealedOrderIDs = linkedOrderIDs(comp.linkage)
		next.CloseReport = &sealed

		saved, err = tx.SaveShift(next)
		if err != nil {
			return err
		}
		report = sealed
		backfilled = comp.backfilled
		return nil
	})
	if err != nil {
		return domain.VarianceReport{}, err
	}

	if err := s.reports.Set(ctx, saved.ID, &report, s.opts.ReportCacheTTL); err != nil {
		log.Printf("[service] WARN: failed to cache close report shift=%s: %v", saved.ID, err)
	}
	s.logAudit(ctx, saved.BusinessID, "shift_close", "shift", saved.ID,
		fmt.Sprintf("expected_cash=%d,counted_cash=%d,variance=%d,severity=%s", report.ExpectedCash, report.CountedCash, report.Variance, report.Severity))
	s.auditBackfill(ctx, *saved, backfilled)

	return report, nil
}

type BulkRecalculateResult struct {
	Recalculated []domain.RecalculateResponse
	Failed       map[string]error
}

// RecalculateActiveShifts refreshes every open or closing shift the caller can manage.
func (s *Service) RecalculateActiveShifts(ctx context.Context, outletID string) (BulkRecalculateResult, error) {
	active, err := s.ListActiveShifts(ctx, outletID)
	if err != nil {
		return BulkRecalculateResult{}, err
	}

	result := BulkRecalculateResult{Failed: map[string]error{}}
	for _, shift := range active.Shifts {
		resp, err := s.recalculate(ctx, shift.ID)
		if err != nil {
			log.Printf("[service] WARN: bulk recalculate failed shift=%s: %v", shift.ID, err)
			result.Failed[shift.ID] = err
			continue
		}
		result.Recalculated = append(result.Recalculated, resp)
	}
	return result, nil
}

func requireStatus(shift domain.CashierShift, status string) error {
	if shift.IsClosed() {
		return store.ErrShiftClosed
	}
	if shift.Status != status {
		return fmt.Errorf("%w: shift is %s, expected %s", store.ErrInvalidState, shift.Status, status)
	}
	return nil
}

func linkedOrderIDs(linkage domain.LinkageResult) []string {
	ids := make([]string, 0, len(linkage.Linked))
	for _, linked := range linkage.Linked {
		ids = append(ids, linked.Order.ID)
	}
	sort.Strings(ids)
	return ids
}

func (s *Service) auditBackfill(ctx context.Context, shift domain.CashierShift, orderIDs []string) {
	for _, orderID := range orderIDs {
		s.logAudit(ctx, shift.BusinessID, "order_backfill", "order", orderID, "shift_id="+shift.ID)
	}
}

func IsRetryable(err error) bool {
	return errors.Is(err, store.ErrConcurrentModification)
}

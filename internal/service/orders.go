package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"kasirshift/backend/internal/domain"
	"kasirshift/backend/internal/reconcile"
	"kasirshift/backend/internal/store"
)

// RecordOrderEvent stores an order from the POS feed and refreshes the totals of
// the shift it references while that shift is still being worked. Orders that
// land on a closed shift are stored but only surface as discrepancies.
func (s *Service) RecordOrderEvent(ctx context.Context, req domain.OrderEventRequest) (domain.OrderEventResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.OrderEventResponse{}, err
	}

	order := req.Order
	if len(req.Payments) > 0 {
		order.Payments = req.Payments
	}
	order.ID = strings.TrimSpace(order.ID)
	order.OutletID = strings.TrimSpace(order.OutletID)
	order.BusinessID = defaultString(strings.TrimSpace(order.BusinessID), actor.BusinessID)
	order.Type = defaultString(order.Type, domain.OrderTypePOS)
	order.Status = defaultString(order.Status, domain.OrderStatusPending)
	order.PaymentStatus = defaultString(order.PaymentStatus, domain.PaymentStatusUnpaid)
	if actor.BusinessID != "" && order.BusinessID != actor.BusinessID {
		return domain.OrderEventResponse{}, ErrForbidden
	}
	if order.OutletID == "" || order.Total < 0 || order.PaidAmount < 0 || order.ChangeAmount < 0 {
		return domain.OrderEventResponse{}, store.ErrInvalidInput
	}
	for i := range order.Payments {
		payment := &order.Payments[i]
		payment.Method = reconcile.NormalizeMethod(payment.Method)
		payment.Status = defaultString(strings.ToLower(strings.TrimSpace(payment.Status)), domain.PaymentPending)
		if payment.Amount < 0 {
			return domain.OrderEventResponse{}, store.ErrInvalidInput
		}
	}

	shiftID := strings.TrimSpace(order.ShiftID)
	if order.ID != "" && shiftID == "" {
		existing, err := s.repo.GetOrder(ctx, order.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return domain.OrderEventResponse{}, err
		}
		if existing != nil {
			shiftID = existing.ShiftID
		}
	}

	var target *domain.CashierShift
	if shiftID != "" {
		target, err = s.repo.GetShift(ctx, shiftID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.OrderEventResponse{}, fmt.Errorf("%w: unknown shift %s", store.ErrInvalidInput, shiftID)
			}
			return domain.OrderEventResponse{}, err
		}
		if target.BusinessID != order.BusinessID || target.OutletID != order.OutletID {
			return domain.OrderEventResponse{}, fmt.Errorf("%w: order and shift disagree on business or outlet", store.ErrInvalidInput)
		}
	}

	recorded, err := s.repo.RecordOrder(ctx, order)
	if err != nil {
		return domain.OrderEventResponse{}, err
	}
	resp := domain.OrderEventResponse{OrderID: recorded.ID, ShiftID: recorded.ShiftID}

	if target == nil {
		return s.refreshSoleHolder(ctx, *recorded, resp), nil
	}
	if target.IsClosed() {
		resp.PostClose = true
		log.Printf("[service] WARN: order=%s arrived for closed shift=%s, reported as post-close discrepancy", recorded.ID, target.ID)
		s.logAudit(ctx, target.BusinessID, "order_post_close", "order", recorded.ID, "shift_id="+target.ID)
		return resp, nil
	}

	if _, err := s.recalculate(ctx, target.ID); err != nil {
		// The order is stored; the next recalculation or close picks it up.
		log.Printf("[service] WARN: recalculate after order event failed shift=%s order=%s: %v", target.ID, recorded.ID, err)
		return resp, nil
	}
	resp.Recalculated = true
	return resp, nil
}

// refreshSoleHolder recalculates the only shift held at the order's outlet when
// an unassigned order lands inside its window, so fallback or self-service
// linkage is reflected right away. With zero or several holders nothing runs.
func (s *Service) refreshSoleHolder(ctx context.Context, order domain.Order, resp domain.OrderEventResponse) domain.OrderEventResponse {
	if order.ShiftID != "" {
		return resp
	}
	holding, err := s.repo.ListShifts(ctx, domain.ShiftFilter{
		BusinessID: order.BusinessID,
		OutletID:   order.OutletID,
		Statuses:   []string{domain.ShiftStatusOpen, domain.ShiftStatusClosing},
	})
	if err != nil {
		log.Printf("[service] WARN: holding shift lookup failed outlet=%s order=%s: %v", order.OutletID, order.ID, err)
		return resp
	}
	if len(holding) != 1 {
		return resp
	}
	shift := holding[0]
	if order.CreatedAt.Before(shift.OpenedAt) || order.CreatedAt.After(s.now()) {
		return resp
	}

	recalculated, err := s.recalculate(ctx, shift.ID)
	if err != nil {
		log.Printf("[service] WARN: recalculate after unassigned order failed shift=%s order=%s: %v", shift.ID, order.ID, err)
		return resp
	}
	resp.Recalculated = true
	for _, orderID := range recalculated.Backfilled {
		if orderID == order.ID {
			resp.ShiftID = shift.ID
		}
	}
	return resp
}

// FindOrphanedOrders lists paid orders without a shift in the given range.
func (s *Service) FindOrphanedOrders(ctx context.Context, outletID string, dateFrom string, dateTo string) (domain.OrphanScanResponse, error) {
	actor, err := requireManager(ctx)
	if err != nil {
		return domain.OrphanScanResponse{}, err
	}
	from, to, err := ParseDateRange(dateFrom, dateTo)
	if err != nil {
		return domain.OrphanScanResponse{}, err
	}

	orders, err := s.repo.ListOrders(ctx, domain.OrderFilter{
		BusinessID:     actor.BusinessID,
		OutletID:       strings.TrimSpace(outletID),
		UnassignedOnly: true,
		PaidOnly:       true,
		From:           from,
		To:             to,
	})
	if err != nil {
		return domain.OrphanScanResponse{}, err
	}

	resp := domain.OrphanScanResponse{Orders: orders}
	for _, order := range orders {
		resp.Total += order.Total
	}
	return resp, nil
}

// FindDuplicateOpenShifts reports (business, outlet, user) slots holding more
// than one open or closing shift. A healthy store returns nothing.
func (s *Service) FindDuplicateOpenShifts(ctx context.Context) ([]domain.DuplicateOpenShifts, error) {
	actor, err := requireManager(ctx)
	if err != nil {
		return nil, err
	}

	shifts, err := s.repo.ListShifts(ctx, domain.ShiftFilter{
		BusinessID: actor.BusinessID,
		Statuses:   []string{domain.ShiftStatusOpen, domain.ShiftStatusClosing},
	})
	if err != nil {
		return nil, err
	}

	groups := map[string]*domain.DuplicateOpenShifts{}
	for _, shift := range shifts {
		key := shift.BusinessID + "::" + shift.OutletID + "::" + shift.UserID
		group, ok := groups[key]
		if !ok {
			group = &domain.DuplicateOpenShifts{BusinessID: shift.BusinessID, OutletID: shift.OutletID, UserID: shift.UserID}
			groups[key] = group
		}
		group.Shifts = append(group.Shifts, shift)
	}

	result := make([]domain.DuplicateOpenShifts, 0)
	for _, group := range groups {
		if len(group.Shifts) > 1 {
			result = append(result, *group)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].OutletID == result[j].OutletID {
			return result[i].UserID < result[j].UserID
		}
		return result[i].OutletID < result[j].OutletID
	})
	return result, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"kasirshift/backend/internal/domain"
	"kasirshift/backend/internal/reconcile"
	"kasirshift/backend/internal/store"
	"kasirshift/backend/internal/xid"
)

func (s *Service) OpenShift(ctx context.Context, req domain.ShiftOpenRequest) (domain.ShiftResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	req.OutletID = strings.TrimSpace(req.OutletID)
	if actor.BusinessID == "" || req.OutletID == "" || req.OpeningBalance < 0 {
		return domain.ShiftResponse{}, store.ErrInvalidInput
	}

	openedAt := s.now()
	employeeID, err := s.repo.ResolveEmployeeID(ctx, actor.BusinessID, actor.UserID)
	if err != nil {
		return domain.ShiftResponse{}, err
	}

	shift := domain.CashierShift{
		ID:             xid.New("shift"),
		BusinessID:     actor.BusinessID,
		OutletID:       req.OutletID,
		UserID:         actor.UserID,
		EmployeeID:     employeeID,
		ShiftName:      defaultString(strings.TrimSpace(req.ShiftName), "Shift "+openedAt.Format("02/01/2006 15:04")),
		Status:         domain.ShiftStatusOpen,
		OpeningBalance: req.OpeningBalance,
		OpeningNotes:   strings.TrimSpace(req.OpeningNotes),
		OpenedAt:       openedAt,
		ExpectedCash:   req.OpeningBalance,
	}
	saved, err := s.repo.CreateShift(ctx, shift)
	if err != nil {
		return domain.ShiftResponse{}, err
	}

	s.logAudit(ctx, saved.BusinessID, "shift_open", "shift", saved.ID, fmt.Sprintf("outlet=%s,opening_balance=%d", saved.OutletID, saved.OpeningBalance))

	return domain.ShiftResponse{Shift: *saved}, nil
}

// GetShift returns the stored shift with a read-only summary of its linked orders.
func (s *Service) GetShift(ctx context.Context, shiftID string) (domain.ShiftDetailResponse, error) {
	_, shift, err := s.loadAuthorizedShift(ctx, shiftID)
	if err != nil {
		return domain.ShiftDetailResponse{}, err
	}

	orders, err := s.repo.ListOrders(ctx, domain.OrderFilter{ShiftID: shift.ID})
	if err != nil {
		return domain.ShiftDetailResponse{}, err
	}

	summary := domain.LinkedOrderSummary{
		LinkedOrders: len(orders),
		ByStatus:     map[string]int{},
	}
	for _, order := range orders {
		summary.ByStatus[order.Status]++
		if reconcile.IsCountable(order) {
			summary.CountableOrders++
			summary.SalesTotal += order.Total
		}
		if summary.LastOrderAt == nil || order.CreatedAt.After(*summary.LastOrderAt) {
			createdAt := order.CreatedAt
			summary.LastOrderAt = &createdAt
		}
	}

	return domain.ShiftDetailResponse{Shift: *shift, Orders: summary}, nil
}

// FindOpenShift is the single lookup for the caller's current shift at an outlet.
func (s *Service) FindOpenShift(ctx context.Context, outletID string) (domain.ShiftResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	outletID = strings.TrimSpace(outletID)
	if outletID == "" {
		return domain.ShiftResponse{}, store.ErrInvalidInput
	}

	shift, err := s.repo.FindOpenShift(ctx, actor.BusinessID, outletID, actor.UserID)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	return domain.ShiftResponse{Shift: *shift}, nil
}

func (s *Service) ListShifts(ctx context.Context, filter domain.ShiftFilter) (domain.ShiftListResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.ShiftListResponse{}, err
	}
	filter.BusinessID = actor.BusinessID
	if actor.Role == domain.RoleCashier {
		filter.UserID = actor.UserID
	}
	for _, status := range filter.Statuses {
		switch status {
		case domain.ShiftStatusOpen, domain.ShiftStatusClosing, domain.ShiftStatusClosed:
		default:
			return domain.ShiftListResponse{}, store.ErrInvalidInput
		}
	}
	if filter.Limit < 1 {
		filter.Limit = 50
	}
	if filter.Limit > 500 {
		filter.Limit = 500
	}

	shifts, err := s.repo.ListShifts(ctx, filter)
	if err != nil {
		return domain.ShiftListResponse{}, err
	}
	return domain.ShiftListResponse{Shifts: shifts}, nil
}

// ShiftSummary reports the caller's active shift at an outlet and the totals of
// every shift they opened there today.
func (s *Service) ShiftSummary(ctx context.Context, outletID string) (domain.ShiftSummaryResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.ShiftSummaryResponse{}, err
	}
	outletID = strings.TrimSpace(outletID)
	if outletID == "" {
		return domain.ShiftSummaryResponse{}, store.ErrInvalidInput
	}

	var summary domain.ShiftSummaryResponse
	active, err := s.repo.FindOpenShift(ctx, actor.BusinessID, outletID, actor.UserID)
	switch {
	case err == nil:
		summary.HasActiveShift = true
		summary.ActiveShift = active
	case !errors.Is(err, store.ErrNotFound):
		return domain.ShiftSummaryResponse{}, err
	}

	now := s.now().UTC()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	to := from.Add(24*time.Hour - time.Nanosecond)
	today, err := s.repo.ListShifts(ctx, domain.ShiftFilter{
		BusinessID: actor.BusinessID,
		OutletID:   outletID,
		UserID:     actor.UserID,
		From:       &from,
		To:         &to,
	})
	if err != nil {
		return domain.ShiftSummaryResponse{}, err
	}
	for _, shift := range today {
		summary.TodayShiftsCount++
		summary.TodayTotalRevenue += shift.ExpectedTotal
		summary.TodayTotalTransactions += shift.TotalTransactions
	}
	return summary, nil
}

// ListActiveShifts returns every open or closing shift, optionally for one outlet.
func (s *Service) ListActiveShifts(ctx context.Context, outletID string) (domain.ShiftListResponse, error) {
	actor, err := requireManager(ctx)
	if err != nil {
		return domain.ShiftListResponse{}, err
	}

	shifts, err := s.repo.ListShifts(ctx, domain.ShiftFilter{
		BusinessID: actor.BusinessID,
		OutletID:   strings.TrimSpace(outletID),
		Statuses:   []string{domain.ShiftStatusOpen, domain.ShiftStatusClosing},
	})
	if err != nil {
		return domain.ShiftListResponse{}, err
	}
	return domain.ShiftListResponse{Shifts: shifts}, nil
}

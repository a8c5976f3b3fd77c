package store

import (
	"context"
	"errors"
	"time"

	"kasirshift/backend/internal/domain"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidInput           = errors.New("invalid input")
	ErrShiftClosed            = errors.New("shift already closed")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrInvalidCountedCash     = errors.New("invalid counted cash")
	ErrInvalidState           = errors.New("invalid shift state")
	ErrShiftAlreadyOpen       = errors.New("shift already open")
)

type Repository interface {
	CreateShift(ctx context.Context, shift domain.CashierShift) (*domain.CashierShift, error)
	GetShift(ctx context.Context, shiftID string) (*domain.CashierShift, error)
	FindOpenShift(ctx context.Context, businessID string, outletID string, userID string) (*domain.CashierShift, error)
	ListShifts(ctx context.Context, filter domain.ShiftFilter) ([]domain.CashierShift, error)
	// WithShiftLock runs fn with the shift row locked. Writes made through tx
	// are committed only when fn returns nil.
	WithShiftLock(ctx context.Context, shiftID string, fn func(tx ShiftTx) error) error
	RecordOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)
	ResolveEmployeeID(ctx context.Context, businessID string, userID string) (string, error)
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, businessID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}

// ShiftTx is the view of the store available while a shift is locked.
type ShiftTx interface {
	Shift() domain.CashierShift
	ListOrders(filter domain.OrderFilter) ([]domain.Order, error)
	ListHoldingShifts(businessID string, outletID string) ([]domain.CashierShift, error)
	ResolveEmployeeID(businessID string, userID string) (string, error)
	// ClaimOrder sets the order's shift only if it has none. It reports false
	// when another writer got there first.
	ClaimOrder(orderID string, shiftID string) (bool, error)
	SaveShift(shift domain.CashierShift) (*domain.CashierShift, error)
}

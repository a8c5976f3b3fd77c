package memory

import (
	"context"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"kasirshift/backend/internal/domain"
	"kasirshift/backend/internal/store"
	"kasirshift/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	shiftsByID      map[string]domain.CashierShift
	openShiftByKey  map[string]string
	ordersByID      map[string]domain.Order
	employeesByUser map[string]string
	auditLogs       []domain.AuditLog
}

func New() *Store {
	return &Store{
		shiftsByID:      map[string]domain.CashierShift{},
		openShiftByKey:  map[string]string{},
		ordersByID:      map[string]domain.Order{},
		employeesByUser: map[string]string{},
		auditLogs:       make([]domain.AuditLog, 0, 64),
	}
}

// NewSeeded returns a store with the demo employee directory used in dev mode.
func NewSeeded() *Store {
	s := New()
	for _, e := range []struct {
		businessID string
		userID     string
		employeeID string
	}{
		{"demo-business", "cashier-1", "emp-cashier-1"},
		{"demo-business", "cashier-2", "emp-cashier-2"},
		{"demo-business", "supervisor-1", "emp-supervisor-1"},
	} {
		s.AddEmployee(e.businessID, e.userID, e.employeeID)
	}
	log.Println("[memory-store] WARNING: running with in-memory data. Set DATABASE_URL to persist shifts.")
	return s
}

func (s *Store) AddEmployee(businessID string, userID string, employeeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.employeesByUser[employeeKey(businessID, userID)] = employeeID
}

func (s *Store) CreateShift(_ context.Context, shift domain.CashierShift) (*domain.CashierShift, error) {
	if strings.TrimSpace(shift.BusinessID) == "" || strings.TrimSpace(shift.OutletID) == "" || strings.TrimSpace(shift.UserID) == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := shiftMapKey(shift.BusinessID, shift.OutletID, shift.UserID)
	if _, exists := s.openShiftByKey[key]; exists {
		return nil, store.ErrShiftAlreadyOpen
	}
	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if shift.OpenedAt.IsZero() {
		shift.OpenedAt = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusOpen
	shift.ClosedAt = nil
	shift.Version = 1

	s.shiftsByID[shift.ID] = shift
	s.openShiftByKey[key] = shift.ID
	created := cloneShift(shift)
	return &created, nil
}

func (s *Store) GetShift(_ context.Context, shiftID string) (*domain.CashierShift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shift, exists := s.shiftsByID[shiftID]
	if !exists {
		return nil, store.ErrNotFound
	}
	found := cloneShift(shift)
	return &found, nil
}

func (s *Store) FindOpenShift(_ context.Context, businessID string, outletID string, userID string) (*domain.CashierShift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shiftID, exists := s.openShiftByKey[shiftMapKey(businessID, outletID, userID)]
	if !exists {
		return nil, store.ErrNotFound
	}
	shift, exists := s.shiftsByID[shiftID]
	if !exists || !shift.Holding() {
		return nil, store.ErrNotFound
	}
	found := cloneShift(shift)
	return &found, nil
}

func (s *Store) ListShifts(_ context.Context, filter domain.ShiftFilter) ([]domain.CashierShift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.CashierShift, 0, 16)
	for _, shift := range s.shiftsByID {
		if filter.BusinessID != "" && shift.BusinessID != filter.BusinessID {
			continue
		}
		if filter.OutletID != "" && shift.OutletID != filter.OutletID {
			continue
		}
		if filter.UserID != "" && shift.UserID != filter.UserID {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, shift.Status) {
			continue
		}
		if filter.From != nil && shift.OpenedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && shift.OpenedAt.After(*filter.To) {
			continue
		}
		result = append(result, cloneShift(shift))
	}

	slices.SortFunc(result, func(a, b domain.CashierShift) int {
		if a.OpenedAt.Equal(b.OpenedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.OpenedAt.After(b.OpenedAt) {
			return -1
		}
		return 1
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// WithShiftLock holds the store lock for the whole callback. Claims and the
// shift save are staged and applied only when fn succeeds.
func (s *Store) WithShiftLock(ctx context.Context, shiftID string, fn func(tx store.ShiftTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	shift, exists := s.shiftsByID[shiftID]
	if !exists {
		return store.ErrNotFound
	}

	tx := &shiftTx{
		store:  s,
		shift:  cloneShift(shift),
		claims: map[string]string{},
	}
	if err := fn(tx); err != nil {
		return err
	}

	for orderID, claimedBy := range tx.claims {
		order := s.ordersByID[orderID]
		order.ShiftID = claimedBy
		s.ordersByID[orderID] = order
	}
	if tx.saved != nil {
		saved := *tx.saved
		s.shiftsByID[saved.ID] = saved
		key := shiftMapKey(saved.BusinessID, saved.OutletID, saved.UserID)
		if saved.Holding() {
			s.openShiftByKey[key] = saved.ID
		} else if s.openShiftByKey[key] == saved.ID {
			delete(s.openShiftByKey, key)
		}
	}
	return nil
}

func (s *Store) RecordOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	if strings.TrimSpace(order.BusinessID) == "" || strings.TrimSpace(order.OutletID) == "" || order.Total < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if order.ID == "" {
		order.ID = xid.New("order")
	}
	if existing, exists := s.ordersByID[order.ID]; exists {
		if order.ShiftID == "" {
			order.ShiftID = existing.ShiftID
		}
		if order.Payments == nil {
			order.Payments = existing.Payments
		}
		if order.CreatedAt.IsZero() {
			order.CreatedAt = existing.CreatedAt
		}
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	for i := range order.Payments {
		if order.Payments[i].ID == "" {
			order.Payments[i].ID = xid.New("pay")
		}
		order.Payments[i].OrderID = order.ID
	}

	s.ordersByID[order.ID] = cloneOrder(order)
	recorded := cloneOrder(order)
	return &recorded, nil
}

func (s *Store) GetOrder(_ context.Context, orderID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, exists := s.ordersByID[orderID]
	if !exists {
		return nil, store.ErrNotFound
	}
	found := cloneOrder(order)
	return &found, nil
}

func (s *Store) ListOrders(_ context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listOrdersLocked(filter, nil), nil
}

func (s *Store) ResolveEmployeeID(_ context.Context, businessID string, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.employeesByUser[employeeKey(businessID, userID)], nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, businessID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if businessID != "" && entry.BusinessID != businessID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) listOrdersLocked(filter domain.OrderFilter, claims map[string]string) []domain.Order {
	result := make([]domain.Order, 0, 32)
	for _, order := range s.ordersByID {
		if claimedBy, ok := claims[order.ID]; ok {
			order.ShiftID = claimedBy
		}
		if filter.BusinessID != "" && order.BusinessID != filter.BusinessID {
			continue
		}
		if filter.OutletID != "" && order.OutletID != filter.OutletID {
			continue
		}
		if filter.ShiftID != "" && order.ShiftID != filter.ShiftID {
			continue
		}
		if filter.UnassignedOnly && order.ShiftID != "" {
			continue
		}
		if filter.PaidOnly && order.PaymentStatus != domain.PaymentStatusPaid {
			continue
		}
		if filter.From != nil && order.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && order.CreatedAt.After(*filter.To) {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	slices.SortFunc(result, func(a, b domain.Order) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(a.ID, b.ID)
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result
}

type shiftTx struct {
	store  *Store
	shift  domain.CashierShift
	claims map[string]string
	saved  *domain.CashierShift
}

func (tx *shiftTx) Shift() domain.CashierShift {
	return cloneShift(tx.shift)
}

func (tx *shiftTx) ListOrders(filter domain.OrderFilter) ([]domain.Order, error) {
	return tx.store.listOrdersLocked(filter, tx.claims), nil
}

func (tx *shiftTx) ListHoldingShifts(businessID string, outletID string) ([]domain.CashierShift, error) {
	result := make([]domain.CashierShift, 0, 4)
	for _, shift := range tx.store.shiftsByID {
		if shift.ID == tx.shift.ID {
			shift = tx.shift
		}
		if shift.BusinessID != businessID || shift.OutletID != outletID || !shift.Holding() {
			continue
		}
		result = append(result, cloneShift(shift))
	}
	slices.SortFunc(result, func(a, b domain.CashierShift) int {
		return strings.Compare(a.ID, b.ID)
	})
	return result, nil
}

func (tx *shiftTx) ResolveEmployeeID(businessID string, userID string) (string, error) {
	return tx.store.employeesByUser[employeeKey(businessID, userID)], nil
}

func (tx *shiftTx) ClaimOrder(orderID string, shiftID string) (bool, error) {
	order, exists := tx.store.ordersByID[orderID]
	if !exists {
		return false, nil
	}
	if order.ShiftID != "" {
		return false, nil
	}
	if _, claimed := tx.claims[orderID]; claimed {
		return false, nil
	}
	tx.claims[orderID] = shiftID
	return true, nil
}

func (tx *shiftTx) SaveShift(shift domain.CashierShift) (*domain.CashierShift, error) {
	if shift.ID != tx.shift.ID {
		return nil, store.ErrInvalidInput
	}
	if tx.shift.IsClosed() {
		return nil, store.ErrShiftClosed
	}
	if shift.Version != tx.shift.Version {
		return nil, store.ErrConcurrentModification
	}

	shift.Version++
	tx.shift = cloneShift(shift)
	staged := cloneShift(shift)
	tx.saved = &staged
	saved := cloneShift(shift)
	return &saved, nil
}

func shiftMapKey(businessID string, outletID string, userID string) string {
	return businessID + "::" + outletID + "::" + userID
}

func employeeKey(businessID string, userID string) string {
	return businessID + "::" + userID
}

func cloneShift(src domain.CashierShift) domain.CashierShift {
	dst := src
	if src.ClosedAt != nil {
		closedAt := *src.ClosedAt
		dst.ClosedAt = &closedAt
	}
	if src.CountedCash != nil {
		counted := *src.CountedCash
		dst.CountedCash = &counted
	}
	if src.Variance != nil {
		variance := *src.Variance
		dst.Variance = &variance
	}
	if src.LastCalculatedAt != nil {
		calculatedAt := *src.LastCalculatedAt
		dst.LastCalculatedAt = &calculatedAt
	}
	if src.CloseReport != nil {
		report := *src.CloseReport
		dst.CloseReport = &report
	}
	return dst
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	if src.Payments != nil {
		dst.Payments = make([]domain.Payment, len(src.Payments))
		copy(dst.Payments, src.Payments)
	}
	return dst
}

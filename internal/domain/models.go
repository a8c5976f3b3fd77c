package domain

import (
	"encoding/json"
	"time"
)

// All money fields are int64 minor units.

type CashierShift struct {
	ID                   string          `json:"id"`
	BusinessID           string          `json:"business_id"`
	OutletID             string          `json:"outlet_id"`
	UserID               string          `json:"user_id"`
	EmployeeID           string          `json:"employee_id,omitempty"`
	ShiftName            string          `json:"shift_name"`
	Status               string          `json:"status"`
	OpeningBalance       int64           `json:"opening_balance"`
	OpeningNotes         string          `json:"opening_notes,omitempty"`
	OpenedAt             time.Time       `json:"opened_at"`
	ClosedAt             *time.Time      `json:"closed_at,omitempty"`
	ClosedBy             string          `json:"closed_by,omitempty"`
	ClosingNotes         string          `json:"closing_notes,omitempty"`
	CountedCash          *int64          `json:"counted_cash,omitempty"`
	ExpectedCash         int64           `json:"expected_cash"`
	ExpectedTotal        int64           `json:"expected_total"`
	ExpectedCard         int64           `json:"expected_card"`
	ExpectedTransfer     int64           `json:"expected_transfer"`
	ExpectedQris         int64           `json:"expected_qris"`
	ExpectedOther        int64           `json:"expected_other"`
	TotalTransactions    int             `json:"total_transactions"`
	CashTransactions     int             `json:"cash_transactions"`
	CardTransactions     int             `json:"card_transactions"`
	TransferTransactions int             `json:"transfer_transactions"`
	QrisTransactions     int             `json:"qris_transactions"`
	OtherTransactions    int             `json:"other_transactions"`
	Variance             *int64          `json:"variance,omitempty"`
	LastCalculatedAt     *time.Time      `json:"last_calculated_at,omitempty"`
	Version              int64           `json:"version"`
	CloseReport          *VarianceReport `json:"-"`
}

func (s CashierShift) IsClosed() bool {
	return s.Status == ShiftStatusClosed
}

// Holding reports whether the shift still occupies its (business, outlet, user) slot.
func (s CashierShift) Holding() bool {
	return s.Status == ShiftStatusOpen || s.Status == ShiftStatusClosing
}

type Order struct {
	ID            string    `json:"id"`
	BusinessID    string    `json:"business_id"`
	OutletID      string    `json:"outlet_id"`
	EmployeeID    string    `json:"employee_id,omitempty"`
	ShiftID       string    `json:"shift_id,omitempty"`
	Type          string    `json:"type"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	Total         int64     `json:"total"`
	PaidAmount    int64     `json:"paid_amount"`
	ChangeAmount  int64     `json:"change_amount"`
	CreatedAt     time.Time `json:"created_at"`
	Payments      []Payment `json:"payments,omitempty"`
}

type Payment struct {
	ID      string     `json:"id"`
	OrderID string     `json:"order_id"`
	Method  string     `json:"payment_method"`
	Amount  int64      `json:"amount"`
	Status  string     `json:"status"`
	PaidAt  *time.Time `json:"paid_at,omitempty"`
}

type Actor struct {
	UserID     string
	BusinessID string
	Role       string
}

type AuditLog struct {
	ID          string    `json:"id"`
	BusinessID  string    `json:"business_id"`
	ActorUserID string    `json:"actor_user_id"`
	ActorRole   string    `json:"actor_role"`
	Action      string    `json:"action"`
	EntityType  string    `json:"entity_type"`
	EntityID    string    `json:"entity_id"`
	Detail      string    `json:"detail"`
	CreatedAt   time.Time `json:"created_at"`
}

type ShiftFilter struct {
	BusinessID string
	OutletID   string
	UserID     string
	Statuses   []string
	From       *time.Time
	To         *time.Time
	Limit      int
}

type OrderFilter struct {
	BusinessID     string
	OutletID       string
	ShiftID        string
	UnassignedOnly bool
	PaidOnly       bool
	From           *time.Time
	To             *time.Time
	Limit          int
}

// MethodTotal is the net drawer impact and transaction count of one payment method.
type MethodTotal struct {
	Method string `json:"method"`
	Amount int64  `json:"amount"`
	Count  int    `json:"count"`
}

type Anomaly struct {
	OrderID string `json:"order_id"`
	Code    string `json:"code"`
	Detail  string `json:"detail,omitempty"`
}

type PaymentBreakdown struct {
	ByMethod        map[string]MethodTotal `json:"by_method"`
	SalesTotal      int64                  `json:"sales_total"`
	CountableOrders int                    `json:"countable_orders"`
	CashTendered    int64                  `json:"cash_tendered"`
	ChangeGiven     int64                  `json:"change_given"`
	Unallocated     int64                  `json:"unallocated"`
	OrderIDs        []string               `json:"order_ids"`
	Anomalies       []Anomaly              `json:"anomalies,omitempty"`
}

func (b PaymentBreakdown) Amount(method string) int64 {
	return b.ByMethod[method].Amount
}

func (b PaymentBreakdown) Count(method string) int {
	return b.ByMethod[method].Count
}

type LinkedOrder struct {
	Order  Order  `json:"order"`
	Source string `json:"source"`
}

type UnassignableOrder struct {
	OrderID   string    `json:"order_id"`
	Reason    string    `json:"reason"`
	Total     int64     `json:"total"`
	CreatedAt time.Time `json:"created_at"`
}

type LinkageResult struct {
	Linked       []LinkedOrder       `json:"linked"`
	Unassignable []UnassignableOrder `json:"unassignable"`
	Heuristic    bool                `json:"heuristic"`
}

func (r LinkageResult) Orders() []Order {
	orders := make([]Order, 0, len(r.Linked))
	for _, linked := range r.Linked {
		orders = append(orders, linked.Order)
	}
	return orders
}

type VarianceReport struct {
	ShiftID            string              `json:"shift_id"`
	BusinessID         string              `json:"business_id"`
	OutletID           string              `json:"outlet_id"`
	UserID             string              `json:"user_id"`
	ShiftName          string              `json:"shift_name"`
	Status             string              `json:"status"`
	Preliminary        bool                `json:"preliminary"`
	OpenedAt           time.Time           `json:"opened_at"`
	ClosedAt           *time.Time          `json:"closed_at,omitempty"`
	ClosedBy           string              `json:"closed_by,omitempty"`
	OpeningBalance     int64               `json:"opening_balance"`
	ExpectedCash       int64               `json:"expected_cash"`
	CountedCash        int64               `json:"counted_cash"`
	Variance           int64               `json:"variance"`
	VariancePct        string              `json:"variance_pct"`
	Classification     string              `json:"classification"`
	Severity           string              `json:"severity"`
	ExpectedTotal      int64               `json:"expected_total"`
	ActualTotal        int64               `json:"actual_total"`
	TotalDifference    int64               `json:"total_difference"`
	PerMethodBreakdown []MethodTotal       `json:"per_method_breakdown"`
	TransactionCount   int                 `json:"transaction_count"`
	OrderCount         int                 `json:"order_count"`
	OrphanedOrders     []UnassignableOrder `json:"orphaned_orders"`
	Anomalies          []Anomaly           `json:"anomalies,omitempty"`
	HeuristicLinkage   bool                `json:"heuristic_linkage"`
	SealedOrderIDs     []string            `json:"sealed_order_ids,omitempty"`
	ClosingNotes       string              `json:"closing_notes,omitempty"`
	GeneratedAt        time.Time           `json:"generated_at"`
}

type ShiftOpenRequest struct {
	OutletID       string `json:"outlet_id"`
	ShiftName      string `json:"shift_name"`
	OpeningBalance int64  `json:"opening_balance"`
	OpeningNotes   string `json:"opening_notes"`
}

type ShiftResponse struct {
	Shift CashierShift `json:"shift"`
}

type ShiftListResponse struct {
	Shifts []CashierShift `json:"shifts"`
}

// ShiftSummaryResponse is the caller's dashboard view of one outlet for the current day.
type ShiftSummaryResponse struct {
	HasActiveShift         bool          `json:"has_active_shift"`
	ActiveShift            *CashierShift `json:"active_shift"`
	TodayShiftsCount       int           `json:"today_shifts_count"`
	TodayTotalRevenue      int64         `json:"today_total_revenue"`
	TodayTotalTransactions int           `json:"today_total_transactions"`
}

type LinkedOrderSummary struct {
	LinkedOrders    int            `json:"linked_orders"`
	CountableOrders int            `json:"countable_orders"`
	SalesTotal      int64          `json:"sales_total"`
	ByStatus        map[string]int `json:"by_status"`
	LastOrderAt     *time.Time     `json:"last_order_at,omitempty"`
}

type ShiftDetailResponse struct {
	Shift  CashierShift       `json:"shift"`
	Orders LinkedOrderSummary `json:"orders"`
}

type RecalculateResponse struct {
	Shift          CashierShift        `json:"shift"`
	Breakdown      PaymentBreakdown    `json:"breakdown"`
	OrphanedOrders []UnassignableOrder `json:"orphaned_orders"`
	Backfilled     []string            `json:"backfilled_order_ids,omitempty"`
	Heuristic      bool                `json:"heuristic_linkage"`
}

type CloseInitiateRequest struct {
	CountedCash json.RawMessage `json:"counted_cash"`
	Notes       string          `json:"notes"`
}

type CloseAbortRequest struct {
	Reason     string `json:"reason"`
	ManagerPIN string `json:"manager_pin"`
}

type DiscrepancyOrder struct {
	OrderID   string    `json:"order_id"`
	Reason    string    `json:"reason"`
	Total     int64     `json:"total"`
	Countable bool      `json:"countable"`
	CreatedAt time.Time `json:"created_at"`
}

type DiscrepancyReport struct {
	ShiftID     string             `json:"shift_id"`
	Status      string             `json:"status"`
	Orders      []DiscrepancyOrder `json:"orders"`
	Delta       PaymentBreakdown   `json:"delta"`
	GeneratedAt time.Time          `json:"generated_at"`
}

type OrderEventRequest struct {
	Order    Order     `json:"order"`
	Payments []Payment `json:"payments"`
}

type OrderEventResponse struct {
	OrderID      string `json:"order_id"`
	ShiftID      string `json:"shift_id,omitempty"`
	Recalculated bool   `json:"recalculated"`
	PostClose    bool   `json:"post_close"`
}

type OrphanScanResponse struct {
	Orders []Order `json:"orders"`
	Total  int64   `json:"total"`
}

type DuplicateOpenShifts struct {
	BusinessID string         `json:"business_id"`
	OutletID   string         `json:"outlet_id"`
	UserID     string         `json:"user_id"`
	Shifts     []CashierShift `json:"shifts"`
}

const (
	ShiftStatusOpen    = "open"
	ShiftStatusClosing = "closing"
	ShiftStatusClosed  = "closed"
)

const (
	OrderStatusPending   = "pending"
	OrderStatusConfirmed = "confirmed"
	OrderStatusPreparing = "preparing"
	OrderStatusReady     = "ready"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"

	PaymentStatusUnpaid = "unpaid"
	PaymentStatusPaid   = "paid"

	OrderTypePOS         = "pos"
	OrderTypeSelfService = "self_service"
)

const (
	PaymentSuccess = "success"
	PaymentPending = "pending"
	PaymentFailed  = "failed"

	MethodCash     = "cash"
	MethodCard     = "card"
	MethodTransfer = "transfer"
	MethodQris     = "qris"
)

const (
	LinkSourceShiftID     = "shift_id"
	LinkSourceFallback    = "fallback"
	LinkSourceSelfService = "self_service"

	UnassignableMultipleOpenShifts   = "multiple_open_shifts"
	UnassignableShiftEmployeeUnknown = "shift_employee_unknown"
	UnassignableEmployeeWithoutShift = "employee_without_shift"
	UnassignableClaimedConcurrently  = "claimed_concurrently"
)

const (
	RoleCashier    = "cashier"
	RoleSupervisor = "supervisor"
	RoleOwner      = "owner"
	RoleSystem     = "system"
)

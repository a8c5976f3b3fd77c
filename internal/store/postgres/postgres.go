package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"kasirshift/backend/internal/domain"
	"kasirshift/backend/internal/store"
	"kasirshift/backend/internal/xid"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sqlx.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the idempotent schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const shiftColumns = `id, business_id, outlet_id, user_id, employee_id, shift_name, status,
	opening_balance, opening_notes, opened_at, closed_at, closed_by, closing_notes, counted_cash,
	expected_cash, expected_total, expected_card, expected_transfer, expected_qris, expected_other,
	total_transactions, cash_transactions, card_transactions, transfer_transactions, qris_transactions, other_transactions,
	variance, last_calculated_at, version, close_report`

type shiftRow struct {
	ID                   string         `db:"id"`
	BusinessID           string         `db:"business_id"`
	OutletID             string         `db:"outlet_id"`
	UserID               string         `db:"user_id"`
	EmployeeID           sql.NullString `db:"employee_id"`
	ShiftName            string         `db:"shift_name"`
	Status               string         `db:"status"`
	OpeningBalance       int64          `db:"opening_balance"`
	OpeningNotes         string         `db:"opening_notes"`
	OpenedAt             time.Time      `db:"opened_at"`
	ClosedAt             sql.NullTime   `db:"closed_at"`
	ClosedBy             sql.NullString `db:"closed_by"`
	ClosingNotes         string         `db:"closing_notes"`
	CountedCash          sql.NullInt64  `db:"counted_cash"`
	ExpectedCash         int64          `db:"expected_cash"`
	ExpectedTotal        int64          `db:"expected_total"`
	ExpectedCard         int64          `db:"expected_card"`
	ExpectedTransfer     int64          `db:"expected_transfer"`
	ExpectedQris         int64          `db:"expected_qris"`
	ExpectedOther        int64          `db:"expected_other"`
	TotalTransactions    int            `db:"total_transactions"`
	CashTransactions     int            `db:"cash_transactions"`
	CardTransactions     int            `db:"card_transactions"`
	TransferTransactions int            `db:"transfer_transactions"`
	QrisTransactions     int            `db:"qris_transactions"`
	OtherTransactions    int            `db:"other_transactions"`
	Variance             sql.NullInt64  `db:"variance"`
	LastCalculatedAt     sql.NullTime   `db:"last_calculated_at"`
	Version              int64          `db:"version"`
	CloseReport          []byte         `db:"close_report"`
}

func (r shiftRow) toDomain() (domain.CashierShift, error) {
	shift := domain.CashierShift{
		ID:                   r.ID,
		BusinessID:           r.BusinessID,
		OutletID:             r.OutletID,
		UserID:               r.UserID,
		EmployeeID:           r.EmployeeID.String,
		ShiftName:            r.ShiftName,
		Status:               r.Status,
		OpeningBalance:       r.OpeningBalance,
		OpeningNotes:         r.OpeningNotes,
		OpenedAt:             r.OpenedAt.UTC(),
		ClosedAt:             timePtr(r.ClosedAt),
		ClosedBy:             r.ClosedBy.String,
		ClosingNotes:         r.ClosingNotes,
		CountedCash:          int64Ptr(r.CountedCash),
		ExpectedCash:         r.ExpectedCash,
		ExpectedTotal:        r.ExpectedTotal,
		ExpectedCard:         r.ExpectedCard,
		ExpectedTransfer:     r.ExpectedTransfer,
		ExpectedQris:         r.ExpectedQris,
		ExpectedOther:        r.ExpectedOther,
		TotalTransactions:    r.TotalTransactions,
		CashTransactions:     r.CashTransactions,
		CardTransactions:     r.CardTransactions,
		TransferTransactions: r.TransferTransactions,
		QrisTransactions:     r.QrisTransactions,
		OtherTransactions:    r.OtherTransactions,
		Variance:             int64Ptr(r.Variance),
		LastCalculatedAt:     timePtr(r.LastCalculatedAt),
		Version:              r.Version,
	}
	if len(r.CloseReport) > 0 {
		var report domain.VarianceReport
		if err := json.Unmarshal(r.CloseReport, &report); err != nil {
			return domain.CashierShift{}, fmt.Errorf("decode close report of shift %s: %w", r.ID, err)
		}
		shift.CloseReport = &report
	}
	return shift, nil
}

type orderRow struct {
	ID            string         `db:"id"`
	BusinessID    string         `db:"business_id"`
	OutletID      string         `db:"outlet_id"`
	EmployeeID    sql.NullString `db:"employee_id"`
	ShiftID       sql.NullString `db:"shift_id"`
	Type          string         `db:"type"`
	Status        string         `db:"status"`
	PaymentStatus string         `db:"payment_status"`
	Total         int64          `db:"total"`
	PaidAmount    int64          `db:"paid_amount"`
	ChangeAmount  int64          `db:"change_amount"`
	CreatedAt     time.Time      `db:"created_at"`
}

type paymentRow struct {
	ID      string       `db:"id"`
	OrderID string       `db:"order_id"`
	Method  string       `db:"payment_method"`
	Amount  int64        `db:"amount"`
	Status  string       `db:"status"`
	PaidAt  sql.NullTime `db:"paid_at"`
}

type auditRow struct {
	ID          string    `db:"id"`
	BusinessID  string    `db:"business_id"`
	ActorUserID string    `db:"actor_user_id"`
	ActorRole   string    `db:"actor_role"`
	Action      string    `db:"action"`
	EntityType  string    `db:"entity_type"`
	EntityID    string    `db:"entity_id"`
	Detail      string    `db:"detail"`
	CreatedAt   time.Time `db:"created_at"`
}

func (s *Store) CreateShift(ctx context.Context, shift domain.CashierShift) (*domain.CashierShift, error) {
	if strings.TrimSpace(shift.BusinessID) == "" || strings.TrimSpace(shift.OutletID) == "" || strings.TrimSpace(shift.UserID) == "" {
		return nil, store.ErrInvalidInput
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cashier_shifts (
			id, business_id, outlet_id, user_id, employee_id, shift_name, status,
			opening_balance, opening_notes, opened_at, expected_cash, version
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, shift.ID, shift.BusinessID, shift.OutletID, shift.UserID, nullIfEmpty(shift.EmployeeID), shift.ShiftName, shift.Status,
		shift.OpeningBalance, shift.OpeningNotes, shift.OpenedAt, shift.ExpectedCash, shift.Version)
	if err != nil {
		return nil, classify(err)
	}
	created := shift
	return &created, nil
}

func (s *Store) GetShift(ctx context.Context, shiftID string) (*domain.CashierShift, error) {
	return getShift(ctx, s.db, `SELECT `+shiftColumns+` FROM cashier_shifts WHERE id = $1`, shiftID)
}

func (s *Store) FindOpenShift(ctx context.Context, businessID string, outletID string, userID string) (*domain.CashierShift, error) {
	return getShift(ctx, s.db, `
		SELECT `+shiftColumns+`
		FROM cashier_shifts
		WHERE business_id = $1 AND outlet_id = $2 AND user_id = $3 AND status IN ('open', 'closing')
		ORDER BY opened_at DESC
		LIMIT 1
	`, businessID, outletID, userID)
}

func (s *Store) ListShifts(ctx context.Context, filter domain.ShiftFilter) ([]domain.CashierShift, error) {
	where := &conditions{}
	where.add("business_id = ?", filter.BusinessID, filter.BusinessID != "")
	where.add("outlet_id = ?", filter.OutletID, filter.OutletID != "")
	where.add("user_id = ?", filter.UserID, filter.UserID != "")
	where.add("status = ANY(?)", filter.Statuses, len(filter.Statuses) > 0)
	if filter.From != nil {
		where.add("opened_at >= ?", *filter.From, true)
	}
	if filter.To != nil {
		where.add("opened_at <= ?", *filter.To, true)
	}

	query := `SELECT ` + shiftColumns + ` FROM cashier_shifts` + where.clause() + ` ORDER BY opened_at DESC, id DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	return selectShifts(ctx, s.db, s.db.Rebind(query), where.args...)
}

// WithShiftLock locks the shift row with NOWAIT. A row already locked by
// another writer surfaces as store.ErrConcurrentModification.
func (s *Store) WithShiftLock(ctx context.Context, shiftID string, fn func(tx store.ShiftTx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	shift, err := getShift(ctx, tx, `SELECT `+shiftColumns+` FROM cashier_shifts WHERE id = $1 FOR UPDATE NOWAIT`, shiftID)
	if err != nil {
		return err
	}

	if err := fn(&shiftTx{ctx: ctx, tx: tx, shift: *shift}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

// RecordOrder upserts an order from the feed. An existing shift link survives
// an update that carries none, and payments are replaced only when supplied.
func (s *Store) RecordOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if strings.TrimSpace(order.BusinessID) == "" || strings.TrimSpace(order.OutletID) == "" || order.Total < 0 {
		return nil, store.ErrInvalidInput
	}
	if order.ID == "" {
		order.ID = xid.New("order")
	}
	var createdAt *time.Time
	if !order.CreatedAt.IsZero() {
		createdAt = &order.CreatedAt
	}

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var shiftID sql.NullString
	err = tx.QueryRowxContext(ctx, `
		INSERT INTO orders (
			id, business_id, outlet_id, employee_id, shift_id, type, status, payment_status,
			total, paid_amount, change_amount, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,COALESCE($12::timestamptz, now()))
		ON CONFLICT (id) DO UPDATE SET
			business_id = EXCLUDED.business_id,
			outlet_id = EXCLUDED.outlet_id,
			employee_id = EXCLUDED.employee_id,
			shift_id = COALESCE(EXCLUDED.shift_id, orders.shift_id),
			type = EXCLUDED.type,
			status = EXCLUDED.status,
			payment_status = EXCLUDED.payment_status,
			total = EXCLUDED.total,
			paid_amount = EXCLUDED.paid_amount,
			change_amount = EXCLUDED.change_amount,
			created_at = COALESCE($12::timestamptz, orders.created_at)
		RETURNING shift_id, created_at
	`, order.ID, order.BusinessID, order.OutletID, nullIfEmpty(order.EmployeeID), nullIfEmpty(order.ShiftID),
		order.Type, order.Status, order.PaymentStatus, order.Total, order.PaidAmount, order.ChangeAmount, nullTime(createdAt),
	).Scan(&shiftID, &order.CreatedAt)
	if err != nil {
		return nil, classify(err)
	}
	order.ShiftID = shiftID.String
	order.CreatedAt = order.CreatedAt.UTC()

	if order.Payments != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM payments WHERE order_id = $1`, order.ID); err != nil {
			return nil, err
		}
		for i := range order.Payments {
			payment := &order.Payments[i]
			if payment.ID == "" {
				payment.ID = xid.New("pay")
			}
			payment.OrderID = order.ID
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO payments (id, order_id, payment_method, amount, status, paid_at)
				VALUES ($1,$2,$3,$4,$5,$6)
			`, payment.ID, payment.OrderID, payment.Method, payment.Amount, payment.Status, nullTime(payment.PaidAt)); err != nil {
				return nil, classify(err)
			}
		}
	} else {
		payments, err := loadPayments(ctx, tx, []string{order.ID})
		if err != nil {
			return nil, err
		}
		order.Payments = payments[order.ID]
	}

	if err := tx.Commit(); err != nil {
		return nil, classify(err)
	}
	return &order, nil
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	var row orderRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	payments, err := loadPayments(ctx, s.db, []string{orderID})
	if err != nil {
		return nil, err
	}
	order := row.toDomain()
	order.Payments = payments[order.ID]
	return &order, nil
}

func (s *Store) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	return listOrders(ctx, s.db, filter)
}

func (s *Store) ResolveEmployeeID(ctx context.Context, businessID string, userID string) (string, error) {
	return resolveEmployeeID(ctx, s.db, businessID, userID)
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, business_id, actor_user_id, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.BusinessID, entry.ActorUserID, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, businessID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	var rows []auditRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, business_id, actor_user_id, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE business_id = $1
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, businessID, from, to, limit)
	if err != nil {
		return nil, err
	}

	logs := make([]domain.AuditLog, 0, len(rows))
	for _, row := range rows {
		logs = append(logs, domain.AuditLog{
			ID:          row.ID,
			BusinessID:  row.BusinessID,
			ActorUserID: row.ActorUserID,
			ActorRole:   row.ActorRole,
			Action:      row.Action,
			EntityType:  row.EntityType,
			EntityID:    row.EntityID,
			Detail:      row.Detail,
			CreatedAt:   row.CreatedAt.UTC(),
		})
	}
	return logs, nil
}

// AddEmployee registers the employee record a user maps to within a business.
func (s *Store) AddEmployee(ctx context.Context, businessID string, userID string, employeeID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (id, business_id, user_id)
		VALUES ($1,$2,$3)
		ON CONFLICT (business_id, user_id) DO UPDATE SET id = EXCLUDED.id
	`, employeeID, businessID, userID)
	return err
}

type shiftTx struct {
	ctx   context.Context
	tx    *sqlx.Tx
	shift domain.CashierShift
}

func (t *shiftTx) Shift() domain.CashierShift {
	return t.shift
}

func (t *shiftTx) ListOrders(filter domain.OrderFilter) ([]domain.Order, error) {
	return listOrders(t.ctx, t.tx, filter)
}

func (t *shiftTx) ListHoldingShifts(businessID string, outletID string) ([]domain.CashierShift, error) {
	return selectShifts(t.ctx, t.tx, `
		SELECT `+shiftColumns+`
		FROM cashier_shifts
		WHERE business_id = $1 AND outlet_id = $2 AND status IN ('open', 'closing')
		ORDER BY id
	`, businessID, outletID)
}

func (t *shiftTx) ResolveEmployeeID(businessID string, userID string) (string, error) {
	return resolveEmployeeID(t.ctx, t.tx, businessID, userID)
}

func (t *shiftTx) ClaimOrder(orderID string, shiftID string) (bool, error) {
	res, err := t.tx.ExecContext(t.ctx, `UPDATE orders SET shift_id = $2 WHERE id = $1 AND shift_id IS NULL`, orderID, shiftID)
	if err != nil {
		return false, classify(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (t *shiftTx) SaveShift(shift domain.CashierShift) (*domain.CashierShift, error) {
	if shift.ID != t.shift.ID {
		return nil, store.ErrInvalidInput
	}
	if t.shift.IsClosed() {
		return nil, store.ErrShiftClosed
	}

	var closeReport any
	if shift.CloseReport != nil {
		encoded, err := json.Marshal(shift.CloseReport)
		if err != nil {
			return nil, err
		}
		closeReport = string(encoded)
	}

	saved, err := getShift(t.ctx, t.tx, `
		UPDATE cashier_shifts SET
			status = $3, shift_name = $4, opening_notes = $5, closed_at = $6, closed_by = $7, closing_notes = $8,
			counted_cash = $9, expected_cash = $10, expected_total = $11, expected_card = $12,
			expected_transfer = $13, expected_qris = $14, expected_other = $15,
			total_transactions = $16, cash_transactions = $17, card_transactions = $18,
			transfer_transactions = $19, qris_transactions = $20, other_transactions = $21,
			variance = $22, last_calculated_at = $23, close_report = $24::jsonb, employee_id = $25,
			version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING `+shiftColumns,
		shift.ID, shift.Version,
		shift.Status, shift.ShiftName, shift.OpeningNotes, nullTime(shift.ClosedAt), nullIfEmpty(shift.ClosedBy), shift.ClosingNotes,
		nullInt64(shift.CountedCash), shift.ExpectedCash, shift.ExpectedTotal, shift.ExpectedCard,
		shift.ExpectedTransfer, shift.ExpectedQris, shift.ExpectedOther,
		shift.TotalTransactions, shift.CashTransactions, shift.CardTransactions,
		shift.TransferTransactions, shift.QrisTransactions, shift.OtherTransactions,
		nullInt64(shift.Variance), nullTime(shift.LastCalculatedAt), closeReport, nullIfEmpty(shift.EmployeeID),
	)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, store.ErrConcurrentModification
		}
		return nil, err
	}
	t.shift = *saved
	return saved, nil
}

const orderColumns = `id, business_id, outlet_id, employee_id, shift_id, type, status, payment_status,
	total, paid_amount, change_amount, created_at`

func (r orderRow) toDomain() domain.Order {
	return domain.Order{
		ID:            r.ID,
		BusinessID:    r.BusinessID,
		OutletID:      r.OutletID,
		EmployeeID:    r.EmployeeID.String,
		ShiftID:       r.ShiftID.String,
		Type:          r.Type,
		Status:        r.Status,
		PaymentStatus: r.PaymentStatus,
		Total:         r.Total,
		PaidAmount:    r.PaidAmount,
		ChangeAmount:  r.ChangeAmount,
		CreatedAt:     r.CreatedAt.UTC(),
	}
}

func getShift(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) (*domain.CashierShift, error) {
	var row shiftRow
	if err := sqlx.GetContext(ctx, q, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, classify(err)
	}
	shift, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &shift, nil
}

func selectShifts(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) ([]domain.CashierShift, error) {
	var rows []shiftRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, classify(err)
	}
	shifts := make([]domain.CashierShift, 0, len(rows))
	for _, row := range rows {
		shift, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		shifts = append(shifts, shift)
	}
	return shifts, nil
}

func listOrders(ctx context.Context, q sqlx.ExtContext, filter domain.OrderFilter) ([]domain.Order, error) {
	where := &conditions{}
	where.add("business_id = ?", filter.BusinessID, filter.BusinessID != "")
	where.add("outlet_id = ?", filter.OutletID, filter.OutletID != "")
	where.add("shift_id = ?", filter.ShiftID, filter.ShiftID != "")
	if filter.UnassignedOnly {
		where.raw("shift_id IS NULL")
	}
	where.add("payment_status = ?", domain.PaymentStatusPaid, filter.PaidOnly)
	if filter.From != nil {
		where.add("created_at >= ?", *filter.From, true)
	}
	if filter.To != nil {
		where.add("created_at <= ?", *filter.To, true)
	}

	query := `SELECT ` + orderColumns + ` FROM orders` + where.clause() + ` ORDER BY created_at, id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	var rows []orderRow
	if err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(query), where.args...); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []domain.Order{}, nil
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	payments, err := loadPayments(ctx, q, ids)
	if err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(rows))
	for _, row := range rows {
		order := row.toDomain()
		order.Payments = payments[order.ID]
		orders = append(orders, order)
	}
	return orders, nil
}

func loadPayments(ctx context.Context, q sqlx.QueryerContext, orderIDs []string) (map[string][]domain.Payment, error) {
	var rows []paymentRow
	if err := sqlx.SelectContext(ctx, q, &rows, `
		SELECT id, order_id, payment_method, amount, status, paid_at
		FROM payments
		WHERE order_id = ANY($1)
		ORDER BY order_id, id
	`, orderIDs); err != nil {
		return nil, err
	}

	result := make(map[string][]domain.Payment, len(orderIDs))
	for _, row := range rows {
		result[row.OrderID] = append(result[row.OrderID], domain.Payment{
			ID:      row.ID,
			OrderID: row.OrderID,
			Method:  row.Method,
			Amount:  row.Amount,
			Status:  row.Status,
			PaidAt:  timePtr(row.PaidAt),
		})
	}
	return result, nil
}

func resolveEmployeeID(ctx context.Context, q sqlx.QueryerContext, businessID string, userID string) (string, error) {
	var employeeID string
	err := sqlx.GetContext(ctx, q, &employeeID, `
		SELECT id FROM employees WHERE business_id = $1 AND user_id = $2 LIMIT 1
	`, businessID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return employeeID, nil
}

// conditions collects WHERE fragments written with '?' placeholders; callers
// Rebind the final query for the pgx driver.
type conditions struct {
	parts []string
	args  []any
}

func (c *conditions) add(fragment string, arg any, when bool) {
	if !when {
		return
	}
	c.parts = append(c.parts, fragment)
	c.args = append(c.args, arg)
}

func (c *conditions) raw(fragment string) {
	c.parts = append(c.parts, fragment)
}

func (c *conditions) clause() string {
	if len(c.parts) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.parts, " AND ")
}

// classify maps Postgres conflicts onto store sentinels.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		if pgErr.ConstraintName == "cashier_shifts_one_holding" {
			return fmt.Errorf("%w: %s", store.ErrShiftAlreadyOpen, pgErr.Message)
		}
		return fmt.Errorf("%w: %s", store.ErrInvalidInput, pgErr.Message)
	case "55P03", "40001", "40P01":
		return fmt.Errorf("%w: %s", store.ErrConcurrentModification, pgErr.Message)
	case "23503", "23514":
		return fmt.Errorf("%w: %s", store.ErrInvalidInput, pgErr.Message)
	}
	return err
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullInt64(val *int64) any {
	if val == nil {
		return nil
	}
	return *val
}

func timePtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	at := val.Time.UTC()
	return &at
}

func int64Ptr(val sql.NullInt64) *int64 {
	if !val.Valid {
		return nil
	}
	v := val.Int64
	return &v
}

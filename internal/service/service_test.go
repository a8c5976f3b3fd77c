package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"kasirshift/backend/internal/cache"
	"kasirshift/backend/internal/domain"
	"kasirshift/backend/internal/reconcile"
	"kasirshift/backend/internal/store"
	"kasirshift/backend/internal/store/memory"
)

var testOpenedAt = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newTestService() (*Service, *memory.Store, *testClock) {
	repo := memory.New()
	repo.AddEmployee("biz-1", "cashier-1", "emp-1")
	repo.AddEmployee("biz-1", "cashier-2", "emp-2")

	clock := &testClock{now: testOpenedAt}
	svc := New(repo, cache.NewLocalReportCache(), DefaultOptions())
	svc.now = clock.Now
	return svc, repo, clock
}

func cashierCtx(userID string) context.Context {
	return WithActor(context.Background(), domain.Actor{UserID: userID, BusinessID: "biz-1", Role: domain.RoleCashier})
}

func supervisorCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{UserID: "supervisor-1", BusinessID: "biz-1", Role: domain.RoleSupervisor})
}

func openShift(t *testing.T, svc *Service, ctx context.Context, openingBalance int64) domain.CashierShift {
	t.Helper()
	resp, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{OutletID: "outlet-1", OpeningBalance: openingBalance})
	if err != nil {
		t.Fatalf("open shift failed: %v", err)
	}
	return resp.Shift
}

func recordCashOrder(t *testing.T, repo *memory.Store, id string, shiftID string, employeeID string, total int64, tendered int64, at time.Time) {
	t.Helper()
	change := tendered - total
	if change < 0 {
		change = 0
	}
	_, err := repo.RecordOrder(context.Background(), domain.Order{
		ID:            id,
		BusinessID:    "biz-1",
		OutletID:      "outlet-1",
		EmployeeID:    employeeID,
		ShiftID:       shiftID,
		Type:          domain.OrderTypePOS,
		Status:        domain.OrderStatusCompleted,
		PaymentStatus: domain.PaymentStatusPaid,
		Total:         total,
		PaidAmount:    tendered,
		ChangeAmount:  change,
		CreatedAt:     at,
		Payments: []domain.Payment{{
			Method: domain.MethodCash,
			Amount: tendered,
			Status: domain.PaymentSuccess,
		}},
	})
	if err != nil {
		t.Fatalf("record order %s failed: %v", id, err)
	}
}

func countedCash(v string) json.RawMessage {
	return json.RawMessage(v)
}

func TestOpenShiftDefaultsAndUniqueness(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := cashierCtx("cashier-1")

	shift := openShift(t, svc, ctx, 200000)
	if shift.EmployeeID != "emp-1" {
		t.Fatalf("expected employee resolved at open, got %q", shift.EmployeeID)
	}
	if shift.ShiftName != "Shift 02/03/2026 08:00" {
		t.Fatalf("unexpected default shift name %q", shift.ShiftName)
	}
	if shift.ExpectedCash != 200000 {
		t.Fatalf("expected cash to start at opening balance, got %d", shift.ExpectedCash)
	}

	_, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{OutletID: "outlet-1", OpeningBalance: 1000})
	if !errors.Is(err, store.ErrShiftAlreadyOpen) {
		t.Fatalf("expected ErrShiftAlreadyOpen, got %v", err)
	}

	_, err = svc.OpenShift(cashierCtx("cashier-2"), domain.ShiftOpenRequest{OutletID: "outlet-1", OpeningBalance: -1})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected negative opening balance rejected, got %v", err)
	}

	found, err := svc.FindOpenShift(ctx, "outlet-1")
	if err != nil || found.Shift.ID != shift.ID {
		t.Fatalf("expected find open shift to return %s, got %+v err=%v", shift.ID, found, err)
	}
}

func TestScenarioBFallbackBackfillsUnlinkedOrders(t *testing.T) {
	svc, repo, clock := newTestService()
	ctx := cashierCtx("cashier-1")
	shift := openShift(t, svc, ctx, 100000)

	recordCashOrder(t, repo, "ord-1", "", "emp-1", 10000, 10000, testOpenedAt.Add(time.Hour))
	recordCashOrder(t, repo, "ord-2", "", "emp-1", 20000, 50000, testOpenedAt.Add(2*time.Hour))
	recordCashOrder(t, repo, "ord-3", "", "emp-1", 30000, 30000, testOpenedAt.Add(3*time.Hour))
	clock.Set(testOpenedAt.Add(4 * time.Hour))

	resp, err := svc.RecalculateShift(ctx, shift.ID)
	if err != nil {
		t.Fatalf("recalculate failed: %v", err)
	}
	if !resp.Heuristic {
		t.Fatalf("expected heuristic linkage to be reported")
	}
	if len(resp.Backfilled) != 3 {
		t.Fatalf("expected 3 backfilled orders, got %v", resp.Backfilled)
	}
	if resp.Shift.ExpectedTotal != 60000 || resp.Shift.ExpectedCash != 160000 || resp.Shift.TotalTransactions != 3 {
		t.Fatalf("unexpected totals %+v", resp.Shift)
	}
	for _, id := range []string{"ord-1", "ord-2", "ord-3"} {
		order, _ := repo.GetOrder(context.Background(), id)
		if order.ShiftID != shift.ID {
			t.Fatalf("expected %s backfilled to %s, got %q", id, shift.ID, order.ShiftID)
		}
	}

	again, err := svc.RecalculateShift(ctx, shift.ID)
	if err != nil {
		t.Fatalf("second recalculate failed: %v", err)
	}
	if again.Heuristic || len(again.Backfilled) != 0 {
		t.Fatalf("expected primary linkage on second run, got %+v", again)
	}
	if again.Shift.ExpectedCash != resp.Shift.ExpectedCash || again.Shift.ExpectedTotal != resp.Shift.ExpectedTotal {
		t.Fatalf("expected idempotent totals, got %+v vs %+v", again.Shift, resp.Shift)
	}
}

func TestScenarioCClosedShiftRejectsRecalculate(t *testing.T) {
	svc, repo, clock := newTestService()
	ctx := cashierCtx("cashier-1")
	shift := openShift(t, svc, ctx, 200000)
	recordCashOrder(t, repo, "ord-1", shift.ID, "emp-1", 82500, 100000, testOpenedAt.Add(time.Hour))
	clock.Set(testOpenedAt.Add(8 * time.Hour))

	if _, err := svc.InitiateClose(ctx, shift.ID, domain.CloseInitiateRequest{CountedCash: countedCash(`282500`)}); err != nil {
		t.Fatalf("initiate close failed: %v", err)
	}
	if _, err := svc.FinalizeClose(ctx, shift.ID); err != nil {
		t.Fatalf("finalize close failed: %v", err)
	}
	before, _ := repo.GetShift(context.Background(), shift.ID)

	recordCashOrder(t, repo, "ord-late", shift.ID, "emp-1", 5000, 5000, testOpenedAt.Add(2*time.Hour))
	for i := 0; i < 3; i++ {
		if _, err := svc.RecalculateShift(ctx, shift.ID); !errors.Is(err, store.ErrShiftClosed) {
			t.Fatalf("expected ErrShiftClosed, got %v", err)
		}
	}
	if _, err := svc.InitiateClose(ctx, shift.ID, domain.CloseInitiateRequest{CountedCash: countedCash(`1`)}); !errors.Is(err, store.ErrShiftClosed) {
		t.Fatalf("expected ErrShiftClosed on initiate, got %v", err)
	}
	if _, err := svc.FinalizeClose(ctx, shift.ID); !errors.Is(err, store.ErrShiftClosed) {
		t.Fatalf("expected ErrShiftClosed on finalize, got %v", err)
	}

	after, _ := repo.GetShift(context.Background(), shift.ID)
	if after.Version != before.Version || after.ExpectedCash != before.ExpectedCash || after.ExpectedTotal != before.ExpectedTotal {
		t.Fatalf("closed shift changed: before=%+v after=%+v", before, after)
	}
}

func TestScenarioDForeignShiftOrderNotStolen(t *testing.T) {
	svc, repo, clock := newTestService()
	other := openShift(t, svc, cashierCtx("cashier-2"), 50000)
	shift := openShift(t, svc, cashierCtx("cashier-1"), 100000)

	recordCashOrder(t, repo, "ord-foreign", other.ID, "emp-1", 40000, 40000, testOpenedAt.Add(time.Hour))
	recordCashOrder(t, repo, "ord-mine", "", "emp-1", 15000, 20000, testOpenedAt.Add(2*time.Hour))
	clock.Set(testOpenedAt.Add(3 * time.Hour))

	resp, err := svc.RecalculateShift(cashierCtx("cashier-1"), shift.ID)
	if err != nil {
		t.Fatalf("recalculate failed: %v", err)
	}
	if resp.Shift.ExpectedTotal != 15000 || resp.Shift.TotalTransactions != 1 {
		t.Fatalf("expected only the unassigned order counted, got %+v", resp.Shift)
	}
	foreign, _ := repo.GetOrder(context.Background(), "ord-foreign")
	if foreign.ShiftID != other.ID {
		t.Fatalf("fallback overwrote shift_id: got %q", foreign.ShiftID)
	}
}

func TestFallbackFlagsAmbiguousOrdersWithTwoOpenShifts(t *testing.T) {
	svc, repo, clock := newTestService()
	openShift(t, svc, cashierCtx("cashier-2"), 50000)
	shift := openShift(t, svc, cashierCtx("cashier-1"), 100000)

	recordCashOrder(t, repo, "ord-anon", "", "", 12000, 12000, testOpenedAt.Add(time.Hour))
	recordCashOrder(t, repo, "ord-emp2", "", "emp-2", 9000, 9000, testOpenedAt.Add(time.Hour))
	clock.Set(testOpenedAt.Add(2 * time.Hour))

	resp, err := svc.RecalculateShift(cashierCtx("cashier-1"), shift.ID)
	if err != nil {
		t.Fatalf("recalculate failed: %v", err)
	}
	if resp.Shift.ExpectedTotal != 0 {
		t.Fatalf("expected nothing attributed, got %d", resp.Shift.ExpectedTotal)
	}
	if len(resp.OrphanedOrders) != 1 || resp.OrphanedOrders[0].OrderID != "ord-anon" {
		t.Fatalf("expected ord-anon reported as orphan, got %+v", resp.OrphanedOrders)
	}
	anon, _ := repo.GetOrder(context.Background(), "ord-anon")
	if anon.ShiftID != "" {
		t.Fatalf("ambiguous order must stay unassigned")
	}
}

func TestScenarioECloseWorkflowReportsShortage(t *testing.T) {
	svc, repo, clock := newTestService()
	ctx := cashierCtx("cashier-1")
	shift := openShift(t, svc, ctx, 200000)
	recordCashOrder(t, repo, "ord-1", shift.ID, "emp-1", 82500, 100000, testOpenedAt.Add(time.Hour))
	recordCashOrder(t, repo, "ord-2", shift.ID, "emp-1", 154000, 200000, testOpenedAt.Add(2*time.Hour))
	clock.Set(testOpenedAt.Add(8 * time.Hour))

	preliminary, err := svc.InitiateClose(ctx, shift.ID, domain.CloseInitiateRequest{CountedCash: countedCash(`400000`), Notes: " drawer short "})
	if err != nil {
		t.Fatalf("initiate close failed: %v", err)
	}
	if !preliminary.Preliminary || preliminary.Status != domain.ShiftStatusClosing {
		t.Fatalf("expected preliminary closing report, got %+v", preliminary)
	}
	if preliminary.ExpectedCash != 436500 || preliminary.Variance != -36500 {
		t.Fatalf("expected 436500/-36500, got %d/%d", preliminary.ExpectedCash, preliminary.Variance)
	}

	if _, err := svc.InitiateClose(ctx, shift.ID, domain.CloseInitiateRequest{CountedCash: countedCash(`1`)}); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for double initiate, got %v", err)
	}

	clock.Set(testOpenedAt.Add(8*time.Hour + time.Minute))
	final, err := svc.FinalizeClose(ctx, shift.ID)
	if err != nil {
		t.Fatalf("finalize close failed: %v", err)
	}
	if final.Preliminary || final.Variance != -36500 || final.Classification != reconcile.ClassificationShort {
		t.Fatalf("unexpected final report %+v", final)
	}
	if final.ClosingNotes != "drawer short" || final.ClosedBy != "cashier-1" {
		t.Fatalf("expected notes and closer recorded, got %+v", final)
	}
	if len(final.SealedOrderIDs) != 2 || final.TransactionCount != 2 || final.ExpectedTotal != 236500 {
		t.Fatalf("unexpected sealed content %+v", final)
	}

	stored, _ := repo.GetShift(context.Background(), shift.ID)
	if stored.Status != domain.ShiftStatusClosed || stored.Variance == nil || *stored.Variance != -36500 || stored.ClosedAt == nil {
		t.Fatalf("unexpected stored shift %+v", stored)
	}
	if stored.ExpectedCash != final.ExpectedCash {
		t.Fatalf("persisted snapshot differs from report: %d vs %d", stored.ExpectedCash, final.ExpectedCash)
	}

	report, err := svc.ShiftReport(ctx, shift.ID)
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if report.Variance != -36500 || report.GeneratedAt != final.GeneratedAt {
		t.Fatalf("expected sealed report, got %+v", report)
	}
}

func TestInitiateCloseRejectsInvalidCountedCash(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := cashierCtx("cashier-1")
	shift := openShift(t, svc, ctx, 100000)

	for _, raw := range []string{`-5`, `"lots"`, `null`} {
		_, err := svc.InitiateClose(ctx, shift.ID, domain.CloseInitiateRequest{CountedCash: countedCash(raw)})
		if !errors.Is(err, store.ErrInvalidCountedCash) {
			t.Fatalf("expected ErrInvalidCountedCash for %s, got %v", raw, err)
		}
	}

	stored, _ := repo.GetShift(context.Background(), shift.ID)
	if stored.Status != domain.ShiftStatusOpen || stored.CountedCash != nil || stored.Version != 1 {
		t.Fatalf("expected shift untouched, got %+v", stored)
	}
}

func TestAbortCloseReturnsShiftToOpen(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := cashierCtx("cashier-1")
	shift := openShift(t, svc, ctx, 100000)

	if _, err := svc.AbortClose(ctx, shift.ID, domain.CloseAbortRequest{Reason: "miscount"}); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected abort on open shift rejected, got %v", err)
	}
	if _, err := svc.FinalizeClose(ctx, shift.ID); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected finalize on open shift rejected, got %v", err)
	}

	if _, err := svc.InitiateClose(ctx, shift.ID, domain.CloseInitiateRequest{CountedCash: countedCash(`90000`)}); err != nil {
		t.Fatalf("initiate close failed: %v", err)
	}
	resp, err := svc.AbortClose(ctx, shift.ID, domain.CloseAbortRequest{Reason: "miscount"})
	if err != nil {
		t.Fatalf("abort failed: %v", err)
	}
	if resp.Shift.Status != domain.ShiftStatusOpen || resp.Shift.CountedCash != nil {
		t.Fatalf("expected open shift without count, got %+v", resp.Shift)
	}

	if _, err := svc.InitiateClose(ctx, shift.ID, domain.CloseInitiateRequest{CountedCash: countedCash(`100000`)}); err != nil {
		t.Fatalf("re-initiate failed: %v", err)
	}
	final, err := svc.FinalizeClose(ctx, shift.ID)
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if final.Variance != 0 || final.Classification != reconcile.ClassificationBalanced {
		t.Fatalf("expected balanced close, got %+v", final)
	}

	logs, err := svc.ListAuditLogs(supervisorCtx(), "2026-03-02", 50)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	actions := map[string]bool{}
	for _, entry := range logs {
		actions[entry.Action] = true
	}
	for _, action := range []string{"shift_open", "shift_close_initiate", "shift_close_abort", "shift_close"} {
		if !actions[action] {
			t.Fatalf("expected audit action %s, got %v", action, actions)
		}
	}
}

func TestCashierCannotTouchAnotherShift(t *testing.T) {
	svc, _, _ := newTestService()
	shift := openShift(t, svc, cashierCtx("cashier-1"), 100000)

	if _, err := svc.RecalculateShift(cashierCtx("cashier-2"), shift.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	outsider := WithActor(context.Background(), domain.Actor{UserID: "owner-9", BusinessID: "biz-9", Role: domain.RoleOwner})
	if _, err := svc.GetShift(outsider, shift.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected other business to get ErrNotFound, got %v", err)
	}
	if _, err := svc.RecalculateShift(supervisorCtx(), shift.ID); err != nil {
		t.Fatalf("supervisor recalculate failed: %v", err)
	}
	if _, err := svc.ListActiveShifts(cashierCtx("cashier-1"), ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected monitor to be manager only, got %v", err)
	}
}

func TestOrderEventsRecalculateAndDetectPostClose(t *testing.T) {
	svc, _, clock := newTestService()
	ctx := cashierCtx("cashier-1")
	shift := openShift(t, svc, ctx, 50000)
	feed := WithActor(context.Background(), domain.Actor{UserID: "pos-feed", BusinessID: "biz-1", Role: domain.RoleSystem})
	clock.Set(testOpenedAt.Add(time.Hour))

	resp, err := svc.RecordOrderEvent(feed, domain.OrderEventRequest{
		Order: domain.Order{
			ID:            "ord-feed-1",
			OutletID:      "outlet-1",
			EmployeeID:    "emp-1",
			ShiftID:       shift.ID,
			Status:        domain.OrderStatusCompleted,
			PaymentStatus: domain.PaymentStatusPaid,
			Total:         30000,
			PaidAmount:    30000,
			CreatedAt:     testOpenedAt.Add(30 * time.Minute),
		},
		Payments: []domain.Payment{{Method: "QRIS", Amount: 30000, Status: "settlement"}},
	})
	if err != nil {
		t.Fatalf("order event failed: %v", err)
	}
	if !resp.Recalculated || resp.PostClose {
		t.Fatalf("expected recalculation, got %+v", resp)
	}
	detail, err := svc.GetShift(ctx, shift.ID)
	if err != nil {
		t.Fatalf("get shift failed: %v", err)
	}
	if detail.Shift.ExpectedQris != 30000 || detail.Orders.LinkedOrders != 1 || detail.Orders.CountableOrders != 1 {
		t.Fatalf("unexpected detail %+v", detail)
	}

	clock.Set(testOpenedAt.Add(2 * time.Hour))
	if _, err := svc.InitiateClose(ctx, shift.ID, domain.CloseInitiateRequest{CountedCash: countedCash(`50000`)}); err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	if _, err := svc.FinalizeClose(ctx, shift.ID); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	late, err := svc.RecordOrderEvent(feed, domain.OrderEventRequest{
		Order: domain.Order{
			ID:            "ord-feed-2",
			OutletID:      "outlet-1",
			ShiftID:       shift.ID,
			Status:        domain.OrderStatusCompleted,
			PaymentStatus: domain.PaymentStatusPaid,
			Total:         7000,
			CreatedAt:     testOpenedAt.Add(90 * time.Minute),
		},
		Payments: []domain.Payment{{Method: domain.MethodCash, Amount: 7000, Status: domain.PaymentSuccess}},
	})
	if err != nil {
		t.Fatalf("late order event failed: %v", err)
	}
	if !late.PostClose || late.Recalculated {
		t.Fatalf("expected post-close order, got %+v", late)
	}

	discrepancies, err := svc.PostCloseDiscrepancies(ctx, shift.ID)
	if err != nil {
		t.Fatalf("discrepancies failed: %v", err)
	}
	if len(discrepancies.Orders) != 1 || discrepancies.Orders[0].Reason != DiscrepancyLateLinked {
		t.Fatalf("expected one late linked order, got %+v", discrepancies.Orders)
	}
	if discrepancies.Delta.Amount(domain.MethodCash) != 7000 {
		t.Fatalf("expected delta cash 7000, got %+v", discrepancies.Delta)
	}

	report, err := svc.ShiftReport(ctx, shift.ID)
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if report.ExpectedTotal != 30000 {
		t.Fatalf("frozen totals changed: %d", report.ExpectedTotal)
	}
}

func TestConcurrentRecalculateAndFinalizeStayConsistent(t *testing.T) {
	svc, repo, clock := newTestService()
	ctx := cashierCtx("cashier-1")
	shift := openShift(t, svc, ctx, 100000)
	recordCashOrder(t, repo, "ord-1", shift.ID, "emp-1", 10000, 10000, testOpenedAt.Add(time.Minute))
	clock.Set(testOpenedAt.Add(time.Hour))

	if _, err := svc.InitiateClose(ctx, shift.ID, domain.CloseInitiateRequest{CountedCash: countedCash(`110000`)}); err != nil {
		t.Fatalf("initiate failed: %v", err)
	}

	var wg sync.WaitGroup
	finalizeErrs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := svc.RecalculateShift(ctx, shift.ID)
			if err != nil && !errors.Is(err, store.ErrShiftClosed) {
				t.Errorf("unexpected recalculate error: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			_, err := svc.FinalizeClose(ctx, shift.ID)
			finalizeErrs <- err
		}()
	}
	wg.Wait()
	close(finalizeErrs)

	succeeded := 0
	for err := range finalizeErrs {
		if err == nil {
			succeeded++
			continue
		}
		if !errors.Is(err, store.ErrShiftClosed) {
			t.Fatalf("unexpected finalize error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one finalize to win, got %d", succeeded)
	}

	stored, _ := repo.GetShift(context.Background(), shift.ID)
	if stored.CloseReport == nil || stored.CloseReport.ExpectedCash != stored.ExpectedCash {
		t.Fatalf("sealed report does not match persisted totals: %+v", stored)
	}
}

func TestDiagnosticsFindOrphansAndDuplicates(t *testing.T) {
	svc, repo, _ := newTestService()
	recordCashOrder(t, repo, "ord-orphan", "", "emp-1", 5000, 5000, testOpenedAt.Add(time.Hour))

	orphans, err := svc.FindOrphanedOrders(supervisorCtx(), "outlet-1", "2026-03-02", "2026-03-02")
	if err != nil {
		t.Fatalf("orphan scan failed: %v", err)
	}
	if len(orphans.Orders) != 1 || orphans.Total != 5000 {
		t.Fatalf("expected one orphan, got %+v", orphans)
	}

	if _, err := repo.CreateShift(context.Background(), domain.CashierShift{BusinessID: "biz-1", OutletID: "outlet-1", UserID: "cashier-1"}); err != nil {
		t.Fatalf("create shift failed: %v", err)
	}
	duplicates, err := svc.FindDuplicateOpenShifts(supervisorCtx())
	if err != nil {
		t.Fatalf("duplicate scan failed: %v", err)
	}
	if len(duplicates) != 0 {
		t.Fatalf("expected no duplicates, got %+v", duplicates)
	}
}

func closeShiftAt(t *testing.T, svc *Service, clock *testClock, ctx context.Context, shiftID string, counted string, at time.Time) {
	t.Helper()
	clock.Set(at)
	if _, err := svc.InitiateClose(ctx, shiftID, domain.CloseInitiateRequest{CountedCash: countedCash(counted)}); err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	if _, err := svc.FinalizeClose(ctx, shiftID); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
}

func TestOrderEventStatusUpdateKeepsCreatedAt(t *testing.T) {
	svc, repo, clock := newTestService()
	shift := openShift(t, svc, cashierCtx("cashier-1"), 50000)
	feed := WithActor(context.Background(), domain.Actor{UserID: "pos-feed", BusinessID: "biz-1", Role: domain.RoleSystem})
	placedAt := testOpenedAt.Add(time.Hour)
	clock.Set(placedAt)

	order := domain.Order{
		ID:            "ord-1",
		OutletID:      "outlet-1",
		EmployeeID:    "emp-1",
		ShiftID:       shift.ID,
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusUnpaid,
		Total:         18000,
		CreatedAt:     placedAt,
	}
	if _, err := svc.RecordOrderEvent(feed, domain.OrderEventRequest{Order: order}); err != nil {
		t.Fatalf("order event failed: %v", err)
	}

	clock.Set(testOpenedAt.Add(5 * time.Hour))
	order.ShiftID = ""
	order.CreatedAt = time.Time{}
	order.Status = domain.OrderStatusCompleted
	order.PaymentStatus = domain.PaymentStatusPaid
	if _, err := svc.RecordOrderEvent(feed, domain.OrderEventRequest{
		Order:    order,
		Payments: []domain.Payment{{Method: domain.MethodCash, Amount: 18000, Status: domain.PaymentSuccess}},
	}); err != nil {
		t.Fatalf("status update failed: %v", err)
	}

	stored, err := repo.GetOrder(context.Background(), "ord-1")
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if !stored.CreatedAt.Equal(placedAt) || stored.ShiftID != shift.ID {
		t.Fatalf("expected order placed at %s on %s, got created_at=%s shift=%q", placedAt, shift.ID, stored.CreatedAt, stored.ShiftID)
	}
}

func TestDiscrepanciesFlagOrdersAmbiguousWithConcurrentShift(t *testing.T) {
	svc, repo, clock := newTestService()
	openShift(t, svc, cashierCtx("cashier-2"), 50000)
	ctx := cashierCtx("cashier-1")
	shift := openShift(t, svc, ctx, 100000)
	closeShiftAt(t, svc, clock, ctx, shift.ID, `100000`, testOpenedAt.Add(2*time.Hour))

	recordCashOrder(t, repo, "ord-anon", "", "", 12000, 12000, testOpenedAt.Add(time.Hour))

	discrepancies, err := svc.PostCloseDiscrepancies(ctx, shift.ID)
	if err != nil {
		t.Fatalf("discrepancies failed: %v", err)
	}
	if len(discrepancies.Orders) != 1 || discrepancies.Orders[0].Reason != domain.UnassignableMultipleOpenShifts {
		t.Fatalf("expected ord-anon flagged as ambiguous, got %+v", discrepancies.Orders)
	}
	if discrepancies.Delta.SalesTotal != 0 {
		t.Fatalf("ambiguous order must not count in the delta, got %+v", discrepancies.Delta)
	}
}

func TestDiscrepanciesIgnoreShiftsClosedBeforeOpening(t *testing.T) {
	svc, repo, clock := newTestService()
	early := cashierCtx("cashier-2")
	clock.Set(testOpenedAt.Add(-2 * time.Hour))
	earlyShift := openShift(t, svc, early, 50000)
	closeShiftAt(t, svc, clock, early, earlyShift.ID, `50000`, testOpenedAt.Add(-time.Hour))

	ctx := cashierCtx("cashier-1")
	clock.Set(testOpenedAt)
	shift := openShift(t, svc, ctx, 100000)
	closeShiftAt(t, svc, clock, ctx, shift.ID, `100000`, testOpenedAt.Add(2*time.Hour))

	recordCashOrder(t, repo, "ord-anon", "", "", 12000, 12000, testOpenedAt.Add(time.Hour))

	discrepancies, err := svc.PostCloseDiscrepancies(ctx, shift.ID)
	if err != nil {
		t.Fatalf("discrepancies failed: %v", err)
	}
	if len(discrepancies.Orders) != 1 || discrepancies.Orders[0].Reason != DiscrepancyUnlinkedInWindow {
		t.Fatalf("expected ord-anon unlinked in window, got %+v", discrepancies.Orders)
	}
	if discrepancies.Delta.SalesTotal != 12000 {
		t.Fatalf("expected delta 12000, got %+v", discrepancies.Delta)
	}
}

func TestShiftSummaryTotalsTodaysShifts(t *testing.T) {
	svc, repo, clock := newTestService()
	ctx := cashierCtx("cashier-1")
	shift := openShift(t, svc, ctx, 50000)
	recordCashOrder(t, repo, "ord-1", shift.ID, "emp-1", 20000, 20000, testOpenedAt.Add(time.Hour))
	clock.Set(testOpenedAt.Add(2 * time.Hour))
	if _, err := svc.RecalculateShift(ctx, shift.ID); err != nil {
		t.Fatalf("recalculate failed: %v", err)
	}

	summary, err := svc.ShiftSummary(ctx, "outlet-1")
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if !summary.HasActiveShift || summary.ActiveShift == nil || summary.ActiveShift.ID != shift.ID {
		t.Fatalf("expected active shift %s, got %+v", shift.ID, summary)
	}
	if summary.TodayShiftsCount != 1 || summary.TodayTotalRevenue != 20000 || summary.TodayTotalTransactions != 1 {
		t.Fatalf("unexpected today totals %+v", summary)
	}

	other, err := svc.ShiftSummary(cashierCtx("cashier-2"), "outlet-1")
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if other.HasActiveShift || other.ActiveShift != nil || other.TodayShiftsCount != 0 {
		t.Fatalf("expected empty summary for cashier-2, got %+v", other)
	}

	if _, err := svc.ShiftSummary(ctx, " "); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput without outlet, got %v", err)
	}
}

func TestUnassignedOrderEventRefreshesSoleOpenShift(t *testing.T) {
	svc, _, clock := newTestService()
	shift := openShift(t, svc, cashierCtx("cashier-1"), 50000)
	feed := WithActor(context.Background(), domain.Actor{UserID: "pos-feed", BusinessID: "biz-1", Role: domain.RoleSystem})
	clock.Set(testOpenedAt.Add(time.Hour))

	resp, err := svc.RecordOrderEvent(feed, domain.OrderEventRequest{
		Order: domain.Order{
			ID:            "ord-unlinked",
			OutletID:      "outlet-1",
			EmployeeID:    "emp-1",
			Status:        domain.OrderStatusCompleted,
			PaymentStatus: domain.PaymentStatusPaid,
			Total:         15000,
			PaidAmount:    15000,
			CreatedAt:     testOpenedAt.Add(30 * time.Minute),
		},
		Payments: []domain.Payment{{Method: domain.MethodCash, Amount: 15000, Status: domain.PaymentSuccess}},
	})
	if err != nil {
		t.Fatalf("order event failed: %v", err)
	}
	if !resp.Recalculated || resp.ShiftID != shift.ID {
		t.Fatalf("expected sole open shift refreshed and linked, got %+v", resp)
	}

	detail, err := svc.GetShift(cashierCtx("cashier-1"), shift.ID)
	if err != nil {
		t.Fatalf("get shift failed: %v", err)
	}
	if detail.Shift.ExpectedCash != 65000 {
		t.Fatalf("expected cash 65000, got %d", detail.Shift.ExpectedCash)
	}
}

func TestUnassignedOrderEventSkipsRefreshWithSeveralOpenShifts(t *testing.T) {
	svc, repo, clock := newTestService()
	openShift(t, svc, cashierCtx("cashier-1"), 50000)
	openShift(t, svc, cashierCtx("cashier-2"), 50000)
	feed := WithActor(context.Background(), domain.Actor{UserID: "pos-feed", BusinessID: "biz-1", Role: domain.RoleSystem})
	clock.Set(testOpenedAt.Add(time.Hour))

	resp, err := svc.RecordOrderEvent(feed, domain.OrderEventRequest{
		Order: domain.Order{
			ID:            "ord-anon",
			OutletID:      "outlet-1",
			Status:        domain.OrderStatusCompleted,
			PaymentStatus: domain.PaymentStatusPaid,
			Total:         9000,
			CreatedAt:     testOpenedAt.Add(30 * time.Minute),
		},
		Payments: []domain.Payment{{Method: domain.MethodCash, Amount: 9000, Status: domain.PaymentSuccess}},
	})
	if err != nil {
		t.Fatalf("order event failed: %v", err)
	}
	if resp.Recalculated || resp.ShiftID != "" {
		t.Fatalf("expected no refresh with two open shifts, got %+v", resp)
	}
	stored, _ := repo.GetOrder(context.Background(), "ord-anon")
	if stored.ShiftID != "" {
		t.Fatalf("order must stay unassigned, got %q", stored.ShiftID)
	}
}

func TestInitiateCloseOnClosedShiftReportsClosed(t *testing.T) {
	svc, _, clock := newTestService()
	ctx := cashierCtx("cashier-1")
	shift := openShift(t, svc, ctx, 100000)
	closeShiftAt(t, svc, clock, ctx, shift.ID, `100000`, testOpenedAt.Add(time.Hour))

	_, err := svc.InitiateClose(ctx, shift.ID, domain.CloseInitiateRequest{CountedCash: countedCash(`"abc"`)})
	if !errors.Is(err, store.ErrShiftClosed) {
		t.Fatalf("expected ErrShiftClosed, got %v", err)
	}
}

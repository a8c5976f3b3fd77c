package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"kasirshift/backend/internal/domain"
	"kasirshift/backend/internal/store"
)

func openTestShift(t *testing.T, s *Store) *domain.CashierShift {
	t.Helper()
	shift, err := s.CreateShift(context.Background(), domain.CashierShift{
		BusinessID:     "biz-1",
		OutletID:       "outlet-1",
		UserID:         "user-1",
		OpeningBalance: 100000,
		OpenedAt:       time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create shift failed: %v", err)
	}
	return shift
}

func TestCreateShiftRejectsSecondOpenShift(t *testing.T) {
	s := New()
	openTestShift(t, s)

	_, err := s.CreateShift(context.Background(), domain.CashierShift{BusinessID: "biz-1", OutletID: "outlet-1", UserID: "user-1"})
	if !errors.Is(err, store.ErrShiftAlreadyOpen) {
		t.Fatalf("expected ErrShiftAlreadyOpen, got %v", err)
	}
}

func TestWithShiftLockDropsStagedWritesOnError(t *testing.T) {
	s := New()
	shift := openTestShift(t, s)
	order, err := s.RecordOrder(context.Background(), domain.Order{
		BusinessID: "biz-1",
		OutletID:   "outlet-1",
		Total:      5000,
		CreatedAt:  shift.OpenedAt.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("record order failed: %v", err)
	}

	boom := errors.New("boom")
	err = s.WithShiftLock(context.Background(), shift.ID, func(tx store.ShiftTx) error {
		if ok, err := tx.ClaimOrder(order.ID, shift.ID); err != nil || !ok {
			t.Fatalf("expected claim to succeed, got ok=%v err=%v", ok, err)
		}
		updated := tx.Shift()
		updated.ExpectedCash = 999
		if _, err := tx.SaveShift(updated); err != nil {
			t.Fatalf("save failed: %v", err)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}

	stored, _ := s.GetOrder(context.Background(), order.ID)
	if stored.ShiftID != "" {
		t.Fatalf("expected claim rolled back, got shift %s", stored.ShiftID)
	}
	current, _ := s.GetShift(context.Background(), shift.ID)
	if current.ExpectedCash != 0 || current.Version != 1 {
		t.Fatalf("expected shift untouched, got %+v", current)
	}
}

func TestSaveShiftChecksVersionAndClosedState(t *testing.T) {
	s := New()
	shift := openTestShift(t, s)

	err := s.WithShiftLock(context.Background(), shift.ID, func(tx store.ShiftTx) error {
		stale := tx.Shift()
		stale.Version = 0
		_, err := tx.SaveShift(stale)
		return err
	})
	if !errors.Is(err, store.ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}

	err = s.WithShiftLock(context.Background(), shift.ID, func(tx store.ShiftTx) error {
		closed := tx.Shift()
		closed.Status = domain.ShiftStatusClosed
		_, err := tx.SaveShift(closed)
		return err
	})
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if _, err := s.FindOpenShift(context.Background(), "biz-1", "outlet-1", "user-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected closed shift to free its slot, got %v", err)
	}

	err = s.WithShiftLock(context.Background(), shift.ID, func(tx store.ShiftTx) error {
		_, err := tx.SaveShift(tx.Shift())
		return err
	})
	if !errors.Is(err, store.ErrShiftClosed) {
		t.Fatalf("expected ErrShiftClosed, got %v", err)
	}
}

func TestRecordOrderKeepsBackfilledShift(t *testing.T) {
	s := New()
	shift := openTestShift(t, s)
	order, _ := s.RecordOrder(context.Background(), domain.Order{ID: "ord-1", BusinessID: "biz-1", OutletID: "outlet-1", Total: 1000})

	_ = s.WithShiftLock(context.Background(), shift.ID, func(tx store.ShiftTx) error {
		_, err := tx.ClaimOrder(order.ID, shift.ID)
		return err
	})

	updated, err := s.RecordOrder(context.Background(), domain.Order{ID: "ord-1", BusinessID: "biz-1", OutletID: "outlet-1", Total: 1000, Status: domain.OrderStatusCompleted})
	if err != nil {
		t.Fatalf("record order failed: %v", err)
	}
	if updated.ShiftID != shift.ID {
		t.Fatalf("expected backfilled shift kept, got %q", updated.ShiftID)
	}
}

func TestRecordOrderKeepsCreatedAt(t *testing.T) {
	s := New()
	placedAt := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	if _, err := s.RecordOrder(context.Background(), domain.Order{ID: "ord-1", BusinessID: "biz-1", OutletID: "outlet-1", Total: 1000, CreatedAt: placedAt}); err != nil {
		t.Fatalf("record order failed: %v", err)
	}

	updated, err := s.RecordOrder(context.Background(), domain.Order{ID: "ord-1", BusinessID: "biz-1", OutletID: "outlet-1", Total: 1000, Status: domain.OrderStatusCompleted})
	if err != nil {
		t.Fatalf("record order failed: %v", err)
	}
	if !updated.CreatedAt.Equal(placedAt) {
		t.Fatalf("expected created_at %s, got %s", placedAt, updated.CreatedAt)
	}

	fresh, _ := s.RecordOrder(context.Background(), domain.Order{ID: "ord-2", BusinessID: "biz-1", OutletID: "outlet-1", Total: 1000})
	if fresh.CreatedAt.IsZero() {
		t.Fatalf("expected new order to be stamped")
	}
}

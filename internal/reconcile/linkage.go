package reconcile

import (
	"time"

	"kasirshift/backend/internal/domain"
)

type LinkageInput struct {
	Shift domain.CashierShift
	// EmployeeID is the shift's employee, resolved through the directory when
	// the shift row has none. Empty means unknown.
	EmployeeID string
	AsOf       time.Time
	Linked     []domain.Order
	Candidates []domain.Order
	// HoldingShifts are the open or closing shifts at the same outlet,
	// keyed by shift id with their resolved employee id.
	HoldingShifts map[string]string
	Fallback      bool
}

type Claim struct {
	Order  domain.Order
	Source string
}

type LinkagePlan struct {
	ShiftID      string
	Linked       []domain.LinkedOrder
	Claims       []Claim
	Unassignable []domain.UnassignableOrder
	Heuristic    bool
}

// PlanLinkage decides which orders belong to the shift. Orders already carrying
// another shift id are never candidates.
func PlanLinkage(in LinkageInput) LinkagePlan {
	plan := LinkagePlan{
		ShiftID:      in.Shift.ID,
		Linked:       []domain.LinkedOrder{},
		Claims:       []Claim{},
		Unassignable: []domain.UnassignableOrder{},
	}

	for _, order := range sortOrders(in.Linked) {
		if order.ShiftID != in.Shift.ID {
			continue
		}
		plan.Linked = append(plan.Linked, domain.LinkedOrder{Order: order, Source: domain.LinkSourceShiftID})
	}

	soleShift := true
	owners := map[string]bool{}
	for shiftID, employeeID := range in.HoldingShifts {
		if shiftID == in.Shift.ID {
			continue
		}
		soleShift = false
		if employeeID != "" {
			owners[employeeID] = true
		}
	}

	candidates := make([]domain.Order, 0, len(in.Candidates))
	for _, order := range sortOrders(in.Candidates) {
		if inWindow(in, order) {
			candidates = append(candidates, order)
		}
	}

	seen := map[string]bool{}
	if len(plan.Linked) == 0 && in.Fallback {
		plan.Heuristic = true
		for _, order := range candidates {
			switch {
			case order.EmployeeID != "" && order.EmployeeID != in.EmployeeID && owners[order.EmployeeID]:
				// belongs to the other cashier's shift
				seen[order.ID] = true
			case in.EmployeeID != "" && order.EmployeeID == in.EmployeeID:
				plan.claim(order, domain.LinkSourceFallback)
				seen[order.ID] = true
			case order.EmployeeID == "":
				if soleShift {
					plan.claim(order, domain.LinkSourceFallback)
				} else {
					plan.reject(order, domain.UnassignableMultipleOpenShifts)
				}
				seen[order.ID] = true
			case in.EmployeeID == "":
				if soleShift {
					plan.claim(order, domain.LinkSourceFallback)
				} else {
					plan.reject(order, domain.UnassignableShiftEmployeeUnknown)
				}
				seen[order.ID] = true
			default:
				plan.reject(order, domain.UnassignableEmployeeWithoutShift)
				seen[order.ID] = true
			}
		}
	}

	for _, order := range candidates {
		if seen[order.ID] {
			continue
		}
		if order.Type != domain.OrderTypeSelfService || order.EmployeeID != "" || order.PaymentStatus != domain.PaymentStatusPaid {
			continue
		}
		if soleShift {
			plan.claim(order, domain.LinkSourceSelfService)
		} else {
			plan.reject(order, domain.UnassignableMultipleOpenShifts)
		}
	}

	return plan
}

// Apply runs the planned claims through claim and assembles the final result.
// A claim that loses the race is reported, not retried.
func (p LinkagePlan) Apply(claim func(orderID string) (bool, error)) (domain.LinkageResult, []string, error) {
	result := domain.LinkageResult{
		Linked:       append([]domain.LinkedOrder{}, p.Linked...),
		Unassignable: append([]domain.UnassignableOrder{}, p.Unassignable...),
		Heuristic:    p.Heuristic,
	}
	backfilled := []string{}

	for _, planned := range p.Claims {
		ok, err := claim(planned.Order.ID)
		if err != nil {
			return domain.LinkageResult{}, nil, err
		}
		if !ok {
			result.Unassignable = append(result.Unassignable, unassignable(planned.Order, domain.UnassignableClaimedConcurrently))
			continue
		}
		order := planned.Order
		order.ShiftID = p.ShiftID
		result.Linked = append(result.Linked, domain.LinkedOrder{Order: order, Source: planned.Source})
		backfilled = append(backfilled, order.ID)
	}

	return result, backfilled, nil
}

func (p *LinkagePlan) claim(order domain.Order, source string) {
	p.Claims = append(p.Claims, Claim{Order: order, Source: source})
}

func (p *LinkagePlan) reject(order domain.Order, reason string) {
	p.Unassignable = append(p.Unassignable, unassignable(order, reason))
}

func unassignable(order domain.Order, reason string) domain.UnassignableOrder {
	return domain.UnassignableOrder{
		OrderID:   order.ID,
		Reason:    reason,
		Total:     order.Total,
		CreatedAt: order.CreatedAt,
	}
}

func inWindow(in LinkageInput, order domain.Order) bool {
	if order.ShiftID != "" {
		return false
	}
	if order.BusinessID != in.Shift.BusinessID || order.OutletID != in.Shift.OutletID {
		return false
	}
	if order.CreatedAt.Before(in.Shift.OpenedAt) {
		return false
	}
	return !order.CreatedAt.After(in.AsOf)
}

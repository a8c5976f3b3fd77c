package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"kasirshift/backend/internal/domain"
)

type ZeroPaymentPolicy string

const (
	ZeroPaymentExclude ZeroPaymentPolicy = "exclude"
	ZeroPaymentCash    ZeroPaymentPolicy = "cash"
)

func ParseZeroPaymentPolicy(raw string) (ZeroPaymentPolicy, error) {
	switch ZeroPaymentPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ZeroPaymentExclude:
		return ZeroPaymentExclude, nil
	case ZeroPaymentCash:
		return ZeroPaymentCash, nil
	default:
		return "", fmt.Errorf("unknown zero payment policy %q", raw)
	}
}

type Policy struct {
	ZeroPayment ZeroPaymentPolicy
}

const (
	AnomalyZeroPaymentExcluded = "zero_payment_excluded"
	AnomalyZeroPaymentCash     = "zero_payment_default_cash"
	AnomalyNoSettledPayment    = "no_settled_payment"
	AnomalyChangeMismatch      = "change_mismatch"
	AnomalyNonCashOverpayment  = "non_cash_overpayment"
	AnomalyUnderpaid           = "underpaid"
)

var countableStatuses = map[string]bool{
	domain.OrderStatusCompleted: true,
	domain.OrderStatusConfirmed: true,
	domain.OrderStatusPreparing: true,
	domain.OrderStatusReady:     true,
}

func IsCountable(order domain.Order) bool {
	return order.PaymentStatus == domain.PaymentStatusPaid && countableStatuses[order.Status]
}

// IsSettled accepts gateway aliases alongside success.
func IsSettled(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case domain.PaymentSuccess, "paid", "settlement", "capture":
		return true
	default:
		return false
	}
}

func NormalizeMethod(method string) string {
	method = strings.ToLower(strings.TrimSpace(method))
	if method == "" {
		return "other"
	}
	return method
}

// Aggregate groups the net drawer impact of countable orders by payment method.
// Change is only ever taken out of cash legs; non-cash legs count at face value.
func Aggregate(orders []domain.Order, policy Policy) domain.PaymentBreakdown {
	breakdown := domain.PaymentBreakdown{
		ByMethod:  map[string]domain.MethodTotal{},
		OrderIDs:  []string{},
		Anomalies: []domain.Anomaly{},
	}

	for _, order := range sortOrders(orders) {
		if !IsCountable(order) {
			continue
		}
		breakdown.CountableOrders++
		breakdown.SalesTotal += order.Total
		breakdown.OrderIDs = append(breakdown.OrderIDs, order.ID)

		if len(order.Payments) == 0 {
			if policy.ZeroPayment == ZeroPaymentCash {
				addToBucket(&breakdown, domain.MethodCash, order.Total)
				breakdown.CashTendered += order.Total
				breakdown.Anomalies = append(breakdown.Anomalies, domain.Anomaly{OrderID: order.ID, Code: AnomalyZeroPaymentCash})
			} else {
				breakdown.Anomalies = append(breakdown.Anomalies, domain.Anomaly{OrderID: order.ID, Code: AnomalyZeroPaymentExcluded})
			}
			continue
		}

		perMethod := map[string]int64{}
		var tendered, cashLegs int64
		for _, payment := range order.Payments {
			if !IsSettled(payment.Status) {
				continue
			}
			method := NormalizeMethod(payment.Method)
			perMethod[method] += payment.Amount
			tendered += payment.Amount
			if method == domain.MethodCash {
				cashLegs += payment.Amount
			}
		}
		if len(perMethod) == 0 {
			breakdown.Anomalies = append(breakdown.Anomalies, domain.Anomaly{OrderID: order.ID, Code: AnomalyNoSettledPayment})
			continue
		}

		change := tendered - order.Total
		if change < 0 {
			change = 0
		}
		if order.ChangeAmount != change {
			breakdown.Anomalies = append(breakdown.Anomalies, domain.Anomaly{
				OrderID: order.ID,
				Code:    AnomalyChangeMismatch,
				Detail:  fmt.Sprintf("recorded=%d derived=%d", order.ChangeAmount, change),
			})
		}
		if tendered < order.Total {
			breakdown.Anomalies = append(breakdown.Anomalies, domain.Anomaly{
				OrderID: order.ID,
				Code:    AnomalyUnderpaid,
				Detail:  fmt.Sprintf("tendered=%d total=%d", tendered, order.Total),
			})
		}

		absorbed := change
		if absorbed > cashLegs {
			absorbed = cashLegs
			breakdown.Anomalies = append(breakdown.Anomalies, domain.Anomaly{
				OrderID: order.ID,
				Code:    AnomalyNonCashOverpayment,
				Detail:  fmt.Sprintf("change=%d cash=%d", change, cashLegs),
			})
		}
		if cashLegs > 0 {
			perMethod[domain.MethodCash] -= absorbed
			breakdown.CashTendered += cashLegs
			breakdown.ChangeGiven += absorbed
		}

		for _, method := range sortedKeys(perMethod) {
			addToBucket(&breakdown, method, perMethod[method])
		}
	}

	var allocated int64
	for _, total := range breakdown.ByMethod {
		allocated += total.Amount
	}
	breakdown.Unallocated = breakdown.SalesTotal - allocated
	return breakdown
}

// Methods lists the breakdown buckets ordered by method name.
func Methods(breakdown domain.PaymentBreakdown) []domain.MethodTotal {
	out := make([]domain.MethodTotal, 0, len(breakdown.ByMethod))
	for _, method := range sortedKeys(breakdown.ByMethod) {
		out = append(out, breakdown.ByMethod[method])
	}
	return out
}

func addToBucket(breakdown *domain.PaymentBreakdown, method string, amount int64) {
	total := breakdown.ByMethod[method]
	total.Method = method
	total.Amount += amount
	total.Count++
	breakdown.ByMethod[method] = total
}

func sortOrders(orders []domain.Order) []domain.Order {
	out := append([]domain.Order(nil), orders...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func sortedKeys[V any](items map[string]V) []string {
	keys := make([]string, 0, len(items))
	for key := range items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

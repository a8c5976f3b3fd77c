package httpapi

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"kasirshift/backend/internal/domain"
	"kasirshift/backend/internal/reconcile"
	"kasirshift/backend/internal/service"
	"kasirshift/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	currencyScale int32
	pinLimiter    *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, currencyScale int32) *API {
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		currencyScale: currencyScale,
		pinLimiter:    newAttemptLimiter(8, time.Minute),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeMethodNotAllowed(w)
	})

	r.Get("/healthz", a.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/healthz", a.handleHealth)

		r.Post("/shifts", a.requireAuth(a.handleOpenShift))
		r.Get("/shifts", a.requireAuth(a.handleListShifts))
		r.Get("/shifts/active", a.requireAuth(a.handleActiveShift))
		r.Get("/shifts/summary", a.requireAuth(a.handleShiftSummary))
		r.Get("/shifts/monitor", a.requireAuth(a.handleMonitorShifts, domain.RoleSupervisor, domain.RoleOwner))
		r.Route("/shifts/{id}", func(r chi.Router) {
			r.Get("/", a.requireAuth(a.handleGetShift))
			r.Post("/recalculate", a.requireAuth(a.handleRecalculate))
			r.Post("/close/initiate", a.requireAuth(a.handleCloseInitiate))
			r.Post("/close/abort", a.requireAuth(a.handleCloseAbort))
			r.Post("/close/finalize", a.requireAuth(a.handleCloseFinalize))
			r.Get("/report", a.requireAuth(a.handleShiftReport))
			r.Get("/discrepancies", a.requireAuth(a.handleDiscrepancies, domain.RoleSupervisor, domain.RoleOwner, domain.RoleSystem))
		})

		r.Post("/order-events", a.requireAuth(a.handleOrderEvent))
		r.Get("/orders/orphans", a.requireAuth(a.handleOrphans, domain.RoleSupervisor, domain.RoleOwner, domain.RoleSystem))
		r.Get("/audit-logs", a.requireAuth(a.handleAuditLogs, domain.RoleSupervisor, domain.RoleOwner))
	})

	return a.withMiddleware(r)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleOpenShift(w http.ResponseWriter, r *http.Request) {
	var req domain.ShiftOpenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.OpenShift(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleListShifts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	from, to, err := service.ParseDateRange(query.Get("date_from"), query.Get("date_to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid date range"))
		return
	}

	filter := domain.ShiftFilter{
		OutletID: strings.TrimSpace(query.Get("outlet_id")),
		UserID:   strings.TrimSpace(query.Get("user_id")),
		Statuses: splitList(query.Get("status")),
		From:     from,
		To:       to,
		Limit:    parsePositiveLimit(query.Get("limit"), 50, 500),
	}

	resp, err := a.service.ListShifts(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleActiveShift(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.FindOpenShift(r.Context(), r.URL.Query().Get("outlet_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleShiftSummary(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.ShiftSummary(r.Context(), r.URL.Query().Get("outlet_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleMonitorShifts(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.ListActiveShifts(r.Context(), r.URL.Query().Get("outlet_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleGetShift(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.GetShift(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.RecalculateShift(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCloseInitiate(w http.ResponseWriter, r *http.Request) {
	var req domain.CloseInitiateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	report, err := a.service.InitiateClose(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleCloseAbort(w http.ResponseWriter, r *http.Request) {
	var req domain.CloseAbortRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !a.pinLimiter.Allow("pin:abort:" + clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
		return
	}
	if !a.auth.ValidateManagerPIN(req.ManagerPIN) {
		writeError(w, http.StatusForbidden, errors.New("invalid manager pin"))
		return
	}

	resp, err := a.service.AbortClose(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCloseFinalize(w http.ResponseWriter, r *http.Request) {
	report, err := a.service.FinalizeClose(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleShiftReport(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))

	report, err := a.service.ShiftReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	switch format {
	case "csv":
		body, err := varianceReportToCSV(report, a.currencyScale)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"shift-report-%s.csv\"", report.ShiftID))
		_, _ = w.Write(body)
	case "html", "pdf":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(varianceReportToPrintableHTML(report, a.currencyScale)))
	case "", "json":
		writeJSON(w, http.StatusOK, report)
	default:
		writeError(w, http.StatusBadRequest, errors.New("format must be json, csv or html"))
	}
}

func (a *API) handleDiscrepancies(w http.ResponseWriter, r *http.Request) {
	report, err := a.service.PostCloseDiscrepancies(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleOrderEvent(w http.ResponseWriter, r *http.Request) {
	var req domain.OrderEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.RecordOrderEvent(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	status := http.StatusOK
	if resp.PostClose {
		status = http.StatusAccepted
	}
	writeJSON(w, status, resp)
}

func (a *API) handleOrphans(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	resp, err := a.service.FindOrphanedOrders(r.Context(), query.Get("outlet_id"), query.Get("date_from"), query.Get("date_to"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

	logs, err := a.service.ListAuditLogs(r.Context(), date, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

func varianceReportToCSV(report domain.VarianceReport, scale int32) ([]byte, error) {
	money := func(amount int64) string { return reconcile.FormatMoney(amount, scale) }

	rows := [][]string{
		{"section", "key", "value"},
		{"summary", "shift_id", report.ShiftID},
		{"summary", "shift_name", report.ShiftName},
		{"summary", "outlet_id", report.OutletID},
		{"summary", "user_id", report.UserID},
		{"summary", "status", report.Status},
		{"summary", "preliminary", strconv.FormatBool(report.Preliminary)},
		{"summary", "opened_at", report.OpenedAt.Format(time.RFC3339)},
	}
	if report.ClosedAt != nil {
		rows = append(rows, []string{"summary", "closed_at", report.ClosedAt.Format(time.RFC3339)})
	}
	rows = append(rows,
		[]string{"cash", "opening_balance", money(report.OpeningBalance)},
		[]string{"cash", "expected_cash", money(report.ExpectedCash)},
		[]string{"cash", "counted_cash", money(report.CountedCash)},
		[]string{"cash", "variance", money(report.Variance)},
		[]string{"cash", "variance_pct", report.VariancePct},
		[]string{"cash", "classification", report.Classification},
		[]string{"cash", "severity", report.Severity},
		[]string{"totals", "expected_total", money(report.ExpectedTotal)},
		[]string{"totals", "actual_total", money(report.ActualTotal)},
		[]string{"totals", "total_difference", money(report.TotalDifference)},
		[]string{"totals", "transactions", strconv.Itoa(report.TransactionCount)},
		[]string{"totals", "orders", strconv.Itoa(report.OrderCount)},
	)
	for _, bucket := range report.PerMethodBreakdown {
		rows = append(rows,
			[]string{"payment", bucket.Method + "_transactions", strconv.Itoa(bucket.Count)},
			[]string{"payment", bucket.Method + "_amount", money(bucket.Amount)},
		)
	}
	for _, orphan := range report.OrphanedOrders {
		rows = append(rows, []string{"orphan", orphan.OrderID, orphan.Reason})
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// varianceReportHTMLTmpl renders the printable closing report. html/template escapes
// the free-text fields (shift name, notes).
var varianceReportHTMLTmpl = template.Must(template.New("variance-report").Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <title>Shift Report {{.Report.ShiftName}}</title>
  <style>
    body { font-family: sans-serif; margin: 24px; }
    table { width: 100%; border-collapse: collapse; margin-top: 8px; }
    th, td { border: 1px solid #ddd; padding: 6px; font-size: 13px; }
    h2, h3 { margin-bottom: 4px; }
    .critical { color: #b00020; }
    .warning { color: #a15c00; }
  </style>
</head>
<body>
  <h2>Shift Report {{.Report.ShiftName}}{{if .Report.Preliminary}} (preliminary){{end}}</h2>
  <p>Shift: {{.Report.ShiftID}} | Outlet: {{.Report.OutletID}} | Cashier: {{.Report.UserID}}</p>
  <p>Opened: {{.OpenedAt}}{{if .ClosedAt}} | Closed: {{.ClosedAt}}{{end}}</p>

  <h3>Cash</h3>
  <table>
    <tbody>
      <tr><td>Opening balance</td><td style="text-align:right;">{{.OpeningBalance}}</td></tr>
      <tr><td>Expected cash</td><td style="text-align:right;">{{.ExpectedCash}}</td></tr>
      <tr><td>Counted cash</td><td style="text-align:right;">{{.CountedCash}}</td></tr>
      <tr class="{{.Report.Severity}}"><td>Variance ({{.Report.Classification}}, {{.Report.VariancePct}}%)</td><td style="text-align:right;">{{.Variance}}</td></tr>
    </tbody>
  </table>

  <h3>By Payment</h3>
  <table>
    <thead><tr><th>Method</th><th>Transactions</th><th>Amount</th></tr></thead>
    <tbody>{{range .Methods}}<tr><td>{{.Method}}</td><td style="text-align:right;">{{.Count}}</td><td style="text-align:right;">{{.Amount}}</td></tr>{{end}}</tbody>
  </table>
  <p>Expected total: {{.ExpectedTotal}} | Actual total: {{.ActualTotal}} | Difference: {{.TotalDifference}}</p>
  {{if .Report.OrphanedOrders}}
  <h3>Orders Needing Attention</h3>
  <table>
    <thead><tr><th>Order</th><th>Reason</th></tr></thead>
    <tbody>{{range .Report.OrphanedOrders}}<tr><td>{{.OrderID}}</td><td>{{.Reason}}</td></tr>{{end}}</tbody>
  </table>
  {{end}}
  {{if .Report.ClosingNotes}}<p>Notes: {{.Report.ClosingNotes}}</p>{{end}}
</body>
</html>
`))

type printableMethod struct {
	Method string
	Count  int
	Amount string
}

type printableReport struct {
	Report          domain.VarianceReport
	OpenedAt        string
	ClosedAt        string
	OpeningBalance  string
	ExpectedCash    string
	CountedCash     string
	Variance        string
	ExpectedTotal   string
	ActualTotal     string
	TotalDifference string
	Methods         []printableMethod
}

func varianceReportToPrintableHTML(report domain.VarianceReport, scale int32) string {
	money := func(amount int64) string { return reconcile.FormatMoney(amount, scale) }
	view := printableReport{
		Report:          report,
		OpenedAt:        report.OpenedAt.Format("02/01/2006 15:04"),
		OpeningBalance:  money(report.OpeningBalance),
		ExpectedCash:    money(report.ExpectedCash),
		CountedCash:     money(report.CountedCash),
		Variance:        money(report.Variance),
		ExpectedTotal:   money(report.ExpectedTotal),
		ActualTotal:     money(report.ActualTotal),
		TotalDifference: money(report.TotalDifference),
	}
	if report.ClosedAt != nil {
		view.ClosedAt = report.ClosedAt.Format("02/01/2006 15:04")
	}
	for _, bucket := range report.PerMethodBreakdown {
		view.Methods = append(view.Methods, printableMethod{Method: bucket.Method, Count: bucket.Count, Amount: money(bucket.Amount)})
	}

	var buf bytes.Buffer
	if err := varianceReportHTMLTmpl.Execute(&buf, view); err != nil {
		log.Printf("[httpapi] WARN: report template failed shift=%s: %v", report.ShiftID, err)
		return "<!doctype html><html><body><p>Report rendering error.</p></body></html>"
	}
	return buf.String()
}

func splitList(raw string) []string {
	var items []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.ToLower(strings.TrimSpace(part)); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// statusFor maps service and store errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidCountedCash), errors.Is(err, store.ErrInvalidInput):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrShiftClosed),
		errors.Is(err, store.ErrConcurrentModification),
		errors.Is(err, store.ErrInvalidState),
		errors.Is(err, store.ErrShiftAlreadyOpen):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	if service.IsRetryable(err) {
		w.Header().Set("Retry-After", "1")
	}
	writeError(w, statusFor(err), err)
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; 4xx messages are meant for the caller.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

package service

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"kasirshift/backend/internal/cache"
	"kasirshift/backend/internal/domain"
	"kasirshift/backend/internal/reconcile"
	"kasirshift/backend/internal/store"
	"kasirshift/backend/internal/xid"
)

var ErrForbidden = errors.New("forbidden")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Policy            reconcile.Policy
	Fallback          bool
	Thresholds        reconcile.Thresholds
	MismatchTolerance int64
	ReportCacheTTL    time.Duration
}

func DefaultOptions() Options {
	return Options{
		Policy:            reconcile.Policy{ZeroPayment: reconcile.ZeroPaymentExclude},
		Fallback:          true,
		Thresholds:        reconcile.Thresholds{Warning: 10000, Critical: 50000},
		MismatchTolerance: 100,
		ReportCacheTTL:    24 * time.Hour,
	}
}

type Service struct {
	repo    store.Repository
	reports cache.ReportCache
	opts    Options
	now     func() time.Time
}

func New(repo store.Repository, reports cache.ReportCache, opts Options) *Service {
	if reports == nil {
		reports = cache.NoopReportCache{}
	}
	if opts.Policy.ZeroPayment == "" {
		opts.Policy.ZeroPayment = reconcile.ZeroPaymentExclude
	}
	if opts.ReportCacheTTL <= 0 {
		opts.ReportCacheTTL = 24 * time.Hour
	}

	return &Service{
		repo:    repo,
		reports: reports,
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.UserID == "" {
		return domain.Actor{}, ErrForbidden
	}
	return actor, nil
}

func isManager(actor domain.Actor) bool {
	switch actor.Role {
	case domain.RoleSupervisor, domain.RoleOwner, domain.RoleSystem:
		return true
	default:
		return false
	}
}

func requireManager(ctx context.Context) (domain.Actor, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if !isManager(actor) {
		return domain.Actor{}, ErrForbidden
	}
	return actor, nil
}

// authorizeShift hides shifts of other businesses and keeps cashiers on their own shifts.
func authorizeShift(actor domain.Actor, shift domain.CashierShift) error {
	if actor.BusinessID != "" && actor.BusinessID != shift.BusinessID {
		return store.ErrNotFound
	}
	if actor.Role == domain.RoleCashier && shift.UserID != actor.UserID {
		return ErrForbidden
	}
	return nil
}

func (s *Service) loadAuthorizedShift(ctx context.Context, shiftID string) (domain.Actor, *domain.CashierShift, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Actor{}, nil, err
	}
	shiftID = strings.TrimSpace(shiftID)
	if shiftID == "" {
		return domain.Actor{}, nil, store.ErrInvalidInput
	}
	shift, err := s.repo.GetShift(ctx, shiftID)
	if err != nil {
		return domain.Actor{}, nil, err
	}
	if err := authorizeShift(actor, *shift); err != nil {
		return domain.Actor{}, nil, err
	}
	return actor, shift, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	actor, err := requireManager(ctx)
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, store.ErrInvalidInput
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, actor.BusinessID, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, businessID string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{UserID: "system", Role: domain.RoleSystem}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:          xid.New("audit"),
		BusinessID:  businessID,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		Action:      action,
		EntityType:  entityType,
		EntityID:    entityID,
		Detail:      detail,
		CreatedAt:   s.now(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

// ParseDateRange turns optional YYYY-MM-DD bounds into an inclusive UTC range.
func ParseDateRange(dateFrom string, dateTo string) (*time.Time, *time.Time, error) {
	var from, to *time.Time
	if strings.TrimSpace(dateFrom) != "" {
		parsed, err := time.Parse("2006-01-02", dateFrom)
		if err != nil {
			return nil, nil, store.ErrInvalidInput
		}
		start := parsed.UTC()
		from = &start
	}
	if strings.TrimSpace(dateTo) != "" {
		parsed, err := time.Parse("2006-01-02", dateTo)
		if err != nil {
			return nil, nil, store.ErrInvalidInput
		}
		end := parsed.UTC().Add(24*time.Hour - time.Nanosecond)
		to = &end
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, nil, store.ErrInvalidInput
	}
	return from, to, nil
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

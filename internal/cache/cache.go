package cache

import (
	"context"
	"sync"
	"time"

	"kasirshift/backend/internal/domain"
)

// ReportCache stores sealed close reports. Only immutable reports belong here.
type ReportCache interface {
	Get(ctx context.Context, shiftID string) (*domain.VarianceReport, bool, error)
	Set(ctx context.Context, shiftID string, report *domain.VarianceReport, ttl time.Duration) error
}

func ReportKey(shiftID string) string {
	return "shift-report:" + shiftID
}

type NoopReportCache struct{}

func (NoopReportCache) Get(_ context.Context, _ string) (*domain.VarianceReport, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) Set(_ context.Context, _ string, _ *domain.VarianceReport, _ time.Duration) error {
	return nil
}

// LocalReportCache keeps reports in process. TTL is ignored.
type LocalReportCache struct {
	mu      sync.RWMutex
	reports map[string]domain.VarianceReport
}

func NewLocalReportCache() *LocalReportCache {
	return &LocalReportCache{reports: map[string]domain.VarianceReport{}}
}

func (c *LocalReportCache) Get(_ context.Context, shiftID string) (*domain.VarianceReport, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	report, ok := c.reports[ReportKey(shiftID)]
	if !ok {
		return nil, false, nil
	}
	return &report, true, nil
}

func (c *LocalReportCache) Set(_ context.Context, shiftID string, report *domain.VarianceReport, _ time.Duration) error {
	if report == nil || report.Preliminary {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports[ReportKey(shiftID)] = *report
	return nil
}

package usage

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/demeter-run/fabric-sub000/internal/auth"
	"github.com/demeter-run/fabric-sub000/internal/domain"
	"github.com/demeter-run/fabric-sub000/internal/metadata"
	"github.com/demeter-run/fabric-sub000/internal/repository"
)

// Store is the slice of the read model the usage aggregate needs.
type Store interface {
	FindUsageReport(ctx context.Context, projectID string, page, pageSize int) ([]repository.UsageReport, error)
	FindUsageReportAggregated(ctx context.Context, period string) ([]repository.UsageReport, error)
}

// Service prices aggregated usage with the metadata cost tables.
type Service struct {
	store    Store
	gate     *auth.Gate
	registry *metadata.Registry
	logger   *zap.Logger
}

// NewService wires the usage aggregate.
func NewService(store Store, gate *auth.Gate, registry *metadata.Registry, logger *zap.Logger) *Service {
	return &Service{store: store, gate: gate, registry: registry, logger: logger}
}

// FetchUsageReport returns a project's priced usage, paged.
func (s *Service) FetchUsageReport(ctx context.Context, p auth.Principal, projectID string, page, pageSize int) ([]repository.UsageReport, error) {
	if err := s.gate.AssertPermission(ctx, p, projectID, auth.RoleMember); err != nil {
		return nil, err
	}
	page, pageSize, err := domain.NormalizePage(page, pageSize)
	if err != nil {
		return nil, err
	}
	reports, err := s.store.FindUsageReport(ctx, projectID, page, pageSize)
	if err != nil {
		return nil, domain.NewUnexpected("usage report failed", err)
	}
	s.attachCosts(reports)
	return reports, nil
}

// FetchUsageReportAggregated returns cluster-wide priced usage for one
// calendar period. Operator surface; project membership does not apply.
func (s *Service) FetchUsageReportAggregated(ctx context.Context, p auth.Principal, period string) ([]repository.UsageReport, error) {
	if err := auth.RequireToken(p); err != nil {
		return nil, err
	}
	if _, err := time.Parse("2006-01", period); err != nil {
		return nil, domain.NewCommandMalformed("period must be YYYY-MM")
	}
	reports, err := s.store.FindUsageReportAggregated(ctx, period)
	if err != nil {
		return nil, domain.NewUnexpected("aggregated usage report failed", err)
	}
	s.attachCosts(reports)
	return reports, nil
}

// attachCosts fills UnitsCost and MinimumCost from the metadata cost tables.
// Groups whose kind or tier has no cost entry stay unpriced.
func (s *Service) attachCosts(reports []repository.UsageReport) {
	for i := range reports {
		rep := &reports[i]
		meta, ok := s.registry.Get(rep.ResourceKind)
		if !ok {
			continue
		}
		cost, ok := meta.CostFor(rep.Tier)
		if !ok {
			continue
		}

		unitsCost := round2(float64(rep.Units) * cost.Delta)
		rep.UnitsCost = &unitsCost

		if cost.Minimum > 0 {
			minimumCost := round2(cost.Minimum * rep.Interval / secondsInMonth(rep.Period))
			rep.MinimumCost = &minimumCost
		}
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// secondsInMonth returns the length of a "YYYY-MM" period in seconds.
// Unparseable periods fall back to a 30-day month rather than pricing at zero.
func secondsInMonth(period string) float64 {
	t, err := time.Parse("2006-01", period)
	if err != nil {
		return 30 * 24 * 3600
	}
	return t.AddDate(0, 1, 0).Sub(t).Seconds()
}

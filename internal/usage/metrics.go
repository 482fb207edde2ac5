// Package usage scrapes per-resource consumption from the metrics store,
// turns each window into a UsageCreated batch, and prices aggregated usage
// with the metadata cost tables.
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"go.uber.org/zap"

	"github.com/demeter-run/fabric-sub000/internal/event"
)

// MetricsSource returns the usage accumulated per resource over a window.
type MetricsSource interface {
	FetchUsage(ctx context.Context, start, end time.Time) ([]event.UsageUnit, error)
}

// PrometheusClient scrapes usage from a Prometheus-compatible endpoint.
type PrometheusClient struct {
	api    v1.API
	logger *zap.Logger
}

// NewPrometheusClient builds a client against the given base URL.
func NewPrometheusClient(url string, logger *zap.Logger) (*PrometheusClient, error) {
	client, err := api.NewClient(api.Config{Address: url})
	if err != nil {
		return nil, fmt.Errorf("prometheus client: %w", err)
	}
	return &PrometheusClient{api: v1.NewAPI(client), logger: logger}, nil
}

// FetchUsage sums the usage counter increase over the window per
// (project, resource, tier), excluding the free tier "0". Units are rounded
// to integers inside the query.
func (c *PrometheusClient) FetchUsage(ctx context.Context, start, end time.Time) ([]event.UsageUnit, error) {
	interval := end.Sub(start).Seconds()
	query := fmt.Sprintf(
		`round(sum by (project, resource_name, tier) (increase(usage{tier!="0"}[%ds])))`,
		int64(interval))

	value, warnings, err := c.api.Query(ctx, query, end)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	for _, w := range warnings {
		c.logger.Warn("usage query warning", zap.String("warning", w))
	}

	vector, ok := value.(model.Vector)
	if !ok {
		return nil, fmt.Errorf("unexpected usage result type %s", value.Type())
	}

	units := make([]event.UsageUnit, 0, len(vector))
	for _, sample := range vector {
		units = append(units, event.UsageUnit{
			ProjectNamespace: string(sample.Metric["project"]),
			ResourceName:     string(sample.Metric["resource_name"]),
			Tier:             string(sample.Metric["tier"]),
			Units:            int64(sample.Value),
			Interval:         interval,
		})
	}
	return units, nil
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// UsageLine is one line of a UsageCreated batch, still addressed by
// (project_namespace, resource_name) the way the scraper saw it.
type UsageLine struct {
	ProjectNamespace string
	ResourceName     string
	Tier             string
	Units            int64
	Interval         float64
}

// UsageReport is one aggregated costing group. UnitsCost and MinimumCost are
// attached by the usage aggregate from metadata; they stay nil when the kind
// has no cost table for the tier.
type UsageReport struct {
	ProjectID        string
	ProjectNamespace string
	ResourceID       string
	ResourceName     string
	ResourceKind     string
	Tier             string
	Period           string
	Units            int64
	Interval         float64
	UnitsCost        *float64
	MinimumCost      *float64
}

// InsertUsageBatch projects one UsageCreated event. Every line is resolved to
// its resource id and inserted in a single transaction: if any line cannot be
// resolved (the batch arrived before the corresponding ResourceCreated), the
// whole batch fails with ErrUnresolvedResource and is retried later.
//
// The (event_id, resource_id, tier) unique index makes redelivered batches
// collapse into the rows already projected.
func (s *Store) InsertUsageBatch(ctx context.Context, eventID, clusterID string, createdAt time.Time, lines []UsageLine) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		for _, line := range lines {
			var resourceID string
			err := tx.QueryRow(ctx, `
				SELECT r.id
				FROM resources r
				JOIN projects p ON p.id = r.project_id
				WHERE p.namespace = $1 AND r.name = $2`,
				line.ProjectNamespace, line.ResourceName).Scan(&resourceID)
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: %s/%s", ErrUnresolvedResource,
					line.ProjectNamespace, line.ResourceName)
			}
			if err != nil {
				return fmt.Errorf("resolve usage resource: %w", err)
			}

			_, err = tx.Exec(ctx, `
				INSERT INTO usages (id, event_id, cluster_id, resource_id, tier, units, interval_seconds, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				ON CONFLICT (event_id, resource_id, tier) DO NOTHING`,
				uuid.NewString(), eventID, clusterID, resourceID,
				line.Tier, line.Units, line.Interval, createdAt)
			if err != nil {
				return fmt.Errorf("insert usage: %w", err)
			}
		}
		return nil
	})
}

const usageReportQuery = `
	SELECT p.id, p.namespace, r.id, r.name, r.kind, u.tier,
	       to_char(u.created_at, 'YYYY-MM') AS period,
	       SUM(u.units)::bigint, SUM(u.interval_seconds)
	FROM usages u
	JOIN resources r ON r.id = u.resource_id
	JOIN projects p ON p.id = r.project_id`

func scanUsageReports(rows pgx.Rows) ([]UsageReport, error) {
	defer rows.Close()
	var out []UsageReport
	for rows.Next() {
		var rep UsageReport
		if err := rows.Scan(&rep.ProjectID, &rep.ProjectNamespace, &rep.ResourceID,
			&rep.ResourceName, &rep.ResourceKind, &rep.Tier, &rep.Period,
			&rep.Units, &rep.Interval); err != nil {
			return nil, fmt.Errorf("scan usage report: %w", err)
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}

// FindUsageReport aggregates a project's usage by resource, tier, and period.
func (s *Store) FindUsageReport(ctx context.Context, projectID string, page, pageSize int) ([]UsageReport, error) {
	rows, err := s.pool.Query(ctx, usageReportQuery+`
		WHERE p.id = $1
		GROUP BY p.id, p.namespace, r.id, r.name, r.kind, u.tier, period
		ORDER BY period DESC, r.name
		LIMIT $2 OFFSET $3`,
		projectID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("find usage report: %w", err)
	}
	return scanUsageReports(rows)
}

// FindUsageReportAggregated aggregates usage across all projects for one
// calendar period ("YYYY-MM"), for operator reporting.
func (s *Store) FindUsageReportAggregated(ctx context.Context, period string) ([]UsageReport, error) {
	rows, err := s.pool.Query(ctx, usageReportQuery+`
		WHERE to_char(u.created_at, 'YYYY-MM') = $1
		GROUP BY p.id, p.namespace, r.id, r.name, r.kind, u.tier, period
		ORDER BY p.namespace, r.name`, period)
	if err != nil {
		return nil, fmt.Errorf("find aggregated usage report: %w", err)
	}
	return scanUsageReports(rows)
}

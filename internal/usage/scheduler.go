package usage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/demeter-run/fabric-sub000/internal/event"
)

// Scheduler runs the scrape loop for one cluster. Each tick queries the
// window since the cursor and publishes a single UsageCreated batch; the
// cursor only advances after a successful publish, so a failed scrape or
// publish makes the next tick re-cover the same window.
type Scheduler struct {
	clusterID string
	delay     time.Duration
	source    MetricsSource
	publisher event.Publisher
	logger    *zap.Logger

	cursor time.Time
}

// NewScheduler builds the scrape loop for a cluster.
func NewScheduler(clusterID string, delay time.Duration, source MetricsSource, publisher event.Publisher, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		clusterID: clusterID,
		delay:     delay,
		source:    source,
		publisher: publisher,
		logger:    logger,
		cursor:    time.Now().UTC(),
	}
}

// Run blocks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.delay)
	defer ticker.Stop()

	s.logger.Info("usage scheduler started",
		zap.String("cluster_id", s.clusterID),
		zap.Duration("delay", s.delay),
	)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("usage scheduler stopped", zap.String("cluster_id", s.clusterID))
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	end := time.Now().UTC()

	units, err := s.source.FetchUsage(ctx, s.cursor, end)
	if err != nil {
		s.logger.Error("usage scrape failed", zap.Error(err))
		return
	}
	if len(units) == 0 {
		s.cursor = end
		return
	}

	ev := event.UsageCreated{
		ID:        uuid.NewString(),
		ClusterID: s.clusterID,
		Usages:    units,
		CreatedAt: end,
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Error("usage publish failed", zap.Error(err))
		return
	}
	s.cursor = end
}

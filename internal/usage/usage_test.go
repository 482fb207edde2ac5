package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/demeter-run/fabric-sub000/internal/auth"
	"github.com/demeter-run/fabric-sub000/internal/domain"
	"github.com/demeter-run/fabric-sub000/internal/event"
	"github.com/demeter-run/fabric-sub000/internal/metadata"
	"github.com/demeter-run/fabric-sub000/internal/repository"
)

// ── fakes ─────────────────────────────────────────────────────────────────

type sourceFake struct {
	units   []event.UsageUnit
	fail    error
	windows [][2]time.Time
}

func (f *sourceFake) FetchUsage(_ context.Context, start, end time.Time) ([]event.UsageUnit, error) {
	f.windows = append(f.windows, [2]time.Time{start, end})
	if f.fail != nil {
		return nil, f.fail
	}
	return f.units, nil
}

type publisherFake struct {
	published []event.Event
	fail      error
}

func (f *publisherFake) Publish(_ context.Context, ev event.Event) error {
	if f.fail != nil {
		return f.fail
	}
	f.published = append(f.published, ev)
	return nil
}

type storeFake struct {
	reports    []repository.UsageReport
	members    map[string]repository.ProjectUser
	lastPeriod string
}

func (f *storeFake) FindUsageReport(_ context.Context, _ string, _, _ int) ([]repository.UsageReport, error) {
	return f.reports, nil
}

func (f *storeFake) FindUsageReportAggregated(_ context.Context, period string) ([]repository.UsageReport, error) {
	f.lastPeriod = period
	return f.reports, nil
}

func (f *storeFake) FindMembership(_ context.Context, userID, projectID string) (repository.ProjectUser, error) {
	m, ok := f.members[userID+"|"+projectID]
	if !ok {
		return repository.ProjectUser{}, repository.ErrNotFound
	}
	return m, nil
}

// ── scheduler ─────────────────────────────────────────────────────────────

func TestSchedulerTickPublishesBatch(t *testing.T) {
	source := &sourceFake{units: []event.UsageUnit{
		{ProjectNamespace: "prj-ab12cd", ResourceName: "cardanonode-x1y2z3", Tier: "1", Units: 120},
	}}
	pub := &publisherFake{}
	sched := NewScheduler("cluster-1", 5*time.Second, source, pub, zaptest.NewLogger(t))
	before := sched.cursor

	sched.tick(context.Background())

	require.Len(t, pub.published, 1)
	ev := pub.published[0].(event.UsageCreated)
	assert.Equal(t, "cluster-1", ev.ClusterID)
	assert.Len(t, ev.Usages, 1)
	assert.True(t, sched.cursor.After(before) || sched.cursor.Equal(before))
	assert.NotEqual(t, before, sched.cursor, "cursor advances on success")
}

func TestSchedulerCursorHeldOnFailure(t *testing.T) {
	source := &sourceFake{units: []event.UsageUnit{{ResourceName: "r", Tier: "1", Units: 1}}}
	pub := &publisherFake{fail: errors.New("nats down")}
	sched := NewScheduler("cluster-1", 5*time.Second, source, pub, zaptest.NewLogger(t))
	cursor := sched.cursor

	sched.tick(context.Background())
	assert.Equal(t, cursor, sched.cursor, "publish failure keeps the cursor")

	sched.tick(context.Background())
	require.Len(t, source.windows, 2)
	assert.Equal(t, cursor, source.windows[1][0], "retried window starts at the held cursor")

	pub.fail = nil
	sched.tick(context.Background())
	assert.Len(t, pub.published, 1)
	assert.NotEqual(t, cursor, sched.cursor)
}

func TestSchedulerScrapeFailureHoldsCursor(t *testing.T) {
	source := &sourceFake{fail: errors.New("prometheus down")}
	pub := &publisherFake{}
	sched := NewScheduler("cluster-1", 5*time.Second, source, pub, zaptest.NewLogger(t))
	cursor := sched.cursor

	sched.tick(context.Background())
	assert.Equal(t, cursor, sched.cursor)
	assert.Empty(t, pub.published)
}

func TestSchedulerEmptyWindowAdvancesWithoutEvent(t *testing.T) {
	source := &sourceFake{}
	pub := &publisherFake{}
	sched := NewScheduler("cluster-1", 5*time.Second, source, pub, zaptest.NewLogger(t))
	cursor := sched.cursor

	sched.tick(context.Background())
	assert.Empty(t, pub.published, "no batch for an empty window")
	assert.NotEqual(t, cursor, sched.cursor)
}

// ── costing ───────────────────────────────────────────────────────────────

func registryFixture() *metadata.Registry {
	return metadata.NewRegistry(metadata.Metadata{
		Kind: "CardanoNodePort",
		Cost: map[string]metadata.CostEntry{
			"1": {Delta: 0.002, Minimum: 5},
			"2": {Delta: 0.004},
		},
	})
}

func newService(t *testing.T, store *storeFake) *Service {
	t.Helper()
	return NewService(store, auth.NewGate(store), registryFixture(), zaptest.NewLogger(t))
}

func TestFetchUsageReportCosting(t *testing.T) {
	store := &storeFake{
		members: map[string]repository.ProjectUser{
			"u1|p1": {UserID: "u1", ProjectID: "p1", Role: "member"},
		},
		reports: []repository.UsageReport{
			{ResourceKind: "CardanoNodePort", Tier: "1", Period: "2026-01", Units: 1000, Interval: 1339200},
			{ResourceKind: "CardanoNodePort", Tier: "2", Period: "2026-01", Units: 500, Interval: 3600},
			{ResourceKind: "UnknownKind", Tier: "1", Period: "2026-01", Units: 10, Interval: 3600},
		},
	}
	svc := newService(t, store)
	p := auth.Principal{Kind: auth.CredentialToken, UserID: "u1"}

	reports, err := svc.FetchUsageReport(context.Background(), p, "p1", 1, 12)
	require.NoError(t, err)
	require.Len(t, reports, 3)

	// 1000 units × 0.002 = 2.00; minimum 5 prorated over half of January
	// (1339200 s of 2678400 s) = 2.50.
	require.NotNil(t, reports[0].UnitsCost)
	assert.Equal(t, 2.0, *reports[0].UnitsCost)
	require.NotNil(t, reports[0].MinimumCost)
	assert.Equal(t, 2.5, *reports[0].MinimumCost)

	// Tier 2 has no minimum.
	require.NotNil(t, reports[1].UnitsCost)
	assert.Equal(t, 2.0, *reports[1].UnitsCost)
	assert.Nil(t, reports[1].MinimumCost)

	// Unknown kind stays unpriced.
	assert.Nil(t, reports[2].UnitsCost)
	assert.Nil(t, reports[2].MinimumCost)
}

func TestFetchUsageReportGate(t *testing.T) {
	store := &storeFake{members: map[string]repository.ProjectUser{}}
	svc := newService(t, store)
	p := auth.Principal{Kind: auth.CredentialToken, UserID: "u9"}

	_, err := svc.FetchUsageReport(context.Background(), p, "p1", 1, 12)
	assert.Equal(t, domain.KindUnauthorized, domain.KindOf(err))
}

func TestFetchUsageReportAggregated(t *testing.T) {
	store := &storeFake{}
	svc := newService(t, store)
	p := auth.Principal{Kind: auth.CredentialToken, UserID: "u1"}

	_, err := svc.FetchUsageReportAggregated(context.Background(), p, "2026-08")
	require.NoError(t, err)
	assert.Equal(t, "2026-08", store.lastPeriod)

	_, err = svc.FetchUsageReportAggregated(context.Background(), p, "aug-2026")
	assert.Equal(t, domain.KindCommandMalformed, domain.KindOf(err))

	key := auth.Principal{Kind: auth.CredentialAPIKey, ProjectID: "p1"}
	_, err = svc.FetchUsageReportAggregated(context.Background(), key, "2026-08")
	assert.Equal(t, domain.KindUnauthorized, domain.KindOf(err))
}

func TestSecondsInMonth(t *testing.T) {
	assert.Equal(t, float64(31*24*3600), secondsInMonth("2026-01"))
	assert.Equal(t, float64(28*24*3600), secondsInMonth("2026-02"))
	assert.Equal(t, float64(29*24*3600), secondsInMonth("2028-02"))
	assert.Equal(t, float64(30*24*3600), secondsInMonth("garbage"))
}

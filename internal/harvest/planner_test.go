package harvest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isamplesorg/igsn-lib/internal/store"
)

type fakePlannerStore struct {
	jobs      []*store.Job
	nextID    int64
	latest    *time.Time
	latestErr error
	createErr error
}

func (f *fakePlannerStore) CreateJob(ctx context.Context, job *store.Job) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.nextID++
	job.ID = f.nextID
	clone := *job
	f.jobs = append(f.jobs, &clone)
	return nil
}

func (f *fakePlannerStore) MostRecentIGSNTime(ctx context.Context, serviceID int64, setSpec string) (*time.Time, error) {
	return f.latest, f.latestErr
}

func newTestPlanner(plannerStore PlannerStore) *Planner {
	p := NewPlanner(plannerStore, newTestLogger())
	p.now = func() time.Time { return time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC) }
	return p
}

func TestPlan_SplitsLongRangeIntoContiguousJobs(t *testing.T) {
	plannerStore := &fakePlannerStore{}
	planner := newTestPlanner(plannerStore)

	from := time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)
	until := from.AddDate(0, 0, 400)
	svc := &store.Service{ID: 1, URL: "https://example.org/oai"}

	jobs, err := planner.Plan(context.Background(), svc, &from, &until, 50, Options{})
	require.NoError(t, err)
	require.Len(t, jobs, 8)

	assert.Equal(t, from, *jobs[0].TFrom)
	assert.Equal(t, until, *jobs[len(jobs)-1].TUntil)

	for i, job := range jobs {
		assert.Equal(t, int64(1), job.ServiceID)
		assert.Equal(t, "igsn", job.MetadataPrefix)
		if i > 0 {
			// Each sub-range picks up exactly where the previous one ended.
			assert.Equal(t, *jobs[i-1].TUntil, *job.TFrom)
		}
	}
}

func TestPlan_ResidualSpanIsClampedToEnd(t *testing.T) {
	plannerStore := &fakePlannerStore{}
	planner := newTestPlanner(plannerStore)

	from := time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)
	until := from.AddDate(0, 0, 120)
	svc := &store.Service{ID: 1}

	jobs, err := planner.Plan(context.Background(), svc, &from, &until, 50, Options{})
	require.NoError(t, err)
	require.Len(t, jobs, 3)

	last := jobs[2]
	assert.Equal(t, from.AddDate(0, 0, 100), *last.TFrom)
	assert.Equal(t, until, *last.TUntil)
}

func TestPlan_ShortRangeYieldsSingleJob(t *testing.T) {
	plannerStore := &fakePlannerStore{}
	planner := newTestPlanner(plannerStore)

	from := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	until := from.AddDate(0, 0, 10)
	svc := &store.Service{ID: 1}

	jobs, err := planner.Plan(context.Background(), svc, &from, &until, 50, Options{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, from, *jobs[0].TFrom)
	assert.Equal(t, until, *jobs[0].TUntil)
}

func TestPlan_DefaultsFromServiceAndClock(t *testing.T) {
	plannerStore := &fakePlannerStore{}
	planner := newTestPlanner(plannerStore)

	earliest := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := &store.Service{ID: 1, TEarliest: &earliest}

	jobs, err := planner.Plan(context.Background(), svc, nil, nil, 50, Options{})
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	assert.Equal(t, earliest, *jobs[0].TFrom)
	assert.Equal(t, time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC), *jobs[len(jobs)-1].TUntil)
}

func TestPlan_NoLowerBoundFails(t *testing.T) {
	planner := newTestPlanner(&fakePlannerStore{})

	_, err := planner.Plan(context.Background(), &store.Service{ID: 1}, nil, nil, 50, Options{})
	assert.ErrorIs(t, err, ErrNoRange)
}

func TestPlan_InvertedRangeFails(t *testing.T) {
	planner := newTestPlanner(&fakePlannerStore{})

	from := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	until := from.AddDate(0, 0, -1)
	_, err := planner.Plan(context.Background(), &store.Service{ID: 1}, &from, &until, 50, Options{})
	assert.Error(t, err)
}

func TestPlan_OptionsCarryThroughToJobs(t *testing.T) {
	plannerStore := &fakePlannerStore{}
	planner := newTestPlanner(plannerStore)

	from := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	until := from.AddDate(0, 0, 1)
	jobs, err := planner.Plan(context.Background(), &store.Service{ID: 1}, &from, &until, 0, Options{
		SetSpec:       "IEDA",
		IgnoreDeleted: true,
	})
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	job := jobs[0]
	require.NotNil(t, job.SetSpec)
	assert.Equal(t, "IEDA", *job.SetSpec)
	assert.True(t, job.IgnoreDeleted)
	assert.Equal(t, "igsn", job.MetadataPrefix)
}

func TestTopUp_StartsFromMostRecentRecord(t *testing.T) {
	latest := time.Date(2021, 2, 1, 10, 0, 0, 0, time.UTC)
	plannerStore := &fakePlannerStore{latest: &latest}
	planner := newTestPlanner(plannerStore)

	job, err := planner.TopUp(context.Background(), &store.Service{ID: 1}, Options{})
	require.NoError(t, err)

	require.NotNil(t, job.TFrom)
	assert.Equal(t, latest, *job.TFrom)
	assert.Nil(t, job.TUntil)
}

func TestTopUp_FallsBackToEarliest(t *testing.T) {
	plannerStore := &fakePlannerStore{}
	planner := newTestPlanner(plannerStore)

	earliest := time.Date(2013, 6, 1, 0, 0, 0, 0, time.UTC)
	job, err := planner.TopUp(context.Background(), &store.Service{ID: 1, TEarliest: &earliest}, Options{})
	require.NoError(t, err)
	assert.Equal(t, earliest, *job.TFrom)
}

func TestTopUp_NoRecordsAndNoEarliestFails(t *testing.T) {
	planner := newTestPlanner(&fakePlannerStore{})

	_, err := planner.TopUp(context.Background(), &store.Service{ID: 1}, Options{})
	assert.ErrorIs(t, err, ErrNoRange)
}

func TestTopUp_StoreFailurePropagates(t *testing.T) {
	wantErr := errors.New("db down")
	planner := newTestPlanner(&fakePlannerStore{latestErr: wantErr})

	_, err := planner.TopUp(context.Background(), &store.Service{ID: 1}, Options{})
	assert.ErrorIs(t, err, wantErr)
}

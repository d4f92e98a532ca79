package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isamplesorg/igsn-lib/internal/api/dto"
	"github.com/isamplesorg/igsn-lib/internal/harvest"
	"github.com/isamplesorg/igsn-lib/internal/igsn"
	"github.com/isamplesorg/igsn-lib/internal/oai"
	"github.com/isamplesorg/igsn-lib/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestLogger() *slog.Logger {
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelError}))
}

type fakeStore struct {
	services map[int64]*store.Service
	jobs     map[int64]*store.Job
	nextID   int64
	latest   *time.Time
	records  map[string]*store.IGSN
}

func newFakeStore() *fakeStore {
	earliest := time.Date(2013, 6, 1, 0, 0, 0, 0, time.UTC)
	return &fakeStore{
		services: map[int64]*store.Service{
			1: {ID: 1, URL: "https://example.org/oai", TEarliest: &earliest},
		},
		jobs:    map[int64]*store.Job{},
		records: map[string]*store.IGSN{},
	}
}

func (f *fakeStore) GetOrCreateService(ctx context.Context, url string) (*store.Service, bool, error) {
	for _, svc := range f.services {
		if svc.URL == url {
			return svc, false, nil
		}
	}
	f.nextID++
	svc := &store.Service{ID: f.nextID + 100, URL: url}
	f.services[svc.ID] = svc
	return svc, true, nil
}

func (f *fakeStore) GetService(ctx context.Context, id int64) (*store.Service, error) {
	svc, ok := f.services[id]
	if !ok {
		return nil, store.ErrServiceNotFound
	}
	return svc, nil
}

func (f *fakeStore) ListServices(ctx context.Context) ([]store.Service, error) {
	out := make([]store.Service, 0, len(f.services))
	for _, svc := range f.services {
		out = append(out, *svc)
	}
	return out, nil
}

func (f *fakeStore) CreateJob(ctx context.Context, job *store.Job) error {
	f.nextID++
	job.ID = f.nextID
	clone := *job
	f.jobs[job.ID] = &clone
	return nil
}

func (f *fakeStore) GetJob(ctx context.Context, id int64) (*store.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	return job, nil
}

func (f *fakeStore) ListJobs(ctx context.Context, filter store.JobFilter) ([]store.Job, error) {
	out := []store.Job{}
	for id := f.nextID; id > 0 && len(out) < filter.PageSize+1; id-- {
		if filter.Cursor != nil && id >= filter.Cursor.ID {
			continue
		}
		if job, ok := f.jobs[id]; ok {
			if filter.ServiceID != 0 && job.ServiceID != filter.ServiceID {
				continue
			}
			out = append(out, *job)
		}
	}
	return out, nil
}

func (f *fakeStore) GetIGSN(ctx context.Context, id string) (*store.IGSN, error) {
	rec, ok := f.records[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return rec, nil
}

func (f *fakeStore) MostRecentIGSNTime(ctx context.Context, serviceID int64, setSpec string) (*time.Time, error) {
	return f.latest, nil
}

type fakePublisher struct {
	published [][]byte
	err       error
}

func (f *fakePublisher) PublishWithRetry(ctx context.Context, body []byte, contentType string) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, body)
	return nil
}

type fakeResolver struct {
	hops []igsn.Hop
	err  error
}

func (f *fakeResolver) Resolve(ctx context.Context, igsnValue string) ([]igsn.Hop, error) {
	return f.hops, f.err
}

type fakeCounter struct {
	sets   []oai.Set
	counts map[string]int
}

func (f *fakeCounter) ListSets(ctx context.Context) ([]oai.Set, error) {
	return f.sets, nil
}

func (f *fakeCounter) RecordCount(ctx context.Context, args oai.ListArgs) (int, error) {
	return f.counts[args.Set], nil
}

type testEnv struct {
	handler   *Handler
	store     *fakeStore
	publisher *fakePublisher
	resolver  *fakeResolver
}

func newTestEnv() *testEnv {
	logger := newTestLogger()
	fs := newFakeStore()
	publisher := &fakePublisher{}
	resolver := &fakeResolver{}
	counter := &fakeCounter{
		sets:   []oai.Set{{Spec: "IEDA", Name: "IEDA"}},
		counts: map[string]int{"IEDA": 42},
	}

	h := New(&Dependencies{
		Logger:    logger,
		Store:     fs,
		Planner:   harvest.NewPlanner(fs, logger),
		Publisher: publisher,
		Resolver:  resolver,
		Provider: func(url string) (harvest.SetCounter, error) {
			return counter, nil
		},
		SetCountWorkers: 2,
	})
	return &testEnv{handler: h, store: fs, publisher: publisher, resolver: resolver}
}

func performJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func testRouter(env *testEnv) *gin.Engine {
	r := gin.New()
	r.POST("/api/v1/services", env.handler.RegisterService)
	r.GET("/api/v1/services/:service_id/sets", env.handler.ListServiceSets)
	r.POST("/api/v1/services/:service_id/jobs", env.handler.CreateJobs)
	r.GET("/api/v1/jobs", env.handler.ListJobs)
	r.GET("/api/v1/jobs/:job_id", env.handler.GetJob)
	r.GET("/api/v1/resolve/:igsn", env.handler.ResolveIGSN)
	return r
}

func TestRegisterService(t *testing.T) {
	env := newTestEnv()
	r := testRouter(env)

	t.Run("existing service returns 200", func(t *testing.T) {
		w := performJSON(t, r, http.MethodPost, "/api/v1/services", dto.RegisterServiceRequest{
			URL: "https://example.org/oai",
		})
		assert.Equal(t, http.StatusOK, w.Code)

		var svc dto.ServiceDTO
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &svc))
		assert.Equal(t, int64(1), svc.ID)
	})

	t.Run("new service returns 201", func(t *testing.T) {
		w := performJSON(t, r, http.MethodPost, "/api/v1/services", dto.RegisterServiceRequest{
			URL: "https://other.example.org/oai",
		})
		assert.Equal(t, http.StatusCreated, w.Code)
	})

	t.Run("missing url returns 400", func(t *testing.T) {
		w := performJSON(t, r, http.MethodPost, "/api/v1/services", gin.H{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestListServiceSets_WithCounts(t *testing.T) {
	env := newTestEnv()
	r := testRouter(env)

	w := performJSON(t, r, http.MethodGet, "/api/v1/services/1/sets?counts=true", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.ListSetsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Sets, 1)
	assert.Equal(t, "IEDA", resp.Sets[0].SetSpec)
	require.NotNil(t, resp.Sets[0].Count)
	assert.Equal(t, 42, *resp.Sets[0].Count)
}

func TestCreateJobs_PackageModePlansAndDispatches(t *testing.T) {
	env := newTestEnv()
	r := testRouter(env)

	w := performJSON(t, r, http.MethodPost, "/api/v1/services/1/jobs", dto.CreateJobsRequest{
		Mode:        "package",
		From:        "2018-01-01T00:00:00Z",
		Until:       "2019-02-05T00:00:00Z", // 400 days
		MaxSpanDays: 50,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp dto.CreateJobsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Jobs, 8)
	assert.True(t, resp.Dispatched)
	assert.Len(t, env.publisher.published, 8)

	var msg jobMessage
	require.NoError(t, json.Unmarshal(env.publisher.published[0], &msg))
	assert.Equal(t, resp.Jobs[0].ID, msg.JobID)
}

func TestCreateJobs_SingleModeWithoutDispatch(t *testing.T) {
	env := newTestEnv()
	r := testRouter(env)

	noDispatch := false
	w := performJSON(t, r, http.MethodPost, "/api/v1/services/1/jobs", dto.CreateJobsRequest{
		Mode:     "single",
		From:     "2020-01-01T00:00:00Z",
		Until:    "2020-02-01T00:00:00Z",
		SetSpec:  "IEDA",
		Dispatch: &noDispatch,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp dto.CreateJobsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Jobs, 1)
	assert.False(t, resp.Dispatched)
	assert.Empty(t, env.publisher.published)
	require.NotNil(t, resp.Jobs[0].SetSpec)
	assert.Equal(t, "IEDA", *resp.Jobs[0].SetSpec)
}

func TestCreateJobs_TopUpWithoutHistoryConflicts(t *testing.T) {
	env := newTestEnv()
	// No records and no earliest timestamp on the service.
	env.store.services[1].TEarliest = nil
	r := testRouter(env)

	w := performJSON(t, r, http.MethodPost, "/api/v1/services/1/jobs", dto.CreateJobsRequest{
		Mode: "topup",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCreateJobs_UnknownServiceReturns404(t *testing.T) {
	env := newTestEnv()
	r := testRouter(env)

	w := performJSON(t, r, http.MethodPost, "/api/v1/services/99/jobs", dto.CreateJobsRequest{
		Mode: "topup",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetJob_NotFound(t *testing.T) {
	env := newTestEnv()
	r := testRouter(env)

	w := performJSON(t, r, http.MethodGet, "/api/v1/jobs/12345", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListJobs_Paginates(t *testing.T) {
	env := newTestEnv()
	r := testRouter(env)

	from := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, env.store.CreateJob(context.Background(), &store.Job{
			ServiceID:      1,
			MetadataPrefix: "igsn",
			TFrom:          &from,
		}))
	}

	w := performJSON(t, r, http.MethodGet, "/api/v1/jobs?page_size=2", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.ListJobsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Jobs, 2)
	assert.NotEmpty(t, resp.NextCursor)

	w = performJSON(t, r, http.MethodGet, "/api/v1/jobs?page_size=2&cursor="+resp.NextCursor, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var next dto.ListJobsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &next))
	require.Len(t, next.Jobs, 2)
	assert.Less(t, next.Jobs[0].ID, resp.Jobs[1].ID)
}

func TestResolveIGSN(t *testing.T) {
	env := newTestEnv()
	env.resolver.hops = []igsn.Hop{
		{URL: "http://igsn.org/BSU0005JF", StatusCode: 302, Location: "https://app.geosamples.org/sample/igsn/BSU0005JF"},
		{URL: "https://app.geosamples.org/sample/igsn/BSU0005JF", StatusCode: 200},
	}
	r := testRouter(env)

	t.Run("resolves normalized identifier", func(t *testing.T) {
		w := performJSON(t, r, http.MethodGet, "/api/v1/resolve/10273:BSU0005JF", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp dto.ResolveResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "BSU0005JF", resp.IGSN)
		require.Len(t, resp.Hops, 2)
		assert.Equal(t, 302, resp.Hops[0].StatusCode)
	})

	t.Run("unrecognized form returns 400", func(t *testing.T) {
		w := performJSON(t, r, http.MethodGet, "/api/v1/resolve/doi:BSU0005JF", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestJobCursorRoundTrip(t *testing.T) {
	encoded := EncodeJobCursor(&store.JobCursor{ID: 77})
	cursor, err := DecodeJobCursor(encoded)
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, int64(77), cursor.ID)

	t.Run("empty cursor is nil", func(t *testing.T) {
		cursor, err := DecodeJobCursor("")
		require.NoError(t, err)
		assert.Nil(t, cursor)
	})

	t.Run("garbage cursor fails", func(t *testing.T) {
		_, err := DecodeJobCursor("not-base64!!")
		assert.Error(t, err)
	})
}

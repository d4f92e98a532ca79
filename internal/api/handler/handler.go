// Package handler implements the management API endpoints: service
// registration, set listings, harvest job planning and dispatch, and IGSN
// resolution.
package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/isamplesorg/igsn-lib/internal/api/dto"
	"github.com/isamplesorg/igsn-lib/internal/harvest"
	"github.com/isamplesorg/igsn-lib/internal/igsn"
	"github.com/isamplesorg/igsn-lib/internal/oai"
	"github.com/isamplesorg/igsn-lib/internal/store"
)

// Store is the persistence surface the handlers depend on.
type Store interface {
	GetOrCreateService(ctx context.Context, url string) (*store.Service, bool, error)
	GetService(ctx context.Context, id int64) (*store.Service, error)
	ListServices(ctx context.Context) ([]store.Service, error)
	CreateJob(ctx context.Context, job *store.Job) error
	GetJob(ctx context.Context, id int64) (*store.Job, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]store.Job, error)
	GetIGSN(ctx context.Context, id string) (*store.IGSN, error)
}

// Publisher queues planned jobs for execution.
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Resolver walks IGSN resolver redirect chains.
type Resolver interface {
	Resolve(ctx context.Context, igsnValue string) ([]igsn.Hop, error)
}

// ProviderFunc builds a protocol client for a service base URL.
type ProviderFunc func(url string) (harvest.SetCounter, error)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger          *slog.Logger
	Store           Store
	Planner         *harvest.Planner
	Publisher       Publisher
	Resolver        Resolver
	Provider        ProviderFunc
	SetCountWorkers int
}

// Handler handles management API HTTP requests
type Handler struct {
	logger          *slog.Logger
	store           Store
	planner         *harvest.Planner
	publisher       Publisher
	resolver        Resolver
	provider        ProviderFunc
	setCountWorkers int
}

// New creates a Handler instance
func New(deps *Dependencies) *Handler {
	workers := deps.SetCountWorkers
	if workers <= 0 {
		workers = 5
	}
	return &Handler{
		logger:          deps.Logger,
		store:           deps.Store,
		planner:         deps.Planner,
		publisher:       deps.Publisher,
		resolver:        deps.Resolver,
		provider:        deps.Provider,
		setCountWorkers: workers,
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(oai.TimeFormat)
	return &s
}

func serviceDTO(svc *store.Service) dto.ServiceDTO {
	return dto.ServiceDTO{
		ID:         svc.ID,
		URL:        svc.URL,
		Name:       svc.Name,
		AdminEmail: svc.AdminEmail,
		TEarliest:  formatTime(svc.TEarliest),
	}
}

func jobDTO(job *store.Job) dto.JobDTO {
	return dto.JobDTO{
		ID:             job.ID,
		ServiceID:      job.ServiceID,
		MetadataPrefix: job.MetadataPrefix,
		SetSpec:        job.SetSpec,
		IgnoreDeleted:  job.IgnoreDeleted,
		TFrom:          formatTime(job.TFrom),
		TUntil:         formatTime(job.TUntil),
		TStart:         formatTime(job.TStart),
		TEnd:           formatTime(job.TEnd),
		TLastRecord:    formatTime(job.TLastRecord),
		Resumption:     job.Resumption,
	}
}

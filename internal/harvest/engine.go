// Package harvest implements the OAI-PMH harvest pipeline: the job engine
// that pulls pages of IGSN records from a provider into the store, and the
// planner that carves long time ranges into bounded jobs.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/isamplesorg/igsn-lib/internal/oai"
	"github.com/isamplesorg/igsn-lib/internal/record"
	"github.com/isamplesorg/igsn-lib/internal/store"
)

// Provider is the slice of the OAI-PMH protocol the engine consumes.
type Provider interface {
	ListRecords(ctx context.Context, args oai.ListArgs) (oai.RecordIterator, error)
}

// ProviderFunc builds a Provider for a service base URL.
type ProviderFunc func(url string) (Provider, error)

// JobStore is the narrow persistence contract the engine depends on:
// insert-if-absent, job bookkeeping commits, and service lookup.
type JobStore interface {
	GetService(ctx context.Context, id int64) (*store.Service, error)
	InsertIfAbsent(ctx context.Context, rec *store.IGSN) (bool, error)
	UpdateJobRun(ctx context.Context, job *store.Job) error
}

// Result summarizes one job execution.
type Result struct {
	// New is the number of records stored for the first time.
	New int
	// Seen is the number of items delivered by the provider.
	Seen int
	// Skipped counts items dropped per-item: deleted records, unparseable
	// records, and failed mappings.
	Skipped int
	// Total is the provider-reported complete list size, when issued.
	Total int
}

// Engine executes harvest jobs. One engine may run jobs for different
// services concurrently, but callers must not run two executions of the
// same job at once; the watermark is a single monotonically advancing
// cursor.
type Engine struct {
	store    JobStore
	provider ProviderFunc
	logger   *slog.Logger
	now      func() time.Time

	// progressEvery controls how often the page loop logs progress.
	progressEvery int
}

// NewEngine creates an Engine.
func NewEngine(jobStore JobStore, provider ProviderFunc, logger *slog.Logger) *Engine {
	return &Engine{
		store:         jobStore,
		provider:      provider,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
		progressEvery: 100,
	}
}

// Execute runs one harvest job to completion, committing after every new
// record so that an interrupted run can resume from the durable watermark.
//
// When resume is true and the job carries a watermark from an earlier run,
// the watermark supersedes the job's static lower bound. Per-item failures
// are logged and skipped; provider and page-retrieval failures abort the run
// and propagate to the caller, which decides on retry.
func (e *Engine) Execute(ctx context.Context, job *store.Job, resume bool) (Result, error) {
	var res Result

	log := e.logger.With(slog.Int64("job_id", job.ID), slog.Int64("service_id", job.ServiceID))

	args := oai.ListArgs{
		Prefix:        job.MetadataPrefix,
		From:          job.TFrom,
		Until:         job.TUntil,
		IgnoreDeleted: job.IgnoreDeleted,
	}
	if job.SetSpec != nil {
		args.Set = *job.SetSpec
	}

	if resume && job.TLastRecord != nil {
		if job.TUntil != nil && job.TLastRecord.After(*job.TUntil) {
			log.Error("resume watermark exceeds end of range",
				slog.Time("tlast_record", *job.TLastRecord),
				slog.Time("tuntil", *job.TUntil),
			)
			return res, ErrOrdering
		}
		args.From = job.TLastRecord
		log.Info("resuming harvest from watermark", slog.Time("from", *job.TLastRecord))
	}

	svc, err := e.store.GetService(ctx, job.ServiceID)
	if err != nil {
		return res, fmt.Errorf("failed to load service for job: %w", err)
	}

	provider, err := e.provider(svc.URL)
	if err != nil {
		return res, fmt.Errorf("failed to create provider client for %s: %w", svc.URL, err)
	}

	started := e.now()
	job.TStart = &started
	job.TEnd = nil
	if err := e.store.UpdateJobRun(ctx, job); err != nil {
		return res, fmt.Errorf("failed to record job start: %w", err)
	}

	it, err := provider.ListRecords(ctx, args)
	if err != nil {
		if errors.Is(err, oai.ErrNoRecordsMatch) {
			log.Info("no records match harvest range")
			return res, e.finish(ctx, job)
		}
		return res, fmt.Errorf("list records request failed: %w", err)
	}

	for {
		rec, err := it.Next(ctx)
		if errors.Is(err, oai.ErrNoMore) {
			break
		}
		if err != nil {
			// Provider failures are job-fatal; the watermark committed so
			// far stays consistent with what was durably stored.
			return res, fmt.Errorf("page retrieval failed: %w", err)
		}

		res.Seen++
		if token := it.Token(); token != nil {
			res.Total = token.CompleteListSize
		}

		if job.IgnoreDeleted && rec.Header.Deleted() {
			res.Skipped++
			continue
		}

		norm, err := record.Normalize(rec.Raw())
		if err != nil {
			log.Warn("skipping unparseable record",
				slog.String("oai_id", rec.Header.Identifier),
				slog.String("error", err.Error()),
			)
			res.Skipped++
			continue
		}

		row, err := store.NewIGSN(norm, job.ServiceID, e.now())
		if err != nil {
			log.Warn("skipping unmappable record",
				slog.String("igsn", norm.IGSN),
				slog.String("error", err.Error()),
			)
			res.Skipped++
			continue
		}

		stored, err := e.store.InsertIfAbsent(ctx, row)
		if err != nil {
			log.Warn("skipping record after store failure",
				slog.String("igsn", norm.IGSN),
				slog.String("error", err.Error()),
			)
			res.Skipped++
			continue
		}
		if !stored {
			log.Debug("record already present", slog.String("igsn", norm.IGSN))
			continue
		}

		res.New++

		watermark := norm.IGSNTime
		if watermark.IsZero() {
			watermark = norm.OAITime
		}
		if !watermark.IsZero() {
			job.TLastRecord = &watermark
		}
		if job.Resumption, err = oai.MarshalJSONToken(it.Token()); err != nil {
			return res, fmt.Errorf("failed to encode resumption token: %w", err)
		}

		// One commit per new record: durability over batch throughput. A
		// crash mid-page loses at most the in-flight item.
		if err := e.store.UpdateJobRun(ctx, job); err != nil {
			return res, fmt.Errorf("failed to commit watermark: %w", err)
		}

		if res.Seen%e.progressEvery == 0 {
			log.Info("harvest progress",
				slog.Int("new", res.New),
				slog.Int("seen", res.Seen),
				slog.Int("total", res.Total),
			)
		}
	}

	if err := e.finish(ctx, job); err != nil {
		return res, err
	}

	log.Info("harvest complete",
		slog.Int("new", res.New),
		slog.Int("seen", res.Seen),
		slog.Int("skipped", res.Skipped),
		slog.Int("total", res.Total),
	)
	return res, nil
}

// finish stamps the job's end time and commits it.
func (e *Engine) finish(ctx context.Context, job *store.Job) error {
	ended := e.now()
	job.TEnd = &ended
	if err := e.store.UpdateJobRun(ctx, job); err != nil {
		return fmt.Errorf("failed to record job end: %w", err)
	}
	return nil
}

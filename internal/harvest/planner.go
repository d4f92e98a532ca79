package harvest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/isamplesorg/igsn-lib/internal/oai"
	"github.com/isamplesorg/igsn-lib/internal/store"
)

// DefaultMaxSpanDays bounds the time range of a single planned job so no
// request asks the provider for an unbounded span.
const DefaultMaxSpanDays = 50

// PlannerStore is the persistence contract the planner depends on.
type PlannerStore interface {
	CreateJob(ctx context.Context, job *store.Job) error
	MostRecentIGSNTime(ctx context.Context, serviceID int64, setSpec string) (*time.Time, error)
}

// Options carries the request filters shared by all jobs of a plan.
type Options struct {
	SetSpec        string
	MetadataPrefix string
	IgnoreDeleted  bool
}

func (o Options) metadataPrefix() string {
	if o.MetadataPrefix == "" {
		return oai.DefaultMetadataPrefix
	}
	return o.MetadataPrefix
}

// Planner creates harvest jobs for a service: single bounded jobs, top-up
// jobs continuing from the most recent stored record, and job packages
// covering a long range as a chronological sequence of bounded sub-ranges.
type Planner struct {
	store  PlannerStore
	logger *slog.Logger
	now    func() time.Time
}

// NewPlanner creates a Planner.
func NewPlanner(plannerStore PlannerStore, logger *slog.Logger) *Planner {
	return &Planner{
		store:  plannerStore,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// span is one contiguous sub-range of a plan.
type span struct {
	from  time.Time
	until time.Time
}

// splitSpan partitions [from, until] into consecutive, non-overlapping
// sub-ranges of at most maxSpan each, in chronological order, covering the
// full range with no gaps.
func splitSpan(from, until time.Time, maxSpan time.Duration) []span {
	if !from.Before(until) {
		return []span{{from: from, until: until}}
	}

	spans := make([]span, 0, until.Sub(from)/maxSpan+1)
	for t := from; t.Before(until); {
		end := t.Add(maxSpan)
		if end.After(until) {
			end = until
		}
		spans = append(spans, span{from: t, until: end})
		t = end
	}
	return spans
}

// Plan creates the jobs covering [from, until] for a service. from defaults
// to the service's earliest-known timestamp and until to now. The jobs are
// persisted, attached to the service, and returned in chronological order;
// none of them is executed.
func (p *Planner) Plan(ctx context.Context, svc *store.Service, from, until *time.Time, maxSpanDays int, opts Options) ([]*store.Job, error) {
	if from == nil {
		from = svc.TEarliest
	}
	if from == nil {
		return nil, fmt.Errorf("%w: service %d has no earliest timestamp", ErrNoRange, svc.ID)
	}
	if until == nil {
		t := p.now()
		until = &t
	}
	if from.After(*until) {
		return nil, fmt.Errorf("harvest range start %s is after end %s", from.Format(oai.TimeFormat), until.Format(oai.TimeFormat))
	}
	if maxSpanDays <= 0 {
		maxSpanDays = DefaultMaxSpanDays
	}

	spans := splitSpan(from.UTC(), until.UTC(), time.Duration(maxSpanDays)*24*time.Hour)

	jobs := make([]*store.Job, 0, len(spans))
	for _, sp := range spans {
		sp := sp
		job, err := p.createJob(ctx, svc, sp.from, &sp.until, opts)
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, job)
	}

	p.logger.Info("planned harvest jobs",
		slog.Int64("service_id", svc.ID),
		slog.Int("jobs", len(jobs)),
		slog.Time("from", *from),
		slog.Time("until", *until),
	)
	return jobs, nil
}

// TopUp creates a single open-ended job starting at the most recent stored
// domain timestamp for the service, falling back to the service's earliest
// timestamp when nothing has been harvested yet.
func (p *Planner) TopUp(ctx context.Context, svc *store.Service, opts Options) (*store.Job, error) {
	latest, err := p.store.MostRecentIGSNTime(ctx, svc.ID, opts.SetSpec)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		latest = svc.TEarliest
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: service %d has no records and no earliest timestamp", ErrNoRange, svc.ID)
	}

	p.logger.Info("planning top-up harvest",
		slog.Int64("service_id", svc.ID),
		slog.Time("from", *latest),
	)
	return p.createJob(ctx, svc, *latest, nil, opts)
}

func (p *Planner) createJob(ctx context.Context, svc *store.Service, from time.Time, until *time.Time, opts Options) (*store.Job, error) {
	job := &store.Job{
		ServiceID:      svc.ID,
		IgnoreDeleted:  opts.IgnoreDeleted,
		MetadataPrefix: opts.metadataPrefix(),
		TFrom:          &from,
		TUntil:         until,
	}
	if opts.SetSpec != "" {
		spec := opts.SetSpec
		job.SetSpec = &spec
	}

	if err := p.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Package store persists harvested IGSN records, harvest jobs, and source
// services in PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/isamplesorg/igsn-lib/internal/oai"
)

var (
	// ErrServiceNotFound is returned when a service id has no row.
	ErrServiceNotFound = errors.New("service not found")

	// ErrJobNotFound is returned when a job id has no row.
	ErrJobNotFound = errors.New("job not found")
)

// IdentifyFunc queries a provider's Identify operation, used to populate a
// newly created service row.
type IdentifyFunc func(ctx context.Context, url string) (*oai.Identify, error)

// Storage provides access to the service, job, and igsn tables.
type Storage struct {
	db       *sqlx.DB
	logger   *slog.Logger
	identify IdentifyFunc
}

// NewStorage creates a Storage. identify may be nil when service creation is
// not needed (for example in the harvester, which only reads services).
func NewStorage(db *sqlx.DB, logger *slog.Logger, identify IdentifyFunc) *Storage {
	return &Storage{
		db:       db,
		logger:   logger,
		identify: identify,
	}
}

// isUniqueViolation reports whether err is a PostgreSQL unique-constraint
// violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

const serviceColumns = "id, url, name, admin_email, tearliest"

// GetService fetches a service by id.
func (s *Storage) GetService(ctx context.Context, id int64) (*Service, error) {
	var svc Service
	query := `SELECT ` + serviceColumns + ` FROM service WHERE id = $1`

	err := s.db.GetContext(ctx, &svc, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, fmt.Errorf("failed to get service: %w", err)
	}
	return &svc, nil
}

// GetServiceByURL fetches a service by its unique base URL.
func (s *Storage) GetServiceByURL(ctx context.Context, url string) (*Service, error) {
	var svc Service
	query := `SELECT ` + serviceColumns + ` FROM service WHERE url = $1`

	err := s.db.GetContext(ctx, &svc, query, url)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, fmt.Errorf("failed to get service by url: %w", err)
	}
	return &svc, nil
}

// ListServices returns all registered services.
func (s *Storage) ListServices(ctx context.Context) ([]Service, error) {
	var services []Service
	query := `SELECT ` + serviceColumns + ` FROM service ORDER BY id`

	if err := s.db.SelectContext(ctx, &services, query); err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	return services, nil
}

// GetOrCreateService looks a service up by URL, creating and populating it
// from the provider's Identify operation on a miss. A concurrent creation
// race resolves to the single stored row: a unique violation on insert is
// followed by a re-read of the winner.
func (s *Storage) GetOrCreateService(ctx context.Context, url string) (*Service, bool, error) {
	svc, err := s.GetServiceByURL(ctx, url)
	if err == nil {
		return svc, false, nil
	}
	if !errors.Is(err, ErrServiceNotFound) {
		return nil, false, err
	}

	if s.identify == nil {
		return nil, false, fmt.Errorf("cannot create service %s: no identify function configured", url)
	}

	info, err := s.identify(ctx, url)
	if err != nil {
		return nil, false, fmt.Errorf("identify failed for %s: %w", url, err)
	}

	created := &Service{URL: url}
	if info.RepositoryName != "" {
		created.Name = &info.RepositoryName
	}
	if info.AdminEmail != "" {
		created.AdminEmail = &info.AdminEmail
	}
	if earliest, err := info.EarliestTime(); err == nil {
		created.TEarliest = &earliest
	} else {
		s.logger.Warn("provider reported unparseable earliest datestamp",
			slog.String("url", url),
			slog.String("datestamp", info.EarliestDatestamp),
		)
	}

	query := `
		INSERT INTO service (url, name, admin_email, tearliest)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	err = s.db.QueryRowContext(ctx, query, created.URL, created.Name, created.AdminEmail, created.TEarliest).Scan(&created.ID)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost the creation race; the winner's row is authoritative.
			svc, err := s.GetServiceByURL(ctx, url)
			return svc, false, err
		}
		return nil, false, fmt.Errorf("failed to create service: %w", err)
	}

	s.logger.Info("registered new service",
		slog.Int64("service_id", created.ID),
		slog.String("url", url),
	)
	return created, true, nil
}

// InsertIfAbsent stores a harvested record unless its IGSN is already
// present. The first stored record wins; a lost insert race is reported as
// not stored, never as an error.
func (s *Storage) InsertIfAbsent(ctx context.Context, rec *IGSN) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM igsn WHERE id = $1)`, rec.ID)
	if err != nil {
		return false, fmt.Errorf("failed to check for existing record: %w", err)
	}
	if exists {
		return false, nil
	}

	query := `
		INSERT INTO igsn (
			id, oai_id, service_id, harvest_time,
			oai_time, igsn_time, registrant, related, log, set_spec
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9, $10
		)
	`
	_, err = s.db.ExecContext(ctx, query,
		rec.ID,
		rec.OAIID,
		rec.ServiceID,
		rec.HarvestTime,
		rec.OAITime,
		rec.IGSNTime,
		rec.Registrant,
		rec.Related,
		rec.Log,
		rec.SetSpec,
	)
	if err != nil {
		if isUniqueViolation(err) {
			s.logger.Debug("record already stored", slog.String("igsn", rec.ID))
			return false, nil
		}
		return false, fmt.Errorf("failed to insert record: %w", err)
	}

	return true, nil
}

// GetIGSN fetches a stored record by its canonical identifier.
func (s *Storage) GetIGSN(ctx context.Context, id string) (*IGSN, error) {
	var rec IGSN
	query := `
		SELECT id, oai_id, service_id, harvest_time,
		       oai_time, igsn_time, registrant, related, log, set_spec
		FROM igsn
		WHERE id = $1
	`
	if err := s.db.GetContext(ctx, &rec, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return &rec, nil
}

// MostRecentIGSNTime returns the maximum domain timestamp among a service's
// records, optionally restricted to records carrying the given set label.
// Nil is returned when the service has no matching records.
func (s *Storage) MostRecentIGSNTime(ctx context.Context, serviceID int64, setSpec string) (*time.Time, error) {
	query := `SELECT max(igsn_time) FROM igsn WHERE service_id = $1`
	args := []interface{}{serviceID}

	if setSpec != "" {
		query += ` AND set_spec @> $2`
		args = append(args, fmt.Sprintf(`[%q]`, setSpec))
	}

	var latest sql.NullTime
	if err := s.db.GetContext(ctx, &latest, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query most recent record time: %w", err)
	}
	if !latest.Valid {
		return nil, nil
	}

	t := latest.Time.UTC()
	return &t, nil
}

const jobColumns = `id, service_id, tstart, tend, ignore_deleted, metadata_prefix, setspec, tfrom, tuntil, tlast_record, resumption`

// CreateJob inserts a new, not yet executed job and fills in its id.
func (s *Storage) CreateJob(ctx context.Context, job *Job) error {
	query := `
		INSERT INTO job (
			service_id, ignore_deleted, metadata_prefix, setspec,
			tfrom, tuntil
		) VALUES (
			$1, $2, $3, $4,
			$5, $6
		)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query,
		job.ServiceID,
		job.IgnoreDeleted,
		job.MetadataPrefix,
		job.SetSpec,
		job.TFrom,
		job.TUntil,
	).Scan(&job.ID)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetJob fetches a job by id.
func (s *Storage) GetJob(ctx context.Context, id int64) (*Job, error) {
	var job Job
	query := `SELECT ` + jobColumns + ` FROM job WHERE id = $1`

	err := s.db.GetContext(ctx, &job, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// UpdateJobRun commits a job's run bookkeeping: execution timestamps, the
// resume watermark, and the provider's paging token. The engine calls this
// after every new record so a crash loses at most the in-flight item.
func (s *Storage) UpdateJobRun(ctx context.Context, job *Job) error {
	query := `
		UPDATE job
		SET tstart = $1,
		    tend = $2,
		    tlast_record = $3,
		    resumption = $4
		WHERE id = $5
	`
	result, err := s.db.ExecContext(ctx, query,
		job.TStart,
		job.TEnd,
		job.TLastRecord,
		job.Resumption,
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job run state: %w", err)
	}

	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrJobNotFound
	}
	return nil
}

// JobFilter selects and pages jobs for listing.
type JobFilter struct {
	ServiceID int64
	PageSize  int
	Cursor    *JobCursor
}

// JobCursor is a keyset-pagination cursor over the job listing, which is
// ordered by id descending.
type JobCursor struct {
	ID int64
}

// ListJobs returns up to PageSize+1 jobs matching the filter, newest first.
// The extra row lets callers detect a further page.
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM job WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.ServiceID != 0 {
		query += fmt.Sprintf(" AND service_id = $%d", argIdx)
		args = append(args, filter.ServiceID)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND id < $%d", argIdx)
		args = append(args, filter.Cursor.ID)
		argIdx++
	}

	query += " ORDER BY id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

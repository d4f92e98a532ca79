package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/isamplesorg/igsn-lib/internal/api/dto"
	"github.com/isamplesorg/igsn-lib/internal/harvest"
	"github.com/isamplesorg/igsn-lib/internal/oai"
	"github.com/isamplesorg/igsn-lib/internal/store"
)

// jobMessage is the payload queued for the harvester per planned job.
type jobMessage struct {
	JobID int64 `json:"job_id"`
}

// CreateJobs handles POST /api/v1/services/:service_id/jobs
// Plans harvest jobs for a service and, unless dispatch is disabled, queues
// them for execution in chronological order
func (h *Handler) CreateJobs(c *gin.Context) {
	svc, ok := h.serviceFromPath(c)
	if !ok {
		return
	}

	var req dto.CreateJobsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	from, err := parseOptionalTime(req.From)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid from timestamp"})
		return
	}
	until, err := parseOptionalTime(req.Until)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid until timestamp"})
		return
	}

	opts := harvest.Options{
		SetSpec:        req.SetSpec,
		MetadataPrefix: req.MetadataPrefix,
		IgnoreDeleted:  req.IgnoreDeleted,
	}

	var jobs []*store.Job
	switch req.Mode {
	case "single":
		jobs, err = h.createSingleJob(c, svc, from, until, opts)
	case "package":
		jobs, err = h.planner.Plan(c.Request.Context(), svc, from, until, req.MaxSpanDays, opts)
	case "topup":
		var job *store.Job
		job, err = h.planner.TopUp(c.Request.Context(), svc, opts)
		if job != nil {
			jobs = []*store.Job{job}
		}
	}
	if err != nil {
		if errors.Is(err, harvest.ErrNoRange) {
			c.JSON(http.StatusConflict, gin.H{
				"error": "No harvest range available for this service",
			})
			return
		}
		h.logger.Error("Failed to plan jobs",
			slog.Int64("service_id", svc.ID),
			slog.String("mode", req.Mode),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to plan jobs",
		})
		return
	}

	dispatch := req.Dispatch == nil || *req.Dispatch
	if dispatch {
		for _, job := range jobs {
			body, err := json.Marshal(jobMessage{JobID: job.ID})
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": "Failed to encode job message",
				})
				return
			}
			if err := h.publisher.PublishWithRetry(c.Request.Context(), body, "application/json"); err != nil {
				h.logger.Error("Failed to dispatch job",
					slog.Int64("job_id", job.ID),
					slog.String("error", err.Error()),
				)
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": "Jobs were created but dispatch failed",
				})
				return
			}
		}
	}

	out := make([]dto.JobDTO, len(jobs))
	for i, job := range jobs {
		out[i] = jobDTO(job)
	}
	c.JSON(http.StatusCreated, dto.CreateJobsResponse{
		Jobs:       out,
		Dispatched: dispatch,
	})
}

func (h *Handler) createSingleJob(c *gin.Context, svc *store.Service, from, until *time.Time, opts harvest.Options) ([]*store.Job, error) {
	if from == nil {
		from = svc.TEarliest
	}
	if from == nil {
		return nil, harvest.ErrNoRange
	}

	prefix := opts.MetadataPrefix
	if prefix == "" {
		prefix = oai.DefaultMetadataPrefix
	}

	job := &store.Job{
		ServiceID:      svc.ID,
		IgnoreDeleted:  opts.IgnoreDeleted,
		MetadataPrefix: prefix,
		TFrom:          from,
		TUntil:         until,
	}
	if opts.SetSpec != "" {
		spec := opts.SetSpec
		job.SetSpec = &spec
	}

	if err := h.store.CreateJob(c.Request.Context(), job); err != nil {
		return nil, err
	}
	return []*store.Job{job}, nil
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *Handler) GetJob(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("job_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be an integer",
		})
		return
	}

	job, err := h.store.GetJob(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to get job",
			slog.Int64("job_id", id),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, jobDTO(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs newest first with keyset pagination
func (h *Handler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	jobs, err := h.store.ListJobs(c.Request.Context(), store.JobFilter{
		ServiceID: req.ServiceID,
		PageSize:  req.PageSize,
		Cursor:    cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	out := make([]dto.JobDTO, len(jobs))
	for i := range jobs {
		out[i] = jobDTO(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		nextCursor = EncodeJobCursor(&store.JobCursor{ID: jobs[len(jobs)-1].ID})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       out,
		NextCursor: nextCursor,
	})
}

func parseOptionalTime(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := oai.ParseTime(value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

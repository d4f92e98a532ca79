package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/isamplesorg/igsn-lib/internal/api/dto"
	"github.com/isamplesorg/igsn-lib/internal/harvest"
	"github.com/isamplesorg/igsn-lib/internal/store"
)

// RegisterService handles POST /api/v1/services
// Registers an OAI-PMH provider, populating its metadata from Identify
func (h *Handler) RegisterService(c *gin.Context) {
	var req dto.RegisterServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	svc, created, err := h.store.GetOrCreateService(c.Request.Context(), req.URL)
	if err != nil {
		h.logger.Error("Failed to register service",
			slog.String("url", req.URL),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "Failed to register service",
		})
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, serviceDTO(svc))
}

// ListServices handles GET /api/v1/services
func (h *Handler) ListServices(c *gin.Context) {
	services, err := h.store.ListServices(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list services", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list services",
		})
		return
	}

	out := make([]dto.ServiceDTO, len(services))
	for i := range services {
		out[i] = serviceDTO(&services[i])
	}
	c.JSON(http.StatusOK, gin.H{"services": out})
}

// GetService handles GET /api/v1/services/:service_id
func (h *Handler) GetService(c *gin.Context) {
	svc, ok := h.serviceFromPath(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, serviceDTO(svc))
}

// ListServiceSets handles GET /api/v1/services/:service_id/sets
// Lists the provider's sets; with counts=true each set carries its record count
func (h *Handler) ListServiceSets(c *gin.Context) {
	svc, ok := h.serviceFromPath(c)
	if !ok {
		return
	}

	counter, err := h.provider(svc.URL)
	if err != nil {
		h.logger.Error("Failed to create provider client",
			slog.String("url", svc.URL),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create provider client",
		})
		return
	}

	withCounts := c.Query("counts") == "true"

	var counts []harvest.SetCount
	if withCounts {
		counts, err = harvest.CountSets(c.Request.Context(), counter, h.setCountWorkers, h.logger)
	} else {
		sets, listErr := counter.ListSets(c.Request.Context())
		err = listErr
		for _, set := range sets {
			counts = append(counts, harvest.SetCount{Set: set})
		}
	}
	if err != nil {
		h.logger.Error("Failed to list sets",
			slog.String("url", svc.URL),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "Failed to list sets",
		})
		return
	}

	out := make([]dto.SetCountDTO, len(counts))
	for i, sc := range counts {
		out[i] = dto.SetCountDTO{
			SetSpec: sc.Set.Spec,
			SetName: sc.Set.Name,
		}
		if sc.Err != nil {
			out[i].Error = sc.Err.Error()
		} else if withCounts {
			count := sc.Count
			out[i].Count = &count
		}
	}
	c.JSON(http.StatusOK, dto.ListSetsResponse{Sets: out})
}

// serviceFromPath loads the service named by the :service_id path parameter,
// writing the error response itself on failure.
func (h *Handler) serviceFromPath(c *gin.Context) (*store.Service, bool) {
	id, err := strconv.ParseInt(c.Param("service_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "service_id must be an integer",
		})
		return nil, false
	}

	svc, err := h.store.GetService(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrServiceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Service not found",
			})
			return nil, false
		}
		h.logger.Error("Failed to get service",
			slog.Int64("service_id", id),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get service",
		})
		return nil, false
	}
	return svc, true
}

package handler

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/isamplesorg/igsn-lib/internal/api/dto"
	"github.com/isamplesorg/igsn-lib/internal/igsn"
	"github.com/isamplesorg/igsn-lib/internal/oai"
)

// ResolveIGSN handles GET /api/v1/resolve/:igsn
// Normalizes the identifier and walks the resolver redirect chain
func (h *Handler) ResolveIGSN(c *gin.Context) {
	value := igsn.Normalize(c.Param("igsn"))
	if value == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Unrecognized IGSN identifier form",
		})
		return
	}

	hops, err := h.resolver.Resolve(c.Request.Context(), value)
	if err != nil {
		h.logger.Error("Resolution failed",
			slog.String("igsn", value),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "Resolution failed",
		})
		return
	}

	out := make([]dto.HopDTO, len(hops))
	for i, hop := range hops {
		out[i] = dto.HopDTO{
			URL:        hop.URL,
			StatusCode: hop.StatusCode,
			Location:   hop.Location,
		}
	}
	c.JSON(http.StatusOK, dto.ResolveResponse{
		IGSN: value,
		Hops: out,
	})
}

// GetRecord handles GET /api/v1/igsn/:igsn
// Returns the stored record for a harvested identifier
func (h *Handler) GetRecord(c *gin.Context) {
	value := igsn.Normalize(c.Param("igsn"))
	if value == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Unrecognized IGSN identifier form",
		})
		return
	}

	rec, err := h.store.GetIGSN(c.Request.Context(), value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Record not found",
			})
			return
		}
		h.logger.Error("Failed to get record",
			slog.String("igsn", value),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get record",
		})
		return
	}

	c.JSON(http.StatusOK, dto.RecordDTO{
		IGSN:        rec.ID,
		OAIID:       rec.OAIID,
		ServiceID:   rec.ServiceID,
		HarvestTime: rec.HarvestTime.UTC().Format(oai.TimeFormat),
		OAITime:     formatTime(rec.OAITime),
		IGSNTime:    formatTime(rec.IGSNTime),
		Registrant:  rec.Registrant,
		Related:     rec.Related,
		Log:         rec.Log,
		SetSpec:     rec.SetSpec,
	})
}

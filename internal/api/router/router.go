package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/isamplesorg/igsn-lib/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "igsn-api-service",
		})
	})

	h := handler.New(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		services := v1.Group("/services")
		{
			// POST /api/v1/services - Register an OAI-PMH provider
			services.POST("", h.RegisterService)

			// GET /api/v1/services - List registered providers
			services.GET("", h.ListServices)

			// GET /api/v1/services/:service_id - Get provider details
			services.GET("/:service_id", h.GetService)

			// GET /api/v1/services/:service_id/sets - List provider sets
			services.GET("/:service_id/sets", h.ListServiceSets)

			// POST /api/v1/services/:service_id/jobs - Plan and dispatch harvest jobs
			services.POST("/:service_id/jobs", h.CreateJobs)
		}

		jobs := v1.Group("/jobs")
		{
			// GET /api/v1/jobs - List jobs with filtering and pagination
			jobs.GET("", h.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details
			jobs.GET("/:job_id", h.GetJob)
		}

		// GET /api/v1/igsn/:igsn - Get a harvested record
		v1.GET("/igsn/:igsn", h.GetRecord)

		// GET /api/v1/resolve/:igsn - Walk the resolver redirect chain
		v1.GET("/resolve/:igsn", h.ResolveIGSN)
	}

	return r
}

package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/traffic-export/internal/api/handler"
)

// ServiceName is reported by the health endpoint
const ServiceName = "traffic-status-api"

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		if deps.HealthCheck != nil {
			if err := deps.HealthCheck(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unhealthy",
					"service": ServiceName,
					"error":   err.Error(),
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": ServiceName,
		})
	})

	statusHandler := handler.NewStatusHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// GET /api/v1/watermark - Current watermark and pending dates
		v1.GET("/watermark", statusHandler.GetWatermark)

		runs := v1.Group("/runs")
		{
			// GET /api/v1/runs - List runs with filtering and pagination
			runs.GET("", statusHandler.ListRuns)

			// GET /api/v1/runs/:correlation_id - Get run details
			runs.GET("/:correlation_id", statusHandler.GetRun)
		}
	}

	return r
}

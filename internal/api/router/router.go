package router

import (
	"net/http"

	"fabula/internal/api/handler"

	"github.com/gin-gonic/gin"
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
			"service": "fabula-api-service",
		})
	})

	narrativeHandler := handler.NewNarrativeHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		narrative := v1.Group("/narrative")
		{
			// POST /api/v1/narrative/generate - Start a generation job
			narrative.POST("/generate", narrativeHandler.StartGeneration)

			// GET /api/v1/narrative/status/:task_id - Poll job status
			narrative.GET("/status/:task_id", narrativeHandler.GetStatus)

			// GET /api/v1/narrative/stream/:task_id - Stream progress over SSE
			narrative.GET("/stream/:task_id", narrativeHandler.StreamEvents)

			// GET /api/v1/narrative/state/:task_id - Latest story state snapshot
			narrative.GET("/state/:task_id", narrativeHandler.GetState)

			// GET /api/v1/narrative/mapping/:task_id - Analogical mapping
			narrative.GET("/mapping/:task_id", narrativeHandler.GetMapping)

			// GET /api/v1/narrative/validation/:task_id - Validation results
			narrative.GET("/validation/:task_id", narrativeHandler.GetValidation)
		}
	}

	return r
}

package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"fabula/internal/api/dto"
	"fabula/internal/jobs"
	"fabula/internal/narrative"

	"github.com/gin-gonic/gin"
)

// StartGeneration handles POST /api/v1/narrative/generate
// Accepts a source text and starts a background generation job
func (h *NarrativeHandler) StartGeneration(c *gin.Context) {
	var req dto.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	params := narrative.GenerationParams{
		TargetGenre:    req.TargetGenre,
		TargetAudience: req.TargetAudience,
		Tone:           req.Tone,
		WordsPerScene:  req.WordsPerScene,
		SafetyLevel:    req.SafetyLevel,
	}
	if params.TargetGenre == "" {
		params.TargetGenre = "General Fiction"
	}
	if params.TargetAudience == "" {
		params.TargetAudience = "General"
	}
	if params.Tone == "" {
		params.Tone = "Neutral"
	}
	if params.WordsPerScene <= 0 {
		params.WordsPerScene = h.wordsPerScene
	}
	if params.SafetyLevel == "" {
		params.SafetyLevel = "none"
	}

	job := h.jobs.Submit(jobs.SubmitRequest{
		InputText: req.InputText,
		Params:    params,
	})

	c.JSON(http.StatusAccepted, dto.GenerateResponse{
		TaskID: job.ID,
		Status: job.Status,
	})
}

// GetStatus handles GET /api/v1/narrative/status/:task_id
// Returns the job's current status, and its result or error once terminal
func (h *NarrativeHandler) GetStatus(c *gin.Context) {
	taskID := c.Param("task_id")

	job, err := h.jobs.Get(taskID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "task not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, job)
}

// StreamEvents handles GET /api/v1/narrative/stream/:task_id
// Streams the job's progress records over SSE until a terminal record, with
// periodic heartbeats while the pipeline is quiet
func (h *NarrativeHandler) StreamEvents(c *gin.Context) {
	taskID := c.Param("task_id")

	sub, err := h.bus.Subscribe(taskID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "no event stream for task",
		})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		// Next wakes up at least once per heartbeat interval, which bounds
		// how long a disconnected client keeps this goroutine alive.
		if ctx.Err() != nil {
			return false
		}

		rec, ok := sub.Next(h.heartbeatInterval)
		if !ok {
			return false
		}

		c.SSEvent("message", rec)
		return !rec.Terminal()
	})
}

// GetState handles GET /api/v1/narrative/state/:task_id
// Returns the latest story state snapshot for a job
func (h *NarrativeHandler) GetState(c *gin.Context) {
	taskID := c.Param("task_id")

	st, ok := h.engine.Snapshot(taskID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "no state for task",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"task_id": taskID,
		"state":   st,
	})
}

// GetMapping handles GET /api/v1/narrative/mapping/:task_id
// Returns the analogical mapping once the map stage has produced it
func (h *NarrativeHandler) GetMapping(c *gin.Context) {
	taskID := c.Param("task_id")

	st, ok := h.engine.Snapshot(taskID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "no state for task",
		})
		return
	}
	if st.Mapping == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "mapping not available yet",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"task_id": taskID,
		"mapping": st.Mapping,
	})
}

// GetValidation handles GET /api/v1/narrative/validation/:task_id
// Returns the validation results recorded so far for a job
func (h *NarrativeHandler) GetValidation(c *gin.Context) {
	taskID := c.Param("task_id")

	st, ok := h.engine.Snapshot(taskID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "no state for task",
		})
		return
	}

	// An empty result list counts as valid.
	overallValid := true
	for _, r := range st.Validation {
		if !r.IsValid {
			overallValid = false
			break
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"task_id":            taskID,
		"validation_results": st.Validation,
		"overall_valid":      overallValid,
	})
}

package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"fabula/internal/engine"
	"fabula/internal/events"
	"fabula/internal/narrative"
)

// SubmitRequest is the submitter's input for one generation job.
type SubmitRequest struct {
	InputText string
	Params    narrative.GenerationParams
}

// Service owns the registry and runs the workflow engine in the background,
// one goroutine per job. Submission is fire-and-forget: the caller gets a
// queued job id back immediately, regardless of pipeline length or external
// call latency. There is no cap on concurrent jobs.
type Service struct {
	registry *Registry
	engine   *engine.Engine
	bus      *events.Bus
	logger   *slog.Logger
}

// NewService wires a job service around the given engine and event bus.
func NewService(eng *engine.Engine, bus *events.Bus, logger *slog.Logger) *Service {
	return &Service{
		registry: NewRegistry(),
		engine:   eng,
		bus:      bus,
		logger:   logger,
	}
}

// Submit allocates a job, schedules its background execution and returns the
// queued job immediately.
func (s *Service) Submit(req SubmitRequest) Job {
	job := s.registry.Create()
	s.bus.CreateChannel(job.ID)

	s.logger.Info("job submitted",
		slog.String("job_id", job.ID),
		slog.String("genre", req.Params.TargetGenre),
		slog.Int("input_len", len(req.InputText)),
	)

	go s.run(job.ID, req)
	return job
}

// Get returns the job's current status, result and error.
func (s *Service) Get(jobID string) (Job, error) {
	return s.registry.Get(jobID)
}

// run executes one job to its terminal state. It never re-raises toward the
// submitter: failures are recorded on the job and published as a terminal
// error record. The event channel is always torn down at the end.
func (s *Service) run(jobID string, req SubmitRequest) {
	defer s.bus.Cleanup(jobID)
	defer func() {
		if r := recover(); r != nil {
			message := fmt.Sprintf("workflow panic: %v", r)
			s.logger.Error("job panicked",
				slog.String("job_id", jobID),
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
			s.registry.MarkFailed(jobID, message)
			s.bus.Publish(jobID, events.TypeError, map[string]any{"message": message})
		}
	}()

	s.registry.MarkRunning(jobID)
	s.bus.Publish(jobID, events.TypeWorkflowStart, map[string]any{
		"input_text":      preview(req.InputText, 100),
		"genre":           req.Params.TargetGenre,
		"words_per_scene": req.Params.WordsPerScene,
		"safety_level":    req.Params.SafetyLevel,
	})

	st := narrative.NewStoryState(req.InputText, req.Params)
	publish := func(recordType string, data map[string]any) {
		s.bus.Publish(jobID, recordType, data)
	}

	final, err := s.engine.Execute(context.Background(), jobID, st, publish)
	if err != nil {
		s.logger.Error("job failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		s.registry.MarkFailed(jobID, err.Error())
		s.bus.Publish(jobID, events.TypeError, map[string]any{"message": err.Error()})
		return
	}

	result := &Result{
		StoryText:  final.FullProse(),
		GraphNodes: len(final.Graph.Nodes),
		Chunks:     final.Rendered,
	}
	s.registry.MarkCompleted(jobID, result)
	s.bus.Publish(jobID, events.TypeWorkflowComplete, map[string]any{
		"total_nodes":  len(final.Graph.Nodes),
		"total_chunks": len(final.Rendered),
		"total_words":  len(strings.Fields(result.StoryText)),
	})

	s.logger.Info("job completed",
		slog.String("job_id", jobID),
		slog.Int("nodes", result.GraphNodes),
		slog.Int("chunks", len(result.Chunks)),
	)
}

func preview(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"fabula/internal/narrative"
)

// Update is the partial result a stage hands back. The engine merges it into
// the shared StoryState before the next stage (or loop iteration) runs.
// Graph and Mapping replace their slot once; Validation and RenderedChunk
// append.
type Update struct {
	Graph         *narrative.LogicGraph
	Mapping       *narrative.AnalogicalMapping
	Validation    []narrative.ValidationResult
	RenderedChunk *RenderedChunk
}

// RenderedChunk is one loop-stage output: prose for a single graph node,
// plus the rolling-memory appends that keep later scenes coherent.
type RenderedChunk struct {
	NodeID string
	Prose  string
}

// Stage is one unit of pipeline work. Implementations consume the current
// state and return an update to merge; they never mutate the state directly.
type Stage interface {
	Name() string
	Process(ctx context.Context, st *narrative.StoryState) (*Update, error)
}

// Descriptor attaches loop behavior to a stage. A nil LoopWhile means the
// stage runs exactly once; otherwise it is re-invoked while the predicate
// holds, the predicate being re-evaluated after every invocation.
type Descriptor struct {
	Stage     Stage
	LoopWhile func(*narrative.StoryState) bool
}

// StageError wraps a stage-internal failure with the stage's identity. A
// stage that fails is never retried by the engine and aborts the whole job.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %q: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Publisher receives progress records as the engine moves through stages.
type Publisher func(recordType string, data map[string]any)

// Engine drives an ordered stage sequence with exactly one bounded loop over
// a shared StoryState. After every completed stage invocation it stores a
// point-in-time snapshot keyed by job id, so mid-flight status queries never
// race the running pipeline.
type Engine struct {
	stages    []Descriptor
	snapshots *SnapshotStore
	logger    *slog.Logger
}

// New validates the stage list and builds an engine. The list must contain
// exactly one loop descriptor.
func New(stages []Descriptor, snapshots *SnapshotStore, logger *slog.Logger) (*Engine, error) {
	if len(stages) == 0 {
		return nil, errors.New("engine: at least one stage required")
	}
	loops := 0
	for _, d := range stages {
		if d.Stage == nil {
			return nil, errors.New("engine: nil stage in descriptor list")
		}
		if d.LoopWhile != nil {
			loops++
		}
	}
	if loops != 1 {
		return nil, fmt.Errorf("engine: exactly one loop stage required, got %d", loops)
	}
	return &Engine{stages: stages, snapshots: snapshots, logger: logger}, nil
}

// Execute runs every stage in order against st and returns the final state.
// Any stage failure aborts immediately with a *StageError; retrying external
// calls is the gateway's job, not the engine's. publish may be nil.
func (e *Engine) Execute(ctx context.Context, jobID string, st *narrative.StoryState, publish Publisher) (*narrative.StoryState, error) {
	if publish == nil {
		publish = func(string, map[string]any) {}
	}

	for _, desc := range e.stages {
		name := desc.Stage.Name()
		publish("stage_start", map[string]any{"stage": name})
		e.logger.Info("stage starting",
			slog.String("job_id", jobID),
			slog.String("stage", name),
		)

		if desc.LoopWhile == nil {
			if err := e.runOnce(ctx, jobID, desc.Stage, st); err != nil {
				return nil, err
			}
		} else {
			for desc.LoopWhile(st) {
				index := st.NodeIndex
				if err := e.runOnce(ctx, jobID, desc.Stage, st); err != nil {
					return nil, err
				}
				// The loop cursor moves exactly once per invocation, whatever
				// the stage returned. The guard is re-checked on the next pass.
				st.NodeIndex = index + 1
				e.snapshot(jobID, st)
				publish("scene_rendered", map[string]any{
					"stage": name,
					"index": index,
					"total": len(st.Graph.Nodes),
				})
			}
		}

		e.snapshot(jobID, st)
		publish("stage_complete", map[string]any{"stage": name})
		e.logger.Info("stage complete",
			slog.String("job_id", jobID),
			slog.String("stage", name),
		)
	}

	return st, nil
}

func (e *Engine) runOnce(ctx context.Context, jobID string, stage Stage, st *narrative.StoryState) error {
	if err := ctx.Err(); err != nil {
		return &StageError{Stage: stage.Name(), Err: err}
	}
	update, err := stage.Process(ctx, st)
	if err != nil {
		e.logger.Error("stage failed",
			slog.String("job_id", jobID),
			slog.String("stage", stage.Name()),
			slog.String("error", err.Error()),
		)
		return &StageError{Stage: stage.Name(), Err: err}
	}
	merge(st, update)
	return nil
}

// merge folds a stage's partial update into the shared state.
func merge(st *narrative.StoryState, u *Update) {
	if u == nil {
		return
	}
	if u.Graph != nil {
		st.Graph = *u.Graph
	}
	if u.Mapping != nil {
		st.Mapping = u.Mapping
	}
	if len(u.Validation) > 0 {
		st.Validation = append(st.Validation, u.Validation...)
	}
	if u.RenderedChunk != nil {
		st.Rendered[u.RenderedChunk.NodeID] = u.RenderedChunk.Prose
		st.Memory.LastParagraph = u.RenderedChunk.Prose
		if st.Memory.RunningSummary != "" {
			st.Memory.RunningSummary += "\n"
		}
		st.Memory.RunningSummary += u.RenderedChunk.Prose
	}
}

func (e *Engine) snapshot(jobID string, st *narrative.StoryState) {
	if e.snapshots != nil {
		e.snapshots.Put(jobID, st)
	}
}

// Snapshot returns the latest point-in-time copy of a job's state.
func (e *Engine) Snapshot(jobID string) (*narrative.StoryState, bool) {
	if e.snapshots == nil {
		return nil, false
	}
	return e.snapshots.Get(jobID)
}

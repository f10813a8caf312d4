package engine

import (
	"context"
	"errors"
	"io"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fabula/internal/narrative"
)

type fakeStage struct {
	name string
	fn   func(ctx context.Context, st *narrative.StoryState) (*Update, error)
}

func (s *fakeStage) Name() string { return s.name }

func (s *fakeStage) Process(ctx context.Context, st *narrative.StoryState) (*Update, error) {
	return s.fn(ctx, st)
}

func graphStage(name string, nodeCount int) *fakeStage {
	return &fakeStage{name: name, fn: func(_ context.Context, _ *narrative.StoryState) (*Update, error) {
		graph := narrative.LogicGraph{}
		for i := 0; i < nodeCount; i++ {
			graph.Nodes = append(graph.Nodes, narrative.NarrativeNode{
				ID:     fmt.Sprintf("node-%d", i),
				Action: "Act",
			})
		}
		return &Update{Graph: &graph}, nil
	}}
}

func renderStage(name string) *fakeStage {
	return &fakeStage{name: name, fn: func(_ context.Context, st *narrative.StoryState) (*Update, error) {
		node := st.Graph.Nodes[st.NodeIndex]
		return &Update{RenderedChunk: &RenderedChunk{
			NodeID: node.ID,
			Prose:  "prose for " + node.ID,
		}}, nil
	}}
}

func loopWhileNodesLeft(st *narrative.StoryState) bool {
	return st.NodeIndex < len(st.Graph.Nodes)
}

func newTestEngine(t *testing.T, stages []Descriptor) *Engine {
	t.Helper()
	eng, err := New(stages, NewSnapshotStore(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return eng
}

func TestNew_RequiresExactlyOneLoop(t *testing.T) {
	plain := Descriptor{Stage: graphStage("a", 1)}
	loop := Descriptor{Stage: renderStage("b"), LoopWhile: loopWhileNodesLeft}

	_, err := New([]Descriptor{plain}, NewSnapshotStore(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)

	_, err = New([]Descriptor{loop, loop}, NewSnapshotStore(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)

	_, err = New(nil, NewSnapshotStore(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)

	_, err = New([]Descriptor{plain, loop}, NewSnapshotStore(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.NoError(t, err)
}

func TestExecute_LoopRunsOncePerNode(t *testing.T) {
	tests := []struct {
		name      string
		nodeCount int
	}{
		{name: "five nodes", nodeCount: 5},
		{name: "three nodes", nodeCount: 3},
		{name: "one node", nodeCount: 1},
		{name: "empty graph falls through", nodeCount: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			invocations := 0
			render := renderStage("scribe")
			counted := &fakeStage{name: "scribe", fn: func(ctx context.Context, st *narrative.StoryState) (*Update, error) {
				invocations++
				return render.fn(ctx, st)
			}}

			eng := newTestEngine(t, []Descriptor{
				{Stage: graphStage("deconstruct", tt.nodeCount)},
				{Stage: counted, LoopWhile: loopWhileNodesLeft},
			})

			st := narrative.NewStoryState("once upon a time", narrative.GenerationParams{})
			final, err := eng.Execute(context.Background(), "job-1", st, nil)
			require.NoError(t, err)

			assert.Equal(t, tt.nodeCount, invocations, "loop stage runs exactly once per node")
			assert.Len(t, final.Rendered, tt.nodeCount)
			assert.Equal(t, tt.nodeCount, final.NodeIndex)
		})
	}
}

func TestExecute_MergesUpdatesInOrder(t *testing.T) {
	var order []string
	record := func(name string, inner *fakeStage) *fakeStage {
		return &fakeStage{name: name, fn: func(ctx context.Context, st *narrative.StoryState) (*Update, error) {
			order = append(order, name)
			return inner.fn(ctx, st)
		}}
	}

	mapping := &fakeStage{name: "map", fn: func(_ context.Context, _ *narrative.StoryState) (*Update, error) {
		return &Update{Mapping: &narrative.AnalogicalMapping{StructureType: "Three-Act"}}, nil
	}}
	validate := &fakeStage{name: "validate", fn: func(_ context.Context, _ *narrative.StoryState) (*Update, error) {
		return &Update{Validation: []narrative.ValidationResult{{IsValid: true}}}, nil
	}}

	eng := newTestEngine(t, []Descriptor{
		{Stage: record("deconstruct", graphStage("deconstruct", 2))},
		{Stage: record("map", mapping)},
		{Stage: record("validate", validate)},
		{Stage: record("scribe", renderStage("scribe")), LoopWhile: loopWhileNodesLeft},
	})

	st := narrative.NewStoryState("in", narrative.GenerationParams{})
	final, err := eng.Execute(context.Background(), "job-1", st, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"deconstruct", "map", "validate", "scribe", "scribe"}, order)
	require.NotNil(t, final.Mapping)
	assert.Equal(t, "Three-Act", final.Mapping.StructureType)
	require.Len(t, final.Validation, 1)
	assert.True(t, final.Validation[0].IsValid)
	assert.Equal(t, "prose for node-1", final.Memory.LastParagraph)
	assert.Contains(t, final.Memory.RunningSummary, "prose for node-0")
}

func TestExecute_StageErrorAbortsImmediately(t *testing.T) {
	boom := errors.New("model exploded")
	failing := &fakeStage{name: "map", fn: func(_ context.Context, _ *narrative.StoryState) (*Update, error) {
		return nil, boom
	}}
	neverRun := &fakeStage{name: "scribe", fn: func(_ context.Context, _ *narrative.StoryState) (*Update, error) {
		t.Fatal("stage after a failure must not run")
		return nil, nil
	}}

	eng := newTestEngine(t, []Descriptor{
		{Stage: graphStage("deconstruct", 2)},
		{Stage: failing},
		{Stage: neverRun, LoopWhile: loopWhileNodesLeft},
	})

	st := narrative.NewStoryState("in", narrative.GenerationParams{})
	_, err := eng.Execute(context.Background(), "job-1", st, nil)
	require.Error(t, err)

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, "map", stageErr.Stage)
	assert.ErrorIs(t, err, boom)
}

func TestExecute_SnapshotsVisibleMidFlight(t *testing.T) {
	var eng *Engine
	check := &fakeStage{name: "check", fn: func(_ context.Context, st *narrative.StoryState) (*Update, error) {
		// Snapshot from the previous stage must already be retrievable.
		snap, ok := eng.Snapshot("job-1")
		if !ok || len(snap.Graph.Nodes) != 1 {
			return nil, errors.New("expected snapshot with deconstructed graph")
		}
		return nil, nil
	}}
	eng = newTestEngine(t, []Descriptor{
		{Stage: graphStage("deconstruct", 1)},
		{Stage: check},
		{Stage: renderStage("scribe"), LoopWhile: loopWhileNodesLeft},
	})

	st := narrative.NewStoryState("in", narrative.GenerationParams{})
	_, err := eng.Execute(context.Background(), "job-1", st, nil)
	require.NoError(t, err)
}

func TestExecute_SnapshotIsIsolatedCopy(t *testing.T) {
	eng := newTestEngine(t, []Descriptor{
		{Stage: graphStage("deconstruct", 2)},
		{Stage: renderStage("scribe"), LoopWhile: loopWhileNodesLeft},
	})

	st := narrative.NewStoryState("in", narrative.GenerationParams{})
	_, err := eng.Execute(context.Background(), "job-1", st, nil)
	require.NoError(t, err)

	snap, ok := eng.Snapshot("job-1")
	require.True(t, ok)

	// Mutating the live state must not leak into the stored snapshot.
	st.Graph.Nodes[0].Action = "Tampered"
	st.Rendered["node-0"] = "tampered"
	assert.Equal(t, "Act", snap.Graph.Nodes[0].Action)
	assert.Equal(t, "prose for node-0", snap.Rendered["node-0"])
}

func TestExecute_PublishesProgressRecords(t *testing.T) {
	eng := newTestEngine(t, []Descriptor{
		{Stage: graphStage("deconstruct", 2)},
		{Stage: renderStage("scribe"), LoopWhile: loopWhileNodesLeft},
	})

	var types []string
	publish := func(recordType string, data map[string]any) {
		types = append(types, recordType)
	}

	st := narrative.NewStoryState("in", narrative.GenerationParams{})
	_, err := eng.Execute(context.Background(), "job-1", st, publish)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"stage_start", "stage_complete",
		"stage_start", "scene_rendered", "scene_rendered", "stage_complete",
	}, types)
}

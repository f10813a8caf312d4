package stages

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fabula/internal/gateway"
	"fabula/internal/narrative"
)

// fakeGenerator decodes a canned JSON payload into out and records the call.
type fakeGenerator struct {
	payload    string
	err        error
	lastPrompt string
	lastParams gateway.Params
	calls      int
}

func (f *fakeGenerator) GenerateStructured(_ context.Context, prompt string, _ gateway.Schema, out any, params gateway.Params) error {
	f.calls++
	f.lastPrompt = prompt
	f.lastParams = params
	if f.err != nil {
		return f.err
	}
	return json.Unmarshal([]byte(f.payload), out)
}

func TestDeconstruct_ProducesGraphUpdate(t *testing.T) {
	gen := &fakeGenerator{payload: `{
		"nodes": [
			{"id": "n1", "action": "Arrive", "actors": ["Hero"], "reasoning": "r"},
			{"id": "n2", "action": "Confront", "actors": ["Hero", "Dragon"], "reasoning": "r"}
		],
		"edges": [{"source": "n1", "target": "n2", "relation": "then"}]
	}`}

	st := narrative.NewStoryState("A knight seeks a dragon", narrative.GenerationParams{})
	update, err := NewDeconstruct(gen).Process(context.Background(), st)
	require.NoError(t, err)

	require.NotNil(t, update.Graph)
	assert.Len(t, update.Graph.Nodes, 2)
	assert.Len(t, update.Graph.Edges, 1)
	assert.Contains(t, gen.lastPrompt, "A knight seeks a dragon")
}

func TestDeconstruct_PropagatesGatewayError(t *testing.T) {
	boom := &gateway.EmptyResponseError{BlockReason: "SAFETY"}
	gen := &fakeGenerator{err: boom}

	st := narrative.NewStoryState("in", narrative.GenerationParams{})
	_, err := NewDeconstruct(gen).Process(context.Background(), st)
	require.Error(t, err)

	var emptyErr *gateway.EmptyResponseError
	assert.True(t, errors.As(err, &emptyErr), "gateway errors surface unchanged to the engine")
}

func TestMapper_SummarizesGraphInPrompt(t *testing.T) {
	gen := &fakeGenerator{payload: `{
		"entity_archetypes": [{"entity_name": "Hero", "archetype": "Hero"}],
		"action_patterns": ["Quest"],
		"structure_type": "Hero's Journey",
		"emotional_arc": ["Hope", "Fear", "Triumph"],
		"reasoning": "r"
	}`}

	st := narrative.NewStoryState("in", narrative.GenerationParams{})
	st.Graph = narrative.LogicGraph{
		Nodes: []narrative.NarrativeNode{{ID: "n1", Action: "Arrive", Actors: []string{"Hero"}}},
		Edges: []narrative.NarrativeEdge{{Source: "n1", Target: "n2", Relation: "then"}},
	}

	update, err := NewMapper(gen).Process(context.Background(), st)
	require.NoError(t, err)

	require.NotNil(t, update.Mapping)
	assert.Equal(t, "Hero's Journey", update.Mapping.StructureType)
	assert.Contains(t, gen.lastPrompt, "Arrive by Hero")
	assert.Contains(t, gen.lastPrompt, "n1 -> n2 (then)")
}

func TestValidate_Symbolic(t *testing.T) {
	tests := []struct {
		name           string
		nodes          []narrative.NarrativeNode
		wantValid      bool
		wantViolations int
	}{
		{
			name:      "empty graph is valid",
			wantValid: true,
		},
		{
			name: "satisfied chain is valid",
			nodes: []narrative.NarrativeNode{
				{ID: "n1", Action: "Arrive", Postconditions: []string{"hero present"}},
				{ID: "n2", Action: "Fight", Preconditions: []string{"hero present"}},
			},
			wantValid: true,
		},
		{
			name: "missing precondition is flagged",
			nodes: []narrative.NarrativeNode{
				{ID: "n1", Action: "Fight", Preconditions: []string{"sword drawn"}},
			},
			wantValid:      false,
			wantViolations: 1,
		},
		{
			name: "precondition satisfied out of order still fails",
			nodes: []narrative.NarrativeNode{
				{ID: "n1", Action: "Fight", Preconditions: []string{"sword drawn"}},
				{ID: "n2", Action: "Draw", Postconditions: []string{"sword drawn"}},
			},
			wantValid:      false,
			wantViolations: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := narrative.NewStoryState("in", narrative.GenerationParams{})
			st.Graph.Nodes = tt.nodes

			update, err := NewValidate().Process(context.Background(), st)
			require.NoError(t, err)
			require.Len(t, update.Validation, 1)

			result := update.Validation[0]
			assert.Equal(t, tt.wantValid, result.IsValid)
			assert.Len(t, result.Violations, tt.wantViolations)
			if !tt.wantValid {
				assert.NotEmpty(t, result.Suggestions)
				assert.Equal(t, "precondition", result.Violations[0].ViolationType)
			}
		})
	}
}

func TestScribe_RendersCursorNode(t *testing.T) {
	gen := &fakeGenerator{payload: `{"prose": "The gate creaked open.", "reasoning": "r"}`}

	st := narrative.NewStoryState("in", narrative.GenerationParams{
		TargetGenre:   "Fantasy",
		Tone:          "Grim",
		WordsPerScene: 150,
		SafetyLevel:   "medium",
	})
	st.Graph.Nodes = []narrative.NarrativeNode{
		{ID: "n1", Action: "Arrive", Actors: []string{"Hero"}},
		{ID: "n2", Action: "Confront", Actors: []string{"Hero", "Dragon"}},
	}
	st.NodeIndex = 1
	st.Memory.LastParagraph = "He stood before the lair."

	update, err := NewScribe(gen).Process(context.Background(), st)
	require.NoError(t, err)

	require.NotNil(t, update.RenderedChunk)
	assert.Equal(t, "n2", update.RenderedChunk.NodeID)
	assert.Equal(t, "The gate creaked open.", update.RenderedChunk.Prose)
	assert.Equal(t, "medium", gen.lastParams.SafetyLevel)
	assert.Contains(t, gen.lastPrompt, "Confront")
	assert.Contains(t, gen.lastPrompt, "He stood before the lair.")
}

func TestScribe_EmptyProseIsAnError(t *testing.T) {
	gen := &fakeGenerator{payload: `{"prose": "  ", "reasoning": "r"}`}

	st := narrative.NewStoryState("in", narrative.GenerationParams{})
	st.Graph.Nodes = []narrative.NarrativeNode{{ID: "n1", Action: "Arrive"}}

	_, err := NewScribe(gen).Process(context.Background(), st)
	assert.Error(t, err)
}

func TestScribe_CursorPastEnd(t *testing.T) {
	st := narrative.NewStoryState("in", narrative.GenerationParams{})
	st.NodeIndex = 3

	_, err := NewScribe(&fakeGenerator{}).Process(context.Background(), st)
	assert.Error(t, err)
}

func TestValidateCommonsense(t *testing.T) {
	gen := &fakeGenerator{payload: `{
		"is_valid": false,
		"violations": [{"violation_type": "commonsense", "description": "d", "node_id": "n1", "severity": "error"}],
		"reasoning": "r"
	}`}

	result, err := ValidateCommonsense(context.Background(), gen, narrative.LogicGraph{
		Nodes: []narrative.NarrativeNode{{ID: "n1", Action: "Fly"}},
	})
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, "commonsense", result.Violations[0].ViolationType)
}

func TestPipeline_Shape(t *testing.T) {
	descriptors := Pipeline(&fakeGenerator{})
	require.Len(t, descriptors, 4)

	loops := 0
	for _, d := range descriptors {
		if d.LoopWhile != nil {
			loops++
			assert.Equal(t, "scribe", d.Stage.Name())
		}
	}
	assert.Equal(t, 1, loops)
}

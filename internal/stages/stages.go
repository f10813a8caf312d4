package stages

import (
	"context"
	"fmt"
	"strings"

	"fabula/internal/engine"
	"fabula/internal/gateway"
	"fabula/internal/narrative"
)

// Generator is the slice of the gateway the stages consume. The concrete
// client is injected at wiring time; tests substitute a fake.
type Generator interface {
	GenerateStructured(ctx context.Context, prompt string, schema gateway.Schema, out any, params gateway.Params) error
}

// Pipeline builds the standard stage sequence:
// deconstruct -> map -> validate -> scribe loop.
// The scribe loop renders one graph node per iteration and falls through as
// soon as the cursor reaches the end of the graph.
func Pipeline(gen Generator) []engine.Descriptor {
	return []engine.Descriptor{
		{Stage: NewDeconstruct(gen)},
		{Stage: NewMapper(gen)},
		{Stage: NewValidate()},
		{
			Stage: NewScribe(gen),
			LoopWhile: func(st *narrative.StoryState) bool {
				return st.NodeIndex < len(st.Graph.Nodes)
			},
		},
	}
}

// summarizeGraph renders nodes and edges in the compact list form the
// analysis prompts expect.
func summarizeGraph(graph narrative.LogicGraph) string {
	var b strings.Builder
	b.WriteString("Nodes:\n")
	for i, node := range graph.Nodes {
		actors := "unknown"
		if len(node.Actors) > 0 {
			actors = strings.Join(node.Actors, ", ")
		}
		fmt.Fprintf(&b, "- Node %d (%s): %s by %s\n", i+1, node.ID, node.Action, actors)
	}
	b.WriteString("Edges:\n")
	for _, edge := range graph.Edges {
		fmt.Fprintf(&b, "- %s -> %s (%s)\n", edge.Source, edge.Target, edge.Relation)
	}
	return b.String()
}

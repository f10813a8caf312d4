package stages

import (
	"context"
	"fmt"

	"fabula/internal/engine"
	"fabula/internal/gateway"
	"fabula/internal/narrative"
)

const deconstructPrompt = `You are an expert narratologist. Perform lossy
compression on the story below: convert the prose into a directed graph of
atomic narrative events.

Instructions:
1. Identify the key events that drive the plot forward.
2. For each event, give the actors, the core action verb, the preconditions
   that must hold before it, and the postconditions it establishes.
3. Provide a detailed "reasoning" field per node explaining which sentences
   you focused on and how you linked events.
4. Normalize entity names (e.g. "the boy" -> "Hero") and give every node a
   unique id.

SOURCE TEXT:
%s`

// logicGraphSchema is the response shape enforced on the model for the
// deconstruction call.
var logicGraphSchema = gateway.Schema{
	"type": "OBJECT",
	"properties": gateway.Schema{
		"nodes": gateway.Schema{
			"type": "ARRAY",
			"items": gateway.Schema{
				"type": "OBJECT",
				"properties": gateway.Schema{
					"id":             gateway.Schema{"type": "STRING"},
					"action":         gateway.Schema{"type": "STRING"},
					"actors":         gateway.Schema{"type": "ARRAY", "items": gateway.Schema{"type": "STRING"}},
					"preconditions":  gateway.Schema{"type": "ARRAY", "items": gateway.Schema{"type": "STRING"}},
					"postconditions": gateway.Schema{"type": "ARRAY", "items": gateway.Schema{"type": "STRING"}},
					"reasoning":      gateway.Schema{"type": "STRING"},
				},
				"required": []string{"id", "action", "reasoning"},
			},
		},
		"edges": gateway.Schema{
			"type": "ARRAY",
			"items": gateway.Schema{
				"type": "OBJECT",
				"properties": gateway.Schema{
					"source":   gateway.Schema{"type": "STRING"},
					"target":   gateway.Schema{"type": "STRING"},
					"relation": gateway.Schema{"type": "STRING"},
				},
				"required": []string{"source", "target"},
			},
		},
	},
	"required": []string{"nodes"},
}

// Deconstruct turns the raw input text into a LogicGraph.
type Deconstruct struct {
	gen Generator
}

func NewDeconstruct(gen Generator) *Deconstruct {
	return &Deconstruct{gen: gen}
}

func (s *Deconstruct) Name() string { return "deconstruct" }

func (s *Deconstruct) Process(ctx context.Context, st *narrative.StoryState) (*engine.Update, error) {
	prompt := fmt.Sprintf(deconstructPrompt, st.InputText)

	var graph narrative.LogicGraph
	err := s.gen.GenerateStructured(ctx, prompt, logicGraphSchema, &graph, gateway.Params{
		Temperature: 0.7,
	})
	if err != nil {
		return nil, err
	}
	return &engine.Update{Graph: &graph}, nil
}

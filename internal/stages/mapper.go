package stages

import (
	"context"
	"fmt"

	"fabula/internal/engine"
	"fabula/internal/gateway"
	"fabula/internal/narrative"
)

const mapperPrompt = `You are an expert in narrative analysis and analogical
reasoning. Perform a 4-layer decomposition of the story's logic graph to
identify universal patterns.

1. Entity layer: map each unique actor to an archetypal role
   (e.g. Hero, Mentor, Shadow, Ally, Trickster).
2. Action layer: list the recurring plot patterns you observe
   (e.g. Quest, Betrayal, Discovery, Sacrifice).
3. Structure layer: pick the single best-fitting narrative structure
   (e.g. Three-Act Structure, Hero's Journey, Tragedy Arc).
4. Emotion layer: give an ordered list of 3-5 emotions tracing the
   emotional trajectory.

Explain your analysis in the "reasoning" field.

LOGIC GRAPH:
%s`

var mappingSchema = gateway.Schema{
	"type": "OBJECT",
	"properties": gateway.Schema{
		"entity_archetypes": gateway.Schema{
			"type": "ARRAY",
			"items": gateway.Schema{
				"type": "OBJECT",
				"properties": gateway.Schema{
					"entity_name": gateway.Schema{"type": "STRING"},
					"archetype":   gateway.Schema{"type": "STRING"},
				},
				"required": []string{"entity_name", "archetype"},
			},
		},
		"action_patterns": gateway.Schema{"type": "ARRAY", "items": gateway.Schema{"type": "STRING"}},
		"structure_type":  gateway.Schema{"type": "STRING"},
		"emotional_arc":   gateway.Schema{"type": "ARRAY", "items": gateway.Schema{"type": "STRING"}},
		"reasoning":       gateway.Schema{"type": "STRING"},
	},
	"required": []string{"structure_type", "reasoning"},
}

// Mapper performs the 4-layer analogical decomposition of the logic graph.
type Mapper struct {
	gen Generator
}

func NewMapper(gen Generator) *Mapper {
	return &Mapper{gen: gen}
}

func (s *Mapper) Name() string { return "map" }

func (s *Mapper) Process(ctx context.Context, st *narrative.StoryState) (*engine.Update, error) {
	prompt := fmt.Sprintf(mapperPrompt, summarizeGraph(st.Graph))

	var mapping narrative.AnalogicalMapping
	err := s.gen.GenerateStructured(ctx, prompt, mappingSchema, &mapping, gateway.Params{
		Temperature: 0.7,
	})
	if err != nil {
		return nil, err
	}
	return &engine.Update{Mapping: &mapping}, nil
}

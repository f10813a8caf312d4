package stages

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fabula/internal/engine"
	"fabula/internal/gateway"
	"fabula/internal/narrative"
)

const scribePrompt = `You are a master storyteller. Render the single story
event below into vivid, engaging prose. Do not advance the plot beyond this
one event. Write approximately %d words. Explain in the "reasoning" field how
you bridge from the previous paragraph and which sensory details you add.

TARGET GENRE: %s
TARGET AUDIENCE: %s
TONE: %s

CONTEXT:
- Running summary: %s
- Last paragraph: %s
- Entity registry: %s

CURRENT EVENT (node %s):
- Action: %s
- Actors: %s
- Preconditions: %s
- Postconditions: %s`

var proseSchema = gateway.Schema{
	"type": "OBJECT",
	"properties": gateway.Schema{
		"prose":     gateway.Schema{"type": "STRING"},
		"reasoning": gateway.Schema{"type": "STRING"},
	},
	"required": []string{"prose", "reasoning"},
}

type scribeOutput struct {
	Prose     string `json:"prose"`
	Reasoning string `json:"reasoning"`
}

// Scribe is the loop stage: each invocation renders the graph node at the
// current cursor into a prose chunk, using the rolling memory for coherence.
type Scribe struct {
	gen Generator
}

func NewScribe(gen Generator) *Scribe {
	return &Scribe{gen: gen}
}

func (s *Scribe) Name() string { return "scribe" }

func (s *Scribe) Process(ctx context.Context, st *narrative.StoryState) (*engine.Update, error) {
	if st.NodeIndex >= len(st.Graph.Nodes) {
		return nil, fmt.Errorf("scribe: cursor %d past end of graph (%d nodes)", st.NodeIndex, len(st.Graph.Nodes))
	}
	node := st.Graph.Nodes[st.NodeIndex]

	registry := make([]string, 0, len(st.Memory.EntityRegistry))
	for id, name := range st.Memory.EntityRegistry {
		registry = append(registry, id+"="+name)
	}

	prompt := fmt.Sprintf(scribePrompt,
		st.Params.WordsPerScene,
		st.Params.TargetGenre,
		st.Params.TargetAudience,
		st.Params.Tone,
		st.Memory.RunningSummary,
		st.Memory.LastParagraph,
		strings.Join(registry, ", "),
		node.ID,
		node.Action,
		strings.Join(node.Actors, ", "),
		strings.Join(node.Preconditions, "; "),
		strings.Join(node.Postconditions, "; "),
	)

	var out scribeOutput
	err := s.gen.GenerateStructured(ctx, prompt, proseSchema, &out, gateway.Params{
		Temperature: 0.7,
		SafetyLevel: st.Params.SafetyLevel,
	})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.Prose) == "" {
		return nil, errors.New("scribe: model returned empty prose")
	}

	return &engine.Update{RenderedChunk: &engine.RenderedChunk{
		NodeID: node.ID,
		Prose:  out.Prose,
	}}, nil
}

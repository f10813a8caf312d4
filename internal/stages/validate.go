package stages

import (
	"context"
	"fmt"

	"fabula/internal/engine"
	"fabula/internal/gateway"
	"fabula/internal/narrative"
)

// Validate runs the symbolic consistency check over the logic graph: every
// node's preconditions must be established by some earlier node's
// postconditions. Findings are recorded on the state; an inconsistent graph
// does not abort the job, the scribe still renders it.
type Validate struct{}

func NewValidate() *Validate {
	return &Validate{}
}

func (s *Validate) Name() string { return "validate" }

func (s *Validate) Process(_ context.Context, st *narrative.StoryState) (*engine.Update, error) {
	var violations []narrative.ValidationViolation
	satisfied := make(map[string]bool)

	for _, node := range st.Graph.Nodes {
		for _, pre := range node.Preconditions {
			if !satisfied[pre] {
				violations = append(violations, narrative.ValidationViolation{
					ViolationType: "precondition",
					Description:   fmt.Sprintf("precondition %q for action %q is not satisfied by any prior event", pre, node.Action),
					NodeID:        node.ID,
					Severity:      "error",
				})
			}
		}
		for _, post := range node.Postconditions {
			satisfied[post] = true
		}
	}

	isValid := true
	for _, v := range violations {
		if v.Severity == "error" {
			isValid = false
			break
		}
	}

	var suggestions []string
	if !isValid {
		suggestions = []string{
			"Reorder events so preconditions are established before they are needed",
			"Add intermediate events that establish the missing preconditions",
		}
	}

	result := narrative.ValidationResult{
		IsValid:     isValid,
		Violations:  violations,
		Suggestions: suggestions,
		Reasoning: fmt.Sprintf("Symbolic validation checked %d nodes and %d edges, found %d violations.",
			len(st.Graph.Nodes), len(st.Graph.Edges), len(violations)),
	}
	return &engine.Update{Validation: []narrative.ValidationResult{result}}, nil
}

const commonsensePrompt = `You are an expert in narrative logic and story
consistency. Validate the logical coherence and commonsense plausibility of
the story graph below: character consistency, causal plausibility, and
narrative logic. For each problem, report a violation with type
"commonsense", a description, the offending node id, and a severity of
"error" or "warning". Set is_valid to true only if no errors were found, and
explain your analysis in the "reasoning" field.

LOGIC GRAPH:
%s`

var validationSchema = gateway.Schema{
	"type": "OBJECT",
	"properties": gateway.Schema{
		"is_valid": gateway.Schema{"type": "BOOLEAN"},
		"violations": gateway.Schema{
			"type": "ARRAY",
			"items": gateway.Schema{
				"type": "OBJECT",
				"properties": gateway.Schema{
					"violation_type": gateway.Schema{"type": "STRING"},
					"description":    gateway.Schema{"type": "STRING"},
					"node_id":        gateway.Schema{"type": "STRING"},
					"severity":       gateway.Schema{"type": "STRING"},
				},
				"required": []string{"violation_type", "description"},
			},
		},
		"suggestions": gateway.Schema{"type": "ARRAY", "items": gateway.Schema{"type": "STRING"}},
		"reasoning":   gateway.Schema{"type": "STRING"},
	},
	"required": []string{"is_valid", "reasoning"},
}

// ValidateCommonsense is the model-backed second tier. It is not part of the
// default pipeline; callers who want the slower check run it themselves and
// append the result.
func ValidateCommonsense(ctx context.Context, gen Generator, graph narrative.LogicGraph) (narrative.ValidationResult, error) {
	prompt := fmt.Sprintf(commonsensePrompt, summarizeGraph(graph))

	var result narrative.ValidationResult
	err := gen.GenerateStructured(ctx, prompt, validationSchema, &result, gateway.Params{
		Temperature: 0.3,
	})
	if err != nil {
		return narrative.ValidationResult{}, err
	}
	return result, nil
}

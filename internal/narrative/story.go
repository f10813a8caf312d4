package narrative

// GenerationParams carries the user-facing knobs for a generation run.
// The workflow engine never interprets these; they are threaded through to
// the stage implementations as-is.
type GenerationParams struct {
	TargetGenre    string `json:"target_genre"`
	TargetAudience string `json:"target_audience"`
	Tone           string `json:"tone"`
	WordsPerScene  int    `json:"words_per_scene"`
	SafetyLevel    string `json:"safety_level"`
}

// NarrativeNode is a single atomic unit of story logic.
type NarrativeNode struct {
	ID             string   `json:"id"`
	Action         string   `json:"action"`
	Actors         []string `json:"actors"`
	Preconditions  []string `json:"preconditions"`
	Postconditions []string `json:"postconditions"`
	Reasoning      string   `json:"reasoning"`
}

// NarrativeEdge is a directed edge between narrative nodes.
type NarrativeEdge struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Relation string `json:"relation"`
}

// LogicGraph is the structured decomposition of the input text.
type LogicGraph struct {
	Nodes []NarrativeNode `json:"nodes"`
	Edges []NarrativeEdge `json:"edges"`
}

// Memory is the rolling context used to keep consecutive scenes coherent.
// Its fields are append-only: every loop iteration adds to them, nothing is
// ever rewritten.
type Memory struct {
	RunningSummary string            `json:"running_summary"`
	LastParagraph  string            `json:"last_paragraph"`
	StyleGuide     string            `json:"style_guide"`
	CriticalFacts  []string          `json:"critical_facts"`
	EntityRegistry map[string]string `json:"entity_registry"`
}

// EntityArchetype maps a character to its archetypal role.
type EntityArchetype struct {
	EntityName string `json:"entity_name"`
	Archetype  string `json:"archetype"`
}

// AnalogicalMapping is the 4-layer decomposition produced by the map stage.
type AnalogicalMapping struct {
	EntityArchetypes []EntityArchetype `json:"entity_archetypes"`
	ActionPatterns   []string          `json:"action_patterns"`
	StructureType    string            `json:"structure_type"`
	EmotionalArc     []string          `json:"emotional_arc"`
	Reasoning        string            `json:"reasoning"`
}

// ValidationViolation is a single consistency problem found by validation.
type ValidationViolation struct {
	ViolationType string `json:"violation_type"`
	Description   string `json:"description"`
	NodeID        string `json:"node_id,omitempty"`
	Severity      string `json:"severity"`
}

// ValidationResult is the outcome of one validation pass over the graph.
type ValidationResult struct {
	IsValid     bool                  `json:"is_valid"`
	Violations  []ValidationViolation `json:"violations"`
	Suggestions []string              `json:"suggestions"`
	Reasoning   string                `json:"reasoning"`
}

// StoryState is the shared mutable context threaded through all stages of one
// generation job. Each stage writes its own output slot exactly once, except
// the scribe loop which grows Rendered by one entry per iteration and appends
// to Memory.
type StoryState struct {
	InputText string           `json:"input_text"`
	Params    GenerationParams `json:"params"`

	Graph      LogicGraph         `json:"graph"`
	Mapping    *AnalogicalMapping `json:"analogical_mapping,omitempty"`
	Validation []ValidationResult `json:"validation_results"`
	Rendered   map[string]string  `json:"rendered_chunks"`
	Memory     Memory             `json:"memory"`

	// NodeIndex is the scribe loop cursor: the index of the next graph node
	// to render.
	NodeIndex int `json:"node_index"`
}

// NewStoryState builds the initial context for a job.
func NewStoryState(inputText string, params GenerationParams) *StoryState {
	return &StoryState{
		InputText: inputText,
		Params:    params,
		Rendered:  make(map[string]string),
		Memory: Memory{
			EntityRegistry: make(map[string]string),
		},
	}
}

// Clone returns a deep copy of the state, safe to hand out as a snapshot
// while the original keeps mutating.
func (s *StoryState) Clone() *StoryState {
	c := *s

	c.Graph.Nodes = append([]NarrativeNode(nil), s.Graph.Nodes...)
	for i, n := range c.Graph.Nodes {
		c.Graph.Nodes[i].Actors = append([]string(nil), n.Actors...)
		c.Graph.Nodes[i].Preconditions = append([]string(nil), n.Preconditions...)
		c.Graph.Nodes[i].Postconditions = append([]string(nil), n.Postconditions...)
	}
	c.Graph.Edges = append([]NarrativeEdge(nil), s.Graph.Edges...)

	if s.Mapping != nil {
		m := *s.Mapping
		m.EntityArchetypes = append([]EntityArchetype(nil), s.Mapping.EntityArchetypes...)
		m.ActionPatterns = append([]string(nil), s.Mapping.ActionPatterns...)
		m.EmotionalArc = append([]string(nil), s.Mapping.EmotionalArc...)
		c.Mapping = &m
	}

	c.Validation = append([]ValidationResult(nil), s.Validation...)
	for i, v := range c.Validation {
		c.Validation[i].Violations = append([]ValidationViolation(nil), v.Violations...)
		c.Validation[i].Suggestions = append([]string(nil), v.Suggestions...)
	}

	c.Rendered = make(map[string]string, len(s.Rendered))
	for k, v := range s.Rendered {
		c.Rendered[k] = v
	}

	c.Memory.CriticalFacts = append([]string(nil), s.Memory.CriticalFacts...)
	c.Memory.EntityRegistry = make(map[string]string, len(s.Memory.EntityRegistry))
	for k, v := range s.Memory.EntityRegistry {
		c.Memory.EntityRegistry[k] = v
	}

	return &c
}

// FullProse joins all rendered chunks in graph-node order.
func (s *StoryState) FullProse() string {
	out := ""
	for _, node := range s.Graph.Nodes {
		chunk, ok := s.Rendered[node.ID]
		if !ok {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += chunk
	}
	return out
}

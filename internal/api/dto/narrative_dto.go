package dto

// GenerateRequest is the body of POST /api/v1/narrative/generate.
type GenerateRequest struct {
	InputText      string `json:"input_text" binding:"required"`
	TargetGenre    string `json:"target_genre"`
	TargetAudience string `json:"target_audience"`
	Tone           string `json:"tone"`
	WordsPerScene  int    `json:"words_per_scene"`
	SafetyLevel    string `json:"safety_level"`
}

// GenerateResponse acknowledges an accepted generation job.
type GenerateResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

package handler

import (
	"log/slog"
	"time"

	"fabula/internal/engine"
	"fabula/internal/events"
	"fabula/internal/jobs"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger            *slog.Logger
	Jobs              *jobs.Service
	Engine            *engine.Engine
	Bus               *events.Bus
	HeartbeatInterval time.Duration
	WordsPerScene     int
}

// NarrativeHandler handles narrative generation HTTP requests
type NarrativeHandler struct {
	logger            *slog.Logger
	jobs              *jobs.Service
	engine            *engine.Engine
	bus               *events.Bus
	heartbeatInterval time.Duration
	wordsPerScene     int
}

// NewNarrativeHandler creates a new NarrativeHandler instance
func NewNarrativeHandler(deps *Dependencies) *NarrativeHandler {
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &NarrativeHandler{
		logger:            deps.Logger,
		jobs:              deps.Jobs,
		engine:            deps.Engine,
		bus:               deps.Bus,
		heartbeatInterval: heartbeat,
		wordsPerScene:     deps.WordsPerScene,
	}
}

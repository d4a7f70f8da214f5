package domain

import "time"

// EngineState is the orchestrator's observable state. It is published
// after every tick and on lifecycle transitions; nothing outside the
// orchestrator mutates it.
type EngineState struct {
	Running      bool
	StartedAt    time.Time
	LastTick     time.Time
	AsOf         time.Time
	Ticks        uint64
	LastExecuted uint32
	LastError    string
}

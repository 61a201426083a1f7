package domain

import "time"

type EventType string

const (
	EventThinking      EventType = "thinking"
	EventExecutionPlan EventType = "execution_plan"
	EventStageStart    EventType = "stage_start"
	EventStageComplete EventType = "stage_complete"
	EventReferences    EventType = "references"
	EventAnswer        EventType = "answer"
	EventAmbiguity     EventType = "ambiguity"
	EventComplete      EventType = "complete"
	EventError         EventType = "error"
)

// Terminal reports whether no further events follow for this turn.
func (t EventType) Terminal() bool {
	switch t {
	case EventAmbiguity, EventComplete, EventError:
		return true
	default:
		return false
	}
}

// Event is one item of the pipeline's ordered output stream.
type Event struct {
	Type      EventType      `json:"type"`
	SessionID string         `json:"session_id"`
	Stage     Stage          `json:"stage,omitempty"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

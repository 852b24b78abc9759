package model

import "time"

type HistoryEventType string

const (
	HistoryStatusChanged   HistoryEventType = "STATUS_CHANGED"
	HistoryStageChanged    HistoryEventType = "STAGE_CHANGED"
	HistoryAssigneeChanged HistoryEventType = "ASSIGNEE_CHANGED"
)

// StageSnapshot is the display subset of a stage captured at transition time.
// It stays valid even if the stage is later renamed or deleted.
type StageSnapshot struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Transition is the structured from/to payload of a history event. Which
// pair is populated depends on the event type; a nil side means "was/became
// nothing" (e.g. a task pulled out of a backlog had no previous stage).
type Transition struct {
	FromStatus   *Status        `json:"from_status,omitempty"`
	ToStatus     *Status        `json:"to_status,omitempty"`
	FromStage    *StageSnapshot `json:"from_stage,omitempty"`
	ToStage      *StageSnapshot `json:"to_stage,omitempty"`
	FromAssignee *UserSnapshot  `json:"from_assignee,omitempty"`
	ToAssignee   *UserSnapshot  `json:"to_assignee,omitempty"`
}

// HistoryEvent is one append-only audit row. ActorID is nil for
// system-originated changes.
type HistoryEvent struct {
	ID        string           `json:"id"`
	TaskID    string           `json:"task_id"`
	ProjectID string           `json:"project_id"`
	TeamID    string           `json:"team_id"`
	ActorID   *string          `json:"actor_id,omitempty"`
	Type      HistoryEventType `json:"type"`
	Payload   Transition       `json:"payload"`
	CreatedAt time.Time        `json:"created_at"`

	// Hydrated on read, one batched lookup per page.
	Actor *UserSnapshot `json:"actor,omitempty"`
}

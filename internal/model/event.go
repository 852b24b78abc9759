package model

import "time"

type BoardAction string

const (
	ActionTaskCreated     BoardAction = "TASK_CREATED"
	ActionTaskUpdated     BoardAction = "TASK_UPDATED"
	ActionTaskMoved       BoardAction = "TASK_MOVED"
	ActionTaskDeleted     BoardAction = "TASK_DELETED"
	ActionTaskDue         BoardAction = "TASK_DUE"
	ActionTasksReordered  BoardAction = "TASKS_REORDERED"
	ActionStageCreated    BoardAction = "STAGE_CREATED"
	ActionStageUpdated    BoardAction = "STAGE_UPDATED"
	ActionStageDeleted    BoardAction = "STAGE_DELETED"
	ActionStagesReordered BoardAction = "STAGES_REORDERED"
)

// WildcardChannel mirrors every project's events, for cross-project
// dashboards.
const WildcardChannel = "*"

// BoardEvent is the transient change notification fanned out to live
// subscribers. It is never persisted. Origin is the client marker of the
// mutation's originator; nil means server-initiated and is never suppressed.
type BoardEvent struct {
	Action          BoardAction `json:"action"`
	ProjectID       string      `json:"project_id"`
	TeamID          *string     `json:"team_id,omitempty"`
	BoardID         *string     `json:"board_id,omitempty"`
	StageID         *string     `json:"stage_id,omitempty"`
	PreviousStageID *string     `json:"previous_stage_id,omitempty"`
	TaskID          *string     `json:"task_id,omitempty"`
	TaskIDs         []string    `json:"task_ids,omitempty"`
	StageIDs        []string    `json:"stage_ids,omitempty"`
	Origin          *string     `json:"origin,omitempty"`
	Timestamp       time.Time   `json:"timestamp"`
}

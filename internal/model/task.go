package model

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusNew    Status = "new"
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusActive, StatusClosed:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// ContainmentKind tags the three possible homes of a task's ordering.
type ContainmentKind int

const (
	ContainedNowhere ContainmentKind = iota
	ContainedInStage
	ContainedInBacklog
)

// Containment says which single container (stage, backlog or none) a task
// sits in. One tagged value instead of two nullable ids, so the
// stage/backlog mutual exclusion cannot be violated in memory.
type Containment struct {
	Kind ContainmentKind
	ID   string
}

func InStage(id string) Containment   { return Containment{Kind: ContainedInStage, ID: id} }
func InBacklog(id string) Containment { return Containment{Kind: ContainedInBacklog, ID: id} }
func Unplaced() Containment           { return Containment{} }

// StageID returns the stage id as a nullable column value.
func (c Containment) StageID() *string {
	if c.Kind == ContainedInStage {
		id := c.ID
		return &id
	}
	return nil
}

// BacklogID returns the backlog id as a nullable column value.
func (c Containment) BacklogID() *string {
	if c.Kind == ContainedInBacklog {
		id := c.ID
		return &id
	}
	return nil
}

// ContainmentFromColumns rebuilds the variant from the two nullable columns.
// A row that somehow carries both prefers the stage, matching the write path
// which always clears the backlog when a stage is assigned.
func ContainmentFromColumns(stageID, backlogID *string) Containment {
	switch {
	case stageID != nil:
		return InStage(*stageID)
	case backlogID != nil:
		return InBacklog(*backlogID)
	}
	return Unplaced()
}

type Task struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description *string     `json:"description,omitempty"`
	DueDate     *time.Time  `json:"due_date,omitempty"`
	Priority    *Priority   `json:"priority,omitempty"`
	Estimate    *int        `json:"estimate,omitempty"`
	Status      Status      `json:"status"`
	ProjectID   string      `json:"project_id"`
	TeamID      string      `json:"team_id"`
	Containment Containment `json:"-"`
	SprintID    *string     `json:"sprint_id,omitempty"`
	Position    int         `json:"position"`
	AssigneeID  *string     `json:"assignee_id,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`

	// Hydrated relations, populated on demand.
	Tags     []Tag         `json:"tags,omitempty"`
	Assignee *UserSnapshot `json:"assignee,omitempty"`
	Stage    *Stage        `json:"stage,omitempty"`
}

// MarshalJSON flattens the containment variant back into the two nullable
// ids API clients expect.
func (t Task) MarshalJSON() ([]byte, error) {
	type alias Task
	return json.Marshal(struct {
		alias
		StageID   *string `json:"stage_id"`
		BacklogID *string `json:"backlog_id"`
	}{
		alias:     alias(t),
		StageID:   t.Containment.StageID(),
		BacklogID: t.Containment.BacklogID(),
	})
}

type Tag struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// CreateTaskInput carries the caller-supplied fields for a new task.
// StageID wins over BacklogID when both are given.
type CreateTaskInput struct {
	Title       string     `json:"title"`
	Description *string    `json:"description"`
	DueDate     *time.Time `json:"due_date"`
	Priority    *Priority  `json:"priority"`
	Estimate    *int       `json:"estimate"`
	Status      *Status    `json:"status"`
	ProjectID   string     `json:"project_id"`
	TeamID      string     `json:"team_id"`
	StageID     *string    `json:"stage_id"`
	BacklogID   *string    `json:"backlog_id"`
	SprintID    *string    `json:"sprint_id"`
	AssigneeID  *string    `json:"assignee_id"`
}

// Field is a tri-state patch value: absent from the request, explicit null
// (clear), or set to a value. encoding/json only calls UnmarshalJSON for keys
// present in the payload, which is what distinguishes absent from null.
type Field[T any] struct {
	Set   bool
	Value *T
}

func (f *Field[T]) UnmarshalJSON(b []byte) error {
	f.Set = true
	if string(b) == "null" {
		f.Value = nil
		return nil
	}
	return json.Unmarshal(b, &f.Value)
}

func Assign[T any](v T) Field[T] { return Field[T]{Set: true, Value: &v} }
func Clear[T any]() Field[T]     { return Field[T]{Set: true} }

// TaskPatch is a partial update. Unset fields leave the stored value alone.
type TaskPatch struct {
	Title       Field[string]    `json:"title"`
	Description Field[string]    `json:"description"`
	DueDate     Field[time.Time] `json:"due_date"`
	Priority    Field[Priority]  `json:"priority"`
	Estimate    Field[int]       `json:"estimate"`
	Status      Field[Status]    `json:"status"`
	StageID     Field[string]    `json:"stage_id"`
	BacklogID   Field[string]    `json:"backlog_id"`
	SprintID    Field[string]    `json:"sprint_id"`
	AssigneeID  Field[string]    `json:"assignee_id"`
}

// TaskFilter is a conjunction: every non-nil member must match.
type TaskFilter struct {
	ProjectID *string
	TeamID    *string
	StageID   *string
	BacklogID *string
	BoardID   *string
	SprintID  *string
}

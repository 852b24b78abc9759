package repo

import (
	"context"

	"github.com/ndemidenko/boardflow/internal/model"
)

// TaskRepository владеет строками задач
type TaskRepository interface {
	Create(ctx context.Context, t model.Task) (model.Task, error)
	Get(ctx context.Context, id string) (model.Task, error)
	List(ctx context.Context, filter model.TaskFilter, callerID *string) ([]model.Task, error)
	Update(ctx context.Context, t model.Task) (model.Task, error)
	Delete(ctx context.Context, id string) error
	NextPosition(ctx context.Context, c model.Containment, projectID, teamID string) (int, error)
	Reorder(ctx context.Context, c model.Containment, projectID, teamID string, taskIDs []string) error
	SaveIdempotencyKey(ctx context.Context, key string, taskID string) error
	GetIdempotencyKey(ctx context.Context, key string) (string, error)
}

// ContainerResolver confirms that a target container exists and belongs to
// the task's exact project (and team). Runs before any mutation that changes
// containment.
type ContainerResolver interface {
	Stage(ctx context.Context, stageID, projectID, teamID string) (model.Stage, error)
	Backlog(ctx context.Context, backlogID, projectID, teamID string) error
	Sprint(ctx context.Context, sprintID, projectID, teamID string) error
	Team(ctx context.Context, teamID, projectID string) error
}

// HistoryRepository appends and reads audit rows. Append-only.
type HistoryRepository interface {
	Append(ctx context.Context, ev model.HistoryEvent) (model.HistoryEvent, error)
	ListByTask(ctx context.Context, taskID string, limit int) ([]model.HistoryEvent, error)
}

// Lookups hydrate display snapshots. Read-only external collaborators from
// the core's point of view.
type UserLookup interface {
	UserByID(ctx context.Context, id string) (model.UserSnapshot, error)
	UsersByIDs(ctx context.Context, ids []string) (map[string]model.UserSnapshot, error)
}

type StageLookup interface {
	StageByID(ctx context.Context, id string) (model.Stage, error)
}

type TagLookup interface {
	TagsForTask(ctx context.Context, taskID string) ([]model.Tag, error)
}

// StageRepository owns stage rows and their board-scoped ordering.
type StageRepository interface {
	Create(ctx context.Context, s model.Stage) (model.Stage, error)
	Get(ctx context.Context, id string) (model.Stage, error)
	BoardByID(ctx context.Context, id string) (model.Board, error)
	Rename(ctx context.Context, id, name string) (model.Stage, error)
	Reorder(ctx context.Context, boardID string, stageIDs []string) error
	DeleteDetachingTasks(ctx context.Context, id string) (detached []string, err error)
}

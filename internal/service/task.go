package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ndemidenko/boardflow/internal/model"
	"github.com/ndemidenko/boardflow/internal/repo"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrInvalidStatus = errors.New("invalid status")
)

// Mutation is the per-request context of a mutator: who did it and from
// which client. Origin drives echo suppression on the event stream; ActorID
// is recorded on history events. Both nil for system-initiated changes.
type Mutation struct {
	Origin  *string
	ActorID *string
}

// Publisher is the slice of the broadcaster the service needs.
type Publisher interface {
	Publish(ev model.BoardEvent)
}

// HydrationRequest names the relations to attach to a returned task.
// Resolved once per call, never by sniffing what the caller passed in.
type HydrationRequest struct {
	Tags     bool
	Assignee bool
	Stage    bool
}

func hydrateAll() HydrationRequest {
	return HydrationRequest{Tags: true, Assignee: true, Stage: true}
}

type TaskService struct {
	repo     repo.TaskRepository
	resolver repo.ContainerResolver
	history  *HistoryRecorder
	events   Publisher
	tags     repo.TagLookup
	users    repo.UserLookup
	stages   repo.StageLookup
	logger   *zap.Logger
}

func NewTaskService(
	taskRepo repo.TaskRepository,
	resolver repo.ContainerResolver,
	history *HistoryRecorder,
	events Publisher,
	tags repo.TagLookup,
	users repo.UserLookup,
	stages repo.StageLookup,
	logger *zap.Logger,
) *TaskService {
	return &TaskService{
		repo:     taskRepo,
		resolver: resolver,
		history:  history,
		events:   events,
		tags:     tags,
		users:    users,
		stages:   stages,
		logger:   logger,
	}
}

// Create validates containment, computes the append position and persists a
// new task. idempKey, when non-empty, makes retried requests return the
// originally created task.
func (s *TaskService) Create(ctx context.Context, in model.CreateTaskInput, idempKey string, mut Mutation) (model.Task, error) {
	if strings.TrimSpace(in.Title) == "" {
		return model.Task{}, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if in.ProjectID == "" || in.TeamID == "" {
		return model.Task{}, fmt.Errorf("%w: project and team are required", ErrValidation)
	}
	if in.Priority != nil && !in.Priority.Valid() {
		return model.Task{}, fmt.Errorf("%w: unknown priority %q", ErrValidation, *in.Priority)
	}

	status := model.StatusNew
	if in.Status != nil {
		if !in.Status.Valid() {
			return model.Task{}, fmt.Errorf("%w: %q", ErrInvalidStatus, *in.Status)
		}
		status = *in.Status
	}

	if err := s.resolver.Team(ctx, in.TeamID, in.ProjectID); err != nil {
		return model.Task{}, err
	}

	// Stage wins over backlog: assigning a stage always clears the backlog.
	containment := model.Unplaced()
	switch {
	case in.StageID != nil:
		if _, err := s.resolver.Stage(ctx, *in.StageID, in.ProjectID, in.TeamID); err != nil {
			return model.Task{}, err
		}
		containment = model.InStage(*in.StageID)
	case in.BacklogID != nil:
		if err := s.resolver.Backlog(ctx, *in.BacklogID, in.ProjectID, in.TeamID); err != nil {
			return model.Task{}, err
		}
		containment = model.InBacklog(*in.BacklogID)
	}
	if in.SprintID != nil {
		if err := s.resolver.Sprint(ctx, *in.SprintID, in.ProjectID, in.TeamID); err != nil {
			return model.Task{}, err
		}
	}

	if idempKey != "" {
		if existingID, err := s.repo.GetIdempotencyKey(ctx, idempKey); err == nil {
			return s.GetTaskByID(ctx, existingID)
		}
	}

	pos, err := s.repo.NextPosition(ctx, containment, in.ProjectID, in.TeamID)
	if err != nil {
		return model.Task{}, err
	}

	task := model.Task{
		ID:          uuid.NewString(),
		Title:       in.Title,
		Description: in.Description,
		DueDate:     in.DueDate,
		Priority:    in.Priority,
		Estimate:    in.Estimate,
		Status:      status,
		ProjectID:   in.ProjectID,
		TeamID:      in.TeamID,
		Containment: containment,
		SprintID:    in.SprintID,
		Position:    pos,
		AssigneeID:  in.AssigneeID,
	}
	created, err := s.repo.Create(ctx, task)
	if err != nil {
		return created, err
	}

	if idempKey != "" {
		if err := s.repo.SaveIdempotencyKey(ctx, idempKey, created.ID); err != nil {
			s.logger.Warn("failed to save idempotency key", zap.Error(err))
		}
	}

	s.hydrate(ctx, &created, hydrateAll())
	s.publish(model.BoardEvent{
		Action:    model.ActionTaskCreated,
		ProjectID: created.ProjectID,
		TeamID:    &created.TeamID,
		BoardID:   boardOf(created),
		StageID:   created.Containment.StageID(),
		TaskID:    &created.ID,
	}, mut)
	return created, nil
}

// Update applies a partial patch. Absent fields keep their stored value,
// explicit nulls clear. Containment changes re-run the resolver and append
// the task to the end of its new container.
func (s *TaskService) Update(ctx context.Context, id string, patch model.TaskPatch, mut Mutation) (model.Task, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return current, err
	}
	next := current
	next.Tags, next.Assignee, next.Stage = nil, nil, nil

	if patch.Title.Set {
		if patch.Title.Value == nil || strings.TrimSpace(*patch.Title.Value) == "" {
			return model.Task{}, fmt.Errorf("%w: title cannot be empty", ErrValidation)
		}
		next.Title = *patch.Title.Value
	}
	if patch.Description.Set {
		next.Description = patch.Description.Value
	}
	if patch.DueDate.Set {
		next.DueDate = patch.DueDate.Value
	}
	if patch.Estimate.Set {
		next.Estimate = patch.Estimate.Value
	}
	if patch.Priority.Set {
		if patch.Priority.Value != nil && !patch.Priority.Value.Valid() {
			return model.Task{}, fmt.Errorf("%w: unknown priority %q", ErrValidation, *patch.Priority.Value)
		}
		next.Priority = patch.Priority.Value
	}
	if patch.Status.Set {
		if patch.Status.Value == nil || !patch.Status.Value.Valid() {
			return model.Task{}, fmt.Errorf("%w", ErrInvalidStatus)
		}
		next.Status = *patch.Status.Value
	}

	if patch.StageID.Set || patch.BacklogID.Set {
		containment, err := s.patchContainment(ctx, next, patch)
		if err != nil {
			return model.Task{}, err
		}
		next.Containment = containment
	}
	if patch.SprintID.Set {
		if patch.SprintID.Value != nil {
			if err := s.resolver.Sprint(ctx, *patch.SprintID.Value, next.ProjectID, next.TeamID); err != nil {
				return model.Task{}, err
			}
		}
		next.SprintID = patch.SprintID.Value
	}
	if patch.AssigneeID.Set {
		next.AssigneeID = patch.AssigneeID.Value
	}

	// Moving container means appending at its end.
	if next.Containment != current.Containment {
		pos, err := s.repo.NextPosition(ctx, next.Containment, next.ProjectID, next.TeamID)
		if err != nil {
			return model.Task{}, err
		}
		next.Position = pos
	}

	updated, err := s.repo.Update(ctx, next)
	if err != nil {
		return updated, err
	}

	s.record(ctx, current, updated, mut)
	s.hydrate(ctx, &updated, hydrateAll())

	ev := model.BoardEvent{
		Action:    model.ActionTaskUpdated,
		ProjectID: updated.ProjectID,
		TeamID:    &updated.TeamID,
		BoardID:   boardOf(updated),
		StageID:   updated.Containment.StageID(),
		TaskID:    &updated.ID,
	}
	if stageChanged(current, updated) {
		ev.PreviousStageID = current.Containment.StageID()
	}
	s.publish(ev, mut)
	return updated, nil
}

// Move puts a task at the end of the destination stage. The event carries
// the prior stage id so boards can animate the transition.
func (s *TaskService) Move(ctx context.Context, id, toStageID string, mut Mutation) (model.Task, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return current, err
	}
	if _, err := s.resolver.Stage(ctx, toStageID, current.ProjectID, current.TeamID); err != nil {
		return model.Task{}, err
	}

	next := current
	next.Tags, next.Assignee, next.Stage = nil, nil, nil
	next.Containment = model.InStage(toStageID)
	pos, err := s.repo.NextPosition(ctx, next.Containment, next.ProjectID, next.TeamID)
	if err != nil {
		return model.Task{}, err
	}
	next.Position = pos

	updated, err := s.repo.Update(ctx, next)
	if err != nil {
		return updated, err
	}

	s.record(ctx, current, updated, mut)
	s.hydrate(ctx, &updated, hydrateAll())
	s.publish(model.BoardEvent{
		Action:          model.ActionTaskMoved,
		ProjectID:       updated.ProjectID,
		TeamID:          &updated.TeamID,
		BoardID:         boardOf(updated),
		StageID:         &toStageID,
		PreviousStageID: current.Containment.StageID(),
		TaskID:          &updated.ID,
	}, mut)
	return updated, nil
}

// Delete removes the task and announces it with the last-known stage/board
// context. Deletion is terminal, so no history event is written.
func (s *TaskService) Delete(ctx context.Context, id string, mut Mutation) error {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	var boardID *string
	if stageID := current.Containment.StageID(); stageID != nil {
		if stage, err := s.stages.StageByID(ctx, *stageID); err == nil {
			boardID = &stage.BoardID
		}
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.publish(model.BoardEvent{
		Action:    model.ActionTaskDeleted,
		ProjectID: current.ProjectID,
		TeamID:    &current.TeamID,
		BoardID:   boardID,
		StageID:   current.Containment.StageID(),
		TaskID:    &current.ID,
	}, mut)
	return nil
}

// SetAssignee loads first so the recorder can diff the previous assignee.
func (s *TaskService) SetAssignee(ctx context.Context, id string, memberID *string, mut Mutation) (model.Task, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return current, err
	}
	next := current
	next.Tags, next.Assignee, next.Stage = nil, nil, nil
	next.AssigneeID = memberID

	updated, err := s.repo.Update(ctx, next)
	if err != nil {
		return updated, err
	}

	s.record(ctx, current, updated, mut)
	s.hydrate(ctx, &updated, hydrateAll())
	s.publish(model.BoardEvent{
		Action:    model.ActionTaskUpdated,
		ProjectID: updated.ProjectID,
		TeamID:    &updated.TeamID,
		BoardID:   boardOf(updated),
		StageID:   updated.Containment.StageID(),
		TaskID:    &updated.ID,
	}, mut)
	return updated, nil
}

// Reorder assigns dense positions following the given order and emits one
// batched TASKS_REORDERED event instead of one per task.
func (s *TaskService) Reorder(ctx context.Context, c model.Containment, projectID, teamID string, taskIDs []string, mut Mutation) error {
	if projectID == "" || teamID == "" {
		return fmt.Errorf("%w: project and team are required", ErrValidation)
	}
	switch c.Kind {
	case model.ContainedInStage:
		if _, err := s.resolver.Stage(ctx, c.ID, projectID, teamID); err != nil {
			return err
		}
	case model.ContainedInBacklog:
		if err := s.resolver.Backlog(ctx, c.ID, projectID, teamID); err != nil {
			return err
		}
	default:
		if err := s.resolver.Team(ctx, teamID, projectID); err != nil {
			return err
		}
	}

	if err := s.repo.Reorder(ctx, c, projectID, teamID, taskIDs); err != nil {
		return err
	}

	s.publish(model.BoardEvent{
		Action:    model.ActionTasksReordered,
		ProjectID: projectID,
		TeamID:    &teamID,
		StageID:   c.StageID(),
		TaskIDs:   taskIDs,
	}, mut)
	return nil
}

// GetTasks is the visibility-restricted read path. callerID nil means an
// anonymous caller, who only sees tasks of public projects.
func (s *TaskService) GetTasks(ctx context.Context, filter model.TaskFilter, callerID *string) ([]model.Task, error) {
	return s.repo.List(ctx, filter, callerID)
}

func (s *TaskService) GetTaskByID(ctx context.Context, id string) (model.Task, error) {
	task, err := s.repo.Get(ctx, id)
	if err != nil {
		return task, err
	}
	if err := s.hydrateErr(ctx, &task, hydrateAll()); err != nil {
		return task, err
	}
	return task, nil
}

func (s *TaskService) GetTaskHistory(ctx context.Context, taskID string, limit int) ([]model.HistoryEvent, error) {
	return s.history.List(ctx, taskID, limit)
}

func (s *TaskService) patchContainment(ctx context.Context, t model.Task, patch model.TaskPatch) (model.Containment, error) {
	c := t.Containment
	if patch.StageID.Set {
		if patch.StageID.Value != nil {
			if _, err := s.resolver.Stage(ctx, *patch.StageID.Value, t.ProjectID, t.TeamID); err != nil {
				return c, err
			}
			// Non-null stage always clears the backlog.
			return model.InStage(*patch.StageID.Value), nil
		}
		if c.Kind == model.ContainedInStage {
			c = model.Unplaced()
		}
	}
	if patch.BacklogID.Set {
		if patch.BacklogID.Value != nil {
			if err := s.resolver.Backlog(ctx, *patch.BacklogID.Value, t.ProjectID, t.TeamID); err != nil {
				return c, err
			}
			return model.InBacklog(*patch.BacklogID.Value), nil
		}
		if c.Kind == model.ContainedInBacklog {
			c = model.Unplaced()
		}
	}
	return c, nil
}

// record is best-effort: an audit failure never rolls back a mutation that
// already persisted, and never stops the event from going out.
func (s *TaskService) record(ctx context.Context, before, after model.Task, mut Mutation) {
	if err := s.history.Record(ctx, before, after, mut.ActorID); err != nil {
		s.logger.Error("history recording failed",
			zap.String("task_id", after.ID),
			zap.Error(err),
		)
	}
}

func (s *TaskService) publish(ev model.BoardEvent, mut Mutation) {
	ev.Origin = mut.Origin
	ev.Timestamp = time.Now().UTC()
	s.events.Publish(ev)
}

func (s *TaskService) hydrate(ctx context.Context, t *model.Task, req HydrationRequest) {
	if err := s.hydrateErr(ctx, t, req); err != nil {
		s.logger.Warn("task hydration incomplete",
			zap.String("task_id", t.ID),
			zap.Error(err),
		)
	}
}

func (s *TaskService) hydrateErr(ctx context.Context, t *model.Task, req HydrationRequest) error {
	if req.Tags {
		tags, err := s.tags.TagsForTask(ctx, t.ID)
		if err != nil {
			return err
		}
		t.Tags = tags
	}
	if req.Assignee && t.AssigneeID != nil {
		assignee, err := s.users.UserByID(ctx, *t.AssigneeID)
		if err != nil && !errors.Is(err, repo.ErrorNotFound) {
			return err
		}
		if err == nil {
			t.Assignee = &assignee
		}
	}
	if req.Stage {
		if stageID := t.Containment.StageID(); stageID != nil {
			stage, err := s.stages.StageByID(ctx, *stageID)
			if err != nil && !errors.Is(err, repo.ErrorNotFound) {
				return err
			}
			if err == nil {
				t.Stage = &stage
			}
		}
	}
	return nil
}

func stageChanged(before, after model.Task) bool {
	b, a := before.Containment.StageID(), after.Containment.StageID()
	switch {
	case b == nil && a == nil:
		return false
	case b == nil || a == nil:
		return true
	}
	return *b != *a
}

func boardOf(t model.Task) *string {
	if t.Stage != nil {
		id := t.Stage.BoardID
		return &id
	}
	return nil
}

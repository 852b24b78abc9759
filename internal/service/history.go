package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ndemidenko/boardflow/internal/model"
	"github.com/ndemidenko/boardflow/internal/repo"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// HistoryRecorder derives audit events from before/after task snapshots.
// Display values (stage names, usernames) are captured by value at write
// time, so later renames or deletions never rewrite history.
type HistoryRecorder struct {
	repo   repo.HistoryRepository
	users  repo.UserLookup
	stages repo.StageLookup
}

func NewHistoryRecorder(historyRepo repo.HistoryRepository, users repo.UserLookup, stages repo.StageLookup) *HistoryRecorder {
	return &HistoryRecorder{repo: historyRepo, users: users, stages: stages}
}

// Record appends one event per tracked field that actually changed. A field
// that failed to record does not stop the others; the joined error goes back
// to the caller to log.
func (h *HistoryRecorder) Record(ctx context.Context, before, after model.Task, actorID *string) error {
	var errs []error

	if before.Status != after.Status {
		from, to := before.Status, after.Status
		errs = append(errs, h.append(ctx, after, actorID, model.HistoryStatusChanged, model.Transition{
			FromStatus: &from,
			ToStatus:   &to,
		}))
	}

	if stageChanged(before, after) {
		fromSnap, err := h.stageSnapshot(ctx, before.Containment.StageID())
		errs = append(errs, err)
		toSnap, err := h.stageSnapshot(ctx, after.Containment.StageID())
		errs = append(errs, err)
		errs = append(errs, h.append(ctx, after, actorID, model.HistoryStageChanged, model.Transition{
			FromStage: fromSnap,
			ToStage:   toSnap,
		}))
	}

	if assigneeChanged(before, after) {
		fromSnap, toSnap, err := h.assigneeSnapshots(ctx, before.AssigneeID, after.AssigneeID)
		errs = append(errs, err)
		errs = append(errs, h.append(ctx, after, actorID, model.HistoryAssigneeChanged, model.Transition{
			FromAssignee: fromSnap,
			ToAssignee:   toSnap,
		}))
	}

	return errors.Join(errs...)
}

// List returns a task's history newest first, actors hydrated with a single
// batched user lookup for the whole page.
func (h *HistoryRecorder) List(ctx context.Context, taskID string, limit int) ([]model.HistoryEvent, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	events, err := h.repo.ListByTask(ctx, taskID, limit)
	if err != nil {
		return nil, err
	}

	var actorIDs []string
	seen := make(map[string]bool)
	for _, ev := range events {
		if ev.ActorID != nil && !seen[*ev.ActorID] {
			seen[*ev.ActorID] = true
			actorIDs = append(actorIDs, *ev.ActorID)
		}
	}
	actors, err := h.users.UsersByIDs(ctx, actorIDs)
	if err != nil {
		return nil, err
	}
	for i := range events {
		if events[i].ActorID == nil {
			continue
		}
		if actor, ok := actors[*events[i].ActorID]; ok {
			a := actor
			events[i].Actor = &a
		}
	}
	return events, nil
}

func (h *HistoryRecorder) append(ctx context.Context, t model.Task, actorID *string, typ model.HistoryEventType, payload model.Transition) error {
	_, err := h.repo.Append(ctx, model.HistoryEvent{
		ID:        uuid.NewString(),
		TaskID:    t.ID,
		ProjectID: t.ProjectID,
		TeamID:    t.TeamID,
		ActorID:   actorID,
		Type:      typ,
		Payload:   payload,
	})
	return err
}

// stageSnapshot resolves id+name at write time. A nil id means "no stage"
// (the task was in a backlog or unplaced) and yields a nil snapshot. A stage
// that vanished between the mutation and the snapshot degrades to id-only
// rather than failing the record.
func (h *HistoryRecorder) stageSnapshot(ctx context.Context, stageID *string) (*model.StageSnapshot, error) {
	if stageID == nil {
		return nil, nil
	}
	stage, err := h.stages.StageByID(ctx, *stageID)
	if errors.Is(err, repo.ErrorNotFound) {
		return &model.StageSnapshot{ID: *stageID}, nil
	}
	if err != nil {
		return &model.StageSnapshot{ID: *stageID}, err
	}
	return &model.StageSnapshot{ID: stage.ID, Name: stage.Name}, nil
}

func (h *HistoryRecorder) assigneeSnapshots(ctx context.Context, fromID, toID *string) (*model.UserSnapshot, *model.UserSnapshot, error) {
	var ids []string
	if fromID != nil {
		ids = append(ids, *fromID)
	}
	if toID != nil && (fromID == nil || *toID != *fromID) {
		ids = append(ids, *toID)
	}
	users, err := h.users.UsersByIDs(ctx, ids)
	if err != nil {
		users = map[string]model.UserSnapshot{}
	}
	snap := func(id *string) *model.UserSnapshot {
		if id == nil {
			return nil
		}
		if u, ok := users[*id]; ok {
			return &u
		}
		return &model.UserSnapshot{ID: *id}
	}
	return snap(fromID), snap(toID), err
}

func assigneeChanged(before, after model.Task) bool {
	b, a := before.AssigneeID, after.AssigneeID
	switch {
	case b == nil && a == nil:
		return false
	case b == nil || a == nil:
		return true
	}
	return *b != *a
}

package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ndemidenko/boardflow/internal/model"
	"github.com/ndemidenko/boardflow/internal/repo"
)

// StageService manages board columns. Its mutations flow through the same
// broadcaster as task mutations so clients watching a project see the board
// layout change live.
type StageService struct {
	repo   repo.StageRepository
	events Publisher
	logger *zap.Logger
}

func NewStageService(stageRepo repo.StageRepository, events Publisher, logger *zap.Logger) *StageService {
	return &StageService{repo: stageRepo, events: events, logger: logger}
}

func (s *StageService) CreateStage(ctx context.Context, in model.CreateStageInput, mut Mutation) (model.Stage, error) {
	if strings.TrimSpace(in.Name) == "" || in.BoardID == "" {
		return model.Stage{}, fmt.Errorf("%w: name and board are required", ErrValidation)
	}
	board, err := s.repo.BoardByID(ctx, in.BoardID)
	if err != nil {
		return model.Stage{}, err
	}

	stage, err := s.repo.Create(ctx, model.Stage{
		ID:      uuid.NewString(),
		Name:    in.Name,
		BoardID: in.BoardID,
	})
	if err != nil {
		return stage, err
	}

	s.publish(model.BoardEvent{
		Action:    model.ActionStageCreated,
		ProjectID: board.ProjectID,
		TeamID:    &board.TeamID,
		BoardID:   &board.ID,
		StageID:   &stage.ID,
	}, mut)
	return stage, nil
}

func (s *StageService) RenameStage(ctx context.Context, id, name string, mut Mutation) (model.Stage, error) {
	if strings.TrimSpace(name) == "" {
		return model.Stage{}, fmt.Errorf("%w: name cannot be empty", ErrValidation)
	}
	stage, err := s.repo.Rename(ctx, id, name)
	if err != nil {
		return stage, err
	}
	board, err := s.repo.BoardByID(ctx, stage.BoardID)
	if err != nil {
		return stage, err
	}

	s.publish(model.BoardEvent{
		Action:    model.ActionStageUpdated,
		ProjectID: board.ProjectID,
		TeamID:    &board.TeamID,
		BoardID:   &board.ID,
		StageID:   &stage.ID,
	}, mut)
	return stage, nil
}

func (s *StageService) ReorderStages(ctx context.Context, boardID string, stageIDs []string, mut Mutation) error {
	board, err := s.repo.BoardByID(ctx, boardID)
	if err != nil {
		return err
	}
	if err := s.repo.Reorder(ctx, boardID, stageIDs); err != nil {
		return err
	}

	s.publish(model.BoardEvent{
		Action:    model.ActionStagesReordered,
		ProjectID: board.ProjectID,
		TeamID:    &board.TeamID,
		BoardID:   &board.ID,
		StageIDs:  stageIDs,
	}, mut)
	return nil
}

// DeleteStage removes a column and detaches its tasks to the unplaced scope.
// The detachment notice goes out without an origin: it is a server-side
// cascade, so every subscriber hears it, including the deleting client.
func (s *StageService) DeleteStage(ctx context.Context, id string, mut Mutation) error {
	stage, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	board, err := s.repo.BoardByID(ctx, stage.BoardID)
	if err != nil {
		return err
	}

	detached, err := s.repo.DeleteDetachingTasks(ctx, id)
	if err != nil {
		return err
	}

	s.publish(model.BoardEvent{
		Action:    model.ActionStageDeleted,
		ProjectID: board.ProjectID,
		TeamID:    &board.TeamID,
		BoardID:   &board.ID,
		StageID:   &stage.ID,
	}, mut)

	if len(detached) > 0 {
		s.events.Publish(model.BoardEvent{
			Action:          model.ActionTaskUpdated,
			ProjectID:       board.ProjectID,
			TeamID:          &board.TeamID,
			BoardID:         &board.ID,
			PreviousStageID: &stage.ID,
			TaskIDs:         detached,
			Timestamp:       time.Now().UTC(),
		})
	}
	return nil
}

func (s *StageService) publish(ev model.BoardEvent, mut Mutation) {
	ev.Origin = mut.Origin
	ev.Timestamp = time.Now().UTC()
	s.events.Publish(ev)
}

package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ndemidenko/boardflow/internal/model"
	"github.com/ndemidenko/boardflow/internal/repo"
)

// MockTaskRepository - мок репозитория
type MockTaskRepository struct {
	mock.Mock
}

func (m *MockTaskRepository) Create(ctx context.Context, t model.Task) (model.Task, error) {
	args := m.Called(ctx, t)
	return args.Get(0).(model.Task), args.Error(1)
}

func (m *MockTaskRepository) Get(ctx context.Context, id string) (model.Task, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.Task), args.Error(1)
}

func (m *MockTaskRepository) List(ctx context.Context, filter model.TaskFilter, callerID *string) ([]model.Task, error) {
	args := m.Called(ctx, filter, callerID)
	return args.Get(0).([]model.Task), args.Error(1)
}

func (m *MockTaskRepository) Update(ctx context.Context, t model.Task) (model.Task, error) {
	args := m.Called(ctx, t)
	return args.Get(0).(model.Task), args.Error(1)
}

func (m *MockTaskRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockTaskRepository) NextPosition(ctx context.Context, c model.Containment, projectID, teamID string) (int, error) {
	args := m.Called(ctx, c, projectID, teamID)
	return args.Int(0), args.Error(1)
}

func (m *MockTaskRepository) Reorder(ctx context.Context, c model.Containment, projectID, teamID string, taskIDs []string) error {
	args := m.Called(ctx, c, projectID, teamID, taskIDs)
	return args.Error(0)
}

func (m *MockTaskRepository) SaveIdempotencyKey(ctx context.Context, key string, taskID string) error {
	args := m.Called(ctx, key, taskID)
	return args.Error(0)
}

func (m *MockTaskRepository) GetIdempotencyKey(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Stage(ctx context.Context, stageID, projectID, teamID string) (model.Stage, error) {
	args := m.Called(ctx, stageID, projectID, teamID)
	return args.Get(0).(model.Stage), args.Error(1)
}

func (m *MockResolver) Backlog(ctx context.Context, backlogID, projectID, teamID string) error {
	args := m.Called(ctx, backlogID, projectID, teamID)
	return args.Error(0)
}

func (m *MockResolver) Sprint(ctx context.Context, sprintID, projectID, teamID string) error {
	args := m.Called(ctx, sprintID, projectID, teamID)
	return args.Error(0)
}

func (m *MockResolver) Team(ctx context.Context, teamID, projectID string) error {
	args := m.Called(ctx, teamID, projectID)
	return args.Error(0)
}

type MockHistoryRepository struct {
	mock.Mock
}

func (m *MockHistoryRepository) Append(ctx context.Context, ev model.HistoryEvent) (model.HistoryEvent, error) {
	args := m.Called(ctx, ev)
	return args.Get(0).(model.HistoryEvent), args.Error(1)
}

func (m *MockHistoryRepository) ListByTask(ctx context.Context, taskID string, limit int) ([]model.HistoryEvent, error) {
	args := m.Called(ctx, taskID, limit)
	return args.Get(0).([]model.HistoryEvent), args.Error(1)
}

type MockLookup struct {
	mock.Mock
}

func (m *MockLookup) UserByID(ctx context.Context, id string) (model.UserSnapshot, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.UserSnapshot), args.Error(1)
}

func (m *MockLookup) UsersByIDs(ctx context.Context, ids []string) (map[string]model.UserSnapshot, error) {
	args := m.Called(ctx, ids)
	return args.Get(0).(map[string]model.UserSnapshot), args.Error(1)
}

func (m *MockLookup) StageByID(ctx context.Context, id string) (model.Stage, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.Stage), args.Error(1)
}

func (m *MockLookup) TagsForTask(ctx context.Context, taskID string) ([]model.Tag, error) {
	args := m.Called(ctx, taskID)
	return args.Get(0).([]model.Tag), args.Error(1)
}

// capturingPublisher records published events for assertions.
type capturingPublisher struct {
	mu     sync.Mutex
	events []model.BoardEvent
}

func (p *capturingPublisher) Publish(ev model.BoardEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *capturingPublisher) all() []model.BoardEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.BoardEvent(nil), p.events...)
}

type fixture struct {
	service  *TaskService
	repo     *MockTaskRepository
	resolver *MockResolver
	history  *MockHistoryRepository
	lookup   *MockLookup
	events   *capturingPublisher
}

func newFixture() *fixture {
	f := &fixture{
		repo:     new(MockTaskRepository),
		resolver: new(MockResolver),
		history:  new(MockHistoryRepository),
		lookup:   new(MockLookup),
		events:   new(capturingPublisher),
	}
	recorder := NewHistoryRecorder(f.history, f.lookup, f.lookup)
	f.service = NewTaskService(f.repo, f.resolver, recorder, f.events,
		f.lookup, f.lookup, f.lookup, zap.NewNop())
	return f
}

// stubHydration covers the lookups every successful mutator performs.
func (f *fixture) stubHydration() {
	f.lookup.On("TagsForTask", mock.Anything, mock.Anything).Return([]model.Tag{}, nil).Maybe()
	f.lookup.On("UserByID", mock.Anything, mock.Anything).Return(model.UserSnapshot{}, repo.ErrorNotFound).Maybe()
	f.lookup.On("StageByID", mock.Anything, mock.Anything).Return(model.Stage{}, repo.ErrorNotFound).Maybe()
}

func strPtr(s string) *string { return &s }

const (
	projectID = "11111111-1111-1111-1111-111111111111"
	teamID    = "22222222-2222-2222-2222-222222222222"
	stageID   = "33333333-3333-3333-3333-333333333333"
	backlogID = "44444444-4444-4444-4444-444444444444"
	taskID    = "55555555-5555-5555-5555-555555555555"
	userID    = "66666666-6666-6666-6666-666666666666"
)

func TestTaskService_Create(t *testing.T) {
	tests := []struct {
		name       string
		input      model.CreateTaskInput
		setup      func(*fixture)
		wantErr    error
		check      func(*testing.T, *fixture, model.Task)
	}{
		{
			name:  "append position into non-empty container",
			input: model.CreateTaskInput{Title: "Ship it", ProjectID: projectID, TeamID: teamID},
			setup: func(f *fixture) {
				f.resolver.On("Team", mock.Anything, teamID, projectID).Return(nil)
				f.repo.On("NextPosition", mock.Anything, model.Unplaced(), projectID, teamID).Return(7, nil)
				f.repo.On("Create", mock.Anything, mock.MatchedBy(func(task model.Task) bool {
					return task.Position == 7 && task.Status == model.StatusNew && task.ID != ""
				})).Return(model.Task{ID: taskID, Title: "Ship it", Status: model.StatusNew,
					ProjectID: projectID, TeamID: teamID, Position: 7}, nil)
				f.stubHydration()
			},
			check: func(t *testing.T, f *fixture, task model.Task) {
				assert.Equal(t, 7, task.Position)
				events := f.events.all()
				require.Len(t, events, 1)
				assert.Equal(t, model.ActionTaskCreated, events[0].Action)
				assert.Equal(t, projectID, events[0].ProjectID)
				require.NotNil(t, events[0].TaskID)
				assert.Equal(t, taskID, *events[0].TaskID)
			},
		},
		{
			name:    "missing title",
			input:   model.CreateTaskInput{ProjectID: projectID, TeamID: teamID},
			setup:   func(f *fixture) {},
			wantErr: ErrValidation,
		},
		{
			name:    "missing project and team",
			input:   model.CreateTaskInput{Title: "orphan"},
			setup:   func(f *fixture) {},
			wantErr: ErrValidation,
		},
		{
			name: "unrecognized status",
			input: model.CreateTaskInput{Title: "x", ProjectID: projectID, TeamID: teamID,
				Status: func() *model.Status { s := model.Status("paused"); return &s }()},
			setup:   func(f *fixture) {},
			wantErr: ErrInvalidStatus,
		},
		{
			name: "stage wins over backlog",
			input: model.CreateTaskInput{Title: "x", ProjectID: projectID, TeamID: teamID,
				StageID: strPtr(stageID), BacklogID: strPtr(backlogID)},
			setup: func(f *fixture) {
				f.resolver.On("Team", mock.Anything, teamID, projectID).Return(nil)
				f.resolver.On("Stage", mock.Anything, stageID, projectID, teamID).
					Return(model.Stage{ID: stageID, Name: "Doing"}, nil)
				f.repo.On("NextPosition", mock.Anything, model.InStage(stageID), projectID, teamID).Return(0, nil)
				f.repo.On("Create", mock.Anything, mock.MatchedBy(func(task model.Task) bool {
					return task.Containment == model.InStage(stageID)
				})).Return(model.Task{ID: taskID, Title: "x", Status: model.StatusNew,
					ProjectID: projectID, TeamID: teamID, Containment: model.InStage(stageID)}, nil)
				f.stubHydration()
			},
			check: func(t *testing.T, f *fixture, task model.Task) {
				assert.Nil(t, task.Containment.BacklogID())
				f.resolver.AssertNotCalled(t, "Backlog", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			},
		},
		{
			name: "stage from another project is rejected before persistence",
			input: model.CreateTaskInput{Title: "x", ProjectID: projectID, TeamID: teamID,
				StageID: strPtr(stageID)},
			setup: func(f *fixture) {
				f.resolver.On("Team", mock.Anything, teamID, projectID).Return(nil)
				f.resolver.On("Stage", mock.Anything, stageID, projectID, teamID).
					Return(model.Stage{}, repo.ErrorContainmentMismatch)
			},
			wantErr: repo.ErrorContainmentMismatch,
			check: func(t *testing.T, f *fixture, _ model.Task) {
				f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
				assert.Empty(t, f.events.all())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.setup(f)

			task, err := f.service.Create(context.Background(), tt.input, "", Mutation{})

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			if tt.check != nil {
				tt.check(t, f, task)
			}
			f.repo.AssertExpectations(t)
			f.resolver.AssertExpectations(t)
		})
	}
}

func TestTaskService_Create_Idempotency(t *testing.T) {
	f := newFixture()
	existing := model.Task{ID: taskID, Title: "already there", Status: model.StatusNew,
		ProjectID: projectID, TeamID: teamID}

	f.resolver.On("Team", mock.Anything, teamID, projectID).Return(nil)
	f.repo.On("GetIdempotencyKey", mock.Anything, "key-123").Return(taskID, nil)
	f.repo.On("Get", mock.Anything, taskID).Return(existing, nil)
	f.stubHydration()

	task, err := f.service.Create(context.Background(),
		model.CreateTaskInput{Title: "already there", ProjectID: projectID, TeamID: teamID},
		"key-123", Mutation{})

	require.NoError(t, err)
	assert.Equal(t, taskID, task.ID)
	f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	assert.Empty(t, f.events.all(), "replayed create must not re-announce")
}

func baseTask() model.Task {
	return model.Task{
		ID:        taskID,
		Title:     "Write release notes",
		Status:    model.StatusNew,
		ProjectID: projectID,
		TeamID:    teamID,
		Position:  2,
	}
}

func TestTaskService_Update_StatusChange(t *testing.T) {
	f := newFixture()
	current := baseTask()
	updated := current
	updated.Status = model.StatusActive

	f.repo.On("Get", mock.Anything, taskID).Return(current, nil)
	f.repo.On("Update", mock.Anything, mock.MatchedBy(func(task model.Task) bool {
		return task.Status == model.StatusActive
	})).Return(updated, nil)
	f.history.On("Append", mock.Anything, mock.MatchedBy(func(ev model.HistoryEvent) bool {
		return ev.Type == model.HistoryStatusChanged &&
			ev.Payload.FromStatus != nil && *ev.Payload.FromStatus == model.StatusNew &&
			ev.Payload.ToStatus != nil && *ev.Payload.ToStatus == model.StatusActive &&
			ev.ActorID != nil && *ev.ActorID == userID
	})).Return(model.HistoryEvent{}, nil).Once()
	f.stubHydration()

	patch := model.TaskPatch{Status: model.Assign(model.StatusActive)}
	_, err := f.service.Update(context.Background(), taskID, patch,
		Mutation{ActorID: strPtr(userID), Origin: strPtr("client-A")})

	require.NoError(t, err)
	f.history.AssertExpectations(t)

	events := f.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, model.ActionTaskUpdated, events[0].Action)
	assert.Nil(t, events[0].PreviousStageID)
	require.NotNil(t, events[0].Origin)
	assert.Equal(t, "client-A", *events[0].Origin)
}

func TestTaskService_Update_NoChangeNoHistory(t *testing.T) {
	f := newFixture()
	current := baseTask()

	f.repo.On("Get", mock.Anything, taskID).Return(current, nil)
	f.repo.On("Update", mock.Anything, mock.Anything).Return(current, nil)
	f.stubHydration()

	patch := model.TaskPatch{Description: model.Assign("fresh details")}
	_, err := f.service.Update(context.Background(), taskID, patch, Mutation{})

	require.NoError(t, err)
	f.history.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
	assert.Len(t, f.events.all(), 1, "event still goes out")
}

func TestTaskService_Update_BacklogToStage(t *testing.T) {
	f := newFixture()
	current := baseTask()
	current.Containment = model.InBacklog(backlogID)

	stage := model.Stage{ID: stageID, Name: "In Progress", BoardID: "board-1"}
	updated := current
	updated.Containment = model.InStage(stageID)
	updated.Position = 4

	f.repo.On("Get", mock.Anything, taskID).Return(current, nil)
	f.resolver.On("Stage", mock.Anything, stageID, projectID, teamID).Return(stage, nil)
	f.repo.On("NextPosition", mock.Anything, model.InStage(stageID), projectID, teamID).Return(4, nil)
	f.repo.On("Update", mock.Anything, mock.MatchedBy(func(task model.Task) bool {
		// Non-null stage always clears the backlog.
		return task.Containment == model.InStage(stageID) && task.Position == 4
	})).Return(updated, nil)
	f.history.On("Append", mock.Anything, mock.MatchedBy(func(ev model.HistoryEvent) bool {
		return ev.Type == model.HistoryStageChanged &&
			ev.Payload.FromStage == nil &&
			ev.Payload.ToStage != nil &&
			ev.Payload.ToStage.ID == stageID &&
			ev.Payload.ToStage.Name == "In Progress"
	})).Return(model.HistoryEvent{}, nil).Once()
	f.lookup.On("TagsForTask", mock.Anything, taskID).Return([]model.Tag{}, nil)
	f.lookup.On("StageByID", mock.Anything, stageID).Return(stage, nil)

	patch := model.TaskPatch{StageID: model.Assign(stageID)}
	task, err := f.service.Update(context.Background(), taskID, patch, Mutation{})

	require.NoError(t, err)
	assert.Nil(t, task.Containment.BacklogID())
	require.NotNil(t, task.Containment.StageID())
	assert.Equal(t, stageID, *task.Containment.StageID())
	f.history.AssertExpectations(t)

	events := f.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, model.ActionTaskUpdated, events[0].Action)
	// The stage changed (from no stage), so the hint is present but null.
	assert.Nil(t, events[0].PreviousStageID)
	require.NotNil(t, events[0].StageID)
	assert.Equal(t, stageID, *events[0].StageID)
}

func TestTaskService_Update_HistoryFailureDoesNotAbort(t *testing.T) {
	f := newFixture()
	current := baseTask()
	updated := current
	updated.Status = model.StatusClosed

	f.repo.On("Get", mock.Anything, taskID).Return(current, nil)
	f.repo.On("Update", mock.Anything, mock.Anything).Return(updated, nil)
	f.history.On("Append", mock.Anything, mock.Anything).
		Return(model.HistoryEvent{}, errors.New("audit storage down"))
	f.stubHydration()

	patch := model.TaskPatch{Status: model.Assign(model.StatusClosed)}
	task, err := f.service.Update(context.Background(), taskID, patch, Mutation{})

	require.NoError(t, err, "persisted mutation must succeed despite audit failure")
	assert.Equal(t, model.StatusClosed, task.Status)
	assert.Len(t, f.events.all(), 1, "event must still be broadcast")
}

func TestTaskService_Update_NotFound(t *testing.T) {
	f := newFixture()
	f.repo.On("Get", mock.Anything, taskID).Return(model.Task{}, repo.ErrorNotFound)

	_, err := f.service.Update(context.Background(), taskID, model.TaskPatch{}, Mutation{})
	require.ErrorIs(t, err, repo.ErrorNotFound)
	assert.Empty(t, f.events.all())
}

func TestTaskService_Move(t *testing.T) {
	f := newFixture()
	current := baseTask()
	current.Containment = model.InStage("old-stage")

	stage := model.Stage{ID: stageID, Name: "Done", BoardID: "board-1"}
	updated := current
	updated.Containment = model.InStage(stageID)
	updated.Position = 9

	f.repo.On("Get", mock.Anything, taskID).Return(current, nil)
	f.resolver.On("Stage", mock.Anything, stageID, projectID, teamID).Return(stage, nil)
	f.repo.On("NextPosition", mock.Anything, model.InStage(stageID), projectID, teamID).Return(9, nil)
	f.repo.On("Update", mock.Anything, mock.MatchedBy(func(task model.Task) bool {
		return task.Containment == model.InStage(stageID) && task.Position == 9
	})).Return(updated, nil)
	f.history.On("Append", mock.Anything, mock.MatchedBy(func(ev model.HistoryEvent) bool {
		return ev.Type == model.HistoryStageChanged
	})).Return(model.HistoryEvent{}, nil).Once()
	f.lookup.On("TagsForTask", mock.Anything, taskID).Return([]model.Tag{}, nil)
	f.lookup.On("StageByID", mock.Anything, "old-stage").
		Return(model.Stage{ID: "old-stage", Name: "Doing"}, nil)
	f.lookup.On("StageByID", mock.Anything, stageID).Return(stage, nil)

	_, err := f.service.Move(context.Background(), taskID, stageID, Mutation{})
	require.NoError(t, err)

	events := f.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, model.ActionTaskMoved, events[0].Action)
	require.NotNil(t, events[0].PreviousStageID)
	assert.Equal(t, "old-stage", *events[0].PreviousStageID)
}

func TestTaskService_Move_ContainmentMismatch(t *testing.T) {
	f := newFixture()
	current := baseTask()

	f.repo.On("Get", mock.Anything, taskID).Return(current, nil)
	f.resolver.On("Stage", mock.Anything, stageID, projectID, teamID).
		Return(model.Stage{}, repo.ErrorContainmentMismatch)

	_, err := f.service.Move(context.Background(), taskID, stageID, Mutation{})

	require.ErrorIs(t, err, repo.ErrorContainmentMismatch)
	f.repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	assert.Empty(t, f.events.all())
}

func TestTaskService_Delete(t *testing.T) {
	f := newFixture()
	current := baseTask()
	current.Containment = model.InStage(stageID)

	f.repo.On("Get", mock.Anything, taskID).Return(current, nil)
	f.lookup.On("StageByID", mock.Anything, stageID).
		Return(model.Stage{ID: stageID, BoardID: "board-1"}, nil)
	f.repo.On("Delete", mock.Anything, taskID).Return(nil)

	err := f.service.Delete(context.Background(), taskID, Mutation{Origin: strPtr("client-A")})
	require.NoError(t, err)

	f.history.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
	events := f.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, model.ActionTaskDeleted, events[0].Action)
	require.NotNil(t, events[0].StageID, "event carries last-known stage")
	assert.Equal(t, stageID, *events[0].StageID)
	require.NotNil(t, events[0].BoardID)
	assert.Equal(t, "board-1", *events[0].BoardID)
}

func TestTaskService_SetAssignee(t *testing.T) {
	f := newFixture()
	current := baseTask()
	updated := current
	updated.AssigneeID = strPtr(userID)

	f.repo.On("Get", mock.Anything, taskID).Return(current, nil)
	f.repo.On("Update", mock.Anything, mock.MatchedBy(func(task model.Task) bool {
		return task.AssigneeID != nil && *task.AssigneeID == userID
	})).Return(updated, nil)
	f.lookup.On("UsersByIDs", mock.Anything, []string{userID}).
		Return(map[string]model.UserSnapshot{
			userID: {ID: userID, Username: "grace", DisplayName: "Grace H."},
		}, nil)
	f.history.On("Append", mock.Anything, mock.MatchedBy(func(ev model.HistoryEvent) bool {
		return ev.Type == model.HistoryAssigneeChanged &&
			ev.Payload.FromAssignee == nil &&
			ev.Payload.ToAssignee != nil &&
			ev.Payload.ToAssignee.Username == "grace"
	})).Return(model.HistoryEvent{}, nil).Once()
	f.stubHydration()

	_, err := f.service.SetAssignee(context.Background(), taskID, strPtr(userID), Mutation{})
	require.NoError(t, err)
	f.history.AssertExpectations(t)

	events := f.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, model.ActionTaskUpdated, events[0].Action)
}

func TestTaskService_Reorder(t *testing.T) {
	f := newFixture()
	order := []string{"t3", "t1", "t2"}

	f.resolver.On("Stage", mock.Anything, stageID, projectID, teamID).
		Return(model.Stage{ID: stageID}, nil)
	f.repo.On("Reorder", mock.Anything, model.InStage(stageID), projectID, teamID, order).Return(nil)

	err := f.service.Reorder(context.Background(), model.InStage(stageID), projectID, teamID, order, Mutation{})
	require.NoError(t, err)

	// One batched event, not one per task.
	events := f.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, model.ActionTasksReordered, events[0].Action)
	assert.Equal(t, order, events[0].TaskIDs)
}

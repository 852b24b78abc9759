package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ndemidenko/boardflow/internal/model"
	"github.com/ndemidenko/boardflow/internal/repo"
	"github.com/ndemidenko/boardflow/internal/service"
	"github.com/ndemidenko/boardflow/pkg/respond"
)

// Callers arrive pre-authenticated: the gateway in front of this service
// puts the user id into X-User-ID. X-Client-ID is the origin marker used
// for echo suppression on the event stream.
const (
	headerUserID   = "X-User-ID"
	headerClientID = "X-Client-ID"
)

type TaskHandler struct {
	service *service.TaskService
	logger  *zap.Logger
}

func NewTaskHandler(srv *service.TaskService, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		service: srv,
		logger:  logger,
	}
}

func mutationFrom(r *http.Request) service.Mutation {
	var mut service.Mutation
	if v := r.Header.Get(headerClientID); v != "" {
		mut.Origin = &v
	}
	if v := r.Header.Get(headerUserID); v != "" {
		mut.ActorID = &v
	}
	return mut
}

func callerFrom(r *http.Request) *string {
	if v := r.Header.Get(headerUserID); v != "" {
		return &v
	}
	return nil
}

func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength == 0 {
		respond.Error(w, r, http.StatusBadRequest, "empty request body")
		return
	}

	var in model.CreateTaskInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.logger.Error("failed to decode json", zap.Error(err))
		respond.Error(w, r, http.StatusBadRequest, fmt.Sprintf("invalid json: %v", err))
		return
	}

	idempKey := r.Header.Get("Idempotency-Key")
	task, err := h.service.Create(r.Context(), in, idempKey, mutationFrom(r))
	if err != nil {
		h.handleErrors(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/tasks/"+task.ID)
	respond.JSON(w, r, http.StatusCreated, task)
}

func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	task, err := h.service.GetTaskByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleErrors(w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, task)
}

func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	var filter model.TaskFilter
	q := r.URL.Query()
	for param, dst := range map[string]**string{
		"project_id": &filter.ProjectID,
		"team_id":    &filter.TeamID,
		"stage_id":   &filter.StageID,
		"backlog_id": &filter.BacklogID,
		"board_id":   &filter.BoardID,
		"sprint_id":  &filter.SprintID,
	} {
		if v := q.Get(param); v != "" {
			s := v
			*dst = &s
		}
	}

	tasks, err := h.service.GetTasks(r.Context(), filter, callerFrom(r))
	if err != nil {
		h.handleErrors(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	respond.JSON(w, r, http.StatusOK, tasks)
}

func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch model.TaskPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		respond.Error(w, r, http.StatusBadRequest, "invalid json")
		return
	}

	task, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), patch, mutationFrom(r))
	if err != nil {
		h.handleErrors(w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, task)
}

func (h *TaskHandler) Move(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StageID string `json:"stage_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.StageID == "" {
		respond.Error(w, r, http.StatusBadRequest, "stage_id is required")
		return
	}

	task, err := h.service.Move(r.Context(), chi.URLParam(r, "id"), req.StageID, mutationFrom(r))
	if err != nil {
		h.handleErrors(w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, task)
}

func (h *TaskHandler) SetAssignee(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AssigneeID model.Field[string] `json:"assignee_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.AssigneeID.Set {
		respond.Error(w, r, http.StatusBadRequest, "assignee_id is required (null to unassign)")
		return
	}

	task, err := h.service.SetAssignee(r.Context(), chi.URLParam(r, "id"), req.AssigneeID.Value, mutationFrom(r))
	if err != nil {
		h.handleErrors(w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, task)
}

func (h *TaskHandler) Reorder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID string   `json:"project_id"`
		TeamID    string   `json:"team_id"`
		StageID   *string  `json:"stage_id"`
		BacklogID *string  `json:"backlog_id"`
		TaskIDs   []string `json:"task_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, r, http.StatusBadRequest, "invalid json")
		return
	}

	c := model.ContainmentFromColumns(req.StageID, req.BacklogID)
	if err := h.service.Reorder(r.Context(), c, req.ProjectID, req.TeamID, req.TaskIDs, mutationFrom(r)); err != nil {
		h.handleErrors(w, r, err)
		return
	}
	respond.NoContent(w)
}

func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id"), mutationFrom(r)); err != nil {
		h.handleErrors(w, r, err)
		return
	}
	respond.NoContent(w)
}

func (h *TaskHandler) History(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	events, err := h.service.GetTaskHistory(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		h.handleErrors(w, r, err)
		return
	}
	if events == nil {
		events = []model.HistoryEvent{}
	}
	respond.JSON(w, r, http.StatusOK, events)
}

func (h *TaskHandler) handleErrors(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repo.ErrorNotFound):
		respond.Error(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, repo.ErrorContainmentMismatch):
		respond.Error(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, repo.ErrorConflict):
		respond.Error(w, r, http.StatusConflict, "conflict")
	case errors.Is(err, service.ErrInvalidStatus):
		respond.Error(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrValidation):
		respond.Error(w, r, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("internal error", zap.Error(err))
		respond.Error(w, r, http.StatusInternalServerError, "internal error")
	}
}

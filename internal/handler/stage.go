package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ndemidenko/boardflow/internal/model"
	"github.com/ndemidenko/boardflow/internal/repo"
	"github.com/ndemidenko/boardflow/internal/service"
	"github.com/ndemidenko/boardflow/pkg/respond"
)

type StageHandler struct {
	service *service.StageService
	logger  *zap.Logger
}

func NewStageHandler(srv *service.StageService, logger *zap.Logger) *StageHandler {
	return &StageHandler{service: srv, logger: logger}
}

func (h *StageHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in model.CreateStageInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.Error(w, r, http.StatusBadRequest, "invalid json")
		return
	}

	stage, err := h.service.CreateStage(r.Context(), in, mutationFrom(r))
	if err != nil {
		h.handleErrors(w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusCreated, stage)
}

func (h *StageHandler) Rename(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, r, http.StatusBadRequest, "invalid json")
		return
	}

	stage, err := h.service.RenameStage(r.Context(), chi.URLParam(r, "id"), req.Name, mutationFrom(r))
	if err != nil {
		h.handleErrors(w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, stage)
}

func (h *StageHandler) Reorder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BoardID  string   `json:"board_id"`
		StageIDs []string `json:"stage_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BoardID == "" {
		respond.Error(w, r, http.StatusBadRequest, "board_id is required")
		return
	}

	if err := h.service.ReorderStages(r.Context(), req.BoardID, req.StageIDs, mutationFrom(r)); err != nil {
		h.handleErrors(w, r, err)
		return
	}
	respond.NoContent(w)
}

func (h *StageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteStage(r.Context(), chi.URLParam(r, "id"), mutationFrom(r)); err != nil {
		h.handleErrors(w, r, err)
		return
	}
	respond.NoContent(w)
}

func (h *StageHandler) handleErrors(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repo.ErrorNotFound):
		respond.Error(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, repo.ErrorConflict):
		respond.Error(w, r, http.StatusConflict, "conflict")
	case errors.Is(err, service.ErrValidation):
		respond.Error(w, r, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("internal error", zap.Error(err))
		respond.Error(w, r, http.StatusInternalServerError, "internal error")
	}
}

package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ndemidenko/boardflow/internal/events"
	"github.com/ndemidenko/boardflow/internal/model"
	"github.com/ndemidenko/boardflow/pkg/respond"
)

// StreamHandler serves the live event sequence over SSE. The channel is a
// project id or "*" for the cross-project wildcard. The subscriber's own
// origin marker comes from X-Client-ID or the origin query param; events it
// caused itself are filtered out by the subscription.
type StreamHandler struct {
	broadcaster *events.Broadcaster
	logger      *zap.Logger
}

func NewStreamHandler(broadcaster *events.Broadcaster, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{broadcaster: broadcaster, logger: logger}
}

func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		respond.Error(w, r, http.StatusBadRequest, "channel is required")
		return
	}

	var origin *string
	if v := r.Header.Get(headerClientID); v != "" {
		origin = &v
	} else if v := r.URL.Query().Get("origin"); v != "" {
		origin = &v
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respond.Error(w, r, http.StatusInternalServerError, "stream unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := h.broadcaster.Subscribe(channel, origin)
	defer sub.Close()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := writeSSE(w, ev); err != nil {
				h.logger.Debug("subscriber write failed, closing stream", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev model.BoardEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n\n"))
	return err
}

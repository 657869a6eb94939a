package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/linklight/internal/journal"
	"github.com/nerrad567/linklight/internal/lifecycle"
)

// StateResponse is the body of GET /state and of every lifecycle command.
type StateResponse struct {
	DeviceID  string          `json:"device_id"`
	State     lifecycle.State `json:"state"`
	Indicator IndicatorState  `json:"indicator"`
}

// IndicatorState is the LED output implied by a lifecycle state.
type IndicatorState struct {
	Color string `json:"color"`
	On    bool   `json:"on"`
}

// TransitionsResponse is the body of GET /transitions.
type TransitionsResponse struct {
	Transitions []journal.Entry `json:"transitions"`
	Count       int             `json:"count"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"ws_clients":     s.hub.ClientCount(),
	})
}

func (s *Server) stateResponse() StateResponse {
	st := s.controller.State()
	color, on := lifecycle.IndicatorFor(st)
	return StateResponse{
		DeviceID:  s.deviceID,
		State:     st,
		Indicator: IndicatorState{Color: color.String(), On: on},
	}
}

func (s *Server) handleGetState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stateResponse())
}

func (s *Server) handleListTransitions(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeUnavailable(w, "transition journal is disabled")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing transitions failed", "error", err)
		writeInternalError(w, "failed to list transitions")
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, TransitionsResponse{Transitions: entries, Count: len(entries)})
}

// handleCommand runs start, stop or reset. The response carries the state
// observed once the controller has accepted the command.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var run func() error
	switch chi.URLParam(r, "command") {
	case "start":
		run = s.controller.Start
	case "stop":
		run = s.controller.Stop
	case "reset":
		run = s.controller.Reset
	default:
		writeNotFound(w, "unknown lifecycle command")
		return
	}

	if err := run(); err != nil {
		if errors.Is(err, lifecycle.ErrClosed) {
			writeUnavailable(w, "controller is shut down")
			return
		}
		s.logger.Error("lifecycle command failed", "command", chi.URLParam(r, "command"), "error", err)
		writeInternalError(w, "lifecycle command failed")
		return
	}
	writeJSON(w, http.StatusOK, s.stateResponse())
}

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ericogr/emfsense/pkg/sensing"
	"github.com/ericogr/emfsense/pkg/telemetry"
)

type handler struct {
	d Deps
}

type paramsResponse struct {
	Mode       telemetry.Mode `json:"mode"`
	Frequency  float64        `json:"frequency"`
	DeviceID   string         `json:"device_id"`
	Simulation bool           `json:"simulation"`
	Logging    bool           `json:"logging"`
	Capacity   int            `json:"capacity"`
}

type statusResponse struct {
	State    string         `json:"state"`
	Active   bool           `json:"active"`
	Feedback bool           `json:"feedback"`
	Params   paramsResponse `json:"params"`
	Stats    sensing.Stats  `json:"stats"`
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	s := h.d.Session
	p := s.Params()
	writeJSON(w, http.StatusOK, statusResponse{
		State:    s.State().String(),
		Active:   s.IsActive(),
		Feedback: s.IsFeedbackEnabled(),
		Params: paramsResponse{
			Mode:       p.Mode,
			Frequency:  p.Frequency,
			DeviceID:   p.DeviceID,
			Simulation: p.Simulation,
			Logging:    p.Logging,
			Capacity:   p.Capacity,
		},
		Stats: s.Stats(),
	})
}

func (h *handler) toggleSensing(w http.ResponseWriter, r *http.Request) {
	active, err := h.d.Session.ToggleSensing()
	if err != nil {
		writeError(w, lifecycleStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"active": active})
}

func (h *handler) toggleFeedback(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"feedback": h.d.Session.ToggleFeedback()})
}

func (h *handler) pause(w http.ResponseWriter, r *http.Request) {
	if err := h.d.Session.Pause(); err != nil {
		writeError(w, lifecycleStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": h.d.Session.State().String()})
}

func (h *handler) resume(w http.ResponseWriter, r *http.Request) {
	p := h.d.Session.Params()
	if h.d.Params != nil {
		var err error
		if p, err = h.d.Params(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if err := h.d.Session.Resume(p); err != nil {
		writeError(w, lifecycleStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": h.d.Session.State().String()})
}

func (h *handler) frame(w http.ResponseWriter, r *http.Request) {
	f, ok := h.d.Frames.Latest()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no data yet")
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *handler) logs(w http.ResponseWriter, r *http.Request) {
	mode, err := telemetry.ParseMode(chi.URLParam(r, "mode"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
	}
	recs, err := h.d.Logs.Recent(mode, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func lifecycleStatus(err error) int {
	switch {
	case errors.Is(err, sensing.ErrInvalidParams):
		return http.StatusBadRequest
	case errors.Is(err, sensing.ErrNotResumed), errors.Is(err, sensing.ErrStopped):
		return http.StatusConflict
	}
	return http.StatusBadGateway
}

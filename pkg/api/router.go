package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ericogr/emfsense/pkg/output/sqlite"
	"github.com/ericogr/emfsense/pkg/sensing"
	"github.com/ericogr/emfsense/pkg/telemetry"
)

// Controller is the part of a sensing session the API drives.
type Controller interface {
	State() sensing.State
	Params() sensing.Params
	Stats() sensing.Stats
	IsActive() bool
	IsFeedbackEnabled() bool
	ToggleSensing() (bool, error)
	ToggleFeedback() bool
	Pause() error
	Resume(sensing.Params) error
}

// FrameSource serves the last rendered frame.
type FrameSource interface {
	Latest() (telemetry.Frame, bool)
}

// LogReader reads back persisted readings.
type LogReader interface {
	Recent(mode telemetry.Mode, limit int) ([]sqlite.Record, error)
}

type Deps struct {
	Session Controller
	// Params re-derives the launch parameters on resume.
	Params func() (sensing.Params, error)
	Frames FrameSource
	Stream http.Handler
	Logs   LogReader
	Logger *slog.Logger
}

// NewRouter creates the Chi router. Optional dependencies that are nil
// leave their routes out.
func NewRouter(d Deps) *chi.Mux {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(d.Logger))
	r.Use(Recovery(d.Logger))

	h := &handler{d: d}
	r.Get("/health", h.health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.status)
		r.Post("/sensing/toggle", h.toggleSensing)
		r.Post("/feedback/toggle", h.toggleFeedback)
		r.Post("/session/pause", h.pause)
		r.Post("/session/resume", h.resume)
		if d.Frames != nil {
			r.Get("/frame", h.frame)
		}
		if d.Logs != nil {
			r.Get("/logs/{mode}", h.logs)
		}
	})
	if d.Stream != nil {
		r.Handle("/ws", d.Stream)
	}
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

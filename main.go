package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/ericogr/emfsense/pkg/api"
	"github.com/ericogr/emfsense/pkg/config"
	"github.com/ericogr/emfsense/pkg/link"
	"github.com/ericogr/emfsense/pkg/output"
	"github.com/ericogr/emfsense/pkg/output/console"
	"github.com/ericogr/emfsense/pkg/output/haptic"
	"github.com/ericogr/emfsense/pkg/output/mqtt"
	"github.com/ericogr/emfsense/pkg/output/sqlite"
	"github.com/ericogr/emfsense/pkg/output/ws"
	"github.com/ericogr/emfsense/pkg/sensing"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.LoadFromFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("emfsense stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	runID := uuid.NewString()
	logger.Info("starting", "run_id", runID, "mode", cfg.Mode, "device", cfg.DeviceID, "simulation", cfg.Simulation)

	renderers, hub, err := initRenderers(cfg, os.Stdout, logger)
	if err != nil {
		return err
	}
	if hub != nil {
		defer hub.Close()
	}

	loggers, store, err := initLoggers(cfg, runID)
	if err != nil {
		return err
	}
	defer func() {
		if err := loggers.Close(); err != nil {
			logger.Warn("closing loggers", "err", err)
		}
	}()

	sink, closeSink, err := initFeedback(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer closeSink()

	sess := sensing.New(linkFactory(cfg, logger),
		sensing.WithRenderer(renderers),
		sensing.WithLogger(loggers),
		sensing.WithFeedbackSink(sink),
		sensing.WithLog(logger.With("component", "session")),
		sensing.WithFeedback(cfg.Feedback.Enabled),
	)
	params, err := cfg.Params()
	if err != nil {
		return err
	}
	if err := sess.Start(params); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer func() {
		if err := sess.Stop(); err != nil {
			logger.Warn("stopping session", "err", err)
		}
		st := sess.Stats()
		logger.Info("session stopped", "consumed", st.Consumed, "resets", st.Resets, "dropped", st.Dropped)
	}()
	if cfg.AutoSense {
		if _, err := sess.ToggleSensing(); err != nil {
			return fmt.Errorf("start sensing: %w", err)
		}
	}

	deps := api.Deps{
		Session: sess,
		Params:  cfg.Params,
		Logger:  logger.With("component", "api"),
	}
	if hub != nil {
		deps.Frames = hub
		deps.Stream = hub
	}
	if store != nil {
		deps.Logs = store
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// initRenderers builds the configured renderers. The websocket hub is
// returned separately because the API serves it.
func initRenderers(cfg config.Config, stdout io.Writer, logger *slog.Logger) (output.Renderers, *ws.Hub, error) {
	var (
		rs  output.Renderers
		hub *ws.Hub
	)
	for _, o := range cfg.Outputs {
		switch o.Type {
		case config.OutputConsole:
			rs = append(rs, console.NewRenderer(stdout, o.Every))
		case config.OutputWebsocket:
			if hub != nil {
				continue
			}
			hub = ws.NewHub(logger.With("component", "ws"))
			rs = append(rs, hub)
		default:
			return nil, nil, fmt.Errorf("unknown output type %q", o.Type)
		}
	}
	return rs, hub, nil
}

// initLoggers opens the persistent loggers when logging is enabled. Nothing
// is created or dialed otherwise. The sqlite store is returned separately
// for the API log reader.
func initLoggers(cfg config.Config, runID string) (output.Loggers, *sqlite.Store, error) {
	var (
		ls    output.Loggers
		store *sqlite.Store
	)
	if !cfg.Log.Enabled {
		return ls, nil, nil
	}
	if cfg.Log.SQLitePath != "" {
		s, err := sqlite.Open(cfg.Log.SQLitePath, runID, cfg.DeviceID)
		if err != nil {
			return nil, nil, err
		}
		store = s
		ls = append(ls, s)
	}
	if cfg.Log.MQTT != nil && cfg.Log.MQTT.Server != "" {
		m, err := mqtt.NewMQTT(*cfg.Log.MQTT, cfg.DeviceID, runID)
		if err != nil {
			_ = ls.Close()
			return nil, nil, err
		}
		ls = append(ls, m)
	}
	return ls, store, nil
}

// initFeedback picks the sink for haptic pulses. The returned func releases
// any hardware it claimed.
func initFeedback(cfg config.Config, stdout io.Writer) (output.FeedbackSink, func(), error) {
	switch cfg.Feedback.Sink {
	case config.SinkGPIO:
		v, err := haptic.Open(cfg.Feedback.GPIOPin)
		if err != nil {
			return nil, nil, err
		}
		return v, func() { _ = v.Close() }, nil
	case config.SinkNone:
		return output.Nop{}, func() {}, nil
	default:
		return console.NewFeedback(stdout), func() {}, nil
	}
}

// linkFactory builds a fresh device link on every resume so that params
// changed in between take effect.
func linkFactory(cfg config.Config, logger *slog.Logger) sensing.LinkFactory {
	return func(p sensing.Params, ch *sensing.Channel) (sensing.DeviceLink, error) {
		return link.New(cfg.LinkOptions(p, logger.With("component", "link")), ch)
	}
}

package sensing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ericogr/emfsense/pkg/output"
	"github.com/ericogr/emfsense/pkg/telemetry"
)

// DeviceLink is the transport to the probe. Start and Stop manage the
// connection; SetSampleRate and StopSampling turn the measurement stream
// on and off while the connection stays up.
type DeviceLink interface {
	Start() error
	Stop() error
	SetSampleRate(freq float64) error
	StopSampling() error
}

// LinkFactory builds a fresh link for every resume. The link delivers its
// payloads through ch.
type LinkFactory func(p Params, ch *Channel) (DeviceLink, error)

type State int

const (
	Created State = iota
	Resumed
	Paused
	Stopped
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Resumed:
		return "resumed"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Stats struct {
	Consumed uint64 `json:"consumed"`
	Resets   uint64 `json:"resets"`
	Dropped  uint64 `json:"dropped"`
	Pending  int    `json:"pending"`
}

type Option func(*Session)

func WithRenderer(r output.Renderer) Option         { return func(s *Session) { s.renderer = r } }
func WithLogger(l output.Logger) Option             { return func(s *Session) { s.logger = l } }
func WithFeedbackSink(f output.FeedbackSink) Option { return func(s *Session) { s.sink = f } }
func WithLog(l *slog.Logger) Option                 { return func(s *Session) { s.log = l } }

// WithFeedback sets the initial state of the feedback flag (default on).
func WithFeedback(enabled bool) Option { return func(s *Session) { s.feedback.Store(enabled) } }

// Session owns the device link, the series and the axis. Lifecycle calls
// may come from any goroutine; the series and axis are only touched by
// the consumer loop started on resume.
type Session struct {
	newLink  LinkFactory
	renderer output.Renderer
	logger   output.Logger
	sink     output.FeedbackSink
	log      *slog.Logger

	mu     sync.Mutex
	state  State
	params Params
	link   DeviceLink
	ch     *Channel
	cancel context.CancelFunc
	done   chan struct{}

	active   atomic.Bool
	feedback atomic.Bool

	series *Series
	scaler *Scaler

	consumed atomic.Uint64
	resets   atomic.Uint64
	dropped  atomic.Uint64
}

func New(newLink LinkFactory, opts ...Option) *Session {
	s := &Session{
		newLink:  newLink,
		renderer: output.Nop{},
		logger:   output.Nop{},
		sink:     output.Nop{},
		log:      slog.Default(),
	}
	s.feedback.Store(true)
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start validates p and performs the first resume. Invalid params leave
// the session in Created without touching any link.
func (s *Session) Start(p Params) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Stopped {
		return ErrStopped
	}
	if s.state != Created {
		return ErrStarted
	}
	return s.resumeLocked(p)
}

// Resume establishes a new link with p. It is a no-op when already
// resumed. On failure the session keeps its previous state.
func (s *Session) Resume(p Params) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Stopped:
		return ErrStopped
	case Resumed:
		return nil
	}
	return s.resumeLocked(p)
}

func (s *Session) resumeLocked(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	ch := NewChannel(s.log)
	l, err := s.newLink(p, ch)
	if err != nil {
		ch.Close()
		return fmt.Errorf("create link: %w", err)
	}
	if err := l.Start(); err != nil {
		ch.Close()
		return fmt.Errorf("start link: %w", err)
	}

	if s.series == nil || s.series.Capacity() != p.capacity() {
		s.series = NewSeries(p.capacity())
		s.scaler = NewScaler()
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.params = p
	s.link, s.ch, s.cancel, s.done = l, ch, cancel, done
	s.active.Store(false)
	s.state = Resumed
	go s.run(ctx, ch, p, done)

	s.log.Info("session resumed", "mode", p.Mode, "frequency", p.Frequency, "device", p.DeviceID, "simulation", p.Simulation)
	return nil
}

// Pause stops sampling and tears the link down. Calling it when not
// resumed is a no-op. If the link fails to stop the error is returned and
// the session stays resumed so the caller can retry.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pauseLocked()
}

// Stop is Pause followed by a final transition to Stopped. Idempotent.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Stopped {
		return nil
	}
	if err := s.pauseLocked(); err != nil {
		return err
	}
	s.state = Stopped
	s.log.Info("session stopped")
	return nil
}

func (s *Session) pauseLocked() error {
	if s.state != Resumed {
		return nil
	}
	s.stopSensingLocked()
	if err := s.link.Stop(); err != nil {
		return fmt.Errorf("stop link: %w", err)
	}
	s.ch.Close()
	s.cancel()
	<-s.done
	s.dropped.Add(s.ch.Dropped())

	s.link, s.ch, s.cancel, s.done = nil, nil, nil, nil
	s.state = Paused
	s.log.Info("session paused")
	return nil
}

func (s *Session) stopSensingLocked() {
	if err := s.link.StopSampling(); err != nil {
		s.log.Warn("stop sampling", "error", err)
	}
	s.active.Store(false)
}

// ToggleSensing starts sampling at the configured frequency, or stops it
// when already sampling. The link connection is left alone.
func (s *Session) ToggleSensing() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Resumed {
		return s.active.Load(), ErrNotResumed
	}
	if s.active.Load() {
		if err := s.link.StopSampling(); err != nil {
			return true, fmt.Errorf("stop sampling: %w", err)
		}
		s.active.Store(false)
		return false, nil
	}
	if err := s.link.SetSampleRate(s.params.Frequency); err != nil {
		return false, fmt.Errorf("set sample rate: %w", err)
	}
	s.active.Store(true)
	return true, nil
}

// ToggleFeedback flips the feedback flag and returns the new value. A
// pulse in flight is cancelled when feedback is switched off.
func (s *Session) ToggleFeedback() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	on := !s.feedback.Load()
	s.feedback.Store(on)
	if !on {
		if c, ok := s.sink.(output.Canceler); ok {
			if err := c.Cancel(); err != nil {
				s.log.Warn("cancel feedback", "error", err)
			}
		}
	}
	return on
}

func (s *Session) IsActive() bool          { return s.active.Load() }
func (s *Session) IsFeedbackEnabled() bool { return s.feedback.Load() }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Params() Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Consumed: s.consumed.Load(),
		Resets:   s.resets.Load(),
		Dropped:  s.dropped.Load(),
	}
	if s.ch != nil {
		st.Dropped += s.ch.Dropped()
		st.Pending = s.ch.Pending()
	}
	return st
}

func (s *Session) run(ctx context.Context, ch *Channel, p Params, done chan struct{}) {
	defer close(done)
	for {
		v, ok := ch.Next(ctx)
		if !ok {
			return
		}
		s.consume(v, p)
	}
}

// consume runs the per-sample pipeline: append, rescale, render, then
// feedback and logging for the same sample.
func (s *Session) consume(v float64, p Params) {
	tick, reset := s.series.Append(v)
	if reset {
		s.scaler.Reset()
		s.resets.Add(1)
	}
	axis := s.scaler.OnAppend(tick, v)

	frame := telemetry.Frame{
		Mode:    p.Mode,
		Palette: p.Mode.Palette(),
		Axis:    axis,
		Series:  s.series.Samples(),
		Reset:   reset,
	}
	if err := s.renderer.Refresh(frame); err != nil {
		s.log.Warn("render", "tick", tick, "error", err)
	}

	if s.feedback.Load() {
		if err := s.sink.Pulse(FeedbackDuration(v, p.Mode)); err != nil {
			s.log.Warn("feedback pulse", "value", v, "error", err)
		}
	}

	if p.Logging {
		if err := s.logger.Store(v, p.Mode); err != nil {
			s.log.Warn("store sample", "value", v, "mode", p.Mode, "error", err)
		}
	}
	s.consumed.Add(1)
}

package sensing

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ericogr/emfsense/pkg/telemetry"
)

type fakeLink struct {
	mu        sync.Mutex
	ch        *Channel
	calls     []string
	startErr  error
	stopErr   error
	sampleErr error
}

func (l *fakeLink) record(c string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, c)
}

func (l *fakeLink) Start() error { l.record("start"); return l.startErr }
func (l *fakeLink) Stop() error  { l.record("stop"); return l.stopErr }
func (l *fakeLink) SetSampleRate(f float64) error {
	l.record(fmt.Sprintf("rate %g", f))
	return l.sampleErr
}
func (l *fakeLink) StopSampling() error { l.record("stop-sampling"); return nil }

func (l *fakeLink) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// linkPool hands out prepared fake links and remembers every link built.
type linkPool struct {
	mu    sync.Mutex
	next  []*fakeLink
	built []*fakeLink
	err   error
}

func (p *linkPool) factory(_ Params, ch *Channel) (DeviceLink, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	l := &fakeLink{}
	if len(p.next) > 0 {
		l, p.next = p.next[0], p.next[1:]
	}
	l.ch = ch
	p.built = append(p.built, l)
	return l, nil
}

func (p *linkPool) last() *fakeLink {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.built[len(p.built)-1]
}

// pipeline records every collaborator call from the consumer loop.
type pipeline struct {
	mu     sync.Mutex
	events []string
	frames []telemetry.Frame
	pulses []time.Duration
}

func (p *pipeline) add(e string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *pipeline) Refresh(f telemetry.Frame) error {
	p.mu.Lock()
	p.frames = append(p.frames, f)
	p.mu.Unlock()
	p.add("refresh")
	return nil
}

func (p *pipeline) Pulse(d time.Duration) error {
	p.mu.Lock()
	p.pulses = append(p.pulses, d)
	p.mu.Unlock()
	p.add("pulse")
	return nil
}

func (p *pipeline) Cancel() error { p.add("cancel"); return nil }

func (p *pipeline) Store(v float64, m telemetry.Mode) error {
	p.add(fmt.Sprintf("store %g %s", v, m))
	return nil
}

func (p *pipeline) Close() error { return nil }

func (p *pipeline) Events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

func (p *pipeline) Frames() []telemetry.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]telemetry.Frame(nil), p.frames...)
}

func newTestSession(pool *linkPool, p *pipeline, opts ...Option) *Session {
	base := []Option{WithRenderer(p), WithLogger(p), WithFeedbackSink(p)}
	return New(pool.factory, append(base, opts...)...)
}

func lfParams() Params {
	return Params{Mode: telemetry.LF, Frequency: 50, DeviceID: "probe-1", Logging: true}
}

func waitConsumed(t *testing.T, s *Session, n uint64) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Stats().Consumed >= n }, time.Second, time.Millisecond)
}

func TestSessionPipelineOrder(t *testing.T) {
	pool, p := &linkPool{}, &pipeline{}
	s := newTestSession(pool, p)
	require.NoError(t, s.Start(lfParams()))
	require.Equal(t, Resumed, s.State())

	pool.last().ch.Post("2.5")
	waitConsumed(t, s, 1)

	require.Equal(t, []string{"refresh", "pulse", "store 2.5 lf"}, p.Events())
	f := p.Frames()[0]
	require.Equal(t, []telemetry.Sample{{Tick: 0, Value: 2.5}}, f.Series)
	require.Equal(t, telemetry.InitialAxis(), f.Axis)
	require.Equal(t, telemetry.LF.Palette(), f.Palette)
	require.Equal(t, []time.Duration{25 * time.Millisecond}, p.pulses)
	require.NoError(t, s.Stop())
}

func TestSessionRendererSeesScaledAxis(t *testing.T) {
	pool, p := &linkPool{}, &pipeline{}
	s := newTestSession(pool, p)
	require.NoError(t, s.Start(lfParams()))

	pool.last().ch.Post("42")
	waitConsumed(t, s, 1)
	require.Equal(t, 42.0, p.Frames()[0].Axis.YMax)
	require.NoError(t, s.Stop())
}

func TestSessionFeedbackAndLoggingFlags(t *testing.T) {
	pool, p := &linkPool{}, &pipeline{}
	s := newTestSession(pool, p, WithFeedback(false))
	params := lfParams()
	params.Logging = false
	require.NoError(t, s.Start(params))
	require.False(t, s.IsFeedbackEnabled())

	pool.last().ch.Post("1")
	waitConsumed(t, s, 1)
	require.Equal(t, []string{"refresh"}, p.Events())

	require.True(t, s.ToggleFeedback())
	pool.last().ch.Post("1")
	waitConsumed(t, s, 2)
	require.Equal(t, []string{"refresh", "refresh", "pulse"}, p.Events())

	require.False(t, s.ToggleFeedback())
	require.Equal(t, "cancel", p.Events()[3])
	require.NoError(t, s.Stop())
}

func TestSessionOverflowResetsSeriesAndAxis(t *testing.T) {
	pool, p := &linkPool{}, &pipeline{}
	s := newTestSession(pool, p, WithFeedback(false))
	params := lfParams()
	params.Logging = false
	require.NoError(t, s.Start(params))

	ch := pool.last().ch
	for i := 0; i < DefaultCapacity; i++ {
		ch.PostValue(float64(i))
	}
	waitConsumed(t, s, DefaultCapacity)
	full := p.Frames()[DefaultCapacity-1]
	require.Len(t, full.Series, DefaultCapacity)
	require.Equal(t, 499.0, full.Axis.XMax)
	require.Equal(t, 449.0, full.Axis.XMin)
	require.Equal(t, 499.0, full.Axis.YMax)

	ch.PostValue(500)
	waitConsumed(t, s, DefaultCapacity+1)
	f := p.Frames()[DefaultCapacity]
	require.True(t, f.Reset)
	require.Equal(t, []telemetry.Sample{{Tick: 0, Value: 500}}, f.Series)
	require.Equal(t, telemetry.Axis{XMin: 0, XMax: 50, YMin: 0, YMax: 500}, f.Axis)
	require.Equal(t, uint64(1), s.Stats().Resets)
	require.NoError(t, s.Stop())
}

func TestSessionOverflowWithSmallValuesRestoresInitialAxis(t *testing.T) {
	pool, p := &linkPool{}, &pipeline{}
	s := newTestSession(pool, p)
	params := lfParams()
	params.Capacity = 60
	require.NoError(t, s.Start(params))

	ch := pool.last().ch
	for i := 0; i < 61; i++ {
		ch.PostValue(float64(i % 5))
	}
	waitConsumed(t, s, 61)
	f := p.Frames()[60]
	require.Len(t, f.Series, 1)
	require.Equal(t, telemetry.InitialAxis(), f.Axis)
	require.NoError(t, s.Stop())
}

func TestSessionDropsMalformedSamples(t *testing.T) {
	pool, p := &linkPool{}, &pipeline{}
	s := newTestSession(pool, p)
	require.NoError(t, s.Start(lfParams()))

	ch := pool.last().ch
	ch.Post("garbage")
	ch.Post("3")
	waitConsumed(t, s, 1)
	require.Equal(t, uint64(1), s.Stats().Dropped)
	require.Equal(t, []telemetry.Sample{{Tick: 0, Value: 3}}, p.Frames()[0].Series)
	require.NoError(t, s.Stop())
	require.Equal(t, uint64(1), s.Stats().Dropped)
}

func TestSessionToggleSensing(t *testing.T) {
	pool, p := &linkPool{}, &pipeline{}
	s := newTestSession(pool, p)

	_, err := s.ToggleSensing()
	require.ErrorIs(t, err, ErrNotResumed)

	require.NoError(t, s.Start(lfParams()))
	require.False(t, s.IsActive())

	on, err := s.ToggleSensing()
	require.NoError(t, err)
	require.True(t, on)
	require.True(t, s.IsActive())

	on, err = s.ToggleSensing()
	require.NoError(t, err)
	require.False(t, on)
	require.Equal(t, []string{"start", "rate 50", "stop-sampling"}, pool.last().Calls())
	require.NoError(t, s.Stop())
}

func TestSessionToggleSensingLinkError(t *testing.T) {
	boom := errors.New("boom")
	pool := &linkPool{next: []*fakeLink{{sampleErr: boom}}}
	s := newTestSession(pool, &pipeline{})
	require.NoError(t, s.Start(lfParams()))
	_, err := s.ToggleSensing()
	require.ErrorIs(t, err, boom)
	require.False(t, s.IsActive())
	require.NoError(t, s.Stop())
}

func TestSessionStopIsIdempotent(t *testing.T) {
	pool := &linkPool{}
	s := newTestSession(pool, &pipeline{})
	require.NoError(t, s.Start(lfParams()))
	_, err := s.ToggleSensing()
	require.NoError(t, err)

	require.NoError(t, s.Stop())
	first := pool.last().Calls()
	require.Equal(t, Stopped, s.State())
	require.False(t, s.IsActive())

	require.NoError(t, s.Stop())
	require.Equal(t, Stopped, s.State())
	require.Equal(t, first, pool.last().Calls())
	require.NoError(t, s.Pause())
	require.ErrorIs(t, s.Resume(lfParams()), ErrStopped)
	require.ErrorIs(t, s.Start(lfParams()), ErrStopped)
}

func TestSessionPauseAndStopConverge(t *testing.T) {
	for _, name := range []string{"pause", "stop"} {
		t.Run(name, func(t *testing.T) {
			pool := &linkPool{}
			s := newTestSession(pool, &pipeline{})
			require.NoError(t, s.Start(lfParams()))
			if name == "pause" {
				require.NoError(t, s.Pause())
				require.Equal(t, Paused, s.State())
			} else {
				require.NoError(t, s.Stop())
				require.Equal(t, Stopped, s.State())
			}
			require.Equal(t, []string{"start", "stop-sampling", "stop"}, pool.last().Calls())
		})
	}
}

func TestSessionNoSamplesAfterPause(t *testing.T) {
	pool, p := &linkPool{}, &pipeline{}
	s := newTestSession(pool, p)
	require.NoError(t, s.Start(lfParams()))
	ch := pool.last().ch
	ch.PostValue(1)
	waitConsumed(t, s, 1)

	require.NoError(t, s.Pause())
	ch.PostValue(2)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, uint64(1), s.Stats().Consumed)
	require.Len(t, p.Frames(), 1)
}

func TestSessionResumeReplacesLink(t *testing.T) {
	pool, p := &linkPool{}, &pipeline{}
	s := newTestSession(pool, p)
	require.NoError(t, s.Start(lfParams()))
	first := pool.last()
	first.ch.PostValue(1)
	waitConsumed(t, s, 1)
	require.NoError(t, s.Pause())

	hf := lfParams()
	hf.Mode = telemetry.HF
	require.NoError(t, s.Resume(hf))
	require.NoError(t, s.Resume(hf))
	second := pool.last()
	require.NotSame(t, first, second)
	require.Len(t, pool.built, 2)
	require.Equal(t, telemetry.HF, s.Params().Mode)

	second.ch.PostValue(10)
	waitConsumed(t, s, 2)
	f := p.Frames()[1]
	require.Equal(t, []telemetry.Sample{{Tick: 0, Value: 1}, {Tick: 1, Value: 10}}, f.Series)
	require.Equal(t, telemetry.HF, f.Mode)
	require.Contains(t, p.Events(), "store 10 hf")
	require.NoError(t, s.Stop())
}

func TestSessionInvalidParamsStayCreated(t *testing.T) {
	pool := &linkPool{}
	s := newTestSession(pool, &pipeline{})
	bad := lfParams()
	bad.Frequency = -1
	require.ErrorIs(t, s.Start(bad), ErrInvalidParams)
	require.Equal(t, Created, s.State())
	require.Empty(t, pool.built)

	bad = lfParams()
	bad.Mode = telemetry.Mode(7)
	require.ErrorIs(t, s.Start(bad), ErrInvalidParams)

	require.NoError(t, s.Start(lfParams()))
	require.ErrorIs(t, s.Start(lfParams()), ErrStarted)
	require.NoError(t, s.Stop())
}

func TestSessionLinkStartFailure(t *testing.T) {
	boom := errors.New("no device")
	pool := &linkPool{next: []*fakeLink{{startErr: boom}}}
	s := newTestSession(pool, &pipeline{})
	require.ErrorIs(t, s.Start(lfParams()), boom)
	require.Equal(t, Created, s.State())

	require.NoError(t, s.Start(lfParams()))
	require.Equal(t, Resumed, s.State())
	require.NoError(t, s.Stop())
}

func TestSessionFactoryFailure(t *testing.T) {
	pool := &linkPool{err: errors.New("no port")}
	s := newTestSession(pool, &pipeline{})
	require.Error(t, s.Start(lfParams()))
	require.Equal(t, Created, s.State())
}

func TestSessionLinkStopFailureKeepsSessionResumed(t *testing.T) {
	boom := errors.New("busy")
	l := &fakeLink{stopErr: boom}
	pool := &linkPool{next: []*fakeLink{l}}
	s := newTestSession(pool, &pipeline{})
	require.NoError(t, s.Start(lfParams()))

	require.ErrorIs(t, s.Stop(), boom)
	require.Equal(t, Resumed, s.State())

	l.mu.Lock()
	l.stopErr = nil
	l.mu.Unlock()
	require.NoError(t, s.Stop())
	require.Equal(t, Stopped, s.State())
}

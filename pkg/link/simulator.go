package link

import (
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"
)

const (
	DefaultSimInterval  = 50 * time.Millisecond
	DefaultSimAmplitude = 2.0
	DefaultSimPeriod    = 50
)

// Simulator stands in for a probe. While sampling it emits a sine wave at a
// fixed rate, as text, so the values go through the same decoding as a
// real device.
type Simulator struct {
	post      Poster
	interval  time.Duration
	amplitude float64
	period    int
	log       *slog.Logger

	mu       sync.Mutex
	sampling bool
	n        int
	stop     chan struct{}
	done     chan struct{}
}

func NewSimulator(opts Options, p Poster) *Simulator {
	s := &Simulator{
		post:      p,
		interval:  opts.SimInterval,
		amplitude: opts.SimAmplitude,
		period:    opts.SimPeriod,
		log:       loggerOf(opts),
	}
	if s.interval <= 0 {
		s.interval = DefaultSimInterval
	}
	if s.amplitude == 0 {
		s.amplitude = DefaultSimAmplitude
	}
	if s.period <= 0 {
		s.period = DefaultSimPeriod
	}
	return s
}

// Value is the n-th simulated reading.
func (s *Simulator) Value(n int) float64 {
	return s.amplitude * (1 + math.Sin(2*math.Pi*float64(n)/float64(s.period)))
}

func (s *Simulator) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return nil
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(s.stop, s.done)
	s.log.Info("simulated link started", "interval", s.interval, "amplitude", s.amplitude)
	return nil
}

func (s *Simulator) Stop() error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.sampling = false
	s.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	s.log.Info("simulated link stopped")
	return nil
}

func (s *Simulator) SetSampleRate(freq float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		return ErrNotConnected
	}
	s.sampling = true
	return nil
}

func (s *Simulator) StopSampling() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sampling = false
	return nil
}

func (s *Simulator) run(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			if !s.sampling {
				s.mu.Unlock()
				continue
			}
			v := s.Value(s.n)
			s.n++
			s.mu.Unlock()
			s.post.Post(strconv.FormatFloat(v, 'f', 4, 64))
		}
	}
}

package sensing

import "github.com/ericogr/emfsense/pkg/telemetry"

const DefaultCapacity = 500

// Series is the charted time series. When it is full the next append
// clears it and restarts the ticks at zero; it is not a ring buffer.
type Series struct {
	capacity int
	samples  []telemetry.Sample
	tick     int64
}

func NewSeries(capacity int) *Series {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Series{capacity: capacity, samples: make([]telemetry.Sample, 0, capacity)}
}

// Append adds v at the next tick. reset reports whether the series was
// cleared first.
func (s *Series) Append(v float64) (tick int64, reset bool) {
	if len(s.samples) >= s.capacity {
		s.Reset()
		reset = true
	}
	tick = s.tick
	s.samples = append(s.samples, telemetry.Sample{Tick: tick, Value: v})
	s.tick++
	return tick, reset
}

func (s *Series) Reset() {
	s.samples = s.samples[:0]
	s.tick = 0
}

func (s *Series) Len() int      { return len(s.samples) }
func (s *Series) Capacity() int { return s.capacity }

// Samples returns a copy in tick order.
func (s *Series) Samples() []telemetry.Sample {
	out := make([]telemetry.Sample, len(s.samples))
	copy(out, s.samples)
	return out
}

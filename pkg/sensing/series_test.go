package sensing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ericogr/emfsense/pkg/telemetry"
)

func TestSeriesTicksWithinEpoch(t *testing.T) {
	s := NewSeries(10)
	for i := 0; i < 10; i++ {
		tick, reset := s.Append(float64(i))
		require.Equal(t, int64(i), tick)
		require.False(t, reset)
	}
	require.Equal(t, 10, s.Len())
	for i, smp := range s.Samples() {
		require.Equal(t, telemetry.Sample{Tick: int64(i), Value: float64(i)}, smp)
	}
}

func TestSeriesClearsOnOverflow(t *testing.T) {
	s := NewSeries(3)
	for i := 0; i < 3; i++ {
		s.Append(1)
	}
	tick, reset := s.Append(7)
	require.True(t, reset)
	require.Equal(t, int64(0), tick)
	require.Equal(t, []telemetry.Sample{{Tick: 0, Value: 7}}, s.Samples())

	tick, reset = s.Append(8)
	require.False(t, reset)
	require.Equal(t, int64(1), tick)
}

func TestSeriesSamplesIsCopy(t *testing.T) {
	s := NewSeries(4)
	s.Append(1)
	got := s.Samples()
	got[0].Value = 99
	require.Equal(t, 1.0, s.Samples()[0].Value)
}

func TestSeriesDefaultCapacity(t *testing.T) {
	require.Equal(t, DefaultCapacity, NewSeries(0).Capacity())
	require.Equal(t, 500, DefaultCapacity)
}

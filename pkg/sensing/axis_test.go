package sensing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ericogr/emfsense/pkg/telemetry"
)

func TestScalerLeftEdgeCreep(t *testing.T) {
	s := NewScaler()
	for tick := int64(0); tick <= 50; tick++ {
		s.OnAppend(tick, 1)
	}
	require.Equal(t, telemetry.InitialAxis(), s.Axis())

	a := s.OnAppend(51, 1)
	require.Equal(t, 51.0, a.XMax)
	require.Equal(t, 1.0, a.XMin)

	a = s.OnAppend(52, 1)
	require.Equal(t, 52.0, a.XMax)
	require.Equal(t, 2.0, a.XMin)
}

func TestScalerYOnlyGrows(t *testing.T) {
	s := NewScaler()
	require.Equal(t, 10.0, s.OnAppend(0, 3).YMax)
	require.Equal(t, 12.5, s.OnAppend(1, 12.5).YMax)
	a := s.OnAppend(2, -40)
	require.Equal(t, 12.5, a.YMax)
	require.Equal(t, 0.0, a.YMin)
}

func TestScalerReset(t *testing.T) {
	s := NewScaler()
	s.OnAppend(80, 99)
	s.Reset()
	require.Equal(t, telemetry.InitialAxis(), s.Axis())
}

// Runs a series and a scaler together across several epochs and checks that
// XMax and YMax never shrink except on reset.
func TestAxisMonotonicAcrossEpochs(t *testing.T) {
	series, scaler := NewSeries(100), NewScaler()
	prev := scaler.Axis()
	for i := 0; i < 350; i++ {
		v := float64((i * 37) % 23)
		tick, reset := series.Append(v)
		if reset {
			scaler.Reset()
		}
		a := scaler.OnAppend(tick, v)
		require.LessOrEqual(t, a.XMin, a.XMax)
		require.LessOrEqual(t, a.YMin, a.YMax)
		if !reset {
			require.GreaterOrEqual(t, a.XMax, prev.XMax, "i=%d", i)
			require.GreaterOrEqual(t, a.YMax, prev.YMax, "i=%d", i)
		} else {
			require.Equal(t, telemetry.InitialXMax, a.XMax)
			require.Equal(t, telemetry.InitialXMin, a.XMin)
		}
		prev = a
	}
}

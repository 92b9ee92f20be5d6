package sensing

import "github.com/ericogr/emfsense/pkg/telemetry"

// Scaler widens the visible axis as samples arrive. Bounds only grow;
// Reset is the only way back to the initial window.
type Scaler struct {
	axis telemetry.Axis
}

func NewScaler() *Scaler {
	return &Scaler{axis: telemetry.InitialAxis()}
}

// OnAppend applies one sample. Past the right edge XMax jumps to the tick
// while XMin creeps by a single unit, so the window narrows over time.
func (s *Scaler) OnAppend(tick int64, value float64) telemetry.Axis {
	if t := float64(tick); t > s.axis.XMax {
		s.axis.XMax = t
		s.axis.XMin++
	}
	if value > s.axis.YMax {
		s.axis.YMax = value
	}
	return s.axis
}

func (s *Scaler) Reset() { s.axis = telemetry.InitialAxis() }

func (s *Scaler) Axis() telemetry.Axis { return s.axis }

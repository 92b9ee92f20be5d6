package telemetry

import (
	"fmt"
	"strings"
)

// Mode is the operating regime of the probe. It selects the feedback
// formula and the log routing and never changes during a session.
type Mode int

const (
	LF Mode = iota
	HF
)

func (m Mode) String() string {
	switch m {
	case LF:
		return "lf"
	case HF:
		return "hf"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

func (m Mode) Valid() bool { return m == LF || m == HF }

// ParseMode accepts "lf" or "hf" in any case.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lf":
		return LF, nil
	case "hf":
		return HF, nil
	}
	return 0, fmt.Errorf("invalid mode %q (want lf|hf)", s)
}

func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid mode %d", int(m))
	}
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Palette holds the chart colors for a mode: LF draws amber over crimson,
// HF the other way around.
type Palette struct {
	Line    string `json:"line"`
	Surface string `json:"surface"`
}

const (
	colorAmber   = "#f9b200"
	colorCrimson = "#b5123c"
)

func (m Mode) Palette() Palette {
	if m == LF {
		return Palette{Line: colorAmber, Surface: colorCrimson}
	}
	return Palette{Line: colorCrimson, Surface: colorAmber}
}

type Sample struct {
	Tick  int64   `json:"tick"`
	Value float64 `json:"value"`
}

// Axis is the visible chart window.
type Axis struct {
	XMin float64 `json:"x_min"`
	XMax float64 `json:"x_max"`
	YMin float64 `json:"y_min"`
	YMax float64 `json:"y_max"`
}

const (
	InitialXMin = 0.0
	InitialXMax = 50.0
	InitialYMin = 0.0
	InitialYMax = 10.0
)

func InitialAxis() Axis {
	return Axis{XMin: InitialXMin, XMax: InitialXMax, YMin: InitialYMin, YMax: InitialYMax}
}

// Frame is what a renderer gets after every consumed sample. Series is a
// copy owned by the receiver.
type Frame struct {
	Mode    Mode     `json:"mode"`
	Palette Palette  `json:"palette"`
	Axis    Axis     `json:"axis"`
	Series  []Sample `json:"series"`
	Reset   bool     `json:"reset,omitempty"`
}

// Last returns the most recent sample of the frame.
func (f Frame) Last() (Sample, bool) {
	if len(f.Series) == 0 {
		return Sample{}, false
	}
	return f.Series[len(f.Series)-1], true
}

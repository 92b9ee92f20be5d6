package console

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ericogr/emfsense/pkg/output"
	"github.com/ericogr/emfsense/pkg/telemetry"
)

// ConsoleRenderer prints one line per rendered frame, tagged with the mode
// in the chart colors of that mode.
type ConsoleRenderer struct {
	w     io.Writer
	lip   *lipgloss.Renderer
	every int
	n     int
}

// NewConsole renders every frame to stdout.
func NewConsole() output.Renderer { return NewRenderer(os.Stdout, 1) }

// NewRenderer prints every n-th frame to w. Frames that reset the series
// are always printed.
func NewRenderer(w io.Writer, every int) *ConsoleRenderer {
	if every < 1 {
		every = 1
	}
	return &ConsoleRenderer{w: w, lip: lipgloss.NewRenderer(w), every: every}
}

func (c *ConsoleRenderer) Refresh(f telemetry.Frame) error {
	c.n++
	if !f.Reset && (c.n-1)%c.every != 0 {
		return nil
	}
	last, ok := f.Last()
	if !ok {
		return nil
	}
	pal := f.Palette
	tag := c.lip.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color(pal.Line)).
		Background(lipgloss.Color(pal.Surface)).
		Render("[" + f.Mode.String() + "]")
	suffix := ""
	if f.Reset {
		suffix = " reset"
	}
	_, err := fmt.Fprintf(c.w, "%s tick=%d value=%.4f x=[%g,%g] y=[%g,%g]%s\n",
		tag, last.Tick, last.Value, f.Axis.XMin, f.Axis.XMax, f.Axis.YMin, f.Axis.YMax, suffix)
	return err
}

// Feedback is a sink for hosts without an actuator; it prints pulses.
type Feedback struct {
	w io.Writer
}

func NewFeedback(w io.Writer) *Feedback { return &Feedback{w: w} }

func (f *Feedback) Pulse(d time.Duration) error {
	if d <= 0 {
		return nil
	}
	_, err := fmt.Fprintf(f.w, "pulse %s\n", d)
	return err
}

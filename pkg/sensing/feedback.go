package sensing

import (
	"time"

	"github.com/ericogr/emfsense/pkg/telemetry"
)

// feedbackTable maps a reading to a pulse length in milliseconds. LF
// readings are small and get amplified, HF readings are attenuated.
var feedbackTable = map[telemetry.Mode]func(float64) float64{
	telemetry.LF: func(v float64) float64 { return v * 10 },
	telemetry.HF: func(v float64) float64 { return v / 5 },
}

// FeedbackMillis returns the pulse length for value in mode, or 0 for an
// unknown mode.
func FeedbackMillis(value float64, mode telemetry.Mode) float64 {
	f, ok := feedbackTable[mode]
	if !ok {
		return 0
	}
	return f(value)
}

// FeedbackDuration is FeedbackMillis truncated to a time.Duration. The
// sign is kept; sinks decide what a non-positive pulse means.
func FeedbackDuration(value float64, mode telemetry.Mode) time.Duration {
	return time.Duration(FeedbackMillis(value, mode) * float64(time.Millisecond))
}

package shared

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DateLayout is the format layout for parsing dates.
	DateLayout = "2006-01-02 15:04:05"
	// ClockLayout is the format layout for rendering signal times.
	ClockLayout = "15:04:05"
)

// DisplayLocation is the timezone signal times are rendered in (GMT-3).
var DisplayLocation = time.FixedZone("GMT-3", -3*60*60)

// Timeframe represents the duration of a candle in minutes.
type Timeframe int

const (
	OneMinute     Timeframe = 1
	FiveMinute    Timeframe = 5
	FifteenMinute Timeframe = 15
)

// SupportedTimeframes lists the timeframes the service can poll.
var SupportedTimeframes = []Timeframe{OneMinute, FiveMinute, FifteenMinute}

// String stringifies the provided timeframe.
func (t Timeframe) String() string {
	return fmt.Sprintf("M%d", int(t))
}

// Duration returns the duration of a single candle of the timeframe.
func (t Timeframe) Duration() time.Duration {
	return time.Duration(t) * time.Minute
}

// Seconds returns the candle size in seconds.
func (t Timeframe) Seconds() int {
	return int(t) * 60
}

// IsSupported checks whether the timeframe is supported.
func (t Timeframe) IsSupported() bool {
	for _, tf := range SupportedTimeframes {
		if tf == t {
			return true
		}
	}

	return false
}

// ParseTimeframe parses timeframes in the forms "5" or "M5".
func ParseTimeframe(s string) (Timeframe, error) {
	raw := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "M")
	minutes, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parsing timeframe %q: %w", s, err)
	}

	tf := Timeframe(minutes)
	if !tf.IsSupported() {
		return 0, fmt.Errorf("unsupported timeframe: %s", tf.String())
	}

	return tf, nil
}

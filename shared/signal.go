package shared

import (
	"fmt"
	"strings"
	"time"
)

const (
	// MinConfidence is the lowest confidence rating of a signal.
	MinConfidence = 1
	// MaxConfidence is the highest confidence rating of a signal.
	MaxConfidence = 5
)

// Signal represents a directional trade signal for a market.
type Signal struct {
	Market     string
	Timeframe  Timeframe
	Direction  Direction
	EntryTime  time.Time
	ExpiryTime time.Time
	MG1Time    time.Time
	Reasons    []Reason
	Rationale  string
	Confidence int
	// Retry marks a martingale follow-up entry of an earlier signal.
	Retry bool
}

// NewSignal initializes a new signal entering at the provided time and
// expiring after the provided number of candles. The martingale retry time
// is one candle after expiry.
func NewSignal(market string, timeframe Timeframe, direction Direction, entry time.Time,
	expiryCandles int, reasons []Reason, rationale string, confidence int) Signal {
	entry = entry.UTC().Truncate(time.Second)
	expiry := entry.Add(timeframe.Duration() * time.Duration(expiryCandles))

	return Signal{
		Market:     market,
		Timeframe:  timeframe,
		Direction:  direction,
		EntryTime:  entry,
		ExpiryTime: expiry,
		MG1Time:    expiry.Add(timeframe.Duration()),
		Reasons:    reasons,
		Rationale:  rationale,
		Confidence: confidence,
	}
}

// Key returns the identity of the signal used for deduplication.
func (s *Signal) Key() string {
	return fmt.Sprintf("%s-%s-%d-%s", s.Market, s.Timeframe.String(),
		s.EntryTime.Unix(), s.Direction.String())
}

// Render formats the signal as an HTML notification message.
func (s *Signal) Render() string {
	icon := "✅ CALL"
	if s.Direction == Put {
		icon = "🔻 PUT"
	}

	var b strings.Builder
	b.WriteString("🕒 ")
	b.WriteString(s.EntryTime.In(DisplayLocation).Format("15:04"))
	b.WriteString(" GMT-3\n")
	fmt.Fprintf(&b, "<b>%s | %s</b>\n", s.Market, s.Timeframe.String())
	fmt.Fprintf(&b, "%s | Força: %s\n", icon, strings.Repeat("⭐", s.Confidence))
	fmt.Fprintf(&b, "⏱ Expira: %s\n", s.ExpiryTime.In(DisplayLocation).Format(ClockLayout))
	fmt.Fprintf(&b, "🎯 MG1: %s", s.MG1Time.In(DisplayLocation).Format(ClockLayout))

	if s.Rationale != "" {
		b.WriteString("\n\n🔍 ")
		b.WriteString(s.Rationale)
	}

	return b.String()
}

// ReportLine formats the signal as a batch report line: label;time;direction[;GALE1].
func (s *Signal) ReportLine() string {
	line := fmt.Sprintf("%s-%s;%s;%s", s.Market, s.Timeframe.String(),
		s.EntryTime.In(DisplayLocation).Format(ClockLayout), s.Direction.String())
	if s.Retry {
		line += ";GALE1"
	}

	return line
}

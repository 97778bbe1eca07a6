package tokens

import (
	"math"
	"time"

	"github.com/coder/cmux-sub012/streaming"
)

// DefaultWindow is the trailing window for throughput measurement.
const DefaultWindow = 10 * time.Second

// DeltaRecord is one timestamped unit of tracked output used for
// throughput measurement.
type DeltaRecord struct {
	// Tokens is the heuristic token count of the delta.
	Tokens int

	// TimestampMS is the arrival time in Unix milliseconds.
	TimestampMS int64

	// Kind is the content channel the delta arrived on.
	Kind streaming.DeltaKind
}

// CalculateTPS returns the tokens-per-second rate over the trailing
// DefaultWindow ending at nowMS. Deltas older than the window are
// ignored; with no deltas in the window the rate is 0. This is
// deliberately a trailing-window rate, not a lifetime average, so it
// reflects current generation speed.
func CalculateTPS(deltas []DeltaRecord, nowMS int64) int {
	return calculateTPS(deltas, nowMS, DefaultWindow)
}

func calculateTPS(deltas []DeltaRecord, nowMS int64, window time.Duration) int {
	cutoffMS := nowMS - window.Milliseconds()

	total := 0
	var earliestMS int64 = -1
	for _, d := range deltas {
		if d.TimestampMS < cutoffMS || d.TimestampMS > nowMS {
			continue
		}
		total += d.Tokens
		if earliestMS < 0 || d.TimestampMS < earliestMS {
			earliestMS = d.TimestampMS
		}
	}

	if earliestMS < 0 {
		return 0
	}
	elapsed := float64(nowMS-earliestMS) / 1000
	if elapsed <= 0 {
		// A single delta at the measurement instant has no measurable rate.
		return 0
	}
	return int(math.Round(float64(total) / elapsed))
}

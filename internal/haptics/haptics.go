// Package haptics holds the timing constants and intensity rounding rules shared by
// the sender, the receiver and the recording format.
package haptics

import (
	"math"
	"time"
)

const (
	// PersistDuration is how long an output stays active without updates.
	PersistDuration = 15 * time.Second
	// Tick is the minimum spacing between haptics updates (60 per second).
	Tick = time.Second / 60
	// DefaultPort is the protocol port used when an address omits one.
	DefaultPort = 7837
	// Precision is the number of decimal places kept for intensities and time deltas.
	Precision = 6
	// MediaSyncInterval is how often media players are synced while playing back.
	MediaSyncInterval = 500 * time.Millisecond
)

// TickSeconds is Tick expressed in seconds.
const TickSeconds = 1.0 / 60

// PersistSeconds is PersistDuration expressed in seconds.
const PersistSeconds = 15.0

var scale = math.Pow10(Precision)

// Round rounds v to Precision decimal places.
func Round(v float64) float64 {
	return math.Round(v*scale) / scale
}

// Clamp rounds v and limits it to the [0,1] intensity range. NaN becomes 0.
func Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(1, math.Max(0, Round(v)))
}

// CapIntensities returns a rounded and clamped copy of values.
func CapIntensities(values []float64) []float64 {
	if values == nil {
		return nil
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = Clamp(v)
	}
	return out
}

// Equal reports whether two intensity vectors hold the same values.
func Equal(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Seconds converts fractional seconds to a time.Duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

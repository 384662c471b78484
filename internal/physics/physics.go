// Package physics turns a stream of haptics intensities into strong/weak
// actuator levels that react sharply to transients and settle on their own.
package physics

import (
	"math"

	"github.com/digitalcircuit/remote-haptics/internal/haptics"
)

const (
	averageBaseWeight = 0.75
	averageSnap       = 0.001
	impactBoostAbove  = 250
	impactBoostScale  = 0.2
	impactBoostMax    = 7
	boostSnap         = 0.01
	weakReduction     = 0.5
	// minStep keeps the rate finite when two updates share a timestamp.
	minStep = 0.001
)

// State is the smoothing state of one output channel.
type State struct {
	Previous float64
	Average  float64
	Impact   float64
	Boost    float64
}

// Output is a pair of actuator levels in [0,1].
type Output struct {
	Strong float64
	Weak   float64
}

// Step feeds value v observed dt seconds after the previous update. It returns
// the actuator levels and whether the state has not yet settled, in which case
// Step should be called again one tick later with the same value.
//
// A gap longer than the persistence window starts a fresh episode: the
// average and impact are left untouched.
func (s *State) Step(v, dt float64) (Output, bool) {
	dt = math.Max(dt, minStep)
	ratio := dt / haptics.TickSeconds
	fresh := dt > haptics.PersistSeconds

	if !fresh {
		w := averageBaseWeight + ratio
		s.Average = v*w + s.Average*(1-w)
	}
	avgDelta := math.Abs(v - s.Average)
	if avgDelta < averageSnap {
		s.Average = v
		avgDelta = 0
	}

	if !fresh {
		rate := math.Abs(v-s.Previous) / ratio
		s.Impact = math.Pow(rate+avgDelta, 3)
		if s.Impact > impactBoostAbove {
			s.Boost = math.Min(impactBoostMax, s.Impact*impactBoostScale*ratio)
		} else {
			s.Boost = math.Max(0, s.Boost-ratio/2)
			if s.Boost < boostSnap {
				s.Boost = 0
			}
		}
		if s.Boost > 0 {
			s.Impact = math.Max(1, s.Impact)
		}
	}

	strong := math.Min(1, math.Max(0, s.Impact))
	out := Output{
		Strong: strong,
		Weak:   math.Max(0, v-strong*weakReduction),
	}
	s.Previous = v
	return out, s.Impact > 0 || s.Boost > 0 || avgDelta > 0
}

// Combine reduces an intensity vector to the single value driving a channel.
// Values at inputs are averaged; values at overrides skip the average and
// raise the result to their maximum. ok is false when no index is present.
func Combine(values []float64, inputs, overrides []int) (value float64, ok bool) {
	matches := 0
	for _, i := range inputs {
		if i >= 0 && i < len(values) {
			value += values[i]
			matches++
		}
	}
	if matches == 0 {
		for _, i := range overrides {
			if i >= 0 && i < len(values) {
				matches = 1
				break
			}
		}
	}
	if matches == 0 {
		return 0, false
	}
	value /= float64(matches)
	for _, i := range overrides {
		if i >= 0 && i < len(values) {
			value = math.Max(value, values[i])
		}
	}
	return value, true
}

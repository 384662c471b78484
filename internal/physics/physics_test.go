package physics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/digitalcircuit/remote-haptics/internal/haptics"
)

const fresh = 2 * haptics.PersistSeconds

func TestStepImpactDecays(t *testing.T) {
	var s State
	out, settling := s.Step(0, fresh)
	assert.Equal(t, Output{}, out)
	assert.False(t, settling)

	out, settling = s.Step(1, haptics.TickSeconds)
	assert.Equal(t, Output{Strong: 1, Weak: 0.5}, out)
	assert.True(t, settling)

	prev := 1.0
	steps := 0
	for settling {
		out, settling = s.Step(0, haptics.TickSeconds)
		require.LessOrEqual(t, out.Strong, prev, "step %d", steps)
		assert.Zero(t, out.Weak)
		prev = out.Strong
		steps++
		require.Less(t, steps, 100, "state never settled")
	}
	assert.Zero(t, out.Strong)
	assert.Zero(t, s.Impact)
	assert.Zero(t, s.Boost)
}

func TestStepFreshEpisodeKeepsImpact(t *testing.T) {
	s := State{Previous: 0.2, Average: 0.2, Impact: 0.5}
	out, settling := s.Step(0.8, fresh)
	assert.Equal(t, 0.5, s.Impact)
	assert.Equal(t, 0.2, s.Average)
	assert.Equal(t, 0.5, out.Strong)
	assert.InDelta(t, 0.55, out.Weak, 1e-9)
	assert.True(t, settling)
	assert.Equal(t, 0.8, s.Previous)
}

func TestStepSteadyInputSettles(t *testing.T) {
	var s State
	s.Step(0.5, fresh)
	var out Output
	settling := true
	for i := 0; settling; i++ {
		require.Less(t, i, 100)
		out, settling = s.Step(0.5, haptics.TickSeconds)
	}
	assert.Equal(t, Output{Strong: 0, Weak: 0.5}, out)
	assert.Equal(t, 0.5, s.Average)
}

func TestStepSharpRiseBoosts(t *testing.T) {
	var s State
	out, _ := s.Step(1, 0.002)
	assert.Equal(t, 1.0, out.Strong)
	assert.Equal(t, float64(impactBoostMax), s.Boost)

	// Boost holds strong at full level while it drains.
	out, settling := s.Step(1, haptics.TickSeconds)
	assert.Equal(t, 1.0, out.Strong)
	assert.True(t, settling)
}

func TestStepSameTimestamp(t *testing.T) {
	var s State
	s.Step(0.3, haptics.TickSeconds)
	out, _ := s.Step(0.3, 0)
	assert.False(t, math.IsNaN(out.Strong))
	assert.GreaterOrEqual(t, out.Strong, 0.0)
	assert.LessOrEqual(t, out.Strong, 1.0)
}

// Property: outputs always lie in [0,1] regardless of input history.
func TestStepOutputRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var s State
		n := rapid.IntRange(1, 50).Draw(t, "steps")
		for i := 0; i < n; i++ {
			v := rapid.Float64Range(0, 1).Draw(t, "v")
			dt := rapid.SampledFrom([]float64{haptics.TickSeconds, 0.002, 0.5, fresh}).Draw(t, "dt")
			out, _ := s.Step(v, dt)
			if out.Strong < 0 || out.Strong > 1 || out.Weak < 0 || out.Weak > 1 {
				t.Fatalf("step %d: output %+v out of range", i, out)
			}
		}
	})
}

func TestCombine(t *testing.T) {
	values := []float64{0.2, 0.4, 0.9}
	tests := []struct {
		name      string
		inputs    []int
		overrides []int
		want      float64
		ok        bool
	}{
		{"single input", []int{1}, nil, 0.4, true},
		{"averaged inputs", []int{0, 1}, nil, 0.3, true},
		{"override raises", []int{0}, []int{2}, 0.9, true},
		{"override below average", []int{2}, []int{0}, 0.9, true},
		{"override only", nil, []int{1}, 0.4, true},
		{"missing indices ignored", []int{0, 7}, nil, 0.2, true},
		{"no matching index", []int{5}, []int{6}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Combine(values, tt.inputs, tt.overrides)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

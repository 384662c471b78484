package physics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/digitalcircuit/remote-haptics/internal/haptics"
)

type recordingActuator struct {
	mu    sync.Mutex
	calls []Output
}

func (a *recordingActuator) Rumble(strong, weak float64, d time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, Output{Strong: strong, Weak: weak})
	return nil
}

func (a *recordingActuator) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

func (a *recordingActuator) last() Output {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[len(a.calls)-1]
}

// newTestMapper returns a mapper whose clock advances exactly one tick per
// update while its timer fires every millisecond.
func newTestMapper(inputs, overrides []int, actuators ...Actuator) *Mapper {
	m := NewMapper("test", inputs, overrides, actuators, zap.NewNop())
	var mu sync.Mutex
	clock := time.Date(2022, 5, 27, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(haptics.Tick)
		return clock
	}
	m.tick = time.Millisecond
	return m
}

func TestMapperSettlesAfterUpdate(t *testing.T) {
	act := &recordingActuator{}
	m := newTestMapper([]int{0}, nil, act)

	m.Parse([]float64{0.5})
	assert.Equal(t, Output{Strong: 0, Weak: 0.5}, act.last())
	assert.True(t, m.Settling())

	require.Eventually(t, func() bool { return !m.Settling() }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, Output{Strong: 0, Weak: 0.5}, m.Output())
	assert.Greater(t, act.count(), 2)
}

func TestMapperInterrupts(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
	}{
		{"nil", nil},
		{"empty", []float64{}},
		{"no matching index", []float64{0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			act := &recordingActuator{}
			m := newTestMapper([]int{1}, nil, act)
			m.Parse([]float64{0.1, 1})
			require.Equal(t, 1.0, act.last().Weak)

			m.Parse(tt.values)
			assert.Equal(t, Output{}, act.last())
			assert.False(t, m.Settling())
			assert.Equal(t, State{}, m.state)
			assert.True(t, m.prevTime.IsZero())
		})
	}
}

func TestMapperStopDisarmsTimer(t *testing.T) {
	act := &recordingActuator{}
	m := newTestMapper([]int{0}, nil, act)
	m.tick = 50 * time.Millisecond

	m.Parse([]float64{1})
	require.True(t, m.Settling())
	m.Stop()
	calls := act.count()

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, calls, act.count())
	assert.Equal(t, Output{}, act.last())
}

func TestMapperLogsActuatorErrors(t *testing.T) {
	failing := ActuatorFunc(func(strong, weak float64, d time.Duration) error {
		return errors.New("device unplugged")
	})
	act := &recordingActuator{}
	m := newTestMapper([]int{0}, nil, failing, act)
	m.Parse([]float64{0.25})
	m.Stop()
	assert.Equal(t, 2, act.count())
}

package physics

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/digitalcircuit/remote-haptics/internal/haptics"
)

// Actuator drives one force-feedback device.
type Actuator interface {
	Rumble(strong, weak float64, duration time.Duration) error
}

// ActuatorFunc adapts a function to Actuator.
type ActuatorFunc func(strong, weak float64, duration time.Duration) error

func (f ActuatorFunc) Rumble(strong, weak float64, duration time.Duration) error {
	return f(strong, weak, duration)
}

// Mapper feeds the configured indices of incoming intensity vectors through
// the smoothing State and applies the result to its actuators. While the state
// settles it re-runs itself every tick with the last value.
type Mapper struct {
	name      string
	inputs    []int
	overrides []int
	actuators []Actuator
	log       *zap.Logger
	now       func() time.Time
	tick      time.Duration

	mu       sync.Mutex
	state    State
	prevTime time.Time
	timer    *time.Timer
	gen      uint64
	last     Output
}

// NewMapper creates a mapper named after its output device.
func NewMapper(name string, inputs, overrides []int, actuators []Actuator, log *zap.Logger) *Mapper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Mapper{
		name:      name,
		inputs:    inputs,
		overrides: overrides,
		actuators: actuators,
		log:       log,
		now:       time.Now,
		tick:      haptics.Tick,
	}
}

// Name returns the output device name.
func (m *Mapper) Name() string { return m.name }

// Parse updates the mapper with a new intensity vector. A nil or empty vector,
// or one containing none of the mapped indices, turns the outputs off.
func (m *Mapper) Parse(values []float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(values) == 0 {
		m.interruptLocked()
		return
	}
	value, ok := Combine(values, m.inputs, m.overrides)
	if !ok {
		m.log.Error("no matching haptics inputs",
			zap.String("device", m.name),
			zap.Int("input_count", len(values)),
			zap.Ints("inputs", m.inputs),
			zap.Ints("overrides", m.overrides))
		m.interruptLocked()
		return
	}
	m.updateLocked(value)
}

// Stop turns the outputs off and cancels any pending tick.
func (m *Mapper) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interruptLocked()
}

// Settling reports whether a tick is pending.
func (m *Mapper) Settling() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timer != nil
}

// Output returns the last levels applied.
func (m *Mapper) Output() Output {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func (m *Mapper) interruptLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.gen++
	m.state = State{}
	m.prevTime = time.Time{}
	m.applyLocked(Output{})
}

func (m *Mapper) updateLocked(value float64) {
	now := m.now()
	dt := 2 * haptics.PersistSeconds
	if !m.prevTime.IsZero() {
		dt = now.Sub(m.prevTime).Seconds()
	}
	out, settling := m.state.Step(value, dt)
	m.applyLocked(out)
	m.prevTime = now

	if settling && m.timer == nil {
		gen := m.gen
		m.timer = time.AfterFunc(m.tick, func() { m.onTick(gen) })
	}
}

func (m *Mapper) onTick(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	m.timer = nil
	m.updateLocked(m.state.Previous)
}

func (m *Mapper) applyLocked(out Output) {
	m.last = out
	for _, a := range m.actuators {
		if err := a.Rumble(out.Strong, out.Weak, haptics.PersistDuration); err != nil {
			m.log.Warn("rumble failed", zap.String("device", m.name), zap.Error(err))
		}
	}
}

// LogActuator reports levels to a logger instead of a device.
type LogActuator struct {
	Device string
	Log    *zap.Logger
}

func (a LogActuator) Rumble(strong, weak float64, duration time.Duration) error {
	a.Log.Debug("rumble",
		zap.String("device", a.Device),
		zap.Float64("strong", strong),
		zap.Float64("weak", weak),
		zap.Duration("duration", duration))
	return nil
}

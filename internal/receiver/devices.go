package receiver

import (
	"go.uber.org/zap"

	"github.com/digitalcircuit/remote-haptics/config"
	"github.com/digitalcircuit/remote-haptics/internal/physics"
)

// ActuatorFactory returns the actuator driving one configured output.
type ActuatorFactory func(out config.Output) physics.Actuator

// LogActuators reports output levels to log instead of driving devices.
func LogActuators(log *zap.Logger) ActuatorFactory {
	if log == nil {
		log = zap.NewNop()
	}
	return func(out config.Output) physics.Actuator {
		return physics.LogActuator{Device: out.Label(), Log: log}
	}
}

// MappersFromDevices builds one feedback mapper per configured output, in
// the order of d. A nil d yields no mappers.
func MappersFromDevices(d *config.Devices, actuators ActuatorFactory, log *zap.Logger) []*physics.Mapper {
	if d == nil {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	if actuators == nil {
		actuators = LogActuators(log)
	}
	mappers := make([]*physics.Mapper, 0, len(d.Outputs))
	for _, out := range d.Outputs {
		mappers = append(mappers, physics.NewMapper(
			out.Label(),
			out.Inputs,
			out.Override,
			[]physics.Actuator{actuators(out)},
			log.With(zap.String("device", out.Device)),
		))
		log.Info("output device configured",
			zap.String("device", out.Device),
			zap.String("name", out.Label()),
			zap.Ints("inputs", out.Inputs),
			zap.Ints("override", out.Override),
		)
	}
	return mappers
}

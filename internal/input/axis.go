package input

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Absolute axis codes from linux/input-event-codes.h.
const (
	AbsX     uint16 = 0x00
	AbsY     uint16 = 0x01
	AbsZ     uint16 = 0x02
	AbsRZ    uint16 = 0x05
	AbsGas   uint16 = 0x09
	AbsBrake uint16 = 0x0a
)

// AxisMax is the full-scale value of triggers and pedals.
const AxisMax = 0xff

// AxisEvent is one absolute axis change.
type AxisEvent struct {
	Code  uint16
	Value int32
}

// AxisReader blocks until the next absolute axis event of a device.
type AxisReader interface {
	ReadAxis(ctx context.Context) (AxisEvent, error)
}

// Layout selects which axes a device reports and in which order.
type Layout int

const (
	// LayoutTriggers reports [left, right] analog triggers.
	LayoutTriggers Layout = iota
	// LayoutPedals reports [brake, clutch, gas] pedals.
	LayoutPedals
)

// ParseLayout accepts "triggers" and "pedals".
func ParseLayout(s string) (Layout, error) {
	switch s {
	case "triggers", "analog_triggers":
		return LayoutTriggers, nil
	case "pedals", "analog_pedals":
		return LayoutPedals, nil
	default:
		return 0, fmt.Errorf("unknown axis layout %q", s)
	}
}

// axisCodes lists, per output slot, the codes that drive it.
func (l Layout) axisCodes() [][]uint16 {
	if l == LayoutPedals {
		return [][]uint16{
			{AbsY, AbsBrake},
			{AbsZ},
			{AbsX, AbsGas},
		}
	}
	return [][]uint16{
		{AbsZ, AbsBrake},
		{AbsRZ, AbsGas},
	}
}

// AxisSource reports the peak of each axis since the previous retrieval, so
// quick taps between two retrievals are not lost.
type AxisSource struct {
	name   string
	reader AxisReader
	order  int
	slots  [][]uint16

	mu    sync.Mutex
	value []int32
	peak  []int32
}

// NewAxisSource reads events of one device arranged by layout.
func NewAxisSource(name string, layout Layout, r AxisReader, order int) *AxisSource {
	slots := layout.axisCodes()
	return &AxisSource{
		name:   name,
		reader: r,
		order:  order,
		slots:  slots,
		value:  make([]int32, len(slots)),
		peak:   make([]int32, len(slots)),
	}
}

func (s *AxisSource) Order() int { return s.order }

func (s *AxisSource) Run(ctx context.Context) error {
	for {
		ev, err := s.reader.ReadAxis(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read %s: %w", s.name, err)
		}
		s.update(ev)
	}
}

func (s *AxisSource) update(ev AxisEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, codes := range s.slots {
		for _, c := range codes {
			if c == ev.Code {
				s.value[i] = ev.Value
				s.peak[i] = max(s.peak[i], ev.Value)
				return
			}
		}
	}
}

func (s *AxisSource) Retrieve() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, len(s.peak))
	for i := range s.peak {
		out[i] = float64(s.peak[i]) / AxisMax
		s.peak[i] = s.value[i]
	}
	return out
}

package input

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const (
	evAbs = 0x03
	// inputEventSize is sizeof(struct input_event) on 64-bit Linux.
	inputEventSize = 24
)

// EventReader decodes absolute axis events from a Linux event device
// (/dev/input/eventN) or any stream of input_event records.
type EventReader struct {
	r   io.Reader
	buf [inputEventSize]byte
}

// NewEventReader reads input_event records from r.
func NewEventReader(r io.Reader) *EventReader {
	return &EventReader{r: r}
}

// OpenEventDevice opens an event device for reading. Closing the returned
// file ends ReadAxis with an error.
func OpenEventDevice(path string) (*EventReader, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open input device: %w", err)
	}
	return NewEventReader(f), f, nil
}

// ReadAxis skips non-absolute events. Cancellation takes effect once the
// underlying reader returns, so callers close the device on cancel.
func (e *EventReader) ReadAxis(ctx context.Context) (AxisEvent, error) {
	for {
		if err := ctx.Err(); err != nil {
			return AxisEvent{}, err
		}
		if _, err := io.ReadFull(e.r, e.buf[:]); err != nil {
			return AxisEvent{}, err
		}
		typ := binary.LittleEndian.Uint16(e.buf[16:18])
		if typ != evAbs {
			continue
		}
		return AxisEvent{
			Code:  binary.LittleEndian.Uint16(e.buf[18:20]),
			Value: int32(binary.LittleEndian.Uint32(e.buf[20:24])),
		}, nil
	}
}

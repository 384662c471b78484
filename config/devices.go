package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// reloadDelay coalesces the burst of events an editor produces on save.
const reloadDelay = 200 * time.Millisecond

// ErrNoDevices is returned along with an empty mapping when a device file
// configures no outputs. It is a warning: the receiver runs without outputs.
var ErrNoDevices = errors.New("no output devices configured")

// Output maps haptics input indices to one output device.
type Output struct {
	// Device identifies the actuator, for example an event device path.
	Device string `toml:"device"`
	Name   string `toml:"name"`
	// Inputs are averaged to drive the output.
	Inputs []int `toml:"inputs"`
	// Override indices skip averaging and raise the output to their maximum.
	Override []int `toml:"override"`
	Order    int   `toml:"order"`
}

// Label returns the display name of the output.
func (o Output) Label() string {
	if o.Name != "" {
		return o.Name
	}
	return o.Device
}

// Devices is the output device mapping file.
type Devices struct {
	Outputs []Output `toml:"output"`
}

// LoadDevices reads and validates a device mapping file. Outputs are sorted
// by order. A file without outputs yields an empty mapping and ErrNoDevices.
func LoadDevices(path string) (*Devices, error) {
	var d Devices
	meta, err := toml.DecodeFile(path, &d)
	if err != nil {
		return nil, fmt.Errorf("parse devices %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("devices %s: unknown key %q", path, undecoded[0].String())
	}
	if err := d.Validate(); err != nil {
		if errors.Is(err, ErrNoDevices) {
			return &Devices{}, fmt.Errorf("devices %s: %w", path, err)
		}
		return nil, fmt.Errorf("devices %s: %w", path, err)
	}
	sort.SliceStable(d.Outputs, func(i, j int) bool { return d.Outputs[i].Order < d.Outputs[j].Order })
	return &d, nil
}

// Validate checks that every output names a device once and maps at least
// one non-negative index.
func (d *Devices) Validate() error {
	if len(d.Outputs) == 0 {
		return ErrNoDevices
	}
	seen := make(map[string]bool, len(d.Outputs))
	for i, o := range d.Outputs {
		if o.Device == "" {
			return fmt.Errorf("output %d: missing device", i+1)
		}
		if seen[o.Device] {
			return fmt.Errorf("output %q configured twice", o.Device)
		}
		seen[o.Device] = true
		if len(o.Inputs)+len(o.Override) == 0 {
			return fmt.Errorf("output %q: no inputs", o.Device)
		}
		for _, idx := range append(append([]int{}, o.Inputs...), o.Override...) {
			if idx < 0 {
				return fmt.Errorf("output %q: negative input index %d", o.Device, idx)
			}
		}
	}
	return nil
}

const sampleDevices = `# Output device mapping for the haptics receiver.
#
# inputs:   haptics input indices, averaged to drive the device
# override: indices excluded from averaging, raising the output to their value
# order:    position in status listings

[[output]]
device = "/dev/input/by-id/usb-gamepad-event-joystick"
name = "Gamepad"
inputs = [0, 1]
override = []
order = 0
`

// WriteSampleDevices writes an example mapping file, creating its directory.
func WriteSampleDevices(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleDevices), 0o644); err != nil {
		return fmt.Errorf("write sample devices: %w", err)
	}
	return nil
}

// WatchDevices calls onChange with the new mapping each time the file at
// path changes, until ctx is done. Invalid files are logged and skipped; a
// file without outputs is delivered as an empty mapping.
func WatchDevices(ctx context.Context, path string, onChange func(*Devices), log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors often replace the file, so the directory is watched.
	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	var (
		timer  *time.Timer
		reload <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDelay)
			} else {
				timer.Reset(reloadDelay)
			}
			reload = timer.C

		case <-reload:
			reload = nil
			devices, err := LoadDevices(path)
			if errors.Is(err, ErrNoDevices) {
				log.Warn("device file has no outputs", zap.String("path", path))
				onChange(devices)
				continue
			}
			if err != nil {
				log.Warn("ignoring invalid device file", zap.String("path", path), zap.Error(err))
				continue
			}
			log.Info("device file changed", zap.String("path", path), zap.Int("outputs", len(devices.Outputs)))
			onChange(devices)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("device file watcher", zap.Error(err))
		}
	}
}

// Package recording reads, writes and merges haptics session recordings.
//
// A recording is a UTF-8 text file:
//
//	RemoteHapticsRecording:0.1
//	@session_start:2022-05-27 23:28:57.104000+00:00
//	# timestamp = 2022-05-27 23:28:57.120000+00:00
//	0.016:0.301961,1
//	42.1337:text=a remark, may contain : and =
//	43.0:media=@player1:-5.4321:/path/to/music.mp3
//	60.5:media=stop
//	@session_end:2022-05-27 23:29:58.000000+00:00
package recording

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/digitalcircuit/remote-haptics/internal/haptics"
)

const (
	// HeaderVersion is the first line of every recording.
	HeaderVersion = "RemoteHapticsRecording:0.1"
	// Extension is the file extension used for recordings.
	Extension = ".rec"
	// TimestampLayout formats absolute timestamps in headers, footers and comments.
	TimestampLayout = "2006-01-02 15:04:05.000000-07:00"

	headerStart   = "@session_start:"
	footerEnd     = "@session_end:"
	commentPrefix = "#"
	remarkPrefix  = "text="
	mediaPrefix   = "media="
	mediaStopCmd  = "stop"
)

var (
	// ErrInvalidHeader is returned when a file does not start with a valid recording header.
	ErrInvalidHeader = errors.New("invalid recording header")
	// ErrInvalidEntry is returned for an entry line that cannot be parsed.
	ErrInvalidEntry = errors.New("invalid recording entry")
)

var timestampLayouts = []string{
	TimestampLayout,
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
}

// FormatTimestamp renders t in UTC with microsecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a header, footer or comment timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q", s)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(haptics.Round(v), 'f', -1, 64)
}

// FormatValues joins intensities the way they appear on the wire and on disk.
func FormatValues(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = formatFloat(v)
	}
	return strings.Join(parts, ",")
}

// FormatEntry renders e as a single line, without the trailing newline.
func FormatEntry(e Entry) string {
	delta := formatFloat(e.TimeDelta())
	switch e := e.(type) {
	case Inputs:
		return delta + ":" + FormatValues(e.Values)
	case Remark:
		return delta + ":" + remarkPrefix + e.Text
	case MediaStop:
		return delta + ":" + mediaPrefix + mediaMarker(e.MediaID()) + mediaStopCmd
	case MediaPlay:
		return delta + ":" + mediaPrefix + mediaMarker(e.MediaID()) + formatFloat(e.Offset) + ":" + e.File
	default:
		panic(fmt.Sprintf("recording: unknown entry type %T", e))
	}
}

func mediaMarker(id string) string {
	if id == DefaultMediaID {
		return ""
	}
	return "@" + id + ":"
}

// ParseEntry parses one entry line of a recording started at start.
func ParseEntry(start time.Time, line string) (Entry, error) {
	line = strings.TrimRight(line, "\r\n")
	rawDelta, content, ok := strings.Cut(line, ":")
	if !ok {
		return nil, fmt.Errorf("%w: missing time delta in %q", ErrInvalidEntry, line)
	}
	delta, err := strconv.ParseFloat(strings.TrimSpace(rawDelta), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: time delta %q: %v", ErrInvalidEntry, rawDelta, err)
	}
	stamp := Stamp{Start: start, Delta: delta}

	switch {
	case strings.HasPrefix(content, remarkPrefix):
		return Remark{Stamp: stamp, Text: content[len(remarkPrefix):]}, nil
	case strings.HasPrefix(content, mediaPrefix):
		return parseMedia(stamp, content[len(mediaPrefix):])
	default:
		values, err := ParseValues(content)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
		}
		return Inputs{Stamp: stamp, Values: values}, nil
	}
}

func parseMedia(stamp Stamp, payload string) (Entry, error) {
	parts := strings.Split(payload, ":")
	id := DefaultMediaID
	if strings.HasPrefix(parts[0], "@") {
		id = parts[0][1:]
		parts = parts[1:]
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: empty media command", ErrInvalidEntry)
	}
	if parts[0] == mediaStopCmd {
		return MediaStop{Stamp: stamp, ID: id}, nil
	}
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: media command %q has no file", ErrInvalidEntry, payload)
	}
	offset, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return nil, fmt.Errorf("%w: media offset %q: %v", ErrInvalidEntry, parts[0], err)
	}
	return MediaPlay{Stamp: stamp, ID: id, Offset: offset, File: strings.Join(parts[1:], ":")}, nil
}

// ParseValues parses comma-separated intensities. An empty string yields no values.
func ParseValues(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	fields := strings.Split(s, ",")
	values := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		values[i] = v
	}
	return values, nil
}

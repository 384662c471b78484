package recording

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/digitalcircuit/remote-haptics/internal/haptics"
)

// RetainWindow is how far behind the requested time RecordsUntil keeps entries.
const RetainWindow = 3.0

// Reader streams entries from a recording. It only moves forward; asking for an
// earlier time rescans the file from the header.
type Reader struct {
	path  string
	file  *os.File
	buf   *bufio.Reader
	start time.Time

	ended    bool
	done     chan struct{}
	doneOnce sync.Once

	prevUntil float64
	pending   Entry
}

// Open opens a recording and validates its header.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	r := &Reader{path: path, file: f, buf: bufio.NewReader(f), done: make(chan struct{})}
	if err := r.restart(); err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Path returns the recording file name.
func (r *Reader) Path() string { return r.path }

// Start returns the absolute session start from the header.
func (r *Reader) Start() time.Time { return r.start }

// TimeAt converts a time delta to an absolute time.
func (r *Reader) TimeAt(delta float64) time.Time {
	return r.start.Add(haptics.Seconds(delta))
}

// Done is closed once the end of the recording has been reached.
func (r *Reader) Done() <-chan struct{} { return r.done }

// Ended reports whether the reader is positioned at the end of the recording.
func (r *Reader) Ended() bool { return r.ended }

func (r *Reader) restart() error {
	if _, err := r.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind recording: %w", err)
	}
	r.buf.Reset(r.file)
	r.prevUntil = 0
	r.pending = nil
	r.ended = false

	version, err := r.buf.ReadString('\n')
	if err != nil && version == "" {
		return fmt.Errorf("%w: missing version line", ErrInvalidHeader)
	}
	if strings.TrimSpace(version) != HeaderVersion {
		return fmt.Errorf("%w: first line is %q", ErrInvalidHeader, strings.TrimSpace(version))
	}

	stamp, err := r.buf.ReadString('\n')
	if !strings.HasPrefix(stamp, headerStart) {
		if err != nil && stamp == "" {
			return fmt.Errorf("%w: missing session start", ErrInvalidHeader)
		}
		return fmt.Errorf("%w: second line is %q", ErrInvalidHeader, strings.TrimSpace(stamp))
	}
	start, err := ParseTimestamp(stamp[len(headerStart):])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	r.start = start
	return nil
}

func (r *Reader) markEnded() {
	r.ended = true
	r.doneOnce.Do(func() { close(r.done) })
}

// Next returns the next entry, or io.EOF once the footer or the end of the file is reached.
func (r *Reader) Next() (Entry, error) {
	for !r.ended {
		line, err := r.buf.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read recording: %w", err)
		}
		if line == "" && err != nil {
			r.markEnded()
			break
		}
		if strings.HasPrefix(line, footerEnd) {
			r.markEnded()
			break
		}
		if strings.HasPrefix(line, commentPrefix) || strings.TrimSpace(line) == "" {
			continue
		}
		e, perr := ParseEntry(r.start, line)
		if perr != nil {
			return nil, fmt.Errorf("%s: %w", r.path, perr)
		}
		return e, nil
	}
	return nil, io.EOF
}

// RecordsUntil returns the entries with a time delta below t that were not
// returned by the previous call, dropping those more than RetainWindow seconds
// older than t. Dropped media entries are still returned, the latest per media
// id, so that a long forward seek reports the media that should be playing.
func (r *Reader) RecordsUntil(t float64) ([]Entry, error) {
	if t < r.prevUntil {
		if err := r.restart(); err != nil {
			return nil, err
		}
	}
	r.prevUntil = t

	var records []Entry
	pruned := make(map[string]MediaEntry)

	for !r.ended && (r.pending == nil || r.pending.TimeDelta() < t) {
		if r.pending != nil {
			records = append(records, r.pending)
		}
		for len(records) > 0 && records[0].TimeDelta() < t-RetainWindow {
			if m, ok := records[0].(MediaEntry); ok {
				pruned[m.MediaID()] = m
			}
			records = records[1:]
		}

		next, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return records, err
		}
		r.pending = next
	}

	if len(pruned) > 0 {
		ids := make([]string, 0, len(pruned))
		for id := range pruned {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			records = append(records, pruned[id])
		}
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].TimeDelta() < records[j].TimeDelta()
		})
	}
	return records, nil
}

// Close releases the file and marks the reader as ended.
func (r *Reader) Close() error {
	r.markEnded()
	return r.file.Close()
}

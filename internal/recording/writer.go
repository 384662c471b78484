package recording

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/digitalcircuit/remote-haptics/internal/haptics"
)

const (
	// FlushInterval bounds how much written data can be lost on abnormal termination.
	FlushInterval = 30 * time.Second
	// DuplicateInterval is how long unchanged inputs are suppressed before being written again.
	DuplicateInterval = 10*time.Minute - haptics.PersistDuration
	// CommentInterval is the minimum spacing of absolute timestamp comments.
	CommentInterval = 60 * time.Second
)

// Writer appends haptics inputs to a new recording file.
// It is safe for concurrent use.
type Writer struct {
	mu   sync.Mutex
	path string
	file *os.File
	buf  *bufio.Writer
	now  func() time.Time

	start       time.Time
	last        []float64
	lastWritten time.Time
	lastComment time.Time
	written     bool
	closed      bool

	stop chan struct{}
	done chan struct{}
}

// Create creates (or truncates) path and writes the recording header.
func Create(path string) (*Writer, error) {
	return create(path, time.Now, FlushInterval)
}

func create(path string, now func() time.Time, flushEvery time.Duration) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	w := &Writer{
		path:  path,
		file:  f,
		buf:   bufio.NewWriter(f),
		now:   now,
		start: now().UTC(),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	if err := writeHeader(w.buf, w.start); err != nil {
		f.Close()
		return nil, err
	}
	if err := w.buf.Flush(); err != nil {
		f.Close()
		return nil, fmt.Errorf("write recording header: %w", err)
	}
	go w.flushLoop(flushEvery)
	return w, nil
}

// Path returns the file the writer appends to.
func (w *Writer) Path() string { return w.path }

// Start returns the session start written in the header.
func (w *Writer) Start() time.Time { return w.start }

// Append records values unless they repeat the previous write within DuplicateInterval.
func (w *Writer) Append(values []float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return os.ErrClosed
	}

	now := w.now().UTC()
	if w.written && haptics.Equal(values, w.last) && now.Sub(w.lastWritten) < DuplicateInterval {
		return nil
	}

	entry := Inputs{Stamp: Stamp{Start: w.start, Delta: now.Sub(w.start).Seconds()}, Values: values}
	if err := w.writeLocked(now, entry); err != nil {
		return err
	}
	w.last = append(w.last[:0], values...)
	w.lastWritten = now
	w.written = true
	return nil
}

// WriteEntry appends e with its own time delta. Duplicates are not suppressed.
func (w *Writer) WriteEntry(e Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return os.ErrClosed
	}
	return w.writeLocked(w.now().UTC(), e)
}

func (w *Writer) writeLocked(now time.Time, e Entry) error {
	if w.lastComment.IsZero() || now.Sub(w.lastComment) >= CommentInterval {
		if _, err := fmt.Fprintf(w.buf, "%s timestamp = %s\n", commentPrefix, FormatTimestamp(now)); err != nil {
			return fmt.Errorf("write timestamp comment: %w", err)
		}
		w.lastComment = now
	}
	if _, err := io.WriteString(w.buf, FormatEntry(e)+"\n"); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	return nil
}

// Flush pushes buffered lines to stable storage.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	return w.flushLocked()
}

func (w *Writer) flushLocked() error {
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush recording: %w", err)
	}
	return w.file.Sync()
}

func (w *Writer) flushLoop(every time.Duration) {
	defer close(w.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			_ = w.Flush()
		}
	}
}

// Close writes the footer and closes the file. The footer is written even when
// no inputs were recorded. Closing twice is a no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.stop)
	err := writeFooter(w.buf, w.now())
	if ferr := w.flushLocked(); err == nil {
		err = ferr
	}
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	w.mu.Unlock()
	<-w.done
	return err
}

func writeHeader(w io.Writer, start time.Time) error {
	if _, err := fmt.Fprintf(w, "%s\n%s%s\n", HeaderVersion, headerStart, FormatTimestamp(start)); err != nil {
		return fmt.Errorf("write recording header: %w", err)
	}
	return nil
}

func writeFooter(w io.Writer, end time.Time) error {
	if _, err := fmt.Fprintf(w, "%s%s\n", footerEnd, FormatTimestamp(end)); err != nil {
		return fmt.Errorf("write recording footer: %w", err)
	}
	return nil
}

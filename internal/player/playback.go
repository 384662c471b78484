// Package player replays recordings as an input source and keeps external
// media players in step with the playback position.
package player

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/digitalcircuit/remote-haptics/internal/haptics"
	"github.com/digitalcircuit/remote-haptics/internal/recording"
)

// Playback is an input source that reads a recording in real time. It starts
// paused at position zero.
type Playback struct {
	reader   *recording.Reader
	onRemark func(recording.Remark)
	onMedia  func(recording.MediaEntry)
	now      func() time.Time

	mu           sync.Mutex
	playing      bool
	seeking      bool
	position     float64
	lastRetrieve time.Time
	lastCount    int
	err          error
	failed       chan struct{}
}

// NewPlayback plays r. Remarks and media entries are passed to the callbacks
// (either may be nil) from the goroutine calling Retrieve.
func NewPlayback(r *recording.Reader, onRemark func(recording.Remark), onMedia func(recording.MediaEntry)) *Playback {
	return &Playback{
		reader:   r,
		onRemark: onRemark,
		onMedia:  onMedia,
		now:      time.Now,
		failed:   make(chan struct{}),
	}
}

func (p *Playback) Order() int { return 0 }

// Run waits until the recording has been played to its end.
func (p *Playback) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.reader.Done():
		return nil
	case <-p.failed:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.err
	}
}

func (p *Playback) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = true
}

// Pause stops the position from advancing.
func (p *Playback) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	// Resuming must not count the paused time.
	p.seeking = true
	p.playing = false
}

func (p *Playback) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.playing
}

// SetPaused plays or pauses when the state differs.
func (p *Playback) SetPaused(paused bool) {
	if paused != p.Paused() {
		if paused {
			p.Pause()
		} else {
			p.Play()
		}
	}
}

// Position returns the playback position in seconds since the recording start.
func (p *Playback) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

// Seek moves to position seconds. Seeking backwards rescans the recording.
func (p *Playback) Seek(position float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if position == p.position {
		return
	}
	p.seeking = true
	p.position = position
}

// Start returns the absolute recording start.
func (p *Playback) Start() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reader.Start()
}

// PositionString formats the position as seconds, duration and absolute time.
func (p *Playback) PositionString() string {
	// Rescans during advance rewrite the reader's start.
	p.mu.Lock()
	pos := p.position
	at := p.reader.TimeAt(pos)
	p.mu.Unlock()
	return fmt.Sprintf("%-13s = %-15s [time: %s]",
		fmt.Sprintf("%gs", haptics.Round(pos)),
		haptics.Seconds(pos).Round(time.Microsecond).String(),
		recording.FormatTimestamp(at))
}

// Close releases the recording. Retrieve returns no further inputs.
func (p *Playback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reader.Close()
}

// Retrieve advances the position by the wall time since the previous call and
// returns the per-channel peak of all inputs in between. It returns zeros
// while paused and nil when no inputs were recorded in the interval.
func (p *Playback) Retrieve() []float64 {
	peaks, remarks, media := p.advance()
	for _, r := range remarks {
		if p.onRemark != nil {
			p.onRemark(r)
		}
	}
	for _, m := range media {
		if p.onMedia != nil {
			p.onMedia(m)
		}
	}
	return peaks
}

func (p *Playback) advance() ([]float64, []recording.Remark, []recording.MediaEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if !p.playing {
		return make([]float64, p.lastCount), nil, nil
	}
	if p.seeking {
		p.seeking = false
	} else if !p.lastRetrieve.IsZero() {
		p.position += now.Sub(p.lastRetrieve).Seconds()
	}
	p.lastRetrieve = now

	entries, err := p.reader.RecordsUntil(p.position)
	if err != nil && p.err == nil {
		p.err = err
		close(p.failed)
	}

	var (
		peaks   []float64
		remarks []recording.Remark
		media   []recording.MediaEntry
	)
	for _, e := range entries {
		switch e := e.(type) {
		case recording.Inputs:
			if peaks == nil || len(e.Values) != p.lastCount {
				p.lastCount = len(e.Values)
				peaks = make([]float64, p.lastCount)
			}
			for i, v := range e.Values {
				peaks[i] = max(peaks[i], v)
			}
		case recording.Remark:
			remarks = append(remarks, e)
		case recording.MediaEntry:
			media = append(media, e)
		}
	}
	return peaks, remarks, media
}

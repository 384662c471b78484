package recording

import (
	"time"

	"github.com/digitalcircuit/remote-haptics/internal/haptics"
)

// DefaultMediaID names the media channel used when a media entry carries no id.
const DefaultMediaID = "DEFAULT"

// Entry is one timestamped record of a recording.
type Entry interface {
	// SessionStart is the absolute start of the recording the entry belongs to.
	SessionStart() time.Time
	// TimeDelta is the number of seconds since SessionStart.
	TimeDelta() float64
	// WithOffset returns a copy shifted by offset seconds, both in start and delta.
	WithOffset(offset float64) Entry

	isEntry()
}

// MediaEntry is an entry that controls one media channel.
type MediaEntry interface {
	Entry
	MediaID() string
}

// Stamp positions an entry within a recording.
type Stamp struct {
	Start time.Time
	Delta float64
}

func (s Stamp) SessionStart() time.Time { return s.Start }
func (s Stamp) TimeDelta() float64      { return s.Delta }

// Time returns the absolute time of the entry.
func (s Stamp) Time() time.Time {
	return s.Start.Add(haptics.Seconds(s.Delta))
}

func (s Stamp) shift(offset float64) Stamp {
	return Stamp{Start: s.Start.Add(haptics.Seconds(offset)), Delta: s.Delta + offset}
}

// Inputs holds recorded haptics intensities.
type Inputs struct {
	Stamp
	Values []float64
}

// Remark is free text embedded in a recording.
type Remark struct {
	Stamp
	Text string
}

// MediaStop stops playback on a media channel.
type MediaStop struct {
	Stamp
	ID string
}

// MediaPlay starts a media file on a channel. Offset is the file position at
// the entry's time delta; negative values mean the media started earlier.
type MediaPlay struct {
	Stamp
	ID     string
	Offset float64
	File   string
}

func (e Inputs) WithOffset(offset float64) Entry {
	return Inputs{Stamp: e.shift(offset), Values: e.Values}
}

func (e Remark) WithOffset(offset float64) Entry {
	return Remark{Stamp: e.shift(offset), Text: e.Text}
}

func (e MediaStop) WithOffset(offset float64) Entry {
	return MediaStop{Stamp: e.shift(offset), ID: e.ID}
}

func (e MediaPlay) WithOffset(offset float64) Entry {
	return MediaPlay{Stamp: e.shift(offset), ID: e.ID, Offset: e.Offset, File: e.File}
}

func (e MediaStop) MediaID() string { return mediaID(e.ID) }
func (e MediaPlay) MediaID() string { return mediaID(e.ID) }

func (Inputs) isEntry()    {}
func (Remark) isEntry()    {}
func (MediaStop) isEntry() {}
func (MediaPlay) isEntry() {}

func mediaID(id string) string {
	if id == "" {
		return DefaultMediaID
	}
	return id
}

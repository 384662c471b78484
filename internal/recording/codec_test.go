package recording

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/digitalcircuit/remote-haptics/internal/haptics"
)

var testStart = time.Date(2022, 5, 27, 23, 28, 57, 104000000, time.UTC)

func generateDelta(t *rapid.T, label string) float64 {
	return haptics.Round(rapid.Float64Range(0, 100000).Draw(t, label))
}

func generateMediaID(t *rapid.T) string {
	if rapid.Bool().Draw(t, "default_id") {
		return DefaultMediaID
	}
	return rapid.StringMatching(`[A-Za-z0-9_]{1,12}`).Draw(t, "media_id")
}

// generateEntry produces any entry variant with values already at recording precision.
func generateEntry(t *rapid.T) Entry {
	stamp := Stamp{Start: testStart, Delta: generateDelta(t, "delta")}
	switch rapid.IntRange(0, 3).Draw(t, "kind") {
	case 0:
		n := rapid.IntRange(1, 8).Draw(t, "num_values")
		values := make([]float64, n)
		for i := range values {
			values[i] = haptics.Clamp(rapid.Float64Range(0, 1).Draw(t, "value"))
		}
		return Inputs{Stamp: stamp, Values: values}
	case 1:
		text := rapid.StringMatching(`[^\r\n]{0,40}`).Draw(t, "remark")
		return Remark{Stamp: stamp, Text: text}
	case 2:
		return MediaStop{Stamp: stamp, ID: generateMediaID(t)}
	default:
		return MediaPlay{
			Stamp:  stamp,
			ID:     generateMediaID(t),
			Offset: haptics.Round(rapid.Float64Range(-600, 600).Draw(t, "offset")),
			File:   rapid.StringMatching(`[^\r\n]{1,40}`).Draw(t, "file"),
		}
	}
}

// Property: every entry variant survives FormatEntry followed by ParseEntry.
func TestEntryRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		want := generateEntry(t)
		line := FormatEntry(want)
		got, err := ParseEntry(testStart, line+"\n")
		if err != nil {
			t.Fatalf("parse %q: %v", line, err)
		}
		if got != nil && !entriesEqual(want, got) {
			t.Fatalf("round trip of %q: want %#v, got %#v", line, want, got)
		}
	})
}

func entriesEqual(a, b Entry) bool {
	if a.TimeDelta() != b.TimeDelta() || !a.SessionStart().Equal(b.SessionStart()) {
		return false
	}
	switch a := a.(type) {
	case Inputs:
		b, ok := b.(Inputs)
		return ok && haptics.Equal(a.Values, b.Values)
	case Remark:
		b, ok := b.(Remark)
		return ok && a.Text == b.Text
	case MediaStop:
		b, ok := b.(MediaStop)
		return ok && a.MediaID() == b.MediaID()
	case MediaPlay:
		b, ok := b.(MediaPlay)
		return ok && a.MediaID() == b.MediaID() && a.Offset == b.Offset && a.File == b.File
	}
	return false
}

func TestParseEntryExamples(t *testing.T) {
	tests := []struct {
		line string
		want Entry
	}{
		{"13.335039:0.301961,1", Inputs{Stamp: Stamp{testStart, 13.335039}, Values: []float64{0.301961, 1}}},
		{"42.1337:text=Here's a comment: with = signs", Remark{Stamp: Stamp{testStart, 42.1337}, Text: "Here's a comment: with = signs"}},
		{"0.0:media=stop", MediaStop{Stamp: Stamp{testStart, 0}, ID: DefaultMediaID}},
		{"0.0:media=@player1:stop", MediaStop{Stamp: Stamp{testStart, 0}, ID: "player1"}},
		{"0.0:media=-5.4321:/path/to/media.mp4", MediaPlay{Stamp: Stamp{testStart, 0}, ID: DefaultMediaID, Offset: -5.4321, File: "/path/to/media.mp4"}},
		{"1.5:media=@player1:2:C:\\music:mix.mp3", MediaPlay{Stamp: Stamp{testStart, 1.5}, ID: "player1", Offset: 2, File: "C:\\music:mix.mp3"}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParseEntry(testStart, tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseEntryEmptyPayloadIsEmptyInputs(t *testing.T) {
	got, err := ParseEntry(testStart, "2.5:")
	require.NoError(t, err)
	inputs, ok := got.(Inputs)
	require.True(t, ok)
	assert.Empty(t, inputs.Values)
	assert.Equal(t, 2.5, inputs.TimeDelta())
}

func TestParseEntryRejectsMalformedLines(t *testing.T) {
	for _, line := range []string{"no delta here", "abc:0.5", "1:0.5,x", "1:media=@id:", "1:media=1.5", "1:media=fast:file"} {
		_, err := ParseEntry(testStart, line)
		assert.ErrorIs(t, err, ErrInvalidEntry, line)
	}
}

func TestFormatEntry(t *testing.T) {
	assert.Equal(t, "1.5:0.5,1,0", FormatEntry(Inputs{Stamp: Stamp{testStart, 1.5}, Values: []float64{0.5, 1, 0}}))
	assert.Equal(t, "0.333333:0.123457", FormatEntry(Inputs{Stamp: Stamp{testStart, 1.0 / 3}, Values: []float64{0.1234567}}))
	assert.Equal(t, "2:media=stop", FormatEntry(MediaStop{Stamp: Stamp{testStart, 2}}))
	assert.Equal(t, "2:media=@music:-1.25:song.mp3", FormatEntry(MediaPlay{Stamp: Stamp{testStart, 2}, ID: "music", Offset: -1.25, File: "song.mp3"}))
	assert.Equal(t, "3:text=hi", FormatEntry(Remark{Stamp: Stamp{testStart, 3}, Text: "hi"}))
}

func TestWithOffsetShiftsStartAndDelta(t *testing.T) {
	e := MediaPlay{Stamp: Stamp{testStart, 1}, ID: "a", Offset: 3, File: "f"}
	shifted := e.WithOffset(2.5).(MediaPlay)
	assert.Equal(t, 3.5, shifted.TimeDelta())
	assert.True(t, shifted.SessionStart().Equal(testStart.Add(2500*time.Millisecond)))
	assert.Equal(t, e.Offset, shifted.Offset)
	assert.Equal(t, e.File, shifted.File)
	assert.True(t, shifted.Time().Equal(testStart.Add(6*time.Second)))
}

func TestTimestampRoundTrip(t *testing.T) {
	s := FormatTimestamp(testStart)
	assert.Equal(t, "2022-05-27 23:28:57.104000+00:00", s)
	got, err := ParseTimestamp(s)
	require.NoError(t, err)
	assert.True(t, got.Equal(testStart))

	local, err := ParseTimestamp("2022-05-27 19:28:57.104-04:00")
	require.NoError(t, err)
	assert.True(t, local.Equal(testStart))

	_, err = ParseTimestamp("yesterday")
	assert.Error(t, err)
	assert.False(t, strings.Contains(FormatTimestamp(testStart), "Z"))
}

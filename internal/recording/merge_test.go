package recording

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestMergeAlignsOnEarliestStart(t *testing.T) {
	dir := t.TempDir()
	later := writeRecording(t, dir, "b.rec", testStart.Add(10*time.Second), "0:0.2", "5:text=late", "7:media=stop")
	earlier := writeRecording(t, dir, "a.rec", testStart, "1:0.1", "10:0.3", "12:0.4")

	out := filepath.Join(dir, "merged.rec")
	stats, err := MergeFiles(out, []string{later, earlier}, false)
	require.NoError(t, err)
	assert.Equal(t, MergeStats{Inputs: 2, Entries: 6, Duration: 17}, stats)

	assert.Equal(t, []string{
		HeaderVersion,
		"@session_start:2022-05-27 23:28:57.104000+00:00",
		"1:0.1",
		"10:0.3",
		"10:0.2",
		"12:0.4",
		"15:text=late",
		"17:media=stop",
		"@session_end:2022-05-27 23:29:14.104000+00:00",
	}, readLines(t, out))
}

func TestMergeRefusesToOverwrite(t *testing.T) {
	dir := t.TempDir()
	in := writeRecording(t, dir, "a.rec", testStart, "1:0.1")
	out := filepath.Join(dir, "merged.rec")
	require.NoError(t, os.WriteFile(out, []byte("keep"), 0o644))

	_, err := MergeFiles(out, []string{in}, false)
	require.Error(t, err)
	data, _ := os.ReadFile(out)
	assert.Equal(t, "keep", string(data))

	_, err = MergeFiles(out, []string{in}, true)
	require.NoError(t, err)
}

func TestMergeWithoutEntriesUsesStartAsEnd(t *testing.T) {
	dir := t.TempDir()
	a := writeRecording(t, dir, "a.rec", testStart)
	r, err := Open(a)
	require.NoError(t, err)
	defer r.Close()

	var buf bytes.Buffer
	_, err = Merge(&buf, []*Reader{r})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), footerEnd+FormatTimestamp(testStart))
}

func TestMergeErrors(t *testing.T) {
	_, err := MergeFiles("out.rec", nil, false)
	assert.ErrorIs(t, err, ErrNoRecordings)

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.rec")
	require.NoError(t, os.WriteFile(bad, []byte("nope\n"), 0o644))
	_, err = MergeFiles(filepath.Join(dir, "out.rec"), []string{bad}, false)
	assert.ErrorIs(t, err, ErrInvalidHeader)

	broken := writeRecording(t, dir, "broken.rec", testStart, "1:0.1", "oops")
	_, err = MergeFiles(filepath.Join(dir, "out2.rec"), []string{broken}, false)
	assert.ErrorIs(t, err, ErrInvalidEntry)
}

func TestMergeFailureLeavesNoOutput(t *testing.T) {
	dir := t.TempDir()
	good := writeRecording(t, dir, "good.rec", testStart, "1:0.1")
	broken := writeRecording(t, dir, "broken.rec", testStart, "2:0.2", "oops")
	out := filepath.Join(dir, "merged.rec")

	_, err := MergeFiles(out, []string{good, broken}, false)
	require.ErrorIs(t, err, ErrInvalidEntry)
	assert.NoFileExists(t, out)

	stats, err := MergeFiles(out, []string{good}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Entries)
	assert.FileExists(t, out)
}

func TestFilterInputs(t *testing.T) {
	paths := []string{"a.rec", "a.rec~", "b.rec"}
	assert.Equal(t, []string{"a.rec", "b.rec"}, FilterInputs(paths, false))
	assert.Equal(t, paths, FilterInputs(paths, true))
}

// Property: merged entries are non-decreasing and the footer is start plus the largest delta.
func TestMergeOrderingProperty(t *testing.T) {
	dir := t.TempDir()
	rapid.Check(t, func(rt *rapid.T) {
		numInputs := rapid.IntRange(1, 4).Draw(rt, "num_inputs")
		readers := make([]*Reader, 0, numInputs)
		maxEnd := 0.0
		var earliest time.Time
		starts := make([]time.Time, numInputs)
		for i := range starts {
			starts[i] = testStart.Add(time.Duration(rapid.IntRange(0, 60_000).Draw(rt, "start_ms")) * time.Millisecond)
			if i == 0 || starts[i].Before(earliest) {
				earliest = starts[i]
			}
		}
		for i := 0; i < numInputs; i++ {
			n := rapid.IntRange(0, 10).Draw(rt, "num_entries")
			lines := make([]string, n)
			delta := 0.0
			for j := range lines {
				delta += float64(rapid.IntRange(0, 5000).Draw(rt, "step_ms")) / 1000
				lines[j] = fmt.Sprintf("%s:%d", formatFloat(delta), j%2)
			}
			if n > 0 {
				end := starts[i].Sub(earliest).Seconds() + delta
				if end > maxEnd {
					maxEnd = end
				}
			}
			path := writeRecording(t, dir, fmt.Sprintf("in%d.rec", i), starts[i], lines...)
			r, err := Open(path)
			if err != nil {
				rt.Fatal(err)
			}
			defer r.Close()
			readers = append(readers, r)
		}

		var buf bytes.Buffer
		stats, err := Merge(&buf, readers)
		if err != nil {
			rt.Fatal(err)
		}

		merged := filepath.Join(dir, "merged.rec")
		if err := os.WriteFile(merged, buf.Bytes(), 0o644); err != nil {
			rt.Fatal(err)
		}
		out, err := Open(merged)
		if err != nil {
			rt.Fatal(err)
		}
		defer out.Close()
		if !out.Start().Equal(earliest) {
			rt.Fatalf("merged start %v, want %v", out.Start(), earliest)
		}
		prev := -1.0
		for {
			e, err := out.Next()
			if err != nil {
				break
			}
			if e.TimeDelta() < prev {
				rt.Fatalf("delta %v after %v", e.TimeDelta(), prev)
			}
			prev = e.TimeDelta()
		}
		if stats.Entries > 0 && !approxEqual(stats.Duration, maxEnd) {
			rt.Fatalf("duration %v, want %v", stats.Duration, maxEnd)
		}
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		footer := lines[len(lines)-1]
		end, err := ParseTimestamp(strings.TrimPrefix(footer, footerEnd))
		if err != nil {
			rt.Fatal(err)
		}
		if d := end.Sub(earliest).Seconds(); !approxEqual(d, stats.Duration) && stats.Entries > 0 {
			rt.Fatalf("footer at %v, want %v", d, stats.Duration)
		}
	})
}

func approxEqual(a, b float64) bool {
	diff := a - b
	return diff < 1e-5 && diff > -1e-5
}

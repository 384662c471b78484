package recording

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestWriterSuppressesDuplicates(t *testing.T) {
	clock := &fakeClock{now: testStart}
	path := filepath.Join(t.TempDir(), "session.rec")
	w, err := create(path, clock.Now, time.Hour)
	require.NoError(t, err)

	clock.Advance(time.Second)
	require.NoError(t, w.Append([]float64{0.5, 0.9}))
	clock.Advance(time.Second)
	require.NoError(t, w.Append([]float64{0.5, 0.9}))
	clock.Advance(DuplicateInterval - time.Second - time.Millisecond)
	require.NoError(t, w.Append([]float64{0.5, 0.9}))
	clock.Advance(time.Millisecond)
	require.NoError(t, w.Append([]float64{0.5, 0.9}))
	clock.Advance(time.Second)
	require.NoError(t, w.Append([]float64{0.25}))
	require.NoError(t, w.Close())

	var entries []string
	for _, line := range readLines(t, path) {
		if !strings.HasPrefix(line, "#") && !strings.HasPrefix(line, "@") && line != HeaderVersion {
			entries = append(entries, line)
		}
	}
	assert.Equal(t, []string{"1:0.5,0.9", "586:0.5,0.9", "587:0.25"}, entries)
}

func TestWriterTimestampComments(t *testing.T) {
	clock := &fakeClock{now: testStart}
	path := filepath.Join(t.TempDir(), "session.rec")
	w, err := create(path, clock.Now, time.Hour)
	require.NoError(t, err)

	require.NoError(t, w.Append([]float64{0.1}))
	clock.Advance(30 * time.Second)
	require.NoError(t, w.Append([]float64{0.2}))
	clock.Advance(30 * time.Second)
	require.NoError(t, w.Append([]float64{0.3}))
	// No data, no comment.
	clock.Advance(5 * time.Minute)
	require.NoError(t, w.Append([]float64{0.3}))
	require.NoError(t, w.Close())

	lines := readLines(t, path)
	var comments []string
	for _, line := range lines {
		if strings.HasPrefix(line, "#") {
			comments = append(comments, line)
		}
	}
	assert.Equal(t, []string{
		"# timestamp = 2022-05-27 23:28:57.104000+00:00",
		"# timestamp = 2022-05-27 23:29:57.104000+00:00",
	}, comments)
}

func TestWriterCloseWritesFooterWithoutData(t *testing.T) {
	clock := &fakeClock{now: testStart}
	path := filepath.Join(t.TempDir(), "empty.rec")
	w, err := create(path, clock.Now, time.Hour)
	require.NoError(t, err)
	clock.Advance(2 * time.Second)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	assert.Equal(t, []string{
		HeaderVersion,
		"@session_start:2022-05-27 23:28:57.104000+00:00",
		"@session_end:2022-05-27 23:28:59.104000+00:00",
	}, readLines(t, path))

	assert.ErrorIs(t, w.Append([]float64{1}), os.ErrClosed)
}

func TestWriterPeriodicFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flush.rec")
	w, err := create(path, time.Now, 10*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Append([]float64{0.75}))
	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(path)
		return err == nil && strings.Contains(string(data), ":0.75\n")
	}, time.Second, 5*time.Millisecond)
}

func TestWriterOutputIsReadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "live.rec")
	w, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, w.Append([]float64{0.5, 0.9}))
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	assert.True(t, r.Start().Equal(w.Start().Truncate(time.Microsecond)))

	e, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.9}, e.(Inputs).Values)
	_, err = r.Next()
	assert.Error(t, err)
	assert.True(t, r.Ended())
}

func TestWriterWriteEntry(t *testing.T) {
	clock := &fakeClock{now: testStart}
	path := filepath.Join(t.TempDir(), "remarks.rec")
	w, err := create(path, clock.Now, time.Hour)
	require.NoError(t, err)

	clock.Advance(3 * time.Second)
	require.NoError(t, w.WriteEntry(Remark{Stamp: Stamp{testStart, 3}, Text: "lap: 2"}))
	require.NoError(t, w.WriteEntry(MediaStop{Stamp: Stamp{testStart, 3.5}, ID: "music"}))
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.WriteEntry(Remark{}), os.ErrClosed)

	assert.Equal(t, []string{
		HeaderVersion,
		"@session_start:2022-05-27 23:28:57.104000+00:00",
		"# timestamp = 2022-05-27 23:29:00.104000+00:00",
		"3:text=lap: 2",
		"3.5:media=@music:stop",
	}, readLines(t, path)[:5])
}

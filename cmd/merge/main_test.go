package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitalcircuit/remote-haptics/internal/recording"
)

func writeRecording(t *testing.T, path string, values ...float64) {
	t.Helper()
	w, err := recording.Create(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(values))
	require.NoError(t, w.Close())
}

func runMerge(t *testing.T, opts options, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	opts.LogLevel = "error"
	err := run(cmd, args, &opts)
	return out.String(), err
}

func TestMerge(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.rec")
	b := filepath.Join(dir, "b.rec")
	backup := filepath.Join(dir, "b.rec~")
	writeRecording(t, a, 0.1)
	writeRecording(t, b, 0.2)
	writeRecording(t, backup, 0.3)
	output := filepath.Join(dir, "merged.rec")

	_, err := runMerge(t, options{}, output, a, b, backup)
	require.NoError(t, err)

	r, err := recording.Open(output)
	require.NoError(t, err)
	defer r.Close()
	var values []float64
	for {
		e, err := r.Next()
		if err != nil {
			break
		}
		if in, ok := e.(recording.Inputs); ok {
			values = append(values, in.Values...)
		}
	}
	assert.ElementsMatch(t, []float64{0.1, 0.2}, values)

	_, err = runMerge(t, options{}, output, a)
	assert.ErrorContains(t, err, "--force")

	_, err = runMerge(t, options{force: true, includeBackups: true}, output, a, backup)
	require.NoError(t, err)
	raw, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "0.3")
}

func TestMergeOnlyBackups(t *testing.T) {
	dir := t.TempDir()
	backup := filepath.Join(dir, "a.rec~")
	writeRecording(t, backup, 0.3)
	_, err := runMerge(t, options{}, filepath.Join(dir, "out.rec"), backup)
	assert.ErrorIs(t, err, recording.ErrNoRecordings)
}

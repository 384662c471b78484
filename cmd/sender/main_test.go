package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/digitalcircuit/remote-haptics/internal/input"
)

func TestSourcesDefaultsToStdin(t *testing.T) {
	var opts options
	sources, closers, err := opts.sources(strings.NewReader("0.5\n"), zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, closers)
	require.Len(t, sources, 1)
	assert.IsType(t, &input.LineSource{}, sources[0])
}

func TestSourcesOrder(t *testing.T) {
	device := filepath.Join(t.TempDir(), "event0")
	require.NoError(t, os.WriteFile(device, nil, 0o644))
	opts := options{
		stdin:        true,
		audioMode:    "treble",
		audioCommand: "true",
		devices:      []string{device},
		layout:       "pedals",
	}

	sources, closers, err := opts.sources(strings.NewReader(""), zap.NewNop())
	require.NoError(t, err)
	require.Len(t, closers, 1)
	for _, c := range closers {
		assert.NoError(t, c.Close())
	}
	require.Len(t, sources, 3)
	assert.IsType(t, &input.AudioSource{}, sources[0])
	assert.IsType(t, &input.AxisSource{}, sources[1])
	assert.IsType(t, &input.LineSource{}, sources[2])
	for i, s := range sources {
		assert.Equal(t, i, s.Order())
	}
}

func TestSourcesErrors(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing")
	tests := map[string]options{
		"audio without command": {audioMode: "bass"},
		"unknown band":          {audioMode: "sub", audioCommand: "true"},
		"unknown layout":        {devices: []string{missing}, layout: "wheel"},
		"missing device":        {devices: []string{missing}, layout: "triggers"},
	}
	for name, opts := range tests {
		t.Run(name, func(t *testing.T) {
			_, closers, err := opts.sources(strings.NewReader(""), zap.NewNop())
			assert.Error(t, err)
			assert.Empty(t, closers)
		})
	}
}

// Package input collects haptics intensities on the sending side. Every
// source queues values in its own loop and hands out the values seen since
// the last retrieval.
package input

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Source is one producer of intensities.
type Source interface {
	// Run queues values until ctx is cancelled or the input ends.
	Run(ctx context.Context) error
	// Retrieve returns the values queued since the previous call.
	Retrieve() []float64
	// Order positions the source's values in the combined vector.
	Order() int
}

// Manager concatenates the values of several sources, in order.
type Manager struct {
	log     *zap.Logger
	sources []Source
}

// NewManager sorts sources by Order. Sources with the same order keep their
// relative position.
func NewManager(log *zap.Logger, sources ...Source) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	sorted := append([]Source(nil), sources...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order() < sorted[j].Order() })
	if len(sorted) == 0 {
		log.Warn("no input sources configured")
	}
	return &Manager{log: log, sources: sorted}
}

// Len returns the number of sources.
func (m *Manager) Len() int { return len(m.sources) }

// Request returns the concatenated values of all sources. It matches
// protocol.RequestFunc.
func (m *Manager) Request() []float64 {
	var out []float64
	for _, s := range m.sources {
		out = append(out, s.Retrieve()...)
	}
	return out
}

// Run runs every source loop and waits for all of them. The first failure
// cancels the others and is returned; cancellation of ctx is not an error.
func (m *Manager) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range m.sources {
		s := s
		g.Go(func() error {
			if err := s.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	err := g.Wait()
	m.log.Debug("input sources finished", zap.Error(err))
	return err
}

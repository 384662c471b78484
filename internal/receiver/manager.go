// Package receiver connects protocol sessions to feedback mappers, the
// session recorder and the optional session side effects.
package receiver

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/digitalcircuit/remote-haptics/internal/events"
	"github.com/digitalcircuit/remote-haptics/internal/metrics"
	"github.com/digitalcircuit/remote-haptics/internal/models"
	"github.com/digitalcircuit/remote-haptics/internal/physics"
	"github.com/digitalcircuit/remote-haptics/internal/protocol"
	"github.com/digitalcircuit/remote-haptics/internal/recording"
	"github.com/digitalcircuit/remote-haptics/pkg/queue"
)

const (
	// RecordingNameLayout names recording files after their start time.
	RecordingNameLayout = "2006-01-02 15-04-05"
	sideEffectTimeout   = 5 * time.Second
)

// EventPublisher publishes session lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, ev events.Event) error
}

// SessionStore keeps the session history.
type SessionStore interface {
	Start(ctx context.Context, s models.HapticSession) error
	SetType(ctx context.Context, id uuid.UUID, sessionType string) error
	SetRecording(ctx context.Context, id uuid.UUID, path string) error
	End(ctx context.Context, id uuid.UUID, endedAt time.Time, updates int64) error
}

// ArchiveQueue accepts closed recordings for archival.
type ArchiveQueue interface {
	EnqueueArchive(ctx context.Context, payload queue.ArchivePayload) error
}

// Options configures a Manager. Nil side effects are skipped.
type Options struct {
	RecordingEnabled bool
	RecordingDir     string
	Events           EventPublisher
	Sessions         SessionStore
	Archive          ArchiveQueue
	Metrics          *metrics.Metrics
	Log              *zap.Logger
}

// Manager implements protocol.Handler for the receiver.
type Manager struct {
	opts Options
	log  *zap.Logger
	now  func() time.Time

	mu       sync.Mutex
	mappers  []*physics.Mapper
	session  *models.HapticSession
	haptics  []float64
	recorder *recording.Writer
}

var _ protocol.Handler = (*Manager)(nil)

// NewManager drives mappers from incoming haptics.
func NewManager(mappers []*physics.Mapper, opts Options) *Manager {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	if len(mappers) == 0 {
		log.Warn("no output devices configured, haptics are only recorded")
	}
	return &Manager{opts: opts, log: log, now: time.Now, mappers: mappers}
}

// SessionNew starts tracking a connection. Only one session is active at a
// time; a new connection replaces the previous one.
func (m *Manager) SessionNew(peer string) {
	s := &models.HapticSession{
		ID:        uuid.New(),
		Peer:      peer,
		Type:      protocol.SessionUnknown.String(),
		StartedAt: m.now().UTC(),
	}

	m.mu.Lock()
	closed := m.stopRecordingLocked()
	m.session = s
	m.mu.Unlock()

	m.log.Info("session started", zap.String("peer", peer), zap.String("session_id", s.ID.String()))
	m.archive(closed)
	m.sideEffect("store session", func(ctx context.Context) error {
		if m.opts.Sessions == nil {
			return nil
		}
		return m.opts.Sessions.Start(ctx, *s)
	})
	m.publish(events.New(events.SessionStarted, s.ID, peer))
}

// SessionTypeSet starts a recording for live sessions and ends it otherwise.
func (m *Manager) SessionTypeSet(peer string, t protocol.SessionType) {
	m.mu.Lock()
	s := m.session
	if s == nil || s.Peer != peer {
		m.mu.Unlock()
		m.log.Warn("session type for unknown session", zap.String("peer", peer))
		return
	}
	s.Type = t.String()
	closed := m.stopRecordingLocked()
	var started string
	if t == protocol.SessionLive && m.opts.RecordingEnabled {
		w, err := m.startRecordingLocked(peer)
		if err != nil {
			m.log.Error("start recording", zap.String("peer", peer), zap.Error(err))
		} else {
			started = w.Path()
			s.Recording = started
		}
	}
	id := s.ID
	m.mu.Unlock()

	m.log.Info("session type set", zap.String("peer", peer), zap.Stringer("type", t))
	m.archive(closed)

	ev := events.New(events.SessionTypeSet, id, peer)
	ev.SessionType = t.String()
	m.publish(ev)
	m.sideEffect("store session type", func(ctx context.Context) error {
		if m.opts.Sessions == nil {
			return nil
		}
		return m.opts.Sessions.SetType(ctx, id, t.String())
	})

	if started != "" {
		ev := events.New(events.RecordingStarted, id, peer)
		ev.Recording = started
		m.publish(ev)
		m.sideEffect("store session recording", func(ctx context.Context) error {
			if m.opts.Sessions == nil {
				return nil
			}
			return m.opts.Sessions.SetRecording(ctx, id, started)
		})
	}
}

// HapticsUpdated forwards intensities to every mapper and the recorder.
func (m *Manager) HapticsUpdated(values []float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.haptics = values
	if m.session != nil && values != nil {
		m.session.Updates++
	}
	for _, mp := range m.mappers {
		mp.Parse(values)
		out := mp.Output()
		m.opts.Metrics.OutputLevel(mp.Name(), out.Strong, out.Weak)
	}
	m.opts.Metrics.Haptics(values)

	if m.recorder != nil && values != nil {
		if err := m.recorder.Append(values); err != nil {
			m.log.Error("append to recording", zap.String("path", m.recorder.Path()), zap.Error(err))
		} else {
			m.opts.Metrics.RecordingAppend()
		}
	}
}

// SessionEnd clears all outputs and closes the recording.
func (m *Manager) SessionEnd(peer string) {
	m.mu.Lock()
	s := m.session
	if s == nil || s.Peer != peer {
		m.mu.Unlock()
		// A replaced session still ends its own connection.
		m.log.Debug("end of inactive session", zap.String("peer", peer))
		return
	}
	closed := m.stopRecordingLocked()
	m.session = nil
	m.haptics = nil
	for _, mp := range m.mappers {
		mp.Parse(nil)
	}
	ended := m.now().UTC()
	s.EndedAt = &ended
	m.mu.Unlock()

	m.log.Info("session ended",
		zap.String("peer", peer),
		zap.String("session_id", s.ID.String()),
		zap.Int64("updates", s.Updates),
		zap.Duration("duration", ended.Sub(s.StartedAt)),
	)
	m.opts.Metrics.Haptics(nil)
	m.archive(closed)
	m.sideEffect("store session end", func(ctx context.Context) error {
		if m.opts.Sessions == nil {
			return nil
		}
		return m.opts.Sessions.End(ctx, s.ID, ended, s.Updates)
	})
	m.publish(events.New(events.SessionEnded, s.ID, peer))
}

// Snapshot returns the current state for the status API.
func (m *Manager) Snapshot() models.SessionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := models.SessionSnapshot{
		Active:    m.session != nil,
		Haptics:   append([]float64{}, m.haptics...),
		Outputs:   make([]models.OutputState, 0, len(m.mappers)),
		Recording: m.recorder != nil,
	}
	if m.session != nil {
		s := *m.session
		snap.Session = &s
	}
	for _, mp := range m.mappers {
		out := mp.Output()
		snap.Outputs = append(snap.Outputs, models.OutputState{
			Device:   mp.Name(),
			Strong:   out.Strong,
			Weak:     out.Weak,
			Settling: mp.Settling(),
		})
	}
	return snap
}

// SetMappers replaces the feedback mappers, stopping the previous ones. The
// current haptics are applied to the new mappers right away.
func (m *Manager) SetMappers(mappers []*physics.Mapper) {
	m.mu.Lock()
	old := m.mappers
	m.mappers = mappers
	for _, mp := range mappers {
		if m.haptics != nil {
			mp.Parse(m.haptics)
		}
	}
	m.mu.Unlock()

	for _, mp := range old {
		mp.Stop()
	}
	m.log.Info("output devices reloaded", zap.Int("mappers", len(mappers)))
}

// Close stops the mappers and finishes any recording.
func (m *Manager) Close() error {
	m.mu.Lock()
	closed := m.stopRecordingLocked()
	mappers := m.mappers
	m.mu.Unlock()

	for _, mp := range mappers {
		mp.Stop()
	}
	m.archive(closed)
	return nil
}

func (m *Manager) startRecordingLocked(peer string) (*recording.Writer, error) {
	dir := filepath.Join(m.opts.RecordingDir, SanitizeHost(peer))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recording dir: %w", err)
	}
	name := m.now().Format(RecordingNameLayout) + recording.Extension
	w, err := recording.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, err
	}
	m.recorder = w
	m.log.Info("recording started", zap.String("path", w.Path()))
	m.opts.Metrics.RecordingOpened()
	return w, nil
}

// closedRecording describes a recording that was just finished.
type closedRecording struct {
	path      string
	host      string
	sessionID uuid.UUID
	closedAt  time.Time
}

func (m *Manager) stopRecordingLocked() *closedRecording {
	if m.recorder == nil {
		return nil
	}
	w := m.recorder
	m.recorder = nil
	if err := w.Close(); err != nil {
		m.log.Error("close recording", zap.String("path", w.Path()), zap.Error(err))
	}
	m.opts.Metrics.RecordingClosed()
	m.log.Info("recording closed", zap.String("path", w.Path()))

	closed := &closedRecording{path: w.Path(), closedAt: m.now().UTC()}
	if m.session != nil {
		closed.host = SanitizeHost(m.session.Peer)
		closed.sessionID = m.session.ID
	}
	return closed
}

func (m *Manager) archive(c *closedRecording) {
	if c == nil {
		return
	}
	ev := events.New(events.RecordingClosed, c.sessionID, c.host)
	ev.Recording = c.path
	m.publish(ev)
	if m.opts.Archive == nil {
		return
	}
	m.sideEffect("enqueue archive", func(ctx context.Context) error {
		return m.opts.Archive.EnqueueArchive(ctx, queue.ArchivePayload{
			Path:      c.path,
			Host:      c.host,
			SessionID: c.sessionID,
			ClosedAt:  c.closedAt,
		})
	})
	m.opts.Metrics.ArchiveJob(models.ArchiveStatusPending)
}

func (m *Manager) publish(ev events.Event) {
	if m.opts.Events == nil {
		return
	}
	m.sideEffect("publish "+string(ev.Type), func(ctx context.Context) error {
		return m.opts.Events.Publish(ctx, ev)
	})
}

// sideEffect runs fn with a timeout and logs its failure.
func (m *Manager) sideEffect(what string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		m.log.Warn(what+" failed", zap.Error(err))
	}
}

// SanitizeHost reduces a peer address to its host, usable as a directory name.
func SanitizeHost(peer string) string {
	host, _, err := net.SplitHostPort(peer)
	if err != nil {
		host = peer
	}
	host = strings.Trim(host, "[]")
	var sb strings.Builder
	for _, r := range host {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	switch name := sb.String(); name {
	case "", ".", "..":
		return "unknown"
	default:
		return name
	}
}

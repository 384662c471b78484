package player

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/digitalcircuit/remote-haptics/internal/haptics"
	"github.com/digitalcircuit/remote-haptics/internal/recording"
)

// MediaController drives one external media player.
type MediaController interface {
	// PlayWithOffset starts file so that it is offset seconds in at the
	// recording position delta.
	PlayWithOffset(delta, offset float64, file string) error
	// Sync reports the current playback state.
	Sync(paused bool, position float64) error
	// Quit stops the player. force is set when the program is exiting.
	Quit(force bool) error
}

// Control lets a media player drive the playback, for example when the user
// pauses the video window.
type Control interface {
	SetPaused(paused bool)
	Seek(position float64)
	Exit()
}

// MediaFactory creates the controller for a media id. baseDir is the
// directory of the recording, against which relative file names resolve.
type MediaFactory func(id, baseDir string, ctl Control) MediaController

// Options configures a Manager. All fields are optional.
type Options struct {
	Media    MediaFactory
	OnRemark func(recording.Remark)
	// OnStatus is called after a media player changed the playback state.
	OnStatus func()
	// OnExit is called when a media player asks to stop playback.
	OnExit func()
	Log    *zap.Logger
}

// Manager owns a Playback and the media players its recording refers to.
// It is an input source and can be handed to an input manager directly.
type Manager struct {
	*Playback

	baseDir string
	opts    Options
	log     *zap.Logger

	mu        sync.Mutex
	media     map[string]MediaController
	syncTimer *time.Timer
	requested bool
	closed    bool
}

// NewManager opens the recording at path.
func NewManager(path string, opts Options) (*Manager, error) {
	r, err := recording.Open(path)
	if err != nil {
		return nil, err
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Media == nil {
		opts.Media = LogMedia(log)
	}
	m := &Manager{
		baseDir: dirOf(path),
		opts:    opts,
		log:     log.With(zap.String("recording", path)),
		media:   make(map[string]MediaController),
	}
	m.Playback = NewPlayback(r, m.remark, m.mediaEntry)
	return m, nil
}

// Request returns the next playback intensities.
func (m *Manager) Request() []float64 {
	m.mu.Lock()
	first := !m.requested
	m.requested = true
	m.mu.Unlock()
	if first {
		m.log.Debug("first playback request", zap.Time("start", m.Start()))
	}
	return m.Retrieve()
}

// Play resumes playback and media.
func (m *Manager) Play() {
	m.Playback.Play()
	m.syncMedia()
}

// Pause pauses playback and media.
func (m *Manager) Pause() {
	m.Playback.Pause()
	m.syncMedia()
}

// SetPaused plays or pauses playback and media.
func (m *Manager) SetPaused(paused bool) {
	m.Playback.SetPaused(paused)
	m.syncMedia()
}

// Seek moves playback and media to position, clamped at zero.
func (m *Manager) Seek(position float64) {
	m.Playback.Seek(max(position, 0))
	m.syncMedia()
}

// Run plays the recording until it ends or ctx is done, then stops all media.
func (m *Manager) Run(ctx context.Context) error {
	err := m.Playback.Run(ctx)
	m.stopMedia(ctx.Err() != nil)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close stops all media and releases the recording.
func (m *Manager) Close() error {
	m.stopMedia(true)
	return m.Playback.Close()
}

// Media returns the ids of the active media players.
func (m *Manager) Media() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.media))
	for id := range m.media {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) remark(r recording.Remark) {
	m.log.Info("remark", zap.Float64("delta", r.Delta), zap.String("text", r.Text))
	if m.opts.OnRemark != nil {
		m.opts.OnRemark(r)
	}
}

func (m *Manager) mediaEntry(e recording.MediaEntry) {
	id := e.MediaID()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	ctl, ok := m.media[id]
	switch e.(type) {
	case recording.MediaStop:
		delete(m.media, id)
	case recording.MediaPlay:
		if !ok {
			ctl = m.opts.Media(id, m.baseDir, external{m})
			m.media[id] = ctl
		}
	}
	m.mu.Unlock()

	switch e := e.(type) {
	case recording.MediaStop:
		if ok {
			if err := ctl.Quit(false); err != nil {
				m.log.Warn("stop media", zap.String("media", id), zap.Error(err))
			}
		}
	case recording.MediaPlay:
		if err := ctl.PlayWithOffset(e.Delta, e.Offset, e.File); err != nil {
			m.log.Warn("play media", zap.String("media", id), zap.String("file", e.File), zap.Error(err))
		}
	}
	m.syncMedia()
}

// syncMedia reports the playback state to every media player and keeps the
// periodic sync running while any player is active.
func (m *Manager) syncMedia() {
	m.mu.Lock()
	if m.syncTimer != nil {
		m.syncTimer.Stop()
		m.syncTimer = nil
	}
	if m.closed || len(m.media) == 0 {
		m.mu.Unlock()
		return
	}
	controllers := make(map[string]MediaController, len(m.media))
	for id, ctl := range m.media {
		controllers[id] = ctl
	}
	m.syncTimer = time.AfterFunc(haptics.MediaSyncInterval, m.syncMedia)
	m.mu.Unlock()

	paused, position := m.Paused(), m.Position()
	for id, ctl := range controllers {
		if err := ctl.Sync(paused, position); err != nil {
			m.log.Warn("sync media", zap.String("media", id), zap.Error(err))
		}
	}
}

func (m *Manager) stopMedia(force bool) {
	m.mu.Lock()
	if m.syncTimer != nil {
		m.syncTimer.Stop()
		m.syncTimer = nil
	}
	m.closed = true
	controllers := m.media
	m.media = make(map[string]MediaController)
	m.mu.Unlock()

	for id, ctl := range controllers {
		if err := ctl.Quit(force); err != nil {
			m.log.Warn("stop media", zap.String("media", id), zap.Error(err))
		}
	}
}

// external applies requests coming from a media player and reports them.
type external struct{ m *Manager }

func (e external) SetPaused(paused bool) {
	e.m.SetPaused(paused)
	e.status()
}

func (e external) Seek(position float64) {
	e.m.Seek(position)
	e.status()
}

func (e external) Exit() {
	if e.m.opts.OnExit != nil {
		e.m.opts.OnExit()
	}
}

func (e external) status() {
	if e.m.opts.OnStatus != nil {
		e.m.opts.OnStatus()
	}
}

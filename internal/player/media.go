package player

import (
	"path/filepath"

	"go.uber.org/zap"
)

func dirOf(path string) string {
	return filepath.Dir(path)
}

// ResolveMedia returns file relative to baseDir unless it is absolute.
func ResolveMedia(baseDir, file string) string {
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(baseDir, file)
}

// LogMedia returns a factory for controllers that only log what a media
// player would be asked to do.
func LogMedia(log *zap.Logger) MediaFactory {
	return func(id, baseDir string, _ Control) MediaController {
		return &logMedia{id: id, baseDir: baseDir, log: log.Named("media")}
	}
}

type logMedia struct {
	id      string
	baseDir string
	log     *zap.Logger
}

func (l *logMedia) PlayWithOffset(delta, offset float64, file string) error {
	l.log.Info("play",
		zap.String("media", l.id),
		zap.String("file", ResolveMedia(l.baseDir, file)),
		zap.Float64("delta", delta),
		zap.Float64("offset", offset),
	)
	return nil
}

func (l *logMedia) Sync(paused bool, position float64) error {
	l.log.Debug("sync", zap.String("media", l.id), zap.Bool("paused", paused), zap.Float64("position", position))
	return nil
}

func (l *logMedia) Quit(force bool) error {
	l.log.Info("quit", zap.String("media", l.id), zap.Bool("force", force))
	return nil
}

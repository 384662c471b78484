package api

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/digitalcircuit/remote-haptics/internal/models"
	"github.com/digitalcircuit/remote-haptics/internal/recording"
)

// ListRecordings returns the recordings below dir, newest first. Files whose
// header cannot be read are skipped. A missing dir yields no recordings.
func ListRecordings(dir string, log *zap.Logger) ([]models.RecordingFile, error) {
	if log == nil {
		log = zap.NewNop()
	}
	list := []models.RecordingFile{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() || !isRecordingName(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		file := models.RecordingFile{
			Name:    d.Name(),
			Path:    path,
			Size:    info.Size(),
			ModTime: info.ModTime().UTC(),
			Backup:  recording.IsBackup(path),
		}
		if rel, err := filepath.Rel(dir, filepath.Dir(path)); err == nil && rel != "." {
			file.Host = strings.Split(filepath.ToSlash(rel), "/")[0]
		}
		r, err := recording.Open(path)
		if err != nil {
			log.Debug("skipping unreadable recording", zap.String("path", path), zap.Error(err))
			return nil
		}
		file.Start = r.Start().UTC()
		r.Close()
		list = append(list, file)
		return nil
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Start.After(list[j].Start) })
	return list, nil
}

func isRecordingName(name string) bool {
	return strings.HasSuffix(strings.TrimSuffix(name, recording.BackupSuffix), recording.Extension)
}

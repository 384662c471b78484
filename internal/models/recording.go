package models

import "time"

// Archive status of a recording file.
const (
	ArchiveStatusPending  = "pending"
	ArchiveStatusUploaded = "uploaded"
	ArchiveStatusFailed   = "failed"
)

// RecordingFile is a recording on disk.
type RecordingFile struct {
	Host    string    `json:"host"`
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	Start   time.Time `json:"start"`
	ModTime time.Time `json:"modified_at"`
	Backup  bool      `json:"backup"`
}

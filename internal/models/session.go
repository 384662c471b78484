package models

import (
	"time"

	"github.com/google/uuid"
)

// HapticSession is one client connection to the receiver, as kept in the
// session history.
type HapticSession struct {
	ID        uuid.UUID  `json:"id"`
	Peer      string     `json:"peer"`
	Type      string     `json:"type"`
	Recording string     `json:"recording,omitempty"`
	Updates   int64      `json:"updates"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// OutputState is the current output of one feedback mapper.
type OutputState struct {
	Device   string  `json:"device"`
	Strong   float64 `json:"strong"`
	Weak     float64 `json:"weak"`
	Settling bool    `json:"settling"`
}

// SessionSnapshot describes the receiver state for the status API.
type SessionSnapshot struct {
	Active    bool           `json:"active"`
	Session   *HapticSession `json:"session,omitempty"`
	Haptics   []float64      `json:"haptics"`
	Outputs   []OutputState  `json:"outputs"`
	Recording bool           `json:"recording"`
}

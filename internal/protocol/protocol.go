// Package protocol implements the RemoteHaptics line protocol: a CRLF
// delimited text exchange in which a sender pushes haptics intensity vectors
// to a receiver.
//
//	> ver
//	< RemoteHaptics:0.1
//	> session_type:live
//	< ACK
//	> txh:0.5,0.9
//	< ACK
package protocol

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/digitalcircuit/remote-haptics/internal/haptics"
)

const (
	Version = "RemoteHaptics:0.1"

	CmdHelp        = "help"
	CmdVersion     = "ver"
	CmdQuit        = "quit"
	CmdSessionType = "session_type"
	CmdHaptics     = "txh"

	ReplyACK     = "ACK"
	ReplyInvalid = "INVALID_REQUEST"

	// EOT ends a session the same way quit does.
	EOT = '\x04'

	lineEnding = "\r\n"
	argSep     = ":"
	valueSep   = ","
)

// HelpText is the usage text sent in reply to help and after INVALID_REQUEST.
const HelpText = "Commands: help, ver, quit, session_type:<session type, 'live' or 'playback'>, txh:<0.0-1.0 haptics data>,[...]" +
	lineEnding + "Example: txh:0.01,0.42"

// DuplicateInterval is how long an unchanged intensity vector is withheld
// before the client sends it again, keeping the receiver's persistence window alive.
const DuplicateInterval = haptics.PersistDuration * 95 / 100

var (
	// ErrProtocol marks an unexpected command or reply.
	ErrProtocol = errors.New("protocol violation")
	// ErrVersionMismatch is returned when the server reports another version.
	ErrVersionMismatch = fmt.Errorf("%w: version mismatch", ErrProtocol)
	// ErrMalformed marks a command whose arguments could not be parsed.
	ErrMalformed = errors.New("malformed request")
)

// SessionType tells the receiver what kind of data a session carries.
type SessionType int

const (
	SessionUnknown SessionType = iota
	SessionLive
	SessionPlayback
)

func (t SessionType) String() string {
	switch t {
	case SessionLive:
		return "live"
	case SessionPlayback:
		return "playback"
	default:
		return "unknown"
	}
}

// ParseSessionType parses the argument of session_type. Unknown is not a valid argument.
func ParseSessionType(s string) (SessionType, error) {
	switch s {
	case "live":
		return SessionLive, nil
	case "playback":
		return SessionPlayback, nil
	default:
		return SessionUnknown, fmt.Errorf("%w: unknown session type %q", ErrMalformed, s)
	}
}

// ParseIntensities parses the argument of txh and caps every value to
// [0,1] at the fixed precision.
func ParseIntensities(arg string) ([]float64, error) {
	if strings.TrimSpace(arg) == "" {
		return nil, fmt.Errorf("%w: no haptics values", ErrMalformed)
	}
	parts := strings.Split(arg, valueSep)
	values := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: haptics value %q", ErrMalformed, p)
		}
		values[i] = haptics.Clamp(v)
	}
	return values, nil
}

// FormatIntensities renders values as a txh argument.
func FormatIntensities(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(haptics.Round(v), 'f', -1, 64)
	}
	return strings.Join(parts, valueSep)
}

func command(name string, arg string) string {
	return name + argSep + arg + lineEnding
}

package input

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	audioDataPrefix = "audio_data:"
	// audioSampleWindow is how long levels are collected before being split into bands.
	audioSampleWindow = 10 * time.Millisecond

	midBandStart    = 0.005
	trebleBandStart = 0.92
)

// Band selects the part of the spectrum an AudioSource reports.
type Band int

const (
	BandAll Band = iota
	BandBass
	BandMid
	BandTreble
)

// ParseBand accepts "all", "bass", "mid" and "treble".
func ParseBand(s string) (Band, error) {
	switch s {
	case "all":
		return BandAll, nil
	case "bass":
		return BandBass, nil
	case "mid":
		return BandMid, nil
	case "treble":
		return BandTreble, nil
	default:
		return 0, fmt.Errorf("invalid audio mode %q", s)
	}
}

// AudioSource turns spectrum levels printed by a helper program into a pair
// of identical intensities. The helper prints lines of the form
// "audio_data:<level>,<level>,...", lowest frequency first.
type AudioSource struct {
	band    Band
	command []string
	log     *zap.Logger
	now     func() time.Time

	mu           sync.Mutex
	rolling      []float64
	rollingStart time.Time
	peaks        [4]float64
}

// NewAudioSource runs command to obtain levels. command may be empty when
// levels are fed through Consume.
func NewAudioSource(band Band, command []string, log *zap.Logger) *AudioSource {
	if log == nil {
		log = zap.NewNop()
	}
	return &AudioSource{band: band, command: command, log: log, now: time.Now}
}

func (s *AudioSource) Order() int { return 0 }

func (s *AudioSource) Run(ctx context.Context) error {
	if len(s.command) == 0 {
		return fmt.Errorf("no audio helper command configured")
	}
	cmd := exec.CommandContext(ctx, s.command[0], s.command[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("audio helper stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start audio helper: %w", err)
	}
	s.log.Debug("streaming from audio helper", zap.Strings("command", s.command))

	consumeErr := s.Consume(stdout)
	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if consumeErr != nil {
		return consumeErr
	}
	if waitErr != nil {
		return fmt.Errorf("audio helper: %w", waitErr)
	}
	return nil
}

// Consume reads helper output from r until it ends.
func (s *AudioSource) Consume(r io.Reader) error {
	s.mu.Lock()
	s.rollingStart = s.now()
	s.mu.Unlock()

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		data, ok := strings.CutPrefix(line, audioDataPrefix)
		if !ok {
			continue
		}
		levels, err := parseLevels(strings.Trim(data, ","))
		if err != nil {
			s.log.Warn("invalid audio data", zap.String("line", line), zap.Error(err))
			continue
		}
		s.add(levels)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read audio helper: %w", err)
	}
	return nil
}

func parseLevels(data string) ([]float64, error) {
	if data == "" {
		return nil, nil
	}
	parts := strings.Split(data, ",")
	levels := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		levels[i] = v
	}
	return levels, nil
}

func (s *AudioSource) add(levels []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.rolling) != len(levels) {
		s.rolling = append(s.rolling[:0], levels...)
	} else {
		for i, v := range levels {
			s.rolling[i] = math.Max(s.rolling[i], v)
		}
	}

	now := s.now()
	if now.Sub(s.rollingStart) <= audioSampleWindow {
		return
	}
	var bass, mid, treble float64
	n := float64(len(s.rolling))
	for i, v := range s.rolling {
		switch pos := float64(i) / n; {
		case pos < midBandStart:
			bass = math.Max(bass, v)
		case pos < trebleBandStart:
			mid = math.Max(mid, v)
		default:
			treble = math.Max(treble, v)
		}
		s.rolling[i] = 0
	}
	s.rollingStart = now

	s.peaks[BandBass] = bass
	s.peaks[BandMid] = mid
	s.peaks[BandTreble] = treble
	s.peaks[BandAll] = math.Max(0, math.Min(1, bass*0.25+mid*0.45+treble*0.5))
}

// Retrieve returns the selected band level twice and resets all bands.
func (s *AudioSource) Retrieve() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	level := s.peaks[s.band]
	s.peaks = [4]float64{}
	return []float64{level, level}
}

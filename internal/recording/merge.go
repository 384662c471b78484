package recording

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/digitalcircuit/remote-haptics/internal/haptics"
)

// BackupSuffix marks editor backup copies of recordings.
const BackupSuffix = "~"

// ErrNoRecordings is returned when a merge is given no inputs.
var ErrNoRecordings = errors.New("no recordings to merge")

// MergeStats summarizes a merge.
type MergeStats struct {
	Inputs  int
	Entries int
	// Duration is the largest time delta written, relative to the earliest start.
	Duration float64
}

// Merge interleaves the entries of readers into one recording written to w.
// Readers are aligned on the earliest session start and entries are emitted in
// time order; ties go to the reader listed first among those with the same start.
func Merge(w io.Writer, readers []*Reader) (MergeStats, error) {
	if len(readers) == 0 {
		return MergeStats{}, ErrNoRecordings
	}
	sorted := append([]*Reader(nil), readers...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start().Before(sorted[j].Start())
	})
	earliest := sorted[0].Start()

	offsets := make([]float64, len(sorted))
	for i, r := range sorted {
		offsets[i] = r.Start().Sub(earliest).Seconds()
	}

	out := bufio.NewWriter(w)
	if err := writeHeader(out, earliest); err != nil {
		return MergeStats{}, err
	}

	stats := MergeStats{Inputs: len(sorted)}
	heads := make([]Entry, len(sorted))
	for {
		for i, r := range sorted {
			if heads[i] != nil {
				continue
			}
			e, err := r.Next()
			if errors.Is(err, io.EOF) {
				continue
			}
			if err != nil {
				return stats, err
			}
			heads[i] = e.WithOffset(offsets[i])
		}

		pick := -1
		for i, e := range heads {
			if e == nil {
				continue
			}
			if pick < 0 || e.TimeDelta() < heads[pick].TimeDelta() {
				pick = i
			}
		}
		if pick < 0 {
			break
		}

		e := heads[pick]
		heads[pick] = nil
		if _, err := io.WriteString(out, FormatEntry(e)+"\n"); err != nil {
			return stats, fmt.Errorf("write merged entry: %w", err)
		}
		if stats.Entries == 0 || e.TimeDelta() > stats.Duration {
			stats.Duration = e.TimeDelta()
		}
		stats.Entries++
	}

	end := earliest
	if stats.Entries > 0 {
		end = earliest.Add(haptics.Seconds(stats.Duration))
	}
	if err := writeFooter(out, end); err != nil {
		return stats, err
	}
	if err := out.Flush(); err != nil {
		return stats, fmt.Errorf("write merged recording: %w", err)
	}
	return stats, nil
}

// MergeFiles merges the recordings at inputs into output. An existing output
// is only replaced when overwrite is set. A failed merge removes output.
func MergeFiles(output string, inputs []string, overwrite bool) (MergeStats, error) {
	if len(inputs) == 0 {
		return MergeStats{}, ErrNoRecordings
	}
	readers := make([]*Reader, 0, len(inputs))
	defer func() {
		for _, r := range readers {
			r.Close()
		}
	}()
	for _, path := range inputs {
		r, err := Open(path)
		if err != nil {
			return MergeStats{}, err
		}
		readers = append(readers, r)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if !overwrite {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(output, flags, 0o644)
	if err != nil {
		return MergeStats{}, fmt.Errorf("create merged recording: %w", err)
	}
	stats, err := Merge(f, readers)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(output)
	}
	return stats, err
}

// IsBackup reports whether path names a backup copy of a recording.
func IsBackup(path string) bool {
	return strings.HasSuffix(path, BackupSuffix)
}

// FilterInputs drops backup files unless includeBackups is set.
func FilterInputs(paths []string, includeBackups bool) []string {
	if includeBackups {
		return paths
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !IsBackup(p) {
			out = append(out, p)
		}
	}
	return out
}

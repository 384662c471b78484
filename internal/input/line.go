package input

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/digitalcircuit/remote-haptics/internal/protocol"
)

// LineSource reads comma-separated intensity vectors, one per line, for
// example from a pipe on stdin. Retrieve returns the latest vector.
type LineSource struct {
	r     io.Reader
	order int
	log   *zap.Logger

	mu     sync.Mutex
	latest []float64
}

func NewLineSource(r io.Reader, order int, log *zap.Logger) *LineSource {
	if log == nil {
		log = zap.NewNop()
	}
	return &LineSource{r: r, order: order, log: log}
}

func (s *LineSource) Order() int { return s.order }

// Run returns nil at the end of input. Reads are not interruptible, so
// cancellation takes effect at the next line.
func (s *LineSource) Run(ctx context.Context) error {
	sc := bufio.NewScanner(s.r)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		values, err := protocol.ParseIntensities(line)
		if err != nil {
			s.log.Warn("ignoring input line", zap.String("line", line), zap.Error(err))
			continue
		}
		s.mu.Lock()
		s.latest = values
		s.mu.Unlock()
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read input lines: %w", err)
	}
	return nil
}

func (s *LineSource) Retrieve() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

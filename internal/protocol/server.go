package protocol

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/digitalcircuit/remote-haptics/internal/haptics"
	"github.com/digitalcircuit/remote-haptics/internal/metrics"
)

// Handler receives the session lifecycle of every connection.
// Calls for one connection are sequential; different connections call concurrently.
type Handler interface {
	SessionNew(peer string)
	SessionTypeSet(peer string, t SessionType)
	// HapticsUpdated receives capped intensities, or nil when they are cleared.
	HapticsUpdated(values []float64)
	SessionEnd(peer string)
}

// Server answers protocol commands on accepted connections.
type Server struct {
	handler Handler
	log     *zap.Logger
	now     func() time.Time

	// Strict makes a malformed session_type or txh payload fatal to the
	// connection and to Serve.
	Strict  bool
	Metrics *metrics.Metrics
}

// NewServer creates a server dispatching to h.
func NewServer(h Handler, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{handler: h, log: log, now: time.Now}
}

// Serve accepts connections on ln until ctx is cancelled, or, in strict mode,
// until a connection reports a malformed request. It closes ln and waits for
// all connections before returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	s.log.Info("protocol server listening", zap.String("addr", ln.Addr().String()), zap.Bool("strict", s.Strict))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if cause := context.Cause(ctx); cause != nil {
				if errors.Is(cause, context.Canceled) {
					return nil
				}
				return cause
			}
			ln.Close()
			return fmt.Errorf("accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.ServeConn(ctx, conn, conn.RemoteAddr().String()); err != nil {
				cancel(err)
			}
		}()
	}
}

type reply struct {
	text  string
	at    time.Time
	close bool
}

// ServeConn runs one session over rwc and closes it when done. It returns
// nil when the peer disconnects or quits, and the parse error in strict mode.
func (s *Server) ServeConn(ctx context.Context, rwc io.ReadWriteCloser, peer string) error {
	log := s.log.With(zap.String("peer", peer))
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { rwc.Close() })
	defer stop()

	log.Info("session connected")
	s.Metrics.SessionStarted()
	s.handler.SessionNew(peer)
	defer func() {
		s.handler.SessionEnd(peer)
		s.Metrics.SessionEnded()
		log.Info("session disconnected")
	}()
	s.handler.SessionTypeSet(peer, SessionUnknown)

	replies := make(chan reply, 64)
	written := make(chan struct{})
	go func() {
		defer close(written)
		s.writeReplies(ctx, rwc, replies, log)
	}()

	err := s.readCommands(ctx, rwc, peer, replies, log)
	close(replies)
	<-written
	rwc.Close()
	return err
}

func (s *Server) readCommands(ctx context.Context, r io.Reader, peer string, replies chan<- reply, log *zap.Logger) error {
	var lastAck time.Time
	send := func(text string) {
		replies <- reply{text: text + lineEnding, at: s.now()}
	}
	invalid := func(reason string) {
		s.Metrics.InvalidRequest(reason)
		send(ReplyInvalid + lineEnding + HelpText)
	}

	sc := bufio.NewScanner(r)
	sc.Split(scanCommands)
	for sc.Scan() {
		cmd := strings.TrimSpace(sc.Text())
		if cmd == "" {
			continue
		}
		name, arg, hasArg := strings.Cut(cmd, argSep)

		switch {
		case (name == CmdQuit || name == string(EOT)) && !hasArg:
			s.Metrics.Command(CmdQuit)
			replies <- reply{text: ReplyACK + lineEnding, at: s.now(), close: true}
			return nil

		case name == CmdHelp && !hasArg:
			s.Metrics.Command(name)
			send(HelpText)

		case name == CmdVersion && !hasArg:
			s.Metrics.Command(name)
			send(Version)

		case name == CmdSessionType && hasArg:
			s.Metrics.Command(name)
			t, err := ParseSessionType(arg)
			if err != nil {
				log.Warn("invalid session type", zap.String("arg", arg))
				invalid("malformed")
				if s.Strict {
					return fmt.Errorf("%s: %w", peer, err)
				}
				continue
			}
			s.Metrics.SessionType(t.String())
			s.handler.SessionTypeSet(peer, t)
			send(ReplyACK)

		case name == CmdHaptics && hasArg:
			s.Metrics.Command(name)
			values, err := ParseIntensities(arg)
			if err != nil {
				log.Warn("invalid haptics data", zap.String("arg", arg), zap.Error(err))
				invalid("malformed")
				if s.Strict {
					return fmt.Errorf("%s: %w", peer, err)
				}
				continue
			}
			s.handler.HapticsUpdated(values)

			now := s.now()
			at := now
			if next := lastAck.Add(haptics.Tick); next.After(now) {
				at = next
				s.Metrics.PacedAck()
			}
			lastAck = at
			replies <- reply{text: ReplyACK + lineEnding, at: at}

		default:
			s.Metrics.Command("unknown")
			log.Debug("unknown command", zap.String("command", cmd))
			invalid("unknown")
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
		log.Warn("read failed", zap.Error(err))
	}
	return nil
}

// writeReplies writes replies in order, each no earlier than its scheduled
// time. After a write error it keeps draining so the reader never blocks.
func (s *Server) writeReplies(ctx context.Context, w io.WriteCloser, replies <-chan reply, log *zap.Logger) {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	broken := false
	for r := range replies {
		if broken || ctx.Err() != nil {
			continue
		}
		if wait := r.at.Sub(s.now()); wait > 0 {
			timer.Reset(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				continue
			case <-timer.C:
			}
		}
		if _, err := io.WriteString(w, r.text); err != nil {
			log.Debug("write failed", zap.Error(err))
			broken = true
			continue
		}
		if r.close {
			w.Close()
		}
	}
}

// scanCommands splits on newlines, dropping a trailing carriage return, and
// returns an EOT byte as a command of its own.
func scanCommands(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\n\x04"); i >= 0 {
		if data[i] == EOT {
			if i == 0 {
				return 1, data[:1], nil
			}
			return i, data[:i], nil
		}
		return i + 1, bytes.TrimSuffix(data[:i], []byte{'\r'}), nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

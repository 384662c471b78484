package protocol

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/digitalcircuit/remote-haptics/internal/haptics"
	"github.com/digitalcircuit/remote-haptics/pkg/wsconn"
)

// State is the connection state of a Client.
type State int32

const (
	StateConnecting State = iota
	StateVersionCheck
	StateSessionTypeSet
	StateActive
	StateDisconnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateVersionCheck:
		return "version_check"
	case StateSessionTypeSet:
		return "session_type_set"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// RequestFunc returns the latest intensities to send, or nil when none are available.
type RequestFunc func() []float64

// Client sends intensities from a RequestFunc to a server as fast as the
// server acknowledges them, skipping unchanged values for up to
// DuplicateInterval.
type Client struct {
	mode    SessionType
	request RequestFunc
	log     *zap.Logger
	now     func() time.Time
	tick    time.Duration

	state atomic.Int32
	sent  atomic.Int64
}

// NewClient creates a client announcing mode and pulling values from request.
func NewClient(mode SessionType, request RequestFunc, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{mode: mode, request: request, log: log, now: time.Now, tick: haptics.Tick}
}

// State returns the current connection state.
func (c *Client) State() State { return State(c.state.Load()) }

// Sent returns the number of txh commands sent.
func (c *Client) Sent() int64 { return c.sent.Load() }

func (c *Client) setState(s State) {
	if old := State(c.state.Swap(int32(s))); old != s {
		c.log.Debug("client state", zap.Stringer("from", old), zap.Stringer("to", s))
	}
}

// Dial connects to addr and runs the session until it ends. addr is a
// host:port for TCP, or a ws:// or wss:// URL. A nil tlsConf disables
// encryption for TCP.
func (c *Client) Dial(ctx context.Context, addr string, tlsConf *tls.Config) error {
	c.setState(StateConnecting)
	rwc, err := dial(ctx, addr, tlsConf)
	if err != nil {
		c.setState(StateError)
		return err
	}
	c.log.Info("connected", zap.String("server", addr), zap.Bool("tls", tlsConf != nil))
	return c.Run(ctx, rwc)
}

func dial(ctx context.Context, addr string, tlsConf *tls.Config) (io.ReadWriteCloser, error) {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		u, err := url.Parse(addr)
		if err != nil {
			return nil, fmt.Errorf("parse server url: %w", err)
		}
		d := *websocket.DefaultDialer
		d.TLSClientConfig = tlsConf
		ws, _, err := d.DialContext(ctx, u.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("connect to %s: %w", addr, err)
		}
		return wsconn.New(ws), nil
	}

	var d interface {
		DialContext(ctx context.Context, network, addr string) (net.Conn, error)
	} = &net.Dialer{}
	if tlsConf != nil {
		d = &tls.Dialer{Config: tlsConf}
	}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	return conn, nil
}

// Run performs the handshake over rwc and then sends intensities until the
// connection is lost (nil, whether seen on read or write), ctx is cancelled
// (ctx.Err()) or the server violates the protocol (an error wrapping
// ErrProtocol). rwc is closed on return.
func (c *Client) Run(ctx context.Context, rwc io.ReadWriteCloser) error {
	defer rwc.Close()
	stop := context.AfterFunc(ctx, func() { rwc.Close() })
	defer stop()

	done := make(chan struct{})
	defer close(done)
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(rwc)
		for sc.Scan() {
			line := strings.TrimSuffix(sc.Text(), "\r")
			if line == "" {
				continue
			}
			select {
			case lines <- line:
			case <-done:
				return
			}
		}
	}()

	s := &clientSession{c: c, ctx: ctx, rwc: rwc, lines: lines}
	err := s.run()
	switch {
	case ctx.Err() != nil:
		c.setState(StateDisconnected)
		return ctx.Err()
	case errors.Is(err, ErrProtocol):
		c.setState(StateError)
		_, _ = io.WriteString(rwc, CmdQuit+lineEnding)
		c.log.Error("protocol error", zap.Error(err))
		return err
	case errors.Is(err, io.EOF), closedConn(err):
		c.setState(StateDisconnected)
		c.log.Info("disconnected")
		return nil
	case err != nil:
		c.setState(StateDisconnected)
		return err
	}
	return nil
}

// closedConn reports whether err means the server went away mid-write.
func closedConn(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}

type clientSession struct {
	c     *Client
	ctx   context.Context
	rwc   io.ReadWriteCloser
	lines <-chan string

	last     []float64
	lastSent time.Time
}

func (s *clientSession) send(cmd string) error {
	if _, err := io.WriteString(s.rwc, cmd); err != nil {
		return fmt.Errorf("send %q: %w", strings.TrimSpace(cmd), err)
	}
	return nil
}

// expect waits for the next reply and checks it against want.
func (s *clientSession) expect(want string, mismatch error) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case line, ok := <-s.lines:
		if !ok {
			return io.EOF
		}
		if line != want {
			return fmt.Errorf("%w: got %q, want %q", mismatch, line, want)
		}
		return nil
	}
}

func (s *clientSession) run() error {
	s.c.setState(StateVersionCheck)
	if err := s.send(CmdVersion + lineEnding); err != nil {
		return err
	}
	if err := s.expect(Version, ErrVersionMismatch); err != nil {
		return err
	}

	s.c.setState(StateSessionTypeSet)
	if err := s.send(command(CmdSessionType, s.c.mode.String())); err != nil {
		return err
	}
	if err := s.expect(ReplyACK, ErrProtocol); err != nil {
		return err
	}

	s.c.setState(StateActive)
	timer := time.NewTimer(s.c.tick)
	defer timer.Stop()
	for {
		sent, err := s.transmit()
		if err != nil {
			return err
		}
		if sent {
			if err := s.expect(ReplyACK, ErrProtocol); err != nil {
				return err
			}
			continue
		}

		timer.Reset(s.c.tick)
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()
		case line, ok := <-s.lines:
			if !ok {
				return io.EOF
			}
			return fmt.Errorf("%w: unexpected reply %q", ErrProtocol, line)
		case <-timer.C:
		}
	}
}

// transmit sends the current intensities unless they are unavailable or
// repeat the previous transmission within DuplicateInterval.
func (s *clientSession) transmit() (bool, error) {
	values := s.c.request()
	if len(values) == 0 {
		return false, nil
	}
	values = haptics.CapIntensities(values)
	now := s.c.now()
	if s.last != nil && haptics.Equal(values, s.last) && now.Sub(s.lastSent) < DuplicateInterval {
		return false, nil
	}
	if err := s.send(command(CmdHaptics, FormatIntensities(values))); err != nil {
		return false, err
	}
	s.last = values
	s.lastSent = now
	s.c.sent.Add(1)
	return true, nil
}

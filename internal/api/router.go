// Package api serves the receiver status API and the websocket transport of
// the line protocol.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/digitalcircuit/remote-haptics/internal/metrics"
	"github.com/digitalcircuit/remote-haptics/internal/middleware"
	"github.com/digitalcircuit/remote-haptics/internal/models"
	"github.com/digitalcircuit/remote-haptics/internal/sessionlog"
	"github.com/digitalcircuit/remote-haptics/pkg/response"
	"github.com/digitalcircuit/remote-haptics/pkg/wsconn"
)

const shutdownTimeout = 15 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Senders are command line clients, not browsers.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SessionSource reports the current receiver state.
type SessionSource interface {
	Snapshot() models.SessionSnapshot
}

// ConnServer runs one protocol session over a connection. An error from
// ServeConn is fatal to the API, as it is to the TCP listener.
type ConnServer interface {
	ServeConn(ctx context.Context, rwc io.ReadWriteCloser, peer string) error
}

// Options configures the API. Nil collaborators disable their routes.
type Options struct {
	Sessions     SessionSource
	Protocol     ConnServer
	History      sessionlog.Lister
	RecordingDir string
	Metrics      *metrics.Metrics
	Log          *zap.Logger
}

// Server is the status API.
type Server struct {
	opts   Options
	log    *zap.Logger
	router *gin.Engine

	// ctx bounds websocket sessions, which outlive http.Server.Shutdown.
	ctx    context.Context
	cancel context.CancelFunc
	fatal  chan error
}

// New builds the router.
func New(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{opts: opts, log: log, ctx: ctx, cancel: cancel, fatal: make(chan error, 1)}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(log, "/health", "/metrics"))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/session", s.session)
	router.GET("/recordings", s.recordings)
	if opts.History != nil {
		router.GET("/sessions", sessionlog.NewHandler(opts.History).List)
	} else {
		router.GET("/sessions", func(c *gin.Context) { response.ServiceUnavailable(c, "session history disabled") })
	}
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}
	if opts.Protocol != nil {
		router.GET("/ws", s.serveWs)
	}
	s.router = router
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Run listens on addr until ctx is done or a websocket session fails, then
// shuts down gracefully and ends websocket sessions.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener. It returns the error of a failed
// websocket session.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Info("status api listening", zap.String("addr", ln.Addr().String()))
		errc <- srv.Serve(ln)
	}()

	var fatal error
	select {
	case err := <-errc:
		s.cancel()
		return err
	case fatal = <-s.fatal:
		s.log.Error("websocket session failed, stopping status api", zap.Error(fatal))
	case <-ctx.Done():
	}

	s.cancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Error("status api shutdown", zap.Error(err))
		return errors.Join(fatal, err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Join(fatal, err)
	}
	s.log.Info("status api stopped")
	return fatal
}

func (s *Server) session(c *gin.Context) {
	if s.opts.Sessions == nil {
		response.ServiceUnavailable(c, "receiver not running")
		return
	}
	response.OK(c, s.opts.Sessions.Snapshot())
}

func (s *Server) recordings(c *gin.Context) {
	if s.opts.RecordingDir == "" {
		response.OK(c, gin.H{"recordings": []models.RecordingFile{}})
		return
	}
	list, err := ListRecordings(s.opts.RecordingDir, s.log)
	if err != nil {
		s.log.Error("list recordings", zap.Error(err))
		response.Internal(c, "failed to list recordings")
		return
	}
	response.OK(c, gin.H{"recordings": list})
}

// serveWs runs a protocol session over the upgraded connection.
func (s *Server) serveWs(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	conn := wsconn.New(ws)
	conn.KeepAlive()
	peer := conn.RemoteAddr()
	if err := s.opts.Protocol.ServeConn(s.ctx, conn, peer); err != nil {
		s.log.Error("websocket session ended with error", zap.String("peer", peer), zap.Error(err))
		select {
		case s.fatal <- err:
		default:
		}
	}
}

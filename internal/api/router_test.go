package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/digitalcircuit/remote-haptics/internal/metrics"
	"github.com/digitalcircuit/remote-haptics/internal/models"
	"github.com/digitalcircuit/remote-haptics/internal/protocol"
	"github.com/digitalcircuit/remote-haptics/internal/recording"
	"github.com/digitalcircuit/remote-haptics/pkg/wsconn"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type snapshotFunc func() models.SessionSnapshot

func (f snapshotFunc) Snapshot() models.SessionSnapshot { return f() }

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func get(t *testing.T, s *Server, path string) (int, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	var body envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w.Code, body
}

func TestHealthAndSession(t *testing.T) {
	s := New(Options{Sessions: snapshotFunc(func() models.SessionSnapshot {
		return models.SessionSnapshot{
			Active:  true,
			Haptics: []float64{0.5, 0.9},
			Outputs: []models.OutputState{{Device: "pad", Weak: 0.4}},
		}
	})})

	code, body := get(t, s, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok"}`, string(body.Data))

	code, body = get(t, s, "/session")
	require.Equal(t, http.StatusOK, code)
	var snap models.SessionSnapshot
	require.NoError(t, json.Unmarshal(body.Data, &snap))
	assert.True(t, snap.Active)
	assert.Equal(t, []float64{0.5, 0.9}, snap.Haptics)
	assert.Equal(t, "pad", snap.Outputs[0].Device)
}

func TestDisabledRoutes(t *testing.T) {
	s := New(Options{})
	code, body := get(t, s, "/session")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.False(t, body.Success)
	code, _ = get(t, s, "/sessions")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	code, _ = get(t, s, "/metrics")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = get(t, s, "/ws")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestMetricsRoute(t *testing.T) {
	m := metrics.New()
	m.SessionStarted()
	s := New(Options{Metrics: m})
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "remote_haptics_")
}

func writeRecording(t *testing.T, path string, values ...float64) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	w, err := recording.Create(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(values))
	require.NoError(t, w.Close())
}

func TestRecordingsRoute(t *testing.T) {
	dir := t.TempDir()
	writeRecording(t, filepath.Join(dir, "10.0.0.2", "2022-05-27 20-15-00.rec"), 0.5)
	time.Sleep(10 * time.Millisecond)
	writeRecording(t, filepath.Join(dir, "10.0.0.3", "2022-05-28 09-00-00.rec"), 0.2, 0.1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "10.0.0.3", "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.rec"), []byte("not a recording\n"), 0o644))

	s := New(Options{RecordingDir: dir, Log: zap.NewNop()})
	code, body := get(t, s, "/recordings")
	require.Equal(t, http.StatusOK, code)

	var data struct {
		Recordings []models.RecordingFile `json:"recordings"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &data))
	require.Len(t, data.Recordings, 2)
	assert.Equal(t, "10.0.0.3", data.Recordings[0].Host)
	assert.Equal(t, "10.0.0.2", data.Recordings[1].Host)
	assert.Positive(t, data.Recordings[0].Size)
	assert.False(t, data.Recordings[0].Backup)
}

func TestListRecordingsMissingDir(t *testing.T) {
	list, err := ListRecordings(filepath.Join(t.TempDir(), "none"), nil)
	require.NoError(t, err)
	assert.Empty(t, list)
}

type recordedHandler struct {
	mu      sync.Mutex
	haptics [][]float64
}

func (h *recordedHandler) SessionNew(string) {}

func (h *recordedHandler) SessionTypeSet(string, protocol.SessionType) {}

func (h *recordedHandler) SessionEnd(string) {}

func (h *recordedHandler) HapticsUpdated(values []float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.haptics = append(h.haptics, values)
}

func TestWebsocketTransport(t *testing.T) {
	h := &recordedHandler{}
	s := New(Options{Protocol: protocol.NewServer(h, zap.NewNop())})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)

	// Replies may be split across messages; read them as one stream.
	conn := wsconn.New(ws)
	defer conn.Close()
	r := bufio.NewReader(conn)

	_, err = conn.Write([]byte("session_type:live\r\ntxh:0.5,0.9\r\n"))
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, protocol.ReplyACK+"\r\n", line)
	}
	_, err = conn.Write([]byte("quit\r\n"))
	require.NoError(t, err)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Contains(t, h.haptics, []float64{0.5, 0.9})
}

func TestRunShutsDown(t *testing.T) {
	s := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("status api did not stop")
	}
}

func TestWebsocketStrictFailureStopsServe(t *testing.T) {
	h := &recordedHandler{}
	ps := protocol.NewServer(h, zap.NewNop())
	ps.Strict = true
	s := New(Options{Protocol: ps})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- s.Serve(context.Background(), ln) }()

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws", nil)
	require.NoError(t, err)
	conn := wsconn.New(ws)
	defer conn.Close()

	_, err = conn.Write([]byte("txh:abc\r\n"))
	require.NoError(t, err)
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, protocol.ReplyInvalid+"\r\n", line)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, protocol.ErrMalformed)
	case <-time.After(5 * time.Second):
		t.Fatal("strict websocket failure did not stop the status api")
	}
}

func TestWebsocketLenientKeepsServing(t *testing.T) {
	h := &recordedHandler{}
	s := New(Options{Protocol: protocol.NewServer(h, zap.NewNop())})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws", nil)
	require.NoError(t, err)
	conn := wsconn.New(ws)
	defer conn.Close()
	r := bufio.NewReader(conn)

	_, err = conn.Write([]byte("txh:abc\r\ntxh:0.5\r\n"))
	require.NoError(t, err)
	for _, want := range []string{protocol.ReplyInvalid, protocol.ReplyACK} {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, want+"\r\n", line)
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("status api did not stop")
	}
}

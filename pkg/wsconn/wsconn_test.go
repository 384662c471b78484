package wsconn

import (
	"bufio"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPair(t *testing.T) (client *Conn, server chan *Conn) {
	t.Helper()
	server = make(chan *Conn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		server <- New(ws)
	}))
	t.Cleanup(srv.Close)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	client = New(ws)
	t.Cleanup(func() { client.Close() })
	return client, server
}

func TestLinesSpanMessages(t *testing.T) {
	client, server := newPair(t)
	s := <-server
	defer s.Close()

	_, err := io.WriteString(client, "ver\r\nsession_")
	require.NoError(t, err)
	_, err = io.WriteString(client, "type:live\r\n")
	require.NoError(t, err)

	r := bufio.NewReader(s)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "ver\r\n", line)
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "session_type:live\r\n", line)
}

func TestCloseEndsPeerReads(t *testing.T) {
	client, server := newPair(t)
	s := <-server

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	buf := make([]byte, 16)
	_, err := s.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
	s.Close()
}

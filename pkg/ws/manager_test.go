package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/collision-readback/pkg/json"
)

func dial(t *testing.T, srv *httptest.Server, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	return websocket.DefaultDialer.Dial(url, header)
}

func TestManager_Broadcast(t *testing.T) {
	m := NewManager(nil)
	srv := httptest.NewServer(m)
	defer srv.Close()

	conn, _, err := dial(t, srv, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return m.Len() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, m.Broadcast("ping", map[string]int{"n": 1}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]int `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "ping", msg.Type)
	assert.Equal(t, 1, msg.Payload["n"])
}

func TestManager_DisconnectOnClientClose(t *testing.T) {
	m := NewManager(nil)
	srv := httptest.NewServer(m)
	defer srv.Close()

	conn, _, err := dial(t, srv, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return m.Len() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestManager_StalledClientDoesNotBlockBroadcast(t *testing.T) {
	m := NewManager(nil, WithSendBuffer(2))
	srv := httptest.NewServer(m)
	defer srv.Close()

	// The peer never reads, so its TCP window eventually fills.
	conn, _, err := dial(t, srv, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return m.Len() == 1 }, time.Second, 5*time.Millisecond)

	payload := strings.Repeat("x", 256<<10)
	start := time.Now()
	for i := 0; i < 200; i++ {
		require.NoError(t, m.Broadcast("frame", payload))
	}
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Positive(t, m.Dropped())
}

func TestManager_SendAfterClose(t *testing.T) {
	m := NewManager(nil)
	srv := httptest.NewServer(m)
	defer srv.Close()

	conn, _, err := dial(t, srv, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return m.Len() == 1 }, time.Second, 5*time.Millisecond)

	m.mu.RLock()
	var c Client
	for _, cl := range m.clients {
		c = cl
	}
	m.mu.RUnlock()

	m.Close()
	assert.ErrorIs(t, c.Send([]byte("late")), ErrClientClosed)
	assert.NoError(t, c.Close(), "close is idempotent")
	assert.Zero(t, m.Len())
}

func TestManager_BroadcastWithoutClients(t *testing.T) {
	assert.NoError(t, NewManager(nil).Broadcast("noop", nil))
}

func TestManager_CheckOrigin(t *testing.T) {
	t.Setenv("WS_ALLOWED_ORIGINS", "example.com,*.trusted.io")
	m := NewManager(nil)
	srv := httptest.NewServer(m)
	defer srv.Close()

	tests := []struct {
		origin string
		ok     bool
	}{
		{origin: "", ok: true},
		{origin: "https://example.com", ok: true},
		{origin: "https://app.trusted.io:8443", ok: true},
		{origin: "https://evil.com", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			conn, _, err := dial(t, srv, header)
			if tt.ok {
				require.NoError(t, err)
				conn.Close()
				return
			}
			assert.Error(t, err)
		})
	}
}

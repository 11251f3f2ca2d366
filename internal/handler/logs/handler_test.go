package logs

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/tavern-link/backend/internal/logging"
)

func setupRouter() (*chi.Mux, *logging.Broadcaster) {
	b := logging.NewBroadcaster(10)
	h := New(b)

	r := chi.NewRouter()
	h.RegisterRoutes(r)
	h.RegisterWebSocketRoutes(r)
	return r, b
}

func writeLine(t *testing.T, b *logging.Broadcaster, msg string) {
	t.Helper()
	_, err := b.Write([]byte(`{"level":"info","message":"` + msg + `"}` + "\n"))
	require.NoError(t, err)
}

func waitSubscribers(t *testing.T, b *logging.Broadcaster, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return b.Subscribers() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestRecentReturnsBufferedEntries(t *testing.T) {
	r, b := setupRouter()
	writeLine(t, b, "booted")

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/logs/recent", nil))
	require.Equal(t, http.StatusOK, resp.Code)

	var entries []map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	require.Equal(t, "booted", entries[0]["message"])
}

func TestRecentEmptyIsArray(t *testing.T) {
	r, _ := setupRouter()

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/logs/recent", nil))
	require.JSONEq(t, `[]`, resp.Body.String())
}

func TestStreamSendsHistoryThenLive(t *testing.T) {
	r, b := setupRouter()
	writeLine(t, b, "before")

	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/logs/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		var event, data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "":
				return event, data
			}
		}
	}

	event, data := readEvent()
	require.Equal(t, "history", event)
	require.Contains(t, data, "before")

	waitSubscribers(t, b, 1)
	writeLine(t, b, "after")

	event, data = readEvent()
	require.Equal(t, "log", event)
	require.Contains(t, data, "after")

	cancel()
	waitSubscribers(t, b, 0)
}

func TestWebSocketStreamsEntries(t *testing.T) {
	r, b := setupRouter()
	writeLine(t, b, "before")

	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/logs"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	var msg struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "history", msg.Type)
	require.Contains(t, string(msg.Data), "before")

	waitSubscribers(t, b, 1)
	writeLine(t, b, "live")

	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "log", msg.Type)
	require.Contains(t, string(msg.Data), "live")

	require.NoError(t, conn.Close())
	waitSubscribers(t, b, 0)
}

package ws

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaqqye/seb_monitor/internal/models"
	"github.com/zaqqye/seb_monitor/internal/monitoring"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeLookup map[string]models.ClientConnection

func (f fakeLookup) Connection(id string) (models.ClientConnection, error) {
	c, ok := f[id]
	if !ok {
		return models.ClientConnection{}, models.ErrNotFound
	}
	return c, nil
}

func newTestServer(t *testing.T, hubs *Hubs, conns ConnectionLookup) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws/monitoring/exams/:exam_id", MonitoringHandler(hubs.Monitoring))
	r.GET("/ws/client/:connection_id", ClientHandler(hubs.Client, conns))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func row(id string, status models.ConnectionStatus) monitoring.ConnectionData {
	return monitoring.NewConnectionData(
		models.ClientConnection{ID: id, ExamID: 7, Status: status},
		nil,
		func() bool { return id == "b" },
	)
}

func TestMonitoringHub_PushesFilteredRows(t *testing.T) {
	hubs := NewHubs(quietLogger())
	hubs.Start()
	srv := newTestServer(t, hubs, fakeLookup{})

	conn := dial(t, srv, "/ws/monitoring/exams/7?status=ESTABLISHED")
	require.Eventually(t, func() bool {
		return len(hubs.Monitoring.WatchedExams()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []uint{7}, hubs.Monitoring.WatchedExams())

	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	hubs.Monitoring.Broadcast(8, at, []monitoring.ConnectionData{row("other", models.StatusEstablished)})
	hubs.Monitoring.Broadcast(7, at, []monitoring.ConnectionData{
		row("a", models.StatusClosed),
		row("b", models.StatusEstablished),
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var payload struct {
		ExamID      uint `json:"exam_id"`
		Connections []struct {
			Connection struct {
				ID string `json:"id"`
			} `json:"connection"`
			Pending bool `json:"pending_notification"`
		} `json:"connections"`
	}
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, uint(7), payload.ExamID)
	require.Len(t, payload.Connections, 1)
	assert.Equal(t, "b", payload.Connections[0].Connection.ID)
	assert.True(t, payload.Connections[0].Pending)

	conn.Close()
	require.Eventually(t, func() bool {
		return len(hubs.Monitoring.WatchedExams()) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMonitoringHandler_RejectsBadInput(t *testing.T) {
	hubs := NewHubs(quietLogger())
	srv := newTestServer(t, hubs, fakeLookup{})

	for _, path := range []string{"/ws/monitoring/exams/abc", "/ws/monitoring/exams/1?status=bogus"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
	}
}

type fakeRefresher struct {
	mu    sync.Mutex
	calls []uint
}

func (f *fakeRefresher) Refresh(_ context.Context, examID uint, _ ...models.ConnectionStatus) ([]monitoring.ConnectionData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, examID)
	return nil, nil
}

func TestMonitoringHub_PublishOnlyWatchedExams(t *testing.T) {
	hub := NewMonitoringHub(quietLogger())
	src := &fakeRefresher{}

	hub.publishOnce(context.Background(), src, time.Now())
	assert.Empty(t, src.calls)

	hub.subscribe(3, 1)
	hub.publishOnce(context.Background(), src, time.Now())
	assert.Equal(t, []uint{3}, src.calls)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Publish(ctx, src, 5*time.Millisecond)
		close(done)
	}()
	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return len(src.calls) > 2
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestClientHub_DeliversInstructions(t *testing.T) {
	hubs := NewHubs(quietLogger())
	hubs.Start()
	srv := newTestServer(t, hubs, fakeLookup{
		"c1":   {ID: "c1", Status: models.StatusEstablished},
		"gone": {ID: "gone", Status: models.StatusDisabled},
	})

	resp, err := http.Get(srv.URL + "/ws/client/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/ws/client/gone")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	conn := dial(t, srv, "/ws/client/c1")
	require.Eventually(t, func() bool { return hubs.Client.Connected() == 1 }, 2*time.Second, 10*time.Millisecond)

	hubs.Client.Notify("someone-else", ClientMessage{Type: MessageQuit})
	hubs.Client.Notify("c1", ClientMessage{Type: MessageNotification, NotificationID: "n1", Kind: "LOCK_SCREEN"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg ClientMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, ClientMessage{Type: MessageNotification, NotificationID: "n1", Kind: "LOCK_SCREEN"}, msg)

	conn.Close()
	require.Eventually(t, func() bool { return hubs.Client.Connected() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestClientHub_NilIsSafe(t *testing.T) {
	var hub *ClientHub
	assert.NotPanics(t, func() { hub.Notify("c1", ClientMessage{Type: MessageQuit}) })
}

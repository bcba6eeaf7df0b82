package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inboxsift/backend/internal/monitor"
	ws "github.com/inboxsift/backend/internal/websocket"
)

func newWSServer(t *testing.T, apiKey string) (*httptest.Server, *ws.Hub) {
	t.Helper()
	log, _ := logrustest.NewNullLogger()
	hub := ws.NewHub(10, log)
	handler := NewWebSocketHandler(hub, apiKey, log)
	server := httptest.NewServer(http.HandlerFunc(handler.Handle))
	t.Cleanup(server.Close)
	return server, hub
}

func TestWebSocketHandlerDeliversEvents(t *testing.T) {
	server, hub := newWSServer(t, "secret")

	wsURL := "ws" + server.URL[4:] + "?token=secret&tenant=alice@example.com"

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.Eventually(t, func() bool {
		return hub.ActiveConnections("alice@example.com") == 1
	}, 2*time.Second, 10*time.Millisecond)

	hub.Send("alice@example.com", []byte(`{"type":"thread_updated"}`))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"thread_updated"}`, string(msg))
}

func TestWebSocketHandlerRejectsBadToken(t *testing.T) {
	server, _ := newWSServer(t, "secret")

	wsURL := "ws" + server.URL[4:] + "?token=wrong&tenant=alice@example.com"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketHandlerRequiresTenant(t *testing.T) {
	server, _ := newWSServer(t, "secret")

	wsURL := "ws" + server.URL[4:] + "?token=secret"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocketHandlerUnregistersOnClose(t *testing.T) {
	server, hub := newWSServer(t, "secret")

	wsURL := "ws" + server.URL[4:] + "?token=secret&tenant=alice@example.com"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return hub.ActiveConnections("alice@example.com") == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return hub.ActiveConnections("alice@example.com") == 0
	}, 2*time.Second, 10*time.Millisecond)
}

type fakeStatusReporter struct {
	statuses []monitor.MonitorStatus
}

func (f *fakeStatusReporter) Status() []monitor.MonitorStatus {
	return f.statuses
}

func TestStatusHandler(t *testing.T) {
	log, _ := logrustest.NewNullLogger()
	reporter := &fakeStatusReporter{statuses: []monitor.MonitorStatus{
		{Tenant: "bob@example.com", State: "idle-wait", FatalErrors: 0},
		{Tenant: "alice@example.com", State: "draining", FatalErrors: 1},
	}}
	handler := NewStatusHandler(reporter, log)

	rec := httptest.NewRecorder()
	handler.Handle(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Monitors []monitor.MonitorStatus `json:"monitors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Monitors, 2)
	assert.Equal(t, "alice@example.com", body.Monitors[0].Tenant)
	assert.Equal(t, 1, body.Monitors[0].FatalErrors)
}

func TestLabelsHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	LabelsHandler(rec, httptest.NewRequest(http.MethodGet, "/api/v1/labels", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Labels map[string]struct {
			Background string `json:"background"`
			Text       string `json:"text"`
		} `json:"labels"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	inquiry, ok := body.Labels["Inquiry"]
	require.True(t, ok, "intent labels should be present")
	assert.NotEmpty(t, inquiry.Background)

	_, ok = body.Labels["Positive"]
	assert.True(t, ok, "sentiment labels should be present")
}

func TestStatusHandlerRejectsPost(t *testing.T) {
	log, _ := logrustest.NewNullLogger()
	handler := NewStatusHandler(&fakeStatusReporter{}, log)

	rec := httptest.NewRecorder()
	handler.Handle(rec, httptest.NewRequest(http.MethodPost, "/api/v1/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

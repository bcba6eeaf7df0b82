// Package api exposes the service's HTTP surface: the event WebSocket and
// the monitoring status endpoint.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	ws "github.com/inboxsift/backend/internal/websocket"
)

// WebSocketHandler handles the /api/v1/ws endpoint for real-time thread
// events.
type WebSocketHandler struct {
	hub    *ws.Hub
	apiKey string
	log    *logrus.Logger
}

// NewWebSocketHandler creates a new WebSocketHandler instance.
func NewWebSocketHandler(hub *ws.Hub, apiKey string, log *logrus.Logger) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, apiKey: apiKey, log: log}
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins. This server is expected to be used behind a
		// reverse proxy in a trusted environment.
		return true
	},
}

// Handle upgrades the HTTP connection to a WebSocket and registers it with
// the Hub. Authentication is via query parameter (?token=...) since browser
// WebSocket connections cannot set custom headers; an Authorization header is
// accepted as a fallback for non-browser clients. The tenant to subscribe to
// is given by the tenant query parameter.
func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		authHeader := r.Header.Get("Authorization")
		fields := strings.Fields(authHeader)
		if len(fields) >= 2 && strings.EqualFold(fields[0], "Bearer") {
			token = strings.TrimSpace(strings.Join(fields[1:], " "))
		}
	}

	if h.apiKey == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.apiKey)) != 1 {
		h.log.Warn("WebSocket connection rejected: invalid token")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	tenant := r.URL.Query().Get("tenant")
	if tenant == "" {
		http.Error(w, "tenant query parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).WithField("tenant", tenant).Warn("Failed to upgrade websocket connection")
		return
	}

	client := h.hub.Register(tenant, conn)
	if client == nil {
		h.log.WithField("tenant", tenant).Warn("WebSocket connection rejected: max connections exceeded")
		return
	}

	h.log.WithField("tenant", tenant).Info("WebSocket connection established")

	go h.readLoop(tenant, client)
}

// readLoop reads messages from the WebSocket until the connection is closed,
// then unregisters the client.
func (h *WebSocketHandler) readLoop(tenant string, client *ws.Client) {
	conn := client.Conn()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.hub.Unregister(tenant, client)
}

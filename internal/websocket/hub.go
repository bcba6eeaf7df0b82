// Package websocket fans mailbox events out to connected dashboard clients.
package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Client wraps a WebSocket connection.
type Client struct {
	conn *websocket.Conn
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// Hub manages active WebSocket connections per tenant. A tenant can hold
// multiple connections (e.g. multiple dashboard tabs).
type Hub struct {
	mu           sync.RWMutex
	clients      map[string]map[*Client]struct{} // tenant -> set of clients
	maxPerTenant int
	log          *logrus.Logger
}

// NewHub creates a new Hub with a per-tenant connection limit.
func NewHub(maxPerTenant int, log *logrus.Logger) *Hub {
	if maxPerTenant <= 0 {
		maxPerTenant = 10
	}
	return &Hub{
		clients:      make(map[string]map[*Client]struct{}),
		maxPerTenant: maxPerTenant,
		log:          log,
	}
}

// Register adds a WebSocket connection for the given tenant. If the
// per-tenant limit is exceeded, the new connection is closed and nil is
// returned.
func (h *Hub) Register(tenant string, conn *websocket.Conn) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	tenantClients, ok := h.clients[tenant]
	if !ok {
		tenantClients = make(map[*Client]struct{})
		h.clients[tenant] = tenantClients
	}

	if len(tenantClients) >= h.maxPerTenant {
		h.log.WithFields(logrus.Fields{
			"tenant": tenant,
			"limit":  h.maxPerTenant,
		}).Warn("Tenant exceeded max connections, closing new connection")
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections for this tenant"),
			// Zero deadline - best effort.
			time.Time{},
		)
		_ = conn.Close()
		return nil
	}

	client := &Client{conn: conn}
	tenantClients[client] = struct{}{}
	return client
}

// Unregister removes a client for the given tenant and closes the connection.
func (h *Hub) Unregister(tenant string, client *Client) {
	if client == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	tenantClients, ok := h.clients[tenant]
	if !ok {
		_ = client.conn.Close()
		return
	}

	delete(tenantClients, client)

	if len(tenantClients) == 0 {
		delete(h.clients, tenant)
	}

	_ = client.conn.Close()
}

// Send broadcasts a message to all active clients for the tenant. Tenants
// without connections drop the message silently; events are a live feed, not
// a queue.
func (h *Hub) Send(tenant string, msg []byte) {
	// Snapshot under the lock: the live set is mutated by Register/Unregister
	// on other goroutines and must not be iterated after the lock is dropped.
	h.mu.RLock()
	tenantClients := make([]*Client, 0, len(h.clients[tenant]))
	for client := range h.clients[tenant] {
		tenantClients = append(tenantClients, client)
	}
	h.mu.RUnlock()

	for _, client := range tenantClients {
		if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.log.WithError(err).WithField("tenant", tenant).Warn("Failed to write websocket message")
			// Best-effort cleanup: unregister this client.
			go h.Unregister(tenant, client)
		}
	}
}

// ActiveConnections returns the number of active WebSocket connections for a
// tenant.
func (h *Hub) ActiveConnections(tenant string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients[tenant])
}

package relay

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
)

// EventSink consumes inbound extension events. Implemented by the
// Transport.
type EventSink interface {
	HandleEvent(tenantID string, raw []byte)
	FailTenant(tenantID, reason string)
}

// tenantConn is one live extension connection. Writes are serialized with
// a per-connection mutex because gorilla connections allow one writer.
type tenantConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *tenantConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

func (c *tenantConn) writeControl(messageType int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(messageType, nil, time.Now().Add(writeWait))
}

// Hub holds one extension connection per tenant and routes events between
// the connections and the relay transport. A new connection for a tenant
// replaces the previous one.
type Hub struct {
	logger   *zap.Logger
	sink     EventSink
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*tenantConn
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger: logger,
		conns:  make(map[string]*tenantConn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The extension connects from marketplace origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// SetSink wires the transport consuming inbound events. Called once at
// startup before any connection is accepted.
func (h *Hub) SetSink(sink EventSink) {
	h.sink = sink
}

// SendToTenant delivers one event to the tenant's extension connection.
func (h *Hub) SendToTenant(tenantID string, event interface{}) error {
	h.mu.RLock()
	conn, ok := h.conns[tenantID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no extension connection for tenant %s", tenantID)
	}
	return conn.writeJSON(event)
}

// Connected reports whether a tenant's extension is online.
func (h *Hub) Connected(tenantID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[tenantID]
	return ok
}

// HandleConnection upgrades GET /ws/extension and runs the read loop
// until the extension disconnects.
func (h *Hub) HandleConnection(c echo.Context) error {
	tenantID := c.QueryParam("tenant_id")
	if tenantID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "tenant_id is required"})
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	conn := &tenantConn{ws: ws}
	h.register(tenantID, conn)
	h.logger.Info("Extension connected", zap.String("tenant_id", tenantID))

	defer func() {
		h.unregister(tenantID, conn)
		ws.Close()
		if h.sink != nil {
			h.sink.FailTenant(tenantID, "extension disconnected")
		}
		h.logger.Info("Extension disconnected", zap.String("tenant_id", tenantID))
	}()

	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go h.pingLoop(conn, stopPing)

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("Extension read error",
					zap.String("tenant_id", tenantID), zap.Error(err))
			}
			return nil
		}
		if h.sink != nil {
			h.sink.HandleEvent(tenantID, raw)
		}
	}
}

func (h *Hub) pingLoop(conn *tenantConn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.writeControl(websocket.PingMessage); err != nil {
				return
			}
		}
	}
}

func (h *Hub) register(tenantID string, conn *tenantConn) {
	h.mu.Lock()
	old, hadOld := h.conns[tenantID]
	h.conns[tenantID] = conn
	h.mu.Unlock()
	if hadOld {
		old.ws.Close()
	}
}

func (h *Hub) unregister(tenantID string, conn *tenantConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	// Only remove our own entry; a reconnect may have replaced it already.
	if current, ok := h.conns[tenantID]; ok && current == conn {
		delete(h.conns, tenantID)
	}
}

package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zot/repertoire/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

type requestIDKey struct{}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// WebSocketEndpoint handles WebSocket connections. Each text frame holds one
// protocol message or an array of them; each is answered with one response
// frame per message, in order.
type WebSocketEndpoint struct {
	handler     *protocol.Handler
	log         *zap.SugaredLogger
	connections map[string]*websocket.Conn // connectionID -> conn
	mu          sync.RWMutex
	wg          sync.WaitGroup
}

// NewWebSocketEndpoint creates a new WebSocket endpoint.
func NewWebSocketEndpoint(handler *protocol.Handler, log *zap.SugaredLogger) *WebSocketEndpoint {
	return &WebSocketEndpoint{
		handler:     handler,
		log:         log,
		connections: make(map[string]*websocket.Conn),
	}
}

// HandleWebSocket handles incoming WebSocket connections.
func (ws *WebSocketEndpoint) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.log.Warnw("WebSocket upgrade failed", "request", requestID(r.Context()), "error", err)
		return
	}

	connectionID := uuid.NewString()

	ws.mu.Lock()
	ws.connections[connectionID] = conn
	ws.mu.Unlock()

	ws.log.Infow("WebSocket connected", "conn", connectionID, "request", requestID(r.Context()))

	ws.wg.Add(1)
	go ws.readPump(connectionID, conn)
}

// readPump reads messages from a WebSocket connection until it closes.
func (ws *WebSocketEndpoint) readPump(connectionID string, conn *websocket.Conn) {
	defer func() {
		ws.onDisconnect(connectionID)
		conn.Close()
		ws.wg.Done()
	}()

	for {
		kind, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.log.Warnw("WebSocket error", "conn", connectionID, "error", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		if err := ws.processMessage(connectionID, conn, message); err != nil {
			ws.log.Warnw("WebSocket write failed", "conn", connectionID, "error", err)
			return
		}
	}
}

// processMessage handles one or more messages read from a frame.
func (ws *WebSocketEndpoint) processMessage(connectionID string, conn *websocket.Conn, message []byte) (err error) {
	// Recover from panics to prevent server crashes
	defer func() {
		if r := recover(); r != nil {
			ws.log.Errorw("panic in processMessage", "conn", connectionID, "panic", r)
			err = conn.WriteJSON(&protocol.Response{Error: "internal error", Code: protocol.CodeInternal})
		}
	}()

	msgs, err := protocol.ParseMessages(message)
	if err != nil {
		ws.log.Debugw("failed to parse message", "conn", connectionID, "error", err)
		return conn.WriteJSON(&protocol.Response{Error: "Invalid JSON", Code: protocol.CodeInvalid})
	}

	ctx := withRequestID(context.Background(), connectionID)
	for _, msg := range msgs {
		resp := ws.handler.HandleMessage(ctx, msg)
		if err := conn.WriteJSON(resp); err != nil {
			return err
		}
	}
	return nil
}

// onDisconnect handles connection close.
func (ws *WebSocketEndpoint) onDisconnect(connectionID string) {
	ws.mu.Lock()
	delete(ws.connections, connectionID)
	ws.mu.Unlock()

	ws.log.Infow("WebSocket disconnected", "conn", connectionID)
}

// Connections returns the number of open connections.
func (ws *WebSocketEndpoint) Connections() int {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return len(ws.connections)
}

// Close closes every open connection and waits for their readers to stop.
func (ws *WebSocketEndpoint) Close() {
	ws.mu.RLock()
	for _, conn := range ws.connections {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
		conn.Close()
	}
	ws.mu.RUnlock()
	ws.wg.Wait()
}

package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zot/repertoire/internal/protocol"
	"github.com/zot/repertoire/internal/storage"
)

// RequestIDHeader carries the request id assigned to every HTTP request.
const RequestIDHeader = "X-Request-ID"

// maxBody limits request bodies; batch imports are the largest.
const maxBody = 32 << 20

// HTTPEndpoint serves the REST routes and the WebSocket upgrade.
type HTTPEndpoint struct {
	handler *protocol.Handler
	ws      *WebSocketEndpoint
	log     *zap.SugaredLogger
	mux     *http.ServeMux
}

// NewHTTPEndpoint creates a new HTTP endpoint.
func NewHTTPEndpoint(handler *protocol.Handler, ws *WebSocketEndpoint, log *zap.SugaredLogger) *HTTPEndpoint {
	h := &HTTPEndpoint{
		handler: handler,
		ws:      ws,
		log:     log,
		mux:     http.NewServeMux(),
	}
	h.setupRoutes()
	return h
}

// setupRoutes configures HTTP routes.
func (h *HTTPEndpoint) setupRoutes() {
	h.mux.HandleFunc("GET /api/{table}", h.handleList)
	h.mux.HandleFunc("POST /api/{table}", h.handleCreate)
	h.mux.HandleFunc("POST /api/{table}/batch", h.handleBatch)
	h.mux.HandleFunc("GET /api/{table}/{code}", h.codeRoute(protocol.MsgGet))
	h.mux.HandleFunc("DELETE /api/{table}/{code}", h.codeRoute(protocol.MsgDelete))
	h.mux.HandleFunc("GET /api/{table}/{code}/references", h.codeRoute(protocol.MsgReferences))
	h.mux.HandleFunc("PUT /api/{table}/{code}", h.bodyRoute(protocol.MsgUpdate, "entry"))
	h.mux.HandleFunc("PATCH /api/{table}/{code}", h.bodyRoute(protocol.MsgPatch, "patch"))
	h.mux.HandleFunc("POST /api/{table}/{code}/rename", h.handleRename)
	h.mux.HandleFunc("POST /api/messages", h.handleMessages)
	h.mux.HandleFunc("GET /ws", h.ws.HandleWebSocket)
}

// ServeHTTP implements http.Handler. Every request is tagged with a request
// id and logged once it completes.
func (h *HTTPEndpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set(RequestIDHeader, id)

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	start := time.Now()
	h.mux.ServeHTTP(rec, r.WithContext(withRequestID(r.Context(), id)))
	h.log.Debugw("request",
		"request", id,
		"method", r.Method,
		"path", r.URL.Path,
		"status", rec.status,
		"elapsed", time.Since(start),
	)
}

func (h *HTTPEndpoint) handleList(w http.ResponseWriter, r *http.Request) {
	var m protocol.ListMessage
	q := r.URL.Query()
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil {
			h.writeError(w, "offset must be an integer", http.StatusBadRequest)
			return
		}
		m.Offset = offset
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			h.writeError(w, "limit must be an integer", http.StatusBadRequest)
			return
		}
		m.Limit = &limit
	}
	h.dispatch(w, r, protocol.MsgList, m)
}

func (h *HTTPEndpoint) handleCreate(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	h.dispatch(w, r, protocol.MsgCreate, body)
}

func (h *HTTPEndpoint) handleBatch(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	h.dispatch(w, r, protocol.MsgBatch, map[string]json.RawMessage{"entries": body})
}

func (h *HTTPEndpoint) handleRename(w http.ResponseWriter, r *http.Request) {
	var body struct {
		To json.RawMessage `json:"to"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&body); err != nil || body.To == nil {
		h.writeError(w, "body must be {\"to\": code}", http.StatusBadRequest)
		return
	}
	h.dispatch(w, r, protocol.MsgRename, map[string]any{
		"code": r.PathValue("code"),
		"to":   body.To,
	})
}

// codeRoute serves messages addressed by the code in the path.
func (h *HTTPEndpoint) codeRoute(t protocol.MessageType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.dispatch(w, r, t, map[string]string{"code": r.PathValue("code")})
	}
}

// bodyRoute serves messages carrying the request body under key.
func (h *HTTPEndpoint) bodyRoute(t protocol.MessageType, key string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := h.readBody(w, r)
		if !ok {
			return
		}
		h.dispatch(w, r, t, map[string]any{
			"code": r.PathValue("code"),
			key:    body,
		})
	}
}

// handleMessages accepts raw protocol messages, singly or as an array.
func (h *HTTPEndpoint) handleMessages(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	msgs, err := protocol.ParseMessages(body)
	if err != nil {
		h.writeError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	resps := h.handler.HandleMessages(r.Context(), msgs)
	if len(body) > 0 && body[0] == '[' {
		h.writeJSON(w, http.StatusOK, resps)
		return
	}
	if len(resps) == 0 {
		h.writeError(w, "no message", http.StatusBadRequest)
		return
	}
	h.writeJSON(w, StatusFor(resps[0]), resps[0])
}

// dispatch builds a protocol message for the path's table and writes the
// handler's response.
func (h *HTTPEndpoint) dispatch(w http.ResponseWriter, r *http.Request, t protocol.MessageType, data any) {
	msg, err := protocol.NewMessage(t, storage.Table(r.PathValue("table")), data)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp := h.handler.HandleMessage(r.Context(), msg)
	if resp.Code == protocol.CodeInternal {
		h.log.Errorw("request failed", "request", requestID(r.Context()), "type", t, "table", msg.Table)
	}
	h.writeJSON(w, StatusFor(resp), resp)
}

func (h *HTTPEndpoint) readBody(w http.ResponseWriter, r *http.Request) (json.RawMessage, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		h.writeError(w, "failed to read body", http.StatusBadRequest)
		return nil, false
	}
	if !json.Valid(body) {
		h.writeError(w, "Invalid JSON", http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

// writeError writes an error response.
func (h *HTTPEndpoint) writeError(w http.ResponseWriter, message string, status int) {
	h.writeJSON(w, status, protocol.Response{Error: message, Code: protocol.CodeInvalid})
}

func (h *HTTPEndpoint) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warnw("failed to write response", "error", err)
	}
}

// StatusFor maps a response's error code to an HTTP status.
func StatusFor(resp *protocol.Response) int {
	switch resp.Code {
	case "":
		return http.StatusOK
	case protocol.CodeNotFound:
		return http.StatusNotFound
	case protocol.CodeConflict, protocol.CodeReferenced:
		return http.StatusConflict
	case protocol.CodeInvalid:
		return http.StatusUnprocessableEntity
	case protocol.CodeExhausted:
		return http.StatusInsufficientStorage
	}
	return http.StatusInternalServerError
}

// statusRecorder captures the status written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack hands the connection to the WebSocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer cannot be hijacked")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

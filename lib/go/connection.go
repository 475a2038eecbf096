// Package repclient provides a client library for the repertoire WebSocket
// endpoint.
package repclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// Table names a table on the server.
type Table string

// Tables addressed by the client.
const (
	Glyphs     Table = "form"
	Characters Table = "repertoire"
)

// Error codes reported by the server.
const (
	CodeNotFound   = "not-found"
	CodeConflict   = "conflict"
	CodeReferenced = "referenced"
	CodeExhausted  = "exhausted"
	CodeInvalid    = "invalid"
	CodeInternal   = "internal"
)

// Message is one request sent to the server.
type Message struct {
	Type  string          `json:"type"`
	Table Table           `json:"table"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a message, encoding data as its payload.
func NewMessage(msgType string, table Table, data any) (*Message, error) {
	var raw json.RawMessage
	if data != nil {
		var err error
		if raw, err = json.Marshal(data); err != nil {
			return nil, err
		}
	}
	return &Message{Type: msgType, Table: table, Data: raw}, nil
}

// Ref identifies an entry in responses.
type Ref struct {
	Table Table  `json:"table,omitempty"`
	Code  rune   `json:"unicode"`
	Char  string `json:"char"`
}

// Connection represents a connection to a repertoire server.
type Connection struct {
	conn      *websocket.Conn
	connected bool
	onClose   func()
	mu        sync.RWMutex
	sendMu    sync.Mutex
}

// Response is a protocol response with its result left undecoded.
type Response struct {
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Code      string          `json:"code,omitempty"`
	Retryable bool            `json:"retryable,omitempty"`
}

// Error is a failure reported by the server.
type Error struct {
	Code      string
	Message   string
	Retryable bool
	Result    json.RawMessage
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsCode reports whether err is a server error with the given code, such as
// CodeNotFound.
func IsCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// NewConnection creates a new repertoire connection.
func NewConnection() *Connection {
	return &Connection{}
}

// Connect dials the WebSocket endpoint, e.g. "ws://127.0.0.1:8080/ws".
func (c *Connection) Connect(url string) error {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	return nil
}

// Disconnect closes the connection.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}

	c.connected = false
	if c.onClose != nil {
		c.onClose()
	}

	return c.conn.Close()
}

// IsConnected returns the connection state.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// OnClose registers a callback for connection close.
func (c *Connection) OnClose(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = fn
}

// Send sends one message and waits for its response.
func (c *Connection) Send(msg *Message) (*Response, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.IsConnected() {
		return nil, fmt.Errorf("not connected")
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		return nil, err
	}
	var resp Response
	if err := c.conn.ReadJSON(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// call sends a message and decodes its result into out, which may be nil.
func (c *Connection) call(msgType string, table Table, data, out any) error {
	msg, err := NewMessage(msgType, table, data)
	if err != nil {
		return err
	}
	resp, err := c.Send(msg)
	if err != nil {
		return err
	}
	if resp.Error != "" {
		return &Error{Code: resp.Code, Message: resp.Error, Retryable: resp.Retryable, Result: resp.Result}
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Result, out)
}

type codeData struct {
	Code rune `json:"code"`
}

// Glyph fetches a glyph.
func (c *Connection) Glyph(code rune) (*Glyph, error) {
	var g Glyph
	if err := c.call("get", Glyphs, codeData{code}, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// Character fetches a character.
func (c *Connection) Character(code rune) (*Character, error) {
	var ch Character
	if err := c.call("get", Characters, codeData{code}, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// List decodes a page of table into out, a pointer to a slice of glyphs or
// characters, and returns the table's total. A negative limit lists all.
func (c *Connection) List(table Table, offset, limit int, out any) (int, error) {
	var resp struct {
		Entries json.RawMessage `json:"entries"`
		Total   int             `json:"total"`
	}
	page := map[string]int{"offset": offset, "limit": limit}
	if err := c.call("list", table, page, &resp); err != nil {
		return 0, err
	}
	return resp.Total, json.Unmarshal(resp.Entries, out)
}

// Create creates an entry and returns its code.
func (c *Connection) Create(table Table, entry any) (rune, error) {
	var ref Ref
	if err := c.call("create", table, entry, &ref); err != nil {
		return 0, err
	}
	return ref.Code, nil
}

// Update replaces the entry at code.
func (c *Connection) Update(table Table, code rune, entry any) error {
	return c.call("update", table, map[string]any{"code": code, "entry": entry}, nil)
}

// Patch replaces the patchable fields of a character.
func (c *Connection) Patch(code rune, patch *CharacterPatch) error {
	return c.call("patch", Characters, map[string]any{"code": code, "patch": patch}, nil)
}

// Delete removes an unreferenced entry.
func (c *Connection) Delete(table Table, code rune) error {
	return c.call("delete", table, codeData{code}, nil)
}

// Rename moves an entry to a new code and rewrites every reference to it.
func (c *Connection) Rename(table Table, from, to rune) error {
	return c.call("rename", table, map[string]rune{"code": from, "to": to}, nil)
}

// References lists the entries referring to code.
func (c *Connection) References(table Table, code rune) ([]Ref, error) {
	var resp struct {
		Referrers []Ref `json:"referrers"`
	}
	if err := c.call("references", table, codeData{code}, &resp); err != nil {
		return nil, err
	}
	return resp.Referrers, nil
}

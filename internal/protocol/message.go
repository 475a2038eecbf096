// Package protocol implements the repertoire message protocol shared by the
// WebSocket endpoint, the HTTP routes and the MCP tools.
package protocol

import (
	"encoding/json"
	"fmt"
	"unicode"

	"github.com/zot/repertoire/internal/glyph"
	"github.com/zot/repertoire/internal/storage"
)

// MessageType identifies the type of protocol message.
type MessageType string

const (
	// Reads
	MsgGet        MessageType = "get"
	MsgList       MessageType = "list"
	MsgReferences MessageType = "references"

	// Writes
	MsgCreate MessageType = "create"
	MsgUpdate MessageType = "update"
	MsgPatch  MessageType = "patch"
	MsgDelete MessageType = "delete"
	MsgRename MessageType = "rename"
	MsgBatch  MessageType = "batch"
)

// Message is the base protocol message structure. Table is "form" or
// "repertoire".
type Message struct {
	Type  MessageType     `json:"type"`
	Table storage.Table   `json:"table"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Code is an entry code in a request: a number, or a string accepted by
// glyph.ParseCode such as "U+4E2D" or "中".
type Code rune

// UnmarshalJSON accepts a JSON number or string.
func (c *Code) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		if n < 0 || n > unicode.MaxRune {
			return fmt.Errorf("code %d out of range", n)
		}
		*c = Code(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("code must be a number or a string: %w", err)
	}
	r, err := glyph.ParseCode(s)
	if err != nil {
		return err
	}
	*c = Code(r)
	return nil
}

// CodeMessage addresses one entry (get, delete, references).
type CodeMessage struct {
	Code Code `json:"code"`
}

// ListMessage requests a page of entries. A missing limit reads to the end.
type ListMessage struct {
	Offset int  `json:"offset,omitempty"`
	Limit  *int `json:"limit,omitempty"`
}

// UpdateMessage replaces an entry.
type UpdateMessage struct {
	Code  Code            `json:"code"`
	Entry json.RawMessage `json:"entry"`
}

// PatchMessage replaces the patchable fields of a character.
type PatchMessage struct {
	Code  Code                 `json:"code"`
	Patch glyph.CharacterPatch `json:"patch"`
}

// RenameMessage moves an entry to a new code.
type RenameMessage struct {
	Code Code `json:"code"`
	To   Code `json:"to"`
}

// BatchMessage imports entries in one transaction.
type BatchMessage struct {
	Entries []json.RawMessage `json:"entries"`
}

// EntryCode identifies an entry in responses.
type EntryCode struct {
	Table storage.Table `json:"table,omitempty"`
	Code  rune          `json:"unicode"`
	Char  string        `json:"char"`
}

// NewEntryCode builds an EntryCode, spelling out the character.
func NewEntryCode(table storage.Table, code rune) EntryCode {
	return EntryCode{Table: table, Code: code, Char: string(code)}
}

// ListResponse is a page of entries with the table's total.
type ListResponse struct {
	Entries any `json:"entries"`
	Total   int `json:"total"`
}

// ReferencesResponse lists the entries referencing a code.
type ReferencesResponse struct {
	Referrers []EntryCode `json:"referrers"`
}

// BatchResponse lists imported codes in input order.
type BatchResponse struct {
	Codes []EntryCode `json:"codes"`
}

// Response wraps handler results. On failure Error is a description and Code
// one of the one-word error codes.
type Response struct {
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// OK reports whether the response carries no error.
func (r *Response) OK() bool {
	return r.Error == ""
}

// ParseMessage parses a raw JSON message.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ParseMessages parses raw JSON holding a single message or an array of them.
func ParseMessages(data []byte) ([]*Message, error) {
	if len(data) == 0 {
		return nil, nil
	}

	switch data[0] {
	case '[':
		var msgs []Message
		if err := json.Unmarshal(data, &msgs); err != nil {
			return nil, err
		}
		result := make([]*Message, len(msgs))
		for i := range msgs {
			result[i] = &msgs[i]
		}
		return result, nil
	case '{':
		msg, err := ParseMessage(data)
		if err != nil {
			return nil, err
		}
		return []*Message{msg}, nil
	default:
		return nil, fmt.Errorf("message must be an object or an array")
	}
}

// NewMessage creates a new message with the given type, table and data.
func NewMessage(msgType MessageType, table storage.Table, data any) (*Message, error) {
	var raw json.RawMessage
	if data != nil {
		var err error
		raw, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}
	return &Message{
		Type:  msgType,
		Table: table,
		Data:  raw,
	}, nil
}

// Encode serializes a message to JSON.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

package protocol

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/zot/repertoire/internal/glyph"
	"github.com/zot/repertoire/internal/repository"
	"github.com/zot/repertoire/internal/storage"
)

// Handler processes protocol messages against the two repositories.
type Handler struct {
	glyphs     *repository.Repository[*glyph.Glyph]
	characters *repository.Repository[*glyph.Character]
	log        *zap.SugaredLogger
}

// NewHandler creates a new protocol handler. A nil logger discards output.
func NewHandler(glyphs *repository.Repository[*glyph.Glyph], characters *repository.Repository[*glyph.Character], log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Handler{
		glyphs:     glyphs,
		characters: characters,
		log:        log,
	}
}

// Glyphs returns the glyph repository.
func (h *Handler) Glyphs() *repository.Repository[*glyph.Glyph] {
	return h.glyphs
}

// Characters returns the character repository.
func (h *Handler) Characters() *repository.Repository[*glyph.Character] {
	return h.characters
}

// HandleMessage processes an incoming protocol message. Failures are reported
// in the response rather than returned.
func (h *Handler) HandleMessage(ctx context.Context, msg *Message) *Response {
	h.log.Debugw("message", "type", msg.Type, "table", msg.Table)

	var (
		result any
		err    error
	)
	switch msg.Table {
	case storage.TableGlyph:
		result, err = dispatch(ctx, h.glyphs, msg)
	case storage.TableCharacter:
		if msg.Type == MsgPatch {
			result, err = h.handlePatch(ctx, msg.Data)
		} else {
			result, err = dispatch(ctx, h.characters, msg)
		}
	default:
		err = fmt.Errorf("%w: unknown table %q", ErrInvalidMessage, msg.Table)
	}
	if err != nil {
		return ErrorResponse(err)
	}
	return &Response{Result: result}
}

// HandleMessages processes messages in order and returns one response each.
func (h *Handler) HandleMessages(ctx context.Context, msgs []*Message) []*Response {
	out := make([]*Response, len(msgs))
	for i, msg := range msgs {
		out[i] = h.HandleMessage(ctx, msg)
	}
	return out
}

func dispatch[T any](ctx context.Context, r *repository.Repository[*T], msg *Message) (any, error) {
	switch msg.Type {
	case MsgGet:
		var m CodeMessage
		if err := unmarshal(msg.Data, &m); err != nil {
			return nil, err
		}
		return r.Get(ctx, rune(m.Code))

	case MsgList:
		var m ListMessage
		if len(msg.Data) > 0 {
			if err := unmarshal(msg.Data, &m); err != nil {
				return nil, err
			}
		}
		limit := -1
		if m.Limit != nil {
			limit = *m.Limit
		}
		entries, total, err := r.List(ctx, m.Offset, limit)
		if err != nil {
			return nil, err
		}
		return ListResponse{Entries: entries, Total: total}, nil

	case MsgCreate:
		e, err := decodeEntry[T](msg.Data)
		if err != nil {
			return nil, err
		}
		code, err := r.Create(ctx, e)
		if err != nil {
			return nil, err
		}
		return NewEntryCode(r.Table(), code), nil

	case MsgUpdate:
		var m UpdateMessage
		if err := unmarshal(msg.Data, &m); err != nil {
			return nil, err
		}
		e, err := decodeEntry[T](m.Entry)
		if err != nil {
			return nil, err
		}
		if err := r.Update(ctx, rune(m.Code), e); err != nil {
			return nil, err
		}
		return NewEntryCode(r.Table(), rune(m.Code)), nil

	case MsgDelete:
		var m CodeMessage
		if err := unmarshal(msg.Data, &m); err != nil {
			return nil, err
		}
		if err := r.Delete(ctx, rune(m.Code)); err != nil {
			return nil, err
		}
		return NewEntryCode(r.Table(), rune(m.Code)), nil

	case MsgRename:
		var m RenameMessage
		if err := unmarshal(msg.Data, &m); err != nil {
			return nil, err
		}
		if err := r.Rename(ctx, rune(m.Code), rune(m.To)); err != nil {
			return nil, err
		}
		return NewEntryCode(r.Table(), rune(m.To)), nil

	case MsgReferences:
		var m CodeMessage
		if err := unmarshal(msg.Data, &m); err != nil {
			return nil, err
		}
		refs, err := r.ReferencedBy(ctx, rune(m.Code))
		if err != nil {
			return nil, err
		}
		return referrers(refs), nil

	case MsgBatch:
		var m BatchMessage
		if err := unmarshal(msg.Data, &m); err != nil {
			return nil, err
		}
		entries := make([]*T, len(m.Entries))
		for i, raw := range m.Entries {
			var err error
			if entries[i], err = decodeEntry[T](raw); err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
		}
		codes, err := r.Import(ctx, entries)
		if err != nil {
			return nil, err
		}
		resp := BatchResponse{Codes: make([]EntryCode, len(codes))}
		for i, code := range codes {
			resp.Codes[i] = NewEntryCode(r.Table(), code)
		}
		return resp, nil

	case MsgPatch:
		return nil, fmt.Errorf("%w: patch is not supported for table %s", ErrInvalidMessage, r.Table())
	}
	return nil, fmt.Errorf("%w: unknown message type %q", ErrInvalidMessage, msg.Type)
}

// handlePatch processes a character patch message.
func (h *Handler) handlePatch(ctx context.Context, data json.RawMessage) (any, error) {
	var m PatchMessage
	if err := unmarshal(data, &m); err != nil {
		return nil, err
	}
	err := h.characters.Patch(ctx, rune(m.Code), func(c *glyph.Character) {
		m.Patch.Apply(c)
	})
	if err != nil {
		return nil, err
	}
	return NewEntryCode(storage.TableCharacter, rune(m.Code)), nil
}

func unmarshal(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", ErrInvalidMessage)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}

func decodeEntry[T any](data json.RawMessage) (*T, error) {
	e := new(T)
	if err := unmarshal(data, e); err != nil {
		return nil, err
	}
	return e, nil
}

func referrers(refs []storage.Ref) ReferencesResponse {
	resp := ReferencesResponse{Referrers: make([]EntryCode, len(refs))}
	for i, ref := range refs {
		resp.Referrers[i] = NewEntryCode(ref.Table, ref.Code)
	}
	return resp
}

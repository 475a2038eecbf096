package protocol

import (
	"errors"

	"github.com/zot/repertoire/internal/alloc"
	"github.com/zot/repertoire/internal/codec"
	"github.com/zot/repertoire/internal/repository"
)

// One-word error codes carried in Response.Code.
const (
	CodeNotFound   = "not-found"
	CodeConflict   = "conflict"
	CodeReferenced = "referenced"
	CodeExhausted  = "exhausted"
	CodeInvalid    = "invalid"
	CodeInternal   = "internal"
)

// ErrInvalidMessage is returned for messages the handler cannot interpret.
var ErrInvalidMessage = errors.New("invalid message")

// ErrorCode maps an error to its one-word code.
func ErrorCode(err error) string {
	var ce *codec.Error
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, repository.ErrConflict):
		return CodeConflict
	case errors.Is(err, repository.ErrReferenced):
		return CodeReferenced
	case errors.Is(err, alloc.ErrExhausted):
		return CodeExhausted
	case errors.Is(err, repository.ErrInvalidReference),
		errors.Is(err, ErrInvalidMessage),
		errors.As(err, &ce):
		return CodeInvalid
	}
	return CodeInternal
}

// ErrorResponse builds the response for a failed operation. Internal failures
// are reported without their cause.
func ErrorResponse(err error) *Response {
	code := ErrorCode(err)
	resp := &Response{Error: err.Error(), Code: code}
	if code == CodeInternal {
		resp.Error = "internal error"
	}
	if repository.IsRetryable(err) {
		resp.Retryable = true
	}
	var re *repository.ReferencedError
	if errors.As(err, &re) {
		resp.Result = referrers(re.Referrers)
	}
	return resp
}

// Package inference calls the language-model backend. The backend is
// treated as an opaque gateway: a model name and prompt go in, a loosely
// shaped JSON payload comes out.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
)

// UnexpectedReply is returned by Result.Reply when the backend payload
// matches none of the known shapes. It is served to the client as-is
// rather than failing the request.
const UnexpectedReply = "AI response format was unexpected."

// Service performs a single inference call.
type Service interface {
	// Generate runs the named model over the prompt.
	Generate(ctx context.Context, model, prompt string) (*Result, error)
}

// Result wraps the raw backend payload. The backend is not guaranteed to
// return a stable shape, so extraction is deferred to Reply.
type Result struct {
	raw json.RawMessage
}

// NewResult wraps a raw backend payload.
func NewResult(raw json.RawMessage) *Result {
	return &Result{raw: raw}
}

// TextResult builds a Result holding a plain text payload. Useful for
// tests and backends that already yield a string.
func TextResult(text string) *Result {
	data, _ := json.Marshal(text)
	return &Result{raw: data}
}

// Reply extracts the reply text, trying each known payload shape in
// order: a bare JSON string, an object with "output_text", an object
// with "response". Anything else yields UnexpectedReply.
func (r *Result) Reply() string {
	if r == nil || len(r.raw) == 0 {
		return UnexpectedReply
	}

	// json.Unmarshal leaves a string untouched on a literal null, which
	// would masquerade as an empty reply.
	if string(bytes.TrimSpace(r.raw)) == "null" {
		return UnexpectedReply
	}

	var text string
	if err := json.Unmarshal(r.raw, &text); err == nil {
		return text
	}

	var obj struct {
		OutputText string `json:"output_text"`
		Response   string `json:"response"`
	}
	if err := json.Unmarshal(r.raw, &obj); err == nil {
		if obj.OutputText != "" {
			return obj.OutputText
		}
		if obj.Response != "" {
			return obj.Response
		}
	}

	return UnexpectedReply
}

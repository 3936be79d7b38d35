// Package protocol maps the supported wire formats onto a single internal
// request/response envelope.
//
// An Adapter is a pair of pure functions over one wire format: Decode turns
// a raw body into the envelope, Encode (and EncodeStream for SSE) turns the
// peer's utterance back into that format. Adapters never touch sessions or
// the network; the web layer owns all I/O.
package protocol

import (
	"strings"
	"unicode"

	"github.com/motiveproxy/motiveproxy/internal/apierr"
)

// Request is the wire-format-independent inbound envelope. Only Utterance
// crosses the session boundary; everything else a client sends (sampling
// parameters, system prompts, history) is accepted and discarded.
type Request struct {
	// SessionID is the rendezvous key, carried in the "model" field.
	SessionID string
	// Utterance is the content of the last user-role message.
	Utterance string
	// Stream selects SSE chunked encoding of the response.
	Stream bool
}

// Response is the wire-format-independent outbound envelope.
type Response struct {
	// Utterance is the peer's message, returned verbatim as this
	// request's completion.
	Utterance string
}

// StreamEvent is one SSE record produced by EncodeStream. Name is the
// optional "event:" field (Anthropic uses it, OpenAI does not); Data is the
// raw payload for the "data:" field.
type StreamEvent struct {
	Name string
	Data string
}

// Adapter translates between one wire format and the envelope.
type Adapter interface {
	// Name is a short tag for logs and metrics ("openai", "anthropic").
	Name() string
	// Path is the endpoint this adapter serves.
	Path() string
	// Decode parses a raw request body. Failures are *apierr.Error:
	// schema_error when the body cannot be decoded at all, invalid_request
	// when it decodes but violates semantic rules.
	Decode(body []byte) (*Request, error)
	// Encode renders a non-streaming response body.
	Encode(req *Request, resp *Response) ([]byte, error)
	// EncodeStream renders the response as an ordered SSE event sequence,
	// including the adapter's terminator.
	EncodeStream(req *Request, resp *Response) []StreamEvent
}

// Registry holds the registered adapters keyed by endpoint path. It is
// populated at construction and read-only afterwards, so no locking.
type Registry struct {
	byPath map[string]Adapter
}

// NewRegistry creates a registry containing the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{byPath: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.byPath[a.Path()] = a
	}
	return r
}

// ByPath returns the adapter serving path, or nil.
func (r *Registry) ByPath(path string) Adapter {
	return r.byPath[path]
}

// Paths lists the registered endpoint paths.
func (r *Registry) Paths() []string {
	paths := make([]string, 0, len(r.byPath))
	for p := range r.byPath {
		paths = append(paths, p)
	}
	return paths
}

// splitSegments cuts an utterance into coarse streaming segments: each
// segment is a run of non-space characters plus the whitespace that follows
// it, so concatenating the segments reproduces the input exactly.
func splitSegments(s string) []string {
	var segs []string
	start := 0
	inSpace := false
	for i, r := range s {
		isSpace := unicode.IsSpace(r)
		if inSpace && !isSpace {
			segs = append(segs, s[start:i])
			start = i
		}
		inSpace = isSpace
	}
	if start < len(s) {
		segs = append(segs, s[start:])
	}
	return segs
}

// errNoUserMessage is the shared semantic failure for a messages array
// that contains no user-role entry.
func errNoUserMessage() error {
	return apierr.E(apierr.KindInvalidRequest, "no_user_message",
		"no user message found in messages array")
}

// errEmptySessionID is the shared semantic failure for a missing or blank
// model field.
func errEmptySessionID() error {
	return apierr.E(apierr.KindInvalidRequest, "empty_session_id",
		"model field must be a non-empty session id")
}

// blank reports whether s is empty after trimming whitespace.
func blank(s string) bool { return strings.TrimSpace(s) == "" }

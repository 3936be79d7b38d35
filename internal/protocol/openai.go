package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/motiveproxy/motiveproxy/internal/apierr"
)

// OpenAI-compatible wire structs for POST /v1/chat/completions.

// ChatRequest is the OpenAI chat completion request body. Unknown fields
// (temperature, max_tokens, tools, ...) are accepted and dropped.
type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// ChatMessage is a single entry in the OpenAI messages array.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletion is the non-streaming chat completion response.
type ChatCompletion struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   ChatUsage          `json:"usage"`
}

// CompletionChoice is a choice in a non-streaming completion response.
type CompletionChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatCompletionChunk is one SSE chunk in the OpenAI streaming format.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
}

// ChunkChoice is a choice in a streaming chunk.
type ChunkChoice struct {
	Index        int    `json:"index"`
	Delta        Delta  `json:"delta"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// Delta carries incremental content in a streaming chunk.
type Delta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// ChatUsage holds token usage counts. The proxy forwards text it did not
// generate, so every field is zero.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// OpenAIAdapter serves the OpenAI Chat Completions wire format.
type OpenAIAdapter struct{}

func (OpenAIAdapter) Name() string { return "openai" }

func (OpenAIAdapter) Path() string { return "/v1/chat/completions" }

// Decode parses an OpenAI chat completion request into the envelope. The
// "model" field is the session id; the last user-role message is the
// utterance.
func (OpenAIAdapter) Decode(body []byte) (*Request, error) {
	var req ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, apierr.E(apierr.KindSchemaError, "malformed_body",
			"request body is not a valid chat completion request")
	}
	if blank(req.Model) {
		return nil, errEmptySessionID()
	}
	utterance := ""
	found := false
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			utterance = req.Messages[i].Content
			found = true
			break
		}
	}
	if !found {
		return nil, errNoUserMessage()
	}
	return &Request{
		SessionID: req.Model,
		Utterance: utterance,
		Stream:    req.Stream,
	}, nil
}

// Encode renders the peer's utterance as a chat.completion object. The
// model field echoes the session id so clients see the value they sent.
func (OpenAIAdapter) Encode(req *Request, resp *Response) ([]byte, error) {
	out := ChatCompletion{
		ID:      newCompletionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.SessionID,
		Choices: []CompletionChoice{{
			Index:        0,
			Message:      ChatMessage{Role: "assistant", Content: resp.Utterance},
			FinishReason: "stop",
		}},
	}
	return json.Marshal(out)
}

// EncodeStream renders the utterance as chat.completion.chunk events: a
// role marker, one content delta per whitespace-delimited segment, a
// finish_reason chunk, and the [DONE] sentinel.
func (OpenAIAdapter) EncodeStream(req *Request, resp *Response) []StreamEvent {
	id := newCompletionID()
	created := time.Now().Unix()

	chunk := func(c ChunkChoice) StreamEvent {
		data, _ := json.Marshal(ChatCompletionChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   req.SessionID,
			Choices: []ChunkChoice{c},
		})
		return StreamEvent{Data: string(data)}
	}

	events := []StreamEvent{
		chunk(ChunkChoice{Index: 0, Delta: Delta{Role: "assistant"}}),
	}
	for _, seg := range splitSegments(resp.Utterance) {
		events = append(events, chunk(ChunkChoice{Index: 0, Delta: Delta{Content: seg}}))
	}
	events = append(events,
		chunk(ChunkChoice{Index: 0, FinishReason: "stop"}),
		StreamEvent{Data: "[DONE]"},
	)
	return events
}

// newCompletionID returns a collision-free id with the conventional prefix.
func newCompletionID() string {
	return fmt.Sprintf("chatcmpl-%s", uuid.New().String())
}

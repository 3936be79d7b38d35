package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/motiveproxy/motiveproxy/internal/apierr"
)

// Anthropic Messages wire structs for POST /v1/messages.

// MessagesRequest is the Anthropic Messages request body. Unknown fields
// (max_tokens, system, stop_sequences, ...) are accepted and dropped.
type MessagesRequest struct {
	Model    string             `json:"model"`
	Messages []AnthropicMessage `json:"messages"`
	Stream   bool               `json:"stream"`
}

// AnthropicMessage is one entry in the Anthropic messages array. Content
// may be a plain string or an array of typed blocks; both are accepted.
type AnthropicMessage struct {
	Role    string           `json:"role"`
	Content anthropicContent `json:"content"`
}

// anthropicContent flattens the string-or-blocks content union into the
// concatenated text of its text blocks.
type anthropicContent struct {
	Text string
}

func (c *anthropicContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = s
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	c.Text = ""
	for _, b := range blocks {
		if b.Type == "text" {
			c.Text += b.Text
		}
	}
	return nil
}

// ContentBlock is a typed content block in Anthropic requests and responses.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// MessagesResponse is the non-streaming Anthropic Messages response.
type MessagesResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Model        string         `json:"model"`
	Content      []ContentBlock `json:"content"`
	StopReason   string         `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        MessagesUsage  `json:"usage"`
}

// MessagesUsage holds token counts, zeroed for the same reason as ChatUsage.
type MessagesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// AnthropicAdapter serves the Anthropic Messages wire format.
type AnthropicAdapter struct{}

func (AnthropicAdapter) Name() string { return "anthropic" }

func (AnthropicAdapter) Path() string { return "/v1/messages" }

// Decode parses an Anthropic Messages request into the envelope.
func (AnthropicAdapter) Decode(body []byte) (*Request, error) {
	var req MessagesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, apierr.E(apierr.KindSchemaError, "malformed_body",
			"request body is not a valid messages request")
	}
	if blank(req.Model) {
		return nil, errEmptySessionID()
	}
	utterance := ""
	found := false
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			utterance = req.Messages[i].Content.Text
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

// Encode renders the peer's utterance as a message object with a single
// text content block.
func (AnthropicAdapter) Encode(req *Request, resp *Response) ([]byte, error) {
	out := MessagesResponse{
		ID:         newMessageID(),
		Type:       "message",
		Role:       "assistant",
		Model:      req.SessionID,
		Content:    []ContentBlock{{Type: "text", Text: resp.Utterance}},
		StopReason: "end_turn",
	}
	return json.Marshal(out)
}

// EncodeStream renders the utterance as the Anthropic event-stream
// sequence: message_start, content_block_start, one content_block_delta per
// segment, content_block_stop, message_delta, message_stop.
func (AnthropicAdapter) EncodeStream(req *Request, resp *Response) []StreamEvent {
	id := newMessageID()

	event := func(name string, payload any) StreamEvent {
		data, _ := json.Marshal(payload)
		return StreamEvent{Name: name, Data: string(data)}
	}

	events := []StreamEvent{
		event("message_start", map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"id":            id,
				"type":          "message",
				"role":          "assistant",
				"model":         req.SessionID,
				"content":       []any{},
				"stop_reason":   nil,
				"stop_sequence": nil,
				"usage":         MessagesUsage{},
			},
		}),
		event("content_block_start", map[string]any{
			"type":          "content_block_start",
			"index":         0,
			"content_block": ContentBlock{Type: "text", Text: ""},
		}),
	}
	for _, seg := range splitSegments(resp.Utterance) {
		events = append(events, event("content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": 0,
			"delta": map[string]any{"type": "text_delta", "text": seg},
		}))
	}
	events = append(events,
		event("content_block_stop", map[string]any{
			"type":  "content_block_stop",
			"index": 0,
		}),
		event("message_delta", map[string]any{
			"type":  "message_delta",
			"delta": map[string]any{"stop_reason": "end_turn", "stop_sequence": nil},
			"usage": map[string]any{"output_tokens": 0},
		}),
		event("message_stop", map[string]any{"type": "message_stop"}),
	)
	return events
}

// newMessageID returns a collision-free id with Anthropic's msg_ prefix.
func newMessageID() string {
	return fmt.Sprintf("msg_%s", uuid.New().String())
}

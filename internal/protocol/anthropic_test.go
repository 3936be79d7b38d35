package protocol

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/motiveproxy/motiveproxy/internal/apierr"
)

func TestAnthropicDecodeStringContent(t *testing.T) {
	body := `{
		"model": "test-session",
		"max_tokens": 1024,
		"messages": [{"role": "user", "content": "plain string"}]
	}`
	req, err := AnthropicAdapter{}.Decode([]byte(body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.SessionID != "test-session" {
		t.Fatalf("expected session id 'test-session', got %q", req.SessionID)
	}
	if req.Utterance != "plain string" {
		t.Fatalf("expected 'plain string', got %q", req.Utterance)
	}
}

func TestAnthropicDecodeBlockContent(t *testing.T) {
	body := `{
		"model": "s",
		"messages": [{
			"role": "user",
			"content": [
				{"type": "text", "text": "part one "},
				{"type": "image", "source": {}},
				{"type": "text", "text": "part two"}
			]
		}]
	}`
	req, err := AnthropicAdapter{}.Decode([]byte(body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.Utterance != "part one part two" {
		t.Fatalf("expected concatenated text blocks, got %q", req.Utterance)
	}
}

func TestAnthropicDecodeLastUserWins(t *testing.T) {
	body := `{
		"model": "s",
		"messages": [
			{"role": "user", "content": "first"},
			{"role": "assistant", "content": "reply"},
			{"role": "user", "content": "second"}
		]
	}`
	req, err := AnthropicAdapter{}.Decode([]byte(body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.Utterance != "second" {
		t.Fatalf("expected last user message, got %q", req.Utterance)
	}
}

func TestAnthropicDecodeErrors(t *testing.T) {
	if _, err := (AnthropicAdapter{}).Decode([]byte("nope")); apierr.KindOf(err) != apierr.KindSchemaError {
		t.Fatalf("malformed body: expected schema_error, got %v", apierr.KindOf(err))
	}
	noModel := `{"messages": [{"role": "user", "content": "hi"}]}`
	if _, err := (AnthropicAdapter{}).Decode([]byte(noModel)); apierr.KindOf(err) != apierr.KindInvalidRequest {
		t.Fatalf("missing model: expected invalid_request, got %v", apierr.KindOf(err))
	}
	noUser := `{"model": "s", "messages": [{"role": "assistant", "content": "hi"}]}`
	if _, err := (AnthropicAdapter{}).Decode([]byte(noUser)); apierr.KindOf(err) != apierr.KindInvalidRequest {
		t.Fatalf("no user message: expected invalid_request, got %v", apierr.KindOf(err))
	}
}

func TestAnthropicEncode(t *testing.T) {
	req := &Request{SessionID: "sess-2"}
	out, err := AnthropicAdapter{}.Encode(req, &Response{Utterance: "peer reply"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var resp MessagesResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !strings.HasPrefix(resp.ID, "msg_") {
		t.Fatalf("expected msg_ id prefix, got %q", resp.ID)
	}
	if resp.Type != "message" || resp.Role != "assistant" {
		t.Fatalf("unexpected envelope: type=%q role=%q", resp.Type, resp.Role)
	}
	if resp.Model != "sess-2" {
		t.Fatalf("expected model to echo session id, got %q", resp.Model)
	}
	if len(resp.Content) != 1 || resp.Content[0].Type != "text" || resp.Content[0].Text != "peer reply" {
		t.Fatalf("unexpected content: %+v", resp.Content)
	}
	if resp.StopReason != "end_turn" {
		t.Fatalf("expected stop_reason end_turn, got %q", resp.StopReason)
	}
}

func TestAnthropicEncodeStream(t *testing.T) {
	req := &Request{SessionID: "sess-2", Stream: true}
	events := AnthropicAdapter{}.EncodeStream(req, &Response{Utterance: "two words"})

	wantNames := []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}
	if len(events) != len(wantNames) {
		t.Fatalf("expected %d events, got %d", len(wantNames), len(events))
	}
	for i, ev := range events {
		if ev.Name != wantNames[i] {
			t.Fatalf("event %d: expected %q, got %q", i, wantNames[i], ev.Name)
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil {
			t.Fatalf("event %d payload: %v", i, err)
		}
		if payload["type"] != ev.Name {
			t.Fatalf("event %d: payload type %v does not match event name %q",
				i, payload["type"], ev.Name)
		}
	}

	var text strings.Builder
	for _, ev := range events[2:4] {
		var payload struct {
			Delta struct {
				Text string `json:"text"`
			} `json:"delta"`
		}
		if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil {
			t.Fatalf("delta payload: %v", err)
		}
		text.WriteString(payload.Delta.Text)
	}
	if text.String() != "two words" {
		t.Fatalf("deltas reassemble to %q", text.String())
	}
}

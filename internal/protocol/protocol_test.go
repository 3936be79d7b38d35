package protocol

import (
	"strings"
	"testing"
)

func TestSplitSegmentsReassembles(t *testing.T) {
	cases := []string{
		"",
		"word",
		"hello world",
		"hello  world",
		"  leading and trailing  ",
		"line one\nline two\ttabbed",
		"unicode héllo wörld",
	}
	for _, in := range cases {
		segs := splitSegments(in)
		if got := strings.Join(segs, ""); got != in {
			t.Fatalf("segments of %q reassemble to %q", in, got)
		}
	}
}

func TestSplitSegmentsEmpty(t *testing.T) {
	if segs := splitSegments(""); len(segs) != 0 {
		t.Fatalf("expected no segments for empty input, got %d", len(segs))
	}
}

func TestSplitSegmentsKeepsTrailingSpaceWithWord(t *testing.T) {
	segs := splitSegments("hello world")
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d: %q", len(segs), segs)
	}
	if segs[0] != "hello " {
		t.Fatalf("expected first segment %q, got %q", "hello ", segs[0])
	}
	if segs[1] != "world" {
		t.Fatalf("expected second segment %q, got %q", "world", segs[1])
	}
}

func TestRegistryByPath(t *testing.T) {
	r := NewRegistry(OpenAIAdapter{}, AnthropicAdapter{})

	if a := r.ByPath("/v1/chat/completions"); a == nil || a.Name() != "openai" {
		t.Fatalf("expected openai adapter, got %v", a)
	}
	if a := r.ByPath("/v1/messages"); a == nil || a.Name() != "anthropic" {
		t.Fatalf("expected anthropic adapter, got %v", a)
	}
	if a := r.ByPath("/v1/unknown"); a != nil {
		t.Fatalf("expected nil for unregistered path, got %v", a)
	}
	if got := len(r.Paths()); got != 2 {
		t.Fatalf("expected 2 registered paths, got %d", got)
	}
}

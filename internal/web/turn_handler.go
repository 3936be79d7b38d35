package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/motiveproxy/motiveproxy/internal/apierr"
	"github.com/motiveproxy/motiveproxy/internal/observe"
	"github.com/motiveproxy/motiveproxy/internal/protocol"
	"github.com/motiveproxy/motiveproxy/internal/session"
)

// handleTurn orchestrates one half-turn: decode the inbound body through
// the adapter for this path, deliver the utterance to the peer via the
// session, wait for the peer's utterance, and encode it back out.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)

	adapter := s.adapters.ByPath(r.URL.Path)
	if adapter == nil {
		s.writeError(w, r, apierr.E(apierr.KindInternal, "no_adapter",
			"no protocol adapter registered for this path"))
		return
	}

	body, err := readBody(w, r, s.cfg.MaxPayloadBytes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	req, err := adapter.Decode(body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Utterance) == "" {
		s.writeError(w, r, apierr.E(apierr.KindInvalidRequest, "empty_utterance",
			"user message content must be a non-empty string"))
		return
	}

	log = log.With("session_id", req.SessionID, "adapter", adapter.Name())
	log.Info("turn request received", "stream", req.Stream,
		"utterance_length", len(req.Utterance))

	sess, err := s.mgr.GetOrCreate(ctx, req.SessionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	phase := "turn"
	if sess.State() == session.StateEmpty {
		phase = "handshake"
	}

	start := time.Now()
	reply, err := sess.Exchange(ctx, req.Utterance)
	if s.metrics != nil {
		s.metrics.ExchangeDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("phase", phase)))
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := &protocol.Response{Utterance: reply}
	if req.Stream {
		s.writeStream(w, r, adapter, req, resp)
		return
	}

	out, err := adapter.Encode(req, resp)
	if err != nil {
		s.writeError(w, r, apierr.Wrap(err, "failed to encode response"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(out)
	log.Info("turn completed", "response_length", len(reply))
}

// writeStream emits the adapter's SSE event sequence for an already
// complete utterance. Streaming here is cosmetic chunking: the rendezvous
// is message-granular, so the whole reply is in hand before the first
// chunk goes out.
func (s *Server) writeStream(w http.ResponseWriter, r *http.Request, adapter protocol.Adapter, req *protocol.Request, resp *protocol.Response) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, apierr.E(apierr.KindInternal, "streaming_unsupported",
			"response writer does not support streaming"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ctx := r.Context()
	for _, ev := range adapter.EncodeStream(req, resp) {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if ev.Name != "" {
			_, _ = fmt.Fprintf(w, "event: %s\n", ev.Name)
		}
		_, _ = fmt.Fprintf(w, "data: %s\n\n", ev.Data)
		flusher.Flush()
	}
}

// readBody reads the request body under the payload cap. Exceeding the cap
// maps to payload_too_large before any decoding happens.
func readBody(w http.ResponseWriter, r *http.Request, maxBytes int64) ([]byte, error) {
	if r.ContentLength > maxBytes {
		return nil, errPayloadTooLarge(maxBytes)
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, errPayloadTooLarge(maxBytes)
		}
		return nil, apierr.Wrap(err, "failed to read request body")
	}
	return body, nil
}

func errPayloadTooLarge(maxBytes int64) error {
	return apierr.E(apierr.KindPayloadTooLarge, "payload_too_large",
		fmt.Sprintf("request body exceeds %d bytes", maxBytes))
}

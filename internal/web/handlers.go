package web

import (
	"encoding/json"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/motiveproxy/motiveproxy/internal/apierr"
	"github.com/motiveproxy/motiveproxy/internal/config"
	"github.com/motiveproxy/motiveproxy/internal/observe"
	"github.com/motiveproxy/motiveproxy/internal/session"
)

// errorBody is the uniform error wire shape for every endpoint.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// writeError maps a taxonomy error onto its HTTP status and the uniform
// JSON body. Internal errors are logged with the request id; clients only
// see the generic message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ae := apierr.From(err)
	ctx := r.Context()

	if ae.Kind == apierr.KindInternal {
		observe.Logger(ctx).Error("internal error", "err", ae.Error())
	} else {
		observe.Logger(ctx).Warn("request failed",
			"kind", string(ae.Kind), "code", ae.Code)
	}
	if s.metrics != nil {
		s.metrics.Errors.Add(ctx, 1,
			metric.WithAttributes(attribute.String("kind", string(ae.Kind))))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ae.Kind.HTTPStatus())
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Message: ae.Message,
			Type:    string(ae.Kind),
			Code:    ae.Code,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"uptime_seconds":  time.Since(s.startedAt).Seconds(),
		"active_sessions": s.mgr.Count(),
	})
}

// handleModels handles GET /v1/models. Chat clients probe this before
// sending completions; the single synthetic entry keeps them happy. The
// actual "model" a client should use is its session id.
func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data": []map[string]any{
			{
				"id":       "motiveproxy",
				"object":   "model",
				"created":  s.startedAt.Unix(),
				"owned_by": "motiveproxy",
			},
		},
	})
}

// handleAdminSessions handles GET /admin/sessions: the redacted directory
// snapshot.
func (s *Server) handleAdminSessions(w http.ResponseWriter, _ *http.Request) {
	infos := s.mgr.Snapshot()
	if infos == nil {
		infos = []session.Info{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": infos,
		"count":    len(infos),
		"version":  config.Version,
	})
}

// handleAdminCloseSession handles DELETE /admin/sessions/{id}.
func (s *Server) handleAdminCloseSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.mgr.Close(id, session.ReasonAdminClosed) {
		s.writeError(w, r, apierr.E(apierr.KindSessionGone, "unknown_session",
			"no such session"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"closed": id})
}

package runtime

import (
	"net/http"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/drblury/haltalk/internal/runtime/engine"
	loggingpkg "github.com/drblury/haltalk/internal/runtime/logging"
	"github.com/drblury/haltalk/internal/wire"
)

// StartWebUIServer registers the introspection API on the web UI port.
func (s *Service) StartWebUIServer() {
	if !s.Conf.WebUIEnabled {
		return
	}

	port := s.Conf.WebUIPort
	if port == 0 {
		port = 8081
	}

	s.RegisterHTTPHandler(port, "/api/topics", http.HandlerFunc(s.handleGetTopics))
	s.RegisterHTTPHandler(port, "/api/describe", http.HandlerFunc(s.handleDescribe))
}

func (s *Service) handleGetTopics(w http.ResponseWriter, r *http.Request) {
	if s.preflight(w, r) {
		return
	}
	var topics []engine.TopicStatus
	if err := s.loop.Do(r.Context(), func() { topics = s.registry.Topics() }); err != nil {
		s.Logger.Error("Failed to list topics", err, nil)
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}
	if topics == nil {
		topics = []engine.TopicStatus{}
	}
	s.writeJSON(w, topics)
}

func (s *Service) handleDescribe(w http.ResponseWriter, r *http.Request) {
	if s.preflight(w, r) {
		return
	}
	env := wire.New(wire.MTHalrcmdDescription, s.registry.UUID())
	if err := s.loop.Do(r.Context(), func() { env.Describe(s.registry.Store()) }); err != nil {
		s.Logger.Error("Failed to describe", err, nil)
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, env)
}

// preflight sets the CORS headers and reports whether the request was an
// OPTIONS preflight that is already answered.
func (s *Service) preflight(w http.ResponseWriter, r *http.Request) bool {
	w.Header().Set("Content-Type", "application/json")

	if s.Conf != nil && len(s.Conf.WebUICORSAllowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		allowedOrigin := s.getAllowedCORSOrigin(origin)
		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return true
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return true
	}
	return false
}

func (s *Service) writeJSON(w http.ResponseWriter, v any) {
	if err := sonic.ConfigStd.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Error("Failed to encode response", err, loggingpkg.LogFields{"type": "json"})
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// getAllowedCORSOrigin checks if the request origin is allowed and returns the appropriate
// Access-Control-Allow-Origin value.
func (s *Service) getAllowedCORSOrigin(requestOrigin string) string {
	if s.Conf == nil {
		return ""
	}
	for _, allowed := range s.Conf.WebUICORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}

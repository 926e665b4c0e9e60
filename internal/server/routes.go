package server

import (
	"net/http"

	"github.com/bobmcallan/toolgate/internal/common"
)

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// MCP endpoint (JSON-RPC over HTTP)
	mux.Handle("/mcp", s.app.RPC)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		RouteByMethod(w, r, MethodRouter{http.MethodGet: s.handleHealth})
	})
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		RouteByMethod(w, r, MethodRouter{http.MethodGet: s.handleVersion})
	})
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		RouteByMethod(w, r, MethodRouter{http.MethodGet: s.handleMetrics})
	})

	mux.HandleFunc("/", s.handleNotFound)

	return mux
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"tools":  s.app.Registry.Len(),
	})
}

// handleVersion handles GET /version.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, common.Info())
}

// handleMetrics serves the current metric snapshot as JSON.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	points, err := s.app.Telemetry.Snapshot(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to collect metrics")
		WriteError(w, http.StatusInternalServerError, "failed to collect metrics")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"metrics": points})
}

// handleNotFound returns a JSON 404 for unmatched routes.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte(`{"error":"Not Found","message":"The requested endpoint does not exist"}`))
}

// Package api is the operator HTTP surface of talkd. It is read-only: ledger
// operations travel through consensus, never through this API.
package api

import (
	"encoding/json"
	"net/http"

	"talk.mini/talk/internal/docs"
	"talk.mini/talk/internal/events"
	"talk.mini/talk/internal/logger"
	"talk.mini/talk/internal/metrics"
	"talk.mini/talk/internal/types"
)

// CommitSource reports the last committed block.
type CommitSource interface {
	LastCommit() (types.CommitInfo, error)
}

// Service handles API requests
type Service struct {
	commits CommitSource
	hub     *events.Hub
	logger  *logger.Logger
	docs    *docs.Service
	nodeID  string
}

// NewService creates a new API service. nodeID is the node's public key hex.
func NewService(commits CommitSource, hub *events.Hub, logger *logger.Logger, docs *docs.Service, nodeID string) *Service {
	return &Service{
		commits: commits,
		hub:     hub,
		logger:  logger,
		docs:    docs,
		nodeID:  nodeID,
	}
}

// Routes returns the mux serving every endpoint.
func (s *Service) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.HandleHealth)
	mux.HandleFunc("GET /api/version", s.HandleVersion)
	mux.HandleFunc("GET /api/logs", s.HandleLogs)
	mux.HandleFunc("GET /api/docs", s.HandleDocsList)
	mux.HandleFunc("GET /api/docs/{name}", s.HandleDoc)
	mux.HandleFunc("GET /api/events", s.HandleEvents)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

// writeJSON writes a JSON response
func (s *Service) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Service) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

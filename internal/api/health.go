package api

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strconv"

	"talk.mini/talk/internal/types"
)

// @Title: Get Health
// @Route: GET /api/health
// @Description: Returns node health and the last committed block
// @Response: {"status": "ok", "height": 12, "app_hash": "..."}
func (s *Service) HandleHealth(w http.ResponseWriter, r *http.Request) {
	info, err := s.commits.LastCommit()
	if err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"height":   info.Height,
		"app_hash": hex.EncodeToString(info.AppHash),
	})
}

// @Title: Get Version
// @Route: GET /api/version
// @Description: Returns talkd version and node ID
// @Response: {"version": "...", "status": "ok", "id": "..."}
func (s *Service) HandleVersion(w http.ResponseWriter, r *http.Request) {
	hostname, _ := os.Hostname()

	response := map[string]string{
		"version":  types.Version,
		"status":   "ok",
		"hostname": hostname,
		"go_ver":   runtime.Version(),
		"os_arch":  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
	if s.nodeID != "" {
		response["id"] = s.nodeID
	}
	if types.BuildTime != "" {
		response["build_time"] = types.BuildTime
	}

	s.writeJSON(w, http.StatusOK, response)
}

// @Title: Get Logs
// @Route: GET /api/logs?n=50
// @Description: Returns recent log entries, newest first
// @Response: [{"timestamp": "...", "text": "...", "level": "info"}]
func (s *Service) HandleLogs(w http.ResponseWriter, r *http.Request) {
	n := 50
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "n must be a positive integer")
			return
		}
		n = parsed
	}
	s.writeJSON(w, http.StatusOK, s.logger.GetRecent(n))
}

// @Title: Event Stream
// @Route: GET /api/events
// @Description: WebSocket stream of committed posts and likes
// @Response: {"kind": "message_posted", "message": {...}}
func (s *Service) HandleEvents(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeHTTP(w, r)
}

package server

import (
	"encoding/json"
	"net/http"
)

// Status is the snapshot served at /status. Counts and identifiers only; no
// user-supplied free text ever appears here.
type Status struct {
	Service           string `json:"service"`
	Channel           string `json:"channel"`
	UptimeSeconds     int64  `json:"uptime_seconds"`
	TrackedIdentities int64  `json:"tracked_identities"`
	ActiveSessions    int64  `json:"active_sessions"`
	SessionsEnded     int64  `json:"sessions_ended"`
}

type Handlers struct {
	status func() Status
}

// HandleHealthz responds to liveness probe requests.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleStatus responds with the current engine snapshot.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(h.status())
}

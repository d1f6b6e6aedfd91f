package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Handlers bundles HTTP endpoint handlers with their dependencies.
type Handlers struct {
	db *sql.DB
}

// HandleHealthz reports liveness: the process is up and the database
// answers a ping.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.PingContext(ctx); err != nil {
		http.Error(w, "db unreachable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports readiness: the database answers and the schema has
// been migrated. Each check is reported individually.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	ready := true

	if err := h.db.PingContext(ctx); err != nil {
		checks["database"] = "unreachable: " + err.Error()
		ready = false
	} else {
		checks["database"] = "ok"
	}

	var n int
	if err := h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tracked_channels`).Scan(&n); err != nil {
		checks["schema"] = "missing: " + err.Error()
		ready = false
	} else {
		checks["schema"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"ready": ready, "checks": checks})
}

// StatusResponse is the payload served by /status.
type StatusResponse struct {
	TrackedChannels int             `json:"tracked_channels"`
	LiveChannels    int             `json:"live_channels"`
	Guilds          int             `json:"guilds"`
	LastReconcile   string          `json:"last_reconcile,omitempty"`
	LastStats       json.RawMessage `json:"last_stats,omitempty"`
}

// HandleStatus summarizes tracking state and the last reconcile pass.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	var resp StatusResponse
	row := h.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE live_status),
		       COUNT(DISTINCT guild_id)
		FROM tracked_channels`)
	if err := row.Scan(&resp.TrackedChannels, &resp.LiveChannels, &resp.Guilds); err != nil {
		slog.Error("status query", slog.Any("err", err))
		http.Error(w, "status query failed", http.StatusInternalServerError)
		return
	}

	var last string
	if err := h.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = 'job_reconcile_last'`).Scan(&last); err == nil {
		resp.LastReconcile = last
	}
	var stats string
	if err := h.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = 'reconcile_last_stats'`).Scan(&stats); err == nil && json.Valid([]byte(stats)) {
		resp.LastStats = json.RawMessage(stats)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

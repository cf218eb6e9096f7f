package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// AdminServer is the optional, disabled-by-default ops surface: a JSON
// metrics snapshot, a liveness probe, and a websocket feed that pushes
// the same snapshot once a second for a live dashboard. It runs on its
// own goroutines and only ever reads the running Server's metrics logger
// and the per-tick client count and tick number the tick loop publishes
// — it never touches game state and never blocks a tick, per
// SPEC_FULL.md §6's addition.
type AdminServer struct {
	httpServer *http.Server
	game       *Server
}

// adminSnapshot is the JSON shape served by /metrics and pushed over /ws.
type adminSnapshot struct {
	Clients int         `json:"clients"`
	Tick    uint32      `json:"tick"`
	Metrics interface{} `json:"metrics"`
}

func (s *Server) snapshotForAdmin() adminSnapshot {
	return adminSnapshot{
		Clients: s.ClientCount(),
		Tick:    s.Tick(),
		Metrics: s.Metrics().Snapshot(),
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewAdminServer builds (but does not start) the admin HTTP surface on
// addr, backed by game.
func NewAdminServer(addr string, game *Server) *AdminServer {
	a := &AdminServer{game: game}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/metrics", a.handleMetrics)
	mux.HandleFunc("/ws", a.handleWS)
	a.httpServer = &http.Server{Addr: addr, Handler: mux}
	return a
}

// Start launches the admin HTTP server in the background. Failures
// (e.g. the admin port is in use) are logged, not fatal — the core
// engine runs fine with the admin surface down.
func (a *AdminServer) Start() {
	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			Log.Warnw("admin server stopped", "err", err)
		}
	}()
}

// Stop gracefully shuts the admin HTTP server down.
func (a *AdminServer) Stop(ctx context.Context) error {
	return a.httpServer.Shutdown(ctx)
}

func (a *AdminServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

func (a *AdminServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(a.game.snapshotForAdmin())
}

// handleWS upgrades to a websocket and pushes the metrics snapshot once
// a second until the peer disconnects. This feed carries no game-state
// authority; it is purely observational.
func (a *AdminServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		Log.Debugw("admin ws upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(a.game.snapshotForAdmin()); err != nil {
			return
		}
	}
}

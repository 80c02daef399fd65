package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"gomeet/internal/media"
	"gomeet/internal/registry"
	"gomeet/internal/signaling"
)

// Configure the websocket upgrader. Origin checking is deliberately open:
// any peer may join any room (flat room-id namespace, no auth).
var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Deps bundles what the handlers need; constructed once in main and shared
// by every connection.
type Deps struct {
	Registry   *registry.Registry
	Engine     media.Engine
	Dispatcher *signaling.Dispatcher
	Logger     *slog.Logger
}

// Routes returns the server mux: websocket signaling plus health and metrics.
func Routes(deps Deps) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", handleHealth)
	mux.HandleFunc("/metrics", handleMetrics(deps.Registry))
	mux.HandleFunc("/ws", ServeWs(deps))
	return mux
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Signaling server is healthy."))
}

func handleMetrics(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		totalPeers, rooms := reg.Stats()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"total_peers":  totalPeers,
			"active_rooms": len(rooms),
			"rooms":        rooms,
		})
	}
}

// ServeWs returns an http.HandlerFunc that upgrades the connection, registers
// a fresh peer and starts the connection's read and write pumps.
func ServeWs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sock, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			deps.Logger.Warn("websocket upgrade failed", "error", err)
			return
		}

		peerID := uuid.NewString()
		if err := deps.Registry.CreatePeer(peerID); err != nil {
			// Only possible on a uuid collision; give up on this connection.
			deps.Logger.Error("peer registration failed", "peerId", peerID, "error", err)
			sock.Close()
			return
		}

		conn := signaling.NewConn(peerID, sock, deps.Logger)
		handler := signaling.NewHandler(peerID, deps.Registry, deps.Engine, deps.Dispatcher, conn, deps.Logger)
		deps.Dispatcher.Register(peerID, conn)

		deps.Logger.Info("peer connected", "peerId", peerID, "remote", r.RemoteAddr)

		go conn.WritePump()
		go conn.ReadPump(handler)
	}
}

// Package httpapi serves the hub's operational HTTP side-channel —
// liveness, per-client stats, Prometheus scrape target, and gopsutil
// system metrics — on its own listener, separate from the websocket
// transport. Adapted from the teacher's internal/server.go (/health,
// /stats, /metrics/enhanced, /metrics/system, /auth/token), generalized
// off a single shared Hub onto the hub's session/subscription model
// (spec.md doesn't name this surface; it's ambient operational tooling
// the teacher always carries alongside its protocol channel).
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"eventhub/internal/metrics"
)

// SessionCounter is the narrow slice of internal/session.Manager the health
// and stats handlers need.
type SessionCounter interface {
	Count() int
}

// IngressStatus is the narrow slice of internal/ingress.Client the health
// handler needs.
type IngressStatus interface {
	IsConnected() bool
}

// TokenIssuer is the narrow slice of internal/auth.JWTManager the dev-only
// token endpoint needs. Nil disables the endpoint.
type TokenIssuer interface {
	GenerateTestToken() (string, error)
}

// Server serves the hub's HTTP surface.
type Server struct {
	sessions  SessionCounter
	ingress   IngressStatus
	clients   *metrics.ClientTracker
	system    *metrics.SystemMetrics
	tokens    TokenIssuer
	startedAt time.Time
	mux       *http.ServeMux
}

// New builds a Server and registers its routes. tokens may be nil to
// disable the development token-issuing endpoint.
func New(sessions SessionCounter, ingress IngressStatus, clients *metrics.ClientTracker, system *metrics.SystemMetrics, tokens TokenIssuer) *Server {
	srv := &Server{
		sessions:  sessions,
		ingress:   ingress,
		clients:   clients,
		system:    system,
		tokens:    tokens,
		startedAt: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealthz)
	mux.HandleFunc("/stats", srv.handleStats)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/metrics/system", srv.handleSystemMetrics)
	if tokens != nil {
		mux.HandleFunc("/auth/token", srv.handleGenerateToken)
	}
	srv.mux = corsMiddleware(mux)

	return srv
}

// ServeHTTP lets Server be mounted directly as an http.Handler.
func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	srv.mux.ServeHTTP(w, r)
}

func (srv *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	srv.system.Update()

	health := map[string]interface{}{
		"status":         "healthy",
		"timestamp":      time.Now().Unix(),
		"uptime_seconds": time.Since(srv.startedAt).Seconds(),
		"sessions":       srv.sessions.Count(),
		"ingress": map[string]interface{}{
			"connected": srv.ingress.IsConnected(),
		},
		"system": srv.system.GetSystemInfo(),
	}

	writeJSON(w, health)
}

func (srv *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := srv.clients.Snapshot()
	stats["sessions_live"] = srv.sessions.Count()
	stats["uptime_seconds"] = time.Since(srv.startedAt).Seconds()
	writeJSON(w, stats)
}

func (srv *Server) handleSystemMetrics(w http.ResponseWriter, r *http.Request) {
	srv.system.Update()
	writeJSON(w, srv.system.GetSystemInfo())
}

func (srv *Server) handleGenerateToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token, err := srv.tokens.GenerateTestToken()
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]string{"token": token})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

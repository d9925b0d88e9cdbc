package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// LeaderboardEntry is one row of the gift leaderboard exposed at the boundary
// to the external leaderboard-sync collaborator.
type LeaderboardEntry struct {
	UserID   string `json:"userId"`
	Nickname string `json:"nickname"`
	Diamonds int64  `json:"diamonds"`
	Gifts    int64  `json:"gifts"`
}

// LeaderboardStore is implemented by the gift ledger when configured.
type LeaderboardStore interface {
	Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)
}

type Options struct {
	Addr           string
	RateLimitRPS   int
	RateLimitBurst int
	EnableMetrics  bool
	Leaderboard    LeaderboardStore
}

// Server hosts the fan-out WebSocket endpoint plus the admin control surface,
// health and metrics.
type Server struct {
	httpServer  *http.Server
	hub         *Hub
	metrics     *Metrics
	limiter     *ipRateLimiter
	leaderboard LeaderboardStore
}

func NewServer(ctrl Controller, opts Options) *Server {
	metrics := newMetrics()
	h := New(ctrl, metrics)

	srv := &Server{
		hub:         h,
		metrics:     metrics,
		limiter:     newIPRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
		leaderboard: opts.Leaderboard,
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	mux.HandleFunc("/healthz", srv.handleHealthz)
	mux.HandleFunc("POST /admin/connect", srv.limited(srv.handleConnect, ctrl))
	mux.HandleFunc("POST /admin/disconnect", srv.limited(srv.handleDisconnect, ctrl))
	mux.HandleFunc("GET /admin/status", srv.limited(srv.handleStatus, ctrl))
	if opts.Leaderboard != nil {
		mux.HandleFunc("GET /admin/leaderboard", srv.limited(srv.handleLeaderboard, ctrl))
	}
	if opts.EnableMetrics {
		mux.Handle("/metrics", metrics.Handler())
	}

	srv.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv
}

// Hub exposes the fan-out hub for wiring the broadcast pipeline.
func (s *Server) Hub() *Hub { return s.hub }

// Metrics exposes the collector bundle so the router can report suppressions.
func (s *Server) Metrics() *Metrics { return s.metrics }

type ctrlHandler func(w http.ResponseWriter, r *http.Request, ctrl Controller)

func (s *Server) limited(next ctrlHandler, ctrl Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(remoteIP(r)) {
			s.metrics.IncRateLimited()
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r, ctrl)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request, ctrl Controller) {
	defer r.Body.Close()
	var req struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Username) == "" {
		http.Error(w, "username required", http.StatusBadRequest)
		return
	}
	if err := ctrl.Connect(context.Background(), req.Username); err != nil {
		http.Error(w, "connect failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "username": req.Username})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, _ *http.Request, ctrl Controller) {
	ctrl.Disconnect()
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request, ctrl Controller) {
	connected, username := ctrl.Status()
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"connected":   connected,
		"username":    username,
		"subscribers": s.hub.Subscribers(),
	})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request, _ Controller) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
			if limit > 100 {
				limit = 100
			}
		}
	}
	rows, err := s.leaderboard.Leaderboard(r.Context(), limit)
	if err != nil {
		http.Error(w, "leaderboard error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(rows)
}

func (s *Server) Start() error {
	log.Printf("hub: listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Shutdown()
	return s.httpServer.Shutdown(ctx)
}

package api

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/Origanire/netfilm-backend/internal/game"
	"github.com/Origanire/netfilm-backend/internal/monitor"
	"github.com/Origanire/netfilm-backend/internal/storage"
)

const maxBodyBytes = 64 << 10

// Engine is the game surface exposed over HTTP
type Engine interface {
	Start(ctx context.Context, providerName string) (*game.StartResult, error)
	Answer(ctx context.Context, sessionID, input string) (*game.Reply, error)
	Confirm(ctx context.Context, sessionID string, correct bool) (*game.ConfirmResult, error)
	Sessions() []game.SessionInfo
	Session(sessionID string) (game.SessionInfo, error)
	DeleteSession(sessionID string) error
	Stats(ctx context.Context) (*game.Stats, error)
	RecentGames(ctx context.Context, limit int) ([]game.GameSummary, error)
	Game(ctx context.Context, sessionID string) (*game.GameSummary, error)
}

// UsageReporter exposes client side provider budgets
type UsageReporter interface {
	Usage() []monitor.ProviderUsage
}

// Options carries the deployment facts reported by the informational endpoints
type Options struct {
	Version         string
	DefaultProvider string
	Credentials     map[string]bool
	AllowedOrigins  []string

	// Storage and Usage may be nil
	Storage storage.StorageService
	Usage   UsageReporter
}

// Server exposes the game engine as a JSON API
type Server struct {
	engine Engine
	opts   Options
	logger *slog.Logger
}

// NewServer creates the API server
func NewServer(engine Engine, opts Options, logger *slog.Logger) *Server {
	return &Server{
		engine: engine,
		opts:   opts,
		logger: logger,
	}
}

// Handler returns the routed handler wrapped in CORS and request logging
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.logRequests(s.cors(mux))
}

// RegisterRoutes registers the API endpoints on the provided mux
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/stats", s.handleStats)

	mux.HandleFunc("POST /api/akinator/start", s.handleStart)
	mux.HandleFunc("POST /api/akinator/answer", s.handleAnswer)
	mux.HandleFunc("POST /api/akinator/confirm", s.handleConfirm)
	mux.HandleFunc("GET /api/akinator/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/akinator/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/akinator/sessions/{id}", s.handleDeleteSession)

	mux.HandleFunc("GET /api/games", s.handleRecentGames)
	mux.HandleFunc("GET /api/games/{id}", s.handleGetGame)
}

// cors answers preflight requests and sets the allow headers for permitted origins
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowed := s.allowedOrigin(origin); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if allowed != "*" {
				w.Header().Add("Vary", "Origin")
			}
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowedOrigin(origin string) string {
	if origin == "" {
		return ""
	}
	if slices.Contains(s.opts.AllowedOrigins, "*") {
		return "*"
	}
	for _, o := range s.opts.AllowedOrigins {
		if strings.EqualFold(strings.TrimRight(o, "/"), origin) {
			return origin
		}
	}
	return ""
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		level := slog.LevelDebug
		if rec.status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

// Package server is the HTTP surface: OAuth login, playback commands, the AI
// chat endpoint, turn history and a websocket channel for playback sync.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/michaelbrown/smartdj/internal/config"
	"github.com/michaelbrown/smartdj/internal/dj"
	"github.com/michaelbrown/smartdj/internal/session"
	"github.com/michaelbrown/smartdj/internal/spotify"
	"github.com/michaelbrown/smartdj/internal/storage"
)

// Gateway is the playback gateway surface the HTTP handlers use.
type Gateway interface {
	dj.Gateway
	PlaybackState(ctx context.Context, token string) (*spotify.PlaybackState, error)
	Seek(ctx context.Context, token string, positionMs int, deviceID string) error
	Queue(ctx context.Context, token string) spotify.Queue
	Devices(ctx context.Context, token string) []spotify.Device
	TransferPlayback(ctx context.Context, token, deviceID string) error
	UserPlaylists(ctx context.Context, token string, limit int) []spotify.Playlist
	TopTracks(ctx context.Context, token string, limit int, timeRange string) []spotify.Track
	RecentlyPlayed(ctx context.Context, token string, limit int) []spotify.PlayHistory
}

// Authorizer runs the two-step Spotify authorization flow.
type Authorizer interface {
	BeginAuthorization(state string, scopes ...string) string
	CompleteAuthorization(ctx context.Context, code string) (*spotify.Grant, error)
	Refresh(ctx context.Context, refreshToken string) (*spotify.Grant, error)
}

// Orchestrator answers chat turns.
type Orchestrator interface {
	Respond(ctx context.Context, req dj.Request) *dj.Result
}

// Deps are the collaborators a Server is built from.
type Deps struct {
	Sessions session.Repository
	Gateway  Gateway
	Auth     Authorizer
	Engine   Orchestrator
	History  storage.Store
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// Server is the HTTP server for the Smart DJ API.
type Server struct {
	cfg      *config.Config
	sessions session.Repository
	gateway  Gateway
	auth     Authorizer
	engine   Orchestrator
	history  storage.Store
	contexts *contextCache
	hub      *Hub
	router   chi.Router
	http     *http.Server
	now      func() time.Time
	stop     context.CancelFunc
}

// New creates a new Server.
func New(cfg *config.Config, deps Deps) *Server {
	ctx, stop := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		sessions: deps.Sessions,
		gateway:  deps.Gateway,
		auth:     deps.Auth,
		engine:   deps.Engine,
		history:  deps.History,
		contexts: newContextCache(deps.Gateway, cfg.DJ.ContextCacheSize, cfg.DJ.ContextCacheTTL),
		hub:      NewHub(),
		router:   chi.NewRouter(),
		now:      time.Now,
		stop:     stop,
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.setupRoutes(ctx, gatherer)
	return s
}

func (s *Server) setupRoutes(ctx context.Context, gatherer prometheus.Gatherer) {
	r := s.router

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   s.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		if s.cfg.Server.RateLimitRPS > 0 {
			r.Use(rateLimitByIP(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst))
		}

		// Unauthenticated OAuth entry points.
		r.Get("/auth/spotify", s.handleLogin)
		r.Get("/auth/callback", s.handleCallback)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth(s.cfg.Auth.JWTSecret))

			r.Post("/auth/logout", s.handleLogout)
			r.Get("/auth/me", s.handleMe)

			r.Route("/spotify", func(r chi.Router) {
				r.Get("/playback", s.handlePlaybackState)
				r.Put("/play", s.handlePlay)
				r.Put("/pause", s.handlePause)
				r.Post("/next", s.handleNext)
				r.Post("/previous", s.handlePrevious)
				r.Put("/volume", s.handleVolume)
				r.Put("/shuffle", s.handleShuffle)
				r.Put("/repeat", s.handleRepeat)
				r.Put("/seek", s.handleSeek)
				r.Get("/queue", s.handleGetQueue)
				r.Post("/queue", s.handleEnqueue)
				r.Get("/devices", s.handleDevices)
				r.Put("/transfer", s.handleTransfer)
				r.Get("/search", s.handleSearch)
				r.Get("/recommendations", s.handleRecommendations)
				r.Post("/playlists", s.handleCreatePlaylist)
			})

			r.Post("/ai/chat", s.handleChat)

			r.Get("/history", s.handleListHistory)
			r.Delete("/history", s.handleDeleteHistory)
			r.Get("/history/stats", s.handleHistoryStats)

			r.With(requireAdmin(s.cfg.Auth.AdminUsers)).Get("/admin/sessions", s.handleActiveSessions)

			r.Get("/ws", s.handleWebSocket)
		})
	})
}

// Handler exposes the router (used by tests and embedding).
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": s.now().UTC(),
	})
}

// Start begins listening on the given port.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("smartdj server starting")
	return s.http.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down server")
	s.stop()
	s.hub.CloseAll()

	if s.http == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return s.http.Shutdown(shutdownCtx)
}

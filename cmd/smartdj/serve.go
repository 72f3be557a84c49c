package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/michaelbrown/smartdj/internal/config"
	"github.com/michaelbrown/smartdj/internal/dj"
	"github.com/michaelbrown/smartdj/internal/llm"
	"github.com/michaelbrown/smartdj/internal/server"
	"github.com/michaelbrown/smartdj/internal/session"
	"github.com/michaelbrown/smartdj/internal/session/redis"
	"github.com/michaelbrown/smartdj/internal/spotify"
	"github.com/michaelbrown/smartdj/internal/storage/sqlite"
)

var portFlag int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Smart DJ API server",
	Long: `Start the Smart DJ HTTP server with the REST API and WebSocket playback sync.

API endpoints are under /api; /health and /metrics are at the root.

Examples:
  smartdj serve
  smartdj serve --port 9090`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if portFlag > 0 {
		cfg.Server.Port = portFlag
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessions, closeSessions, err := openSessions(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSessions()

	history, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer history.Close()

	gateway := newGateway(cfg)
	authenticator := spotify.NewAuthenticator(
		cfg.Spotify.ClientID, cfg.Spotify.ClientSecret, cfg.Spotify.RedirectURL,
		spotify.WithAccountsURL(cfg.Spotify.AccountsURL),
		spotify.WithAPIClient(gateway),
		spotify.WithAuthTimeout(cfg.Spotify.Timeout),
		spotify.WithScopes(cfg.Spotify.Scopes),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	engine, err := newEngine(cfg, gateway, dj.WithMetrics(dj.MustNewMetrics(reg)))
	if err != nil {
		return err
	}

	srv := server.New(cfg, server.Deps{
		Sessions: sessions,
		Gateway:  gateway,
		Auth:     authenticator,
		Engine:   engine,
		History:  history,
		Gatherer: reg,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
	log.Info().Msg("stopped")
	return nil
}

// openSessions builds the configured session backend. The returned func
// releases it.
func openSessions(ctx context.Context, cfg *config.Config) (session.Repository, func(), error) {
	if cfg.Session.Backend == "redis" {
		store, err := redis.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.KeyPrefix)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("sessions: redis")
		return store, func() { store.Close() }, nil
	}

	store := session.NewMemoryStore()
	store.StartJanitor(ctx, cfg.Session.SweepInterval)
	log.Info().Msg("sessions: in-memory")
	return store, func() {}, nil
}

func newGateway(cfg *config.Config) *spotify.Client {
	return spotify.NewClient(
		spotify.WithBaseURL(cfg.Spotify.APIURL),
		spotify.WithTimeout(cfg.Spotify.Timeout),
	)
}

func newEngine(cfg *config.Config, gateway dj.Gateway, opts ...dj.Option) (*dj.Engine, error) {
	personas, err := dj.LoadPersonas(cfg.DJ.ProfilesDir)
	if err != nil {
		return nil, fmt.Errorf("loading personas: %w", err)
	}
	defaultPersona := cfg.DJ.DefaultPersona
	if personaFlag != "" {
		defaultPersona = personaFlag
	}
	if _, ok := personas[defaultPersona]; !ok {
		return nil, fmt.Errorf("unknown persona %q (have %v)", defaultPersona, dj.PersonaNames(personas))
	}

	client := llm.NewClient(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, cfg.OpenAI.Model, llm.WithTimeout(cfg.OpenAI.Timeout))
	opts = append([]dj.Option{
		dj.WithPersonas(personas),
		dj.WithDefaultPersona(defaultPersona),
		dj.WithModelTimeout(cfg.OpenAI.Timeout),
		dj.WithMaxContextTokens(cfg.DJ.MaxContextTokens),
	}, opts...)
	return dj.New(client, gateway, opts...), nil
}

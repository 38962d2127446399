package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/transcribomatic/gateway/internal/config"
	"github.com/transcribomatic/gateway/pkg/api"
	"github.com/transcribomatic/gateway/pkg/gate"
	gatezerolog "github.com/transcribomatic/gateway/pkg/gate/logger/zerolog"
	prommetrics "github.com/transcribomatic/gateway/pkg/gate/metrics/prometheus"
	"github.com/transcribomatic/gateway/pkg/openai"
	"github.com/transcribomatic/gateway/storage/postgres"
)

// ServeCommand runs the HTTP gateway.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the gateway HTTP server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Listen address (overrides config)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load(cmd.String(configFlag))
			if err != nil {
				return err
			}
			if addr := cmd.String("listen"); addr != "" {
				cfg.Listen = addr
			}
			if cfg.Secret == "" {
				return fmt.Errorf("signing secret is required (config secret or GATEWAY_SECRET)")
			}
			if cfg.Database.URL == "" {
				return fmt.Errorf("database URL is required (config database.url or DATABASE_URL)")
			}

			zl := zerolog.New(os.Stderr).With().Timestamp().Logger()
			logger := gatezerolog.NewLogger(zl)

			store, err := postgres.New(ctx, postgres.Config{
				ConnectionString: cfg.Database.URL,
				MaxConns:         postgres.DefaultConfig().MaxConns,
				MinConns:         postgres.DefaultConfig().MinConns,
				MaxConnLifetime:  postgres.DefaultConfig().MaxConnLifetime,
				MaxConnIdleTime:  postgres.DefaultConfig().MaxConnIdleTime,
			})
			if err != nil {
				return fmt.Errorf("failed to open ledger store: %w", err)
			}
			defer store.Close()

			registry := prometheus.NewRegistry()
			metrics := prommetrics.NewMetrics(registry, "gateway")

			manager, err := gate.NewManager(store, gate.Config{
				Secret:        cfg.Secret,
				AllowedModels: cfg.AllowedModels,
				Rates:         cfg.GateRates(),
				WeeklyCap:     cfg.WeeklyCap,
				Logger:        logger,
				Metrics:       metrics,
			})
			if err != nil {
				return fmt.Errorf("failed to create gate manager: %w", err)
			}

			upstream, err := openai.New(openai.Config{
				APIKey:    cfg.OpenAI.APIKey,
				OrgID:     cfg.OpenAI.OrgID,
				ProjectID: cfg.OpenAI.ProjectID,
			})
			if err != nil {
				return fmt.Errorf("failed to create upstream client: %w", err)
			}

			handler, err := api.NewHandler(api.Config{
				Manager:      manager,
				Upstream:     upstream,
				DefaultModel: cfg.DefaultModel,
				Logger:       logger,
			})
			if err != nil {
				return fmt.Errorf("failed to create API handler: %w", err)
			}

			r := chi.NewRouter()
			r.Use(middleware.RequestID)
			r.Use(middleware.RealIP)
			r.Use(middleware.Recoverer)
			r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprintln(w, "OK")
			})
			r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			handler.Routes(r)

			server := &http.Server{
				Addr:              cfg.Listen,
				Handler:           r,
				ReadHeaderTimeout: 10 * time.Second,
			}

			// Shut down cleanly on SIGINT/SIGTERM.
			serveCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				zl.Info().Str("addr", cfg.Listen).Msg("gateway listening")
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			case <-serveCtx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					return fmt.Errorf("shutdown: %w", err)
				}
			}

			return nil
		},
	}
}

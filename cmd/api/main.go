package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/ewilliams-labs/cadenza/internal/adapters/analysis"
	"github.com/ewilliams-labs/cadenza/internal/adapters/catalog"
	"github.com/ewilliams-labs/cadenza/internal/adapters/preview"
	"github.com/ewilliams-labs/cadenza/internal/adapters/rest"
	"github.com/ewilliams-labs/cadenza/internal/adapters/sqlite"
	"github.com/ewilliams-labs/cadenza/internal/config"
	"github.com/ewilliams-labs/cadenza/internal/core/services"
	"github.com/ewilliams-labs/cadenza/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to config.toml (embedded defaults when empty)")
	flag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "cadenza",
	})

	// Local development reads credentials from .env; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", "err", err)
	}
	if cfg.Catalog.ClientID == "" || cfg.Catalog.ClientSecret == "" {
		logger.Fatal("CATALOG_CLIENT_ID and CATALOG_CLIENT_SECRET are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Cache store.
	repo, err := sqlite.NewAdapter(cfg.Database.Path)
	if err != nil {
		logger.Fatal("failed to initialize database", "err", err)
	}
	defer repo.Close()

	// Catalog client with client-credentials auth.
	creds := clientcredentials.Config{
		ClientID:     cfg.Catalog.ClientID,
		ClientSecret: cfg.Catalog.ClientSecret,
		TokenURL:     cfg.Catalog.TokenURL,
	}
	catalogClient := catalog.NewClient(creds.Client(ctx), cfg.Catalog.BaseURL)

	// Preview cascade.
	locator := preview.NewLocator(
		preview.NewDeezerClient(nil, cfg.Preview.DeezerBaseURL, cfg.Preview.DeezerRPS),
		preview.NewITunesClient(nil, cfg.Preview.ITunesBaseURL, cfg.Preview.ITunesRPS),
		logger.WithPrefix("preview"),
	)

	// Analysis client. The identity token is minted by the platform's
	// credential provider and injected through the environment here.
	var tokens oauth2.TokenSource
	if raw := os.Getenv("ANALYSIS_IDENTITY_TOKEN"); raw != "" {
		tokens = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: raw})
	}
	analysisClient := analysis.NewClient(nil, cfg.Analysis.BaseURL, tokens, logger.WithPrefix("analysis"))

	var probe services.ProbeFunc
	if cfg.Preview.Probe {
		probe = worker.ProbeFunc
	}

	svc := services.NewOrchestrator(
		catalogClient, locator, analysisClient, repo,
		probe, cfg.Preview.Market, logger.WithPrefix("engine"),
	)

	// Background recompute pool and stale sweeper.
	pool := worker.NewPool(svc, cfg.Worker.QueueSize, logger.WithPrefix("worker"))
	pool.Start(cfg.Worker.Workers)
	defer pool.Stop()
	go pool.RunSweeper(ctx, repo, time.Duration(cfg.Worker.SweepMinutes)*time.Minute, cfg.Worker.SweepBatch)

	handler := rest.NewHandler(svc, pool, logger.WithPrefix("http"))

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("api listening", "addr", cfg.Server.Addr())
		err := srv.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Fatal("server failed", "err", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "err", err)
		}
	}
}

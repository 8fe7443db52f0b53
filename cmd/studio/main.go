package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"genstudio/internal/backends/local"
	"genstudio/internal/backends/remote"
	"genstudio/internal/backendtest"
	"genstudio/internal/channel"
	"genstudio/internal/infra"
	"genstudio/internal/store"
	"genstudio/internal/tracker"
	"genstudio/internal/webapi"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	// Demo mode trades the real dashboard backend for the bundled fake one.
	if cfg.DemoBackend {
		demo := backendtest.New()
		defer demo.Close()
		cfg.BaseURL = demo.URL()
		cfg.RemoteBaseURL = demo.URL() + "/google-ai"
		logger.Info().Str("url", demo.URL()).Msg("demo backend running")
	}

	ctx := context.Background()

	// Job placeholders and preferences share one client-local SQLite file.
	// The postgres job store is for deployments that already run one.
	db, err := infra.OpenSQLite(cfg.StorePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open local store")
	}
	defer db.Close()

	sqliteStore, err := store.NewSQLiteStore(db)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize local store")
	}
	prefs := store.NewPrefs(db)

	var jobStore store.Store = sqliteStore
	if cfg.StoreBackend == "postgres" {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		defer pool.Close()
		pg := store.NewPostgresStore(pool)
		if err := pg.Initialize(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize job store")
		}
		jobStore = pg
	}

	tr := tracker.New(tracker.Config{
		SuccessGrace: cfg.SuccessGrace,
		FailureGrace: cfg.FailureGrace,
		ResumeMaxAge: cfg.ResumeMaxAge,
		PageSize:     cfg.PageSize,
	}, tracker.Deps{
		Store:  jobStore,
		Local:  local.NewClient(local.Options{BaseURL: cfg.BaseURL, APIKey: cfg.APIKey, Logger: &logger}),
		Remote: remote.NewClient(remote.Options{BaseURL: cfg.RemoteBaseURL, APIKey: cfg.APIKey, Model: cfg.RemoteModel, Logger: &logger}),
		ChannelOpts: channel.Options{
			BaseURL:      cfg.BaseURL,
			APIKey:       cfg.APIKey,
			MonitorDelay: cfg.MonitorDelay,
			Logger:       &logger,
		},
		Logger: logger,
	})
	defer tr.Close()

	// Pick interrupted jobs back up before serving.
	if resumed, err := tr.Resume(ctx); err != nil {
		logger.Error().Err(err).Msg("resume failed")
	} else if resumed > 0 {
		logger.Info().Int("jobs", resumed).Msg("resumed tracking")
	}
	if err := tr.Refresh(ctx); err != nil {
		logger.Warn().Err(err).Msg("initial history load failed")
	}

	app := webapi.NewApp(tr, prefs, logger)
	router := webapi.NewRouter(app, webapi.RouterOptions{
		APIKey:      cfg.ServeKey,
		CORSOrigins: cfg.CORSOrigins,
	})
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("addr", server.Addr()).Msg("studio listening")
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("studio stopped")
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/justyntemme/calibrewebui/internal/api"
	"github.com/justyntemme/calibrewebui/internal/auth"
	"github.com/justyntemme/calibrewebui/internal/calibredb"
	"github.com/justyntemme/calibrewebui/internal/catalog"
	"github.com/justyntemme/calibrewebui/internal/config"
	"github.com/justyntemme/calibrewebui/internal/ledger"
	"github.com/justyntemme/calibrewebui/internal/logger"
	"github.com/justyntemme/calibrewebui/internal/scheduler"
	"github.com/justyntemme/calibrewebui/internal/storage"
)

// ServeCmd runs the HTTP server
type ServeCmd struct {
	Addr string `help:"Server bind address (e.g. :8080); overrides server.http_addr"`
}

func (s *ServeCmd) Run(g *Globals) error {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return err
	}
	if s.Addr != "" {
		cfg.Server.HTTPAddr = s.Addr
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	library, err := catalog.Open(ctx, cfg.Calibre.LibraryPath, log)
	if errors.Is(err, catalog.ErrIncompatibleCatalog) {
		return fmt.Errorf("%s is not a supported calibre library: %w", cfg.Calibre.LibraryPath, err)
	}
	if err != nil {
		return fmt.Errorf("open calibre library: %w", err)
	}
	defer library.Close()

	jobs, err := ledger.Open(cfg.WebUI.DBPath, log)
	if err != nil {
		return fmt.Errorf("open job ledger: %w", err)
	}
	defer jobs.Close()
	// Jobs left RUNNING by a previous process can never finish
	if cfg.Jobs.ClearOnStart {
		if err := jobs.Clear(ctx); err != nil {
			return fmt.Errorf("clear job ledger: %w", err)
		}
	}

	devices, err := storage.NewDatabase(cfg.WebUI.DBPath)
	if err != nil {
		return fmt.Errorf("open web ui database: %w", err)
	}
	defer devices.Close()

	files, err := storage.NewFileStorage(cfg.Calibre.TempDir)
	if err != nil {
		return fmt.Errorf("create scratch directory: %w", err)
	}

	gateway := calibredb.NewGateway(calibredb.Config{
		LibraryPath:        cfg.Calibre.LibraryPath,
		CalibredbBin:       cfg.Calibre.CalibredbBin,
		ConvertBin:         cfg.Calibre.ConvertBin,
		FetchMetadataBin:   cfg.Calibre.FetchMetadataBin,
		PreferredFormat:    cfg.Calibre.PreferredFormat,
		FetchRatePerMinute: cfg.Calibre.FetchRatePerMinute,
	}, calibredb.NewExecRunner(log), library, files, log)
	log.Info("calibre detected", zap.String("version", gateway.Version(ctx)))

	converter := calibredb.NewConverter(gateway, jobs, cfg.Jobs.Workers, cfg.Jobs.QueueSize, log)
	converter.Start()

	var cron *scheduler.Runner
	if cfg.Cron.Enabled {
		cron = scheduler.New(log, ctx)
		if _, err := cron.Add(cfg.Cron.ScratchSweep, scheduler.SweepScratch(files, cfg.Cron.ScratchMaxAge, log)); err != nil {
			converter.Stop()
			return fmt.Errorf("schedule scratch sweep %q: %w", cfg.Cron.ScratchSweep, err)
		}
		cron.Start()
	}

	authenticator := auth.NewAuthenticator(cfg.Auth.Username, cfg.Auth.PasswordHash, cfg.App.SecretKey, cfg.Auth.TokenTTL)
	if !authenticator.Enabled() {
		log.Warn("operator auth disabled; library changes are open to anyone who can reach the server")
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), logger.GinMiddleware(log), corsMiddleware())

	handler := api.NewHandler(api.Dependencies{
		Catalog:   library,
		Gateway:   gateway,
		Converter: converter,
		Jobs:      jobs,
		Devices:   devices,
		Files:     files,
		Auth:      authenticator,
	}, api.Options{
		PageSize:        cfg.Server.PageSize,
		MinPageSize:     cfg.Server.MinPageSize,
		MaxPageSize:     cfg.Server.MaxPageSize,
		UploadFormats:   cfg.Calibre.UploadFormats,
		ConvertFormats:  cfg.Calibre.ConvertFormats,
		PreferredFormat: cfg.Calibre.PreferredFormat,
		MaxUploadSize:   cfg.Server.MaxUploadMB << 20,
	}, log)
	handler.Register(engine)

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server starting",
			zap.String("addr", cfg.Server.HTTPAddr),
			zap.String("library", cfg.Calibre.LibraryPath),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case serveErr = <-errCh:
		log.Error("server error", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	if cron != nil {
		cron.Stop()
	}
	converter.Stop()
	return serveErr
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskd/internal/config"
	"taskd/internal/db"
	httpServer "taskd/internal/http"
	"taskd/internal/http/middleware"
	"taskd/internal/logger"
	"taskd/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var (
	version = "1.0.0"
	commit  = "none"
	date    = "unknown"
)

// CLI flags
var (
	port      string
	verbosity int
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "taskd",
		Short:         "taskd - task tracking API",
		Long:          `taskd serves a task tracking HTTP API backed by PostgreSQL.`,
		RunE:          runServe,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase verbosity (-v debug)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (default)",
		RunE:  runServe,
	}
	for _, c := range []*cobra.Command{rootCmd, serveCmd} {
		c.Flags().StringVarP(&port, "port", "p", "", "HTTP server port (overrides APP_PORT)")
	}
	rootCmd.AddCommand(serveCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "init-db",
		Short: "Create the tasks table and indexes if they are missing",
		RunE:  runInitDB,
	})

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("taskd %s (commit: %s, built: %s)\n", version, commit, date)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		logger.Error("taskd failed", "error", err)
		if errors.Is(err, db.ErrConfig) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// setup loads configuration and initialises logging
func setup() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if port != "" {
		cfg.AppPort = port
	}
	if verbosity > 0 {
		cfg.LogLevel = "debug"
	}
	logger.InitWithFile(cfg.LogLevel, cfg.LogJSON, cfg.LogFile)
	return cfg, nil
}

func runInitDB(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	mgr, err := db.Connect(ctx, cfg.DatabaseURL, cfg.Pool)
	if err != nil {
		return err
	}
	defer mgr.Shutdown(context.Background())

	if err := mgr.EnsureSchema(ctx); err != nil {
		return err
	}
	logger.Info("database schema ready")
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	logger.Info("starting taskd", "version", version, "port", cfg.AppPort)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	mgr, err := db.Connect(connectCtx, cfg.DatabaseURL, cfg.Pool)
	cancel()
	if err != nil {
		return err
	}
	if err := mgr.EnsureSchema(ctx); err != nil {
		_ = mgr.Shutdown(context.Background())
		return err
	}
	prometheus.MustRegister(db.NewPoolCollector(mgr))

	rdb := middleware.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if rdb != nil {
		defer rdb.Close()
	}

	gin.SetMode(gin.ReleaseMode)
	r := httpServer.NewRouter(service.NewTaskService(mgr), httpServer.RouterConfig{
		Version:       version,
		APIRateLimit:  cfg.APIRateLimit,
		APIRateWindow: cfg.APIRateWindow,
		Redis:         rdb,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server started", "port", cfg.AppPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down server...")
	case err := <-serveErr:
		_ = mgr.Shutdown(context.Background())
		return fmt.Errorf("listen: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		logger.Warn("database shutdown incomplete", "error", err)
	}

	logger.Info("server exited")
	return nil
}

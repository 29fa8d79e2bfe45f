package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loopcoach/programsync/internal/api"
	"github.com/loopcoach/programsync/internal/config"
	"github.com/loopcoach/programsync/internal/materialize"
	"github.com/loopcoach/programsync/internal/reconcile"
	"github.com/loopcoach/programsync/internal/store"
	"github.com/loopcoach/programsync/internal/sync"
)

var (
	listenAddr string
	dbPath     string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the programsync daemon",
	Long: `Starts the programsync daemon: the HTTP API plus the periodic
reconciliation loop that keeps tasks and habits in sync.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (overrides config)")
	serveCmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}

	s, err := store.New(cfg.DBPath)
	if err != nil {
		return err
	}

	// Wire engines, runner, service and server
	tasks := sync.NewTaskEngine(s, logger)
	habits := sync.NewHabitEngine(s, logger)
	runner := reconcile.NewRunner(s, tasks, habits, reconcile.Config{
		BatchSize:  cfg.BatchSize,
		BatchPause: cfg.BatchPause,
	}, logger)
	materializer := materialize.New(s, logger)
	service := api.NewService(s, materializer, tasks, habits, runner, cfg.HorizonDays, logger)
	server := api.NewServer(service, cfg.ListenAddr, cfg.SchedulerSecret, logger)

	// Periodic reconciliation loop
	loopCtx, loopCancel := context.WithCancel(context.Background())
	defer loopCancel()
	if cfg.SyncInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.SyncInterval)
			defer ticker.Stop()
			for {
				select {
				case <-loopCtx.Done():
					return
				case <-ticker.C:
					if _, err := runner.Run(loopCtx); err != nil {
						logger.Error("scheduled reconciliation failed", "error", err)
					}
				}
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		err := server.Start()
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			logger.Error("server error", "error", err)
			s.Close()
			return err
		}
	}

	loopCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := s.Close(); err != nil {
		logger.Error("database close error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

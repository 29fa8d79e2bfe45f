package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/loopcoach/programsync/internal/config"
	"github.com/loopcoach/programsync/internal/reconcile"
	"github.com/loopcoach/programsync/internal/store"
	"github.com/loopcoach/programsync/internal/sync"
)

var syncDBPath string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one reconciliation pass and exit",
	Long: `Runs a single reconciliation pass over all active enrollments and
prints the run summary as JSON. Useful from cron or for debugging.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringVar(&syncDBPath, "db", "", "Path to SQLite database (overrides config)")
}

func runSync(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if syncDBPath != "" {
		cfg.DBPath = syncDBPath
	}

	s, err := store.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer s.Close()

	tasks := sync.NewTaskEngine(s, logger)
	habits := sync.NewHabitEngine(s, logger)
	runner := reconcile.NewRunner(s, tasks, habits, reconcile.Config{
		BatchSize:  cfg.BatchSize,
		BatchPause: cfg.BatchPause,
	}, logger)

	summary, err := runner.Run(context.Background())
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

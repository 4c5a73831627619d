package main

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/docmatch/docmatch/internal/engine"
	"github.com/docmatch/docmatch/internal/scheduler"
)

func workerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the background job worker",
		Long: `Poll the job queue and execute pending search and sync jobs until
interrupted. Stale processing jobs are swept on every cycle.`,
		RunE: runWorker,
	}

	cmd.Flags().Duration("interval", 5*time.Second, "Poll interval")
	_ = viper.BindPFlag("worker.interval", cmd.Flags().Lookup("interval"))

	return cmd
}

func runWorker(cmd *cobra.Command, _ []string) error {
	interval := viper.GetDuration("worker.interval")
	ctx := cmd.Context()

	store, err := newStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.Migrate(ctx); err != nil {
		return err
	}

	pipeline, syncRunner, _, err := buildEngine(store)
	if err != nil {
		return err
	}

	sched := scheduler.New(store, pipeline.StrategyNames())
	worker := engine.NewWorker(store, pipeline, syncRunner, sched, interval)

	slog.Info("Worker started", "interval", interval)

	return worker.Start(ctx)
}

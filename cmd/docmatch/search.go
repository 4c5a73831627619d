package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docmatch/docmatch/internal/cli"
	"github.com/docmatch/docmatch/internal/common"
	"github.com/docmatch/docmatch/internal/scheduler"
)

func searchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search [transaction-id]",
		Short: "Queue a document search for a transaction",
		Long: `Create a search job that runs the strategy pipeline for one
transaction: stored documents first, then the connected mailboxes.

By default the job is queued for the background worker. Pass --wait to run
it in the foreground and see the outcome immediately.`,
		Args: cobra.ExactArgs(1),
		RunE: runSearch,
	}

	cmd.Flags().StringSlice("strategies", nil, "Subset of strategies to run (default: all)")
	cmd.Flags().Bool("wait", false, "Run the job in the foreground")

	return cmd
}

func runSearch(cmd *cobra.Command, args []string) error {
	strategies, _ := cmd.Flags().GetStringSlice("strategies")
	wait, _ := cmd.Flags().GetBool("wait")
	ctx := cmd.Context()

	store, err := newStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	pipeline, _, _, err := buildEngine(store)
	if err != nil {
		return err
	}

	sched := scheduler.New(store, pipeline.StrategyNames())

	job, err := sched.TriggerSearch(ctx, args[0], strategies)
	if err != nil {
		if errors.Is(err, common.ErrDuplicateJob) && job != nil {
			fmt.Println(cli.FormatWarning(fmt.Sprintf("A search for this transaction is already %s (job %s)", job.Status, job.ID)))
			return nil
		}
		return err
	}

	fmt.Println(cli.FormatInfo(fmt.Sprintf("Queued search job %s using strategies: %s",
		job.ID, strings.Join(job.Strategies, ", "))))

	if !wait {
		return nil
	}

	if err := pipeline.Run(ctx, job.ID); err != nil {
		return fmt.Errorf("search job failed: %w", err)
	}

	done, err := store.GetSearchJob(ctx, job.ID)
	if err != nil {
		return err
	}

	fmt.Println(cli.FormatSuccess(fmt.Sprintf("Search %s: %d email(s) processed, %d connected, %d skipped",
		done.Status, done.EmailsProcessed, done.FilesConnected, done.AttachmentsSkipped)))
	for _, jobErr := range done.Errors {
		fmt.Println(cli.FormatWarning(jobErr))
	}

	return nil
}

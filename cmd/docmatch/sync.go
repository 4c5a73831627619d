package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docmatch/docmatch/internal/cli"
	"github.com/docmatch/docmatch/internal/common"
	"github.com/docmatch/docmatch/internal/scheduler"
)

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync [source-id]",
		Short: "Scan a mailbox for documents in uncovered date ranges",
		Long: `Compute which parts of the ledger's date range the mailbox source has
not been scanned for yet and queue one sync job per gap. Documents found
during the scan are stored, and connected automatically when they match a
transaction with high confidence.`,
		Args: cobra.ExactArgs(1),
		RunE: runSync,
	}

	cmd.Flags().Bool("wait", false, "Run the queued jobs in the foreground")

	return cmd
}

func runSync(cmd *cobra.Command, args []string) error {
	wait, _ := cmd.Flags().GetBool("wait")
	ctx := cmd.Context()

	store, err := newStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	_, syncRunner, _, err := buildEngine(store)
	if err != nil {
		return err
	}

	sched := scheduler.New(store, nil)

	jobs, err := sched.ScheduleSync(ctx, args[0], true)
	if err != nil {
		switch {
		case errors.Is(err, common.ErrRateLimit):
			fmt.Println(cli.FormatWarning("A sync was triggered recently, try again in a few minutes"))
			return nil
		case errors.Is(err, common.ErrAlreadySyncing):
			fmt.Println(cli.FormatWarning("A sync for this source is already running"))
			return nil
		default:
			return err
		}
	}

	if len(jobs) == 0 {
		fmt.Println(cli.FormatSuccess("Mailbox already covers the ledger's date range, nothing to sync"))
		return nil
	}

	for _, job := range jobs {
		fmt.Println(cli.FormatInfo(fmt.Sprintf("Queued sync job %s covering %s to %s",
			job.ID,
			job.DateFrom.Format("2006-01-02"),
			job.DateTo.Format("2006-01-02"))))
	}

	if !wait {
		return nil
	}

	for _, job := range jobs {
		if err := syncRunner.Run(ctx, job.ID); err != nil {
			return fmt.Errorf("sync job %s failed: %w", job.ID, err)
		}

		done, err := store.GetSearchJob(ctx, job.ID)
		if err != nil {
			return err
		}
		fmt.Println(cli.FormatSuccess(fmt.Sprintf("Sync %s: %d email(s) processed, %d connected, %d skipped",
			done.Status, done.EmailsProcessed, done.FilesConnected, done.AttachmentsSkipped)))
	}

	return nil
}

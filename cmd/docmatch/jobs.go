package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docmatch/docmatch/internal/cli"
	"github.com/docmatch/docmatch/internal/model"
	"github.com/docmatch/docmatch/internal/scheduler"
	"github.com/docmatch/docmatch/internal/service"
)

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage search jobs",
	}

	cmd.AddCommand(jobsListCmd())
	cmd.AddCommand(jobsShowCmd())
	cmd.AddCommand(jobsSweepCmd())

	return cmd
}

func jobsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List search jobs",
		RunE:  runJobsList,
	}

	cmd.Flags().StringSlice("status", nil, "Filter by status (pending, processing, completed, failed)")
	cmd.Flags().IntP("limit", "n", 20, "Maximum number of jobs")

	return cmd
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	statusNames, _ := cmd.Flags().GetStringSlice("status")
	limit, _ := cmd.Flags().GetInt("limit")

	store, err := newStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	statuses := make([]model.JobStatus, 0, len(statusNames))
	for _, name := range statusNames {
		statuses = append(statuses, model.JobStatus(name))
	}

	jobs, err := store.ListSearchJobs(cmd.Context(), service.JobFilter{Statuses: statuses, Limit: limit})
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println(cli.SubtleStyle.Render("No jobs found."))
		return nil
	}

	header := fmt.Sprintf("%-36s  %-18s  %-10s  %8s  %s", "ID", "SCOPE", "STATUS", "PROGRESS", "CREATED")
	fmt.Println(cli.TableHeaderStyle.Render(header))
	for _, job := range jobs {
		fmt.Printf("%-36s  %-18s  %-10s  %7d%%  %s\n",
			job.ID, job.Scope, jobStatusText(job.Status), job.Progress,
			job.CreatedAt.Format("2006-01-02 15:04"))
	}

	return nil
}

func jobsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [job-id]",
		Short: "Show the full state of one search job",
		Args:  cobra.ExactArgs(1),
		RunE:  runJobsShow,
	}
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	store, err := newStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	job, err := store.GetSearchJob(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", args[0], err)
	}

	var lines []string
	lines = append(lines, "Scope:     "+string(job.Scope))
	lines = append(lines, "Status:    "+jobStatusText(job.Status))
	lines = append(lines, fmt.Sprintf("Progress:  %d%%", job.Progress))
	if job.TransactionID != "" {
		lines = append(lines, "Txn:       "+job.TransactionID)
	}
	if job.SourceID != "" {
		lines = append(lines, "Source:    "+job.SourceID)
	}
	if job.DateFrom != nil && job.DateTo != nil {
		lines = append(lines, fmt.Sprintf("Range:     %s to %s",
			job.DateFrom.Format("2006-01-02"), job.DateTo.Format("2006-01-02")))
	}
	if len(job.Strategies) > 0 {
		lines = append(lines, "Strategies: "+strings.Join(job.Strategies, ", "))
	}
	lines = append(lines, fmt.Sprintf("Counters:  %d processed, %d connected, %d skipped",
		job.EmailsProcessed, job.FilesConnected, job.AttachmentsSkipped))
	if job.RetryCount > 0 {
		lines = append(lines, fmt.Sprintf("Retries:   %d of %d", job.RetryCount, job.MaxRetries))
	}
	for _, jobErr := range job.Errors {
		lines = append(lines, cli.ErrorStyle.Render("Error:     "+jobErr))
	}

	fmt.Println(cli.RenderBox("Job "+job.ID, strings.Join(lines, "\n")))

	return nil
}

func jobsSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Fail jobs stuck in processing",
		Long: `Mark jobs as failed when they have been in the processing state for
too long without progress, usually because a previous run crashed.`,
		RunE: runJobsSweep,
	}
}

func runJobsSweep(cmd *cobra.Command, _ []string) error {
	store, err := newStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	swept, err := scheduler.New(store, nil).SweepStale(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to sweep stale jobs: %w", err)
	}

	fmt.Println(cli.FormatSuccess(fmt.Sprintf("Swept %d stale job(s)", swept)))

	return nil
}

func jobStatusText(status model.JobStatus) string {
	switch status {
	case model.JobCompleted:
		return cli.SuccessStyle.Render(string(status))
	case model.JobFailed:
		return cli.ErrorStyle.Render(string(status))
	case model.JobProcessing:
		return cli.WarningStyle.Render(string(status))
	default:
		return string(status)
	}
}

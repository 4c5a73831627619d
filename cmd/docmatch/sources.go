package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docmatch/docmatch/internal/cli"
	"github.com/docmatch/docmatch/internal/model"
	"github.com/docmatch/docmatch/internal/source"
)

func sourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Manage connected mailbox sources",
	}

	cmd.AddCommand(sourcesListCmd())
	cmd.AddCommand(sourcesPauseCmd())
	cmd.AddCommand(sourcesResumeCmd())
	cmd.AddCommand(sourcesDisconnectCmd())
	cmd.AddCommand(sourcesReconnectCmd())

	return cmd
}

func sourcesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List mailbox sources",
		RunE:  runSourcesList,
	}
}

func runSourcesList(cmd *cobra.Command, _ []string) error {
	store, err := newStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	sources, err := store.ListSources(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list sources: %w", err)
	}

	if len(sources) == 0 {
		fmt.Println(cli.SubtleStyle.Render("No sources connected. Run 'docmatch auth' to connect a mailbox."))
		return nil
	}

	header := fmt.Sprintf("%-36s  %-28s  %-14s  %s", "ID", "EMAIL", "STATE", "SYNCED RANGE")
	fmt.Println(cli.TableHeaderStyle.Render(header))
	for i := range sources {
		src := &sources[i]
		fmt.Printf("%-36s  %-28s  %-14s  %s\n", src.ID, src.Email, sourceState(src), syncedRange(src))
	}

	return nil
}

func sourceState(src *model.Source) string {
	switch {
	case !src.IsConnected():
		return cli.SubtleStyle.Render("disconnected")
	case src.NeedsReauth:
		return cli.ErrorStyle.Render("needs reauth")
	case src.Paused:
		return cli.WarningStyle.Render("paused")
	default:
		return cli.SuccessStyle.Render("active")
	}
}

func syncedRange(src *model.Source) string {
	if src.SyncedDateFrom == nil || src.SyncedDateTo == nil {
		return "never synced"
	}
	return fmt.Sprintf("%s to %s",
		src.SyncedDateFrom.Format("2006-01-02"),
		src.SyncedDateTo.Format("2006-01-02"))
}

func sourcesPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause [source-id]",
		Short: "Pause syncing for a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(mgr *source.Manager) error {
				if err := mgr.Pause(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Println(cli.FormatSuccess("Source paused"))
				return nil
			})
		},
	}
}

func sourcesResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume [source-id]",
		Short: "Resume syncing for a paused source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(mgr *source.Manager) error {
				if err := mgr.Resume(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Println(cli.FormatSuccess("Source resumed"))
				return nil
			})
		},
	}
}

func sourcesDisconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect [source-id]",
		Short: "Disconnect a mailbox source",
		Long: `Disconnect a mailbox source and revoke its credential. Documents that
are connected to transactions are kept; unconnected documents from this
source are hidden and restored if the same mailbox reconnects later.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(mgr *source.Manager) error {
				if err := mgr.Disconnect(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Println(cli.FormatSuccess("Source disconnected"))
				return nil
			})
		},
	}
}

func sourcesReconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconnect [external-account-id] [email]",
		Short: "Reconnect a mailbox by its provider account id",
		Long: `Reconnect a mailbox source. When the account was connected before, its
hidden documents and sync watermarks are restored; otherwise a fresh
source is registered.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(mgr *source.Manager) error {
				src, err := mgr.Reconnect(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Println(cli.FormatSuccess(fmt.Sprintf("Source %s connected as %s", src.ID, src.Email)))
				return nil
			})
		},
	}
}

func withManager(cmd *cobra.Command, fn func(*source.Manager) error) error {
	store, err := newStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	mail, err := newMailboxClient()
	if err != nil {
		return err
	}

	return fn(source.NewManager(store, mail))
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docmatch/docmatch/internal/cli"
	appconfig "github.com/docmatch/docmatch/internal/config"
	"github.com/docmatch/docmatch/internal/mailbox"
	"github.com/docmatch/docmatch/internal/source"
)

func authCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth [external-account-id] [email]",
		Short: "Connect a mailbox account",
		Long: `Run the OAuth flow for a mailbox account and register it as a source.

The external account id is the provider's stable identifier for the
mailbox. Reconnecting a previously disconnected account restores its
hidden documents and sync history.

Requires mailbox client credentials, either in the config file
(mailbox.client_id, mailbox.client_secret) or via the GMAIL_CLIENT_ID and
GMAIL_CLIENT_SECRET environment variables.`,
		Args: cobra.ExactArgs(2),
		RunE: runAuth,
	}

	return cmd
}

func runAuth(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	externalAccountID, email := args[0], args[1]

	oauthConfig, err := appconfig.LoadMailboxConfig()
	if err != nil {
		return err
	}

	token, err := mailbox.AuthenticateInteractive(ctx, *oauthConfig)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	tokens, err := mailbox.NewFileTokenStore(appconfig.TokenDir())
	if err != nil {
		return err
	}
	if err := tokens.Save(ctx, externalAccountID, token); err != nil {
		return err
	}

	store, err := newStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	mgr := source.NewManager(store, mailbox.NewGmailClient(tokens))
	src, err := mgr.Reconnect(ctx, externalAccountID, email)
	if err != nil {
		return fmt.Errorf("failed to register source: %w", err)
	}

	fmt.Println(cli.FormatSuccess(fmt.Sprintf("Mailbox %s connected as source %s", email, src.ID)))

	return nil
}

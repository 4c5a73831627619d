package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docmatch/docmatch/internal/cli"
)

func init() {
	connectCmd := &cobra.Command{
		Use:   "connect [transaction-id] [document-id]",
		Short: "Connect a document to a transaction",
		Long: `Record that a stored document belongs to a transaction. Connecting the
same pair twice is a no-op. A transaction can hold several documents, for
example when one payment settles multiple invoices.`,
		Args: cobra.ExactArgs(2),
		RunE: runConnect,
	}

	rootCmd.AddCommand(connectCmd)
}

func runConnect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := newStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	txn, err := store.GetTransaction(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to load transaction %s: %w", args[0], err)
	}

	doc, err := store.GetDocument(ctx, args[1])
	if err != nil {
		return fmt.Errorf("failed to load document %s: %w", args[1], err)
	}

	if err := store.ConnectDocument(ctx, doc.ID, txn.ID); err != nil {
		return fmt.Errorf("failed to connect document: %w", err)
	}

	fmt.Println(cli.FormatSuccess(fmt.Sprintf("Connected %s to %s", doc.Filename, txn.ID)))

	return nil
}

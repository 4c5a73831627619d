package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docmatch/docmatch/internal/cli"
	"github.com/docmatch/docmatch/internal/match"
	"github.com/docmatch/docmatch/internal/service"
)

func matchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match [transaction-id]",
		Short: "Rank stored documents against a transaction",
		Long: `Score every unconnected stored document against a transaction and
print the ranked suggestions. Nothing is connected automatically; use the
output to decide which document belongs to the transaction.`,
		Args: cobra.ExactArgs(1),
		RunE: runMatch,
	}

	cmd.Flags().StringP("query", "q", "", "Filter candidates by filename, partner, subject or sender")
	cmd.Flags().IntP("limit", "n", match.DefaultRankLimit, "Maximum number of suggestions")

	return cmd
}

func runMatch(cmd *cobra.Command, args []string) error {
	query, _ := cmd.Flags().GetString("query")
	limit, _ := cmd.Flags().GetInt("limit")
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

	candidates, err := store.ListDocuments(ctx, service.DocumentFilter{Unconnected: true})
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}

	ranker := match.NewRanker(store, newRateProvider())
	results, err := ranker.Rank(ctx, txn, candidates, nil, query, limit)
	if err != nil {
		return fmt.Errorf("failed to rank documents: %w", err)
	}

	fmt.Println(cli.FormatTitle(fmt.Sprintf("Suggestions for %s (%s, %s)",
		txn.ID, txn.CounterpartyName, cli.FormatAmount(txn.Amount, txn.Currency))))

	if len(results) == 0 {
		fmt.Println(cli.SubtleStyle.Render("No candidate documents above the suggestion floor."))
	}

	byID := make(map[string]string, len(candidates))
	for _, doc := range candidates {
		name := doc.Filename
		if name == "" {
			name = doc.Email.Subject
		}
		byID[doc.ID] = name
		byID[doc.SyntheticID()] = name
	}

	for i, res := range results {
		fmt.Printf("%2d. %s  %s  %s\n",
			i+1,
			cli.FormatScore(res.Score),
			cli.BoldStyle.Render(byID[res.DocumentID]),
			cli.SubtleStyle.Render(strings.Join(res.Reasons, ", ")))
	}

	// Settlement summary across already connected documents
	agg, err := ranker.Aggregate(ctx, txn)
	if err != nil {
		return fmt.Errorf("failed to aggregate connected documents: %w", err)
	}
	if agg.DocumentCount > 0 {
		status := cli.FormatWarning(fmt.Sprintf("residual %s", cli.FormatAmount(agg.Residual, agg.Currency)))
		if agg.Settled {
			status = cli.FormatSuccess("settled")
		}
		fmt.Printf("\n%s %d connected document(s) totalling %s, %s\n",
			cli.LinkIcon,
			agg.DocumentCount,
			cli.FormatAmount(agg.ConnectedTotal, agg.Currency),
			status)
	}

	return nil
}

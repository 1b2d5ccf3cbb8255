package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/shpitdev/email-batch-validator/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect locally kept validation history",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recent validation results, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openHistory(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		recs, err := st.List(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "history list")
		}
		if len(recs) == 0 {
			_, _ = fmt.Fprintln(os.Stderr, "No history.")
			return nil
		}
		total, err := st.Count(ctx)
		if err != nil {
			return eris.Wrap(err, "history count")
		}
		formatHistory(cmd.OutOrStdout(), recs)
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "showing %d of %d stored (cap %d)\n", len(recs), total, st.Cap())
		return nil
	},
}

func init() {
	historyListCmd.Flags().Int("limit", 20, "Maximum records to show")
	historyCmd.AddCommand(historyListCmd)
	rootCmd.AddCommand(historyCmd)
}

func formatHistory(w io.Writer, recs []history.Record) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "WHEN\tEMAIL\tVALID")
	for _, r := range recs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%t\n", r.CreatedAt.Local().Format(time.DateTime), r.Email, r.Valid)
	}
	_ = tw.Flush()
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/shpitdev/email-batch-validator/internal/batch"
	"github.com/shpitdev/email-batch-validator/internal/flush"
	"github.com/shpitdev/email-batch-validator/internal/history"
	"github.com/shpitdev/email-batch-validator/internal/pipeline"
	"github.com/shpitdev/email-batch-validator/internal/quota"
	"github.com/shpitdev/email-batch-validator/internal/session"
	"github.com/shpitdev/email-batch-validator/internal/stream"
	"github.com/shpitdev/email-batch-validator/internal/transport"
	"github.com/shpitdev/email-batch-validator/internal/version"
	"github.com/shpitdev/email-batch-validator/pkg/pipeline/io/local"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Validate a batch of email addresses",
	Long:  "Reads addresses from --input (text, .csv or .xlsx) or stdin, submits them and prints a summary. Partial results are kept when the stream fails midway.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		inputPath, _ := cmd.Flags().GetString("input")
		outputPath, _ := cmd.Flags().GetString("output")
		noDedupe, _ := cmd.Flags().GetBool("no-dedupe")
		advanced, _ := cmd.Flags().GetBool("advanced")
		noStream, _ := cmd.Flags().GetBool("no-stream")
		quiet, _ := cmd.Flags().GetBool("quiet")

		raw, err := readSubmission(cmd.InOrStdin(), inputPath)
		if err != nil {
			return usageError(err)
		}

		hub := session.NewHub(session.NewFileStore(cfg.Session.Path), logger)
		client, err := transport.NewClient(cfg.API.BaseURL, cfg.API.CAPath, version.UserAgent())
		if err != nil {
			return usageError(err)
		}

		var bridge *history.Bridge
		if cfg.History.Enabled {
			st, err := openHistory(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
			bridge, err = history.NewBridge(st, history.BridgeOptions{
				QueueSize: cfg.History.QueueSize,
				Logger:    logger,
			})
			if err != nil {
				return usageError(err)
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				_ = bridge.Close(closeCtx)
			}()
		}

		runner := pipeline.NewRunner(client, hub, quota.NewGatekeeper(cfg.Quota.Options()), bridge, pipeline.Options{
			Streaming:      cfg.API.Streaming && !noStream,
			Advanced:       cfg.API.Advanced || advanced,
			KeepDuplicates: noDedupe,
			StreamTimeout:  cfg.API.StreamTimeout,
			BulkTimeout:    cfg.API.BulkTimeout,
			Flush: flush.Options{
				Threshold: cfg.Flush.Threshold,
				Interval:  cfg.Flush.Interval,
			},
		}, logger)

		errOut := cmd.ErrOrStderr()
		obs := pipeline.Observer{}
		if !quiet {
			obs.OnStart = func(ev stream.StartEvent) {
				_, _ = fmt.Fprintf(errOut, "validating %d emails (%d duplicates removed)\n", ev.Total, ev.DuplicatesRemoved)
			}
			obs.OnFlush = func(ev stream.FlushEvent) {
				_, _ = fmt.Fprintf(errOut, "  %d received: %d valid, %d invalid\n", ev.Retained, ev.ValidCount, ev.InvalidCount)
			}
		}

		out, err := runner.Submit(ctx, raw, obs)
		if err != nil {
			return err
		}

		printSummary(cmd.OutOrStdout(), out)
		if out.Warning != nil {
			_, _ = fmt.Fprintf(errOut, "warning: %s\n", out.Warning.Error())
		}
		if out.HistoryDropped > 0 {
			_, _ = fmt.Fprintf(errOut, "warning: %d results were not saved to local history (write queue full)\n", out.HistoryDropped)
		}
		if outputPath != "" {
			if err := writeResults(outputPath, out.Aggregate.Results); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(errOut, "wrote %d results to %s\n", len(out.Aggregate.Results), outputPath)
		}
		return nil
	},
}

func init() {
	submitCmd.Flags().StringP("input", "i", "", "Input file (.txt, .csv, .xlsx); stdin when empty or -")
	submitCmd.Flags().StringP("output", "o", "", "Write results to this .csv or .xlsx file")
	submitCmd.Flags().Bool("no-dedupe", false, "Keep duplicate addresses")
	submitCmd.Flags().Bool("advanced", false, "Request advanced checks")
	submitCmd.Flags().Bool("no-stream", false, "Use the non-streaming endpoints")
	submitCmd.Flags().BoolP("quiet", "q", false, "Suppress progress output")
	rootCmd.AddCommand(submitCmd)
}

func readSubmission(stdin io.Reader, path string) (string, error) {
	if path == "" || path == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", eris.Wrap(err, "read stdin")
		}
		return string(b), nil
	}
	return local.ReadInput(path)
}

func openHistory(ctx context.Context) (*history.SQLiteStore, error) {
	if dir := filepath.Dir(cfg.History.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, eris.Wrapf(err, "create history dir %s", dir)
		}
	}
	st, err := history.NewSQLite(cfg.History.Path, cfg.History.Cap)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func printSummary(w io.Writer, out batch.Outcome) {
	agg := out.Aggregate
	_, _ = fmt.Fprintf(w, "state:      %s\n", out.State)
	_, _ = fmt.Fprintf(w, "results:    %d of %d\n", len(agg.Results), agg.Total)
	_, _ = fmt.Fprintf(w, "valid:      %d\n", agg.ValidCount)
	_, _ = fmt.Fprintf(w, "invalid:    %d\n", agg.InvalidCount)
	if agg.DuplicatesRemoved > 0 {
		_, _ = fmt.Fprintf(w, "duplicates: %d removed\n", agg.DuplicatesRemoved)
	}
	if agg.ProcessingTimeSeconds != nil {
		_, _ = fmt.Fprintf(w, "time:       %.2fs\n", *agg.ProcessingTimeSeconds)
	}
	if q := out.Quota; q != nil {
		label := "quota"
		if q.IsTeamQuota {
			label = "team quota"
		}
		_, _ = fmt.Fprintf(w, "%s: %d of %d used\n", label, q.Used, q.Limit)
	}
}

func writeResults(path string, results []batch.Result) error {
	rows := pipeline.Rows(results)
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "create output")
	}
	defer f.Close() //nolint:errcheck

	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		records := make([][]string, len(rows))
		for i, r := range rows {
			records[i] = r.Record()
		}
		return local.WriteXLSX(f, "Results", pipeline.Header(), records)
	}
	return eris.Wrap(pipeline.WriteCSV(f, rows), "write csv")
}

package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/nightshift/droplet-scheduler/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	historyLimit   int
	historyEvents  bool
	historyReports bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent reconcile runs from the journal",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of runs to show (0 for all)")
	historyCmd.Flags().BoolVar(&historyEvents, "events", false, "Show the events of each run")
	historyCmd.Flags().BoolVar(&historyReports, "reports", false, "List archived reports in the report bucket instead")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}

	if historyReports {
		if cfg.ReportBucket == "" {
			return fmt.Errorf("report-bucket is not set")
		}
		reports, err := newReportStore(ctx, cfg)
		if err != nil {
			return err
		}
		keys, err := reports.ListReports(ctx)
		if err != nil {
			return errors.Wrap(err, "list reports failed")
		}
		if len(keys) == 0 {
			fmt.Fprintln(out, "No reports found")
		}
		for _, k := range keys {
			fmt.Fprintln(out, k)
		}
		return nil
	}

	repo, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	runs, err := repo.ListRuns(ctx, historyLimit)
	if err != nil {
		return errors.Wrap(err, "list runs failed")
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded")
		return nil
	}

	fmt.Fprintf(out, "%-36s %-20s %-9s %-10s %-10s %s\n", "RUN", "STARTED", "DURATION", "DECISION", "STATUS", "ERROR")
	fmt.Fprintln(out, strings.Repeat("-", 100))
	for _, run := range runs {
		errMsg := run.ErrorMessage
		if errMsg == "" {
			errMsg = "-"
		}
		fmt.Fprintf(out, "%-36s %-20s %-9s %-10s %-10s %s\n",
			run.ID,
			run.StartedAt.Format(time.RFC3339),
			run.FinishedAt.Sub(run.StartedAt).Round(time.Second),
			run.Decision,
			run.Status,
			errMsg,
		)

		if !historyEvents {
			continue
		}
		events, err := repo.ListEvents(ctx, run.ID)
		if err != nil {
			return errors.Wrap(err, "list events failed")
		}
		for _, e := range events {
			fmt.Fprintf(out, "    %s  droplet=%d  %-15s %s\n", e.At.Format(time.RFC3339), e.DropletID, e.Kind, e.Detail)
		}
	}
	return nil
}

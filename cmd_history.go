package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"hf-fetch/downloader"
	"hf-fetch/storage"
)

var (
	historyRepoFlag   string
	historyStatusFlag string
	historyLimitFlag  int
	historyDaysFlag   int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past download attempts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := current.history.Records(storage.RecordFilter{
			RepoID: historyRepoFlag,
			Status: historyStatusFlag,
			Limit:  historyLimitFlag,
		})
		if err != nil {
			return err
		}
		printRecords(cmd.OutOrStdout(), records, time.Now())
		return nil
	},
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarise the download history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := current.history.Statistics()
		if err != nil {
			return err
		}
		printStats(cmd.OutOrStdout(), stats)
		return nil
	},
}

var historyCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete records older than --days",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		removed, err := current.history.CleanupOlderThan(historyDaysFlag)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d record(s)\n", removed)
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every record",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := current.history.Clear(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "History cleared")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyStatsCmd, historyCleanupCmd, historyClearCmd)

	historyCmd.Flags().StringVarP(&historyRepoFlag, "repo", "r", "", "Only show this repository")
	historyCmd.Flags().StringVar(&historyStatusFlag, "status", "", "Only show records with this status (downloading, completed, failed, cancelled)")
	historyCmd.Flags().IntVarP(&historyLimitFlag, "limit", "n", 20, "Maximum records to show, 0 for all")
	historyCleanupCmd.Flags().IntVar(&historyDaysFlag, "days", 30, "Age in days beyond which records are deleted")
}

func printRecords(out io.Writer, records []storage.DownloadRecord, now time.Time) {
	if len(records) == 0 {
		fmt.Fprintln(out, "No downloads recorded")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tREPOSITORY\tSTATUS\tSIZE\tSPEED\tDURATION\tFILES")
	for _, r := range records {
		status := r.Status
		if r.ErrorMessage != "" {
			status += ": " + truncate(r.ErrorMessage, 40)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			humanize.Time(r.StartTime),
			r.RepoID,
			status,
			humanize.IBytes(uint64(r.TotalSize)),
			downloader.FormatSpeed(r.DownloadSpeed),
			r.Duration(now).Round(time.Second),
			truncate(strings.Join(r.Files, ","), 50))
	}
	w.Flush()
}

func printStats(out io.Writer, s storage.Stats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Total downloads:\t%d\n", s.TotalDownloads)
	fmt.Fprintf(w, "Completed:\t%d\n", s.Completed)
	fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	fmt.Fprintf(w, "Cancelled:\t%d\n", s.Cancelled)
	fmt.Fprintf(w, "Success rate:\t%.1f%%\n", s.SuccessRate)
	fmt.Fprintf(w, "Data downloaded:\t%s\n", humanize.IBytes(uint64(s.TotalBytes)))
	fmt.Fprintf(w, "Average speed:\t%s\n", downloader.FormatSpeed(s.AverageSpeed))
	w.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

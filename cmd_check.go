package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"hf-fetch/storage"
)

var checkCmd = &cobra.Command{
	Use:   "check [namespace/name...]",
	Short: "Check downloaded repositories for newer versions",
	Long: `Compares the version recorded after each successful download with the
repository's current version on the hub. Without arguments every downloaded
repository is checked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		ctx, stop := signalContext()
		defer stop()

		checker := storage.NewUpdateChecker(a.client, a.metadata, a.logger)

		var results map[string]storage.UpdateStatus
		if len(args) == 0 {
			results = checker.CheckAll(ctx)
		} else {
			results = make(map[string]storage.UpdateStatus, len(args))
			for _, repoID := range args {
				results[repoID] = checker.Check(ctx, repoID)
			}
		}

		printUpdates(cmd.OutOrStdout(), results)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func printUpdates(out io.Writer, results map[string]storage.UpdateStatus) {
	if len(results) == 0 {
		fmt.Fprintln(out, "No downloaded repositories")
		return
	}
	repos := make([]string, 0, len(results))
	for repo := range results {
		repos = append(repos, repo)
	}
	sort.Strings(repos)
	for _, repo := range repos {
		fmt.Fprintf(out, "%-50s %s\n", repo, results[repo])
	}
}

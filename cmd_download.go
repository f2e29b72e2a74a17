package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hf-fetch/downloader"
	"hf-fetch/hub"
)

var (
	downloadSuffixFlag string
	downloadGroupFlag  string
	downloadAllFlag    bool
	downloadQuietFlag  bool
)

var downloadCmd = &cobra.Command{
	Use:   "download <namespace/name | hub URL> [files...]",
	Short: "Download files from a model repository",
	Long: `Downloads the named files of a repository into the models directory.
A hub URL pointing at a single file selects that file. Interrupted downloads
resume from the partial file on the next run and files already present with
the expected size are skipped.

Select files by name, by --suffix (for example .gguf), by --group for a split
GGUF model (the name before -00001-of-0000N.gguf), or with --all.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().StringVarP(&downloadSuffixFlag, "suffix", "s", "", "Download every file ending in this suffix")
	downloadCmd.Flags().StringVarP(&downloadGroupFlag, "group", "g", "", "Download every part of a split GGUF model")
	downloadCmd.Flags().BoolVarP(&downloadAllFlag, "all", "a", false, "Download every file in the repository")
	downloadCmd.Flags().BoolVarP(&downloadQuietFlag, "quiet", "q", false, "Print progress lines instead of a progress bar")
}

// fileLister is the part of the hub client used to expand file selections
type fileLister interface {
	ListFiles(ctx context.Context, repoID string) ([]string, error)
	ListFilesWithSuffix(ctx context.Context, repoID, suffix string) ([]string, error)
}

// fileSelection describes which files of a repository to fetch
type fileSelection struct {
	Names  []string
	Suffix string
	Group  string
	All    bool
}

// resolveFiles expands a selection to concrete filenames. Explicit names are
// used as given; the other selectors query the repository.
func resolveFiles(ctx context.Context, lister fileLister, repoID string, sel fileSelection) ([]string, error) {
	modes := 0
	for _, set := range []bool{len(sel.Names) > 0, sel.Suffix != "", sel.Group != "", sel.All} {
		if set {
			modes++
		}
	}
	switch {
	case modes == 0:
		return nil, fmt.Errorf("no files selected: name files or use --suffix, --group or --all")
	case modes > 1:
		return nil, fmt.Errorf("file names, --suffix, --group and --all are mutually exclusive")
	}

	switch {
	case len(sel.Names) > 0:
		return sel.Names, nil
	case sel.Suffix != "":
		files, err := lister.ListFilesWithSuffix(ctx, repoID, sel.Suffix)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("no files ending in %q in %s", sel.Suffix, repoID)
		}
		return files, nil
	case sel.Group != "":
		files, err := lister.ListFilesWithSuffix(ctx, repoID, ".gguf")
		if err != nil {
			return nil, err
		}
		group, ok := hub.FindGroup(hub.GroupMultipart(files), sel.Group)
		if !ok {
			return nil, fmt.Errorf("no GGUF model named %q in %s", sel.Group, repoID)
		}
		return group.Files, nil
	default:
		return lister.ListFiles(ctx, repoID)
	}
}

func runDownload(cmd *cobra.Command, args []string) error {
	a := current

	ref := hub.ParseRepoRef(args[0])
	if ref == nil {
		return downloader.NewDownloadError(downloader.ErrorInvalidRequest,
			fmt.Sprintf("%q is neither a repository id nor a hub URL", args[0]))
	}
	repoID := ref.RepoID
	if ref.Revision != "" && ref.Revision != "main" {
		a.logger.Warn("only the main revision is downloaded", zap.String("requested", ref.Revision))
	}
	names := args[1:]
	if ref.Filename != "" {
		names = append([]string{ref.Filename}, names...)
	}

	ctx, stop := signalContext()
	defer stop()

	files, err := resolveFiles(ctx, a.client, repoID, fileSelection{
		Names:  names,
		Suffix: downloadSuffixFlag,
		Group:  downloadGroupFlag,
		All:    downloadAllFlag,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Downloading %d file(s) from %s into %s\n", len(files), repoID, a.modelDir(repoID))

	var progress downloader.ProgressFunc
	if downloadQuietFlag {
		progress = func(e downloader.ProgressEvent) {
			fmt.Fprintln(out, formatEvent(e))
		}
	} else {
		progress = newBarSink(os.Stderr).Update
	}

	orchestrator := a.newOrchestrator()
	completed, err := orchestrator.Download(ctx, repoID, files, progress)
	if err != nil {
		return err
	}
	if !completed {
		fmt.Fprintln(out, "Download cancelled; run the same command again to resume")
		return nil
	}

	last := orchestrator.Status().Last
	fmt.Fprintf(out, "Downloaded %s to %s\n", humanize.IBytes(uint64(last.OverallBytesDone)), a.modelDir(repoID))
	if len(files) > 1 {
		fmt.Fprintf(out, "Files: %s\n", strings.Join(files, ", "))
	}
	return nil
}

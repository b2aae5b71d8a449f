package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/peterliang117/MyPitch/internal/report"
	"github.com/peterliang117/MyPitch/internal/store"
	"github.com/peterliang117/MyPitch/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded analysis runs",
	Long: `List analysis runs recorded in the run history database, newest first.

With --run, show the per-file outcomes of a single run. Runs can be
selected by full id or by a unique id prefix.

With --file, show the most recent recorded outcome for one audio file.`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntP("limit", "n", 10, "Number of runs to list (0 = all)")
	historyCmd.Flags().String("run", "", "Show file outcomes of this run")
	historyCmd.Flags().String("file", "", "Show the latest recorded outcome for this audio file")
}

func runHistory(cmd *cobra.Command, args []string) error {
	dbPath := viper.GetString("db")
	if dbPath == "" {
		return usageError("run history is disabled (no --db configured)")
	}
	limit, _ := cmd.Flags().GetInt("limit")
	if limit < 0 {
		return usageError("--limit must be >= 0, got %d", limit)
	}
	runID, _ := cmd.Flags().GetString("run")

	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	out := cmd.OutOrStdout()

	if file, _ := cmd.Flags().GetString("file"); file != "" {
		sourcePath, err := util.CanonicalPath(file)
		if err != nil {
			return err
		}
		fr, err := db.LatestResultForPath(sourcePath)
		if err != nil {
			return fmt.Errorf("failed to look up %s: %w", file, err)
		}
		if fr == nil {
			util.InfoLog("No recorded analysis for %s", sourcePath)
			return nil
		}
		printLatestResult(out, fr)
		return nil
	}

	if runID != "" {
		run, err := db.FindRun(runID)
		if err != nil {
			return err
		}
		results, err := db.GetFileResults(run.ID)
		if err != nil {
			return fmt.Errorf("failed to load file results: %w", err)
		}
		printRunDetail(out, run, results)
		return nil
	}

	runs, err := db.RecentRuns(limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if len(runs) == 0 {
		util.InfoLog("No runs recorded in %s", dbPath)
		return nil
	}

	printRuns(out, runs)
	return nil
}

func printRuns(w io.Writer, runs []*store.Run) {
	fmt.Fprintf(w, "%-8s  %-16s  %-9s  %5s  %6s  %s\n", "RUN", "STARTED", "STATUS", "ADDED", "FAILED", "OUTPUT")
	for _, run := range runs {
		fmt.Fprintf(w, "%-8s  %-16s  %-9s  %5d  %6d  %s\n",
			shortID(run.ID),
			humanize.Time(run.StartedAt),
			run.Status,
			run.FilesAdded,
			run.FilesFailed,
			run.OutputPath,
		)
	}
}

func printRunDetail(w io.Writer, run *store.Run, results []*store.FileResult) {
	fmt.Fprintf(w, "Run %s\n", run.ID)
	fmt.Fprintf(w, "  Started:    %s (%s)\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"), humanize.Time(run.StartedAt))
	fmt.Fprintf(w, "  Status:     %s\n", run.Status)
	fmt.Fprintf(w, "  Output:     %s\n", run.OutputPath)
	fmt.Fprintf(w, "  Separation: %t\n", run.Separation)
	if run.Error != "" {
		fmt.Fprintf(w, "  Error:      %s\n", run.Error)
	}
	fmt.Fprintln(w)

	for _, fr := range results {
		printFileResult(w, fr)
	}
}

// printLatestResult shows the newest outcome recorded for one source path
func printLatestResult(w io.Writer, fr *store.FileResult) {
	fmt.Fprintf(w, "%s (run %s)\n", util.DisplayName(fr.SourcePath), shortID(fr.RunID))
	printFileResult(w, fr)
}

func printFileResult(w io.Writer, fr *store.FileResult) {
	if fr.Status != store.FileStatusAdded {
		fmt.Fprintf(w, "  ✗ %s\n", fr.Reason)
		return
	}
	var flags []string
	if fr.UsedSeparation {
		flags = append(flags, "separated")
	}
	if tag := joinNonEmpty(" - ", fr.TagArtist, fr.TagTitle); tag != "" {
		flags = append(flags, tag)
	}
	fmt.Fprintf(w, "  ✓ %s  %s-%s  high notes: %d",
		fr.InputPath,
		report.NoteName(fr.MelodyLowMIDI),
		report.NoteName(fr.MelodyHighMIDI),
		fr.HighNoteCount,
	)
	if len(flags) > 0 {
		fmt.Fprintf(w, "  (%s)", strings.Join(flags, ", "))
	}
	fmt.Fprintln(w)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func joinNonEmpty(sep string, parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

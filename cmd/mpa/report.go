package main

import (
	"fmt"
	"path/filepath"

	"github.com/peterliang117/MyPitch/internal/report"
	"github.com/peterliang117/MyPitch/internal/store"
	"github.com/peterliang117/MyPitch/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a Markdown report for an analysis run",
	Long: `Generate a Markdown report for one analysis run from the run history.

The report includes:
- File counts and vocal separation usage
- The vocal range of every analyzed file, highest first
- The most common failure causes

By default the latest run is reported and the file is saved to
artifacts/reports/run-<timestamp>-<id>.md`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().String("run", "", "Run id or prefix (default: latest run)")
	reportCmd.Flags().String("out", defaultReportDir, "Output directory for the report")
	reportCmd.Flags().String("event-log", "", "Path to the run's event log to reference (optional)")
}

func runReport(cmd *cobra.Command, args []string) error {
	dbPath := viper.GetString("db")
	if dbPath == "" {
		return usageError("run history is disabled (no --db configured)")
	}

	util.InfoLog("=== Generating Run Report ===")
	util.DebugLog("Database: %s", dbPath)

	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	runID, _ := cmd.Flags().GetString("run")
	runSummary, err := report.GenerateRunReport(db, runID)
	if err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}

	runSummary.DatabasePath = dbPath
	runSummary.EventLogPath, _ = cmd.Flags().GetString("event-log")

	outputDir, _ := cmd.Flags().GetString("out")
	outputPath := filepath.Join(outputDir, report.ReportFileName(runSummary.Run))

	util.InfoLog("Writing report to: %s", outputPath)
	if err := report.WriteMarkdownReport(runSummary, outputPath); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	util.SuccessLog("Report generated successfully!")
	util.InfoLog("")
	util.InfoLog("Summary:")
	util.InfoLog("  Files added: %d", runSummary.FilesAdded)
	if runSummary.FilesFailed > 0 {
		util.WarnLog("  Files failed: %d", runSummary.FilesFailed)
	}
	if runSummary.FilesAdded > 0 {
		util.InfoLog("  Range: %s - %s",
			report.NoteName(runSummary.LowestNote), report.NoteName(runSummary.HighestNote))
	}

	return nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/peterliang117/MyPitch/internal/analyze"
	"github.com/peterliang117/MyPitch/internal/audio"
	"github.com/peterliang117/MyPitch/internal/pitch"
	"github.com/peterliang117/MyPitch/internal/report"
	"github.com/peterliang117/MyPitch/internal/separate"
	"github.com/peterliang117/MyPitch/internal/store"
	"github.com/peterliang117/MyPitch/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>...",
	Short: "Analyze mp3/wav files and update the song table",
	Long: `Analyze one or more mp3/wav files and merge their vocal-range metadata
into the output CSV table.

Each file is run through demucs to isolate the vocals (unless --no-sep is
given or demucs is unavailable, in which case the original mix is used),
then pitch-tracked. Rows are keyed by the resolved source path, so
re-analyzing a file replaces its row. Files that fail are reported and
leave any existing row untouched.

A single line prefixed with RESULT_JSON: is printed to stdout with the
number of rows added, the failures, the run log and the output path.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringP("output", "o", defaultOutput, "output CSV table")
	analyzeCmd.Flags().Bool("no-sep", false, "skip vocal separation")
	analyzeCmd.Flags().String("demucs-bin", separate.DefaultBinary, "demucs executable")
	analyzeCmd.Flags().String("demucs-model", separate.DefaultModel, "demucs model name")
	analyzeCmd.Flags().String("ffmpeg-bin", audio.DefaultFFmpeg, "ffmpeg executable used to decode and resample")
	analyzeCmd.Flags().Duration("separation-timeout", 0, "abandon separation after this long and use the original mix (0 waits indefinitely)")
	analyzeCmd.Flags().String("event-log-dir", defaultEventLogDir, "directory for the JSONL event log (empty disables it)")

	viper.BindPFlag("output", analyzeCmd.Flags().Lookup("output"))
	viper.BindPFlag("no-sep", analyzeCmd.Flags().Lookup("no-sep"))
	viper.BindPFlag("demucs-bin", analyzeCmd.Flags().Lookup("demucs-bin"))
	viper.BindPFlag("demucs-model", analyzeCmd.Flags().Lookup("demucs-model"))
	viper.BindPFlag("ffmpeg-bin", analyzeCmd.Flags().Lookup("ffmpeg-bin"))
	viper.BindPFlag("separation-timeout", analyzeCmd.Flags().Lookup("separation-timeout"))
	viper.BindPFlag("event-log-dir", analyzeCmd.Flags().Lookup("event-log-dir"))
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	output := GetConfigString("output", defaultOutput)
	separation := util.SeparationEnabled()

	tracker, err := pitch.NewTracker(pitch.DefaultConfig())
	if err != nil {
		return err
	}

	cfg := &analyze.Config{
		Loader:            audio.NewFileLoader(pitch.DefaultSampleRate, GetConfigString("ffmpeg-bin", audio.DefaultFFmpeg)),
		Pitch:             tracker,
		DisableSeparation: !separation,
		Progress:          true,
	}
	if separation {
		cfg.Separator = separate.NewDemucs(
			GetConfigString("demucs-bin", separate.DefaultBinary),
			GetConfigString("demucs-model", separate.DefaultModel),
			GetConfigDuration("separation-timeout"),
		)
	}

	// Run history is best effort
	if dbPath := viper.GetString("db"); dbPath != "" {
		db, err := store.Open(dbPath)
		if err != nil {
			util.WarnLog("Run history disabled: %v", err)
		} else {
			defer db.Close()
			cfg.Store = db
		}
	}

	if dir := viper.GetString("event-log-dir"); dir != "" {
		logger, err := report.NewEventLogger(dir, eventLogLevel())
		if err != nil {
			util.WarnLog("Failed to create event logger: %v", err)
			logger = report.NullLogger()
		}
		defer logger.Close()
		cfg.Logger = logger
		if logger.Path() != "" {
			util.DebugLog("Event log: %s", logger.Path())
		}
	}

	util.DebugLog("Output: %s (separation: %t)", output, separation)

	result, err := analyze.New(cfg).Run(ctx, args, output)
	if err != nil {
		return err
	}

	if err := report.WriteResultLine(cmd.OutOrStdout(), result.Summary); err != nil {
		return err
	}

	s := result.Summary
	if len(s.Failed) > 0 {
		util.WarnLog("Added %d, failed %d", s.Added, len(s.Failed))
	} else {
		util.SuccessLog("Added %d", s.Added)
	}
	if result.RunID != "" {
		util.DebugLog("Run %s recorded", result.RunID)
	}

	return nil
}

// eventLogLevel follows the console verbosity
func eventLogLevel() report.EventLevel {
	switch {
	case GetConfigBool("quiet"):
		return report.LevelWarning
	case GetConfigBool("verbose"):
		return report.LevelDebug
	default:
		return report.LevelInfo
	}
}

// usageError reports an invalid flag or argument value
func usageError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", util.ErrInvalidConfig, fmt.Sprintf(format, args...))
}

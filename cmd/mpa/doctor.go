package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/peterliang117/MyPitch/internal/audio"
	"github.com/peterliang117/MyPitch/internal/separate"
	"github.com/peterliang117/MyPitch/internal/store"
	"github.com/peterliang117/MyPitch/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks on the environment and configuration",
	Long: `Run diagnostic checks to ensure mpa can operate correctly.

This command checks:
- Optional tools (demucs for vocal separation)
- Required tools (ffmpeg for mp3 decoding and resampling)
- SQLite version and the run history database
- Output table directory permissions
- Free space for separation scratch files

Use this command to troubleshoot issues before running mpa analyze.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)

	doctorCmd.Flags().String("output", "", "Output table to check (default: configured output)")
}

type checkResult struct {
	name    string
	message string
	error   bool
	warning bool
}

// minScratchBytes is the free space below which separation may fail
const minScratchBytes = 1 << 30

func runDoctor(cmd *cobra.Command, args []string) error {
	util.InfoLog("=== MPA Doctor - System Diagnostics ===")
	util.InfoLog("")

	output, _ := cmd.Flags().GetString("output")
	if output == "" {
		output = GetConfigString("output", defaultOutput)
	}

	results := []checkResult{
		checkDemucs(GetConfigString("demucs-bin", separate.DefaultBinary)),
		checkFFmpeg(GetConfigString("ffmpeg-bin", audio.DefaultFFmpeg)),
		checkSQLite(),
		checkDatabase(viper.GetString("db")),
		checkOutputDirectory(filepath.Dir(output)),
		checkDiskSpace(os.TempDir(), "scratch"),
	}

	util.InfoLog("")
	util.InfoLog("=== Diagnostic Results ===")
	util.InfoLog("")

	hasErrors := false
	hasWarnings := false

	for _, r := range results {
		symbol := "✓"
		if r.error {
			symbol = "✗"
			hasErrors = true
		} else if r.warning {
			symbol = "⚠"
			hasWarnings = true
		}

		line := fmt.Sprintf("[%s] %s", symbol, r.name)
		if r.message != "" {
			line += fmt.Sprintf(": %s", r.message)
		}

		if r.error {
			util.ErrorLog("%s", line)
		} else if r.warning {
			util.WarnLog("%s", line)
		} else {
			util.SuccessLog("%s", line)
		}
	}

	util.InfoLog("")
	if hasErrors {
		util.ErrorLog("Some critical checks failed. Please resolve errors before running mpa.")
		return fmt.Errorf("system diagnostics failed")
	} else if hasWarnings {
		util.WarnLog("Some checks produced warnings. Analysis will still run.")
	} else {
		util.SuccessLog("All checks passed! System is ready for mpa analyze.")
	}

	return nil
}

// toolVersion runs "<bin> <flag>" and returns the first line of output
func toolVersion(bin, flag string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, bin, flag).CombinedOutput()
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(line), nil
}

// checkDemucs verifies demucs is available (optional)
func checkDemucs(bin string) checkResult {
	d := separate.NewDemucs(bin, separate.DefaultModel, 0)
	if !d.Available() {
		return checkResult{
			name:    "demucs (optional)",
			warning: true,
			message: "not found (files will be analyzed without vocal separation)",
		}
	}

	path, _ := exec.LookPath(bin)
	return checkResult{
		name:    "demucs (optional)",
		message: path,
	}
}

// checkFFmpeg verifies ffmpeg is available and gets version
func checkFFmpeg(bin string) checkResult {
	if !audio.CheckFFmpegAvailable(bin) {
		return checkResult{
			name:    "ffmpeg",
			error:   true,
			message: "not found or not executable (required for mp3 input)",
		}
	}

	line, err := toolVersion(bin, "-version")
	if err != nil {
		return checkResult{
			name:    "ffmpeg",
			error:   true,
			message: fmt.Sprintf("failed to run: %v", err),
		}
	}

	// "ffmpeg version 6.1.1 Copyright ..."
	version := "unknown"
	if parts := strings.Fields(line); len(parts) >= 3 {
		version = parts[2]
	}

	return checkResult{
		name:    "ffmpeg",
		message: fmt.Sprintf("version %s", version),
	}
}

// checkSQLite verifies SQLite version
func checkSQLite() checkResult {
	version := store.SQLiteVersion()
	if version == "" {
		return checkResult{
			name:    "SQLite",
			error:   true,
			message: "unable to determine version",
		}
	}

	return checkResult{
		name:    "SQLite",
		message: fmt.Sprintf("version %s (built-in)", version),
	}
}

// checkDatabase verifies the run history database
func checkDatabase(dbPath string) checkResult {
	if dbPath == "" {
		return checkResult{
			name:    "Run history",
			warning: true,
			message: "disabled (no database path configured)",
		}
	}

	info, err := os.Stat(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return checkResult{
				name:    "Run history",
				message: fmt.Sprintf("%s (will be created on first run)", dbPath),
			}
		}
		return checkResult{
			name:    "Run history",
			error:   true,
			message: fmt.Sprintf("cannot access %s: %v", dbPath, err),
		}
	}

	if !info.Mode().IsRegular() {
		return checkResult{
			name:    "Run history",
			error:   true,
			message: fmt.Sprintf("%s is not a regular file", dbPath),
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return checkResult{
			name:    "Run history",
			error:   true,
			message: fmt.Sprintf("cannot open %s: %v", dbPath, err),
		}
	}
	defer db.Close()

	if err := db.CheckIntegrity(); err != nil {
		return checkResult{
			name:    "Run history",
			error:   true,
			message: fmt.Sprintf("integrity check failed: %v", err),
		}
	}

	runCount, _ := db.CountRuns()

	return checkResult{
		name:    "Run history",
		message: fmt.Sprintf("%s (%s, %d runs)", dbPath, humanize.Bytes(uint64(info.Size())), runCount),
	}
}

// checkOutputDirectory verifies the table directory is writable
func checkOutputDirectory(path string) checkResult {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(path, 0755); err != nil {
				return checkResult{
					name:    "Output directory",
					error:   true,
					message: fmt.Sprintf("cannot create %s: %v", path, err),
				}
			}
			return checkResult{
				name:    "Output directory",
				message: fmt.Sprintf("%s (created)", path),
			}
		}
		return checkResult{
			name:    "Output directory",
			error:   true,
			message: fmt.Sprintf("cannot access %s: %v", path, err),
		}
	}

	if !info.IsDir() {
		return checkResult{
			name:    "Output directory",
			error:   true,
			message: fmt.Sprintf("%s is not a directory", path),
		}
	}

	// The table is replaced via a temp file in the same directory
	f, err := os.CreateTemp(path, ".mpa_write_test_*")
	if err != nil {
		return checkResult{
			name:    "Output directory",
			error:   true,
			message: fmt.Sprintf("cannot write to %s: %v", path, err),
		}
	}
	f.Close()
	os.Remove(f.Name())

	return checkResult{
		name:    "Output directory",
		message: fmt.Sprintf("%s (writable)", path),
	}
}

// checkDiskSpace verifies available disk space
func checkDiskSpace(path string, label string) checkResult {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return checkResult{
			name:    fmt.Sprintf("Disk space (%s)", label),
			warning: true,
			message: fmt.Sprintf("cannot determine disk space: %v", err),
		}
	}

	availBytes := stat.Bavail * uint64(stat.Bsize)

	// demucs writes two full-length stems per file
	warning := false
	warningMsg := ""
	if availBytes < minScratchBytes {
		warning = true
		warningMsg = " (low space!)"
	}

	return checkResult{
		name:    fmt.Sprintf("Disk space (%s)", label),
		warning: warning,
		message: fmt.Sprintf("%s available in %s%s", humanize.Bytes(availBytes), path, warningMsg),
	}
}

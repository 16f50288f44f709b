package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/audiolibrelab/trialsync/internal/config"

	"github.com/spf13/cobra"
)

var (
	cfg          *config.Config
	cfgFile      string
	profile      string
	simulate     bool
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "trialsync",
	Short: "Trial synchronization and speaker routing for localization experiments",
	Long: `TrialSync drives the hardware of a sound localization station: it routes
speaker lines to audio interface channels, plays stimuli, records the
microphones in sync with playback, and reads the participant's response
from the angle encoder.

Orders are balanced so every (speaker, stimulus) combination is presented
equally often within a block.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Configure slog based on verbose level
		setupLogging(verboseLevel)

		explicit := cfgFile != ""
		if !explicit {
			cfgFile = config.DefaultConfigPath()
		}

		var err error
		cfg, err = config.LoadWithProfile(cfgFile, profile)
		if err != nil {
			// Without a config file the built-in defaults still describe the
			// reference station
			if explicit || profile != "" || !missingFile(cfgFile) {
				return fmt.Errorf("failed to load config: %w", err)
			}
			slog.Debug("No config file, using built-in defaults", "path", cfgFile)
			cfg = config.Default()
		}

		if simulate {
			cfg.Simulate = true
		}
		return nil
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/trialsync.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_config from file)")
	rootCmd.PersistentFlags().BoolVar(&simulate, "simulate", false, "use the simulated sensor and audio backend")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug, 2=debug with source locations")

	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(linesCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(sensorCmd)
	rootCmd.AddCommand(orderCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(serveCmd)
}

func missingFile(path string) bool {
	_, err := os.Stat(path)
	return errors.Is(err, fs.ErrNotExist)
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	slog.SetDefault(slog.New(newLogHandler(os.Stderr, level)))
}

func newLogHandler(w io.Writer, level int) slog.Handler {
	slogLevel := slog.LevelInfo
	if level >= 1 {
		slogLevel = slog.LevelDebug
	}

	// Configure text handler for clean terminal output
	opts := &slog.HandlerOptions{
		Level:     slogLevel,
		AddSource: level >= 2,
	}
	return slog.NewTextHandler(w, opts)
}

package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record <name> [duration]",
	Short: "Record the microphones, optionally in sync with a stimulus",
	Long: `Record the two microphone channels to <name>.wav in the output directory.

With --stimulus and --line the stimulus is played on the line while
recording, and the capture lasts the stimulus duration plus the configured
offset. Otherwise a duration is required (e.g. 5s).`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		stimulus, _ := cmd.Flags().GetString("stimulus")
		line, _ := cmd.Flags().GetInt("line")
		offset, _ := cmd.Flags().GetDuration("offset")
		if !cmd.Flags().Changed("offset") {
			offset = cfg.Audio.DurationOffset
		}
		out := outputPath(cfg, args[0])

		svc, err := newService(cfg)
		if err != nil {
			return err
		}
		defer svc.Close()

		var path string
		if stimulus != "" {
			if line < 0 {
				return fmt.Errorf("--line is required with --stimulus")
			}
			_, file, err := stimulusFile(cfg, stimulus)
			if err != nil {
				return err
			}
			slog.Info("Recording synced to stimulus", "stimulus", file, "line", line, "offset", offset)
			path, err = svc.RecordSynced(cmd.Context(), file, line, offset, out)
			if err != nil {
				return fmt.Errorf("recording failed: %w", err)
			}
		} else {
			if len(args) < 2 {
				return fmt.Errorf("a duration is required when no stimulus is played")
			}
			d, err := time.ParseDuration(args[1])
			if err != nil {
				return fmt.Errorf("invalid duration %q: %w", args[1], err)
			}
			path, err = svc.RecordFor(cmd.Context(), d, out)
			if err != nil {
				return fmt.Errorf("recording failed: %w", err)
			}
		}

		fmt.Printf("Saved %s\n", path)
		return nil
	},
}

func init() {
	recordCmd.Flags().StringP("stimulus", "s", "", "stimulus name or file to play while recording")
	recordCmd.Flags().IntP("line", "l", -1, "speaker line for the stimulus")
	recordCmd.Flags().Duration("offset", 0, "extra capture time after the stimulus (default audio.duration_offset)")
}

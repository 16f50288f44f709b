package cmd

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var linesCmd = &cobra.Command{
	Use:   "lines",
	Short: "Show the speaker line table",
	Long: `Show how each speaker line maps to a device and output channel. When no
table is configured it is derived from the candidate devices.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService(cfg)
		if err != nil {
			return err
		}
		defer svc.Close()

		mapping, err := svc.Lines()
		if err != nil {
			return err
		}

		names := map[int]string{}
		if devices, err := svc.Devices(); err == nil {
			for _, d := range devices {
				names[d.Index] = d.Name
			}
		}

		fmt.Printf("LINES (%d, %s):\n", mapping.Lines(), mapping.Source())
		for _, e := range mapping.Entries() {
			fmt.Printf("  line %2d -> device %3d channel %d  %s\n", e.Line, e.Device, e.Channel, names[e.Device])
		}
		return nil
	},
}

var linesTestCmd = &cobra.Command{
	Use:   "test <line>",
	Short: "Play a stimulus on one line to check the wiring",
	Long: `Play a stimulus on a line several times in a row. Without --stimulus a
1 kHz test tone is used.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		line, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid line %q: %w", args[0], err)
		}
		stimulus, _ := cmd.Flags().GetString("stimulus")
		repeat, _ := cmd.Flags().GetInt("repeat")
		gap, _ := cmd.Flags().GetDuration("gap")

		svc, err := newService(cfg)
		if err != nil {
			return err
		}
		defer svc.Close()

		ep, err := svc.ResolveLine(line)
		if err != nil {
			return err
		}
		fmt.Printf("Line %d -> %s\n", line, ep)

		var file string
		if stimulus != "" {
			if _, file, err = stimulusFile(cfg, stimulus); err != nil {
				return err
			}
		}

		ctx := cmd.Context()
		for i := 0; i < repeat; i++ {
			slog.Info("Test playback", "line", line, "iteration", i+1, "of", repeat)
			if file != "" {
				err = svc.PlayStimulus(ctx, file, line, true)
			} else {
				err = svc.PlayTone(ctx, line, 1000, 500*time.Millisecond)
			}
			if err != nil {
				return fmt.Errorf("playback %d failed: %w", i+1, err)
			}
			if i < repeat-1 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(gap):
				}
			}
		}
		return nil
	},
}

func init() {
	linesTestCmd.Flags().StringP("stimulus", "s", "", "stimulus name or file (default: test tone)")
	linesTestCmd.Flags().IntP("repeat", "n", 5, "number of playbacks")
	linesTestCmd.Flags().Duration("gap", time.Second, "pause between playbacks")
	linesCmd.AddCommand(linesTestCmd)
}

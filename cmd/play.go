package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play <stimulus> <line>",
	Short: "Play a stimulus on a speaker line",
	Long: `Play a stimulus on one speaker line. The stimulus is either the name of a
configured stimulus type or a path to a WAV file. Mono stimuli are routed
to the line's channel only.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, file, err := stimulusFile(cfg, args[0])
		if err != nil {
			return err
		}
		line, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid line %q: %w", args[1], err)
		}

		svc, err := newService(cfg)
		if err != nil {
			return err
		}
		defer svc.Close()

		fmt.Printf("Playing %s on line %d\n", name, line)
		if err := svc.PlayStimulus(cmd.Context(), file, line, true); err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}
		return nil
	},
}

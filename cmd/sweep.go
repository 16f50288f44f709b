package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/trialsync/internal/config"
	"github.com/audiolibrelab/trialsync/internal/service"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Record every speaker and stimulus in balanced order",
	Long: `Play every configured stimulus type on every speaker line, in balanced
random order, recording the microphones in sync with each playback.
Recordings are written to <output>/participant_<id>/.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		participant, _ := cmd.Flags().GetString("participant")
		reps, _ := cmd.Flags().GetInt("repetitions")
		names, _ := cmd.Flags().GetStringSlice("stimuli")
		output, _ := cmd.Flags().GetString("output")
		offset, _ := cmd.Flags().GetDuration("offset")
		if !cmd.Flags().Changed("offset") {
			offset = cfg.Audio.DurationOffset
		}
		if participant == "" {
			return fmt.Errorf("--participant is required")
		}

		var stimuli []config.StimulusType
		for _, n := range names {
			st, err := cfg.Stimulus(n)
			if err != nil {
				return err
			}
			stimuli = append(stimuli, st)
		}

		svc, err := newService(cfg)
		if err != nil {
			return err
		}
		defer svc.Close()

		results, err := svc.RunSweep(cmd.Context(), service.SweepRequest{
			ParticipantID: participant,
			Stimuli:       stimuli,
			Repetitions:   reps,
			Offset:        offset,
			OutputDir:     output,
			Progress: func(r service.SweepResult, total int) {
				fmt.Printf("[%d/%d] line %d, %s -> %s\n", r.Trial, total, r.Line, r.Stimulus, r.Path)
			},
		})
		if err != nil {
			return fmt.Errorf("sweep stopped after %d recordings: %w", len(results), err)
		}
		fmt.Printf("Sweep complete: %d recordings\n", len(results))
		return nil
	},
}

func init() {
	sweepCmd.Flags().StringP("participant", "p", "", "participant id")
	sweepCmd.Flags().IntP("repetitions", "r", 1, "repetitions of every (line, stimulus) combination")
	sweepCmd.Flags().StringSlice("stimuli", nil, "stimulus names to use (default: all configured)")
	sweepCmd.Flags().StringP("output", "o", "", "output directory (overrides config)")
	sweepCmd.Flags().Duration("offset", 0, "extra capture time after each stimulus (default audio.duration_offset)")
}

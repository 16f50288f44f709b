package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/trialsync/internal/routing"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio devices usable as speaker outputs",
	Long: `List the host audio devices matching the configured candidate criteria
(audio.candidates). Use --all to list every device with its input and
output channel counts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")

		svc, err := newService(cfg)
		if err != nil {
			return err
		}
		defer svc.Close()

		var devices []routing.DeviceInfo
		if all {
			devices, err = svc.Devices()
		} else {
			devices, err = svc.Candidates()
		}
		if err != nil {
			return fmt.Errorf("failed to list devices: %w", err)
		}

		title := "CANDIDATE OUTPUT DEVICES"
		if all {
			title = "AUDIO DEVICES"
		}
		fmt.Printf("%s (%s, %d found):\n", title, svc.GetStatus().Backend, len(devices))
		for _, d := range devices {
			fmt.Printf("  %3d. %-50s in=%d out=%d %.0fHz %s\n",
				d.Index, d.Name, d.MaxInputChannels, d.MaxOutputChannels, d.DefaultSampleRate, d.HostAPI)
		}
		if !all {
			c := cfg.Audio.Candidates
			fmt.Printf("\nFilter: name contains %q, excludes %q, at least %d outputs\n",
				c.NameContains, c.ExcludeContains, c.MinOutputChannels)
		}
		return nil
	},
}

func init() {
	devicesCmd.Flags().Bool("all", false, "list every device, not only candidates")
}

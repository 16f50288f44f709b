package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show resolved configuration with inheritance",
	Long:  `Display the resolved configuration with inheritance indicators. Shows which values are inherited from the default profile, set by the selected profile, or built in.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		field := func(name string, value interface{}) {
			origin := ""
			if cfg.Inheritance != nil {
				origin = cfg.Inheritance.Fields[name]
			}
			fmt.Printf("%s: %v %s\n", name, value, getInheritanceIndicator(origin))
		}

		profileName := "builtin"
		if cfg.Inheritance != nil && cfg.Inheritance.Profile != "" {
			profileName = cfg.Inheritance.Profile
		}
		fmt.Printf("=== RESOLVED CONFIGURATION (%s) ===\n", profileName)
		field("simulate", cfg.Simulate)

		fmt.Printf("\n[Sensor]\n")
		field("sensor.port", cfg.Sensor.Port)
		field("sensor.baud_rate", cfg.Sensor.BaudRate)
		field("sensor.settle_delay", cfg.Sensor.SettleDelay)
		field("sensor.mode", cfg.Sensor.Mode)
		field("sensor.sample_count", cfg.Sensor.SampleCount)
		field("sensor.window", cfg.Sensor.Window)
		field("sensor.read_timeout", cfg.Sensor.ReadTimeout)
		field("sensor.zero_command", cfg.Sensor.ZeroCommand)

		fmt.Printf("\n[Audio]\n")
		field("audio.backend", cfg.Audio.Backend)
		field("audio.sample_rate", cfg.Audio.SampleRate)
		field("audio.chunk_size", cfg.Audio.ChunkSize)
		field("audio.record_channels", cfg.Audio.RecordChannels)
		field("audio.duration_offset", cfg.Audio.DurationOffset)
		field("audio.pre_roll", cfg.Audio.PreRoll)
		field("audio.input_device", cfg.Audio.InputDevice)
		field("audio.candidates", fmt.Sprintf("%+v", cfg.Audio.Candidates))

		fmt.Printf("\n[Lines]\n")
		if len(cfg.Lines) == 0 {
			field("lines", "derived from candidate devices")
		} else {
			field("lines", fmt.Sprintf("%d entries", len(cfg.Lines)))
			for _, e := range cfg.Lines {
				fmt.Printf("  line %2d -> device %d channel %d\n", e.Line, e.Device, e.Channel)
			}
		}

		fmt.Printf("\n[Stimuli]\n")
		field("stimuli", fmt.Sprintf("%d types", len(cfg.Stimuli)))
		for _, st := range cfg.Stimuli {
			fmt.Printf("  %s: %s\n", st.Name, st.File)
		}

		fmt.Printf("\n[Output]\n")
		field("output.directory", cfg.Output.Directory)
		return nil
	},
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case "inherited":
		return "[inherited]"
	case "profile-specific":
		return "[profile-specific]"
	case "global":
		return "[global]"
	case "builtin":
		return "[builtin]"
	default:
		return "[unknown]"
	}
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/trialsync/internal/sensor"
)

var sensorCmd = &cobra.Command{
	Use:   "sensor",
	Short: "Angle encoder utilities",
}

var sensorReadCmd = &cobra.Command{
	Use:   "read",
	Short: "Acquire responses from the angle encoder",
	Long: `Acquire one or more responses in a row and print the mean angle of each.
Use --zero to reset the encoder's zero point first.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetInt("count")
		zero, _ := cmd.Flags().GetBool("zero")

		svc, err := newService(cfg)
		if err != nil {
			return err
		}
		defer svc.Close()

		ctx := cmd.Context()
		if zero {
			fmt.Println("Zeroing sensor...")
			if err := svc.ZeroSensor(ctx); err != nil {
				return fmt.Errorf("zeroing failed: %w", err)
			}
		}
		for i := 0; i < count; i++ {
			angle, err := svc.AcquireResponse(ctx)
			if err != nil {
				return fmt.Errorf("acquisition %d failed: %w", i+1, err)
			}
			fmt.Printf("%d: %.2f\n", i+1, angle)
		}
		return nil
	},
}

var sensorZeroCmd = &cobra.Command{
	Use:   "zero",
	Short: "Reset the encoder's zero point",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService(cfg)
		if err != nil {
			return err
		}
		defer svc.Close()

		if err := svc.ZeroSensor(cmd.Context()); err != nil {
			return fmt.Errorf("zeroing failed: %w", err)
		}
		fmt.Println("Sensor zeroed")
		return nil
	},
}

var sensorPortsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := sensor.ListPorts()
		if err != nil {
			return fmt.Errorf("failed to list serial ports: %w", err)
		}
		fmt.Printf("SERIAL PORTS (%d found):\n", len(ports))
		for _, p := range ports {
			marker := ""
			if p == cfg.Sensor.Port {
				marker = " (configured)"
			}
			fmt.Printf("  %s%s\n", p, marker)
		}
		return nil
	},
}

func init() {
	sensorReadCmd.Flags().IntP("count", "n", 1, "number of responses to acquire")
	sensorReadCmd.Flags().Bool("zero", false, "zero the sensor before reading")
	sensorCmd.AddCommand(sensorReadCmd)
	sensorCmd.AddCommand(sensorZeroCmd)
	sensorCmd.AddCommand(sensorPortsCmd)
}

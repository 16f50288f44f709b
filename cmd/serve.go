package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/trialsync/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only status server",
	Long: `Start a web server exposing the station state: status, line table, devices,
balanced order previews and Prometheus metrics. It never drives the
hardware itself.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")

		svc, err := newService(cfg)
		if err != nil {
			return err
		}
		defer svc.Close()

		active := profile
		if active == "" && cfg.Inheritance != nil {
			active = cfg.Inheritance.Profile
		}

		srv := server.New(svc, cfgFile, active, port)
		slog.Info("TrialSync status server starting", "port", port, "config", cfgFile)

		// Start server (this blocks)
		if err := srv.Start(cmd.Context()); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("port", "8080", "port for the web server")
}

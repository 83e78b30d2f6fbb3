package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fablink/internal/bridge"
	"fablink/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Host the built-in sim machine for remote clients",
	Long: `Host the built-in sim machine for remote clients.

Each session publishes a fresh pairing code through the rendezvous
service and waits for one client to answer it. When a session ends the
next code is published, so the machine stays reachable until serve is
stopped.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Machine.Connector != config.ConnectorSim {
			return errors.New("serve hosts the built-in sim machine, set the connector to sim")
		}
		if err := cfg.ValidateBridge(); err != nil {
			return err
		}

		ctx := createContext()

		device, err := buildSimDevice()
		if err != nil {
			return err
		}
		rv, err := bridge.NewFirebaseRendezvous(ctx, cfg.Bridge.Firebase, logger)
		if err != nil {
			return err
		}
		agent := bridge.NewAgent(device, cfg.Machine.Password, logger)

		fmt.Printf("Hosting %s\n", cfg.Machine.Hostname)
		for {
			fc, err := bridge.Host(ctx, rv, cfg.Bridge, func(code string) {
				fmt.Printf("Pairing code: %s\n", code)
			}, logger)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}

			cause := agent.Serve(ctx, fc)
			if ctx.Err() != nil {
				return nil
			}
			logger.Info("session ended", zap.NamedError("cause", cause))
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fablink/internal/bridge"
	"fablink/internal/config"
	"fablink/internal/connector"
	"fablink/internal/connector/sim"
	"fablink/internal/machine"
	"fablink/internal/observability"
	"fablink/internal/ui"
	"fablink/pkg/utils"
)

var (
	cfg     *config.Config
	logger  *zap.Logger
	cfgFile string

	machineFlag   string
	connectorFlag string
	pairingCode   string
)

// rootCmd is the base command; subcommands attach themselves in their init.
var rootCmd = &cobra.Command{
	Use:   "fablink",
	Short: "FabLink is a control-plane client for networked 3D printers",
	Long: `FabLink talks to a networked 3D printer's controller: it uploads and
downloads job files, executes G-codes, manages plugins and keeps a live
replica of the machine's object model.

Two connectors are available:

  sim     a simulated machine backed by a local directory, for development
  bridge  a remote machine reached through a WebRTC data channel; the two
          peers find each other with a one-time pairing code

Pick the connector and machine in the configuration file or with the
--connector and --machine flags. On the machine side, "fablink serve"
exposes it to remote clients.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		if machineFlag != "" {
			cfg.Machine.Hostname = machineFlag
		}
		if connectorFlag != "" {
			cfg.Machine.Connector = connectorFlag
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		logger, err = observability.SetupLogger(cfg.Log)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., $HOME and $HOME/.fablink)")
	rootCmd.PersistentFlags().StringVar(&machineFlag, "machine", "", "machine hostname (overrides configuration)")
	rootCmd.PersistentFlags().StringVar(&connectorFlag, "connector", "", "connector to use, sim or bridge (overrides configuration)")
	rootCmd.PersistentFlags().StringVar(&pairingCode, "code", "", "pairing code for the first bridge dial (prompted when empty)")
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// createContext returns a context that cancels on SIGINT or SIGTERM.
func createContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nInterrupted, shutting down...")
		cancel()
	}()

	return ctx
}

// session is one connected machine, alive for the duration of a command.
type session struct {
	Machine *machine.Machine
}

// openSession builds the configured connector, wires a Machine around it,
// connects and replays the enabled plugins.
func openSession(ctx context.Context) (*session, error) {
	conn, err := buildConnector(ctx)
	if err != nil {
		return nil, err
	}

	m, err := machine.New(cfg, machine.Deps{
		Conn: conn,
		Sink: ui.NewConsole(logger),
		Log:  logger,
	})
	if err != nil {
		return nil, err
	}

	// The bridge client dials lazily; the sim device is born connected.
	if dialer, ok := conn.(interface{ Connect(context.Context) error }); ok {
		if err := dialer.Connect(ctx); err != nil {
			return nil, err
		}
	}

	m.StartEnabledPlugins(ctx)
	return &session{Machine: m}, nil
}

func (s *session) Close() {
	_ = s.Machine.Disconnect(context.Background())
}

func buildConnector(ctx context.Context) (connector.Connector, error) {
	switch cfg.Machine.Connector {
	case config.ConnectorSim:
		return buildSimDevice()
	case config.ConnectorBridge:
		rv, err := bridge.NewFirebaseRendezvous(ctx, cfg.Bridge.Firebase, logger)
		if err != nil {
			return nil, err
		}
		dial := func(ctx context.Context) (bridge.FrameConn, error) {
			code, err := nextPairingCode(ctx)
			if err != nil {
				return nil, err
			}
			return bridge.DialWithCode(ctx, rv, cfg.Bridge, code, logger)
		}
		return bridge.NewClient(cfg.Machine, dial, logger), nil
	default:
		return nil, fmt.Errorf("unknown connector %q", cfg.Machine.Connector)
	}
}

func buildSimDevice() (*sim.Device, error) {
	fs := afero.NewMemMapFs()
	if cfg.Machine.SimRoot != "" {
		if err := os.MkdirAll(cfg.Machine.SimRoot, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sim root %s: %w", cfg.Machine.SimRoot, err)
		}
		fs = afero.NewBasePathFs(afero.NewOsFs(), cfg.Machine.SimRoot)
	}
	device := sim.NewDevice(fs, cfg.Machine.Hostname, logger)
	if err := device.Seed(); err != nil {
		return nil, fmt.Errorf("failed to seed sim device: %w", err)
	}
	return device, nil
}

// nextPairingCode consumes the --code flag once, then prompts. Codes are
// single use: the agent publishes a fresh one for every session.
func nextPairingCode(ctx context.Context) (string, error) {
	if pairingCode != "" {
		code := pairingCode
		pairingCode = ""
		return code, nil
	}
	return utils.AskForPairingCode(ctx)
}

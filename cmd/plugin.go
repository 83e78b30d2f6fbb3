package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"fablink/internal/connector"
)

var pluginInstallStart bool

// pluginCmd groups the plugin management subcommands.
var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Manage plugins on the machine",
	Long: `Manage plugins on the machine.

Installing uploads a plugin bundle, loading resolves its dependencies
and stages its client files locally. Plugins marked as enabled are
loaded automatically on connect.`,
}

var pluginListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed plugins",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := createContext()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		installed := s.Machine.Model().Plugins()
		if len(installed) == 0 {
			fmt.Println("No plugins installed")
			return nil
		}
		sort.Slice(installed, func(i, j int) bool { return installed[i].ID < installed[j].ID })

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tVERSION\tNAME\tAUTHOR")
		for _, p := range installed {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Version, p.Name, p.Author)
		}
		return w.Flush()
	},
}

var pluginInstallCmd = &cobra.Command{
	Use:   "install <zip>",
	Short: "Install a plugin bundle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := createContext()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		content, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}

		req := connector.PluginInstallRequest{
			ZipFilename: filepath.Base(args[0]),
			ZipContent:  content,
			Start:       pluginInstallStart,
		}
		if err := s.Machine.InstallPlugin(ctx, req); err != nil {
			return err
		}
		fmt.Printf("Installed %s\n", req.ZipFilename)
		return nil
	},
}

var pluginUninstallCmd = &cobra.Command{
	Use:   "uninstall <id>",
	Short: "Uninstall a plugin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := createContext()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.Machine.UninstallPlugin(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Uninstalled %s\n", args[0])
		return nil
	},
}

var pluginStartCmd = &cobra.Command{
	Use:   "start <id>",
	Short: "Start a plugin's machine-side component",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := createContext()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		return s.Machine.StartPlugin(ctx, args[0])
	},
}

var pluginStopCmd = &cobra.Command{
	Use:   "stop <id>",
	Short: "Stop a plugin's machine-side component",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := createContext()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		return s.Machine.StopPlugin(ctx, args[0])
	},
}

var pluginLoadCmd = &cobra.Command{
	Use:   "load <id>",
	Short: "Load a plugin and mark it as enabled",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := createContext()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.Machine.LoadPlugin(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Loaded %s\n", args[0])
		return nil
	},
}

var pluginUnloadCmd = &cobra.Command{
	Use:   "unload <id>",
	Short: "Unload a plugin and mark it as disabled",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := createContext()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.Machine.UnloadPlugin(args[0]); err != nil {
			return err
		}
		fmt.Printf("Unloaded %s\n", args[0])
		return nil
	},
}

var pluginSetDataCmd = &cobra.Command{
	Use:   "set-data <plugin> <key> <value>",
	Short: "Set a key in a plugin's data store",
	Long: `Set a key in a plugin's data store.

The value is parsed as JSON when possible, otherwise it is stored as a
plain string.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := createContext()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		var value any
		if err := json.Unmarshal([]byte(args[2]), &value); err != nil {
			value = args[2]
		}
		return s.Machine.SetPluginData(ctx, args[0], args[1], value)
	},
}

func init() {
	rootCmd.AddCommand(pluginCmd)
	pluginCmd.AddCommand(pluginListCmd)
	pluginCmd.AddCommand(pluginInstallCmd)
	pluginCmd.AddCommand(pluginUninstallCmd)
	pluginCmd.AddCommand(pluginStartCmd)
	pluginCmd.AddCommand(pluginStopCmd)
	pluginCmd.AddCommand(pluginLoadCmd)
	pluginCmd.AddCommand(pluginUnloadCmd)
	pluginCmd.AddCommand(pluginSetDataCmd)

	pluginInstallCmd.Flags().BoolVar(&pluginInstallStart, "start", false, "start the plugin after installing")
}

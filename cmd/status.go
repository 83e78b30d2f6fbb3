package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the machine's state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := createContext()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		m := s.Machine.Model()

		fmt.Printf("Machine:  %s\n", s.Machine.Hostname())
		fmt.Printf("Status:   %s\n", m.Status())

		for _, b := range m.Boards() {
			fmt.Printf("Board:    %s (%s %s)\n", b.Name, b.FirmwareName, b.FirmwareVersion)
		}
		if sbc := m.SBC(); sbc != nil {
			fmt.Printf("SBC:      %s %s\n", sbc.Model, sbc.Version)
		}

		installed := m.Plugins()
		sort.Slice(installed, func(i, j int) bool { return installed[i].ID < installed[j].ID })
		for _, p := range installed {
			fmt.Printf("Plugin:   %s %s\n", p.ID, p.Version)
		}

		dirs := m.Directories()
		fmt.Println("Directories:")
		fmt.Printf("  System:    %s\n", dirs.System)
		fmt.Printf("  G-codes:   %s\n", dirs.GCodes)
		fmt.Printf("  Macros:    %s\n", dirs.Macros)
		fmt.Printf("  Filaments: %s\n", dirs.Filaments)
		fmt.Printf("  Firmware:  %s\n", dirs.Firmware)
		fmt.Printf("  Plugins:   %s\n", dirs.Plugins)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

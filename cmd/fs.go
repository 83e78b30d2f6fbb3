package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"fablink/pkg/utils"
)

var fsMoveForce bool

// fsCmd groups the file management subcommands.
var fsCmd = &cobra.Command{
	Use:   "fs",
	Short: "Browse and manage files on the machine",
	Long: `Browse and manage files on the machine.

Paths are machine paths such as 0:/gcodes/part.gcode. Listing defaults
to the machine's G-code directory.`,
}

var fsLsCmd = &cobra.Command{
	Use:   "ls [directory]",
	Short: "List a directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := createContext()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		dir := ""
		if len(args) == 1 {
			dir = args[0]
		}
		if dir == "" {
			dir = s.Machine.Model().Directories().GCodes
		}

		entries, err := s.Machine.GetFileList(ctx, dir)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, e := range entries {
			size := utils.FormatFileSize(e.Size)
			if e.IsDirectory {
				size = "-"
			}
			name := e.Name
			if e.IsDirectory {
				name += "/"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", size, e.LastModified.Format("2006-01-02 15:04"), name)
		}
		return w.Flush()
	},
}

var fsInfoCmd = &cobra.Command{
	Use:   "info <file>",
	Short: "Show parsed job information for a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := createContext()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		info, err := s.Machine.GetFileInfo(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("File:         %s\n", info.FileName)
		fmt.Printf("Size:         %s\n", utils.FormatFileSize(info.Size))
		if !info.LastModified.IsZero() {
			fmt.Printf("Modified:     %s\n", info.LastModified.Format("2006-01-02 15:04:05"))
		}
		if info.Height > 0 {
			fmt.Printf("Height:       %.2f mm\n", info.Height)
		}
		if info.LayerHeight > 0 {
			fmt.Printf("Layer height: %.2f mm\n", info.LayerHeight)
		}
		if info.NumLayers > 0 {
			fmt.Printf("Layers:       %d\n", info.NumLayers)
		}
		if info.PrintTime > 0 {
			fmt.Printf("Print time:   %s\n", info.PrintTime)
		}
		if info.SimulatedTime > 0 {
			fmt.Printf("Simulated:    %s\n", info.SimulatedTime)
		}
		if len(info.Filament) > 0 {
			total := 0.0
			for _, f := range info.Filament {
				total += f
			}
			fmt.Printf("Filament:     %.1f mm\n", total)
		}
		if info.GeneratedBy != "" {
			fmt.Printf("Sliced by:    %s\n", info.GeneratedBy)
		}
		return nil
	},
}

var fsRmCmd = &cobra.Command{
	Use:   "rm <path>",
	Short: "Delete a file or directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := createContext()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.Machine.Delete(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

var fsMvCmd = &cobra.Command{
	Use:   "mv <from> <to>",
	Short: "Move or rename a file or directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := createContext()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.Machine.Move(ctx, args[0], args[1], fsMoveForce); err != nil {
			return err
		}
		fmt.Printf("Moved %s to %s\n", args[0], args[1])
		return nil
	},
}

var fsMkdirCmd = &cobra.Command{
	Use:   "mkdir <directory>",
	Short: "Create a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := createContext()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.Machine.MakeDirectory(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Created %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fsCmd)
	fsCmd.AddCommand(fsLsCmd)
	fsCmd.AddCommand(fsInfoCmd)
	fsCmd.AddCommand(fsRmCmd)
	fsCmd.AddCommand(fsMvCmd)
	fsCmd.AddCommand(fsMkdirCmd)

	fsMvCmd.Flags().BoolVarP(&fsMoveForce, "force", "f", false, "overwrite the destination if it exists")
}

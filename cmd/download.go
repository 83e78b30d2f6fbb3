package cmd

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/cobra"

	"fablink/internal/connector"
	"fablink/internal/transfer"
	"fablink/pkg/utils"
)

type DownloadFlags struct {
	Output     string
	NoProgress bool
}

var downloadFlags DownloadFlags

// downloadCmd represents the download command
var downloadCmd = &cobra.Command{
	Use:   "download <remote-file>...",
	Short: "Download files from the machine",
	Long: `Download one or more files from the machine.

Remote paths are machine paths such as 0:/gcodes/part.gcode. With a
single file, --output may name either a directory or the target file;
with several files it must be a directory. Files transfer in order and
the first failure aborts the rest.`,
	Args: cobra.MinimumNArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return validateDownloadArgs(args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDownload(args)
	},
}

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().StringVarP(&downloadFlags.Output, "output", "o", ".", "destination directory or file path")
	downloadCmd.Flags().BoolVar(&downloadFlags.NoProgress, "no-progress", false, "disable the progress bar")
}

func validateDownloadArgs(args []string) error {
	if _, err := utils.ResolveDestinationPath(downloadFlags.Output); err != nil {
		return err
	}
	if len(args) > 1 && !isDirectory(downloadFlags.Output) {
		return fmt.Errorf("downloading multiple files needs a destination directory, %s is not one", downloadFlags.Output)
	}
	return nil
}

func isDirectory(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

func runDownload(args []string) error {
	ctx := createContext()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	opts := &transfer.Options{
		ShowProgress: !downloadFlags.NoProgress,
		ShowSuccess:  true,
		ShowError:    true,
	}

	if len(args) == 1 {
		content, err := s.Machine.Transfers().Download(ctx, transfer.File{
			Filename: args[0],
			Type:     connector.TypeBlob,
		}, opts)
		if err != nil {
			return err
		}
		return writeDownloaded(localPathFor(args[0]), content)
	}

	files := make([]transfer.File, len(args))
	for i, remote := range args {
		files[i] = transfer.File{Filename: remote, Type: connector.TypeBlob}
	}
	items, err := s.Machine.Transfers().DownloadMany(ctx, files, opts)
	if err != nil {
		return err
	}
	for _, it := range items {
		if err := writeDownloaded(localPathFor(it.Filename()), it.Content()); err != nil {
			return err
		}
	}
	fmt.Printf("Downloaded %d files to %s\n", len(items), downloadFlags.Output)
	return nil
}

// localPathFor maps a machine path onto the destination: into the directory
// when --output is one, onto the named file otherwise.
func localPathFor(remote string) string {
	if isDirectory(downloadFlags.Output) {
		return filepath.Join(downloadFlags.Output, path.Base(remote))
	}
	return downloadFlags.Output
}

func writeDownloaded(local string, content []byte) error {
	if err := os.WriteFile(local, content, 0o644); err != nil {
		return fmt.Errorf("failed to save %s: %w", local, err)
	}
	return nil
}

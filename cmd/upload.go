package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"fablink/internal/model"
	"fablink/internal/transfer"
)

type UploadFlags struct {
	Dir        string
	NoProgress bool
}

var uploadFlags UploadFlags

// uploadCmd represents the upload command
var uploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Upload files to the machine",
	Long: `Upload one or more local files to the machine.

Files land in the directory given with --dir; when the flag is omitted
they go to the machine's G-code directory. Multiple files transfer in
order and the first failure aborts the rest. Uploading a file into the
system directory backs up the previous startup configuration first.`,
	Args: cobra.MinimumNArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return validateUploadArgs(args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUpload(args)
	},
}

func init() {
	rootCmd.AddCommand(uploadCmd)

	uploadCmd.Flags().StringVarP(&uploadFlags.Dir, "dir", "d", "", "remote directory (default is the machine's G-code directory)")
	uploadCmd.Flags().BoolVar(&uploadFlags.NoProgress, "no-progress", false, "disable the progress bar")
}

func validateUploadArgs(args []string) error {
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return fmt.Errorf("cannot access %s: %w", arg, err)
		}
		if info.IsDir() {
			return fmt.Errorf("%s is a directory, only files can be uploaded", arg)
		}
	}
	return nil
}

func runUpload(args []string) error {
	ctx := createContext()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	dir := uploadFlags.Dir
	if dir == "" {
		dir = s.Machine.Model().Directories().GCodes
	}

	files := make([]transfer.File, 0, len(args))
	for _, arg := range args {
		content, err := os.ReadFile(arg)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", arg, err)
		}
		files = append(files, transfer.File{
			Filename: model.JoinPath(dir, filepath.Base(arg)),
			Content:  content,
		})
	}

	opts := &transfer.Options{
		ShowProgress: !uploadFlags.NoProgress,
		ShowSuccess:  true,
		ShowError:    true,
	}

	if len(files) == 1 {
		return s.Machine.Transfers().Upload(ctx, files[0], opts)
	}

	items, err := s.Machine.Transfers().UploadMany(ctx, files, opts)
	if err != nil {
		return err
	}
	fmt.Printf("Uploaded %d files to %s\n", len(items), dir)
	return nil
}

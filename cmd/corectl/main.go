// Command corectl drives the Orchestrator in-process (spec §6), the CLI
// counterpart to cmd/coreserver's HTTP surface. Subcommand shape follows the
// teacher's upstream cmd/ tree (uploc/siac): one cobra.Command per verb,
// thin Run funcs delegating into the package under test.
package main

import (
	"fmt"
	"os"
	"strings"

	"corekit/internal/config"
	"corekit/internal/corerr"
	"corekit/internal/orchestrator"
	"corekit/internal/share"
	"corekit/internal/transport"

	"github.com/spf13/cobra"
)

// Exit codes from spec §6.
const (
	exitOK              = 0
	exitUsage           = 2
	exitWrongPassword   = 3
	exitTransportFailed = 4
	exitIntegrity       = 5
	exitCanceled        = 6
	exitUnexpected      = 7
)

var (
	catalogPath     string
	catalogPassword string
	credentials     string
	chatID          string
)

func newOrchestrator() (*orchestrator.Orchestrator, error) {
	cfg := config.Load()
	if catalogPath != "" {
		cfg.CatalogPath = catalogPath
	}
	if catalogPassword != "" {
		cfg.CatalogPassword = catalogPassword
	}
	if chatID != "" {
		cfg.ChatID = chatID
	}
	if credentials != "" {
		cfg.Credentials = nil
		for _, c := range strings.Split(credentials, ",") {
			if c = strings.TrimSpace(c); c != "" {
				cfg.Credentials = append(cfg.Credentials, c)
			}
		}
	}
	return orchestrator.Init(cfg, transport.NewFake(), nil)
}

func exitCodeFor(err error) int {
	switch corerr.Kind(err) {
	case corerr.ErrWrongPassword, corerr.ErrBadPassword:
		return exitWrongPassword
	case corerr.ErrNetwork, corerr.ErrTimeout, corerr.ErrRateLimited, corerr.ErrRemoteRejected:
		return exitTransportFailed
	case corerr.ErrIntegrity:
		return exitIntegrity
	case corerr.ErrCanceled:
		return exitCanceled
	default:
		return exitUnexpected
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "corectl:", err)
	os.Exit(exitCodeFor(err))
}

func main() {
	root := &cobra.Command{
		Use:   "corectl",
		Short: "Drive the chunked transfer engine from the command line",
	}
	root.PersistentFlags().StringVar(&catalogPath, "catalog", "", "path to the catalog file")
	root.PersistentFlags().StringVar(&catalogPassword, "catalog-password", "", "catalog password")
	root.PersistentFlags().StringVar(&credentials, "credentials", "", "comma-separated credential pool")
	root.PersistentFlags().StringVar(&chatID, "chat-id", "", "destination chat id")

	root.AddCommand(uploadCmd, downloadCmd, pauseCmd, stopCmd, cancelCmd, shareCmd, importShareCmd, listCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "corectl:", err)
		os.Exit(exitUsage)
	}
}

var uploadCmd = &cobra.Command{
	Use:   "upload <source-path>",
	Short: "Upload a file, splitting into chunks above the threshold",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		encrypt, _ := cmd.Flags().GetBool("encrypt")
		password, _ := cmd.Flags().GetString("password")
		o, err := newOrchestrator()
		if err != nil {
			fail(err)
		}
		fileID, err := o.Upload(args[0], orchestrator.UploadOptions{Encrypt: encrypt, Password: password})
		if err != nil {
			fail(err)
		}
		fmt.Println(fileID)
		os.Exit(exitOK)
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download <file-id> <dest-dir>",
	Short: "Download a file by catalog file_id",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		password, _ := cmd.Flags().GetString("password")
		o, err := newOrchestrator()
		if err != nil {
			fail(err)
		}
		downloadID, err := o.Download(args[0], args[1], orchestrator.DownloadOptions{Password: password})
		if err != nil {
			fail(err)
		}
		fmt.Println(downloadID)
		os.Exit(exitOK)
	},
}

var pauseCmd = &cobra.Command{
	Use:  "pause <operation-id>",
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		o, err := newOrchestrator()
		if err != nil {
			fail(err)
		}
		o.Pause(args[0])
		os.Exit(exitOK)
	},
}

var stopCmd = &cobra.Command{
	Use:  "stop <operation-id>",
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		o, err := newOrchestrator()
		if err != nil {
			fail(err)
		}
		o.Stop(args[0])
		os.Exit(exitOK)
	},
}

var cancelCmd = &cobra.Command{
	Use:  "cancel <operation-id>",
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		o, err := newOrchestrator()
		if err != nil {
			fail(err)
		}
		if err := o.Cancel(args[0]); err != nil {
			fail(err)
		}
		os.Exit(exitOK)
	},
}

var shareCmd = &cobra.Command{
	Use:   "share <out-path> <file-id> [file-id...]",
	Args:  cobra.MinimumNArgs(2),
	Short: "Write a portable .link share descriptor for one or more files",
	Run: func(cmd *cobra.Command, args []string) {
		password, _ := cmd.Flags().GetString("password")
		o, err := newOrchestrator()
		if err != nil {
			fail(err)
		}
		path, err := o.Share(args[1:], password, args[0])
		if err != nil {
			fail(err)
		}
		fmt.Println(path)
		os.Exit(exitOK)
	},
}

// importShareCmd reads a .link descriptor; with --dest it also downloads
// the matching files through the descriptor's portable path (spec §4.7,
// P6), the same way downloadCmd drives a catalog file_id.
var importShareCmd = &cobra.Command{
	Use:   "import-share <link-path>",
	Args:  cobra.ExactArgs(1),
	Short: "Read (and optionally download) a .link share descriptor",
	Run: func(cmd *cobra.Command, args []string) {
		password, _ := cmd.Flags().GetString("password")
		dest, _ := cmd.Flags().GetString("dest")
		pattern, _ := cmd.Flags().GetString("pattern")
		filePassword, _ := cmd.Flags().GetString("file-password")

		o, err := newOrchestrator()
		if err != nil {
			fail(err)
		}
		d, err := o.ImportShare(args[0], password)
		if err != nil {
			fail(err)
		}

		if dest == "" {
			for _, f := range d.Files {
				fmt.Printf("%s\t%d bytes\n", f.FileName, f.Size)
			}
			os.Exit(exitOK)
		}

		for _, f := range share.MatchingFiles(d, pattern) {
			if err := o.DownloadFromDescriptor(f, dest, orchestrator.DownloadOptions{Password: filePassword}); err != nil {
				fail(err)
			}
			fmt.Println(f.FileName)
		}
		os.Exit(exitOK)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog files",
	Run: func(cmd *cobra.Command, args []string) {
		o, err := newOrchestrator()
		if err != nil {
			fail(err)
		}
		files, err := o.ListFiles()
		if err != nil {
			fail(err)
		}
		for _, f := range files {
			fmt.Printf("%s\t%s\t%d bytes\n", f.FileID, f.Name, f.Size)
		}
		os.Exit(exitOK)
	},
}

func init() {
	uploadCmd.Flags().Bool("encrypt", false, "wrap the source in the crypto envelope before upload")
	uploadCmd.Flags().String("password", "", "envelope password when --encrypt is set")
	downloadCmd.Flags().String("password", "", "envelope password if the file is encrypted")
	shareCmd.Flags().String("password", "", "password protecting the share descriptor")
	importShareCmd.Flags().String("password", "", "password protecting the share descriptor")
	importShareCmd.Flags().String("dest", "", "download destination directory; omit to only list the descriptor's files")
	importShareCmd.Flags().String("pattern", "", "glob filter over file names when downloading a batch descriptor")
	importShareCmd.Flags().String("file-password", "", "envelope password if the descriptor's files are encrypted")
}

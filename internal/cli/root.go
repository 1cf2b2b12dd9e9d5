// Package cli wires the mgit commands: bulk clone/pull, query-driven listing,
// and credential management.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/subosito/gotenv"

	"github.com/kuhlman-labs/mgit/internal/config"
	"github.com/kuhlman-labs/mgit/internal/logging"
	"github.com/kuhlman-labs/mgit/internal/mask"
	"github.com/kuhlman-labs/mgit/internal/provider"
)

// Exit codes.
const (
	exitOK             = 0
	exitPartialFailure = 1
	exitAuth           = 2
	exitConfig         = 3
	exitInvalidArgs    = 4
	exitCancelled      = 130
)

// errPartialFailure marks a bulk run where some repositories failed. The run
// itself completed; the exit code carries the signal.
var errPartialFailure = errors.New("some repositories failed")

type rootOptions struct {
	configPath string
	logLevel   string
	logFile    bool
	yes        bool
}

type app struct {
	opts   rootOptions
	logger *slog.Logger
}

func (a *app) loadConfig() (*config.Config, error) {
	return config.Load(a.opts.configPath)
}

// confirm prompts y/N on stdin. --yes answers everything affirmatively.
func (a *app) confirm(prompt string) bool {
	if a.opts.yes {
		return true
	}
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", prompt)
	var answer string
	if _, err := fmt.Fscanln(os.Stdin, &answer); err != nil {
		return false
	}
	return answer == "y" || answer == "Y" || answer == "yes"
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "mgit",
		Short:         "Bulk clone, update, and search repositories across Azure DevOps, GitHub, and Bitbucket",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			opts := logging.DefaultOptions()
			opts.Level = a.opts.logLevel
			if a.opts.logFile {
				opts = logging.FileOptions(a.opts.logLevel)
			}
			// Bulk commands drive a progress bar on stderr; keep the console
			// quiet below warn so the bar stays readable.
			switch cmd.Name() {
			case "clone-all", "pull-all":
				opts.Quiet = true
			}
			a.logger = logging.NewLogger(opts)
			slog.SetDefault(a.logger)
		},
	}

	root.PersistentFlags().StringVar(&a.opts.configPath, "config", "", "config file (default: user config dir)")
	root.PersistentFlags().StringVar(&a.opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().BoolVar(&a.opts.logFile, "log-file", false, "also log JSON to a rotated file under the config dir")
	root.PersistentFlags().BoolVarP(&a.opts.yes, "yes", "y", false, "answer yes to all confirmation prompts")

	root.AddCommand(
		newCloneAllCmd(a),
		newPullAllCmd(a),
		newListCmd(a),
		newLoginCmd(a),
		newConfigCmd(a),
	)
	return root
}

// Execute runs the CLI and maps the outcome to an exit code.
func Execute() int {
	// Local .env files are a convenience for development setups.
	_ = gotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	root := newRootCmd(a)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}

	code := exitCode(err)
	if code != exitCancelled && code != exitPartialFailure {
		fmt.Fprintln(os.Stderr, "error:", mask.Error(err))
	}
	return code
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return exitCancelled
	case errors.Is(err, errPartialFailure):
		return exitPartialFailure
	case errors.Is(err, provider.ErrAuth):
		return exitAuth
	case errors.Is(err, provider.ErrConfig):
		return exitConfig
	case errors.Is(err, provider.ErrInvalidArgument), errors.Is(err, provider.ErrInvalidQuery):
		return exitInvalidArgs
	default:
		return exitPartialFailure
	}
}

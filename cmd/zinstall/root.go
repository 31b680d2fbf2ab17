package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/ZebulonRouseFrantzich/zinstall/internal/config"
	"github.com/ZebulonRouseFrantzich/zinstall/internal/installer"
	"github.com/ZebulonRouseFrantzich/zinstall/internal/logging"
	"github.com/ZebulonRouseFrantzich/zinstall/internal/selfupdate"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	flagLauncher = "launcher"
	flagSwap     = "swap"
)

// options are the lifecycle flags.
type options struct {
	launcher string
	swap     string
}

// restartArgs returns the flags a relaunched tool needs to resume in the
// same mode. --swap is left out so a relaunch never swaps again; any flag
// added to options must be carried here or it is lost across a self-update.
func (o options) restartArgs() []string {
	if o.launcher == "" {
		return []string{}
	}
	return []string{"--" + flagLauncher, o.launcher}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "zinstall",
		Short:         "Self-updating installer and maintenance tool",
		Version:       Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cmd.Flags(), opts)
		},
	}

	bindFlags(cmd.Flags(), opts)
	return cmd
}

func bindFlags(flags *pflag.FlagSet, opts *options) {
	flags.StringVar(&opts.launcher, flagLauncher, "", "launch `TARGET` after the installer finishes")
	flags.StringVar(&opts.swap, flagSwap, "", "replace `TARGET` with this executable and relaunch it")
	_ = flags.MarkHidden(flagSwap)
}

// run is the process lifecycle: Self-Replace Protocol first, then the
// installer service.
func run(ctx context.Context, flags *pflag.FlagSet, opts *options) error {
	exe, err := executablePath()
	if err != nil {
		return err
	}
	exeDir := filepath.Dir(exe)

	attrs, err := config.LoadBaseAttributes(bootstrapTOML)
	if err != nil {
		return fmt.Errorf("load bootstrap attributes: %w", err)
	}

	logger, closeLog, err := logging.New(filepath.Join(exeDir, logging.FileName(attrs.Name)), os.Getenv("ZINSTALL_DEBUG") != "")
	if err != nil {
		return err
	}
	defer closeLog()

	fsys := afero.NewOsFs()
	swapper := selfupdate.NewSwapper(fsys, runtime.GOOS, selfupdate.WithLogger(logger))

	if opts.swap != "" {
		logger.Info("swapping maintenance tool", "source", exe, "target", opts.swap)
		if err := swapper.Swap(ctx, exe, opts.swap); err != nil {
			logger.Error("failed to replace maintenance tool", "target", opts.swap, "error", err)
			return err
		}
		return nil
	}

	if err := reinjectArgs(selfupdate.NewArgsQueue(fsys, exeDir), flags, opts, logger); err != nil {
		logger.Warn("failed to restore arguments after update", "error", err)
	}

	// Failure here only leaves a stale file behind
	_ = swapper.CleanupStale(ctx, selfupdate.NewToolPath(exeDir, runtime.GOOS))

	fw, err := openFramework(*attrs, exeDir, *opts, logger)
	if err != nil {
		var corrupt *installer.CorruptDatabaseError
		if errors.As(err, &corrupt) {
			logger.Error("cannot start with unreadable install metadata", "error", err)
		}
		return err
	}

	return serve(ctx, fw, *attrs, exe, *opts, logger)
}

// reinjectArgs re-parses the flag set from a pending args.json so that a
// relaunched tool resumes with the arguments of the tool it replaced.
func reinjectArgs(queue *selfupdate.ArgsQueue, flags *pflag.FlagSet, opts *options, logger logging.Logger) error {
	args, ok, err := queue.Take()
	if err != nil || !ok {
		return err
	}

	logger.Info("restoring arguments from previous instance", "args", args)
	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("parse restored arguments: %w", err)
	}
	// A swap is never resumed from the queue
	opts.swap = ""
	return nil
}

func executablePath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return exe, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/ZebulonRouseFrantzich/zinstall/internal/auth"
	"github.com/ZebulonRouseFrantzich/zinstall/internal/config"
	"github.com/ZebulonRouseFrantzich/zinstall/internal/download"
	"github.com/ZebulonRouseFrantzich/zinstall/internal/installer"
	"github.com/ZebulonRouseFrantzich/zinstall/internal/logging"
	"github.com/ZebulonRouseFrantzich/zinstall/internal/platform"
	"github.com/ZebulonRouseFrantzich/zinstall/internal/selfupdate"
	"github.com/ZebulonRouseFrantzich/zinstall/internal/server"
	"github.com/ZebulonRouseFrantzich/zinstall/internal/tasks"
	"github.com/ZebulonRouseFrantzich/zinstall/internal/verify"
	"github.com/spf13/afero"
)

const shutdownTimeout = 10 * time.Second

// openFramework builds the installer state. An install whose metadata sits
// next to the executable is resumed; otherwise a fresh install starts.
func openFramework(attrs config.BaseAttributes, exeDir string, opts options, logger logging.Logger) (*installer.Framework, error) {
	fwOpts := []installer.Option{
		installer.WithLauncher(opts.launcher),
		installer.WithLogger(logger),
	}

	_, err := os.Stat(filepath.Join(exeDir, installer.DatabaseFile))
	switch {
	case err == nil:
		return installer.NewWithDB(attrs, exeDir, fwOpts...)
	case errors.Is(err, fs.ErrNotExist):
		logger.Info("no existing installation next to the executable, starting fresh install")
		return installer.New(attrs, fwOpts...), nil
	default:
		return nil, fmt.Errorf("check install metadata: %w", err)
	}
}

// serve runs the API until ctx is cancelled or a self-update asks the
// process to exit.
func serve(ctx context.Context, fw *installer.Framework, attrs config.BaseAttributes, exe string, opts options, logger logging.Logger) error {
	verifier, err := verify.NewVerifier(attrs.PackageKeyring)
	if err != nil {
		return fmt.Errorf("load package keyring: %w", err)
	}
	if !verifier.HasKeyring() {
		logger.Warn("no package keyring bundled, signed packages cannot be installed")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	downloader := download.New()
	srv := server.New(fw, server.Services{
		Loader:      config.NewLoader(downloader, logger),
		Gate:        auth.NewGate(auth.WithLogger(logger)),
		Desktop:     platform.NewDesktop(),
		Detector:    platform.NewDetector(),
		Pipeline:    tasks.NewPipeline(fw, downloader, verifier, tasks.WithLogger(logger)),
		Updater:     selfupdate.NewStager(afero.NewOsFs(), downloader, selfupdate.ExecLauncher{}, runtime.GOOS, logger),
		ExePath:     exe,
		RestartArgs: opts.restartArgs(),
		Shutdown:    cancel,
	}, logger)

	listener, err := net.Listen("tcp", attrs.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", attrs.ListenAddr, err)
	}

	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// The UI shell reads the address from stdout
	addr := "http://" + listener.Addr().String()
	fmt.Println(addr)
	logger.Info("installer API listening", "addr", addr, "launcher", fw.IsLauncher())

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down installer API")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

package selfupdate

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/ZebulonRouseFrantzich/zinstall/internal/logging"
	"github.com/spf13/afero"
)

// SwapFlag is the command line flag that starts the swap half.
const SwapFlag = "--swap"

// FileDownloader downloads a URL to a local file.
type FileDownloader interface {
	ToFile(ctx context.Context, url, destPath string) error
}

// Stager starts a self-update from the running tool.
type Stager struct {
	fs         afero.Fs
	downloader FileDownloader
	launcher   Launcher
	goos       string
	logger     logging.Logger
}

// NewStager creates a Stager.
func NewStager(fsys afero.Fs, downloader FileDownloader, launcher Launcher, goos string, logger logging.Logger) *Stager {
	return &Stager{
		fs:         fsys,
		downloader: downloader,
		launcher:   launcher,
		goos:       goos,
		logger:     logging.OrNop(logger),
	}
}

// Stage downloads the tool at url next to currentExe, records args for
// the restarted tool and launches the staged build with --swap. The caller
// must exit once Stage returns nil.
func (s *Stager) Stage(ctx context.Context, url, currentExe string, args []string) error {
	dir := filepath.Dir(currentExe)
	staged := NewToolPath(dir, s.goos)

	s.logger.Info("downloading new maintenance tool", "url", url, "path", staged)
	if err := s.downloader.ToFile(ctx, url, staged); err != nil {
		return fmt.Errorf("download new tool: %w", err)
	}
	if err := s.fs.Chmod(staged, executableMode); err != nil {
		return fmt.Errorf("chmod new tool: %w", err)
	}

	queue := NewArgsQueue(s.fs, dir)
	if err := queue.Put(args); err != nil {
		if !errors.Is(err, ErrQueueOccupied) {
			return err
		}
		// A previous attempt never relaunched; its entry is stale
		s.logger.Warn("discarding stale argument file", "path", queue.Path())
		if err := s.fs.Remove(queue.Path()); err != nil {
			return fmt.Errorf("remove stale args file: %w", err)
		}
		if err := queue.Put(args); err != nil {
			return err
		}
	}

	if err := s.launcher.Launch(staged, SwapFlag, currentExe); err != nil {
		s.fs.Remove(queue.Path())
		return fmt.Errorf("launch new tool: %w", err)
	}

	s.logger.Info("new maintenance tool launched", "path", staged)
	return nil
}

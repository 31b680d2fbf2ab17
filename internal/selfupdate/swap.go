package selfupdate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/ZebulonRouseFrantzich/zinstall/internal/logging"
	"github.com/cenkalti/backoff/v5"
	"github.com/spf13/afero"
)

const (
	// SettleDelay lets the replaced process release its file handle.
	SettleDelay = 3 * time.Second
	// RetryDelay separates replace and cleanup attempts.
	RetryDelay = 3 * time.Second
	// MaxAttempts bounds replace and cleanup attempts.
	MaxAttempts = 5

	// NewToolName is the base name of a staged maintenance tool.
	NewToolName = "maintenancetool_new"
)

// NewToolPath returns where a new maintenance tool is staged in dir.
func NewToolPath(dir, goos string) string {
	name := NewToolName
	if goos == "windows" {
		name += ".exe"
	}
	return filepath.Join(dir, name)
}

// SwapError reports that the binary could not be replaced.
type SwapError struct {
	Target   string
	Attempts int
	Err      error
}

func (e *SwapError) Error() string {
	return fmt.Sprintf("replace %s failed after %d attempts: %v", e.Target, e.Attempts, e.Err)
}

func (e *SwapError) Unwrap() error {
	return e.Err
}

// Swapper performs the replace-and-relaunch half of the protocol and the
// stale tool cleanup.
type Swapper struct {
	fs          afero.Fs
	replacer    Replacer
	launcher    Launcher
	logger      logging.Logger
	settle      time.Duration
	retryDelay  time.Duration
	maxAttempts uint
	sleep       func(time.Duration)
}

// SwapOption configures a Swapper.
type SwapOption func(*Swapper)

// WithReplacer sets the replace implementation.
func WithReplacer(r Replacer) SwapOption {
	return func(s *Swapper) {
		s.replacer = r
	}
}

// WithLauncher sets the process launcher.
func WithLauncher(l Launcher) SwapOption {
	return func(s *Swapper) {
		s.launcher = l
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) SwapOption {
	return func(s *Swapper) {
		s.logger = logging.OrNop(l)
	}
}

// WithDelays overrides the settle and retry delays.
func WithDelays(settle, retry time.Duration) SwapOption {
	return func(s *Swapper) {
		s.settle = settle
		s.retryDelay = retry
	}
}

// WithSleep overrides the function used for the settle delay.
func WithSleep(sleep func(time.Duration)) SwapOption {
	return func(s *Swapper) {
		s.sleep = sleep
	}
}

// NewSwapper creates a Swapper over fsys. Without options it replaces in
// the manner of goos and launches with os/exec.
func NewSwapper(fsys afero.Fs, goos string, opts ...SwapOption) *Swapper {
	s := &Swapper{
		fs:          fsys,
		replacer:    PlatformReplacer(goos, fsys),
		launcher:    ExecLauncher{},
		logger:      logging.Nop(),
		settle:      SettleDelay,
		retryDelay:  RetryDelay,
		maxAttempts: MaxAttempts,
		sleep:       time.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Swap moves the binary at current over target and launches target. The
// caller exits with status 0 on success. Exhausting the attempts returns
// *SwapError and nothing is launched.
func (s *Swapper) Swap(ctx context.Context, current, target string) error {
	s.sleep(s.settle)

	s.logger.Info("swapping installer", "from", current, "to", target)

	attempts, err := s.retry(ctx, func() error {
		return s.replacer.Replace(current, target)
	}, "copy attempt failed, retrying")
	if err != nil {
		return &SwapError{Target: target, Attempts: attempts, Err: err}
	}

	if err := s.launcher.Launch(target); err != nil {
		return fmt.Errorf("launch swapped installer: %w", err)
	}
	return nil
}

// CleanupStale removes a leftover staged tool at path. A missing file is
// not an error. Exhausting the attempts is logged as a warning and
// returned; callers continue regardless.
func (s *Swapper) CleanupStale(ctx context.Context, path string) error {
	if _, err := s.fs.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	s.sleep(s.settle)

	_, err := s.retry(ctx, func() error {
		err := s.fs.Remove(path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}, "cleanup attempt failed, retrying")
	if err != nil {
		s.logger.Warn("deleting stale maintenance tool failed", "path", path, "attempts", s.maxAttempts, "error", err)
		return fmt.Errorf("remove stale tool %s: %w", path, err)
	}

	s.logger.Info("removed stale maintenance tool", "path", path)
	return nil
}

// retry runs op up to maxAttempts times with a constant delay and reports
// how many attempts ran.
func (s *Swapper) retry(ctx context.Context, op func() error, retryMsg string) (int, error) {
	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		return struct{}{}, op()
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(s.retryDelay)),
		backoff.WithMaxTries(s.maxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Info(retryMsg, "attempt", attempts, "error", err, "retry_in", next)
		}),
	)
	return attempts, err
}

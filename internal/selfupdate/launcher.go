package selfupdate

import (
	"fmt"
	"os/exec"
)

// Launcher starts a detached process.
type Launcher interface {
	Launch(path string, args ...string) error
}

// ExecLauncher starts processes with os/exec without waiting for them.
type ExecLauncher struct{}

// Launch implements Launcher.
func (ExecLauncher) Launch(path string, args ...string) error {
	cmd := exec.Command(path, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", path, err)
	}
	// The caller exits right after; the child must outlive it
	return cmd.Process.Release()
}

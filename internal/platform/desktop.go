package platform

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"runtime"
	"strings"
)

// ErrUnsupportedURL is returned by OpenBrowser for anything but http(s) URLs.
var ErrUnsupportedURL = errors.New("only http and https URLs can be opened")

// Desktop is the OS appearance and browser collaborator used by the API.
type Desktop interface {
	DarkMode(ctx context.Context) bool
	OpenBrowser(ctx context.Context, rawURL string) error
}

// Runner executes external programs.
type Runner interface {
	// Output runs the program and returns its standard output.
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
	// Start launches the program without waiting for it.
	Start(name string, args ...string) error
}

// ExecRunner runs programs with os/exec.
type ExecRunner struct{}

// Output implements Runner.
func (ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Start implements Runner.
func (ExecRunner) Start(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	// Reap the child in the background
	go func() { _ = cmd.Wait() }()
	return nil
}

// SystemDesktop queries the running desktop through its standard tools.
type SystemDesktop struct {
	goos   string
	runner Runner
}

// NewDesktop returns a Desktop for the running OS.
func NewDesktop() *SystemDesktop {
	return NewDesktopFor(runtime.GOOS, ExecRunner{})
}

// NewDesktopFor returns a Desktop for goos that runs commands through runner.
func NewDesktopFor(goos string, runner Runner) *SystemDesktop {
	return &SystemDesktop{goos: goos, runner: runner}
}

// DarkMode reports whether the OS appearance is set to dark. Any failure to
// read the setting counts as light mode.
func (d *SystemDesktop) DarkMode(ctx context.Context) bool {
	switch d.goos {
	case "windows":
		out, err := d.runner.Output(ctx, "reg", "query",
			`HKCU\Software\Microsoft\Windows\CurrentVersion\Themes\Personalize`,
			"/v", "AppsUseLightTheme")
		if err != nil {
			return false
		}
		return strings.Contains(string(out), "0x0")
	case "darwin":
		out, err := d.runner.Output(ctx, "defaults", "read", "-g", "AppleInterfaceStyle")
		if err != nil {
			return false
		}
		return strings.EqualFold(strings.TrimSpace(string(out)), "dark")
	default:
		out, err := d.runner.Output(ctx, "gsettings", "get", "org.gnome.desktop.interface", "color-scheme")
		if err == nil && strings.Contains(string(out), "prefer-dark") {
			return true
		}
		out, err = d.runner.Output(ctx, "gsettings", "get", "org.gnome.desktop.interface", "gtk-theme")
		if err != nil {
			return false
		}
		return strings.Contains(strings.ToLower(string(out)), "dark")
	}
}

// OpenBrowser opens rawURL in the default browser.
func (d *SystemDesktop) OpenBrowser(ctx context.Context, rawURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %q", ErrUnsupportedURL, rawURL)
	}

	var name string
	var args []string
	switch d.goos {
	case "windows":
		name, args = "rundll32", []string{"url.dll,FileProtocolHandler", u.String()}
	case "darwin":
		name, args = "open", []string{u.String()}
	default:
		name, args = "xdg-open", []string{u.String()}
	}

	if err := d.runner.Start(name, args...); err != nil {
		return fmt.Errorf("launch %s: %w", name, err)
	}
	return nil
}

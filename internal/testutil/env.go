// Package testutil provides utilities for testing the installer in isolation.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// Env holds the isolated directories created by SetupTestEnv.
type Env struct {
	Root       string
	InstallDir string
	ExeDir     string
	CacheDir   string
}

// SetupTestEnv creates isolated test directories for each test.
// This ensures installer tests never touch a real installation or the
// user's environment overrides.
//
// The cleanup function is automatically handled by t.TempDir(),
// so callers don't need to manually clean up.
func SetupTestEnv(t *testing.T) *Env {
	t.Helper()

	tmpDir := t.TempDir()
	env := &Env{
		Root:       tmpDir,
		InstallDir: filepath.Join(tmpDir, "install"),
		ExeDir:     filepath.Join(tmpDir, "exe"),
		CacheDir:   filepath.Join(tmpDir, "cache"),
	}

	// Clear overrides a developer may have exported
	t.Setenv("ZINSTALL_TARGET_URL", "")
	t.Setenv("ZINSTALL_LISTEN_ADDR", "")
	t.Setenv("ZINSTALL_TEST_MODE", "1")

	for _, dir := range []string{env.InstallDir, env.ExeDir, env.CacheDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			t.Fatalf("failed to create test directory %s: %v", dir, err)
		}
	}

	return env
}

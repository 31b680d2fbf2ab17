// Package installer owns the process-wide installer state.
//
// A single Framework is built at startup and handed explicitly to every
// consumer. Reads take a shared lock and may run concurrently; writes take
// the exclusive lock only long enough to swap in already-computed state.
// Network and disk I/O never happen under the state lock.
package installer

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/ZebulonRouseFrantzich/zinstall/internal/auth"
	"github.com/ZebulonRouseFrantzich/zinstall/internal/config"
	"github.com/ZebulonRouseFrantzich/zinstall/internal/logging"
)

// ErrInstallPathConflict is returned when a different install path is
// requested after one was fixed.
var ErrInstallPathConflict = errors.New("install path already set")

// Framework is the shared installer state.
type Framework struct {
	attrs config.BaseAttributes

	mu           sync.RWMutex
	config       *config.Config
	database     *Database
	installPath  string
	authToken    string
	isLauncher   bool
	launcherPath string

	// saveMu serializes writes of the metadata file
	saveMu sync.Mutex

	logger logging.Logger
}

// Option configures a Framework.
type Option func(*Framework)

// WithLauncher marks the process as started in launcher mode for target.
func WithLauncher(target string) Option {
	return func(f *Framework) {
		if target == "" {
			return
		}
		f.isLauncher = true
		f.launcherPath = target
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(f *Framework) {
		f.logger = logging.OrNop(logger)
	}
}

// New creates a Framework for a fresh install: empty database, no manifest
// and no authorization token.
func New(attrs config.BaseAttributes, opts ...Option) *Framework {
	f := &Framework{
		attrs:    attrs,
		database: NewDatabase(),
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewWithDB creates a Framework for an existing install at installPath.
// A missing metadata file starts a fresh database; a corrupt one is
// returned as *CorruptDatabaseError.
func NewWithDB(attrs config.BaseAttributes, installPath string, opts ...Option) (*Framework, error) {
	f := New(attrs, opts...)

	abs, err := filepath.Abs(installPath)
	if err != nil {
		return nil, fmt.Errorf("resolve install path: %w", err)
	}
	f.installPath = abs

	db, err := LoadDatabase(abs)
	switch {
	case err == nil:
		f.database = db
		f.logger.Info("loaded install metadata", "path", abs, "packages", len(db.Packages))
	case errors.Is(err, fs.ErrNotExist):
		f.logger.Info("no install metadata found, starting fresh", "path", abs)
	default:
		return nil, err
	}

	return f, nil
}

// Attributes returns the immutable base attributes.
func (f *Framework) Attributes() config.BaseAttributes {
	return f.attrs
}

// Config returns the current manifest, or config.ErrNotLoaded.
func (f *Framework) Config() (*config.Config, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.config == nil {
		return nil, config.ErrNotLoaded
	}
	return f.config, nil
}

// SetConfig replaces the manifest wholesale.
func (f *Framework) SetConfig(cfg *config.Config) {
	f.mu.Lock()
	f.config = cfg
	f.mu.Unlock()
}

// Database returns a snapshot of the install database.
func (f *Framework) Database() *Database {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.database.Clone()
}

// InstallPath returns the install directory, empty before one is chosen.
func (f *Framework) InstallPath() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.installPath
}

// SetInstallPath fixes the install directory. Setting the same path again
// is a no-op; a different path is ErrInstallPathConflict.
func (f *Framework) SetInstallPath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve install path: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.installPath != "" && f.installPath != abs {
		return fmt.Errorf("%w: %s", ErrInstallPathConflict, f.installPath)
	}
	f.installPath = abs
	return nil
}

// AuthorizationToken returns the cached token, empty when not authorized.
func (f *Framework) AuthorizationToken() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.authToken
}

// IsLauncher reports launcher mode.
func (f *Framework) IsLauncher() bool {
	return f.isLauncher
}

// LauncherPath returns the launcher target.
func (f *Framework) LauncherPath() string {
	return f.launcherPath
}

// Credentials implements auth.CredentialStore.
func (f *Framework) Credentials() auth.Credentials {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.database.Credentials
}

// CommitAuthentication implements auth.CredentialStore. Both values are
// swapped in under one write lock so readers never observe a mix of two
// attempts.
func (f *Framework) CommitAuthentication(creds auth.Credentials, token string) error {
	f.mu.Lock()
	f.database.Credentials = creds
	f.authToken = token
	f.mu.Unlock()

	return f.Persist()
}

// Update applies fn to a copy of the database and commits the copy if fn
// succeeds. The database is then persisted. fn runs under the write lock
// and must not perform I/O.
func (f *Framework) Update(fn func(db *Database) error) error {
	f.mu.Lock()
	next := f.database.Clone()
	if err := fn(next); err != nil {
		f.mu.Unlock()
		return err
	}
	f.database = next
	f.mu.Unlock()

	return f.Persist()
}

// Persist writes the current database to the install directory. It is a
// no-op before an install path is chosen.
func (f *Framework) Persist() error {
	f.saveMu.Lock()
	defer f.saveMu.Unlock()

	// Snapshot inside saveMu so the last save always carries the latest state
	f.mu.RLock()
	dir := f.installPath
	snapshot := f.database.Clone()
	f.mu.RUnlock()

	if dir == "" {
		return nil
	}
	if err := snapshot.Save(dir); err != nil {
		f.logger.Error("failed to persist install metadata", "path", dir, "error", err)
		return fmt.Errorf("persist install metadata: %w", err)
	}
	return nil
}

// Status is the installation status reported to the UI.
type Status struct {
	Database     *Database `json:"database"`
	InstallPath  string    `json:"install_path"`
	IsLauncher   bool      `json:"is_launcher"`
	LauncherPath string    `json:"launcher_path,omitempty"`
	Authorized   bool      `json:"authorized"`
}

// Status returns a consistent snapshot of the installation status.
func (f *Framework) Status() Status {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return Status{
		Database:     f.database.Redacted(),
		InstallPath:  f.installPath,
		IsLauncher:   f.isLauncher,
		LauncherPath: f.launcherPath,
		Authorized:   f.authToken != "",
	}
}

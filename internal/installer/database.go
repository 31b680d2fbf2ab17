package installer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/ZebulonRouseFrantzich/zinstall/internal/auth"
	"github.com/google/uuid"
)

const (
	// DatabaseFile is the metadata file kept in the install directory.
	DatabaseFile = "metadata.json"

	databaseVersion = 1
)

// CorruptDatabaseError reports a metadata file that exists but cannot be
// decoded. Startup must not continue past it.
type CorruptDatabaseError struct {
	Path string
	Err  error
}

func (e *CorruptDatabaseError) Error() string {
	return fmt.Sprintf("install metadata %s is corrupt: %v", e.Path, e.Err)
}

func (e *CorruptDatabaseError) Unwrap() error {
	return e.Err
}

// LocalInstallation records one installed package.
type LocalInstallation struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Channel     string    `json:"channel,omitempty"`
	Files       []string  `json:"files"`
	Shortcuts   []string  `json:"shortcuts,omitempty"`
	InstalledAt time.Time `json:"installed_at"`
}

// Database is the persisted install state.
type Database struct {
	Version     int                 `json:"version"` // Schema version for future evolution
	InstallID   uuid.UUID           `json:"install_id"`
	Packages    []LocalInstallation `json:"packages"`
	Credentials auth.Credentials    `json:"credentials"`
}

// NewDatabase returns an empty database with a fresh install ID.
func NewDatabase() *Database {
	return &Database{
		Version:   databaseVersion,
		InstallID: uuid.New(),
		Packages:  []LocalInstallation{},
	}
}

// Package returns the installation record for name.
func (d *Database) Package(name string) (LocalInstallation, bool) {
	for _, p := range d.Packages {
		if p.Name == name {
			return p, true
		}
	}
	return LocalInstallation{}, false
}

// Upsert adds or replaces the record for inst.Name.
func (d *Database) Upsert(inst LocalInstallation) {
	for i := range d.Packages {
		if d.Packages[i].Name == inst.Name {
			d.Packages[i] = inst
			return
		}
	}
	d.Packages = append(d.Packages, inst)
}

// Remove deletes the record for name and returns it.
func (d *Database) Remove(name string) (LocalInstallation, bool) {
	for i, p := range d.Packages {
		if p.Name == name {
			d.Packages = slices.Delete(d.Packages, i, i+1)
			return p, true
		}
	}
	return LocalInstallation{}, false
}

// Clone returns a deep copy.
func (d *Database) Clone() *Database {
	c := *d
	c.Packages = make([]LocalInstallation, len(d.Packages))
	for i, p := range d.Packages {
		p.Files = slices.Clone(p.Files)
		p.Shortcuts = slices.Clone(p.Shortcuts)
		c.Packages[i] = p
	}
	return &c
}

// Redacted returns a deep copy without the stored credential token.
func (d *Database) Redacted() *Database {
	c := d.Clone()
	c.Credentials.Token = ""
	return c
}

// Save writes the database to dir/metadata.json atomically.
// Uses write-then-rename pattern for atomicity.
func (d *Database) Save(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create install directory: %w", err)
	}

	finalPath := filepath.Join(dir, DatabaseFile)
	tmpPath := finalPath + ".tmp"

	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal database: %w", err)
	}

	// Credentials are stored in the file
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write temporary database file: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename database file: %w", err)
	}

	// Sync directory for durability
	df, err := os.Open(dir)
	if err == nil {
		if syncErr := df.Sync(); syncErr != nil {
			df.Close()
			return fmt.Errorf("sync directory: %w", syncErr)
		}
		df.Close()
	}

	return nil
}

// LoadDatabase reads dir/metadata.json. A missing file is reported as
// fs.ErrNotExist; an undecodable one as *CorruptDatabaseError.
func LoadDatabase(dir string) (*Database, error) {
	path := filepath.Join(dir, DatabaseFile)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read database file: %w", err)
	}

	var db Database
	if err := json.Unmarshal(data, &db); err != nil {
		return nil, &CorruptDatabaseError{Path: path, Err: err}
	}
	if db.InstallID == uuid.Nil {
		return nil, &CorruptDatabaseError{Path: path, Err: errors.New("missing install_id")}
	}
	if db.Packages == nil {
		db.Packages = []LocalInstallation{}
	}

	return &db, nil
}

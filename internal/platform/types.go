// Package platform describes the machine the installer runs on.
//
// Detection results feed package conditions in the manifest (through a
// read-only Lua table) and the installation status endpoint. The package
// also owns the small desktop collaborators the UI shell calls: the OS
// appearance setting and the system browser.
package platform

import "context"

// Linux distribution family constants.
const (
	FamilyDebian  = "debian"
	FamilyRHEL    = "rhel"
	FamilyFedora  = "fedora"
	FamilySUSE    = "suse"
	FamilyArch    = "arch"
	FamilyAlpine  = "alpine"
	FamilyUnknown = "unknown"
)

// Info contains platform detection information.
type Info struct {
	OS      string `json:"os"`                // "linux", "darwin", "windows"
	Arch    string `json:"arch"`              // normalized ("amd64", "arm64", "386", "arm")
	ArchRaw string `json:"arch_raw"`          // GOARCH as compiled
	Distro  string `json:"distro,omitempty"`  // distro ID on Linux, e.g. "ubuntu"
	Family  string `json:"family,omitempty"`  // canonical Linux family
	Version string `json:"version,omitempty"` // OS or distro version
	Kernel  string `json:"kernel,omitempty"`  // kernel version
}

// IsLinux returns true if the platform is Linux.
func (i *Info) IsLinux() bool {
	return i.OS == "linux"
}

// IsMacOS returns true if the platform is macOS.
func (i *Info) IsMacOS() bool {
	return i.OS == "darwin"
}

// IsWindows returns true if the platform is Windows.
func (i *Info) IsWindows() bool {
	return i.OS == "windows"
}

// ExeSuffix returns the executable file suffix for the platform.
func (i *Info) ExeSuffix() string {
	if i.IsWindows() {
		return ".exe"
	}
	return ""
}

// Detector is the interface for platform detection.
type Detector interface {
	Detect(ctx context.Context) (*Info, error)
}

// StaticDetector returns a fixed Info. Useful when the platform is already
// known, and in tests.
type StaticDetector struct {
	Info Info
}

// Detect returns a copy of the configured Info.
func (s StaticDetector) Detect(ctx context.Context) (*Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info := s.Info
	return &info, nil
}

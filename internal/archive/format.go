// Package archive unpacks installer packages into a target directory.
//
// The set of supported container formats is fixed by the manifest schema, so
// formats are a closed enumeration dispatched through Extract rather than a
// pluggable interface.
package archive

import (
	"fmt"
	"strings"
)

// Format identifies the container/compression format of a package archive.
type Format string

const (
	// FormatTarGz is a gzip-compressed tarball.
	FormatTarGz Format = "tar.gz"
	// FormatTarXz is an xz-compressed tarball.
	FormatTarXz Format = "tar.xz"
	// FormatTar is an uncompressed tarball.
	FormatTar Format = "tar"
	// FormatZip is a zip container.
	FormatZip Format = "zip"
)

// Formats lists every supported format.
var Formats = []Format{FormatTarGz, FormatTarXz, FormatTar, FormatZip}

// formatAliases maps accepted manifest spellings to canonical formats.
var formatAliases = map[string]Format{
	"tar.gz": FormatTarGz,
	"tgz":    FormatTarGz,
	"tar.xz": FormatTarXz,
	"txz":    FormatTarXz,
	"tar":    FormatTar,
	"zip":    FormatZip,
}

// String returns the string representation of the format.
func (f Format) String() string {
	return string(f)
}

// Valid reports whether f is one of the supported formats.
func (f Format) Valid() bool {
	switch f {
	case FormatTarGz, FormatTarXz, FormatTar, FormatZip:
		return true
	default:
		return false
	}
}

// ParseFormat converts a manifest format string to a Format.
func ParseFormat(s string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	if f, ok := formatAliases[normalized]; ok {
		return f, nil
	}
	return "", fmt.Errorf("unsupported archive format: %q", s)
}

// UnmarshalText implements encoding.TextUnmarshaler so manifests can carry
// any accepted alias.
func (f *Format) UnmarshalText(text []byte) error {
	parsed, err := ParseFormat(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (f Format) MarshalText() ([]byte, error) {
	return []byte(f), nil
}

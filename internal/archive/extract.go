package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"
)

const (
	dirPermissions  = 0755
	defaultFileMode = 0644
)

// Error reports a failed extraction. Files written before the failure are
// left in place; callers decide whether the step failed.
type Error struct {
	Archive string // archive name or path
	Entry   string // archive entry being processed, may be empty
	Err     error
}

func (e *Error) Error() string {
	if e.Entry != "" {
		return fmt.Sprintf("extract %s: entry %s: %v", e.Archive, e.Entry, e.Err)
	}
	return fmt.Sprintf("extract %s: %v", e.Archive, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrIllegalPath is returned for entries that would be written outside the
// destination directory.
var ErrIllegalPath = errors.New("illegal file path")

// Extract unpacks the archive read from r into destDir. name identifies the
// archive in errors. It returns the slash-separated relative paths of the
// files and links written, in archive order. An entry repeated later in the
// archive overwrites the earlier one and is listed once, at its first
// position.
func Extract(name string, r io.Reader, format Format, destDir string) ([]string, error) {
	written, err := extract(name, r, format, destDir)
	return dedupe(written), err
}

func extract(name string, r io.Reader, format Format, destDir string) ([]string, error) {
	if err := os.MkdirAll(destDir, dirPermissions); err != nil {
		return nil, &Error{Archive: name, Err: fmt.Errorf("create dest dir: %w", err)}
	}

	switch format {
	case FormatTarGz:
		gzipReader, err := gzip.NewReader(r)
		if err != nil {
			return nil, &Error{Archive: name, Err: fmt.Errorf("create gzip reader: %w", err)}
		}
		defer gzipReader.Close()
		return extractTar(name, gzipReader, destDir)

	case FormatTarXz:
		xzReader, err := xz.NewReader(r)
		if err != nil {
			return nil, &Error{Archive: name, Err: fmt.Errorf("create xz reader: %w", err)}
		}
		return extractTar(name, xzReader, destDir)

	case FormatTar:
		return extractTar(name, r, destDir)

	case FormatZip:
		return extractZipStream(name, r, destDir)

	default:
		return nil, &Error{Archive: name, Err: fmt.Errorf("unsupported archive format: %q", format)}
	}
}

// ExtractFile opens the archive at archivePath and extracts it into destDir.
func ExtractFile(archivePath string, format Format, destDir string) ([]string, error) {
	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return nil, &Error{Archive: archivePath, Err: fmt.Errorf("open archive: %w", err)}
	}
	defer archiveFile.Close()

	return Extract(archivePath, archiveFile, format, destDir)
}

// extractTar extracts every entry of a tar stream.
func extractTar(name string, r io.Reader, destDir string) ([]string, error) {
	tarReader := tar.NewReader(r)
	var written []string

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, &Error{Archive: name, Err: fmt.Errorf("read tar header: %w", err)}
		}

		target, err := safeJoin(destDir, header.Name)
		if err != nil {
			return written, &Error{Archive: name, Entry: header.Name, Err: err}
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, dirPermissions); err != nil {
				return written, &Error{Archive: name, Entry: header.Name, Err: fmt.Errorf("create directory: %w", err)}
			}

		case tar.TypeReg:
			if err := writeFile(target, tarReader, os.FileMode(header.Mode).Perm()); err != nil {
				return written, &Error{Archive: name, Entry: header.Name, Err: err}
			}
			written = append(written, relName(header.Name))

		case tar.TypeSymlink:
			if err := writeSymlink(destDir, target, header.Linkname); err != nil {
				return written, &Error{Archive: name, Entry: header.Name, Err: err}
			}
			written = append(written, relName(header.Name))

		case tar.TypeLink:
			source, err := safeJoin(destDir, header.Linkname)
			if err != nil {
				return written, &Error{Archive: name, Entry: header.Name, Err: err}
			}
			if err := os.MkdirAll(filepath.Dir(target), dirPermissions); err != nil {
				return written, &Error{Archive: name, Entry: header.Name, Err: fmt.Errorf("create parent dir: %w", err)}
			}
			_ = os.Remove(target)
			if err := os.Link(source, target); err != nil {
				return written, &Error{Archive: name, Entry: header.Name, Err: fmt.Errorf("create hard link: %w", err)}
			}
			written = append(written, relName(header.Name))

		default:
			// Skip other types (char devices, block devices, fifos)
			continue
		}
	}
}

// sizedReaderAt is satisfied by bytes.Reader and strings.Reader.
type sizedReaderAt interface {
	io.ReaderAt
	Size() int64
}

// extractZipStream extracts a zip archive. Zip needs random access, so
// streams without it are spooled to a temporary file first.
func extractZipStream(name string, r io.Reader, destDir string) ([]string, error) {
	switch src := r.(type) {
	case *os.File:
		info, err := src.Stat()
		if err != nil {
			return nil, &Error{Archive: name, Err: fmt.Errorf("stat archive: %w", err)}
		}
		return extractZip(name, src, info.Size(), destDir)
	case sizedReaderAt:
		return extractZip(name, src, src.Size(), destDir)
	}

	spool, err := os.CreateTemp("", "zinstall-zip-*")
	if err != nil {
		return nil, &Error{Archive: name, Err: fmt.Errorf("create spool file: %w", err)}
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	size, err := io.Copy(spool, r)
	if err != nil {
		return nil, &Error{Archive: name, Err: fmt.Errorf("spool archive: %w", err)}
	}

	return extractZip(name, spool, size, destDir)
}

// extractZip extracts every entry of a zip archive.
func extractZip(name string, r io.ReaderAt, size int64, destDir string) ([]string, error) {
	zipReader, err := zip.NewReader(r, size)
	if err != nil {
		return nil, &Error{Archive: name, Err: fmt.Errorf("open zip: %w", err)}
	}

	var written []string
	for _, file := range zipReader.File {
		target, err := safeJoin(destDir, file.Name)
		if err != nil {
			return written, &Error{Archive: name, Entry: file.Name, Err: err}
		}

		mode := file.Mode()
		switch {
		case mode.IsDir() || strings.HasSuffix(file.Name, "/"):
			if err := os.MkdirAll(target, dirPermissions); err != nil {
				return written, &Error{Archive: name, Entry: file.Name, Err: fmt.Errorf("create directory: %w", err)}
			}

		case mode&fs.ModeSymlink != 0:
			linkname, err := readZipEntry(file)
			if err != nil {
				return written, &Error{Archive: name, Entry: file.Name, Err: err}
			}
			if err := writeSymlink(destDir, target, linkname); err != nil {
				return written, &Error{Archive: name, Entry: file.Name, Err: err}
			}
			written = append(written, relName(file.Name))

		default:
			if err := writeZipFile(file, target); err != nil {
				return written, &Error{Archive: name, Entry: file.Name, Err: err}
			}
			written = append(written, relName(file.Name))
		}
	}

	return written, nil
}

func writeZipFile(file *zip.File, target string) error {
	rc, err := file.Open()
	if err != nil {
		return fmt.Errorf("open entry: %w", err)
	}
	defer rc.Close()

	return writeFile(target, rc, file.Mode().Perm())
}

func readZipEntry(file *zip.File) (string, error) {
	rc, err := file.Open()
	if err != nil {
		return "", fmt.Errorf("open entry: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, 4096))
	if err != nil {
		return "", fmt.Errorf("read link target: %w", err)
	}
	return string(data), nil
}

// writeFile writes r to target, creating parent directories and applying
// perm exactly (the process umask is not allowed to strip executable bits).
func writeFile(target string, r io.Reader, perm os.FileMode) error {
	if perm == 0 {
		perm = defaultFileMode
	}

	if err := os.MkdirAll(filepath.Dir(target), dirPermissions); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}

	// An earlier entry may have left a link at target
	_ = os.Remove(target)
	outFile, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	if _, err := io.Copy(outFile, r); err != nil {
		outFile.Close()
		return fmt.Errorf("write file: %w", err)
	}

	if err := outFile.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}

	if err := os.Chmod(target, perm); err != nil {
		return fmt.Errorf("set permissions: %w", err)
	}

	return nil
}

// writeSymlink creates a symlink after checking that it resolves inside destDir.
func writeSymlink(destDir, target, linkname string) error {
	if filepath.IsAbs(linkname) || path.IsAbs(linkname) {
		return fmt.Errorf("%w: absolute link target %s", ErrIllegalPath, linkname)
	}

	resolved := filepath.Join(filepath.Dir(target), filepath.FromSlash(linkname))
	if !within(destDir, resolved) {
		return fmt.Errorf("%w: link target %s escapes destination", ErrIllegalPath, linkname)
	}

	if err := os.MkdirAll(filepath.Dir(target), dirPermissions); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}

	_ = os.Remove(target)
	if err := os.Symlink(linkname, target); err != nil {
		return fmt.Errorf("create symlink: %w", err)
	}
	return nil
}

// safeJoin joins an archive entry name onto destDir, rejecting path traversal.
func safeJoin(destDir, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty entry name", ErrIllegalPath)
	}
	if path.IsAbs(name) || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %s", ErrIllegalPath, name)
	}

	target := filepath.Join(destDir, filepath.FromSlash(name))
	if !within(destDir, target) {
		return "", fmt.Errorf("%w: %s", ErrIllegalPath, name)
	}
	return target, nil
}

func within(destDir, target string) bool {
	cleanDest := filepath.Clean(destDir)
	cleanTarget := filepath.Clean(target)
	return cleanTarget == cleanDest || strings.HasPrefix(cleanTarget, cleanDest+string(os.PathSeparator))
}

// relName normalizes an entry name for the installed file manifest.
func relName(name string) string {
	return strings.TrimPrefix(path.Clean(strings.ReplaceAll(name, "\\", "/")), "./")
}

// dedupe drops repeated names, keeping the first occurrence.
func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := names[:0]
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

package selfupdate

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
)

// executableMode is applied to replaced binaries.
const executableMode os.FileMode = 0755

// Replacer materializes the binary at src at path dst.
type Replacer interface {
	Replace(src, dst string) error
}

// RenameReplacer moves src over dst. Used where a running executable can
// be renamed.
type RenameReplacer struct {
	Fs afero.Fs
}

// Replace implements Replacer.
func (r RenameReplacer) Replace(src, dst string) error {
	if err := r.Fs.Rename(src, dst); err != nil {
		return fmt.Errorf("rename %s to %s: %w", src, dst, err)
	}
	return nil
}

// CopyReplacer copies src over dst. Used on Windows, where the image of a
// running executable cannot be renamed but can be read.
type CopyReplacer struct {
	Fs afero.Fs
}

// Replace implements Replacer.
func (r CopyReplacer) Replace(src, dst string) error {
	in, err := r.Fs.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := r.Fs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, executableMode)
	if err != nil {
		return fmt.Errorf("open %s for writing: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}

	if err := r.Fs.Chmod(dst, executableMode); err != nil {
		return fmt.Errorf("chmod %s: %w", dst, err)
	}
	return nil
}

// PlatformReplacer returns the Replacer suitable for goos.
func PlatformReplacer(goos string, fs afero.Fs) Replacer {
	if goos == "windows" {
		return CopyReplacer{Fs: fs}
	}
	return RenameReplacer{Fs: fs}
}

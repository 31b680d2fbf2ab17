package testutil

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"sort"
	"testing"

	"github.com/ulikunitz/xz"
)

// File describes an archive entry for the archive builders.
type File struct {
	Content string
	Mode    os.FileMode
}

// Tree maps slash-separated entry names to their contents.
type Tree map[string]File

func (tree Tree) sortedNames() []string {
	names := make([]string, 0, len(tree))
	for name := range tree {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func modeOrDefault(mode os.FileMode) os.FileMode {
	if mode == 0 {
		return 0644
	}
	return mode
}

// TarBytes builds an uncompressed tarball from tree.
func TarBytes(t *testing.T, tree Tree) []byte {
	t.Helper()

	var buf bytes.Buffer
	writeTar(t, &buf, tree)
	return buf.Bytes()
}

// TarGzBytes builds a gzip-compressed tarball from tree.
func TarGzBytes(t *testing.T, tree Tree) []byte {
	t.Helper()
	return AppendedTarGzBytes(t, tree)
}

// AppendedTarGzBytes builds one gzip-compressed tar stream holding the
// entries of each tree in turn, the way `tar -r` appends to an archive.
// Names present in several trees appear once per tree.
func AppendedTarGzBytes(t *testing.T, trees ...Tree) []byte {
	t.Helper()

	var buf bytes.Buffer
	gzipWriter := gzip.NewWriter(&buf)
	writeTar(t, gzipWriter, trees...)
	if err := gzipWriter.Close(); err != nil {
		t.Fatalf("failed to close gzip writer: %v", err)
	}
	return buf.Bytes()
}

// TarXzBytes builds an xz-compressed tarball from tree.
func TarXzBytes(t *testing.T, tree Tree) []byte {
	t.Helper()

	var buf bytes.Buffer
	xzWriter, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatalf("failed to create xz writer: %v", err)
	}
	writeTar(t, xzWriter, tree)
	if err := xzWriter.Close(); err != nil {
		t.Fatalf("failed to close xz writer: %v", err)
	}
	return buf.Bytes()
}

// ZipBytes builds a zip container from tree.
func ZipBytes(t *testing.T, tree Tree) []byte {
	t.Helper()

	var buf bytes.Buffer
	zipWriter := zip.NewWriter(&buf)

	for _, name := range tree.sortedNames() {
		file := tree[name]
		header := &zip.FileHeader{
			Name:   name,
			Method: zip.Deflate,
		}
		header.SetMode(modeOrDefault(file.Mode))

		w, err := zipWriter.CreateHeader(header)
		if err != nil {
			t.Fatalf("failed to create zip entry %s: %v", name, err)
		}
		if _, err := io.WriteString(w, file.Content); err != nil {
			t.Fatalf("failed to write zip entry %s: %v", name, err)
		}
	}

	if err := zipWriter.Close(); err != nil {
		t.Fatalf("failed to close zip writer: %v", err)
	}
	return buf.Bytes()
}

// WriteFile writes data to path and returns path.
func WriteFile(t *testing.T, path string, data []byte) string {
	t.Helper()

	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

func writeTar(t *testing.T, w io.Writer, trees ...Tree) {
	t.Helper()

	tarWriter := tar.NewWriter(w)
	for _, tree := range trees {
		for _, name := range tree.sortedNames() {
			file := tree[name]
			header := &tar.Header{
				Name:     name,
				Mode:     int64(modeOrDefault(file.Mode)),
				Size:     int64(len(file.Content)),
				Typeflag: tar.TypeReg,
			}

			if err := tarWriter.WriteHeader(header); err != nil {
				t.Fatalf("failed to write header for %s: %v", name, err)
			}
			if _, err := io.WriteString(tarWriter, file.Content); err != nil {
				t.Fatalf("failed to write content for %s: %v", name, err)
			}
		}
	}

	if err := tarWriter.Close(); err != nil {
		t.Fatalf("failed to close tar writer: %v", err)
	}
}

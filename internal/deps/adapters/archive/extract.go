package archive

import (
	"archive/tar"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// Format identifies an archive container.
type Format string

const (
	FormatZip     Format = "zip"
	FormatTar     Format = "tar"
	FormatTarGzip Format = "tar.gz"
	FormatTarBz2  Format = "tar.bz2"
	FormatTarZstd Format = "tar.zst"
)

// ErrUnsafePath is returned for entries that would be written outside the
// extraction directory.
var ErrUnsafePath = errors.New("archive entry escapes extraction directory")

// Detect sniffs the archive format from the file content. Files the sniffer
// does not recognise are treated as plain tar.
func Detect(file string) (Format, error) {
	detected, err := mimetype.DetectFile(file)
	if err != nil {
		return "", err
	}
	for mt := detected; mt != nil; mt = mt.Parent() {
		switch {
		case mt.Is("application/zip"):
			return FormatZip, nil
		case mt.Is("application/gzip"):
			return FormatTarGzip, nil
		case mt.Is("application/x-bzip2"):
			return FormatTarBz2, nil
		case mt.Is("application/zstd"):
			return FormatTarZstd, nil
		case mt.Is("application/x-tar"):
			return FormatTar, nil
		}
	}
	if strings.HasSuffix(strings.ToLower(file), ".zip") {
		return FormatZip, nil
	}
	return FormatTar, nil
}

// Extract unpacks file into dest, creating dest if needed.
func Extract(file, dest string) error {
	format, err := Detect(file)
	if err != nil {
		return fmt.Errorf("detect archive format: %w", err)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	if format == FormatZip {
		return extractZip(file, dest)
	}

	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = f
	switch format {
	case FormatTarGzip:
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("open gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	case FormatTarBz2:
		r = bzip2.NewReader(f)
	case FormatTarZstd:
		zr, err := zstd.NewReader(f)
		if err != nil {
			return fmt.Errorf("open zstd stream: %w", err)
		}
		defer zr.Close()
		r = zr
	}
	return extractTar(r, dest)
}

func target(dest, name string) (string, error) {
	name = filepath.FromSlash(strings.TrimPrefix(name, "./"))
	if name == "" || name == "." {
		return dest, nil
	}
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	name = filepath.Clean(name)
	if err := noSymlinks(dest, name); err != nil {
		return "", err
	}
	return filepath.Join(dest, name), nil
}

// noSymlinks rejects a name that passes through, or ends at, a symlink
// already extracted below dest. Writes therefore never follow a link.
func noSymlinks(dest, name string) error {
	current := dest
	for _, part := range strings.Split(name, string(filepath.Separator)) {
		current = filepath.Join(current, part)
		info, err := os.Lstat(current)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("%w: %s passes through symlink %s", ErrUnsafePath, name, current)
		}
	}
	return nil
}

func extractTar(r io.Reader, dest string) error {
	tr := tar.NewReader(r)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}

		path, err := target(dest, header.Name)
		if err != nil {
			return err
		}
		mode := header.FileInfo().Mode()
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(path, mode.Perm()|0o700); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(path, tr, mode.Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := symlink(dest, path, header.Linkname); err != nil {
				return err
			}
		case tar.TypeLink:
			source, err := target(dest, header.Linkname)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.Link(source, path); err != nil {
				return err
			}
		default:
			// Devices, fifos and pax metadata carry nothing a build needs.
		}
	}
}

func extractZip(file, dest string) error {
	zr, err := zip.OpenReader(file)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()

	for _, entry := range zr.File {
		path, err := target(dest, entry.Name)
		if err != nil {
			return err
		}
		info := entry.FileInfo()
		switch {
		case info.IsDir():
			if err := os.MkdirAll(path, 0o755); err != nil {
				return err
			}
		case info.Mode()&os.ModeSymlink != 0:
			rc, err := entry.Open()
			if err != nil {
				return err
			}
			link, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return err
			}
			if err := symlink(dest, path, string(link)); err != nil {
				return err
			}
		default:
			rc, err := entry.Open()
			if err != nil {
				return err
			}
			perm := info.Mode().Perm()
			if perm == 0 {
				perm = 0o644
			}
			err = writeFile(path, rc, perm)
			rc.Close()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func writeFile(path string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0o200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		return errors.Join(err, out.Close())
	}
	return out.Close()
}

// symlink creates a link whose target stays inside dest.
func symlink(dest, path, link string) error {
	if filepath.IsAbs(link) {
		return fmt.Errorf("%w: symlink %s -> %s", ErrUnsafePath, path, link)
	}
	resolved := filepath.Join(filepath.Dir(path), filepath.FromSlash(link))
	if rel, err := filepath.Rel(dest, resolved); err != nil || !filepath.IsLocal(rel) {
		return fmt.Errorf("%w: symlink %s -> %s", ErrUnsafePath, path, link)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.Symlink(link, path)
}

package local

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

func exists(fsys billy.Filesystem, name string) (bool, error) {
	_, err := fsys.Stat(name)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat %q: %w", name, err)
	}
}

func readFile(fsys billy.Filesystem, name string) ([]byte, error) {
	file, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

func writeFile(fsys billy.Filesystem, name string, data []byte) error {
	if err := fsys.MkdirAll(path.Dir(name), 0o755); err != nil {
		return fmt.Errorf("create %q: %w", path.Dir(name), err)
	}
	return util.WriteFile(fsys, name, data, 0o644)
}

// copyFile copies src to the file dst, keeping the permission bits.
func copyFile(fsys billy.Filesystem, src, dst string) (err error) {
	info, err := fsys.Stat(src)
	if err != nil {
		return err
	}

	in, err := fsys.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := fsys.MkdirAll(path.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := fsys.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, out.Close())
	}()

	_, err = io.Copy(out, in)
	return err
}

// copyTree replaces dst with a copy of the directory src. Symbolic links are
// followed.
func copyTree(fsys billy.Filesystem, src, dst string) error {
	if err := util.RemoveAll(fsys, dst); err != nil {
		return fmt.Errorf("remove %q: %w", dst, err)
	}
	return copyTreeInto(fsys, src, dst)
}

func copyTreeInto(fsys billy.Filesystem, src, dst string) error {
	if err := fsys.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	entries, err := fsys.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		from := path.Join(src, entry.Name())
		to := path.Join(dst, entry.Name())

		info, err := fsys.Stat(from)
		if err != nil {
			return fmt.Errorf("stat %q: %w", from, err)
		}
		if info.IsDir() {
			err = copyTreeInto(fsys, from, to)
		} else {
			err = copyFile(fsys, from, to)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// subdirectories lists the directory names directly below dir. A missing dir
// has none.
func subdirectories(fsys billy.Filesystem, dir string) ([]string, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

package executor

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	tempPrefix = ".dirsync-"
	tempSuffix = ".tmp"
)

// isTempName reports whether name is an in-progress copy of another worker.
func isTempName(name string) bool {
	return strings.HasPrefix(name, tempPrefix) && strings.HasSuffix(name, tempSuffix)
}

// copyFile replaces dst with the contents and permission bits of src. The
// data is written to a temporary file in dst's directory and renamed into
// place, so readers never see a partial file.
func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s: not a regular file", src)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), tempPrefix+"*"+tempSuffix)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, in); err != nil {
		return err
	}

	if err = tmp.Chmod(info.Mode().Perm()); err != nil {
		return err
	}

	if err = tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), dst)
}

// Package fsutil contains the file operations shared by the sync engine and
// the backup manager. All functions operate on an afero.Fs so that callers
// can swap the real file system out in tests.
package fsutil

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"github.com/sidkik/treesync/pkg/errors"
)

// tempPrefix marks files that are still being written. They are renamed
// into place once complete.
const tempPrefix = ".treesync-"

// CopyFile replaces `dst` with a copy of `src`. The contents are written to
// a temporary file next to `dst` which is then renamed over it, so readers
// of `dst` see either the old or the new contents, never a partial file.
// The file mode and modification time are carried over.
func CopyFile(fs afero.Fs, src, dst string) error {
	srcFile, err := fs.Open(src)
	if err != nil {
		return errors.WithContext(err, "open source")
	}
	defer srcFile.Close()

	before, err := srcFile.Stat()
	if err != nil {
		return errors.WithContext(err, "stat source")
	}

	tmp, err := afero.TempFile(fs, filepath.Dir(dst), tempPrefix)
	if err != nil {
		return errors.WithContext(err, "open destination")
	}
	tmpPath := tmp.Name()

	copied, err := io.Copy(tmp, srcFile)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = fs.Remove(tmpPath)
		return errors.WithContext(err, "copy")
	}

	after, err := fs.Stat(src)
	if err != nil {
		_ = fs.Remove(tmpPath)
		return errors.WithContext(err, "stat source")
	}
	if sourceChanged(before, after, copied) {
		_ = fs.Remove(tmpPath)
		return errors.ErrSourceChanged
	}

	if err := fs.Chmod(tmpPath, before.Mode().Perm()); err != nil {
		_ = fs.Remove(tmpPath)
		return errors.WithContext(err, "set file mode")
	}

	// Change the modification time as the last step so that it doesn't get
	// reset by other file operations.
	if err := fs.Chtimes(tmpPath, time.Now(), before.ModTime()); err != nil {
		_ = fs.Remove(tmpPath)
		return errors.WithContext(err, "set file modtime")
	}

	if err := fs.Rename(tmpPath, dst); err != nil {
		_ = fs.Remove(tmpPath)
		return errors.WithContext(err, "rename into place")
	}
	return nil
}

func sourceChanged(before, after os.FileInfo, copied int64) bool {
	return copied != before.Size() ||
		after.Size() != before.Size() ||
		after.ModTime().After(before.ModTime())
}

// CopyTree copies the directory tree rooted at `src` into `dst`, which must
// not exist yet. Only directories and regular files are copied, although
// `src` itself may be a link to a directory. It stops between files if `ctx`
// is cancelled.
func CopyTree(ctx context.Context, fs afero.Fs, src, dst string) error {
	info, err := fs.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &os.PathError{Op: "copy tree", Path: src, Err: syscall.ENOTDIR}
	}
	return copyDir(ctx, fs, src, dst, info.Mode())
}

func copyDir(ctx context.Context, fs afero.Fs, src, dst string, mode os.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fs.MkdirAll(dst, mode.Perm()|0700); err != nil {
		return errors.WithContext(err, "make directory")
	}

	entries, err := afero.ReadDir(fs, src)
	if err != nil {
		return errors.WithContext(err, "read directory")
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		from := filepath.Join(src, entry.Name())
		to := filepath.Join(dst, entry.Name())
		switch {
		case entry.IsDir():
			if err := copyDir(ctx, fs, from, to, entry.Mode()); err != nil {
				return err
			}
		case entry.Mode().IsRegular():
			if err := CopyFile(fs, from, to); err != nil {
				return errors.WithContext(err, "copy "+from)
			}
		}
	}
	return nil
}

// WriteFileAtomic writes `data` to `path` through a temporary file and a
// rename.
func WriteFileAtomic(fs afero.Fs, path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return errors.WithContext(err, "make parent")
	}

	tmp, err := afero.TempFile(fs, dir, tempPrefix)
	if err != nil {
		return errors.WithContext(err, "create temp file")
	}
	tmpPath := tmp.Name()

	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = fs.Chmod(tmpPath, perm)
	}
	if err == nil {
		err = fs.Rename(tmpPath, path)
	}
	if err != nil {
		_ = fs.Remove(tmpPath)
		return errors.WithContext(err, "write")
	}
	return nil
}

// Remove removes `path`, treating a path that's already gone as success.
func Remove(fs afero.Fs, path string) error {
	if err := fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// RemoveAll removes `path` and any children, treating a path that's already
// gone as success.
func RemoveAll(fs afero.Fs, path string) error {
	if err := fs.RemoveAll(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

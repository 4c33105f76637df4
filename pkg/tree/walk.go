package tree

import (
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// SkipDir can be returned by a WalkFunc to skip the children of the
// directory being visited.
var SkipDir = filepath.SkipDir

// Dir describes a single directory visited by Walk.
type Dir struct {
	// Path is the path of the directory on the file system.
	Path string

	// Tail is Path relative to the root of the walk. See Tail.
	Tail string

	// Subdirs and Files are the names of the directory's children, sorted.
	// Entries that are neither directories nor regular files are omitted.
	Subdirs []string
	Files   []string
}

// WalkFunc is called by Walk for each directory. If the directory couldn't be
// read, `err` is non-nil and `dir` only has its Path and Tail set. Returning
// a nil error in that case skips the directory, while returning an error
// aborts the walk.
type WalkFunc func(dir Dir, err error) error

// Tail returns `path` relative to `root`, keeping the leading separator. The
// root itself maps to the empty string, and its immediate children map to
// "/child" (using the OS separator). Tails computed for two different roots
// can be compared directly.
func Tail(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return ""
	}
	return string(filepath.Separator) + rel
}

// Join returns the path of `tail` under `root`.
func Join(root, tail string) string {
	if tail == "" {
		return filepath.Clean(root)
	}
	return filepath.Join(root, tail)
}

// Walk visits every directory under `root` in pre-order: a directory is
// visited before its children, and children are visited in name order. Each
// directory is visited exactly once. The file system is read while walking,
// so calling Walk again reflects any changes made in the meantime.
//
// If `root` doesn't exist, or isn't a directory, Walk returns an error
// without calling `fn`. The root may be a symbolic link to a directory, but
// links beneath it are neither followed nor listed.
func Walk(fs afero.Fs, root string, fn WalkFunc) error {
	root = filepath.Clean(root)
	info, err := fs.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &os.PathError{Op: "walk", Path: root, Err: errNotDir}
	}

	err = walk(fs, root, root, fn)
	if err == SkipDir {
		return nil
	}
	return err
}

func walk(fs afero.Fs, root, path string, fn WalkFunc) error {
	dir := Dir{Path: path, Tail: Tail(root, path)}

	entries, err := afero.ReadDir(fs, path)
	if err != nil {
		return fn(dir, err)
	}

	for _, entry := range entries {
		switch mode := entry.Mode(); {
		case mode.IsDir():
			dir.Subdirs = append(dir.Subdirs, entry.Name())
		case mode.IsRegular():
			dir.Files = append(dir.Files, entry.Name())
		}
	}

	if err := fn(dir, nil); err != nil {
		return err
	}

	for _, name := range dir.Subdirs {
		err := walk(fs, root, filepath.Join(path, name), fn)
		if err != nil && err != SkipDir {
			return err
		}
	}
	return nil
}

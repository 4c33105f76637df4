package tree

import (
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/treesync/pkg/errors"
)

var errNotDir = errors.New("not a directory")

// FileSize returns the size in bytes of the file at `path`. If the file
// vanished since it was discovered, the returned error satisfies
// os.IsNotExist.
func FileSize(fs afero.Fs, path string) (uint64, error) {
	info, err := fs.Stat(path)
	if err != nil {
		return 0, err
	}
	return uint64(info.Size()), nil
}

// TreeSize returns the sum of the sizes of all regular files under `root`.
// A root that doesn't exist has size 0. Files that disappear while the tree
// is being walked are ignored.
func TreeSize(fs afero.Fs, root string) (uint64, error) {
	var total uint64
	err := Walk(fs, root, func(dir Dir, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}

		for _, name := range dir.Files {
			size, err := FileSize(fs, filepath.Join(dir.Path, name))
			if err != nil {
				if os.IsNotExist(err) {
					log.WithField("path", filepath.Join(dir.Path, name)).Debug(
						"File vanished while measuring tree size")
					continue
				}
				return err
			}
			total += size
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	return total, nil
}

// SizesEqual is the equality used to decide whether a file or tree needs to
// be synced. Only the number of bytes is compared.
func SizesEqual(a, b uint64) bool {
	return a == b
}

// Comparator decides whether two files have the same contents.
type Comparator string

const (
	// CompareSize considers files equal if they have the same size.
	CompareSize Comparator = "size"

	// CompareModTime considers files equal if they have the same size and
	// modification time. Copies keep the modification time of their source.
	CompareModTime Comparator = "mtime"
)

// ParseComparator parses the `compare` configuration value. The empty
// string selects CompareSize.
func ParseComparator(s string) (Comparator, error) {
	switch Comparator(s) {
	case "", CompareSize:
		return CompareSize, nil
	case CompareModTime:
		return CompareModTime, nil
	default:
		return "", errors.New("unknown comparison mode %q (expected %q or %q)",
			s, CompareSize, CompareModTime)
	}
}

// QuickSkip returns whether equal tree sizes are enough to conclude that
// nothing changed.
func (c Comparator) QuickSkip() bool {
	return c != CompareModTime
}

// Equal returns whether the files at `a` and `b` are considered equal.
func (c Comparator) Equal(fs afero.Fs, a, b string) (bool, error) {
	aInfo, err := fs.Stat(a)
	if err != nil {
		return false, err
	}
	bInfo, err := fs.Stat(b)
	if err != nil {
		return false, err
	}

	if !SizesEqual(uint64(aInfo.Size()), uint64(bInfo.Size())) {
		return false, nil
	}
	if c != CompareModTime {
		return true, nil
	}
	return aInfo.ModTime().Equal(bInfo.ModTime()), nil
}

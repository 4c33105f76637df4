package tree

import (
	"encoding/json"
	"sort"

	"github.com/spf13/afero"
)

// FileSet is the set of file names in a directory.
type FileSet map[string]struct{}

// NewFileSet returns a FileSet containing `names`.
func NewFileSet(names ...string) FileSet {
	set := FileSet{}
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

// Has returns whether `name` is in the set.
func (set FileSet) Has(name string) bool {
	_, ok := set[name]
	return ok
}

// Names returns the names in the set, sorted.
func (set FileSet) Names() []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MarshalJSON encodes the set as a sorted list of names so that persisted
// manifests are stable.
func (set FileSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(set.Names())
}

// UnmarshalJSON decodes a list of names.
func (set *FileSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	*set = NewFileSet(names...)
	return nil
}

// Manifest maps the tail of every directory in a tree to the names of the
// files in it. Directories without files map to an empty set.
type Manifest map[string]FileSet

// BuildManifest walks `root` and records every directory in it.
func BuildManifest(fs afero.Fs, root string) (Manifest, error) {
	manifest := Manifest{}
	err := Walk(fs, root, func(dir Dir, err error) error {
		if err != nil {
			return err
		}
		manifest[dir.Tail] = NewFileSet(dir.Files...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return manifest, nil
}

// Has returns whether the directory `tail` is in the manifest.
func (manifest Manifest) Has(tail string) bool {
	_, ok := manifest[tail]
	return ok
}

// Files returns the files recorded for `tail`. It's safe to call on tails
// that aren't in the manifest.
func (manifest Manifest) Files(tail string) FileSet {
	return manifest[tail]
}

// Tails returns the directory tails in the manifest, sorted. Parents sort
// before their children.
func (manifest Manifest) Tails() []string {
	tails := make([]string, 0, len(manifest))
	for tail := range manifest {
		tails = append(tails, tail)
	}
	sort.Strings(tails)
	return tails
}

// Diff returns the directory tails that are in `manifest` but not in `prev`
// (added), and the ones in `prev` but not in `manifest` (removed).
func (manifest Manifest) Diff(prev Manifest) (added, removed []string) {
	for _, tail := range manifest.Tails() {
		if !prev.Has(tail) {
			added = append(added, tail)
		}
	}
	for _, tail := range prev.Tails() {
		if !manifest.Has(tail) {
			removed = append(removed, tail)
		}
	}
	return added, removed
}

// Clone returns a deep copy of the manifest.
func (manifest Manifest) Clone() Manifest {
	if manifest == nil {
		return nil
	}
	clone := make(Manifest, len(manifest))
	for tail, files := range manifest {
		filesCopy := make(FileSet, len(files))
		for name := range files {
			filesCopy[name] = struct{}{}
		}
		clone[tail] = filesCopy
	}
	return clone
}

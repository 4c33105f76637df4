// Package job defines the sync jobs run by treesync, the registry that
// holds the active jobs, and the on-disk format used to persist them between
// runs.
package job

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/sidkik/treesync/pkg/errors"
	"github.com/sidkik/treesync/pkg/tree"
)

// Job mirrors the Source directory onto the Target directory.
type Job struct {
	// Name is a display label. It isn't required to be unique.
	Name string

	// Source and Target are absolute, cleaned paths.
	Source string
	Target string

	// LastBackup is when the last snapshot of Target was taken. New jobs
	// start the clock when they're created.
	LastBackup time.Time

	// Manifest records the directories and files seen in Source during the
	// most recent complete walk. It's replaced as a whole after every walk.
	Manifest tree.Manifest
}

// New creates a job after checking that its paths are usable. A source that
// doesn't exist or isn't a directory results in an errors.InvalidSourceError.
func New(fs afero.Fs, name, source, target string, created time.Time) (*Job, error) {
	if source == "" {
		return nil, errors.MissingFieldError{Field: "source"}
	}
	if target == "" {
		return nil, errors.MissingFieldError{Field: "target"}
	}

	source, err := filepath.Abs(source)
	if err != nil {
		return nil, errors.WithContext(err, "resolve source")
	}
	target, err = filepath.Abs(target)
	if err != nil {
		return nil, errors.WithContext(err, "resolve target")
	}

	if name == "" {
		name = filepath.Base(source)
	}

	info, err := fs.Stat(source)
	switch {
	case os.IsNotExist(err):
		return nil, errors.InvalidSourceError{Job: name, Path: source, Reason: "it does not exist"}
	case err != nil:
		return nil, errors.InvalidSourceError{Job: name, Path: source, Reason: err.Error()}
	case !info.IsDir():
		return nil, errors.InvalidSourceError{Job: name, Path: source, Reason: "it is not a directory"}
	}

	if isWithin(source, target) {
		return nil, errors.InvalidSourceError{Job: name, Path: source,
			Reason: fmt.Sprintf("the target %q is inside of it", target)}
	}
	if isWithin(target, source) {
		return nil, errors.InvalidSourceError{Job: name, Path: source,
			Reason: fmt.Sprintf("it is inside of the target %q", target)}
	}

	return &Job{
		Name:       name,
		Source:     source,
		Target:     target,
		LastBackup: created,
	}, nil
}

// isWithin returns whether `path` is `dir` or one of its descendants.
func isWithin(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// SameTask returns whether `other` syncs the same directories under the same
// name.
func (j *Job) SameTask(other *Job) bool {
	return j.Name == other.Name && j.Source == other.Source && j.Target == other.Target
}

func (j *Job) String() string {
	return fmt.Sprintf("<%s> %s -> %s", j.Name, j.Source, j.Target)
}

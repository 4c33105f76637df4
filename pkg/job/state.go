package job

import (
	"time"

	"github.com/ghodss/yaml"
	goversion "github.com/hashicorp/go-version"
	"github.com/spf13/afero"

	"github.com/sidkik/treesync/pkg/errors"
	"github.com/sidkik/treesync/pkg/fsutil"
	"github.com/sidkik/treesync/pkg/tree"
)

// StateVersion is the version of the state file format written by this
// binary. Files written with the same major version can be read.
const StateVersion = "1.0.0"

var supportedStateVersions goversion.Constraints

func init() {
	var err error
	supportedStateVersions, err = goversion.NewConstraint(">= 1.0, < 2.0")
	if err != nil {
		panic(err)
	}
}

type stateFile struct {
	Version string     `json:"version"`
	Jobs    []jobState `json:"jobs"`
}

type jobState struct {
	Name       string        `json:"name"`
	Source     string        `json:"source"`
	Target     string        `json:"target"`
	LastBackup time.Time     `json:"lastBackup"`
	Manifest   tree.Manifest `json:"manifest,omitempty"`
}

// IncompatibleStateError is returned when the state file was written by an
// incompatible version of treesync.
type IncompatibleStateError struct {
	Path, Version string
}

func (err IncompatibleStateError) Error() string {
	return err.FriendlyMessage()
}

// FriendlyMessage implements the interface used by errors.GetPrintableMessage.
func (err IncompatibleStateError) FriendlyMessage() string {
	return "The state file " + err.Path + " was written by an incompatible " +
		"version of treesync (format " + err.Version + ", expected " +
		supportedStateVersions.String() + ").\n" +
		"Move it out of the way to start from a clean state."
}

// SaveState writes `jobs` to `path`. The file is replaced atomically, so a
// crash never leaves a truncated state file behind.
func SaveState(fs afero.Fs, path string, jobs []*Job) error {
	state := stateFile{Version: StateVersion}
	for _, j := range jobs {
		state.Jobs = append(state.Jobs, jobState{
			Name:       j.Name,
			Source:     j.Source,
			Target:     j.Target,
			LastBackup: j.LastBackup.UTC(),
			Manifest:   j.Manifest,
		})
	}

	data, err := yaml.Marshal(state)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	if err := fsutil.WriteFileAtomic(fs, path, data, 0600); err != nil {
		return errors.WithContext(err, "write state")
	}
	return nil
}

// LoadState reads the jobs saved at `path`. If the file doesn't exist, it
// returns an errors.FileNotFound.
func LoadState(fs afero.Fs, path string) ([]*Job, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if exists, _ := afero.Exists(fs, path); !exists {
			return nil, errors.FileNotFound{Path: path}
		}
		return nil, errors.WithContext(err, "read")
	}

	var state stateFile
	if err := yaml.Unmarshal(data, &state); err != nil {
		return nil, errors.WithContext(err, "parse")
	}

	version, err := goversion.NewVersion(state.Version)
	if err != nil || !supportedStateVersions.Check(version) {
		return nil, IncompatibleStateError{Path: path, Version: state.Version}
	}

	var jobs []*Job
	for _, s := range state.Jobs {
		jobs = append(jobs, &Job{
			Name:       s.Name,
			Source:     s.Source,
			Target:     s.Target,
			LastBackup: s.LastBackup,
			Manifest:   s.Manifest,
		})
	}
	return jobs, nil
}

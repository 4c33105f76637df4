package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/robfig/cron/v3"

	"github.com/sidkik/treesync/pkg/errors"
	"github.com/sidkik/treesync/pkg/job"
	"github.com/sidkik/treesync/pkg/tree"
)

const (
	// DefaultPath is the default path to the treesync config.
	DefaultPath = "~/.treesync.yaml"

	// SupportedVersion is the config version supported by the current
	// treesync binary.
	SupportedVersion = "v1alpha1"

	defaultStatePath      = "~/.treesync/state.yaml"
	defaultInterval       = 10 * time.Second
	defaultBackupInterval = 10 * time.Minute
	defaultRetain         = 5
	defaultLogMaxSizeMB   = 10
	defaultLogMaxBackups  = 3
)

// Config is the treesync configuration file.
type Config struct {
	Version string `json:"version"`

	// Interval is the time between two sync iterations.
	Interval Duration `json:"interval,omitempty"`

	// Compare selects how files are compared. See tree.Comparator.
	Compare tree.Comparator `json:"compare,omitempty"`

	// Parallel syncs the jobs of an iteration concurrently.
	Parallel bool `json:"parallel,omitempty"`

	// Watch starts an iteration early when a source changes.
	Watch bool `json:"watch,omitempty"`

	// State is the path where the job state is persisted.
	State string `json:"state,omitempty"`

	Backup Backup      `json:"backup,omitempty"`
	Log    Log         `json:"log,omitempty"`
	Jobs   []JobConfig `json:"jobs"`

	path string
}

// Backup configures the snapshots of the targets.
type Backup struct {
	Interval Duration `json:"interval,omitempty"`
	Retain   int      `json:"retain,omitempty"`

	// Schedule is a cron expression, such as "0 3 * * *". If it's set, it's
	// used instead of Interval.
	Schedule string `json:"schedule,omitempty"`
}

// GetSchedule parses the backup schedule. It returns nil if no schedule is
// set.
func (b Backup) GetSchedule() (cron.Schedule, error) {
	if b.Schedule == "" {
		return nil, nil
	}
	return cron.ParseStandard(b.Schedule)
}

// Log configures the optional log file.
type Log struct {
	File       string `json:"file,omitempty"`
	MaxSizeMB  int    `json:"maxSizeMB,omitempty"`
	MaxBackups int    `json:"maxBackups,omitempty"`
}

// JobConfig is the configuration of a single source/target pair.
type JobConfig struct {
	Name   string `json:"name,omitempty"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// Duration is a time.Duration that's written as a string, such as "10m", in
// the config file.
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.New("durations must be strings such as \"10m\"")
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// GetPath returns the path the config was parsed from.
func (c Config) GetPath() string {
	return c.path
}

// homedirExpand will be overridden in mock tests
var homedirExpand = homedir.Expand

// Parse parses the config at `path`. Unset fields get their default values,
// and paths are made absolute. Relative paths are evaluated relative to the
// directory containing the config.
func Parse(path string) (Config, error) {
	path, err := homedirExpand(path)
	if err != nil {
		return Config{}, errors.WithContext(err, "expand config path")
	}

	config := Config{
		Version:  SupportedVersion,
		Interval: Duration(defaultInterval),
		State:    defaultStatePath,
		Backup: Backup{
			Interval: Duration(defaultBackupInterval),
			Retain:   defaultRetain,
		},
		Log: Log{
			MaxSizeMB:  defaultLogMaxSizeMB,
			MaxBackups: defaultLogMaxBackups,
		},
	}
	if err := decodeFile(path, &config); err != nil {
		if _, ok := err.(errors.FileNotFound); ok {
			return Config{}, errors.NewFriendlyError("The treesync config "+
				"file doesn't exist at %q. Please create it, or choose a "+
				"different path with the --config flag.", path)
		}
		return Config{}, errors.WithContext(err, "parse")
	}
	config.path = path

	if err := config.validate(); err != nil {
		return Config{}, err
	}

	if err := config.resolvePaths(); err != nil {
		return Config{}, errors.WithContext(err, "resolve paths")
	}
	return config, nil
}

func (c *Config) validate() error {
	var err error
	c.Compare, err = tree.ParseComparator(string(c.Compare))
	if err != nil {
		return errors.NewFriendlyError("Invalid compare mode in %q: %s", c.path, err)
	}

	switch {
	case c.Interval <= 0:
		return errors.NewFriendlyError("The sync interval in %q must be positive.", c.path)
	case c.Backup.Interval <= 0:
		return errors.NewFriendlyError("The backup interval in %q must be positive.", c.path)
	case c.Backup.Retain < 1:
		return errors.NewFriendlyError("At least one backup must be retained, "+
			"but %q sets backup.retain to %d.", c.path, c.Backup.Retain)
	case len(c.Jobs) == 0:
		return errors.NewFriendlyError("No jobs are defined in %q.", c.path)
	}

	if _, err := c.Backup.GetSchedule(); err != nil {
		return errors.NewFriendlyError("Invalid backup schedule %q in %q: %s",
			c.Backup.Schedule, c.path, err)
	}

	for i, jc := range c.Jobs {
		if jc.Source == "" {
			return errors.WithContext(errors.MissingFieldError{Field: "source"},
				fmt.Sprintf("job %d", i+1))
		}
		if jc.Target == "" {
			return errors.WithContext(errors.MissingFieldError{Field: "target"},
				fmt.Sprintf("job %d", i+1))
		}
	}
	return nil
}

func (c *Config) resolvePaths() (err error) {
	dir := filepath.Dir(c.path)
	resolve := func(path *string) {
		if err != nil || *path == "" {
			return
		}

		var expanded string
		expanded, err = homedirExpand(*path)
		if err == nil && !filepath.IsAbs(expanded) {
			expanded = filepath.Join(dir, expanded)
		}
		*path = expanded
	}

	resolve(&c.State)
	resolve(&c.Log.File)
	for i := range c.Jobs {
		resolve(&c.Jobs[i].Source)
		resolve(&c.Jobs[i].Target)
	}
	return err
}

// BuildJobs validates the configured jobs and returns them. `now` is used as
// the time of their last backup. Job names are labels and may repeat.
func (c Config) BuildJobs(now time.Time) ([]*job.Job, error) {
	var jobs []*job.Job
	for _, jc := range c.Jobs {
		j, err := job.New(fs, jc.Name, jc.Source, jc.Target, now)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

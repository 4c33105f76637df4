package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/treesync/pkg/errors"
	"github.com/sidkik/treesync/pkg/tree"
)

func mockHomedir() {
	homedirExpand = func(path string) (string, error) {
		if strings.HasPrefix(path, "~") {
			return "/home/user" + strings.TrimPrefix(path, "~"), nil
		}
		return path, nil
	}
}

func TestParse(t *testing.T) {
	mockHomedir()

	tests := []struct {
		name      string
		config    string
		expConfig Config
		expError  string
	}{
		{
			name: "Defaults",
			config: `
version: v1alpha1
jobs:
- source: ~/docs
  target: /mnt/mirror/docs
`,
			expConfig: Config{
				Version:  SupportedVersion,
				Interval: Duration(10 * time.Second),
				Compare:  tree.CompareSize,
				State:    "/home/user/.treesync/state.yaml",
				Backup: Backup{
					Interval: Duration(10 * time.Minute),
					Retain:   5,
				},
				Log: Log{MaxSizeMB: 10, MaxBackups: 3},
				Jobs: []JobConfig{
					{Source: "/home/user/docs", Target: "/mnt/mirror/docs"},
				},
				path: "/home/user/.treesync.yaml",
			},
		},
		{
			name: "Everything set",
			config: `
version: v1alpha1
interval: 1m30s
compare: mtime
parallel: true
watch: true
state: state.yaml
backup:
  interval: 1h
  retain: 2
  schedule: "30 2 * * *"
log:
  file: logs/treesync.log
  maxSizeMB: 1
  maxBackups: 7
jobs:
- name: photos
  source: photos
  target: /mnt/photos
`,
			expConfig: Config{
				Version:  SupportedVersion,
				Interval: Duration(90 * time.Second),
				Compare:  tree.CompareModTime,
				Parallel: true,
				Watch:    true,
				State:    "/home/user/state.yaml",
				Backup: Backup{
					Interval: Duration(time.Hour),
					Retain:   2,
					Schedule: "30 2 * * *",
				},
				Log: Log{
					File:       "/home/user/logs/treesync.log",
					MaxSizeMB:  1,
					MaxBackups: 7,
				},
				Jobs: []JobConfig{
					{Name: "photos", Source: "/home/user/photos", Target: "/mnt/photos"},
				},
				path: "/home/user/.treesync.yaml",
			},
		},
		{
			name: "Wrong version",
			config: `
version: v0
jobs: []
`,
			expError: "Expected version",
		},
		{
			name: "Unknown field",
			config: `
version: v1alpha1
retain: 3
jobs:
- source: /a
  target: /b
`,
			expError: "could not be parsed",
		},
		{
			name: "Bad duration",
			config: `
version: v1alpha1
interval: 10
jobs:
- source: /a
  target: /b
`,
			expError: "Durations such as `interval`",
		},
		{
			name: "Bad compare mode",
			config: `
version: v1alpha1
compare: sha512
jobs:
- source: /a
  target: /b
`,
			expError: "Invalid compare mode",
		},
		{
			name: "No retained backups",
			config: `
version: v1alpha1
backup:
  retain: -1
jobs:
- source: /a
  target: /b
`,
			expError: "At least one backup",
		},
		{
			name: "Bad schedule",
			config: `
version: v1alpha1
backup:
  schedule: every day
jobs:
- source: /a
  target: /b
`,
			expError: "Invalid backup schedule",
		},
		{
			name: "No jobs",
			config: `
version: v1alpha1
`,
			expError: "No jobs",
		},
		{
			name: "Missing target",
			config: `
version: v1alpha1
jobs:
- source: /a
`,
			expError: "job 1: missing required field: target",
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			fs = afero.NewMemMapFs()
			require.NoError(t, afero.WriteFile(fs, "/home/user/.treesync.yaml",
				[]byte(test.config), 0644))

			config, err := Parse(DefaultPath)
			if test.expError != "" {
				require.Error(t, err)
				assert.Contains(t, errors.GetPrintableMessage(err), test.expError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expConfig, config)
		})
	}
}

func TestParseMissingFile(t *testing.T) {
	mockHomedir()
	fs = afero.NewMemMapFs()

	_, err := Parse("/etc/treesync.yaml")
	require.Error(t, err)
	assert.Contains(t, errors.GetPrintableMessage(err), "doesn't exist at \"/etc/treesync.yaml\"")
}

func TestBuildJobs(t *testing.T) {
	now := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name     string
		jobs     []JobConfig
		expNames []string
		expError error
	}{
		{
			name: "Names default to the source",
			jobs: []JobConfig{
				{Source: "/src/docs", Target: "/dst/docs"},
				{Name: "pics", Source: "/src/photos", Target: "/dst/photos"},
			},
			expNames: []string{"docs", "pics"},
		},
		{
			name: "Missing source",
			jobs: []JobConfig{
				{Source: "/src/missing", Target: "/dst/missing"},
			},
			expError: errors.InvalidSourceError{
				Job:    "missing",
				Path:   "/src/missing",
				Reason: "it does not exist",
			},
		},
		{
			name: "Duplicate names",
			jobs: []JobConfig{
				{Source: "/src/docs", Target: "/dst/a"},
				{Name: "docs", Source: "/src/photos", Target: "/dst/b"},
			},
			expNames: []string{"docs", "docs"},
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			fs = afero.NewMemMapFs()
			require.NoError(t, fs.MkdirAll("/src/docs", 0755))
			require.NoError(t, fs.MkdirAll("/src/photos", 0755))

			config := Config{Jobs: test.jobs, path: "/treesync.yaml"}
			jobs, err := config.BuildJobs(now)
			if test.expError != nil {
				assert.Equal(t, test.expError, err)
				return
			}
			require.NoError(t, err)

			var names []string
			for _, j := range jobs {
				names = append(names, j.Name)
				assert.Equal(t, now, j.LastBackup)
			}
			assert.Equal(t, test.expNames, names)
		})
	}
}

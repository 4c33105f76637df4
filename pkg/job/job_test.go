package job

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/treesync/pkg/errors"
	"github.com/sidkik/treesync/pkg/tree"
)

var created = time.Date(2020, 8, 9, 17, 1, 13, 0, time.UTC)

func p(path string) string {
	abs, err := filepath.Abs(filepath.FromSlash(path))
	if err != nil {
		panic(err)
	}
	return abs
}

func TestNew(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(p("/home/user/src"), 0755))
	require.NoError(t, afero.WriteFile(fs, p("/home/user/file"), []byte("f"), 0644))

	tests := []struct {
		name           string
		jobName        string
		source, target string
		exp            *Job
		expErr         error
	}{
		{
			name:    "Valid",
			jobName: "docs",
			source:  p("/home/user/src"),
			target:  p("/mnt/mirror"),
			exp: &Job{
				Name:       "docs",
				Source:     p("/home/user/src"),
				Target:     p("/mnt/mirror"),
				LastBackup: created,
			},
		},
		{
			name:   "DefaultName",
			source: p("/home/user/src/"),
			target: p("/mnt/mirror"),
			exp: &Job{
				Name:       "src",
				Source:     p("/home/user/src"),
				Target:     p("/mnt/mirror"),
				LastBackup: created,
			},
		},
		{
			name:    "MissingSource",
			jobName: "docs",
			source:  p("/home/user/missing"),
			target:  p("/mnt/mirror"),
			expErr: errors.InvalidSourceError{Job: "docs", Path: p("/home/user/missing"),
				Reason: "it does not exist"},
		},
		{
			name:    "SourceIsFile",
			jobName: "docs",
			source:  p("/home/user/file"),
			target:  p("/mnt/mirror"),
			expErr: errors.InvalidSourceError{Job: "docs", Path: p("/home/user/file"),
				Reason: "it is not a directory"},
		},
		{
			name:    "TargetInsideSource",
			jobName: "docs",
			source:  p("/home/user/src"),
			target:  p("/home/user/src/mirror"),
			expErr: errors.InvalidSourceError{Job: "docs", Path: p("/home/user/src"),
				Reason: `the target "` + p("/home/user/src/mirror") + `" is inside of it`},
		},
		{
			name:    "SourceInsideTarget",
			jobName: "docs",
			source:  p("/home/user/src"),
			target:  p("/home"),
			expErr: errors.InvalidSourceError{Job: "docs", Path: p("/home/user/src"),
				Reason: `it is inside of the target "` + p("/home") + `"`},
		},
		{
			name:    "MissingTarget",
			jobName: "docs",
			source:  p("/home/user/src"),
			expErr:  errors.MissingFieldError{Field: "target"},
		},
		{
			name:    "MissingSourceField",
			jobName: "docs",
			target:  p("/mnt/mirror"),
			expErr:  errors.MissingFieldError{Field: "source"},
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			j, err := New(fs, test.jobName, test.source, test.target, created)
			assert.Equal(t, test.expErr, err)
			assert.Equal(t, test.exp, j)
		})
	}
}

func TestSiblingIsNotWithin(t *testing.T) {
	assert.False(t, isWithin(p("/srv/src"), p("/srv/src-mirror")))
	assert.False(t, isWithin(p("/srv/src"), p("/srv")))
	assert.True(t, isWithin(p("/srv/src"), p("/srv/src")))
	assert.True(t, isWithin(p("/srv/src"), p("/srv/src/a/b")))
}

func TestRegistry(t *testing.T) {
	a := &Job{Name: "a"}
	b := &Job{Name: "b"}
	dup := &Job{Name: "a"}

	r := NewRegistry(a, b, a)
	assert.Equal(t, []*Job{a, b}, r.Jobs())

	// Jobs are identified by pointer, not by name.
	r.Add(dup)
	assert.Len(t, r.Jobs(), 3)

	found := r.Named("a")
	require.Len(t, found, 2)
	assert.True(t, found[0] == a)
	assert.True(t, found[1] == dup)

	assert.True(t, r.Remove(a))
	assert.False(t, r.Remove(a))
	assert.Equal(t, []*Job{b, dup}, r.Jobs())

	// Modifying the returned slice doesn't affect the registry.
	jobs := r.Jobs()
	jobs[0] = nil
	assert.Equal(t, []*Job{b, dup}, r.Jobs())

	assert.Empty(t, r.Named("missing"))
}

func TestRegistryRestore(t *testing.T) {
	configured := &Job{Name: "docs", Source: "/src", Target: "/tgt", LastBackup: created}
	moved := &Job{Name: "photos", Source: "/photos", Target: "/new-target", LastBackup: created}
	r := NewRegistry(configured, moved)

	lastBackup := created.Add(-time.Hour)
	saved := []*Job{
		{
			Name: "docs", Source: "/src", Target: "/tgt",
			LastBackup: lastBackup,
			Manifest:   tree.Manifest{"": tree.NewFileSet("a")},
		},
		{
			Name: "photos", Source: "/photos", Target: "/old-target",
			LastBackup: lastBackup,
			Manifest:   tree.Manifest{"": tree.NewFileSet("b")},
		},
	}

	assert.Equal(t, 1, r.Restore(saved))
	assert.Equal(t, lastBackup, configured.LastBackup)
	assert.Equal(t, tree.Manifest{"": tree.NewFileSet("a")}, configured.Manifest)
	assert.Equal(t, created, moved.LastBackup)
	assert.Nil(t, moved.Manifest)

	// The restored manifest isn't shared with the saved job.
	saved[0].Manifest[""]["c"] = struct{}{}
	assert.False(t, configured.Manifest[""].Has("c"))
}

func TestStateRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := p("/state/treesync.yaml")

	jobs := []*Job{
		{
			Name:       "docs",
			Source:     p("/src"),
			Target:     p("/tgt"),
			LastBackup: created,
			Manifest: tree.Manifest{
				"":                                   tree.NewFileSet("root.txt"),
				string(filepath.Separator) + "a":     tree.NewFileSet("x.txt", "y.txt"),
				string(filepath.Separator) + "empty": tree.NewFileSet(),
			},
		},
		{
			Name:       "fresh",
			Source:     p("/src2"),
			Target:     p("/tgt2"),
			LastBackup: created.Add(time.Minute),
		},
	}
	require.NoError(t, SaveState(fs, path, jobs))

	loaded, err := LoadState(fs, path)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	for i := range jobs {
		assert.Equal(t, jobs[i].Name, loaded[i].Name)
		assert.Equal(t, jobs[i].Source, loaded[i].Source)
		assert.Equal(t, jobs[i].Target, loaded[i].Target)
		assert.True(t, jobs[i].LastBackup.Equal(loaded[i].LastBackup))
		assert.Equal(t, len(jobs[i].Manifest), len(loaded[i].Manifest))
		for tail, files := range jobs[i].Manifest {
			assert.Equal(t, files, loaded[i].Manifest[tail])
		}
	}
}

func TestLoadStateErrors(t *testing.T) {
	fs := afero.NewMemMapFs()

	_, err := LoadState(fs, "/missing.yaml")
	assert.Equal(t, errors.FileNotFound{Path: "/missing.yaml"}, err)

	require.NoError(t, afero.WriteFile(fs, "/future.yaml", []byte("version: 2.1.0\njobs: []\n"), 0600))
	_, err = LoadState(fs, "/future.yaml")
	assert.Equal(t, IncompatibleStateError{Path: "/future.yaml", Version: "2.1.0"}, err)

	require.NoError(t, afero.WriteFile(fs, "/unversioned.yaml", []byte("jobs: []\n"), 0600))
	_, err = LoadState(fs, "/unversioned.yaml")
	assert.Equal(t, IncompatibleStateError{Path: "/unversioned.yaml", Version: ""}, err)

	require.NoError(t, afero.WriteFile(fs, "/garbage.yaml", []byte("jobs: {{"), 0600))
	_, err = LoadState(fs, "/garbage.yaml")
	assert.Error(t, err)
}

func TestLoadOlderMinorVersion(t *testing.T) {
	fs := afero.NewMemMapFs()
	state := "version: 1.0.0\n" +
		"jobs:\n" +
		"- name: docs\n" +
		"  source: /src\n" +
		"  target: /tgt\n" +
		"  lastBackup: \"2020-08-09T17:01:13Z\"\n"
	require.NoError(t, afero.WriteFile(fs, "/state.yaml", []byte(state), 0600))

	jobs, err := LoadState(fs, "/state.yaml")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "docs", jobs[0].Name)
	assert.True(t, created.Equal(jobs[0].LastBackup))
	assert.Nil(t, jobs[0].Manifest)
}

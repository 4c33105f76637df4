// Package backup takes timestamped snapshots of sync targets and enforces a
// bound on how many of them are kept.
package backup

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/treesync/pkg/errors"
	"github.com/sidkik/treesync/pkg/fsutil"
	"github.com/sidkik/treesync/pkg/job"
)

const (
	// TimestampLayout is the format of the timestamp in snapshot names. It
	// sorts lexicographically in chronological order.
	TimestampLayout = "2006-01-02T15-04-05.000000"

	// tmpPrefix marks snapshots that are still being written.
	tmpPrefix = ".tmp-"

	rootSuffix = "_backup"
)

// Snapshot is a complete copy of a job's target taken at a point in time.
type Snapshot struct {
	Name string
	Path string
	Time time.Time
}

// Result describes what a backup call did.
type Result struct {
	// Created is the snapshot that was taken, if any.
	Created *Snapshot

	// Pruned is the number of snapshots that were deleted.
	Pruned int
}

// Manager creates and prunes snapshots.
type Manager struct {
	// Interval is the minimum time between two snapshots of a job.
	Interval time.Duration

	// Retain is the maximum number of snapshots kept per job.
	Retain int

	// Schedule replaces Interval if it's set. A snapshot is due once the
	// first activation of the schedule after the previous snapshot has
	// passed.
	Schedule cron.Schedule

	fs    afero.Fs
	clock clockwork.Clock
}

// NewManager returns a Manager that takes a snapshot of a job at most every
// `interval`, and keeps at most `retain` of them.
func NewManager(fs afero.Fs, clock clockwork.Clock, interval time.Duration, retain int) *Manager {
	return &Manager{
		Interval: interval,
		Retain:   retain,
		fs:       fs,
		clock:    clock,
	}
}

// Root returns the directory containing the snapshots of `j`. It's a sibling
// of the target.
func Root(j *job.Job) string {
	return filepath.Join(filepath.Dir(j.Target), baseName(j)+rootSuffix)
}

// SnapshotName returns the name of a snapshot of `j` taken at `t`.
func SnapshotName(j *job.Job, t time.Time) string {
	return baseName(j) + " " + t.UTC().Format(TimestampLayout)
}

func baseName(j *job.Job) string {
	return filepath.Base(j.Target)
}

// MaybeBackup takes a snapshot of the target of `j` if the backup interval
// elapsed since the last one. Old snapshots are pruned whether or not a new
// one was taken.
func (m *Manager) MaybeBackup(ctx context.Context, j *job.Job) (Result, error) {
	return m.backup(ctx, j, m.Due(j))
}

// Due returns whether a new snapshot of `j` should be taken.
func (m *Manager) Due(j *job.Job) bool {
	if m.Schedule != nil {
		return !m.Schedule.Next(j.LastBackup).After(m.clock.Now())
	}
	return m.clock.Now().Sub(j.LastBackup) >= m.Interval
}

// Backup takes a snapshot of the target of `j` regardless of when the last
// one was taken, and then prunes.
func (m *Manager) Backup(ctx context.Context, j *job.Job) (Result, error) {
	return m.backup(ctx, j, true)
}

func (m *Manager) backup(ctx context.Context, j *job.Job, due bool) (res Result, err error) {
	root := Root(j)
	if err := m.fs.MkdirAll(root, 0755); err != nil {
		return Result{}, errors.WithContext(err, "make backup root")
	}

	if due {
		res.Created, err = m.snapshot(ctx, j, root)
	}

	pruned, pruneErr := m.Prune(ctx, root, baseName(j))
	res.Pruned = pruned
	if err == nil {
		err = pruneErr
	}
	return res, err
}

func (m *Manager) snapshot(ctx context.Context, j *job.Job, root string) (*Snapshot, error) {
	logger := log.WithField("job", j.Name)
	if _, err := m.fs.Stat(j.Target); err != nil {
		if os.IsNotExist(err) {
			logger.Info("Target doesn't exist yet. Skipping backup.")
			return nil, nil
		}
		return nil, errors.WithContext(err, "stat target")
	}

	now := m.clock.Now()
	name := SnapshotName(j, now)
	path := filepath.Join(root, name)
	if _, err := m.fs.Stat(path); err == nil {
		return nil, errors.New("snapshot %q already exists", path)
	}

	tmp := filepath.Join(root, tmpPrefix+name)
	if err := fsutil.CopyTree(ctx, m.fs, j.Target, tmp); err != nil {
		if rmErr := fsutil.RemoveAll(m.fs, tmp); rmErr != nil {
			logger.WithError(rmErr).WithField("path", tmp).Warn("Failed to clean up partial backup")
		}
		return nil, errors.WithContext(err, "copy target")
	}

	if err := m.fs.Rename(tmp, path); err != nil {
		return nil, errors.WithContext(err, "rename snapshot")
	}

	j.LastBackup = now
	logger.WithField("path", path).Info("Created backup")
	return &Snapshot{Name: name, Path: path, Time: now.UTC()}, nil
}

// Prune deletes the oldest snapshots named after `base` in `root` until at
// most `Retain` are left. Leftovers from interrupted snapshots are deleted as
// well. Snapshots that can't be deleted are logged and skipped, so the bound
// may be exceeded until a later call succeeds.
func (m *Manager) Prune(ctx context.Context, root, base string) (int, error) {
	entries, err := afero.ReadDir(m.fs, root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.WithContext(err, "list snapshots")
	}

	prefix := base + " "
	var snapshots, stale []string
	for _, entry := range entries {
		switch name := entry.Name(); {
		case strings.HasPrefix(name, prefix):
			snapshots = append(snapshots, name)
		case strings.HasPrefix(name, tmpPrefix+prefix):
			stale = append(stale, name)
		}
	}

	for _, name := range stale {
		// Failures are logged by remove, and retried on the next prune.
		_ = m.remove(ctx, filepath.Join(root, name))
	}

	sort.Strings(snapshots)
	var pruned int
	for i := 0; i < len(snapshots)-m.Retain; i++ {
		if err := ctx.Err(); err != nil {
			return pruned, err
		}

		path := filepath.Join(root, snapshots[i])
		if err := m.remove(ctx, path); err != nil {
			continue
		}
		log.WithField("path", path).Info("Pruned backup")
		pruned++
	}
	return pruned, nil
}

func (m *Manager) remove(ctx context.Context, path string) error {
	err := fsutil.Retry(ctx, "remove "+path, func() error {
		return fsutil.RemoveAll(m.fs, path)
	})
	if err != nil {
		log.WithError(err).WithField("path", path).Error("Failed to remove backup")
	}
	return err
}

// List returns the snapshots of `j`, oldest first.
func (m *Manager) List(j *job.Job) ([]Snapshot, error) {
	root := Root(j)
	entries, err := afero.ReadDir(m.fs, root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.WithContext(err, "list snapshots")
	}

	prefix := baseName(j) + " "
	var snapshots []Snapshot
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}

		// Snapshots with an unexpected name are still listed since Prune
		// counts them.
		ts, _ := time.Parse(TimestampLayout, strings.TrimPrefix(name, prefix))
		snapshots = append(snapshots, Snapshot{
			Name: name,
			Path: filepath.Join(root, name),
			Time: ts,
		})
	}
	return snapshots, nil
}

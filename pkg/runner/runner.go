// Package runner drives the sync and backup of every registered job on a
// fixed cadence.
package runner

import (
	"context"
	"fmt"
	"runtime/debug"
	gosync "sync"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/sidkik/treesync/pkg/backup"
	"github.com/sidkik/treesync/pkg/job"
	"github.com/sidkik/treesync/pkg/sync"
)

// DefaultInterval is the time between iterations if none is configured.
const DefaultInterval = 10 * time.Second

// Syncer mirrors the source of a job into its target.
type Syncer interface {
	Sync(context.Context, *job.Job) (sync.Result, error)
}

// BackupTaker snapshots the target of a job when it's due.
type BackupTaker interface {
	MaybeBackup(context.Context, *job.Job) (backup.Result, error)
}

// StateSaver persists the jobs' state between iterations.
type StateSaver func([]*job.Job) error

// Options configures a Runner.
type Options struct {
	Registry *job.Registry
	Syncer   Syncer
	Backups  BackupTaker

	// Clock defaults to the real clock.
	Clock clockwork.Clock

	// Interval is the time between the end of an iteration and the start of
	// the next one.
	Interval time.Duration

	// Parallel processes the jobs of an iteration concurrently.
	Parallel bool

	// Save is called after each iteration if set.
	Save StateSaver

	// Wake starts the next iteration early when it receives.
	Wake <-chan struct{}
}

// Runner runs the jobs in its registry.
type Runner struct {
	Options
}

// New returns a Runner configured with `opts`.
func New(opts Options) *Runner {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	return &Runner{opts}
}

// RunForever runs iterations until `ctx` is cancelled. An iteration that's
// in progress when `ctx` is cancelled stops at the next entry.
func (r *Runner) RunForever(ctx context.Context) error {
	for {
		r.RunOnce(ctx)
		r.save()

		if err := ctx.Err(); err != nil {
			return err
		}

		select {
		case <-r.Clock.After(r.Interval):
		case <-r.Wake:
			log.Debug("Woken up early by a change in a source")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunOnce syncs and backs up every job once. The failure of a job doesn't
// prevent the others from running.
func (r *Runner) RunOnce(ctx context.Context) {
	jobs := r.Registry.Jobs()
	if !r.Parallel {
		for _, j := range jobs {
			if ctx.Err() != nil {
				return
			}
			r.runJob(ctx, j)
		}
		return
	}

	var wg gosync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func(j *job.Job) {
			defer wg.Done()
			r.runJob(ctx, j)
		}(j)
	}
	wg.Wait()
}

func (r *Runner) runJob(ctx context.Context, j *job.Job) {
	logger := log.WithField("job", j.Name)
	defer func() {
		if p := recover(); p != nil {
			logger.WithError(fmt.Errorf("%v", p)).
				WithField("stack", string(debug.Stack())).
				Error("Job panicked")
		}
	}()

	logger.WithFields(log.Fields{
		"source": j.Source,
		"target": j.Target,
	}).Debug("Processing job")

	if _, err := r.Syncer.Sync(ctx, j); err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.WithError(err).Error("Sync failed")
	}

	if _, err := r.Backups.MaybeBackup(ctx, j); err != nil && ctx.Err() == nil {
		logger.WithError(err).Error("Backup failed")
	}
}

func (r *Runner) save() {
	if r.Save == nil {
		return
	}

	if err := r.Save(r.Registry.Jobs()); err != nil {
		log.WithError(err).Warn("Failed to save state")
	}
}

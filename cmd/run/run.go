package run

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sidkik/treesync/cmd/util"
	"github.com/sidkik/treesync/pkg/backup"
	"github.com/sidkik/treesync/pkg/config"
	"github.com/sidkik/treesync/pkg/errors"
	"github.com/sidkik/treesync/pkg/fswatch"
	"github.com/sidkik/treesync/pkg/job"
	"github.com/sidkik/treesync/pkg/runner"
	"github.com/sidkik/treesync/pkg/sync"
)

// New creates a new `run` command.
func New() *cobra.Command {
	var configPath string
	var once bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Keep the configured targets in sync with their sources",
		Long: "Sync every configured job, back up the targets, and repeat on the\n" +
			"configured interval until interrupted.",
		Run: func(_ *cobra.Command, _ []string) {
			if err := run(configPath, once); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	util.AddConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&once, "once", false, "Run a single iteration and exit")
	return cmd
}

func run(configPath string, once bool) error {
	clock := clockwork.NewRealClock()
	cfg, registry, err := util.LoadRegistry(configPath, clock.Now())
	if err != nil {
		return err
	}

	if logFile := util.SetupLogFile(cfg.Log); logFile != nil {
		defer logFile.Close()
	}

	ctx, cancel := signalContext()
	defer cancel()

	r, err := newRunner(ctx, cfg, registry, clock, once)
	if err != nil {
		return err
	}

	for _, j := range registry.Jobs() {
		log.WithField("job", j.Name).Infof("Mirroring %s to %s", j.Source, j.Target)
	}

	if once {
		r.RunOnce(ctx)
		return r.Save(registry.Jobs())
	}

	if err := r.RunForever(ctx); err != context.Canceled {
		return err
	}
	log.Info("Shutting down")
	return nil
}

func newRunner(ctx context.Context, cfg config.Config, registry *job.Registry,
	clock clockwork.Clock, once bool) (*runner.Runner, error) {
	fs := afero.NewOsFs()

	backups := backup.NewManager(fs, clock,
		time.Duration(cfg.Backup.Interval), cfg.Backup.Retain)
	schedule, err := cfg.Backup.GetSchedule()
	if err != nil {
		return nil, errors.WithContext(err, "parse backup schedule")
	}
	backups.Schedule = schedule

	opts := runner.Options{
		Registry: registry,
		Syncer:   sync.NewEngine(fs, cfg.Compare),
		Backups:  backups,
		Clock:    clock,
		Interval: time.Duration(cfg.Interval),
		Parallel: cfg.Parallel,
		Save: func(jobs []*job.Job) error {
			return util.SaveState(cfg, jobs)
		},
	}

	if cfg.Watch && !once {
		opts.Wake, err = watchSources(ctx, registry)
		if err != nil {
			return nil, err
		}
	}
	return runner.New(opts), nil
}

// watchSources returns a channel that receives when a source changes. If
// there are too many files to watch, it returns a nil channel, and changes
// are only picked up by the periodic sync.
func watchSources(ctx context.Context, registry *job.Registry) (<-chan struct{}, error) {
	var sources []string
	for _, j := range registry.Jobs() {
		sources = append(sources, j.Source)
	}

	changes, err := fswatch.Watch(ctx, sources)
	if err == nil {
		return changes, nil
	}

	rootCause := errors.RootCause(err)
	if dneErr, ok := rootCause.(errors.FileNotFound); ok {
		return nil, errors.NewFriendlyError(
			"Failed to watch files for syncing.\n%q doesn't exist.", dneErr.Path)
	}

	if errors.Is(rootCause, syscall.EMFILE) || errors.Is(rootCause, syscall.ENOSPC) ||
		strings.Contains(rootCause.Error(), "too many open files") {
		log.WithError(err).Warn("Too many files for treesync to automatically " +
			"watch for changes. Changes will be picked up on the regular " +
			"sync interval instead.")
		return nil, nil
	}
	return nil, errors.WithContext(err, "watch sources")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

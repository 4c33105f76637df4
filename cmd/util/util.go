package util

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sidkik/treesync/pkg/config"
	"github.com/sidkik/treesync/pkg/errors"
	"github.com/sidkik/treesync/pkg/job"
)

var fs = afero.NewOsFs()

// HandleFatalError handles errors that are severe enough to terminate the
// program.
func HandleFatalError(err error) {
	log.WithError(err).Debug("Fatal error")
	fmt.Fprintln(os.Stderr, errors.GetPrintableMessage(err))
	os.Exit(1)
}

// HandlePanic logs the panic that's unwinding the stack, if any, and exits.
// It must be deferred directly.
func HandlePanic() {
	if r := recover(); r != nil {
		log.WithField("stack", string(debug.Stack())).Errorf("Unexpected panic: %v", r)
		os.Exit(1)
	}
}

// AddConfigFlag adds the --config flag to `cmd`.
func AddConfigFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVarP(path, "config", "c", config.DefaultPath,
		"The path to the treesync configuration file")
}

// SetupLogFile copies the log output into the rotated file configured in
// `cfg`. The returned closer is nil if no file is configured.
func SetupLogFile(cfg config.Log) io.Closer {
	if cfg.File == "" {
		return nil
	}

	logFile := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, logFile))
	return logFile
}

// LoadRegistry parses the config at `path` and returns a registry containing
// the configured jobs. The state saved by a previous run is restored into the
// jobs that are still configured.
func LoadRegistry(path string, now time.Time) (config.Config, *job.Registry, error) {
	cfg, err := config.Parse(path)
	if err != nil {
		return config.Config{}, nil, err
	}

	jobs, err := cfg.BuildJobs(now)
	if err != nil {
		return config.Config{}, nil, err
	}
	registry := job.NewRegistry(jobs...)

	saved, err := job.LoadState(fs, cfg.State)
	switch err.(type) {
	case nil:
		restored := registry.Restore(saved)
		log.WithField("path", cfg.State).Debugf("Restored the state of %d jobs", restored)
	case errors.FileNotFound:
		log.WithField("path", cfg.State).Debug("No saved state. Starting from scratch.")
	default:
		return config.Config{}, nil, errors.WithContext(err, "load state")
	}
	return cfg, registry, nil
}

// SaveState writes the state of `jobs` to the path configured in `cfg`.
func SaveState(cfg config.Config, jobs []*job.Job) error {
	return job.SaveState(fs, cfg.State, jobs)
}

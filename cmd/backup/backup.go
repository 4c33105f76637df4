package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sidkik/treesync/cmd/util"
	"github.com/sidkik/treesync/pkg/backup"
	"github.com/sidkik/treesync/pkg/errors"
	"github.com/sidkik/treesync/pkg/job"
)

// New creates a new `backup` command.
func New() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "backup JOB",
		Short: "Take a backup of a job's target now",
		Long: "Take a snapshot of the target of the given job, regardless of when\n" +
			"the last one was taken. Old snapshots are pruned afterwards.\n\n" +
			"The state file belongs to `treesync run` and isn't modified, so this\n" +
			"snapshot doesn't reset the schedule of the running daemon.",
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := run(cmd.OutOrStdout(), configPath, args[0]); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	util.AddConfigFlag(cmd, &configPath)
	return cmd
}

func run(out io.Writer, configPath, name string) error {
	clock := clockwork.NewRealClock()
	cfg, registry, err := util.LoadRegistry(configPath, clock.Now())
	if err != nil {
		return err
	}

	j, err := findJob(registry, name)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	manager := backup.NewManager(afero.NewOsFs(), clock,
		time.Duration(cfg.Backup.Interval), cfg.Backup.Retain)
	res, err := manager.Backup(ctx, j)
	if err != nil {
		return errors.WithContext(err, "back up")
	}

	if res.Created == nil {
		fmt.Fprintf(out, "The target %s doesn't exist yet, so there's nothing to back up.\n", j.Target)
	} else {
		fmt.Fprintf(out, "Created %s\n", res.Created.Path)
	}
	if res.Pruned > 0 {
		fmt.Fprintf(out, "Pruned %d old backups\n", res.Pruned)
	}
	return nil
}

func findJob(registry *job.Registry, name string) (*job.Job, error) {
	switch matches := registry.Named(name); len(matches) {
	case 0:
	case 1:
		return matches[0], nil
	default:
		var jobs []string
		for _, j := range matches {
			jobs = append(jobs, "  "+j.String())
		}
		return nil, errors.NewFriendlyError("The name %q is ambiguous, it matches %d jobs:\n%s\n"+
			"Give them distinct names in the config to back them up individually.",
			name, len(matches), strings.Join(jobs, "\n"))
	}

	var names []string
	seen := map[string]bool{}
	for _, j := range registry.Jobs() {
		if !seen[j.Name] {
			seen[j.Name] = true
			names = append(names, j.Name)
		}
	}
	sort.Strings(names)
	return nil, errors.NewFriendlyError("There's no job named %q.\n"+
		"The configured jobs are: %s", name, strings.Join(names, ", "))
}

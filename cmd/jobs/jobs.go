package jobs

import (
	"fmt"
	"io"
	"time"

	"github.com/buger/goterm"
	"github.com/dustin/go-humanize"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sidkik/treesync/cmd/util"
	"github.com/sidkik/treesync/pkg/backup"
	"github.com/sidkik/treesync/pkg/errors"
	"github.com/sidkik/treesync/pkg/job"
	"github.com/sidkik/treesync/pkg/tree"
)

// New creates a new `jobs` command.
func New() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List the configured jobs and the state of their mirrors",
		Run: func(cmd *cobra.Command, _ []string) {
			if err := run(cmd.OutOrStdout(), configPath); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	util.AddConfigFlag(cmd, &configPath)
	return cmd
}

type jobStatus struct {
	name      string
	source    string
	target    string
	size      uint64
	synced    bool
	snapshots []backup.Snapshot
}

func run(out io.Writer, configPath string) error {
	clock := clockwork.NewRealClock()
	cfg, registry, err := util.LoadRegistry(configPath, clock.Now())
	if err != nil {
		return err
	}

	fs := afero.NewOsFs()
	backups := backup.NewManager(fs, clock,
		time.Duration(cfg.Backup.Interval), cfg.Backup.Retain)

	var statuses []jobStatus
	for _, j := range registry.Jobs() {
		status, err := getStatus(fs, backups, j)
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("get status of %s", j.Name))
		}
		statuses = append(statuses, status)
	}

	printStatuses(out, statuses, clock.Now())
	return nil
}

func getStatus(fs afero.Fs, backups *backup.Manager, j *job.Job) (jobStatus, error) {
	status := jobStatus{
		name:   j.Name,
		source: j.Source,
		target: j.Target,
		synced: j.Manifest != nil,
	}

	var err error
	status.size, err = tree.TreeSize(fs, j.Target)
	if err != nil {
		return jobStatus{}, errors.WithContext(err, "measure target")
	}

	status.snapshots, err = backups.List(j)
	if err != nil {
		return jobStatus{}, errors.WithContext(err, "list backups")
	}
	return status, nil
}

func printStatuses(out io.Writer, statuses []jobStatus, now time.Time) {
	table := goterm.NewTable(0, 10, 3, ' ', 0)
	fmt.Fprintln(table, "NAME\tSOURCE\tTARGET\tSIZE\tBACKUPS\tLAST BACKUP\tSTATUS")
	for _, status := range statuses {
		lastBackup := "never"
		if n := len(status.snapshots); n > 0 && !status.snapshots[n-1].Time.IsZero() {
			lastBackup = humanize.RelTime(status.snapshots[n-1].Time, now, "ago", "from now")
		}

		fmt.Fprintf(table, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			status.name, status.source, status.target,
			humanize.Bytes(status.size), len(status.snapshots), lastBackup,
			colorize(status))
	}
	fmt.Fprint(out, table.String())
}

func colorize(status jobStatus) string {
	switch {
	case !status.synced:
		return goterm.Color("not synced yet", goterm.YELLOW)
	case len(status.snapshots) == 0:
		return goterm.Color("no backups", goterm.YELLOW)
	default:
		return goterm.Color("ok", goterm.GREEN)
	}
}

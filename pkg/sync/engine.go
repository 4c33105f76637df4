package sync

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/treesync/pkg/errors"
	"github.com/sidkik/treesync/pkg/fsutil"
	"github.com/sidkik/treesync/pkg/job"
	"github.com/sidkik/treesync/pkg/tree"
)

// Result summarizes the actions taken by a sync pass.
type Result struct {
	// Skipped is true if the source and target were found to be equal
	// without walking them.
	Skipped bool

	DirsCreated  int
	FilesCopied  int
	FilesRemoved int
	DirsRemoved  int

	// Errors is the number of entries that couldn't be synced.
	Errors int
}

// Changed returns whether the pass modified the target.
func (r Result) Changed() bool {
	return r.DirsCreated+r.FilesCopied+r.FilesRemoved+r.DirsRemoved > 0
}

// Engine runs sync passes.
type Engine struct {
	fs      afero.Fs
	compare tree.Comparator
}

// NewEngine returns an Engine that accesses files through `fs` and decides
// whether files differ with `compare`.
func NewEngine(fs afero.Fs, compare tree.Comparator) *Engine {
	return &Engine{fs: fs, compare: compare}
}

// pass holds the state of a single sync pass.
type pass struct {
	*Engine
	ctx context.Context
	job *job.Job
	log log.FieldLogger

	// manifest is built during the source walk and replaces the job's
	// manifest once the walk completes.
	manifest tree.Manifest

	// incomplete contains the tails of source directories whose target
	// couldn't be examined. Cleaning leaves them alone.
	incomplete map[string]struct{}

	result Result
}

// Sync makes the target of `j` mirror its source.
//
// Errors on individual entries are logged and counted in the result rather
// than returned. An error is returned only if the source can't be read at
// all, or if `ctx` is cancelled. If the walk of the source doesn't complete,
// the target is not cleaned and the job's manifest is left unchanged.
func (e *Engine) Sync(ctx context.Context, j *job.Job) (Result, error) {
	p := &pass{
		Engine:     e,
		ctx:        ctx,
		job:        j,
		log:        log.WithField("job", j.Name),
		manifest:   tree.Manifest{},
		incomplete: map[string]struct{}{},
	}

	if e.compare.QuickSkip() {
		unchanged, err := p.probeTotals()
		if err != nil {
			return Result{}, err
		}
		if unchanged {
			p.log.Info("No change detected")
			return Result{Skipped: true}, nil
		}
	}

	if err := tree.Walk(e.fs, j.Source, p.visitSource); err != nil {
		return p.result, errors.WithContext(err, "walk source")
	}

	prev := j.Manifest
	j.Manifest = p.manifest

	err := p.clean(prev)
	if p.result.Changed() || p.result.Errors > 0 {
		p.log.WithFields(log.Fields{
			"dirsCreated":  p.result.DirsCreated,
			"filesCopied":  p.result.FilesCopied,
			"filesRemoved": p.result.FilesRemoved,
			"dirsRemoved":  p.result.DirsRemoved,
			"errors":       p.result.Errors,
		}).Info("Synced")
	}
	return p.result, err
}

// probeTotals returns whether the source and target trees have the same
// total size.
func (p *pass) probeTotals() (bool, error) {
	srcSize, err := tree.TreeSize(p.fs, p.job.Source)
	if err != nil {
		return false, errors.WithContext(err, "measure source")
	}

	tgtSize, err := tree.TreeSize(p.fs, p.job.Target)
	if err != nil {
		return false, errors.WithContext(err, "measure target")
	}

	p.log.WithFields(log.Fields{
		"sourceBytes": srcSize,
		"targetBytes": tgtSize,
	}).Debug("Probed tree sizes")
	return tree.SizesEqual(srcSize, tgtSize), nil
}

func (p *pass) visitSource(dir tree.Dir, err error) error {
	if err != nil {
		if os.IsNotExist(err) {
			p.log.WithField("path", dir.Path).Debug("Source directory vanished during walk")
			return nil
		}
		p.fail(err, "read directory", dir.Path)
		p.incomplete[dir.Tail] = struct{}{}
		return nil
	}

	if err := p.ctx.Err(); err != nil {
		return err
	}

	target := tree.Join(p.job.Target, dir.Tail)
	if err := p.ensureDir(target, dir.Tail == ""); err != nil {
		p.fail(err, "create directory", target)
		p.incomplete[dir.Tail] = struct{}{}
		return tree.SkipDir
	}

	files := tree.NewFileSet(dir.Files...)
	p.manifest[dir.Tail] = files

	for _, name := range dir.Files {
		if err := p.ctx.Err(); err != nil {
			return err
		}

		if vanished := p.syncFile(filepath.Join(dir.Path, name), filepath.Join(target, name)); vanished {
			delete(files, name)
		}
	}
	return nil
}

// ensureDir creates the directory `path` if it doesn't exist. A file that's
// in the way is removed. The target root is allowed to be a link to a
// directory.
func (p *pass) ensureDir(path string, isRoot bool) error {
	stat := lstat
	if isRoot {
		stat = afero.Fs.Stat
	}

	info, err := stat(p.fs, path)
	switch {
	case err == nil && info.IsDir():
		return nil
	case err == nil:
		if err := fsutil.Remove(p.fs, path); err != nil {
			return errors.WithContext(err, "remove file in the way")
		}
		p.log.WithField("path", path).Info("Removed file in place of directory")
		p.result.FilesRemoved++
	case !os.IsNotExist(err):
		return err
	}

	if err := p.fs.MkdirAll(path, 0755); err != nil {
		return err
	}
	p.log.WithField("path", path).Info("Created directory")
	p.result.DirsCreated++
	return nil
}

// syncFile copies `src` to `dst` if needed. It returns true if `src` no
// longer exists.
func (p *pass) syncFile(src, dst string) (vanished bool) {
	info, err := lstat(p.fs, dst)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		p.fail(err, "stat", dst)
		return false
	case info.IsDir():
		if err := fsutil.RemoveAll(p.fs, dst); err != nil {
			p.fail(err, "remove directory in the way", dst)
			return false
		}
		p.log.WithField("path", dst).Info("Removed directory in place of file")
		p.result.DirsRemoved++
	case !info.Mode().IsRegular():
		if err := fsutil.Remove(p.fs, dst); err != nil {
			p.fail(err, "remove", dst)
			return false
		}
	default:
		equal, err := p.compare.Equal(p.fs, src, dst)
		if err != nil {
			if isVanished(err) {
				p.log.WithField("path", src).Debug("File vanished before it could be compared")
				return true
			}
			p.fail(err, "compare", src)
			return false
		}
		if equal {
			return false
		}
	}

	if err := fsutil.CopyFile(p.fs, src, dst); err != nil {
		switch {
		case isVanished(err):
			p.log.WithField("path", src).Debug("File vanished before it could be copied")
			return true
		case errors.RootCause(err) == errors.ErrSourceChanged:
			p.log.WithField("path", src).Warn(
				"File changed while it was being copied. It will be copied on the next pass.")
		default:
			p.fail(err, "copy", src)
		}
		return false
	}

	p.log.WithFields(log.Fields{"src": src, "dst": dst}).Info("Copied file")
	p.result.FilesCopied++
	return false
}

// clean removes the target directories and files that weren't seen in the
// source walk.
func (p *pass) clean(prev tree.Manifest) error {
	_, removed := p.manifest.Diff(prev)
	for _, tail := range removed {
		if p.isIncomplete(tail) {
			continue
		}
		p.removeDir(tree.Join(p.job.Target, tail))
	}

	err := tree.Walk(p.fs, p.job.Target, p.visitTarget)
	if err != nil && !os.IsNotExist(err) {
		if err == p.ctx.Err() {
			return err
		}
		return errors.WithContext(err, "walk target")
	}
	return nil
}

func (p *pass) visitTarget(dir tree.Dir, err error) error {
	if err != nil {
		if !os.IsNotExist(err) {
			p.fail(err, "read directory", dir.Path)
		}
		return nil
	}

	if err := p.ctx.Err(); err != nil {
		return err
	}

	if p.isIncomplete(dir.Tail) {
		return tree.SkipDir
	}

	if !p.manifest.Has(dir.Tail) {
		p.removeDir(dir.Path)
		return tree.SkipDir
	}

	files := p.manifest.Files(dir.Tail)
	for _, name := range dir.Files {
		if files.Has(name) {
			continue
		}

		// A file whose name matches a directory that couldn't be created
		// belongs to an incomplete subtree.
		if p.isIncomplete(dir.Tail + string(filepath.Separator) + name) {
			continue
		}

		path := filepath.Join(dir.Path, name)
		if err := fsutil.Remove(p.fs, path); err != nil {
			p.fail(err, "remove", path)
			continue
		}
		p.log.WithField("path", path).Info("Removed file")
		p.result.FilesRemoved++
	}
	return nil
}

func (p *pass) removeDir(path string) {
	if _, err := lstat(p.fs, path); os.IsNotExist(err) {
		return
	}

	if err := fsutil.RemoveAll(p.fs, path); err != nil {
		p.fail(err, "remove directory", path)
		return
	}
	p.log.WithField("path", path).Info("Removed directory")
	p.result.DirsRemoved++
}

// isIncomplete returns whether `tail` is, or is beneath, a directory that
// couldn't be synced.
func (p *pass) isIncomplete(tail string) bool {
	for incomplete := range p.incomplete {
		if tail == incomplete ||
			strings.HasPrefix(tail, incomplete+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (p *pass) fail(err error, op, path string) {
	p.log.WithError(err).WithFields(log.Fields{
		"op":   op,
		"path": path,
	}).Error("Failed to sync entry. Skipping it.")
	p.result.Errors++
}

func isVanished(err error) bool {
	return os.IsNotExist(errors.RootCause(err))
}

func lstat(fs afero.Fs, path string) (os.FileInfo, error) {
	if lstater, ok := fs.(afero.Lstater); ok {
		info, _, err := lstater.LstatIfPossible(path)
		return info, err
	}
	return fs.Stat(path)
}

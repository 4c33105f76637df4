package fswatch

import (
	"context"
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/treesync/pkg/errors"
)

var fs = afero.NewOsFs()

// Watch watches for changes in the directory trees rooted at `roots`. It
// sends an event on the returned channel whenever a file or directory within
// them changes. Bursts of changes are combined into a single event.
// Directories created after the watch starts are watched as well. The
// watcher is closed when `ctx` is cancelled.
func Watch(ctx context.Context, roots []string) (<-chan struct{}, error) {
	pathsToWatch, err := getPathsToWatch(roots)
	if err != nil {
		return nil, errors.WithContext(err, "get paths")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.WithContext(err, "create watcher")
	}

	for _, path := range pathsToWatch {
		if err := watcher.Add(path); err != nil {
			// Close the watcher so that we release the file handlers for the
			// previously added paths.
			if err := watcher.Close(); err != nil {
				log.WithError(err).Warn("Failed to close file watcher")
			}

			return nil, errors.WithContext(err, fmt.Sprintf("watch %q", path))
		}
	}

	updates := make(chan fsnotify.Event)
	go forwardEvents(ctx, watcher, updates)
	return combineUpdates(updates), nil
}

// forwardEvents sends the events of `watcher` to `updates` until `ctx` is
// cancelled.
func forwardEvents(ctx context.Context, watcher *fsnotify.Watcher, updates chan<- fsnotify.Event) {
	defer close(updates)
	defer func() {
		if err := watcher.Close(); err != nil {
			log.WithError(err).Warn("Failed to close file watcher")
		}
	}()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			// fsnotify doesn't watch directories recursively, so new
			// directories have to be added explicitly.
			if event.Op&fsnotify.Create == fsnotify.Create {
				watchNewDir(watcher, event.Name)
			}

			select {
			case updates <- event:
			case <-ctx.Done():
				return
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("File watcher error")
		case <-ctx.Done():
			return
		}
	}
}

func watchNewDir(watcher *fsnotify.Watcher, path string) {
	fi, err := fs.Stat(path)
	if err != nil || !fi.IsDir() {
		return
	}

	dirs, err := getDirs(path)
	if err != nil {
		log.WithError(err).WithField("path", path).Debug("Failed to list new directory")
	}
	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			log.WithError(err).WithField("path", dir).Warn("Failed to watch new directory")
		}
	}
}

func combineUpdates(updates <-chan fsnotify.Event) chan struct{} {
	combined := make(chan struct{}, 1)
	go func() {
		for range updates {
			select {
			case combined <- struct{}{}:
			default:
			}
		}
	}()
	return combined
}

func getPathsToWatch(roots []string) (paths []string, err error) {
	for _, root := range roots {
		fi, err := fs.Stat(root)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errors.FileNotFound{Path: root}
			}
			return nil, errors.WithContext(err, "stat")
		}

		if !fi.IsDir() {
			return nil, errors.New("%q is not a directory", root)
		}

		dirs, err := getDirs(root)
		if err != nil {
			return nil, errors.WithContext(err, "get subdirs")
		}
		paths = append(paths, dirs...)
	}
	return paths, nil
}

// getDirs returns `root` and all the directories beneath it. Changes to
// files are reported through the watch on their parent directory.
func getDirs(root string) (dirs []string, err error) {
	err = afero.Walk(fs, root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return errors.WithContext(err, "walk error")
		}

		if fi.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	return dirs, err
}

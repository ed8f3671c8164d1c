package ops

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cairn.dev/cairn/pkg/config"
	"github.com/fsnotify/fsnotify"
)

// RepoWatch keeps a repo's index current, rebuilding it whenever its
// scripts change on disk. Bursts of events collapse into one rebuild.
type RepoWatch struct {
	common

	Store  *config.Store
	Config *config.Config
}

const watchSettle = 500 * time.Millisecond

func (r *RepoWatch) addRecursive(w *fsnotify.Watcher, root string) {
	filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return nil
		}

		if !fi.IsDir() {
			return nil
		}

		name := fi.Name()

		if path != root && (name == "vendor" || strings.HasPrefix(name, ".")) {
			return filepath.SkipDir
		}

		if err := w.Add(path); err != nil {
			r.L().Warn("unable to watch directory", "path", path, "error", err)
		}

		return nil
	})
}

func (r *RepoWatch) rebuild(dir string) {
	// a fresh loader per pass, or edits would be shadowed by the
	// load cache
	loader := &ScriptLoad{Store: r.Store, Config: r.Config}
	loader.common = r.common

	var rwi RepoWriteIndex
	rwi.common = r.common
	rwi.Loader = loader

	idx, err := rwi.Write(dir)
	if err != nil {
		r.L().Error("rebuilding repo index", "dir", dir, "error", err)
		return
	}

	r.L().Info("rebuilt repo index", "dir", dir, "entries", len(idx.Entries))
}

func (r *RepoWatch) Watch(ctx context.Context, dir string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	defer w.Close()

	r.addRecursive(w, dir)

	r.rebuild(dir)

	settle := time.NewTimer(watchSettle)

	if !settle.Stop() {
		<-settle.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			// our own index writes would loop forever
			if filepath.Base(ev.Name) == indexFile {
				continue
			}

			if ev.Op&fsnotify.Create != 0 {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					r.addRecursive(w, ev.Name)
				}
			}

			settle.Reset(watchSettle)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}

			r.L().Error("repo watch error", "error", err)
		case <-settle.C:
			r.rebuild(dir)
		}
	}
}

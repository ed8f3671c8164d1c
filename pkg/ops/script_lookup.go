package ops

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"cairn.dev/cairn/pkg/repo"
	"github.com/pkg/errors"
)

// ScriptLookup finds the repo entry for a package name, searching the
// configured repo directories in order. Names beginning with ./ or /
// address a repo directory directly.
type ScriptLookup struct {
	common

	Path []string

	mu    sync.Mutex
	repos map[string]repo.Repo
}

func (s *ScriptLookup) openDir(dir string) (repo.Repo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.repos[dir]; ok {
		return r, nil
	}

	r, err := repo.Open(dir)
	if err != nil {
		return nil, err
	}

	if s.repos == nil {
		s.repos = make(map[string]repo.Repo)
	}

	s.repos[dir] = r

	return r, nil
}

// LoadDir looks name up within a single repo directory.
func (s *ScriptLookup) LoadDir(dir, name string) (repo.Entry, error) {
	r, err := s.openDir(dir)
	if err != nil {
		return nil, err
	}

	return r.Lookup(name)
}

// Load resolves a package name against the search path. A name like
// ./pkgs/foo or /opt/repo/foo addresses the directory part as a repo
// and looks up the base within it.
func (s *ScriptLookup) Load(name string) (repo.Entry, error) {
	if strings.HasPrefix(name, "./") || strings.HasPrefix(name, "/") {
		return s.LoadDir(filepath.Dir(name), filepath.Base(name))
	}

	for _, dir := range s.Path {
		ent, err := s.LoadDir(dir, name)
		if err == nil {
			return ent, nil
		}

		if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
	}

	return nil, errors.Wrapf(repo.ErrNotFound, "script: %s", name)
}

// Walk calls fn with each package name a repo directory defines,
// deduplicated. Export helpers and vendored scripts are not package
// definitions and are skipped.
func (s *ScriptLookup) Walk(dir string, fn func(name string) error) error {
	seen := map[string]struct{}{}

	roots := []string{dir, filepath.Join(dir, "packages")}

	for _, root := range roots {
		err := filepath.Walk(root, func(path string, info fs.FileInfo, err error) error {
			if err != nil {
				if os.IsNotExist(err) && path == root {
					return nil
				}

				return err
			}

			if info.IsDir() {
				base := filepath.Base(path)
				if base == "vendor" || strings.HasPrefix(base, ".") && path != root {
					return filepath.SkipDir
				}

				if path == filepath.Join(dir, "packages") && root == dir {
					return filepath.SkipDir
				}

				return nil
			}

			if filepath.Ext(path) != repo.Extension {
				return nil
			}

			name := strings.TrimSuffix(filepath.Base(path), repo.Extension)

			if strings.HasSuffix(name, ".export") {
				return nil
			}

			if _, ok := seen[name]; ok {
				return nil
			}

			seen[name] = struct{}{}

			return fn(name)
		})
		if err != nil {
			return err
		}
	}

	return nil
}

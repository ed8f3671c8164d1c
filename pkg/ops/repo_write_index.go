package ops

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"cairn.dev/cairn/pkg/data"
)

const indexFile = ".repo-index.json"

// RepoWriteIndex loads every script a repo directory holds and writes
// the summary index that search and browsing read.
type RepoWriteIndex struct {
	common

	Loader *ScriptLoad
}

func (r *RepoWriteIndex) Write(dir string) (*data.RepoIndex, error) {
	var lookup ScriptLookup
	lookup.common = r.common

	var entries []data.RepoEntry

	err := lookup.Walk(dir, func(name string) error {
		pkg, err := r.Loader.Load(name, WithRepoPath(dir))
		if err != nil {
			// one broken script shouldn't sink the whole index
			r.L().Warn("skipping unloadable script", "name", name, "error", err)
			return nil
		}

		entries = append(entries, data.RepoEntry{
			Name:         pkg.Name(),
			Version:      pkg.Version(),
			Description:  pkg.Description(),
			Vendor:       pkg.Vendor(),
			URL:          pkg.Homepage(),
			Dependencies: pkg.DependencyNames(),
			Metadata:     pkg.Metadata(),
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Name != entries[j].Name {
			return entries[i].Name < entries[j].Name
		}

		// newest version first within a name
		return versionLess(entries[j].Version, entries[i].Version)
	})

	idx := &data.RepoIndex{
		CreatedAt: time.Now().UTC(),
		Entries:   entries,
	}

	f, err := os.Create(filepath.Join(dir, indexFile))
	if err != nil {
		return nil, track(err)
	}

	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")

	err = enc.Encode(idx)
	if err != nil {
		return nil, track(err)
	}

	return idx, nil
}

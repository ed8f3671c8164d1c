package ops

import (
	"encoding/json"
	"os"
	"path/filepath"

	"cairn.dev/cairn/pkg/data"
)

// RepoReadIndex returns a repo's index, building it on the spot when
// the file isn't there yet.
type RepoReadIndex struct {
	common

	Loader *ScriptLoad
}

func (r *RepoReadIndex) Read(dir string) (*data.RepoIndex, error) {
	f, err := os.Open(filepath.Join(dir, indexFile))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, track(err)
		}

		var rwi RepoWriteIndex
		rwi.common = r.common
		rwi.Loader = r.Loader

		return rwi.Write(dir)
	}

	defer f.Close()

	var idx data.RepoIndex

	err = json.NewDecoder(f).Decode(&idx)
	if err != nil {
		return nil, track(err)
	}

	return &idx, nil
}

package ops

import (
	"strings"

	"cairn.dev/cairn/pkg/data"
)

// RepoSearch matches a query against indexed names and descriptions.
type RepoSearch struct {
	common

	Loader *ScriptLoad
}

func (r *RepoSearch) Search(dir, query string) ([]data.RepoEntry, error) {
	var rri RepoReadIndex
	rri.common = r.common
	rri.Loader = r.Loader

	idx, err := rri.Read(dir)
	if err != nil {
		return nil, err
	}

	q := strings.ToLower(query)

	var out []data.RepoEntry

	for _, ent := range idx.Entries {
		if strings.Contains(strings.ToLower(ent.Name), q) ||
			strings.Contains(strings.ToLower(ent.Description), q) {
			out = append(out, ent)
		}
	}

	return out, nil
}

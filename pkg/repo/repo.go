package repo

import (
	"errors"

	"cairn.dev/cairn/pkg/metadata"
)

const (
	// Extension is the suffix of package descriptor scripts.
	Extension = ".crn"

	// ExportExtension names the helper script shipped beside a
	// package, whose functions dependents may call.
	ExportExtension = ".export" + Extension
)

var (
	ErrNotFound = errors.New("entry not found")
)

type Repo interface {
	Lookup(name string) (Entry, error)
	Config() (*metadata.RepoConfig, error)
}

func Open(path string) (Repo, error) {
	return NewDirectory(path)
}

package repo

import (
	"cairn.dev/cairn/pkg/sumfile"
)

// Entry is one package within a repo: its script, any assets shipped
// beside it, and the sumfile recording their integrity.
type Entry interface {
	RepoId() string
	Dir() string
	Script() (string, []byte, error)
	Asset(name string) (string, []byte, error)
	Sumfile() (*sumfile.Sumfile, error)
	SaveSumfile(sf *sumfile.Sumfile) error
}

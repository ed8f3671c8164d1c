package ops

import (
	"os"
	"path/filepath"

	"cairn.dev/cairn/pkg/config"
)

// StoreFreeze strips write bits from an installed package so nothing
// mutates it after its signature was recorded.
type StoreFreeze struct {
	common

	store *config.Store
}

func (s *StoreFreeze) Freeze(id string) error {
	root, err := s.store.Locate(id)
	if err != nil {
		return err
	}

	return filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		mode := fi.Mode()

		if mode&os.ModeSymlink != 0 {
			return nil
		}

		if fi.IsDir() || mode&0111 != 0 {
			return os.Chmod(path, 0555)
		}

		return os.Chmod(path, 0444)
	})
}

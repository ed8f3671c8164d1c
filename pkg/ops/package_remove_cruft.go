package ops

import (
	"os"
	"path/filepath"
	"strings"

	"cairn.dev/cairn/pkg/config"
)

// PackageRemoveCruft deletes libtool archives from lib/. Their
// hardcoded paths confuse dependents and nothing links against them
// here.
type PackageRemoveCruft struct {
	common

	store *config.Store
}

func (p *PackageRemoveCruft) RemoveCruft(id string) error {
	root, err := p.store.Locate(id)
	if err != nil {
		return err
	}

	libDir := filepath.Join(root, "lib")

	entries, err := os.ReadDir(libDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return track(err)
	}

	for _, ent := range entries {
		if !strings.HasSuffix(ent.Name(), ".la") {
			continue
		}

		p.L().Debug("removing libtool archive", "id", id, "file", ent.Name())

		err = os.Remove(filepath.Join(libDir, ent.Name()))
		if err != nil {
			return track(err)
		}
	}

	return nil
}

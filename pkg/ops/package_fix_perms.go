package ops

import (
	"os"
	"path/filepath"

	"cairn.dev/cairn/pkg/config"
)

// PackageFixPerms makes sure everything a package installed under
// bin/ is actually executable. Build systems that install scripts
// with install -m 644 are common enough to bother.
type PackageFixPerms struct {
	common

	store *config.Store
}

func (p *PackageFixPerms) Fix(id string) error {
	root, err := p.store.Locate(id)
	if err != nil {
		return err
	}

	binDir := filepath.Join(root, "bin")

	entries, err := os.ReadDir(binDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return track(err)
	}

	for _, ent := range entries {
		fi, err := ent.Info()
		if err != nil {
			return track(err)
		}

		if fi.Mode()&os.ModeSymlink != 0 {
			continue
		}

		err = os.Chmod(filepath.Join(binDir, ent.Name()), fi.Mode()|0111)
		if err != nil {
			return track(err)
		}
	}

	return nil
}

package ops

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"

	"cairn.dev/cairn/pkg/config"
	"cairn.dev/cairn/pkg/data"
	"github.com/pkg/errors"
)

// ArchiveImport places a .stone file into the store as if the package
// had been built locally. Expansion happens in a scan-invisible temp
// dir and only a verified tree is renamed into place.
type ArchiveImport struct {
	common

	store *config.Store

	// Info is the manifest of the last archive imported.
	Info data.ArchiveInfo
}

func NewArchiveImport(cfg *config.Config) *ArchiveImport {
	return &ArchiveImport{store: cfg.Store()}
}

func (a *ArchiveImport) Import(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}

	defer f.Close()

	err = os.MkdirAll(a.store.Default, 0755)
	if err != nil {
		return "", err
	}

	// The underscore keeps store scans away from the partial tree.
	tmp, err := ioutil.TempDir(a.store.Default, "_import")
	if err != nil {
		return "", err
	}

	var au ArchiveUnpack

	err = au.Install(f, tmp)
	if err != nil {
		os.RemoveAll(tmp)
		return "", errors.Wrapf(err, "unpacking %s", path)
	}

	a.Info = au.Info

	id := au.Info.ID
	if id == "" {
		os.RemoveAll(tmp)
		return "", errors.Wrapf(ErrCorruption, "archive carries no id: %s", path)
	}

	if p := au.Info.Platform; p != nil {
		osName, _, arch := config.Platform()

		if p.OS != osName || p.Arch != arch {
			a.L().Warn("archive built for another platform",
				"id", id,
				"archive-os", p.OS, "archive-arch", p.Arch,
				"host-os", osName, "host-arch", arch,
			)
		}
	}

	target := a.store.ExpectedPath(id)

	if _, err := os.Stat(filepath.Join(target, ".pkg-info.json")); err == nil {
		a.L().Debug("archive already installed", "id", id)
		os.RemoveAll(tmp)

		return id, nil
	}

	// A leftover without info is a crashed install, clear it.
	if _, err := os.Stat(target); err == nil {
		err = os.RemoveAll(target)
		if err != nil {
			os.RemoveAll(tmp)
			return "", err
		}
	}

	err = os.Rename(tmp, target)
	if err != nil {
		os.RemoveAll(tmp)
		return "", err
	}

	err = a.writeInfo(target)
	if err != nil {
		return "", err
	}

	var sf StoreFreeze
	sf.common = a.common
	sf.store = a.store

	err = sf.Freeze(id)
	if err != nil {
		return "", errors.Wrapf(err, "freezing %s", id)
	}

	a.L().Info("imported archive", "id", id, "signer", au.Info.Signer)

	return id, nil
}

// writeInfo synthesizes .pkg-info.json from the manifest when the
// archive didn't carry one, so dependency walks and gc treat imported
// entries like built ones.
func (a *ArchiveImport) writeInfo(dir string) error {
	path := filepath.Join(dir, ".pkg-info.json")

	if _, err := os.Stat(path); err == nil {
		return nil
	}

	var deps []string

	for _, d := range a.Info.Dependencies {
		deps = append(deps, d.ID)
	}

	pi := &data.PackageInfo{
		Id:          a.Info.ID,
		Name:        a.Info.Name,
		Version:     a.Info.Version,
		Repo:        a.Info.Repo,
		RuntimeDeps: deps,
		Constraints: a.Info.Constraints,
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}

	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")

	return enc.Encode(pi)
}

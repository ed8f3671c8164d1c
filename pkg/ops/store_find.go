package ops

import (
	"cairn.dev/cairn/pkg/config"
	"cairn.dev/cairn/pkg/data"
	"github.com/pkg/errors"
	"golang.org/x/mod/semver"
)

// StoreFind resolves ids and bare package names against the installed
// set.
type StoreFind struct {
	common

	Store *config.Store
}

// Find returns the directory id is installed at.
func (s *StoreFind) Find(id string) (string, error) {
	return s.Store.Locate(id)
}

// versionLess orders semantically when both sides parse as semver,
// lexically otherwise.
func versionLess(a, b string) bool {
	va, vb := "v"+a, "v"+b

	if semver.IsValid(va) && semver.IsValid(vb) {
		return semver.Compare(va, vb) < 0
	}

	return a < b
}

// InstalledPackage reconstructs a package view of an installed entry
// from the store alone, recorded runtime deps included, so it can be
// exported without loading any scripts. An exact id wins; a bare name
// resolves to its newest installed version.
func (s *StoreFind) InstalledPackage(name string) (*ScriptPackage, error) {
	return s.installedPackage(name, make(map[string]*ScriptPackage))
}

func (s *StoreFind) installedPackage(name string, seen map[string]*ScriptPackage) (*ScriptPackage, error) {
	if sp, ok := seen[name]; ok {
		return sp, nil
	}

	var (
		pi  *data.PackageInfo
		err error
	)

	if dir, lerr := s.Store.Locate(name); lerr == nil {
		pi, err = readInfoFile(dir)
	} else {
		pi, err = s.FindLatest(name)
	}

	if err != nil {
		return nil, err
	}

	if sp, ok := seen[pi.Id]; ok {
		seen[name] = sp
		return sp, nil
	}

	sp := &ScriptPackage{
		id:          pi.Id,
		repo:        pi.Repo,
		constraints: pi.Constraints,
		PackageInfo: pi,
		cs: ScriptCalcSig{
			Name:        pi.Name,
			Version:     pi.Version,
			Description: pi.Description,
			License:     pi.License,
			Homepage:    pi.Homepage,
		},
	}

	seen[pi.Id] = sp
	seen[name] = sp

	for _, dep := range pi.RuntimeDeps {
		dsp, err := s.installedPackage(dep, seen)
		if err != nil {
			return nil, errors.Wrapf(err, "dependency %s of %s", dep, pi.Id)
		}

		sp.cs.Dependencies = append(sp.cs.Dependencies, dsp)
	}

	return sp, nil
}

// FindLatest resolves a bare package name to the newest installed
// version of it.
func (s *StoreFind) FindLatest(name string) (*data.PackageInfo, error) {
	var ss StoreScan
	ss.Store = s.Store

	var best *data.PackageInfo

	err := ss.Scan(func(pi *data.PackageInfo) error {
		if pi.Name != name {
			return nil
		}

		if best == nil || versionLess(best.Version, pi.Version) {
			best = pi
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if best == nil {
		return nil, errors.Wrapf(ErrNotFound, "no installed package named %s", name)
	}

	return best, nil
}
